package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ftahirops/nvmequal/engine"
	"github.com/ftahirops/nvmequal/model"
)

type tickMsg time.Time

// EventMsg carries one harness event into the program.
type EventMsg engine.Event

// DoneMsg ends the program once the harness has returned.
type DoneMsg struct {
	Summary *engine.Summary
	Err     error
}

type rowState int

const (
	rowPending rowState = iota
	rowRunning
	rowDone
	rowSkipped
)

type row struct {
	name    string
	state   rowState
	outcome model.Outcome
	started time.Time
	took    time.Duration
}

// Progress is the live run view. The harness runs in its own goroutine and
// feeds it through tea.Program.Send.
type Progress struct {
	drive   string
	rows    []row
	cancel  context.CancelFunc
	started time.Time
	now     time.Time
	width   int

	stopping bool
	done     bool
	err      error
}

// NewProgress returns the view for the named procedures in run order. cancel
// stops the run when the user quits.
func NewProgress(drive string, names []string, cancel context.CancelFunc) Progress {
	rows := make([]row, len(names))
	for i, n := range names {
		rows[i] = row{name: n}
	}
	now := time.Now()
	return Progress{drive: drive, rows: rows, cancel: cancel, started: now, now: now, width: 80}
}

func (m Progress) Init() tea.Cmd {
	return tick(time.Second)
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.stopping || m.done {
				return m, tea.Quit
			}
			// The current procedure still has to unwind; DoneMsg quits.
			m.stopping = true
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		if m.done {
			return m, nil
		}
		return m, tick(time.Second)

	case EventMsg:
		m.apply(engine.Event(msg))
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit
	}
	return m, nil
}

func (m *Progress) apply(ev engine.Event) {
	if ev.Index < 0 || ev.Index >= len(m.rows) {
		return
	}
	r := &m.rows[ev.Index]
	switch ev.Kind {
	case engine.EventStarted:
		r.state = rowRunning
		r.started = ev.Time
	case engine.EventFinished:
		r.state = rowDone
		r.outcome = ev.Outcome
		if !r.started.IsZero() {
			r.took = ev.Time.Sub(r.started)
		}
	case engine.EventSkipped:
		r.state = rowSkipped
		r.outcome = ev.Outcome
	}
}

func (m Progress) completed() int {
	n := 0
	for _, r := range m.rows {
		if r.state == rowDone || r.state == rowSkipped {
			n++
		}
	}
	return n
}

func (m Progress) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(" nvmequal") + " " + valueStyle.Render(m.drive) + "\n\n")

	pct := 100.0
	if len(m.rows) > 0 {
		pct = float64(m.completed()) / float64(len(m.rows)) * 100
	}
	barW := max(m.width-30, 10)
	sb.WriteString(" " + bar(pct, barW) + " " + valueStyle.Render(fmt.Sprintf("%d/%d", m.completed(), len(m.rows))) +
		"  " + dimStyle.Render(m.now.Sub(m.started).Truncate(time.Second).String()) + "\n\n")

	for _, r := range m.rows {
		var mark, status string
		switch r.state {
		case rowPending:
			mark, status = dimStyle.Render("·"), dimStyle.Render("pending")
		case rowRunning:
			mark = warnStyle.Render("▶")
			status = warnStyle.Render("running " + m.now.Sub(r.started).Truncate(time.Second).String())
		case rowDone:
			st := outcomeStyle(r.outcome)
			mark = st.Render("■")
			status = st.Render(r.outcome.String()) + " " + dimStyle.Render(r.took.Truncate(time.Second).String())
		case rowSkipped:
			mark, status = dimStyle.Render("-"), dimStyle.Render("skipped")
		}
		sb.WriteString(" " + mark + " " + styledPad(labelStyle.Render(r.name), colName+2) + status + "\n")
	}

	sb.WriteString("\n")
	switch {
	case m.done && m.err != nil:
		sb.WriteString(" " + critStyle.Render("run stopped: "+m.err.Error()) + "\n")
	case m.done:
		sb.WriteString(" " + okStyle.Render("run complete") + "\n")
	case m.stopping:
		sb.WriteString(" " + warnStyle.Render("stopping after the current procedure unwinds, q again to leave") + "\n")
	default:
		sb.WriteString(helpStyle.Render(" q: stop run") + "\n")
	}
	return sb.String()
}
