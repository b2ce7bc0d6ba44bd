package ui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftahirops/nvmequal/engine"
	"github.com/ftahirops/nvmequal/model"
)

func update(t *testing.T, m Progress, msg tea.Msg) (Progress, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	p, ok := next.(Progress)
	require.True(t, ok)
	return p, cmd
}

func TestProgressFollowsEvents(t *testing.T) {
	m := NewProgress("nvme0", []string{"opal_capable", "ns_layout", "fw_update_simple"}, nil)
	start := time.Now()

	m, _ = update(t, m, EventMsg{Kind: engine.EventStarted, Index: 0, Name: "opal_capable", Time: start})
	assert.Equal(t, rowRunning, m.rows[0].state)

	m, _ = update(t, m, EventMsg{Kind: engine.EventFinished, Index: 0, Outcome: model.Passed, Time: start.Add(3 * time.Second)})
	m, _ = update(t, m, EventMsg{Kind: engine.EventSkipped, Index: 2, Outcome: model.Ignored})
	// out of range events are dropped
	m, _ = update(t, m, EventMsg{Kind: engine.EventStarted, Index: 7})

	assert.Equal(t, rowDone, m.rows[0].state)
	assert.Equal(t, model.Passed, m.rows[0].outcome)
	assert.Equal(t, 3*time.Second, m.rows[0].took)
	assert.Equal(t, rowPending, m.rows[1].state)
	assert.Equal(t, rowSkipped, m.rows[2].state)
	assert.Equal(t, 2, m.completed())

	view := m.View()
	assert.Contains(t, view, "2/3")
	assert.Contains(t, view, "PASSED")
	assert.Contains(t, view, "skipped")
	assert.Contains(t, view, "pending")
}

func TestProgressQuitCancelsRun(t *testing.T) {
	cancelled := 0
	m := NewProgress("nvme0", []string{"a"}, func() { cancelled++ })

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Nil(t, cmd, "first q waits for the harness to unwind")
	assert.Equal(t, 1, cancelled)
	assert.True(t, m.stopping)
	assert.Contains(t, m.View(), "stopping")

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, 1, cancelled)
}

func TestProgressDone(t *testing.T) {
	m := NewProgress("nvme0", []string{"a"}, nil)
	m, cmd := update(t, m, DoneMsg{Err: errors.New("fatal: psid revert failed")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.True(t, m.done)
	assert.Contains(t, m.View(), "run stopped: fatal: psid revert failed")

	m, cmd = update(t, m, tickMsg(time.Now()))
	assert.Nil(t, cmd, "no ticks after the run is done")
}
