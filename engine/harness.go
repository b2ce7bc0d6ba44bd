package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ftahirops/nvmequal/logger"
	"github.com/ftahirops/nvmequal/model"
)

// DefaultPause separates consecutive procedures.
const DefaultPause = time.Second

// EventKind classifies harness progress events.
type EventKind int

const (
	EventStarted EventKind = iota
	EventFinished
	EventSkipped
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventFinished:
		return "finished"
	case EventSkipped:
		return "skipped"
	}
	return "unknown"
}

// Event reports progress of a run.
type Event struct {
	RunID   string
	Kind    EventKind
	Index   int // position in the procedure list
	Total   int
	Name    string
	Outcome model.Outcome
	Time    time.Time
}

type baser interface{ base() *Base }

// Harness runs procedures strictly one after another.
type Harness struct {
	Procedures []Procedure
	// Select names the procedures to run; empty runs all.
	Select []string
	Pause  time.Duration
	// Sleep waits out the pause; a context-aware timer when nil.
	Sleep func(ctx context.Context, d time.Duration) error

	// Log is the console logger; procedure logs are separate.
	Log *slog.Logger
	// Sink configures the procedure log buffers.
	Sink logger.Sink

	OnEvent func(Event)
}

// Selected reports whether the named procedure runs in this harness.
func (h *Harness) Selected(name string) bool {
	return len(h.Select) == 0 || slices.Contains(h.Select, name)
}

func (h *Harness) emit(ev Event) {
	if h.OnEvent != nil {
		ev.Time = time.Now()
		h.OnEvent(ev)
	}
}

func (h *Harness) sleep(ctx context.Context, d time.Duration) error {
	if h.Sleep != nil {
		return h.Sleep(ctx, d)
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes the selected procedures in list order with a pause between
// them. Procedure errors only fail that procedure; an ErrFatal or a cancelled
// context stops the run and is returned alongside the summary of what ran.
func (h *Harness) Run(ctx context.Context) (*Summary, error) {
	log := h.Log
	if log == nil {
		log = logger.Discard()
	}
	sum := &Summary{RunID: uuid.NewString(), Started: time.Now()}
	total := len(h.Procedures)
	ctx = logger.WithSink(ctx, h.Sink)

	ran := 0
	for i, p := range h.Procedures {
		if !h.Selected(p.Name()) {
			log.Info("ignoring test", "name", p.Name())
			h.emit(Event{RunID: sum.RunID, Kind: EventSkipped, Index: i, Total: total, Name: p.Name(), Outcome: p.Result()})
			continue
		}
		if sum.Aborted != nil {
			continue
		}
		if ran > 0 {
			if err := h.sleep(ctx, h.Pause); err != nil {
				sum.Aborted = err
				continue
			}
		}
		ran++

		log.Info("starting test", "name", p.Name())
		log.Info("  description", "text", p.Description())
		h.emit(Event{RunID: sum.RunID, Kind: EventStarted, Index: i, Total: total, Name: p.Name()})

		err := h.execute(ctx, p)
		log.Info("  test finished", "name", p.Name(), "result", p.Result())
		h.emit(Event{RunID: sum.RunID, Kind: EventFinished, Index: i, Total: total, Name: p.Name(), Outcome: p.Result()})

		switch {
		case errors.Is(err, ErrFatal):
			log.Error("aborting run", "name", p.Name(), "err", err)
			sum.Aborted = err
		case ctx.Err() != nil:
			sum.Aborted = ctx.Err()
		}
	}

	sum.Finished = time.Now()
	sum.collect(h.Procedures)
	if sum.Aborted != nil {
		return sum, sum.Aborted
	}
	log.Info("all tests complete")
	return sum, nil
}

// execute runs one procedure, turning an error or a panic into Failed.
func (h *Harness) execute(ctx context.Context, p Procedure) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", p.Name(), r)
		}
		if err == nil {
			return
		}
		if b, ok := p.(baser); ok {
			b.base().fail(ctx, err)
		}
	}()
	if b, ok := p.(baser); ok {
		b.base().arm(ctx)
	}
	return p.Execute(ctx)
}
