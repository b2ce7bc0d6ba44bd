package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gofrs/flock"

	"github.com/ftahirops/nvmequal/config"
	"github.com/ftahirops/nvmequal/engine"
	"github.com/ftahirops/nvmequal/history"
	"github.com/ftahirops/nvmequal/logger"
	"github.com/ftahirops/nvmequal/model"
	"github.com/ftahirops/nvmequal/procedure"
	"github.com/ftahirops/nvmequal/ui"
)

// lockDrive takes the per-drive run lock so two qualifications never share a
// controller.
func lockDrive(dir, drive string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(filepath.Join(dir, "nvmequal-"+drive+".lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("drive %s is being qualified by another process (%s)", drive, fl.Path())
	}
	return fl, nil
}

type qualification struct {
	opts *Options
	cfg  *config.Config
	env  *procedure.Env
	log  *slog.Logger
	out  io.Writer

	// console is where procedure logs are mirrored outside the TUI.
	console slog.Handler
}

func (q *qualification) run(ctx context.Context) error {
	drive := q.cfg.Drive.Name
	ident, err := q.env.Tree.Identity(drive)
	if err != nil {
		q.log.Warn("drive identity unavailable", "drive", drive, "err", err)
		ident = model.DriveIdentity{Name: drive}
	}
	var (
		capacity uint64
		before   *model.SmartLog
	)
	if ctrl, err := q.env.Tree.Controller(ctx, drive); err != nil {
		q.log.Warn("drive capacity unavailable", "drive", drive, "err", err)
	} else {
		capacity = ctrl.TotalCapacity
		if ctrl.Smart.ErrorString == "" {
			before = &ctrl.Smart
		}
	}
	q.log.Info("qualifying drive", "drive", ident.DevicePath(), "model", ident.Model,
		"serial", ident.Serial, "firmware", ident.Firmware)

	procs := procedure.All(q.env)
	h := &engine.Harness{
		Procedures: procs,
		Select:     q.cfg.Execute,
		Pause:      q.cfg.Timing.ProcedurePause,
		Log:        q.log,
		Sink:       logger.Sink{Level: logger.Level, Mirror: q.console},
	}

	var hooks []func(engine.Event)
	var rec *engine.Recorder
	if q.opts.Record != "" {
		f, err := os.OpenFile(q.opts.Record, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("cannot open record file: %w", err)
		}
		defer f.Close()
		rec = engine.NewRecorder(f)
		hooks = append(hooks, rec.Record)
	}

	var (
		sum    *engine.Summary
		runErr error
	)
	if q.opts.TUI {
		sum, runErr = q.runTUI(ctx, h, hooks, procedure.Names(procs))
	} else {
		h.OnEvent = fanout(hooks)
		sum, runErr = h.Run(ctx)
	}

	rep := ui.Report{Date: sum.Started, Drive: ident, Capacity: capacity, Summary: sum}
	if before != nil {
		rep.Health = q.health(ctx, *before)
	}
	if err := q.writeReport(rep); err != nil {
		return err
	}
	fmt.Fprint(q.out, ui.Summary(rep))

	if rec != nil {
		if err := rec.Err(); err != nil {
			q.log.Error("recording outcomes failed", "file", q.opts.Record, "err", err)
		}
	}
	if q.opts.History != "" {
		if err := q.saveHistory(ctx, ident, sum); err != nil {
			q.log.Error("saving run history failed", "file", q.opts.History, "err", err)
		}
	}

	if err := q.notify(ctx, ident, sum); err != nil {
		q.log.Error("run notification failed", "err", err)
	}

	if runErr != nil {
		return fmt.Errorf("run %s aborted: %w", sum.RunID, runErr)
	}
	return nil
}

// runTUI runs the harness in the background while the progress view owns the
// terminal. Harness logs are dropped; the report still carries every procedure log.
func (q *qualification) runTUI(ctx context.Context, h *engine.Harness, hooks []func(engine.Event), names []string) (*engine.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(ui.NewProgress(q.cfg.Drive.Name, names, cancel), tea.WithAltScreen())
	h.Log = logger.Discard()
	h.Sink.Mirror = nil
	h.OnEvent = fanout(append(hooks, func(ev engine.Event) { p.Send(ui.EventMsg(ev)) }))

	type result struct {
		sum *engine.Summary
		err error
	}
	done := make(chan result, 1)
	go func() {
		sum, err := h.Run(ctx)
		done <- result{sum, err}
		p.Send(ui.DoneMsg{Summary: sum, Err: err})
	}()

	_, tuiErr := p.Run()
	if tuiErr != nil {
		cancel()
	}
	res := <-done
	if tuiErr != nil && !errors.Is(tuiErr, tea.ErrProgramKilled) {
		q.log.Error("progress view failed", "err", tuiErr)
	}
	return res.sum, res.err
}

func fanout(hooks []func(engine.Event)) func(engine.Event) {
	if len(hooks) == 0 {
		return nil
	}
	return func(ev engine.Event) {
		for _, h := range hooks {
			h(ev)
		}
	}
}

// health compares the SMART log taken before the run with a fresh one. Nil
// when the drive can no longer be read.
func (q *qualification) health(ctx context.Context, before model.SmartLog) *ui.Health {
	ctrl, err := q.env.Tree.Controller(context.WithoutCancel(ctx), q.cfg.Drive.Name)
	if err != nil || ctrl.Smart.ErrorString != "" {
		q.log.Warn("smart log unavailable after run", "drive", q.cfg.Drive.Name, "err", err)
		return nil
	}
	h := &ui.Health{Before: before, After: ctrl.Smart}
	if !h.After.Healthy() {
		q.log.Error("drive reports a critical health warning", "critical_warning", h.After.CriticalWarning,
			"avail_spare", h.After.AvailSpare, "spare_thresh", h.After.SpareThresh)
	}
	return h
}

func (q *qualification) writeReport(rep ui.Report) error {
	f, err := os.Create(q.opts.Report)
	if err != nil {
		return fmt.Errorf("cannot create report: %w", err)
	}
	if err := ui.RenderReport(f, rep); err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	q.log.Info("report written", "path", q.opts.Report)
	return nil
}

func (q *qualification) saveHistory(ctx context.Context, ident model.DriveIdentity, sum *engine.Summary) error {
	store, err := history.Open(q.opts.History)
	if err != nil {
		return err
	}
	defer store.Close()
	// the run context may already be cancelled; the record of an aborted run
	// is still wanted
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return store.Save(ctx, history.FromSummary(ident, sum))
}

func (q *qualification) notify(ctx context.Context, ident model.DriveIdentity, sum *engine.Summary) error {
	n := engine.NewNotifier(engine.NotifyConfig{Webhook: q.cfg.Notify.Webhook, Command: q.cfg.Notify.Command})
	if !n.Enabled() {
		return nil
	}
	event := "run_finished"
	payload := struct {
		Drive   model.DriveIdentity `json:"drive"`
		Summary *engine.Summary     `json:"summary"`
		Aborted string              `json:"aborted,omitempty"`
	}{Drive: ident, Summary: sum.WithoutLogs()}
	if sum.Aborted != nil {
		event = "run_aborted"
		payload.Aborted = sum.Aborted.Error()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	return n.Notify(ctx, event, payload)
}
