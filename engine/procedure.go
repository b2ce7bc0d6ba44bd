// Package engine sequences qualification procedures and aggregates their outcomes.
package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ftahirops/nvmequal/logger"
	"github.com/ftahirops/nvmequal/model"
)

// ErrFatal marks environment failures that make every later procedure
// untrustworthy, such as a broken security tool. The harness stops on it.
var ErrFatal = errors.New("fatal environment failure")

// Procedure is one qualification test.
type Procedure interface {
	Name() string
	Description() string
	// Execute runs the procedure and sets its outcome. A returned error means
	// Failed; ErrFatal additionally aborts the run.
	Execute(ctx context.Context) error
	Result() model.Outcome
	// Report returns the procedure's own log.
	Report() string
}

// Base carries the outcome and the isolated log of a procedure. Embed it and
// call Begin at the top of Execute and Pass at the success point.
type Base struct {
	name        string
	description string
	outcome     model.Outcome
	buf         *logger.Buffer
}

// NewBase returns an Ignored procedure base with an empty log.
func NewBase(name, description string) Base {
	return Base{name: name, description: description}
}

func (b *Base) Name() string          { return b.name }
func (b *Base) Description() string   { return b.description }
func (b *Base) Result() model.Outcome { return b.outcome }

func (b *Base) Report() string {
	if b.buf == nil {
		return ""
	}
	return b.buf.String()
}

// Begin marks the procedure Failed, starts a fresh log and returns a context
// carrying the log's logger for the command layers below.
func (b *Base) Begin(ctx context.Context) (context.Context, *slog.Logger) {
	b.outcome = model.Failed
	b.buf = logger.NewBufferFromContext(ctx)
	log := b.buf.Logger()
	return logger.WithContext(ctx, log), log
}

// Pass marks the procedure Passed.
func (b *Base) Pass() {
	b.outcome = model.Passed
}

// Log returns the procedure's logger; it discards before Begin.
func (b *Base) Log() *slog.Logger {
	if b.buf == nil {
		return logger.Discard()
	}
	return b.buf.Logger()
}

// fail records err in the procedure's log and forces the Failed outcome, for
// procedures that returned an error or panicked, possibly before calling Begin.
func (b *Base) fail(ctx context.Context, err error) {
	if b.buf == nil {
		b.buf = logger.NewBufferFromContext(ctx)
	}
	b.outcome = model.Failed
	b.buf.Logger().Error("procedure aborted", "err", err)
}

// arm gives a selected procedure the Failed outcome and an empty log before
// its body runs, so returning early without Begin still fails.
func (b *Base) arm(ctx context.Context) {
	b.outcome = model.Failed
	b.buf = logger.NewBufferFromContext(ctx)
}

func (b *Base) base() *Base { return b }
