package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
)

const bufferTimeFormat = "2006-01-02 15:04:05"

// Buffer is an isolated, append-only log owned by a single procedure.
// Nothing else writes into it, so reports never interleave lines of two procedures.
type Buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	log *slog.Logger
}

// NewBuffer creates a buffer capturing records at or above level. When mirror is
// non-nil every record is also passed to it (typically the console handler).
func NewBuffer(level slog.Leveler, mirror slog.Handler) *Buffer {
	b := &Buffer{}
	var h slog.Handler = slog.NewTextHandler(b, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String(a.Key, a.Value.Time().Format(bufferTimeFormat))
			}
			return a
		},
	})
	if mirror != nil {
		h = fanout{h, mirror}
	}
	b.log = slog.New(h)
	return b
}

// Write implements io.Writer for the slog handler.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Logger returns the logger writing into this buffer.
func (b *Buffer) Logger() *slog.Logger {
	return b.log
}

// String returns everything logged so far.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Len returns the number of bytes logged so far.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// fanout passes each record to every handler that has its level enabled.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// Sink configures the buffers procedures create: the level they capture and an
// optional handler every record is mirrored to.
type Sink struct {
	Level  slog.Leveler
	Mirror slog.Handler
}

type sinkKey struct{}

// WithSink attaches s to ctx for procedures started under it.
func WithSink(ctx context.Context, s Sink) context.Context {
	return context.WithValue(ctx, sinkKey{}, s)
}

// NewBufferFromContext creates a buffer configured by the Sink attached to ctx.
// Without one the buffer captures info and above and mirrors nothing.
func NewBufferFromContext(ctx context.Context) *Buffer {
	s, _ := ctx.Value(sinkKey{}).(Sink)
	if s.Level == nil {
		s.Level = slog.LevelInfo
	}
	return NewBuffer(s.Level, s.Mirror)
}
