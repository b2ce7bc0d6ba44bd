package opal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ftahirops/nvmequal/logger"
	"github.com/ftahirops/nvmequal/runner"
)

// State is a step of the locking test.
type State int

const (
	Unknown State = iota
	CapabilityConfirmed
	SetupComplete
	LockingEnabled
	Locked
	VerifiedDenied
	Unlocked
	VerifiedAllowed
	Reverted
)

var stateNames = [...]string{
	"Unknown", "CapabilityConfirmed", "SetupComplete", "LockingEnabled", "Locked",
	"VerifiedDenied", "Unlocked", "VerifiedAllowed", "Reverted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// ErrNotCapable is returned when the drive does not support locking.
var ErrNotCapable = errors.New("drive is not OPAL capable")

// StepError reports a transition that could not be made.
type StepError struct {
	To  State
	Err error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("cannot reach %s: %v", e.To, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Session tracks the security state of one drive during a locking test.
type Session struct {
	Device       string
	State        State
	Capable      bool
	RangeEnabled bool
	Locked       bool
	// Path lists every state entered, in order.
	Path []State
}

// advance moves to the next state. Only the immediate successor is accepted,
// except Reverted which is reachable from anywhere.
func (s *Session) advance(to State) error {
	if to != Reverted && to != s.State+1 {
		return fmt.Errorf("invalid transition %s -> %s", s.State, to)
	}
	s.State = to
	s.Path = append(s.Path, to)
	switch to {
	case CapabilityConfirmed:
		s.Capable = true
	case LockingEnabled:
		s.RangeEnabled = true
	case Locked:
		s.Locked = true
	case Unlocked:
		s.Locked = false
	case Reverted:
		s.Locked = false
		s.RangeEnabled = false
	}
	return nil
}

// Capable queries the drive for locking support.
func Capable(ctx context.Context, tool Tool, dev string) (bool, error) {
	st, err := tool.Query(ctx, dev)
	if err != nil {
		return false, err
	}
	return st.LockingSupported(), nil
}

// LockTest locks a drive, verifies I/O is refused, unlocks it and verifies I/O
// works again. Any failure after capability is confirmed PSID reverts the drive,
// so a session never ends Locked.
type LockTest struct {
	Tool   Tool
	Device string
	PSID   string

	// Prep brings the drive to a single clean namespace after the initial revert.
	Prep func(ctx context.Context) error
	// Probe issues I/O against the locked namespace.
	Probe func(ctx context.Context) (runner.Result, error)
	// Marker must appear in the probe's stderr while the range is locked.
	Marker string
}

// Run executes the test. The session is returned even on error.
func (t *LockTest) Run(ctx context.Context) (s *Session, err error) {
	log := logger.FromContext(ctx)
	s = &Session{Device: t.Device}

	capable, err := Capable(ctx, t.Tool, t.Device)
	if err != nil {
		return s, err
	}
	if !capable {
		log.Error("drive is not capable of OPAL", "device", t.Device)
		return s, ErrNotCapable
	}
	if err := s.advance(CapabilityConfirmed); err != nil {
		return s, err
	}

	// From here on the drive may hold a locking setup: always leave it reverted.
	tried := false
	revert := func() error {
		tried = true
		return t.revert(ctx, s)
	}
	defer func() {
		if s.State == Reverted {
			return
		}
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during %s: %v", s.State+1, p)
		}
		if tried {
			return
		}
		log.Warn("reverting drive via PSID", "device", t.Device, "state", s.State)
		if rerr := revert(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	// Start from a known state in case a previous run was interrupted.
	if err := t.Tool.RevertPSID(ctx, t.Device, t.PSID); err != nil {
		tried = true
		return s, err
	}
	if t.Prep != nil {
		if err := t.Prep(ctx); err != nil {
			return s, fmt.Errorf("prepare %s: %w", t.Device, err)
		}
	}

	steps := []struct {
		to State
		fn func() error
	}{
		{SetupComplete, func() error { return t.Tool.InitialSetup(ctx, t.Device) }},
		{LockingEnabled, func() error { return t.Tool.EnableRange(ctx, t.Device) }},
		{Locked, func() error { return t.Tool.Lock(ctx, t.Device) }},
		{VerifiedDenied, func() error { return t.expectDenied(ctx) }},
		{Unlocked, func() error { return t.Tool.Unlock(ctx, t.Device) }},
		{VerifiedAllowed, func() error { return t.expectAllowed(ctx) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			log.Error("step failed", "device", t.Device, "to", step.to, "err", err)
			return s, &StepError{To: step.to, Err: err}
		}
		if err := s.advance(step.to); err != nil {
			return s, err
		}
		log.Info("step complete", "device", t.Device, "state", step.to)
	}

	if err := revert(); err != nil {
		return s, err
	}
	log.Info("test passed, drive reverted", "device", t.Device)
	return s, nil
}

func (t *LockTest) revert(ctx context.Context, s *Session) error {
	if err := t.Tool.RevertPSID(ctx, t.Device, t.PSID); err != nil {
		return err
	}
	return s.advance(Reverted)
}

func (t *LockTest) expectDenied(ctx context.Context) error {
	res, err := t.Probe(ctx)
	if err != nil {
		return err
	}
	if res.ExitCode == 0 || !strings.Contains(res.Stderr, t.Marker) {
		return fmt.Errorf("I/O to %s succeeded even though the drive is locked", t.Device)
	}
	logger.FromContext(ctx).Info("errors expected, unlocking and verifying drive now works")
	return nil
}

func (t *LockTest) expectAllowed(ctx context.Context) error {
	res, err := t.Probe(ctx)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("I/O failed after drive was unlocked: %s", res.Stderr)
	}
	return nil
}
