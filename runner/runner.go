// Package runner executes the external vendor tooling (nvme-cli, sedutil-cli, fio, parted).
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/kballard/go-shellquote"

	"github.com/ftahirops/nvmequal/logger"
)

const stderrLimit = 8 << 10 // 8 KiB

// ErrUnexpectedExit is returned by fail-fast commands whose exit code did not
// match the expected one.
var ErrUnexpectedExit = errors.New("unexpected exit code")

// Cmd describes one invocation of an external tool.
type Cmd struct {
	Path     string
	Args     []string
	Expect   int  // expected exit code
	FailFast bool // mismatch aborts the caller with an *ExitError
}

// Must returns a fail-fast command expecting exit code 0.
func Must(path string, args ...string) Cmd {
	return Cmd{Path: path, Args: args, FailFast: true}
}

// Probe returns a command whose non-zero exit is left for the caller to interpret.
func Probe(path string, args ...string) Cmd {
	return Cmd{Path: path, Args: args}
}

func (c Cmd) String() string {
	return shellquote.Join(append([]string{c.Path}, c.Args...)...)
}

// Result is the captured outcome of a command. Output is whitespace trimmed.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ExitError reports a fail-fast command that exited with an unexpected code.
type ExitError struct {
	Cmd    string
	Expect int
	Result Result
}

func (e *ExitError) Error() string {
	s := e.Result.Stderr
	if len(s) > stderrLimit {
		n := stderrLimit
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n] + "… (truncated)"
	}
	return fmt.Sprintf("command %q exited %d, expected %d (stderr: %s)", e.Cmd, e.Result.ExitCode, e.Expect, s)
}

func (e *ExitError) Unwrap() error { return ErrUnexpectedExit }

// Runner runs external commands. Run blocks until the command exits; RunDetached
// launches a command whose completion and exit status are never observed.
type Runner interface {
	Run(ctx context.Context, c Cmd) (Result, error)
	RunDetached(c Cmd) error
}

// Exec runs commands on the host with os/exec.
type Exec struct{}

// Run executes c and waits for it. No timeout is applied: a hung tool blocks
// the caller until ctx is cancelled.
func (Exec) Run(ctx context.Context, c Cmd) (Result, error) {
	log := logger.FromContext(ctx)
	ex := exec.CommandContext(ctx, c.Path, c.Args...)

	var stdout, stderr bytes.Buffer
	ex.Stdout = &stdout
	ex.Stderr = &stderr

	log.Debug("executing", "cmd", c.String())

	err := ex.Run()
	res := Result{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr) && ctx.Err() == nil:
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return res, fmt.Errorf("run %q: %w", c.String(), err)
	}

	return check(ctx, c, res)
}

// RunDetached starts c with its output discarded and returns immediately. The
// process is reaped in the background; its exit status is dropped.
func (Exec) RunDetached(c Cmd) error {
	ex := exec.Command(c.Path, c.Args...)
	ex.Stdout = io.Discard
	ex.Stderr = io.Discard
	if err := ex.Start(); err != nil {
		return fmt.Errorf("start %q: %w", c.String(), err)
	}
	go func() { _ = ex.Wait() }()
	return nil
}

// check applies the expected-exit-code contract shared by every Runner.
func check(ctx context.Context, c Cmd, res Result) (Result, error) {
	if res.ExitCode == c.Expect {
		return res, nil
	}
	if c.FailFast {
		return res, &ExitError{Cmd: c.String(), Expect: c.Expect, Result: res}
	}
	logger.FromContext(ctx).Debug("command failed", "cmd", c.String(), "rc", res.ExitCode, "stderr", res.Stderr)
	return res, nil
}

// Check applies the exit-code contract to a result produced by a Runner that
// does not use os/exec, such as the test simulator.
func Check(ctx context.Context, c Cmd, res Result) (Result, error) {
	return check(ctx, c, res)
}
