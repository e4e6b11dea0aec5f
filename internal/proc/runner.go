// Package proc runs external executables and reports their outcome as a
// structured Result. Whether a non-zero exit is fatal is the caller's call.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// waitDelay bounds how long Wait lingers on I/O after the process is killed.
const waitDelay = 2 * time.Second

// ErrEmptyCommand is returned when a Command has no executable.
var ErrEmptyCommand = errors.New("empty command")

// Command describes one invocation.
type Command struct {
	// Path is the executable, resolved through PATH when it has no separator.
	Path string
	// Args are passed verbatim, without shell interpretation.
	Args []string
	// Dir is the working directory (empty = current directory).
	Dir string
	// Env entries are appended to the current environment.
	Env []string
	// Stdin, if set, is fed to the process.
	Stdin io.Reader
	// Timeout bounds the run (0 = no timeout).
	Timeout time.Duration
}

// Argv returns the full token list, executable first.
func (c Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

// Result holds everything observed about a finished process.
type Result struct {
	Success  bool
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Runner executes commands. Exec is the real implementation; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Exec runs commands with os/exec.
type Exec struct{}

// NewExec returns the os/exec backed Runner.
func NewExec() *Exec {
	return &Exec{}
}

// Run starts cmd and waits for it. A process that ran and exited non-zero is
// not an error: it yields a Result with Success false and its exit code.
// Errors are reserved for processes that could not be started or were
// cut short by ctx or the timeout.
func (e *Exec) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Path == "" {
		return nil, ErrEmptyCommand
	}

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	// children that inherited stdout must not hold Wait open after a kill
	c.WaitDelay = waitDelay
	if len(cmd.Env) > 0 {
		c.Env = append(c.Environ(), cmd.Env...)
	}
	if cmd.Stdin != nil {
		c.Stdin = cmd.Stdin
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	result := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("%s: %w", cmd.Path, ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.Success = true
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("failed to run %s: %w", cmd.Path, err)
	}
	return result, nil
}

// Err converts an unsuccessful Result into an error carrying the exit code
// and the tail of stderr. It returns nil for a successful Result.
func (r *Result) Err(name string) error {
	if r == nil || r.Success {
		return nil
	}
	msg := strings.TrimSpace(string(r.Stderr))
	if len(msg) > 500 {
		msg = "..." + msg[len(msg)-500:]
	}
	if msg == "" {
		return fmt.Errorf("%s exited with code %d", name, r.ExitCode)
	}
	return fmt.Errorf("%s exited with code %d: %s", name, r.ExitCode, msg)
}
