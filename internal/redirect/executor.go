package redirect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"grimm.is/appredirect/internal/clock"
	"grimm.is/appredirect/internal/logging"
)

// Exit codes from the privileged shell wrapper meaning it could not run.
const (
	exitCannotExecute = 126
	exitNotFound      = 127
)

// ExecutionResult is the outcome of one privileged invocation. Failure is
// reported in Err, never by panicking.
type ExecutionResult struct {
	Op       Operation
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
	Duration time.Duration
}

// OK reports whether the script ran and exited zero.
func (r ExecutionResult) OK() bool {
	return r.Err == nil
}

// ExecutorConfig configures the privileged shell.
type ExecutorConfig struct {
	Shell  string
	Args   []string
	Runner ScriptRunner
	Clock  clock.Clock
	Logger *logging.Logger
}

// Executor runs rendered scripts through a privileged shell, one process per
// call.
type Executor struct {
	shell  string
	args   []string
	runner ScriptRunner
	clock  clock.Clock
	logger *logging.Logger
}

// NewExecutor creates an executor. Shell defaults to "su".
func NewExecutor(cfg ExecutorConfig) *Executor {
	e := &Executor{
		shell:  cfg.Shell,
		args:   cfg.Args,
		runner: cfg.Runner,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
	if e.shell == "" {
		e.shell = "su"
	}
	if e.runner == nil {
		e.runner = DefaultScriptRunner
	}
	if e.clock == nil {
		e.clock = &clock.RealClock{}
	}
	if e.logger == nil {
		e.logger = logging.WithComponent("redirect")
	}
	return e
}

// Execute spawns the shell, writes the script to its stdin and waits. ctx is
// only consulted before spawning.
func (e *Executor) Execute(ctx context.Context, s Script) (res ExecutionResult) {
	res.Op = s.Op
	if err := ctx.Err(); err != nil {
		res.ExitCode = -1
		res.Err = err
		return res
	}

	start := e.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = -1
			res.Err = fmt.Errorf("%w: %v", ErrScriptExecution, r)
		}
		res.Duration = e.clock.Since(start)
	}()

	out, err := e.runner.RunInput(s.Render(), e.shell, e.args...)
	res.ExitCode = out.ExitCode
	res.Stdout = out.Stdout
	res.Stderr = out.Stderr

	switch {
	case err != nil:
		res.Err = fmt.Errorf("%w: %s: %v", ErrPrivilegeUnavailable, e.shell, err)
	case out.ExitCode == exitCannotExecute || out.ExitCode == exitNotFound:
		res.Err = fmt.Errorf("%w: %s exited %d: %s", ErrPrivilegeUnavailable, e.shell, out.ExitCode, strings.TrimSpace(out.Stderr))
	case out.ExitCode != 0:
		res.Err = &ScriptError{ExitCode: out.ExitCode, Stderr: strings.TrimSpace(out.Stderr)}
	}

	if res.Err != nil {
		e.logger.Warn("Script failed", "op", string(s.Op), "exit_code", res.ExitCode, "error", res.Err)
	} else {
		e.logger.Debug("Script finished", "op", string(s.Op), "steps", len(s.Steps))
	}
	return res
}
