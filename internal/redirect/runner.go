package redirect

import (
	"bytes"
	"errors"
	"os/exec"
	"strings"
)

// ProcessOutput is what a finished shell process left behind.
type ProcessOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ScriptRunner feeds input to a process's stdin and waits for it to exit.
// A non-nil error means the process could not be started at all; a non-zero
// exit is reported through ProcessOutput.
type ScriptRunner interface {
	RunInput(input string, name string, args ...string) (ProcessOutput, error)
}

// ShellRunner spawns real processes.
type ShellRunner struct{}

// DefaultScriptRunner is the runner used when none is configured.
var DefaultScriptRunner ScriptRunner = &ShellRunner{}

// RunInput runs name with input on stdin. The process is never killed from
// here; a started script is allowed to finish.
func (r *ShellRunner) RunInput(input string, name string, args ...string) (ProcessOutput, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = strings.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := ProcessOutput{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if err != nil {
		out.ExitCode = -1
		return out, err
	}
	return out, nil
}
