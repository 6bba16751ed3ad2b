package redirect

import (
	"errors"
	"fmt"
)

// Validation sentinels. A *ValidationError always unwraps to one of these.
var (
	ErrEmptyUIDs        = errors.New("no UIDs selected")
	ErrTooManyUIDs      = errors.New("too many UIDs")
	ErrMalformedUID     = errors.New("malformed UID")
	ErrPortOutOfRange   = errors.New("port out of range")
	ErrPortReserved     = errors.New("port is reserved")
	ErrIdentityMismatch = errors.New("caller identity mismatch")
)

// Execution failures carried in ExecutionResult.Err.
var (
	ErrPrivilegeUnavailable = errors.New("privileged shell unavailable")
	ErrScriptExecution      = errors.New("script execution failed")
)

// ValidationError rejects a request before anything reaches the shell.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ScriptError is a non-zero exit from the privileged shell.
type ScriptError struct {
	ExitCode int
	Stderr   string
}

func (e *ScriptError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%v: exit status %d", ErrScriptExecution, e.ExitCode)
	}
	return fmt.Sprintf("%v: exit status %d: %s", ErrScriptExecution, e.ExitCode, e.Stderr)
}

func (e *ScriptError) Is(target error) bool {
	return target == ErrScriptExecution
}
