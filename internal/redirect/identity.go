package redirect

import (
	"os"
	"path/filepath"
)

// IdentityVerifier confirms the calling process is the one allowed to drive
// the privileged path.
type IdentityVerifier interface {
	VerifyIdentity() error
}

// IdentityFunc adapts a function to IdentityVerifier.
type IdentityFunc func() error

func (f IdentityFunc) VerifyIdentity() error { return f() }

// AnyIdentity accepts every caller.
var AnyIdentity IdentityVerifier = IdentityFunc(func() error { return nil })

// ProcessIdentity compares the running executable's base name with an
// expected name.
type ProcessIdentity struct {
	Expected   string
	executable func() (string, error)
}

// NewProcessIdentity returns a verifier for the expected executable name.
// An empty name disables the check.
func NewProcessIdentity(expected string) *ProcessIdentity {
	return &ProcessIdentity{Expected: expected, executable: os.Executable}
}

func (p *ProcessIdentity) VerifyIdentity() error {
	if p.Expected == "" {
		return nil
	}
	exe, err := p.executable()
	if err != nil {
		return &ValidationError{Field: "identity", Err: ErrIdentityMismatch}
	}
	if name := filepath.Base(exe); name != p.Expected {
		return &ValidationError{Field: "identity", Value: name, Err: ErrIdentityMismatch}
	}
	return nil
}
