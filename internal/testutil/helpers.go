// Package testutil holds helpers shared by tests that need a real host.
package testutil

import (
	"os"
	"os/exec"
	"testing"
)

// RequireNAT skips the test unless APPREDIRECT_NAT_TEST is set, the test runs
// as root and iptables is on PATH. Such tests mutate the host's nat table.
func RequireNAT(t *testing.T) {
	t.Helper()
	if os.Getenv("APPREDIRECT_NAT_TEST") == "" {
		t.Skip("Skipping test: requires APPREDIRECT_NAT_TEST environment")
	}
	if os.Geteuid() != 0 {
		t.Skip("Skipping test: requires root")
	}
	if _, err := exec.LookPath("iptables"); err != nil {
		t.Skip("Skipping test: iptables not found")
	}
}
