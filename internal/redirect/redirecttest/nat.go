// Package redirecttest provides an in-memory nat OUTPUT chain that executes
// rendered redirect scripts, for tests that cannot run iptables.
package redirecttest

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"grimm.is/appredirect/internal/redirect"
)

// ErrShellUnavailable is returned when the table is marked Unavailable.
var ErrShellUnavailable = errors.New("su: not found")

const errLocked = "Another app is currently holding the xtables lock.\n"

var (
	ensureLine  = regexp.MustCompile(`^\S+ -t nat -C OUTPUT (.+?) 2>/dev/null \|\| \S+ -t nat -A OUTPUT (.+?) \|\| rc=1$`)
	deleteLoop  = regexp.MustCompile(`^while :; do \S+ -t nat -C OUTPUT (.+?) 2>/dev/null; s=\$\?; \[ \$s -eq 1 \] && break; \[ \$s -eq 0 \] \|\| \{ rc=1; break; \}; \S+ -t nat -D OUTPUT .+ \|\| \{ rc=1; break; \}; done$`)
	deleteMatch = regexp.MustCompile(`^while :; do out=\$\(\S+ -t nat -L OUTPUT -n --line-numbers\) \|\| \{ rc=1; break; \}; n=\$\(printf '%s\\n' "\$out" \| grep -E '(.+)' \| head -n 1 \| awk '\{print \$1\}'\); \[ -n "\$n" \] \|\| break; .*; done$`)
	listLine    = regexp.MustCompile(`^\S+ -t nat -L OUTPUT -n --line-numbers$`)
)

// Run records one invocation.
type Run struct {
	Input string
	Name  string
	Args  []string
}

// NATTable simulates the nat OUTPUT chain. It implements
// redirect.ScriptRunner.
type NATTable struct {
	mu    sync.Mutex
	rules []redirect.Rule
	runs  []Run

	// Unavailable makes every run fail to spawn.
	Unavailable bool
	// FailNext makes the next n runs exit 1 before touching the table.
	FailNext int
	// FailAddUIDs makes -A fail for these UIDs.
	FailAddUIDs map[int]bool
	// QueryFails makes -C and -L exit 4, as when the xtables lock is held.
	QueryFails bool
}

// New returns an empty table.
func New() *NATTable {
	return &NATTable{FailAddUIDs: make(map[int]bool)}
}

// Seed appends rules as-is, duplicates included.
func (t *NATTable) Seed(rules ...redirect.Rule) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules = append(t.rules, rules...)
}

// Rules returns a snapshot of the chain.
func (t *NATTable) Rules() []redirect.Rule {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]redirect.Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Count returns how many rules match uid, proto and port exactly.
func (t *NATTable) Count(uid int, proto redirect.Protocol, port int) int {
	n := 0
	for _, r := range t.Rules() {
		if r.UID == uid && r.Protocol == proto && r.ToPort == port {
			n++
		}
	}
	return n
}

// CountUID returns how many rules reference uid on any port.
func (t *NATTable) CountUID(uid int) int {
	n := 0
	for _, r := range t.Rules() {
		if r.UID == uid {
			n++
		}
	}
	return n
}

// Runs returns every recorded invocation.
func (t *NATTable) Runs() []Run {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Run, len(t.runs))
	copy(out, t.runs)
	return out
}

// Listing renders the chain the way `iptables -t nat -L OUTPUT -n
// --line-numbers` does.
func (t *NATTable) Listing() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listing()
}

func (t *NATTable) listing() string {
	return redirect.FormatListing(t.rules)
}

// RunInput executes a rendered script against the table.
func (t *NATTable) RunInput(input string, name string, args ...string) (redirect.ProcessOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runs = append(t.runs, Run{Input: input, Name: name, Args: args})

	if t.Unavailable {
		return redirect.ProcessOutput{ExitCode: -1}, ErrShellUnavailable
	}
	if t.FailNext > 0 {
		t.FailNext--
		return redirect.ProcessOutput{ExitCode: 1, Stderr: "Permission denied"}, nil
	}

	var stdout, stderr strings.Builder
	rc := 0
	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "" || line == "rc=0" || line == "exit $rc":
		case ensureLine.MatchString(line):
			r, err := parseRule(ensureLine.FindStringSubmatch(line)[1])
			if err != nil {
				fmt.Fprintln(&stderr, err)
				rc = 1
				continue
			}
			if !t.QueryFails && t.index(r) >= 0 {
				continue
			}
			if t.FailAddUIDs[r.UID] {
				fmt.Fprintf(&stderr, "iptables: append failed for uid %d\n", r.UID)
				rc = 1
				continue
			}
			t.rules = append(t.rules, r)
		case deleteLoop.MatchString(line):
			r, err := parseRule(deleteLoop.FindStringSubmatch(line)[1])
			if err != nil {
				fmt.Fprintln(&stderr, err)
				rc = 1
				continue
			}
			if t.QueryFails {
				stderr.WriteString(errLocked)
				rc = 1
				continue
			}
			for i := t.index(r); i >= 0; i = t.index(r) {
				t.remove(i)
			}
		case deleteMatch.MatchString(line):
			re, err := regexp.Compile(deleteMatch.FindStringSubmatch(line)[1])
			if err != nil {
				fmt.Fprintln(&stderr, err)
				rc = 1
				continue
			}
			if t.QueryFails {
				stderr.WriteString(errLocked)
				rc = 1
				continue
			}
			for i := t.firstMatching(re); i >= 0; i = t.firstMatching(re) {
				t.remove(i)
			}
		case listLine.MatchString(line):
			if t.QueryFails {
				stderr.WriteString(errLocked)
				continue
			}
			stdout.WriteString(t.listing())
		default:
			fmt.Fprintf(&stderr, "sh: unsupported line: %s\n", line)
			rc = 1
		}
	}

	return redirect.ProcessOutput{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: rc}, nil
}

func (t *NATTable) index(r redirect.Rule) int {
	for i, have := range t.rules {
		if have.Protocol == r.Protocol && have.UID == r.UID && have.ToPort == r.ToPort {
			return i
		}
	}
	return -1
}

func (t *NATTable) remove(i int) {
	t.rules = append(t.rules[:i], t.rules[i+1:]...)
}

func (t *NATTable) firstMatching(re *regexp.Regexp) int {
	for i, row := range strings.Split(t.listing(), "\n") {
		// Two header lines precede rule 1.
		if i >= 2 && re.MatchString(row) {
			return i - 2
		}
	}
	return -1
}

func parseRule(args string) (redirect.Rule, error) {
	var r redirect.Rule
	f := strings.Fields(args)
	for i := 0; i+1 < len(f); i++ {
		switch f[i] {
		case "-p":
			r.Protocol = redirect.Protocol(f[i+1])
		case "--uid-owner":
			r.UID, _ = strconv.Atoi(f[i+1])
		case "--to-ports":
			r.ToPort, _ = strconv.Atoi(f[i+1])
		case "--dport":
			if f[i+1] != "53" {
				return r, fmt.Errorf("unexpected dport %s", f[i+1])
			}
		}
	}
	if r.Protocol == "" || r.ToPort == 0 {
		return r, fmt.Errorf("bad rule: %s", args)
	}
	return r, nil
}
