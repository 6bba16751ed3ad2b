package redirect

import (
	"fmt"
	"strings"
)

// Operation names a compiled script's purpose.
type Operation string

const (
	OpApply          Operation = "apply"
	OpClear          Operation = "clear"
	OpUniversalClear Operation = "clear_all"
	OpList           Operation = "list"
)

// StepKind selects how a Step is rendered.
type StepKind int

const (
	// StepEnsure adds Rule unless an identical rule exists.
	StepEnsure StepKind = iota
	// StepDeleteLoop deletes Rule until no identical rule remains.
	StepDeleteLoop
	// StepDeleteMatching deletes by line number every row matching Pattern.
	StepDeleteMatching
	// StepList prints the chain with line numbers.
	StepList
)

// Step is one idempotent mutation (or the trailing listing).
type Step struct {
	Kind    StepKind
	Rule    Rule
	UID     int
	Proto   Protocol
	Pattern string
}

// Script is a compiled, not yet rendered, mutation sequence.
type Script struct {
	Op       Operation
	UIDs     UIDSet
	Iptables string
	Steps    []Step
}

// Render produces the shell text fed to the privileged shell's stdin.
// rc collects failures so one broken UID does not stop the others.
func (s Script) Render() string {
	b := newShellBuilder(s.Iptables)
	b.line("rc=0")
	for _, st := range s.Steps {
		switch st.Kind {
		case StepEnsure:
			args := strings.Join(st.Rule.Args(), " ")
			b.line(fmt.Sprintf("%s -C %s %s 2>/dev/null || %s -A %s %s || rc=1",
				b.ipt, natChain, args, b.ipt, natChain, args))
		case StepDeleteLoop:
			// -C exits 1 only for "no such rule"; anything else is a failure.
			args := strings.Join(st.Rule.Args(), " ")
			b.line(fmt.Sprintf("while :; do %s -C %s %s 2>/dev/null; s=$?; [ $s -eq 1 ] && break; [ $s -eq 0 ] || { rc=1; break; }; %s -D %s %s || { rc=1; break; }; done",
				b.ipt, natChain, args, b.ipt, natChain, args))
		case StepDeleteMatching:
			// The listing is captured first so a failed -L is not read as an empty chain.
			b.line(fmt.Sprintf(
				"while :; do out=$(%s -L %s -n --line-numbers) || { rc=1; break; }; n=$(printf '%%s\\n' \"$out\" | grep -E '%s' | head -n 1 | awk '{print $1}'); [ -n \"$n\" ] || break; %s -D %s \"$n\" || { rc=1; break; }; done",
				b.ipt, natChain, st.Pattern, b.ipt, natChain))
		case StepList:
			b.line(fmt.Sprintf("%s -L %s -n --line-numbers", b.ipt, natChain))
		}
	}
	b.line("exit $rc")
	return b.String()
}

func (s Script) String() string {
	return s.Render()
}

type shellBuilder struct {
	ipt   string
	lines []string
}

func newShellBuilder(iptables string) *shellBuilder {
	if iptables == "" {
		iptables = "iptables"
	}
	return &shellBuilder{
		ipt:   iptables + " -t " + natTable,
		lines: make([]string, 0, 16),
	}
}

func (b *shellBuilder) line(l string) {
	b.lines = append(b.lines, l)
}

func (b *shellBuilder) String() string {
	return strings.Join(b.lines, "\n") + "\n"
}
