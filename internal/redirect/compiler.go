package redirect

// Compiler turns intents into Scripts. It has no side effects.
type Compiler struct {
	iptables string
	matcher  ListingMatcher
}

// NewCompiler returns a compiler emitting commands for the given iptables
// binary. A nil matcher selects IptablesMatcher.
func NewCompiler(iptables string, matcher ListingMatcher) *Compiler {
	if iptables == "" {
		iptables = "iptables"
	}
	if matcher == nil {
		matcher = IptablesMatcher{}
	}
	return &Compiler{iptables: iptables, matcher: matcher}
}

// Matcher returns the listing matcher in use.
func (c *Compiler) Matcher() ListingMatcher {
	return c.matcher
}

func (c *Compiler) script(op Operation, uids UIDSet) Script {
	return Script{Op: op, UIDs: uids, Iptables: c.iptables}
}

// CompileApply removes any leftover copies of each UID's rule pair, adds one
// of each, then lists the chain.
func (c *Compiler) CompileApply(uids UIDSet, proxyPort, dnsPort uint16) Script {
	s := c.script(OpApply, uids)
	for _, uid := range uids.uids {
		tcp, udp := TCPRule(uid, proxyPort), DNSRule(uid, dnsPort)
		s.Steps = append(s.Steps,
			Step{Kind: StepDeleteLoop, Rule: tcp, UID: uid, Proto: TCP},
			Step{Kind: StepDeleteLoop, Rule: udp, UID: uid, Proto: UDP},
			Step{Kind: StepEnsure, Rule: tcp, UID: uid, Proto: TCP},
			Step{Kind: StepEnsure, Rule: udp, UID: uid, Proto: UDP},
		)
	}
	s.Steps = append(s.Steps, Step{Kind: StepList})
	return s
}

// CompileClear deletes each UID's rules targeting exactly this port pair.
func (c *Compiler) CompileClear(uids UIDSet, proxyPort, dnsPort uint16) Script {
	s := c.script(OpClear, uids)
	for _, uid := range uids.uids {
		s.Steps = append(s.Steps,
			Step{Kind: StepDeleteLoop, Rule: TCPRule(uid, proxyPort), UID: uid, Proto: TCP},
			Step{Kind: StepDeleteLoop, Rule: DNSRule(uid, dnsPort), UID: uid, Proto: UDP},
		)
	}
	return s
}

// CompileUniversalClear deletes each UID's redirect rules whatever port they
// target, by line number.
func (c *Compiler) CompileUniversalClear(uids UIDSet) Script {
	s := c.script(OpUniversalClear, uids)
	for _, uid := range uids.uids {
		for _, proto := range Protocols {
			s.Steps = append(s.Steps, Step{
				Kind:    StepDeleteMatching,
				UID:     uid,
				Proto:   proto,
				Pattern: c.matcher.Pattern(uid, proto),
			})
		}
	}
	return s
}

// CompileList only lists the chain.
func (c *Compiler) CompileList() Script {
	s := c.script(OpList, UIDSet{})
	s.Steps = []Step{{Kind: StepList}}
	return s
}
