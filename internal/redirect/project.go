package redirect

// ProjectApply returns the chain CompileApply would leave behind when run
// against rules.
func ProjectApply(rules []Rule, uids UIDSet, proxyPort, dnsPort uint16) []Rule {
	out := make([]Rule, 0, len(rules)+2*uids.Len())
	for _, r := range rules {
		if uids.Contains(r.UID) && sameTarget(r, proxyPort, dnsPort) {
			continue
		}
		out = append(out, r)
	}
	for _, uid := range uids.Slice() {
		out = append(out, TCPRule(uid, proxyPort), DNSRule(uid, dnsPort))
	}
	return out
}

// ProjectClear returns the chain CompileClear would leave behind.
func ProjectClear(rules []Rule, uids UIDSet, proxyPort, dnsPort uint16) []Rule {
	var out []Rule
	for _, r := range rules {
		if uids.Contains(r.UID) && sameTarget(r, proxyPort, dnsPort) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ProjectUniversalClear returns the chain CompileUniversalClear would leave
// behind.
func ProjectUniversalClear(rules []Rule, uids UIDSet) []Rule {
	var out []Rule
	for _, r := range rules {
		if uids.Contains(r.UID) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func sameTarget(r Rule, proxyPort, dnsPort uint16) bool {
	switch r.Protocol {
	case TCP:
		return r.ToPort == int(proxyPort)
	case UDP:
		return r.ToPort == int(dnsPort)
	}
	return false
}
