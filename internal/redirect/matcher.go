package redirect

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ListingMatcher isolates everything that depends on the text format of
// `iptables -t nat -L OUTPUT -n --line-numbers`.
type ListingMatcher interface {
	// Pattern returns a POSIX extended regex (for grep -E) selecting the
	// listing rows of redirect rules owned by uid for proto.
	Pattern(uid int, proto Protocol) string
	// Parse extracts redirect rules from a listing.
	Parse(listing string) []Rule
}

// IptablesMatcher understands the legacy and nft-backed iptables listings.
// Older builds print the protocol number instead of its name.
type IptablesMatcher struct{}

var protoAliases = map[Protocol]string{
	TCP: "(tcp|6)",
	UDP: "(udp|17)",
}

func (IptablesMatcher) Pattern(uid int, proto Protocol) string {
	return fmt.Sprintf(`^[0-9]+[[:space:]]+REDIRECT[[:space:]]+%s[[:space:]].*owner UID match %d([[:space:]]|$)`,
		protoAliases[proto], uid)
}

var listingRow = regexp.MustCompile(
	`^(\d+)\s+REDIRECT\s+(tcp|udp|6|17)\s.*owner UID match (\d+)(?:\s.*redir ports (\d+))?`)

func (IptablesMatcher) Parse(listing string) []Rule {
	var rules []Rule
	sc := bufio.NewScanner(strings.NewReader(listing))
	for sc.Scan() {
		m := listingRow.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		line, _ := strconv.Atoi(m[1])
		uid, _ := strconv.Atoi(m[3])
		port, _ := strconv.Atoi(m[4])
		proto := TCP
		if m[2] == "udp" || m[2] == "17" {
			proto = UDP
		}
		rules = append(rules, Rule{Protocol: proto, UID: uid, ToPort: port, Line: line})
	}
	return rules
}

// ParseRules parses a listing with the default matcher.
func ParseRules(listing string) []Rule {
	return IptablesMatcher{}.Parse(listing)
}

// CountRules tallies rules per protocol.
func CountRules(rules []Rule) (tcp, udp int) {
	for _, r := range rules {
		switch r.Protocol {
		case TCP:
			tcp++
		case UDP:
			udp++
		}
	}
	return tcp, udp
}

// FormatListing renders rules the way `iptables -t nat -L OUTPUT -n
// --line-numbers` prints them, numbering from 1.
func FormatListing(rules []Rule) string {
	var b strings.Builder
	b.WriteString("Chain OUTPUT (policy ACCEPT)\n")
	b.WriteString("num  target     prot opt source               destination\n")
	for i, r := range rules {
		extra := ""
		if r.Protocol == UDP {
			extra = fmt.Sprintf("udp dpt:%d ", dnsDstPort)
		}
		fmt.Fprintf(&b, "%-4d REDIRECT   %-4s --  0.0.0.0/0            0.0.0.0/0            %sowner UID match %d redir ports %d\n",
			i+1, r.Protocol, extra, r.UID, r.ToPort)
	}
	return b.String()
}
