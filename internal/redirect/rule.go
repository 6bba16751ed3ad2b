package redirect

import (
	"fmt"
	"strconv"
)

// Protocol is the transport a redirect rule matches.
type Protocol string

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
)

// Protocols lists every protocol a UID gets a rule for.
var Protocols = []Protocol{TCP, UDP}

const (
	natTable   = "nat"
	natChain   = "OUTPUT"
	dnsDstPort = 53
)

// Rule is one REDIRECT rule in nat OUTPUT.
type Rule struct {
	Protocol Protocol
	UID      int
	ToPort   int
	// Line is the 1-based position in a listing; zero when not parsed.
	Line int
}

// TCPRule redirects all TCP from uid to port.
func TCPRule(uid int, port uint16) Rule {
	return Rule{Protocol: TCP, UID: uid, ToPort: int(port)}
}

// DNSRule redirects UDP/53 from uid to port.
func DNSRule(uid int, port uint16) Rule {
	return Rule{Protocol: UDP, UID: uid, ToPort: int(port)}
}

// Args returns the iptables match and target for r.
func (r Rule) Args() []string {
	args := []string{"-p", string(r.Protocol)}
	if r.Protocol == UDP {
		args = append(args, "--dport", strconv.Itoa(dnsDstPort))
	}
	return append(args,
		"-m", "owner", "--uid-owner", strconv.Itoa(r.UID),
		"-j", "REDIRECT", "--to-ports", strconv.Itoa(r.ToPort),
	)
}

func (r Rule) String() string {
	return fmt.Sprintf("%s uid=%d -> %d", r.Protocol, r.UID, r.ToPort)
}
