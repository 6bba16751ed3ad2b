package redirect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProjectApply_FixedPoint(t *testing.T) {
	uids := NewUIDSet(10123, 10200)
	once := ProjectApply(nil, uids, 12345, 10853)
	twice := ProjectApply(once, uids, 12345, 10853)

	assert.Len(t, once, 4)
	assert.Equal(t, FormatListing(once), FormatListing(twice))
}

func TestProjectApply_KeepsOtherPorts(t *testing.T) {
	live := []Rule{TCPRule(10123, 2000), DNSRule(10123, 2001)}
	got := ProjectApply(live, NewUIDSet(10123), 12345, 10853)

	assert.Equal(t, []Rule{
		TCPRule(10123, 2000), DNSRule(10123, 2001),
		TCPRule(10123, 12345), DNSRule(10123, 10853),
	}, got)
}

func TestProjectClear(t *testing.T) {
	live := []Rule{TCPRule(10123, 12345), TCPRule(10123, 12345), DNSRule(10123, 10853), TCPRule(10200, 12345)}
	got := ProjectClear(live, NewUIDSet(10123), 12345, 10853)
	assert.Equal(t, []Rule{TCPRule(10200, 12345)}, got)
}

func TestProjectUniversalClear(t *testing.T) {
	live := []Rule{TCPRule(10123, 1), DNSRule(10123, 2), TCPRule(10200, 12345)}
	got := ProjectUniversalClear(live, NewUIDSet(10123))
	assert.Equal(t, []Rule{TCPRule(10200, 12345)}, got)
}

func TestFormatListing_RoundTrip(t *testing.T) {
	rules := []Rule{TCPRule(10123, 12345), DNSRule(10123, 10853)}
	parsed := ParseRules(FormatListing(rules))

	assert.Len(t, parsed, 2)
	assert.Equal(t, 1, parsed[0].Line)
	assert.Equal(t, UDP, parsed[1].Protocol)
	assert.Equal(t, 10853, parsed[1].ToPort)
}
