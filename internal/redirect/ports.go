package redirect

import "strconv"

// Allowed local port range for redirect targets.
const (
	MinPort = 1024
	MaxPort = 65535
)

var reservedPorts = map[int]bool{
	22:  true,
	80:  true,
	443: true,
}

// PortConfig is the pair of local ports traffic is redirected to.
type PortConfig struct {
	ProxyPort uint16
	DNSPort   uint16
}

// ValidatePort checks a single port against the range and reserved list.
func ValidatePort(field string, port int) error {
	if reservedPorts[port] {
		return &ValidationError{Field: field, Value: strconv.Itoa(port), Err: ErrPortReserved}
	}
	if port < MinPort || port > MaxPort {
		return &ValidationError{Field: field, Value: strconv.Itoa(port), Err: ErrPortOutOfRange}
	}
	return nil
}

// NewPortConfig validates both ports. They may be equal.
func NewPortConfig(proxyPort, dnsPort int) (PortConfig, error) {
	if err := ValidatePort("proxy_port", proxyPort); err != nil {
		return PortConfig{}, err
	}
	if err := ValidatePort("dns_port", dnsPort); err != nil {
		return PortConfig{}, err
	}
	return PortConfig{ProxyPort: uint16(proxyPort), DNSPort: uint16(dnsPort)}, nil
}
