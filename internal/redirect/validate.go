package redirect

// Intent is a validated redirect request.
type Intent struct {
	UIDs  UIDSet
	Ports PortConfig
}

// Validate checks a UID set and a single target port.
func Validate(uids UIDSet, port int) error {
	if err := validateUIDCount(uids); err != nil {
		return err
	}
	return ValidatePort("port", port)
}

// ValidateIntent verifies the caller, then parses and checks raw input.
// Nothing here touches the shell.
func ValidateIntent(id IdentityVerifier, tokens []string, proxyPort, dnsPort int) (Intent, error) {
	if id != nil {
		if err := id.VerifyIdentity(); err != nil {
			return Intent{}, err
		}
	}
	uids, err := ParseUIDs(tokens)
	if err != nil {
		return Intent{}, err
	}
	ports, err := NewPortConfig(proxyPort, dnsPort)
	if err != nil {
		return Intent{}, err
	}
	return Intent{UIDs: uids, Ports: ports}, nil
}
