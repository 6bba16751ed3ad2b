package config

import (
	"fmt"
	"strings"
	"time"

	"grimm.is/appredirect/internal/logging"
	"grimm.is/appredirect/internal/validation"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks a config that has already had defaults applied.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, ValidationError{Field: "log_level", Message: err.Error()})
	}

	if c.Privilege != nil {
		if err := validation.ValidateCommand(c.Privilege.Shell); err != nil {
			errs = append(errs, ValidationError{Field: "privilege.shell", Message: err.Error()})
		}
		for _, arg := range c.Privilege.Args {
			if err := validation.ValidateArg(arg); err != nil {
				errs = append(errs, ValidationError{Field: "privilege.args", Message: err.Error()})
			}
		}
		if err := validation.ValidateCommand(c.Privilege.Iptables); err != nil {
			errs = append(errs, ValidationError{Field: "privilege.iptables", Message: err.Error()})
		}
		if c.Privilege.Identity != "" {
			if err := validation.ValidateIdentifier(c.Privilege.Identity); err != nil {
				errs = append(errs, ValidationError{Field: "privilege.identity", Message: err.Error()})
			}
		}
	}

	if c.Recovery != nil {
		if c.Recovery.MaxAttempts < 1 {
			errs = append(errs, ValidationError{Field: "recovery.max_attempts", Message: "must be at least 1"})
		}
		for field, raw := range map[string]string{
			"recovery.base_delay":   c.Recovery.BaseDelay,
			"recovery.epoch_jitter": c.Recovery.EpochJitter,
		} {
			d, err := time.ParseDuration(raw)
			if err != nil {
				errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", raw)})
			} else if d < 0 {
				errs = append(errs, ValidationError{Field: field, Message: "must not be negative"})
			}
		}
	}

	if c.Defaults != nil {
		for field, port := range map[string]int{
			"defaults.proxy_port": c.Defaults.ProxyPort,
			"defaults.dns_port":   c.Defaults.DNSPort,
		} {
			if port < 1024 || port > 65535 {
				errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("port %d outside 1024-65535", port)})
			}
		}
	}

	return errs
}
