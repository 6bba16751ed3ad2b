package config

import (
	"time"

	"grimm.is/appredirect/internal/brand"
)

// Config is the top-level structure for the redirector configuration.
type Config struct {
	// StateDir holds the SQLite database with persisted intent.
	StateDir string `hcl:"state_dir,optional" json:"state_dir,omitempty"`
	LogLevel string `hcl:"log_level,optional" json:"log_level,omitempty"`
	LogJSON  bool   `hcl:"log_json,optional" json:"log_json,omitempty"`

	Privilege *PrivilegeConfig `hcl:"privilege,block" json:"privilege,omitempty"`
	Recovery  *RecoveryConfig  `hcl:"recovery,block" json:"recovery,omitempty"`
	Defaults  *DefaultsConfig  `hcl:"defaults,block" json:"defaults,omitempty"`
	Metrics   *MetricsConfig   `hcl:"metrics,block" json:"metrics,omitempty"`
}

// PrivilegeConfig describes how scripts reach the packet filter.
type PrivilegeConfig struct {
	Shell    string   `hcl:"shell,optional" json:"shell,omitempty"`       // privileged shell, e.g. "su"
	Args     []string `hcl:"args,optional" json:"args,omitempty"`         // extra shell arguments
	Iptables string   `hcl:"iptables,optional" json:"iptables,omitempty"` // binary named in scripts
	Identity string   `hcl:"identity,optional" json:"identity,omitempty"` // expected caller identity
}

// RecoveryConfig tunes boot recovery.
type RecoveryConfig struct {
	MaxAttempts int    `hcl:"max_attempts,optional" json:"max_attempts,omitempty"`
	BaseDelay   string `hcl:"base_delay,optional" json:"base_delay,omitempty"`
	EpochJitter string `hcl:"epoch_jitter,optional" json:"epoch_jitter,omitempty"`
}

// DefaultsConfig holds ports used before the user has chosen any.
type DefaultsConfig struct {
	ProxyPort int `hcl:"proxy_port,optional" json:"proxy_port,omitempty"`
	DNSPort   int `hcl:"dns_port,optional" json:"dns_port,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint of the daemon.
type MetricsConfig struct {
	Listen string `hcl:"listen,optional" json:"listen,omitempty"`
}

// Default values.
const (
	DefaultShell       = "su"
	DefaultIptables    = "iptables"
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
	DefaultEpochJitter = 30 * time.Second
	DefaultProxyPort   = 12345
	DefaultDNSPort     = 10853
)

// Default returns a fully populated config.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field. Safe to call more than once.
func (c *Config) ApplyDefaults() {
	if c.StateDir == "" {
		c.StateDir = brand.GetStateDir()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Privilege == nil {
		c.Privilege = &PrivilegeConfig{}
	}
	if c.Privilege.Shell == "" {
		c.Privilege.Shell = DefaultShell
	}
	if c.Privilege.Iptables == "" {
		c.Privilege.Iptables = DefaultIptables
	}
	if c.Privilege.Identity == "" {
		c.Privilege.Identity = brand.BinaryName
	}
	if c.Recovery == nil {
		c.Recovery = &RecoveryConfig{}
	}
	if c.Recovery.MaxAttempts == 0 {
		c.Recovery.MaxAttempts = DefaultMaxAttempts
	}
	if c.Recovery.BaseDelay == "" {
		c.Recovery.BaseDelay = DefaultBaseDelay.String()
	}
	if c.Recovery.EpochJitter == "" {
		c.Recovery.EpochJitter = DefaultEpochJitter.String()
	}
	if c.Defaults == nil {
		c.Defaults = &DefaultsConfig{}
	}
	if c.Defaults.ProxyPort == 0 {
		c.Defaults.ProxyPort = DefaultProxyPort
	}
	if c.Defaults.DNSPort == 0 {
		c.Defaults.DNSPort = DefaultDNSPort
	}
	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
}

// BaseDelay returns the parsed recovery base delay.
func (c *Config) BaseDelay() time.Duration {
	d, err := time.ParseDuration(c.Recovery.BaseDelay)
	if err != nil {
		return DefaultBaseDelay
	}
	return d
}

// EpochJitter returns the parsed boot epoch tolerance.
func (c *Config) EpochJitter() time.Duration {
	d, err := time.ParseDuration(c.Recovery.EpochJitter)
	if err != nil {
		return DefaultEpochJitter
	}
	return d
}
