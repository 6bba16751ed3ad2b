package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadHCL_Full(t *testing.T) {
	hcl := `
state_dir = "/data/appredirect"
log_level = "debug"
log_json  = true

privilege {
  shell    = "/system/bin/su"
  args     = ["-c", "sh"]
  iptables = "/system/bin/iptables"
  identity = "redirector"
}

recovery {
  max_attempts = 5
  base_delay   = "500ms"
  epoch_jitter = "10s"
}

defaults {
  proxy_port = 8080
  dns_port   = 5353
}

metrics {
  listen = "127.0.0.1:9464"
}
`
	cfg, err := LoadHCL([]byte(hcl), "test.hcl")
	require.NoError(t, err)

	assert.Equal(t, "/data/appredirect", cfg.StateDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, "/system/bin/su", cfg.Privilege.Shell)
	assert.Equal(t, []string{"-c", "sh"}, cfg.Privilege.Args)
	assert.Equal(t, "/system/bin/iptables", cfg.Privilege.Iptables)
	assert.Equal(t, "redirector", cfg.Privilege.Identity)
	assert.Equal(t, 5, cfg.Recovery.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.BaseDelay())
	assert.Equal(t, 10*time.Second, cfg.EpochJitter())
	assert.Equal(t, 8080, cfg.Defaults.ProxyPort)
	assert.Equal(t, 5353, cfg.Defaults.DNSPort)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Listen)
	assert.Empty(t, cfg.Validate())
}

func TestLoadHCL_Defaults(t *testing.T) {
	cfg, err := LoadHCL([]byte(`log_level = "warn"`), "min.hcl")
	require.NoError(t, err)

	assert.Equal(t, DefaultShell, cfg.Privilege.Shell)
	assert.Equal(t, DefaultIptables, cfg.Privilege.Iptables)
	assert.Equal(t, DefaultMaxAttempts, cfg.Recovery.MaxAttempts)
	assert.Equal(t, DefaultBaseDelay, cfg.BaseDelay())
	assert.Equal(t, DefaultEpochJitter, cfg.EpochJitter())
	assert.Equal(t, DefaultProxyPort, cfg.Defaults.ProxyPort)
	assert.Equal(t, DefaultDNSPort, cfg.Defaults.DNSPort)
	assert.Empty(t, cfg.Metrics.Listen)
}

func TestLoadHCL_EnvFunction(t *testing.T) {
	t.Setenv("REDIRECT_TEST_SHELL", "/sbin/su")

	hcl := `
privilege {
  shell    = env("REDIRECT_TEST_SHELL")
  iptables = env("REDIRECT_TEST_UNSET", "/usr/sbin/iptables-legacy")
}
`
	cfg, err := LoadHCL([]byte(hcl), "env.hcl")
	require.NoError(t, err)

	assert.Equal(t, "/sbin/su", cfg.Privilege.Shell)
	assert.Equal(t, "/usr/sbin/iptables-legacy", cfg.Privilege.Iptables)
}

func TestLoadHCL_ParseError(t *testing.T) {
	_, err := LoadHCL([]byte(`privilege {`), "broken.hcl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HCL parse error")
}

func TestLoadHCL_UnknownAttribute(t *testing.T) {
	_, err := LoadHCL([]byte(`bogus = 1`), "bogus.hcl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HCL decode error")
}

func TestLoadJSON(t *testing.T) {
	cfg, err := LoadJSON([]byte(`{"log_level":"error","defaults":{"proxy_port":2000}}`))
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, 2000, cfg.Defaults.ProxyPort)
	assert.Equal(t, DefaultDNSPort, cfg.Defaults.DNSPort)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := LoadFile(filepath.Join(dir, "absent.hcl"))
		require.NoError(t, err)
		assert.Equal(t, DefaultShell, cfg.Privilege.Shell)
	})

	t.Run("json by extension", func(t *testing.T) {
		path := filepath.Join(dir, "c.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"log_level":"debug"}`), 0644))
		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		path := filepath.Join(dir, "bad.hcl")
		require.NoError(t, os.WriteFile(path, []byte("defaults {\n  proxy_port = 80\n}\n"), 0644))
		_, err := LoadFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "defaults.proxy_port")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"empty shell", func(c *Config) { c.Privilege.Shell = " " }, "privilege.shell"},
		{"iptables injection", func(c *Config) { c.Privilege.Iptables = "iptables; reboot" }, "privilege.iptables"},
		{"null in args", func(c *Config) { c.Privilege.Args = []string{"-c\x00"} }, "privilege.args"},
		{"identity with space", func(c *Config) { c.Privilege.Identity = "app redirect" }, "privilege.identity"},
		{"zero attempts", func(c *Config) { c.Recovery.MaxAttempts = -1 }, "recovery.max_attempts"},
		{"bad delay", func(c *Config) { c.Recovery.BaseDelay = "soon" }, "recovery.base_delay"},
		{"negative jitter", func(c *Config) { c.Recovery.EpochJitter = "-1s" }, "recovery.epoch_jitter"},
		{"dns port low", func(c *Config) { c.Defaults.DNSPort = 53 }, "defaults.dns_port"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.edit(cfg)
			errs := cfg.Validate()
			require.True(t, errs.HasErrors())
			assert.Equal(t, tc.field, errs[0].Field)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Message: "one"},
		{Field: "b", Message: "two"},
	}
	assert.Equal(t, "a: one; b: two", errs.Error())
	assert.Equal(t, "", ValidationErrors(nil).Error())
}

func TestToHCL_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Privilege.Args = []string{"-c", "sh"}
	cfg.Metrics.Listen = "127.0.0.1:9464"

	out := ToHCL(cfg)
	assert.True(t, strings.Contains(string(out), "privilege {"))

	back, err := LoadHCL(out, "roundtrip.hcl")
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestWriteFile_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "appredirect.hcl")
	require.NoError(t, WriteFile(path, Default()))
	assert.Error(t, WriteFile(path, Default()))
}
