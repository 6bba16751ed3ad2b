package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// ToHCL renders cfg as an HCL document.
func ToHCL(cfg *Config) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	body.SetAttributeValue("state_dir", cty.StringVal(cfg.StateDir))
	body.SetAttributeValue("log_level", cty.StringVal(cfg.LogLevel))
	body.SetAttributeValue("log_json", cty.BoolVal(cfg.LogJSON))

	if p := cfg.Privilege; p != nil {
		body.AppendNewline()
		b := body.AppendNewBlock("privilege", nil).Body()
		b.SetAttributeValue("shell", cty.StringVal(p.Shell))
		args := make([]cty.Value, len(p.Args))
		for i, a := range p.Args {
			args[i] = cty.StringVal(a)
		}
		if len(args) == 0 {
			b.SetAttributeValue("args", cty.ListValEmpty(cty.String))
		} else {
			b.SetAttributeValue("args", cty.ListVal(args))
		}
		b.SetAttributeValue("iptables", cty.StringVal(p.Iptables))
		b.SetAttributeValue("identity", cty.StringVal(p.Identity))
	}

	if r := cfg.Recovery; r != nil {
		body.AppendNewline()
		b := body.AppendNewBlock("recovery", nil).Body()
		b.SetAttributeValue("max_attempts", cty.NumberIntVal(int64(r.MaxAttempts)))
		b.SetAttributeValue("base_delay", cty.StringVal(r.BaseDelay))
		b.SetAttributeValue("epoch_jitter", cty.StringVal(r.EpochJitter))
	}

	if d := cfg.Defaults; d != nil {
		body.AppendNewline()
		b := body.AppendNewBlock("defaults", nil).Body()
		b.SetAttributeValue("proxy_port", cty.NumberIntVal(int64(d.ProxyPort)))
		b.SetAttributeValue("dns_port", cty.NumberIntVal(int64(d.DNSPort)))
	}

	if m := cfg.Metrics; m != nil {
		body.AppendNewline()
		b := body.AppendNewBlock("metrics", nil).Body()
		b.SetAttributeValue("listen", cty.StringVal(m.Listen))
	}

	return hclwrite.Format(f.Bytes())
}

// WriteFile writes cfg to path, refusing to overwrite an existing file.
func WriteFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, ToHCL(cfg), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
