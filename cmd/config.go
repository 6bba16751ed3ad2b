package cmd

import (
	"fmt"
	"io"
	"strings"

	"grimm.is/appredirect/internal/brand"
	"grimm.is/appredirect/internal/config"
	"grimm.is/appredirect/internal/i18n"
	"grimm.is/appredirect/internal/validation"
)

// RunConfig handles `config init` and `config check`.
func RunConfig(out io.Writer, configFile string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s config init|check [file]", brand.BinaryName)
	}
	if len(args) > 1 {
		configFile = args[1]
	}

	switch args[0] {
	case "init":
		if err := config.WriteFile(configFile, config.Default()); err != nil {
			return err
		}
		Printer.Fprintf(out, i18n.MsgConfigWritten, configFile)
		return nil

	case "check":
		cfg, err := config.LoadFile(configFile)
		if err != nil {
			return err
		}
		Printer.Fprintf(out, i18n.MsgConfigValid, configFile)
		describeConfig(out, cfg)
		return nil
	}
	return fmt.Errorf("unknown config command %q", args[0])
}

// describeConfig prints the effective settings. Shell arguments are only
// checked for null bytes, so everything user-supplied is sanitized for display.
func describeConfig(out io.Writer, cfg *config.Config) {
	shellArgs := make([]string, len(cfg.Privilege.Args))
	for i, a := range cfg.Privilege.Args {
		shellArgs[i] = validation.SanitizeString(a)
	}
	Printer.Fprintf(out, "  shell:        %s [%s]\n", validation.SanitizeString(cfg.Privilege.Shell), strings.Join(shellArgs, " "))
	Printer.Fprintf(out, "  iptables:     %s\n", validation.SanitizeString(cfg.Privilege.Iptables))
	Printer.Fprintf(out, "  identity:     %s\n", validation.SanitizeString(cfg.Privilege.Identity))
	Printer.Fprintf(out, "  state:        %s\n", cfg.StateDir)
	Printer.Fprintf(out, "  recovery:     %d attempts, base delay %s\n", cfg.Recovery.MaxAttempts, cfg.BaseDelay())
	Printer.Fprintf(out, "  ports:        %d/%d\n", cfg.Defaults.ProxyPort, cfg.Defaults.DNSPort)
}
