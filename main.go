package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"grimm.is/appredirect/cmd"
	"grimm.is/appredirect/internal/brand"
)

var printer = cmd.Printer

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "apply":
		applyFlags := flag.NewFlagSet("apply", flag.ExitOnError)
		configFile := configFlag(applyFlags)
		uids := applyFlags.String("uids", "", "Comma separated UIDs to redirect")
		applyFlags.StringVar(uids, "u", "", "UIDs (short)")
		proxyPort := applyFlags.Int("proxy-port", 0, "Proxy port (default: persisted)")
		dnsPort := applyFlags.Int("dns-port", 0, "DNS port (default: persisted)")
		applyFlags.Parse(os.Args[2:])

		withRuntime(*configFile, "Apply failed", func(rt *cmd.Runtime) error {
			return cmd.RunApply(ctx, rt, *uids, *proxyPort, *dnsPort)
		})

	case "clear":
		clearFlags := flag.NewFlagSet("clear", flag.ExitOnError)
		configFile := configFlag(clearFlags)
		forget := clearFlags.Bool("forget", false, "Also drop the persisted selection")
		clearFlags.Parse(os.Args[2:])

		withRuntime(*configFile, "Clear failed", func(rt *cmd.Runtime) error {
			return cmd.RunClear(ctx, rt, *forget)
		})

	case "clear-all":
		clearFlags := flag.NewFlagSet("clear-all", flag.ExitOnError)
		configFile := configFlag(clearFlags)
		uids := clearFlags.String("uids", "", "UIDs to clear (default: selection)")
		clearFlags.StringVar(uids, "u", "", "UIDs (short)")
		clearFlags.Parse(os.Args[2:])

		withRuntime(*configFile, "Clear failed", func(rt *cmd.Runtime) error {
			return cmd.RunClearAll(ctx, rt, *uids)
		})

	case "set-ports":
		portFlags := flag.NewFlagSet("set-ports", flag.ExitOnError)
		configFile := configFlag(portFlags)
		proxyPort := portFlags.Int("proxy-port", 0, "New proxy port")
		dnsPort := portFlags.Int("dns-port", 0, "New DNS port")
		portFlags.Parse(os.Args[2:])

		withRuntime(*configFile, "Port change failed", func(rt *cmd.Runtime) error {
			return cmd.RunSetPorts(ctx, rt, *proxyPort, *dnsPort)
		})

	case "autostart":
		autoFlags := flag.NewFlagSet("autostart", flag.ExitOnError)
		configFile := configFlag(autoFlags)
		autoFlags.Parse(os.Args[2:])

		withRuntime(*configFile, "Autostart failed", func(rt *cmd.Runtime) error {
			return cmd.RunAutostart(rt, autoFlags.Arg(0))
		})

	case "boot":
		bootFlags := flag.NewFlagSet("boot", flag.ExitOnError)
		configFile := configFlag(bootFlags)
		trigger := bootFlags.String("trigger", "boot_completed", "boot_completed, user_present or user_unlocked")
		bootFlags.StringVar(trigger, "t", "boot_completed", "Trigger (short)")
		bootFlags.Parse(os.Args[2:])

		withRuntime(*configFile, "Boot recovery failed", func(rt *cmd.Runtime) error {
			_, err := cmd.RunBoot(ctx, rt, *trigger)
			return err
		})

	case "daemon":
		daemonFlags := flag.NewFlagSet("daemon", flag.ExitOnError)
		configFile := configFlag(daemonFlags)
		daemonFlags.Parse(os.Args[2:])

		withRuntime(*configFile, "Daemon failed", func(rt *cmd.Runtime) error {
			return cmd.RunDaemon(ctx, rt)
		})

	case "notify":
		if len(os.Args) < 3 {
			printer.Println("Usage: " + brand.BinaryName + " notify user_present|user_unlocked")
			os.Exit(1)
		}
		if err := cmd.RunNotify(cmd.PIDFile(), os.Args[2]); err != nil {
			printer.Fprintf(os.Stderr, "Notify failed: %v\n", err)
			os.Exit(1)
		}

	case "stop":
		if err := cmd.RunStop(cmd.PIDFile()); err != nil {
			printer.Fprintf(os.Stderr, "Stop failed: %v\n", err)
			os.Exit(1)
		}

	case "status":
		statusFlags := flag.NewFlagSet("status", flag.ExitOnError)
		configFile := configFlag(statusFlags)
		statusFlags.Parse(os.Args[2:])

		withRuntime(*configFile, "Status failed", func(rt *cmd.Runtime) error {
			return cmd.RunStatus(ctx, rt)
		})

	case "script":
		scriptFlags := flag.NewFlagSet("script", flag.ExitOnError)
		configFile := configFlag(scriptFlags)
		scriptFlags.Parse(os.Args[2:])

		withRuntime(*configFile, "Script failed", func(rt *cmd.Runtime) error {
			return cmd.RunScript(ctx, rt, scriptFlags.Args())
		})

	case "config":
		cfgFlags := flag.NewFlagSet("config", flag.ExitOnError)
		configFile := configFlag(cfgFlags)
		cfgFlags.Parse(os.Args[2:])

		if err := cmd.RunConfig(os.Stdout, *configFile, cfgFlags.Args()); err != nil {
			printer.Fprintf(os.Stderr, "Config failed: %v\n", err)
			os.Exit(1)
		}

	case "version":
		printer.Printf("%s version %s\n", brand.Name, brand.Version)
		printer.Printf("Commit: %s\n", brand.GitCommit)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func configFlag(fs *flag.FlagSet) *string {
	configFile := fs.String("config", brand.DefaultConfigPath(), "Configuration file")
	fs.StringVar(configFile, "c", brand.DefaultConfigPath(), "Configuration file (short)")
	return configFile
}

// withRuntime opens the runtime, runs fn and exits non-zero on failure.
func withRuntime(configFile, failure string, fn func(rt *cmd.Runtime) error) {
	rt, err := cmd.Open(configFile)
	if err != nil {
		printer.Fprintf(os.Stderr, "%s: %v\n", failure, err)
		os.Exit(1)
	}
	err = fn(rt)
	rt.Close()
	if err == nil {
		return
	}
	if !errors.Is(err, cmd.ErrScriptFailed) {
		printer.Fprintf(os.Stderr, "%s: %v\n", failure, err)
	}
	os.Exit(1)
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s <command> [options]

Rule Commands:
  apply       Persist a UID selection and redirect it
              Options: --uids (-u) <list>, --proxy-port <n>, --dns-port <n>
  clear       Remove the selection's redirect rules
              Options: --forget
  clear-all   Remove every redirect rule of some UIDs, on any port
              Options: --uids (-u) <list>
  set-ports   Move the selection to new ports
              Options: --proxy-port <n>, --dns-port <n>
  autostart   Show or set boot restoration (on|off)
  status      Show selection, boot session and live rules

Recovery Commands:
  boot        Handle one boot trigger and wait for the restore
              Options: --trigger (-t) boot_completed|user_present|user_unlocked
  daemon      Run in the foreground; SIGUSR1 = user_present, SIGUSR2 = user_unlocked
  notify      Forward user_present or user_unlocked to the running daemon
  stop        Stop the running daemon

Utility Commands:
  script      Print the script an operation would run
              Subcommands: apply, clear, clear-all [uids], set-ports <proxy> <dns>
  config      Manage the configuration file
              Subcommands: init, check
  version     Print version information

All commands accept --config (-c) <file> (default %s).

Examples:
  %s apply -u 10123,10200
  %s set-ports --proxy-port 23456 --dns-port 20053
  %s script set-ports 23456 20053
  %s boot -t user_present
`,
		brand.Name, brand.Description,
		brand.LowerName,
		brand.DefaultConfigPath(),
		brand.LowerName, brand.LowerName, brand.LowerName, brand.LowerName)
}
