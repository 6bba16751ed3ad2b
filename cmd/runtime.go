package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"grimm.is/appredirect/internal/brand"
	"grimm.is/appredirect/internal/clock"
	"grimm.is/appredirect/internal/config"
	"grimm.is/appredirect/internal/control"
	"grimm.is/appredirect/internal/events"
	"grimm.is/appredirect/internal/i18n"
	"grimm.is/appredirect/internal/logging"
	"grimm.is/appredirect/internal/recovery"
	"grimm.is/appredirect/internal/redirect"
	"grimm.is/appredirect/internal/scheduler"
	"grimm.is/appredirect/internal/state"
)

// Printer is the global message printer for the CLI
var Printer = i18n.NewCLIPrinter()

// Runtime is everything a command needs, built from one config file.
type Runtime struct {
	Config      *config.Config
	Logger      *logging.Logger
	Store       state.Store
	Prefs       *state.Preferences
	Service     *redirect.Service
	Hub         *events.Hub
	Scheduler   *scheduler.Scheduler
	Controller  *control.Controller
	Coordinator *recovery.Coordinator

	// Out receives command output.
	Out io.Writer
}

// Options overrides the pieces of a Runtime that touch the host.
type Options struct {
	Store    state.Store
	Runner   redirect.ScriptRunner
	Identity redirect.IdentityVerifier
	Uptime   clock.UptimeFunc
	Clock    clock.Clock
	Logger   *logging.Logger
	Out      io.Writer
}

// Open loads configFile and builds a Runtime against the host.
func Open(configFile string) (*Runtime, error) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, err
	}
	return NewRuntime(cfg, Options{})
}

// NewRuntime wires a Runtime from cfg.
func NewRuntime(cfg *config.Config, opts Options) (*Runtime, error) {
	cfg.ApplyDefaults()

	logger := opts.Logger
	if logger == nil {
		var err error
		if logger, err = logging.FromSettings(cfg.LogLevel, cfg.LogJSON, os.Stderr); err != nil {
			return nil, err
		}
		logging.SetPrefix(brand.BinaryName)
		logging.SetDefault(logger)
	}

	store := opts.Store
	if store == nil {
		store = state.NewLazyStore(state.DefaultOptions(filepath.Join(cfg.StateDir, brand.StateFileName)))
	}
	prefs := state.NewPreferences(store).WithDefaultPorts(cfg.Defaults.ProxyPort, cfg.Defaults.DNSPort)

	identity := opts.Identity
	if identity == nil {
		identity = redirect.NewProcessIdentity(cfg.Privilege.Identity)
	}
	svc := redirect.NewService(redirect.Config{
		Shell:     cfg.Privilege.Shell,
		ShellArgs: cfg.Privilege.Args,
		Iptables:  cfg.Privilege.Iptables,
		Identity:  identity,
		Runner:    opts.Runner,
		Clock:     opts.Clock,
		Logger:    logger,
	})

	hub := events.NewHub()
	sched := scheduler.New(logger)

	rt := &Runtime{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Prefs:     prefs,
		Service:   svc,
		Hub:       hub,
		Scheduler: sched,
		Controller: control.New(control.Config{
			Preferences: prefs,
			Service:     svc,
			Hub:         hub,
			Logger:      logger,
		}),
		Coordinator: recovery.New(recovery.Config{
			Store:      prefs,
			Applier:    svc,
			Dispatcher: sched,
			Uptime:     opts.Uptime,
			Clock:      opts.Clock,
			Policy: recovery.Policy{
				MaxAttempts: cfg.Recovery.MaxAttempts,
				BaseDelay:   cfg.BaseDelay(),
			},
			EpochJitter: cfg.EpochJitter(),
			Hub:         hub,
			Logger:      logger,
		}),
		Out: opts.Out,
	}
	if rt.Out == nil {
		rt.Out = os.Stdout
	}
	return rt, nil
}

// Close stops background work and closes the store.
func (rt *Runtime) Close() error {
	rt.Scheduler.Stop()
	if err := rt.Store.Close(); err != nil {
		return fmt.Errorf("close state store: %w", err)
	}
	return nil
}
