package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grimm.is/appredirect/internal/brand"
	"grimm.is/appredirect/internal/clock"
	"grimm.is/appredirect/internal/events"
	"grimm.is/appredirect/internal/i18n"
	"grimm.is/appredirect/internal/metrics"
	"grimm.is/appredirect/internal/recovery"
	"grimm.is/appredirect/internal/scheduler"
)

// RuleSampleInterval is how often the daemon counts live rules for metrics.
const RuleSampleInterval = time.Minute

// RunDaemon fires boot_completed on start, then maps SIGUSR1 to
// user_present and SIGUSR2 to user_unlocked until ctx ends or SIGINT/SIGTERM
// arrives.
func RunDaemon(ctx context.Context, rt *Runtime) error {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := SetProcessName(brand.BinaryName); err != nil {
		rt.Logger.Debug("Could not set process name", "error", err)
	}
	cleanup, err := writePIDFile(PIDFile())
	if err != nil {
		return err
	}
	defer cleanup()

	return runDaemon(ctx, rt, sigCh)
}

func runDaemon(ctx context.Context, rt *Runtime, sigCh <-chan os.Signal) error {
	logger := rt.Logger.WithComponent("daemon")

	journal := events.NewJournal(rt.Hub, rt.Logger)
	go journal.Run()
	defer journal.Stop()

	collector := metrics.NewCollector(rt.Logger, rt.Service.CountRules)
	if err := rt.Scheduler.AddTask(scheduler.NewRuleSampleTask(collector.Collect, RuleSampleInterval)); err != nil {
		return err
	}
	rt.Scheduler.Start()
	defer rt.Scheduler.Stop()

	if listen := rt.Config.Metrics.Listen; listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "listen", listen, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info("Serving metrics", "listen", listen)
	}

	Printer.Fprintf(rt.Out, i18n.MsgDaemonStarted, os.Getpid())
	rt.Coordinator.RunBootRecovery(ctx, recovery.BootCompleted, clock.Now())

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			if trigger, ok := signalTrigger(sig); ok {
				rt.Coordinator.RunBootRecovery(ctx, trigger, clock.Now())
				continue
			}
			Printer.Fprintf(rt.Out, i18n.MsgDaemonStopping)
			return nil
		}
	}
}

func signalTrigger(sig os.Signal) (recovery.Trigger, bool) {
	switch sig {
	case syscall.SIGUSR1:
		return recovery.UserPresent, true
	case syscall.SIGUSR2:
		return recovery.UserUnlocked, true
	}
	return "", false
}
