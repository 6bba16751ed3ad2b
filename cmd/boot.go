package cmd

import (
	"context"

	"grimm.is/appredirect/internal/clock"
	"grimm.is/appredirect/internal/i18n"
	"grimm.is/appredirect/internal/recovery"
)

// RunBoot feeds one trigger to the recovery coordinator and, if a restore
// was dispatched, waits for it to finish. Cancelling ctx stops the scheduler,
// which abandons the restore between attempts.
func RunBoot(ctx context.Context, rt *Runtime, triggerName string) (recovery.Outcome, error) {
	trigger, err := recovery.ParseTrigger(triggerName)
	if err != nil {
		return recovery.Outcome{}, err
	}

	rt.Scheduler.Start()
	defer rt.Scheduler.Stop()

	out := rt.Coordinator.RunBootRecovery(ctx, trigger, clock.Now())
	Printer.Fprintf(rt.Out, i18n.MsgRecovery, out.Decision)
	if out.Decision == recovery.Dispatched {
		done := make(chan struct{})
		go func() {
			rt.Scheduler.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			rt.Scheduler.Stop()
			<-done
			return out, ctx.Err()
		}
		_, success, ok, err := rt.Prefs.LastRestore()
		if err != nil {
			return out, err
		}
		if ok && !success {
			return out, ErrScriptFailed
		}
	}
	return out, nil
}
