// Package recovery re-applies the persisted redirect intent once per boot
// session.
package recovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/appredirect/internal/clock"
	"grimm.is/appredirect/internal/events"
	"grimm.is/appredirect/internal/logging"
	"grimm.is/appredirect/internal/metrics"
	"grimm.is/appredirect/internal/redirect"
	"grimm.is/appredirect/internal/scheduler"
	"grimm.is/appredirect/internal/state"
)

// DefaultEpochJitter is how far two boot epochs may drift and still name the
// same boot.
const DefaultEpochJitter = 30 * time.Second

// Store is the persisted intent and session bookkeeping. state.Preferences
// implements it.
type Store interface {
	BootSession() (epoch int64, started bool, err error)
	SetBootEpoch(epoch int64) error
	SetServiceStarted(started bool) error
	Autostart() (bool, error)
	SelectedUIDs() ([]string, error)
	Ports() (proxyPort, dnsPort int, err error)
	RecordRestore(at time.Time, success bool) error
}

// Applier applies rules. redirect.Service implements it.
type Applier interface {
	ApplyRules(ctx context.Context, uids []string, proxyPort, dnsPort int) (redirect.ExecutionResult, error)
}

// Dispatcher runs restore work in the background. scheduler.Scheduler
// implements it.
type Dispatcher interface {
	Submit(name string, fn scheduler.TaskFunc) error
}

// Decision is what RunBootRecovery did with a trigger.
type Decision string

const (
	Dispatched      Decision = "dispatched"
	AlreadyStarted  Decision = "already_started"
	AutostartOff    Decision = "autostart_disabled"
	NoSelection     Decision = "no_selection"
	Deferred        Decision = "deferred"
	DispatchRefused Decision = "dispatch_failed"
)

// Outcome reports the handling of one trigger.
type Outcome struct {
	Trigger    Trigger
	Decision   Decision
	Epoch      int64
	NewSession bool
	RunID      string
	Err        error
}

// Config wires a Coordinator.
type Config struct {
	Store       Store
	Applier     Applier
	Dispatcher  Dispatcher
	Uptime      clock.UptimeFunc
	Clock       clock.Clock
	Policy      Policy
	EpochJitter time.Duration
	Hub         *events.Hub
	Logger      *logging.Logger
}

// Coordinator decides, per trigger, whether the persisted intent must be
// restored, and runs the restore loop when dispatched.
type Coordinator struct {
	store      Store
	applier    Applier
	dispatcher Dispatcher
	uptime     clock.UptimeFunc
	clock      clock.Clock
	policy     Policy
	jitter     time.Duration
	hub        *events.Hub
	logger     *logging.Logger
	metrics    *metrics.Registry

	// serializes trigger evaluation within this process
	mu sync.Mutex
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		store:      cfg.Store,
		applier:    cfg.Applier,
		dispatcher: cfg.Dispatcher,
		uptime:     cfg.Uptime,
		clock:      cfg.Clock,
		policy:     cfg.Policy,
		jitter:     cfg.EpochJitter,
		hub:        cfg.Hub,
		logger:     cfg.Logger,
		metrics:    metrics.Get(),
	}
	if c.uptime == nil {
		c.uptime = clock.Uptime
	}
	if c.clock == nil {
		c.clock = &clock.RealClock{}
	}
	if c.policy.MaxAttempts == 0 {
		c.policy = DefaultPolicy()
	}
	if c.jitter == 0 {
		c.jitter = DefaultEpochJitter
	}
	if c.logger == nil {
		c.logger = logging.Default()
	}
	c.logger = c.logger.WithComponent("recovery")
	return c
}

// RunBootRecovery handles one trigger that arrived at ts. It never blocks
// on rule application; a dispatched restore runs on the Dispatcher.
func (c *Coordinator) RunBootRecovery(ctx context.Context, trigger Trigger, ts time.Time) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.evaluate(ctx, trigger, ts)

	c.metrics.RecordTrigger(string(trigger), string(out.Decision))
	c.hub.Publish(events.Event{
		Type:   events.EventTriggerReceived,
		Source: "recovery",
		Data: events.TriggerData{
			Trigger: string(trigger),
			Outcome: string(out.Decision),
			Epoch:   out.Epoch,
		},
	})
	return out
}

func (c *Coordinator) evaluate(ctx context.Context, trigger Trigger, ts time.Time) Outcome {
	out := Outcome{Trigger: trigger}

	uptime, err := c.uptime()
	if err != nil {
		return c.deferTrigger(out, "uptime", err)
	}
	out.Epoch = clock.BootEpoch(ts, uptime)

	stored, started, err := c.store.BootSession()
	if err != nil {
		return c.deferTrigger(out, "read session", err)
	}

	if !clock.SameBoot(out.Epoch, stored, c.jitter) {
		if err := c.store.SetBootEpoch(out.Epoch); err != nil {
			return c.deferTrigger(out, "write session", err)
		}
		if err := c.store.SetServiceStarted(false); err != nil {
			return c.deferTrigger(out, "reset session", err)
		}
		started = false
		out.NewSession = true
		c.logger.Info("New boot session", "epoch", out.Epoch, "previous_epoch", stored)
		c.hub.Publish(events.Event{
			Type:   events.EventSessionReset,
			Source: "recovery",
			Data:   events.SessionResetData{PreviousEpoch: stored, Epoch: out.Epoch},
		})
	}

	if started {
		out.Decision = AlreadyStarted
		c.logger.Debug("Restore already dispatched this session", "trigger", string(trigger))
		return out
	}

	autostart, err := c.store.Autostart()
	if err != nil {
		return c.deferTrigger(out, "read autostart", err)
	}
	if !autostart {
		out.Decision = AutostartOff
		return out
	}

	uids, err := c.store.SelectedUIDs()
	if err != nil {
		return c.deferTrigger(out, "read selection", err)
	}
	if len(uids) == 0 {
		out.Decision = NoSelection
		return out
	}

	if err := c.store.SetServiceStarted(true); err != nil {
		return c.deferTrigger(out, "mark started", err)
	}

	runID := uuid.NewString()
	err = c.dispatcher.Submit("restore-"+runID, func(ctx context.Context) error {
		return c.Restore(ctx, runID)
	})
	if err != nil {
		if rbErr := c.store.SetServiceStarted(false); rbErr != nil {
			c.logger.Error("Failed to roll back dispatch flag", "error", rbErr)
		}
		out.Decision = DispatchRefused
		out.Err = err
		c.logger.Warn("Restore dispatch refused", "trigger", string(trigger), "error", err)
		return out
	}

	out.Decision = Dispatched
	out.RunID = runID
	c.logger.Info("Restore dispatched", "trigger", string(trigger), "run_id", runID, "uids", len(uids))
	c.hub.Publish(events.Event{
		Type:   events.EventDispatched,
		Source: "recovery",
		Data:   events.DispatchData{RunID: runID, Trigger: string(trigger), UIDs: len(uids)},
	})
	return out
}

// deferTrigger drops the trigger; a later trigger in the same session will retry.
func (c *Coordinator) deferTrigger(out Outcome, step string, err error) Outcome {
	out.Decision = Deferred
	out.Err = err
	if errors.Is(err, state.ErrStoreUnavailable) {
		c.logger.Debug("Store not ready, deferring", "trigger", string(out.Trigger), "step", step)
	} else {
		c.logger.Warn("Deferring boot trigger", "trigger", string(out.Trigger), "step", step, "error", err)
	}
	return out
}

// Restore runs the bounded retry loop. Each attempt re-reads the persisted
// intent, so a port change made while waiting is picked up. Cancellation is
// honoured only while waiting; the loop is then abandoned without recording
// an outcome.
func (c *Coordinator) Restore(ctx context.Context, runID string) error {
	m := NewRestoreMachine(c.policy)

	for {
		attempt, delay, ok := m.Next()
		if !ok {
			break
		}
		c.hub.Publish(events.Event{
			Type:   events.EventRestoreAttempt,
			Source: "recovery",
			Data: events.AttemptData{
				RunID:       runID,
				Attempt:     attempt,
				MaxAttempts: m.MaxAttempts(),
				Delay:       delay,
			},
		})

		if err := c.clock.Sleep(ctx, delay); err != nil {
			c.logger.Info("Restore abandoned", "run_id", runID, "attempt", attempt)
			return err
		}
		if err := m.Begin(); err != nil {
			return err
		}

		err := c.attempt(ctx)
		c.metrics.RecordRestoreAttempt(err == nil)
		if err != nil {
			c.logger.Warn("Restore attempt failed", "run_id", runID, "attempt", attempt, "max_attempts", m.MaxAttempts(), "error", err)
			c.hub.Publish(events.Event{
				Type:   events.EventRestoreAttempt,
				Source: "recovery",
				Data: events.AttemptData{
					RunID:       runID,
					Attempt:     attempt,
					MaxAttempts: m.MaxAttempts(),
					Error:       err.Error(),
				},
			})
		}
		if err := m.Record(err); err != nil {
			return err
		}
	}

	success := m.State() == StateSucceeded
	now := c.clock.Now()
	if err := c.store.RecordRestore(now, success); err != nil {
		c.logger.Warn("Failed to record restore outcome", "run_id", runID, "error", err)
	}
	c.metrics.RecordRestore(now, success)

	data := events.RestoreData{RunID: runID, Success: success, Attempts: m.Attempt()}
	if success {
		c.logger.Info("Restore succeeded", "run_id", runID, "attempts", m.Attempt())
	} else {
		data.Error = m.Err().Error()
		c.logger.Error("Restore gave up", "run_id", runID, "attempts", m.Attempt(), "error", m.Err())
	}
	c.hub.Publish(events.Event{Type: events.EventRestoreFinished, Source: "recovery", Data: data})

	if !success {
		return m.Err()
	}
	return nil
}

func (c *Coordinator) attempt(ctx context.Context) error {
	uids, err := c.store.SelectedUIDs()
	if err != nil {
		return err
	}
	proxyPort, dnsPort, err := c.store.Ports()
	if err != nil {
		return err
	}
	res, err := c.applier.ApplyRules(ctx, uids, proxyPort, dnsPort)
	if err != nil {
		return err
	}
	return res.Err
}
