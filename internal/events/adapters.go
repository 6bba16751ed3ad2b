package events

import (
	"grimm.is/appredirect/internal/logging"
)

// Journal logs every event it receives. The daemon runs one so that
// recovery progress is visible without a UI.
type Journal struct {
	hub    *Hub
	logger *logging.Logger
	ch     <-chan Event
	done   chan struct{}
}

// NewJournal subscribes to all events on hub.
func NewJournal(hub *Hub, logger *logging.Logger) *Journal {
	return &Journal{
		hub:    hub,
		logger: logger.WithComponent("events"),
		ch:     hub.Subscribe(256),
		done:   make(chan struct{}),
	}
}

// Run logs events until Stop is called.
func (j *Journal) Run() {
	for {
		select {
		case e := <-j.ch:
			j.log(e)
		case <-j.done:
			return
		}
	}
}

// Stop unsubscribes and ends Run.
func (j *Journal) Stop() {
	j.hub.Unsubscribe(j.ch)
	close(j.done)
}

func (j *Journal) log(e Event) {
	switch d := e.Data.(type) {
	case TriggerData:
		j.logger.Info("Boot trigger", "trigger", d.Trigger, "outcome", d.Outcome)
	case SessionResetData:
		j.logger.Info("New boot session", "epoch", d.Epoch, "previous_epoch", d.PreviousEpoch)
	case DispatchData:
		j.logger.Info("Restore dispatched", "run_id", d.RunID, "trigger", d.Trigger, "uids", d.UIDs)
	case AttemptData:
		if d.Error != "" {
			j.logger.Warn("Restore attempt failed", "run_id", d.RunID, "attempt", d.Attempt, "max_attempts", d.MaxAttempts, "error", d.Error)
		} else {
			j.logger.Debug("Restore attempt", "run_id", d.RunID, "attempt", d.Attempt, "max_attempts", d.MaxAttempts, "delay", d.Delay)
		}
	case RestoreData:
		if d.Success {
			j.logger.Info("Restore finished", "run_id", d.RunID, "attempts", d.Attempts)
		} else {
			j.logger.Error("Restore gave up", "run_id", d.RunID, "attempts", d.Attempts, "error", d.Error)
		}
	case RulesChangedData:
		j.logger.Info("Rules changed", "op", d.Operation, "uids", d.UIDs, "success", d.Success)
	default:
		j.logger.Debug("Event", "type", string(e.Type), "source", e.Source)
	}
}
