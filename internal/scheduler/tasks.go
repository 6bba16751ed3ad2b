package scheduler

import (
	"context"
	"time"
)

// NewRuleSampleTask counts live redirect rules for metrics every interval.
func NewRuleSampleTask(sample func(context.Context) error, interval time.Duration) *Task {
	return &Task{
		ID:         "rule-sample",
		Interval:   interval,
		RunOnStart: true,
		Timeout:    10 * time.Second,
		Func:       sample,
	}
}
