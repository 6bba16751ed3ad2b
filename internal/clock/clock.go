// Package clock is the time source for retry delays and boot detection.
// Tests inject MockClock so retry loops run without real waiting.
//
// Boot epoch:
//
//	The boot epoch is wall time minus time since boot. It identifies one
//	boot of the device and stays stable (within scheduling jitter) for
//	every reading taken during that boot.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock is injected wherever code waits or timestamps.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock reads the system clock.
type RealClock struct{}

func (c *RealClock) Now() time.Time {
	return time.Now()
}

func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// Sleep waits without holding the goroutine busy.
func (c *RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MockClock only moves when told to. Sleep advances it by the requested
// duration, records the duration, and returns at once.
type MockClock struct {
	mu      sync.RWMutex
	current time.Time
	sleeps  []time.Duration
}

// NewMockClock creates a mock clock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{current: t}
}

// Now returns the mock time.
func (c *MockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Sleep advances the clock by d unless ctx is already done.
func (c *MockClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.current = c.current.Add(d)
	return nil
}

// Sleeps returns every duration passed to Sleep, in call order.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// Set sets the mock time.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// Advance advances the mock time by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Now returns the current system time.
func Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func Since(t time.Time) time.Duration {
	return time.Since(t)
}

// UptimeFunc reports the time elapsed since the device booted.
type UptimeFunc func() (time.Duration, error)

// BootEpoch returns the boot instant in unix milliseconds, derived from a
// wall-clock reading and the uptime observed at that reading.
func BootEpoch(at time.Time, uptime time.Duration) int64 {
	return at.UnixMilli() - uptime.Milliseconds()
}

// SameBoot reports whether two boot epochs are within tolerance of each
// other and therefore describe the same boot.
func SameBoot(a, b int64, tolerance time.Duration) bool {
	delta := a - b
	if delta < 0 {
		delta = -delta
	}
	return delta <= tolerance.Milliseconds()
}

// FixedUptime returns an UptimeFunc reporting d. Used by tests and dry runs.
func FixedUptime(d time.Duration) UptimeFunc {
	return func() (time.Duration, error) { return d, nil }
}
