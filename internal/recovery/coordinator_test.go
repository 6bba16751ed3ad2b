package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/appredirect/internal/clock"
	"grimm.is/appredirect/internal/events"
	"grimm.is/appredirect/internal/logging"
	"grimm.is/appredirect/internal/redirect"
	"grimm.is/appredirect/internal/redirect/redirecttest"
	"grimm.is/appredirect/internal/scheduler"
	"grimm.is/appredirect/internal/state"
)

var bootTime = time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)

// queueDispatcher holds submitted jobs until the test runs them.
type queueDispatcher struct {
	mu     sync.Mutex
	jobs   []scheduler.TaskFunc
	refuse bool
}

func (d *queueDispatcher) Submit(name string, fn scheduler.TaskFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refuse {
		return fmt.Errorf("submit %s: %w", name, scheduler.ErrNotRunning)
	}
	d.jobs = append(d.jobs, fn)
	return nil
}

func (d *queueDispatcher) runAll(ctx context.Context) []error {
	d.mu.Lock()
	jobs := d.jobs
	d.jobs = nil
	d.mu.Unlock()

	var errs []error
	for _, job := range jobs {
		errs = append(errs, job(ctx))
	}
	return errs
}

type harness struct {
	coord    *Coordinator
	prefs    *state.Preferences
	nat      *redirecttest.NATTable
	dispatch *queueDispatcher
	clock    *clock.MockClock
	hub      *events.Hub
}

func newHarness(t *testing.T, uptime time.Duration) *harness {
	t.Helper()

	store, err := state.NewSQLiteStore(state.DefaultOptions(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{
		prefs:    state.NewPreferences(store),
		nat:      redirecttest.New(),
		dispatch: &queueDispatcher{},
		clock:    clock.NewMockClock(bootTime.Add(uptime)),
		hub:      events.NewHub(),
	}
	svc := redirect.NewService(redirect.Config{Runner: h.nat, Logger: logging.Discard()})
	h.coord = New(Config{
		Store:      h.prefs,
		Applier:    svc,
		Dispatcher: h.dispatch,
		Uptime:     func() (time.Duration, error) { return h.clock.Since(bootTime), nil },
		Clock:      h.clock,
		Hub:        h.hub,
		Logger:     logging.Discard(),
	})
	return h
}

func (h *harness) persistIntent(t *testing.T, uids ...string) {
	t.Helper()
	require.NoError(t, h.prefs.SetSelectedUIDs(uids))
	require.NoError(t, h.prefs.SetAutostart(true))
}

func (h *harness) started(t *testing.T) bool {
	t.Helper()
	_, started, err := h.prefs.BootSession()
	require.NoError(t, err)
	return started
}

func TestRunBootRecovery_DispatchesOncePerBoot(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.persistIntent(t, "10123", "10200")
	ctx := context.Background()

	first := h.coord.RunBootRecovery(ctx, BootCompleted, h.clock.Now())
	assert.Equal(t, Dispatched, first.Decision)
	assert.True(t, first.NewSession)
	assert.NotEmpty(t, first.RunID)
	assert.True(t, h.started(t))

	// Epoch drift within tolerance is the same boot.
	h.clock.Advance(5 * time.Second)
	second := h.coord.RunBootRecovery(ctx, UserPresent, h.clock.Now().Add(20*time.Second))
	assert.Equal(t, AlreadyStarted, second.Decision)
	assert.False(t, second.NewSession)

	third := h.coord.RunBootRecovery(ctx, BootCompleted, h.clock.Now())
	assert.Equal(t, AlreadyStarted, third.Decision)

	errs := h.dispatch.runAll(ctx)
	require.Len(t, errs, 1)
	assert.NoError(t, errs[0])
	assert.Equal(t, 1, h.nat.Count(10123, redirect.TCP, state.DefaultProxyPort))
	assert.Equal(t, 1, h.nat.Count(10200, redirect.UDP, state.DefaultDNSPort))
}

func TestRunBootRecovery_NewSessionResetsFlag(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.persistIntent(t, "10123")

	// Left over from a boot an hour earlier.
	oldEpoch := bootTime.Add(-time.Hour).UnixMilli()
	require.NoError(t, h.prefs.SetBootEpoch(oldEpoch))
	require.NoError(t, h.prefs.SetServiceStarted(true))

	sub := h.hub.Subscribe(10, events.EventSessionReset)
	out := h.coord.RunBootRecovery(context.Background(), UserUnlocked, h.clock.Now())

	assert.True(t, out.NewSession)
	assert.Equal(t, Dispatched, out.Decision)
	assert.Equal(t, bootTime.UnixMilli(), out.Epoch)

	epoch, started, err := h.prefs.BootSession()
	require.NoError(t, err)
	assert.Equal(t, bootTime.UnixMilli(), epoch)
	assert.True(t, started)

	require.Len(t, sub, 1)
	reset := (<-sub).Data.(events.SessionResetData)
	assert.Equal(t, oldEpoch, reset.PreviousEpoch)
}

func TestRunBootRecovery_NewSessionWithoutDispatch(t *testing.T) {
	h := newHarness(t, time.Minute)
	require.NoError(t, h.prefs.SetBootEpoch(1))
	require.NoError(t, h.prefs.SetServiceStarted(true))

	out := h.coord.RunBootRecovery(context.Background(), BootCompleted, h.clock.Now())
	assert.Equal(t, AutostartOff, out.Decision)
	assert.False(t, h.started(t), "flag reset even when nothing is dispatched")
}

func TestRunBootRecovery_Preconditions(t *testing.T) {
	t.Run("autostart off", func(t *testing.T) {
		h := newHarness(t, time.Minute)
		require.NoError(t, h.prefs.SetSelectedUIDs([]string{"10123"}))

		out := h.coord.RunBootRecovery(context.Background(), BootCompleted, h.clock.Now())
		assert.Equal(t, AutostartOff, out.Decision)
		assert.False(t, h.started(t))
		assert.Empty(t, h.dispatch.jobs)
	})

	t.Run("empty selection", func(t *testing.T) {
		h := newHarness(t, time.Minute)
		require.NoError(t, h.prefs.SetAutostart(true))

		out := h.coord.RunBootRecovery(context.Background(), BootCompleted, h.clock.Now())
		assert.Equal(t, NoSelection, out.Decision)
		assert.False(t, h.started(t))
	})
}

type unavailableStore struct{ Store }

func (unavailableStore) BootSession() (int64, bool, error) {
	return 0, false, fmt.Errorf("read current_boot_session: %w", state.ErrStoreUnavailable)
}

func TestRunBootRecovery_StoreUnavailableDefers(t *testing.T) {
	d := &queueDispatcher{}
	c := New(Config{
		Store:      unavailableStore{},
		Dispatcher: d,
		Uptime:     clock.FixedUptime(time.Minute),
		Clock:      clock.NewMockClock(bootTime),
		Logger:     logging.Discard(),
	})

	out := c.RunBootRecovery(context.Background(), BootCompleted, bootTime.Add(time.Minute))
	assert.Equal(t, Deferred, out.Decision)
	assert.ErrorIs(t, out.Err, state.ErrStoreUnavailable)
	assert.Empty(t, d.jobs)
}

func TestRunBootRecovery_UptimeFailureDefers(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.coord.uptime = func() (time.Duration, error) { return 0, errors.New("sysinfo: operation not permitted") }

	out := h.coord.RunBootRecovery(context.Background(), BootCompleted, h.clock.Now())
	assert.Equal(t, Deferred, out.Decision)
}

func TestRunBootRecovery_DispatchRefusedRollsBack(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.persistIntent(t, "10123")
	h.dispatch.refuse = true

	out := h.coord.RunBootRecovery(context.Background(), BootCompleted, h.clock.Now())
	assert.Equal(t, DispatchRefused, out.Decision)
	assert.ErrorIs(t, out.Err, scheduler.ErrNotRunning)
	assert.False(t, h.started(t))

	h.dispatch.refuse = false
	out = h.coord.RunBootRecovery(context.Background(), UserPresent, h.clock.Now())
	assert.Equal(t, Dispatched, out.Decision)
	assert.True(t, h.started(t))
}

func TestRestore_RetryExhaustion(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.persistIntent(t, "10123")
	h.nat.FailNext = 100

	finished := h.hub.Subscribe(10, events.EventRestoreFinished)
	out := h.coord.RunBootRecovery(context.Background(), BootCompleted, h.clock.Now())
	require.Equal(t, Dispatched, out.Decision)

	errs := h.dispatch.runAll(context.Background())
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], redirect.ErrScriptExecution)

	assert.Len(t, h.nat.Runs(), DefaultPolicy().MaxAttempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}, h.clock.Sleeps())

	_, success, ok, err := h.prefs.LastRestore()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, success)
	assert.True(t, h.started(t), "no automatic retry until the next boot")

	again := h.coord.RunBootRecovery(context.Background(), UserPresent, h.clock.Now())
	assert.Equal(t, AlreadyStarted, again.Decision)

	require.Len(t, finished, 1)
	data := (<-finished).Data.(events.RestoreData)
	assert.False(t, data.Success)
	assert.Equal(t, 3, data.Attempts)
}

func TestRestore_SucceedsAfterFailure(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.persistIntent(t, "10123")
	h.nat.FailNext = 1

	h.coord.RunBootRecovery(context.Background(), BootCompleted, h.clock.Now())
	errs := h.dispatch.runAll(context.Background())
	require.Len(t, errs, 1)
	assert.NoError(t, errs[0])

	assert.Len(t, h.nat.Runs(), 2)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, h.clock.Sleeps())

	at, success, ok, err := h.prefs.LastRestore()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, success)
	assert.Equal(t, h.clock.Now().UnixMilli(), at.UnixMilli())
	assert.Equal(t, 2, h.nat.CountUID(10123))
}

func TestRestore_ValidationErrorStopsImmediately(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.persistIntent(t, "10123")
	require.NoError(t, h.prefs.SetProxyPort(80))

	h.coord.RunBootRecovery(context.Background(), BootCompleted, h.clock.Now())
	errs := h.dispatch.runAll(context.Background())

	assert.ErrorIs(t, errs[0], redirect.ErrPortReserved)
	assert.Empty(t, h.nat.Runs())
	assert.Len(t, h.clock.Sleeps(), 1)
}

func TestRestore_CancelledWhileWaiting(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.persistIntent(t, "10123")

	h.coord.RunBootRecovery(context.Background(), BootCompleted, h.clock.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	errs := h.dispatch.runAll(ctx)

	assert.ErrorIs(t, errs[0], context.Canceled)
	assert.Empty(t, h.nat.Runs())
	_, _, ok, err := h.prefs.LastRestore()
	require.NoError(t, err)
	assert.False(t, ok, "abandoned loop records nothing")
}

// portSwitcher fails the first apply after moving the persisted ports.
type portSwitcher struct {
	next  Applier
	prefs *state.Preferences
	calls int
}

func (p *portSwitcher) ApplyRules(ctx context.Context, uids []string, proxyPort, dnsPort int) (redirect.ExecutionResult, error) {
	p.calls++
	if p.calls == 1 {
		_ = p.prefs.SetProxyPort(23456)
		return redirect.ExecutionResult{ExitCode: 1, Err: errors.New("su: not ready")}, nil
	}
	return p.next.ApplyRules(ctx, uids, proxyPort, dnsPort)
}

func TestRestore_PicksUpPortChange(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.persistIntent(t, "10123")
	h.coord.applier = &portSwitcher{
		next:  redirect.NewService(redirect.Config{Runner: h.nat, Logger: logging.Discard()}),
		prefs: h.prefs,
	}

	h.coord.RunBootRecovery(context.Background(), BootCompleted, h.clock.Now())
	errs := h.dispatch.runAll(context.Background())
	require.NoError(t, errs[0])

	assert.Equal(t, 1, h.nat.Count(10123, redirect.TCP, 23456))
	assert.Zero(t, h.nat.Count(10123, redirect.TCP, state.DefaultProxyPort))
}

func TestRunBootRecovery_WithScheduler(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.persistIntent(t, "10123")

	sched := scheduler.New(logging.Discard())
	sched.Start()
	defer sched.Stop()
	h.coord.dispatcher = sched

	out := h.coord.RunBootRecovery(context.Background(), BootCompleted, h.clock.Now())
	require.Equal(t, Dispatched, out.Decision)
	sched.Wait()

	_, success, ok, err := h.prefs.LastRestore()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, success)
}
