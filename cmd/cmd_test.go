package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/appredirect/internal/clock"
	"grimm.is/appredirect/internal/config"
	"grimm.is/appredirect/internal/i18n"
	"grimm.is/appredirect/internal/logging"
	"grimm.is/appredirect/internal/recovery"
	"grimm.is/appredirect/internal/redirect"
	"grimm.is/appredirect/internal/redirect/redirecttest"
	"grimm.is/appredirect/internal/state"
)

type testEnv struct {
	rt  *Runtime
	nat *redirecttest.NATTable
	out *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithClock(t, clock.NewMockClock(time.Date(2025, 6, 15, 8, 1, 0, 0, time.UTC)))
}

func newTestEnvWithClock(t *testing.T, clk clock.Clock) *testEnv {
	t.Helper()

	store, err := state.NewSQLiteStore(state.DefaultOptions(":memory:"))
	require.NoError(t, err)

	env := &testEnv{nat: redirecttest.New(), out: &bytes.Buffer{}}
	cfg := config.Default()
	cfg.StateDir = t.TempDir()

	env.rt, err = NewRuntime(cfg, Options{
		Store:    store,
		Runner:   env.nat,
		Identity: redirect.AnyIdentity,
		Uptime:   clock.FixedUptime(time.Minute),
		Clock:    clk,
		Logger:   logging.Discard(),
		Out:      env.out,
	})
	require.NoError(t, err)
	t.Cleanup(func() { env.rt.Close() })
	return env
}

func TestRunApply(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, RunApply(ctx, env.rt, "10123,10200", 0, 0))
	assert.Contains(t, env.out.String(), Printer.Sprintf(i18n.MsgApplied, 2, 12345, 10853))
	assert.Equal(t, 2, env.nat.CountUID(10123))

	env.out.Reset()
	require.NoError(t, RunApply(ctx, env.rt, "10123", 23456, 0))
	assert.Contains(t, env.out.String(), Printer.Sprintf(i18n.MsgApplied, 1, 23456, 10853))
	assert.Equal(t, 1, env.nat.Count(10123, redirect.TCP, 23456))
	assert.Zero(t, env.nat.Count(10123, redirect.TCP, 12345))
	assert.Zero(t, env.nat.CountUID(10200), "deselected UID cleared")
}

func TestRunApply_ValidationError(t *testing.T) {
	env := newTestEnv(t)

	err := RunApply(context.Background(), env.rt, "", 0, 0)
	assert.True(t, redirect.IsValidation(err))
	assert.Empty(t, env.nat.Runs())
}

func TestRunApply_ScriptFailure(t *testing.T) {
	env := newTestEnv(t)
	env.nat.FailNext = 1

	err := RunApply(context.Background(), env.rt, "10123", 0, 0)
	assert.ErrorIs(t, err, ErrScriptFailed)
	assert.NotEmpty(t, env.out.String())
}

func TestRunClear(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, RunClear(ctx, env.rt, false))
	assert.Equal(t, Printer.Sprintf(i18n.MsgNoSelection), env.out.String())

	require.NoError(t, RunApply(ctx, env.rt, "10123", 0, 0))
	env.out.Reset()
	require.NoError(t, RunClear(ctx, env.rt, true))
	assert.Equal(t, Printer.Sprintf(i18n.MsgCleared, 1), env.out.String())
	assert.Empty(t, env.nat.Rules())
}

func TestRunClearAll(t *testing.T) {
	env := newTestEnv(t)
	env.nat.Seed(redirect.TCPRule(10500, 1111), redirect.DNSRule(10500, 2222))

	require.NoError(t, RunClearAll(context.Background(), env.rt, "10500"))
	assert.Empty(t, env.nat.Rules())
}

func TestRunSetPorts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, RunApply(ctx, env.rt, "10123", 0, 0))

	require.NoError(t, RunSetPorts(ctx, env.rt, 23456, 20053))
	assert.Equal(t, 1, env.nat.Count(10123, redirect.UDP, 20053))
	assert.Equal(t, 2, env.nat.CountUID(10123))

	assert.True(t, redirect.IsValidation(RunSetPorts(ctx, env.rt, 80, 20053)))
}

func TestRunAutostart(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, RunAutostart(env.rt, "on"))
	on, err := env.rt.Prefs.Autostart()
	require.NoError(t, err)
	assert.True(t, on)

	env.out.Reset()
	require.NoError(t, RunAutostart(env.rt, ""))
	assert.Equal(t, Printer.Sprintf(i18n.MsgAutostart, true), env.out.String())

	assert.Error(t, RunAutostart(env.rt, "maybe"))
}

func TestRunBoot(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.rt.Prefs.SetSelectedUIDs([]string{"10123"}))
	require.NoError(t, env.rt.Prefs.SetAutostart(true))

	out, err := RunBoot(context.Background(), env.rt, "boot_completed")
	require.NoError(t, err)
	assert.Equal(t, recovery.Dispatched, out.Decision)
	assert.Equal(t, 2, env.nat.CountUID(10123))

	out, err = RunBoot(context.Background(), env.rt, "user_present")
	require.NoError(t, err)
	assert.Equal(t, recovery.AlreadyStarted, out.Decision)
}

func TestRunBoot_RestoreGivesUp(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.rt.Prefs.SetSelectedUIDs([]string{"10123"}))
	require.NoError(t, env.rt.Prefs.SetAutostart(true))
	env.nat.FailNext = 10

	_, err := RunBoot(context.Background(), env.rt, "boot_completed")
	assert.ErrorIs(t, err, ErrScriptFailed)
	assert.Len(t, env.nat.Runs(), config.DefaultMaxAttempts)
}

// blockingClock parks every Sleep until its context is cancelled.
type blockingClock struct {
	*clock.MockClock
	sleeping chan struct{}
}

func (c *blockingClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeping <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func TestRunBoot_CancelAbandonsRestore(t *testing.T) {
	clk := &blockingClock{
		MockClock: clock.NewMockClock(time.Date(2025, 6, 15, 8, 1, 0, 0, time.UTC)),
		sleeping:  make(chan struct{}, 1),
	}
	env := newTestEnvWithClock(t, clk)
	require.NoError(t, env.rt.Prefs.SetSelectedUIDs([]string{"10123"}))
	require.NoError(t, env.rt.Prefs.SetAutostart(true))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := RunBoot(ctx, env.rt, "boot_completed")
		errCh <- err
	}()

	select {
	case <-clk.sleeping:
	case <-time.After(3 * time.Second):
		t.Fatal("restore never started waiting")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("RunBoot did not return after cancel")
	}
	assert.Empty(t, env.nat.Runs())
	_, _, ok, err := env.rt.Prefs.LastRestore()
	require.NoError(t, err)
	assert.False(t, ok, "abandoned restore records nothing")
}

func TestRunBoot_UnknownTrigger(t *testing.T) {
	env := newTestEnv(t)
	_, err := RunBoot(context.Background(), env.rt, "reboot")
	assert.Error(t, err)
}

func TestRunStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, RunApply(ctx, env.rt, "10123", 0, 0))
	env.out.Reset()

	require.NoError(t, RunStatus(ctx, env.rt))
	out := env.out.String()
	assert.Contains(t, out, "10123")
	assert.Contains(t, out, "NUM")
	assert.Contains(t, out, "udp")
	assert.Contains(t, out, "10853")
}

func TestRunScript(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, RunScript(ctx, env.rt, []string{"apply", "10123"}))
	assert.Contains(t, env.out.String(), "rc=0\n")
	assert.Contains(t, env.out.String(), "--uid-owner 10123")
	assert.Empty(t, env.nat.Runs(), "dry run executes nothing")

	env.out.Reset()
	require.NoError(t, RunScript(ctx, env.rt, []string{"clear-all", "10123,10200"}))
	assert.Contains(t, env.out.String(), "owner UID match 10200")

	assert.Error(t, RunScript(ctx, env.rt, []string{"clear"}), "no selection and no UIDs")
	assert.Error(t, RunScript(ctx, env.rt, []string{"bogus"}))
}

func TestRunScript_SetPortsDiff(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, RunApply(ctx, env.rt, "10123", 0, 0))
	env.out.Reset()

	require.NoError(t, RunScript(ctx, env.rt, []string{"set-ports", "23456", "20053"}))
	out := env.out.String()
	assert.Contains(t, out, "--- live")
	assert.Contains(t, out, "+1    REDIRECT   tcp")
	assert.Equal(t, 2, env.nat.Count(10123, redirect.TCP, 12345)+env.nat.Count(10123, redirect.UDP, 10853))
}

func TestRunConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appredirect.hcl")
	var out bytes.Buffer

	require.NoError(t, RunConfig(&out, path, []string{"init"}))
	assert.FileExists(t, path)
	assert.Error(t, RunConfig(&out, path, []string{"init"}), "refuses to overwrite")

	out.Reset()
	require.NoError(t, RunConfig(&out, path, []string{"check"}))
	assert.Contains(t, out.String(), Printer.Sprintf(i18n.MsgConfigValid, path))

	bad := filepath.Join(t.TempDir(), "bad.hcl")
	require.NoError(t, os.WriteFile(bad, []byte("recovery {\n  max_attempts = 0\n"), 0644))
	assert.Error(t, RunConfig(&out, path, []string{"check", bad}))

	assert.Error(t, RunConfig(&out, path, nil))
}

func TestRunConfig_CheckSanitizesDisplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appredirect.hcl")
	hcl := `privilege {
  shell    = "su"
  args     = ["-c", "sh; echo $(id)"]
  identity = "appredirect"
}
`
	require.NoError(t, os.WriteFile(path, []byte(hcl), 0644))

	var out bytes.Buffer
	require.NoError(t, RunConfig(&out, path, []string{"check"}))
	assert.Contains(t, out.String(), "shell:        su [-c shechoid]")
	assert.Contains(t, out.String(), "identity:     appredirect")
	assert.NotContains(t, out.String(), "$(id)")
}

func TestRunDaemon_Signals(t *testing.T) {
	env := newTestEnv(t)
	sigCh := make(chan os.Signal, 2)
	sigCh <- syscall.SIGUSR1
	sigCh <- syscall.SIGTERM

	require.NoError(t, runDaemon(context.Background(), env.rt, sigCh))
	assert.Contains(t, env.out.String(), Printer.Sprintf(i18n.MsgDaemonStopping))

	epoch, _, err := env.rt.Prefs.BootSession()
	require.NoError(t, err)
	assert.NotZero(t, epoch, "boot_completed handled on start")
}

func TestSignalTrigger(t *testing.T) {
	tr, ok := signalTrigger(syscall.SIGUSR1)
	assert.True(t, ok)
	assert.Equal(t, recovery.UserPresent, tr)

	tr, ok = signalTrigger(syscall.SIGUSR2)
	assert.True(t, ok)
	assert.Equal(t, recovery.UserUnlocked, tr)

	_, ok = signalTrigger(syscall.SIGTERM)
	assert.False(t, ok)
}
