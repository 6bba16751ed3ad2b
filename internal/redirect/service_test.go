package redirect_test

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/appredirect/internal/logging"
	"grimm.is/appredirect/internal/redirect"
	"grimm.is/appredirect/internal/redirect/redirecttest"
)

func newService(t *testing.T) (*redirect.Service, *redirecttest.NATTable) {
	t.Helper()
	nat := redirecttest.New()
	svc := redirect.NewService(redirect.Config{
		Runner: nat,
		Logger: logging.Discard(),
	})
	return svc, nat
}

func assertExactlyOnePair(t *testing.T, nat *redirecttest.NATTable, uid, proxy, dns int) {
	t.Helper()
	assert.Equal(t, 1, nat.Count(uid, redirect.TCP, proxy), "tcp rules for uid %d", uid)
	assert.Equal(t, 1, nat.Count(uid, redirect.UDP, dns), "udp rules for uid %d", uid)
	assert.Equal(t, 2, nat.CountUID(uid), "total rules for uid %d", uid)
}

func TestApplyRules_Idempotent(t *testing.T) {
	svc, nat := newService(t)
	ctx := context.Background()
	uids := []string{"10123", "10200", "10311"}

	for i := 0; i < 2; i++ {
		res, err := svc.ApplyRules(ctx, uids, 12345, 10853)
		require.NoError(t, err)
		require.NoError(t, res.Err)
	}

	assert.Len(t, nat.Rules(), 6)
	for _, uid := range []int{10123, 10200, 10311} {
		assertExactlyOnePair(t, nat, uid, 12345, 10853)
	}
}

func TestApplyRules_CollapsesDuplicates(t *testing.T) {
	svc, nat := newService(t)
	nat.Seed(
		redirect.TCPRule(10123, 12345),
		redirect.TCPRule(10123, 12345),
		redirect.DNSRule(10123, 10853),
		redirect.DNSRule(10123, 10853),
		redirect.DNSRule(10123, 10853),
	)

	res, err := svc.ApplyRules(context.Background(), []string{"10123"}, 12345, 10853)
	require.NoError(t, err)
	require.NoError(t, res.Err)

	assertExactlyOnePair(t, nat, 10123, 12345, 10853)
}

func TestApplyRules_ListingInOutput(t *testing.T) {
	svc, _ := newService(t)

	res, err := svc.ApplyRules(context.Background(), []string{"10123"}, 12345, 10853)
	require.NoError(t, err)

	rules := redirect.ParseRules(res.Stdout)
	require.Len(t, rules, 2)
	assert.Equal(t, redirect.Rule{Protocol: redirect.TCP, UID: 10123, ToPort: 12345, Line: 1}, rules[0])
}

func TestClearRules_Complete(t *testing.T) {
	svc, nat := newService(t)
	ctx := context.Background()
	uids := []string{"10123", "10200"}

	_, err := svc.ApplyRules(ctx, uids, 12345, 10853)
	require.NoError(t, err)
	nat.Seed(redirect.TCPRule(10123, 12345))

	res, err := svc.ClearRules(ctx, uids, 12345, 10853)
	require.NoError(t, err)
	require.NoError(t, res.Err)

	assert.Empty(t, nat.Rules())
}

func TestClearRules_EmptyTableNoop(t *testing.T) {
	svc, nat := newService(t)

	res, err := svc.ClearRules(context.Background(), []string{"10123"}, 12345, 10853)
	require.NoError(t, err)
	assert.NoError(t, res.Err)
	assert.Empty(t, nat.Rules())
}

func TestClearRules_LeavesOtherPorts(t *testing.T) {
	svc, nat := newService(t)
	nat.Seed(redirect.TCPRule(10123, 8080), redirect.TCPRule(10123, 12345))

	_, err := svc.ClearRules(context.Background(), []string{"10123"}, 12345, 10853)
	require.NoError(t, err)

	assert.Equal(t, 1, nat.Count(10123, redirect.TCP, 8080))
	assert.Equal(t, 0, nat.Count(10123, redirect.TCP, 12345))
}

func TestPortMigration(t *testing.T) {
	svc, nat := newService(t)
	ctx := context.Background()
	uids := []string{"10123", "10200"}

	_, err := svc.ApplyRules(ctx, uids, 12345, 10853)
	require.NoError(t, err)

	res, err := svc.ClearAllRulesForUIDs(ctx, uids)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Empty(t, nat.Rules())

	_, err = svc.ApplyRules(ctx, uids, 23456, 20853)
	require.NoError(t, err)

	for _, uid := range []int{10123, 10200} {
		assertExactlyOnePair(t, nat, uid, 23456, 20853)
		assert.Zero(t, nat.Count(uid, redirect.TCP, 12345))
		assert.Zero(t, nat.Count(uid, redirect.UDP, 10853))
	}
}

func TestUniversalClear_OnlyTargetUIDs(t *testing.T) {
	svc, nat := newService(t)
	nat.Seed(
		redirect.TCPRule(10123, 1111),
		redirect.TCPRule(101230, 1111),
		redirect.DNSRule(10123, 2222),
		redirect.TCPRule(10123, 3333),
		redirect.DNSRule(10500, 2222),
	)

	res, err := svc.ClearAllRulesForUIDs(context.Background(), []string{"10123"})
	require.NoError(t, err)
	require.NoError(t, res.Err)

	assert.Zero(t, nat.CountUID(10123))
	assert.Equal(t, 1, nat.CountUID(101230))
	assert.Equal(t, 1, nat.CountUID(10500))
}

func TestClearRules_QueryFailureReported(t *testing.T) {
	svc, nat := newService(t)
	nat.Seed(redirect.TCPRule(10123, 12345), redirect.DNSRule(10123, 10853))
	nat.QueryFails = true

	res, err := svc.ClearRules(context.Background(), []string{"10123"}, 12345, 10853)
	require.NoError(t, err)

	assert.ErrorIs(t, res.Err, redirect.ErrScriptExecution)
	assert.Contains(t, res.Stderr, "xtables lock")
	assert.Equal(t, 2, nat.CountUID(10123))
}

func TestUniversalClear_QueryFailureReported(t *testing.T) {
	svc, nat := newService(t)
	nat.Seed(redirect.TCPRule(10123, 1111), redirect.DNSRule(10123, 2222))
	nat.QueryFails = true

	res, err := svc.ClearAllRulesForUIDs(context.Background(), []string{"10123"})
	require.NoError(t, err)

	assert.ErrorIs(t, res.Err, redirect.ErrScriptExecution)
	assert.Equal(t, 2, nat.CountUID(10123))
}

func TestClearScripts_MissingIptablesFails(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	svc := redirect.NewService(redirect.Config{
		Shell:    "sh",
		Iptables: "/nonexistent/iptables",
		Logger:   logging.Discard(),
	})
	ctx := context.Background()

	res, err := svc.ClearRules(ctx, []string{"10123"}, 12345, 10853)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, redirect.ErrScriptExecution)
	assert.Equal(t, 1, res.ExitCode)

	res, err = svc.ClearAllRulesForUIDs(ctx, []string{"10123"})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, redirect.ErrScriptExecution)
	assert.Equal(t, 1, res.ExitCode)
}

func TestApplyRules_PartialFailure(t *testing.T) {
	svc, nat := newService(t)
	nat.FailAddUIDs[10200] = true

	res, err := svc.ApplyRules(context.Background(), []string{"10123", "10200", "10311"}, 12345, 10853)
	require.NoError(t, err)

	assert.ErrorIs(t, res.Err, redirect.ErrScriptExecution)
	assert.Equal(t, 1, res.ExitCode)
	assertExactlyOnePair(t, nat, 10123, 12345, 10853)
	assertExactlyOnePair(t, nat, 10311, 12345, 10853)
	assert.Zero(t, nat.CountUID(10200))
}

func TestApplyRules_ValidationNeverReachesShell(t *testing.T) {
	svc, nat := newService(t)
	ctx := context.Background()

	_, err := svc.ApplyRules(ctx, nil, 12345, 10853)
	assert.ErrorIs(t, err, redirect.ErrEmptyUIDs)

	_, err = svc.ApplyRules(ctx, []string{"1000"}, 80, 10853)
	assert.ErrorIs(t, err, redirect.ErrPortReserved)

	_, err = svc.ClearRules(ctx, []string{"1000"}, 12345, 70000)
	assert.ErrorIs(t, err, redirect.ErrPortOutOfRange)

	_, err = svc.ClearAllRulesForUIDs(ctx, []string{"abc"})
	assert.ErrorIs(t, err, redirect.ErrMalformedUID)

	assert.Empty(t, nat.Runs())
}

func TestApplyRules_SanitizedInjection(t *testing.T) {
	svc, nat := newService(t)

	_, err := svc.ApplyRules(context.Background(), []string{"1000; rm -rf"}, 12345, 10853)
	require.NoError(t, err)

	runs := nat.Runs()
	require.Len(t, runs, 1)
	assert.NotContains(t, runs[0].Input, "rm")
	assertExactlyOnePair(t, nat, 1000, 12345, 10853)
}

func TestApplyRules_IdentityMismatch(t *testing.T) {
	nat := redirecttest.New()
	svc := redirect.NewService(redirect.Config{
		Runner:   nat,
		Logger:   logging.Discard(),
		Identity: redirect.NewProcessIdentity("definitely-not-this-binary"),
	})

	_, err := svc.ApplyRules(context.Background(), []string{"10123"}, 12345, 10853)
	assert.ErrorIs(t, err, redirect.ErrIdentityMismatch)
	assert.Empty(t, nat.Runs())
}

func TestApplyRules_PrivilegeUnavailable(t *testing.T) {
	svc, nat := newService(t)
	nat.Unavailable = true

	res, err := svc.ApplyRules(context.Background(), []string{"10123"}, 12345, 10853)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, redirect.ErrPrivilegeUnavailable)
}

func TestListRules(t *testing.T) {
	svc, nat := newService(t)
	nat.Seed(redirect.TCPRule(10123, 12345), redirect.DNSRule(10123, 10853), redirect.TCPRule(10200, 12345))

	rules, res := svc.ListRules(context.Background())
	require.NoError(t, res.Err)
	require.Len(t, rules, 3)
	assert.Equal(t, 3, rules[2].Line)

	tcp, udp, err := svc.CountRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, tcp)
	assert.Equal(t, 1, udp)
}
