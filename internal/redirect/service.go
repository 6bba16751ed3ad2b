package redirect

import (
	"context"
	"errors"

	"grimm.is/appredirect/internal/clock"
	"grimm.is/appredirect/internal/logging"
	"grimm.is/appredirect/internal/metrics"
)

// Config wires a Service.
type Config struct {
	Shell     string
	ShellArgs []string
	Iptables  string
	Matcher   ListingMatcher
	Identity  IdentityVerifier
	Runner    ScriptRunner
	Clock     clock.Clock
	Logger    *logging.Logger
}

// Service is the caller-facing API: validate, compile, execute.
type Service struct {
	compiler *Compiler
	executor *Executor
	identity IdentityVerifier
	logger   *logging.Logger
	metrics  *metrics.Registry
}

// NewService creates a Service. A nil Identity accepts every caller.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("redirect")

	identity := cfg.Identity
	if identity == nil {
		identity = AnyIdentity
	}

	return &Service{
		compiler: NewCompiler(cfg.Iptables, cfg.Matcher),
		executor: NewExecutor(ExecutorConfig{
			Shell:  cfg.Shell,
			Args:   cfg.ShellArgs,
			Runner: cfg.Runner,
			Clock:  cfg.Clock,
			Logger: logger,
		}),
		identity: identity,
		logger:   logger,
		metrics:  metrics.Get(),
	}
}

// Compiler exposes the compiler for dry runs.
func (s *Service) Compiler() *Compiler {
	return s.compiler
}

// ApplyRules redirects every UID to the given ports. The error is only ever
// a *ValidationError; execution failures are in the result.
func (s *Service) ApplyRules(ctx context.Context, uids []string, proxyPort, dnsPort int) (ExecutionResult, error) {
	intent, err := s.validate(uids, proxyPort, dnsPort)
	if err != nil {
		return ExecutionResult{Op: OpApply}, err
	}
	script := s.compiler.CompileApply(intent.UIDs, intent.Ports.ProxyPort, intent.Ports.DNSPort)
	return s.run(ctx, script, map[string]any{
		"uids":       intent.UIDs.String(),
		"proxy_port": proxyPort,
		"dns_port":   dnsPort,
	}), nil
}

// ClearRules removes the UIDs' rules that target exactly this port pair.
func (s *Service) ClearRules(ctx context.Context, uids []string, proxyPort, dnsPort int) (ExecutionResult, error) {
	intent, err := s.validate(uids, proxyPort, dnsPort)
	if err != nil {
		return ExecutionResult{Op: OpClear}, err
	}
	script := s.compiler.CompileClear(intent.UIDs, intent.Ports.ProxyPort, intent.Ports.DNSPort)
	return s.run(ctx, script, map[string]any{
		"uids":       intent.UIDs.String(),
		"proxy_port": proxyPort,
		"dns_port":   dnsPort,
	}), nil
}

// ClearAllRulesForUIDs removes the UIDs' redirect rules on any port.
func (s *Service) ClearAllRulesForUIDs(ctx context.Context, uids []string) (ExecutionResult, error) {
	if err := s.identity.VerifyIdentity(); err != nil {
		s.rejected(err)
		return ExecutionResult{Op: OpUniversalClear}, err
	}
	set, err := ParseUIDs(uids)
	if err != nil {
		s.rejected(err)
		return ExecutionResult{Op: OpUniversalClear}, err
	}
	return s.run(ctx, s.compiler.CompileUniversalClear(set), map[string]any{
		"uids": set.String(),
	}), nil
}

// ListRules lists nat OUTPUT and parses the redirect rules out of it.
func (s *Service) ListRules(ctx context.Context) ([]Rule, ExecutionResult) {
	res := s.executor.Execute(ctx, s.compiler.CompileList())
	s.metrics.RecordExecution(string(OpList), res.Duration, res.Err)
	if res.Err != nil {
		return nil, res
	}
	return s.compiler.Matcher().Parse(res.Stdout), res
}

// CountRules is a metrics.RuleCounter over ListRules.
func (s *Service) CountRules(ctx context.Context) (tcp, udp int, err error) {
	rules, res := s.ListRules(ctx)
	if res.Err != nil {
		return 0, 0, res.Err
	}
	tcp, udp = CountRules(rules)
	return tcp, udp, nil
}

func (s *Service) validate(uids []string, proxyPort, dnsPort int) (Intent, error) {
	intent, err := ValidateIntent(s.identity, uids, proxyPort, dnsPort)
	if err != nil {
		s.rejected(err)
	}
	return intent, err
}

func (s *Service) rejected(err error) {
	var ve *ValidationError
	field := "unknown"
	if errors.As(err, &ve) {
		field = ve.Field
	}
	s.metrics.RecordValidationFailure(field)
	s.logger.Warn("Rejected redirect request", "error", err)
}

func (s *Service) run(ctx context.Context, script Script, details map[string]any) ExecutionResult {
	res := s.executor.Execute(ctx, script)
	s.metrics.RecordExecution(string(script.Op), res.Duration, res.Err)

	details["exit_code"] = res.ExitCode
	details["success"] = res.OK()
	if res.Err != nil {
		details["error"] = res.Err.Error()
	}
	s.logger.Audit(string(script.Op), "nat/OUTPUT", details)
	return res
}
