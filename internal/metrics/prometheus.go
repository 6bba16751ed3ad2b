package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Registry holds all redirector metrics.
type Registry struct {
	// Rule scripts
	ScriptExecutions   *prometheus.CounterVec
	ScriptDuration     *prometheus.HistogramVec
	ValidationFailures *prometheus.CounterVec

	// Live NAT table
	RedirectRules *prometheus.GaugeVec

	// Boot recovery
	BootTriggers       *prometheus.CounterVec
	RestoreAttempts    *prometheus.CounterVec
	RestoreLastRun     prometheus.Gauge
	RestoreLastSuccess prometheus.Gauge
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.ScriptExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appredirect_script_executions_total",
		Help: "Privileged rule scripts executed",
	}, []string{"operation", "result"})

	r.ScriptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "appredirect_script_duration_seconds",
		Help:    "Wall time of privileged rule scripts",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	r.ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appredirect_validation_failures_total",
		Help: "Requests rejected before reaching the privileged shell",
	}, []string{"field"})

	r.RedirectRules = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "appredirect_redirect_rules",
		Help: "REDIRECT rules currently present in nat OUTPUT",
	}, []string{"protocol"})

	r.BootTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appredirect_boot_triggers_total",
		Help: "Boot recovery triggers by outcome",
	}, []string{"trigger", "outcome"})

	r.RestoreAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appredirect_restore_attempts_total",
		Help: "Boot restore attempts",
	}, []string{"result"})

	r.RestoreLastRun = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "appredirect_restore_last_run_timestamp_seconds",
		Help: "Unix time of the last finished boot restore",
	})

	r.RestoreLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "appredirect_restore_last_success",
		Help: "1 if the last boot restore succeeded",
	})

	return r
}

// RecordExecution records one privileged script run.
func (r *Registry) RecordExecution(operation string, duration time.Duration, err error) {
	r.ScriptExecutions.WithLabelValues(operation, resultString(err == nil)).Inc()
	r.ScriptDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordValidationFailure records a rejected request.
func (r *Registry) RecordValidationFailure(field string) {
	r.ValidationFailures.WithLabelValues(field).Inc()
}

// RecordTrigger records how a boot trigger was handled.
func (r *Registry) RecordTrigger(trigger, outcome string) {
	r.BootTriggers.WithLabelValues(trigger, outcome).Inc()
}

// RecordRestoreAttempt records a single restore attempt.
func (r *Registry) RecordRestoreAttempt(ok bool) {
	r.RestoreAttempts.WithLabelValues(resultString(ok)).Inc()
}

// RecordRestore records the final outcome of a boot restore.
func (r *Registry) RecordRestore(at time.Time, success bool) {
	r.RestoreLastRun.Set(float64(at.Unix()))
	if success {
		r.RestoreLastSuccess.Set(1)
	} else {
		r.RestoreLastSuccess.Set(0)
	}
}

// SetRuleCounts publishes the live rule counts.
func (r *Registry) SetRuleCounts(tcp, udp int) {
	r.RedirectRules.WithLabelValues("tcp").Set(float64(tcp))
	r.RedirectRules.WithLabelValues("udp").Set(float64(udp))
}

// Handler serves the default Prometheus gatherer.
func Handler() http.Handler {
	Get()
	return promhttp.Handler()
}

func resultString(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}
