// Package metrics defines the Prometheus collectors shared across the
// gateway, authn, and authz services, following the teacher's
// internal/metrics registry-plus-Handler() pattern (own prometheus.Registry
// instead of the global default, exposed through promhttp.HandlerFor).
// Unlike the teacher's Collector, which polls external services on a
// ticker, these metrics are event-driven: call sites increment/observe
// them directly as requests happen, since there's no external stats
// endpoint to scrape here.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every IAM-domain collector behind one prometheus
// registry per service process.
type Registry struct {
	registry *prometheus.Registry

	LoginAttempts      *prometheus.CounterVec // labels: result (success|invalid_password|locked|inactive|not_found)
	AccountLockouts     prometheus.Counter
	TokensIssued        *prometheus.CounterVec // labels: type (access|refresh)
	TokensRevoked       prometheus.Counter
	SessionsActive       prometheus.Gauge

	AuthorizeDecisions  *prometheus.CounterVec // labels: effect (permit|deny|indeterminate)
	AuthorizeLatency    prometheus.Histogram
	DecisionCacheHits    prometheus.Counter
	DecisionCacheMisses prometheus.Counter
	BulkItemsEvaluated  prometheus.Counter

	ProxyLatency        *prometheus.HistogramVec // labels: upstream
	ProxyUpstreamErrors *prometheus.CounterVec   // labels: upstream
	RateLimitRejections prometheus.Counter
	FailOpenDecisions   prometheus.Counter

	AuditSpoolDrops prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{registry: reg}

	m.LoginAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "iam_login_attempts_total",
		Help: "Authentication attempts by result.",
	}, []string{"result"})
	reg.MustRegister(m.LoginAttempts)

	m.AccountLockouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iam_account_lockouts_total",
		Help: "Accounts transitioned to locked after exceeding the failed-attempt threshold.",
	})
	reg.MustRegister(m.AccountLockouts)

	m.TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "iam_tokens_issued_total",
		Help: "Tokens issued by type.",
	}, []string{"type"})
	reg.MustRegister(m.TokensIssued)

	m.TokensRevoked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iam_tokens_revoked_total",
		Help: "Tokens explicitly revoked (logout, password change, admin action).",
	})
	reg.MustRegister(m.TokensRevoked)

	m.SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "iam_sessions_active",
		Help: "Sessions currently tracked in the session registry.",
	})
	reg.MustRegister(m.SessionsActive)

	m.AuthorizeDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "iam_authorize_decisions_total",
		Help: "Authorization decisions by effect.",
	}, []string{"effect"})
	reg.MustRegister(m.AuthorizeDecisions)

	m.AuthorizeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "iam_authorize_evaluation_ms",
		Help:    "Policy evaluation latency in milliseconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100},
	})
	reg.MustRegister(m.AuthorizeLatency)

	m.DecisionCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iam_decision_cache_hits_total",
		Help: "Authorize calls served from the decision cache.",
	})
	reg.MustRegister(m.DecisionCacheHits)

	m.DecisionCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iam_decision_cache_misses_total",
		Help: "Authorize calls that required policy evaluation.",
	})
	reg.MustRegister(m.DecisionCacheMisses)

	m.BulkItemsEvaluated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iam_bulk_items_evaluated_total",
		Help: "Individual (resource, action) items evaluated via bulk/batch authorize.",
	})
	reg.MustRegister(m.BulkItemsEvaluated)

	m.ProxyLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "iam_gateway_proxy_latency_ms",
		Help:    "Gateway-to-upstream round-trip latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"upstream"})
	reg.MustRegister(m.ProxyLatency)

	m.ProxyUpstreamErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "iam_gateway_upstream_errors_total",
		Help: "Proxied requests that failed to reach or received a 503 from an upstream.",
	}, []string{"upstream"})
	reg.MustRegister(m.ProxyUpstreamErrors)

	m.RateLimitRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iam_gateway_rate_limit_rejections_total",
		Help: "Requests rejected by the gateway's rate limiter.",
	})
	reg.MustRegister(m.RateLimitRejections)

	m.FailOpenDecisions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iam_gateway_authorize_fail_open_total",
		Help: "Authorize calls answered by the development fail-open fallback instead of a real policy decision.",
	})
	reg.MustRegister(m.FailOpenDecisions)

	m.AuditSpoolDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iam_audit_spool_drops_total",
		Help: "Spooled audit events dropped (oldest file evicted) because the failover spool hit its size bound.",
	})
	reg.MustRegister(m.AuditSpoolDrops)

	return m
}

// Handler exposes the registry in Prometheus exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
