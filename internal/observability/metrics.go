// Package observability exposes Prometheus metrics for the moderation
// pipeline and the points ledger.
package observability

import (
	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesEvaluated counts evaluated messages by verdict outcome.
	MessagesEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modkeeper_messages_evaluated_total",
		Help: "Total number of messages run through the risk scorer by outcome",
	}, []string{"outcome"})

	// ModerationActions counts enforcement transitions by action.
	ModerationActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modkeeper_moderation_actions_total",
		Help: "Total number of moderation actions taken",
	}, []string{"action", "source"})

	// LedgerTransactions counts committed ledger transactions by kind.
	LedgerTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modkeeper_ledger_transactions_total",
		Help: "Total number of committed points ledger transactions by kind",
	}, []string{"kind"})

	// RateLimitThrottled counts messages rejected by the rate limiter.
	RateLimitThrottled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modkeeper_rate_limit_throttled_total",
		Help: "Total number of messages rejected by the rate limiter by window",
	}, []string{"window"})

	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modkeeper_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})
)

// InitMetrics creates the Fiber HTTP metrics middleware. The caller registers
// it on the app and mounts the scrape endpoint.
func InitMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	return fiberprometheus.New(serviceName)
}
