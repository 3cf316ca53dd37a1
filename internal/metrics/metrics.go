package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registered on the default registry and served by /metrics.
var (
	// OracleCalls labels: purpose (decompose, relevance, gate, plan, synthesize, fallback), status.
	OracleCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "analyst",
			Subsystem: "oracle",
			Name:      "calls_total",
			Help:      "Completion oracle calls by purpose and status.",
		},
		[]string{"purpose", "status"},
	)

	OracleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "analyst",
			Subsystem: "oracle",
			Name:      "call_duration_seconds",
			Help:      "Duration of completion oracle HTTP calls.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	// ToolOutcomes labels: tool (retrieval, analysis), outcome (evidence, no_information, denied, error).
	ToolOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "analyst",
			Subsystem: "tool",
			Name:      "outcomes_total",
			Help:      "Evidence tool outcomes.",
		},
		[]string{"tool", "outcome"},
	)

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "analyst",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Answers served from the per-conversation response cache.",
	})

	AnswerSources = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "analyst",
			Subsystem: "answer",
			Name:      "sources_total",
			Help:      "Final answers by source tag.",
		},
		[]string{"source"},
	)

	LiveConversations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "analyst",
		Subsystem: "conversation",
		Name:      "live",
		Help:      "Conversations currently held in memory.",
	})
)
