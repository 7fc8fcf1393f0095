package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helper_messages_ingested_total",
		Help: "The total number of ingested source messages",
	}, []string{"channel"})

	PipelineStageItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helper_pipeline_stage_items_total",
		Help: "The total number of items processed per pipeline stage",
	}, []string{"stage", "status"})

	PipelineRunDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "helper_pipeline_run_duration_seconds",
		Help:    "Duration in seconds of a full pipeline run",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	FunnelRead = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helper_funnel_read",
		Help: "Number of messages read in the last pipeline run",
	})

	FunnelSent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helper_funnel_sent",
		Help: "Number of messages deduplicated into published items in the last run",
	})

	FunnelToSend = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helper_funnel_to_send",
		Help: "Number of items gated for sending in the last run",
	})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "helper_llm_request_duration_seconds",
		Help:    "Duration of LLM requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helper_llm_requests_total",
		Help: "Total number of LLM requests",
	}, []string{"task", "status"})

	DedupOracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helper_dedup_oracle_calls_total",
		Help: "Total number of pairwise duplicate oracle calls",
	}, []string{"result"})

	ScorerPredictions = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "helper_scorer_prediction_score",
		Help:    "Distribution of relevance prediction scores",
		Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	ScorerTrainedSamples = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helper_scorer_trained_samples",
		Help: "Total number of training samples seen by the relevance scorer",
	})

	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helper_messages_published_total",
		Help: "Total number of messages sent or edited in the output channel",
	}, []string{"status"})

	DigestsPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helper_digest_posts_total",
		Help: "The total number of daily digests posted",
	}, []string{"status"})

	ReaderFloodWaitSecondsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helper_reader_flood_wait_seconds_total",
		Help: "Total time in seconds spent waiting for Telegram flood control",
	}, []string{"channel"})

	AudienceRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helper_audience_refresh_total",
		Help: "Total number of audience size refreshes",
	}, []string{"mode"})

	DBPoolTotalConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helper_db_pool_total_conns",
		Help: "Current number of connections in the database pool",
	})

	DBPoolIdleConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helper_db_pool_idle_conns",
		Help: "Current number of idle connections in the database pool",
	})
)
