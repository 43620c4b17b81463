package service

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "ledger"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Votes accepted into the pending pool.
	VotesSubmitted metrics.Counter
	// Votes refused, labelled by reason.
	VotesRejected metrics.Counter
	// Blocks appended to the chain.
	BlocksMined metrics.Counter
	// Number of votes waiting to be sealed.
	PendingVotes metrics.Gauge
	// Number of blocks in the chain, genesis included.
	ChainHeight metrics.Gauge
	// Time spent sealing a block.
	SealSeconds metrics.Histogram
	// Full-chain validations that found the chain broken.
	ValidationFailures metrics.Counter
	// Requests refused because the submission queue was full.
	QueueDropped metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
func PrometheusMetrics(namespace string) *Metrics {
	return &Metrics{
		VotesSubmitted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "votes_submitted",
			Help:      "Number of votes accepted into the pending pool.",
		}, []string{}),
		VotesRejected: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "votes_rejected",
			Help:      "Number of votes refused, by reason.",
		}, []string{"reason"}),
		BlocksMined: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "blocks_mined",
			Help:      "Number of blocks appended to the chain.",
		}, []string{}),
		PendingVotes: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "pending_votes",
			Help:      "Number of votes waiting to be sealed.",
		}, []string{}),
		ChainHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "chain_height",
			Help:      "Number of blocks in the chain.",
		}, []string{}),
		SealSeconds: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "seal_seconds",
			Help:      "Time spent searching for a block seal.",
			Buckets:   stdprometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{}),
		ValidationFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "validation_failures",
			Help:      "Number of chain validations that failed.",
		}, []string{}),
		QueueDropped: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "queue_dropped",
			Help:      "Number of vote requests refused because the queue was full.",
		}, []string{}),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		VotesSubmitted:     discard.NewCounter(),
		VotesRejected:      discard.NewCounter(),
		BlocksMined:        discard.NewCounter(),
		PendingVotes:       discard.NewGauge(),
		ChainHeight:        discard.NewGauge(),
		SealSeconds:        discard.NewHistogram(),
		ValidationFailures: discard.NewCounter(),
		QueueDropped:       discard.NewCounter(),
	}
}
