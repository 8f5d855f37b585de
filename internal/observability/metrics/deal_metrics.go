package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels attached to every metric.
type Config struct {
	ServiceName string
	Environment string
}

// DealMetrics captures lifecycle, sweep, webhook and scrape-queue metrics.
type DealMetrics struct {
	transitions    *prometheus.CounterVec
	sweepDuration  *prometheus.HistogramVec
	sweepProcessed *prometheus.CounterVec
	sweepErrors    *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
	payoutAttempts *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
}

var (
	dealMetricsOnce sync.Once
	dealMetrics     *DealMetrics
)

func Deal() *DealMetrics {
	return DealWithConfig(Config{})
}

func DealWithConfig(cfg Config) *DealMetrics {
	dealMetricsOnce.Do(func() {
		dealMetrics = newDealMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return dealMetrics
}

func ResetDealMetricsForTest() {
	dealMetricsOnce = sync.Once{}
	dealMetrics = nil
}

func newDealMetrics(registerer prometheus.Registerer, cfg Config) *DealMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "dealbridge"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	transitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "dealbridge_deal_transitions_total",
			Help:        "Total deal state transitions by target status.",
			ConstLabels: constLabels,
		},
		[]string{"to"},
	)

	sweepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "dealbridge_sweep_duration_seconds",
			Help:        "Duration of one expiry or shipment sweep pass.",
			Buckets:     []float64{0.05, 0.25, 1, 5, 15, 60},
			ConstLabels: constLabels,
		},
		[]string{"sweep"},
	)

	sweepProcessed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "dealbridge_sweep_processed_total",
			Help:        "Deals acted on by background sweeps.",
			ConstLabels: constLabels,
		},
		[]string{"sweep", "result"}, // expired | refunded | skipped | failed
	)

	sweepErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "dealbridge_sweep_errors_total",
			Help:        "Per-deal errors absorbed by background sweeps.",
			ConstLabels: constLabels,
		},
		[]string{"sweep"},
	)

	webhookEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "dealbridge_webhook_events_total",
			Help:        "Gateway webhook events by type and outcome.",
			ConstLabels: constLabels,
		},
		[]string{"event_type", "result"}, // processed | duplicate | ignored | rejected
	)

	payoutAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "dealbridge_payout_attempts_total",
			Help:        "Payout attempts against the gateway.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // success | failed
	)

	queueDepth := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "dealbridge_scrape_queue_depth",
			Help:        "Scrape admission queue depth by state.",
			ConstLabels: constLabels,
		},
		[]string{"state"}, // pending | in_flight
	)

	registerer.MustRegister(
		transitions,
		sweepDuration,
		sweepProcessed,
		sweepErrors,
		webhookEvents,
		payoutAttempts,
		queueDepth,
	)

	return &DealMetrics{
		transitions:    transitions,
		sweepDuration:  sweepDuration,
		sweepProcessed: sweepProcessed,
		sweepErrors:    sweepErrors,
		webhookEvents:  webhookEvents,
		payoutAttempts: payoutAttempts,
		queueDepth:     queueDepth,
	}
}

func (m *DealMetrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *DealMetrics) ObserveSweep(sweep string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(sweep).Observe(duration.Seconds())
}

func (m *DealMetrics) ObserveSweepResult(sweep, result string) {
	if m == nil {
		return
	}
	m.sweepProcessed.WithLabelValues(sweep, result).Inc()
}

func (m *DealMetrics) ObserveSweepError(sweep string) {
	if m == nil {
		return
	}
	m.sweepErrors.WithLabelValues(sweep).Inc()
}

func (m *DealMetrics) ObserveWebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, result).Inc()
}

func (m *DealMetrics) ObservePayoutAttempt(result string) {
	if m == nil {
		return
	}
	m.payoutAttempts.WithLabelValues(result).Inc()
}

func (m *DealMetrics) SetQueueDepth(pending, inFlight int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues("pending").Set(float64(pending))
	m.queueDepth.WithLabelValues("in_flight").Set(float64(inFlight))
}
