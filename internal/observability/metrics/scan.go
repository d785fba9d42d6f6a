package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/document-scan-service/internal/core/domain"
)

// ScanMetrics tracks extraction run lifecycle and observer fan-out.
type ScanMetrics struct {
	runsInFlight    prometheus.Gauge
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	fragmentBytes   prometheus.Counter
	observersTotal  prometheus.Counter
	observerDropped prometheus.Counter
}

func NewScanMetrics(service string, registry prometheus.Registerer) *ScanMetrics {
	constLabels := prometheus.Labels{"service": service}

	runsInFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "dss",
		Subsystem:   "scan",
		Name:        "runs_in_flight",
		Help:        "Number of extraction runs currently processing.",
		ConstLabels: constLabels,
	})
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "dss",
			Subsystem:   "scan",
			Name:        "runs_total",
			Help:        "Total finished extraction runs by terminal status.",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "dss",
			Subsystem:   "scan",
			Name:        "run_duration_seconds",
			Help:        "Extraction run duration in seconds by terminal status.",
			Buckets:     []float64{1, 5, 15, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	fragmentBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "dss",
		Subsystem:   "scan",
		Name:        "fragment_bytes_total",
		Help:        "Total bytes of streamed text fragments.",
		ConstLabels: constLabels,
	})
	observersTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "dss",
		Subsystem:   "scan",
		Name:        "observers_connected_total",
		Help:        "Total observer connections attached to scan sessions.",
		ConstLabels: constLabels,
	})
	observerDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "dss",
		Subsystem:   "scan",
		Name:        "observers_dropped_total",
		Help:        "Total observer connections dropped on failed writes.",
		ConstLabels: constLabels,
	})

	registry.MustRegister(runsInFlight, runsTotal, runDuration, fragmentBytes, observersTotal, observerDropped)

	return &ScanMetrics{
		runsInFlight:    runsInFlight,
		runsTotal:       runsTotal,
		runDuration:     runDuration,
		fragmentBytes:   fragmentBytes,
		observersTotal:  observersTotal,
		observerDropped: observerDropped,
	}
}

func (m *ScanMetrics) RunStarted() {
	m.runsInFlight.Inc()
}

func (m *ScanMetrics) RunFinished(status domain.ScanStatus, elapsed time.Duration) {
	m.runsInFlight.Dec()
	m.runsTotal.WithLabelValues(string(status)).Inc()
	m.runDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

func (m *ScanMetrics) FragmentStreamed(bytes int) {
	if bytes > 0 {
		m.fragmentBytes.Add(float64(bytes))
	}
}

func (m *ScanMetrics) ObserverConnected() {
	m.observersTotal.Inc()
}

func (m *ScanMetrics) ObserverDropped(count int) {
	if count > 0 {
		m.observerDropped.Add(float64(count))
	}
}
