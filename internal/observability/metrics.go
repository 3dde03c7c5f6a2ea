package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifegrid",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lifegrid",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifegrid",
			Subsystem: "driver",
			Name:      "generations_total",
			Help:      "Generations computed per rank.",
		},
		[]string{"rank"},
	)
	aliveCells = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lifegrid",
			Subsystem: "driver",
			Name:      "alive_cells",
			Help:      "Live interior cells of the latest generation per rank.",
		},
		[]string{"rank"},
	)
	updateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lifegrid",
			Subsystem: "driver",
			Name:      "update_duration_seconds",
			Help:      "Tile update duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		},
		[]string{"rank"},
	)
	exchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lifegrid",
			Subsystem: "halo",
			Name:      "exchange_duration_seconds",
			Help:      "Halo exchange round duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		},
		[]string{"rank"},
	)
	haloBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifegrid",
			Subsystem: "halo",
			Name:      "bytes_total",
			Help:      "Halo strip bytes moved per rank, sent or received.",
		},
		[]string{"rank", "direction"},
	)
	haloFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lifegrid",
			Subsystem: "halo",
			Name:      "failures_total",
			Help:      "Failed halo exchange rounds per rank.",
		},
		[]string{"rank", "reason"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			generations, aliveCells, updateDuration,
			exchangeDuration, haloBytes, haloFailures,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordGeneration records one completed update on rank.
func RecordGeneration(rank int, alive int, duration time.Duration) {
	RegisterMetrics()
	label := strconv.Itoa(rank)
	generations.WithLabelValues(label).Inc()
	aliveCells.WithLabelValues(label).Set(float64(alive))
	updateDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordExchange records one completed halo round on rank.
func RecordExchange(rank int, duration time.Duration) {
	RegisterMetrics()
	exchangeDuration.WithLabelValues(strconv.Itoa(rank)).Observe(duration.Seconds())
}

// RecordHaloBytes counts strip bytes moved by rank; direction is "sent" or "received".
func RecordHaloBytes(rank int, direction string, n int) {
	RegisterMetrics()
	haloBytes.WithLabelValues(strconv.Itoa(rank), direction).Add(float64(n))
}

// RecordExchangeFailure counts one failed halo round.
func RecordExchangeFailure(rank int, reason string) {
	RegisterMetrics()
	haloFailures.WithLabelValues(strconv.Itoa(rank), reason).Inc()
}
