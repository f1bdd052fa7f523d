package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wamctl"

var (
	registerOnce sync.Once

	commandsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "commands_received_total",
			Help:      "Commands decoded from the host socket.",
		},
		[]string{"command"},
	)
	datagramsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "datagrams_dropped_total",
			Help:      "Datagrams dropped before dispatch.",
		},
		[]string{"reason"},
	)
	commandsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "commands_applied_total",
			Help:      "Commands accepted by the dispatcher.",
		},
		[]string{"command"},
	)
	commandsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "commands_dropped_total",
			Help:      "Commands the dispatcher discarded.",
		},
		[]string{"command", "reason"},
	)
	facadeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "facade_failures_total",
			Help:      "Lifecycle calls that failed or found no app.",
		},
		[]string{"op"},
	)
	runningApps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "running_apps",
			Help:      "Applications currently registered as running.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			commandsReceived,
			datagramsDropped,
			commandsApplied,
			commandsDropped,
			facadeFailures,
			runningApps,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordCommandReceived(command string) {
	RegisterMetrics()
	commandsReceived.WithLabelValues(command).Inc()
}

func RecordDatagramDropped(reason string) {
	RegisterMetrics()
	datagramsDropped.WithLabelValues(reason).Inc()
}

func SetRunningApps(n int) {
	RegisterMetrics()
	runningApps.Set(float64(n))
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// DispatchObserver feeds dispatcher outcomes into the counters above.
type DispatchObserver struct{}

func (DispatchObserver) Applied(command string) {
	RegisterMetrics()
	commandsApplied.WithLabelValues(command).Inc()
}

func (DispatchObserver) Dropped(command, reason string) {
	RegisterMetrics()
	commandsDropped.WithLabelValues(command, reason).Inc()
}

func (DispatchObserver) FacadeFailed(op string) {
	RegisterMetrics()
	facadeFailures.WithLabelValues(op).Inc()
}
