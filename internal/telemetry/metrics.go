package telemetry

import "github.com/prometheus/client_golang/prometheus"

// RPCRequestsTotal counts completed RPC calls by method and outcome kind
// (apperr.Kind, or "ok").
var RPCRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "simplevm",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "Total number of RPC calls handled, by method and outcome.",
	},
	[]string{"method", "outcome"},
)

// RPCRequestDuration tracks RPC handler latency by method.
var RPCRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "simplevm",
		Subsystem: "rpc",
		Name:      "request_duration_seconds",
		Help:      "RPC handler latency in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	},
	[]string{"method"},
)

// PlaybooksActive is the current number of in-flight playbook runs (PREPARE
// or BUILD).
var PlaybooksActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "simplevm",
		Subsystem: "playbook",
		Name:      "active",
		Help:      "Number of playbook pipelines currently in PREPARE or BUILD.",
	},
)

// PlaybooksCompletedTotal counts finished playbook runs by terminal status.
var PlaybooksCompletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "simplevm",
		Subsystem: "playbook",
		Name:      "completed_total",
		Help:      "Total number of playbook runs that reached SUCCESS or FAILED.",
	},
	[]string{"status"},
)

// TemplateCatalogRefreshTotal counts catalog refresh attempts by outcome
// ("ok", "deferred", "error").
var TemplateCatalogRefreshTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "simplevm",
		Subsystem: "templatecatalog",
		Name:      "refresh_total",
		Help:      "Total number of template catalog refresh attempts by outcome.",
	},
	[]string{"outcome"},
)

// All returns every service-specific metric for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		RPCRequestsTotal,
		RPCRequestDuration,
		PlaybooksActive,
		PlaybooksCompletedTotal,
		TemplateCatalogRefreshTotal,
	}
}

// NewRegistry creates a Prometheus registry with the default Go/process
// collectors plus the given service metrics.
func NewRegistry(collectors ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	for _, c := range collectors {
		reg.MustRegister(c)
	}
	return reg
}
