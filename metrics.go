package smax

import "github.com/prometheus/client_golang/prometheus"

// MetricSet is the collection of Prometheus instruments this library
// registers, following the teacher's MetricSet (Hit/Latency/Error
// CounterVecs) generalized to the operations this system actually performs.
type MetricSet struct {
	LazyHit     *prometheus.CounterVec   // labels: {"hit": "cache"|"pull"}
	LazyGC      prometheus.Counter       // monitors unlinked for excess unpulled updates
	QueueDepth  prometheus.Gauge         // current PullQueue length
	Reconnects  prometheus.Counter       // successful reconnect cycles
	ScriptLoads prometheus.Counter       // script (re)verification cycles
	Errors      *prometheus.CounterVec   // labels: {"when": ...}
}

const (
	lazyHitCache = "cache"
	lazyHitPull  = "pull"

	errWhenWrite      = "write"
	errWhenRead       = "read"
	errWhenScriptLoad = "script_load"
)

// NewMetricSet builds and optionally registers a MetricSet under appName.
// Registration failures are non-fatal: a second Library in the same process
// (e.g. in tests) would otherwise panic on duplicate registration.
func NewMetricSet(appName string, reg prometheus.Registerer) *MetricSet {
	m := &MetricSet{
		LazyHit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: appName + "_smax_lazy_hit_total",
			Help: "lazy-cache fetches by whether they hit the local mirror or required a pull",
		}, []string{"hit"}),
		LazyGC: prometheus.NewCounter(prometheus.CounterOpts{
			Name: appName + "_smax_lazy_gc_total",
			Help: "lazy monitors unlinked for exceeding the unpulled-update threshold",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: appName + "_smax_pull_queue_depth",
			Help: "current number of outstanding pipelined pull requests",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: appName + "_smax_reconnects_total",
			Help: "completed reconnect cycles",
		}),
		ScriptLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: appName + "_smax_script_loads_total",
			Help: "script (re)verification cycles against the scripts hash",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: appName + "_smax_errors_total",
			Help: "internal errors by the operation in which they occurred",
		}, []string{"when"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.LazyHit, m.LazyGC, m.QueueDepth, m.Reconnects, m.ScriptLoads, m.Errors} {
			_ = reg.Register(c) // best effort, see doc comment
		}
	}
	return m
}
