package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"servectl/internal/reconcile"
	"servectl/internal/supervisor"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servectl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "servectl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	launchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servectl",
			Subsystem: "launcher",
			Name:      "launches_total",
			Help:      "Engine launches by outcome (ready, exit, timeout)",
		},
		[]string{"result"},
	)

	reconcileTerminations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "servectl",
			Subsystem: "reconcile",
			Name:      "terminations_total",
			Help:      "Processes killed during reconciliation",
		},
	)

	acceleratorFreeMiB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "servectl",
			Subsystem: "reconcile",
			Name:      "accelerator_free_mib",
			Help:      "Free accelerator memory observed at the last reconciliation",
		},
	)

	serverState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "servectl",
			Subsystem: "launcher",
			Name:      "server_state",
			Help:      "1 for the current supervisor state, 0 otherwise",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, launchesTotal, reconcileTerminations, acceleratorFreeMiB, serverState)
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware instruments requests for Prometheus
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(sr, r)
		// route pattern is only known after routing
		path := routePatternOrPath(r)
		statusLabel := strconv.Itoa(sr.status)
		httpRequestsTotal.WithLabelValues(path, r.Method, statusLabel).Inc()
		httpRequestDuration.WithLabelValues(path, r.Method, statusLabel).Observe(time.Since(start).Seconds())
	})
}

// routePatternOrPath returns the chi route pattern if available, otherwise
// falls back to URL path. This avoids high-cardinality label values.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

var allStates = []supervisor.State{
	supervisor.StateIdle, supervisor.StateLaunching, supervisor.StateRunning,
	supervisor.StateStopping, supervisor.StateCrashed,
}

// SetServerState marks st as the only active state.
func SetServerState(st supervisor.State) {
	for _, s := range allStates {
		v := 0.0
		if s == st {
			v = 1
		}
		serverState.WithLabelValues(string(s)).Set(v)
	}
}

// ObserveReconcile records a reconciliation report.
func ObserveReconcile(rep reconcile.Report) {
	reconcileTerminations.Add(float64(len(rep.Terminated)))
	acceleratorFreeMiB.Set(float64(rep.FreeMiB))
}

// MetricsPublisher turns supervisor events into launcher metrics.
type MetricsPublisher struct{}

func (MetricsPublisher) Publish(e supervisor.Event) {
	switch e.Name {
	case supervisor.EventLaunchStart:
		SetServerState(supervisor.StateLaunching)
	case supervisor.EventLaunchReady:
		launchesTotal.WithLabelValues("ready").Inc()
		SetServerState(supervisor.StateRunning)
	case supervisor.EventLaunchTimeout:
		launchesTotal.WithLabelValues("timeout").Inc()
	case supervisor.EventLaunchExit:
		launchesTotal.WithLabelValues("exit").Inc()
	case supervisor.EventStop:
		SetServerState(supervisor.StateIdle)
	}
}
