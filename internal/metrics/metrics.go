package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motionbase_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "motionbase_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	tickDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "motionbase_tick_duration_seconds",
			Help:    "Time spent computing and sending one control tick.",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.02, 0.03, 0.04, 0.05, 0.075, 0.1},
		},
	)

	tickOverrunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "motionbase_tick_overruns_total",
			Help: "Ticks that finished after their deadline.",
		},
	)

	telemetryTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "motionbase_telemetry_timeouts_total",
			Help: "Telemetry samples that did not arrive within the tick budget.",
		},
	)

	heldTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motionbase_held_ticks_total",
			Help: "Ticks that re-emitted the previous targets, by reason.",
		},
		[]string{"reason"},
	)

	legOverrangeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motionbase_leg_overrange_total",
			Help: "Leg lengths clamped to the actuator stroke.",
		},
		[]string{"leg"},
	)

	busErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motionbase_bus_errors_total",
			Help: "Actuator bus failures, by actuator.",
		},
		[]string{"actuator"},
	)

	loopState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "motionbase_loop_state",
			Help: "Control loop state (0 init, 1 running, 2 shutdown).",
		},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motionbase_stream_connections_total",
			Help: "SSE stream connection events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "motionbase_streams_active",
			Help: "Currently open SSE streams.",
		},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "motionbase_stream_messages_total",
			Help: "SSE data messages sent.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "motionbase_stream_bytes_total",
			Help: "Bytes written to SSE streams.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motionbase_stream_errors_total",
			Help: "SSE stream errors, by type.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpDurationSeconds)
	prometheus.MustRegister(tickDurationSeconds)
	prometheus.MustRegister(tickOverrunsTotal)
	prometheus.MustRegister(telemetryTimeoutsTotal)
	prometheus.MustRegister(heldTicksTotal)
	prometheus.MustRegister(legOverrangeTotal)
	prometheus.MustRegister(busErrorsTotal)
	prometheus.MustRegister(loopState)
	prometheus.MustRegister(streamConnectionsTotal)
	prometheus.MustRegister(streamsActive)
	prometheus.MustRegister(streamMessagesTotal)
	prometheus.MustRegister(streamBytesTotal)
	prometheus.MustRegister(streamErrorsTotal)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveTick(d time.Duration) { tickDurationSeconds.Observe(d.Seconds()) }

func IncTickOverrun() { tickOverrunsTotal.Inc() }

func IncTelemetryTimeout() { telemetryTimeoutsTotal.Inc() }

func IncHeldTick(reason string) { heldTicksTotal.WithLabelValues(reason).Inc() }

func IncLegOverrange(leg int) { legOverrangeTotal.WithLabelValues(strconv.Itoa(leg)).Inc() }

func IncBusError(actuator int) { busErrorsTotal.WithLabelValues(strconv.Itoa(actuator)).Inc() }

// SetLoopState reports the loop state as its ordinal.
func SetLoopState(state int) { loopState.Set(float64(state)) }

func IncStreamConnections(event string) { streamConnectionsTotal.WithLabelValues(event).Inc() }

func IncStreamsActive() { streamsActive.Inc() }

func DecStreamsActive() { streamsActive.Dec() }

func IncStreamMessages() { streamMessagesTotal.Inc() }

func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }

func IncStreamErrors(kind string) { streamErrorsTotal.WithLabelValues(kind).Inc() }

// knownRoutes are the paths served by the API; anything else is labelled
// "other" to bound label cardinality.
var knownRoutes = map[string]bool{
	"/":                    true,
	"/healthz":             true,
	"/readyz":              true,
	"/metrics":             true,
	"/api/v1/status":       true,
	"/api/v1/stop":         true,
	"/api/v1/stream/ticks": true,
	"/app.js":              true,
	"/styles.css":          true,
}

func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE handlers flush through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
