// Package stream implements Server-Sent Events (SSE) streaming of control
// loop ticks. Clients connect via GET /api/v1/stream/ticks and receive the
// latest pose and leg targets as the loop publishes them.
//
// SSE message format:
//
//	data: {"type":"tick","tick":1200,"t":"...","pose":{...},"targets_mm":[...],"trail":[...]}\n\n
//
// First message is always metadata:
//
//	data: {"type":"metadata","state":"running","period_ms":50,"min_mm":597.06,"max_mm":889.06}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval to prevent timeout.
package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/jared-teets/flight-sim/internal/geometry"
	"github.com/jared-teets/flight-sim/internal/metrics"
	"github.com/jared-teets/flight-sim/internal/status"
)

// Config holds streaming configuration loaded from environment variables.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	Period             time.Duration // Control loop tick period (default: 50ms).
	TrustProxy         bool          // Take the client IP from proxy headers.
}

// Handler manages SSE streaming connections.
type Handler struct {
	store   *status.Store
	stroke  [2]float64
	config  Config
	limiter *connLimiter
	logger  *slog.Logger
}

// NewHandler creates a new streaming handler. geo supplies the stroke bounds
// reported in the metadata message.
func NewHandler(store *status.Store, geo *geometry.Geometry, config Config, logger *slog.Logger) *Handler {
	return &Handler{
		store:   store,
		stroke:  [2]float64{geo.MinLength() * 1000, geo.MaxLength() * 1000},
		config:  config,
		limiter: newConnLimiter(config.MaxConcurrentPerIP),
		logger:  logger,
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// intParam parses an optional integer query parameter within [lo, hi].
func intParam(r *http.Request, name string, def, lo, hi int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, false
	}
	return n, true
}

// HandleTicks serves the SSE tick stream.
// GET /api/v1/stream/ticks?every=2&trail=20
func (h *Handler) HandleTicks(w http.ResponseWriter, r *http.Request) {
	every, ok := intParam(r, "every", 1, 1, 100)
	if !ok {
		badRequest(w, "invalid every parameter, must be 1-100")
		return
	}
	trail, ok := intParam(r, "trail", 0, 0, 200)
	if !ok {
		badRequest(w, "invalid trail parameter, must be 0-200")
		return
	}

	// Rate limiting: enforce concurrent stream limit per IP.
	ip := clientIP(r, h.config.TrustProxy)
	release, ok := h.limiter.acquire(ip)
	if !ok {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.active(ip),
		)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "too many concurrent streams"})
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"every", every,
		"trail", trail,
	)

	defer func() {
		release()
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's default WriteTimeout for this connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &client{
		w:       w,
		flusher: flusher,
		rc:      rc,
		ip:      ip,
		logger:  h.logger,
	}

	// Jittered retry interval (3-7s) so clients do not reconnect in lockstep
	// when the service restarts.
	retryMs := 3000 + rand.Intn(4000)
	fmt.Fprintf(w, "retry: %d\n\n", retryMs)
	flusher.Flush()

	meta := metadataMessage{
		Type:     "metadata",
		State:    h.store.State(),
		PeriodMS: h.config.Period.Milliseconds(),
		Every:    every,
		MinMM:    h.stroke[0],
		MaxMM:    h.stroke[1],
	}
	if err := c.sendJSON(meta); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	ticker := time.NewTicker(time.Duration(every) * h.config.Period)
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	var lastTick uint64

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			snap := h.store.Latest()
			if snap == nil || snap.Tick == lastTick {
				// Loop has not advanced since the last message.
				continue
			}
			lastTick = snap.Tick

			var hist []status.Snapshot
			if trail > 0 {
				hist = h.store.Recent(trail + 1)
			}

			data, err := json.Marshal(buildTickMessage(snap, hist))
			if err != nil {
				metrics.IncStreamErrors("marshal_error")
				h.logger.Warn("stream marshal error", "remote_ip", ip, "error", err)
				continue
			}
			if err := c.sendRaw(data); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}

			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// buildTickMessage formats a snapshot into the SSE payload. hist is the
// recent history ending with snap; its earlier entries become the trail of
// leg targets, oldest first.
func buildTickMessage(snap *status.Snapshot, hist []status.Snapshot) tickMessage {
	msg := tickMessage{
		Type:      "tick",
		Tick:      snap.Tick,
		T:         snap.Time.UTC().Format(time.RFC3339Nano),
		State:     snap.State,
		Pose:      snap.Pose,
		Targets:   snap.Targets,
		Overrange: snap.Overrange,
		Hold:      snap.Hold,
	}
	for _, s := range hist {
		if s.Tick >= snap.Tick {
			break
		}
		msg.Trail = append(msg.Trail, s.Targets)
	}
	return msg
}

// SSE message payload types.

type metadataMessage struct {
	Type     string  `json:"type"`
	State    string  `json:"state"`
	PeriodMS int64   `json:"period_ms"`
	Every    int     `json:"every"`
	MinMM    float64 `json:"min_mm"`
	MaxMM    float64 `json:"max_mm"`
}

type tickMessage struct {
	Type      string                   `json:"type"`
	Tick      uint64                   `json:"tick"`
	T         string                   `json:"t"`
	State     string                   `json:"state"`
	Pose      geometry.Pose            `json:"pose"`
	Targets   [geometry.Legs]float64   `json:"targets_mm"`
	Overrange [geometry.Legs]bool      `json:"overrange"`
	Hold      string                   `json:"hold,omitempty"`
	Trail     [][geometry.Legs]float64 `json:"trail,omitempty"`
}
