package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jared-teets/flight-sim/internal/actuator"
	"github.com/jared-teets/flight-sim/internal/api"
	"github.com/jared-teets/flight-sim/internal/auth"
	"github.com/jared-teets/flight-sim/internal/config"
	"github.com/jared-teets/flight-sim/internal/control"
	"github.com/jared-teets/flight-sim/internal/cueing"
	"github.com/jared-teets/flight-sim/internal/geometry"
	"github.com/jared-teets/flight-sim/internal/status"
	"github.com/jared-teets/flight-sim/internal/stream"
	"github.com/jared-teets/flight-sim/internal/telemetry"
	"github.com/jared-teets/flight-sim/web"
)

const defaultStartupTimeout = 10 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: loadLogLevel(),
	}))

	addr := os.Getenv("MOTIONBASE_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	platform := config.Default()
	if path := os.Getenv("MOTIONBASE_PLATFORM_FILE"); path != "" {
		platform, err = config.Load(path)
		if err != nil {
			logger.Error("invalid platform file", "error", err)
			os.Exit(1)
		}
		logger.Info("loaded platform file", "path", path)
	}

	geo, err := geometry.New(platform.Geometry)
	if err != nil {
		logger.Error("invalid platform geometry", "error", err)
		os.Exit(1)
	}

	loopCfg := loadLoopConfig(logger)
	washout, err := cueing.NewWashout(platform.Washout, loopCfg.Period)
	if err != nil {
		logger.Error("invalid washout configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := openTelemetry(logger)
	if err != nil {
		logger.Error("opening telemetry source", "error", err)
		os.Exit(1)
	}

	bus, err := openBus(logger, platform)
	if err != nil {
		source.Close()
		logger.Error("opening actuator bus", "error", err)
		os.Exit(1)
	}

	store := status.NewStore(600)
	initCtx, cancelInit := context.WithTimeout(ctx, loadStartupTimeout(logger))
	loop, err := control.New(initCtx, loopCfg, geo, washout, source, bus, store, logger)
	cancelInit()
	if err != nil {
		logger.Error("control loop init failed", "error", err)
		os.Exit(1)
	}

	recorder, err := startRecorder(logger)
	if err != nil {
		logger.Warn("telemetry recording disabled", "error", err)
	} else if recorder != nil {
		loop.SetRecorder(recorder)
		defer func() {
			if err := recorder.Close(); err != nil {
				logger.Warn("closing recording", "error", err)
			}
		}()
	}

	streamCfg := loadStreamConfig(logger, loopCfg.Period)
	streamHandler := stream.NewHandler(store, geo, streamCfg, logger)

	srv := api.NewServer(addr, logger, authCfg, api.Routes{
		Status: store,
		Ready:  func() bool { return loop.State() == control.StateRunning },
		Stop:   loop.Stop,
		Stream: streamHandler.HandleTicks,
		Web:    http.FileServerFS(web.Content),
	})

	go func() {
		logger.Info("starting server", "addr", addr, "auth_enabled", authCfg.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			loop.Stop()
		}
	}()

	runErr := loop.Run(ctx)

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if runErr != nil {
		logger.Error("control loop stopped on fault", "error", runErr)
		if recorder != nil {
			recorder.Close()
		}
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func loadLogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("MOTIONBASE_LOG_LEVEL"))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("MOTIONBASE_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("MOTIONBASE_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("MOTIONBASE_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("MOTIONBASE_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}

// envMillis reads a positive millisecond duration.
func envMillis(logger *slog.Logger, name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", def.Milliseconds())
		return def
	}
	return time.Duration(n) * time.Millisecond
}

// envInt reads an integer no smaller than lo.
func envInt(logger *slog.Logger, name string, def, lo int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", def)
		return def
	}
	return n
}

func envBool(logger *slog.Logger, name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", def)
		return def
	}
	return b
}

func loadLoopConfig(logger *slog.Logger) control.Config {
	cfg := control.DefaultConfig()

	cfg.Period = envMillis(logger, "MOTIONBASE_TICK_PERIOD_MS", cfg.Period)
	cfg.TelemetryTimeout = envMillis(logger, "MOTIONBASE_TELEMETRY_TIMEOUT_MS", cfg.TelemetryTimeout)
	if cfg.TelemetryTimeout >= cfg.Period {
		logger.Warn("telemetry timeout must be shorter than the tick period, using 80% of the period",
			"timeout_ms", cfg.TelemetryTimeout.Milliseconds(), "period_ms", cfg.Period.Milliseconds())
		cfg.TelemetryTimeout = cfg.Period * 4 / 5
	}
	cfg.MaxTelemetryTimeouts = envInt(logger, "MOTIONBASE_MAX_TELEMETRY_TIMEOUTS", cfg.MaxTelemetryTimeouts, 1)
	cfg.MaxBusFailures = envInt(logger, "MOTIONBASE_MAX_BUS_FAILURES", cfg.MaxBusFailures, 1)
	cfg.SkipWhenPaused = envBool(logger, "MOTIONBASE_SKIP_WHEN_PAUSED", cfg.SkipWhenPaused)
	cfg.FeedbackEvery = envInt(logger, "MOTIONBASE_FEEDBACK_EVERY", cfg.FeedbackEvery, 0)
	cfg.ScaleOrientation = envBool(logger, "MOTIONBASE_SCALE_ORIENTATION", cfg.ScaleOrientation)

	logger.Info("loop config",
		"period_ms", cfg.Period.Milliseconds(),
		"telemetry_timeout_ms", cfg.TelemetryTimeout.Milliseconds(),
		"max_telemetry_timeouts", cfg.MaxTelemetryTimeouts,
		"max_bus_failures", cfg.MaxBusFailures,
		"skip_when_paused", cfg.SkipWhenPaused,
		"feedback_every", cfg.FeedbackEvery,
		"scale_orientation", cfg.ScaleOrientation,
	)

	return cfg
}

// loadStartupTimeout bounds how long INIT waits for the simulator and the
// actuators to answer.
func loadStartupTimeout(logger *slog.Logger) time.Duration {
	d := envMillis(logger, "MOTIONBASE_STARTUP_TIMEOUT_MS", defaultStartupTimeout)
	logger.Info("startup timeout", "timeout_ms", d.Milliseconds())
	return d
}

func loadStreamConfig(logger *slog.Logger, period time.Duration) stream.Config {
	cfg := stream.Config{
		MaxConcurrentPerIP: 10,
		KeepaliveInterval:  30 * time.Second,
		Period:             period,
	}

	cfg.MaxConcurrentPerIP = envInt(logger, "MOTIONBASE_STREAM_MAX_CONCURRENT", cfg.MaxConcurrentPerIP, 1)
	if v := os.Getenv("MOTIONBASE_STREAM_KEEPALIVE_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid MOTIONBASE_STREAM_KEEPALIVE_INTERVAL value, using default", "value", v, "default", 30)
		} else {
			cfg.KeepaliveInterval = time.Duration(n) * time.Second
		}
	}
	cfg.TrustProxy = envBool(logger, "MOTIONBASE_TRUST_PROXY", false)

	logger.Info("stream config",
		"max_concurrent_per_ip", cfg.MaxConcurrentPerIP,
		"keepalive_interval_seconds", cfg.KeepaliveInterval.Seconds(),
		"trust_proxy", cfg.TrustProxy,
	)

	return cfg
}

// openTelemetry selects the sample source from MOTIONBASE_TELEMETRY:
// "xplane" (default) or "replay".
func openTelemetry(logger *slog.Logger) (telemetry.Source, error) {
	kind := strings.ToLower(os.Getenv("MOTIONBASE_TELEMETRY"))
	switch kind {
	case "", "xplane":
		addr := os.Getenv("MOTIONBASE_XPLANE_ADDR")
		if addr == "" {
			addr = telemetry.DefaultXPlaneAddr
		}
		logger.Info("telemetry config", "source", "xplane", "addr", addr)
		return telemetry.DialXPlane(addr, logger)
	case "replay":
		path := os.Getenv("MOTIONBASE_REPLAY_FILE")
		if path == "" {
			latest, _, err := telemetry.NewRecorder(recordDir(), 0).Latest()
			if err != nil {
				return nil, errors.New("MOTIONBASE_REPLAY_FILE is required when no recording exists")
			}
			path = latest
		}
		loop := envBool(logger, "MOTIONBASE_REPLAY_LOOP", true)
		logger.Info("telemetry config", "source", "replay", "path", path, "loop", loop)
		return telemetry.OpenReplay(path, loop)
	default:
		return nil, errors.New("MOTIONBASE_TELEMETRY must be xplane or replay, got " + kind)
	}
}

// openBus selects the actuator bus from MOTIONBASE_BUS: "slcan" (default)
// or "sim".
func openBus(logger *slog.Logger, platform config.Platform) (actuator.Bus, error) {
	kind := strings.ToLower(os.Getenv("MOTIONBASE_BUS"))
	switch kind {
	case "", "slcan":
		port := os.Getenv("MOTIONBASE_SERIAL_PORT")
		if port == "" {
			port = "/dev/ttyACM0"
		}
		t, err := actuator.OpenSLCAN(port, platform.Actuator.Bitrate, logger)
		if err != nil {
			return nil, err
		}
		cfg := platform.DriverConfig()
		cfg.ScanTimeout = envMillis(logger, "MOTIONBASE_SCAN_TIMEOUT_MS", cfg.ScanTimeout)
		logger.Info("bus config",
			"bus", "slcan",
			"port", port,
			"bitrate", platform.Actuator.Bitrate,
			"node_ids", cfg.NodeIDs,
			"scan_timeout_ms", cfg.ScanTimeout.Milliseconds(),
		)
		return actuator.NewDriver(t, cfg, logger), nil
	case "sim":
		cfg := platform.SimConfig()
		logger.Info("bus config", "bus", "sim", "max_speed_mm_per_s", cfg.MaxSpeedMM)
		return actuator.NewSimBus(cfg, nil), nil
	default:
		return nil, errors.New("MOTIONBASE_BUS must be slcan or sim, got " + kind)
	}
}

func recordDir() string {
	if v := os.Getenv("MOTIONBASE_RECORD_DIR"); v != "" {
		return v
	}
	return "/tmp/motionbase/recordings"
}

// startRecorder opens a recording session when MOTIONBASE_RECORD is set.
func startRecorder(logger *slog.Logger) (*telemetry.Recorder, error) {
	if !envBool(logger, "MOTIONBASE_RECORD", false) {
		return nil, nil
	}
	dir := recordDir()
	maxFiles := envInt(logger, "MOTIONBASE_RECORD_MAX_FILES", 5, 1)
	r := telemetry.NewRecorder(dir, maxFiles)
	id, err := r.Start(time.Now())
	if err != nil {
		if r.Path() == "" {
			return nil, err
		}
		logger.Warn("pruning old recordings", "error", err)
	}
	logger.Info("recording telemetry", "session", id, "path", r.Path(), "max_files", maxFiles)
	return r, nil
}
