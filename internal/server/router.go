package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nithronos/device/nosfw/internal/access"
	"nithronos/device/nosfw/internal/config"
	"nithronos/device/nosfw/internal/connectivity"
	"nithronos/device/nosfw/internal/devconfig"
	"nithronos/device/nosfw/internal/firmware"
	"nithronos/device/nosfw/internal/ratelimit"
)

// Version is reported by /api/health and /api/status.
var Version = "0.1.0"

// Deps is everything the HTTP surface talks to.
type Deps struct {
	Config   config.Config
	Logger   zerolog.Logger
	Store    *devconfig.Store
	Gate     *access.Gate
	Conn     *connectivity.Manager
	Firmware *firmware.Controller
	Metrics  *Metrics
	// Limiter throttles failed logins; NewRouter supplies a default.
	Limiter *ratelimit.Limiter
	// Restart schedules a device restart; it must not block.
	Restart func(reason string)
}

func Logger(cfg config.Config) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	logger := log.Logger.Level(cfg.LogLevel).With().Timestamp().Logger()
	return &logger
}

func NewRouter(d Deps) http.Handler {
	if d.Metrics == nil {
		d.Metrics = NewMetrics()
	}
	if d.Firmware != nil {
		d.Metrics.TrackProgress(d.Firmware.Progress)
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.New(10, 15*time.Minute)
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if d.Config.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(zerologMiddleware(&d.Logger))
	r.Use(securityHeaders)

	// Dev CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	r.Use(c.Handler)

	open := requireClass(d.Gate, nil, access.Open)
	setup := requireClass(d.Gate, d.Limiter, access.Provisioning)
	protected := requireClass(d.Gate, d.Limiter, access.Protected)

	r.With(open).Get("/api/health", handleHealth)
	r.With(open).Get("/api/status", handleStatus(d))
	r.With(open).Get("/api/fallback/qr.png", handleFallbackQR(d.Conn))
	r.With(open).Handle("/metrics", d.Metrics.Handler(d.Conn))

	r.With(setup).Get("/api/setup", handleSetupState(d.Store))
	r.With(setup).Post("/api/setup", handleSetup(d.Gate))

	r.Group(func(pr chi.Router) {
		pr.Use(protected)
		pr.Get("/api/config", handleConfigGet(d.Store))
		pr.Post("/api/config", handleConfigPost(d.Store))
		pr.Post("/api/reboot", handleReboot(d.Restart))

		fw := &firmwareHandler{ctl: d.Firmware, metrics: d.Metrics}
		pr.Get("/api/firmware", fw.status)
		pr.Post("/api/firmware", fw.upload)
		pr.Post("/api/firmware/abort", fw.abort)
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"ok": true, "version": Version})
}
