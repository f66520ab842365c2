package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"traffic-map/internal/platform/config"
	"traffic-map/internal/platform/live"
	"traffic-map/internal/platform/logger"
	"traffic-map/internal/platform/metrics"
	"traffic-map/internal/player"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

const (
	shutdownTimeout = 10 * time.Second
	startupTimeout  = 30 * time.Second
)

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	apiURL := config.GetEnv("TRAFFIC_API_URL", "http://localhost:8000/api/map")
	sliderMax := config.GetEnvInt("SLIDER_MAX", player.DefaultSliderMax)
	interval := config.GetEnvDuration("PLAYBACK_INTERVAL", player.DefaultPlaybackInterval)
	radius := config.GetEnvInt("WINDOW_RADIUS_MINUTES", player.DefaultWindowRadiusMinutes)
	buildingsLimit := config.GetEnvInt("BUILDINGS_LIMIT", player.DefaultBuildingsLimit)
	displayTZ := config.GetEnv("DISPLAY_TZ", "Europe/Rome")
	labels := config.GetEnvBool("LABELS_ENABLED", false)
	httpTimeout := config.GetEnvDuration("HTTP_TIMEOUT", 0)
	breakerFailures := config.GetEnvInt("BREAKER_FAILURES", 5)
	origins := config.GetEnvList("CORS_ORIGINS", []string{"*"})
	ratePerMinute := config.GetEnvInt("RATE_LIMIT_PER_MINUTE", 600)

	log := logger.New(logLevel, logFormat)

	loc, err := time.LoadLocation(displayTZ)
	if err != nil {
		log.Warn("unknown display time zone, using UTC", "tz", displayTZ, "error", err)
		loc = time.UTC
	}

	met := metrics.New()
	client := player.NewClient(player.ClientConfig{
		BaseURL:         apiURL,
		HTTPClient:      &http.Client{Timeout: httpTimeout},
		BreakerFailures: uint32(max(breakerFailures, 1)),
		Metrics:         met,
	})

	var svc *player.Service
	hub := live.NewHub(log, met, func() any { return svc.Snapshot() }, origins)
	svc = player.NewService(client, player.ServiceConfig{
		Timeline: player.TimelineConfig{SliderMax: sliderMax, Interval: interval},
		Loader: player.LoaderConfig{
			WindowRadiusMinutes: radius,
			LabelsVisible:       labels,
		},
		BuildingsLimit: buildingsLimit,
		Location:       loc,
	}, log, met, player.BroadcastRenderer{B: hub})
	h := player.NewHandler(svc, log)

	startCtx, cancelStart := context.WithTimeout(context.Background(), startupTimeout)
	if err := svc.Start(startCtx); err != nil {
		log.Error("player start interrupted", "error", err)
	}
	cancelStart()

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetLiveClients(hub.ClientCount()) }).ServeHTTP(w, r)
	})
	r.Handle("/ws", hub)
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(ratePerMinute, time.Minute))
		h.Routes(r)
	})

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"traffic_api", apiURL,
		"slider_max", sliderMax,
		"playback_interval", interval.String(),
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	svc.Close()
	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
