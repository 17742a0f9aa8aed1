package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	donorhandler "lifeconnect/internal/donor/handler"
	donorservice "lifeconnect/internal/donor/service"
	donorstore "lifeconnect/internal/donor/store"
	emergencyhandler "lifeconnect/internal/emergency/handler"
	emergencyservice "lifeconnect/internal/emergency/service"
	emergencystore "lifeconnect/internal/emergency/store"
	jwttoken "lifeconnect/internal/jwt_token"
	"lifeconnect/internal/livesync"
	matchingservice "lifeconnect/internal/matching/service"
	"lifeconnect/internal/notify"
	"lifeconnect/internal/platform/config"
	"lifeconnect/internal/platform/httpserver"
	"lifeconnect/internal/platform/logger"
	"lifeconnect/internal/platform/metrics"
	platformredis "lifeconnect/internal/platform/redis"
	"lifeconnect/internal/routing"
	"lifeconnect/internal/transport/http/shared"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Live-update backbone. Redis fans change events out across replicas;
	// without it a single-process in-memory bus serves the same role.
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	var bus livesync.Bus
	var scheduler notify.Scheduler
	if redisClient != nil {
		defer redisClient.Close()
		bus = livesync.NewRedisBus(redisClient.Client, log)
		scheduler = notify.NewRedisScheduler(redisClient.Client)
		log.Info("redis connected", "scheduler", "redis", "bus", "redis")
	} else {
		bus = livesync.NewMemoryBus()
		scheduler = notify.NewMemoryScheduler()
		log.Info("redis not configured, using in-process bus and scheduler")
	}

	var donors donorstore.Store
	var requests emergencystore.Store
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		donors = donorstore.NewPostgres(db, donorstore.WithPostgresEvents(bus))
		requests = emergencystore.NewPostgres(db, emergencystore.WithPostgresEvents(bus))
		log.Info("using postgres stores")
	} else {
		donors = donorstore.NewInMemory(donorstore.WithEvents(bus))
		requests = emergencystore.NewInMemory(emergencystore.WithEvents(bus))
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	var push notify.PushSender = notify.NopSender{}
	if cfg.FCMProjectID != "" {
		push = notify.NewFCMClient(cfg.FCMProjectID, notify.StaticTokenSource(cfg.FCMAccessToken))
		log.Info("push notifications enabled", "project", cfg.FCMProjectID)
	}

	dispatcher := notify.NewDispatcher(donors, push, log,
		notify.WithScheduler(scheduler, cfg.NotifyTTL),
		notify.WithMetrics(m),
		notify.WithClickLink(cfg.PushClickLink),
	)

	policy, err := notify.ParsePolicy(cfg.DispatchPolicy)
	if err != nil {
		return err
	}

	matchingOpts := []matchingservice.Option{
		matchingservice.WithShortlistSize(cfg.ShortlistSize),
		matchingservice.WithScheduler(scheduler),
		matchingservice.WithMetrics(m),
	}
	if cfg.MapsAPIKey != "" {
		matchingOpts = append(matchingOpts, matchingservice.WithEstimator(
			routing.NewGoogleClient(cfg.MapsAPIKey, routing.WithBaseURL(cfg.MapsBaseURL))))
		log.Info("travel-time ranking enabled")
	} else {
		log.Warn("MAPS_API_KEY not set, ranking by geographic distance only")
	}

	donorSvc := donorservice.New(donors, log, donorservice.WithMetrics(m))
	matchingSvc := matchingservice.New(donors, requests, dispatcher, log, matchingOpts...)
	emergencySvc := emergencyservice.New(requests, donors, dispatcher, log,
		emergencyservice.WithDefaultPolicy(policy),
		emergencyservice.WithScheduler(scheduler),
		emergencyservice.WithMetrics(m),
	)

	jwtSvc := jwttoken.NewService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	view := livesync.NewView(donors, requests, log)
	reaper := notify.NewReaper(donors, scheduler, cfg.ReaperInterval, log, m)

	router := chi.NewRouter()
	donorhandler.New(donorSvc, matchingSvc, log, jwtSvc).Register(router)
	emergencyhandler.New(emergencySvc, matchingSvc, bus, log, jwtSvc).Register(router)
	router.Get("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		shared.WriteJSON(w, http.StatusOK, view.Snapshot())
	})
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				shared.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down", "postgres": err.Error()})
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				shared.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down", "redis": err.Error()})
				return
			}
		}
		shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting lifeconnect", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return reaper.Run(gctx)
	})
	g.Go(func() error {
		return view.Run(gctx, bus)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
