package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"robotrunner/api/checkout"
	"robotrunner/api/config"
	rcron "robotrunner/api/cron"
	"robotrunner/api/executor"
	"robotrunner/api/handler"
	"robotrunner/api/health"
	"robotrunner/api/hub"
	"robotrunner/api/logging"
	"robotrunner/api/runtime"
	"robotrunner/api/storage"
	"robotrunner/api/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	repo, err := checkout.New(checkout.Options{
		Dir:          cfg.RepoFolder,
		TestsDir:     cfg.TestsDir,
		URL:          cfg.GitRepo,
		Token:        cfg.GitToken,
		Branch:       cfg.GitBranch,
		Depth:        cfg.CloneDepth,
		CloneTimeout: cfg.CloneTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("checkout")
	}
	if _, err := repo.Sync(ctx); err != nil {
		log.Fatal().Err(err).Msg("initial repository sync")
	}

	publisher, err := storage.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("storage")
	}
	log.Info().Str("driver", cfg.StorageDriver).Msg("artifact storage ready")

	var runs store.Store
	if cfg.DatabaseURL != "" {
		db, err := store.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("database")
		}
		if err := store.Migrate(db); err != nil {
			log.Fatal().Err(err).Msg("migration")
		}
		runs = db
	} else {
		log.Warn().Msg("DATABASE_URL not set, run records are kept in memory")
		runs = store.NewMemory()
	}
	defer runs.Close()

	if n, err := runs.RecoverInFlight(ctx); err != nil {
		log.Warn().Err(err).Msg("recover in-flight runs")
	} else if n > 0 {
		log.Warn().Int64("runs", n).Msg("marked runs interrupted by restart as errored")
	}

	// Always include localhost, plus configured extras.
	allowedOrigins := []string{"http://localhost:5173", "http://localhost:3000"}
	for _, o := range strings.Split(cfg.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowedOrigins = append(allowedOrigins, o)
		}
	}

	hubCtx, hubCancel := context.WithCancel(ctx)
	defer hubCancel()
	ws := hub.New(allowedOrigins)
	go ws.Run(hubCtx)

	exec := executor.New(repo, runtime.NewExecRunner(), publisher, runs, ws, executor.Options{
		RobotExecutable:   cfg.RobotExecutable,
		RobotArgs:         cfg.RobotArgs,
		WorkDir:           cfg.WorkDir,
		RunTimeout:        cfg.RunTimeout,
		MaxRunTimeout:     cfg.MaxRunTimeout,
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
	})

	poller := health.NewPoller(cfg.HealthPollInterval,
		health.Check{Name: "repository", Fn: func(context.Context) error {
			if !repo.Ready() {
				return checkout.ErrUnavailable
			}
			return nil
		}},
		health.Check{Name: "storage", Fn: publisher.Healthy},
		health.Check{Name: "store", Fn: runs.Ping},
	)
	go poller.Run(hubCtx)

	scheduler := rcron.New(repo, ws)
	if err := scheduler.SetSchedule(cfg.RepoRefreshSchedule); err != nil {
		log.Fatal().Err(err).Msg("refresh schedule")
	}
	scheduler.Start()

	h := handler.New(exec, repo, runs, publisher, ws)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", handler.APIKeyHeader},
	}))

	r.Mount("/api", h.Routes(cfg.APIKey, Version))
	r.Handle("/metrics", promhttp.Handler())
	r.With(handler.RequireAPIKey(cfg.APIKey)).Get("/ws", ws.HandleConnect)

	srv := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("version", Version).Str("addr", srv.Addr).Str("repo", repo.Path()).Msg("robot runner listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RunTimeout+30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := exec.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("runs still in flight at exit")
	}
	// A pending scheduled refresh gives up once it gets the checkout.
	scheduler.Stop()
}
