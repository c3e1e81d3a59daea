package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/aliexpress-credential-scraper/internal/browser"
	"github.com/maltedev/aliexpress-credential-scraper/internal/config"
	"github.com/maltedev/aliexpress-credential-scraper/internal/credential-api/api"
	"github.com/maltedev/aliexpress-credential-scraper/internal/credential-api/events"
	"github.com/maltedev/aliexpress-credential-scraper/internal/credential-api/jobs"
	"github.com/maltedev/aliexpress-credential-scraper/internal/database"
	"github.com/maltedev/aliexpress-credential-scraper/internal/scraper"
	"github.com/maltedev/aliexpress-credential-scraper/internal/session"
	"github.com/maltedev/aliexpress-credential-scraper/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	b, err := browser.New(&browser.Options{
		Headless:       cfg.Browser.Headless,
		Timeout:        cfg.Browser.Timeout,
		UserAgent:      cfg.Browser.UserAgent,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		Proxy: &browser.ProxyConfig{
			Server:   cfg.Proxy.Server,
			Username: cfg.Proxy.Username,
			Password: cfg.Proxy.Password,
		},
	})
	if err != nil {
		log.Error("failed to initialize browser", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	publisher := events.NewPublisher(db, log)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	relay := database.NewRelay(db, redisClient, log, database.RelayConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    100,
	})
	go func() {
		if err := relay.Start(ctx); err != nil && err != context.Canceled {
			log.Error("relay stopped with error", "error", err)
		}
	}()

	sessions := session.NewStore(cfg.Session.File, cfg.Session.Validity,
		session.WithMissingTolerance(cfg.Session.MissingTolerance))
	orchestrator := scraper.NewOrchestrator(b, sessions, cfg)

	repo := database.NewCredentialRepository(db)
	jobManager := jobs.NewManager(db, orchestrator, publisher, log)
	go jobManager.StartWorker(ctx)

	handlers := api.NewHandlers(repo, jobManager, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		pendingCount, _ := relay.GetPendingCount(context.Background())
		deadLetterCount, _ := relay.GetDeadLetterCount(context.Background())

		health := map[string]interface{}{
			"status": "ok",
			"outbox": map[string]interface{}{
				"pending":     pendingCount,
				"dead_letter": deadLetterCount,
			},
		}

		status := http.StatusOK
		if pendingCount > 1000 {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetterCount > 100 {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}

		w.WriteHeader(status)
		json.NewEncoder(w).Encode(health)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/scraper", func(r chi.Router) {
			r.Post("/jobs", handlers.CreateJob)
			r.Get("/jobs", handlers.ListJobs)
			r.Get("/jobs/{jobID}", handlers.GetJob)
			r.Get("/jobs/{jobID}/targets", handlers.GetJobTargets)
		})

		r.Route("/credentials", func(r chi.Router) {
			r.Get("/", handlers.ListResults)
			r.Get("/{storeID}", handlers.GetResult)
		})

		r.Get("/stats", handlers.GetStats)
	})

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
