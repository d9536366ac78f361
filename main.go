package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskflow/database"
	"github.com/CrowderSoup/taskflow/handlers"
	"github.com/CrowderSoup/taskflow/services"
	"github.com/CrowderSoup/taskflow/workload"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := LoadConfig(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}

func run(ctx context.Context, cfg Config, log *logrus.Logger) error {
	// Initialize database
	db, err := database.InitDB(cfg.DatabasePath, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// Initialize services
	dataService := database.NewDataService(db)
	authService := services.NewAuthService(cfg.JWTSecret)
	engine := workload.NewEngine(dataService, log.WithField("component", "workload"))

	// Initialize WebSocket hub
	hub := services.NewHub(log.WithField("component", "hub"))
	go hub.Run(ctx)

	// Events go through redis when configured so every instance sees them
	var publisher services.Publisher = hub
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rc := redis.NewClient(opts)
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		broker := services.NewRedisBroker(rc, cfg.RedisChannel, hub, log.WithField("component", "broker"))
		go broker.Run(ctx)
		publisher = broker
	}

	var notifiers []services.Notifier
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, services.NewSlackNotifier(cfg.SlackWebhookURL, nil))
	}
	if cfg.JiraEnabled() {
		notifiers = append(notifiers, services.NewJiraNotifier(cfg.JiraSiteURL, cfg.JiraToken, cfg.JiraProjectKey, nil))
	}
	dispatcher := services.NewDispatcher(log.WithField("component", "notifier"), notifiers...)
	defer dispatcher.Wait()

	scheduler := services.NewReportScheduler(dataService, engine, cfg.ReportInterval, log.WithField("component", "scheduler"))
	go scheduler.Run(ctx)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService, dataService, cfg.DevTokens, log)
	dataHandler := handlers.NewDataHandler(dataService, engine, hub, publisher, dispatcher, log)
	r := handlers.NewRouter(authHandler, dataHandler, handlers.NewAuthMiddleware(authService, log), log)

	// Setup CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Origin"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      c.Handler(r),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
