package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riverqueue/river"
	"github.com/rs/cors"

	"github.com/festalink/backend/internal/app"
	"github.com/festalink/backend/internal/config"
	"github.com/festalink/backend/internal/database"
	"github.com/festalink/backend/internal/notify"
	"github.com/festalink/backend/internal/scheduler"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. make dev-up", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := database.Migrate(ctx, pool, logger); err != nil {
		slog.Error("Migration failed", "error", err)
		os.Exit(1)
	}

	mailer, err := notify.NewMailer(ctx, cfg.Mail, logger)
	if err != nil {
		slog.Error("Failed to create mailer", "error", err)
		os.Exit(1)
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, notify.NewEmailWorker(mailer, logger))

	a, err := app.New(ctx, cfg, pool, workers, logger)
	if err != nil {
		slog.Error("Failed to wire services", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	sched, err := scheduler.New(logger, a.Jobs()...)
	if err != nil {
		slog.Error("Failed to create scheduler", "error", err)
		os.Exit(1)
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(newMux(a))

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      corsHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start River client (sends queued email)
	if err := a.River.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}
	sched.Start()

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
		if err := sched.Shutdown(); err != nil {
			slog.Error("Scheduler shutdown failed", "error", err)
		}
		if err := a.River.Stop(shutdownCtx); err != nil {
			slog.Error("River stop failed", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
