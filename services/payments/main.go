package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/diagnosis/lenslink/pkg/config"
	"github.com/diagnosis/lenslink/pkg/events"
	"github.com/diagnosis/lenslink/pkg/logger"
	mw "github.com/diagnosis/lenslink/pkg/middleware"
	"github.com/diagnosis/lenslink/services/payments/internal/webhook"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Stripe.WebhookSecret == "" {
		logger.Error("STRIPE_WEBHOOK_SECRET is required")
		os.Exit(1)
	}

	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL, "payments")
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("payments"))
	r.Use(mw.Logging)
	r.Use(mw.Recover)
	r.Use(mw.Health)
	r.Use(mw.Metrics("payments"))

	r.Method(http.MethodPost, "/webhook", webhook.NewHandler(cfg.Stripe.WebhookSecret, eventBus))

	srv := &http.Server{
		Addr:         ":8085",
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting payments service", "port", "8085")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down payments service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Payments service error", "error", err)
		os.Exit(1)
	}
}
