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
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/diagnosis/lenslink/pkg/config"
	"github.com/diagnosis/lenslink/pkg/logger"
	mw "github.com/diagnosis/lenslink/pkg/middleware"
	"github.com/diagnosis/lenslink/services/gateway/internal/handlers"
	"github.com/diagnosis/lenslink/services/gateway/internal/proxy"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := handlers.New(
		proxy.NewServiceProxy("sessions", cfg.Gateway.SessionsURL),
		proxy.NewServiceProxy("payments", cfg.Gateway.PaymentsURL),
	)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("gateway"))
	r.Use(mw.Logging)
	r.Use(mw.Recover)

	// Browsers call the gateway directly; the webhook route ignores CORS.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Gateway.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Request-ID", "Idempotent-Replayed", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(mw.Health)
	r.Use(mw.Metrics("gateway"))

	h.Routes(r, cfg.Auth.JWTSecret)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting gateway service", "port", cfg.Server.Port,
			"sessions", cfg.Gateway.SessionsURL, "payments", cfg.Gateway.PaymentsURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gateway service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Gateway server error", "error", err)
		os.Exit(1)
	}
}
