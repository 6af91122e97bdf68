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

	"github.com/diagnosis/lenslink/pkg/auth"
	"github.com/diagnosis/lenslink/pkg/cache"
	"github.com/diagnosis/lenslink/pkg/config"
	"github.com/diagnosis/lenslink/pkg/database"
	"github.com/diagnosis/lenslink/pkg/events"
	"github.com/diagnosis/lenslink/pkg/logger"
	mw "github.com/diagnosis/lenslink/pkg/middleware"
	"github.com/diagnosis/lenslink/pkg/payments"
	"github.com/diagnosis/lenslink/services/sessions/internal/handlers"
	"github.com/diagnosis/lenslink/services/sessions/internal/repository"
	"github.com/diagnosis/lenslink/services/sessions/internal/service"
	"github.com/diagnosis/lenslink/services/sessions/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Live positions and idempotent replays live in Redis
	rdb, err := cache.Connect(ctx, cfg.Redis)
	if err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Connect to event bus
	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL, "sessions")
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	var gateway payments.Gateway
	if cfg.Stripe.SecretKey != "" {
		gateway = payments.NewStripeGateway(cfg.Stripe.SecretKey)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, using in-memory payment gateway")
		gateway = payments.NewDevGateway()
	}

	// Initialize repositories
	bookingRepo := repository.NewBookingRepository(pool)
	editingRepo := repository.NewEditingRepository(pool)
	earningRepo := repository.NewEarningRepository(pool)
	idempotencyRepo := repository.NewIdempotencyRepository(pool)
	positions := repository.NewPositionStore(rdb)

	// Initialize services
	ledgerService := service.NewLedgerService(earningRepo, idempotencyRepo, eventBus, cfg, nil)
	bookingService := service.NewBookingService(bookingRepo, positions, gateway, ledgerService, eventBus, cfg, nil)
	meetingService := service.NewMeetingPointService(bookingRepo, eventBus, nil)
	locationService := service.NewLocationService(bookingRepo, positions, nil)
	editingService := service.NewEditingService(editingRepo, bookingRepo, gateway, ledgerService, eventBus, cfg, nil)

	// Payouts confirmed by the payments service
	if err := eventBus.QueueSubscribe(events.PayoutCompleted, cfg.NATS.Queue, func(msg *events.Message) {
		hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := ledgerService.HandlePayout(hctx, msg); err != nil {
			logger.ErrorContext(hctx, "Failed to apply payout", "event_id", msg.ID, "error", err)
		}
	}); err != nil {
		logger.Error("Failed to subscribe to payouts", "error", err)
		os.Exit(1)
	}

	// Initialize handlers
	h := handlers.New(bookingService, meetingService, locationService, editingService, ledgerService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("sessions"))
	r.Use(mw.Logging)
	r.Use(mw.Recover)
	r.Use(mw.Health)
	r.Use(mw.Metrics("sessions"))

	rateCounter := cache.NewRateCounter(rdb)
	r.Use(mw.RateLimit(rateCounter, mw.RateLimitConfig{
		Requests: cfg.Server.RequestsPerMinute,
		Window:   time.Minute,
		KeyFunc:  mw.ClientIPKey,
	}))

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireJWT(cfg.Auth.JWTSecret))
		r.Use(mw.IdempotencyMiddleware(cache.NewIdempotencyStore(rdb), func(r *http.Request) string {
			return auth.FromContext(r.Context()).Sub
		}))
		h.Routes(r, mw.RateLimit(rateCounter, mw.RateLimitConfig{
			Requests: publishBurst(cfg.Location.PublishInterval),
			Window:   time.Minute,
			KeyFunc: func(r *http.Request) []string {
				return []string{"location:" + auth.FromContext(r.Context()).Sub + ":" + chi.URLParam(r, "id")}
			},
		}))
	})

	srv := &http.Server{
		Addr:         ":8082",
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sweeper := worker.NewSweeper(bookingService, ledgerService, idempotencyRepo, cfg.Sessions.SweepInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting sessions service", "port", "8082")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down sessions service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Sessions service error", "error", err)
		os.Exit(1)
	}
}

// publishBurst allows twice the per-minute rate a well-behaved device
// produces at the configured publish interval.
func publishBurst(interval time.Duration) int {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return 2 * int(time.Minute/interval)
}
