// Command devicesim plays one party's phone for a booking: it walks a
// simulated GPS track, shares it through the gateway while the coordination
// window is open and logs what it sees of the other party.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/diagnosis/lenslink/pkg/auth"
	"github.com/diagnosis/lenslink/pkg/config"
	"github.com/diagnosis/lenslink/pkg/logger"
	"github.com/diagnosis/lenslink/pkg/relay"
)

func main() {
	cfg := config.Load()

	var (
		apiURL    = flag.String("api", "http://localhost:8080/v1", "gateway base URL including the version prefix")
		bookingID = flag.String("booking", "", "booking to share on (required)")
		token     = flag.String("token", "", "bearer token; minted from JWT_SECRET when empty")
		sub       = flag.String("sub", "", "user id to mint a dev token for")
		role      = flag.String("role", auth.RoleCustomer, "role to mint a dev token for")
		lat       = flag.Float64("lat", 37.7694, "starting latitude")
		lng       = flag.Float64("lng", -122.4862, "starting longitude")
		step      = flag.Float64("step", 8, "meters walked per tick")
		tick      = flag.Duration("tick", time.Second, "how often the device reports a fix")
		deny      = flag.Bool("deny", false, "simulate a refused location permission")
	)
	flag.Parse()

	if *bookingID == "" {
		logger.Error("-booking is required")
		os.Exit(2)
	}

	bearer := *token
	if bearer == "" {
		if *sub == "" {
			logger.Error("either -token or -sub is required")
			os.Exit(2)
		}
		minted, err := auth.NewAccessToken(*sub, "", *role, cfg.Auth.JWTSecret, 12*time.Hour)
		if err != nil {
			logger.Error("Failed to mint dev token", "error", err)
			os.Exit(1)
		}
		bearer = minted
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = context.WithValue(ctx, logger.DeviceKey, *role+"@"+*bookingID)

	source := &walk{lat: *lat, lng: *lng, step: *step, tick: *tick, deny: *deny}
	sharer := relay.NewSharer(*bookingID, relay.NewHTTPTransport(*apiURL, bearer), source, relay.OptionsFromConfig(cfg.Location))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sharer.Run(gctx)
	})
	g.Go(func() error {
		report(gctx, sharer, cfg.Location.PollInterval)
		return nil
	})

	logger.InfoContext(ctx, "Device simulator running", "booking_id", *bookingID, "api", *apiURL)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Device simulator failed", "error", err)
		os.Exit(1)
	}
}

func report(ctx context.Context, s *relay.Sharer, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cp := s.Counterparty()
		switch {
		case !s.Sharing():
			logger.InfoContext(ctx, "Not sharing", "publish_denied", s.PublishDenied())
		case cp == nil || cp.Position == nil:
			logger.InfoContext(ctx, "Sharing; counterparty not visible yet", "publish_denied", s.PublishDenied())
		default:
			logger.InfoContext(ctx, "Counterparty",
				"role", cp.Role,
				"lat", cp.Position.Lat,
				"lng", cp.Position.Lng,
				"updated_at", cp.Position.UpdatedAt,
			)
		}
	}
}
