// Package worker runs the sessions service's periodic background jobs.
package worker

import (
	"context"
	"time"

	"github.com/diagnosis/lenslink/pkg/logger"
)

type Expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Sweeper expires unanswered booking requests, repairs the earnings ledger
// and prunes old payout claims. Failures are logged and retried next tick.
type Sweeper struct {
	bookings Expirer
	ledger   Reconciler
	claims   Cleaner
	interval time.Duration
}

func NewSweeper(bookings Expirer, ledger Reconciler, claims Cleaner, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{bookings: bookings, ledger: ledger, claims: claims, interval: interval}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ctx = context.WithValue(ctx, logger.ServiceKey, "sessions-sweeper")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context) {
	if n, err := s.bookings.ExpireStale(ctx); err != nil {
		logger.ErrorContext(ctx, "Expiry sweep failed", "error", err)
	} else if n > 0 {
		logger.InfoContext(ctx, "Expired stale bookings", "count", n)
	}

	if n, err := s.ledger.Reconcile(ctx); err != nil {
		logger.ErrorContext(ctx, "Ledger reconcile failed", "error", err)
	} else if n > 0 {
		logger.InfoContext(ctx, "Repaired earnings", "count", n)
	}

	if s.claims == nil {
		return
	}
	if n, err := s.claims.CleanupExpired(ctx); err != nil {
		logger.WarnContext(ctx, "Claim cleanup failed", "error", err)
	} else if n > 0 {
		logger.DebugContext(ctx, "Pruned payout claims", "count", n)
	}
}
