package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/diagnosis/lenslink/pkg/config"
	"github.com/diagnosis/lenslink/pkg/logger"
)

type Options struct {
	PublishInterval time.Duration
	PublishDistance float64 // meters
	PollInterval    time.Duration
	WindowRecheck   time.Duration
	Now             func() time.Time
}

func OptionsFromConfig(cfg config.LocationConfig) Options {
	return Options{
		PublishInterval: cfg.PublishInterval,
		PublishDistance: cfg.PublishDistance,
		PollInterval:    cfg.PollInterval,
		WindowRecheck:   cfg.WindowRecheck,
	}
}

func (o Options) withDefaults() Options {
	if o.PublishInterval <= 0 {
		o.PublishInterval = 5 * time.Second
	}
	if o.PublishDistance < 0 {
		o.PublishDistance = 0
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.WindowRecheck <= 0 {
		o.WindowRecheck = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Sharer runs location sharing for one device on one booking. It is not
// reusable across bookings; create a new one per booking screen.
type Sharer struct {
	bookingID string
	transport Transport
	source    LocationSource
	opts      Options

	// ctl serializes Start and Stop.
	ctl sync.Mutex

	mu            sync.Mutex
	cancel        context.CancelFunc
	group         *errgroup.Group
	autoStarted   bool
	publishDenied bool
	lastSent      *Fix
	counterparty  *Counterparty
}

func NewSharer(bookingID string, transport Transport, source LocationSource, opts Options) *Sharer {
	return &Sharer{
		bookingID: bookingID,
		transport: transport,
		source:    source,
		opts:      opts.withDefaults(),
	}
}

// Run re-evaluates the booking's window now and then every WindowRecheck.
// Sharing starts automatically the first time the window is seen open and
// stops when it closes or the booking leaves confirmed. When ctx ends any
// running loops are stopped before Run returns.
func (s *Sharer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.WindowRecheck)
	defer ticker.Stop()

	for {
		s.evaluate(ctx)
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.Stop(stopCtx); err != nil {
				logger.WarnContext(stopCtx, "Failed to clear position on exit", "booking_id", s.bookingID, "error", err)
			}
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sharer) evaluate(ctx context.Context) {
	sess, err := s.transport.Session(ctx, s.bookingID)
	if err != nil {
		if ctx.Err() == nil {
			logger.WarnContext(ctx, "Window check failed", "booking_id", s.bookingID, "error", err)
		}
		return
	}
	open := sess.Open(s.opts.Now())

	s.mu.Lock()
	running := s.cancel != nil
	autoStart := open && !running && !s.autoStarted
	s.mu.Unlock()

	switch {
	case autoStart:
		logger.InfoContext(ctx, "Coordination window open, sharing location", "booking_id", s.bookingID)
		s.Start(ctx)
	case !open && running:
		logger.InfoContext(ctx, "Coordination window closed, stopping", "booking_id", s.bookingID, "status", sess.Status)
		if err := s.Stop(ctx); err != nil {
			logger.WarnContext(ctx, "Failed to clear position", "booking_id", s.bookingID, "error", err)
		}
	}
}

// Start begins publishing and polling. It is a no-op while already running.
// The loops live until Stop is called or ctx is done.
func (s *Sharer) Start(ctx context.Context) {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	s.autoStarted = true

	loopCtx, cancel := context.WithCancel(ctx)
	g := &errgroup.Group{}
	if !s.publishDenied {
		g.Go(func() error {
			s.publish(loopCtx)
			return nil
		})
	}
	g.Go(func() error {
		s.poll(loopCtx)
		return nil
	})
	s.cancel, s.group = cancel, g
}

// Stop cancels both loops, waits for them to exit and then deletes the
// caller's position. Once it returns no further publish is issued.
// Sharing keeps reporting true until the position is cleared.
func (s *Sharer) Stop(ctx context.Context) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	cancel, g := s.cancel, s.group
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	_ = g.Wait()

	s.mu.Lock()
	s.lastSent = nil
	s.counterparty = nil
	s.mu.Unlock()

	err := s.transport.Clear(ctx, s.bookingID)

	s.mu.Lock()
	s.cancel, s.group = nil, nil
	s.mu.Unlock()
	return err
}

func (s *Sharer) publish(ctx context.Context) {
	err := s.source.Watch(ctx, func(fix Fix) {
		if ctx.Err() != nil {
			return
		}
		if fix.RecordedAt.IsZero() {
			fix.RecordedAt = s.opts.Now()
		}
		if !s.due(fix) {
			return
		}
		if err := s.transport.Publish(ctx, s.bookingID, fix); err != nil {
			if ctx.Err() == nil {
				logger.WarnContext(ctx, "Location publish failed", "booking_id", s.bookingID, "error", err)
			}
			return
		}
		s.mu.Lock()
		s.lastSent = &fix
		s.mu.Unlock()
	})

	switch {
	case errors.Is(err, ErrPermissionDenied):
		s.mu.Lock()
		s.publishDenied = true
		s.mu.Unlock()
		logger.WarnContext(ctx, "Location permission denied, publishing disabled", "booking_id", s.bookingID)
	case err != nil && ctx.Err() == nil:
		logger.WarnContext(ctx, "Location source stopped", "booking_id", s.bookingID, "error", err)
	}
}

// due applies the publish throttle: a fix goes out only when both the
// interval and the distance since the last sent fix are reached.
func (s *Sharer) due(fix Fix) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSent == nil {
		return true
	}
	if fix.RecordedAt.Sub(s.lastSent.RecordedAt) < s.opts.PublishInterval {
		return false
	}
	return Distance(*s.lastSent, fix) >= s.opts.PublishDistance
}

func (s *Sharer) poll(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		cp, err := s.transport.Counterparty(ctx, s.bookingID)
		if err != nil {
			if ctx.Err() == nil {
				logger.DebugContext(ctx, "Counterparty poll failed", "booking_id", s.bookingID, "error", err)
			}
		} else {
			s.mu.Lock()
			if ctx.Err() == nil {
				s.counterparty = cp
			}
			s.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Counterparty returns the last polled view of the other party, or nil when
// nothing has been polled since sharing started.
func (s *Sharer) Counterparty() *Counterparty {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counterparty == nil {
		return nil
	}
	cp := *s.counterparty
	return &cp
}

func (s *Sharer) Sharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// PublishDenied reports whether the device refused location access during
// this Sharer's lifetime.
func (s *Sharer) PublishDenied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishDenied
}
