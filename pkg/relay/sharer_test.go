package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/diagnosis/lenslink/pkg/schedule"
)

var (
	sessionStart = time.Date(2026, 3, 12, 14, 0, 0, 0, time.UTC)
	window       = schedule.Window{
		Start:               sessionStart,
		End:                 sessionStart.Add(2 * time.Hour),
		CoordinationOpensAt: sessionStart.Add(-schedule.CoordinationLead),
	}
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeTransport struct {
	mu     sync.Mutex
	status string
	ops    []string
	sent   []Fix
	polls  int
	fails  int

	// when set, Clear signals clearing and blocks until release is closed
	clearing chan struct{}
	release  chan struct{}
}

func (f *fakeTransport) record(op string) {
	f.mu.Lock()
	f.ops = append(f.ops, op)
	f.mu.Unlock()
}

func (f *fakeTransport) Session(context.Context, string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := window
	return &Session{Status: f.status, Window: &w}, nil
}

func (f *fakeTransport) Publish(_ context.Context, _ string, fix Fix) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("network down")
	}
	f.ops = append(f.ops, "publish")
	f.sent = append(f.sent, fix)
	return nil
}

func (f *fakeTransport) Clear(context.Context, string) error {
	if f.clearing != nil {
		close(f.clearing)
		<-f.release
	}
	f.record("clear")
	return nil
}

func (f *fakeTransport) Counterparty(context.Context, string) (*Counterparty, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return &Counterparty{Active: true, Role: "provider", Position: &Position{Role: "provider", Lat: 37.1, Lng: -122.1}}, nil
}

func (f *fakeTransport) snapshot() (ops []string, sent []Fix, polls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...), append([]Fix(nil), f.sent...), f.polls
}

func (f *fakeTransport) count(op string) int {
	ops, _, _ := f.snapshot()
	n := 0
	for _, o := range ops {
		if o == op {
			n++
		}
	}
	return n
}

// chanSource hands every fix sent on its channel to the sharer.
type chanSource struct {
	fixes   chan Fix
	deny    bool
	mu      sync.Mutex
	watches int
}

func newChanSource() *chanSource {
	return &chanSource{fixes: make(chan Fix)}
}

func (c *chanSource) Watch(ctx context.Context, onFix func(Fix)) error {
	c.mu.Lock()
	c.watches++
	c.mu.Unlock()
	if c.deny {
		return ErrPermissionDenied
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-c.fixes:
			onFix(f)
		}
	}
}

func (c *chanSource) watchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watches
}

// walkSource emits a fresh, far-apart fix every millisecond.
type walkSource struct{}

func (walkSource) Watch(ctx context.Context, onFix func(Fix)) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			onFix(Fix{Lat: 37 + float64(i)*0.01, Lng: -122, RecordedAt: sessionStart.Add(time.Duration(i) * time.Minute)})
		}
	}
}

func fastOptions(c *clock) Options {
	return Options{
		PublishInterval: 5 * time.Second,
		PublishDistance: 5,
		PollInterval:    5 * time.Millisecond,
		WindowRecheck:   5 * time.Millisecond,
		Now:             c.Now,
	}
}

func TestSharerAutoStartsOnceAndStopsWhenWindowCloses(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := &clock{now: window.CoordinationOpensAt.Add(-time.Minute)}
	tr := &fakeTransport{status: StatusConfirmed}
	s := NewSharer("b-1", tr, newChanSource(), fastOptions(c))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, s.Sharing(), "window not open yet")

	c.Set(window.CoordinationOpensAt)
	require.Eventually(t, s.Sharing, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.Counterparty() != nil }, time.Second, time.Millisecond)

	c.Set(window.End)
	require.Eventually(t, func() bool { return !s.Sharing() }, time.Second, time.Millisecond)
	assert.Equal(t, 1, tr.count("clear"))
	assert.Nil(t, s.Counterparty())

	// reopening does not auto-start a second time
	c.Set(sessionStart)
	time.Sleep(30 * time.Millisecond)
	assert.False(t, s.Sharing())

	cancel()
	require.NoError(t, <-done)
}

func TestSharerStopsWhenBookingLeavesConfirmed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := &clock{now: sessionStart}
	tr := &fakeTransport{status: StatusConfirmed}
	s := NewSharer("b-1", tr, newChanSource(), fastOptions(c))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, s.Sharing, time.Second, time.Millisecond)
	tr.mu.Lock()
	tr.status = "cancelled"
	tr.mu.Unlock()
	require.Eventually(t, func() bool { return !s.Sharing() }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSharingReportsTrueUntilPositionCleared(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := &clock{now: sessionStart}
	tr := &fakeTransport{
		status:   StatusConfirmed,
		clearing: make(chan struct{}),
		release:  make(chan struct{}),
	}
	s := NewSharer("b-1", tr, newChanSource(), fastOptions(c))

	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Counterparty() != nil }, time.Second, time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()

	<-tr.clearing
	assert.True(t, s.Sharing(), "still sharing while the position is being cleared")
	assert.Nil(t, s.Counterparty())

	close(tr.release)
	require.NoError(t, <-stopped)
	assert.False(t, s.Sharing())
	assert.Equal(t, 1, tr.count("clear"))
}

func TestPublishIsThrottledByIntervalAndDistance(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := &clock{now: sessionStart}
	tr := &fakeTransport{status: StatusConfirmed}
	src := newChanSource()
	s := NewSharer("b-1", tr, src, fastOptions(c))

	s.Start(context.Background())
	base := Fix{Lat: 37.0, Lng: -122.0, RecordedAt: sessionStart}
	src.fixes <- base
	// too soon, even though far away
	src.fixes <- Fix{Lat: 37.001, Lng: -122.0, RecordedAt: sessionStart.Add(time.Second)}
	// late enough but about a meter away
	src.fixes <- Fix{Lat: 37.00001, Lng: -122.0, RecordedAt: sessionStart.Add(6 * time.Second)}
	// late enough and about 55 meters away
	src.fixes <- Fix{Lat: 37.0005, Lng: -122.0, RecordedAt: sessionStart.Add(12 * time.Second)}

	require.Eventually(t, func() bool { return tr.count("publish") == 2 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	_, sent, _ := tr.snapshot()
	require.Len(t, sent, 2)
	assert.Equal(t, base, sent[0])
	assert.Equal(t, 37.0005, sent[1].Lat)
}

func TestPublishFailuresAreSwallowed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := &clock{now: sessionStart}
	tr := &fakeTransport{status: StatusConfirmed, fails: 1}
	src := newChanSource()
	s := NewSharer("b-1", tr, src, fastOptions(c))

	s.Start(context.Background())
	src.fixes <- Fix{Lat: 1, Lng: 1, RecordedAt: sessionStart}
	// the failed fix was not recorded as sent, so this one is not throttled
	src.fixes <- Fix{Lat: 2, Lng: 2, RecordedAt: sessionStart.Add(time.Second)}

	require.Eventually(t, func() bool { return tr.count("publish") == 1 }, time.Second, time.Millisecond)
	assert.True(t, s.Sharing())
	_, sent, _ := tr.snapshot()
	assert.Equal(t, 2.0, sent[0].Lat)
	require.NoError(t, s.Stop(context.Background()))
}

func TestPermissionDenialIsTerminalForPublishingOnly(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := &clock{now: sessionStart}
	tr := &fakeTransport{status: StatusConfirmed}
	src := newChanSource()
	src.deny = true
	s := NewSharer("b-1", tr, src, fastOptions(c))

	s.Start(context.Background())
	require.Eventually(t, s.PublishDenied, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		_, _, polls := tr.snapshot()
		return polls >= 3
	}, time.Second, time.Millisecond)
	assert.NotNil(t, s.Counterparty())
	require.NoError(t, s.Stop(context.Background()))

	// a restart in the same session does not ask the source again
	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Counterparty() != nil }, time.Second, time.Millisecond)
	assert.Equal(t, 1, src.watchCount())
	require.NoError(t, s.Stop(context.Background()))
}

func TestNoPublishAfterStopReturns(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := &clock{now: sessionStart}
	tr := &fakeTransport{status: StatusConfirmed}
	s := NewSharer("b-1", tr, walkSource{}, fastOptions(c))

	s.Start(context.Background())
	require.Eventually(t, func() bool { return tr.count("publish") >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	ops, _, _ := tr.snapshot()
	require.NotEmpty(t, ops)
	assert.Equal(t, "clear", ops[len(ops)-1])

	time.Sleep(20 * time.Millisecond)
	after, _, _ := tr.snapshot()
	assert.Equal(t, ops, after)

	// stopping twice is harmless
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, 1, tr.count("clear"))
}

func TestDistance(t *testing.T) {
	a := Fix{Lat: 37.7749, Lng: -122.4194}
	b := Fix{Lat: 34.0522, Lng: -118.2437}
	assert.InDelta(t, 559_000, Distance(a, b), 2_000)
	assert.Zero(t, Distance(a, a))
	assert.InDelta(t, 111.2, Distance(Fix{Lat: 0, Lng: 0}, Fix{Lat: 0.001, Lng: 0}), 0.5)
}
