package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/diagnosis/lenslink/services/sessions/internal/domain"
)

// PositionStore holds the latest live position per (booking, role). Nothing
// older than the current fix is kept.
type PositionStore interface {
	// Upsert writes p unless a newer fix or a later stop is already
	// recorded. applied is false when the write lost.
	Upsert(ctx context.Context, p domain.LivePosition, ttl time.Duration) (applied bool, err error)
	Get(ctx context.Context, bookingID string, role domain.Role) (*domain.LivePosition, error)
	// Delete removes the position and rejects any fix recorded at or
	// before stoppedAt.
	Delete(ctx context.Context, bookingID string, role domain.Role, stoppedAt time.Time, ttl time.Duration) error
	ClearBooking(ctx context.Context, bookingID string) error
}

type redisPositionStore struct {
	rdb *redis.Client
}

func NewPositionStore(rdb *redis.Client) PositionStore {
	return &redisPositionStore{rdb: rdb}
}

func positionKey(bookingID string, role domain.Role) string {
	return fmt.Sprintf("livepos:%s:%s", bookingID, role)
}

func stopKey(bookingID string, role domain.Role) string {
	return fmt.Sprintf("livepos:%s:%s:stopped", bookingID, role)
}

type storedPosition struct {
	domain.LivePosition
	TS int64 `json:"ts"`
}

// KEYS[1] position, KEYS[2] stop marker; ARGV json, ts (ms), ttl (ms).
var upsertScript = redis.NewScript(`
local stopped = redis.call('GET', KEYS[2])
if stopped and tonumber(stopped) >= tonumber(ARGV[2]) then
	return 0
end
local current = redis.call('GET', KEYS[1])
if current then
	local ok, doc = pcall(cjson.decode, current)
	if ok and doc.ts and tonumber(doc.ts) > tonumber(ARGV[2]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

func (s *redisPositionStore) Upsert(ctx context.Context, p domain.LivePosition, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	ts := p.UpdatedAt.UnixMilli()
	payload, err := json.Marshal(storedPosition{LivePosition: p, TS: ts})
	if err != nil {
		return false, err
	}

	keys := []string{positionKey(p.BookingID, p.Role), stopKey(p.BookingID, p.Role)}
	n, err := upsertScript.Run(ctx, s.rdb, keys, payload, ts, ttlMillis(ttl)).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *redisPositionStore) Get(ctx context.Context, bookingID string, role domain.Role) (*domain.LivePosition, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	raw, err := s.rdb.Get(ctx, positionKey(bookingID, role)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sp storedPosition
	if err := json.Unmarshal(raw, &sp); err != nil {
		return nil, fmt.Errorf("decode live position: %w", err)
	}
	return &sp.LivePosition, nil
}

func (s *redisPositionStore) Delete(ctx context.Context, bookingID string, role domain.Role, stoppedAt time.Time, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, positionKey(bookingID, role))
		pipe.Set(ctx, stopKey(bookingID, role), stoppedAt.UnixMilli(), time.Duration(ttlMillis(ttl))*time.Millisecond)
		return nil
	})
	return err
}

func (s *redisPositionStore) ClearBooking(ctx context.Context, bookingID string) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	return s.rdb.Del(ctx,
		positionKey(bookingID, domain.RoleCustomer),
		positionKey(bookingID, domain.RoleProvider),
	).Err()
}

// Redis rejects a zero or negative expiry.
func ttlMillis(ttl time.Duration) int64 {
	if ms := ttl.Milliseconds(); ms > 0 {
		return ms
	}
	return 1000
}
