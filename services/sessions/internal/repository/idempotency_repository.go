package repository

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyRepository remembers which bus messages were already applied so
// a redelivered event is acknowledged without being applied twice.
type IdempotencyRepository interface {
	// Claim records key and reports whether this is its first sighting.
	Claim(ctx context.Context, key string, ttl time.Duration) (first bool, err error)
	// Forget drops a claim whose work failed so a redelivery can retry it.
	Forget(ctx context.Context, key string) error
	CleanupExpired(ctx context.Context) (int64, error)
}

type idempotencyRepository struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepository(pool *pgxpool.Pool) IdempotencyRepository {
	return &idempotencyRepository{pool: pool}
}

func hashKey(key string) string {
	hasher := sha256.New()
	hasher.Write([]byte(key))
	return fmt.Sprintf("%x", hasher.Sum(nil))
}

func (r *idempotencyRepository) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	keyHash := hashKey(key)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	const q = `
		INSERT INTO processed_events (key_hash, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (key_hash) DO NOTHING`
	result, err := r.pool.Exec(ctx, q, keyHash, time.Now().Add(ttl))
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (r *idempotencyRepository) Forget(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, `DELETE FROM processed_events WHERE key_hash = $1`, hashKey(key))
	return err
}

func (r *idempotencyRepository) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, `DELETE FROM processed_events WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
