package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrRequestInFlight = errors.New("identical booking request is already in flight")
)

const pendingPrefix = "pending:"

// Idempotency lets the booking coordinator recognize a retried request whose
// first attempt may have committed. A key is reserved before the slot claim,
// bound to the appointment ID on success, and released on failure.
type Idempotency interface {
	// Begin reserves key for this attempt. On a fresh key it returns a token
	// the caller must use to abort. If a previous attempt already completed it
	// returns that attempt's appointment ID instead. If a previous attempt is
	// still running it returns ErrRequestInFlight.
	Begin(ctx context.Context, key string) (token string, existingID string, err error)
	Complete(ctx context.Context, key, appointmentID string) error
	Abort(ctx context.Context, key, token string) error
}

type redisIdempotency struct {
	client     *redis.Client
	pendingTTL time.Duration
	resultTTL  time.Duration
}

// NewRedisIdempotency creates a store keyed by caller-scoped request IDs.
func NewRedisIdempotency(client *redis.Client, resultTTL time.Duration) Idempotency {
	return &redisIdempotency{
		client:     client,
		pendingTTL: 30 * time.Second,
		resultTTL:  resultTTL,
	}
}

func (s *redisIdempotency) key(key string) string {
	return fmt.Sprintf("idem:booking:%s", key)
}

func (s *redisIdempotency) Begin(ctx context.Context, key string) (string, string, error) {
	token := uuid.NewString()

	ok, err := s.client.SetNX(ctx, s.key(key), pendingPrefix+token, s.pendingTTL).Result()
	if err != nil {
		return "", "", fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return token, "", nil
	}

	val, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Reservation expired between SetNX and Get; treat as in flight
			// and let the caller retry.
			return "", "", ErrRequestInFlight
		}
		return "", "", fmt.Errorf("read idempotency key: %w", err)
	}

	if strings.HasPrefix(val, pendingPrefix) {
		return "", "", ErrRequestInFlight
	}

	return "", val, nil
}

func (s *redisIdempotency) Complete(ctx context.Context, key, appointmentID string) error {
	if err := s.client.Set(ctx, s.key(key), appointmentID, s.resultTTL).Err(); err != nil {
		return fmt.Errorf("store idempotency result: %w", err)
	}
	return nil
}

var abortScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// Abort deletes the reservation only if it still belongs to this attempt, so
// a slow aborter cannot wipe out a newer attempt's result.
func (s *redisIdempotency) Abort(ctx context.Context, key, token string) error {
	_, err := abortScript.Run(ctx, s.client, []string{s.key(key)}, pendingPrefix+token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
