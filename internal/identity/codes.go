package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/go-redis/redis/v8"
)

// CodeStore holds pending one-time codes, keyed by phone number. Codes are
// single-use and expire on their own via TTL. RecordFailure counts wrong
// guesses against the pending code and returns the running total.
type CodeStore interface {
	Put(ctx context.Context, phone, code string, ttl time.Duration) error
	Get(ctx context.Context, phone string) (string, error)
	Delete(ctx context.Context, phone string) error
	RecordFailure(ctx context.Context, phone string) (int, error)
}

// SessionStore tracks revoked session ids so sign-out takes effect before
// token expiry.
type SessionStore interface {
	Revoke(ctx context.Context, sessionID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, sessionID string) bool
}

const (
	codeKeyPrefix    = "otp:code:"
	attemptKeyPrefix = "otp:attempts:"
	revokedKeyPrefix = "session:revoked:"
)

// attemptWindow bounds how long a failure count lingers when no new code is
// issued. Longer than any code TTL so the counter outlives the code.
const attemptWindow = 15 * time.Minute

type redisCodeStore struct{ client *redis.Client }

func NewRedisCodeStore(client *redis.Client) CodeStore {
	return &redisCodeStore{client: client}
}

func (s *redisCodeStore) Put(ctx context.Context, phone, code string, ttl time.Duration) error {
	if err := s.client.Set(ctx, codeKeyPrefix+phone, code, ttl).Err(); err != nil {
		return fmt.Errorf("store otp code: %w", err)
	}
	// A fresh code resets the failure budget.
	return s.client.Del(ctx, attemptKeyPrefix+phone).Err()
}

func (s *redisCodeStore) Get(ctx context.Context, phone string) (string, error) {
	code, err := s.client.Get(ctx, codeKeyPrefix+phone).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCodeExpired
	}
	if err != nil {
		return "", fmt.Errorf("load otp code: %w", err)
	}
	return code, nil
}

func (s *redisCodeStore) Delete(ctx context.Context, phone string) error {
	return s.client.Del(ctx, codeKeyPrefix+phone, attemptKeyPrefix+phone).Err()
}

func (s *redisCodeStore) RecordFailure(ctx context.Context, phone string) (int, error) {
	key := attemptKeyPrefix + phone
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("count otp failure: %w", err)
	}
	if n == 1 {
		s.client.Expire(ctx, key, attemptWindow)
	}
	return int(n), nil
}

type redisSessionStore struct{ client *redis.Client }

func NewRedisSessionStore(client *redis.Client) SessionStore {
	return &redisSessionStore{client: client}
}

func (s *redisSessionStore) Revoke(ctx context.Context, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, revokedKeyPrefix+sessionID, "1", ttl).Err()
}

func (s *redisSessionStore) IsRevoked(ctx context.Context, sessionID string) bool {
	// A Redis failure fails closed for revocation checks: the token's own
	// expiry still bounds the session.
	n, err := s.client.Exists(ctx, revokedKeyPrefix+sessionID).Result()
	return err == nil && n > 0
}

// GenerateCode returns a random numeric code of the given length.
func GenerateCode(length int) (string, error) {
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}
