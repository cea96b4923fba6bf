package report

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ShareStore maps opaque share tokens to report ids. Tokens expire on their
// own; issuing again within the window returns the existing token.
type ShareStore interface {
	IssueOrReuse(ctx context.Context, reportID uuid.UUID) (string, error)
	Resolve(ctx context.Context, token string) (uuid.UUID, error)
}

const (
	shareByReportPrefix = "report:share:"
	shareByTokenPrefix  = "report:share:token:"
)

type redisShareStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisShareStore(client *redis.Client, ttl time.Duration) ShareStore {
	return &redisShareStore{client: client, ttl: ttl}
}

func (s *redisShareStore) IssueOrReuse(ctx context.Context, reportID uuid.UUID) (string, error) {
	existing, err := s.client.Get(ctx, shareByReportPrefix+reportID.String()).Result()
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("lookup share token: %w", err)
	}

	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate share token: %w", err)
	}
	token := hex.EncodeToString(b)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, shareByReportPrefix+reportID.String(), token, s.ttl)
	pipe.Set(ctx, shareByTokenPrefix+token, reportID.String(), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("store share token: %w", err)
	}
	return token, nil
}

func (s *redisShareStore) Resolve(ctx context.Context, token string) (uuid.UUID, error) {
	raw, err := s.client.Get(ctx, shareByTokenPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrShareInvalid
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve share token: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrShareInvalid
	}
	return id, nil
}
