package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"experimentservice/internal/apperr"
)

// Cache fronts the key table for replays. Entries are written only after the
// guarded transaction committed; the table stays the source of truth.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type RedisCache struct {
	Client *redis.Client
	Prefix string
}

func NewRedisCache(opt *redis.Options, prefix string) *RedisCache {
	return &RedisCache{Client: redis.NewClient(opt), Prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.Client.Get(ctx, c.Prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.Client.Set(ctx, c.Prefix+key, value, ttl).Err()
}

func (c *RedisCache) Close() error {
	if c == nil || c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

type cachedEntry struct {
	UserID string `json:"user_id"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Hash   string `json:"hash"`
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

func (g *Guard) fromCache(ctx context.Context, key string, req Request, hash string) (Response, bool, error) {
	if g.Cache == nil {
		return Response{}, false, nil
	}
	raw, ok, err := g.Cache.Get(ctx, key)
	if err != nil {
		if g.Logger != nil {
			g.Logger.Warn("idempotency cache get failed", zap.String("key", key), zap.Error(err))
		}
		return Response{}, false, nil
	}
	if !ok {
		return Response{}, false, nil
	}
	var entry cachedEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Response{}, false, nil
	}
	if err := matches(entry.UserID, entry.Method, entry.Path, entry.Hash, req, hash); err != nil {
		if apperr.IsKind(err, apperr.KindConflict) {
			g.Metrics.Idempotency("conflict")
		}
		return Response{}, false, err
	}
	g.Metrics.Idempotency("replayed")
	return Response{Status: entry.Status, Body: entry.Body, Replayed: true}, true, nil
}

func (g *Guard) toCache(ctx context.Context, key string, req Request, hash string, resp Response) {
	if g.Cache == nil {
		return
	}
	raw, err := json.Marshal(cachedEntry{
		UserID: req.UserID,
		Method: req.Method,
		Path:   req.Path,
		Hash:   hash,
		Status: resp.Status,
		Body:   resp.Body,
	})
	if err != nil {
		return
	}
	if err := g.Cache.Set(ctx, key, raw, g.ttl()); err != nil && g.Logger != nil {
		g.Logger.Warn("idempotency cache set failed", zap.String("key", key), zap.Error(err))
	}
}
