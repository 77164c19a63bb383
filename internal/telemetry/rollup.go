package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"experimentservice/internal/repository"
)

type RollupStore interface {
	RefreshRollups(ctx context.Context, since time.Time) (int64, error)
}

// Rollup re-aggregates the lookback window into one-minute buckets. Running it
// repeatedly over the same window is safe.
type Rollup struct {
	Repo     RollupStore
	Lookback time.Duration
	Logger   *zap.Logger
	Now      func() time.Time
}

func (r *Rollup) RunOnce(ctx context.Context) (int64, error) {
	if r == nil || r.Repo == nil {
		return 0, repository.ErrUnavailable
	}
	lookback := r.Lookback
	if lookback <= 0 {
		lookback = 2 * time.Hour
	}
	now := time.Now().UTC()
	if r.Now != nil {
		now = r.Now()
	}
	since := now.Add(-lookback).Truncate(time.Minute)
	n, err := r.Repo.RefreshRollups(ctx, since)
	if err != nil {
		return 0, err
	}
	if r.Logger != nil {
		r.Logger.Debug("telemetry rollups refreshed", zap.Time("since", since), zap.Int64("buckets", n))
	}
	return n, nil
}
