package cronrunner

import (
	"context"
	"time"

	"experimentservice/internal/config"
	"experimentservice/internal/repository"
	"experimentservice/internal/service"
	"experimentservice/internal/telemetry"
	"experimentservice/internal/webhook"
)

// Jobs is everything the maintenance schedule needs. Nil members disable
// their job.
type Jobs struct {
	Idempotency repository.IdempotencyRepository
	Captures    *service.CaptureService
	Dispatcher  *webhook.Dispatcher
	Rollup      *telemetry.Rollup
	Archiver    *telemetry.Archiver
	StaleAfter  time.Duration
	Now         func() time.Time
}

func (j Jobs) now() time.Time {
	if j.Now != nil {
		return j.Now().UTC()
	}
	return time.Now().UTC()
}

// Register adds every configured job to r.
func Register(r *Runner, cfg config.CronConfig, j Jobs) error {
	jobs := []struct {
		name string
		spec string
		run  Job
		on   bool
	}{
		{"idempotency_cleanup", cfg.IdempotencyCleanup, j.cleanupIdempotency, j.Idempotency != nil},
		{"stale_capture_sessions", cfg.StaleSessions, j.failStaleSessions, j.Captures != nil},
		{"webhook_reclaim", cfg.WebhookReclaim, j.reclaimDeliveries, j.Dispatcher != nil},
		{"webhook_purge", cfg.WebhookPurge, j.purgeDeliveries, j.Dispatcher != nil},
		{"telemetry_rollup", cfg.TelemetryRollup, j.refreshRollups, j.Rollup != nil},
		{"telemetry_archive", cfg.TelemetryArchive, j.archiveTelemetry, j.Archiver != nil},
	}
	for _, job := range jobs {
		if !job.on {
			continue
		}
		if _, err := r.Add(job.name, job.spec, job.run); err != nil {
			return err
		}
	}
	return nil
}

func (j Jobs) cleanupIdempotency(ctx context.Context) (map[string]any, error) {
	n, err := j.Idempotency.DeleteExpiredIdempotencyKeys(ctx, j.now())
	return map[string]any{"deleted": n}, err
}

func (j Jobs) failStaleSessions(ctx context.Context) (map[string]any, error) {
	n, err := j.Captures.FailStale(ctx, j.StaleAfter)
	return map[string]any{"failed": n}, err
}

func (j Jobs) reclaimDeliveries(ctx context.Context) (map[string]any, error) {
	n, err := j.Dispatcher.Reclaim(ctx)
	return map[string]any{"reclaimed": n}, err
}

func (j Jobs) purgeDeliveries(ctx context.Context) (map[string]any, error) {
	n, err := j.Dispatcher.Purge(ctx)
	return map[string]any{"purged": n}, err
}

func (j Jobs) refreshRollups(ctx context.Context) (map[string]any, error) {
	n, err := j.Rollup.RunOnce(ctx)
	return map[string]any{"buckets": n}, err
}

func (j Jobs) archiveTelemetry(ctx context.Context) (map[string]any, error) {
	report, err := j.Archiver.RunOnce(ctx)
	return map[string]any{"buckets": report.Buckets, "records": report.Records, "deleted": report.Deleted}, err
}
