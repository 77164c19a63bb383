package cronrunner

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"experimentservice/internal/config"
	"experimentservice/internal/models"
)

type stubKeys struct {
	calls  int
	before time.Time
}

func (s *stubKeys) DeleteExpiredIdempotencyKeyTx(ctx context.Context, tx *gorm.DB, key string, now time.Time) error {
	return nil
}

func (s *stubKeys) ReserveIdempotencyKeyTx(ctx context.Context, tx *gorm.DB, item *models.IdempotencyKey) (bool, error) {
	return true, nil
}

func (s *stubKeys) GetIdempotencyKeyTx(ctx context.Context, tx *gorm.DB, key string) (*models.IdempotencyKey, error) {
	return nil, nil
}

func (s *stubKeys) SaveIdempotencyResponseTx(ctx context.Context, tx *gorm.DB, key string, status int, body []byte) error {
	return nil
}

func (s *stubKeys) DeleteExpiredIdempotencyKeys(ctx context.Context, now time.Time) (int64, error) {
	s.calls++
	s.before = now
	return 3, nil
}

func TestRegisterSkipsMissingAndDisabledJobs(t *testing.T) {
	r := New(zap.NewNop(), nil, context.Background())
	keys := &stubKeys{}
	cfg := config.CronConfig{
		IdempotencyCleanup: "0 */10 * * * *",
		TelemetryRollup:    "0 * * * * *",
		StaleSessions:      "",
	}
	if err := Register(r, cfg, Jobs{Idempotency: keys}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := len(r.cron.Entries()); got != 1 {
		t.Fatalf("entries=%d want=1", got)
	}
}

func TestRegisterRejectsBadSpec(t *testing.T) {
	r := New(nil, nil, nil)
	err := Register(r, config.CronConfig{IdempotencyCleanup: "not a spec"}, Jobs{Idempotency: &stubKeys{}})
	if err == nil {
		t.Fatalf("expected error for invalid spec")
	}
}

func TestCleanupJobUsesClock(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	keys := &stubKeys{}
	j := Jobs{Idempotency: keys, Now: func() time.Time { return now }}
	summary, err := j.cleanupIdempotency(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if keys.calls != 1 || !keys.before.Equal(now) {
		t.Fatalf("calls=%d before=%v", keys.calls, keys.before)
	}
	if summary["deleted"] != int64(3) {
		t.Fatalf("summary=%v", summary)
	}
}

func TestRunNowPassesDeadline(t *testing.T) {
	r := New(nil, nil, context.Background())
	var hadDeadline bool
	r.RunNow("manual", func(ctx context.Context) (map[string]any, error) {
		_, hadDeadline = ctx.Deadline()
		return nil, errors.New("boom")
	})
	if !hadDeadline {
		t.Fatalf("job context has no deadline")
	}
}
