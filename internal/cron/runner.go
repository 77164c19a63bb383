package cronrunner

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"experimentservice/internal/metrics"
)

// Job is one maintenance task. It returns a short summary for the log line.
type Job func(ctx context.Context) (map[string]any, error)

type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	metrics *metrics.Metrics
	baseCtx context.Context
	timeout time.Duration
}

func New(logger *zap.Logger, m *metrics.Metrics, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
		),
		logger:  logger,
		metrics: m,
		baseCtx: baseCtx,
		timeout: 5 * time.Minute,
	}
}

// Add schedules job under name. An empty spec leaves the job disabled.
func (r *Runner) Add(name, spec string, job Job) (cron.EntryID, error) {
	if spec == "" {
		r.logger.Info("cron job disabled", zap.String("job", name))
		return 0, nil
	}
	return r.cron.AddFunc(spec, func() { r.RunNow(name, job) })
}

// RunNow executes job synchronously with the runner's logging and metrics.
func (r *Runner) RunNow(name string, job Job) {
	ctx, cancel := context.WithTimeout(r.baseCtx, r.timeout)
	defer cancel()
	start := time.Now()
	summary, err := job(ctx)
	took := time.Since(start)
	r.metrics.JobRun(name, took, err)
	if err != nil {
		r.logger.Warn("cron job failed", zap.String("job", name), zap.Duration("took", took), zap.Error(err))
		return
	}
	fields := []zap.Field{zap.String("job", name), zap.Duration("took", took)}
	for k, v := range summary {
		fields = append(fields, zap.Any(k, v))
	}
	r.logger.Info("cron job done", fields...)
}

func (r *Runner) Start() {
	r.logger.Info("cron started", zap.Int("jobs", len(r.cron.Entries())))
	r.cron.Start()
}

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, zap.Any("kv", keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, zap.Error(err), zap.Any("kv", keysAndValues))
}
