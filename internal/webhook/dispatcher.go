package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"experimentservice/internal/config"
	"experimentservice/internal/metrics"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

const (
	HeaderEventID    = "X-Event-Id"
	HeaderEventType  = "X-Event-Type"
	HeaderDeliveryID = "X-Delivery-Id"
	HeaderSignature  = "X-Signature"

	maxErrorLength = 1000
	maxBackoffStep = 6
)

// Dispatcher claims due deliveries with a lease and POSTs them from a bounded
// pool of workers. A slow subscriber holds one worker, never the loop.
type Dispatcher struct {
	Repo    repository.WebhookRepository
	Client  *http.Client
	Config  config.WebhookConfig
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Secrets *SecretBox
	Now     func() time.Time
}

func (d *Dispatcher) Run(ctx context.Context) error {
	if d == nil || d.Repo == nil {
		return nil
	}
	interval := d.Config.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p := newPool(d.workers())
	defer p.wait()
	for {
		n, limit, err := d.fill(ctx, p)
		if err != nil && d.Logger != nil && !errors.Is(err, context.Canceled) {
			d.Logger.Warn("webhook dispatch failed", zap.Error(err))
		}
		// A full claim means more may be due; claim again as soon as a worker frees up.
		if err == nil && n > 0 && n == limit {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce drains what is due now through the pool and waits for every attempt
// to finish.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	p := newPool(d.workers())
	defer p.wait()
	total := 0
	for {
		n, limit, err := d.fill(ctx, p)
		total += n
		if err != nil {
			return total, err
		}
		if n < limit {
			return total, nil
		}
	}
}

// fill waits for a free worker, then claims up to one delivery per free worker
// and hands them out.
func (d *Dispatcher) fill(ctx context.Context, p *pool) (int, int, error) {
	free, err := p.reserve(ctx)
	if err != nil {
		return 0, 0, err
	}
	limit := min(free, d.batchSize())
	items, err := d.Repo.ClaimDueDeliveries(ctx, d.now(), d.lease(), limit)
	if err != nil {
		p.release(free)
		return 0, limit, err
	}
	for i := range items {
		item := items[i]
		p.run(func() { d.deliver(ctx, item) })
	}
	p.release(free - len(items))
	return len(items), limit, nil
}

// pool runs attempts on at most cap(slots) goroutines. A worker that returns
// frees its slot for the next claim, so one slow subscriber holds one slot.
type pool struct {
	slots chan struct{}
	wg    sync.WaitGroup
}

func newPool(size int) *pool {
	return &pool{slots: make(chan struct{}, size)}
}

// reserve blocks until at least one slot is free and takes every free slot.
func (p *pool) reserve(ctx context.Context) (int, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	n := 1
	for n < cap(p.slots) {
		select {
		case p.slots <- struct{}{}:
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

func (p *pool) release(n int) {
	for i := 0; i < n; i++ {
		<-p.slots
	}
}

// run starts fn on a slot taken by reserve.
func (p *pool) run(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release(1)
		fn()
	}()
}

func (p *pool) wait() {
	p.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, item models.WebhookDelivery) {
	start := time.Now()
	statusCode, err := d.post(ctx, item)
	outcome := d.outcome(item, statusCode, err)
	d.Metrics.DeliveryAttempt(outcome.Status, time.Since(start))

	// The attempt happened; record it even if shutdown began meanwhile.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.Repo.CompleteDeliveryAttempt(saveCtx, item.ID, outcome); err != nil && d.Logger != nil {
		d.Logger.Warn("webhook bookkeeping failed", zap.String("delivery_id", item.ID), zap.Error(err))
	}
	if d.Logger != nil && outcome.Status != models.DeliverySucceeded {
		fields := []zap.Field{
			zap.String("delivery_id", item.ID),
			zap.String("event_id", item.EventID),
			zap.Int("attempt", outcome.AttemptCount),
			zap.String("status", outcome.Status),
		}
		if outcome.LastError != nil {
			fields = append(fields, zap.String("error", *outcome.LastError))
		}
		d.Logger.Info("webhook attempt failed", fields...)
	}
}

func (d *Dispatcher) post(ctx context.Context, item models.WebhookDelivery) (int, error) {
	timeout := d.Config.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body := []byte(item.Payload)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, item.TargetURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "experiment-service-webhooks/1")
	req.Header.Set(HeaderEventID, item.EventID)
	req.Header.Set(HeaderEventType, item.EventType)
	req.Header.Set(HeaderDeliveryID, item.ID)
	if item.Secret != nil && *item.Secret != "" {
		secret, err := d.Secrets.Open(*item.Secret)
		if err != nil {
			return 0, err
		}
		req.Header.Set(HeaderSignature, Sign(secret, body))
	}

	resp, err := d.httpClient().Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("http %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (d *Dispatcher) outcome(item models.WebhookDelivery, statusCode int, err error) repository.DeliveryOutcome {
	now := d.now()
	out := repository.DeliveryOutcome{AttemptCount: item.AttemptCount + 1, NextAttemptAt: now}
	if statusCode > 0 {
		code := statusCode
		out.LastStatusCode = &code
	}
	if err == nil {
		out.Status = models.DeliverySucceeded
		out.DeliveredAt = &now
		return out
	}
	msg := err.Error()
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	out.LastError = &msg
	if out.AttemptCount >= d.maxAttempts() {
		out.Status = models.DeliveryFailed
		return out
	}
	out.Status = models.DeliveryPending
	out.NextAttemptAt = now.Add(Backoff(out.AttemptCount, d.Config.BackoffBase, d.Config.BackoffMax))
	return out
}

// Backoff is base * 2^min(attempt, 6), capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = time.Minute
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffStep {
		attempt = maxBackoffStep
	}
	wait := base * time.Duration(1<<attempt)
	if wait > max {
		return max
	}
	return wait
}

// Sign returns the X-Signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Reclaim returns deliveries whose lease ran out (worker crash) to pending,
// or fails them once the lost attempt reaches the cap.
func (d *Dispatcher) Reclaim(ctx context.Context) (int64, error) {
	return d.Repo.ReclaimExpiredDeliveries(ctx, d.now(), d.maxAttempts())
}

// Purge deletes succeeded deliveries older than the retention window.
func (d *Dispatcher) Purge(ctx context.Context) (int64, error) {
	retention := d.Config.SucceededRetention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return d.Repo.PurgeSucceededDeliveries(ctx, d.now().Add(-retention))
}

func (d *Dispatcher) maxAttempts() int {
	if d.Config.MaxAttempts > 0 {
		return d.Config.MaxAttempts
	}
	return 5
}

func (d *Dispatcher) workers() int {
	if d.Config.Workers > 0 {
		return d.Config.Workers
	}
	return 4
}

func (d *Dispatcher) lease() time.Duration {
	if d.Config.Lease > 0 {
		return d.Config.Lease
	}
	return 2 * time.Minute
}

func (d *Dispatcher) batchSize() int {
	if d.Config.BatchSize > 0 {
		return d.Config.BatchSize
	}
	return 50
}

func (d *Dispatcher) httpClient() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return &http.Client{}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}
