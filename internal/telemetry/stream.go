package telemetry

import (
	"context"
	"time"

	"experimentservice/internal/apperr"
	"experimentservice/internal/config"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

// StreamRequest selects the rows a live stream follows. AfterID is the
// resume cursor: only rows with a larger id are sent.
type StreamRequest struct {
	SensorIDs        []string
	CaptureSessionID *string
	AfterID          int64
	MaxEvents        int
	IdleTimeout      time.Duration
}

// StreamSink receives stream output. SSE and WebSocket handlers implement it.
type StreamSink interface {
	Batch(records []models.TelemetryRecord) error
	Heartbeat() error
}

type Streamer struct {
	Repo   QueryStore
	Config config.TelemetryConfig
}

// Authorize checks that every followed sensor and capture session is visible
// to projectID.
func (s *Streamer) Authorize(ctx context.Context, projectID string, req StreamRequest) error {
	if s == nil || s.Repo == nil {
		return repository.ErrUnavailable
	}
	if len(req.SensorIDs) == 0 && req.CaptureSessionID == nil {
		return apperr.Validation(ReasonInvalidQuery, "sensor_id or capture_session_id is required")
	}
	if req.AfterID < 0 {
		return apperr.Validation(ReasonInvalidQuery, "since_id must be >= 0")
	}
	q := QueryService{Repo: s.Repo, Config: s.Config}
	if n := q.maxSensors(); len(req.SensorIDs) > n {
		return apperr.Validation(ReasonInvalidQuery, "too many sensor_id values (max %d)", n)
	}
	for _, id := range req.SensorIDs {
		if err := q.checkSensor(ctx, projectID, id); err != nil {
			return err
		}
	}
	if req.CaptureSessionID != nil {
		capture, err := s.Repo.GetCaptureSession(ctx, projectID, *req.CaptureSessionID)
		if err != nil {
			return err
		}
		if capture == nil {
			return apperr.NotFound("capture_session")
		}
	}
	return nil
}

// Run polls for new rows until ctx is cancelled, the idle timeout passes
// without data, or MaxEvents batches were sent. A cancelled context is a
// normal end of stream and returns nil.
func (s *Streamer) Run(ctx context.Context, req StreamRequest, sink StreamSink) error {
	pollEvery := s.Config.StreamPollInterval
	if pollEvery <= 0 {
		pollEvery = 200 * time.Millisecond
	}
	heartbeatEvery := s.Config.StreamHeartbeat
	if heartbeatEvery <= 0 {
		heartbeatEvery = 10 * time.Second
	}
	idle := req.IdleTimeout
	if idle <= 0 {
		idle = s.Config.StreamIdleTimeout
	}
	maxEvents := req.MaxEvents
	if maxEvents <= 0 {
		maxEvents = s.Config.StreamMaxEvents
	}
	batchSize := s.Config.StreamBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	lookback := s.Config.StreamLookback
	if lookback <= 0 {
		lookback = 1000
	}

	poll := time.NewTicker(pollEvery)
	defer poll.Stop()
	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()

	// Ids come from a sequence, and concurrent ingests can commit out of id
	// order. Each poll re-reads the last lookback ids behind the cursor so a
	// row that became visible late is still sent, once. A row committed more
	// than lookback ids late is missed.
	cursor := req.AfterID
	seen := map[int64]struct{}{}
	sent := 0
	lastActivity := time.Now()
	for {
		from := max(req.AfterID, cursor-lookback)
		for id := range seen {
			if id <= from {
				delete(seen, id)
			}
		}
		limit := batchSize + len(seen)
		items, err := s.Repo.ListTelemetryAfter(ctx, repository.TelemetryStreamQuery{
			SensorIDs:        req.SensorIDs,
			CaptureSessionID: req.CaptureSessionID,
			AfterID:          from,
			Limit:            limit,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fresh := make([]models.TelemetryRecord, 0, len(items))
		for _, item := range items {
			if _, ok := seen[item.ID]; ok {
				continue
			}
			seen[item.ID] = struct{}{}
			fresh = append(fresh, item)
			cursor = max(cursor, item.ID)
		}
		if len(fresh) > 0 {
			if err := sink.Batch(fresh); err != nil {
				return err
			}
			sent++
			lastActivity = time.Now()
			if maxEvents > 0 && sent >= maxEvents {
				return nil
			}
			if len(items) == limit {
				continue
			}
		}
		if idle > 0 && time.Since(lastActivity) >= idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if err := sink.Heartbeat(); err != nil {
				return err
			}
		case <-poll.C:
		}
	}
}
