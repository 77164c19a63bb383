package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

const (
	SinkDB = "db"
	SinkS3 = "s3"
)

// zstd encoders and decoders are safe for concurrent use.
var (
	archiveEncoder *zstd.Encoder
	archiveDecoder *zstd.Decoder
)

func init() {
	var err error
	archiveEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("telemetry: zstd encoder: " + err.Error())
	}
	archiveDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("telemetry: zstd decoder: " + err.Error())
	}
}

// Blob is one compressed archive ready to store.
type Blob struct {
	SensorID string
	Day      time.Time
	Data     []byte
}

// Stored says where a sink put a blob. Inline is kept in the archive row.
type Stored struct {
	Sink      string
	ObjectKey *string
	Inline    []byte
}

type Sink interface {
	Put(ctx context.Context, blob Blob) (Stored, error)
}

// DBSink keeps the compressed bytes in the telemetry_archives row itself.
type DBSink struct{}

func (DBSink) Put(_ context.Context, blob Blob) (Stored, error) {
	return Stored{Sink: SinkDB, Inline: blob.Data}, nil
}

type ArchiveStore interface {
	repository.Transactor
	ListArchiveCandidates(ctx context.Context, before time.Time, limit int) ([]repository.ArchiveBucket, error)
	ListTelemetryForArchive(ctx context.Context, bucket repository.ArchiveBucket) ([]models.TelemetryRecord, error)
	SaveArchiveTx(ctx context.Context, tx *gorm.DB, item *models.TelemetryArchive, bucket repository.ArchiveBucket) (int64, error)
}

// Archiver moves raw telemetry older than After into compressed per sensor
// and day archives. Rollups are not touched.
type Archiver struct {
	Repo       ArchiveStore
	Sink       Sink
	After      time.Duration
	MaxBuckets int
	Logger     *zap.Logger
	Now        func() time.Time
}

type ArchiveReport struct {
	Buckets int
	Records int64
	Deleted int64
}

func (a *Archiver) RunOnce(ctx context.Context) (ArchiveReport, error) {
	var report ArchiveReport
	if a == nil || a.Repo == nil {
		return report, repository.ErrUnavailable
	}
	if a.After <= 0 {
		return report, nil
	}
	sink := a.Sink
	if sink == nil {
		sink = DBSink{}
	}
	now := time.Now().UTC()
	if a.Now != nil {
		now = a.Now()
	}
	// Only whole days are archived so a bucket is never split across runs.
	before := now.Add(-a.After).Truncate(24 * time.Hour)

	buckets, err := a.Repo.ListArchiveCandidates(ctx, before, a.MaxBuckets)
	if err != nil {
		return report, err
	}
	for _, bucket := range buckets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		records, deleted, err := a.archiveBucket(ctx, sink, bucket)
		if err != nil {
			if a.Logger != nil {
				a.Logger.Warn("telemetry archive failed",
					zap.String("sensor_id", bucket.SensorID),
					zap.Time("day", bucket.Day),
					zap.Error(err),
				)
			}
			continue
		}
		report.Buckets++
		report.Records += records
		report.Deleted += deleted
	}
	return report, nil
}

func (a *Archiver) archiveBucket(ctx context.Context, sink Sink, bucket repository.ArchiveBucket) (int64, int64, error) {
	items, err := a.Repo.ListTelemetryForArchive(ctx, bucket)
	if err != nil {
		return 0, 0, err
	}
	if len(items) == 0 {
		return 0, 0, nil
	}
	raw, err := EncodeArchive(items)
	if err != nil {
		return 0, 0, err
	}
	data := archiveEncoder.EncodeAll(raw, nil)
	stored, err := sink.Put(ctx, Blob{SensorID: bucket.SensorID, Day: bucket.Day, Data: data})
	if err != nil {
		return 0, 0, fmt.Errorf("archive sink %T: %w", sink, err)
	}
	row := &models.TelemetryArchive{
		ID:          uuid.NewString(),
		SensorID:    bucket.SensorID,
		Day:         bucket.Day,
		Records:     int64(len(items)),
		RawBytes:    int64(len(raw)),
		StoredBytes: int64(len(data)),
		Sink:        stored.Sink,
		ObjectKey:   stored.ObjectKey,
		Blob:        stored.Inline,
	}
	var deleted int64
	err = a.Repo.InTx(ctx, func(tx *gorm.DB) error {
		n, err := a.Repo.SaveArchiveTx(ctx, tx, row, bucket)
		deleted = n
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return int64(len(items)), deleted, nil
}

// EncodeArchive renders records as JSON lines, one record per line.
func EncodeArchive(items []models.TelemetryRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range items {
		if err := enc.Encode(&items[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeArchive reverses the archive encoding of a compressed blob.
func DecodeArchive(data []byte) ([]models.TelemetryRecord, error) {
	raw, err := archiveDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	var out []models.TelemetryRecord
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec models.TelemetryRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}
