package telemetry

import (
	"bytes"
	"context"
	"errors"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"experimentservice/internal/config"
)

// S3Sink writes archives to an S3 compatible bucket under
// <prefix>/<sensor_id>/<yyyy-mm-dd>/<uuid>.jsonl.zst.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Sink(ctx context.Context, cfg config.ArchiveConfig) (*S3Sink, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("telemetry.archive.bucket is required for the s3 sink")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Sink{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

func (s *S3Sink) Put(ctx context.Context, blob Blob) (Stored, error) {
	key := s.key(blob)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(blob.Data),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("zstd"),
	})
	if err != nil {
		return Stored{}, err
	}
	return Stored{Sink: SinkS3, ObjectKey: &key}, nil
}

func (s *S3Sink) key(blob Blob) string {
	name := uuid.NewString() + ".jsonl.zst"
	return path.Join(s.prefix, blob.SensorID, blob.Day.UTC().Format("2006-01-02"), name)
}

// NewSink picks the configured archive sink.
func NewSink(ctx context.Context, cfg config.ArchiveConfig) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Sink)) {
	case "", SinkDB:
		return DBSink{}, nil
	case SinkS3:
		sink, err := NewS3Sink(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return sink, nil
	}
	return nil, errors.New("telemetry.archive.sink must be db or s3")
}
