package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	DB          DBConfig          `mapstructure:"db"`
	Cron        CronConfig        `mapstructure:"cron"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Webhook     WebhookConfig     `mapstructure:"webhook"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Capture     CaptureConfig     `mapstructure:"capture"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr          string        `mapstructure:"http_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

// DBConfig.DSN must be a postgres:// URL; the migrator does not accept key=value DSNs.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
	SlowQuery       time.Duration `mapstructure:"slow_query"`
}

type CronConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	IdempotencyCleanup string `mapstructure:"idempotency_cleanup"`
	StaleSessions      string `mapstructure:"stale_sessions"`
	WebhookReclaim     string `mapstructure:"webhook_reclaim"`
	WebhookPurge       string `mapstructure:"webhook_purge"`
	TelemetryRollup    string `mapstructure:"telemetry_rollup"`
	TelemetryArchive   string `mapstructure:"telemetry_archive"`
}

type AuthConfig struct {
	Disabled     bool   `mapstructure:"disabled"`
	TrustHeaders bool   `mapstructure:"trust_headers"`
	JWTSecret    string `mapstructure:"jwt_secret"`
	JWTIssuer    string `mapstructure:"jwt_issuer"`
}

type IdempotencyConfig struct {
	TTL   time.Duration `mapstructure:"ttl"`
	Redis RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// WebhookConfig.SecretKey seals subscription secrets at rest; SecretPreviousKey still opens rows sealed before a rotation.
type WebhookConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Workers            int           `mapstructure:"workers"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	BatchSize          int           `mapstructure:"batch_size"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
	BackoffMax         time.Duration `mapstructure:"backoff_max"`
	Lease              time.Duration `mapstructure:"lease"`
	SucceededRetention time.Duration `mapstructure:"succeeded_retention"`
	SecretKey          string        `mapstructure:"secret_key"`
	SecretPreviousKey  string        `mapstructure:"secret_previous_key"`
}

type TelemetryConfig struct {
	MaxReadings         int           `mapstructure:"max_readings"`
	MaxBatchMetaBytes   int           `mapstructure:"max_batch_meta_bytes"`
	MaxReadingMetaBytes int           `mapstructure:"max_reading_meta_bytes"`
	InsertChunkSize     int           `mapstructure:"insert_chunk_size"`
	StreamPollInterval  time.Duration `mapstructure:"stream_poll_interval"`
	StreamHeartbeat     time.Duration `mapstructure:"stream_heartbeat"`
	StreamIdleTimeout   time.Duration `mapstructure:"stream_idle_timeout"`
	StreamBatchSize     int           `mapstructure:"stream_batch_size"`
	StreamMaxEvents     int           `mapstructure:"stream_max_events"`
	StreamLookback      int64         `mapstructure:"stream_lookback"`
	QueryDefaultLimit   int           `mapstructure:"query_default_limit"`
	QueryMaxLimit       int           `mapstructure:"query_max_limit"`
	QueryMaxSensors     int           `mapstructure:"query_max_sensors"`
	RollupLookback      time.Duration `mapstructure:"rollup_lookback"`
	ArchiveAfter        time.Duration `mapstructure:"archive_after"`
	ArchiveMaxBuckets   int           `mapstructure:"archive_max_buckets"`
	Archive             ArchiveConfig `mapstructure:"archive"`
}

// ArchiveConfig.Sink is "db" or "s3". Empty S3 keys fall back to the default AWS credential chain.
type ArchiveConfig struct {
	Sink            string `mapstructure:"sink"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type CaptureConfig struct {
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.slow_query", "500ms")
	v.SetDefault("db.migrate_on_start", true)

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.idempotency_cleanup", "@every 1h")
	v.SetDefault("cron.stale_sessions", "@every 10m")
	v.SetDefault("cron.webhook_reclaim", "@every 1m")
	v.SetDefault("cron.webhook_purge", "@every 6h")
	v.SetDefault("cron.telemetry_rollup", "@every 1m")
	v.SetDefault("cron.telemetry_archive", "@every 1h")

	v.SetDefault("auth.disabled", false)
	v.SetDefault("auth.trust_headers", true)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "")

	v.SetDefault("idempotency.ttl", "24h")
	v.SetDefault("idempotency.redis.enabled", false)
	v.SetDefault("idempotency.redis.addr", "localhost:6379")
	v.SetDefault("idempotency.redis.password", "")
	v.SetDefault("idempotency.redis.db", 0)
	v.SetDefault("idempotency.redis.prefix", "exp:idem:")

	v.SetDefault("webhook.enabled", true)
	v.SetDefault("webhook.workers", 4)
	v.SetDefault("webhook.poll_interval", "200ms")
	v.SetDefault("webhook.batch_size", 100)
	v.SetDefault("webhook.request_timeout", "3s")
	v.SetDefault("webhook.max_attempts", 5)
	v.SetDefault("webhook.backoff_base", "1s")
	v.SetDefault("webhook.backoff_max", "60s")
	v.SetDefault("webhook.lease", "30s")
	v.SetDefault("webhook.succeeded_retention", "168h")
	v.SetDefault("webhook.secret_key", "")
	v.SetDefault("webhook.secret_previous_key", "")

	v.SetDefault("telemetry.max_readings", 10000)
	v.SetDefault("telemetry.max_batch_meta_bytes", 64*1024)
	v.SetDefault("telemetry.max_reading_meta_bytes", 64*1024)
	v.SetDefault("telemetry.insert_chunk_size", 4000)
	v.SetDefault("telemetry.stream_poll_interval", "200ms")
	v.SetDefault("telemetry.stream_heartbeat", "10s")
	v.SetDefault("telemetry.stream_idle_timeout", "30s")
	v.SetDefault("telemetry.stream_batch_size", 100)
	v.SetDefault("telemetry.stream_max_events", 0)
	v.SetDefault("telemetry.stream_lookback", 1000)
	v.SetDefault("telemetry.query_default_limit", 2000)
	v.SetDefault("telemetry.query_max_limit", 20000)
	v.SetDefault("telemetry.query_max_sensors", 50)
	v.SetDefault("telemetry.rollup_lookback", "2h")
	v.SetDefault("telemetry.archive_after", "0s")
	v.SetDefault("telemetry.archive_max_buckets", 50)
	v.SetDefault("telemetry.archive.sink", "db")
	v.SetDefault("telemetry.archive.prefix", "telemetry/")
	v.SetDefault("telemetry.archive.bucket", "")
	v.SetDefault("telemetry.archive.region", "us-east-1")
	v.SetDefault("telemetry.archive.endpoint", "")
	v.SetDefault("telemetry.archive.access_key_id", "")
	v.SetDefault("telemetry.archive.secret_access_key", "")
	v.SetDefault("telemetry.archive.path_style", false)

	v.SetDefault("capture.stale_after", "24h")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
