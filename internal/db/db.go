package db

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"experimentservice/internal/config"
)

type DB struct {
	Gorm *gorm.DB
	SQL  *sql.DB
}

// Open connects with the pool limits from cfg. Queries slower than
// cfg.SlowQuery and failed queries are logged through log.
func Open(cfg config.DBConfig, log *zap.Logger) (*DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("db.dsn is empty")
	}
	dsn, err := withTimezone(cfg.DSN, cfg.Timezone)
	if err != nil {
		return nil, err
	}
	gcfg := &gorm.Config{
		Logger:  NewGormLogger(log, cfg.SlowQuery),
		NowFunc: NowUTC,
	}

	gdb, err := gorm.Open(postgres.Open(dsn), gcfg)
	if err != nil {
		return nil, err
	}

	sqldb, err := gdb.DB()
	if err != nil {
		return nil, err
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &DB{Gorm: gdb, SQL: sqldb}, nil
}

func Close(db *DB) error {
	if db == nil || db.SQL == nil {
		return nil
	}
	return db.SQL.Close()
}

func Ping(ctx context.Context, db *DB) error {
	if db == nil || db.SQL == nil {
		return errors.New("db not configured")
	}
	return db.SQL.PingContext(ctx)
}

// withTimezone sets TimeZone on the DSN so every pooled connection starts in
// tz. A TimeZone already present in the DSN wins.
func withTimezone(dsn, tz string) (string, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.Contains(strings.ToLower(dsn), "timezone=") {
		return dsn, nil
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", err
		}
		q := u.Query()
		q.Set("TimeZone", tz)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	return strings.TrimSpace(dsn) + " TimeZone=" + tz, nil
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
