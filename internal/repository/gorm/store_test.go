package gormrepository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"experimentservice/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}
	return New(gdb), mock
}

func TestClaimDueDeliveries_LeasesRows(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lease := 30 * time.Second

	rows := sqlmock.NewRows([]string{"id", "subscription_id", "status", "attempt_count", "target_url"}).
		AddRow("d1", "s1", models.DeliveryInProgress, 0, "http://a").
		AddRow("d2", "s1", models.DeliveryInProgress, 2, "http://b")
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(models.DeliveryInProgress, now.Add(lease), now, models.DeliveryPending, now, 10).
		WillReturnRows(rows)

	items, err := store.ClaimDueDeliveries(context.Background(), now, lease, 10)
	if err != nil {
		t.Fatalf("claim err=%v", err)
	}
	if len(items) != 2 {
		t.Fatalf("claimed=%d want=2", len(items))
	}
	if items[1].ID != "d2" || items[1].AttemptCount != 2 {
		t.Fatalf("item=%+v", items[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimDueDeliveries_DefaultLimit(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE webhook_deliveries")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	items, err := store.ClaimDueDeliveries(context.Background(), now, time.Minute, 0)
	if err != nil {
		t.Fatalf("claim err=%v", err)
	}
	if len(items) != 0 {
		t.Fatalf("claimed=%d want=0", len(items))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReclaimExpiredDeliveries(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE "webhook_deliveries" SET "attempt_count"=attempt_count \+ 1.*"status"=CASE WHEN attempt_count \+ 1 >= \$\d+ THEN`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.ReclaimExpiredDeliveries(context.Background(), now, 5)
	if err != nil {
		t.Fatalf("reclaim err=%v", err)
	}
	if n != 3 {
		t.Fatalf("reclaimed=%d want=3", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteWebhookSubscriptionDeactivates(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "webhook_subscriptions" SET "is_active"=`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "webhook_deliveries" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	deleted, err := store.DeleteWebhookSubscription(context.Background(), "p1", "s1")
	if err != nil {
		t.Fatalf("delete err=%v", err)
	}
	if !deleted {
		t.Fatalf("deleted=false want=true")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAttachLateRecordsTx(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE telemetry_records")).
		WithArgs("c1", "c1").
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := store.AttachLateRecordsTx(context.Background(), nil, "c1")
	if err != nil {
		t.Fatalf("attach err=%v", err)
	}
	if n != 7 {
		t.Fatalf("attached=%d want=7", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNilStoreIsInert(t *testing.T) {
	var store *Store
	items, err := store.ClaimDueDeliveries(context.Background(), time.Now(), time.Minute, 5)
	if err != nil || items != nil {
		t.Fatalf("items=%v err=%v", items, err)
	}
	if err := store.InTx(context.Background(), func(*gorm.DB) error { return nil }); err != nil {
		t.Fatalf("intx err=%v", err)
	}
}

func TestJSONArrayAndCleanStrings(t *testing.T) {
	if got := jsonArray("run.created"); got != `["run.created"]` {
		t.Fatalf("jsonArray=%s", got)
	}
	if got := jsonArray(); got != `[]` {
		t.Fatalf("jsonArray()=%s", got)
	}
	got := cleanStrings([]string{" a", "", "b", "a "})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("cleanStrings=%v", got)
	}
}
