package audit

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/channelaccess/snapshot/internal/domain"
)

func TestPostgresAuditRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink, err := NewPostgresAudit(db, "ops")
	if err != nil {
		t.Fatalf("new audit: %v", err)
	}
	start := time.Now()
	r := &domain.Report{
		ID:       "op-1",
		Kind:     domain.OpSave,
		Path:     "/data/a.snap",
		Force:    true,
		Started:  start,
		Finished: start.Add(time.Second),
		Results: []domain.PVResult{
			{Name: "pv:a", Status: domain.StatusOK},
			{Name: "pv:b", Status: domain.StatusTimeout},
		},
	}

	expectedQuery := regexp.QuoteMeta("INSERT INTO ops (op_id, kind, path, forced, started, finished, pv_count, failed_count, error, statuses) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) ON CONFLICT (op_id) DO NOTHING")
	mock.ExpectExec(expectedQuery).
		WithArgs("op-1", "save", "/data/a.snap", true, start, start.Add(time.Second), 2, 1, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := sink.Record(context.Background(), r); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresAuditRecordError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink, _ := NewPostgresAudit(db, "")
	mock.ExpectExec("INSERT INTO pvsnap_operations").WillReturnError(errors.New("connection refused"))

	err = sink.Record(context.Background(), &domain.Report{ID: "op-2", Kind: domain.OpRestore})
	if err == nil {
		t.Fatalf("expected insert error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresAuditEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink, _ := NewPostgresAudit(db, "audit.ops")
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS audit.ops")).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := sink.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresAuditRejectsBadTable(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer db.Close()

	if _, err := NewPostgresAudit(db, "ops; DROP TABLE x"); err == nil {
		t.Fatalf("expected invalid table name to be rejected")
	}
	sink, _ := NewPostgresAudit(db, "ops")
	if sink.Name() != "postgres" {
		t.Fatalf("expected sink name postgres, got %s", sink.Name())
	}
}
