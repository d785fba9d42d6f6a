package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/document-scan-service/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*ScanRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &ScanRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, owner_id, status").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateResultBuildsPartialSet(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	// Only status and error message are set; text and timing columns
	// must stay out of the statement.
	mock.ExpectExec(`UPDATE scan_sessions SET updated_at = \$2, status = \$3, error_message = \$4 WHERE id = \$1`).
		WithArgs("doc-1", sqlmock.AnyArg(), string(domain.StatusFailed), "model unavailable").
		WillReturnResult(sqlmock.NewResult(0, 1))

	status := domain.StatusFailed
	msg := "model unavailable"
	err := repo.UpdateResult(context.Background(), "doc-1", domain.ScanUpdate{
		Status:       &status,
		ErrorMessage: &msg,
	})
	if err != nil {
		t.Fatalf("UpdateResult() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateResultWritesTerminalResult(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec(`UPDATE scan_sessions SET updated_at = \$2, status = \$3, accumulated_text = \$4, processing_time_ms = \$5 WHERE id = \$1`).
		WithArgs("doc-1", sqlmock.AnyArg(), string(domain.StatusCompleted), "ABCD", int64(1234)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	status := domain.StatusCompleted
	text := "ABCD"
	elapsed := int64(1234)
	err := repo.UpdateResult(context.Background(), "doc-1", domain.ScanUpdate{
		Status:           &status,
		Text:             &text,
		ProcessingTimeMs: &elapsed,
	})
	if err != nil {
		t.Fatalf("UpdateResult() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateResultReturnsNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE scan_sessions").
		WithArgs("missing", sqlmock.AnyArg(), string(domain.StatusCompleted)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	status := domain.StatusCompleted
	err := repo.UpdateResult(context.Background(), "missing", domain.ScanUpdate{Status: &status})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListByOwnerReturnsNewestFirst(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	columns := []string{
		"id", "owner_id", "status", "accumulated_text", "error_message",
		"processing_time_ms", "total_pages", "started_at", "created_at", "updated_at",
	}
	now := time.Now()
	rows := sqlmock.NewRows(columns).
		AddRow("doc-2", "owner-1", "completed", "text two", "", int64(2000), 1, nil, now, now).
		AddRow("doc-1", "owner-1", "failed", "", "model unavailable", int64(500), 1, nil, now, now)

	mock.ExpectQuery("SELECT id, owner_id, status").
		WithArgs("owner-1", 50).
		WillReturnRows(rows)

	listed, err := repo.ListByOwner(context.Background(), "owner-1", 0)
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(listed))
	}
	if listed[0].ID != "doc-2" || listed[0].Status != domain.StatusCompleted {
		t.Fatalf("unexpected first session: %+v", listed[0])
	}
	if listed[1].ErrorMessage != "model unavailable" {
		t.Fatalf("unexpected second session: %+v", listed[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureIsIdempotentInsert(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO scan_sessions").
		WithArgs("doc-1", "owner-1", string(domain.StatusPending), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Ensure(context.Background(), "doc-1", "owner-1"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
