package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/document-scan-service/internal/core/domain"
)

// ScanRepository is the durable result store for scan sessions. Only
// terminal results and coarse run state live here; fan-out state stays
// in the actors.
type ScanRepository struct {
	db *sql.DB
}

func NewScanRepository(db *sql.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *ScanRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent service startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS scan_sessions (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	status TEXT NOT NULL,
	accumulated_text TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	processing_time_ms BIGINT NOT NULL DEFAULT 0,
	total_pages INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scan_sessions_owner ON scan_sessions(owner_id);
CREATE INDEX IF NOT EXISTS idx_scan_sessions_status ON scan_sessions(status);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *ScanRepository) Create(ctx context.Context, sess *domain.ScanSession) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO scan_sessions (
	id, owner_id, status, accumulated_text, error_message, processing_time_ms, total_pages, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		sess.ID, sess.OwnerID, string(sess.Status), sess.AccumulatedText, sess.ErrorMessage,
		sess.ProcessingTimeMs, sess.TotalPages, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert scan session: %w", err)
	}
	return nil
}

func (r *ScanRepository) GetByID(ctx context.Context, id string) (*domain.ScanSession, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, owner_id, status, accumulated_text, error_message, processing_time_ms, total_pages, started_at, created_at, updated_at
FROM scan_sessions
WHERE id = $1
`, id)

	var sess domain.ScanSession
	var status string
	var startedAt sql.NullTime

	err := row.Scan(
		&sess.ID, &sess.OwnerID, &status, &sess.AccumulatedText, &sess.ErrorMessage,
		&sess.ProcessingTimeMs, &sess.TotalPages, &startedAt, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrSessionNotFound, "get scan session", err)
		}
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.Status = domain.ScanStatus(status)
	if startedAt.Valid {
		sess.StartedAt = startedAt.Time
	}
	return &sess, nil
}

// Ensure creates the session row on first contact; an existing row is
// left untouched, so the call is idempotent.
func (r *ScanRepository) Ensure(ctx context.Context, id, ownerID string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO scan_sessions (id, owner_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (id) DO NOTHING
`, id, ownerID, string(domain.StatusPending), now)
	if err != nil {
		return fmt.Errorf("ensure scan session: %w", err)
	}
	return nil
}

// UpdateResult applies exactly the fields set on update. Repeating an
// update is harmless: the same values land in the same row.
func (r *ScanRepository) UpdateResult(ctx context.Context, id string, update domain.ScanUpdate) error {
	sets := []string{"updated_at = $2"}
	args := []any{id, time.Now().UTC()}

	appendSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Status != nil {
		appendSet("status", string(*update.Status))
	}
	if update.Text != nil {
		appendSet("accumulated_text", *update.Text)
	}
	if update.ErrorMessage != nil {
		appendSet("error_message", *update.ErrorMessage)
	}
	if update.ProcessingTimeMs != nil {
		appendSet("processing_time_ms", *update.ProcessingTimeMs)
	}
	if update.TotalPages != nil {
		appendSet("total_pages", *update.TotalPages)
	}
	if update.StartedAt != nil {
		appendSet("started_at", update.StartedAt.UTC())
	}

	query := "UPDATE scan_sessions SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update scan session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update scan session rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrSessionNotFound, "update scan session", sql.ErrNoRows)
	}
	return nil
}

// ListByOwner returns the owner's sessions newest first, for dashboard
// resynchronization after a reconnect.
func (r *ScanRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.ScanSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, owner_id, status, accumulated_text, error_message, processing_time_ms, total_pages, started_at, created_at, updated_at
FROM scan_sessions
WHERE owner_id = $1
ORDER BY created_at DESC
LIMIT $2
`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list scan sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.ScanSession
	for rows.Next() {
		var sess domain.ScanSession
		var status string
		var startedAt sql.NullTime
		if err := rows.Scan(
			&sess.ID, &sess.OwnerID, &status, &sess.AccumulatedText, &sess.ErrorMessage,
			&sess.ProcessingTimeMs, &sess.TotalPages, &startedAt, &sess.CreatedAt, &sess.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sess.Status = domain.ScanStatus(status)
		if startedAt.Valid {
			sess.StartedAt = startedAt.Time
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scan sessions: %w", err)
	}
	return out, nil
}
