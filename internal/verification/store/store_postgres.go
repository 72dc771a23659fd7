package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"credrelay/internal/credential"
	"credrelay/pkg/platform/sentinel"
)

// Postgres persists replica records. Writes are idempotent: the first write
// for a subject wins and duplicate deliveries change nothing, which is what
// makes at-least-once consumption safe.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed replica store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the table on startup.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS replicated_credentials (
			subject_id TEXT PRIMARY KEY,
			payload    JSONB NOT NULL,
			issued_by  TEXT NOT NULL,
			issued_at  TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure replicated_credentials schema: %w", err)
	}
	return nil
}

// Upsert inserts the record if the subject is not yet replicated. It reports
// whether the row was inserted; false means this delivery was a replay.
func (s *Postgres) Upsert(ctx context.Context, rec credential.Record) (bool, error) {
	query := `
		INSERT INTO replicated_credentials (subject_id, payload, issued_by, issued_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		rec.SubjectID.String(),
		[]byte(rec.Payload),
		rec.IssuedBy,
		rec.IssuedAt,
	)
	if err != nil {
		return false, fmt.Errorf("upsert replicated credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert replicated credential: %w", err)
	}
	return n > 0, nil
}

// Find returns the replica record for a subject, or sentinel.ErrNotFound.
func (s *Postgres) Find(ctx context.Context, subjectID credential.SubjectID) (credential.Record, error) {
	query := `
		SELECT payload, issued_by, issued_at
		FROM replicated_credentials
		WHERE subject_id = $1
	`
	var (
		payload  []byte
		rec      credential.Record
		issuedBy string
	)
	err := s.db.QueryRowContext(ctx, query, subjectID.String()).Scan(&payload, &issuedBy, &rec.IssuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return credential.Record{}, sentinel.ErrNotFound
		}
		return credential.Record{}, fmt.Errorf("find replicated credential: %w", err)
	}
	rec.SubjectID = subjectID
	rec.Payload = json.RawMessage(payload)
	rec.IssuedBy = issuedBy
	return rec, nil
}
