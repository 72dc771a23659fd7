package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"credrelay/internal/credential"
	"credrelay/pkg/platform/sentinel"
)

// Postgres persists issuance records. The UNIQUE constraint on subject_id is
// the arbiter for concurrent duplicate issuance: the losing insert comes back
// as sentinel.ErrConflict and the coordinator converts it.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed idempotency store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the table on startup, mirroring how the service has
// always bootstrapped its storage.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS issued_credentials (
			subject_id TEXT PRIMARY KEY,
			payload    JSONB NOT NULL,
			issued_by  TEXT NOT NULL,
			issued_at  TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure issued_credentials schema: %w", err)
	}
	return nil
}

// Find returns the record for a subject, or sentinel.ErrNotFound.
func (s *Postgres) Find(ctx context.Context, subjectID credential.SubjectID) (credential.Record, error) {
	query := `
		SELECT payload, issued_by, issued_at
		FROM issued_credentials
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
		return credential.Record{}, fmt.Errorf("find issued credential: %w", err)
	}
	rec.SubjectID = subjectID
	rec.Payload = json.RawMessage(payload)
	rec.IssuedBy = issuedBy
	return rec, nil
}

// Insert writes a new record. It deliberately carries no ON CONFLICT clause:
// a unique violation is the signal the coordinator needs to know it lost a
// duplicate-issuance race.
func (s *Postgres) Insert(ctx context.Context, rec credential.Record) error {
	query := `
		INSERT INTO issued_credentials (subject_id, payload, issued_by, issued_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.SubjectID.String(),
		[]byte(rec.Payload),
		rec.IssuedBy,
		rec.IssuedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert issued credential: %w", err)
	}
	return nil
}
