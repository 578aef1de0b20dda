package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/lib/pq"
	"github.com/teresa-solution/tenant-context-service/internal/model"
)

// uniqueViolation is the Postgres SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AuditStore persists audit records in the audit_events table.
type AuditStore struct {
	db    sqlExecer
	close func() error
}

// NewAuditStore opens the audit database with the lib/pq driver.
func NewAuditStore(dsn string) (*AuditStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &AuditStore{db: db, close: db.Close}, nil
}

func (s *AuditStore) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Write inserts rec. Writing the same record id twice is not an error.
func (s *AuditStore) Write(ctx context.Context, rec model.AuditRecord) error {
	var metadata []byte
	if len(rec.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(rec.Metadata); err != nil {
			return err
		}
	}

	query := `INSERT INTO audit_events (id, actor_id, acted_as_id, event_type, target_tenant_id, session_id, severity, reason, metadata, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.ActorID, rec.ActedAsID, rec.EventType, rec.TargetTenantID, rec.SessionID,
		rec.Severity, nullString(rec.Reason), metadata, rec.Timestamp)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return nil
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
