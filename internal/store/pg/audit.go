package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"admincore.org/internal/audit"
)

// AuditStore is the append-only audit_log view over the shared pool. There
// is deliberately no update or delete path.
type AuditStore struct {
	db *sql.DB
}

func (s *Store) Audit() *AuditStore { return &AuditStore{db: s.db} }

var _ audit.Store = (*AuditStore)(nil)

func (s *AuditStore) Append(ctx context.Context, e *audit.Entry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_log(id, occurred_at, actor_id, action, target_type, target_id, metadata, origin, request_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.OccurredAt, e.ActorID, e.Action, e.TargetType, e.TargetID, meta, e.Origin, e.RequestID)
	return err
}
