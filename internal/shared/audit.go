package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// AuditEntry is a record appended to audit_logs for every state change.
// Entries are written inside the same transaction as the mutation they
// describe: the mutation and its audit trail commit together or not at all.
type AuditEntry struct {
	ActorID   int64
	ActorRole string
	Action    string
	Entity    string
	EntityID  string
	Meta      map[string]any
	At        time.Time
}

// AuditAppender appends audit entries within an ongoing unit of work.
type AuditAppender interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// AppendAuditTx persists an audit entry using the caller's transaction.
func AppendAuditTx(ctx context.Context, tx pgx.Tx, entry AuditEntry) error {
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return errors.New("audit entry requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	at := entry.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, actor_role, action, entity, entity_id, meta, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ActorID, entry.ActorRole, entry.Action, entry.Entity, entry.EntityID, metaJSON, at)
	return err
}
