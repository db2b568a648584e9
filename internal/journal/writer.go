package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"tradeline/internal/domain"
)

// Writer appends audit records to the journal table inside a caller-owned transaction.
type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Entity kinds recorded in the journal.
const (
	KindProject     = "project"
	KindApplication = "application"
	KindEvent       = "event"
	KindReview      = "review"
	KindPayment     = "payment"
	KindActor       = "actor"
)

func (w Writer) Append(ctx context.Context, tx *sql.Tx, entryType, projectID, entityKind, entityID, actorID string, payload Payload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := domain.FormatTime(now())
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal journal payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO journal(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, entryType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append journal %s: %w", entryType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
