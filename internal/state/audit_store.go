// ./internal/state/audit_store.go
package state

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/kfund-labs/uniliq/internal/types"
)

// AuditStore persists audit events to the audit_events table. Write failures
// are logged and dropped so a database outage never fails the originating
// operation.
type AuditStore struct{}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Record(ev types.Event) {
	if DB == nil {
		log.Warn().Str("event", ev.EventName()).Msg("Database not initialized, dropping audit event")
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event", ev.EventName()).Msg("Failed to marshal audit event, dropping")
		return
	}

	query := `INSERT INTO audit_events (event_name, payload) VALUES ($1, $2);`
	if _, err := DB.Exec(query, ev.EventName(), payload); err != nil {
		log.Error().Err(err).Str("event", ev.EventName()).Msg("Failed to persist audit event, dropping")
	}
}
