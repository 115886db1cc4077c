package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is the audit record for a single chat interaction. Records are
// queued by the gateway and batch-inserted by the usage worker.
type UsageRecord struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	RequestID uuid.UUID  `db:"request_id" json:"request_id"`
	UserID    *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	SessionID string     `db:"session_id" json:"session_id,omitempty"`

	ProviderType ProviderType `db:"provider_type" json:"provider_type"`
	Model        string       `db:"model" json:"model"`
	Framework    string       `db:"framework" json:"framework,omitempty"`

	InputTokens    int `db:"input_tokens" json:"input_tokens"`
	OutputTokens   int `db:"output_tokens" json:"output_tokens"`
	ResponseTimeMS int `db:"response_time_ms" json:"response_time_ms"`

	// ErrorKind is the taxonomy kind name for failed calls, empty on success.
	ErrorKind string `db:"error_kind" json:"error_kind,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
