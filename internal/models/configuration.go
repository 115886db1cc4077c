package models

import (
	"time"

	"github.com/google/uuid"
)

// UserAIConfiguration is a stored provider credential set for a user.
//
// Invariant: for a fixed UserID, at most one row has IsActive = true at any
// instant. The database enforces this with a partial unique index on
// (user_id) WHERE is_active; application code must only flip activation
// through ConfigurationRepository.Activate.
type UserAIConfiguration struct {
	ID           uuid.UUID    `db:"id"`
	UserID       uuid.UUID    `db:"user_id"`
	ProviderType ProviderType `db:"provider_type"`
	// EncryptedCredentials is the AES-GCM ciphertext (base64) of the
	// Credentials JSON. Decrypted only immediately before adapter use.
	EncryptedCredentials string    `db:"encrypted_credentials"`
	IsActive             bool      `db:"is_active"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}
