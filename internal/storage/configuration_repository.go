package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"ai_gateway/internal/models"
)

// ConfigurationRepository handles user AI configuration database operations.
//
// The table carries a partial unique index on (user_id) WHERE is_active, so
// the database rejects any state with two active configurations for the same
// user even if application logic misbehaves.
type ConfigurationRepository struct {
	db *DB
}

// NewConfigurationRepository creates a new configuration repository
func NewConfigurationRepository(db *DB) *ConfigurationRepository {
	return &ConfigurationRepository{db: db}
}

// Create inserts a new configuration. New configurations are always inserted
// inactive; use Activate to make one the active configuration.
func (r *ConfigurationRepository) Create(ctx context.Context, cfg *models.UserAIConfiguration) error {
	query := `
		INSERT INTO user_ai_configurations (id, user_id, provider_type, encrypted_credentials, is_active)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING created_at, updated_at
	`

	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	cfg.IsActive = false

	err := r.db.conn.QueryRowxContext(
		ctx, query,
		cfg.ID, cfg.UserID, cfg.ProviderType, cfg.EncryptedCredentials,
	).Scan(&cfg.CreatedAt, &cfg.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create configuration: %w", err)
	}

	return nil
}

// GetByID retrieves a configuration by ID
func (r *ConfigurationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UserAIConfiguration, error) {
	var cfg models.UserAIConfiguration
	query := `
		SELECT id, user_id, provider_type, encrypted_credentials, is_active,
		       created_at, updated_at
		FROM user_ai_configurations
		WHERE id = $1
	`

	err := r.db.conn.GetContext(ctx, &cfg, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrConfigurationNotFound
		}
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}

	return &cfg, nil
}

// ListByUser returns all configurations for a user, newest first
func (r *ConfigurationRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.UserAIConfiguration, error) {
	query := `
		SELECT id, user_id, provider_type, encrypted_credentials, is_active,
		       created_at, updated_at
		FROM user_ai_configurations
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	var configs []*models.UserAIConfiguration
	err := r.db.conn.SelectContext(ctx, &configs, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list configurations: %w", err)
	}

	return configs, nil
}

// Activate makes the given configuration the user's single active one.
// Deactivation of the previous configuration and activation of the new one
// happen in one transaction; on any failure neither change is applied.
func (r *ConfigurationRepository) Activate(ctx context.Context, userID, configID uuid.UUID) error {
	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Serialize activations per user. Under READ COMMITTED, two concurrent
	// activations can each miss the other's freshly-activated row in the
	// deactivate step and collide on the partial unique index; the advisory
	// lock makes them run one after the other (last commit wins).
	_, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userID.String())
	if err != nil {
		return fmt.Errorf("failed to lock user configurations: %w", err)
	}

	// Deactivate whatever is currently active for this user. Doing this first
	// keeps the partial unique index satisfied when the new row flips on.
	_, err = tx.ExecContext(ctx, `
		UPDATE user_ai_configurations
		SET is_active = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND is_active
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate configurations: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE user_ai_configurations
		SET is_active = TRUE, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`, configID, userID)
	if err != nil {
		return fmt.Errorf("failed to activate configuration: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Rolls back the deactivation too.
		return ErrConfigurationNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Deactivate turns off the given configuration without activating another.
// Deactivating an already-inactive configuration is a no-op, not an error.
func (r *ConfigurationRepository) Deactivate(ctx context.Context, userID, configID uuid.UUID) error {
	result, err := r.db.conn.ExecContext(ctx, `
		UPDATE user_ai_configurations
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`, configID, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate configuration: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrConfigurationNotFound
	}

	return nil
}

// ResolveActive returns the user's single active configuration, or
// ErrNoActiveConfiguration when none is active.
func (r *ConfigurationRepository) ResolveActive(ctx context.Context, userID uuid.UUID) (*models.UserAIConfiguration, error) {
	var cfg models.UserAIConfiguration
	query := `
		SELECT id, user_id, provider_type, encrypted_credentials, is_active,
		       created_at, updated_at
		FROM user_ai_configurations
		WHERE user_id = $1 AND is_active
	`

	err := r.db.conn.GetContext(ctx, &cfg, query, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNoActiveConfiguration
		}
		return nil, fmt.Errorf("failed to resolve active configuration: %w", err)
	}

	return &cfg, nil
}
