package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"ai_gateway/internal/models"
)

// DemoRepository handles demo session database operations.
//
// Counter updates are single atomic UPDATE statements so concurrent requests
// against the same session cannot lose increments or race past the lockout
// threshold.
type DemoRepository struct {
	db *DB
}

// NewDemoRepository creates a new demo session repository
func NewDemoRepository(db *DB) *DemoRepository {
	return &DemoRepository{db: db}
}

const demoColumns = `
	id, session_id, email, ip_address,
	demo_started_at, demo_expires_at, expired,
	ai_metrics_created_csf, ai_metrics_created_ai_rmf,
	ai_chat_interactions, ai_chat_locked, invalid_request_count,
	created_at, updated_at
`

// Create inserts a new demo session. Returns ErrDemoSessionExists when the
// email or session ID is already registered.
func (r *DemoRepository) Create(ctx context.Context, user *models.DemoUser) error {
	query := `
		INSERT INTO demo_users (id, session_id, email, ip_address, demo_started_at, demo_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	err := r.db.conn.QueryRowxContext(
		ctx, query,
		user.ID, user.SessionID, user.Email, user.IPAddress,
		user.DemoStartedAt, user.DemoExpiresAt,
	).Scan(&user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDemoSessionExists
		}
		return fmt.Errorf("failed to create demo session: %w", err)
	}

	return nil
}

// GetBySessionID retrieves a demo session by its session ID
func (r *DemoRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.DemoUser, error) {
	var user models.DemoUser
	query := fmt.Sprintf("SELECT %s FROM demo_users WHERE session_id = $1", demoColumns)

	err := r.db.conn.GetContext(ctx, &user, query, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrDemoSessionNotFound
		}
		return nil, fmt.Errorf("failed to get demo session: %w", err)
	}

	return &user, nil
}

// RecordChatInteraction increments the chat interaction counter
func (r *DemoRepository) RecordChatInteraction(ctx context.Context, sessionID string) error {
	result, err := r.db.conn.ExecContext(ctx, `
		UPDATE demo_users
		SET ai_chat_interactions = ai_chat_interactions + 1, updated_at = NOW()
		WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to record chat interaction: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrDemoSessionNotFound
	}

	return nil
}

// RecordInvalidRequest increments the invalid request counter and, when the
// count reaches the threshold, sets the chat lock. Counting and locking
// happen in one statement so two concurrent offenders cannot both read a
// below-threshold count and skip the lock. The lock is one-way.
//
// When the session crosses the threshold and scope is wider than a single
// session, the lock is propagated to sibling sessions sharing the same email
// or IP address inside the same transaction.
func (r *DemoRepository) RecordInvalidRequest(ctx context.Context, sessionID string, threshold int, scope models.LockScope) (locked bool, err error) {
	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var email, ipAddress string
	err = tx.QueryRowxContext(ctx, `
		UPDATE demo_users
		SET invalid_request_count = invalid_request_count + 1,
		    ai_chat_locked = ai_chat_locked OR invalid_request_count + 1 >= $2,
		    updated_at = NOW()
		WHERE session_id = $1
		RETURNING ai_chat_locked, email, ip_address
	`, sessionID, threshold).Scan(&locked, &email, &ipAddress)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, ErrDemoSessionNotFound
		}
		return false, fmt.Errorf("failed to record invalid request: %w", err)
	}

	if locked {
		switch scope {
		case models.LockScopeEmail:
			_, err = tx.ExecContext(ctx, `
				UPDATE demo_users
				SET ai_chat_locked = TRUE, updated_at = NOW()
				WHERE email = $1 AND NOT ai_chat_locked
			`, email)
		case models.LockScopeIP:
			_, err = tx.ExecContext(ctx, `
				UPDATE demo_users
				SET ai_chat_locked = TRUE, updated_at = NOW()
				WHERE ip_address = $1 AND NOT ai_chat_locked
			`, ipAddress)
		}
		if err != nil {
			return false, fmt.Errorf("failed to propagate chat lock: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return locked, nil
}

// RecordMetricCreated increments the metric counter for the given framework,
// but only while the counter is below the quota. Returns
// ErrMetricQuotaExceeded when the quota is already used up.
func (r *DemoRepository) RecordMetricCreated(ctx context.Context, sessionID string, framework models.MetricFramework, quota int) (int, error) {
	column := "ai_metrics_created_csf"
	if framework == models.FrameworkAIRMF {
		column = "ai_metrics_created_ai_rmf"
	}

	// column comes from the whitelist above, never from input
	query := fmt.Sprintf(`
		UPDATE demo_users
		SET %s = %s + 1, updated_at = NOW()
		WHERE session_id = $1 AND %s < $2
		RETURNING %s
	`, column, column, column, column)

	var count int
	err := r.db.conn.QueryRowxContext(ctx, query, sessionID, quota).Scan(&count)
	if err != nil {
		if err != sql.ErrNoRows {
			return 0, fmt.Errorf("failed to record metric creation: %w", err)
		}
		// Either the session does not exist or the quota is exhausted.
		if _, getErr := r.GetBySessionID(ctx, sessionID); getErr != nil {
			return 0, getErr
		}
		return 0, ErrMetricQuotaExceeded
	}

	return count, nil
}

// MarkExpired sets the expired flag. The flag is one-way; marking an
// already-expired session is a no-op.
func (r *DemoRepository) MarkExpired(ctx context.Context, sessionID string) error {
	result, err := r.db.conn.ExecContext(ctx, `
		UPDATE demo_users
		SET expired = TRUE, updated_at = NOW()
		WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to mark session expired: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrDemoSessionNotFound
	}

	return nil
}

// ExpireOverdue flushes the expired flag for all sessions whose deadline has
// passed. Intended for a periodic sweep; lazy evaluation in the abuse guard
// keeps correctness even if the sweep never runs.
func (r *DemoRepository) ExpireOverdue(ctx context.Context) (int64, error) {
	result, err := r.db.conn.ExecContext(ctx, `
		UPDATE demo_users
		SET expired = TRUE, updated_at = NOW()
		WHERE NOT expired AND demo_expires_at <= NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to expire overdue sessions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}
