package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"ai_gateway/internal/models"
)

// UsageRepository handles usage record database operations
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

const usageInsertQuery = `
	INSERT INTO usage_records (
		id, request_id, user_id, session_id, provider_type, model, framework,
		input_tokens, output_tokens, response_time_ms, error_kind
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	RETURNING created_at
`

// Create creates a new usage record
func (r *UsageRepository) Create(ctx context.Context, record *models.UsageRecord) error {
	return r.create(ctx, r.db.conn, record)
}

// CreateTx creates a new usage record inside an existing transaction
func (r *UsageRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, record *models.UsageRecord) error {
	return r.create(ctx, tx, record)
}

type rowQuerier interface {
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
}

func (r *UsageRepository) create(ctx context.Context, q rowQuerier, record *models.UsageRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	err := q.QueryRowxContext(
		ctx, usageInsertQuery,
		record.ID, record.RequestID, record.UserID, record.SessionID,
		record.ProviderType, record.Model, record.Framework,
		record.InputTokens, record.OutputTokens, record.ResponseTimeMS,
		record.ErrorKind,
	).Scan(&record.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create usage record: %w", err)
	}

	return nil
}
