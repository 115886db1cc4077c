// Package abuse enforces demo-session quotas and the chat lockout state
// machine. Sessions move ACTIVE -> LOCKED and ACTIVE -> EXPIRED; both
// transitions are one-way and independent of each other.
package abuse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai_gateway/internal/models"
	"ai_gateway/internal/storage"
	"ai_gateway/internal/utils"
)

var (
	// ErrSessionExpired is returned when the demo session's deadline has passed
	ErrSessionExpired = errors.New("demo session expired")

	// ErrChatLocked is returned when the session's chat capability is locked
	ErrChatLocked = errors.New("demo chat locked")

	// ErrMetricQuotaExceeded is returned when a metric quota is used up
	ErrMetricQuotaExceeded = errors.New("metric quota exceeded")
)

// Config holds abuse guard tuning
type Config struct {
	// InvalidRequestThreshold is the number of structurally invalid requests
	// after which a session's chat capability is locked
	InvalidRequestThreshold int

	// MetricQuotaCSF and MetricQuotaAIRMF cap AI-assisted metric generation
	// per session, per framework
	MetricQuotaCSF   int
	MetricQuotaAIRMF int

	// LockScope selects whether a lockout applies to the session, the email,
	// or the IP address
	LockScope models.LockScope
}

// DefaultConfig returns default abuse guard configuration
func DefaultConfig() Config {
	return Config{
		InvalidRequestThreshold: 5,
		MetricQuotaCSF:          10,
		MetricQuotaAIRMF:        10,
		LockScope:               models.LockScopeSession,
	}
}

// Store is the demo-session persistence the guard needs. Counter operations
// must be atomic; see storage.DemoRepository.
type Store interface {
	GetBySessionID(ctx context.Context, sessionID string) (*models.DemoUser, error)
	RecordChatInteraction(ctx context.Context, sessionID string) error
	RecordInvalidRequest(ctx context.Context, sessionID string, threshold int, scope models.LockScope) (bool, error)
	RecordMetricCreated(ctx context.Context, sessionID string, framework models.MetricFramework, quota int) (int, error)
	MarkExpired(ctx context.Context, sessionID string) error
}

// Guard evaluates demo-session state before and after gateway operations
type Guard struct {
	store  Store
	config Config
	logger *utils.Logger

	// now is injectable for expiry tests
	now func() time.Time
}

// NewGuard creates a new abuse guard
func NewGuard(store Store, config Config) *Guard {
	if config.InvalidRequestThreshold <= 0 {
		config.InvalidRequestThreshold = DefaultConfig().InvalidRequestThreshold
	}
	if !config.LockScope.Valid() {
		config.LockScope = models.LockScopeSession
	}

	return &Guard{
		store:  store,
		config: config,
		logger: utils.NewLogger("abuse-guard"),
		now:    time.Now,
	}
}

// CheckChatAllowed loads the session and verifies it may chat. Expiry is
// evaluated lazily against demo_expires_at, so a session past its deadline is
// rejected even if the stored expired flag has not been flushed yet; the flag
// is flushed best-effort on first detection.
func (g *Guard) CheckChatAllowed(ctx context.Context, sessionID string) (*models.DemoUser, error) {
	user, err := g.store.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if user.IsExpired(g.now()) {
		if !user.Expired {
			if err := g.store.MarkExpired(ctx, sessionID); err != nil {
				g.logger.Warn("Failed to flush expired flag", "session_id", sessionID, "error", err)
			}
		}
		return nil, ErrSessionExpired
	}

	if user.AIChatLocked {
		return nil, ErrChatLocked
	}

	return user, nil
}

// RecordInteraction counts a completed chat interaction against the session
func (g *Guard) RecordInteraction(ctx context.Context, sessionID string) error {
	return g.store.RecordChatInteraction(ctx, sessionID)
}

// RecordInvalidRequest counts a structurally invalid request. Returns true
// when the session is now locked, either by this increment crossing the
// threshold or by an earlier lock.
func (g *Guard) RecordInvalidRequest(ctx context.Context, sessionID string) (bool, error) {
	locked, err := g.store.RecordInvalidRequest(ctx, sessionID, g.config.InvalidRequestThreshold, g.config.LockScope)
	if err != nil {
		return false, err
	}

	if locked {
		g.logger.Warn("Demo session chat locked",
			"session_id", sessionID,
			"threshold", g.config.InvalidRequestThreshold,
			"scope", string(g.config.LockScope))
	}

	return locked, nil
}

// CheckAndCountMetric verifies the session may generate one more AI-assisted
// metric for the framework and counts it. Returns the session and the
// remaining quota. Exceeding a quota is reported via ErrMetricQuotaExceeded,
// never silently capped.
func (g *Guard) CheckAndCountMetric(ctx context.Context, sessionID string, framework models.MetricFramework) (*models.DemoUser, int, error) {
	if !framework.Valid() {
		return nil, 0, fmt.Errorf("unknown metric framework: %s", framework)
	}

	user, err := g.store.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}

	if user.IsExpired(g.now()) {
		if !user.Expired {
			if err := g.store.MarkExpired(ctx, sessionID); err != nil {
				g.logger.Warn("Failed to flush expired flag", "session_id", sessionID, "error", err)
			}
		}
		return nil, 0, ErrSessionExpired
	}

	quota := g.quotaFor(framework)
	count, err := g.store.RecordMetricCreated(ctx, sessionID, framework, quota)
	if err != nil {
		if errors.Is(err, storage.ErrMetricQuotaExceeded) {
			return nil, 0, ErrMetricQuotaExceeded
		}
		return nil, 0, err
	}

	return user, quota - count, nil
}

func (g *Guard) quotaFor(framework models.MetricFramework) int {
	if framework == models.FrameworkAIRMF {
		return g.config.MetricQuotaAIRMF
	}
	return g.config.MetricQuotaCSF
}
