// Package gateway orchestrates AI chat calls: abuse precheck, active
// configuration resolution, credential decryption, adapter dispatch, error
// classification, bounded retry, and usage accounting.
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"ai_gateway/internal/abuse"
	"ai_gateway/internal/models"
	"ai_gateway/internal/providers"
	"ai_gateway/internal/storage"
	"ai_gateway/internal/utils"
)

// Config holds gateway tuning
type Config struct {
	// MaxRateLimitRetries caps retries after provider throttling
	MaxRateLimitRetries int

	// RetryBackoffBase is the first backoff interval; it doubles per attempt
	RetryBackoffBase time.Duration

	// DemoSessionDuration is how long a new demo session lives
	DemoSessionDuration time.Duration

	// DefaultMaxTokens is applied when the caller does not set a budget
	DefaultMaxTokens int

	// ProviderTimeout bounds each provider attempt; retries get a fresh
	// deadline. Zero leaves only the adapters' own client timeouts.
	ProviderTimeout time.Duration

	// JWTSecret signs demo session tokens
	JWTSecret []byte
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		MaxRateLimitRetries: 3,
		RetryBackoffBase:    500 * time.Millisecond,
		DemoSessionDuration: 24 * time.Hour,
		DefaultMaxTokens:    1024,
		ProviderTimeout:     60 * time.Second,
	}
}

// ConfigurationStore is the configuration persistence the gateway needs
type ConfigurationStore interface {
	Create(ctx context.Context, cfg *models.UserAIConfiguration) error
	Activate(ctx context.Context, userID, configID uuid.UUID) error
	Deactivate(ctx context.Context, userID, configID uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.UserAIConfiguration, error)
	ResolveActive(ctx context.Context, userID uuid.UUID) (*models.UserAIConfiguration, error)
}

// DemoStore creates demo sessions; counter updates go through the abuse guard
type DemoStore interface {
	Create(ctx context.Context, user *models.DemoUser) error
}

// AbuseGuard is the demo lockout state machine. *abuse.Guard implements it.
type AbuseGuard interface {
	CheckChatAllowed(ctx context.Context, sessionID string) (*models.DemoUser, error)
	RecordInteraction(ctx context.Context, sessionID string) error
	RecordInvalidRequest(ctx context.Context, sessionID string) (bool, error)
	CheckAndCountMetric(ctx context.Context, sessionID string, framework models.MetricFramework) (*models.DemoUser, int, error)
}

// UsageSink receives per-interaction usage records
type UsageSink interface {
	Enqueue(ctx context.Context, record *models.UsageRecord) error
}

// Service is the gateway. It is the only component that combines the
// registry, the configuration store, and the abuse guard.
type Service struct {
	registry   *providers.Registry
	configs    ConfigurationStore
	demos      DemoStore
	guard      AbuseGuard
	encryption *storage.Encryption
	usage      UsageSink
	config     Config
	logger     *utils.Logger

	// sleep is injectable so retry tests do not wait out real backoff
	sleep func(time.Duration)
}

// NewService creates a new gateway service. usage may be nil when usage
// recording is disabled.
func NewService(registry *providers.Registry, configs ConfigurationStore, demos DemoStore, guard AbuseGuard, encryption *storage.Encryption, usage UsageSink, config Config) *Service {
	if config.MaxRateLimitRetries <= 0 {
		config.MaxRateLimitRetries = DefaultConfig().MaxRateLimitRetries
	}
	if config.RetryBackoffBase <= 0 {
		config.RetryBackoffBase = DefaultConfig().RetryBackoffBase
	}
	if config.DemoSessionDuration <= 0 {
		config.DemoSessionDuration = DefaultConfig().DemoSessionDuration
	}
	if config.DefaultMaxTokens <= 0 {
		config.DefaultMaxTokens = DefaultConfig().DefaultMaxTokens
	}

	return &Service{
		registry:   registry,
		configs:    configs,
		demos:      demos,
		guard:      guard,
		encryption: encryption,
		usage:      usage,
		config:     config,
		logger:     utils.NewLogger("gateway"),
		sleep:      time.Sleep,
	}
}

// SendRequest is a normalized inbound chat request. Either UserID (registered
// user) or SessionID (demo session) identifies the caller; demo sessions also
// carry the demo user's ID once the abuse precheck resolves it.
type SendRequest struct {
	UserID    *uuid.UUID
	SessionID string

	// Provider optionally pins the expected provider type; a mismatch with
	// the active configuration is rejected before any network call.
	Provider models.ProviderType

	Model       string
	System      string
	Message     string
	Framework   string
	MaxTokens   int
	Temperature float64
}

// Send performs one chat interaction. Order of checks is fixed: abuse state
// first (cheapest, no network), then request shape, then configuration
// resolution, then the provider call with bounded retry.
func (s *Service) Send(ctx context.Context, req SendRequest) (*models.AIResponse, error) {
	isDemo := req.SessionID != ""

	configUserID, err := s.resolveCaller(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := validateShape(req); err != nil {
		if isDemo {
			if _, recErr := s.guard.RecordInvalidRequest(ctx, req.SessionID); recErr != nil {
				s.logger.Error("Failed to record invalid request", "session_id", req.SessionID, "error", recErr)
			}
		}
		return nil, err
	}

	cfg, err := s.configs.ResolveActive(ctx, configUserID)
	if err != nil {
		return nil, classifyDomainError(err)
	}

	if req.Provider != "" && req.Provider != cfg.ProviderType {
		return nil, providers.Errorf(providers.KindInvalidRequest, cfg.ProviderType,
			"active configuration is %s, request pinned %s", cfg.ProviderType, req.Provider)
	}

	adapter, err := s.registry.Get(cfg.ProviderType)
	if err != nil {
		return nil, err
	}

	creds, err := s.encryption.DecryptCredentials(cfg.EncryptedCredentials)
	if err != nil {
		return nil, providers.NewError(providers.KindConfiguration, cfg.ProviderType, err)
	}

	start := time.Now()
	resp, err := s.dispatch(ctx, adapter, creds, providers.ChatRequest{
		Model:       req.Model,
		System:      req.System,
		Message:     req.Message,
		MaxTokens:   s.maxTokens(req.MaxTokens),
		Temperature: req.Temperature,
	})

	// A cancelled caller gets no accounting at all, so counters are never
	// half-updated for an abandoned request.
	if ctx.Err() != nil {
		return nil, providers.NewError(providers.KindProviderUnavailable, cfg.ProviderType, ctx.Err())
	}

	// The attempt is recorded exactly once, independent of retries.
	if isDemo {
		if recErr := s.guard.RecordInteraction(ctx, req.SessionID); recErr != nil {
			s.logger.Error("Failed to record chat interaction", "session_id", req.SessionID, "error", recErr)
		}
	}

	s.recordUsage(ctx, req, cfg.ProviderType, resp, err, time.Since(start))

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// resolveCaller enforces the abuse precheck for demo sessions and returns the
// user ID configurations are keyed by.
func (s *Service) resolveCaller(ctx context.Context, req SendRequest) (uuid.UUID, error) {
	if req.SessionID != "" {
		user, err := s.guard.CheckChatAllowed(ctx, req.SessionID)
		if err != nil {
			return uuid.Nil, classifyDomainError(err)
		}
		return user.ID, nil
	}

	if req.UserID == nil {
		return uuid.Nil, providers.Errorf(providers.KindInvalidRequest, "", "caller identity missing")
	}
	return *req.UserID, nil
}

// dispatch runs the provider call under the retry policy: rate limiting is
// retried up to the configured cap with doubling backoff, transport failures
// and provider 5xx are retried once, everything else surfaces immediately.
func (s *Service) dispatch(ctx context.Context, adapter providers.Provider, creds models.Credentials, req providers.ChatRequest) (*models.AIResponse, error) {
	var (
		resp             *models.AIResponse
		err              error
		rateLimitRetries int
		unavailRetries   int
	)

	backoff := s.config.RetryBackoffBase
	for {
		resp, err = s.attempt(ctx, adapter, creds, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		switch providers.KindOf(err) {
		case providers.KindRateLimit:
			if rateLimitRetries >= s.config.MaxRateLimitRetries {
				return nil, err
			}
			rateLimitRetries++
		case providers.KindProviderUnavailable:
			if unavailRetries >= 1 {
				return nil, err
			}
			unavailRetries++
		default:
			return nil, err
		}

		s.logger.Warn("Retrying provider call",
			"provider", string(adapter.Type()),
			"kind", providers.KindOf(err).String(),
			"backoff", backoff)
		s.sleep(backoff)
		backoff *= 2
	}
}

// attempt runs one provider call under the configured per-attempt deadline.
// A timed-out attempt classifies as provider unavailability, so the retry
// policy gives it exactly one more try.
func (s *Service) attempt(ctx context.Context, adapter providers.Provider, creds models.Credentials, req providers.ChatRequest) (*models.AIResponse, error) {
	if s.config.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ProviderTimeout)
		defer cancel()
	}
	return adapter.Chat(ctx, creds, req)
}

func (s *Service) maxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return s.config.DefaultMaxTokens
}

func (s *Service) recordUsage(ctx context.Context, req SendRequest, pt models.ProviderType, resp *models.AIResponse, callErr error, elapsed time.Duration) {
	if s.usage == nil {
		return
	}

	record := &models.UsageRecord{
		RequestID:      uuid.New(),
		UserID:         req.UserID,
		SessionID:      req.SessionID,
		ProviderType:   pt,
		Framework:      req.Framework,
		ResponseTimeMS: int(elapsed.Milliseconds()),
	}
	if resp != nil {
		record.Model = resp.Model
		record.InputTokens = resp.Usage.InputTokens
		record.OutputTokens = resp.Usage.OutputTokens
	} else {
		record.Model = req.Model
	}
	if callErr != nil {
		record.ErrorKind = providers.KindOf(callErr).String()
	}

	if err := s.usage.Enqueue(ctx, record); err != nil {
		s.logger.Error("Failed to enqueue usage record", "request_id", record.RequestID, "error", err)
	}
}

// validateShape rejects structurally invalid requests before any provider
// call. These failures count against the demo invalid-request threshold.
func validateShape(req SendRequest) error {
	if strings.TrimSpace(req.Message) == "" {
		return providers.Errorf(providers.KindInvalidRequest, "", "message must not be empty")
	}
	if req.Provider != "" && !req.Provider.Valid() {
		return providers.Errorf(providers.KindInvalidRequest, "", "unknown provider type %q", req.Provider)
	}
	if req.Framework != "" && !models.MetricFramework(req.Framework).Valid() {
		return providers.Errorf(providers.KindInvalidRequest, "", "unknown framework %q", req.Framework)
	}
	return nil
}

// classifyDomainError maps storage and abuse sentinels onto the taxonomy
func classifyDomainError(err error) error {
	switch {
	case errors.Is(err, abuse.ErrChatLocked), errors.Is(err, abuse.ErrSessionExpired):
		return providers.NewError(providers.KindLocked, "", err)
	case errors.Is(err, storage.ErrNoActiveConfiguration):
		return providers.NewError(providers.KindConfiguration, "", err)
	case errors.Is(err, storage.ErrConfigurationNotFound),
		errors.Is(err, storage.ErrDemoSessionNotFound):
		return providers.NewError(providers.KindNotFound, "", err)
	default:
		return err
	}
}
