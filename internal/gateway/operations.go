package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"ai_gateway/internal/auth"
	"ai_gateway/internal/models"
	"ai_gateway/internal/providers"
)

// SetupProvider validates and stores a new provider configuration for the
// user. Structural credential problems surface as ConfigurationError; a live
// rejection by the provider surfaces as AuthenticationError. When activate is
// true the new configuration becomes the active one.
func (s *Service) SetupProvider(ctx context.Context, userID uuid.UUID, pt models.ProviderType, creds models.Credentials, activate bool) (*models.UserAIConfiguration, error) {
	if !pt.Valid() {
		return nil, providers.Errorf(providers.KindInvalidRequest, "", "unknown provider type %q", pt)
	}
	if err := creds.Validate(pt); err != nil {
		return nil, providers.NewError(providers.KindConfiguration, pt, err)
	}

	adapter, err := s.registry.Get(pt)
	if err != nil {
		return nil, err
	}

	if !adapter.ValidateCredentials(ctx, creds) {
		return nil, providers.Errorf(providers.KindAuthentication, pt, "provider rejected the credentials")
	}

	encrypted, err := s.encryption.EncryptCredentials(creds)
	if err != nil {
		return nil, providers.NewError(providers.KindConfiguration, pt, err)
	}

	cfg := &models.UserAIConfiguration{
		UserID:               userID,
		ProviderType:         pt,
		EncryptedCredentials: encrypted,
	}
	if err := s.configs.Create(ctx, cfg); err != nil {
		return nil, classifyDomainError(err)
	}

	if activate {
		if err := s.configs.Activate(ctx, userID, cfg.ID); err != nil {
			return nil, classifyDomainError(err)
		}
		cfg.IsActive = true
	}

	s.logger.Info("Provider configuration created",
		"user_id", userID, "provider", string(pt), "active", activate)

	return cfg, nil
}

// ActivateConfiguration makes the given configuration the user's active one
func (s *Service) ActivateConfiguration(ctx context.Context, userID, configID uuid.UUID) error {
	if err := s.configs.Activate(ctx, userID, configID); err != nil {
		return classifyDomainError(err)
	}
	s.logger.Info("Configuration activated", "user_id", userID, "configuration_id", configID)
	return nil
}

// DeactivateConfiguration turns off a configuration without activating another
func (s *Service) DeactivateConfiguration(ctx context.Context, userID, configID uuid.UUID) error {
	if err := s.configs.Deactivate(ctx, userID, configID); err != nil {
		return classifyDomainError(err)
	}
	return nil
}

// ListConfigurations returns all of the user's configurations
func (s *Service) ListConfigurations(ctx context.Context, userID uuid.UUID) ([]*models.UserAIConfiguration, error) {
	return s.configs.ListByUser(ctx, userID)
}

// ActiveConfiguration resolves the user's active configuration. Absence is
// reported through storage.ErrNoActiveConfiguration; callers branch on it.
func (s *Service) ActiveConfiguration(ctx context.Context, userID uuid.UUID) (*models.UserAIConfiguration, error) {
	return s.configs.ResolveActive(ctx, userID)
}

// ListModels returns the static model catalog and default model for a
// provider type. Works without network access.
func (s *Service) ListModels(pt models.ProviderType) ([]providers.ModelDescriptor, string, error) {
	if !pt.Valid() {
		return nil, "", providers.Errorf(providers.KindInvalidRequest, "", "unknown provider type %q", pt)
	}

	adapter, err := s.registry.Get(pt)
	if err != nil {
		return nil, "", err
	}

	return adapter.Models(), adapter.DefaultModel(), nil
}

// StartDemoSession creates a demo session and issues its session token. The
// token expiry matches the session deadline.
func (s *Service) StartDemoSession(ctx context.Context, email, ipAddress string) (*models.DemoUser, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", providers.Errorf(providers.KindInvalidRequest, "", "a valid email is required")
	}

	now := time.Now().UTC()
	user := &models.DemoUser{
		SessionID:     uuid.NewString(),
		Email:         email,
		IPAddress:     ipAddress,
		DemoStartedAt: now,
		DemoExpiresAt: now.Add(s.config.DemoSessionDuration),
	}

	if err := s.demos.Create(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := auth.GenerateSessionToken(user.SessionID, user.DemoExpiresAt, s.config.JWTSecret)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("Demo session started",
		"session_id", user.SessionID, "expires_at", user.DemoExpiresAt)

	return user, token, nil
}

// MetricResult is the outcome of an AI-assisted metric generation
type MetricResult struct {
	Response  *models.AIResponse
	Framework models.MetricFramework
	Remaining int
}

// GenerateMetric performs AI-assisted metric generation for a demo session.
// The per-framework quota is checked and counted before the provider call;
// exceeding it is reported, never silently capped.
func (s *Service) GenerateMetric(ctx context.Context, sessionID string, framework models.MetricFramework, req SendRequest) (*MetricResult, error) {
	user, remaining, err := s.guard.CheckAndCountMetric(ctx, sessionID, framework)
	if err != nil {
		return nil, classifyDomainError(err)
	}

	if err := validateShape(req); err != nil {
		return nil, err
	}

	cfg, err := s.configs.ResolveActive(ctx, user.ID)
	if err != nil {
		return nil, classifyDomainError(err)
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

	usageReq := req
	usageReq.SessionID = sessionID
	usageReq.Framework = string(framework)
	s.recordUsage(ctx, usageReq, cfg.ProviderType, resp, err, time.Since(start))

	if err != nil {
		return nil, err
	}

	return &MetricResult{
		Response:  resp,
		Framework: framework,
		Remaining: remaining,
	}, nil
}
