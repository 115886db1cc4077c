package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai_gateway/internal/abuse"
	"ai_gateway/internal/auth"
	"ai_gateway/internal/models"
	"ai_gateway/internal/providers"
	"ai_gateway/internal/storage"
)

// fakeAdapter is a scripted provider: it returns the queued errors in order,
// then succeeds.
type fakeAdapter struct {
	providerType models.ProviderType
	errs         []error
	calls        int
	lastRequest  providers.ChatRequest
	lastDeadline time.Time
	validateOK   bool
}

func (f *fakeAdapter) Type() models.ProviderType { return f.providerType }
func (f *fakeAdapter) Available() bool           { return true }

func (f *fakeAdapter) Models() []providers.ModelDescriptor {
	return []providers.ModelDescriptor{{ID: "fake-model", DisplayName: "Fake Model"}}
}

func (f *fakeAdapter) DefaultModel() string { return "fake-model" }

func (f *fakeAdapter) ValidateCredentials(ctx context.Context, creds models.Credentials) bool {
	return f.validateOK
}

func (f *fakeAdapter) Chat(ctx context.Context, creds models.Credentials, req providers.ChatRequest) (*models.AIResponse, error) {
	f.calls++
	f.lastRequest = req
	f.lastDeadline, _ = ctx.Deadline()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &models.AIResponse{
		Content:    "hello",
		Usage:      models.Usage{InputTokens: 10, OutputTokens: 5},
		StopReason: models.StopReasonStop,
		Model:      req.Model,
	}, nil
}

type fakeConfigStore struct {
	configs map[uuid.UUID]*models.UserAIConfiguration
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{configs: make(map[uuid.UUID]*models.UserAIConfiguration)}
}

func (s *fakeConfigStore) Create(ctx context.Context, cfg *models.UserAIConfiguration) error {
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	cfg.IsActive = false
	copied := *cfg
	s.configs[cfg.ID] = &copied
	return nil
}

func (s *fakeConfigStore) Activate(ctx context.Context, userID, configID uuid.UUID) error {
	target, ok := s.configs[configID]
	if !ok || target.UserID != userID {
		return storage.ErrConfigurationNotFound
	}
	for _, cfg := range s.configs {
		if cfg.UserID == userID {
			cfg.IsActive = false
		}
	}
	target.IsActive = true
	return nil
}

func (s *fakeConfigStore) Deactivate(ctx context.Context, userID, configID uuid.UUID) error {
	target, ok := s.configs[configID]
	if !ok || target.UserID != userID {
		return storage.ErrConfigurationNotFound
	}
	target.IsActive = false
	return nil
}

func (s *fakeConfigStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.UserAIConfiguration, error) {
	var out []*models.UserAIConfiguration
	for _, cfg := range s.configs {
		if cfg.UserID == userID {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (s *fakeConfigStore) ResolveActive(ctx context.Context, userID uuid.UUID) (*models.UserAIConfiguration, error) {
	for _, cfg := range s.configs {
		if cfg.UserID == userID && cfg.IsActive {
			return cfg, nil
		}
	}
	return nil, storage.ErrNoActiveConfiguration
}

type fakeDemoStore struct {
	created []*models.DemoUser
}

func (s *fakeDemoStore) Create(ctx context.Context, user *models.DemoUser) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	s.created = append(s.created, user)
	return nil
}

// fakeGuard tracks counter calls and returns a scripted precheck outcome
type fakeGuard struct {
	user         *models.DemoUser
	checkErr     error
	interactions int
	invalid      int
	lockAt       int
	metricLeft   int
	metricErr    error
}

func (g *fakeGuard) CheckChatAllowed(ctx context.Context, sessionID string) (*models.DemoUser, error) {
	if g.checkErr != nil {
		return nil, g.checkErr
	}
	return g.user, nil
}

func (g *fakeGuard) RecordInteraction(ctx context.Context, sessionID string) error {
	g.interactions++
	return nil
}

func (g *fakeGuard) RecordInvalidRequest(ctx context.Context, sessionID string) (bool, error) {
	g.invalid++
	return g.lockAt > 0 && g.invalid >= g.lockAt, nil
}

func (g *fakeGuard) CheckAndCountMetric(ctx context.Context, sessionID string, framework models.MetricFramework) (*models.DemoUser, int, error) {
	if g.metricErr != nil {
		return nil, 0, g.metricErr
	}
	return g.user, g.metricLeft, nil
}

type fakeUsageSink struct {
	records []*models.UsageRecord
}

func (s *fakeUsageSink) Enqueue(ctx context.Context, record *models.UsageRecord) error {
	s.records = append(s.records, record)
	return nil
}

type testHarness struct {
	service *Service
	adapter *fakeAdapter
	configs *fakeConfigStore
	demos   *fakeDemoStore
	guard   *fakeGuard
	usage   *fakeUsageSink
	userID  uuid.UUID
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	adapter := &fakeAdapter{providerType: models.ProviderTypeAnthropic, validateOK: true}
	configs := newFakeConfigStore()
	demos := &fakeDemoStore{}
	usage := &fakeUsageSink{}

	userID := uuid.New()
	guard := &fakeGuard{user: &models.DemoUser{ID: userID, SessionID: "demo-session"}}

	enc, err := storage.NewEncryption(make([]byte, 32))
	require.NoError(t, err)

	encrypted, err := enc.EncryptCredentials(models.Credentials{APIKey: "sk-test"})
	require.NoError(t, err)

	cfg := &models.UserAIConfiguration{UserID: userID, ProviderType: models.ProviderTypeAnthropic, EncryptedCredentials: encrypted}
	require.NoError(t, configs.Create(context.Background(), cfg))
	require.NoError(t, configs.Activate(context.Background(), userID, cfg.ID))

	svc := NewService(
		providers.NewRegistry(adapter),
		configs, demos, guard, enc, usage,
		Config{JWTSecret: []byte("test-secret"), RetryBackoffBase: time.Millisecond},
	)
	svc.sleep = func(time.Duration) {}

	return &testHarness{
		service: svc,
		adapter: adapter,
		configs: configs,
		demos:   demos,
		guard:   guard,
		usage:   usage,
		userID:  userID,
	}
}

func TestSend_Success(t *testing.T) {
	h := newTestHarness(t)

	resp, err := h.service.Send(context.Background(), SendRequest{
		SessionID: "demo-session",
		Message:   "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 1, h.adapter.calls)
	assert.Equal(t, 1, h.guard.interactions)
	assert.Equal(t, 1024, h.adapter.lastRequest.MaxTokens, "default token budget applied")

	require.Len(t, h.usage.records, 1)
	assert.Equal(t, 10, h.usage.records[0].InputTokens)
	assert.Empty(t, h.usage.records[0].ErrorKind)
}

func TestSend_ProviderAttemptDeadline(t *testing.T) {
	h := newTestHarness(t)
	h.service.config.ProviderTimeout = 30 * time.Second

	_, err := h.service.Send(context.Background(), SendRequest{
		SessionID: "demo-session",
		Message:   "hello",
	})
	require.NoError(t, err)

	require.False(t, h.adapter.lastDeadline.IsZero(), "attempt context carries a deadline")
	assert.WithinDuration(t, time.Now().Add(30*time.Second), h.adapter.lastDeadline, 5*time.Second)
}

func TestSend_NoAttemptDeadlineWhenDisabled(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.service.Send(context.Background(), SendRequest{
		SessionID: "demo-session",
		Message:   "hello",
	})
	require.NoError(t, err)

	assert.True(t, h.adapter.lastDeadline.IsZero(), "zero timeout leaves the caller's context untouched")
}

func TestSend_RateLimitRetriedThenSuccess(t *testing.T) {
	h := newTestHarness(t)
	h.adapter.errs = []error{
		providers.Errorf(providers.KindRateLimit, models.ProviderTypeAnthropic, "throttled"),
	}

	resp, err := h.service.Send(context.Background(), SendRequest{
		SessionID: "demo-session",
		Message:   "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)

	assert.Equal(t, 2, h.adapter.calls, "one retry after the 429")
	assert.Equal(t, 1, h.guard.interactions, "interaction counted once, not per attempt")
	assert.Len(t, h.usage.records, 1, "usage recorded once, not per attempt")
}

func TestSend_RateLimitRetriesBounded(t *testing.T) {
	h := newTestHarness(t)
	throttle := providers.Errorf(providers.KindRateLimit, models.ProviderTypeAnthropic, "throttled")
	h.adapter.errs = []error{throttle, throttle, throttle, throttle, throttle}

	_, err := h.service.Send(context.Background(), SendRequest{
		SessionID: "demo-session",
		Message:   "hello",
	})
	require.Error(t, err)
	assert.True(t, providers.IsKind(err, providers.KindRateLimit))

	// Initial attempt plus the retry cap of 3.
	assert.Equal(t, 4, h.adapter.calls)
	assert.Equal(t, 1, h.guard.interactions)
	require.Len(t, h.usage.records, 1)
	assert.Equal(t, "rate_limit_error", h.usage.records[0].ErrorKind)
}

func TestSend_UnavailableRetriedOnce(t *testing.T) {
	h := newTestHarness(t)
	down := providers.Errorf(providers.KindProviderUnavailable, models.ProviderTypeAnthropic, "connection refused")
	h.adapter.errs = []error{down, down, down}

	_, err := h.service.Send(context.Background(), SendRequest{
		SessionID: "demo-session",
		Message:   "hello",
	})
	require.Error(t, err)
	assert.True(t, providers.IsKind(err, providers.KindProviderUnavailable))
	assert.Equal(t, 2, h.adapter.calls, "unavailable gets exactly one retry")
}

func TestSend_AuthenticationNeverRetried(t *testing.T) {
	h := newTestHarness(t)
	h.adapter.errs = []error{
		providers.Errorf(providers.KindAuthentication, models.ProviderTypeAnthropic, "bad key"),
	}

	_, err := h.service.Send(context.Background(), SendRequest{
		SessionID: "demo-session",
		Message:   "hello",
	})
	require.Error(t, err)
	assert.True(t, providers.IsKind(err, providers.KindAuthentication))
	assert.Equal(t, 1, h.adapter.calls)
}

func TestSend_LockedShortCircuits(t *testing.T) {
	h := newTestHarness(t)
	h.guard.checkErr = abuse.ErrChatLocked

	_, err := h.service.Send(context.Background(), SendRequest{
		SessionID: "demo-session",
		Message:   "perfectly valid message",
	})
	require.Error(t, err)
	assert.True(t, providers.IsKind(err, providers.KindLocked))
	assert.Equal(t, 0, h.adapter.calls, "no provider call for a locked session")
	assert.Equal(t, 0, h.guard.interactions)
}

func TestSend_ExpiredShortCircuits(t *testing.T) {
	h := newTestHarness(t)
	h.guard.checkErr = abuse.ErrSessionExpired

	_, err := h.service.Send(context.Background(), SendRequest{
		SessionID: "demo-session",
		Message:   "hello",
	})
	require.Error(t, err)
	assert.True(t, providers.IsKind(err, providers.KindLocked))
	assert.Equal(t, 0, h.adapter.calls)
}

func TestSend_InvalidRequestCounted(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.service.Send(context.Background(), SendRequest{
		SessionID: "demo-session",
		Message:   "   ",
	})
	require.Error(t, err)
	assert.True(t, providers.IsKind(err, providers.KindInvalidRequest))
	assert.Equal(t, 1, h.guard.invalid)
	assert.Equal(t, 0, h.adapter.calls)
	assert.Equal(t, 0, h.guard.interactions, "invalid requests are not chat interactions")
}

func TestSend_RegisteredUserSkipsAbuseCounters(t *testing.T) {
	h := newTestHarness(t)

	resp, err := h.service.Send(context.Background(), SendRequest{
		UserID:  &h.userID,
		Message: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 0, h.guard.interactions)
}

func TestSend_NoActiveConfiguration(t *testing.T) {
	h := newTestHarness(t)
	otherUser := uuid.New()
	h.guard.user = &models.DemoUser{ID: otherUser, SessionID: "demo-session"}

	_, err := h.service.Send(context.Background(), SendRequest{
		SessionID: "demo-session",
		Message:   "hello",
	})
	require.Error(t, err)
	assert.True(t, providers.IsKind(err, providers.KindConfiguration))
}

func TestSend_ProviderPinMismatch(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.service.Send(context.Background(), SendRequest{
		SessionID: "demo-session",
		Provider:  models.ProviderTypeOpenAI,
		Message:   "hello",
	})
	require.Error(t, err)
	assert.True(t, providers.IsKind(err, providers.KindInvalidRequest))
	assert.Equal(t, 0, h.adapter.calls)
}

func TestSetupProvider(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	userID := uuid.New()

	t.Run("structurally invalid credentials", func(t *testing.T) {
		_, err := h.service.SetupProvider(ctx, userID, models.ProviderTypeAnthropic, models.Credentials{}, false)
		require.Error(t, err)
		assert.True(t, providers.IsKind(err, providers.KindConfiguration))
	})

	t.Run("provider rejects credentials", func(t *testing.T) {
		h.adapter.validateOK = false
		defer func() { h.adapter.validateOK = true }()

		_, err := h.service.SetupProvider(ctx, userID, models.ProviderTypeAnthropic, models.Credentials{APIKey: "sk-bad"}, false)
		require.Error(t, err)
		assert.True(t, providers.IsKind(err, providers.KindAuthentication))
	})

	t.Run("create and activate", func(t *testing.T) {
		cfg, err := h.service.SetupProvider(ctx, userID, models.ProviderTypeAnthropic, models.Credentials{APIKey: "sk-good"}, true)
		require.NoError(t, err)
		assert.True(t, cfg.IsActive)

		active, err := h.service.ActiveConfiguration(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, cfg.ID, active.ID)

		// Stored credentials are encrypted, not plaintext.
		assert.NotContains(t, active.EncryptedCredentials, "sk-good")
	})

	t.Run("unknown provider type", func(t *testing.T) {
		_, err := h.service.SetupProvider(ctx, userID, models.ProviderType("mystery"), models.Credentials{APIKey: "k"}, false)
		require.Error(t, err)
		assert.True(t, providers.IsKind(err, providers.KindInvalidRequest))
	})
}

func TestActivateConfiguration_NotFound(t *testing.T) {
	h := newTestHarness(t)

	err := h.service.ActivateConfiguration(context.Background(), h.userID, uuid.New())
	require.Error(t, err)
	assert.True(t, providers.IsKind(err, providers.KindNotFound))
}

func TestListModels(t *testing.T) {
	h := newTestHarness(t)

	descriptors, def, err := h.service.ListModels(models.ProviderTypeAnthropic)
	require.NoError(t, err)
	assert.NotEmpty(t, descriptors)
	assert.Equal(t, "fake-model", def)

	_, _, err = h.service.ListModels(models.ProviderType("mystery"))
	require.Error(t, err)
	assert.True(t, providers.IsKind(err, providers.KindInvalidRequest))
}

func TestStartDemoSession(t *testing.T) {
	h := newTestHarness(t)

	user, token, err := h.service.StartDemoSession(context.Background(), "Someone@Example.com ", "203.0.113.7")
	require.NoError(t, err)

	assert.Equal(t, "someone@example.com", user.Email)
	assert.True(t, user.DemoExpiresAt.After(user.DemoStartedAt))
	require.Len(t, h.demos.created, 1)

	// The token round-trips to the session ID.
	sessionID, err := auth.ParseSessionToken(token, []byte("test-secret"))
	require.NoError(t, err)
	assert.Equal(t, user.SessionID, sessionID)

	_, _, err = h.service.StartDemoSession(context.Background(), "not-an-email", "203.0.113.7")
	require.Error(t, err)
	assert.True(t, providers.IsKind(err, providers.KindInvalidRequest))
}

func TestGenerateMetric(t *testing.T) {
	h := newTestHarness(t)
	h.guard.metricLeft = 4

	result, err := h.service.GenerateMetric(context.Background(), "demo-session", models.FrameworkCSF, SendRequest{
		Message: "generate a metric",
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", result.Response.Content)
	assert.Equal(t, 4, result.Remaining)
	assert.Equal(t, models.FrameworkCSF, result.Framework)

	require.Len(t, h.usage.records, 1)
	assert.Equal(t, string(models.FrameworkCSF), h.usage.records[0].Framework)
	assert.Equal(t, "demo-session", h.usage.records[0].SessionID)
}

func TestGenerateMetric_QuotaExceeded(t *testing.T) {
	h := newTestHarness(t)
	h.guard.metricErr = abuse.ErrMetricQuotaExceeded

	_, err := h.service.GenerateMetric(context.Background(), "demo-session", models.FrameworkCSF, SendRequest{
		Message: "generate a metric",
	})
	require.ErrorIs(t, err, abuse.ErrMetricQuotaExceeded)
	assert.Equal(t, 0, h.adapter.calls)
}
