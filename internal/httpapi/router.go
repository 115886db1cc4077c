package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"ai_gateway/internal/abuse"
	"ai_gateway/internal/config"
	"ai_gateway/internal/gateway"
	"ai_gateway/internal/logging"
	"ai_gateway/internal/middleware"
	"ai_gateway/internal/models"
	"ai_gateway/internal/providers"
	"ai_gateway/internal/queue"
	"ai_gateway/internal/ratelimit"
	"ai_gateway/internal/storage"
	"ai_gateway/internal/utils"
)

// GatewayService is the part of the gateway the HTTP layer calls. Satisfied
// by *gateway.Service; handler tests inject fakes.
type GatewayService interface {
	Send(ctx context.Context, req gateway.SendRequest) (*models.AIResponse, error)
	SetupProvider(ctx context.Context, userID uuid.UUID, pt models.ProviderType, creds models.Credentials, activate bool) (*models.UserAIConfiguration, error)
	ActivateConfiguration(ctx context.Context, userID, configID uuid.UUID) error
	DeactivateConfiguration(ctx context.Context, userID, configID uuid.UUID) error
	ListConfigurations(ctx context.Context, userID uuid.UUID) ([]*models.UserAIConfiguration, error)
	ActiveConfiguration(ctx context.Context, userID uuid.UUID) (*models.UserAIConfiguration, error)
	ListModels(pt models.ProviderType) ([]providers.ModelDescriptor, string, error)
	StartDemoSession(ctx context.Context, email, ipAddress string) (*models.DemoUser, string, error)
	GenerateMetric(ctx context.Context, sessionID string, framework models.MetricFramework, req gateway.SendRequest) (*gateway.MetricResult, error)
}

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Gateway       GatewayService
	RateLimit     ratelimit.Limiter
	Audit         logging.Sink
	RequestLogger *logging.RequestLogger

	DB          *storage.DB
	Redis       *storage.RedisClient
	UsageWorker *storage.UsageQueueWorker
}

// NewRouter creates an HTTP router with all dependencies wired up
func NewRouter(cfg *config.Config) (*http.ServeMux, *Dependencies, error) {
	db, err := storage.NewDB(storage.DBConfig{
		DSN:                   cfg.Database.URL,
		MaxOpenConns:          cfg.Database.MaxOpenConns,
		MaxIdleConns:          cfg.Database.MaxIdleConns,
		ConnMaxLifetime:       cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime:       cfg.Database.ConnMaxIdleTime,
		SessionTokenCacheSize: cfg.Cache.SessionTokenCacheSize,
		SessionTokenCacheTTL:  cfg.Cache.SessionTokenCacheTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	redisClient, err := storage.NewRedisClient(storage.RedisConfig{
		Address:      cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	encryption, err := storage.NewEncryptionFromPassphrase(cfg.Encryption.Passphrase, cfg.Encryption.Salt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	registry := providers.NewDefaultRegistry()

	// Usage queue: Redis-backed so records survive restarts
	usageQueueCfg := queue.DefaultConfig("usage")
	usageQueueCfg.UseRedis = true
	usageQueueCfg.RedisAddr = cfg.Redis.Address
	usageQueueCfg.RedisPassword = cfg.Redis.Password
	usageQueueCfg.RedisDB = cfg.Redis.DB
	usageQueueCfg.BatchSize = cfg.Usage.BatchSize
	usageQueueCfg.BatchTimeout = cfg.Usage.BatchTimeout
	usageQueueCfg.MaxRetries = cfg.Usage.MaxRetries
	usageQueueCfg.RetryBackoff = cfg.Usage.RetryBackoff

	usageQueue, err := queue.NewRedisQueue(usageQueueCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create usage queue: %w", err)
	}
	usageDLQ, err := queue.NewRedisDeadLetterQueue(usageQueueCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create usage DLQ: %w", err)
	}

	usageWorker := storage.NewUsageQueueWorker(usageQueue, usageDLQ, db, usageQueueCfg)
	usageWorker.Start(context.Background())

	guard := abuse.NewGuard(db.NewDemoRepository(), abuse.Config{
		InvalidRequestThreshold: cfg.Abuse.InvalidRequestThreshold,
		MetricQuotaCSF:          cfg.Abuse.MetricQuotaCSF,
		MetricQuotaAIRMF:        cfg.Abuse.MetricQuotaAIRMF,
		LockScope:               models.LockScope(cfg.Abuse.LockScope),
	})

	svc := gateway.NewService(
		registry,
		db.NewConfigurationRepository(),
		db.NewDemoRepository(),
		guard,
		encryption,
		usageWorker,
		gateway.Config{
			MaxRateLimitRetries: cfg.Gateway.MaxRateLimitRetries,
			RetryBackoffBase:    cfg.Gateway.RetryBackoffBase,
			DemoSessionDuration: cfg.Gateway.DemoSessionDuration,
			DefaultMaxTokens:    cfg.Gateway.DefaultMaxTokens,
			ProviderTimeout:     cfg.Gateway.ProviderTimeout,
			JWTSecret:           cfg.JWTSecret,
		},
	)

	var limiter ratelimit.Limiter = ratelimit.NewNoopLimiter()
	if cfg.RateLimit.Enabled {
		limiter = &sessionLimiter{
			rl:    ratelimit.NewRateLimiter(redisClient.Client()),
			limit: cfg.RateLimit.RequestsPerMinute,
		}
	}

	// Audit sink: S3 when configured, otherwise records are dropped
	var audit logging.Sink = logging.NewNoopSink()
	if cfg.LoggingSink.Enabled && cfg.LoggingSink.S3Bucket != "" {
		auditQueueCfg := queue.DefaultConfig("audit-log")
		auditQueueCfg.BatchSize = cfg.LoggingSink.FlushSize
		auditQueueCfg.BatchTimeout = cfg.LoggingSink.FlushInterval

		audit, err = logging.NewS3Sink(context.Background(), logging.S3SinkConfig{
			BufferSize:    cfg.LoggingSink.BufferSize,
			FlushSize:     cfg.LoggingSink.FlushSize,
			FlushInterval: cfg.LoggingSink.FlushInterval,
			S3Bucket:      cfg.LoggingSink.S3Bucket,
			S3Region:      cfg.LoggingSink.S3Region,
			S3Prefix:      cfg.LoggingSink.S3Prefix,
			PodName:       cfg.LoggingSink.PodName,
		}, queue.NewMemoryQueue(auditQueueCfg))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize audit sink: %w", err)
		}
	}

	var requestLogger *logging.RequestLogger
	if cfg.RequestLogger.Enabled {
		requestLogger, err = logging.NewLogger(
			cfg.RequestLogger.FilePathTemplate,
			cfg.RequestLogger.MaxSize,
			cfg.RequestLogger.MaxFiles,
			cfg.RequestLogger.BufferSize,
			cfg.RequestLogger.FlushInterval,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize request logger: %w", err)
		}
		// Provider setup bodies carry plaintext credentials.
		requestLogger.RedactBodyPrefixes = []string{"/api/providers"}
	}

	deps := &Dependencies{
		Gateway:       svc,
		RateLimit:     limiter,
		Audit:         audit,
		RequestLogger: requestLogger,
		DB:            db,
		Redis:         redisClient,
		UsageWorker:   usageWorker,
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps, cfg)

	return mux, deps, nil
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies, cfg *config.Config) {
	session := middleware.SessionTokenMiddleware(cfg.JWTSecret, deps.DB.GetSessionTokenCache())

	// Demo surface: session start is public, the rest requires a token
	mux.HandleFunc("/demo/session", deps.withRequestLog(deps.handleDemoSessionStart))
	mux.Handle("/demo/chat", session(http.HandlerFunc(deps.withRequestLog(deps.handleDemoChat))))
	mux.Handle("/demo/metrics", session(http.HandlerFunc(deps.withRequestLog(deps.handleDemoMetric))))

	// Platform surface: caller identity forwarded by the app server
	mux.HandleFunc("/api/providers", deps.withRequestLog(deps.handleProviders))
	mux.HandleFunc("/api/providers/activate", deps.withRequestLog(deps.handleProviderActivate))
	mux.HandleFunc("/api/providers/deactivate", deps.withRequestLog(deps.handleProviderDeactivate))
	mux.HandleFunc("/api/providers/active", deps.withRequestLog(deps.handleProviderActive))
	mux.HandleFunc("/api/models", deps.handleModels)

	mux.HandleFunc("/health", deps.handleHealth)
}

// withRequestLog wraps a handler with the file-based request logger when it
// is enabled. Session tokens and credentials are redacted by the logger.
func (d *Dependencies) withRequestLog(next http.HandlerFunc) http.HandlerFunc {
	if d.RequestLogger == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		d.RequestLogger.LogRequest(r)
		next(w, r)
	}
}

// handleHealth reports liveness of the gateway's backing services
func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK

	if d.DB != nil {
		if err := d.DB.Health(ctx); err != nil {
			status["database"] = err.Error()
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Health(ctx); err != nil {
			status["redis"] = err.Error()
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	utils.RespondWithJSON(w, code, status)
}

// Shutdown flushes workers and closes connections
func (d *Dependencies) Shutdown(ctx context.Context) {
	if d.UsageWorker != nil {
		_ = d.UsageWorker.Stop()
	}
	if d.Audit != nil {
		_ = d.Audit.Shutdown(ctx)
	}
	if d.RequestLogger != nil {
		d.RequestLogger.Shutdown()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}

// audit enqueues the interaction's metadata. Best effort: a full buffer
// drops the record rather than failing the request.
func (d *Dependencies) audit(reqID, sessionID, framework string, req gateway.SendRequest, resp *models.AIResponse, callErr error, elapsed time.Duration) {
	if d.Audit == nil {
		return
	}

	rec := &logging.LogRecord{
		Timestamp: time.Now(),
		RequestID: reqID,
		SessionID: sessionID,
		Provider:  string(req.Provider),
		Model:     req.Model,
		Framework: framework,
		GatewayMs: elapsed.Milliseconds(),
	}
	if req.UserID != nil {
		rec.UserID = req.UserID.String()
	}
	if resp != nil {
		rec.Model = resp.Model
		rec.InputTokens = resp.Usage.InputTokens
		rec.OutputTokens = resp.Usage.OutputTokens
	}
	if callErr != nil {
		rec.ErrorKind = providers.KindOf(callErr).String()
	}

	_ = d.Audit.Enqueue(rec)
}

// sessionLimiter adapts the Redis sliding-window limiter to the Limiter
// interface with a fixed per-session limit. Fails open on Redis errors.
type sessionLimiter struct {
	rl    *ratelimit.RateLimiter
	limit int
}

func (l *sessionLimiter) Allow(ctx context.Context, key string) bool {
	allowed, err := l.rl.Allow(ctx, key, l.limit)
	if err != nil {
		return true
	}
	return allowed
}
