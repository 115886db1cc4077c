package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the gateway.
type Config struct {
	HTTPPort      string
	JWTSecret     []byte
	Database      DatabaseConfig
	Cache         CacheConfig
	Redis         RedisConfig
	Encryption    EncryptionConfig
	Gateway       GatewayConfig
	Abuse         AbuseConfig
	RateLimit     RateLimitConfig
	Usage         UsageConfig
	RequestLogger RequestLoggerConfig
	LoggingSink   LoggingSinkConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// CacheConfig holds cache settings
type CacheConfig struct {
	SessionTokenCacheSize int
	SessionTokenCacheTTL  time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// EncryptionConfig holds credential-at-rest encryption settings. The AES key
// is derived from passphrase + salt; neither is ever logged.
type EncryptionConfig struct {
	Passphrase string
	Salt       string
}

// GatewayConfig holds orchestration tuning
type GatewayConfig struct {
	MaxRateLimitRetries int
	RetryBackoffBase    time.Duration
	DemoSessionDuration time.Duration
	DefaultMaxTokens    int
	ProviderTimeout     time.Duration
}

// AbuseConfig holds demo abuse-protection settings
type AbuseConfig struct {
	InvalidRequestThreshold int
	MetricQuotaCSF          int
	MetricQuotaAIRMF        int
	LockScope               string
}

// RateLimitConfig holds per-session request throttling settings
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
}

// UsageConfig holds usage-recording queue settings
type UsageConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

type RequestLoggerConfig struct {
	Enabled          bool
	FilePathTemplate string
	MaxSize          int64
	MaxFiles         int
	BufferSize       int
	FlushInterval    time.Duration
}

// LoggingSinkConfig holds configuration for the S3-based audit sink
type LoggingSinkConfig struct {
	Enabled       bool          // Whether to enable S3 audit logging
	BufferSize    int           // Queue size
	FlushSize     int           // Flush to S3 after this many records
	FlushInterval time.Duration // Flush to S3 after this duration
	S3Bucket      string        // S3 bucket name
	S3Region      string        // AWS region
	S3Prefix      string        // Prefix for S3 keys (e.g., "logs/")
	PodName       string        // Pod identifier for multi-pod deployments
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvInt64(key string, defaultValue int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	intVal, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	passphrase := os.Getenv("ENCRYPTION_PASSPHRASE")
	if passphrase == "" {
		return nil, fmt.Errorf("ENCRYPTION_PASSPHRASE is required")
	}
	salt := os.Getenv("ENCRYPTION_SALT")
	if salt == "" {
		return nil, fmt.Errorf("ENCRYPTION_SALT is required")
	}

	cfg := &Config{
		HTTPPort:  getEnvString("HTTP_PORT", "8080"),
		JWTSecret: []byte(getEnvString("JWT_SECRET", "supersecretkey")),
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Cache: CacheConfig{
			SessionTokenCacheSize: getEnvInt("CACHE_SESSION_TOKEN_SIZE", 1000),
			SessionTokenCacheTTL:  getEnvDuration("CACHE_SESSION_TOKEN_TTL", 5*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Encryption: EncryptionConfig{
			Passphrase: passphrase,
			Salt:       salt,
		},
		Gateway: GatewayConfig{
			MaxRateLimitRetries: getEnvInt("GATEWAY_MAX_RATE_LIMIT_RETRIES", 3),
			RetryBackoffBase:    getEnvDuration("GATEWAY_RETRY_BACKOFF_BASE", 500*time.Millisecond),
			DemoSessionDuration: getEnvDuration("GATEWAY_DEMO_SESSION_DURATION", 24*time.Hour),
			DefaultMaxTokens:    getEnvInt("GATEWAY_DEFAULT_MAX_TOKENS", 1024),
			ProviderTimeout:     getEnvDuration("GATEWAY_PROVIDER_TIMEOUT", 60*time.Second),
		},
		Abuse: AbuseConfig{
			InvalidRequestThreshold: getEnvInt("ABUSE_INVALID_REQUEST_THRESHOLD", 5),
			MetricQuotaCSF:          getEnvInt("ABUSE_METRIC_QUOTA_CSF", 10),
			MetricQuotaAIRMF:        getEnvInt("ABUSE_METRIC_QUOTA_AI_RMF", 10),
			LockScope:               getEnvString("ABUSE_LOCK_SCOPE", "session"),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMinute: getEnvInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 30),
		},
		Usage: UsageConfig{
			BatchSize:    getEnvInt("USAGE_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("USAGE_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("USAGE_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("USAGE_RETRY_BACKOFF", 1*time.Second),
		},
		RequestLogger: RequestLoggerConfig{
			Enabled:          getEnvBool("REQUEST_LOGGER_ENABLED", false),
			FilePathTemplate: getEnvString("REQUEST_LOGGER_FILE_PATH_TEMPLATE", "/var/log/ai-gateway/requests-%s.jsonl"),
			MaxSize:          getEnvInt64("REQUEST_LOGGER_MAX_SIZE", 10_485_760),              // default 10 MB
			MaxFiles:         getEnvInt("REQUEST_LOGGER_MAX_FILES", 5),                        // default 5
			BufferSize:       getEnvInt("REQUEST_LOGGER_BUFFER_SIZE", 100),                    // default 100
			FlushInterval:    getEnvDuration("REQUEST_LOGGER_FLUSH_INTERVAL", 60*time.Second), // default 60 seconds
		},
		LoggingSink: LoggingSinkConfig{
			Enabled:       getEnvBool("LOGGING_SINK_ENABLED", false),
			BufferSize:    getEnvInt("LOGGING_SINK_BUFFER_SIZE", 10000),
			FlushSize:     getEnvInt("LOGGING_SINK_FLUSH_SIZE", 1000),
			FlushInterval: getEnvDuration("LOGGING_SINK_FLUSH_INTERVAL", 5*time.Minute),
			S3Bucket:      getEnvString("LOGGING_SINK_S3_BUCKET", ""),
			S3Region:      getEnvString("LOGGING_SINK_S3_REGION", "us-east-1"),
			S3Prefix:      getEnvString("LOGGING_SINK_S3_PREFIX", "logs/"),
			PodName:       getEnvString("POD_NAME", "gateway-0"),
		},
	}

	return cfg, nil
}
