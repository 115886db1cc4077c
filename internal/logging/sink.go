package logging

import (
	"context"
	"time"
)

// LogRecord is one chat interaction as written to the audit trail (S3 via
// queue buffering). Prompts, responses and credentials are deliberately
// absent; only metadata is retained.
type LogRecord struct {
	Timestamp    time.Time         `json:"timestamp"`
	RequestID    string            `json:"request_id"`
	SessionID    string            `json:"session_id,omitempty"`
	UserID       string            `json:"user_id,omitempty"`
	Provider     string            `json:"provider"`
	Model        string            `json:"model"`
	Framework    string            `json:"framework,omitempty"`
	InputTokens  int               `json:"input_tokens"`
	OutputTokens int               `json:"output_tokens"`
	ProviderMs   int64             `json:"provider_ms"`
	GatewayMs    int64             `json:"gateway_ms"`
	ErrorKind    string            `json:"error_kind,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
}

// Sink receives log records from the gateway.
type Sink interface {
	Enqueue(rec *LogRecord) error
	Shutdown(ctx context.Context) error
}

// NoopSink discards logs. Used when the audit trail is disabled.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Enqueue(rec *LogRecord) error {
	return nil
}

func (s *NoopSink) Shutdown(ctx context.Context) error {
	return nil
}
