package logging

import (
	"context"
	"testing"
	"time"
)

func TestNoopSink(t *testing.T) {
	sink := NewNoopSink()

	rec := &LogRecord{
		Timestamp:    time.Now(),
		RequestID:    "test-123",
		SessionID:    "session-456",
		Provider:     "openai",
		Model:        "gpt-4o",
		InputTokens:  120,
		OutputTokens: 48,
	}

	err := sink.Enqueue(rec)
	if err != nil {
		t.Errorf("Expected no error from NoopSink.Enqueue, got %v", err)
	}

	err = sink.Shutdown(context.Background())
	if err != nil {
		t.Errorf("Expected no error from NoopSink.Shutdown, got %v", err)
	}
}

func TestS3SinkConfig(t *testing.T) {
	config := S3SinkConfig{
		BufferSize:    1000,
		FlushSize:     100,
		FlushInterval: 5 * time.Minute,
		S3Bucket:      "test-bucket",
		S3Region:      "us-east-1",
		S3Prefix:      "logs/",
		PodName:       "test-pod",
	}

	if config.BufferSize != 1000 {
		t.Errorf("Expected buffer size 1000, got %d", config.BufferSize)
	}

	if config.FlushSize != 100 {
		t.Errorf("Expected flush size 100, got %d", config.FlushSize)
	}

	if config.S3Bucket != "test-bucket" {
		t.Errorf("Expected bucket 'test-bucket', got '%s'", config.S3Bucket)
	}
}

func TestDefaultS3SinkConfig(t *testing.T) {
	config := DefaultS3SinkConfig()

	if config.FlushSize <= 0 {
		t.Error("Expected positive default flush size")
	}
	if config.FlushInterval <= 0 {
		t.Error("Expected positive default flush interval")
	}
}

func TestUnmarshalRecord(t *testing.T) {
	original := &LogRecord{
		RequestID: "req-1",
		SessionID: "session-1",
		Provider:  "anthropic",
		Model:     "claude-sonnet-4-20250514",
		ErrorKind: "rate_limit_error",
	}

	t.Run("pointer passthrough", func(t *testing.T) {
		rec, err := unmarshalRecord(original)
		if err != nil {
			t.Fatalf("unmarshalRecord failed: %v", err)
		}
		if rec != original {
			t.Error("Expected the same pointer back")
		}
	})

	t.Run("json bytes", func(t *testing.T) {
		rec, err := unmarshalRecord([]byte(`{"request_id":"req-1","provider":"anthropic","model":"m","error_kind":"rate_limit_error"}`))
		if err != nil {
			t.Fatalf("unmarshalRecord failed: %v", err)
		}
		if rec.RequestID != "req-1" || rec.ErrorKind != "rate_limit_error" {
			t.Errorf("Unexpected record: %+v", rec)
		}
	})

	t.Run("json string", func(t *testing.T) {
		rec, err := unmarshalRecord(`{"request_id":"req-2","provider":"openai","model":"m"}`)
		if err != nil {
			t.Fatalf("unmarshalRecord failed: %v", err)
		}
		if rec.RequestID != "req-2" {
			t.Errorf("Unexpected record: %+v", rec)
		}
	})
}
