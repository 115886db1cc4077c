package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"ai_gateway/internal/models"
	"ai_gateway/internal/queue"
)

func TestUsageQueueWorker_SingleRecord(t *testing.T) {
	config := queue.DefaultConfig("test-usage")
	config.BatchSize = 10
	config.BatchTimeout = 100 * time.Millisecond

	q := queue.NewMemoryQueue(config)
	defer q.Close()

	userID := uuid.New()
	record := &models.UsageRecord{
		ID:             uuid.New(),
		RequestID:      uuid.New(),
		UserID:         &userID,
		ProviderType:   models.ProviderTypeAnthropic,
		Model:          "claude-sonnet-4-5",
		InputTokens:    100,
		OutputTokens:   50,
		ResponseTimeMS: 250,
	}

	ctx := context.Background()
	err := q.Enqueue(ctx, record)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	items, err := q.DequeueWithTimeout(ctx, 1, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}

	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}
}

func TestUsageQueueWorker_BatchRecords(t *testing.T) {
	config := queue.DefaultConfig("test-usage-batch")
	config.BatchSize = 5
	config.BatchTimeout = 100 * time.Millisecond

	q := queue.NewMemoryQueue(config)
	defer q.Close()

	ctx := context.Background()

	for i := 0; i < 10; i++ {
		record := &models.UsageRecord{
			ID:             uuid.New(),
			RequestID:      uuid.New(),
			SessionID:      fmt.Sprintf("demo-%d", i),
			ProviderType:   models.ProviderTypeOpenAI,
			Model:          "gpt-4o-mini",
			InputTokens:    100 + i,
			OutputTokens:   50 + i,
			ResponseTimeMS: 250,
		}

		err := q.Enqueue(ctx, record)
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	length, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}

	if length != 10 {
		t.Errorf("Expected queue length 10, got %d", length)
	}

	items, err := q.Dequeue(ctx, 5)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}

	if len(items) != 5 {
		t.Errorf("Expected 5 items in batch, got %d", len(items))
	}
}

func TestUsageQueueWorker_RecordRoundTrip(t *testing.T) {
	config := queue.DefaultConfig("test-usage-roundtrip")
	q := queue.NewMemoryQueue(config)
	defer q.Close()

	ctx := context.Background()

	record := &models.UsageRecord{
		ID:             uuid.New(),
		RequestID:      uuid.New(),
		SessionID:      "demo-abc",
		ProviderType:   models.ProviderTypeBedrock,
		Model:          "anthropic.claude-3-5-haiku-20241022-v1:0",
		Framework:      string(models.FrameworkCSF),
		InputTokens:    1000,
		OutputTokens:   500,
		ResponseTimeMS: 450,
		ErrorKind:      "rate_limit",
	}

	err := q.Enqueue(ctx, record)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	items, err := q.DequeueWithTimeout(ctx, 1, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}

	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}

	retrieved, ok := items[0].(*models.UsageRecord)
	if !ok {
		t.Fatalf("Item is not a UsageRecord")
	}

	if retrieved.InputTokens != 1000 {
		t.Errorf("Expected InputTokens 1000, got %d", retrieved.InputTokens)
	}
	if retrieved.OutputTokens != 500 {
		t.Errorf("Expected OutputTokens 500, got %d", retrieved.OutputTokens)
	}
	if retrieved.SessionID != "demo-abc" {
		t.Errorf("Expected SessionID demo-abc, got %s", retrieved.SessionID)
	}
	if retrieved.ErrorKind != "rate_limit" {
		t.Errorf("Expected ErrorKind rate_limit, got %s", retrieved.ErrorKind)
	}
}

func TestUsageQueueWorker_ConcurrentEnqueue(t *testing.T) {
	config := queue.DefaultConfig("test-usage-concurrent")
	config.BatchSize = 100
	q := queue.NewMemoryQueue(config)
	defer q.Close()

	ctx := context.Background()

	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 10

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(goroutineID int) {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				record := &models.UsageRecord{
					ID:             uuid.New(),
					RequestID:      uuid.New(),
					SessionID:      fmt.Sprintf("demo-%d", goroutineID),
					ProviderType:   models.ProviderTypeTogether,
					Model:          "meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo",
					InputTokens:    100,
					OutputTokens:   50,
					ResponseTimeMS: 200,
				}
				_ = q.Enqueue(ctx, record)
			}
		}(i)
	}

	wg.Wait()

	length, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}

	expected := numGoroutines * recordsPerGoroutine
	if length != expected {
		t.Errorf("Expected queue length %d, got %d", expected, length)
	}
}

func TestUsageQueueWorker_UnmarshalItem(t *testing.T) {
	w := NewUsageQueueWorker(queue.NewMemoryQueue(nil), nil, nil, nil)

	want := models.UsageRecord{
		ID:           uuid.New(),
		RequestID:    uuid.New(),
		SessionID:    "demo-xyz",
		ProviderType: models.ProviderTypeVertex,
		Model:        "gemini-2.5-flash",
		InputTokens:  42,
	}

	cases := []struct {
		name string
		item interface{}
	}{
		{"pointer", &want},
		{"value", want},
		{"json bytes", mustJSON(t, want)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got models.UsageRecord
			if err := w.unmarshalItem(tc.item, &got); err != nil {
				t.Fatalf("unmarshalItem failed: %v", err)
			}
			if got.RequestID != want.RequestID {
				t.Errorf("Expected RequestID %s, got %s", want.RequestID, got.RequestID)
			}
			if got.InputTokens != want.InputTokens {
				t.Errorf("Expected InputTokens %d, got %d", want.InputTokens, got.InputTokens)
			}
		})
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return data
}
