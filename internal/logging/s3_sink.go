package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ai_gateway/internal/queue"
	"ai_gateway/internal/utils"
)

// S3SinkConfig holds configuration for the S3-backed audit sink
type S3SinkConfig struct {
	// BufferSize is the queue capacity before Enqueue starts dropping
	BufferSize int

	// FlushSize triggers a flush once this many records are buffered
	FlushSize int

	// FlushInterval flushes partial batches on a timer
	FlushInterval time.Duration

	S3Bucket string
	S3Region string
	S3Prefix string

	// PodName disambiguates object keys between replicas
	PodName string
}

// DefaultS3SinkConfig returns default sink configuration
func DefaultS3SinkConfig() S3SinkConfig {
	return S3SinkConfig{
		BufferSize:    10000,
		FlushSize:     100,
		FlushInterval: 30 * time.Second,
	}
}

// S3Sink buffers log records in a queue and writes them to S3 in JSON Lines
// batches. The queue may be in-memory or Redis-backed; a Redis queue survives
// process restarts without losing buffered records.
type S3Sink struct {
	queue         queue.Queue
	writer        *S3Writer
	flushSize     int
	flushInterval time.Duration
	logger        *utils.Logger

	stopChan    chan struct{}
	stoppedChan chan struct{}
	wg          sync.WaitGroup
	stopOnce    sync.Once
}

// NewS3Sink creates the sink and starts its background flush worker. The
// queue is injected so callers choose memory or Redis buffering.
func NewS3Sink(ctx context.Context, cfg S3SinkConfig, q queue.Queue) (*S3Sink, error) {
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = DefaultS3SinkConfig().FlushSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultS3SinkConfig().FlushInterval
	}

	writer, err := NewS3Writer(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix, cfg.PodName)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 writer: %w", err)
	}

	sink := &S3Sink{
		queue:         q,
		writer:        writer,
		flushSize:     cfg.FlushSize,
		flushInterval: cfg.FlushInterval,
		logger:        utils.NewLogger("s3-sink"),
		stopChan:      make(chan struct{}),
		stoppedChan:   make(chan struct{}),
	}

	sink.wg.Add(1)
	go sink.run(context.WithoutCancel(ctx))

	return sink, nil
}

// Enqueue adds a record to the buffer. It never blocks the request path: a
// full queue surfaces as an error and the record is dropped.
func (s *S3Sink) Enqueue(rec *LogRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := s.queue.Enqueue(ctx, rec); err != nil {
		return fmt.Errorf("failed to buffer log record: %w", err)
	}
	return nil
}

// Shutdown stops the worker and flushes everything still buffered. The
// context bounds how long the final flush may take.
func (s *S3Sink) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return s.drain(ctx)
}

func (s *S3Sink) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.stoppedChan)

	// The dequeue wait must not outlive Shutdown, so stopChan cancels it.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-s.stopChan
		cancel()
	}()

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		items, err := s.queue.DequeueWithTimeout(ctx, s.flushSize, s.flushInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to dequeue log records", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if len(items) == 0 {
			continue
		}

		// Write with a detached context so a Shutdown racing the dequeue
		// does not lose an already-claimed batch.
		writeCtx, writeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		s.flush(writeCtx, items)
		writeCancel()
	}
}

// drain empties the queue after the worker has stopped
func (s *S3Sink) drain(ctx context.Context) error {
	for {
		items, err := s.queue.DequeueWithTimeout(ctx, s.flushSize, 100*time.Millisecond)
		if err != nil {
			return fmt.Errorf("failed to drain log buffer: %w", err)
		}
		if len(items) == 0 {
			return nil
		}
		s.flush(ctx, items)
	}
}

func (s *S3Sink) flush(ctx context.Context, items []interface{}) {
	records := make([]*LogRecord, 0, len(items))
	for _, item := range items {
		rec, err := unmarshalRecord(item)
		if err != nil {
			s.logger.Error("Dropping malformed log record", "error", err)
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return
	}

	if _, err := s.writer.WriteBatch(ctx, records); err != nil {
		s.logger.Error("Failed to write log batch", "count", len(records), "error", err)
	}
}

// unmarshalRecord converts a dequeued item back to a LogRecord. A memory
// queue hands back the original pointer; a Redis queue hands back JSON.
func unmarshalRecord(item interface{}) (*LogRecord, error) {
	switch v := item.(type) {
	case *LogRecord:
		return v, nil
	case LogRecord:
		return &v, nil
	case []byte:
		var rec LogRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil, err
		}
		return &rec, nil
	case string:
		var rec LogRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, err
		}
		return &rec, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var rec LogRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		return &rec, nil
	}
}
