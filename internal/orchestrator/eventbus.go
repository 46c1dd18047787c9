package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	streamPrefix = "relay:run:"
	// streamMaxLen bounds each run stream; runs are capped well below it.
	streamMaxLen = 1000
	streamTTL    = 24 * time.Hour
)

// EventBus publishes run events to Redis Streams, one stream per run, so
// other processes can follow a run as it happens.
type EventBus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewEventBus connects to Redis at redisURL.
func NewEventBus(ctx context.Context, redisURL string, logger *zap.Logger) (*EventBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &EventBus{rdb: rdb, logger: logger}, nil
}

func streamKey(runID string) string { return streamPrefix + runID }

// Publish appends an event to its run's stream.
func (b *EventBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	stream := streamKey(ev.RunID)
	pipe := b.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	})
	pipe.Expire(ctx, stream, streamTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}
	return nil
}

// Observe implements Observer. Publishing failures are logged and never
// affect the run.
func (b *EventBus) Observe(ctx context.Context, ev Event) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := b.Publish(pctx, ev); err != nil {
		b.logger.Warn("publish run event failed",
			zap.String("run", ev.RunID),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}

// Known reports whether a stream exists for runID.
func (b *EventBus) Known(ctx context.Context, runID string) (bool, error) {
	n, err := b.rdb.Exists(ctx, streamKey(runID)).Result()
	if err != nil {
		return false, fmt.Errorf("check run stream: %w", err)
	}
	return n > 0, nil
}

// Subscribe streams a run's events from the beginning. The channel closes
// when ctx is done or the run is back in Idle.
func (b *EventBus) Subscribe(ctx context.Context, runID string) <-chan Event {
	ch := make(chan Event, 16)
	stream := streamKey(runID)

	go func() {
		defer close(ch)
		lastID := "0"

		for {
			if ctx.Err() != nil {
				return
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					b.logger.Debug("read run stream", zap.String("stream", stream), zap.Error(err))
					select {
					case <-time.After(500 * time.Millisecond):
					case <-ctx.Done():
						return
					}
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev Event
					if json.Unmarshal([]byte(data), &ev) != nil {
						continue
					}
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
					if ev.Type == EventState && ev.State == StateIdle {
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *EventBus) Close() error {
	return b.rdb.Close()
}
