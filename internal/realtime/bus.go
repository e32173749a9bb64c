package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// InvalidateChannel carries table invalidations between dashboard instances.
	InvalidateChannel = "dashboard:invalidate"
	publishTimeout    = 5 * time.Second
)

// Invalidation asks every live table of Screen whose scope is covered by
// Scope to re-fetch.
type Invalidation struct {
	Screen string            `json:"screen"`
	Scope  map[string]string `json:"scope,omitempty"`
	At     int64             `json:"at"`
}

// Covers reports whether a table of screen bound to scope is affected.
// Every input the table declares must match; a table with no inputs is
// affected by every invalidation of its screen.
func (inv Invalidation) Covers(screen string, scope map[string]string) bool {
	if inv.Screen != screen {
		return false
	}
	for k, v := range scope {
		if w, ok := inv.Scope[k]; ok && w != v {
			return false
		}
	}
	return true
}

// RedisBus implements Bus using Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBus creates a Redis pub/sub bridge for table invalidations.
func NewRedisBus(client *redis.Client, logger *zap.Logger) *RedisBus {
	return &RedisBus{client: client, logger: logger}
}

// Publish sends inv to every subscribed instance, including this one.
func (r *RedisBus) Publish(ctx context.Context, inv Invalidation) error {
	if inv.At == 0 {
		inv.At = time.Now().Unix()
	}
	body, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, InvalidateChannel, body).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

// Subscribe calls handler for each invalidation until ctx is done or the
// returned cancel function is called.
func (r *RedisBus) Subscribe(ctx context.Context, handler func(Invalidation)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(ctx)
	pubsub := r.client.Subscribe(ctx, InvalidateChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv Invalidation
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					r.logger.Debug("drop malformed invalidation", zap.Error(err))
					continue
				}
				handler(inv)
			}
		}
	}()
	return cancelCtx, nil
}
