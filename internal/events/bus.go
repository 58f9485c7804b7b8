// Package events carries primary-store change events to the projection
// handlers. Delivery is at-least-once and unordered; everything downstream
// is idempotent.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nexevent/participation-backend/internal/domain"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
)

type Bus interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
	StartForwarder(ctx context.Context, onEvent func(ev domain.ChangeEvent)) error
	Close() error
}

type redisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewRedisBus connects the change-event channel over Redis pub/sub.
func NewRedisBus(log *logger.Logger) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := strings.TrimSpace(os.Getenv("EVENTS_CHANNEL"))
	if ch == "" {
		ch = "changes"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisBus{
		log:     log.With("component", "RedisChangeBus"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (b *redisBus) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("change bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *redisBus) StartForwarder(ctx context.Context, onEvent func(ev domain.ChangeEvent)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("change bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var ev domain.ChangeEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("dropping undecodable change event", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

// localBus is an in-process bus for single-node runs and tests.
type localBus struct {
	mu        sync.RWMutex
	listeners []func(domain.ChangeEvent)
}

func NewLocalBus() Bus { return &localBus{} }

func (b *localBus) Publish(_ context.Context, ev domain.ChangeEvent) error {
	b.mu.RLock()
	listeners := append([]func(domain.ChangeEvent){}, b.listeners...)
	b.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
	return nil
}

func (b *localBus) StartForwarder(_ context.Context, onEvent func(ev domain.ChangeEvent)) error {
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}
	b.mu.Lock()
	b.listeners = append(b.listeners, onEvent)
	b.mu.Unlock()
	return nil
}

func (b *localBus) Close() error { return nil }
