package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"indicator-engine/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	bundleKeyPrefix   = "ind:bundle:"
	barsChannelPrefix = "ind:bars:"

	defaultMaxPending = 1000
)

// Config configures the Redis cache.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	// Breaker guards every call. A breaker with 5 failures / 10s is used
	// when nil.
	Breaker *CircuitBreaker

	// MaxPending caps the update notifications held while the breaker is
	// open. Oldest are dropped first.
	MaxPending int
}

// Cache stores computed indicator bundles and carries bar-update
// notifications over pub/sub.
type Cache struct {
	client *goredis.Client
	cb     *CircuitBreaker

	mu         sync.Mutex
	pending    []model.BarsUpdated
	maxPending int

	// OnBuffer is called when a notification is held back (for metrics).
	OnBuffer func()
	// OnFlush is called after held notifications were published.
	OnFlush func(count int)
}

// New connects to Redis and pings the server.
func New(cfg Config) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client, cfg.Breaker, cfg.MaxPending), nil
}

// NewWithClient wraps an existing client. A nil breaker gets the default.
func NewWithClient(client *goredis.Client, cb *CircuitBreaker, maxPending int) *Cache {
	if cb == nil {
		cb = NewCircuitBreaker(5, 10*time.Second)
	}
	if maxPending <= 0 {
		maxPending = defaultMaxPending
	}
	c := &Cache{
		client:     client,
		cb:         cb,
		pending:    make([]model.BarsUpdated, 0, 16),
		maxPending: maxPending,
	}

	// Publish held notifications once Redis is reachable again.
	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go c.flush()
		}
	}
	return c
}

// Client returns the underlying Redis client for health checks.
func (c *Cache) Client() *goredis.Client { return c.client }

// Breaker returns the circuit breaker guarding this cache.
func (c *Cache) Breaker() *CircuitBreaker { return c.cb }

// BundleKey builds the cache key of a computed bundle. digest is
// model.Digest of the bars the bundle was computed from, so new, revised or
// backfilled bars all produce a different key.
func BundleKey(symbol string, tf, limit int, digest uint64, configKey string) string {
	return bundleKeyPrefix + symbol + ":" + strconv.Itoa(tf) + ":" + strconv.Itoa(limit) + ":" +
		strconv.FormatUint(digest, 16) + ":" + configKey
}

// Get returns the cached value for key. ok is false on a miss.
func (c *Cache) Get(ctx context.Context, key string) (val []byte, ok bool, err error) {
	err = c.cb.Execute(func() error {
		b, err := c.client.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		val, ok = b, true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, ok, nil
}

// Set stores val under key with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	err := c.cb.Execute(func() error {
		return c.client.Set(ctx, key, val, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// PublishUpdate announces new bars on the series channel. While the breaker
// is open the notification is held and published when it closes.
func (c *Cache) PublishUpdate(ctx context.Context, u model.BarsUpdated) error {
	err := c.publish(ctx, u)
	if errors.Is(err, ErrCircuitOpen) {
		c.hold(u)
		return nil
	}
	return err
}

func (c *Cache) publish(ctx context.Context, u model.BarsUpdated) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	return c.cb.Execute(func() error {
		return c.client.Publish(ctx, u.Channel(), data).Err()
	})
}

func (c *Cache) hold(u model.BarsUpdated) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) >= c.maxPending {
		c.pending = c.pending[1:]
	}
	c.pending = append(c.pending, u)

	if c.OnBuffer != nil {
		c.OnBuffer()
	}
}

func (c *Cache) flush() {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	toFlush := c.pending
	c.pending = make([]model.BarsUpdated, 0, 16)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	flushed := 0
	for _, u := range toFlush {
		if err := c.publish(ctx, u); err != nil {
			log.Printf("[redis] flush update %s: %v", u.Channel(), err)
			continue
		}
		flushed++
	}

	log.Printf("[redis] flushed %d held updates", flushed)
	if c.OnFlush != nil {
		c.OnFlush(flushed)
	}
}

// PendingCount returns the number of held notifications.
func (c *Cache) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// SubscribeUpdates subscribes to every series channel and calls fn for each
// update until ctx is cancelled or the returned stop function is called.
// It returns once the subscription is confirmed.
func (c *Cache) SubscribeUpdates(ctx context.Context, fn func(model.BarsUpdated)) (stop func() error, err error) {
	var pubsub *goredis.PubSub
	err = c.cb.Execute(func() error {
		pubsub = c.client.PSubscribe(ctx, barsChannelPrefix+"*")
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis psubscribe: %w", err)
	}

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var u model.BarsUpdated
				if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
					log.Printf("[redis] bad update on %s: %v", msg.Channel, err)
					continue
				}
				fn(u)
			}
		}
	}()
	return pubsub.Close, nil
}

// Ping checks the connection through the breaker.
func (c *Cache) Ping(ctx context.Context) error {
	return c.cb.Execute(func() error {
		return c.client.Ping(ctx).Err()
	})
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}
