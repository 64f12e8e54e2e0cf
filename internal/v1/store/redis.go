// Package store provides the per-actor persistent key-value layer.
//
// Every actor (each Room, plus the Lobby singleton) owns a private key
// namespace. Only persisted state is trustworthy after an actor goes dormant:
// in-memory caches are rebuilt from this layer on wake.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dicehall/dicehall/internal/v1/logging"
	"github.com/dicehall/dicehall/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Store wraps the Redis connection shared by all actors.
type Store struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client (used by the rate limiter store).
func (s *Store) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewStore creates a robust Redis connection with a circuit breaker.
func NewStore(addr, password string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Ping to verify connection immediately
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "store",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateVal)
		},
	}

	logging.Info(context.Background(), "Connected to Redis store", zap.String("addr", addr))
	return &Store{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// NewStoreFromClient wraps an existing client. Used by tests with miniredis.
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "store"}),
	}
}

// Ping checks Redis connectivity. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close shuts down the Redis connection.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Actor returns the private KV namespace for one actor instance.
func (s *Store) Actor(namespace string) *KV {
	return &KV{store: s, prefix: "dicehall:" + namespace + ":"}
}

// KV is an actor-private key-value view. Values are stored as JSON.
type KV struct {
	store  *Store
	prefix string
}

// GetJSON loads key into dest. The second return is false when the key is absent.
func (kv *KV) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if kv.store == nil || kv.store.client == nil {
		return false, nil
	}

	res, err := kv.store.cb.Execute(func() (interface{}, error) {
		data, err := kv.store.client.Get(ctx, kv.prefix+key).Bytes()
		if err == redis.Nil {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return false, fmt.Errorf("storage get %q: %w", key, err)
	}
	if res == nil {
		return false, nil
	}

	if err := json.Unmarshal(res.([]byte), dest); err != nil {
		return false, fmt.Errorf("storage decode %q: %w", key, err)
	}
	return true, nil
}

// PutJSON writes key with the JSON encoding of val.
func (kv *KV) PutJSON(ctx context.Context, key string, val any) error {
	if kv.store == nil || kv.store.client == nil {
		return nil
	}

	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("storage encode %q: %w", key, err)
	}

	_, err = kv.store.cb.Execute(func() (interface{}, error) {
		return nil, kv.store.client.Set(ctx, kv.prefix+key, data, 0).Err()
	})
	if err != nil {
		return fmt.Errorf("storage put %q: %w", key, err)
	}
	return nil
}

// Delete removes the given keys.
func (kv *KV) Delete(ctx context.Context, keys ...string) error {
	if kv.store == nil || kv.store.client == nil || len(keys) == 0 {
		return nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = kv.prefix + k
	}

	_, err := kv.store.cb.Execute(func() (interface{}, error) {
		return nil, kv.store.client.Del(ctx, full...).Err()
	})
	if err != nil {
		return fmt.Errorf("storage delete: %w", err)
	}
	return nil
}

// Exists reports whether the key is present.
func (kv *KV) Exists(ctx context.Context, key string) (bool, error) {
	if kv.store == nil || kv.store.client == nil {
		return false, nil
	}

	res, err := kv.store.cb.Execute(func() (interface{}, error) {
		return kv.store.client.Exists(ctx, kv.prefix+key).Result()
	})
	if err != nil {
		return false, fmt.Errorf("storage exists %q: %w", key, err)
	}
	return res.(int64) > 0, nil
}

// Keys lists the actor's keys (prefix stripped). Debug surface only.
func (kv *KV) Keys(ctx context.Context) ([]string, error) {
	if kv.store == nil || kv.store.client == nil {
		return nil, nil
	}

	res, err := kv.store.cb.Execute(func() (interface{}, error) {
		return kv.store.client.Keys(ctx, kv.prefix+"*").Result()
	})
	if err != nil {
		return nil, fmt.Errorf("storage keys: %w", err)
	}

	raw := res.([]string)
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k[len(kv.prefix):])
	}
	return keys, nil
}

// Clear removes every key in the actor's namespace.
func (kv *KV) Clear(ctx context.Context) error {
	keys, err := kv.Keys(ctx)
	if err != nil {
		return err
	}
	return kv.Delete(ctx, keys...)
}
