package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/duet/internal/config"
	"github.com/goodtune/duet/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client       *redis.Client
	pairStore    *pairStore
	pushStore    *pushSubscriptionStore
	contactStore *contactStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port (e.g. "127.0.0.1:6379")
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:       client,
		pairStore:    newPairStore(client),
		pushStore:    &pushSubscriptionStore{client: client},
		contactStore: &contactStore{client: client},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Pairs returns the PairStore implementation
func (s *Store) Pairs() storage.PairStore {
	return s.pairStore
}

// PushSubscriptions returns the PushSubscriptionStore implementation
func (s *Store) PushSubscriptions() storage.PushSubscriptionStore {
	return s.pushStore
}

// Contacts returns the ContactStore implementation
func (s *Store) Contacts() storage.ContactStore {
	return s.contactStore
}

func pairKey(pairID string) string {
	return fmt.Sprintf("duet:pair:%s", pairID)
}

func pushKey(pairID string, role storage.Role) string {
	return fmt.Sprintf("duet:push:%s:%s", pairID, role)
}

func contactKey(pairID string, role storage.Role) string {
	return fmt.Sprintf("duet:contact:%s:%s", pairID, role)
}
