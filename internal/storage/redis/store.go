// Package redis provides a Store backed by Redis string keys.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/jobhunt-agent/internal/storage"
)

// Config holds Redis connection configuration.
type Config struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ErrEmptyAddress is returned when Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

const connectionTimeout = 5 * time.Second

// Store keeps each state file in one key. SET replaces the whole value in a
// single command, so readers see either the old or the new content.
type Store struct {
	client *goredis.Client
	prefix string
}

// NewClient creates a Redis client and verifies the connection.
func NewClient(cfg Config) (*goredis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// New wraps an existing client.
func New(client *goredis.Client, keyPrefix string) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Store{client: client, prefix: keyPrefix}, nil
}

// Read returns the value stored for name or storage.ErrNotFound.
func (s *Store) Read(ctx context.Context, name string) ([]byte, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// WriteAtomic replaces the value stored for name.
func (s *Store) WriteAtomic(ctx context.Context, name string, data []byte) error {
	key, err := s.key(name)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *Store) key(name string) (string, error) {
	cleaned, err := storage.CleanName(name)
	if err != nil {
		return "", err
	}
	return s.prefix + cleaned, nil
}
