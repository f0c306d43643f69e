package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// keyPrefix namespaces checkpoint keys in a shared Redis database.
const keyPrefix = "inmet-etl:checkpoint:"

// Store keeps partition input fingerprints in Redis so unchanged partitions
// can be skipped across runs and hosts.
// It implements pipeline.Checkpoints.
type Store struct {
	client *goredis.Client
}

// NewClient parses a redis:// URL and checks the connection.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// NewStore creates a checkpoint store. The client lifecycle is managed by
// the caller.
func NewStore(client *goredis.Client) *Store {
	return &Store{client: client}
}

// Fingerprint returns the recorded fingerprint of key, or "" when none.
func (s *Store) Fingerprint(ctx context.Context, key string) (string, error) {
	fp, err := s.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get checkpoint %s: %w", key, err)
	}
	return fp, nil
}

// Record stores fingerprint for key without expiry.
func (s *Store) Record(ctx context.Context, key, fingerprint string) error {
	if err := s.client.Set(ctx, keyPrefix+key, fingerprint, 0).Err(); err != nil {
		return fmt.Errorf("set checkpoint %s: %w", key, err)
	}
	return nil
}

// CheckReadiness pings Redis.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
