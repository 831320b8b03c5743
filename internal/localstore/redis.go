package localstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "marketchat:"

// RedisStore keeps the roster in redis under marketchat:<namespace>:*.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore connects to url and pings it once.
func NewRedisStore(ctx context.Context, url, namespace string) (*RedisStore, error) {
	if url == "" {
		return nil, errors.New("redis store needs a url")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	if namespace == "" {
		namespace = "default"
	}
	return &RedisStore{client: client, namespace: namespace}, nil
}

func (s *RedisStore) key(name string) string {
	return redisKeyPrefix + s.namespace + ":" + name
}

// LoadRoster implements Store.
func (s *RedisStore) LoadRoster(ctx context.Context) ([]Entry, error) {
	raw, err := s.client.Get(ctx, s.key(keyRoster)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get roster")
	}
	entries, _, err := DecodeRoster(raw)
	return entries, err
}

// SaveRoster implements Store.
func (s *RedisStore) SaveRoster(ctx context.Context, entries []Entry) error {
	data, err := EncodeRoster(entries)
	if err != nil {
		return err
	}
	return errors.Wrap(s.client.Set(ctx, s.key(keyRoster), data, 0).Err(), "redis set roster")
}

// LoadActive implements Store.
func (s *RedisStore) LoadActive(ctx context.Context) (string, error) {
	val, err := s.client.Get(ctx, s.key(keyActive)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, errors.Wrap(err, "redis get active")
}

// SaveActive implements Store.
func (s *RedisStore) SaveActive(ctx context.Context, id string) error {
	return errors.Wrap(s.client.Set(ctx, s.key(keyActive), id, 0).Err(), "redis set active")
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
