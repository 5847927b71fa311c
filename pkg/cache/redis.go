package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/exploopio/grc/pkg/compress"
)

// Value headers. Large values are stored zstd compressed.
const (
	headerRaw  byte = 'r'
	headerZstd byte = 'z'
)

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379/0").
	URL string

	// Prefix namespaces every key. Default "grc:".
	Prefix string

	// TLS configuration for secure connections
	TLS *tls.Config

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// CompressMinSize is the value size from which values are compressed.
	// Default compress.DefaultMinSize; negative disables compression.
	CompressMinSize int
}

// RedisStore is a Store backed by Redis.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	compressor *compress.Compressor
	minSize    int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.Prefix == "" {
		opts.Prefix = "grc:"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.CompressMinSize == 0 {
		opts.CompressMinSize = compress.DefaultMinSize
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := &RedisStore{client: client, prefix: opts.Prefix, minSize: opts.CompressMinSize}
	if opts.CompressMinSize > 0 {
		s.compressor = compress.NewCompressor(compress.AlgorithmZSTD, compress.LevelDefault)
	}
	return s, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	value, err := s.decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.prefix+key, s.encode(value), ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) encode(value []byte) []byte {
	if s.compressor != nil {
		if body, enc := s.compressor.MaybeCompress(value, s.minSize); enc != "" {
			return append([]byte{headerZstd}, body...)
		}
	}
	return append([]byte{headerRaw}, value...)
}

func (s *RedisStore) decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty value")
	}
	switch data[0] {
	case headerRaw:
		return data[1:], nil
	case headerZstd:
		return compress.DecodeContent(string(compress.AlgorithmZSTD), data[1:])
	default:
		return nil, fmt.Errorf("unknown value header %q", data[0])
	}
}
