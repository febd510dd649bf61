package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/compozy/conductor/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const scanCount = 256

// RedisStore keeps each definition in one hash, keyed by version.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	closed atomic.Bool
}

type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix (default "conductor").
func WithPrefix(p string) RedisOption {
	return func(s *RedisStore) {
		if p != "" {
			s.prefix = p
		}
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "conductor"}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *RedisStore) Put(ctx context.Context, rec *Record) (*Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if err := validate(rec); err != nil {
		return nil, err
	}
	stored := stamp(rec)
	bs, err := sonic.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("marshal failed: %w", err)
	}
	ok, err := s.client.HSetNX(ctx, s.keyFor(rec.Kind, rec.ID), strconv.Itoa(rec.Version), bs).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s %s v%d: %w", rec.Kind, rec.ID, rec.Version, ErrVersionExists)
	}
	logger.FromContext(ctx).Debug("Definition stored", "kind", rec.Kind, "id", rec.ID, "version", rec.Version)
	return stored, nil
}

func (s *RedisStore) Get(ctx context.Context, kind Kind, id string) (*Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	fields, err := s.client.HKeys(ctx, s.keyFor(kind, id)).Result()
	if err != nil {
		return nil, err
	}
	latest := 0
	for _, f := range fields {
		if v, err := strconv.Atoi(f); err == nil && v > latest {
			latest = v
		}
	}
	if latest == 0 {
		return nil, ErrNotFound
	}
	return s.GetVersion(ctx, kind, id, latest)
}

func (s *RedisStore) GetVersion(ctx context.Context, kind Kind, id string, version int) (*Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	bs, err := s.client.HGet(ctx, s.keyFor(kind, id), strconv.Itoa(version)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec Record
	if err := sonic.Unmarshal(bs, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal failed: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) List(ctx context.Context, kind Kind) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	base := s.keyFor(kind, "")
	var cursor uint64
	ids := make([]string, 0, 64)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, base+"*", scanCount).Result()
		if err != nil {
			return nil, err
		}
		for _, full := range keys {
			if id := strings.TrimPrefix(full, base); id != "" {
				ids = append(ids, id)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// Close marks the store closed. The client is owned by the caller.
func (s *RedisStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *RedisStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (s *RedisStore) keyFor(kind Kind, id string) string {
	return fmt.Sprintf("%s:def:%s:%s", s.prefix, kind, id)
}
