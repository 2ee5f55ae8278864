package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "walink"

// RedisStore keeps one hash per identity at <prefix>:session:<identity>.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client. An empty prefix defaults to "walink".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// OpenRedisStore dials addr and verifies the connection.
func OpenRedisStore(ctx context.Context, addr, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedisStore(client, prefix), nil
}

func (s *RedisStore) key(identity string) string {
	return s.prefix + ":session:" + identity
}

func (s *RedisStore) Load(ctx context.Context, identity string) (*Credentials, error) {
	if _, err := NormalizeIdentity(identity); err != nil {
		return nil, err
	}
	fields, err := s.client.HGetAll(ctx, s.key(identity)).Result()
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeHash(identity, fields)
}

func decodeHash(identity string, fields map[string]string) (*Credentials, error) {
	blob, ok := fields["blob"]
	if !ok {
		return nil, ErrNotFound
	}
	rev, err := strconv.ParseUint(fields["revision"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode revision for %s: %w", identity, err)
	}
	ms, _ := strconv.ParseInt(fields["updated_at"], 10, 64)
	return &Credentials{
		Identity:  identity,
		Blob:      []byte(blob),
		Revision:  rev,
		UpdatedAt: time.UnixMilli(ms).UTC(),
	}, nil
}

func (s *RedisStore) Save(ctx context.Context, identity string, blob []byte) (*Credentials, error) {
	if _, err := NormalizeIdentity(identity); err != nil {
		return nil, err
	}
	key := s.key(identity)
	now := time.Now().UTC()

	// MULTI/EXEC: the blob and the revision bump land together.
	var rev *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "blob", blob, "updated_at", now.UnixMilli())
		rev = p.HIncrBy(ctx, key, "revision", 1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save credentials: %w", err)
	}
	return &Credentials{
		Identity:  identity,
		Blob:      append([]byte(nil), blob...),
		Revision:  uint64(rev.Val()),
		UpdatedAt: time.UnixMilli(now.UnixMilli()).UTC(),
	}, nil
}

func (s *RedisStore) Clear(ctx context.Context, identity string) error {
	if _, err := NormalizeIdentity(identity); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(identity)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	prefix := s.prefix + ":session:"
	var ids []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
