// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jllopis/hubnet/pkg/identity"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string
	DialTimeout time.Duration
}

// RedisStore keeps records in Redis so several hub replicas can share one
// registry. Layout under the key prefix:
//
//	<p>:seq           INCR counter for record ids
//	<p>:order         list of record ids in insertion order
//	<p>:rec:<id>      record JSON
//	<p>:idx           hash kind|identity -> id
type RedisStore struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("registry: redis addr cannot be empty")
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "hubnet"
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("registry: redis connect %s: %w", opts.Addr, err)
	}
	slog.Info("registry.redis.initialized", "addr", opts.Addr, "db", opts.DB, "key_prefix", opts.KeyPrefix)
	return NewRedisStore(client, opts.KeyPrefix), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// Add implements Store.
func (s *RedisStore) Add(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	n, err := s.client.Incr(ctx, s.key("seq")).Result()
	if err != nil {
		return err
	}
	id := strconv.FormatInt(n, 10)
	keys := []string{s.key("idx"), s.key("rec", id), s.key("order")}
	added, err := addRecordScript.Run(ctx, s.client, keys, partitionKey(rec.Kind, rec.Identity), id, data).Int()
	if err != nil {
		return err
	}
	if added == 0 {
		return ErrExists
	}
	return nil
}

// addRecordScript claims the index entry and writes the record and its
// order slot in one step, so a failed add leaves no index entry behind.
var addRecordScript = redis.NewScript(`
if redis.call("HSETNX", KEYS[1], ARGV[1], ARGV[2]) == 0 then
  return 0
end
redis.call("SET", KEYS[2], ARGV[3])
redis.call("RPUSH", KEYS[3], ARGV[2])
return 1
`)

// SetActive implements Store.
func (s *RedisStore) SetActive(ctx context.Context, id identity.Node, active bool) error {
	found := false
	for _, kind := range Kinds {
		recID, err := s.client.HGet(ctx, s.key("idx"), partitionKey(kind, id)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		raw, err := s.client.Get(ctx, s.key("rec", recID)).Bytes()
		if err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		rec.Active = active
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := s.client.Set(ctx, s.key("rec", recID), data, 0).Err(); err != nil {
			return err
		}
		found = true
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// ActiveProviders implements Store.
func (s *RedisStore) ActiveProviders(ctx context.Context, categories []string, exclude identity.Set) ([]Record, error) {
	records, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	return filterProviders(records, categories, exclude), nil
}

// ActivePeerHubs implements Store.
func (s *RedisStore) ActivePeerHubs(ctx context.Context) ([]identity.Node, error) {
	records, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	return filterPeerHubs(records), nil
}

// Categories implements Store.
func (s *RedisStore) Categories(ctx context.Context) ([]Category, error) {
	records, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	return distinctCategories(records), nil
}

// Lookup implements Store.
func (s *RedisStore) Lookup(ctx context.Context, name, host string) ([]Record, error) {
	records, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	return lookup(records, name, host), nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, kind Kind) ([]Record, error) {
	records, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	return ofKind(records, kind), nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) all(ctx context.Context) ([]Record, error) {
	ids, err := s.client.LRange(ctx, s.key("order"), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key("rec", id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			slog.Warn("registry.redis.decode.failed", slog.String("key", keys[i]), slog.String("error", err.Error()))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
