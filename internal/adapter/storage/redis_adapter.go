package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/volundmush/mudsnake/internal/core/domain"
	"github.com/volundmush/mudsnake/internal/port"
)

const (
	entityKeyPrefix       = "entity:"
	defaultIdempotencyTTL = 24 * time.Hour
)

// applyScript checks every expected version first and only then writes, so a
// batch lands completely or not at all. ARGV holds four values per key: op,
// expected version, kind and data.
var applyScript = redis.NewScript(`
for i, key in ipairs(KEYS) do
	local expected = tonumber(ARGV[(i - 1) * 4 + 2])
	local current = tonumber(redis.call('HGET', key, 'version') or '0')
	if current ~= expected then
		return i
	end
end

for i, key in ipairs(KEYS) do
	local base = (i - 1) * 4
	if ARGV[base + 1] == 'del' then
		redis.call('DEL', key)
	else
		redis.call('HSET', key, 'kind', ARGV[base + 3], 'data', ARGV[base + 4], 'version', tonumber(ARGV[base + 2]) + 1)
	end
end

return 0
`)

// RedisStore keeps each entity in a hash {kind, data, version}.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func entityKey(id domain.ID) string {
	return entityKeyPrefix + string(id)
}

func (r *RedisStore) Load(ctx context.Context, id domain.ID) (domain.Entity, uint64, error) {
	vals, err := r.client.HMGet(ctx, entityKey(id), "kind", "data", "version").Result()
	if err != nil {
		return nil, 0, fmt.Errorf("hmget %s: %w", id, err)
	}
	kind, ok1 := vals[0].(string)
	data, ok2 := vals[1].(string)
	raw, ok3 := vals[2].(string)
	if !ok1 || !ok2 || !ok3 {
		return nil, 0, fmt.Errorf("load %s: %w", id, domain.ErrNotFound)
	}
	version, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("load %s: bad version %q: %w", id, raw, err)
	}
	e, err := decodeEntity(kind, []byte(data), version)
	if err != nil {
		return nil, 0, err
	}
	return e, version, nil
}

func (r *RedisStore) Save(ctx context.Context, e domain.Entity, expected uint64) error {
	return r.Apply(ctx, []port.Write{{Op: port.WriteSave, ID: e.EntityID(), Entity: e, Expected: expected}})
}

func (r *RedisStore) Delete(ctx context.Context, id domain.ID, expected uint64) error {
	return r.Apply(ctx, []port.Write{{Op: port.WriteDelete, ID: id, Expected: expected}})
}

func (r *RedisStore) Apply(ctx context.Context, writes []port.Write) error {
	if len(writes) == 0 {
		return nil
	}
	keys := make([]string, len(writes))
	args := make([]any, 0, len(writes)*4)
	for i, w := range writes {
		keys[i] = entityKey(w.ID)
		if w.Op == port.WriteDelete {
			args = append(args, "del", w.Expected, "", "")
			continue
		}
		kind, data, err := encodeEntity(w.Entity)
		if err != nil {
			return err
		}
		args = append(args, "save", w.Expected, kind, data)
	}

	failed, err := applyScript.Run(ctx, r.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("apply script: %w", err)
	}
	if failed > 0 {
		w := writes[failed-1]
		return fmt.Errorf("%s at version %d: %w", w.ID, w.Expected, port.ErrVersionMismatch)
	}
	return nil
}

// RedisIdempotency claims request ids with SET NX so that every server
// sharing the Redis instance agrees on duplicates.
type RedisIdempotency struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisIdempotency(client redis.UniversalClient, ttl time.Duration) *RedisIdempotency {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &RedisIdempotency{client: client, ttl: ttl}
}

func (r *RedisIdempotency) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, r.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *RedisIdempotency) Release(ctx context.Context, key string) error {
	err := r.client.Del(ctx, key).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
