package main

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/volundmush/mudsnake/internal/adapter/storage"
	"github.com/volundmush/mudsnake/internal/config"
	"github.com/volundmush/mudsnake/internal/port"
)

// backend bundles the object store, the idempotency store and whatever
// connections they hold.
type backend struct {
	store  port.ObjectStore
	idem   port.IdempotencyStore
	redis  redis.UniversalClient
	closer []io.Closer
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	b := &backend{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: 100})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		b.redis = rdb
		b.closer = append(b.closer, rdb)
		b.idem = storage.NewRedisIdempotency(rdb, cfg.IdempotencyTTL)
	} else {
		b.idem = storage.NewMemoryIdempotency(cfg.IdempotencyTTL)
	}

	switch cfg.Store {
	case config.StoreMemory:
		b.store = storage.NewMemoryStore()
	case config.StoreSQLite:
		s, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, b.fail(err)
		}
		b.store = s
		b.closer = append(b.closer, s)
	case config.StoreMySQL:
		s, err := storage.OpenMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, b.fail(err)
		}
		b.store = s
		b.closer = append(b.closer, s)
	case config.StoreRedis:
		b.store = storage.NewRedisStore(b.redis)
	default:
		return nil, b.fail(fmt.Errorf("unknown store %q", cfg.Store))
	}
	return b, nil
}

func (b *backend) fail(err error) error {
	for _, c := range b.closer {
		_ = c.Close()
	}
	return err
}

func (b *backend) Close(log logrus.FieldLogger) {
	for i := len(b.closer) - 1; i >= 0; i-- {
		if err := b.closer[i].Close(); err != nil {
			log.WithError(err).Warn("close backend")
		}
	}
}
