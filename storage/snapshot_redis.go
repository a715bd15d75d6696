package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	appconfig "fundingheat/config"
	"fundingheat/logger"
	"fundingheat/models"
)

// RedisSnapshotStore keeps the ranking snapshot under one Redis key. The key
// never expires so an outdated snapshot remains available as a fallback.
type RedisSnapshotStore struct {
	rdb *redis.Client
	key string
}

// NewRedisClient connects and pings the configured server.
func NewRedisClient(ctx context.Context, cfg appconfig.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	logger.GetLogger().WithComponent("redis").WithFields(logger.Fields{
		"addr": cfg.Addr,
		"db":   cfg.DB,
	}).Info("connected to redis")
	return rdb, nil
}

func NewRedisSnapshotStore(rdb *redis.Client, key string) *RedisSnapshotStore {
	return &RedisSnapshotStore{rdb: rdb, key: key}
}

func (s *RedisSnapshotStore) Load(ctx context.Context) (*models.RankedSymbolSnapshot, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s: %w", s.key, err)
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.key, err)
	}
	return snap, nil
}

func (s *RedisSnapshotStore) Save(ctx context.Context, snap *models.RankedSymbolSnapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key, data, 0).Err()
}
