package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prompt-refiner-go/internal/config"
	"github.com/prompt-refiner-go/internal/models"
)

// maxWatchAttempts bounds optimistic-lock retries when another writer
// touches the same key between WATCH and EXEC.
const maxWatchAttempts = 25

// RedisStore keeps usage records as JSON strings under <prefix><userID>.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: cfg.KeyPrefix}, nil
}

func (r *RedisStore) key(userID string) string {
	return r.prefix + userID
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readRecord(ctx context.Context, g stringGetter, key string) (*models.UsageRecord, error) {
	data, err := g.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record models.UsageRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &record, nil
}

func (r *RedisStore) Get(ctx context.Context, userID string) (*models.UsageRecord, error) {
	return readRecord(ctx, r.client, r.key(userID))
}

func (r *RedisStore) Put(ctx context.Context, record *models.UsageRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(record.UserID), data, 0).Err()
}

func (r *RedisStore) Increment(ctx context.Context, userID, day string) (int, error) {
	key := r.key(userID)
	var count int

	txf := func(tx *redis.Tx) error {
		record, err := readRecord(ctx, tx, key)
		if err != nil {
			return err
		}

		count = nextCount(record, day)
		data, err := json.Marshal(models.UsageRecord{UserID: userID, Date: day, Count: count})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return count, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return 0, err
	}
	return 0, fmt.Errorf("increment %s: key kept changing during transaction", key)
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
