package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prompt-refiner-go/internal/models"
	bolt "go.etcd.io/bbolt"
)

var usageBucket = []byte("usage_limits")

// BoltStore keeps usage records in a single-file BoltDB database, for
// single-node deployments that want durability without a server.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(usageBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func decodeRecord(v []byte) (*models.UsageRecord, error) {
	if v == nil {
		return nil, nil
	}
	var record models.UsageRecord
	if err := json.Unmarshal(v, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (b *BoltStore) Get(ctx context.Context, userID string) (*models.UsageRecord, error) {
	var record *models.UsageRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		record, err = decodeRecord(tx.Bucket(usageBucket).Get([]byte(userID)))
		return err
	})
	return record, err
}

func (b *BoltStore) Put(ctx context.Context, record *models.UsageRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(usageBucket).Put([]byte(record.UserID), data)
	})
}

func (b *BoltStore) Increment(ctx context.Context, userID, day string) (int, error) {
	var count int
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(usageBucket)
		record, err := decodeRecord(bucket.Get([]byte(userID)))
		if err != nil {
			return err
		}
		count = nextCount(record, day)
		data, err := json.Marshal(models.UsageRecord{UserID: userID, Date: day, Count: count})
		if err != nil {
			return err
		}
		return bucket.Put([]byte(userID), data)
	})
	return count, err
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}
