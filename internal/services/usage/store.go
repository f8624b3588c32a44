package usage

import (
	"context"
	"fmt"

	"github.com/prompt-refiner-go/internal/config"
	"github.com/sirupsen/logrus"
)

// NewStore builds the counter store selected by cfg.Store.
func NewStore(ctx context.Context, cfg *config.UsageConfig, logger *logrus.Logger) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.Store {
	case "memory":
		store = NewMemoryStore()
	case "redis":
		store, err = NewRedisStore(ctx, cfg.Redis)
	case "postgres":
		store, err = NewPostgresStore(ctx, cfg.Postgres.URL, cfg.Postgres.Table)
	case "bolt":
		store, err = NewBoltStore(cfg.Bolt.Path)
	default:
		return nil, fmt.Errorf("unsupported usage store: %s", cfg.Store)
	}
	if err != nil {
		return nil, err
	}

	logger.WithField("store", cfg.Store).Info("Usage store initialized")
	return store, nil
}
