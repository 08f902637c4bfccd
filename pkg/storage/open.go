package storage

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jobscan/jobscan/pkg/config"
	"github.com/jobscan/jobscan/pkg/utils"
)

// Open constructs the store selected by cfg.Driver
func Open(ctx context.Context, cfg config.StorageConfig, logger *logrus.Entry) (JobStore, error) {
	storeLog := logger.WithFields(logrus.Fields{"component": "storage", "driver": cfg.Driver})
	switch cfg.Driver {
	case config.StorageBadger, "":
		return NewBadgerStore(cfg.Path, storeLog)
	case config.StoragePostgres:
		return NewPostgresStore(ctx, cfg.DSN, storeLog)
	case config.StorageMemory:
		storeLog.Warn("Using in-memory job store, records are lost on exit")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", utils.ErrConfigValidation, cfg.Driver)
	}
}
