package history

import (
	"context"
	"fmt"

	"github.com/comigor/assistant-go/internal/config"
)

// Open builds the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, opts ...Option) (Store, error) {
	switch cfg.Driver {
	case "", "mongo", "mongodb":
		return OpenMongo(ctx, cfg, opts...)
	case "sqlite":
		return OpenSQLite(cfg.SQLitePath, opts...)
	case "memory":
		return NewMemoryStore(opts...), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q (supported: mongo, sqlite, memory)", cfg.Driver)
	}
}
