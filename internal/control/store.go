package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/ethmirror/internal/core/config"
	"github.com/vietddude/ethmirror/internal/infra/storage"
	"github.com/vietddude/ethmirror/internal/infra/storage/pebblestore"
	"github.com/vietddude/ethmirror/internal/infra/storage/postgres"
)

// OpenStore opens the configured backend. db is non-nil only for postgres.
// readOnly skips migrations and opens pebble read-only.
func OpenStore(ctx context.Context, cfg config.StorageConfig, readOnly bool, log *slog.Logger) (storage.Store, *postgres.DB, error) {
	switch cfg.Driver {
	case config.DriverPebble:
		s, err := pebblestore.Open(pebblestore.Config{
			Path:     cfg.Path,
			CacheMB:  cfg.CacheMB,
			ReadOnly: readOnly,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("Using Pebble storage", "path", cfg.Path, "read_only", readOnly)
		return s, nil, nil

	case config.DriverPostgres:
		db, err := postgres.NewDB(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init db: %w", err)
		}
		if !readOnly {
			if err := db.Migrate(ctx); err != nil {
				_ = db.Close()
				return nil, nil, fmt.Errorf("failed to migrate db: %w", err)
			}
		}
		log.Info("Using PostgreSQL storage", "location", cfg.Location())
		return postgres.NewStore(db, cfg.Postgres), db, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
