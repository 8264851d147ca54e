package cmd

import (
	"context"

	"github.com/sourcetap/sourcetap/internal/config"
	"github.com/sourcetap/sourcetap/internal/core/store"
	"github.com/sourcetap/sourcetap/internal/metrics"
)

// openStore opens and migrates the configured store.
func openStore(ctx context.Context, cfg config.StoreConfig) (*store.Store, error) {
	db, err := store.Open(ctx, cfg)
	if err != nil {
		metrics.RecordStoreError("open")
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		metrics.RecordStoreError("migrate")
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
