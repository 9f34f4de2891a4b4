package cmd

import (
	"context"

	"github.com/rpcfleet/rpcfleet/internal/config"
	"github.com/rpcfleet/rpcfleet/internal/core/store"
)

func openStore(ctx context.Context, cfg config.StoreConfig) (*store.Store, error) {
	db, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
