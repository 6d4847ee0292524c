package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tomerIQ713/File-Transfer/internal/config"
	"github.com/tomerIQ713/File-Transfer/internal/database/migrations"
)

// NewStorePairFromConfig creates the read and write database handles from
// config. For a file-backed database they are independent connections, so
// queries never contend with the write serializer's connection inside the
// driver. For an in-memory database both handles are the same Store, since
// each SQLite in-memory connection is a distinct database.
func NewStorePairFromConfig(cfg config.DatabaseConfig) (read, write *Store, err error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.Path == "" {
			return nil, nil, fmt.Errorf("path required for sqlite database")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, nil, fmt.Errorf("creating database directory: %w", err)
		}
		read, err = Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		write, err = Open(cfg.Path)
		if err != nil {
			read.Close()
			return nil, nil, err
		}
		return read, write, nil
	case "memory":
		store, err := Open(":memory:")
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.MigrateUp(store.DB()); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("migrating in-memory database: %w", err)
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
