package blob

import (
	"context"
	"fmt"

	"github.com/tomerIQ713/File-Transfer/internal/config"
)

// NewStoreFromConfig creates a Store implementation based on the blob
// config type.
func NewStoreFromConfig(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem blob store requires root to be set")
		}
		return NewFileSystemStore(cfg.Root)
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.Type)
	}
}
