package testutil

import (
	"testing"

	"github.com/tomerIQ713/File-Transfer/internal/config"
	"github.com/tomerIQ713/File-Transfer/internal/database"
)

// NewTestStorePair creates an in-memory SQLite store pair with the schema
// applied. Both stores are closed automatically when the test completes.
func NewTestStorePair(t *testing.T) (read, write *database.Store) {
	t.Helper()

	read, write, err := database.NewStorePairFromConfig(config.DatabaseConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	t.Cleanup(func() {
		read.Close()
		if write != read {
			write.Close()
		}
	})

	return read, write
}
