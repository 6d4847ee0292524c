package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tomerIQ713/File-Transfer/internal/blob"
	"github.com/tomerIQ713/File-Transfer/internal/config"
	"github.com/tomerIQ713/File-Transfer/internal/database"
	"github.com/tomerIQ713/File-Transfer/internal/database/migrations"
	"github.com/tomerIQ713/File-Transfer/internal/encryption"
	"github.com/tomerIQ713/File-Transfer/internal/server"
)

// ServerApp is the application layer between the CLI and the server
// core. It constructs all dependencies from config and manages their
// lifecycle: the store pair, the blob store, the key pair, the write
// serializer, the listener, and the admin console.
type ServerApp struct {
	cfg        *config.Config
	readStore  *database.Store
	writeStore *database.Store
	blobs      blob.Store
	identity   *encryption.Identity
	sessions   *server.Registry
	writer     *server.WriteSerializer
	server     *server.Server
	console    *server.AdminConsole
	logger     server.Logger
	logFile    *os.File
}

// NewServerApp creates a fully wired ServerApp from the given config.
// passphrase unlocks the private key when key protection is "age".
// The caller must call Close when done.
func NewServerApp(ctx context.Context, cfg *config.Config, passphrase string) (*ServerApp, error) {
	runID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	readStore, writeStore, err := database.NewStorePairFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := migrations.CheckDBMigrationStatus(readStore.DB()); err != nil {
		closeStores(readStore, writeStore)
		logFile.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	blobs, err := blob.NewStoreFromConfig(ctx, cfg.Blobs)
	if err != nil {
		closeStores(readStore, writeStore)
		logFile.Close()
		return nil, fmt.Errorf("creating blob store: %w", err)
	}

	identity, err := encryption.LoadIdentity(cfg.Keys, passphrase)
	if err != nil {
		closeStores(readStore, writeStore)
		logFile.Close()
		return nil, fmt.Errorf("loading server keys: %w", err)
	}

	sessions := server.NewRegistry()
	writer := server.NewWriteSerializer(writeStore, logger)
	dispatcher := server.NewDispatcher(readStore, writer, blobs, sessions,
		server.RealClock{}, logger, cfg.MaxUploadBytes)
	srv := server.NewServer(identity, dispatcher, sessions, logger, server.UUIDGenerator{})
	console := server.NewAdminConsole(sessions, writer, blobs, srv.Stop, os.Stdout, logger)

	return &ServerApp{
		cfg:        cfg,
		readStore:  readStore,
		writeStore: writeStore,
		blobs:      blobs,
		identity:   identity,
		sessions:   sessions,
		writer:     writer,
		server:     srv,
		console:    console,
		logger:     logger,
		logFile:    logFile,
	}, nil
}

// Run serves until the admin console reads stop, the context is
// cancelled, or the listener fails. The write queue drains before Run
// returns.
func (a *ServerApp) Run(ctx context.Context) error {
	a.writer.Start()
	go a.console.Run(ctx, os.Stdin)
	go func() {
		<-ctx.Done()
		a.server.Stop()
	}()

	err := a.server.ListenAndServe(ctx, a.cfg.ListenAddr)
	a.server.Stop()
	a.writer.Close()
	return err
}

func closeStores(read, write *database.Store) {
	read.Close()
	if write != read {
		write.Close()
	}
}

// Close releases the database handles and the log file.
func (a *ServerApp) Close() error {
	var firstErr error
	if err := a.readStore.Close(); err != nil {
		firstErr = err
	}
	if a.writeStore != a.readStore {
		if err := a.writeStore.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.logFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
