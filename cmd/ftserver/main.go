package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomerIQ713/File-Transfer/internal/app"
	"github.com/tomerIQ713/File-Transfer/internal/config"
	"github.com/tomerIQ713/File-Transfer/internal/database"
	"github.com/tomerIQ713/File-Transfer/internal/database/migrations"
	"github.com/tomerIQ713/File-Transfer/internal/encryption"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readConfig resolves the config path from the environment and reads the
// config file. Every command except "config init" starts here.
func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return cfg, nil
}

// readPassphrase prompts for the key passphrase without echoing it. When
// stdin is not a terminal (tests, service managers) it falls back to the
// FT_KEY_PASSPHRASE environment variable.
func readPassphrase(prompt string) (string, error) {
	if pass := os.Getenv("FT_KEY_PASSPHRASE"); pass != "" {
		return pass, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal and FT_KEY_PASSPHRASE is not set")
	}

	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pass), nil
}

// keyPassphrase returns the passphrase for the private key, prompting only
// when the config asks for age protection.
func keyPassphrase(cfg *config.Config, prompt string) (string, error) {
	if cfg.Keys.Protection != "age" {
		return "", nil
	}
	return readPassphrase(prompt)
}

var rootCmd = &cobra.Command{
	Use:   "ftserver",
	Short: "Private file sharing server",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Get application defaults
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		// Create config with defaults
		cfg := config.NewConfig(defaults["base_dir"])

		// Initialize config file
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Listen Addr: %s\n", cfg.ListenAddr)
		fmt.Printf("Data Dir: %s\n", cfg.DataDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Get application defaults
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		// Read config
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		// Display config
		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Listen Addr:  %s\n", cfg.ListenAddr)
		fmt.Printf("Data Dir:     %s\n", cfg.DataDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Max Upload:   %d bytes\n", cfg.MaxUploadBytes)
		fmt.Printf("Database:     %s (%s)\n", cfg.Database.Type, cfg.Database.Path)
		fmt.Printf("Blob Store:   %s\n", cfg.Blobs.Type)
		fmt.Printf("Key Protection: %s\n", cfg.Keys.Protection)
		return nil
	},
}

// keygen command
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the server key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		if encryption.IsConfigured(cfg.Keys) {
			return fmt.Errorf("key pair already exists at %s", cfg.Keys.PrivateKeyPath)
		}

		passphrase, err := keyPassphrase(cfg, "Passphrase for new private key: ")
		if err != nil {
			return err
		}

		identity, err := encryption.GenerateIdentity()
		if err != nil {
			return fmt.Errorf("generating key pair: %w", err)
		}

		if err := identity.Save(cfg.Keys, passphrase); err != nil {
			return fmt.Errorf("saving key pair: %w", err)
		}

		fmt.Printf("Public key:  %s\n", cfg.Keys.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Keys.PrivateKeyPath)
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		read, write, err := database.NewStorePairFromConfig(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer read.Close()
		if write != read {
			defer write.Close()
		}

		if err := migrations.MigrateUp(write.DB()); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}

		fmt.Println("Database is up to date.")
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the file sharing server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		passphrase, err := keyPassphrase(cfg, "Private key passphrase: ")
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.NewServerApp(ctx, cfg, passphrase)
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		fmt.Printf("Listening on %s\n", cfg.ListenAddr)
		if err := a.Run(ctx); err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(serveCmd)
}
