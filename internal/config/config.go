package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultMaxUploadBytes is the upload size ceiling applied when the config
// does not set one: 25 MiB. The configured value may raise it up to 250 MiB.
const (
	DefaultMaxUploadBytes = 25 * 1024 * 1024
	MaxUploadBytesCeiling = 250 * 1024 * 1024
)

// Config represents the main configuration for ftserver.
type Config struct {
	ListenAddr     string `toml:"listen_addr"`
	DataDir        string `toml:"data_dir"`
	LogDir         string `toml:"log_dir"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`

	Database DatabaseConfig `toml:"database"`
	Keys     KeysConfig     `toml:"keys"`
	Blobs    BlobConfig     `toml:"blobs"`
}

// DatabaseConfig represents configuration for the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type string `toml:"type"`           // "sqlite" or "memory"
	Path string `toml:"path,omitempty"` // only used for type=sqlite
}

// KeysConfig holds paths to the server's long-lived RSA key pair.
// The public key is plaintext PEM. The private key is either plaintext PEM
// (protection=none) or age passphrase-encrypted PEM (protection=age).
type KeysConfig struct {
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
	Protection     string `toml:"protection"` // "age" (default) or "none"
}

// BlobConfig represents configuration for uploaded file byte storage.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type BlobConfig struct {
	Type string `toml:"type"` // "filesystem", "memory", or "s3"

	// Filesystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// NewConfig creates a new Config with the provided base directory and
// default values for everything else.
func NewConfig(baseDir string) *Config {
	return &Config{
		ListenAddr:     ":11111",
		DataDir:        baseDir,
		LogDir:         filepath.Join(baseDir, "log"),
		MaxUploadBytes: DefaultMaxUploadBytes,
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: filepath.Join(baseDir, "ftserver.db"),
		},
		Keys: KeysConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "server.pub.pem"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "server.key.age"),
			Protection:     "age",
		},
		Blobs: BlobConfig{
			Type: "filesystem",
			Root: filepath.Join(baseDir, "files"),
		},
	}
}

// Validate checks values that have hard bounds. It is called after reading.
func (c *Config) Validate() error {
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.MaxUploadBytes > MaxUploadBytesCeiling {
		return fmt.Errorf("max_upload_bytes %d exceeds ceiling %d", c.MaxUploadBytes, int64(MaxUploadBytesCeiling))
	}
	switch c.Keys.Protection {
	case "age", "none":
	default:
		return fmt.Errorf("unknown key protection: %s", c.Keys.Protection)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
