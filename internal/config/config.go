// Package config handles loading and parsing of the blob store configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Store kinds.
const (
	KindS3    = "s3"
	KindLocal = "local"
	KindGCS   = "gcs"
	KindAzure = "azure"
)

// Part size limits of the S3 multipart protocol.
const (
	MinPartSize ByteSize = 5 << 20
	MaxPartSize ByteSize = 5 << 30
)

// Config is the top-level configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Stores  []StoreConfig `yaml:"stores"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is one of text, json, logfmt.
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StoreConfig describes one named store. Which fields apply depends on Kind.
type StoreConfig struct {
	Name string `yaml:"name"`
	// Kind is one of s3, local, gcs, azure.
	Kind string `yaml:"kind"`

	// Bucket is the S3 or GCS bucket.
	Bucket string `yaml:"bucket"`
	// Prefix namespaces the store's keys inside the bucket or container.
	Prefix string `yaml:"prefix"`

	// S3 connection settings. Empty credentials fall back to the default
	// AWS credential chain.
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`

	// Transfer tuning for s3 stores. Sizes accept units ("16MiB").
	UploadPartSize ByteSize `yaml:"upload_part_size"`
	CopyPartSize   ByteSize `yaml:"copy_part_size"`
	ListPageSize   int32    `yaml:"list_page_size"`

	// RootDir is the directory of a local store.
	RootDir string `yaml:"root_dir"`

	// CredentialsFile is a GCS service account key. Empty means
	// Application Default Credentials.
	CredentialsFile string `yaml:"credentials_file"`

	// Azure settings. ConnectionString wins over AccountURL.
	Container        string `yaml:"container"`
	AccountURL       string `yaml:"account_url"`
	ConnectionString string `yaml:"connection_string"`
}

// ByteSize is a size in bytes that unmarshals from a plain integer or a
// human-readable string such as "16MiB" or "1GB".
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid size %q: %w", node.Line, s, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Load reads a YAML configuration file from the given path and returns a
// parsed Config. Defaults are applied for unset values, and the result is
// validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data. See Load.
func Parse(data []byte) (*Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            9000,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling, and clamps part sizes into the range the
// multipart protocol accepts.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9000
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	for i := range cfg.Stores {
		sc := &cfg.Stores[i]
		sc.Kind = strings.ToLower(strings.TrimSpace(sc.Kind))
		if sc.Kind == "" {
			sc.Kind = KindS3
		}
		if sc.Name == "" {
			sc.Name = sc.Bucket
		}
		if sc.Kind != KindS3 {
			continue
		}
		if sc.Region == "" {
			sc.Region = "us-east-1"
		}
		if sc.UploadPartSize != 0 {
			sc.UploadPartSize = ClampPartSize(sc.UploadPartSize)
		}
		if sc.CopyPartSize != 0 {
			sc.CopyPartSize = ClampPartSize(sc.CopyPartSize)
		}
	}
}

// ClampPartSize limits n to [MinPartSize, MaxPartSize].
func ClampPartSize(n ByteSize) ByteSize {
	return min(max(n, MinPartSize), MaxPartSize)
}

// Validate checks that every store is complete and uniquely named.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for i, sc := range c.Stores {
		if sc.Name == "" {
			errs = append(errs, fmt.Errorf("stores[%d]: name is required", i))
			continue
		}
		if seen[sc.Name] {
			errs = append(errs, fmt.Errorf("stores[%d]: duplicate store name %q", i, sc.Name))
		}
		seen[sc.Name] = true
		if err := sc.validate(); err != nil {
			errs = append(errs, fmt.Errorf("store %q: %w", sc.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (sc StoreConfig) validate() error {
	switch sc.Kind {
	case KindS3, KindGCS:
		if sc.Bucket == "" {
			return errors.New("bucket is required")
		}
	case KindLocal:
		if sc.RootDir == "" {
			return errors.New("root_dir is required")
		}
	case KindAzure:
		if sc.Container == "" {
			return errors.New("container is required")
		}
		if sc.AccountURL == "" && sc.ConnectionString == "" {
			return errors.New("account_url or connection_string is required")
		}
	default:
		return fmt.Errorf("unknown kind %q", sc.Kind)
	}
	if sc.ListPageSize < 0 || sc.ListPageSize > 1000 {
		return fmt.Errorf("list_page_size %d out of range [1, 1000]", sc.ListPageSize)
	}
	return nil
}

// Store returns the configuration of the named store.
func (c *Config) Store(name string) (StoreConfig, bool) {
	for _, sc := range c.Stores {
		if sc.Name == name {
			return sc, true
		}
	}
	return StoreConfig{}, false
}
