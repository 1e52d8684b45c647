// Package config loads pagebook configuration: embedded defaults overlaid by
// an optional YAML file, with secrets taken from the environment.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	yaml "gopkg.in/yaml.v3"
)

//go:embed config.yaml
var defaultConfig []byte

// Environment variables holding R2 credentials.
const (
	EnvAccessKeyID     = "PAGEBOOK_R2_ACCESS_KEY_ID"
	EnvSecretAccessKey = "PAGEBOOK_R2_SECRET_ACCESS_KEY"
)

type (
	R2Config struct {
		AccountID       string `yaml:"account_id"`
		Bucket          string `yaml:"bucket"`
		Endpoint        string `yaml:"endpoint"`
		Region          string `yaml:"region"`
		AccessKeyID     string `yaml:"-"`
		SecretAccessKey string `yaml:"-"`
	}

	LibraryConfig struct {
		Root   string   `yaml:"root"`
		Source string   `yaml:"source"`
		Cache  string   `yaml:"cache"`
		R2     R2Config `yaml:"r2"`
	}

	ProgressConfig struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
	}

	ReaderConfig struct {
		ViewMode     string        `yaml:"view_mode"`
		ZoomStep     float64       `yaml:"zoom_step"`
		PreloadDelay time.Duration `yaml:"preload_delay"`
		NarrowWidth  int           `yaml:"narrow_width"`
	}

	AudioConfig struct {
		Rate float64 `yaml:"rate"`
	}

	LoggingConfig struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		Console    bool   `yaml:"console"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	}

	Config struct {
		Version  int            `yaml:"version"`
		Library  LibraryConfig  `yaml:"library"`
		Progress ProgressConfig `yaml:"progress"`
		Reader   ReaderConfig   `yaml:"reader"`
		Audio    AudioConfig    `yaml:"audio"`
		Logging  LoggingConfig  `yaml:"logging"`
	}
)

func unmarshalConfig(data []byte, cfg *Config) (*Config, error) {
	// only fields we defined are accepted
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration file at path, superimposes its
// values on top of the embedded defaults and validates the result. An empty
// path means defaults only. A .env file next to the configuration (or in the
// working directory) is loaded into the environment first.
func LoadConfiguration(path string) (*Config, error) {
	loadDotEnv(path)

	cfg, err := unmarshalConfig(expand(defaultConfig), &Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to process default configuration: %w", err)
	}

	if len(path) > 0 {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if cfg, err = unmarshalConfig(expand(data), cfg); err != nil {
			return nil, err
		}
	}

	cfg.Library.R2.AccessKeyID = os.Getenv(EnvAccessKeyID)
	cfg.Library.R2.SecretAccessKey = os.Getenv(EnvSecretAccessKey)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) {
	candidates := []string{".env"}
	if len(path) > 0 {
		candidates = append([]string{filepath.Join(filepath.Dir(path), ".env")}, candidates...)
	}
	for _, f := range candidates {
		if _, err := os.Stat(f); err == nil {
			// existing environment wins over the file
			_ = godotenv.Load(f)
			return
		}
	}
}

// expand substitutes environment variables, supplying XDG defaults.
func expand(data []byte) []byte {
	home, _ := os.UserHomeDir()
	xdg := map[string]string{
		"XDG_DATA_HOME":  filepath.Join(home, ".local", "share"),
		"XDG_CACHE_HOME": filepath.Join(home, ".cache"),
		"XDG_STATE_HOME": filepath.Join(home, ".local", "state"),
	}
	return []byte(os.Expand(string(data), func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return xdg[key]
	}))
}

func (c *Config) validate() error {
	var errs []error
	if c.Version != 1 {
		errs = append(errs, fmt.Errorf("unsupported configuration version %d", c.Version))
	}
	switch c.Library.Source {
	case "local":
	case "r2":
		if c.Library.R2.Bucket == "" {
			errs = append(errs, errors.New("library.r2.bucket is required for r2 source"))
		}
		if c.Library.R2.AccountID == "" && c.Library.R2.Endpoint == "" {
			errs = append(errs, errors.New("library.r2.account_id or library.r2.endpoint is required for r2 source"))
		}
	default:
		errs = append(errs, fmt.Errorf("library.source must be local or r2, got %q", c.Library.Source))
	}
	switch c.Progress.Backend {
	case "json", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("progress.backend must be json or sqlite, got %q", c.Progress.Backend))
	}
	switch c.Reader.ViewMode {
	case "single", "spread":
	default:
		errs = append(errs, fmt.Errorf("reader.view_mode must be single or spread, got %q", c.Reader.ViewMode))
	}
	if c.Reader.ZoomStep <= 0 || c.Reader.ZoomStep > 1 {
		errs = append(errs, fmt.Errorf("reader.zoom_step must be in (0, 1], got %v", c.Reader.ZoomStep))
	}
	if c.Reader.PreloadDelay < 0 {
		errs = append(errs, fmt.Errorf("reader.preload_delay must not be negative"))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error", "disabled":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not recognized", c.Logging.Level))
	}
	return multierr.Combine(errs...)
}

// Dump returns the configuration as YAML. Secrets are never included.
func Dump(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
