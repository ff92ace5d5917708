// Package config loads the reconciler configuration from a YAML file, a .env
// file and the process environment, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cuemby/payrecon/pkg/cancellation"
	"github.com/cuemby/payrecon/pkg/log"
	"github.com/cuemby/payrecon/pkg/mysql"
	"github.com/cuemby/payrecon/pkg/payments"
	"github.com/cuemby/payrecon/pkg/storage"
	"github.com/cuemby/payrecon/pkg/types"
	"gopkg.in/yaml.v3"
)

const (
	DefaultProgressFile = "cancel_payments_progress.csv"
	DefaultLogFile      = "cancel_payments.log"
	DefaultEnvFile      = ".env"
)

// Config is the complete reconciler configuration
type Config struct {
	OrderDB   mysql.Config    `yaml:"order_db"`
	PaymentDB PaymentDBConfig `yaml:"payment_db"`
	API       APIConfig       `yaml:"api"`

	DateFrom string `yaml:"date_from"`
	DateTo   string `yaml:"date_to"`

	Progress    ProgressConfig `yaml:"progress"`
	Log         LogConfig      `yaml:"log"`
	MetricsFile string         `yaml:"metrics_file"`
}

// PaymentDBConfig is the payment database connection plus query batching
type PaymentDBConfig struct {
	mysql.Config `yaml:",inline"`
	BatchSize    int `yaml:"batch_size"`
}

// APIConfig holds the cancellation API endpoint and credentials
type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Login     string        `yaml:"login"`
	Password  string        `yaml:"password"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
}

// ProgressConfig selects the progress store
type ProgressConfig struct {
	Path    string `yaml:"path"`
	Backend string `yaml:"backend"`
}

// LogConfig controls log output
type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// FieldError reports an invalid or missing configuration value
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Default returns the configuration with every default applied
func Default() *Config {
	return &Config{
		OrderDB:   mysql.Config{Port: mysql.DefaultPort},
		PaymentDB: PaymentDBConfig{Config: mysql.Config{Port: mysql.DefaultPort}, BatchSize: payments.DefaultBatchSize},
		API:       APIConfig{Timeout: cancellation.DefaultTimeout},
		Progress:  ProgressConfig{Path: DefaultProgressFile, Backend: string(storage.BackendCSV)},
		Log:       LogConfig{File: DefaultLogFile, Level: string(log.InfoLevel)},
	}
}

// LoadOptions names the configuration sources
type LoadOptions struct {
	// ConfigFile is an optional YAML file
	ConfigFile string
	// EnvFile is a dotenv file; a missing file is ignored unless EnvFileRequired
	EnvFile         string
	EnvFileRequired bool
}

// Load builds the configuration from defaults, the YAML file, the .env file
// and the environment. Later sources win; a legacy variable name only loses to
// the current name set in the same source. The result is not validated.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if opts.ConfigFile != "" {
		if err := loadYAML(opts.ConfigFile, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg, opts.EnvFile, opts.EnvFileRequired); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks every field and returns all problems joined together
func (c *Config) Validate() error {
	var errs []error
	add := func(field, reason string) {
		errs = append(errs, &FieldError{Field: field, Reason: reason})
	}
	required := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			add(field, "is required")
		}
	}

	dbs := []struct {
		prefix string
		db     mysql.Config
	}{
		{"order_db", c.OrderDB},
		{"payment_db", c.PaymentDB.Config},
	}
	for _, d := range dbs {
		prefix, db := d.prefix, d.db
		required(prefix+".host", db.Host)
		required(prefix+".user", db.User)
		required(prefix+".password", db.Password)
		required(prefix+".name", db.Name)
		if db.Port < 1 || db.Port > 65535 {
			add(prefix+".port", fmt.Sprintf("must be between 1 and 65535, got %d", db.Port))
		}
	}
	if c.PaymentDB.BatchSize < 1 {
		add("payment_db.batch_size", fmt.Sprintf("must be positive, got %d", c.PaymentDB.BatchSize))
	}

	required("api.base_url", c.API.BaseURL)
	if c.API.BaseURL != "" {
		if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("api.base_url", fmt.Sprintf("must be an http(s) URL, got %q", c.API.BaseURL))
		}
	}
	required("api.login", c.API.Login)
	required("api.password", c.API.Password)
	if c.API.Timeout <= 0 {
		add("api.timeout", fmt.Sprintf("must be positive, got %s", c.API.Timeout))
	}
	if c.API.RateLimit < 0 {
		add("api.rate_limit", fmt.Sprintf("must not be negative, got %g", c.API.RateLimit))
	}

	required("date_from", c.DateFrom)
	required("date_to", c.DateTo)
	if c.DateFrom != "" && c.DateTo != "" {
		if _, err := c.DateRange(); err != nil {
			add("date_from/date_to", err.Error())
		}
	}

	required("progress.path", c.Progress.Path)
	if _, err := storage.ParseBackend(c.Progress.Backend); err != nil {
		add("progress.backend", err.Error())
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		add("log.level", err.Error())
	}

	return errors.Join(errs...)
}

// DateRange parses the configured date window
func (c *Config) DateRange() (types.DateRange, error) {
	return types.ParseDateRange(c.DateFrom, c.DateTo)
}

// Backend returns the configured progress store backend
func (c *Config) Backend() storage.Backend {
	b, _ := storage.ParseBackend(c.Progress.Backend)
	return b
}

// LogLevel returns the configured log level
func (c *Config) LogLevel() log.Level {
	l, _ := log.ParseLevel(c.Log.Level)
	return l
}

// Cancellation returns the API client settings
func (c *Config) Cancellation() cancellation.Config {
	return cancellation.Config{
		BaseURL:   c.API.BaseURL,
		Login:     c.API.Login,
		Password:  c.API.Password,
		Timeout:   c.API.Timeout,
		RateLimit: c.API.RateLimit,
	}
}
