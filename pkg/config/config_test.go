package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/payrecon/pkg/log"
	"github.com/cuemby/payrecon/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullYAML = `
order_db:
  host: magento-db
  port: 3307
  user: reader
  password: secret1
  name: magento
payment_db:
  host: papaya-db
  user: reader
  password: secret2
  name: papaya
  batch_size: 200
api:
  base_url: https://papaya.example.com
  login: recon
  password: secret3
  timeout: 45s
  rate_limit: 5
date_from: "2024-01-01"
date_to: "2024-01-31"
progress:
  path: /var/lib/payrecon/progress.db
  backend: bolt
log:
  file: ""
  level: debug
  json: true
metrics_file: /var/lib/node_exporter/payrecon.prom
`

// clearEnv makes sure no variable from the host leaks into a test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, b := range bindings {
		t.Setenv(envName(b.key), "")
		os.Unsetenv(envName(b.key))
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 3306, cfg.OrderDB.Port)
	assert.Equal(t, 3306, cfg.PaymentDB.Port)
	assert.Equal(t, 500, cfg.PaymentDB.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Zero(t, cfg.API.RateLimit)
	assert.Equal(t, "cancel_payments_progress.csv", cfg.Progress.Path)
	assert.Equal(t, storage.BackendCSV, cfg.Backend())
	assert.Equal(t, "cancel_payments.log", cfg.Log.File)
	assert.Equal(t, log.InfoLevel, cfg.LogLevel())
	assert.Empty(t, cfg.MetricsFile)
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(LoadOptions{ConfigFile: writeFile(t, "payrecon.yaml", fullYAML)})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "magento-db", cfg.OrderDB.Host)
	assert.Equal(t, 3307, cfg.OrderDB.Port)
	assert.Equal(t, "papaya-db", cfg.PaymentDB.Host)
	assert.Equal(t, 3306, cfg.PaymentDB.Port, "default survives a partial section")
	assert.Equal(t, 200, cfg.PaymentDB.BatchSize)
	assert.Equal(t, 45*time.Second, cfg.API.Timeout)
	assert.Equal(t, 5.0, cfg.API.RateLimit)
	assert.Equal(t, storage.BackendBolt, cfg.Backend())
	assert.Empty(t, cfg.Log.File)
	assert.True(t, cfg.Log.JSON)

	r, err := cfg.DateRange()
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01..2024-01-31", r.String())
}

func TestLoadYAMLRejectsUnknownFields(t *testing.T) {
	clearEnv(t)

	_, err := Load(LoadOptions{ConfigFile: writeFile(t, "bad.yaml", "order_db:\n  hostname: x\n")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hostname")
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestEnvFileOverridesYAML(t *testing.T) {
	clearEnv(t)

	env := writeFile(t, ".env", "ORDER_DB_HOST=env-file-host\nCANCEL_API_TIMEOUT=10\nDATE_TO=2024-02-29\n")
	cfg, err := Load(LoadOptions{ConfigFile: writeFile(t, "payrecon.yaml", fullYAML), EnvFile: env})
	require.NoError(t, err)

	assert.Equal(t, "env-file-host", cfg.OrderDB.Host)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, "2024-02-29", cfg.DateTo)
	assert.Equal(t, "papaya-db", cfg.PaymentDB.Host)
}

func TestEnvironmentOverridesEnvFile(t *testing.T) {
	clearEnv(t)

	env := writeFile(t, ".env", "ORDER_DB_HOST=env-file-host\nLOG_LEVEL=warn\n")
	t.Setenv("ORDER_DB_HOST", "process-host")

	cfg, err := Load(LoadOptions{EnvFile: env})
	require.NoError(t, err)

	assert.Equal(t, "process-host", cfg.OrderDB.Host)
	assert.Equal(t, log.WarnLevel, cfg.LogLevel())
}

func TestMissingEnvFile(t *testing.T) {
	clearEnv(t)
	missing := filepath.Join(t.TempDir(), ".env")

	_, err := Load(LoadOptions{EnvFile: missing})
	assert.NoError(t, err)

	_, err = Load(LoadOptions{EnvFile: missing, EnvFileRequired: true})
	assert.Error(t, err)
}

func TestLegacyVariableNames(t *testing.T) {
	clearEnv(t)

	t.Setenv("MAGENTO_DB_HOST", "legacy-magento")
	t.Setenv("PAPAYA_DB_HOST", "legacy-papaya")
	t.Setenv("PAPAYA_API_URL", "https://legacy.example.com")
	t.Setenv("PAYMENT_DB_HOST", "current-papaya")

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "legacy-magento", cfg.OrderDB.Host)
	assert.Equal(t, "current-papaya", cfg.PaymentDB.Host, "current name wins over the legacy one")
	assert.Equal(t, "https://legacy.example.com", cfg.API.BaseURL)
}

func TestLegacyEnvironmentBeatsCurrentNameInEnvFile(t *testing.T) {
	clearEnv(t)

	env := writeFile(t, ".env", "ORDER_DB_HOST=env-file-host\nPAPAYA_DB_HOST=legacy-file-host\nPAYMENT_DB_HOST=current-file-host\n")
	t.Setenv("MAGENTO_DB_HOST", "legacy-process-host")

	cfg, err := Load(LoadOptions{EnvFile: env})
	require.NoError(t, err)

	assert.Equal(t, "legacy-process-host", cfg.OrderDB.Host, "the environment wins over the file whatever the name")
	assert.Equal(t, "current-file-host", cfg.PaymentDB.Host)
}

func TestInvalidEnvFileValue(t *testing.T) {
	clearEnv(t)
	env := writeFile(t, ".env", "CANCEL_API_TIMEOUT=soon\n")

	_, err := Load(LoadOptions{EnvFile: env})
	var fe *FieldError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, "api.timeout", fe.Field)
}

func TestInvalidEnvValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("ORDER_DB_PORT", "mysql")

	_, err := Load(LoadOptions{})
	var fe *FieldError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, "order_db.port", fe.Field)
	assert.Contains(t, fe.Reason, "ORDER_DB_PORT")
}

func TestValidateReportsEveryMissingField(t *testing.T) {
	err := Default().Validate()
	require.Error(t, err)

	for _, field := range []string{
		"order_db.host", "order_db.user", "order_db.password", "order_db.name",
		"payment_db.host", "payment_db.user", "payment_db.password", "payment_db.name",
		"api.base_url", "api.login", "api.password", "date_from", "date_to",
	} {
		assert.Contains(t, err.Error(), field+": is required")
	}

	var fe *FieldError
	assert.True(t, errors.As(err, &fe))
}

func TestValidateRejectsBadValues(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"port", func(c *Config) { c.PaymentDB.Port = 70000 }, "payment_db.port"},
		{"batch size", func(c *Config) { c.PaymentDB.BatchSize = 0 }, "payment_db.batch_size"},
		{"url scheme", func(c *Config) { c.API.BaseURL = "ftp://papaya" }, "api.base_url"},
		{"timeout", func(c *Config) { c.API.Timeout = 0 }, "api.timeout"},
		{"rate limit", func(c *Config) { c.API.RateLimit = -1 }, "api.rate_limit"},
		{"date format", func(c *Config) { c.DateFrom = "01/01/2024" }, "date_from/date_to"},
		{"date order", func(c *Config) { c.DateFrom, c.DateTo = "2024-02-01", "2024-01-01" }, "date_from/date_to"},
		{"backend", func(c *Config) { c.Progress.Backend = "redis" }, "progress.backend"},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(LoadOptions{ConfigFile: writeFile(t, "payrecon.yaml", fullYAML)})
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field+":")
		})
	}
}

func TestCancellationSettings(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(LoadOptions{ConfigFile: writeFile(t, "payrecon.yaml", fullYAML)})
	require.NoError(t, err)

	cc := cfg.Cancellation()
	assert.Equal(t, "https://papaya.example.com", cc.BaseURL)
	assert.Equal(t, "recon", cc.Login)
	assert.Equal(t, "secret3", cc.Password)
	assert.Equal(t, 45*time.Second, cc.Timeout)
	assert.Equal(t, 5.0, cc.RateLimit)
}
