package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// setter applies one environment value to the configuration
type setter func(cfg *Config, value string) error

type binding struct {
	key   string
	field string
	set   setter
}

// bindings maps environment variables (lower-cased, as viper keys them) onto
// configuration fields. Legacy names come first so the current names win
// within the same source.
var bindings = []binding{
	{"magento_db_host", "order_db.host", func(c *Config, v string) error { c.OrderDB.Host = v; return nil }},
	{"magento_db_port", "order_db.port", func(c *Config, v string) error { return setInt(&c.OrderDB.Port, v) }},
	{"magento_db_user", "order_db.user", func(c *Config, v string) error { c.OrderDB.User = v; return nil }},
	{"magento_db_password", "order_db.password", func(c *Config, v string) error { c.OrderDB.Password = v; return nil }},
	{"magento_db_name", "order_db.name", func(c *Config, v string) error { c.OrderDB.Name = v; return nil }},
	{"papaya_db_host", "payment_db.host", func(c *Config, v string) error { c.PaymentDB.Host = v; return nil }},
	{"papaya_db_port", "payment_db.port", func(c *Config, v string) error { return setInt(&c.PaymentDB.Port, v) }},
	{"papaya_db_user", "payment_db.user", func(c *Config, v string) error { c.PaymentDB.User = v; return nil }},
	{"papaya_db_password", "payment_db.password", func(c *Config, v string) error { c.PaymentDB.Password = v; return nil }},
	{"papaya_db_name", "payment_db.name", func(c *Config, v string) error { c.PaymentDB.Name = v; return nil }},
	{"papaya_api_url", "api.base_url", func(c *Config, v string) error { c.API.BaseURL = v; return nil }},
	{"papaya_api_login", "api.login", func(c *Config, v string) error { c.API.Login = v; return nil }},
	{"papaya_api_password", "api.password", func(c *Config, v string) error { c.API.Password = v; return nil }},

	{"order_db_host", "order_db.host", func(c *Config, v string) error { c.OrderDB.Host = v; return nil }},
	{"order_db_port", "order_db.port", func(c *Config, v string) error { return setInt(&c.OrderDB.Port, v) }},
	{"order_db_user", "order_db.user", func(c *Config, v string) error { c.OrderDB.User = v; return nil }},
	{"order_db_password", "order_db.password", func(c *Config, v string) error { c.OrderDB.Password = v; return nil }},
	{"order_db_name", "order_db.name", func(c *Config, v string) error { c.OrderDB.Name = v; return nil }},
	{"payment_db_host", "payment_db.host", func(c *Config, v string) error { c.PaymentDB.Host = v; return nil }},
	{"payment_db_port", "payment_db.port", func(c *Config, v string) error { return setInt(&c.PaymentDB.Port, v) }},
	{"payment_db_user", "payment_db.user", func(c *Config, v string) error { c.PaymentDB.User = v; return nil }},
	{"payment_db_password", "payment_db.password", func(c *Config, v string) error { c.PaymentDB.Password = v; return nil }},
	{"payment_db_name", "payment_db.name", func(c *Config, v string) error { c.PaymentDB.Name = v; return nil }},
	{"payment_db_batch_size", "payment_db.batch_size", func(c *Config, v string) error { return setInt(&c.PaymentDB.BatchSize, v) }},
	{"cancel_api_url", "api.base_url", func(c *Config, v string) error { c.API.BaseURL = v; return nil }},
	{"cancel_api_login", "api.login", func(c *Config, v string) error { c.API.Login = v; return nil }},
	{"cancel_api_password", "api.password", func(c *Config, v string) error { c.API.Password = v; return nil }},
	{"cancel_api_timeout", "api.timeout", func(c *Config, v string) error { return setDuration(&c.API.Timeout, v) }},
	{"cancel_api_rate_limit", "api.rate_limit", func(c *Config, v string) error { return setFloat(&c.API.RateLimit, v) }},
	{"date_from", "date_from", func(c *Config, v string) error { c.DateFrom = v; return nil }},
	{"date_to", "date_to", func(c *Config, v string) error { c.DateTo = v; return nil }},
	{"progress_file", "progress.path", func(c *Config, v string) error { c.Progress.Path = v; return nil }},
	{"progress_backend", "progress.backend", func(c *Config, v string) error { c.Progress.Backend = v; return nil }},
	{"log_file", "log.file", func(c *Config, v string) error { c.Log.File = v; return nil }},
	{"log_level", "log.level", func(c *Config, v string) error { c.Log.Level = v; return nil }},
	{"log_json", "log.json", func(c *Config, v string) error { return setBool(&c.Log.JSON, v) }},
	{"metrics_file", "metrics_file", func(c *Config, v string) error { c.MetricsFile = v; return nil }},
}

// applyEnv overlays the dotenv file, then the process environment. Each
// source is applied in full before the next, so a variable set in the
// environment beats the file even when the file uses the newer name.
func applyEnv(cfg *Config, envFile string, required bool) error {
	if envFile != "" {
		file := viper.New()
		file.SetConfigFile(envFile)
		file.SetConfigType("env")
		switch err := file.ReadInConfig(); {
		case err == nil:
			if err := overlay(cfg, file); err != nil {
				return err
			}
		case required || !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("failed to read env file %s: %w", envFile, err)
		}
	}

	env := viper.New()
	env.AutomaticEnv()
	return overlay(cfg, env)
}

// overlay applies every binding set in v. Within one source the current
// name wins over the legacy one.
func overlay(cfg *Config, v *viper.Viper) error {
	for _, b := range bindings {
		if !v.IsSet(b.key) {
			continue
		}
		if err := b.set(cfg, v.GetString(b.key)); err != nil {
			return &FieldError{Field: b.field, Reason: fmt.Sprintf("%s: %v", envName(b.key), err)}
		}
	}
	return nil
}

func envName(key string) string {
	return strings.ToUpper(key)
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer %q", v)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", v)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid boolean %q", v)
	}
	*dst = b
	return nil
}

// setDuration accepts Go durations ("45s") and plain seconds ("45")
func setDuration(dst *time.Duration, v string) error {
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration %q", v)
	}
	*dst = d
	return nil
}
