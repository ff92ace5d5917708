// Package mysql opens read-only MySQL connection pools for the order and
// payment databases.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	driver "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
)

const (
	// DefaultPort is the MySQL port used when none is configured
	DefaultPort = 3306

	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 5 * time.Minute
	maxPingElapsed        = 30 * time.Second
)

// Config holds the connection settings of one database
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`

	// ConnectTimeout bounds dialing; zero means 10s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Addr returns host:port
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// DSN renders the go-sql-driver data source name
func (c Config) DSN() string {
	cfg := driver.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = c.Addr()
	cfg.DBName = c.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Timeout = c.ConnectTimeout
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultConnectTimeout
	}
	cfg.ReadTimeout = defaultReadTimeout
	return cfg.FormatDSN()
}

// String identifies the database in logs without the password
func (c Config) String() string {
	return fmt.Sprintf("%s@%s/%s", c.User, c.Addr(), c.Name)
}

// Open creates a connection pool and pings it, retrying transient failures
// with exponential backoff until ctx is done or 30s have passed.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg, err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(10 * time.Minute)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = maxPingElapsed

	ping := func() error {
		err := db.PingContext(ctx)
		if isAuthError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.Warn().Err(err).Str("database", cfg.String()).Dur("retry_in", next).Msg("Database not reachable, retrying")
	}

	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg, err)
	}

	logger.Debug().Str("database", cfg.String()).Msg("Connected to database")
	return db, nil
}

// isAuthError reports errors that retrying cannot fix: access denied and
// unknown database.
func isAuthError(err error) bool {
	var myErr *driver.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	switch myErr.Number {
	case 1044, 1045, 1049:
		return true
	}
	return false
}
