package db

import (
	"errors"
	"log/slog"
	"net/url"
	"time"
)

var (
	ErrFailedToParseDBConfig    = errors.New("db: failed to parse database configuration")
	ErrFailedToOpenDBConnection = errors.New("db: failed to open database connection")
	ErrHealthcheckFailed        = errors.New("db: healthcheck failed")
	ErrApplyMigrations          = errors.New("db: failed to apply migrations")
)

// Config holds PostgreSQL pool settings.
type Config struct {
	ConnectionString string `env:"DATABASE_CONN_URL"`
	MigrationsTable  string `env:"DATABASE_MIGRATIONS_TABLE" envDefault:"schema_migrations"`

	MaxConns          int32         `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"10"`
	MinConns          int32         `env:"DATABASE_MIN_CONNS" envDefault:"2"`
	HealthCheckPeriod time.Duration `env:"DATABASE_HEALTHCHECK_PERIOD" envDefault:"1m"`
	MaxConnIdleTime   time.Duration `env:"DATABASE_MAX_CONN_IDLE_TIME" envDefault:"10m"`
	MaxConnLifetime   time.Duration `env:"DATABASE_MAX_CONN_LIFETIME" envDefault:"30m"`

	RetryAttempts int           `env:"DATABASE_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval time.Duration `env:"DATABASE_RETRY_INTERVAL" envDefault:"2s"`
}

// LogValue hides the password embedded in the connection URL.
func (c Config) LogValue() slog.Value {
	conn := c.ConnectionString
	if u, err := url.Parse(conn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
		conn = u.String()
	}
	return slog.GroupValue(
		slog.String("conn", conn),
		slog.Int("max_conns", int(c.MaxConns)),
		slog.Int("retry_attempts", c.RetryAttempts),
	)
}
