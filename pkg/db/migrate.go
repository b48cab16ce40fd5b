package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// goose keeps its settings in package globals.
var gooseMu sync.Mutex

// Migrate applies every pending migration found at the root of migrations.
// The *sql.DB view shares the pool's connections and is intentionally not closed.
func Migrate(ctx context.Context, pool *pgxpool.Pool, migrations fs.FS, table string, log *slog.Logger) error {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if table == "" {
		table = "schema_migrations"
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{log})
	goose.SetTableName(table)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrApplyMigrations, err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return errors.Join(ErrApplyMigrations, err)
	}

	version, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err == nil {
		log.InfoContext(ctx, "database schema up to date", slog.Int64("version", version))
	}
	return nil
}

type gooseLogger struct{ log *slog.Logger }

func (g gooseLogger) Printf(format string, args ...any) {
	g.log.Debug(fmt.Sprintf(format, args...))
}

// Fatalf only logs; goose returns the error to the caller anyway.
func (g gooseLogger) Fatalf(format string, args ...any) {
	g.log.Error(fmt.Sprintf(format, args...))
}
