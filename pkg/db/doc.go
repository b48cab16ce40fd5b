// Package db opens the PostgreSQL pool behind the provisioning store, applies
// embedded goose migrations and runs units of work in transactions.
//
//	pool, err := db.Connect(ctx, cfg)
//	if err != nil { ... }
//	defer pool.Close()
//	if err := db.Migrate(ctx, pool, migrations.FS, cfg.MigrationsTable, logger); err != nil { ... }
package db
