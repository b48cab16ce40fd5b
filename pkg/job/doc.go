// Package job runs named background tasks, either on River (PostgreSQL-backed,
// durable, shared across replicas) or on an in-process runner for single-node
// SQLite deployments.
//
// Tasks are registered with options and looked up by name:
//
//	runner, err := job.NewRiver(pool,
//		job.WithTask(tasks.NewReconcileOrphan(rec)),
//		job.WithScheduledTask(tasks.NewAuditDNS(rec, zone, "*/30 * * * *")),
//		job.WithLogger(log),
//	)
//	err = runner.Start(ctx)
//	err = runner.Enqueue(ctx, "reconcile_orphan", payload)
//
// Both runners parse schedules with robfig/cron (five fields or @every/@hourly descriptors).
package job
