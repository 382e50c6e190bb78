// Package pruning deletes old rows based on per-table retention jobs
// stored in the database.
package pruning

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/xalatechnologies/roomery/engine"
)

const migration = `
CREATE TABLE IF NOT EXISTS pruning_jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    table_name TEXT NOT NULL UNIQUE,
    column TEXT NOT NULL DEFAULT 'created',
    ttl INTEGER NOT NULL DEFAULT (2 * 365 * 86400) -- 2 years
);

INSERT INTO pruning_jobs (table_name) SELECT 'audit_log'
    WHERE NOT EXISTS (SELECT 1 FROM pruning_jobs WHERE table_name = 'audit_log');
INSERT INTO pruning_jobs (table_name, column, ttl) SELECT 'outbound_mail', 'created', 86400
    WHERE NOT EXISTS (SELECT 1 FROM pruning_jobs WHERE table_name = 'outbound_mail');
INSERT INTO pruning_jobs (table_name, column) SELECT 'bookings', 'cancelled_at'
    WHERE NOT EXISTS (SELECT 1 FROM pruning_jobs WHERE table_name = 'bookings');
`

type Module struct {
	db *sql.DB
}

func New(db *sql.DB) *Module {
	engine.MustMigrate(db, migration)
	return &Module{db: db}
}

func (m *Module) AttachWorkers(mgr *engine.ProcMgr) {
	mgr.Add(engine.Poll(time.Hour, m.runPruneJobs))
}

func (m *Module) runPruneJobs(ctx context.Context) bool {
	jobs, err := m.listPruneJobs(ctx)
	if err != nil {
		slog.Error("failed to list prune jobs", "error", err)
		return false
	}
	for table, job := range jobs {
		m.runPruneJob(ctx, table, job)
	}
	return false
}

func (m *Module) listPruneJobs(ctx context.Context) (map[string]string, error) {
	query, err := m.db.QueryContext(ctx, "SELECT table_name, column, ttl FROM pruning_jobs")
	if err != nil {
		return nil, err
	}
	defer query.Close()

	queries := map[string]string{}
	for query.Next() {
		var table, column string
		var ttl int // seconds
		if err := query.Scan(&table, &column, &ttl); err != nil {
			return nil, err
		}

		q := fmt.Sprintf("DELETE FROM %s WHERE %s IS NOT NULL AND %s < strftime('%%s', 'now') - %d", table, column, column, ttl)
		queries[table] = q
	}

	if err := query.Err(); err != nil {
		return nil, err
	}

	return queries, nil
}

func (m *Module) runPruneJob(ctx context.Context, table, query string) {
	start := time.Now()
	result, err := m.db.ExecContext(ctx, query)
	if err != nil {
		slog.Error("failed to run prune job", "table", table, "error", err)
		return
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		slog.Info("prune job completed", "table", table, "duration", time.Since(start), "rows", rowsAffected)
	}
}
