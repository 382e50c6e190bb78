package pruning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xalatechnologies/roomery/engine"
)

func TestBasics(t *testing.T) {
	ctx := t.Context()
	ts := time.Now()
	db := engine.OpenTestDB(t)
	m := New(db)

	_, err := db.ExecContext(ctx, `CREATE TABLE test_items (id INTEGER PRIMARY KEY, created INTEGER)`)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO pruning_jobs (table_name) VALUES ('test_items')`)
	require.NoError(t, err)

	// 3 years in the future
	_, err = db.ExecContext(ctx, `INSERT INTO test_items (id, created) VALUES (1, ?)`, ts.Add(time.Hour*24*365*3).Unix())
	require.NoError(t, err)

	// 3 years in the past
	_, err = db.ExecContext(ctx, `INSERT INTO test_items (id, created) VALUES (2, ?)`, ts.Add(-(time.Hour * 24 * 365 * 3)).Unix())
	require.NoError(t, err)

	// 1 year in the future
	_, err = db.ExecContext(ctx, `INSERT INTO test_items (id, created) VALUES (3, ?)`, ts.Add(time.Hour*24*365).Unix())
	require.NoError(t, err)

	// 1 year in the past
	_, err = db.ExecContext(ctx, `INSERT INTO test_items (id, created) VALUES (4, ?)`, ts.Add(-(time.Hour * 24 * 365)).Unix())
	require.NoError(t, err)

	// NULL is never pruned
	_, err = db.ExecContext(ctx, `INSERT INTO test_items (id, created) VALUES (5, NULL)`)
	require.NoError(t, err)

	m.runPruneJobs(ctx)

	rows, err := db.QueryContext(ctx, `SELECT id FROM test_items ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, []int{1, 3, 4, 5}, ids)
}

func TestDefaultJobsSeeded(t *testing.T) {
	db := engine.OpenTestDB(t)
	New(db)
	New(db) // idempotent

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM pruning_jobs WHERE table_name IN ('audit_log', 'outbound_mail', 'bookings')`).Scan(&count))
	assert.Equal(t, 3, count)

	var column string
	require.NoError(t, db.QueryRow(`SELECT column FROM pruning_jobs WHERE table_name = 'bookings'`).Scan(&column))
	assert.Equal(t, "cancelled_at", column)
}
