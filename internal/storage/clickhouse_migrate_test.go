package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	statements []string
	failOn     int
}

func (r *recordingExecer) Exec(ctx context.Context, query string, args ...interface{}) error {
	r.statements = append(r.statements, query)
	if r.failOn > 0 && len(r.statements) == r.failOn {
		return errors.New("syntax error")
	}
	return nil
}

func TestSplitSQLStatements(t *testing.T) {
	script := `-- ledger
CREATE TABLE a (
    x Int64
) ENGINE = MergeTree ORDER BY x;

-- second
CREATE TABLE b (y Int64) ENGINE = Memory;
SELECT 1`

	stmts := splitSQLStatements(script)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.NotContains(t, stmts[0], ";")
	assert.Equal(t, "CREATE TABLE b (y Int64) ENGINE = Memory", stmts[1])
	assert.Equal(t, "SELECT 1", stmts[2])
}

func TestRunClickHouseMigrationsInOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "002_b.sql"), []byte("CREATE TABLE b (y Int64) ENGINE = Memory;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_a.sql"), []byte("CREATE TABLE a (x Int64) ENGINE = Memory;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	exec := &recordingExecer{}
	require.NoError(t, RunClickHouseMigrations(testContext(t), exec, dir))

	require.Len(t, exec.statements, 2)
	assert.Contains(t, exec.statements[0], "TABLE a")
	assert.Contains(t, exec.statements[1], "TABLE b")
}

func TestRunClickHouseMigrationsStopsOnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001.sql"), []byte("SELECT 1;\nSELECT 2;\nSELECT 3;"), 0o600))

	exec := &recordingExecer{failOn: 2}
	err := RunClickHouseMigrations(testContext(t), exec, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement 2 in 001.sql")
	assert.Len(t, exec.statements, 2)
}

func TestRunClickHouseMigrationsShippedFiles(t *testing.T) {
	exec := &recordingExecer{}
	require.NoError(t, RunClickHouseMigrations(testContext(t), exec, "../../migrations/clickhouse"))
	require.NotEmpty(t, exec.statements)
	assert.Contains(t, exec.statements[0], "order_events")
}

func TestRunClickHouseMigrationsMissingDir(t *testing.T) {
	err := RunClickHouseMigrations(testContext(t), &recordingExecer{}, filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
