// SPDX-License-Identifier: MIT

package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execLogContains(calls []string, sub string) bool {
	for _, c := range calls {
		if strings.Contains(c, sub) {
			return true
		}
	}
	return false
}

func TestMigrate_AppliesAllSteps(t *testing.T) {
	fc := newFakeConn()
	database := openFake(t, testConfig(), fc)

	require.NoError(t, Migrate(context.Background(), database))

	calls := fc.execCalls()
	assert.True(t, execLogContains(calls, "pg_advisory_lock"), "must take the advisory lock")
	assert.True(t, execLogContains(calls, "pg_advisory_unlock"), "must release the advisory lock")
	assert.True(t, execLogContains(calls, "CREATE TABLE IF NOT EXISTS schema_migrations"))
	assert.True(t, execLogContains(calls, "CREATE TABLE IF NOT EXISTS items"))
	assert.True(t, execLogContains(calls, "idx_items_created_at"))
	assert.True(t, execLogContains(calls, "idx_items_name"))

	require.Len(t, fc.txs, len(migrations), "one transaction per step")
	for _, tx := range fc.txs {
		assert.True(t, tx.committed)
	}
}

func TestMigrate_SkipsAppliedSteps(t *testing.T) {
	fc := newFakeConn()
	fc.applied["001_create_items"] = true
	database := openFake(t, testConfig(), fc)

	require.NoError(t, Migrate(context.Background(), database))

	calls := fc.execCalls()
	assert.False(t, execLogContains(calls, "CREATE TABLE IF NOT EXISTS items"), "applied step must not rerun")
	assert.True(t, execLogContains(calls, "idx_items_created_at"))
	assert.Len(t, fc.txs, len(migrations)-1)
}

func TestMigrate_Idempotent(t *testing.T) {
	fc := newFakeConn()
	for _, step := range migrations {
		fc.applied[step.Name] = true
	}
	database := openFake(t, testConfig(), fc)

	require.NoError(t, Migrate(context.Background(), database))
	assert.Empty(t, fc.txs, "nothing to apply on a current schema")
}

func TestMigrate_LockFailure(t *testing.T) {
	fc := newFakeConn()
	fc.execErr["pg_advisory_lock"] = errors.New("connection reset")
	database := openFake(t, testConfig(), fc)

	err := Migrate(context.Background(), database)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration lock")
}

func TestMigrate_StepFailureRollsBack(t *testing.T) {
	fc := newFakeConn()
	fc.execErr["idx_items_name"] = errors.New("syntax error")
	database := openFake(t, testConfig(), fc)

	err := Migrate(context.Background(), database)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "003_unique_items_name")

	// Two steps committed before the failing one rolled back.
	require.Len(t, fc.txs, 3)
	assert.True(t, fc.txs[0].committed)
	assert.True(t, fc.txs[1].committed)
	assert.True(t, fc.txs[2].rolledBack)
	assert.True(t, execLogContains(fc.execCalls(), "pg_advisory_unlock"), "lock released even on failure")
}
