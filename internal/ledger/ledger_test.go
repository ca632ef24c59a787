// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	led, err := Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = led.Close() })
	return led
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ", DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path required")
}

func TestRecordAndRecent(t *testing.T) {
	led := openTestLedger(t)
	ctx := context.Background()

	first, err := led.RecordStart(ctx, "items.purge")
	require.NoError(t, err)
	require.NoError(t, led.RecordFinish(ctx, first, OutcomeSuccess, "", 40*time.Millisecond))

	second, err := led.RecordStart(ctx, "ledger.prune")
	require.NoError(t, err)

	all, err := led.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)

	// Newest first.
	assert.Equal(t, second, all[0].ID)
	assert.Equal(t, "ledger.prune", all[0].Job)
	assert.Nil(t, all[0].FinishedAt)
	assert.Empty(t, all[0].Outcome)

	assert.Equal(t, first, all[1].ID)
	assert.Equal(t, OutcomeSuccess, all[1].Outcome)
	assert.NotNil(t, all[1].FinishedAt)
	assert.Equal(t, int64(40), all[1].DurationMS)

	purges, err := led.Recent(ctx, "items.purge", 10)
	require.NoError(t, err)
	require.Len(t, purges, 1)
	assert.Equal(t, first, purges[0].ID)
}

func TestRecentHonorsLimit(t *testing.T) {
	led := openTestLedger(t)
	ctx := context.Background()

	for range 5 {
		_, err := led.RecordStart(ctx, "items.purge")
		require.NoError(t, err)
	}

	runs, err := led.Recent(ctx, "", 3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestRecordFinishUnknownRun(t *testing.T) {
	led := openTestLedger(t)

	err := led.RecordFinish(context.Background(), "no-such-run", OutcomeFailure, "boom", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown run")
}

func TestLastSuccess(t *testing.T) {
	led := openTestLedger(t)
	ctx := context.Background()

	ts, err := led.LastSuccess(ctx, "items.purge")
	require.NoError(t, err)
	assert.True(t, ts.IsZero())

	failed, err := led.RecordStart(ctx, "items.purge")
	require.NoError(t, err)
	require.NoError(t, led.RecordFinish(ctx, failed, OutcomeFailure, "boom", time.Millisecond))

	ts, err = led.LastSuccess(ctx, "items.purge")
	require.NoError(t, err)
	assert.True(t, ts.IsZero(), "failed runs do not count as success")

	ok, err := led.RecordStart(ctx, "items.purge")
	require.NoError(t, err)
	require.NoError(t, led.RecordFinish(ctx, ok, OutcomeSuccess, "", time.Millisecond))

	ts, err = led.LastSuccess(ctx, "items.purge")
	require.NoError(t, err)
	assert.False(t, ts.IsZero())
	assert.WithinDuration(t, time.Now(), ts, 5*time.Second)

	other, err := led.LastSuccess(ctx, "ledger.prune")
	require.NoError(t, err)
	assert.True(t, other.IsZero(), "success filter is per job")
}

func TestLastRunReportsNewestFinish(t *testing.T) {
	led := openTestLedger(t)
	ctx := context.Background()

	ts, msg, err := led.LastRun(ctx, "")
	require.NoError(t, err)
	assert.True(t, ts.IsZero())
	assert.Empty(t, msg)

	failed, err := led.RecordStart(ctx, "items.purge")
	require.NoError(t, err)
	require.NoError(t, led.RecordFinish(ctx, failed, OutcomeFailure, "connection refused", time.Millisecond))

	ts, msg, err = led.LastRun(ctx, "")
	require.NoError(t, err)
	assert.False(t, ts.IsZero())
	assert.Equal(t, "connection refused", msg)

	time.Sleep(3 * time.Millisecond)

	ok, err := led.RecordStart(ctx, "ledger.prune")
	require.NoError(t, err)
	require.NoError(t, led.RecordFinish(ctx, ok, OutcomeSuccess, "", time.Millisecond))

	ts, msg, err = led.LastRun(ctx, "")
	require.NoError(t, err)
	assert.False(t, ts.IsZero())
	assert.Empty(t, msg, "newest finish is the successful one")
}

func TestLastRunFunc(t *testing.T) {
	led := openTestLedger(t)
	ctx := context.Background()

	feed := led.LastRunFunc("")

	ts, msg := feed()
	assert.True(t, ts.IsZero())
	assert.Empty(t, msg)

	id, err := led.RecordStart(ctx, "items.purge")
	require.NoError(t, err)
	require.NoError(t, led.RecordFinish(ctx, id, OutcomeFailure, "boom", time.Millisecond))

	ts, msg = feed()
	assert.False(t, ts.IsZero())
	assert.Equal(t, "boom", msg)
}

func TestPruneKeepsNewestPerJob(t *testing.T) {
	led := openTestLedger(t)
	ctx := context.Background()

	ids := map[string][]string{}
	for _, job := range []string{"items.purge", "ledger.prune"} {
		for range 5 {
			id, err := led.RecordStart(ctx, job)
			require.NoError(t, err)
			require.NoError(t, led.RecordFinish(ctx, id, OutcomeSuccess, "", time.Millisecond))
			ids[job] = append(ids[job], id)
		}
	}

	deleted, err := led.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(6), deleted)

	for job, all := range ids {
		kept, err := led.Recent(ctx, job, 10)
		require.NoError(t, err)
		require.Len(t, kept, 2, "job %s", job)
		assert.Equal(t, all[4], kept[0].ID)
		assert.Equal(t, all[3], kept[1].ID)
	}

	// Idempotent once trimmed.
	deleted, err = led.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestPruneClampsRetain(t *testing.T) {
	led := openTestLedger(t)
	ctx := context.Background()

	for range 3 {
		_, err := led.RecordStart(ctx, "items.purge")
		require.NoError(t, err)
	}

	deleted, err := led.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	led, err := Open(ctx, path, DefaultConfig())
	require.NoError(t, err)
	id, err := led.RecordStart(ctx, "items.purge")
	require.NoError(t, err)
	require.NoError(t, led.RecordFinish(ctx, id, OutcomeSuccess, "", time.Millisecond))
	require.NoError(t, led.Close())

	led, err = Open(ctx, path, DefaultConfig())
	require.NoError(t, err)
	defer led.Close()

	runs, err := led.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
}

func TestVerifyHealthy(t *testing.T) {
	led := openTestLedger(t)
	ctx := context.Background()

	id, err := led.RecordStart(ctx, "items.purge")
	require.NoError(t, err)
	require.NoError(t, led.RecordFinish(ctx, id, OutcomeSuccess, "", time.Millisecond))

	for _, full := range []bool{false, true} {
		issues, err := led.Verify(ctx, full)
		require.NoError(t, err)
		assert.Empty(t, issues)
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	led, err := Open(ctx, path, DefaultConfig())
	require.NoError(t, err)

	// Enough rows to push data pages past the file header.
	filler := strings.Repeat("x", 256)
	for range 500 {
		id, err := led.RecordStart(ctx, "items.purge")
		require.NoError(t, err)
		require.NoError(t, led.RecordFinish(ctx, id, OutcomeFailure, filler, time.Millisecond))
	}
	require.NoError(t, led.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(8192), "need multiple pages to corrupt")

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	garbage := make([]byte, 512)
	for i := range garbage {
		garbage[i] = 0xFF
	}
	_, err = f.WriteAt(garbage, 4096)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	led, err = Open(ctx, path, DefaultConfig())
	require.NoError(t, err, "open only warns on integrity issues")
	defer led.Close()

	issues, err := led.Verify(ctx, true)
	healthy := err == nil && len(issues) == 0
	assert.False(t, healthy, "corrupted database must not verify clean")
}
