// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Run is one recorded job execution. FinishedAt is nil while the run
// is still in flight.
type Run struct {
	ID         string     `json:"id"`
	Job        string     `json:"job"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Outcome    string     `json:"outcome,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMS int64      `json:"durationMs,omitempty"`
}

// RecordStart inserts a new in-flight run and returns its ID.
func (l *Ledger) RecordStart(ctx context.Context, job string) (string, error) {
	id := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, job, started_at) VALUES (?, ?, ?)`,
		id, job, time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("ledger: record start: %w", err)
	}
	return id, nil
}

// RecordFinish completes a run started with RecordStart. errMsg is
// empty for successful runs.
func (l *Ledger) RecordFinish(ctx context.Context, id, outcome, errMsg string, d time.Duration) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, outcome = ?, error = ?, duration_ms = ? WHERE id = ?`,
		time.Now().UnixMilli(), outcome, errMsg, d.Milliseconds(), id)
	if err != nil {
		return fmt.Errorf("ledger: record finish: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: record finish: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("ledger: unknown run %q", id)
	}
	return nil
}

// Recent returns the newest runs first, optionally filtered to one
// job. n caps the result, defaulting to 20.
func (l *Ledger) Recent(ctx context.Context, job string, n int) ([]Run, error) {
	if n <= 0 {
		n = 20
	}

	query := `SELECT id, job, started_at, finished_at, outcome, error, duration_ms FROM runs`
	args := make([]any, 0, 2)
	if job != "" {
		query += ` WHERE job = ?`
		args = append(args, job)
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, n)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0, n)
	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
			outcome  sql.NullString
			errMsg   sql.NullString
			duration sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Job, &started, &finished, &outcome, &errMsg, &duration); err != nil {
			return nil, fmt.Errorf("ledger: scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		if finished.Valid {
			t := time.UnixMilli(finished.Int64).UTC()
			r.FinishedAt = &t
		}
		r.Outcome = outcome.String
		r.Error = errMsg.String
		r.DurationMS = duration.Int64
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// LastSuccess returns when the given job last finished successfully.
// An empty job matches any job. The zero time means no success yet.
func (l *Ledger) LastSuccess(ctx context.Context, job string) (time.Time, error) {
	query := `SELECT finished_at FROM runs WHERE outcome = ?`
	args := []any{OutcomeSuccess}
	if job != "" {
		query += ` AND job = ?`
		args = append(args, job)
	}
	query += ` ORDER BY finished_at DESC, rowid DESC LIMIT 1`

	var ms int64
	err := l.db.QueryRowContext(ctx, query, args...).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("ledger: last success: %w", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// LastRun returns when the newest finished run completed and its error
// message, empty for success. The zero time means nothing finished yet.
func (l *Ledger) LastRun(ctx context.Context, job string) (time.Time, string, error) {
	query := `SELECT finished_at, error FROM runs WHERE finished_at IS NOT NULL`
	var args []any
	if job != "" {
		query += ` AND job = ?`
		args = append(args, job)
	}
	query += ` ORDER BY finished_at DESC, rowid DESC LIMIT 1`

	var (
		ms     int64
		errMsg sql.NullString
	)
	err := l.db.QueryRowContext(ctx, query, args...).Scan(&ms, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, "", nil
	}
	if err != nil {
		return time.Time{}, "", fmt.Errorf("ledger: last run: %w", err)
	}
	return time.UnixMilli(ms).UTC(), errMsg.String, nil
}

// LastRunFunc adapts the ledger to the readiness checker's feed
// signature. Query failures degrade to "no run recorded" rather than
// failing the probe.
func (l *Ledger) LastRunFunc(job string) func() (time.Time, string) {
	return func() (time.Time, string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		t, msg, err := l.LastRun(ctx, job)
		if err != nil {
			l.log.Warn().Err(err).Str("event", "ledger.query_failed").Msg("last run lookup failed")
			return time.Time{}, ""
		}
		return t, msg
	}
}

// Prune keeps the newest retain runs per job and deletes the rest,
// returning how many rows went away.
func (l *Ledger) Prune(ctx context.Context, retain int) (int64, error) {
	if retain < 1 {
		retain = 1
	}

	res, err := l.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT keep.id FROM runs AS keep
			WHERE keep.job = runs.job
			ORDER BY keep.started_at DESC, keep.rowid DESC
			LIMIT ?
		)`, retain)
	if err != nil {
		return 0, fmt.Errorf("ledger: prune: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ledger: prune: %w", err)
	}
	if deleted > 0 {
		l.log.Debug().
			Int64("deleted", deleted).
			Int("retain", retain).
			Str("event", "ledger.pruned").
			Msg("pruned old runs")
	}
	return deleted, nil
}
