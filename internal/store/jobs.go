// internal/store/jobs.go
package store

import (
	"context"
	"time"

	"github.com/signalnine/zabbix-assistant/internal/protocol"
)

// ClaimJob moves a pending job to running. It reports false when the job is
// missing or another worker already claimed it.
func (d *DB) ClaimJob(ctx context.Context, turnID string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE turn_id = ? AND status = ?
	`, protocol.JobRunning, toUnix(time.Now()), turnID, protocol.JobPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinishJob records a job's terminal status
func (d *DB) FinishJob(ctx context.Context, turnID, status string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ? WHERE turn_id = ?
	`, status, toUnix(time.Now()), turnID)
	return err
}

// PendingJobs returns up to limit unclaimed jobs, oldest first
func (d *DB) PendingJobs(ctx context.Context, limit int) ([]protocol.Job, error) {
	return d.queryJobs(ctx, `WHERE status = ? ORDER BY created_at LIMIT ?`, protocol.JobPending, limit)
}

// ResetRunningJobs returns jobs interrupted mid-run (by a crash or kill) to
// pending. Call it once before workers start.
func (d *DB) ResetRunningJobs(ctx context.Context) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?
	`, protocol.JobPending, toUnix(time.Now()), protocol.JobRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// JobStatusCounts returns count of jobs by status
func (d *DB) JobStatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (d *DB) queryJobs(ctx context.Context, where string, args ...any) ([]protocol.Job, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT turn_id, user_id, text, status, attempts, created_at, updated_at
		FROM jobs `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []protocol.Job
	for rows.Next() {
		var j protocol.Job
		var created, updated int64
		if err := rows.Scan(&j.TurnID, &j.UserID, &j.Text, &j.Status, &j.Attempts, &created, &updated); err != nil {
			return nil, err
		}
		j.CreatedAt = fromUnix(created)
		j.UpdatedAt = fromUnix(updated)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
