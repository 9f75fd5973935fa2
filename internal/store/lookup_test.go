// internal/store/lookup_test.go
package store

import (
	"context"

	"github.com/signalnine/zabbix-assistant/internal/protocol"
)

func getJob(ctx context.Context, d *DB, turnID string) (*protocol.Job, error) {
	jobs, err := d.queryJobs(ctx, `WHERE turn_id = ?`, turnID)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrNotFound
	}
	return &jobs[0], nil
}

func countServerConfigs(ctx context.Context, d *DB, userID string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM server_configs WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}
