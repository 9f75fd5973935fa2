// internal/store/monitoring.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/signalnine/zabbix-assistant/internal/protocol"
)

// UpsertServerConfig creates or replaces the user's single server config.
// An existing record keeps its id.
func (d *DB) UpsertServerConfig(ctx context.Context, c *protocol.ServerConfig) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO server_configs (id, user_id, endpoint_url, username, password, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			endpoint_url = excluded.endpoint_url,
			username = excluded.username,
			password = excluded.password,
			active = excluded.active
	`, c.ID, c.UserID, c.EndpointURL, c.Username, c.Password, boolToInt(c.Active))
	if err != nil {
		return fmt.Errorf("upsert server config: %w", err)
	}
	return nil
}

// GetServerConfig returns the user's server config or ErrNotFound
func (d *DB) GetServerConfig(ctx context.Context, userID string) (*protocol.ServerConfig, error) {
	var c protocol.ServerConfig
	var active int
	err := d.db.QueryRowContext(ctx, `
		SELECT id, user_id, endpoint_url, username, password, active
		FROM server_configs
		WHERE user_id = ?
	`, userID).Scan(&c.ID, &c.UserID, &c.EndpointURL, &c.Username, &c.Password, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Active = active != 0
	return &c, nil
}

// UpsertHost inserts or updates a host keyed on (user, external host id).
// LastUpdate defaults to now.
func (d *DB) UpsertHost(ctx context.Context, h *protocol.Host) error {
	if h.LastUpdate.IsZero() {
		h.LastUpdate = time.Now().UTC()
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO hosts (user_id, external_host_id, name, status, last_update)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, external_host_id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			last_update = excluded.last_update
	`, h.UserID, h.ExternalHostID, h.Name, h.Status, toUnix(h.LastUpdate))
	if err != nil {
		return fmt.Errorf("upsert host %s: %w", h.ExternalHostID, err)
	}
	return nil
}

// ListHosts returns up to limit hosts for a user in insertion order
func (d *DB) ListHosts(ctx context.Context, userID string, limit int) ([]protocol.Host, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT user_id, external_host_id, name, status, last_update
		FROM hosts
		WHERE user_id = ?
		ORDER BY rowid
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hosts []protocol.Host
	for rows.Next() {
		var h protocol.Host
		var updated int64
		if err := rows.Scan(&h.UserID, &h.ExternalHostID, &h.Name, &h.Status, &updated); err != nil {
			return nil, err
		}
		h.LastUpdate = fromUnix(updated)
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// UpsertAlert inserts or updates an alert keyed on (user, external alert id).
// ObservedAt defaults to now.
func (d *DB) UpsertAlert(ctx context.Context, a *protocol.Alert) error {
	if a.ObservedAt.IsZero() {
		a.ObservedAt = time.Now().UTC()
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO alerts (user_id, external_alert_id, host_name, trigger_name, severity, status, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, external_alert_id) DO UPDATE SET
			host_name = excluded.host_name,
			trigger_name = excluded.trigger_name,
			severity = excluded.severity,
			status = excluded.status,
			observed_at = excluded.observed_at
	`, a.UserID, a.ExternalAlertID, a.HostName, a.TriggerName, a.Severity, a.Status, toUnix(a.ObservedAt))
	if err != nil {
		return fmt.Errorf("upsert alert %s: %w", a.ExternalAlertID, err)
	}
	return nil
}

// RecentAlerts returns up to limit alerts for a user, most recently observed first
func (d *DB) RecentAlerts(ctx context.Context, userID string, limit int) ([]protocol.Alert, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT user_id, external_alert_id, host_name, trigger_name, severity, status, observed_at
		FROM alerts
		WHERE user_id = ?
		ORDER BY observed_at DESC, rowid DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []protocol.Alert
	for rows.Next() {
		var a protocol.Alert
		var observed int64
		if err := rows.Scan(&a.UserID, &a.ExternalAlertID, &a.HostName, &a.TriggerName, &a.Severity, &a.Status, &observed); err != nil {
			return nil, err
		}
		a.ObservedAt = fromUnix(observed)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
