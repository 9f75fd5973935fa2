// internal/zabbix/sync.go
package zabbix

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/signalnine/zabbix-assistant/internal/protocol"
)

const msgSynced = "Sample data synchronized successfully. Real Zabbix integration will be enabled once connection is tested."

// MirrorWriter upserts into the cached monitoring mirror
type MirrorWriter interface {
	UpsertHost(ctx context.Context, h *protocol.Host) error
	UpsertAlert(ctx context.Context, a *protocol.Alert) error
}

// Syncer fills a user's mirror. There is no live connector yet: it writes a
// fixed sample set, keyed on external ids so repeated syncs update in place.
type Syncer struct {
	mirror MirrorWriter
}

// NewSyncer creates a syncer writing to mirror
func NewSyncer(mirror MirrorWriter) *Syncer {
	return &Syncer{mirror: mirror}
}

// SampleHosts and SampleAlerts are what Sync writes
var (
	SampleHosts = []protocol.Host{
		{ExternalHostID: "1", Name: "web-server-01", Status: "active"},
		{ExternalHostID: "2", Name: "db-server-01", Status: "active"},
	}
	SampleAlerts = []protocol.Alert{
		{ExternalAlertID: "1", HostName: "web-server-01", TriggerName: "High CPU usage", Severity: "warning", Status: "active"},
	}
)

// Sync never returns an error; failures are reported in the Result.
func (s *Syncer) Sync(ctx context.Context, userID string) protocol.Result {
	for _, h := range SampleHosts {
		h.UserID = userID
		if err := s.mirror.UpsertHost(ctx, &h); err != nil {
			return syncFailed(userID, err)
		}
	}
	for _, a := range SampleAlerts {
		a.UserID = userID
		if err := s.mirror.UpsertAlert(ctx, &a); err != nil {
			return syncFailed(userID, err)
		}
	}

	log.Info().Str("user_id", userID).Int("hosts", len(SampleHosts)).Int("alerts", len(SampleAlerts)).Msg("Zabbix data synchronized")
	return protocol.Result{Success: true, Message: msgSynced}
}

func syncFailed(userID string, err error) protocol.Result {
	log.Error().Err(err).Str("user_id", userID).Msg("Zabbix sync failed")
	return protocol.Result{Success: false, Message: "Sync failed: " + err.Error()}
}
