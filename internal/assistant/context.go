// internal/assistant/context.go
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/signalnine/zabbix-assistant/internal/protocol"
	"github.com/signalnine/zabbix-assistant/internal/store"
)

// Caps on what goes into the prompt. They bound prompt size; they are not a
// summary of all cached data.
const (
	MaxContextAlerts = 10
	MaxContextHosts  = 20
)

// NoServerContext is the whole snapshot for a user without an active server
const NoServerContext = "Zabbix Server Status:\n- No Zabbix server configured\n"

// MonitoringReader is read access to the cached monitoring mirror
type MonitoringReader interface {
	GetServerConfig(ctx context.Context, userID string) (*protocol.ServerConfig, error)
	ListHosts(ctx context.Context, userID string, limit int) ([]protocol.Host, error)
	RecentAlerts(ctx context.Context, userID string, limit int) ([]protocol.Alert, error)
}

// Assembler renders a user's cached monitoring state into the snapshot text
// handed to the model
type Assembler struct {
	reader MonitoringReader
}

// NewAssembler creates an assembler over reader
func NewAssembler(reader MonitoringReader) *Assembler {
	return &Assembler{reader: reader}
}

// Assemble never fails: missing or unreadable data degrades to explanatory text.
func (a *Assembler) Assemble(ctx context.Context, userID string) string {
	cfg, err := a.reader.GetServerConfig(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn().Err(err).Str("user_id", userID).Msg("Read server config for context")
	}
	if err != nil || cfg == nil || !cfg.Active {
		return NoServerContext
	}

	hosts, err := a.reader.ListHosts(ctx, userID, MaxContextHosts)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Read hosts for context")
		hosts = nil
	}
	alerts, err := a.reader.RecentAlerts(ctx, userID, MaxContextAlerts)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Read alerts for context")
		alerts = nil
	}
	if len(alerts) > MaxContextAlerts {
		alerts = alerts[:MaxContextAlerts]
	}
	if len(hosts) > MaxContextHosts {
		hosts = hosts[:MaxContextHosts]
	}

	var b strings.Builder
	b.WriteString("Zabbix Server Status:\n")
	fmt.Fprintf(&b, "- Server: %s\n", cfg.EndpointURL)
	fmt.Fprintf(&b, "- Total Hosts: %d\n", len(hosts))

	if len(alerts) > 0 {
		fmt.Fprintf(&b, "\nRecent Alerts (%d):\n", len(alerts))
		for _, alert := range alerts {
			fmt.Fprintf(&b, "- %s\n", FormatAlert(alert))
		}
	} else {
		b.WriteString("\nNo recent alerts\n")
	}

	active := 0
	for _, h := range hosts {
		if h.Status == "active" {
			active++
		}
	}
	b.WriteString("\nHosts Status:\n")
	fmt.Fprintf(&b, "- Active: %d\n", active)
	fmt.Fprintf(&b, "- Total: %d\n", len(hosts))

	return b.String()
}

// FormatAlert renders an alert as "hostName: triggerName (severity)"
func FormatAlert(a protocol.Alert) string {
	return fmt.Sprintf("%s: %s (%s)", a.HostName, a.TriggerName, a.Severity)
}
