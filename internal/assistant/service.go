// internal/assistant/service.go
package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/signalnine/zabbix-assistant/internal/protocol"
	"github.com/signalnine/zabbix-assistant/internal/store"
)

// HistoryLimit is how many turns a history read returns
const HistoryLimit = 50

// Store is the persistence the user-facing operations need
type Store interface {
	AppendUserTurn(ctx context.Context, t *protocol.ChatTurn) (*protocol.Job, error)
	RecentTurns(ctx context.Context, userID string, limit int) ([]protocol.ChatTurn, error)
	UpsertServerConfig(ctx context.Context, c *protocol.ServerConfig) error
	GetServerConfig(ctx context.Context, userID string) (*protocol.ServerConfig, error)
}

// Scheduler hands a persisted job to background workers
type Scheduler interface {
	Schedule(job protocol.Job)
}

// Prober tests a Zabbix connection
type Prober interface {
	Probe(ctx context.Context, in protocol.ServerConfigInput) protocol.Result
}

// Syncer refreshes a user's cached monitoring data
type Syncer interface {
	Sync(ctx context.Context, userID string) protocol.Result
}

// Service is the user-facing surface. Every operation takes the caller's
// identity explicitly; an empty userID is unauthenticated.
type Service struct {
	store     Store
	scheduler Scheduler
	prober    Prober
	syncer    Syncer
}

// NewService wires a service
func NewService(s Store, scheduler Scheduler, prober Prober, syncer Syncer) *Service {
	return &Service{
		store:     s,
		scheduler: scheduler,
		prober:    prober,
		syncer:    syncer,
	}
}

// SendMessage stores the user's turn, schedules its answer and returns the
// pending turn id without waiting for the answer.
func (s *Service) SendMessage(ctx context.Context, userID, text string) (string, error) {
	if userID == "" {
		return "", ErrUnauthenticated
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyMessage
	}

	job, err := s.store.AppendUserTurn(ctx, &protocol.ChatTurn{
		UserID:     userID,
		Text:       text,
		IsUserTurn: true,
	})
	if err != nil {
		return "", fmt.Errorf("store message: %w", err)
	}

	s.scheduler.Schedule(*job)
	log.Debug().Str("turn_id", job.TurnID).Str("user_id", userID).Msg("Message scheduled")
	return job.TurnID, nil
}

// History returns the caller's most recent turns, oldest first
func (s *Service) History(ctx context.Context, userID string) ([]protocol.ChatTurn, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	turns, err := s.store.RecentTurns(ctx, userID, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if turns == nil {
		turns = []protocol.ChatTurn{}
	}
	return turns, nil
}

// SaveServerConfig creates or replaces the caller's server config and marks it active
func (s *Service) SaveServerConfig(ctx context.Context, userID string, in protocol.ServerConfigInput) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	if err := validateEndpoint(in.EndpointURL); err != nil {
		return err
	}

	err := s.store.UpsertServerConfig(ctx, &protocol.ServerConfig{
		UserID:      userID,
		EndpointURL: strings.TrimSpace(in.EndpointURL),
		Username:    in.Username,
		Password:    in.Password,
		Active:      true,
	})
	if err != nil {
		return fmt.Errorf("save server config: %w", err)
	}
	return nil
}

// ServerConfig returns the caller's config without its password, or nil if none is saved
func (s *Service) ServerConfig(ctx context.Context, userID string) (*protocol.ServerConfigView, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	cfg, err := s.store.GetServerConfig(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load server config: %w", err)
	}
	return cfg.View(), nil
}

// TestConnection probes a Zabbix server. The outcome is reported in-band.
func (s *Service) TestConnection(ctx context.Context, userID string, in protocol.ServerConfigInput) (protocol.Result, error) {
	if userID == "" {
		return protocol.Result{}, ErrUnauthenticated
	}
	return s.prober.Probe(ctx, in), nil
}

// SyncData refreshes the caller's cached hosts and alerts. The outcome is reported in-band.
func (s *Service) SyncData(ctx context.Context, userID string) (protocol.Result, error) {
	if userID == "" {
		return protocol.Result{}, ErrUnauthenticated
	}
	return s.syncer.Sync(ctx, userID), nil
}

func validateEndpoint(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: endpoint URL is required", ErrInvalidConfig)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: endpoint URL must be an absolute http(s) URL", ErrInvalidConfig)
	}
	return nil
}
