// internal/server/server.go
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/signalnine/zabbix-assistant/internal/assistant"
	"github.com/signalnine/zabbix-assistant/internal/config"
	"github.com/signalnine/zabbix-assistant/internal/metrics"
	"github.com/signalnine/zabbix-assistant/internal/store"
	"github.com/signalnine/zabbix-assistant/internal/zabbix"
)

// Server is the assistant process: HTTP API plus background dispatcher
type Server struct {
	cfg        *config.Config
	db         *store.DB
	dispatcher *assistant.Dispatcher
	server     *http.Server
}

// NewServer wires every component from cfg
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	reg.MustRegister(metrics.NewJobCollector(db))

	if cfg.Completion.APIKey == "" {
		log.Warn().Msgf("No completion API key set (%s or %s); every reply will be the fallback", config.EnvAPIKey, config.EnvAPIKeyAlt)
	}

	completion := assistant.NewCompletionClient(cfg.Completion, m)
	pipeline := assistant.NewPipeline(assistant.NewAssembler(db), completion, db, m)
	dispatcher := assistant.NewDispatcher(db, pipeline, cfg.Dispatcher, m)
	svc := assistant.NewService(db, dispatcher, zabbix.NewProber(cfg.ProbeTimeout, m), zabbix.NewSyncer(db))

	mux := http.NewServeMux()
	NewAPI(svc, NewTokenIdentifier(cfg.Tokens()), m, cfg.MaxPayloadBytes).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		cfg:        cfg,
		db:         db,
		dispatcher: dispatcher,
		server:     server,
	}, nil
}

// Handler exposes the routing table, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is cancelled, then drains HTTP and waits for
// in-flight pipeline runs before closing the database.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.db.Close()

	useTLS := s.cfg.TLSCert != ""
	if useTLS {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCert, s.cfg.TLSKey)
		if err != nil {
			ln.Close()
			return fmt.Errorf("load TLS cert: %w", err)
		}
		s.server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	log.Info().Str("addr", ln.Addr().String()).Bool("tls", useTLS).Msg("Assistant starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.dispatcher.Run(gctx)
	})
	g.Go(func() error {
		var err error
		if useTLS {
			err = s.server.ServeTLS(ln, "", "")
		} else {
			err = s.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Assistant shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
