// internal/server/handler.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/signalnine/zabbix-assistant/internal/assistant"
	"github.com/signalnine/zabbix-assistant/internal/logging"
	"github.com/signalnine/zabbix-assistant/internal/metrics"
	"github.com/signalnine/zabbix-assistant/internal/protocol"
)

// ChatService is the user-facing operation set the API exposes
type ChatService interface {
	SendMessage(ctx context.Context, userID, text string) (string, error)
	History(ctx context.Context, userID string) ([]protocol.ChatTurn, error)
	SaveServerConfig(ctx context.Context, userID string, in protocol.ServerConfigInput) error
	ServerConfig(ctx context.Context, userID string) (*protocol.ServerConfigView, error)
	TestConnection(ctx context.Context, userID string, in protocol.ServerConfigInput) (protocol.Result, error)
	SyncData(ctx context.Context, userID string) (protocol.Result, error)
}

var errPayloadTooLarge = errors.New("request entity too large")

// API serves the /api routes
type API struct {
	svc             ChatService
	ident           Identifier
	metrics         *metrics.Metrics
	maxPayloadBytes int64
}

// NewAPI creates the API handler set
func NewAPI(svc ChatService, ident Identifier, m *metrics.Metrics, maxPayloadBytes int64) *API {
	return &API{
		svc:             svc,
		ident:           ident,
		metrics:         m,
		maxPayloadBytes: maxPayloadBytes,
	}
}

// Register mounts the API on mux
func (a *API) Register(mux *http.ServeMux) {
	a.handle(mux, "POST /api/chat/messages", a.sendMessage)
	a.handle(mux, "GET /api/chat/messages", a.history)
	a.handle(mux, "PUT /api/zabbix/config", a.saveConfig)
	a.handle(mux, "GET /api/zabbix/config", a.getConfig)
	a.handle(mux, "POST /api/zabbix/test", a.testConnection)
	a.handle(mux, "POST /api/zabbix/sync", a.sync)
}

type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

// handle wraps h with request logging, metrics and caller identification.
// Identification fails before h runs, so unauthenticated calls never write.
func (a *API) handle(mux *http.ServeMux, pattern string, h authedHandler) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, requestID := logging.WithRequestID(r.Context(), r.Header.Get("X-Request-ID"))
		r = r.WithContext(ctx)
		w.Header().Set("X-Request-ID", requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if userID, err := a.ident.Identify(r); err != nil {
			writeError(rec, http.StatusUnauthorized, "unauthenticated")
		} else {
			h(rec, r, userID)
		}

		a.metrics.HTTPRequest(pattern, strconv.Itoa(rec.status))
		logger := logging.FromContext(ctx)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func (a *API) sendMessage(w http.ResponseWriter, r *http.Request, userID string) {
	var req protocol.SendMessageRequest
	if err := a.decode(r, &req); err != nil {
		a.decodeError(w, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	id, err := a.svc.SendMessage(r.Context(), userID, req.Message)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, protocol.SendMessageResponse{ID: id})
}

func (a *API) history(w http.ResponseWriter, r *http.Request, userID string) {
	turns, err := a.svc.History(r.Context(), userID)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, turns)
}

func (a *API) saveConfig(w http.ResponseWriter, r *http.Request, userID string) {
	var in protocol.ServerConfigInput
	if err := a.decode(r, &in); err != nil {
		a.decodeError(w, err)
		return
	}
	if err := a.svc.SaveServerConfig(r.Context(), userID, in); err != nil {
		a.serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getConfig(w http.ResponseWriter, r *http.Request, userID string) {
	view, err := a.svc.ServerConfig(r.Context(), userID)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	// A missing config encodes as JSON null
	writeJSON(w, http.StatusOK, view)
}

func (a *API) testConnection(w http.ResponseWriter, r *http.Request, userID string) {
	var in protocol.ServerConfigInput
	if err := a.decode(r, &in); err != nil {
		a.decodeError(w, err)
		return
	}
	res, err := a.svc.TestConnection(r.Context(), userID, in)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) sync(w http.ResponseWriter, r *http.Request, userID string) {
	res, err := a.svc.SyncData(r.Context(), userID)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decode reads a JSON body of at most maxPayloadBytes
func (a *API) decode(r *http.Request, v any) error {
	if r.ContentLength > a.maxPayloadBytes {
		return errPayloadTooLarge
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, a.maxPayloadBytes+1))
	if err != nil {
		return err
	}
	if int64(len(body)) > a.maxPayloadBytes {
		return errPayloadTooLarge
	}
	return json.Unmarshal(body, v)
}

func (a *API) decodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errPayloadTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request entity too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid JSON")
}

func (a *API) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, assistant.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated")
	case errors.Is(err, assistant.ErrEmptyMessage), errors.Is(err, assistant.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
