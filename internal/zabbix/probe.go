// internal/zabbix/probe.go
package zabbix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/signalnine/zabbix-assistant/internal/metrics"
	"github.com/signalnine/zabbix-assistant/internal/protocol"
)

// UserAgent identifies probe requests to the Zabbix server
const UserAgent = "Zabbix-AI-Assistant/1.0"

const (
	msgConnected   = "Connection successful!"
	msgForbidden   = "Access forbidden. Check Zabbix server configuration and firewall settings."
	msgNotFound    = "Zabbix API not found. Verify the server URL is correct."
	msgAuthFailed  = "Authentication failed"
	msgNetwork     = "Network error. Check if Zabbix server is accessible and CORS is configured."
	failurePrefix  = "Connection failed: "
	jsonRPCVersion = "2.0"
)

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
	ID      int            `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    string `json:"data"`
	} `json:"error"`
}

// probeError carries the user-facing reason a probe failed
type probeError struct {
	msg string
}

func (e *probeError) Error() string { return e.msg }

// Prober tests whether a Zabbix API accepts a login
type Prober struct {
	client  *http.Client
	metrics *metrics.Metrics
}

// NewProber creates a prober whose requests time out after timeout
func NewProber(timeout time.Duration, m *metrics.Metrics) *Prober {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Prober{
		client:  &http.Client{Timeout: timeout},
		metrics: m,
	}
}

// Probe posts a user.login call to <endpointUrl>/api_jsonrpc.php. It never
// returns an error: every outcome is a Result the UI can render.
func (p *Prober) Probe(ctx context.Context, in protocol.ServerConfigInput) protocol.Result {
	err := p.login(ctx, in)
	p.metrics.ProbeResult(err == nil)
	if err == nil {
		return protocol.Result{Success: true, Message: msgConnected}
	}

	log.Info().Err(err).Str("endpoint", in.EndpointURL).Msg("Zabbix connection test failed")

	var pe *probeError
	if errors.As(err, &pe) {
		return protocol.Result{Success: false, Message: failurePrefix + pe.msg}
	}
	return protocol.Result{Success: false, Message: failurePrefix + msgNetwork}
}

func (p *Prober) login(ctx context.Context, in protocol.ServerConfigInput) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: jsonRPCVersion,
		Method:  "user.login",
		Params: map[string]any{
			"user":     in.Username,
			"password": in.Password,
		},
		ID: 1,
	})
	if err != nil {
		return &probeError{msg: err.Error()}
	}

	url := strings.TrimSuffix(strings.TrimSpace(in.EndpointURL), "/") + "/api_jsonrpc.php"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &probeError{msg: fmt.Sprintf("invalid server URL: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		// Transport failures map to the generic network message
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		switch resp.StatusCode {
		case http.StatusForbidden:
			return &probeError{msg: msgForbidden}
		case http.StatusNotFound:
			return &probeError{msg: msgNotFound}
		default:
			return &probeError{msg: fmt.Sprintf("HTTP error! status: %d", resp.StatusCode)}
		}
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return &probeError{msg: fmt.Sprintf("invalid JSON-RPC response: %v", err)}
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Data != "" {
			return &probeError{msg: rpcResp.Error.Data}
		}
		return &probeError{msg: msgAuthFailed}
	}
	return nil
}
