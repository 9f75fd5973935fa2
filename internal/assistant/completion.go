// internal/assistant/completion.go
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/signalnine/zabbix-assistant/internal/config"
	"github.com/signalnine/zabbix-assistant/internal/metrics"
)

// EmptyCompletionReply stands in for a completion with no content
const EmptyCompletionReply = "I'm sorry, I couldn't generate a response."

const systemPromptTemplate = `You are a helpful Zabbix monitoring assistant. You help users understand their Zabbix server data, alerts, and monitoring status.

Current Zabbix context:
%s

Provide helpful, accurate responses about Zabbix monitoring data. If you don't have specific data, explain what information would be helpful and how to configure Zabbix integration.`

// maxErrorBody caps how much of an upstream error body ends up in logs
const maxErrorBody = 512

// SystemPrompt embeds the snapshot verbatim in the fixed instruction
func SystemPrompt(contextText string) string {
	return fmt.Sprintf(systemPromptTemplate, contextText)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// CompletionClient calls an OpenAI-compatible chat completions endpoint
type CompletionClient struct {
	cfg     config.CompletionConfig
	client  *http.Client
	metrics *metrics.Metrics
}

// NewCompletionClient creates a client. Sampling parameters come from cfg only.
func NewCompletionClient(cfg config.CompletionConfig, m *metrics.Metrics) *CompletionClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CompletionClient{
		cfg:     cfg,
		metrics: m,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
			},
		},
	}
}

// Complete sends one system+user prompt and returns the reply text.
// It makes exactly one request and never retries.
func (c *CompletionClient) Complete(ctx context.Context, userText, contextText string) (string, error) {
	if c.cfg.APIKey == "" {
		c.metrics.CompletionCall(0, errorKind(ErrUpstreamUnavailable))
		return "", ErrUpstreamUnavailable
	}

	start := time.Now()
	reply, err := c.do(ctx, userText, contextText)
	c.metrics.CompletionCall(time.Since(start).Seconds(), errorKind(err))
	return reply, err
}

func (c *CompletionClient) do(ctx context.Context, userText, contextText string) (string, error) {
	bodyBytes, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt(contextText)},
			{Role: "user", Content: userText},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}

	baseURL := c.cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}
	url := strings.TrimSuffix(baseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", &UpstreamError{Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &UpstreamError{Err: fmt.Errorf("connection failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", &UpstreamError{Err: fmt.Errorf("decode response: %w", err)}
	}

	if len(apiResp.Choices) == 0 || apiResp.Choices[0].Message.Content == "" {
		return EmptyCompletionReply, nil
	}
	return apiResp.Choices[0].Message.Content, nil
}
