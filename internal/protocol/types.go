// internal/protocol/types.go
package protocol

import "time"

// ChatTurn is one entry of a user's conversation log
type ChatTurn struct {
	ID         string    `json:"id"`
	UserID     string    `json:"-"`
	Text       string    `json:"text"`
	ReplyText  string    `json:"replyText"`
	CreatedAt  time.Time `json:"createdAt"`
	IsUserTurn bool      `json:"isUserTurn"`
}

// ServerConfig is a user's Zabbix server connection, at most one per user
type ServerConfig struct {
	ID          string
	UserID      string
	EndpointURL string
	Username    string
	Password    string
	Active      bool
}

// ServerConfigView is what we return to clients. The password never leaves the store.
type ServerConfigView struct {
	ID          string `json:"id"`
	EndpointURL string `json:"endpointUrl"`
	Username    string `json:"username"`
	Active      bool   `json:"active"`
}

// View strips credentials from the config
func (c *ServerConfig) View() *ServerConfigView {
	return &ServerConfigView{
		ID:          c.ID,
		EndpointURL: c.EndpointURL,
		Username:    c.Username,
		Active:      c.Active,
	}
}

// Host is a cached Zabbix host, unique per (user, external id)
type Host struct {
	UserID         string    `json:"-"`
	ExternalHostID string    `json:"hostId"`
	Name           string    `json:"hostName"`
	Status         string    `json:"status"` // "active" counts as up
	LastUpdate     time.Time `json:"lastUpdate"`
}

// Alert is a cached Zabbix problem, unique per (user, external id)
type Alert struct {
	UserID          string    `json:"-"`
	ExternalAlertID string    `json:"alertId"`
	HostName        string    `json:"hostName"`
	TriggerName     string    `json:"triggerName"`
	Severity        string    `json:"severity"`
	Status          string    `json:"status"`
	ObservedAt      time.Time `json:"observedAt"`
}

// Job statuses. pending and running are live; the rest are terminal.
const (
	JobPending  = "pending"
	JobRunning  = "running"
	JobAnswered = "answered"
	JobFallback = "fallback"
	JobFailed   = "failed"
)

// Job is the durable record of one scheduled response-generation run,
// keyed by the pending turn it answers
type Job struct {
	TurnID    string
	UserID    string
	Text      string
	Status    string
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SendMessageRequest is the body of POST /api/chat/messages
type SendMessageRequest struct {
	Message string `json:"message"`
}

// SendMessageResponse carries the id of the pending turn
type SendMessageResponse struct {
	ID string `json:"id"`
}

// ServerConfigInput is the body for saving or testing a server connection
type ServerConfigInput struct {
	EndpointURL string `json:"endpointUrl"`
	Username    string `json:"username"`
	Password    string `json:"password"`
}

// Result is returned by operations that report failure in-band
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorResponse is the JSON body of a failed API request
type ErrorResponse struct {
	Error string `json:"error"`
}
