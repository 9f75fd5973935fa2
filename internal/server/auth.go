// internal/server/auth.go
package server

import (
	"net/http"
	"strings"

	"github.com/signalnine/zabbix-assistant/internal/assistant"
)

// Identifier resolves the caller of a request to a user id
type Identifier interface {
	Identify(r *http.Request) (string, error)
}

// TokenIdentifier maps static bearer tokens to user ids
type TokenIdentifier struct {
	tokens map[string]string
}

// NewTokenIdentifier creates an identifier from a token to user id table
func NewTokenIdentifier(tokens map[string]string) *TokenIdentifier {
	return &TokenIdentifier{tokens: tokens}
}

// Identify returns assistant.ErrUnauthenticated for a missing or unknown token
func (t *TokenIdentifier) Identify(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", assistant.ErrUnauthenticated
	}
	userID, ok := t.tokens[strings.TrimPrefix(auth, "Bearer ")]
	if !ok || userID == "" {
		return "", assistant.ErrUnauthenticated
	}
	return userID, nil
}
