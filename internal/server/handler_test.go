// internal/server/handler_test.go
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalnine/zabbix-assistant/internal/assistant"
	"github.com/signalnine/zabbix-assistant/internal/protocol"
	"github.com/signalnine/zabbix-assistant/internal/store"
	"github.com/signalnine/zabbix-assistant/internal/zabbix"
)

type nopScheduler struct {
	jobs []protocol.Job
}

func (s *nopScheduler) Schedule(job protocol.Job) { s.jobs = append(s.jobs, job) }

func newTestAPI(t *testing.T, maxPayload int64) (http.Handler, *store.DB, *nopScheduler) {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sched := &nopScheduler{}
	svc := assistant.NewService(db, sched, zabbix.NewProber(0, nil), zabbix.NewSyncer(db))
	mux := http.NewServeMux()
	NewAPI(svc, NewTokenIdentifier(map[string]string{"secret": "alice"}), nil, maxPayload).Register(mux)
	return mux, db, sched
}

func doRequest(h http.Handler, method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPIAuth(t *testing.T) {
	h, db, sched := newTestAPI(t, 1<<20)
	body := []byte(`{"message": "hi"}`)

	// No auth header
	rec := doRequest(h, "POST", "/api/chat/messages", "", body)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	// Wrong auth
	rec = doRequest(h, "POST", "/api/chat/messages", "wrong-key", body)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	if len(sched.jobs) != 0 {
		t.Errorf("scheduled %d jobs, want 0", len(sched.jobs))
	}
	turns, _ := db.RecentTurns(context.Background(), "alice", 50)
	if len(turns) != 0 {
		t.Errorf("stored %d turns, want 0", len(turns))
	}
}

func TestAPIPayloadLimit(t *testing.T) {
	h, _, _ := newTestAPI(t, 100)

	bigPayload := []byte(`{"message": "` + strings.Repeat("x", 200) + `"}`)
	rec := doRequest(h, "POST", "/api/chat/messages", "secret", bigPayload)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestAPISendMessageValidation(t *testing.T) {
	h, _, _ := newTestAPI(t, 1<<20)

	for name, body := range map[string]string{
		"blank":   `{"message": "   "}`,
		"missing": `{}`,
		"invalid": `not json`,
	} {
		rec := doRequest(h, "POST", "/api/chat/messages", "secret", []byte(body))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: Status = %d, want %d", name, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestAPISendMessageAndHistory(t *testing.T) {
	h, _, sched := newTestAPI(t, 1<<20)

	rec := doRequest(h, "POST", "/api/chat/messages", "secret", []byte(`{"message": "What alerts do I have?"}`))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Status = %d, want %d. Body: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
	var sent protocol.SendMessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &sent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sched.jobs) != 1 || sched.jobs[0].TurnID != sent.ID {
		t.Fatalf("scheduled jobs = %+v, want one for %s", sched.jobs, sent.ID)
	}

	rec = doRequest(h, "GET", "/api/chat/messages", "secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", rec.Code, http.StatusOK)
	}
	var history []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history has %d turns, want 1", len(history))
	}
	for _, field := range []string{"id", "text", "replyText", "createdAt", "isUserTurn"} {
		if _, ok := history[0][field]; !ok {
			t.Errorf("history entry missing %q", field)
		}
	}
	if history[0]["text"] != "What alerts do I have?" || history[0]["isUserTurn"] != true {
		t.Errorf("history[0] = %v", history[0])
	}
}

func TestAPIServerConfig(t *testing.T) {
	h, _, _ := newTestAPI(t, 1<<20)

	rec := doRequest(h, "GET", "/api/zabbix/config", "secret", nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "null" {
		t.Fatalf("empty config: Status = %d, Body = %q", rec.Code, rec.Body.String())
	}

	rec = doRequest(h, "PUT", "/api/zabbix/config", "secret", []byte(`{"endpointUrl": "http://zbx", "username": "Admin", "password": "zabbix"}`))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Status = %d, want %d. Body: %s", rec.Code, http.StatusNoContent, rec.Body.String())
	}

	rec = doRequest(h, "GET", "/api/zabbix/config", "secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "zabbix\"") || strings.Contains(rec.Body.String(), "password") {
		t.Errorf("config response leaks password: %s", rec.Body.String())
	}
	var view protocol.ServerConfigView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.EndpointURL != "http://zbx" || view.Username != "Admin" || !view.Active || view.ID == "" {
		t.Errorf("view = %+v", view)
	}

	rec = doRequest(h, "PUT", "/api/zabbix/config", "secret", []byte(`{"endpointUrl": "not a url"}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid endpoint: Status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestAPITestConnection(t *testing.T) {
	zbx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer zbx.Close()

	h, _, _ := newTestAPI(t, 1<<20)
	body, _ := json.Marshal(protocol.ServerConfigInput{EndpointURL: zbx.URL, Username: "Admin", Password: "zabbix"})
	rec := doRequest(h, "POST", "/api/zabbix/test", "secret", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", rec.Code, http.StatusOK)
	}
	var res protocol.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Success || !strings.Contains(res.Message, "Access forbidden") {
		t.Errorf("result = %+v", res)
	}
}

func TestAPISync(t *testing.T) {
	h, db, _ := newTestAPI(t, 1<<20)

	for i := 0; i < 2; i++ {
		rec := doRequest(h, "POST", "/api/zabbix/sync", "secret", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d", rec.Code, http.StatusOK)
		}
	}
	hosts, err := db.ListHosts(context.Background(), "alice", 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(hosts) != 2 {
		t.Errorf("hosts = %d, want 2", len(hosts))
	}
}
