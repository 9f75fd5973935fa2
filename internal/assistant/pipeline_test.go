// internal/assistant/pipeline_test.go
package assistant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/zabbix-assistant/internal/config"
	"github.com/signalnine/zabbix-assistant/internal/metrics"
	"github.com/signalnine/zabbix-assistant/internal/protocol"
	"github.com/signalnine/zabbix-assistant/internal/store"
)

type fakeCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	panics  bool
	calls   int
	texts   []string
	context []string
}

func (f *fakeCompleter) Complete(_ context.Context, userText, contextText string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.texts = append(f.texts, userText)
	f.context = append(f.context, contextText)
	if f.panics {
		panic("completer exploded")
	}
	return f.reply, f.err
}

func sendTurn(t *testing.T, db interface {
	AppendUserTurn(context.Context, *protocol.ChatTurn) (*protocol.Job, error)
}, userID, text string) protocol.Job {
	t.Helper()
	job, err := db.AppendUserTurn(context.Background(), &protocol.ChatTurn{UserID: userID, Text: text})
	require.NoError(t, err)
	return *job
}

func TestPipelineSuccessAppendsAssistantTurn(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	completer := &fakeCompleter{reply: "All hosts are healthy."}
	p := NewPipeline(NewAssembler(db), completer, db, nil)

	job := sendTurn(t, db, "alice", "How are my hosts?")
	assert.Equal(t, OutcomeAnswered, p.Run(ctx, job))

	turns, err := db.RecentTurns(ctx, "alice", 50)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	assert.Equal(t, job.TurnID, turns[0].ID)
	assert.True(t, turns[0].IsUserTurn)
	assert.Equal(t, "How are my hosts?", turns[0].Text)
	assert.Equal(t, "All hosts are healthy.", turns[0].ReplyText)

	assert.False(t, turns[1].IsUserTurn)
	assert.Equal(t, "All hosts are healthy.", turns[1].Text)
	assert.Empty(t, turns[1].ReplyText)
}

func TestPipelinePassesAssembledContext(t *testing.T) {
	db := newTestStore(t)
	saveServer(t, db, "alice", true)
	completer := &fakeCompleter{reply: "none"}
	p := NewPipeline(NewAssembler(db), completer, db, nil)

	job := sendTurn(t, db, "alice", "What alerts do I have?")
	p.Run(context.Background(), job)

	want := "Zabbix Server Status:\n- Server: http://zabbix.example.com\n- Total Hosts: 0\n\nNo recent alerts\n\nHosts Status:\n- Active: 0\n- Total: 0\n"
	require.Equal(t, 1, completer.calls)
	assert.Equal(t, "What alerts do I have?", completer.texts[0])
	assert.Equal(t, want, completer.context[0])
}

func assertFallbackOnly(t *testing.T, db interface {
	RecentTurns(context.Context, string, int) ([]protocol.ChatTurn, error)
}, job protocol.Job) {
	t.Helper()
	turns, err := db.RecentTurns(context.Background(), job.UserID, 50)
	require.NoError(t, err)
	require.Len(t, turns, 1, "a failed exchange must not create a second turn")
	assert.Equal(t, job.TurnID, turns[0].ID)
	assert.Equal(t, FallbackReply, turns[0].ReplyText)
}

func TestPipelineFallbackOnCompletionFailure(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	noKey := testCompletionConfig(failing.URL)
	noKey.APIKey = ""
	timeout := testCompletionConfig(slow.URL)
	timeout.Timeout = 100 * time.Millisecond

	cases := map[string]Completer{
		"missing credential": NewCompletionClient(noKey, nil),
		"http 500":           NewCompletionClient(testCompletionConfig(failing.URL), nil),
		"timeout":            NewCompletionClient(timeout, nil),
		"generic error":      &fakeCompleter{err: errors.New("nope")},
	}
	for name, completer := range cases {
		t.Run(name, func(t *testing.T) {
			db := newTestStore(t)
			p := NewPipeline(NewAssembler(db), completer, db, nil)

			job := sendTurn(t, db, "alice", "hello")
			assert.Equal(t, OutcomeFallback, p.Run(context.Background(), job))
			assertFallbackOnly(t, db, job)
		})
	}
}

func TestPipelineRecoversFromPanic(t *testing.T) {
	db := newTestStore(t)
	p := NewPipeline(NewAssembler(db), &fakeCompleter{panics: true}, db, nil)

	job := sendTurn(t, db, "alice", "hello")
	assert.NotPanics(t, func() {
		assert.Equal(t, OutcomeFailed, p.Run(context.Background(), job))
	})
}

func TestPipelineSkipsCompletedTurn(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	completer := &fakeCompleter{reply: "again"}
	p := NewPipeline(NewAssembler(db), completer, db, nil)

	job := sendTurn(t, db, "alice", "hello")
	_, err := db.CompleteTurn(ctx, job.TurnID, "first answer")
	require.NoError(t, err)

	assert.Equal(t, OutcomeAnswered, p.Run(ctx, job))
	assert.Zero(t, completer.calls)

	turns, err := db.RecentTurns(ctx, "alice", 50)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "first answer", turns[0].ReplyText)
	assert.Equal(t, "first answer", turns[1].Text)
}

// failingWriteStore loses the success write, the way a crash mid-commit would
type failingWriteStore struct {
	*store.DB
}

func (failingWriteStore) CompleteTurn(context.Context, string, string) (*protocol.ChatTurn, error) {
	return nil, errors.New("process killed")
}

func TestPipelineReplayAfterInterruptedWriteAnswersOnce(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	job := sendTurn(t, db, "alice", "How are my hosts?")
	claimed, err := db.ClaimJob(ctx, job.TurnID)
	require.NoError(t, err)
	require.True(t, claimed)

	crashed := NewPipeline(NewAssembler(db), &fakeCompleter{reply: "lost"}, failingWriteStore{db}, nil)
	assert.Equal(t, OutcomeFailed, crashed.Run(ctx, job))

	turn, err := db.GetTurn(ctx, job.TurnID)
	require.NoError(t, err)
	assert.Empty(t, turn.ReplyText, "a failed write must not leave a partial reply")

	// Restart: the running job goes back to pending and is answered in full
	completer := &fakeCompleter{reply: "All hosts are healthy."}
	p := NewPipeline(NewAssembler(db), completer, db, nil)
	d := NewDispatcher(db, p, config.DispatcherConfig{Workers: 1, QueueSize: 4, SweepInterval: time.Hour}, nil)
	stop := startDispatcher(t, d)
	defer stop()

	require.Eventually(t, func() bool {
		return jobCounts(db)[protocol.JobAnswered] == 1
	}, 2*time.Second, 10*time.Millisecond)

	turns, err := db.RecentTurns(ctx, "alice", 50)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "All hosts are healthy.", turns[0].ReplyText)
	assert.False(t, turns[1].IsUserTurn)
	assert.Equal(t, "All hosts are healthy.", turns[1].Text)
	assert.Equal(t, 1, completer.calls)
}

func TestPipelineMissingTurnFails(t *testing.T) {
	db := newTestStore(t)
	completer := &fakeCompleter{reply: "x"}
	p := NewPipeline(NewAssembler(db), completer, db, nil)

	outcome := p.Run(context.Background(), protocol.Job{TurnID: "gone", UserID: "alice", Text: "hi"})
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Zero(t, completer.calls)
}

func TestPipelineConcurrentRunsKeepCorrespondence(t *testing.T) {
	db := newTestStore(t)
	p := NewPipeline(NewAssembler(db), echoCompleter{}, db, nil)

	var jobs []protocol.Job
	for _, text := range []string{"one", "two", "three", "four"} {
		jobs = append(jobs, sendTurn(t, db, "alice", text))
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job protocol.Job) {
			defer wg.Done()
			p.Run(context.Background(), job)
		}(job)
	}
	wg.Wait()

	for _, job := range jobs {
		turn, err := db.GetTurn(context.Background(), job.TurnID)
		require.NoError(t, err)
		assert.Equal(t, "re: "+job.Text, turn.ReplyText)
	}
	turns, err := db.RecentTurns(context.Background(), "alice", 50)
	require.NoError(t, err)
	assert.Len(t, turns, 8)
}

type echoCompleter struct{}

func (echoCompleter) Complete(_ context.Context, userText, _ string) (string, error) {
	return "re: " + userText, nil
}

func TestPipelineRecordsMetrics(t *testing.T) {
	db := newTestStore(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p := NewPipeline(NewAssembler(db), &fakeCompleter{err: errors.New("x")}, db, m)

	p.Run(context.Background(), sendTurn(t, db, "alice", "hi"))

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "zabbix_assistant_pipeline_runs_total" {
			found = true
			require.Len(t, f.GetMetric(), 1)
			assert.Equal(t, 1.0, f.GetMetric()[0].GetCounter().GetValue())
			assert.Equal(t, "fallback", f.GetMetric()[0].GetLabel()[0].GetValue())
		}
	}
	assert.True(t, found, "pipeline_runs_total not gathered")
}
