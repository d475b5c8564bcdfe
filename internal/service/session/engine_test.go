package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mindwell-ai/mindwell/backend/internal/analysis/emotion"
	"github.com/mindwell-ai/mindwell/backend/internal/model/chat"
	"github.com/mindwell-ai/mindwell/backend/internal/service/inference"
	"github.com/mindwell-ai/mindwell/backend/internal/store"
)

// newBackend starts a fake Ollama server that streams the given fragments
// for every generate call and answers health probes on any other path.
func newBackend(t *testing.T, fragments []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			w.WriteHeader(http.StatusOK)
			return
		}
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, fragment := range fragments {
			fmt.Fprintf(w, `{"model":"mindwell-test","response":%q,"done":false}`+"\n", fragment)
			flusher.Flush()
		}
		fmt.Fprintln(w, `{"model":"mindwell-test","response":"","done":true}`)
		flusher.Flush()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newEngine(t *testing.T, backendURL string) (*Engine, *store.SQLiteStore) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "chat_history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore err: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	llm, err := inference.NewClient(inference.Config{
		Host:        backendURL,
		Model:       "mindwell-test",
		Timeout:     2 * time.Second,
		MaxRetries:  3,
		RetryWait:   time.Millisecond,
		TimeoutWait: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient err: %v", err)
	}

	engine, err := NewEngine(context.Background(), st, llm, Options{})
	if err != nil {
		t.Fatalf("NewEngine err: %v", err)
	}
	return engine, st
}

func TestSubmitUserMessageEndToEnd(t *testing.T) {
	srv := newBackend(t, []string{"I'm", " glad", " to hear that."})
	engine, st := newEngine(t, srv.URL)
	ctx := context.Background()

	var partials []string
	assistant, err := engine.SubmitUserMessage(ctx, "I feel great today", func(partial string) {
		partials = append(partials, partial)
	})
	if err != nil {
		t.Fatalf("SubmitUserMessage err: %v", err)
	}

	wantPartials := []string{"I'm", "I'm glad", "I'm glad to hear that."}
	if !reflect.DeepEqual(partials, wantPartials) {
		t.Fatalf("unexpected partials: %v", partials)
	}
	if assistant.Content != "I'm glad to hear that." {
		t.Fatalf("unexpected assistant content: %q", assistant.Content)
	}
	if assistant.Role != chat.RoleAssistant {
		t.Fatalf("unexpected role: %s", assistant.Role)
	}

	turns, err := st.ReadTurns(ctx, engine.ConversationID())
	if err != nil {
		t.Fatalf("ReadTurns err: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 persisted turns, got %d", len(turns))
	}
	if turns[0].Role != chat.RoleUser || turns[0].Content != "I feel great today" {
		t.Fatalf("unexpected user turn: %+v", turns[0])
	}
	if turns[1].Role != chat.RoleAssistant || turns[1].Content != "I'm glad to hear that." {
		t.Fatalf("unexpected assistant turn: %+v", turns[1])
	}

	analytics, err := engine.RequestAnalysis(ctx)
	if err != nil {
		t.Fatalf("RequestAnalysis err: %v", err)
	}
	if analytics.EmotionalState != emotion.Happy && analytics.EmotionalState != emotion.VeryHappy {
		t.Fatalf("expected Happy or Very Happy, got %q", analytics.EmotionalState)
	}
	if analytics.TotalTurns != 2 || analytics.UserTurns != 1 {
		t.Fatalf("unexpected turn counts: %+v", analytics)
	}
	// "I feel great today" = 4 words, "I'm glad to hear that." = 5 words
	if !reflect.DeepEqual(analytics.MessageLengths, []int{4, 5}) {
		t.Fatalf("unexpected word counts: %v", analytics.MessageLengths)
	}
	if analytics.AvgMessageLength != 4.5 {
		t.Fatalf("unexpected mean length: %f", analytics.AvgMessageLength)
	}

	metrics, err := st.ConversationMetrics(ctx, engine.ConversationID())
	if err != nil {
		t.Fatalf("ConversationMetrics err: %v", err)
	}
	if metrics.Sentiment == nil {
		t.Fatal("analysis rollup was not persisted")
	}
}

func TestSubmitUserMessageCancellation(t *testing.T) {
	srv := newBackend(t, []string{"I'm", " glad", " to hear that."})
	engine, st := newEngine(t, srv.URL)
	ctx := context.Background()

	assistant, err := engine.SubmitUserMessage(ctx, "hello", func(partial string) {
		engine.CancelReply()
	})
	if err != nil {
		t.Fatalf("cancelled submit must not fail: %v", err)
	}
	if assistant.Content != "I'm" {
		t.Fatalf("expected partial content %q, got %q", "I'm", assistant.Content)
	}
	if engine.Busy() {
		t.Fatal("engine must return to idle after cancellation")
	}

	turns, err := st.ReadTurns(ctx, engine.ConversationID())
	if err != nil {
		t.Fatalf("ReadTurns err: %v", err)
	}
	if len(turns) != 2 || turns[1].Content != "I'm" {
		t.Fatalf("partial reply not persisted: %v", turns)
	}

	// the cycle fully completed, so a fresh submit works
	if _, err := engine.SubmitUserMessage(ctx, "still there?", nil); err != nil {
		t.Fatalf("submit after cancellation err: %v", err)
	}
}

func TestSubmitUserMessageRejectsEmpty(t *testing.T) {
	srv := newBackend(t, nil)
	engine, _ := newEngine(t, srv.URL)

	if _, err := engine.SubmitUserMessage(context.Background(), "   ", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestSubmitUserMessageBusy(t *testing.T) {
	release := make(chan struct{})
	var releaseOnce sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			w.WriteHeader(http.StatusOK)
			return
		}
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"model":"mindwell-test","response":"thinking","done":false}`)
		flusher.Flush()
		<-release
		fmt.Fprintln(w, `{"model":"mindwell-test","response":"","done":true}`)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { releaseOnce.Do(func() { close(release) }) })

	engine, _ := newEngine(t, srv.URL)
	ctx := context.Background()

	started := make(chan struct{})
	var startedOnce sync.Once
	done := make(chan error, 1)
	go func() {
		_, err := engine.SubmitUserMessage(ctx, "first", func(string) {
			startedOnce.Do(func() { close(started) })
		})
		done <- err
	}()

	<-started
	if _, err := engine.SubmitUserMessage(ctx, "second", nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	releaseOnce.Do(func() { close(release) })
	if err := <-done; err != nil {
		t.Fatalf("first submit err: %v", err)
	}
}

func TestSubmitUserMessageBackendDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	engine, st := newEngine(t, addr)
	ctx := context.Background()

	_, err := engine.SubmitUserMessage(ctx, "anyone home?", nil)
	if !errors.Is(err, inference.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}

	// the rejection happens before any turn is recorded
	turns, err := st.ReadTurns(ctx, engine.ConversationID())
	if err != nil {
		t.Fatalf("ReadTurns err: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected no turns after readiness rejection, got %d", len(turns))
	}
}

func TestSubmitUserMessageStoresErrorAsAssistantTurn(t *testing.T) {
	// health probe succeeds, generation always fails with a bad status
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, `{"error":"model exploded"}`)
	}))
	t.Cleanup(srv.Close)

	engine, st := newEngine(t, srv.URL)
	ctx := context.Background()

	assistant, err := engine.SubmitUserMessage(ctx, "hello", nil)
	if err != nil {
		t.Fatalf("a backend failure must not fail the cycle: %v", err)
	}
	if assistant.Role != chat.RoleAssistant {
		t.Fatalf("unexpected assistant turn: %+v", assistant)
	}
	if !strings.HasPrefix(assistant.Content, "Error: ") {
		t.Fatalf("expected error text as content, got %q", assistant.Content)
	}
	if engine.Busy() {
		t.Fatal("engine must return to idle after a failed cycle")
	}

	turns, err := st.ReadTurns(ctx, engine.ConversationID())
	if err != nil {
		t.Fatalf("ReadTurns err: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected user and assistant turns, got %d", len(turns))
	}
}

func TestPromptWindowing(t *testing.T) {
	var mu sync.Mutex
	var prompts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			w.WriteHeader(http.StatusOK)
			return
		}
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		mu.Lock()
		prompts = append(prompts, req.Prompt)
		mu.Unlock()
		fmt.Fprintln(w, `{"model":"mindwell-test","response":"ok","done":true}`)
	}))
	t.Cleanup(srv.Close)

	engine, _ := newEngine(t, srv.URL)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := engine.SubmitUserMessage(ctx, fmt.Sprintf("message %d", i), nil); err != nil {
			t.Fatalf("submit %d err: %v", i, err)
		}
	}

	mu.Lock()
	last := prompts[len(prompts)-1]
	mu.Unlock()

	// default window is 5 turns: after 3 full cycles there are 6 prior
	// turns, so the oldest user turn must have been dropped
	if strings.Contains(last, "message 0") {
		t.Fatalf("oldest turn should be outside the context window:\n%s", last)
	}
	if !strings.Contains(last, "User: message 2") || !strings.Contains(last, "Assistant: ok") {
		t.Fatalf("recent turns missing from prompt:\n%s", last)
	}
	if !strings.Contains(last, "Context:") {
		t.Fatalf("prompt missing context block:\n%s", last)
	}
	if !strings.HasSuffix(last, "User: message 3\nAssistant:") {
		t.Fatalf("prompt must end with the new message:\n%s", last)
	}
}

func TestResetStartsNewConversationKeepsHistory(t *testing.T) {
	srv := newBackend(t, []string{"hi"})
	engine, st := newEngine(t, srv.URL)
	ctx := context.Background()

	if _, err := engine.SubmitUserMessage(ctx, "hello", nil); err != nil {
		t.Fatalf("SubmitUserMessage err: %v", err)
	}
	oldID := engine.ConversationID()

	newID, err := engine.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset err: %v", err)
	}
	if newID == oldID {
		t.Fatal("reset must allocate a new conversation id")
	}
	if engine.ConversationID() != newID {
		t.Fatal("engine not pointing at the new conversation")
	}

	// prior turns remain durably stored under the old id
	oldTurns, err := st.ReadTurns(ctx, oldID)
	if err != nil {
		t.Fatalf("ReadTurns err: %v", err)
	}
	if len(oldTurns) != 2 {
		t.Fatalf("prior turns lost on reset: %d", len(oldTurns))
	}

	if _, err := engine.RequestAnalysis(ctx); !errors.Is(err, ErrNoTurns) {
		t.Fatalf("expected ErrNoTurns after reset, got %v", err)
	}
}

func TestSubscribeReceivesTurnEvents(t *testing.T) {
	srv := newBackend(t, []string{"hi"})
	engine, _ := newEngine(t, srv.URL)

	events, release := engine.Subscribe()
	defer release()

	if _, err := engine.SubmitUserMessage(context.Background(), "hello", nil); err != nil {
		t.Fatalf("SubmitUserMessage err: %v", err)
	}

	first := <-events
	if first.Role != chat.RoleUser || first.Content != "hello" {
		t.Fatalf("unexpected first event: %+v", first)
	}
	second := <-events
	if second.Role != chat.RoleAssistant || second.Content != "hi" {
		t.Fatalf("unexpected second event: %+v", second)
	}
}

func TestStateFaultForcesReset(t *testing.T) {
	srv := newBackend(t, []string{"hi"})
	engine, _ := newEngine(t, srv.URL)
	faulty := &faultyStore{Store: engine.store}
	engine.store = faulty
	ctx := context.Background()

	oldID := engine.ConversationID()
	faulty.failAppends = true
	if _, err := engine.SubmitUserMessage(ctx, "hello", nil); err == nil {
		t.Fatal("expected error from state fault")
	}
	if engine.ConversationID() == oldID {
		t.Fatal("state fault must force a reset onto a new conversation")
	}
	if engine.Busy() {
		t.Fatal("engine must be idle after a forced reset")
	}
}

// faultyStore injects ErrUnknownConversation into AppendTurn.
type faultyStore struct {
	store.Store
	failAppends bool
}

func (f *faultyStore) AppendTurn(ctx context.Context, conversationID string, role chat.Role, content string) (chat.Turn, error) {
	if f.failAppends {
		return chat.Turn{}, store.ErrUnknownConversation
	}
	return f.Store.AppendTurn(ctx, conversationID, role, content)
}
