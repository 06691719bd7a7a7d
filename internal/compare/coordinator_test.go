package compare

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebastienb/LLMComp/internal/secret"
	"github.com/sebastienb/LLMComp/internal/state"
	"github.com/sebastienb/LLMComp/internal/stream"
	"github.com/sebastienb/LLMComp/internal/types"
	"github.com/sebastienb/LLMComp/pkg/llm"
)

func newHarness(t *testing.T) (*state.Store, *Coordinator) {
	t.Helper()
	store := state.New(nil)
	return store, newCoordinatorFor(t, store)
}

func newCoordinatorFor(t *testing.T, store *state.Store) *Coordinator {
	t.Helper()
	codec, err := secret.New("")
	if err != nil {
		t.Fatalf("secret.New: %v", err)
	}
	orch := stream.New(&stream.Config{
		Store:   store,
		Codec:   codec,
		Timeout: 10 * time.Second,
	})
	return NewCoordinator(store, orch, 4)
}

func addProvider(t *testing.T, store *state.Store, name, url string, dialect llm.Dialect) types.Provider {
	t.Helper()
	p, err := store.AddProvider(types.Provider{
		Name:    name,
		Dialect: dialect,
		BaseURL: url,
		Model:   "test-model",
		Active:  true,
	})
	if err != nil {
		t.Fatalf("AddProvider(%s): %v", name, err)
	}
	return p
}

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			w.Write([]byte(l))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunAll_IsolatesFailures(t *testing.T) {
	good := sseServer(t,
		"data: {\"choices\":[{\"delta\":{\"content\":\"fine\"}}]}\n\n",
		"data: [DONE]\n\n",
	)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	t.Cleanup(bad.Close)

	store, c := newHarness(t)
	pGood := addProvider(t, store, "good", good.URL, llm.DialectOpenAI)
	pBad := addProvider(t, store, "bad", bad.URL, llm.DialectOpenAI)

	req, err := c.RunAll(context.Background(), "compare this")
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if len(req.Responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(req.Responses))
	}

	rGood := req.ResponseFor(pGood.ID)
	if rGood == nil || rGood.Status != types.StatusCompleted {
		t.Fatalf("good provider record = %+v, want completed", rGood)
	}
	if rGood.Content != "fine" {
		t.Errorf("good content = %q, want %q", rGood.Content, "fine")
	}

	rBad := req.ResponseFor(pBad.ID)
	if rBad == nil || rBad.Status != types.StatusError {
		t.Fatalf("bad provider record = %+v, want error", rBad)
	}
	if !strings.Contains(rBad.Error, "Check your API key") {
		t.Errorf("bad error %q missing auth hint", rBad.Error)
	}
	if rBad.Content != "" {
		t.Errorf("failed record carries content: %q", rBad.Content)
	}
}

func TestRunAll_FallsBackToNonStreaming(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// First (streaming) attempt fails outright.
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"stream broke"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"recovered"}}]}`))
	}))
	t.Cleanup(srv.Close)

	store, c := newHarness(t)
	p := addProvider(t, store, "flaky", srv.URL, llm.DialectOpenAI)

	req, err := c.RunAll(context.Background(), "hello")
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	rec := req.ResponseFor(p.ID)
	if rec == nil || rec.Status != types.StatusCompleted {
		t.Fatalf("record = %+v, want completed via fallback", rec)
	}
	if !strings.HasPrefix(rec.Content, "recovered") {
		t.Errorf("content = %q, want fallback answer", rec.Content)
	}
	if !strings.Contains(rec.Content, "non-streaming fallback") {
		t.Errorf("content %q missing fallback note", rec.Content)
	}
}

func TestRunAll_NoActiveProviders(t *testing.T) {
	_, c := newHarness(t)
	if _, err := c.RunAll(context.Background(), "anything"); err == nil {
		t.Fatal("expected error with no active providers")
	}
}

func TestRunAll_EmptyPrompt(t *testing.T) {
	store, c := newHarness(t)
	addProvider(t, store, "p", "http://127.0.0.1:1", llm.DialectOpenAI)
	if _, err := c.RunAll(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestRunAll_UpdatesCurrentRequestProgressively(t *testing.T) {
	srv := sseServer(t, "data: [DONE]\n\n")

	store, c := newHarness(t)
	addProvider(t, store, "p", srv.URL, llm.DialectOpenAI)

	if _, err := c.RunAll(context.Background(), "hi"); err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	cur, ok := store.CurrentRequest()
	if !ok {
		t.Fatal("no current request after RunAll")
	}
	if len(cur.Responses) != 1 || !cur.Responses[0].Terminal() {
		t.Fatalf("current request responses = %+v, want one terminal record", cur.Responses)
	}
	hist := store.History()
	if len(hist) != 1 {
		t.Fatalf("history length = %d, want 1", len(hist))
	}
}

func TestRerunProvider_ReplacesOnlyThatRecord(t *testing.T) {
	good := sseServer(t,
		"data: {\"choices\":[{\"delta\":{\"content\":\"v1\"}}]}\n\n",
		"data: [DONE]\n\n",
	)
	other := sseServer(t,
		"data: {\"choices\":[{\"delta\":{\"content\":\"other\"}}]}\n\n",
		"data: [DONE]\n\n",
	)

	store, c := newHarness(t)
	pA := addProvider(t, store, "a", good.URL, llm.DialectOpenAI)
	pB := addProvider(t, store, "b", other.URL, llm.DialectOpenAI)

	first, err := c.RunAll(context.Background(), "hi")
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	firstA := first.ResponseFor(pA.ID)
	firstB := first.ResponseFor(pB.ID)

	rerun, err := c.RerunProvider(context.Background(), pA.ID)
	if err != nil {
		t.Fatalf("RerunProvider: %v", err)
	}
	if rerun.ID == firstA.ID {
		t.Error("rerun reused the terminal record's id")
	}
	if rerun.Status != types.StatusCompleted {
		t.Fatalf("rerun status = %q, want completed", rerun.Status)
	}

	cur, _ := store.CurrentRequest()
	if len(cur.Responses) != 2 {
		t.Fatalf("rerun changed row count: %d, want 2", len(cur.Responses))
	}
	if b := cur.ResponseFor(pB.ID); b == nil || b.ID != firstB.ID {
		t.Error("rerun disturbed the other provider's record")
	}
	if a := cur.ResponseFor(pA.ID); a == nil || a.ID != rerun.ID {
		t.Error("rerun record did not take over the provider's row")
	}
}

func TestRerunProvider_AfterRestart(t *testing.T) {
	srv := sseServer(t,
		"data: {\"choices\":[{\"delta\":{\"content\":\"again\"}}]}\n\n",
		"data: [DONE]\n\n",
	)

	statePath := filepath.Join(t.TempDir(), "state.json")

	// First invocation: run a comparison and let it persist.
	store1 := state.New(state.NewFileStore(statePath))
	if err := store1.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := addProvider(t, store1, "p", srv.URL, llm.DialectOpenAI)
	first, err := newCoordinatorFor(t, store1).RunAll(context.Background(), "hi")
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}

	// Second invocation: a fresh process rebuilds the store from disk. The
	// current pointer is not persisted, so rerun must resume from history.
	store2 := state.New(state.NewFileStore(statePath))
	if err := store2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	rec, err := newCoordinatorFor(t, store2).RerunProvider(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("RerunProvider after restart: %v", err)
	}
	if rec.Status != types.StatusCompleted || rec.Content != "again" {
		t.Fatalf("rerun record = %q/%q, want completed/again", rec.Status, rec.Content)
	}

	// The rerun lands in the same remembered request, not a new one.
	cur, ok := store2.CurrentRequest()
	if !ok {
		t.Fatal("no current request after rerun")
	}
	if cur.ID != first.ID {
		t.Errorf("rerun request id = %s, want resumed %s", cur.ID, first.ID)
	}
	entry, ok := store2.HistoryEntry(first.ID)
	if !ok {
		t.Fatal("history entry missing after rerun")
	}
	if got := entry.ResponseFor(p.ID); got == nil || got.ID != rec.ID {
		t.Error("history entry does not carry the rerun record")
	}
}

func TestRerunProvider_UnknownProvider(t *testing.T) {
	_, c := newHarness(t)
	if _, err := c.RerunProvider(context.Background(), types.NewProviderID()); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"pong"}}]}`))
	}))
	t.Cleanup(srv.Close)

	store, c := newHarness(t)
	p := addProvider(t, store, "probe", srv.URL, llm.DialectOpenAI)

	rec, err := c.TestConnection(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if rec.Content != "pong" {
		t.Errorf("content = %q, want %q", rec.Content, "pong")
	}
	if cur, ok := store.CurrentRequest(); ok {
		t.Errorf("connection test created a request: %+v", cur)
	}
}
