// internal/state/persist_test.go
package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebastienb/LLMComp/internal/types"
)

func TestFileStore_LoadMissing(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	snap, err := fs.Load()
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil {
		t.Errorf("expected nil snapshot for missing file, got %+v", snap)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	fs := NewFileStore(path)

	snap := &Snapshot{
		Providers: []types.Provider{testProvider("A")},
		History: []types.GenerationRequest{{
			ID:        types.NewRequestID(),
			Prompt:    "hello",
			Timestamp: time.Now().UTC(),
		}},
		PromptSettings: types.DefaultSettings(),
		SystemPrompt:   "be brief",
	}
	if err := fs.Save(snap); err != nil {
		t.Fatal(err)
	}

	got, err := fs.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected snapshot")
	}
	if len(got.Providers) != 1 || got.Providers[0].Name != "A" {
		t.Errorf("providers not round-tripped: %+v", got.Providers)
	}
	if len(got.History) != 1 || got.History[0].Prompt != "hello" {
		t.Errorf("history not round-tripped: %+v", got.History)
	}
	if got.SystemPrompt != "be brief" {
		t.Errorf("system prompt not round-tripped: %q", got.SystemPrompt)
	}
}

func TestFileStore_AtomicWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	fs := NewFileStore(path)

	if err := fs.Save(&Snapshot{}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
}

func TestStore_ResumeLatestAfterReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s1 := New(NewFileStore(path))
	req := types.GenerationRequest{
		ID:        types.NewRequestID(),
		Prompt:    "hello",
		Timestamp: time.Now(),
	}
	s1.StartRequest(req)

	// A fresh process loads history but not the current pointer.
	s2 := New(NewFileStore(path))
	if err := s2.Load(); err != nil {
		t.Fatal(err)
	}
	if _, ok := s2.CurrentRequest(); ok {
		t.Fatal("current pointer should not survive a reload")
	}

	resumed, ok := s2.ResumeLatest()
	if !ok {
		t.Fatal("expected to resume the newest history entry")
	}
	if resumed.ID != req.ID {
		t.Errorf("resumed id = %s, want %s", resumed.ID, req.ID)
	}
	if cur, ok := s2.CurrentRequest(); !ok || cur.ID != req.ID {
		t.Error("resume did not reinstall the request as current")
	}
}

func TestStore_ResumeLatestEmpty(t *testing.T) {
	s := New(nil)
	if _, ok := s.ResumeLatest(); ok {
		t.Fatal("expected nothing to resume in an empty store")
	}
}

func TestStore_LoadSettlesInterruptedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	fs := NewFileStore(path)

	// A terminal upsert for one provider snapshots the whole history, so a
	// sibling still mid-stream lands on disk in a non-terminal status.
	reqID := types.NewRequestID()
	snap := &Snapshot{
		History: []types.GenerationRequest{{
			ID:     reqID,
			Prompt: "hello",
			Responses: []types.ResponseRecord{
				{
					ID:         types.NewResponseID(),
					ProviderID: types.NewProviderID(),
					Status:     types.StatusCompleted,
					Content:    "done",
				},
				{
					ID:          types.NewResponseID(),
					ProviderID:  types.NewProviderID(),
					Status:      types.StatusStreaming,
					Content:     "half a resp",
					IsStreaming: true,
				},
			},
		}},
	}
	if err := fs.Save(snap); err != nil {
		t.Fatal(err)
	}

	s := New(NewFileStore(path))
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	entry, ok := s.HistoryEntry(reqID)
	if !ok {
		t.Fatal("history entry missing after load")
	}
	if entry.Responses[0].Status != types.StatusCompleted {
		t.Errorf("terminal record disturbed: %q", entry.Responses[0].Status)
	}
	got := entry.Responses[1]
	if got.Status != types.StatusError {
		t.Errorf("restored mid-stream record status = %q, want error", got.Status)
	}
	if got.Error == "" {
		t.Error("restored mid-stream record has no error message")
	}
	if got.IsStreaming {
		t.Error("restored record still marked streaming")
	}
}

func TestStore_LoadFromPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	fs := NewFileStore(path)

	s1 := New(fs)
	if _, err := s1.AddProvider(testProvider("A")); err != nil {
		t.Fatal(err)
	}
	s1.SetSystemPrompt("remember me")

	s2 := New(NewFileStore(path))
	if err := s2.Load(); err != nil {
		t.Fatal(err)
	}
	if len(s2.Providers()) != 1 {
		t.Errorf("expected 1 provider after reload, got %d", len(s2.Providers()))
	}
	if s2.SystemPrompt() != "remember me" {
		t.Errorf("system prompt lost: %q", s2.SystemPrompt())
	}
}
