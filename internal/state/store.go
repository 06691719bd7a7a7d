// internal/state/store.go
package state

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sebastienb/LLMComp/internal/types"
)

// historyCap bounds the request history; the oldest entry is evicted.
const historyCap = 100

// Persister saves and loads the durable portion of the store. Persistence
// is injected so the store itself stays free of file-system concerns.
type Persister interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
}

// Store is the single shared mutable resource across concurrent attempts.
// All mutation goes through its methods; each method holds the mutex for
// the whole mutation, so concurrent upserts to different record ids never
// interleave mid-update and the UI can never observe a torn state.
type Store struct {
	mu           sync.RWMutex
	providers    []types.Provider
	current      *types.GenerationRequest
	history      []types.GenerationRequest // newest first
	settings     types.Settings
	systemPrompt string
	persist      Persister
}

// New creates an empty store. persist may be nil for a purely in-memory
// store (tests use this).
func New(persist Persister) *Store {
	return &Store{
		settings: types.DefaultSettings(),
		persist:  persist,
	}
}

// Load replaces the store contents with the persisted snapshot, if any.
func (s *Store) Load() error {
	if s.persist == nil {
		return nil
	}
	snap, err := s.persist.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if snap == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers = snap.Providers
	s.history = snap.History
	// A terminal upsert snapshots the whole history, so rows for providers
	// still mid-stream land on disk in a non-terminal status. Settle them
	// here: nothing will ever finish them in this process.
	for i := range s.history {
		for j := range s.history[i].Responses {
			r := &s.history[i].Responses[j]
			if !r.Terminal() {
				r.Status = types.StatusError
				r.Error = "interrupted before completion"
				r.IsStreaming = false
			}
		}
	}
	if snap.PromptSettings != (types.Settings{}) {
		s.settings = snap.PromptSettings
	}
	s.systemPrompt = snap.SystemPrompt
	return nil
}

// save writes the durable snapshot. Callers must hold s.mu.
func (s *Store) save() {
	if s.persist == nil {
		return
	}
	snap := &Snapshot{
		Providers:      append([]types.Provider(nil), s.providers...),
		History:        make([]types.GenerationRequest, 0, len(s.history)),
		PromptSettings: s.settings,
		SystemPrompt:   s.systemPrompt,
	}
	for i := range s.history {
		snap.History = append(snap.History, s.history[i].Clone())
	}
	if err := s.persist.Save(snap); err != nil {
		slog.Error("persist state", "error", err)
	}
}

// AddProvider validates and stores a new provider, assigning an id if the
// caller did not.
func (s *Store) AddProvider(p types.Provider) (types.Provider, error) {
	if p.ID == "" {
		p.ID = types.NewProviderID()
	}
	if err := p.Validate(); err != nil {
		return types.Provider{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers = append(s.providers, p)
	s.save()
	return p, nil
}

// UpdateProvider replaces the stored provider with the same id.
func (s *Store) UpdateProvider(p types.Provider) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.providers {
		if s.providers[i].ID == p.ID {
			s.providers[i] = p
			s.save()
			return nil
		}
	}
	return fmt.Errorf("provider not found: %s", p.ID)
}

// RemoveProvider deletes a provider. In-flight attempts keep running on
// the snapshot they captured at attempt start.
func (s *Store) RemoveProvider(id types.ProviderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.providers {
		if s.providers[i].ID == id {
			s.providers = append(s.providers[:i], s.providers[i+1:]...)
			s.save()
			return nil
		}
	}
	return fmt.Errorf("provider not found: %s", id)
}

// SetProviderActive toggles whether a provider participates in fan-outs.
func (s *Store) SetProviderActive(id types.ProviderID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.providers {
		if s.providers[i].ID == id {
			s.providers[i].Active = active
			s.save()
			return nil
		}
	}
	return fmt.Errorf("provider not found: %s", id)
}

// Provider returns a copy of the provider with the given id.
func (s *Store) Provider(id types.ProviderID) (types.Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.providers {
		if s.providers[i].ID == id {
			return s.providers[i], true
		}
	}
	return types.Provider{}, false
}

// FindProvider looks a provider up by id or, failing that, by exact name.
func (s *Store) FindProvider(key string) (types.Provider, bool) {
	if p, ok := s.Provider(types.ProviderID(key)); ok {
		return p, true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.providers {
		if s.providers[i].Name == key {
			return s.providers[i], true
		}
	}
	return types.Provider{}, false
}

// Providers returns a copy of all configured providers.
func (s *Store) Providers() []types.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Provider(nil), s.providers...)
}

// ActiveProviders returns the providers that participate in a fan-out.
func (s *Store) ActiveProviders() []types.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []types.Provider
	for _, p := range s.providers {
		if p.Active {
			active = append(active, p)
		}
	}
	return active
}

// StartRequest installs req as the current request and prepends it to
// history in one atomic step, so the UI has a stable row per provider
// before any attempt sends a byte.
func (s *Store) StartRequest(req types.GenerationRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := req.Clone()
	s.current = &cp
	s.history = append([]types.GenerationRequest{req.Clone()}, s.history...)
	if len(s.history) > historyCap {
		s.history = s.history[:historyCap]
	}
	s.save()
}

// CurrentRequest returns a snapshot of the live request.
func (s *Store) CurrentRequest() (types.GenerationRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return types.GenerationRequest{}, false
	}
	return s.current.Clone(), true
}

// UpsertResponse replaces the record for record.ID (or, for a fresh
// attempt id, the row belonging to the same provider) inside the request
// identified by requestID, wherever that request lives: the current
// pointer, the history entry, or both. The whole operation happens under
// one lock so no reader sees the two copies disagree.
//
// An upsert targeting an unknown request id is a no-op, not an error.
// Upserting an identical record twice is idempotent.
func (s *Store) UpsertResponse(requestID types.RequestID, record types.ResponseRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	if s.current != nil && s.current.ID == requestID {
		upsertInto(s.current, record)
		found = true
	}
	for i := range s.history {
		if s.history[i].ID == requestID {
			upsertInto(&s.history[i], record)
			found = true
		}
	}
	if !found {
		slog.Debug("upsert for unknown request id, ignoring",
			"request_id", string(requestID), "response_id", string(record.ID))
		return
	}
	// Persist on terminal transitions only; partial streaming state is not
	// worth a disk write per delta and is not restored after a restart.
	if record.Terminal() {
		s.save()
	}
}

// upsertInto applies the upsert to one request copy. Matching is by record
// id first; a record carrying a new attempt id takes over the provider's
// existing row; otherwise the record is appended as a new row.
func upsertInto(req *types.GenerationRequest, record types.ResponseRecord) {
	for i := range req.Responses {
		if req.Responses[i].ID == record.ID {
			// A terminal record is frozen; only a new attempt (new id)
			// may replace it.
			if req.Responses[i].Terminal() && !record.Terminal() {
				return
			}
			req.Responses[i] = record
			return
		}
	}
	for i := range req.Responses {
		if req.Responses[i].ProviderID == record.ProviderID {
			req.Responses[i] = record
			return
		}
	}
	req.Responses = append(req.Responses, record)
}

// ResumeLatest returns the current request, reinstalling the newest
// history entry as current when no live request is set. A fresh process
// loads providers and history from disk but not the current pointer, so
// acting on the previous invocation's request starts here.
func (s *Store) ResumeLatest() (types.GenerationRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return s.current.Clone(), true
	}
	if len(s.history) == 0 {
		return types.GenerationRequest{}, false
	}
	cp := s.history[0].Clone()
	s.current = &cp
	return cp.Clone(), true
}

// History returns snapshots of all remembered requests, newest first.
func (s *Store) History() []types.GenerationRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.GenerationRequest, 0, len(s.history))
	for i := range s.history {
		out = append(out, s.history[i].Clone())
	}
	return out
}

// HistoryEntry returns one remembered request by id.
func (s *Store) HistoryEntry(id types.RequestID) (types.GenerationRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.history {
		if s.history[i].ID == id {
			return s.history[i].Clone(), true
		}
	}
	return types.GenerationRequest{}, false
}

// ClearHistory drops all remembered requests.
func (s *Store) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.save()
}

// Settings returns the current default generation settings.
func (s *Store) Settings() types.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SetSettings replaces the default generation settings.
func (s *Store) SetSettings(settings types.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.save()
}

// SystemPrompt returns the saved system prompt.
func (s *Store) SystemPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.systemPrompt
}

// SetSystemPrompt replaces the saved system prompt.
func (s *Store) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemPrompt = prompt
	s.save()
}

// NewPendingRecord builds the placeholder row published for a provider
// before its attempt sends any byte.
func NewPendingRecord(p types.Provider) types.ResponseRecord {
	return types.ResponseRecord{
		ID:           types.NewResponseID(),
		ProviderID:   p.ID,
		ProviderName: p.Name,
		Timestamp:    time.Now(),
		Status:       types.StatusPending,
	}
}
