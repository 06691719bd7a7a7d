// internal/compare/coordinator.go
package compare

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sebastienb/LLMComp/internal/state"
	"github.com/sebastienb/LLMComp/internal/stream"
	"github.com/sebastienb/LLMComp/internal/types"
)

// DefaultMaxConcurrent bounds how many providers stream at once.
const DefaultMaxConcurrent = 8

// Coordinator fans one prompt out to every active provider, runs each
// attempt concurrently under a concurrency cap, and falls back to the
// synchronous path when streaming fails.
type Coordinator struct {
	store *state.Store
	orch  *stream.Orchestrator
	sem   *semaphore.Weighted
}

// NewCoordinator creates a Coordinator. maxConcurrent <= 0 selects the
// default cap.
func NewCoordinator(store *state.Store, orch *stream.Orchestrator, maxConcurrent int) *Coordinator {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Coordinator{
		store: store,
		orch:  orch,
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// RunAll issues prompt against every active provider and blocks until all
// attempts reach a terminal state. One provider failing never disturbs the
// others; its record carries the error. The returned request is the final
// snapshot with all terminal records.
func (c *Coordinator) RunAll(ctx context.Context, prompt string) (types.GenerationRequest, error) {
	if prompt == "" {
		return types.GenerationRequest{}, fmt.Errorf("prompt is empty")
	}
	providers := c.store.ActiveProviders()
	if len(providers) == 0 {
		return types.GenerationRequest{}, fmt.Errorf("no active providers configured")
	}

	req := types.GenerationRequest{
		ID:           types.NewRequestID(),
		Prompt:       prompt,
		SystemPrompt: c.store.SystemPrompt(),
		Timestamp:    time.Now(),
		Settings:     c.store.Settings(),
	}
	for _, p := range providers {
		req.Responses = append(req.Responses, state.NewPendingRecord(p))
	}
	c.store.StartRequest(req)

	var wg sync.WaitGroup
	for _, p := range providers {
		wg.Add(1)
		go func(p types.Provider) {
			defer wg.Done()
			c.runProvider(ctx, req, p)
		}(p)
	}
	wg.Wait()

	final, ok := c.store.HistoryEntry(req.ID)
	if !ok {
		// History was cleared mid-run; fall back to the local snapshot.
		return req, nil
	}
	return final, nil
}

// RerunProvider repeats the current request against a single provider,
// leaving every other record untouched. The provider's terminal record is
// replaced by a fresh attempt.
func (c *Coordinator) RerunProvider(ctx context.Context, providerID types.ProviderID) (types.ResponseRecord, error) {
	p, ok := c.store.Provider(providerID)
	if !ok {
		return types.ResponseRecord{}, fmt.Errorf("unknown provider %s", providerID)
	}
	// A fresh process has no live request; fall back to the newest
	// remembered one.
	req, ok := c.store.ResumeLatest()
	if !ok {
		return types.ResponseRecord{}, fmt.Errorf("no request to rerun")
	}
	return c.runProvider(ctx, req, p), nil
}

// TestConnection sends a tiny synchronous request to verify reachability
// and credentials. Nothing is published to the store.
func (c *Coordinator) TestConnection(ctx context.Context, providerID types.ProviderID) (types.ResponseRecord, error) {
	p, ok := c.store.Provider(providerID)
	if !ok {
		return types.ResponseRecord{}, fmt.Errorf("unknown provider %s", providerID)
	}
	probe := types.GenerationRequest{
		ID:        types.NewRequestID(),
		Prompt:    "Hi",
		Timestamp: time.Now(),
		Settings:  types.Settings{Temperature: 0, MaxTokens: 10, TopP: 1.0},
	}
	return c.orch.Complete(ctx, probe, p)
}

// runProvider drives one provider through streaming plus fallback and
// returns the terminal record.
func (c *Coordinator) runProvider(ctx context.Context, req types.GenerationRequest, p types.Provider) types.ResponseRecord {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		rec := state.NewPendingRecord(p)
		if existing := req.ResponseFor(p.ID); existing != nil && !existing.Terminal() {
			rec.ID = existing.ID
		}
		rec.Status = types.StatusError
		rec.Error = fmt.Sprintf("%s: %v", p.Name, err)
		c.store.UpsertResponse(req.ID, rec)
		return rec
	}
	defer c.sem.Release(1)

	rec, err := c.orch.Stream(ctx, req, p, nil)
	if err == nil {
		return rec
	}
	if ctx.Err() != nil {
		return rec
	}

	slog.Warn("streaming failed, trying non-streaming fallback",
		"provider", p.Name, "error", err)

	fb, fbErr := c.orch.Complete(ctx, req, p)
	if fbErr != nil {
		// Keep the streaming error record; the fallback added nothing.
		slog.Warn("fallback also failed", "provider", p.Name, "error", fbErr)
		return rec
	}
	fb.Content += stream.FallbackNote
	fb.IsStreaming = false
	c.store.UpsertResponse(req.ID, fb)
	return fb
}
