// internal/types/models.go
package types

import (
	"fmt"
	"time"

	"github.com/sebastienb/LLMComp/pkg/llm"
)

// Provider describes one configured LLM backend. The Dialect field is set
// explicitly when the provider is created (from a preset or a user choice);
// behavior never depends on the mutable display name.
type Provider struct {
	ID             ProviderID        `json:"id"`
	Name           string            `json:"name"`
	Dialect        llm.Dialect       `json:"dialect"`
	BaseURL        string            `json:"base_url"`
	APIKey         string            `json:"api_key,omitempty"` // encrypted at rest
	Model          string            `json:"model"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    float64           `json:"temperature,omitempty"`
	TopP           float64           `json:"top_p,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	ExtraHeaders   map[string]string `json:"extra_headers,omitempty"`
	Active         bool              `json:"active"`
	RequiresAuth   bool              `json:"requires_auth,omitempty"`
}

// Validate checks the invariants a provider must satisfy before any
// request is attempted against it.
func (p *Provider) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if !p.Dialect.Valid() {
		return fmt.Errorf("provider %q has invalid dialect %q", p.Name, p.Dialect)
	}
	if p.BaseURL == "" {
		return fmt.Errorf("provider %q has no base URL", p.Name)
	}
	if p.RequiresAuth && p.APIKey == "" {
		return fmt.Errorf("provider %q requires authentication but has no credential", p.Name)
	}
	return nil
}

// Settings is a snapshot of the generation parameters for one request.
type Settings struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TopP        float64 `json:"top_p"`
}

// DefaultSettings mirrors the defaults a fresh install starts with.
func DefaultSettings() Settings {
	return Settings{Temperature: 0.7, MaxTokens: 1000, TopP: 1.0}
}

// Status is the lifecycle state of one response record. Transitions are
// pending → streaming → completed, pending → streaming → error, or
// pending → error. Terminal records are never mutated; a rerun replaces
// them with a brand-new record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// ResponseRecord is the mutable result of one (request, provider) attempt.
type ResponseRecord struct {
	ID           ResponseID      `json:"id"`
	ProviderID   ProviderID      `json:"provider_id"`
	ProviderName string          `json:"provider_name"`
	Content      string          `json:"content"`
	Timestamp    time.Time       `json:"timestamp"`
	ResponseTime time.Duration   `json:"response_time"`
	TokenUsage   *llm.TokenUsage `json:"token_usage,omitempty"`
	Cost         float64         `json:"cost,omitempty"`
	Error        string          `json:"error,omitempty"`
	Status       Status          `json:"status"`
	IsStreaming  bool            `json:"is_streaming,omitempty"`
}

// Terminal reports whether the record has reached a final state.
func (r *ResponseRecord) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusError
}

// GenerationRequest is one user-issued comparison: a prompt fanned out to
// N providers, with at most one live record per provider.
type GenerationRequest struct {
	ID           RequestID        `json:"id"`
	Prompt       string           `json:"prompt"`
	SystemPrompt string           `json:"system_prompt,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
	Settings     Settings         `json:"settings"`
	Responses    []ResponseRecord `json:"responses"`
}

// ResponseFor returns the record for the given provider, or nil.
func (g *GenerationRequest) ResponseFor(id ProviderID) *ResponseRecord {
	for i := range g.Responses {
		if g.Responses[i].ProviderID == id {
			return &g.Responses[i]
		}
	}
	return nil
}

// Clone returns a deep copy so callers can hand out snapshots without
// sharing the responses slice.
func (g *GenerationRequest) Clone() GenerationRequest {
	cp := *g
	cp.Responses = append([]ResponseRecord(nil), g.Responses...)
	for i := range cp.Responses {
		if u := cp.Responses[i].TokenUsage; u != nil {
			uc := *u
			cp.Responses[i].TokenUsage = &uc
		}
	}
	return cp
}
