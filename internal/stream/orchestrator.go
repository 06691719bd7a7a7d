// internal/stream/orchestrator.go
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sebastienb/LLMComp/internal/secret"
	"github.com/sebastienb/LLMComp/internal/tokens"
	"github.com/sebastienb/LLMComp/internal/types"
	"github.com/sebastienb/LLMComp/pkg/llm"
)

// FallbackNote is appended to content recovered via the synchronous path,
// so the user can tell a silently recovered response from a streamed one.
const FallbackNote = "\n\n_Note: This response used non-streaming fallback due to streaming issues._"

// DefaultTimeout bounds one outbound call. Generation is slow; minutes,
// not seconds.
const DefaultTimeout = 5 * time.Minute

// errBodyLimit caps how much of an error response body we read back.
const errBodyLimit = 8 * 1024

// Publisher receives record updates as an attempt progresses. The shared
// response store satisfies it.
type Publisher interface {
	UpsertResponse(types.RequestID, types.ResponseRecord)
}

// ConnectError is a network failure or non-2xx response before any
// streaming began.
type ConnectError struct {
	Provider string
	Status   int
	Message  string
}

func (e *ConnectError) Error() string { return e.Message }

// Config wires an Orchestrator.
type Config struct {
	Store     Publisher
	Codec     *secret.Codec
	Estimator *tokens.Estimator // optional; nil skips usage estimation
	Timeout   time.Duration     // zero means DefaultTimeout
	ProxyURL  string            // optional; route calls through the local proxy
	Client    *http.Client      // optional override, used by tests
}

// Orchestrator drives streaming attempts end-to-end: build the request,
// open the connection, pump chunks through the reassembler and dialect
// parser, and publish every delta plus the terminal state to the store.
type Orchestrator struct {
	store     Publisher
	codec     *secret.Codec
	estimator *tokens.Estimator
	timeout   time.Duration
	proxyURL  string
	client    *http.Client
}

// New creates an Orchestrator from the given configuration.
func New(cfg *Config) *Orchestrator {
	o := &Orchestrator{
		store:     cfg.Store,
		codec:     cfg.Codec,
		estimator: cfg.Estimator,
		timeout:   cfg.Timeout,
		proxyURL:  cfg.ProxyURL,
		client:    cfg.Client,
	}
	if o.timeout == 0 {
		o.timeout = DefaultTimeout
	}
	if o.client == nil {
		// No client-level timeout: streams outlive any fixed read window.
		// The per-attempt context deadline bounds the whole call instead.
		o.client = &http.Client{}
	}
	return o
}

// Stream runs one streaming attempt for (req, p). It always publishes a
// terminal record before returning; the returned error is non-nil exactly
// when the attempt failed, so the caller can decide to try the synchronous
// fallback. onDelta, when non-nil, is invoked with each extracted text
// delta.
func (o *Orchestrator) Stream(ctx context.Context, req types.GenerationRequest, p types.Provider, onDelta func(delta string)) (types.ResponseRecord, error) {
	start := time.Now()

	// Reuse the provider's live row if one exists; a brand-new attempt
	// otherwise. This keeps one row per provider while a rerun still gets
	// a fresh id.
	rec := types.ResponseRecord{
		ProviderID:   p.ID,
		ProviderName: p.Name,
		Timestamp:    time.Now(),
	}
	if existing := req.ResponseFor(p.ID); existing != nil && !existing.Terminal() {
		rec.ID = existing.ID
		rec.Timestamp = existing.Timestamp
	} else {
		rec.ID = types.NewResponseID()
	}
	rec.Status = types.StatusStreaming
	rec.IsStreaming = true
	o.store.UpsertResponse(req.ID, rec)

	fail := func(err error) (types.ResponseRecord, error) {
		rec.Status = types.StatusError
		rec.Error = err.Error()
		rec.IsStreaming = false
		rec.ResponseTime = time.Since(start)
		o.store.UpsertResponse(req.ID, rec)
		return rec, err
	}

	out, err := o.buildRequest(p, req, true)
	if err != nil {
		return fail(err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.attemptTimeout(p))
	defer cancel()

	resp, err := o.send(ctx, out, true)
	if err != nil {
		return fail(fmt.Errorf("%s request failed: %w", p.Name, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
		return fail(composeConnectError(p.Name, resp.StatusCode, body))
	}

	var (
		lb   LineBuffer
		acc  strings.Builder
		done bool
	)

	handleLine := func(line string) error {
		if strings.TrimSpace(line) == "" {
			return nil
		}
		res, perr := llm.ParseLine(line, p.Dialect)
		if perr != nil {
			var parseErr *llm.ParseError
			if errors.As(perr, &parseErr) {
				// One corrupt line must not abort the stream.
				slog.Debug("skipping malformed stream line",
					"provider", p.Name, "error", perr)
				return nil
			}
			var upstream *llm.UpstreamError
			if errors.As(perr, &upstream) {
				return fmt.Errorf("%s API error: %s", p.Name, upstream.Message)
			}
			return perr
		}
		if res.Done {
			done = true
			return nil
		}
		if res.Text != "" {
			acc.WriteString(res.Text)
			rec.Content = acc.String()
			rec.ResponseTime = time.Since(start)
			o.store.UpsertResponse(req.ID, rec)
			if onDelta != nil {
				onDelta(res.Text)
			}
		}
		return nil
	}

	buf := make([]byte, 32*1024)
	for !done {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, line := range lb.Feed(buf[:n]) {
				if err := handleLine(line); err != nil {
					return fail(err)
				}
				if done {
					break
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return fail(fmt.Errorf("%s stream aborted: %w", p.Name, ctx.Err()))
			}
			return fail(fmt.Errorf("%s stream read: %w", p.Name, readErr))
		}
	}

	// The final line may arrive without a trailing newline.
	if !done {
		if last, ok := lb.Flush(); ok {
			if err := handleLine(last); err != nil {
				return fail(err)
			}
		}
	}

	rec.Status = types.StatusCompleted
	rec.IsStreaming = false
	rec.Content = acc.String()
	rec.ResponseTime = time.Since(start)
	if rec.Content != "" {
		rec.TokenUsage = o.estimator.Estimate(req.Prompt, rec.Content)
		rec.Cost = tokens.Cost(rec.TokenUsage)
	}
	o.store.UpsertResponse(req.ID, rec)
	return rec, nil
}

// Complete performs the synchronous single-shot call: the same request
// shape minus the stream flag. It does not publish; callers decide how the
// resulting record lands in the store (fallback, rerun, connection test).
func (o *Orchestrator) Complete(ctx context.Context, req types.GenerationRequest, p types.Provider) (types.ResponseRecord, error) {
	start := time.Now()
	rec := types.ResponseRecord{
		ID:           types.NewResponseID(),
		ProviderID:   p.ID,
		ProviderName: p.Name,
		Timestamp:    time.Now(),
	}

	finish := func(err error) (types.ResponseRecord, error) {
		rec.Status = types.StatusError
		rec.Error = err.Error()
		rec.ResponseTime = time.Since(start)
		return rec, err
	}

	out, err := o.buildRequest(p, req, false)
	if err != nil {
		return finish(err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.attemptTimeout(p))
	defer cancel()

	resp, err := o.send(ctx, out, false)
	if err != nil {
		return finish(fmt.Errorf("%s request failed: %w", p.Name, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return finish(fmt.Errorf("%s read response: %w", p.Name, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return finish(composeConnectError(p.Name, resp.StatusCode, body))
	}

	content, err := llm.ExtractContent(body, p.Dialect)
	if err != nil {
		var upstream *llm.UpstreamError
		if errors.As(err, &upstream) {
			return finish(fmt.Errorf("%s API error: %s", p.Name, upstream.Message))
		}
		return finish(fmt.Errorf("%s response: %w", p.Name, err))
	}

	rec.Status = types.StatusCompleted
	rec.Content = content
	rec.ResponseTime = time.Since(start)
	rec.TokenUsage = llm.ExtractUsage(body, p.Dialect)
	if rec.TokenUsage == nil && content != "" {
		rec.TokenUsage = o.estimator.Estimate(req.Prompt, content)
	}
	rec.Cost = tokens.Cost(rec.TokenUsage)
	return rec, nil
}

// buildRequest turns the provider snapshot and request parameters into an
// outbound call. The stored credential is decrypted here, immediately
// before use, and goes out of scope with the returned request.
func (o *Orchestrator) buildRequest(p types.Provider, req types.GenerationRequest, streaming bool) (*llm.OutboundRequest, error) {
	if err := p.Validate(); err != nil {
		return nil, &llm.BuildError{Reason: err.Error()}
	}

	var key string
	if p.APIKey != "" {
		var err error
		key, err = o.codec.Decrypt(p.APIKey)
		if err != nil {
			return nil, &llm.BuildError{Reason: fmt.Sprintf("provider %q: %v", p.Name, err)}
		}
	}

	s := req.Settings
	if s.MaxTokens == 0 {
		s.MaxTokens = p.MaxTokens
	}
	if s.Temperature == 0 && p.Temperature != 0 {
		s.Temperature = p.Temperature
	}
	if s.TopP == 0 && p.TopP != 0 {
		s.TopP = p.TopP
	}

	return llm.Build(llm.Request{
		Dialect:      p.Dialect,
		BaseURL:      p.BaseURL,
		Model:        p.Model,
		APIKey:       key,
		ExtraHeaders: p.ExtraHeaders,
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Temperature:  s.Temperature,
		MaxTokens:    s.MaxTokens,
		TopP:         s.TopP,
		Stream:       streaming,
	})
}

func (o *Orchestrator) attemptTimeout(p types.Provider) time.Duration {
	if p.TimeoutSeconds > 0 {
		return time.Duration(p.TimeoutSeconds) * time.Second
	}
	return o.timeout
}

// proxyEnvelope is the body shape the reverse proxy expects.
type proxyEnvelope struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Data    json.RawMessage   `json:"data"`
	Method  string            `json:"method,omitempty"`
}

// send issues the outbound POST, either directly to the provider or
// wrapped through the local reverse proxy when one is configured.
func (o *Orchestrator) send(ctx context.Context, out *llm.OutboundRequest, streaming bool) (*http.Response, error) {
	url := out.URL
	body := []byte(out.Body)
	headers := out.Headers

	if o.proxyURL != "" {
		endpoint := "/proxy/call"
		if streaming {
			endpoint = "/proxy/stream"
		}
		wrapped, err := json.Marshal(proxyEnvelope{URL: out.URL, Headers: out.Headers, Data: out.Body})
		if err != nil {
			return nil, fmt.Errorf("marshal proxy envelope: %w", err)
		}
		url = strings.TrimSuffix(o.proxyURL, "/") + endpoint
		body = wrapped
		headers = map[string]string{"Content-Type": "application/json"}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	return o.client.Do(httpReq)
}

// composeConnectError builds the user-facing message for a pre-stream
// failure: HTTP status, any structured error body, and targeted hints for
// the auth and rate-limit statuses.
func composeConnectError(provider string, status int, body []byte) error {
	msg := fmt.Sprintf("%s request failed: HTTP %d %s", provider, status, http.StatusText(status))

	var parsed struct {
		Error   json.RawMessage `json:"error"`
		Details string          `json:"details"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if detail := decodeErrorField(parsed.Error); detail != "" {
			msg += ": " + detail
		}
		if parsed.Details != "" {
			msg += " (" + parsed.Details + ")"
		}
	}

	switch status {
	case http.StatusUnauthorized:
		msg += " - Check your API key"
	case http.StatusForbidden:
		msg += " - Access denied, check your API key permissions"
	case http.StatusTooManyRequests:
		msg += " - Rate limit exceeded or out of credits"
	}

	return &ConnectError{Provider: provider, Status: status, Message: msg}
}

// decodeErrorField handles the two common shapes of an error field:
// a bare string or an object with a message.
func decodeErrorField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}
