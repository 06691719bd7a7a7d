package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

const anthropicVersion = "2023-06-01"

// Request carries everything needed to build one outbound call to a
// provider. The credential is the decrypted value; it lives only as long as
// the request being built.
type Request struct {
	Dialect      Dialect
	BaseURL      string
	Model        string
	APIKey       string
	ExtraHeaders map[string]string

	Prompt       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	TopP         float64

	// Stream selects the streaming wire format. The same builder serves the
	// streaming path and the synchronous fallback.
	Stream bool
}

// OutboundRequest is a fully-formed POST: where to send it, with which
// headers, and the JSON body.
type OutboundRequest struct {
	URL     string
	Headers map[string]string
	Body    json.RawMessage
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Build produces the outbound URL, headers, and payload for the request's
// dialect. Returns a *BuildError when the request violates a dialect
// precondition.
func Build(req Request) (*OutboundRequest, error) {
	if !req.Dialect.Valid() {
		return nil, &BuildError{Reason: fmt.Sprintf("invalid dialect %q", req.Dialect)}
	}
	if req.BaseURL == "" {
		return nil, &BuildError{Reason: "base URL is empty"}
	}

	switch req.Dialect {
	case DialectOpenAI:
		return buildOpenAI(req)
	case DialectAnthropic:
		return buildAnthropic(req)
	case DialectOllama:
		return buildOllama(req)
	default:
		return buildGeneric(req)
	}
}

func baseHeaders(req Request) map[string]string {
	h := map[string]string{
		"Content-Type": "application/json",
	}
	for k, v := range req.ExtraHeaders {
		h[k] = v
	}
	return h
}

func buildOpenAI(req Request) (*OutboundRequest, error) {
	var messages []chatMessage
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	headers := baseHeaders(req)
	if req.APIKey != "" {
		headers["Authorization"] = "Bearer " + req.APIKey
	}
	if req.Stream {
		headers["Accept"] = "text/event-stream"
		headers["Cache-Control"] = "no-cache"
	}

	body, err := json.Marshal(struct {
		Model       string        `json:"model"`
		Messages    []chatMessage `json:"messages"`
		Temperature float64       `json:"temperature"`
		MaxTokens   int           `json:"max_tokens"`
		TopP        float64       `json:"top_p"`
		Stream      bool          `json:"stream"`
	}{req.Model, messages, req.Temperature, req.MaxTokens, req.TopP, req.Stream})
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	return &OutboundRequest{
		URL:     strings.TrimSuffix(req.BaseURL, "/") + "/v1/chat/completions",
		Headers: headers,
		Body:    body,
	}, nil
}

func buildAnthropic(req Request) (*OutboundRequest, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, &BuildError{Reason: "prompt cannot be empty for the anthropic dialect"}
	}

	headers := baseHeaders(req)
	headers["anthropic-version"] = anthropicVersion
	if req.APIKey != "" {
		headers["x-api-key"] = req.APIKey
	}
	if req.Stream {
		headers["Accept"] = "text/event-stream"
		headers["Cache-Control"] = "no-cache"
	}

	body, err := json.Marshal(struct {
		Model       string        `json:"model"`
		MaxTokens   int           `json:"max_tokens"`
		Temperature float64       `json:"temperature"`
		TopP        float64       `json:"top_p"`
		Stream      bool          `json:"stream"`
		Messages    []chatMessage `json:"messages"`
		System      string        `json:"system,omitempty"`
	}{req.Model, req.MaxTokens, req.Temperature, req.TopP, req.Stream,
		[]chatMessage{{Role: "user", Content: req.Prompt}}, req.SystemPrompt})
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	return &OutboundRequest{
		URL:     strings.TrimSuffix(req.BaseURL, "/") + "/v1/messages",
		Headers: headers,
		Body:    body,
	}, nil
}

func buildOllama(req Request) (*OutboundRequest, error) {
	prompt := req.Prompt
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + req.Prompt
	}

	body, err := json.Marshal(struct {
		Model   string `json:"model"`
		Prompt  string `json:"prompt"`
		Stream  bool   `json:"stream"`
		Options struct {
			Temperature float64 `json:"temperature"`
			NumPredict  int     `json:"num_predict"`
			TopP        float64 `json:"top_p"`
		} `json:"options"`
	}{
		Model:  req.Model,
		Prompt: prompt,
		Stream: req.Stream,
		Options: struct {
			Temperature float64 `json:"temperature"`
			NumPredict  int     `json:"num_predict"`
			TopP        float64 `json:"top_p"`
		}{req.Temperature, req.MaxTokens, req.TopP},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	return &OutboundRequest{
		URL:     strings.TrimSuffix(req.BaseURL, "/") + "/api/generate",
		Headers: baseHeaders(req),
		Body:    body,
	}, nil
}

func buildGeneric(req Request) (*OutboundRequest, error) {
	headers := baseHeaders(req)
	if req.APIKey != "" {
		headers["Authorization"] = "Bearer " + req.APIKey
	}

	body, err := json.Marshal(struct {
		Prompt       string  `json:"prompt"`
		SystemPrompt string  `json:"system_prompt,omitempty"`
		Temperature  float64 `json:"temperature"`
		MaxTokens    int     `json:"max_tokens"`
		TopP         float64 `json:"top_p"`
		Stream       bool    `json:"stream"`
	}{req.Prompt, req.SystemPrompt, req.Temperature, req.MaxTokens, req.TopP, req.Stream})
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	return &OutboundRequest{
		URL:     req.BaseURL,
		Headers: headers,
		Body:    body,
	}, nil
}
