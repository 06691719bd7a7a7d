package llm

import "fmt"

// Dialect identifies the wire format a backend speaks: the request shape
// and the streaming event grammar.
type Dialect string

const (
	// DialectOpenAI covers OpenAI and OpenAI-compatible servers such as
	// LM Studio and Text-Generation-WebUI.
	DialectOpenAI Dialect = "openai"
	// DialectAnthropic is the Anthropic messages API with typed SSE events.
	DialectAnthropic Dialect = "anthropic"
	// DialectOllama is newline-delimited JSON from the Ollama generate API.
	DialectOllama Dialect = "ollama"
	// DialectGeneric posts to a bare URL and probes a few common response
	// fields. Last resort for backends that speak none of the above.
	DialectGeneric Dialect = "generic"
)

// Valid reports whether d is one of the supported dialects.
func (d Dialect) Valid() bool {
	switch d {
	case DialectOpenAI, DialectAnthropic, DialectOllama, DialectGeneric:
		return true
	}
	return false
}

// ParseDialect converts a string to a Dialect, rejecting unknown values.
// The dialect is set once when a provider is created; it is never inferred
// from the provider's display name.
func ParseDialect(s string) (Dialect, error) {
	d := Dialect(s)
	if !d.Valid() {
		return "", fmt.Errorf("unknown dialect %q (want openai, anthropic, ollama, or generic)", s)
	}
	return d, nil
}

// Preset is a starting configuration for a known backend type.
type Preset struct {
	Dialect      Dialect
	BaseURL      string
	Model        string
	RequiresAuth bool
}

// Presets maps preset names accepted by `provider add --preset` to their
// default connection settings.
var Presets = map[string]Preset{
	"openai":    {Dialect: DialectOpenAI, BaseURL: "https://api.openai.com", Model: "gpt-4o-mini", RequiresAuth: true},
	"anthropic": {Dialect: DialectAnthropic, BaseURL: "https://api.anthropic.com", Model: "claude-sonnet-4-20250514", RequiresAuth: true},
	"ollama":    {Dialect: DialectOllama, BaseURL: "http://localhost:11434", Model: "llama3"},
	"lmstudio":  {Dialect: DialectOpenAI, BaseURL: "http://localhost:1234", Model: ""},
	"webui":     {Dialect: DialectOpenAI, BaseURL: "http://localhost:5000", Model: ""},
	"generic":   {Dialect: DialectGeneric},
}
