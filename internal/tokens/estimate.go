// internal/tokens/estimate.go
package tokens

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"github.com/sebastienb/LLMComp/pkg/llm"
)

// costPer1KTokens is a rough flat rate; comparing relative cost across
// providers only needs the same yardstick, not billing-grade accuracy.
const costPer1KTokens = 0.002

// Estimator counts tokens for cost estimation. When a provider reports
// real usage we prefer that; the estimator fills the gap for streaming
// responses, which usually carry no usage at all.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator builds an estimator on the cl100k_base encoding. If the
// encoding cannot be loaded (offline first run), the estimator falls back
// to a character heuristic rather than failing.
func NewEstimator() *Estimator {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("tokenizer unavailable, using character heuristic", "error", err)
		return &Estimator{}
	}
	return &Estimator{enc: enc}
}

// Count returns the token count for a string. Safe on a nil receiver.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e == nil || e.enc == nil {
		return ApproxTokens(text)
	}
	return len(e.enc.Encode(text, nil, nil))
}

// Estimate builds a usage triple from prompt and completion text.
func (e *Estimator) Estimate(prompt, completion string) *llm.TokenUsage {
	p := e.Count(prompt)
	c := e.Count(completion)
	if p == 0 && c == 0 {
		return nil
	}
	return &llm.TokenUsage{
		PromptTokens:     p,
		CompletionTokens: c,
		TotalTokens:      p + c,
	}
}

// ApproxTokens is the fallback heuristic: about four characters per token
// for English-ish text.
func ApproxTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}

// Cost converts a usage triple to the rough linear cost estimate.
func Cost(u *llm.TokenUsage) float64 {
	if u == nil {
		return 0
	}
	return float64(u.TotalTokens) / 1000 * costPer1KTokens
}
