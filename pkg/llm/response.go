package llm

import (
	"encoding/json"
	"fmt"
)

// TokenUsage is the prompt/completion/total token triple reported by a
// provider, when it reports one at all.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ExtractContent pulls the generated text out of a complete (non-streaming)
// response body for the given dialect.
func ExtractContent(body []byte, d Dialect) (string, error) {
	switch d {
	case DialectOpenAI:
		var resp struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
			Content string     `json:"content"`
			Text    string     `json:"text"`
			Error   *wireError `json:"error"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if resp.Error != nil {
			return "", &UpstreamError{Message: resp.Error.Message}
		}
		if len(resp.Choices) > 0 {
			return resp.Choices[0].Message.Content, nil
		}
		if resp.Content != "" {
			return resp.Content, nil
		}
		return resp.Text, nil

	case DialectAnthropic:
		var resp struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			Error *wireError `json:"error"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if resp.Error != nil {
			return "", &UpstreamError{Message: resp.Error.Message}
		}
		if len(resp.Content) > 0 {
			return resp.Content[0].Text, nil
		}
		return "", nil

	case DialectOllama:
		var resp struct {
			Response string `json:"response"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		return resp.Response, nil

	default:
		var resp struct {
			Content  string `json:"content"`
			Text     string `json:"text"`
			Response string `json:"response"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if resp.Content != "" {
			return resp.Content, nil
		}
		if resp.Text != "" {
			return resp.Text, nil
		}
		return resp.Response, nil
	}
}

// ExtractUsage pulls the token-usage triple out of a complete response
// body. Returns nil when the dialect or the provider does not report usage.
func ExtractUsage(body []byte, d Dialect) *TokenUsage {
	switch d {
	case DialectOpenAI:
		var resp struct {
			Usage *TokenUsage `json:"usage"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil
		}
		return resp.Usage

	case DialectAnthropic:
		var resp struct {
			Usage *struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &resp); err != nil || resp.Usage == nil {
			return nil
		}
		return &TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}

	case DialectOllama:
		var resp struct {
			PromptEvalCount int `json:"prompt_eval_count"`
			EvalCount       int `json:"eval_count"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil
		}
		if resp.PromptEvalCount == 0 && resp.EvalCount == 0 {
			return nil
		}
		return &TokenUsage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		}

	default:
		return nil
	}
}
