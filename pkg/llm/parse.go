package llm

import (
	"encoding/json"
	"strings"
)

// LineResult is the outcome of parsing one line from a provider stream.
// Exactly one of the three interpretations applies: the line carried text,
// signalled the end of the stream, or carried nothing useful.
type LineResult struct {
	Text string
	Done bool
	Skip bool
}

const ssePrefix = "data: "

// ParseLine interprets a single complete line according to the given
// dialect. It performs no I/O and holds no state.
//
// A *ParseError is returned for a line whose JSON cannot be decoded; callers
// should log it and continue with the next line. An *UpstreamError is
// returned when the provider embedded its own error in the payload; that one
// is fatal to the stream.
func ParseLine(line string, d Dialect) (LineResult, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return LineResult{Skip: true}, nil
	}

	switch d {
	case DialectOpenAI:
		return parseOpenAILine(line)
	case DialectAnthropic:
		return parseAnthropicLine(line)
	case DialectOllama:
		return parseOllamaLine(line)
	default:
		return parseGenericLine(line)
	}
}

// sseData strips the "data: " prefix and classifies the control payloads
// shared by SSE dialects: "[DONE]", empty data, and empty objects.
func sseData(line string) (data string, res LineResult, handled bool) {
	data = strings.TrimSpace(strings.TrimPrefix(line, ssePrefix))
	switch data {
	case "[DONE]":
		return "", LineResult{Done: true}, true
	case "", "{}":
		return "", LineResult{Skip: true}, true
	}
	return data, LineResult{}, false
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	// Some LM Studio builds put the text at the top level.
	Content *string    `json:"content"`
	Error   *wireError `json:"error"`
}

func parseOpenAILine(line string) (LineResult, error) {
	if !strings.HasPrefix(line, ssePrefix) {
		return LineResult{Skip: true}, nil
	}
	data, res, handled := sseData(line)
	if handled {
		return res, nil
	}

	var chunk openAIChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return LineResult{Skip: true}, &ParseError{Line: line, Err: err}
	}
	if chunk.Error != nil {
		return LineResult{}, &UpstreamError{Message: chunk.Error.Message}
	}
	if len(chunk.Choices) > 0 {
		if c := chunk.Choices[0].Delta.Content; c != nil {
			return LineResult{Text: *c}, nil
		}
		if c := chunk.Choices[0].Message.Content; c != nil {
			return LineResult{Text: *c}, nil
		}
	}
	if chunk.Content != nil {
		return LineResult{Text: *chunk.Content}, nil
	}
	return LineResult{Skip: true}, nil
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
	Error *wireError `json:"error"`
}

func parseAnthropicLine(line string) (LineResult, error) {
	if !strings.HasPrefix(line, ssePrefix) {
		return LineResult{Skip: true}, nil
	}
	data, res, handled := sseData(line)
	if handled {
		return res, nil
	}

	var ev anthropicEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return LineResult{Skip: true}, &ParseError{Line: line, Err: err}
	}
	if ev.Error != nil {
		return LineResult{}, &UpstreamError{Message: ev.Error.Message}
	}
	switch ev.Type {
	case "content_block_delta":
		return LineResult{Text: ev.Delta.Text}, nil
	default:
		// message_start, content_block_start, content_block_stop,
		// message_stop, message_delta, ping, and anything newer.
		return LineResult{Skip: true}, nil
	}
}

type ollamaChunk struct {
	Response string `json:"response"`
}

// parseOllamaLine handles standalone JSON objects with no SSE framing.
// Ollama has no explicit end marker; termination is the stream closing.
func parseOllamaLine(line string) (LineResult, error) {
	var chunk ollamaChunk
	if err := json.Unmarshal([]byte(line), &chunk); err != nil {
		return LineResult{Skip: true}, &ParseError{Line: line, Err: err}
	}
	return LineResult{Text: chunk.Response}, nil
}

type genericChunk struct {
	Content *string `json:"content"`
	Text    *string `json:"text"`
	Delta   struct {
		Content *string `json:"content"`
	} `json:"delta"`
}

// parseGenericLine probes arbitrary JSON with an ordered list of extraction
// rules: content, then text, then delta.content. The order is fixed so the
// lenient behavior stays auditable.
func parseGenericLine(line string) (LineResult, error) {
	data := line
	if strings.HasPrefix(line, ssePrefix) {
		var res LineResult
		var handled bool
		data, res, handled = sseData(line)
		if handled {
			return res, nil
		}
	}

	var chunk genericChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return LineResult{Skip: true}, &ParseError{Line: line, Err: err}
	}
	for _, field := range []*string{chunk.Content, chunk.Text, chunk.Delta.Content} {
		if field != nil {
			return LineResult{Text: *field}, nil
		}
	}
	return LineResult{Text: ""}, nil
}
