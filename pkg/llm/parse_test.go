package llm

import (
	"errors"
	"testing"
)

func TestParseLine_OpenAIDelta(t *testing.T) {
	res, err := ParseLine(`data: {"choices":[{"delta":{"content":"Hel"}}]}`, DialectOpenAI)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "Hel" {
		t.Errorf("expected 'Hel', got %q", res.Text)
	}
}

func TestParseLine_OpenAIDone(t *testing.T) {
	res, err := ParseLine("data: [DONE]", DialectOpenAI)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Done {
		t.Error("expected done signal")
	}
}

func TestParseLine_OpenAIMessageContentFallback(t *testing.T) {
	// Some LM Studio builds send message.content or a top-level content
	// field instead of delta.content.
	cases := []struct {
		line string
		want string
	}{
		{`data: {"choices":[{"message":{"content":"from message"}}]}`, "from message"},
		{`data: {"content":"top level"}`, "top level"},
	}
	for _, tc := range cases {
		res, err := ParseLine(tc.line, DialectOpenAI)
		if err != nil {
			t.Fatal(err)
		}
		if res.Text != tc.want {
			t.Errorf("line %q: expected %q, got %q", tc.line, tc.want, res.Text)
		}
	}
}

func TestParseLine_OpenAIUpstreamError(t *testing.T) {
	_, err := ParseLine(`data: {"error":{"message":"model overloaded"}}`, DialectOpenAI)
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Message != "model overloaded" {
		t.Errorf("expected provider message, got %q", upstream.Message)
	}
}

func TestParseLine_OpenAIStringError(t *testing.T) {
	_, err := ParseLine(`data: {"error":"quota exceeded"}`, DialectOpenAI)
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Message != "quota exceeded" {
		t.Errorf("expected 'quota exceeded', got %q", upstream.Message)
	}
}

func TestParseLine_MalformedJSONIsRecoverable(t *testing.T) {
	res, err := ParseLine(`data: {"choices":[{"delta":`, DialectOpenAI)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if !res.Skip {
		t.Error("malformed line should be skippable")
	}
}

func TestParseLine_EmptyPayloadsSkip(t *testing.T) {
	for _, line := range []string{"data: ", "data: {}", "", "   "} {
		res, err := ParseLine(line, DialectOpenAI)
		if err != nil {
			t.Fatalf("line %q: %v", line, err)
		}
		if !res.Skip {
			t.Errorf("line %q: expected skip", line)
		}
	}
}

func TestParseLine_AnthropicSequence(t *testing.T) {
	lines := []string{
		`data: {"type":"message_start","message":{"id":"msg_1"}}`,
		`data: {"type":"content_block_start","index":0}`,
		`data: {"type":"content_block_delta","delta":{"text":"Hi"}}`,
		`data: {"type":"content_block_delta","delta":{"text":" there"}}`,
		`data: {"type":"content_block_stop","index":0}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
		`data: {"type":"message_stop"}`,
		`data: {"type":"ping"}`,
	}
	var got string
	for _, line := range lines {
		res, err := ParseLine(line, DialectAnthropic)
		if err != nil {
			t.Fatalf("line %q: %v", line, err)
		}
		got += res.Text
	}
	if got != "Hi there" {
		t.Errorf("expected 'Hi there', got %q", got)
	}
}

func TestParseLine_AnthropicUnknownTypeSkips(t *testing.T) {
	res, err := ParseLine(`data: {"type":"totally_new_event"}`, DialectAnthropic)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skip {
		t.Error("unknown event type should skip, not error")
	}
}

func TestParseLine_AnthropicError(t *testing.T) {
	_, err := ParseLine(`data: {"type":"error","error":{"message":"overloaded_error"}}`, DialectAnthropic)
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
}

func TestParseLine_Ollama(t *testing.T) {
	var got string
	for _, line := range []string{`{"response":"A"}`, `{"response":"B"}`, `{"done":true}`} {
		res, err := ParseLine(line, DialectOllama)
		if err != nil {
			t.Fatal(err)
		}
		got += res.Text
	}
	if got != "AB" {
		t.Errorf("expected 'AB', got %q", got)
	}
}

func TestParseLine_GenericExtractionOrder(t *testing.T) {
	cases := []struct {
		line string
		want string
	}{
		// content wins over text when both are present.
		{`{"content":"one","text":"two"}`, "one"},
		{`{"text":"two"}`, "two"},
		{`{"delta":{"content":"three"}}`, "three"},
		{`data: {"content":"sse framed"}`, "sse framed"},
		{`{"unrelated":true}`, ""},
	}
	for _, tc := range cases {
		res, err := ParseLine(tc.line, DialectGeneric)
		if err != nil {
			t.Fatalf("line %q: %v", tc.line, err)
		}
		if res.Text != tc.want {
			t.Errorf("line %q: expected %q, got %q", tc.line, tc.want, res.Text)
		}
	}
}

func TestParseLine_GenericDone(t *testing.T) {
	res, err := ParseLine("data: [DONE]", DialectGeneric)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Done {
		t.Error("expected done signal")
	}
}

func TestParseDialect(t *testing.T) {
	if _, err := ParseDialect("anthropic"); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseDialect("Anthropic API"); err == nil {
		t.Error("display-name-looking strings must not parse as dialects")
	}
}
