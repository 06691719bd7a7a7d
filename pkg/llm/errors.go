package llm

import (
	"encoding/json"
	"fmt"
)

// BuildError reports malformed provider configuration or a request
// precondition failure. It is fatal to the attempt it belongs to.
type BuildError struct {
	Reason string
}

func (e *BuildError) Error() string {
	return "build request: " + e.Reason
}

// UpstreamError is an error the provider itself reported inside an
// otherwise-valid payload. Its message is surfaced to the user verbatim.
type UpstreamError struct {
	Message string
}

func (e *UpstreamError) Error() string {
	return e.Message
}

// ParseError marks a single malformed line within a healthy stream.
// Callers log it and move on; it never aborts the stream.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse stream line: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// wireError decodes the `error` field providers embed in payloads, which
// may be an object with a message, a bare string, or anything else.
type wireError struct {
	Message string
}

func (e *wireError) UnmarshalJSON(data []byte) error {
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Message != "" {
		e.Message = obj.Message
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Message = s
		return nil
	}
	e.Message = string(data)
	return nil
}
