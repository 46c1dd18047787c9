// Package tools implements the external capabilities agents can call:
// current weather and forecasts (Open-Meteo, Nominatim) and web search
// and research (Tavily).
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/nidhogg/relay/internal/provider"
)

// Tool is a single capability exposed to a model.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema of the arguments object.
	Parameters() map[string]any
	// Invoke runs the tool. Failures are always returned as *Error.
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// Kind classifies tool failures.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindNotFound     Kind = "not_found"
	KindTransport    Kind = "transport"
	KindUpstream     Kind = "upstream"
	KindDecode       Kind = "decode"
	KindUnknownTool  Kind = "unknown_tool"
	KindInternal     Kind = "internal"
)

// Error is returned by every tool failure.
type Error struct {
	Tool    string
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Tool, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(tool string, kind Kind, msg string, err error) *Error {
	return &Error{Tool: tool, Kind: kind, Message: msg, Err: err}
}

// KindOf returns the Kind of a tool error, or "" for other errors.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// Describe renders an error as the text handed back to a model in place of
// a tool result.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var te *Error
	if !errors.As(err, &te) {
		return "Error: " + err.Error()
	}
	msg := capitalize(te.Message)
	if te.Err != nil {
		msg += ": " + te.Err.Error()
	}
	return "Error: " + msg
}

func capitalize(s string) string {
	for i, r := range s {
		return string(unicode.ToUpper(r)) + s[i+len(string(r)):]
	}
	return s
}

// Definition converts a tool into the provider's function declaration.
func Definition(t Tool) provider.Tool {
	return provider.Tool{
		Type: "function",
		Function: provider.ToolFunction{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// funcTool adapts a closure to Tool.
type funcTool struct {
	name        string
	description string
	params      map[string]any
	fn          func(ctx context.Context, args json.RawMessage) (string, error)
}

func (f *funcTool) Name() string { return f.name }
func (f *funcTool) Description() string { return f.description }
func (f *funcTool) Parameters() map[string]any { return f.params }
func (f *funcTool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	return f.fn(ctx, args)
}

// objectSchema builds a JSON schema for an object of string/integer
// properties.
func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// decodeArgs unmarshals model-produced arguments. Empty input decodes to the
// zero value so that required-field checks report a useful message.
func decodeArgs(tool string, args json.RawMessage, v any) error {
	trimmed := strings.TrimSpace(string(args))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(trimmed), v); err != nil {
		return newError(tool, KindInvalidInput, "arguments are not valid JSON", err)
	}
	return nil
}
