package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nopLogger() *zap.Logger { return zap.NewNop() }

func echoTool(name string) Tool {
	return &funcTool{
		name:        name,
		description: "echo " + name,
		params:      objectSchema(map[string]any{"text": map[string]any{"type": "string"}}, "text"),
		fn: func(_ context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Text string `json:"text"`
			}
			if err := decodeArgs(name, raw, &args); err != nil {
				return "", err
			}
			return args.Text, nil
		},
	}
}

func TestRegistryDefinitionsKeepOrder(t *testing.T) {
	reg := NewRegistry(nopLogger())
	reg.Register(echoTool("b"))
	reg.Register(echoTool("a"))
	reg.Register(echoTool("b"))

	assert.Equal(t, []string{"b", "a"}, reg.Names())
	assert.Equal(t, 2, reg.Len())

	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "b", defs[0].Function.Name)
	assert.Equal(t, []string{"text"}, defs[0].Function.Parameters["required"])
}

func TestRegistryExecute(t *testing.T) {
	reg := NewRegistry(nopLogger())
	reg.Register(echoTool("echo"))

	out, err := reg.Execute(context.Background(), "echo", `{"text":"hi"}`)
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewRegistry(nopLogger())
	reg.Register(echoTool("echo"))

	_, err := reg.Execute(context.Background(), "launch_rockets", `{}`)
	require.Error(t, err)
	assert.Equal(t, KindUnknownTool, KindOf(err))
	assert.Contains(t, err.Error(), "echo")
}

func TestRegistryInvalidArguments(t *testing.T) {
	reg := NewRegistry(nopLogger())
	reg.Register(echoTool("echo"))

	_, err := reg.Execute(context.Background(), "echo", `{"text":`)
	require.Error(t, err)
	assert.Equal(t, KindInvalidInput, KindOf(err))
}

func TestRegistryRecoversPanics(t *testing.T) {
	reg := NewRegistry(nopLogger())
	reg.Register(&funcTool{
		name: "boom",
		fn: func(context.Context, json.RawMessage) (string, error) {
			panic("kaboom")
		},
	})

	out, err := reg.Execute(context.Background(), "boom", "")
	require.Error(t, err)
	assert.Empty(t, out)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Contains(t, Describe(err), "kaboom")
}

func TestDescribePlainError(t *testing.T) {
	assert.Equal(t, "", Describe(nil))
	assert.Equal(t, "Error: context deadline exceeded", Describe(context.DeadlineExceeded))
}
