package plugins

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunmehta/pipeworks/internal/registry"
)

func TestShellPlugin_ExecuteCapturesStdout(t *testing.T) {
	p := NewShellPlugin()
	result, err := p.Execute(context.Background(), map[string]interface{}{"command": "echo hello"}, &registry.ExecutionContext{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hello\n", result.Output)
}

func TestShellPlugin_ExecuteFailingCommand(t *testing.T) {
	p := NewShellPlugin()
	result, err := p.Execute(context.Background(), map[string]interface{}{"command": "exit 1"}, &registry.ExecutionContext{})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestShellPlugin_ExecuteMissingCommand(t *testing.T) {
	p := NewShellPlugin()
	_, err := p.Execute(context.Background(), map[string]interface{}{}, &registry.ExecutionContext{})
	assert.Error(t, err)
}

func TestShellPlugin_ExecutePassesVariablesAsEnv(t *testing.T) {
	p := NewShellPlugin()
	ec := &registry.ExecutionContext{Variables: map[string]string{"GREETING": "hi"}}
	result, err := p.Execute(context.Background(), map[string]interface{}{"command": "echo $GREETING"}, ec)
	require.NoError(t, err)
	assert.True(t, strings.Contains(result.Output.(string), "hi"))
}

func TestShellPlugin_ValidateRequiresCommand(t *testing.T) {
	p := NewShellPlugin()
	assert.False(t, p.Validate(map[string]interface{}{}).Valid)
	assert.True(t, p.Validate(map[string]interface{}{"command": "echo ok"}).Valid)
}
