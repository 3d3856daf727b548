package plugins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arjunmehta/pipeworks/internal/registry"
)

func TestNoopPlugin_ExecuteAlwaysSucceeds(t *testing.T) {
	p := NewNoopPlugin()
	result, err := p.Execute(context.Background(), nil, &registry.ExecutionContext{})
	assert.NoError(t, err)
	assert.True(t, result.Success)
}

func TestNoopPlugin_NameAndVersion(t *testing.T) {
	p := NewNoopPlugin()
	assert.Equal(t, "noop", p.Name())
	assert.NotEmpty(t, p.Version())
}
