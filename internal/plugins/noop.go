package plugins

import (
	"context"

	"github.com/arjunmehta/pipeworks/internal/registry"
	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

// NoopPlugin always succeeds without doing anything. Used by tests and as a
// placeholder plugin name in example pipelines.
type NoopPlugin struct{}

// NewNoopPlugin creates the noop plugin.
func NewNoopPlugin() *NoopPlugin {
	return &NoopPlugin{}
}

func (p *NoopPlugin) Name() string    { return "noop" }
func (p *NoopPlugin) Version() string { return "1.0.0" }

func (p *NoopPlugin) Execute(ctx context.Context, config map[string]interface{}, ec *registry.ExecutionContext) (pipeline.PluginResult, error) {
	return pipeline.PluginResult{Success: true, Output: "noop"}, nil
}
