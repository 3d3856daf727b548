package plugins

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/arjunmehta/pipeworks/internal/registry"
	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

// ShellPlugin runs a local command via os/exec. It is a development-time
// convenience and is not registered by default: an operator must opt in
// explicitly since arbitrary shell execution from pipeline config is a
// real footgun.
type ShellPlugin struct{}

// NewShellPlugin creates the shell plugin.
func NewShellPlugin() *ShellPlugin {
	return &ShellPlugin{}
}

func (p *ShellPlugin) Name() string    { return "shell" }
func (p *ShellPlugin) Version() string { return "1.0.0" }

func (p *ShellPlugin) Validate(config map[string]interface{}) registry.ValidationResult {
	if c, ok := config["command"].(string); !ok || c == "" {
		return registry.ValidationResult{Valid: false, Errors: []string{"shell plugin requires a non-empty 'command' config field"}}
	}
	return registry.ValidationResult{Valid: true}
}

func (p *ShellPlugin) Execute(ctx context.Context, config map[string]interface{}, ec *registry.ExecutionContext) (pipeline.PluginResult, error) {
	command, _ := config["command"].(string)
	if command == "" {
		return pipeline.PluginResult{}, fmt.Errorf("shell plugin: missing command")
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	for k, v := range ec.Variables {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return pipeline.PluginResult{
			Success: false,
			Error:   fmt.Sprintf("%v: %s", err, stderr.String()),
			Output:  stdout.String(),
		}, nil
	}

	return pipeline.PluginResult{Success: true, Output: stdout.String()}, nil
}
