// Package registry implements the plugin registry: a name-keyed lookup of
// execute capabilities that the executor resolves tasks against.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

// ExecutionContext is the contract the Executor exposes to plugins.
type ExecutionContext struct {
	Pipeline        *pipeline.Pipeline
	Task            *pipeline.Task
	ExecutionID     string
	Logger          *logrus.Entry
	State           StateHandle
	PreviousResults map[string]pipeline.PluginResult
	Variables       map[string]string
}

// StateHandle is the narrow slice of the state store a plugin may touch.
type StateHandle interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// ValidationResult is returned by a plugin's optional Validate method.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Plugin is the capability every registered execute target satisfies.
type Plugin interface {
	Name() string
	Version() string
	Execute(ctx context.Context, config map[string]interface{}, ec *ExecutionContext) (pipeline.PluginResult, error)
}

// Validator is optionally implemented by a Plugin to allow pre-flight
// config checks before a run starts.
type Validator interface {
	Validate(config map[string]interface{}) ValidationResult
}

// Registry holds registered plugins by name, guarded for concurrent reads
// from executor worker goroutines and occasional writes from discovery.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	log     *logrus.Logger
}

// New creates an empty Registry.
func New(log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{plugins: make(map[string]Plugin), log: log}
}

// Register adds a plugin, rejecting one missing a name or version.
func (r *Registry) Register(p Plugin) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("plugin registration requires a name")
	}
	if p.Version() == "" {
		return fmt.Errorf("plugin %q registration requires a version", p.Name())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.Name()] = p
	return nil
}

// Resolve returns the plugin registered under name, or false if unknown.
func (r *Registry) Resolve(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// ValidateConfig delegates to the named plugin's Validate method if it
// implements Validator; plugins without one are assumed always valid.
func (r *Registry) ValidateConfig(name string, config map[string]interface{}) ValidationResult {
	p, ok := r.Resolve(name)
	if !ok {
		return ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("unknown plugin %q", name)}}
	}
	if v, ok := p.(Validator); ok {
		return v.Validate(config)
	}
	return ValidationResult{Valid: true}
}

// Names returns the names of every registered plugin.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for n := range r.plugins {
		names = append(names, n)
	}
	return names
}

// manifest describes an externally-hosted HTTP plugin discovered from disk.
type manifest struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Endpoint string `json:"endpoint"`
}

// LoadDir scans dir for `*.plugin.json` manifests and registers an
// httpDelegate plugin per manifest. A malformed manifest is logged and
// skipped; it never aborts the scan.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scanning plugin directory %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".plugin.json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			r.log.WithError(err).WithField("file", path).Warn("skipping unreadable plugin manifest")
			continue
		}
		var m manifest
		if err := json.Unmarshal(data, &m); err != nil {
			r.log.WithError(err).WithField("file", path).Warn("skipping malformed plugin manifest")
			continue
		}
		if m.Name == "" || m.Version == "" || m.Endpoint == "" {
			r.log.WithField("file", path).Warn("skipping plugin manifest missing name/version/endpoint")
			continue
		}
		if err := r.Register(newHTTPDelegate(m.Name, m.Version, m.Endpoint)); err != nil {
			r.log.WithError(err).WithField("file", path).Warn("skipping plugin manifest")
		}
	}
	return nil
}
