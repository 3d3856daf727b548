// Package plugins holds the built-in execute capabilities registered with
// the plugin registry: http, shell and noop.
package plugins

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/arjunmehta/pipeworks/internal/circuitbreaker"
	"github.com/arjunmehta/pipeworks/internal/registry"
	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

// HTTPPlugin issues HTTP requests. Config keys: method (default GET), url
// (required), body (optional string), headers (optional string map). Every
// distinct target host gets its own circuit breaker so one flaky
// downstream doesn't gate requests to another.
type HTTPPlugin struct {
	client *http.Client

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.CircuitBreaker
}

// NewHTTPPlugin creates the http plugin.
func NewHTTPPlugin() *HTTPPlugin {
	return &HTTPPlugin{
		client:   &http.Client{},
		breakers: make(map[string]*circuitbreaker.CircuitBreaker),
	}
}

func (p *HTTPPlugin) Name() string    { return "http" }
func (p *HTTPPlugin) Version() string { return "1.0.0" }

func (p *HTTPPlugin) Validate(config map[string]interface{}) registry.ValidationResult {
	var errs []string
	if u, ok := config["url"].(string); !ok || u == "" {
		errs = append(errs, "http plugin requires a non-empty 'url' config field")
	}
	return registry.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func (p *HTTPPlugin) Execute(ctx context.Context, config map[string]interface{}, ec *registry.ExecutionContext) (pipeline.PluginResult, error) {
	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	url, _ := config["url"].(string)
	if url == "" {
		return pipeline.PluginResult{}, fmt.Errorf("http plugin: missing url")
	}

	var body io.Reader
	if b, ok := config["body"].(string); ok && b != "" {
		body = bytes.NewBufferString(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return pipeline.PluginResult{}, fmt.Errorf("http plugin: building request: %w", err)
	}
	if headers, ok := config["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	breaker := p.breakerFor(req.URL.Host)

	var resp *http.Response
	err = breaker.Execute(ctx, func() error {
		var doErr error
		resp, doErr = p.client.Do(req)
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return pipeline.PluginResult{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return pipeline.PluginResult{Success: false, Error: fmt.Sprintf("reading response: %v", err)}, nil
	}

	if resp.StatusCode >= 400 {
		return pipeline.PluginResult{
			Success: false,
			Error:   fmt.Sprintf("http status %d", resp.StatusCode),
			Metadata: map[string]interface{}{
				"status": resp.StatusCode,
				"body":   string(respBody),
			},
		}, nil
	}

	return pipeline.PluginResult{
		Success: true,
		Output:  string(respBody),
		Metadata: map[string]interface{}{
			"status": resp.StatusCode,
		},
	}, nil
}

func (p *HTTPPlugin) breakerFor(host string) *circuitbreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.breakers[host]; ok {
		return cb
	}
	cb := circuitbreaker.New(&circuitbreaker.Config{
		Name:                host,
		MaxFailures:         5,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 1,
		IsSuccessful:        func(err error) bool { return err == nil },
	})
	p.breakers[host] = cb
	return cb
}
