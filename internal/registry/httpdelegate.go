package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

// httpDelegate is what LoadDir registers for a manifest-discovered external
// plugin: it POSTs the task config as JSON to a fixed endpoint and decodes
// the response body as the plugin result.
type httpDelegate struct {
	name     string
	version  string
	endpoint string
	client   *http.Client
}

func newHTTPDelegate(name, version, endpoint string) *httpDelegate {
	return &httpDelegate{name: name, version: version, endpoint: endpoint, client: &http.Client{}}
}

func (d *httpDelegate) Name() string    { return d.name }
func (d *httpDelegate) Version() string { return d.version }

func (d *httpDelegate) Execute(ctx context.Context, config map[string]interface{}, ec *ExecutionContext) (pipeline.PluginResult, error) {
	payload, err := json.Marshal(config)
	if err != nil {
		return pipeline.PluginResult{}, fmt.Errorf("httpDelegate %s: encoding config: %w", d.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return pipeline.PluginResult{}, fmt.Errorf("httpDelegate %s: building request: %w", d.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return pipeline.PluginResult{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	var result pipeline.PluginResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return pipeline.PluginResult{Success: false, Error: fmt.Sprintf("decoding delegate response: %v", err)}, nil
	}
	return result, nil
}
