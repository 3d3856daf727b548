package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

type stubPlugin struct {
	name, version string
	validated     map[string]interface{}
}

func (s *stubPlugin) Name() string    { return s.name }
func (s *stubPlugin) Version() string { return s.version }
func (s *stubPlugin) Execute(ctx context.Context, config map[string]interface{}, ec *ExecutionContext) (pipeline.PluginResult, error) {
	return pipeline.PluginResult{Success: true}, nil
}

type validatingStubPlugin struct {
	stubPlugin
	result ValidationResult
}

func (s *validatingStubPlugin) Validate(config map[string]interface{}) ValidationResult {
	return s.result
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := New(nil)
	p := &stubPlugin{name: "widget", version: "1.0.0"}
	require.NoError(t, r.Register(p))

	got, ok := r.Resolve("widget")
	assert.True(t, ok)
	assert.Equal(t, p, got)
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := New(nil)
	_, ok := r.Resolve("ghost")
	assert.False(t, ok)
}

func TestRegistry_RegisterRejectsMissingName(t *testing.T) {
	r := New(nil)
	err := r.Register(&stubPlugin{version: "1.0.0"})
	assert.Error(t, err)
}

func TestRegistry_RegisterRejectsMissingVersion(t *testing.T) {
	r := New(nil)
	err := r.Register(&stubPlugin{name: "widget"})
	assert.Error(t, err)
}

func TestRegistry_RegisterNil(t *testing.T) {
	r := New(nil)
	err := r.Register(nil)
	assert.Error(t, err)
}

func TestRegistry_Names(t *testing.T) {
	r := New(nil)
	r.Register(&stubPlugin{name: "a", version: "1.0.0"})
	r.Register(&stubPlugin{name: "b", version: "1.0.0"})
	assert.ElementsMatch(t, []string{"a", "b"}, r.Names())
}

func TestRegistry_ValidateConfig_UnknownPlugin(t *testing.T) {
	r := New(nil)
	result := r.ValidateConfig("ghost", nil)
	assert.False(t, result.Valid)
}

func TestRegistry_ValidateConfig_NoValidatorAssumedValid(t *testing.T) {
	r := New(nil)
	r.Register(&stubPlugin{name: "widget", version: "1.0.0"})
	result := r.ValidateConfig("widget", nil)
	assert.True(t, result.Valid)
}

func TestRegistry_ValidateConfig_DelegatesToValidator(t *testing.T) {
	r := New(nil)
	p := &validatingStubPlugin{
		stubPlugin: stubPlugin{name: "widget", version: "1.0.0"},
		result:     ValidationResult{Valid: false, Errors: []string{"bad config"}},
	}
	r.Register(p)
	result := r.ValidateConfig("widget", nil)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"bad config"}, result.Errors)
}

func TestRegistry_LoadDir_MissingDirIsNotAnError(t *testing.T) {
	r := New(nil)
	err := r.LoadDir(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.NoError(t, err)
}

func TestRegistry_LoadDir_RegistersValidManifests(t *testing.T) {
	dir := t.TempDir()
	manifest := `{"name":"remote","version":"2.0.0","endpoint":"http://example.com/exec"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "remote.plugin.json"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("noise"), 0o644))

	r := New(nil)
	require.NoError(t, r.LoadDir(dir))

	p, ok := r.Resolve("remote")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", p.Version())
}

func TestRegistry_LoadDir_SkipsMalformedManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.plugin.json"), []byte("{not json"), 0o644))

	r := New(nil)
	require.NoError(t, r.LoadDir(dir))
	assert.Empty(t, r.Names())
}

func TestRegistry_LoadDir_SkipsIncompleteManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "incomplete.plugin.json"), []byte(`{"name":"x"}`), 0o644))

	r := New(nil)
	require.NoError(t, r.LoadDir(dir))
	assert.Empty(t, r.Names())
}

func TestHTTPDelegate_ExecutePostsConfigAndDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var received map[string]interface{}
		json.NewDecoder(r.Body).Decode(&received)
		assert.Equal(t, "value", received["key"])
		json.NewEncoder(w).Encode(pipeline.PluginResult{Success: true, Output: "done"})
	}))
	defer srv.Close()

	dir := t.TempDir()
	manifest := `{"name":"remote","version":"1.0.0","endpoint":"` + srv.URL + `"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "remote.plugin.json"), []byte(manifest), 0o644))

	r := New(nil)
	require.NoError(t, r.LoadDir(dir))
	p, ok := r.Resolve("remote")
	require.True(t, ok)

	result, err := p.Execute(context.Background(), map[string]interface{}{"key": "value"}, &ExecutionContext{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "done", result.Output)
}
