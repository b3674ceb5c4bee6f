package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/pipelinestudio/pkg/loader"
	"github.com/tcmartin/pipelinestudio/pkg/registry"
	"github.com/tcmartin/pipelinestudio/pkg/services"
)

// execute runs the CLI with args and an isolated config file
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfg := filepath.Join(t.TempDir(), "cli-config.json")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfg}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeDefaultPipeline(t *testing.T, ext string) string {
	t.Helper()
	p, err := loader.DefaultPipeline(registry.Default())
	require.NoError(t, err)
	data, err := loader.Export(p, loader.PipelineMetadata{Name: "rag"}, ext)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pipeline."+ext)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", writeDefaultPipeline(t, "yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, `Pipeline "rag" is valid: 18 nodes, 32 edges`)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("version: 1\nnodes: []\n"), 0644))
	_, err = execute(t, "validate", bad)
	assert.Error(t, err)

	_, err = execute(t, "validate")
	assert.Error(t, err)
}

func TestScheduleCommand(t *testing.T) {
	out, err := execute(t, "schedule")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, "level 0: query_input", lines[0])
	assert.True(t, strings.HasSuffix(lines[len(lines)-1], ": response_output"))

	out, err = execute(t, "schedule", "--route", "out_of_scope")
	require.NoError(t, err)
	assert.NotContains(t, out, "qdrant_retrieval")

	_, err = execute(t, "schedule", "--route", "astrology")
	assert.EqualError(t, err, `unknown route "astrology"`)
}

func TestRoutesCommand(t *testing.T) {
	out, err := execute(t, "routes")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ROUTE"))
	for _, r := range []string{"chitchat", "code_generation", "direct_llm", "out_of_scope", "rag_knowledge_base"} {
		assert.Contains(t, out, r)
	}
}

func TestExportCommand(t *testing.T) {
	out, err := execute(t, "export", "--format", "json", "--name", "studio")
	require.NoError(t, err)
	def, err := loader.NewLoader(registry.Default()).Parse([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, "studio", def.Metadata.Name)
	assert.Len(t, def.Nodes, 18)

	path := filepath.Join(t.TempDir(), "out.json")
	_, err = execute(t, "export", "-o", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestRunCommandDemo(t *testing.T) {
	out, err := execute(t, "run", "hello there", "--route", "chitchat", "--level-cap-ms", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "started")
	assert.Contains(t, out, "status:  completed")
	assert.Contains(t, out, "route:   chitchat")
	assert.Contains(t, out, "qdrant_retrieval")
	assert.Contains(t, out, "skipped")
}

func TestRunCommandRejectsBadInput(t *testing.T) {
	_, err := execute(t, "run", "hi", "--mode", "turbo")
	assert.ErrorContains(t, err, "unknown execution mode")

	_, err = execute(t, "run", "hi", "--route", "astrology")
	assert.ErrorContains(t, err, "unknown route")

	_, err = execute(t, "run", "hi", "--mode", "live", "--backend", "")
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	out, err := execute(t, "token", "--secret", "s3cret", "--user", "alice", "--tenant", "acme")
	require.NoError(t, err)

	principal, err := services.NewTokenService("s3cret", 1).ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, services.Principal{UserID: "alice", TenantID: "acme"}, principal)

	_, err = execute(t, "token", "--secret", "", "--user", "alice")
	assert.Error(t, err)
}

func TestMigrateMemory(t *testing.T) {
	t.Setenv("PIPELINESTUDIO_STORAGE_TYPE", "memory")
	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Storage memory migrated and ready")
}

func TestServerCommands(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.Method + " " + r.URL.RequestURI()
		switch r.URL.Path {
		case "/api/v1/executions":
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"run_id":"r1","status":"running"}`))
		case "/api/v1/runs/missing":
			http.Error(w, "Run not found", http.StatusNotFound)
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "--token", "tok", "execute", "what is rag?", "--mode", "demo")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "POST /api/v1/executions", gotPath)
	assert.Equal(t, map[string]string{"query": "what is rag?", "mode": "demo"}, gotBody)
	assert.Contains(t, out, `"run_id": "r1"`)

	_, err = execute(t, "--server", srv.URL, "runs", "--limit", "5")
	require.NoError(t, err)
	assert.Equal(t, "GET /api/v1/runs?limit=5", gotPath)

	_, err = execute(t, "--server", srv.URL, "runs", "missing")
	assert.ErrorContains(t, err, "404")

	_, err = execute(t, "state")
	assert.EqualError(t, err, "server URL is required")
}

func TestLoginSavesConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"modes":{"demo":true}}`))
	}))
	defer srv.Close()

	cfg := filepath.Join(t.TempDir(), "nested", "cli-config.json")
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config", cfg, "--server", srv.URL, "--token", "tok", "login"})
	require.NoError(t, root.Execute())

	opts := &cliOptions{configPath: cfg}
	opts.loadConfig(&bytes.Buffer{})
	assert.Equal(t, srv.URL, opts.serverURL)
	assert.Equal(t, "tok", opts.token)
}
