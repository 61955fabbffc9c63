package command

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverrideRepository(t *testing.T) {
	t.Setenv("network", "local")
	t.Setenv("track", "default")

	repo := newOverrideRepository(env.NewRepository(),
		GlobalOpts{Network: "ic", Concurrency: 3, Verbose: true}.overrides(),
		UpgradeOpts{Version: "1.0.0"}.overrides(),
	)

	assert.Equal(t, "ic", repo.Get("network"))
	assert.Equal(t, "3", repo.Get("concurrency"))
	assert.Equal(t, "true", repo.Get("verbose"))
	assert.Equal(t, "1.0.0", repo.Get("version"))
	assert.Equal(t, "default", repo.Get("track"))
}

func TestGlobalOpts_LegacyChunks(t *testing.T) {
	assert.Equal(t, "1000000", GlobalOpts{Legacy: true}.overrides()["chunk_size"])
	assert.Equal(t, "2048", GlobalOpts{Legacy: true, ChunkSize: 2048}.overrides()["chunk_size"])
	_, ok := GlobalOpts{}.overrides()["chunk_size"]
	assert.False(t, ok)
}

type gateway struct {
	mu    sync.Mutex
	calls []string
	keys  []string
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, r.URL.Path)

	var body struct {
		Operations []struct {
			StoreAsset struct {
				Key string `json:"key"`
			} `json:"StoreAsset"`
		} `json:"operations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		for _, op := range body.Operations {
			g.keys = append(g.keys, op.StoreAsset.Key)
		}
	}
	_, _ = w.Write([]byte(`{"Ok":null}`))
}

func TestUploadAssets_Run(t *testing.T) {
	gw := &gateway{}
	server := httptest.NewServer(gw)
	defer server.Close()

	root := t.TempDir()
	ids := filepath.Join(root, "canister_ids.json")
	require.NoError(t, os.WriteFile(ids, []byte(`{"child":{"local":"child-id"}}`), 0644))
	build := filepath.Join(root, "build")
	require.NoError(t, os.MkdirAll(filepath.Join(build, "js"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(build, "index.html"), []byte("<html/>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(build, "js", "app.js"), []byte("app"), 0644))

	c, err := NewUploadAssets()
	require.NoError(t, err)
	cmd := c.(*UploadAssets)
	cmd.envs = newOverrideRepository(env.NewRepository(), map[string]string{
		"network":           "local",
		"store_backend":     "gateway",
		"gateway_url":       server.URL,
		"canister_ids_file": ids,
		"journal_path":      "",
	})

	code := cmd.Run([]string{"--dir", build})
	require.Equal(t, 0, code)

	assert.Equal(t, []string{"/child-id/execute_batch"}, gw.calls)
	assert.Equal(t, []string{"/index.html", "/js/app.js"}, gw.keys)
}

func TestUploadAssets_InvalidConfig(t *testing.T) {
	c, err := NewUploadAssets()
	require.NoError(t, err)
	cmd := c.(*UploadAssets)
	cmd.envs = newOverrideRepository(env.NewRepository(), nil)

	assert.Equal(t, 2, cmd.Run([]string{"--store-backend", "ftp"}))
}

func TestDeployTemplate_RequiresWasm(t *testing.T) {
	c, err := NewDeployTemplate()
	require.NoError(t, err)

	assert.Equal(t, 1, c.Run([]string{"--canister", "template"}))
}
