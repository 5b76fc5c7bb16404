package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parishworks/hookgate/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func testClient(cfg config.DispatchConfig, baseURL string) *Client {
	c := New(cfg, testLogger())
	if baseURL != "" {
		c.baseURL = baseURL
	}
	return c
}

func TestDispatchMissingConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.DispatchConfig
		wantErr string
	}{
		{
			name:    "missing repository",
			cfg:     config.DispatchConfig{Token: "ghp_x", Workflow: "rebuild.yml"},
			wantErr: "missing target repository",
		},
		{
			name:    "missing token",
			cfg:     config.DispatchConfig{Repository: "acme/site", Workflow: "rebuild.yml"},
			wantErr: "missing GitHub token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// No server: a network call would fail loudly, proving the
			// config check short-circuits first.
			c := testClient(tt.cfg, "http://127.0.0.1:1")
			res := c.Dispatch(context.Background(), "planningcenter")
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, tt.wantErr)
			assert.Contains(t, res.Error, "not configured")
		})
	}
}

func TestDispatchSuccess(t *testing.T) {
	var gotPath string
	var gotBody dispatchBody
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := testClient(config.DispatchConfig{
		Repository: "acme/site",
		Workflow:   "rebuild.yml",
		Ref:        "main",
		Token:      "ghp_testtoken",
	}, srv.URL)

	res := c.Dispatch(context.Background(), "cloudflare")
	require.True(t, res.Success, "error: %s", res.Error)
	assert.Empty(t, res.RunID, "run id is not known synchronously")
	assert.Equal(t, "/repos/acme/site/actions/workflows/rebuild.yml/dispatches", gotPath)
	assert.Equal(t, "Bearer ghp_testtoken", gotAuth)
	assert.Equal(t, "main", gotBody.Ref)
	assert.Equal(t, "cloudflare", gotBody.Inputs["triggered_by"])
}

func TestDispatchNon204CapturesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Workflow does not have 'workflow_dispatch' trigger"}`))
	}))
	defer srv.Close()

	c := testClient(config.DispatchConfig{
		Repository: "acme/site",
		Workflow:   "rebuild.yml",
		Ref:        "main",
		Token:      "ghp_x",
	}, srv.URL)

	res := c.Dispatch(context.Background(), "planningcenter")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "github responded 422")
	assert.Contains(t, res.Error, "workflow_dispatch")
}

func TestDispatchTimeoutIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := testClient(config.DispatchConfig{
		Repository: "acme/site",
		Workflow:   "rebuild.yml",
		Ref:        "main",
		Token:      "ghp_x",
	}, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := c.Dispatch(ctx, "planningcenter")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
}
