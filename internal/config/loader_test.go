package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
sources:
  - tag: planningcenter
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultStage, cfg.Stage)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultAuditPath, cfg.Audit.Path)
	assert.Equal(t, DefaultRetentionDays, cfg.Audit.RetentionDays)
	assert.Equal(t, DefaultMaxBodyBytes, cfg.Audit.MaxBodyBytes)
	assert.Equal(t, DefaultDispatchRef, cfg.Dispatch.Ref)
	assert.Equal(t, PolicyLogOnly, cfg.Sources[0].Policy)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_CF_SECRET", "s3cr3t-from-env")

	path := writeConfig(t, `
sources:
  - tag: cloudflare
    policy: log_only
    secret: ${TEST_CF_SECRET}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t-from-env", cfg.Sources[0].Secret)
}

func TestLoadLowercasesTags(t *testing.T) {
	path := writeConfig(t, `
sources:
  - tag: PlanningCenter
    policy: dispatch
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, SourcePlanningCenter, cfg.Sources[0].Tag)
	require.NotNil(t, cfg.SourceByTag("PLANNINGCENTER"))
}

func TestLoadRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no sources",
			content: `listen: "127.0.0.1:9999"`,
			wantErr: "no webhook sources",
		},
		{
			name: "unknown tag",
			content: `
sources:
  - tag: github
`,
			wantErr: "not a recognized tag",
		},
		{
			name: "duplicate tag",
			content: `
sources:
  - tag: planningcenter
  - tag: planningcenter
`,
			wantErr: "more than once",
		},
		{
			name: "unknown policy",
			content: `
sources:
  - tag: planningcenter
    policy: maybe
`,
			wantErr: "unknown policy",
		},
		{
			name: "cloudflare without secret",
			content: `
sources:
  - tag: cloudflare
    policy: log_only
`,
			wantErr: "secret is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestKnownSource(t *testing.T) {
	assert.True(t, KnownSource("planningcenter"))
	assert.True(t, KnownSource("Cloudflare"))
	assert.False(t, KnownSource("facebook"))
	assert.False(t, KnownSource(""))
}
