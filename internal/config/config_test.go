package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ENV", "LOG_LEVEL", "LISTEN_ADDR", "META_DB_PATH", "WORKFLOW_PATH", "REPO_DIR",
		"MAX_WORKERS", "DEFAULT_NODE_TIMEOUT", "REPORT_ARCHIVE_URL", "RATE_LIMIT_RPS",
		"RATE_LIMIT_BURST", "CORS_ALLOWED_ORIGINS", "AUTH_ISSUER_URL", "AUTH_JWKS_URL",
		"AUTH_AUDIENCE", "AUTH_ALLOWED_ISSUERS", "JWT_SECRET", "EXECUTOR",
		"NODE_CLASS_TIMEOUTS", "GUARD_MAX_STEPS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "cicore.sqlite", cfg.MetaDBPath)
	assert.Equal(t, ".cicore/workflow.yaml", cfg.WorkflowPath)
	assert.Equal(t, ".", cfg.RepoDir)
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.Equal(t, time.Hour, cfg.DefaultNodeTimeout)
	assert.Equal(t, map[string]time.Duration{"shell": 30 * time.Minute, "report": 5 * time.Minute}, cfg.ClassTimeouts)
	assert.Equal(t, uint64(10_000), cfg.GuardMaxSteps)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.NotEmpty(t, cfg.Warnings, "disabled auth should produce a warning")
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_WORKERS", "12")
	t.Setenv("DEFAULT_NODE_TIMEOUT", "45m")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("REPORT_ARCHIVE_URL", "s3://reports/ci")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.MaxWorkers)
	assert.Equal(t, 45*time.Minute, cfg.DefaultNodeTimeout)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.Auth.Enabled())
	assert.False(t, cfg.Auth.OIDCEnabled())
	assert.Equal(t, "s3://reports/ci", cfg.ReportArchiveURL)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"non numeric workers", "MAX_WORKERS", "many"},
		{"zero workers", "MAX_WORKERS", "0"},
		{"bad timeout", "DEFAULT_NODE_TIMEOUT", "forever"},
		{"class timeout without class", "NODE_CLASS_TIMEOUTS", "=5m"},
		{"class timeout bad duration", "NODE_CLASS_TIMEOUTS", "shell=soon"},
		{"zero guard steps", "GUARD_MAX_STEPS", "0"},
		{"bad executor", "EXECUTOR", "docker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			_, err := LoadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoadFromEnv_PipelineLimits(t *testing.T) {
	clearEnv(t)
	t.Setenv("NODE_CLASS_TIMEOUTS", "shell=45m, lint=2m")
	t.Setenv("GUARD_MAX_STEPS", "500")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, map[string]time.Duration{"shell": 45 * time.Minute, "lint": 2 * time.Minute}, cfg.ClassTimeouts)
	assert.Equal(t, uint64(500), cfg.GuardMaxSteps)
}

func TestLoadFromEnv_IssuerRequiresAudience(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_ISSUER_URL", "https://issuer.example")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_AUDIENCE")
}

func TestLoadFromEnv_ProductionRequiresAuthAndCORS(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV", "production")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication")

	t.Setenv("JWT_SECRET", "s3cret")
	_, err = LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CORS")

	t.Setenv("CORS_ALLOWED_ORIGINS", "https://ci.example")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\n\nexport CICORE_TEST_A=\"quoted\"\nCICORE_TEST_B='single'\nCICORE_TEST_C=keep\nmalformed\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CICORE_TEST_C", "from-env")
	require.NoError(t, os.Unsetenv("CICORE_TEST_A"))
	require.NoError(t, os.Unsetenv("CICORE_TEST_B"))
	t.Cleanup(func() {
		_ = os.Unsetenv("CICORE_TEST_A")
		_ = os.Unsetenv("CICORE_TEST_B")
	})

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "quoted", os.Getenv("CICORE_TEST_A"))
	assert.Equal(t, "single", os.Getenv("CICORE_TEST_B"))
	assert.Equal(t, "from-env", os.Getenv("CICORE_TEST_C"))
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}
