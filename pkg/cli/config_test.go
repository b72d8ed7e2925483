package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"short", "abc", "****"},
		{"exactly_10", "1234567890", "****"},
		{"long_token", "eyJhbGciOiJIUzI1NiJ9.payload.sig", "eyJh****.sig"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, maskSecret(tt.input))
		})
	}
}

func TestMaskConfig_DoesNotMutate(t *testing.T) {
	cfg := &UserConfig{
		CurrentProfile: "default",
		Profiles: map[string]Profile{
			"default": {Host: "http://localhost:8080", Token: "eyJhbGciOiJIUzI1NiJ9.payload.signature"},
		},
	}

	masked := maskConfig(cfg)

	assert.Equal(t, "http://localhost:8080", masked.Profiles["default"].Host)
	assert.Equal(t, "eyJh****ture", masked.Profiles["default"].Token)
	assert.Equal(t, "eyJhbGciOiJIUzI1NiJ9.payload.signature", cfg.Profiles["default"].Token)
}

func TestActiveProfile(t *testing.T) {
	cfg := &UserConfig{
		CurrentProfile: "dev",
		Profiles: map[string]Profile{
			"dev":  {Host: "http://dev"},
			"prod": {Host: "https://prod"},
		},
	}
	assert.Equal(t, "http://dev", cfg.ActiveProfile("").Host)
	assert.Equal(t, "https://prod", cfg.ActiveProfile("prod").Host)
	assert.Equal(t, Profile{}, cfg.ActiveProfile("missing"))
}

func TestSaveAndLoadUserConfig(t *testing.T) {
	t.Setenv(configDirEnv, t.TempDir())

	_, err := LoadUserConfig()
	require.Error(t, err)

	want := &UserConfig{
		CurrentProfile: "ci",
		Profiles:       map[string]Profile{"ci": {Host: "https://ci.example.com", Token: "t", Output: "json"}},
	}
	require.NoError(t, SaveUserConfig(want))

	got, err := LoadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
