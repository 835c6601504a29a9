package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnv_Defaults(t *testing.T) {
	env, err := LoadEnv()
	require.NoError(t, err)

	assert.Equal(t, "local", env.Env)
	assert.Equal(t, "http://localhost:3000", env.APIBaseURL)
	assert.Equal(t, 30*time.Second, env.HTTPTimeout)
	assert.Equal(t, "local", env.StorageEnv.Type)
	assert.Equal(t, "en", env.Language)
	assert.True(t, env.Archive)
	assert.False(t, env.LocationEnv.HasFix())
	assert.Equal(t, slog.LevelInfo, env.SlogLevel())
}

func TestLoadEnv_Overrides(t *testing.T) {
	t.Setenv("FIELDGUILD_API_BASE_URL", "https://api.example.com")
	t.Setenv("FIELDGUILD_LOG_LEVEL", "debug")
	t.Setenv("FIELDGUILD_STORAGE_TYPE", "sqlite")
	t.Setenv("FIELDGUILD_LOCATION_LATITUDE", "28.61")
	t.Setenv("FIELDGUILD_LOCATION_LONGITUDE", "77.20")
	t.Setenv("FIELDGUILD_EVIDENCE_ARCHIVE", "false")

	env, err := LoadEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", env.APIBaseURL)
	assert.Equal(t, slog.LevelDebug, env.SlogLevel())
	assert.Equal(t, "sqlite", env.StorageEnv.Type)
	require.True(t, env.LocationEnv.HasFix())
	assert.InDelta(t, 28.61, *env.Latitude, 1e-9)
	assert.InDelta(t, 77.20, *env.Longitude, 1e-9)
	assert.False(t, env.Archive)
}
