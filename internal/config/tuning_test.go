package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	assert.Equal(t, 60.0, cfg.GetMatchThreshold())
	assert.Equal(t, 5, cfg.GetVerificationWindow())
	assert.Equal(t, 3, cfg.GetVerificationMajority())
	assert.Equal(t, 3, cfg.GetPartialWindow())
	assert.Equal(t, 2, cfg.GetPartialMajority())
	assert.Equal(t, 320.0, cfg.GetBoundaryX())
	assert.Equal(t, 30.0, cfg.GetHysteresisHalfWidth())
	assert.Equal(t, 5*time.Minute, cfg.GetTrackEvictionTimeout())
	assert.Equal(t, 5*time.Minute, cfg.GetGracePeriod())
	assert.Equal(t, 30*time.Second, cfg.GetScheduleCacheTTL())
	assert.Equal(t, time.Minute, cfg.GetPersistInterval())
	assert.Equal(t, ReentryOverwrite, cfg.GetReentryPolicy())
}

func TestLoadPartialConfig(t *testing.T) {
	path := writeConfig(t, `{"match_threshold": 70, "track_eviction_timeout": "2m"}`)

	cfg, err := LoadTuningConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 70.0, cfg.GetMatchThreshold())
	assert.Equal(t, 2*time.Minute, cfg.GetTrackEvictionTimeout())
	// Omitted fields keep defaults.
	assert.Equal(t, 5, cfg.GetVerificationWindow())
	assert.Equal(t, 5*time.Minute, cfg.GetGracePeriod())
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	_, err := LoadTuningConfig(path)
	assert.ErrorContains(t, err, ".json extension")
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{"match_threshold": `)

	_, err := LoadTuningConfig(path)
	assert.ErrorContains(t, err, "parse config JSON")
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"negative threshold", `{"match_threshold": -1}`, "match_threshold"},
		{"zero window", `{"verification_window": 0}`, "verification_window"},
		{"majority exceeds window", `{"verification_window": 3, "verification_majority": 4}`, "exceeds verification_window"},
		{"quality floor out of range", `{"quality_floor": 1.5}`, "quality_floor"},
		{"negative hysteresis", `{"hysteresis_half_width": -5}`, "hysteresis_half_width"},
		{"bad duration", `{"persist_interval": "sometimes"}`, "invalid duration"},
		{"negative duration", `{"schedule_cache_ttl": "-10s"}`, "must be positive"},
		{"unknown reentry policy", `{"reentry_policy": "extend"}`, "reentry_policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.body)
			_, err := LoadTuningConfig(path)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	cfg := LoadOrDefault(filepath.Join(t.TempDir(), "missing.json"))
	require.NotNil(t, cfg)
	assert.Equal(t, 60.0, cfg.GetMatchThreshold())
}

func TestDefaultsFileMatchesCompiledDefaults(t *testing.T) {
	// The canonical defaults file lives at the repo root; walk up from
	// the package directory.
	path := filepath.Join("..", "..", DefaultConfigPath)
	cfg, err := LoadTuningConfig(path)
	require.NoError(t, err)

	empty := EmptyTuningConfig()
	assert.Equal(t, empty.GetMatchThreshold(), cfg.GetMatchThreshold())
	assert.Equal(t, empty.GetVerificationWindow(), cfg.GetVerificationWindow())
	assert.Equal(t, empty.GetVerificationMajority(), cfg.GetVerificationMajority())
	assert.Equal(t, empty.GetBoundaryX(), cfg.GetBoundaryX())
	assert.Equal(t, empty.GetHysteresisHalfWidth(), cfg.GetHysteresisHalfWidth())
	assert.Equal(t, empty.GetTrackEvictionTimeout(), cfg.GetTrackEvictionTimeout())
	assert.Equal(t, empty.GetGracePeriod(), cfg.GetGracePeriod())
	assert.Equal(t, empty.GetPersistInterval(), cfg.GetPersistInterval())
	assert.Equal(t, empty.GetReentryPolicy(), cfg.GetReentryPolicy())
}
