package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/campus-sensing/presence.report/internal/monitoring"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Re-entry policies for the attendance ledger. "overwrite" replaces the
// recorded entry time on a repeated entry event; "keep-first" preserves
// the first one. The present counter increments at most once either way.
const (
	ReentryOverwrite = "overwrite"
	ReentryKeepFirst = "keep-first"
)

// TuningConfig represents the root configuration for tuning parameters.
// All fields are optional pointers; the Get* accessors supply compiled-in
// defaults for anything the JSON omits, so partial configs are safe.
type TuningConfig struct {
	// Recognition params
	MatchThreshold       *float64 `json:"match_threshold,omitempty"`       // LBPH distance; lower is more similar
	VerificationWindow   *int     `json:"verification_window,omitempty"`   // ring buffer size k
	VerificationMajority *int     `json:"verification_majority,omitempty"` // matches required in a full window
	PartialWindow        *int     `json:"partial_window,omitempty"`        // window size while the buffer fills
	PartialMajority      *int     `json:"partial_majority,omitempty"`      // matches required in a partial window
	QualityFloor         *float64 `json:"quality_floor,omitempty"`         // [0,1] crop quality gate

	// Boundary params
	BoundaryX           *float64 `json:"boundary_x,omitempty"`
	HysteresisHalfWidth *float64 `json:"hysteresis_half_width,omitempty"`

	// Tracker params
	TrackEvictionTimeout *string  `json:"track_eviction_timeout,omitempty"` // duration string like "5m"
	ProcessNoisePos      *float64 `json:"process_noise_pos,omitempty"`
	ProcessNoiseVel      *float64 `json:"process_noise_vel,omitempty"`
	MeasurementNoise     *float64 `json:"measurement_noise,omitempty"`
	MaxPredictDt         *float64 `json:"max_predict_dt,omitempty"` // seconds

	// Schedule params
	GraceMinutes     *int    `json:"grace_minutes,omitempty"`
	ScheduleCacheTTL *string `json:"schedule_cache_ttl,omitempty"` // duration string like "30s"

	// Ledger params
	PersistInterval *string `json:"persist_interval,omitempty"` // duration string like "60s"
	ReentryPolicy   *string `json:"reentry_policy,omitempty"`   // "overwrite" or "keep-first"
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// The Get* accessors will report the compiled-in defaults.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under
// the max file size. Fields omitted from the JSON retain their defaults.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads the tuning file at path, falling back to the
// compiled-in defaults on any failure. A malformed or missing tuning
// file is a recoverable configuration fault: it is surfaced as a
// warning, never fatal to the frame loop.
func LoadOrDefault(path string) *TuningConfig {
	cfg, err := LoadTuningConfig(path)
	if err != nil {
		monitoring.Logf("config: falling back to defaults: %v", err)
		return EmptyTuningConfig()
	}
	return cfg
}

// Validate checks value ranges and cross-field constraints.
func (c *TuningConfig) Validate() error {
	if c.MatchThreshold != nil && *c.MatchThreshold <= 0 {
		return fmt.Errorf("match_threshold must be positive, got %f", *c.MatchThreshold)
	}
	if c.VerificationWindow != nil && *c.VerificationWindow < 1 {
		return fmt.Errorf("verification_window must be >= 1, got %d", *c.VerificationWindow)
	}
	if c.VerificationMajority != nil && *c.VerificationMajority < 1 {
		return fmt.Errorf("verification_majority must be >= 1, got %d", *c.VerificationMajority)
	}
	if c.GetVerificationMajority() > c.GetVerificationWindow() {
		return fmt.Errorf("verification_majority %d exceeds verification_window %d",
			c.GetVerificationMajority(), c.GetVerificationWindow())
	}
	if c.GetPartialMajority() > c.GetPartialWindow() {
		return fmt.Errorf("partial_majority %d exceeds partial_window %d",
			c.GetPartialMajority(), c.GetPartialWindow())
	}
	if c.QualityFloor != nil && (*c.QualityFloor < 0 || *c.QualityFloor > 1) {
		return fmt.Errorf("quality_floor must be in [0,1], got %f", *c.QualityFloor)
	}
	if c.HysteresisHalfWidth != nil && *c.HysteresisHalfWidth < 0 {
		return fmt.Errorf("hysteresis_half_width must be non-negative, got %f", *c.HysteresisHalfWidth)
	}
	if c.GraceMinutes != nil && *c.GraceMinutes < 0 {
		return fmt.Errorf("grace_minutes must be non-negative, got %d", *c.GraceMinutes)
	}
	for name, v := range map[string]*string{
		"track_eviction_timeout": c.TrackEvictionTimeout,
		"schedule_cache_ttl":     c.ScheduleCacheTTL,
		"persist_interval":       c.PersistInterval,
	} {
		if v == nil {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", name, *v)
		}
	}
	if c.ReentryPolicy != nil {
		switch *c.ReentryPolicy {
		case ReentryOverwrite, ReentryKeepFirst:
		default:
			return fmt.Errorf("reentry_policy must be %q or %q, got %q",
				ReentryOverwrite, ReentryKeepFirst, *c.ReentryPolicy)
		}
	}
	return nil
}

// GetMatchThreshold returns the LBPH distance below which a candidate
// label is accepted as a match.
func (c *TuningConfig) GetMatchThreshold() float64 {
	if c.MatchThreshold != nil {
		return *c.MatchThreshold
	}
	return 60.0
}

// GetVerificationWindow returns the verification ring buffer size.
func (c *TuningConfig) GetVerificationWindow() int {
	if c.VerificationWindow != nil {
		return *c.VerificationWindow
	}
	return 5
}

// GetVerificationMajority returns the match count required in a full
// verification window.
func (c *TuningConfig) GetVerificationMajority() int {
	if c.VerificationMajority != nil {
		return *c.VerificationMajority
	}
	return 3
}

// GetPartialWindow returns the minimum buffer fill before the partial
// majority rule applies.
func (c *TuningConfig) GetPartialWindow() int {
	if c.PartialWindow != nil {
		return *c.PartialWindow
	}
	return 3
}

// GetPartialMajority returns the match count required while the buffer
// is still filling.
func (c *TuningConfig) GetPartialMajority() int {
	if c.PartialMajority != nil {
		return *c.PartialMajority
	}
	return 2
}

// GetQualityFloor returns the minimum crop quality accepted by the gate.
func (c *TuningConfig) GetQualityFloor() float64 {
	if c.QualityFloor != nil {
		return *c.QualityFloor
	}
	return 0.4
}

// GetBoundaryX returns the virtual boundary coordinate in frame units.
func (c *TuningConfig) GetBoundaryX() float64 {
	if c.BoundaryX != nil {
		return *c.BoundaryX
	}
	return 320.0
}

// GetHysteresisHalfWidth returns the half-width of the hysteresis band
// around the boundary.
func (c *TuningConfig) GetHysteresisHalfWidth() float64 {
	if c.HysteresisHalfWidth != nil {
		return *c.HysteresisHalfWidth
	}
	return 30.0
}

// GetTrackEvictionTimeout returns the inactivity timeout after which a
// track and its filter state are discarded.
func (c *TuningConfig) GetTrackEvictionTimeout() time.Duration {
	return c.duration(c.TrackEvictionTimeout, 5*time.Minute)
}

// GetProcessNoisePos returns the Kalman position process noise.
func (c *TuningConfig) GetProcessNoisePos() float64 {
	if c.ProcessNoisePos != nil {
		return *c.ProcessNoisePos
	}
	return 4.0
}

// GetProcessNoiseVel returns the Kalman velocity process noise.
func (c *TuningConfig) GetProcessNoiseVel() float64 {
	if c.ProcessNoiseVel != nil {
		return *c.ProcessNoiseVel
	}
	return 2.0
}

// GetMeasurementNoise returns the Kalman measurement noise.
func (c *TuningConfig) GetMeasurementNoise() float64 {
	if c.MeasurementNoise != nil {
		return *c.MeasurementNoise
	}
	return 9.0
}

// GetMaxPredictDt returns the maximum time step, in seconds, applied in
// a single Kalman predict.
func (c *TuningConfig) GetMaxPredictDt() float64 {
	if c.MaxPredictDt != nil {
		return *c.MaxPredictDt
	}
	return 0.5
}

// GetGracePeriod returns the symmetric attendance-window grace applied
// to each end of a period's nominal interval.
func (c *TuningConfig) GetGracePeriod() time.Duration {
	if c.GraceMinutes != nil {
		return time.Duration(*c.GraceMinutes) * time.Minute
	}
	return 5 * time.Minute
}

// GetScheduleCacheTTL returns how long the resolver may serve a cached
// period table before re-reading the store.
func (c *TuningConfig) GetScheduleCacheTTL() time.Duration {
	return c.duration(c.ScheduleCacheTTL, 30*time.Second)
}

// GetPersistInterval returns the cadence of ledger flushes to sqlite.
func (c *TuningConfig) GetPersistInterval() time.Duration {
	return c.duration(c.PersistInterval, time.Minute)
}

// GetReentryPolicy returns the ledger re-entry policy.
func (c *TuningConfig) GetReentryPolicy() string {
	if c.ReentryPolicy != nil {
		return *c.ReentryPolicy
	}
	return ReentryOverwrite
}

func (c *TuningConfig) duration(v *string, def time.Duration) time.Duration {
	if v == nil {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
