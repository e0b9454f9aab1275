package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// All fields are pointers so a partial JSON file overrides only what it
// names; the Get* accessors supply defaults for everything else.
type TuningConfig struct {
	// Tracker params
	ProcessNoisePos        *float64 `json:"process_noise_pos,omitempty"`
	ProcessNoiseVel        *float64 `json:"process_noise_vel,omitempty"`
	MeasurementNoise       *float64 `json:"measurement_noise,omitempty"`
	BaseGateRadius         *float64 `json:"base_gate_radius,omitempty"`
	GateVelocityScale      *float64 `json:"gate_velocity_scale,omitempty"`
	MaxMissedFrames        *int     `json:"max_missed_frames,omitempty"`
	MinDetectionConfidence *float64 `json:"min_detection_confidence,omitempty"`
	ConfidenceDecay        *float64 `json:"confidence_decay,omitempty"`
	ConfidenceBoost        *float64 `json:"confidence_boost,omitempty"`
	MinSegmentPoints       *int     `json:"min_segment_points,omitempty"`

	// Movement classifier params
	Gravity                 *float64 `json:"gravity,omitempty"`
	GravityTolerance        *float64 `json:"gravity_tolerance,omitempty"`
	ClassifierMinPoints     *int     `json:"classifier_min_points,omitempty"`
	CarriedMaxVerticalAccel *float64 `json:"carried_max_vertical_accel,omitempty"`
	CarriedSpeedVariance    *float64 `json:"carried_speed_variance,omitempty"`
	RollingMaxVerticalSpeed *float64 `json:"rolling_max_vertical_speed,omitempty"`
	MaxAccelVariance        *float64 `json:"max_accel_variance,omitempty"`

	// Physics gate params
	MinPointsForFit   *int     `json:"min_points_for_fit,omitempty"`
	MinRSquared       *float64 `json:"min_r_squared,omitempty"`
	MinGateConfidence *float64 `json:"min_gate_confidence,omitempty"`
	MaxResidual       *float64 `json:"max_residual,omitempty"`

	// Rally decider params
	StartDebounceFrames *int `json:"start_debounce_frames,omitempty"`
	EndDebounceFrames   *int `json:"end_debounce_frames,omitempty"`

	// Segment builder params
	StartPadding          *float64 `json:"start_padding,omitempty"`
	EndPadding            *float64 `json:"end_padding,omitempty"`
	ShortSegmentThreshold *float64 `json:"short_segment_threshold,omitempty"`
	MaxPrerollForShort    *float64 `json:"max_preroll_for_short,omitempty"`
	MergeGap              *float64 `json:"merge_gap,omitempty"`
	MinSegmentDuration    *float64 `json:"min_segment_duration,omitempty"`
	ContactSpeedJump      *float64 `json:"contact_speed_jump,omitempty"`
	ContactMinSeparation  *float64 `json:"contact_min_separation,omitempty"`

	// Pipeline params
	SignalWindow     *int    `json:"signal_window,omitempty"`
	ProgressInterval *string `json:"progress_interval,omitempty"` // duration string like "500ms"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.Gravity != nil && *c.Gravity <= 0 {
		return fmt.Errorf("gravity must be positive, got %f", *c.Gravity)
	}
	if c.ConfidenceDecay != nil {
		if *c.ConfidenceDecay <= 0 || *c.ConfidenceDecay >= 1 {
			return fmt.Errorf("confidence_decay must be in (0, 1), got %f", *c.ConfidenceDecay)
		}
	}
	if c.MinRSquared != nil {
		if *c.MinRSquared < 0 || *c.MinRSquared > 1 {
			return fmt.Errorf("min_r_squared must be between 0 and 1, got %f", *c.MinRSquared)
		}
	}
	if c.StartDebounceFrames != nil && *c.StartDebounceFrames < 1 {
		return fmt.Errorf("start_debounce_frames must be >= 1, got %d", *c.StartDebounceFrames)
	}
	if c.EndDebounceFrames != nil && *c.EndDebounceFrames < 1 {
		return fmt.Errorf("end_debounce_frames must be >= 1, got %d", *c.EndDebounceFrames)
	}
	if c.StartPadding != nil && *c.StartPadding < 0 {
		return fmt.Errorf("start_padding must be non-negative, got %f", *c.StartPadding)
	}
	if c.EndPadding != nil && *c.EndPadding < 0 {
		return fmt.Errorf("end_padding must be non-negative, got %f", *c.EndPadding)
	}
	if c.MergeGap != nil && *c.MergeGap < 0 {
		return fmt.Errorf("merge_gap must be non-negative, got %f", *c.MergeGap)
	}
	if c.ProgressInterval != nil && *c.ProgressInterval != "" {
		if _, err := time.ParseDuration(*c.ProgressInterval); err != nil {
			return fmt.Errorf("invalid progress_interval '%s': %w", *c.ProgressInterval, err)
		}
	}
	return nil
}

// GetProcessNoisePos returns the process_noise_pos value or the default.
func (c *TuningConfig) GetProcessNoisePos() float64 {
	if c.ProcessNoisePos == nil {
		return 0.0005
	}
	return *c.ProcessNoisePos
}

// GetProcessNoiseVel returns the process_noise_vel value or the default.
func (c *TuningConfig) GetProcessNoiseVel() float64 {
	if c.ProcessNoiseVel == nil {
		return 0.01
	}
	return *c.ProcessNoiseVel
}

// GetMeasurementNoise returns the measurement_noise value or the default.
func (c *TuningConfig) GetMeasurementNoise() float64 {
	if c.MeasurementNoise == nil {
		return 0.001
	}
	return *c.MeasurementNoise
}

// GetBaseGateRadius returns the base_gate_radius value or the default.
func (c *TuningConfig) GetBaseGateRadius() float64 {
	if c.BaseGateRadius == nil {
		return 0.08
	}
	return *c.BaseGateRadius
}

// GetGateVelocityScale returns the gate_velocity_scale value or the default.
func (c *TuningConfig) GetGateVelocityScale() float64 {
	if c.GateVelocityScale == nil {
		return 2.0
	}
	return *c.GateVelocityScale
}

// GetMaxMissedFrames returns the max_missed_frames value or the default.
func (c *TuningConfig) GetMaxMissedFrames() int {
	if c.MaxMissedFrames == nil {
		return 8
	}
	return *c.MaxMissedFrames
}

// GetMinDetectionConfidence returns the min_detection_confidence value or the default.
func (c *TuningConfig) GetMinDetectionConfidence() float64 {
	if c.MinDetectionConfidence == nil {
		return 0.3
	}
	return *c.MinDetectionConfidence
}

// GetConfidenceDecay returns the confidence_decay value or the default.
func (c *TuningConfig) GetConfidenceDecay() float64 {
	if c.ConfidenceDecay == nil {
		return 0.95
	}
	return *c.ConfidenceDecay
}

// GetConfidenceBoost returns the confidence_boost value or the default.
func (c *TuningConfig) GetConfidenceBoost() float64 {
	if c.ConfidenceBoost == nil {
		return 0.1
	}
	return *c.ConfidenceBoost
}

// GetMinSegmentPoints returns the min_segment_points value or the default.
func (c *TuningConfig) GetMinSegmentPoints() int {
	if c.MinSegmentPoints == nil {
		return 4
	}
	return *c.MinSegmentPoints
}

// GetGravity returns the gravity value or the default.
func (c *TuningConfig) GetGravity() float64 {
	if c.Gravity == nil {
		return 0.98
	}
	return *c.Gravity
}

// GetGravityTolerance returns the gravity_tolerance value or the default.
func (c *TuningConfig) GetGravityTolerance() float64 {
	if c.GravityTolerance == nil {
		return 0.35
	}
	return *c.GravityTolerance
}

// GetClassifierMinPoints returns the classifier_min_points value or the default.
func (c *TuningConfig) GetClassifierMinPoints() int {
	if c.ClassifierMinPoints == nil {
		return 5
	}
	return *c.ClassifierMinPoints
}

// GetCarriedMaxVerticalAccel returns the carried_max_vertical_accel value or the default.
func (c *TuningConfig) GetCarriedMaxVerticalAccel() float64 {
	if c.CarriedMaxVerticalAccel == nil {
		return 0.25
	}
	return *c.CarriedMaxVerticalAccel
}

// GetCarriedSpeedVariance returns the carried_speed_variance value or the default.
func (c *TuningConfig) GetCarriedSpeedVariance() float64 {
	if c.CarriedSpeedVariance == nil {
		return 0.01
	}
	return *c.CarriedSpeedVariance
}

// GetRollingMaxVerticalSpeed returns the rolling_max_vertical_speed value or the default.
func (c *TuningConfig) GetRollingMaxVerticalSpeed() float64 {
	if c.RollingMaxVerticalSpeed == nil {
		return 0.05
	}
	return *c.RollingMaxVerticalSpeed
}

// GetMaxAccelVariance returns the max_accel_variance value or the default.
func (c *TuningConfig) GetMaxAccelVariance() float64 {
	if c.MaxAccelVariance == nil {
		return 1.5
	}
	return *c.MaxAccelVariance
}

// GetMinPointsForFit returns the min_points_for_fit value or the default.
func (c *TuningConfig) GetMinPointsForFit() int {
	if c.MinPointsForFit == nil {
		return 5
	}
	return *c.MinPointsForFit
}

// GetMinRSquared returns the min_r_squared value or the default.
func (c *TuningConfig) GetMinRSquared() float64 {
	if c.MinRSquared == nil {
		return 0.80
	}
	return *c.MinRSquared
}

// GetMinGateConfidence returns the min_gate_confidence value or the default.
func (c *TuningConfig) GetMinGateConfidence() float64 {
	if c.MinGateConfidence == nil {
		return 0.5
	}
	return *c.MinGateConfidence
}

// GetMaxResidual returns the max_residual value or the default.
func (c *TuningConfig) GetMaxResidual() float64 {
	if c.MaxResidual == nil {
		return 0.05
	}
	return *c.MaxResidual
}

// GetStartDebounceFrames returns the start_debounce_frames value or the default.
func (c *TuningConfig) GetStartDebounceFrames() int {
	if c.StartDebounceFrames == nil {
		return 10
	}
	return *c.StartDebounceFrames
}

// GetEndDebounceFrames returns the end_debounce_frames value or the default.
func (c *TuningConfig) GetEndDebounceFrames() int {
	if c.EndDebounceFrames == nil {
		return 30
	}
	return *c.EndDebounceFrames
}

// GetStartPadding returns the start_padding value or the default.
func (c *TuningConfig) GetStartPadding() float64 {
	if c.StartPadding == nil {
		return 0.5
	}
	return *c.StartPadding
}

// GetEndPadding returns the end_padding value or the default.
func (c *TuningConfig) GetEndPadding() float64 {
	if c.EndPadding == nil {
		return 0.3
	}
	return *c.EndPadding
}

// GetShortSegmentThreshold returns the short_segment_threshold value or the default.
func (c *TuningConfig) GetShortSegmentThreshold() float64 {
	if c.ShortSegmentThreshold == nil {
		return 2.5
	}
	return *c.ShortSegmentThreshold
}

// GetMaxPrerollForShort returns the max_preroll_for_short value or the default.
func (c *TuningConfig) GetMaxPrerollForShort() float64 {
	if c.MaxPrerollForShort == nil {
		return 0.5
	}
	return *c.MaxPrerollForShort
}

// GetMergeGap returns the merge_gap value or the default.
func (c *TuningConfig) GetMergeGap() float64 {
	if c.MergeGap == nil {
		return 1.5
	}
	return *c.MergeGap
}

// GetMinSegmentDuration returns the min_segment_duration value or the default.
func (c *TuningConfig) GetMinSegmentDuration() float64 {
	if c.MinSegmentDuration == nil {
		return 2.0
	}
	return *c.MinSegmentDuration
}

// GetContactSpeedJump returns the contact_speed_jump value or the default.
func (c *TuningConfig) GetContactSpeedJump() float64 {
	if c.ContactSpeedJump == nil {
		return 0.5
	}
	return *c.ContactSpeedJump
}

// GetContactMinSeparation returns the contact_min_separation value or the default.
func (c *TuningConfig) GetContactMinSeparation() float64 {
	if c.ContactMinSeparation == nil {
		return 0.25
	}
	return *c.ContactMinSeparation
}

// GetSignalWindow returns the signal_window value or the default.
func (c *TuningConfig) GetSignalWindow() int {
	if c.SignalWindow == nil {
		return 12
	}
	return *c.SignalWindow
}

// GetProgressInterval parses and returns the ProgressInterval as a time.Duration.
func (c *TuningConfig) GetProgressInterval() time.Duration {
	if c.ProgressInterval == nil || *c.ProgressInterval == "" {
		return 500 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.ProgressInterval)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}
