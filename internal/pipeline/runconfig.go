package pipeline

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/kozaktomas/consent-audit/internal/constants"
	"github.com/kozaktomas/consent-audit/internal/extractor"
	"github.com/kozaktomas/consent-audit/internal/facematch"
	"github.com/kozaktomas/consent-audit/internal/inference"
)

// Run configuration keys
const (
	KeySceneSensitivity    = "scene_sensitivity"
	KeyFallbackFrameRate   = "fallback_frame_rate"
	KeyUseEQ               = "use_eq"
	KeyLUTFile             = "lut_file"
	KeyModelName           = "model_name"
	KeyDetectorBackend     = "detector_backend"
	KeyNormalization       = "normalization"
	KeyAlign               = "align"
	KeyEnforceDetection    = "enforce_detection"
	KeyExpandPercentage    = "expand_percentage"
	KeyDetectionConfidence = "detection_confidence_threshold"
	KeyDistanceMetric      = "distance_metric"
	KeyThreshold           = "threshold"
)

// RunConfig is the flat per-card configuration of a run. Values come from JSON, so the
// accessors accept numbers, numeric strings and booleans interchangeably.
type RunConfig map[string]any

// MergeConfig returns stored overlaid with overrides. Neither input is modified.
func MergeConfig(stored, overrides map[string]any) RunConfig {
	out := make(RunConfig, len(stored)+len(overrides))
	for k, v := range stored {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// SetDefault stores v under key unless the key is already present.
func (c RunConfig) SetDefault(key string, v any) {
	if _, ok := c[key]; !ok {
		c[key] = v
	}
}

// ApplyStartDefaults fills the extraction keys a freshly started run must carry.
func (c RunConfig) ApplyStartDefaults() {
	c.SetDefault(KeySceneSensitivity, constants.StartSceneSensitivity)
	c.SetDefault(KeyFallbackFrameRate, constants.StartFallbackInterval)
	c.SetDefault(KeyUseEQ, true)
}

// Float returns the numeric value of key, or def when absent or not numeric.
func (c RunConfig) Float(key string, def float64) float64 {
	if f, ok := c.lookupFloat(key); ok {
		return f
	}
	return def
}

func (c RunConfig) lookupFloat(key string) (float64, bool) {
	switch v := c[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// Int returns the integer value of key, truncating fractions.
func (c RunConfig) Int(key string, def int) int {
	if f, ok := c.lookupFloat(key); ok {
		return int(f)
	}
	return def
}

// Bool returns the boolean value of key. Strings such as "true" and "0" are parsed.
func (c RunConfig) Bool(key string, def bool) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	default:
		if f, ok := c.lookupFloat(key); ok {
			return f != 0
		}
	}
	return def
}

// String returns the string value of key, or def when absent or empty.
func (c RunConfig) String(key, def string) string {
	if s, ok := c[key].(string); ok && s != "" {
		return s
	}
	return def
}

// ExtractSettings returns the frame extraction settings of the run.
func (c RunConfig) ExtractSettings() extractor.Settings {
	return extractor.Settings{
		SceneSensitivity: c.Float(KeySceneSensitivity, constants.DefaultSceneSensitivity),
		FallbackInterval: c.Float(KeyFallbackFrameRate, constants.DefaultFallbackInterval),
		UseEQ:            c.Bool(KeyUseEQ, true),
		LUTFile:          c.String(KeyLUTFile, ""),
	}
}

// DetectOptions returns the detection options of the run.
func (c RunConfig) DetectOptions() inference.DetectOptions {
	return inference.DetectOptions{
		ModelName:        c.ModelName(),
		DetectorBackend:  c.String(KeyDetectorBackend, constants.DefaultDetectorBackend),
		Normalization:    c.String(KeyNormalization, constants.DefaultNormalization),
		Align:            c.Bool(KeyAlign, true),
		EnforceDetection: c.Bool(KeyEnforceDetection, false),
		ExpandPercentage: c.Int(KeyExpandPercentage, 0),
	}
}

// EmbedOptions returns the options for embedding consent reference images.
func (c RunConfig) EmbedOptions() inference.EmbedOptions {
	return inference.EmbedOptions{
		ModelName:       c.ModelName(),
		DetectorBackend: c.String(KeyDetectorBackend, constants.DefaultDetectorBackend),
		Normalization:   c.String(KeyNormalization, constants.DefaultNormalization),
		Align:           c.Bool(KeyAlign, true),
	}
}

func (c RunConfig) ModelName() string {
	return c.String(KeyModelName, constants.DefaultModelName)
}

// DetectionConfidence is the minimum confidence for a detection to be kept.
func (c RunConfig) DetectionConfidence() float64 {
	return c.Float(KeyDetectionConfidence, constants.DefaultDetectionConfidence)
}

// Metric returns the configured distance metric. Unknown names fall back to the default.
func (c RunConfig) Metric() facematch.Metric {
	m, err := facematch.ParseMetric(c.String(KeyDistanceMetric, constants.DefaultDistanceMetric))
	if err != nil {
		return facematch.MetricEuclideanL2
	}
	return m
}

// MatchThreshold resolves the acceptance threshold for the run's model and metric.
func (c RunConfig) MatchThreshold(table facematch.ThresholdTable) float64 {
	var override *float64
	if f, ok := c.lookupFloat(KeyThreshold); ok {
		override = &f
	}
	return facematch.ResolveThreshold(override, table, c.ModelName(), c.Metric())
}
