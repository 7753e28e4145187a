package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed thresholds.yaml
var thresholdsYAML []byte

type Config struct {
	Store     StoreConfig
	Database  DatabaseConfig
	Hasura    HasuraConfig
	Inference InferenceConfig
	Pipeline  PipelineConfig
	Watch     WatchConfig
	Web       WebConfig
	LogLevel  string
	Models    ThresholdsConfig
}

// StoreConfig selects which persistence backend the commands talk to.
type StoreConfig struct {
	Backend string // "postgres" (default) or "hasura"
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type HasuraConfig struct {
	URL         string // GraphQL endpoint, e.g. http://hasura:8080/v1/graphql
	AdminSecret string
}

type InferenceConfig struct {
	URL string // defaults to http://localhost:8000
}

type PipelineConfig struct {
	FFmpegPath    string // defaults to "ffmpeg" on PATH
	FramesDir     string // root for per-clip frame output (default outputs/extracted_frames)
	LUTDir        string // directory holding .cube files (default luts)
	MaxIterations int    // discovery loop cap (default 20)
}

type WatchConfig struct {
	PollSeconds       int // default 5
	InactivityMinutes int // default 30
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string // extra CORS origins besides localhost
}

// ThresholdsConfig holds the default match threshold per model and distance metric.
type ThresholdsConfig struct {
	Models map[string]map[string]float64 `yaml:"models"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envString returns the env var value or the default when unset.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated env var, dropping empty entries.
func envList(key string) []string {
	var out []string
	for v := range strings.SplitSeq(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func Load() *Config {
	var models ThresholdsConfig
	if err := yaml.Unmarshal(thresholdsYAML, &models); err != nil {
		panic("failed to unmarshal embedded thresholds.yaml: " + err.Error())
	}

	return &Config{
		Store: StoreConfig{
			Backend: strings.ToLower(envString("STORE_BACKEND", "postgres")),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Hasura: HasuraConfig{
			URL:         os.Getenv("HASURA_GRAPHQL_URL"),
			AdminSecret: os.Getenv("HASURA_ADMIN_SECRET"),
		},
		Inference: InferenceConfig{
			URL: os.Getenv("INFERENCE_URL"),
		},
		Pipeline: PipelineConfig{
			FFmpegPath:    envString("FFMPEG_PATH", "ffmpeg"),
			FramesDir:     envString("FRAMES_DIR", "outputs/extracted_frames"),
			LUTDir:        envString("LUT_DIR", "luts"),
			MaxIterations: envInt("PIPELINE_MAX_ITERATIONS", 20),
		},
		Watch: WatchConfig{
			PollSeconds:       envInt("WATCH_POLL_SECONDS", 5),
			InactivityMinutes: envInt("WATCH_INACTIVITY_MINUTES", 30),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		LogLevel: envString("LOG_LEVEL", "info"),
		Models:   models,
	}
}

// FindThreshold returns the default threshold for a model and distance metric.
// The second return value is false when the table has no entry.
func (c *Config) FindThreshold(modelName, metric string) (float64, bool) {
	byMetric, ok := c.Models.Models[modelName]
	if !ok {
		return 0, false
	}
	t, ok := byMetric[metric]
	return t, ok
}
