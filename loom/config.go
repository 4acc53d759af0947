package loom

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// config holds resolved SDK configuration. Fields are unexported to enforce
// immutability after creation.
type config struct {
	apiKey      string
	endpoint    string
	appName     string
	environment string
	enabled     bool
	envFile     string
}

// Option configures the loom SDK. Pass options to Init().
type Option func(*config)

// WithAPIKey sets the loom API key for authentication.
func WithAPIKey(key string) Option {
	return func(c *config) { c.apiKey = key }
}

// WithEndpoint sets the telemetry ingest endpoint.
func WithEndpoint(ep string) Option {
	return func(c *config) { c.endpoint = ep }
}

// WithAppName sets the application name reported in traces.
func WithAppName(name string) Option {
	return func(c *config) { c.appName = name }
}

// WithEnvironment sets the deployment environment (e.g. "production", "staging").
func WithEnvironment(env string) Option {
	return func(c *config) { c.environment = env }
}

// WithEnabled enables or disables the SDK. When disabled, Init() is a no-op.
func WithEnabled(b bool) Option {
	return func(c *config) { c.enabled = b }
}

// WithEnvFile loads a dotenv file into the process environment before the
// env-var layer is applied. Already-set variables are not overwritten.
func WithEnvFile(path string) Option {
	return func(c *config) { c.envFile = path }
}

// resolveConfig merges explicit options > env vars > defaults and returns a
// validated config. Returns an error if the API key is missing.
func resolveConfig(opts ...Option) (*config, error) {
	cfg := &config{
		endpoint:    DefaultEndpoint,
		appName:     defaultAppName(),
		environment: "development",
		enabled:     true,
	}

	// The env-file option has to be known before env vars are read, so
	// apply options once up front just to discover it.
	probe := *cfg
	for _, opt := range opts {
		opt(&probe)
	}
	if probe.envFile != "" {
		if err := godotenv.Load(probe.envFile); err != nil {
			slog.Warn("loom: could not load env file", "path", probe.envFile, "error", err)
		}
	}

	// Layer 2: env var overrides.
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.apiKey = v
	}
	if v := os.Getenv(EnvEndpoint); v != "" {
		cfg.endpoint = v
	}
	if v := os.Getenv(EnvAppName); v != "" {
		cfg.appName = v
	}
	if v := os.Getenv(EnvEnvironment); v != "" {
		cfg.environment = v
	}
	if v, ok := envBool(EnvEnabled); ok {
		cfg.enabled = v
	}

	// Layer 3: explicit options (highest priority).
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.apiKey == "" {
		return nil, fmt.Errorf(
			"loom: API key is required. Pass loom.WithAPIKey() to Init() "+
				"or set the %s environment variable", EnvAPIKey,
		)
	}

	return cfg, nil
}

// envBool reads a boolean from an environment variable.
// Returns (value, true) if the variable is set, or (false, false) if unset.
// Accepts true/false/1/0/yes/no (case-insensitive).
func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, true
	default:
		return false, true
	}
}

// defaultAppName returns the basename of os.Args[0], or "unknown" if unavailable.
func defaultAppName() string {
	if len(os.Args) > 0 && os.Args[0] != "" {
		return filepath.Base(os.Args[0])
	}
	return "unknown"
}
