// Package config loads and validates the application configuration from
// a YAML file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/lmsync/lmsync/pkg/telemetry"
)

// CanvasConfig holds the source connection settings.
type CanvasConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Token   string        `yaml:"token" validate:"required"`
	Timeout time.Duration `yaml:"timeout"`
	PerPage int           `yaml:"per_page" validate:"omitempty,min=1,max=100"`
}

// GraphConfig holds the destination connection settings.
type GraphConfig struct {
	ClientID     string        `yaml:"client_id" validate:"required"`
	TenantID     string        `yaml:"tenant_id"`
	TaskListName string        `yaml:"task_list_name"`
	TokenFile    string        `yaml:"token_file"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SyncConfig tunes the retry policy of the apply phase.
type SyncConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"omitempty,min=1,max=10"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// StoreConfig locates the durable sync state.
type StoreConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// Config is the full application configuration.
type Config struct {
	Canvas    CanvasConfig     `yaml:"canvas"`
	Graph     GraphConfig      `yaml:"graph"`
	Sync      SyncConfig       `yaml:"sync"`
	Store     StoreConfig      `yaml:"store"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the configuration defaults. Paths live under the
// platform config directory.
func Default() *Config {
	dir := baseDir()
	return &Config{
		Canvas: CanvasConfig{
			Timeout: 30 * time.Second,
			PerPage: 100,
		},
		Graph: GraphConfig{
			TenantID:     "consumers",
			TaskListName: "Canvas Assignments",
			TokenFile:    filepath.Join(dir, "graph_token.json"),
			Timeout:      30 * time.Second,
		},
		Sync: SyncConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    time.Minute,
		},
		Store: StoreConfig{
			Path: filepath.Join(dir, "sync.db"),
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// DefaultPath is where Load looks for the config file when no explicit
// path is given.
func DefaultPath() string {
	return filepath.Join(baseDir(), "config.yaml")
}

func baseDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "lmsync")
	}
	return ".lmsync"
}

// Load builds the effective configuration: defaults, then the YAML file,
// then environment overrides, then validation. A missing file is an
// error only when the path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Defaults plus environment is a valid configuration.
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays LMSYNC_* environment variables. Environment wins
// over the file so secrets can stay out of it.
func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("LMSYNC_CANVAS_BASE_URL", &c.Canvas.BaseURL)
	setString("LMSYNC_CANVAS_TOKEN", &c.Canvas.Token)
	setString("LMSYNC_GRAPH_CLIENT_ID", &c.Graph.ClientID)
	setString("LMSYNC_GRAPH_TENANT_ID", &c.Graph.TenantID)
	setString("LMSYNC_TASK_LIST", &c.Graph.TaskListName)
	setString("LMSYNC_TOKEN_FILE", &c.Graph.TokenFile)
	setString("LMSYNC_DB_PATH", &c.Store.Path)
	setString("LMSYNC_LOG_LEVEL", &c.Telemetry.Logging.Level)
	setString("LMSYNC_LOG_FORMAT", &c.Telemetry.Logging.Format)

	if v := os.Getenv("LMSYNC_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sync.MaxAttempts = n
		}
	}
}

// Validate checks the configuration and reports every violation at once.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			return fmt.Errorf("invalid configuration: %s", describeViolations(errs))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return c.Telemetry.Validate()
}

func describeViolations(errs validator.ValidationErrors) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += "; "
		}
		out += fmt.Sprintf("%s failed %q", e.Namespace(), e.Tag())
	}
	return out
}

// String renders the configuration with secrets redacted.
func (c *Config) String() string {
	return fmt.Sprintf(
		"canvas=%s token=%s graph_client=%s list=%q store=%s",
		c.Canvas.BaseURL, redact(c.Canvas.Token),
		redact(c.Graph.ClientID), c.Graph.TaskListName, c.Store.Path,
	)
}

func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
