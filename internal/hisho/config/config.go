// Package config loads Hisho's runtime configuration.
//
// Configuration comes from an optional YAML file layered over built-in
// defaults, with environment variables taking precedence over both so that
// credentials never have to live in the file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Hisho/common/environment"
)

// Matrix holds the transport credentials and rooms.
type Matrix struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
	// AdminRoom is the room whose members decide access requests.
	AdminRoom string `yaml:"admin_room"`
}

// OpenAI holds the completion provider settings. BaseURL may point at any
// OpenAI-compatible endpoint.
type OpenAI struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	MaxTokens      int    `yaml:"max_tokens"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Config is the full runtime configuration.
type Config struct {
	Matrix Matrix `yaml:"matrix"`
	OpenAI OpenAI `yaml:"openai"`

	// DataDir holds the session index and per-session transcript logs.
	DataDir string `yaml:"data_dir"`
	// AuditDB is the SQLite file for the audit trail and sync state.
	AuditDB string `yaml:"audit_db"`
	// ActivityWindowSeconds is how long a conversation's context survives
	// without activity before it is discarded.
	ActivityWindowSeconds int `yaml:"activity_window_seconds"`
	// SystemPrompt overrides the built-in assistant instruction.
	SystemPrompt string `yaml:"system_prompt"`
	// HTTPAddr is the listen address of the health endpoint. Empty disables it.
	HTTPAddr string `yaml:"http_addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		OpenAI: OpenAI{
			Model:          "gpt-4o-mini",
			MaxTokens:      1024,
			TimeoutSeconds: 120,
		},
		DataDir:               "./data",
		AuditDB:               "./hisho.db",
		ActivityWindowSeconds: 1800,
		HTTPAddr:              ":8080",
	}
}

// Load reads the YAML file at path (if path is non-empty) over the defaults,
// then applies environment overrides. The returned config is not validated;
// call Validate before use.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return &cfg, nil
}

// applyEnv overlays environment variables onto the config. Credentials are
// expected to arrive this way in deployments.
func (c *Config) applyEnv() {
	setString(&c.Matrix.Homeserver, "MATRIX_HOMESERVER")
	setString(&c.Matrix.UserID, "MATRIX_USER_ID")
	setString(&c.Matrix.AccessToken, "MATRIX_ACCESS_TOKEN")
	setString(&c.Matrix.AdminRoom, "MATRIX_ADMIN_ROOM")

	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&c.OpenAI.Model, "OPENAI_MODEL")
	setInt(&c.OpenAI.MaxTokens, "OPENAI_MAX_TOKENS")

	setString(&c.DataDir, "HISHO_DATA_DIR")
	setString(&c.AuditDB, "HISHO_AUDIT_DB")
	setInt(&c.ActivityWindowSeconds, "HISHO_ACTIVITY_WINDOW_SECONDS")
	setString(&c.SystemPrompt, "HISHO_SYSTEM_PROMPT")
	setString(&c.HTTPAddr, "HISHO_HTTP_ADDR")
}

// Validate checks that every required field is present and the numeric knobs
// are sane.
func (c *Config) Validate() error {
	var missing []string
	if c.Matrix.Homeserver == "" {
		missing = append(missing, "matrix.homeserver (MATRIX_HOMESERVER)")
	}
	if c.Matrix.UserID == "" {
		missing = append(missing, "matrix.user_id (MATRIX_USER_ID)")
	}
	if c.Matrix.AccessToken == "" {
		missing = append(missing, "matrix.access_token (MATRIX_ACCESS_TOKEN)")
	}
	if c.Matrix.AdminRoom == "" {
		missing = append(missing, "matrix.admin_room (MATRIX_ADMIN_ROOM)")
	}
	if c.OpenAI.APIKey == "" {
		missing = append(missing, "openai.api_key (OPENAI_API_KEY)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required fields: %s", strings.Join(missing, ", "))
	}

	if c.ActivityWindowSeconds <= 0 {
		return fmt.Errorf("config: activity_window_seconds must be positive, got %d", c.ActivityWindowSeconds)
	}
	if c.OpenAI.MaxTokens < 0 {
		return fmt.Errorf("config: openai.max_tokens must not be negative, got %d", c.OpenAI.MaxTokens)
	}
	if c.OpenAI.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: openai.timeout_seconds must be positive, got %d", c.OpenAI.TimeoutSeconds)
	}
	return nil
}

// Window returns the activity window as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.ActivityWindowSeconds) * time.Second
}

// Timeout returns the provider timeout as a duration.
func (o *OpenAI) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

func setString(dst *string, key string) {
	*dst = environment.StringOr(key, *dst)
}

func setInt(dst *int, key string) {
	*dst = environment.IntOr(key, *dst)
}
