// Package config loads operator settings from defaults, an optional YAML file
// and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/entrhq/operator/pkg/types"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. OPERATOR_AGENT_MAX_STEPS.
// Only the OpenAI and Browserbase settings are also read from their
// conventional unprefixed names, e.g. OPENAI_API_KEY.
const EnvPrefix = "OPERATOR"

// Provisioning modes.
const (
	ModeRemote = "remote"
	ModeLocal  = "local"
)

// Config holds all operator configuration.
type Config struct {
	LLM          LLMConfig          `yaml:"llm" envconfig:"LLM"`
	Provisioning ProvisioningConfig `yaml:"provisioning" envconfig:"PROVISIONING"`
	Browser      BrowserConfig      `yaml:"browser" envconfig:"BROWSER"`
	Agent        AgentConfig        `yaml:"agent" envconfig:"AGENT"`
	Server       ServerConfig       `yaml:"server" envconfig:"SERVER"`
	Logging      LogConfig          `yaml:"logging" envconfig:"LOGGING"`
	Tracing      TracingConfig      `yaml:"tracing" envconfig:"TRACING"`
}

// LLMConfig configures the OpenAI-compatible decision backend.
type LLMConfig struct {
	APIKey  string `yaml:"api_key" envconfig:"OPENAI_API_KEY"`
	BaseURL string `yaml:"base_url" envconfig:"OPENAI_BASE_URL"`
	Model   string `yaml:"model" envconfig:"OPENAI_MODEL"`

	// BrowserModel overrides Model for page interpretation. Empty uses Model.
	BrowserModel string        `yaml:"browser_model" split_words:"true"`
	Timeout      time.Duration `yaml:"timeout" split_words:"true"`
}

// ProvisioningConfig configures where browser sessions come from.
type ProvisioningConfig struct {
	// Mode is "remote" (provisioning API) or "local" (launched Chromium).
	Mode              string        `yaml:"mode" split_words:"true"`
	APIKey            string        `yaml:"api_key" envconfig:"BROWSERBASE_API_KEY"`
	ProjectID         string        `yaml:"project_id" envconfig:"BROWSERBASE_PROJECT_ID"`
	BaseURL           string        `yaml:"base_url" split_words:"true"`
	RequestTimeout    time.Duration `yaml:"request_timeout" split_words:"true"`
	RequestsPerSecond float64       `yaml:"requests_per_second" split_words:"true"`
	Burst             int           `yaml:"burst" split_words:"true"`
	MaxRetries        int           `yaml:"max_retries" split_words:"true"`

	// PersistContext keeps cookies and storage in a context id that outlives the session.
	PersistContext bool `yaml:"persist_context" split_words:"true"`

	// Timezone is the client timezone used for region selection when a request carries none.
	Timezone string `yaml:"timezone" split_words:"true"`
}

// BrowserConfig configures the browser capability.
type BrowserConfig struct {
	Headless        bool          `yaml:"headless" split_words:"true"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout" split_words:"true"`
	ActionTimeout   time.Duration `yaml:"action_timeout" split_words:"true"`
	ViewportWidth   int           `yaml:"viewport_width" split_words:"true"`
	ViewportHeight  int           `yaml:"viewport_height" split_words:"true"`
}

// AgentConfig configures the step loop.
type AgentConfig struct {
	DefaultStartURL    string        `yaml:"default_start_url" split_words:"true"`
	MaxWait            time.Duration `yaml:"max_wait" split_words:"true"`
	MaxSteps           int           `yaml:"max_steps" split_words:"true"`
	ExtractTokenBudget int           `yaml:"extract_token_budget" split_words:"true"`
}

// ServerConfig configures the HTTP run-control surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level   string `yaml:"level" split_words:"true"`
	Dir     string `yaml:"dir" split_words:"true"`
	Console bool   `yaml:"console" split_words:"true"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" split_words:"true"`
	ServiceName string `yaml:"service_name" split_words:"true"`
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o",
			Timeout: 2 * time.Minute,
		},
		Provisioning: ProvisioningConfig{
			Mode:              ModeRemote,
			BaseURL:           "https://api.browserbase.com",
			RequestTimeout:    30 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
			MaxRetries:        3,
			PersistContext:    true,
		},
		Browser: BrowserConfig{
			Headless:        true,
			NavigateTimeout: 15 * time.Second,
			ActionTimeout:   10 * time.Second,
			ViewportWidth:   1280,
			ViewportHeight:  800,
		},
		Agent: AgentConfig{
			DefaultStartURL:    "https://www.google.com",
			MaxWait:            5 * time.Minute,
			MaxSteps:           50,
			ExtractTokenBudget: 6000,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LogConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			ServiceName: "operator",
		},
	}
}

// Load builds the configuration. path may be empty, in which case no YAML
// file is read. A .env file in the working directory is loaded when present;
// variables already set in the environment win over it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.Provisioning.Mode = strings.ToLower(strings.TrimSpace(cfg.Provisioning.Mode))
	return cfg, nil
}

// Validate reports missing credentials or nonsensical values as a
// configuration_failure.
func (c *Config) Validate() error {
	var problems []string

	if c.LLM.APIKey == "" {
		problems = append(problems, "llm.api_key (OPENAI_API_KEY) is required")
	}
	if c.LLM.Model == "" {
		problems = append(problems, "llm.model is required")
	}

	switch c.Provisioning.Mode {
	case ModeRemote:
		if c.Provisioning.APIKey == "" {
			problems = append(problems, "provisioning.api_key (BROWSERBASE_API_KEY) is required in remote mode")
		}
		if c.Provisioning.ProjectID == "" {
			problems = append(problems, "provisioning.project_id (BROWSERBASE_PROJECT_ID) is required in remote mode")
		}
	case ModeLocal:
	default:
		problems = append(problems, fmt.Sprintf("provisioning.mode must be %q or %q, got %q", ModeRemote, ModeLocal, c.Provisioning.Mode))
	}

	if c.Agent.MaxSteps < 1 {
		problems = append(problems, "agent.max_steps must be at least 1")
	}
	if c.Agent.MaxWait <= 0 {
		problems = append(problems, "agent.max_wait must be positive")
	}

	if len(problems) > 0 {
		return types.NewRunError(types.KindConfiguration, strings.Join(problems, "; "))
	}
	return nil
}
