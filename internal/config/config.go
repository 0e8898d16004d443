package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "configs/config.yaml"

type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Simulation SimulationConfig `yaml:"simulation"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Storage    StorageConfig    `yaml:"storage"`
}

type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider,omitempty"`
	Providers       map[string]ProviderConfig `yaml:"providers,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

type SimulationConfig struct {
	Concurrency     int           `yaml:"concurrency,omitempty"`
	CaseTimeout     time.Duration `yaml:"case_timeout,omitempty"`
	DefaultMaxTurns int           `yaml:"default_max_turns,omitempty"`
	TurnMaxTokens   int           `yaml:"turn_max_tokens,omitempty"`
	EvalMaxTokens   int           `yaml:"eval_max_tokens,omitempty"`
}

// PricingConfig holds USD prices per million tokens used for cost estimates.
type PricingConfig struct {
	InputPerMTok  float64 `yaml:"input_per_mtok,omitempty"`
	OutputPerMTok float64 `yaml:"output_per_mtok,omitempty"`
}

type StorageConfig struct {
	Type string `yaml:"type,omitempty"` // "sqlite" or "memory"
	Path string `yaml:"path,omitempty"` // SQLite file path
}

const (
	DefaultConcurrency   = 3
	DefaultCaseTimeout   = 60 * time.Second
	DefaultMaxTurns      = 10
	DefaultTurnMaxTokens = 256
	DefaultEvalMaxTokens = 2048
	DefaultInputPerMTok  = 3.0
	DefaultOutputPerMTok = 15.0
)

func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// Default returns a config with defaults applied and env credentials picked up.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = make(map[string]ProviderConfig)
	}
	if strings.TrimSpace(cfg.LLM.DefaultProvider) == "" {
		cfg.LLM.DefaultProvider = "claude"
	}
	if cfg.Simulation.Concurrency <= 0 {
		cfg.Simulation.Concurrency = DefaultConcurrency
	}
	if cfg.Simulation.CaseTimeout <= 0 {
		cfg.Simulation.CaseTimeout = DefaultCaseTimeout
	}
	if cfg.Simulation.DefaultMaxTurns <= 0 {
		cfg.Simulation.DefaultMaxTurns = DefaultMaxTurns
	}
	if cfg.Simulation.TurnMaxTokens <= 0 {
		cfg.Simulation.TurnMaxTokens = DefaultTurnMaxTokens
	}
	if cfg.Simulation.EvalMaxTokens <= 0 {
		cfg.Simulation.EvalMaxTokens = DefaultEvalMaxTokens
	}
	if cfg.Pricing.InputPerMTok <= 0 {
		cfg.Pricing.InputPerMTok = DefaultInputPerMTok
	}
	if cfg.Pricing.OutputPerMTok <= 0 {
		cfg.Pricing.OutputPerMTok = DefaultOutputPerMTok
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		p := cfg.LLM.Providers["claude"]
		p.APIKey = v
		cfg.LLM.Providers["claude"] = p
	} else if v := strings.TrimSpace(os.Getenv("ANTHROPIC_AUTH_TOKEN")); v != "" {
		p := cfg.LLM.Providers["claude"]
		p.APIKey = v
		cfg.LLM.Providers["claude"] = p
	}

	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		p := cfg.LLM.Providers["openai"]
		p.APIKey = v
		cfg.LLM.Providers["openai"] = p
	}
}
