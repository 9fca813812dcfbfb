// Package config handles relaymesh configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/relaymesh/logging"
	"github.com/hupe1980/relaymesh/search"
)

// DefaultSearchPaths returns the config file search order:
// ./relaymesh.yaml, ~/.config/relaymesh/relaymesh.yaml, /etc/relaymesh/relaymesh.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"relaymesh.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "relaymesh", "relaymesh.yaml"))
	}

	paths = append(paths, "/etc/relaymesh/relaymesh.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all relaymesh configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	LLM       LLMConfig       `yaml:"llm"`
	Search    SearchConfig    `yaml:"search"`
	Documents DocumentsConfig `yaml:"documents"`
	Store     StoreConfig     `yaml:"store"`
	Session   SessionConfig   `yaml:"session"`
	Engine    EngineConfig    `yaml:"engine"`
	Logging   LoggingConfig   `yaml:"logging"`
	CORS      CORSConfig      `yaml:"cors"`
}

// ListenConfig is the HTTP listen address.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// Addr returns the address in host:port form.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Address, l.Port)
}

// LLM providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// LLMConfig selects the instruction generator.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
}

// SearchConfig configures web search providers.
type SearchConfig struct {
	Tavily search.TavilyConfig `yaml:"tavily"`
}

// DocumentsConfig points at the internal document directory.
type DocumentsConfig struct {
	Dir        string   `yaml:"dir"`
	Extensions []string `yaml:"extensions"`
}

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// StoreConfig selects the durable conversation store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// SessionConfig controls live session expiry.
type SessionConfig struct {
	Expiry       time.Duration `yaml:"expiry"`
	CleanupEvery int           `yaml:"cleanup_every"`
}

// EngineConfig bounds the dispatch loop.
type EngineConfig struct {
	MaxSteps    int  `yaml:"max_steps"`
	NotifySteps bool `yaml:"notify_steps"`
}

// LoggingConfig selects level and output format (text, json, otel).
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// CORSConfig lists the origins allowed to call the HTTP API.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// Load reads configuration from a YAML file on top of Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML with environment variables expanded.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8000},
		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			Model:       "gpt-4o-mini",
			Temperature: 0,
		},
		Search: SearchConfig{
			Tavily: search.TavilyConfig{
				BaseURL:           search.DefaultTavilyURL,
				SearchDepth:       "advanced",
				MaxResults:        2,
				IncludeRawContent: true,
				IncludeAnswer:     true,
			},
		},
		Documents: DocumentsConfig{Dir: "docs"},
		Store:     StoreConfig{Driver: StoreMemory},
		Session:   SessionConfig{Expiry: 24 * time.Hour, CleanupEvery: 100},
		Engine:    EngineConfig{MaxSteps: 20, NotifySteps: true},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		CORS:      CORSConfig{Origins: []string{"http://localhost:3000"}},
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port: %d out of range", c.Listen.Port))
	}

	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAnthropic:
		if c.LLM.Model == "" {
			errs = append(errs, errors.New("llm.model is required"))
		}
	case ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}

	if c.Session.Expiry < 0 {
		errs = append(errs, errors.New("session.expiry must not be negative"))
	}
	if c.Engine.MaxSteps < 0 {
		errs = append(errs, errors.New("engine.max_steps must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "text", "json", "otel":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
