// Package config loads hubnet settings from defaults, a YAML file, an
// optional profile overlay, HUBNET_ environment variables and --set
// overrides, in that order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides:
// HUBNET_HUB_PEER_TIMEOUT_SECONDS -> hub.peer_timeout_seconds.
const EnvPrefix = "HUBNET_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Node      NodeConfig      `koanf:"node"`
	Hub       HubConfig       `koanf:"hub"`
	Registry  RegistryConfig  `koanf:"registry"`
	Matcher   MatcherConfig   `koanf:"matcher"`
	LLM       LLMConfig       `koanf:"llm"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Shop      ShopConfig      `koanf:"shop"`
	Requester RequesterConfig `koanf:"requester"`
	MCP       MCPConfig       `koanf:"mcp"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

// NodeConfig is the identity this process announces to others.
type NodeConfig struct {
	Name string `koanf:"name"`
	Host string `koanf:"host"`
	Port string `koanf:"port"`
}

type HubConfig struct {
	Listen                 string `koanf:"listen"`
	Admission              string `koanf:"admission"` // open, known
	PeerTimeoutSeconds     int    `koanf:"peer_timeout_seconds"`
	RetryAttempts          int    `koanf:"retry_attempts"`
	BreakerFailures        int    `koanf:"breaker_failures"`
	BreakerCooldownSeconds int    `koanf:"breaker_cooldown_seconds"`
}

// PeerTimeout returns the per-peer call bound.
func (h HubConfig) PeerTimeout() time.Duration {
	return time.Duration(h.PeerTimeoutSeconds) * time.Second
}

// BreakerCooldown returns how long a failing peer is skipped.
func (h HubConfig) BreakerCooldown() time.Duration {
	return time.Duration(h.BreakerCooldownSeconds) * time.Second
}

type RegistryConfig struct {
	Backend       string       `koanf:"backend"` // memory, sqlite, badger, redis
	Path          string       `koanf:"path"`
	RedisAddr     string       `koanf:"redis_addr"`
	RedisPassword string       `koanf:"redis_password"`
	RedisDB       int          `koanf:"redis_db"`
	RedisPrefix   string       `koanf:"redis_prefix"`
	Seeds         []SeedConfig `koanf:"seeds"`
}

// SeedConfig names a CSV table imported into one partition at startup.
type SeedConfig struct {
	Path string `koanf:"path"`
	Kind string `koanf:"kind"` // Public, Private, Friend
}

type MatcherConfig struct {
	Kind                 string `koanf:"kind"` // keyword, llm
	CategoriesPromptFile string `koanf:"categories_prompt_file"`
	MatchPromptFile      string `koanf:"match_prompt_file"`
	MaxRows              int    `koanf:"max_rows"`
}

type LLMConfig struct {
	Provider string `koanf:"provider"` // ollama, openai, mock
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type ShopConfig struct {
	Listen        string `koanf:"listen"`
	Name          string `koanf:"name"`
	Category      string `koanf:"category"`
	Description   string `koanf:"description"`
	InventoryFile string `koanf:"inventory_file"`
}

type RequesterConfig struct {
	Hubs             []NodeConfig `koanf:"hubs"`
	UseLocalRegistry bool         `koanf:"use_local_registry"`
	MaxRounds        int          `koanf:"max_rounds"`
	TimeoutSeconds   int          `koanf:"timeout_seconds"`
}

type MCPConfig struct {
	Transport string `koanf:"transport"` // stdio, http
	Listen    string `koanf:"listen"`
	HubURL    string `koanf:"hub_url"`
}

// Options select the sources Load layers on top of the defaults.
type Options struct {
	Path    string
	Profile string
	// Sets are key=value overrides. Values that parse as JSON are
	// decoded, so lists and objects can be set too.
	Sets []string
}

// Global k instance
var k = koanf.New(".")

func setDefaults() {
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("node.name", "Hub1")
	k.Set("node.host", "127.0.0.1")
	k.Set("node.port", "8010")

	k.Set("hub.listen", ":8010")
	k.Set("hub.admission", "open")
	k.Set("hub.peer_timeout_seconds", 10)
	k.Set("hub.retry_attempts", 1)
	k.Set("hub.breaker_failures", 5)
	k.Set("hub.breaker_cooldown_seconds", 30)

	k.Set("registry.backend", "memory")
	k.Set("registry.redis_prefix", "hubnet")

	k.Set("matcher.kind", "keyword")
	k.Set("matcher.max_rows", 25)

	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "llama3.1")
	k.Set("llm.base_url", "http://localhost:11434")

	k.Set("telemetry.exporter", "none")
	k.Set("telemetry.otlp_insecure", true)

	k.Set("shop.listen", ":8020")
	k.Set("requester.use_local_registry", true)
	k.Set("requester.timeout_seconds", 60)

	k.Set("mcp.transport", "stdio")
	k.Set("mcp.listen", ":8030")
	k.Set("mcp.hub_url", "http://127.0.0.1:8010")
}

// Load reads a config file (optional) and the environment.
func Load(path string) (*Config, error) {
	return LoadWith(Options{Path: path})
}

// LoadWith layers every source in opts over the defaults.
func LoadWith(opts Options) (*Config, error) {
	k = koanf.New(".")
	setDefaults()

	if opts.Path != "" {
		if err := k.Load(file.Provider(opts.Path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", opts.Path, err)
		}
		if opts.Profile != "" {
			overlay := profilePath(opts.Path, opts.Profile)
			if _, err := os.Stat(overlay); err == nil {
				if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
					return nil, fmt.Errorf("config: load %s: %w", overlay, err)
				}
			}
		}
	}

	// Section names are single words, so only the first underscore nests.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	for _, raw := range opts.Sets {
		key, value, err := ParseSet(raw)
		if err != nil {
			return nil, err
		}
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("config: set %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseSet splits a key=value override.
func ParseSet(raw string) (string, interface{}, error) {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("config: invalid override %q, want key=value", raw)
	}
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "{") || strings.HasPrefix(value, "[") {
		var decoded interface{}
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			return key, decoded, nil
		}
	}
	return key, value, nil
}

func profilePath(path, profile string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Node.Name) == "" {
		return fmt.Errorf("config: node.name is required")
	}
	switch c.Hub.Admission {
	case "open", "known":
	default:
		return fmt.Errorf("config: hub.admission must be open or known, got %q", c.Hub.Admission)
	}
	switch c.Registry.Backend {
	case "memory", "sqlite", "badger", "redis":
	default:
		return fmt.Errorf("config: unknown registry.backend %q", c.Registry.Backend)
	}
	switch c.Matcher.Kind {
	case "keyword", "llm":
	default:
		return fmt.Errorf("config: unknown matcher.kind %q", c.Matcher.Kind)
	}
	if c.Hub.PeerTimeoutSeconds <= 0 {
		return fmt.Errorf("config: hub.peer_timeout_seconds must be positive, got %d", c.Hub.PeerTimeoutSeconds)
	}
	if c.Hub.RetryAttempts < 0 {
		return fmt.Errorf("config: hub.retry_attempts must be non-negative, got %d", c.Hub.RetryAttempts)
	}
	if c.Hub.BreakerCooldownSeconds < 0 {
		return fmt.Errorf("config: hub.breaker_cooldown_seconds must be non-negative, got %d", c.Hub.BreakerCooldownSeconds)
	}
	if c.Requester.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: requester.timeout_seconds must be positive, got %d", c.Requester.TimeoutSeconds)
	}
	return nil
}
