package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the accessor methods.
//
// Example (~/.plugbot/config.yaml):
//
//	server:
//	  host: 127.0.0.1
//	  port: 8090
//	database:
//	  driver: sqlite
//	  dsn: /home/me/.plugbot/plugbot.db
//	model:
//	  provider: openai
//	  model: gpt-4o-mini
//	  api_key: sk-...
//	sandbox:
//	  compile_timeout: 2s
//	  handler_timeout: 10s
//
// If the config file does not exist, Load returns defaults without error.
// If the file exists but cannot be parsed or fails validation, Load returns an error.
type AppConfig struct {
	Server    ServerConfig   `yaml:"server"`
	Log       LogConfig      `yaml:"log"`
	Database  DatabaseConfig `yaml:"database"`
	Model     ModelConfig    `yaml:"model"`
	Embedding ModelConfig    `yaml:"embedding"`
	Sandbox   SandboxConfig  `yaml:"sandbox"`
	Agent     AgentConfig    `yaml:"agent"`
	Auth      AuthConfig     `yaml:"auth"`
	Redis     RedisConfig    `yaml:"redis"`
	Chat      ChatConfig     `yaml:"chat"`
	Catalog   CatalogConfig  `yaml:"catalog"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

// ModelConfig selects a provider for chat completions or embeddings.
// Extra carries provider specific values such as ark's region.
type ModelConfig struct {
	Provider string            `yaml:"provider"`
	Model    string            `yaml:"model"`
	APIKey   string            `yaml:"api_key"`
	BaseURL  string            `yaml:"base_url"`
	Extra    map[string]string `yaml:"extra,omitempty"`
}

type SandboxConfig struct {
	CompileTimeout  *time.Duration `yaml:"compile_timeout"`
	HandlerTimeout  *time.Duration `yaml:"handler_timeout"`
	MaxConcurrency  *int           `yaml:"max_concurrency"`
	MaxStringLength *int           `yaml:"max_string_length"` // bytes, for repeat/padStart/padEnd
}

type AgentConfig struct {
	MaxIterations *int           `yaml:"max_iterations"`
	Timeout       *time.Duration `yaml:"timeout"`
	Instruction   string         `yaml:"instruction"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ChatConfig struct {
	AutoTitle *bool `yaml:"auto_title"`
}

// CatalogConfig controls where plugin embeddings are kept. An empty path
// keeps them in memory and they are rebuilt on startup.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 8090
	DefaultDriver         = "sqlite"
	DefaultCompileTimeout = 2 * time.Second
	DefaultHandlerTimeout = 10 * time.Second
	DefaultMaxConcurrency = 8
	DefaultMaxIterations  = 12
	DefaultAgentTimeout   = 120 * time.Second
	DefaultInstruction    = "You are a helpful assistant. Use the available tools when they help answer the user's request."

	// PortEnv overrides server.port when set to a valid port.
	PortEnv = "PLUGBOT_PORT"
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".plugbot")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.plugbot/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.applyEnv()
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("%w in %s", err, configFile)
	}

	return cfg, configFile, nil
}

// Validate checks value ranges that the accessors cannot default away.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Host()) == "" {
		return errors.New("invalid server.host (empty)")
	}
	if port := c.Port(); port < 1 || port > 65535 {
		return fmt.Errorf("invalid server.port %d", port)
	}
	switch c.DatabaseDriver() {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.DatabaseDriver() != "sqlite" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for driver %s", c.DatabaseDriver())
	}
	if c.Sandbox.MaxConcurrency != nil && *c.Sandbox.MaxConcurrency < 1 {
		return fmt.Errorf("invalid sandbox.max_concurrency %d", *c.Sandbox.MaxConcurrency)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	v := strings.TrimSpace(os.Getenv(PortEnv))
	if v == "" {
		return
	}
	if p, err := strconv.Atoi(v); err == nil && p > 0 && p <= 65535 {
		c.Server.Port = &p
	}
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server:   ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		Database: DatabaseConfig{Driver: DefaultDriver, DSN: filepath.Join(configDir, "plugbot.db")},
		Model:    ModelConfig{Provider: "openai", Model: "gpt-4o-mini"},
		Sandbox: SandboxConfig{
			CompileTimeout: ptr(DefaultCompileTimeout),
			HandlerTimeout: ptr(DefaultHandlerTimeout),
			MaxConcurrency: ptr(DefaultMaxConcurrency),
		},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

func (c *AppConfig) LogLevel() string {
	if c == nil || c.Log.Level == "" {
		return "info"
	}
	return c.Log.Level
}

func (c *AppConfig) DatabaseDriver() string {
	if c == nil || c.Database.Driver == "" {
		return DefaultDriver
	}
	return strings.ToLower(c.Database.Driver)
}

// DatabaseDSN defaults to a file next to the config for sqlite.
func (c *AppConfig) DatabaseDSN() string {
	if c != nil && c.Database.DSN != "" {
		return c.Database.DSN
	}
	configDir, _, err := DefaultPaths()
	if err != nil {
		return "plugbot.db"
	}
	return filepath.Join(configDir, "plugbot.db")
}

func (c *AppConfig) CompileTimeout() time.Duration {
	if c == nil || c.Sandbox.CompileTimeout == nil || *c.Sandbox.CompileTimeout <= 0 {
		return DefaultCompileTimeout
	}
	return *c.Sandbox.CompileTimeout
}

func (c *AppConfig) HandlerTimeout() time.Duration {
	if c == nil || c.Sandbox.HandlerTimeout == nil || *c.Sandbox.HandlerTimeout <= 0 {
		return DefaultHandlerTimeout
	}
	return *c.Sandbox.HandlerTimeout
}

func (c *AppConfig) MaxConcurrency() int {
	if c == nil || c.Sandbox.MaxConcurrency == nil {
		return DefaultMaxConcurrency
	}
	return *c.Sandbox.MaxConcurrency
}

// MaxStringLength returns 0 when unset so the sandbox applies its default.
func (c *AppConfig) MaxStringLength() int {
	if c == nil || c.Sandbox.MaxStringLength == nil {
		return 0
	}
	return *c.Sandbox.MaxStringLength
}

func (c *AppConfig) MaxIterations() int {
	if c == nil || c.Agent.MaxIterations == nil || *c.Agent.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return *c.Agent.MaxIterations
}

func (c *AppConfig) AgentTimeout() time.Duration {
	if c == nil || c.Agent.Timeout == nil || *c.Agent.Timeout <= 0 {
		return DefaultAgentTimeout
	}
	return *c.Agent.Timeout
}

func (c *AppConfig) Instruction() string {
	if c == nil || strings.TrimSpace(c.Agent.Instruction) == "" {
		return DefaultInstruction
	}
	return c.Agent.Instruction
}

func (c *AppConfig) AutoTitle() bool {
	if c == nil || c.Chat.AutoTitle == nil {
		return true
	}
	return *c.Chat.AutoTitle
}

func (c *AppConfig) CatalogPath() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Catalog.Path)
}

func ptr[T any](v T) *T { return &v }
