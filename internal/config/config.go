// Package config provides configuration management for ticketctl.
// Configuration is loaded from YAML files with environment variable
// overrides. Credential material never lives in config files; it comes
// from the OS keyring or environment only.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/trackwell/ticketbridge/internal/capability"
)

// Version is the current config schema version.
const Version = "1"

// Default file paths.
const (
	GlobalConfigDir   = ".config/ticketctl"
	GlobalConfigFile  = "config.yaml"
	ProjectConfigFile = ".ticketbridge.yaml"
)

// DefaultLinearURL is the hosted Linear API endpoint; Linear has no
// self-hosted deployment so the URL is rarely configured explicitly.
const DefaultLinearURL = "https://api.linear.app"

// Environment variable names.
const (
	EnvConnection = "TICKETBRIDGE_CONNECTION"
	EnvBaseURL    = "TICKETBRIDGE_BASE_URL"
	EnvToken      = "TICKETBRIDGE_TOKEN" //nolint:gosec // Env var name, not a credential
	EnvUsername   = "TICKETBRIDGE_USERNAME"
	EnvSecret     = "TICKETBRIDGE_SECRET" //nolint:gosec // Env var name, not a credential
)

// Config is the complete ticketctl configuration.
type Config struct {
	Version string `yaml:"version"`

	// DefaultConnection names the connection used when no --connection
	// flag or env override is given.
	DefaultConnection string `yaml:"default_connection"`

	Connections map[string]ConnectionConfig `yaml:"connections" validate:"dive"`
}

// ConnectionConfig describes one backend connection.
type ConnectionConfig struct {
	Backend string `yaml:"backend" validate:"required,oneof=jira linear"`

	// BaseURL is required for Jira; Linear defaults to the hosted
	// endpoint.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// Deployment hints the Server/DataCenter split that Jira's
	// self-description cannot always distinguish.
	Deployment string `yaml:"deployment" validate:"omitempty,oneof=cloud server dataCenter"`

	// Project preselects a project/team key for operations that take
	// one.
	Project string `yaml:"project"`
}

// Errors.
var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrNoConnection   = errors.New("no connection configured")
	ErrUnknownConnect = errors.New("unknown connection")
	ErrNoBaseURL      = errors.New("base_url is required for jira connections")
)

// New creates an empty Config.
func New() *Config {
	return &Config{
		Version:     Version,
		Connections: make(map[string]ConnectionConfig),
	}
}

// LoadOptions configures config loading behavior.
type LoadOptions struct {
	// ExplicitPath overrides config discovery (--config flag).
	ExplicitPath string
	// SkipGlobal skips loading the global config.
	SkipGlobal bool
	// SkipProject skips loading the project config.
	SkipProject bool
	// SkipEnv skips environment variable overrides.
	SkipEnv bool
}

// Load loads configuration with the following precedence (highest to
// lowest): environment variables, project config (.ticketbridge.yaml),
// global config (~/.config/ticketctl/config.yaml), built-in defaults.
// If ExplicitPath is set, it replaces both discovered files.
func Load(opts LoadOptions) (*Config, error) {
	cfg := New()

	if !opts.SkipGlobal && opts.ExplicitPath == "" {
		globalPath, err := globalConfigPath()
		if err == nil {
			if loadErr := loadFile(cfg, globalPath); loadErr != nil && !os.IsNotExist(loadErr) {
				return nil, fmt.Errorf("load global config: %w", loadErr)
			}
		}
	}

	if !opts.SkipProject && opts.ExplicitPath == "" {
		projectPath, err := discoverProjectConfig()
		if err == nil {
			if loadErr := loadFile(cfg, projectPath); loadErr != nil && !os.IsNotExist(loadErr) {
				return nil, fmt.Errorf("load project config: %w", loadErr)
			}
		}
	}

	if opts.ExplicitPath != "" {
		if err := loadFile(cfg, opts.ExplicitPath); err != nil {
			return nil, fmt.Errorf("load config %s: %w", opts.ExplicitPath, err)
		}
	}

	if !opts.SkipEnv {
		applyEnvOverrides(cfg)
	}

	return cfg, nil
}

// loadFile reads and unmarshals a YAML config file into cfg. Fields not
// present in the file retain their current values (merge behavior).
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // Config path from trusted source
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func globalConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, GlobalConfigDir, GlobalConfigFile), nil
}

// discoverProjectConfig walks up from CWD looking for
// .ticketbridge.yaml. Stops at git root or filesystem root.
func discoverProjectConfig() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := cwd
	for {
		path := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}

		gitPath := filepath.Join(dir, ".git")
		if _, err := os.Stat(gitPath); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", os.ErrNotExist
}

// applyEnvOverrides applies environment variable overrides. The base
// URL override applies to the selected connection.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvConnection); v != "" {
		cfg.DefaultConnection = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		name := cfg.DefaultConnection
		if conn, ok := cfg.Connections[name]; ok {
			conn.BaseURL = v
			cfg.Connections[name] = conn
		}
	}
}

// EnvCredentials reads credential material from the environment.
// Returned values override the keyring when present.
func EnvCredentials() (token, username, secret string) {
	return os.Getenv(EnvToken), os.Getenv(EnvUsername), os.Getenv(EnvSecret)
}

var validate = validator.New()

// Validate checks the configuration: struct-level tags first, then the
// cross-field rules the tags cannot express.
func (cfg *Config) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	for name, conn := range cfg.Connections {
		if conn.Backend == "jira" && conn.BaseURL == "" {
			return fmt.Errorf("%w: connection %q", ErrNoBaseURL, name)
		}
	}

	if cfg.DefaultConnection != "" {
		if _, ok := cfg.Connections[cfg.DefaultConnection]; !ok {
			return fmt.Errorf("%w: default_connection %q", ErrUnknownConnect, cfg.DefaultConnection)
		}
	}
	return nil
}

// Connection resolves a named connection, falling back to the default.
// An empty name with exactly one configured connection selects it.
func (cfg *Config) Connection(name string) (string, ConnectionConfig, error) {
	if name == "" {
		name = cfg.DefaultConnection
	}
	if name == "" && len(cfg.Connections) == 1 {
		for only := range cfg.Connections {
			name = only
		}
	}
	if name == "" {
		return "", ConnectionConfig{}, ErrNoConnection
	}

	conn, ok := cfg.Connections[name]
	if !ok {
		return "", ConnectionConfig{}, fmt.Errorf("%w: %q", ErrUnknownConnect, name)
	}

	if conn.Backend == "linear" && conn.BaseURL == "" {
		conn.BaseURL = DefaultLinearURL
	}
	return name, conn, nil
}

// BackendKind maps the configured backend string onto its typed value.
func (c ConnectionConfig) BackendKind() capability.Backend {
	if strings.EqualFold(c.Backend, "linear") {
		return capability.BackendLinear
	}
	return capability.BackendJira
}

// DeploymentHint maps the configured deployment string onto its typed
// value; empty means no hint.
func (c ConnectionConfig) DeploymentHint() capability.Deployment {
	switch c.Deployment {
	case "cloud":
		return capability.DeploymentCloud
	case "server":
		return capability.DeploymentServer
	case "dataCenter":
		return capability.DeploymentDataCenter
	default:
		return ""
	}
}

// SaveGlobal writes the config to the global config file, creating the
// directory if needed.
func (cfg *Config) SaveGlobal() error {
	path, err := globalConfigPath()
	if err != nil {
		return fmt.Errorf("get global config path: %w", err)
	}
	return cfg.SaveTo(path)
}

// SaveTo writes the config to the specified path.
func (cfg *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// String renders the config as YAML for the `config show` command.
func (cfg *Config) String() string {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Sprintf("config error: %v", err)
	}
	return string(data)
}

// DiscoveredPaths returns which config files were found, for
// diagnosing precedence surprises. Empty strings mean not found.
func DiscoveredPaths() (global, project string) {
	globalPath, err := globalConfigPath()
	if err == nil {
		if _, statErr := os.Stat(globalPath); statErr == nil {
			global = globalPath
		}
	}
	projectPath, err := discoverProjectConfig()
	if err == nil {
		project = projectPath
	}
	return global, project
}
