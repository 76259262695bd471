package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/m4xw311/thinkact/errors"
	"gopkg.in/yaml.v3"
)

// Dir is the per-user and per-project configuration directory name.
const Dir = ".thinkact"

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Retry mirrors llm.RetryConfig with YAML duration strings.
type Retry struct {
	MaxRetries     int           `yaml:"max_retries"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	EnableFallback bool          `yaml:"enable_fallback"`
}

type Prompt struct {
	Context      string `yaml:"context"`
	Instructions string `yaml:"instructions"`
	Examples     string `yaml:"examples"`
	Caching      bool   `yaml:"caching"`
	CacheTTL     string `yaml:"cache_ttl"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StepLog struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type Config struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTurns    int     `yaml:"max_turns"`
	Retry       Retry   `yaml:"retry"`
	Prompt      Prompt  `yaml:"prompt"`
	Logging     Logging `yaml:"logging"`
	StepLog     StepLog `yaml:"step_log"`
	MetricsAddr string  `yaml:"metrics_addr"`

	// Actions limits the builtin actions; empty enables all.
	Actions          []string         `yaml:"actions"`
	MCPServers       []MCPServer      `yaml:"mcp_servers"`
	AllowedCommands  []string         `yaml:"allowed_commands"`
	FilesystemAccess FilesystemAccess `yaml:"filesystem_access"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Provider:    "anthropic",
		Temperature: 0.1,
		MaxTurns:    5,
		Retry: Retry{
			MaxRetries:     3,
			BaseDelay:      time.Second,
			MaxDelay:       60 * time.Second,
			EnableFallback: true,
		},
		Prompt:  Prompt{CacheTTL: "5m"},
		Logging: Logging{Level: "info", Format: "text"},
		FilesystemAccess: FilesystemAccess{
			// The config directory is hidden from file actions.
			Hidden: []string{Dir, Dir + "/**"},
		},
	}
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence. An explicit path, when
// given, is applied last.
func LoadConfig(explicit string) (*Config, error) {
	cfg := Default()

	// Load user-level config first
	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, Dir, "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	// Load project-level config, overriding user-level
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, Dir, "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	if explicit != "" {
		if err := loadFromFile(explicit, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading config %s", explicit)
		}
	}

	return cfg, cfg.Validate()
}

// loadFromFile overlays the fields present in the YAML file onto cfg.
// Lists replace rather than append, except hidden paths which accumulate
// so the config directory stays hidden.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	hidden := cfg.FilesystemAccess.Hidden
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	cfg.FilesystemAccess.Hidden = mergeUnique(hidden, cfg.FilesystemAccess.Hidden)
	return nil
}

// Validate rejects values the agent cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.MaxTurns < 1:
		return errors.New("max_turns must be at least 1, got %d", c.MaxTurns)
	case c.Temperature < 0 || c.Temperature > 2:
		return errors.New("temperature must be within [0, 2], got %v", c.Temperature)
	case c.Retry.MaxRetries < 0:
		return errors.New("retry.max_retries must not be negative")
	case c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0:
		return errors.New("retry delays must not be negative")
	case c.Retry.BaseDelay > 0 && c.Retry.MaxDelay == 0:
		return errors.New("retry.max_delay must be positive when retry.base_delay is set")
	case c.Prompt.CacheTTL != "" && c.Prompt.CacheTTL != "5m" && c.Prompt.CacheTTL != "1h":
		return errors.New("prompt.cache_ttl must be 5m or 1h, got %q", c.Prompt.CacheTTL)
	}
	for _, s := range c.MCPServers {
		if s.Name == "" || s.Command == "" {
			return errors.New("mcp server entries need a name and a command")
		}
	}
	return nil
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
