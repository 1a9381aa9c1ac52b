package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/liemle3893/e2e-runner-sub000/internal/errs"
	"gopkg.in/yaml.v3"
)

// DefaultFiles are looked up, in order, when no config path is given.
var DefaultFiles = []string{"e2e.config.yaml", "e2e.config.yml"}

// Config represents the e2e.config.yaml configuration
type Config struct {
	Version      int                    `yaml:"version"`
	TestDir      string                 `yaml:"testDir"`
	Environments map[string]Environment `yaml:"environments"`
	Defaults     Defaults               `yaml:"defaults"`
	Variables    map[string]any         `yaml:"variables"`
	Hooks        Hooks                  `yaml:"hooks"`
	Reporters    []Reporter             `yaml:"reporters"`
	Service      Service                `yaml:"service"`

	// Env is the name of the selected environment.
	Env string `yaml:"-"`
	// Path is the file the config was read from.
	Path string `yaml:"-"`
}

// Environment is one named target: a base URL for HTTP plus backend adapters.
type Environment struct {
	BaseURL  string                   `yaml:"baseUrl"`
	Adapters map[string]AdapterConfig `yaml:"adapters"`
}

// AdapterConfig holds the connection string and any adapter-specific options
// (schema, poolSize, db, keyPrefix, database, consumerGroup, ...).
type AdapterConfig struct {
	ConnectionString string         `yaml:"connectionString"`
	Options          map[string]any `yaml:",inline"`
}

// Defaults are suite-wide values; durations are in milliseconds.
type Defaults struct {
	Timeout       int  `yaml:"timeout"`
	Retries       int  `yaml:"retries"`
	RetryDelay    int  `yaml:"retryDelay"`
	MaxRetryDelay int  `yaml:"maxRetryDelay"`
	Parallel      int  `yaml:"parallel"`
	Bail          bool `yaml:"bail"`
}

// Hooks are step lists in the same shape as test document steps.
type Hooks struct {
	BeforeAll  []map[string]any `yaml:"beforeAll"`
	AfterAll   []map[string]any `yaml:"afterAll"`
	BeforeEach []map[string]any `yaml:"beforeEach"`
	AfterEach  []map[string]any `yaml:"afterEach"`
}

// Service is the application under test, started by the runner before the
// suite when configured. Durations are in milliseconds.
type Service struct {
	// Command runs the service as a local process.
	Command string `yaml:"command,omitempty"`
	// Image runs the service as a container instead.
	Image   string            `yaml:"image,omitempty"`
	WorkDir string            `yaml:"workdir,omitempty"`
	Port    int               `yaml:"port,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Ready   *ReadyCheck       `yaml:"ready,omitempty"`
	// Wait is extra settling time after the ready check passes.
	Wait int `yaml:"wait,omitempty"`
}

// ReadyCheck tells when the service accepts traffic.
type ReadyCheck struct {
	// Type is http or tcp.
	Type    string `yaml:"type"`
	Path    string `yaml:"path,omitempty"`
	Status  int    `yaml:"status,omitempty"`
	Timeout int    `yaml:"timeout,omitempty"`
}

// IsConfigured reports whether the runner should start the service.
func (s Service) IsConfigured() bool {
	return s.Command != "" || s.Image != ""
}

type Reporter struct {
	Type    string `yaml:"type"`
	Output  string `yaml:"output,omitempty"`
	Verbose bool   `yaml:"verbose,omitempty"`
}

const (
	MaxTimeout = 600000
	MaxRetries = 10
)

var (
	knownAdapters  = map[string]bool{"http": true, "postgresql": true, "redis": true, "mongodb": true, "eventhub": true}
	knownReporters = map[string]bool{"console": true, "junit": true, "json": true, "prometheus": true, "websocket": true}
)

// Find returns the first default config file present in dir.
func Find(dir string) (string, error) {
	for _, name := range DefaultFiles {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", &errs.ConfigError{Message: fmt.Sprintf("no config file found in %s (looked for %v)", dir, DefaultFiles)}
}

// Load reads and parses the config file and selects the environment envName.
// An empty envName selects "local", or the only environment when there is one.
func Load(path, envName string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.ConfigError{Message: "reading config file", Cause: err}
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &errs.ConfigError{Message: "parsing config file", Cause: err}
	}
	cfg.Path = path

	cfg.applyDefaults()
	if err := cfg.selectEnv(envName); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default is the configuration used when no config file exists: defaults
// only, with a single empty environment.
func Default(envName string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.selectEnv(envName); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.TestDir == "" {
		c.TestDir = "./tests"
	}
	if c.Defaults.Timeout == 0 {
		c.Defaults.Timeout = 30000
	}
	if c.Defaults.RetryDelay == 0 {
		c.Defaults.RetryDelay = 1000
	}
	if c.Defaults.MaxRetryDelay == 0 {
		c.Defaults.MaxRetryDelay = 30000
	}
	if c.Defaults.Parallel == 0 {
		c.Defaults.Parallel = 1
	}
	if len(c.Reporters) == 0 {
		c.Reporters = []Reporter{{Type: "console"}}
	}
}

func (c *Config) selectEnv(name string) error {
	if len(c.Environments) == 0 {
		if name == "" {
			name = "local"
		}
		c.Environments = map[string]Environment{name: {}}
	}
	if name == "" {
		if _, ok := c.Environments["local"]; ok || len(c.Environments) != 1 {
			name = "local"
		} else {
			for n := range c.Environments {
				name = n
			}
		}
	}
	if _, ok := c.Environments[name]; !ok {
		return &errs.ConfigError{
			Field:   "environments",
			Message: fmt.Sprintf("unknown environment %q (available: %v)", name, c.EnvironmentNames()),
		}
	}
	c.Env = name
	return nil
}

func (c *Config) validate() error {
	if c.Version != 1 {
		return &errs.ConfigError{Field: "version", Message: fmt.Sprintf("unsupported config version: %d (expected 1)", c.Version)}
	}

	d := c.Defaults
	if d.Timeout < 0 || d.Timeout > MaxTimeout {
		return &errs.ConfigError{Field: "defaults.timeout", Message: fmt.Sprintf("must be between 0 and %d ms, got %d", MaxTimeout, d.Timeout)}
	}
	if d.Retries < 0 || d.Retries > MaxRetries {
		return &errs.ConfigError{Field: "defaults.retries", Message: fmt.Sprintf("must be between 0 and %d, got %d", MaxRetries, d.Retries)}
	}
	if d.Parallel < 1 {
		return &errs.ConfigError{Field: "defaults.parallel", Message: fmt.Sprintf("must be at least 1, got %d", d.Parallel)}
	}
	if d.RetryDelay < 0 || d.MaxRetryDelay < d.RetryDelay {
		return &errs.ConfigError{Field: "defaults.retryDelay", Message: "retryDelay must be positive and not above maxRetryDelay"}
	}

	for envName, env := range c.Environments {
		for name, ac := range env.Adapters {
			if !knownAdapters[name] {
				return &errs.ConfigError{Field: fmt.Sprintf("environments.%s.adapters", envName), Message: fmt.Sprintf("unknown adapter %q", name)}
			}
			if name != "http" && ac.ConnectionString == "" {
				return &errs.ConfigError{Field: fmt.Sprintf("environments.%s.adapters.%s.connectionString", envName, name), Message: "is required"}
			}
		}
	}

	if err := c.Service.validate(); err != nil {
		return err
	}

	for i, r := range c.Reporters {
		if !knownReporters[r.Type] {
			return &errs.ConfigError{Field: fmt.Sprintf("reporters[%d].type", i), Message: fmt.Sprintf("unknown reporter %q", r.Type)}
		}
		if r.Type == "websocket" && r.Output == "" {
			return &errs.ConfigError{Field: fmt.Sprintf("reporters[%d].output", i), Message: "websocket reporter needs a URL"}
		}
	}

	return nil
}

func (s Service) validate() error {
	switch {
	case s.Command != "" && s.Image != "":
		return &errs.ConfigError{Field: "service", Message: "set either command or image, not both"}
	case s.Image != "" && s.Port == 0:
		return &errs.ConfigError{Field: "service.port", Message: "is required when running an image"}
	case s.Port < 0 || s.Port > 65535:
		return &errs.ConfigError{Field: "service.port", Message: fmt.Sprintf("invalid port %d", s.Port)}
	}
	if s.Ready != nil && s.Ready.Type != "http" && s.Ready.Type != "tcp" {
		return &errs.ConfigError{Field: "service.ready.type", Message: fmt.Sprintf("must be http or tcp, got %q", s.Ready.Type)}
	}
	return nil
}

// EnvironmentNames returns the configured environment names, sorted.
func (c *Config) EnvironmentNames() []string {
	names := make([]string, 0, len(c.Environments))
	for n := range c.Environments {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Environment returns the selected environment.
func (c *Config) Environment() Environment {
	return c.Environments[c.Env]
}

// TimeoutDuration is the default test timeout.
func (d Defaults) TimeoutDuration() time.Duration {
	return time.Duration(d.Timeout) * time.Millisecond
}

// RetryDelayDuration is the backoff base.
func (d Defaults) RetryDelayDuration() time.Duration {
	return time.Duration(d.RetryDelay) * time.Millisecond
}

// MaxRetryDelayDuration caps the backoff.
func (d Defaults) MaxRetryDelayDuration() time.Duration {
	return time.Duration(d.MaxRetryDelay) * time.Millisecond
}

// String returns the option as a string, or "".
func (a AdapterConfig) String(key string) string {
	if v, ok := a.Options[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

// Int returns the option as an int, or def when absent or not a number.
func (a AdapterConfig) Int(key string, def int) int {
	switch v := a.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
