package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/liemle3893/e2e-runner-sub000/internal/errs"
)

// Test helper to create temp config files
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "e2e.config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		env         string
		wantErr     bool
		errContains string
		validate    func(*testing.T, *Config)
	}{
		{
			name:    "minimal valid config",
			content: `version: 1`,
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Version != 1 {
					t.Errorf("expected version 1, got %d", cfg.Version)
				}
				if cfg.Env != "local" {
					t.Errorf("expected local env, got %s", cfg.Env)
				}
				if len(cfg.Reporters) != 1 || cfg.Reporters[0].Type != "console" {
					t.Errorf("expected default console reporter, got %+v", cfg.Reporters)
				}
			},
		},
		{
			name: "full config",
			env:  "staging",
			content: `
version: 1
testDir: ./e2e
environments:
  local:
    baseUrl: http://localhost:3000
  staging:
    baseUrl: https://staging.example.com
    adapters:
      postgresql:
        connectionString: postgres://u:p@db:5432/app
        schema: public
        poolSize: 5
      redis:
        connectionString: redis://cache:6379
        db: 2
        keyPrefix: "e2e:"
      eventhub:
        connectionString: Endpoint=sb://ns.servicebus.windows.net/;SharedAccessKeyName=k;SharedAccessKey=s
        consumerGroup: e2e
defaults:
  timeout: 10000
  retries: 2
  retryDelay: 500
  maxRetryDelay: 4000
  parallel: 4
  bail: true
variables:
  tenant: acme
hooks:
  beforeAll:
    - adapter: postgresql
      action: execute
      query: DELETE FROM users
  afterEach:
    - adapter: redis
      action: flushPattern
      pattern: "e2e:*"
reporters:
  - type: console
    verbose: true
  - type: junit
    output: reports/junit.xml
`,
			validate: func(t *testing.T, cfg *Config) {
				if cfg.TestDir != "./e2e" {
					t.Errorf("expected testDir ./e2e, got %s", cfg.TestDir)
				}
				env := cfg.Environment()
				if env.BaseURL != "https://staging.example.com" {
					t.Errorf("unexpected baseUrl %s", env.BaseURL)
				}
				pg := env.Adapters["postgresql"]
				if pg.ConnectionString != "postgres://u:p@db:5432/app" {
					t.Errorf("unexpected connection string %s", pg.ConnectionString)
				}
				if pg.String("schema") != "public" || pg.Int("poolSize", 10) != 5 {
					t.Errorf("unexpected options %v", pg.Options)
				}
				if env.Adapters["redis"].String("keyPrefix") != "e2e:" {
					t.Errorf("unexpected redis options %v", env.Adapters["redis"].Options)
				}
				if cfg.Defaults.TimeoutDuration() != 10*time.Second {
					t.Errorf("unexpected timeout %v", cfg.Defaults.TimeoutDuration())
				}
				if cfg.Defaults.Parallel != 4 || !cfg.Defaults.Bail || cfg.Defaults.Retries != 2 {
					t.Errorf("unexpected defaults %+v", cfg.Defaults)
				}
				if cfg.Variables["tenant"] != "acme" {
					t.Errorf("unexpected variables %v", cfg.Variables)
				}
				if len(cfg.Hooks.BeforeAll) != 1 || cfg.Hooks.BeforeAll[0]["query"] != "DELETE FROM users" {
					t.Errorf("unexpected beforeAll hooks %v", cfg.Hooks.BeforeAll)
				}
				if len(cfg.Hooks.AfterEach) != 1 {
					t.Errorf("expected 1 afterEach hook, got %d", len(cfg.Hooks.AfterEach))
				}
				if len(cfg.Reporters) != 2 || cfg.Reporters[1].Output != "reports/junit.xml" {
					t.Errorf("unexpected reporters %+v", cfg.Reporters)
				}
			},
		},
		{
			name: "single environment selected by default",
			content: `
environments:
  ci:
    baseUrl: http://app:8080
`,
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Env != "ci" {
					t.Errorf("expected ci env, got %s", cfg.Env)
				}
			},
		},
		{
			name:        "invalid YAML",
			content:     `version: [invalid`,
			wantErr:     true,
			errContains: "parsing config file",
		},
		{
			name:        "unsupported version",
			content:     `version: 3`,
			wantErr:     true,
			errContains: "unsupported config version",
		},
		{
			name: "unknown environment",
			env:  "prod",
			content: `
environments:
  local: {}
`,
			wantErr:     true,
			errContains: "unknown environment",
		},
		{
			name: "unknown adapter",
			content: `
environments:
  local:
    adapters:
      cassandra:
        connectionString: x
`,
			wantErr:     true,
			errContains: "unknown adapter",
		},
		{
			name: "missing connection string",
			content: `
environments:
  local:
    adapters:
      redis:
        db: 1
`,
			wantErr:     true,
			errContains: "connectionString",
		},
		{
			name: "parallel below one",
			content: `
defaults:
  parallel: -1
`,
			wantErr:     true,
			errContains: "defaults.parallel",
		},
		{
			name: "retries above limit",
			content: `
defaults:
  retries: 11
`,
			wantErr:     true,
			errContains: "defaults.retries",
		},
		{
			name: "unknown reporter",
			content: `
reporters:
  - type: html
`,
			wantErr:     true,
			errContains: "unknown reporter",
		},
		{
			name: "service command",
			content: `
service:
  command: ./bin/api --listen :8080
  port: 8080
  env:
    LOG_LEVEL: debug
  ready:
    type: http
    path: /health
    timeout: 10000
  wait: 500
`,
			validate: func(t *testing.T, cfg *Config) {
				s := cfg.Service
				if !s.IsConfigured() || s.Command != "./bin/api --listen :8080" || s.Port != 8080 {
					t.Errorf("unexpected service %+v", s)
				}
				if s.Env["LOG_LEVEL"] != "debug" || s.Wait != 500 {
					t.Errorf("unexpected service env/wait %+v", s)
				}
				if s.Ready == nil || s.Ready.Type != "http" || s.Ready.Timeout != 10000 {
					t.Errorf("unexpected ready check %+v", s.Ready)
				}
			},
		},
		{
			name: "service command and image",
			content: `
service:
  command: ./api
  image: api:latest
  port: 8080
`,
			wantErr:     true,
			errContains: "either command or image",
		},
		{
			name: "service image without port",
			content: `
service:
  image: api:latest
`,
			wantErr:     true,
			errContains: "service.port",
		},
		{
			name: "service bad ready type",
			content: `
service:
  command: ./api
  port: 8080
  ready:
    type: grpc
`,
			wantErr:     true,
			errContains: "must be http or tcp",
		},
		{
			name: "websocket reporter without url",
			content: `
reporters:
  - type: websocket
`,
			wantErr:     true,
			errContains: "needs a URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := createTempConfig(t, tt.content)
			cfg, err := Load(path, tt.env)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("expected error containing %q, got %q", tt.errContains, err.Error())
				}
				var ce *errs.ConfigError
				if !errors.As(err, &ce) {
					t.Errorf("expected ConfigError, got %T", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/e2e.config.yaml", "")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("expected 'reading config file' error, got %q", err.Error())
	}
}

func TestLoadWithEnvVarExpansion(t *testing.T) {
	os.Setenv("E2E_TEST_DB_URL", "postgres://localhost/e2e")
	defer os.Unsetenv("E2E_TEST_DB_URL")

	content := `
environments:
  local:
    adapters:
      postgresql:
        connectionString: ${E2E_TEST_DB_URL}
`
	path := createTempConfig(t, content)
	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := cfg.Environment().Adapters["postgresql"].ConnectionString; got != "postgres://localhost/e2e" {
		t.Errorf("expected expanded connection string, got %s", got)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Version != 1 {
		t.Errorf("expected version 1, got %d", cfg.Version)
	}
	if cfg.TestDir != "./tests" {
		t.Errorf("expected ./tests, got %s", cfg.TestDir)
	}
	if cfg.Defaults.Timeout != 30000 {
		t.Errorf("expected 30000ms timeout, got %d", cfg.Defaults.Timeout)
	}
	if cfg.Defaults.RetryDelay != 1000 || cfg.Defaults.MaxRetryDelay != 30000 {
		t.Errorf("unexpected retry delays %+v", cfg.Defaults)
	}
	if cfg.Defaults.Parallel != 1 {
		t.Errorf("expected parallel 1, got %d", cfg.Defaults.Parallel)
	}
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	if _, err := Find(dir); err == nil {
		t.Error("expected error for empty dir")
	}

	path := filepath.Join(dir, "e2e.config.yml")
	if err := os.WriteFile(path, []byte("version: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Find(dir)
	if err != nil || got != path {
		t.Errorf("Find() = %q, %v", got, err)
	}
}

func TestAdapterConfigAccessors(t *testing.T) {
	ac := AdapterConfig{Options: map[string]any{"db": 3, "ratio": 1.5, "name": "x", "flag": true}}

	if ac.Int("db", 0) != 3 {
		t.Error("expected db 3")
	}
	if ac.Int("missing", 7) != 7 {
		t.Error("expected default")
	}
	if ac.String("name") != "x" || ac.String("flag") != "true" || ac.String("missing") != "" {
		t.Error("unexpected string accessors")
	}
}

func TestDefault(t *testing.T) {
	cfg, err := Default("")
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if cfg.Env != "local" {
		t.Errorf("Env = %q, want local", cfg.Env)
	}
	if cfg.TestDir != "./tests" || cfg.Defaults.Parallel != 1 || cfg.Defaults.Timeout != 30000 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if len(cfg.Reporters) != 1 || cfg.Reporters[0].Type != "console" {
		t.Errorf("Reporters = %+v", cfg.Reporters)
	}

	cfg, err = Default("ci")
	if err != nil || cfg.Env != "ci" {
		t.Errorf("Default(ci) = %+v, %v", cfg, err)
	}
}
