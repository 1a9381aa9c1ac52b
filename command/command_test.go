package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/liemle3893/e2e-runner-sub000/internal/runlog"
)

const passingTest = `name: get user
priority: P1
tags: [users]
execute:
  - adapter: http
    action: request
    method: GET
    url: /users/42
    capture:
      userId: $.body.id
    assert:
      status: 200
verify:
  - adapter: http
    action: request
    method: GET
    url: /users/{{userId}}
    assert:
      json:
        - path: $.name
          equals: Ada
`

const failingTest = `name: missing user
priority: P0
tags: [smoke]
execute:
  - adapter: http
    action: request
    method: GET
    url: /users/404
    assert:
      status: 200
`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/users/42" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"not found"}`))
			return
		}
		w.Write([]byte(`{"id":42,"name":"Ada"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// project writes a config plus test files and returns the config path.
func project(t *testing.T, baseURL string, tests map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := "version: 1\ntestDir: ./tests\nenvironments:\n  local:\n    baseUrl: " + baseURL + "\n" +
		"reporters:\n  - type: console\n  - type: json\n"
	if err := os.WriteFile(filepath.Join(dir, "e2e.config.yaml"), []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "tests"), 0755); err != nil {
		t.Fatal(err)
	}
	for name, content := range tests {
		if err := os.WriteFile(filepath.Join(dir, "tests", name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return filepath.Join(dir, "e2e.config.yaml")
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := NewApp(&stdout, &stderr).Run(append([]string{"e2e"}, args...))
	return stdout.String(), stderr.String(), err
}

func TestRun_Passing(t *testing.T) {
	srv := newServer(t)
	cfg := project(t, srv.URL, map[string]string{"user.test.yaml": passingTest})
	outDir := t.TempDir()

	stdout, _, err := run(t, "run", "--config", cfg, "--output-dir", outDir)
	if err != nil {
		t.Fatalf("run error = %v\n%s", err, stdout)
	}
	if ExitCode(err) != ExitOK {
		t.Errorf("exit code = %d", ExitCode(err))
	}
	if !strings.Contains(stdout, "get user") || !strings.Contains(stdout, "1 passed") {
		t.Errorf("console output missing results:\n%s", stdout)
	}

	runs, err := runlog.List(outDir)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %v, %v", runs, err)
	}
	data, err := os.ReadFile(filepath.Join(runs[0].Dir, "results.json"))
	if err != nil {
		t.Fatalf("json report missing: %v", err)
	}
	var doc struct {
		Success bool `json:"success"`
		Tests   []struct {
			Captured map[string]any `json:"captured"`
		} `json:"tests"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if !doc.Success || len(doc.Tests) != 1 || doc.Tests[0].Captured["userId"] != float64(42) {
		t.Errorf("report = %s", data)
	}
}

func TestRun_Failures(t *testing.T) {
	srv := newServer(t)
	cfg := project(t, srv.URL, map[string]string{
		"user.test.yaml":    passingTest,
		"missing.test.yaml": failingTest,
	})

	tests := []struct {
		name     string
		args     []string
		wantCode int
	}{
		{name: "one failure", args: nil, wantCode: ExitTestFailure},
		{name: "filtered to passing", args: []string{"--tags", "users"}, wantCode: ExitOK},
		{name: "priority filter", args: []string{"--priority", "P0"}, wantCode: ExitTestFailure},
		{name: "grep filter", args: []string{"--grep", "^get"}, wantCode: ExitOK},
		{name: "invalid priority", args: []string{"--priority", "P9"}, wantCode: ExitConfigError},
		{name: "invalid parallel", args: []string{"--parallel", "0"}, wantCode: ExitConfigError},
		{name: "unknown reporter", args: []string{"--reporter", "html"}, wantCode: ExitConfigError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"run", "--config", cfg, "--output-dir", t.TempDir()}, tt.args...)
			_, _, err := run(t, args...)
			if got := ExitCode(err); got != tt.wantCode {
				t.Errorf("exit code = %d, want %d (err: %v)", got, tt.wantCode, err)
			}
		})
	}
}

func TestRun_DryRun(t *testing.T) {
	// Nothing listens here; a dry run never connects.
	cfg := project(t, "http://127.0.0.1:1", map[string]string{"user.test.yaml": passingTest})
	outDir := t.TempDir()

	stdout, _, err := run(t, "run", "--config", cfg, "--output-dir", outDir, "--dry-run")
	if err != nil {
		t.Fatalf("dry run error = %v", err)
	}
	for _, want := range []string{"Dry run: 1 test(s)", "[P1] get user", "adapters: http", "steps: 2"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
	if runs, _ := runlog.List(outDir); len(runs) != 0 {
		t.Errorf("dry run created run directories: %v", runs)
	}
}

func TestRun_MissingAdapter(t *testing.T) {
	redisTest := "name: cache\nexecute:\n  - adapter: redis\n    action: get\n    key: k\n"
	cfg := project(t, "http://127.0.0.1:1", map[string]string{"cache.test.yaml": redisTest})

	_, _, err := run(t, "run", "--config", cfg, "--output-dir", t.TempDir())
	if ExitCode(err) != ExitConfigError || !strings.Contains(err.Error(), "redis") {
		t.Errorf("err = %v", err)
	}
}

// serviceProject is a project without a baseUrl whose service listens on port.
func serviceProject(t *testing.T, command string, port string) string {
	t.Helper()
	cfg := project(t, "", map[string]string{"user.test.yaml": passingTest})
	content := "version: 1\ntestDir: ./tests\n" +
		"service:\n  command: " + command + "\n  port: " + port + "\n  ready:\n    type: tcp\n    timeout: 2000\n" +
		"reporters:\n  - type: console\n"
	if err := os.WriteFile(cfg, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestRun_Service(t *testing.T) {
	srv := newServer(t)
	_, port, _ := strings.Cut(strings.TrimPrefix(srv.URL, "http://"), ":")
	cfg := serviceProject(t, "sleep 30", port)
	outDir := t.TempDir()

	stdout, _, err := run(t, "run", "--config", cfg, "--output-dir", outDir)
	if err != nil {
		t.Fatalf("run error = %v\n%s", err, stdout)
	}
	if !strings.Contains(stdout, "1 passed") {
		t.Errorf("expected the test to reach the service:\n%s", stdout)
	}

	runs, err := runlog.List(outDir)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %v, %v", runs, err)
	}
	if _, err := os.Stat(filepath.Join(runs[0].Dir, "service.log")); err != nil {
		t.Errorf("service log missing: %v", err)
	}
}

func TestRun_ServiceNotReady(t *testing.T) {
	cfg := serviceProject(t, "false", "1")

	_, _, err := run(t, "run", "--config", cfg, "--output-dir", t.TempDir())
	if ExitCode(err) != ExitConfigError || !strings.Contains(err.Error(), "service") {
		t.Errorf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	broken := "name: broken\nexecute: []\n"
	cfg := project(t, "http://localhost", map[string]string{
		"user.test.yaml":   passingTest,
		"broken.test.yaml": broken,
	})

	stdout, _, err := run(t, "validate", "--config", cfg)
	if ExitCode(err) != ExitConfigError {
		t.Fatalf("exit code = %d, err %v", ExitCode(err), err)
	}
	if !strings.Contains(stdout, "get user") || !strings.Contains(stdout, "broken.test.yaml") {
		t.Errorf("output:\n%s", stdout)
	}

	cfg = project(t, "http://localhost", map[string]string{"user.test.yaml": passingTest})
	stdout, _, err = run(t, "validate", "--config", cfg)
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if !strings.Contains(stdout, "All 1 test(s) valid.") {
		t.Errorf("output:\n%s", stdout)
	}
}

func TestList(t *testing.T) {
	cfg := project(t, "http://localhost", map[string]string{
		"user.test.yaml":    passingTest,
		"missing.test.yaml": failingTest,
	})

	stdout, _, err := run(t, "list", "--config", cfg, "--json", "--tags", "smoke")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	var entries []listEntry
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil {
		t.Fatalf("invalid json %q: %v", stdout, err)
	}
	if len(entries) != 1 || entries[0].Name != "missing user" || entries[0].Priority != "P0" {
		t.Errorf("entries = %+v", entries)
	}

	stdout, _, err = run(t, "list", "--config", cfg)
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if !strings.Contains(stdout, "2 test(s)") || !strings.Contains(stdout, "[P1] get user") {
		t.Errorf("output:\n%s", stdout)
	}
}

func TestHealth(t *testing.T) {
	srv := newServer(t)
	cfg := project(t, srv.URL, nil)

	stdout, _, err := run(t, "health", "--config", cfg)
	if err != nil {
		t.Fatalf("health error = %v", err)
	}
	if !strings.Contains(stdout, "http") {
		t.Errorf("output:\n%s", stdout)
	}
}

func TestInit(t *testing.T) {
	dir := t.TempDir()

	if _, _, err := run(t, "init", "--dir", dir, "--adapters", "redis,mongodb"); err != nil {
		t.Fatalf("init error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "e2e.config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"baseUrl: http://localhost:3000", "      redis:", "      mongodb:"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("config missing %q:\n%s", want, data)
		}
	}

	// The scaffold is valid.
	if _, _, err := run(t, "validate", "--config", filepath.Join(dir, "e2e.config.yaml")); err != nil {
		t.Errorf("validate scaffold: %v", err)
	}

	_, _, err = run(t, "init", "--dir", dir)
	if ExitCode(err) != ExitConfigError {
		t.Errorf("second init without --force: err = %v", err)
	}
	if _, _, err := run(t, "init", "--dir", dir, "--force"); err != nil {
		t.Errorf("init --force: %v", err)
	}

	_, _, err = run(t, "init", "--dir", t.TempDir(), "--adapters", "mysql")
	if ExitCode(err) != ExitConfigError {
		t.Errorf("unknown adapter: err = %v", err)
	}
}

func TestRuns(t *testing.T) {
	outDir := t.TempDir()
	stdout, _, err := run(t, "runs", "--output-dir", outDir)
	if err != nil || !strings.Contains(stdout, "No runs yet.") {
		t.Errorf("empty: %q, %v", stdout, err)
	}

	r, err := runlog.New(outDir)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.WriteFile("junit.xml", []byte("<testsuites/>")); err != nil {
		t.Fatal(err)
	}
	stdout, _, err = run(t, "runs", "--output-dir", outDir)
	if err != nil || !strings.Contains(stdout, r.ID) || !strings.Contains(stdout, "junit.xml") {
		t.Errorf("output %q, err %v", stdout, err)
	}
}

func TestActions(t *testing.T) {
	stdout, _, err := run(t, "actions", "--type", "redis", "--filter", "h")
	if err != nil {
		t.Fatalf("actions error = %v", err)
	}
	for _, want := range []string{"redis", "hget", "hset", "hgetall", "flushPattern"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
	if strings.Contains(stdout, "incr") || strings.Contains(stdout, "postgresql") {
		t.Errorf("filters not applied:\n%s", stdout)
	}

	stdout, _, err = run(t, "actions", "--json", "--type", "http")
	if err != nil {
		t.Fatalf("actions --json error = %v", err)
	}
	var cats []actionCategory
	if err := json.Unmarshal([]byte(stdout), &cats); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout)
	}
	if len(cats) != 1 || cats[0].Adapter != "http" || cats[0].Actions[0] != "request" {
		t.Errorf("cats = %+v", cats)
	}
}

func TestHelp(t *testing.T) {
	stdout, _, err := run(t, "--help")
	if err != nil {
		t.Fatalf("help error = %v", err)
	}
	for _, want := range []string{"Available commands are:", "run", "Exit codes:"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("help missing %q:\n%s", want, stdout)
		}
	}

	stdout, _, _ = run(t, "run", "--help")
	if !strings.Contains(stdout, "--dry-run") || !strings.Contains(stdout, "--no-service") {
		t.Errorf("run help:\n%s", stdout)
	}
}

func TestVersion(t *testing.T) {
	stdout, _, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(stdout, "e2e version ") {
		t.Errorf("output %q", stdout)
	}
}

func TestEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("E2E_COMMAND_TEST_VAR=loaded\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("E2E_COMMAND_TEST_VAR") })

	if _, _, err := run(t, "--env-file", path, "version"); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("E2E_COMMAND_TEST_VAR"); got != "loaded" {
		t.Errorf("env var = %q", got)
	}

	_, _, err := run(t, "--env-file", filepath.Join(t.TempDir(), "missing.env"), "version")
	if ExitCode(err) != ExitConfigError {
		t.Errorf("missing env file: err = %v", err)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{cli.Exit("tests failed", ExitTestFailure), ExitTestFailure},
		{cli.Exit("bad config", ExitConfigError), ExitConfigError},
		{errors.New("flag provided but not defined"), ExitConfigError},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
