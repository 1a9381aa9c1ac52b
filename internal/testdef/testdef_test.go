package testdef

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/liemle3893/e2e-runner-sub000/internal/adapter"
	"github.com/liemle3893/e2e-runner-sub000/internal/errs"
)

const validDoc = `
name: create user
description: creates a user and reads it back
priority: P0
tags: [smoke, users]
timeout: 10000
retries: 1
variables:
  email: "u-{{$uuid()}}@example.com"
setup:
  - adapter: postgresql
    action: execute
    query: DELETE FROM users WHERE email LIKE 'u-%'
execute:
  - id: create
    adapter: http
    action: request
    method: POST
    url: /users
    body:
      email: "{{email}}"
    capture:
      userId: $.body.id
    assert:
      status: 201
    retry: 2
    delay: 50
verify:
  - adapter: postgresql
    action: queryOne
    query: SELECT * FROM users WHERE id = $1
    params: ["{{userId}}"]
    assert:
      row:
        email: "{{email}}"
teardown:
  - adapter: redis
    action: del
    key: "user:{{userId}}"
    continueOnError: true
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "user.test.yaml", validDoc)

	def, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if def.Name != "create user" || def.Priority != P0 {
		t.Errorf("name/priority = %q/%q", def.Name, def.Priority)
	}
	if !reflect.DeepEqual(def.Tags, []string{"smoke", "users"}) {
		t.Errorf("tags = %v", def.Tags)
	}
	if def.Timeout != 10*time.Second {
		t.Errorf("timeout = %v", def.Timeout)
	}
	if def.Retries == nil || *def.Retries != 1 {
		t.Errorf("retries = %v", def.Retries)
	}
	if def.SourceFile != path || def.SourceType != SourceYAML {
		t.Errorf("source = %s/%s", def.SourceFile, def.SourceType)
	}
	if len(def.Setup) != 1 || len(def.Execute) != 1 || len(def.Verify) != 1 || len(def.Teardown) != 1 {
		t.Fatalf("phase sizes = %d/%d/%d/%d", len(def.Setup), len(def.Execute), len(def.Verify), len(def.Teardown))
	}

	setup := def.Setup[0].(*ActionStep)
	if setup.ID != "setup-0" || setup.Adapter != adapter.PostgreSQL {
		t.Errorf("setup step = %+v", setup)
	}

	exec := def.Execute[0].(*ActionStep)
	if exec.ID != "create" {
		t.Errorf("id = %s", exec.ID)
	}
	if exec.Params["method"] != "POST" || exec.Params["url"] != "/users" {
		t.Errorf("params = %v", exec.Params)
	}
	for _, k := range []string{"capture", "assert", "retry", "delay", "adapter", "action", "id"} {
		if _, ok := exec.Params[k]; ok {
			t.Errorf("step key %q leaked into params", k)
		}
	}
	if exec.Capture["userId"] != "$.body.id" {
		t.Errorf("capture = %v", exec.Capture)
	}
	if exec.Retry == nil || *exec.Retry != 2 {
		t.Errorf("retry = %v", exec.Retry)
	}
	if exec.Delay != 50*time.Millisecond {
		t.Errorf("delay = %v", exec.Delay)
	}

	if !def.Teardown[0].(*ActionStep).ContinueOnError {
		t.Error("continueOnError not parsed")
	}
}

func TestParseYAML_Validation(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		problems []string
	}{
		{
			name:     "missing name and execute",
			doc:      "description: nothing\n",
			problems: []string{"name is required", "execute must contain at least one step"},
		},
		{
			name:     "bad priority",
			doc:      "name: t\npriority: P9\nexecute: [{adapter: http, action: request, url: /}]\n",
			problems: []string{"priority must be one of"},
		},
		{
			name:     "timeout out of range",
			doc:      "name: t\ntimeout: 700000\nexecute: [{adapter: http, action: request, url: /}]\n",
			problems: []string{"timeout must be between"},
		},
		{
			name:     "retries out of range",
			doc:      "name: t\nretries: 11\nexecute: [{adapter: http, action: request, url: /}]\n",
			problems: []string{"retries must be between"},
		},
		{
			name:     "unknown adapter",
			doc:      "name: t\nexecute: [{adapter: kafka, action: publish}]\n",
			problems: []string{"execute-0: adapter must be one of"},
		},
		{
			name:     "unknown action",
			doc:      "name: t\nexecute: [{adapter: redis, action: zadd, key: k}]\n",
			problems: []string{`unknown redis action "zadd"`},
		},
		{
			name:     "sql needs query",
			doc:      "name: t\nexecute: [{adapter: postgresql, action: query}]\n",
			problems: []string{`requires "query"`},
		},
		{
			name:     "redis key action needs key",
			doc:      "name: t\nexecute: [{adapter: redis, action: get}]\n",
			problems: []string{`requires "key"`},
		},
		{
			name:     "redis pattern action needs pattern",
			doc:      "name: t\nexecute: [{adapter: redis, action: flushPattern, key: x}]\n",
			problems: []string{`requires "pattern"`},
		},
		{
			name:     "mongo needs collection",
			doc:      "name: t\nexecute: [{adapter: mongodb, action: find}]\n",
			problems: []string{`requires "collection"`},
		},
		{
			name:     "eventhub needs topic",
			doc:      "name: t\nexecute: [{adapter: eventhub, action: waitFor}]\n",
			problems: []string{`requires "topic"`},
		},
		{
			name:     "http needs url",
			doc:      "name: t\nexecute: [{adapter: http, action: request}]\n",
			problems: []string{`requires "url"`},
		},
		{
			name:     "bad step fields",
			doc:      "name: t\nexecute: [{adapter: http, action: request, url: /, retry: 20, delay: -1, continueOnError: yes-please, capture: [a]}]\n",
			problems: []string{"retry must be", "delay must be", "continueOnError must be", "capture must be"},
		},
		{
			name:     "capture filter expression",
			doc:      "name: t\nexecute: [{adapter: http, action: request, url: /, capture: {id: \"$.body.items[?(@.x > 1)].id\"}}]\n",
			problems: []string{`capture "id"`, "unsupported expression"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tt.doc), "t.test.yaml")
			var verr *errs.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			msg := verr.Error()
			for _, p := range tt.problems {
				if !strings.Contains(msg, p) {
					t.Errorf("error %q does not mention %q", msg, p)
				}
			}
		})
	}
}

func TestParseYAML_Malformed(t *testing.T) {
	_, err := ParseYAML([]byte("name: [unclosed"), "bad.test.yaml")
	var le *errs.LoaderError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoaderError, got %v", err)
	}
	if le.File != "bad.test.yaml" {
		t.Errorf("File = %s", le.File)
	}
}

func TestParseYAML_DefaultPriority(t *testing.T) {
	def, err := ParseYAML([]byte("name: t\nexecute: [{adapter: http, action: request, url: /}]\n"), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Priority != DefaultPriority {
		t.Errorf("priority = %s", def.Priority)
	}
	if def.Retries != nil || def.Timeout != 0 {
		t.Errorf("expected suite defaults, got retries=%v timeout=%v", def.Retries, def.Timeout)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	path := writeFile(t, t.TempDir(), "user.test.yaml", validDoc)

	meta, err := ReadYAMLMetadata(path)
	if err != nil {
		t.Fatalf("ReadYAMLMetadata: %v", err)
	}
	def, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	if !reflect.DeepEqual(meta, def.Metadata()) {
		t.Errorf("metadata mismatch:\n fast: %+v\n full: %+v", meta, def.Metadata())
	}
}

func TestParseStep(t *testing.T) {
	s, err := ParseStep(map[string]any{
		"adapter": "redis",
		"action":  "set",
		"key":     "k",
		"value":   "v",
	}, "beforeAll", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ID != "beforeAll-3" || s.Params["key"] != "k" {
		t.Errorf("step = %+v", s)
	}

	if _, err := ParseStep(map[string]any{"adapter": "redis"}, "beforeAll", 0); err == nil {
		t.Error("expected error for missing action")
	}
}

func TestLoadProcedural(t *testing.T) {
	noop := func(ctx context.Context, ac *adapter.Context) error { return nil }

	def, err := LoadProcedural(Procedural{
		Name:     "code test",
		Tags:     []string{"go"},
		Adapters: []adapter.Type{adapter.HTTP},
		Execute:  noop,
		Teardown: noop,
	}, "users_test.go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.SourceType != SourceGo || def.Priority != DefaultPriority {
		t.Errorf("def = %+v", def)
	}
	if len(def.Setup) != 0 || len(def.Verify) != 0 {
		t.Error("nil phases should have no steps")
	}
	fs, ok := def.Execute[0].(*FuncStep)
	if !ok || fs.ID != "execute-0" || fs.Fn == nil {
		t.Errorf("execute step = %#v", def.Execute[0])
	}
	if _, ok := def.Teardown[0].(*FuncStep); !ok {
		t.Error("teardown should be a FuncStep")
	}

	_, err = LoadProcedural(Procedural{Priority: "high"}, "x.go")
	var verr *errs.ValidationError
	if !errors.As(err, &verr) || len(verr.Problems) != 3 {
		t.Errorf("expected 3 problems, got %v", err)
	}
}

func TestRegister(t *testing.T) {
	registered = nil
	t.Cleanup(func() { registered = nil })

	Register(Procedural{Name: "a", Tags: []string{"x"}, Execute: func(context.Context, *adapter.Context) error { return nil }})
	Register(Procedural{Name: "b"})

	tests, sources := Registered()
	if len(tests) != 2 || tests[0].Name != "a" {
		t.Fatalf("registered = %+v", tests)
	}
	if !strings.HasSuffix(sources[0], "testdef_test.go") {
		t.Errorf("source = %s", sources[0])
	}

	defs, failed := LoadRegistered(Filter{})
	if len(defs) != 1 || len(failed) != 1 {
		t.Errorf("defs=%d failed=%d", len(defs), len(failed))
	}

	defs, _ = LoadRegistered(Filter{Tags: []string{"nope"}})
	if len(defs) != 0 {
		t.Errorf("filter not applied: %d", len(defs))
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.test.yaml", "name: b")
	writeFile(t, dir, "a.test.yml", "name: a")
	writeFile(t, dir, "nested/c.test.yaml", "name: c")
	writeFile(t, dir, "notes.yaml", "name: ignored")
	writeFile(t, dir, ".hidden/d.test.yaml", "name: hidden")

	files, err := Discover([]string{dir, filepath.Join(dir, "b.test.yaml")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.test.yml"),
		filepath.Join(dir, "b.test.yaml"),
		filepath.Join(dir, "nested", "c.test.yaml"),
	}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("files = %v, want %v", files, want)
	}

	if _, err := Discover([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestFilter(t *testing.T) {
	m := Metadata{Name: "Create User", Priority: P1, Tags: []string{"smoke", "users"}}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"tag any match", Filter{Tags: []string{"billing", "SMOKE"}}, true},
		{"tag miss", Filter{Tags: []string{"billing"}}, false},
		{"priority", Filter{Priorities: []Priority{P0, P1}}, true},
		{"priority miss", Filter{Priorities: []Priority{P0}}, false},
		{"grep substring", Filter{Grep: "user"}, true},
		{"grep regex", Filter{Grep: "^create\\s"}, true},
		{"grep invalid regex falls back", Filter{Grep: "user("}, false},
		{"grep miss", Filter{Grep: "delete"}, false},
		{"combined", Filter{Tags: []string{"users"}, Priorities: []Priority{P1}, Grep: "create"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(m); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParsePriorities(t *testing.T) {
	got, err := ParsePriorities([]string{"p0, P1", "P3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []Priority{P0, P1, P3}) {
		t.Errorf("got %v", got)
	}
	if _, err := ParsePriorities([]string{"P7"}); err == nil {
		t.Error("expected error")
	}
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.test.yaml", validDoc)
	writeFile(t, dir, "b.test.yaml", "name: other\ntags: [billing]\nexecute: [{adapter: http, action: request, url: /}]\n")
	writeFile(t, dir, "c.test.yaml", "name: broken\nexecute: []\n")
	writeFile(t, dir, "d.test.yaml", "name: [unclosed")

	defs, failed := LoadAll([]string{dir}, Filter{})
	if len(defs) != 2 {
		t.Errorf("loaded %d, want 2", len(defs))
	}
	if len(failed) != 2 {
		t.Fatalf("failed %d, want 2", len(failed))
	}
	var verr *errs.ValidationError
	if !errors.As(failed[0], &verr) {
		t.Errorf("first failure should wrap a ValidationError, got %v", failed[0])
	}

	defs, failed = LoadAll([]string{dir}, Filter{Tags: []string{"billing"}})
	if len(defs) != 1 || defs[0].Name != "other" {
		t.Errorf("filtered defs = %v", defs)
	}
	// broken files are still reported when their header cannot be read
	if len(failed) != 1 {
		t.Errorf("failed = %d, want 1", len(failed))
	}
}

func TestRequiredAdapters(t *testing.T) {
	def, err := ParseYAML([]byte(validDoc), "x")
	if err != nil {
		t.Fatal(err)
	}
	proc := &Definition{Adapters: []adapter.Type{adapter.MongoDB}}
	hooks := []Step{&ActionStep{Adapter: adapter.EventHub}}

	got := RequiredAdapters([]*Definition{def, proc}, hooks)
	want := map[adapter.Type]bool{
		adapter.HTTP: true, adapter.PostgreSQL: true, adapter.Redis: true,
		adapter.MongoDB: true, adapter.EventHub: true,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v", got)
	}
}
