package testctx

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/liemle3893/e2e-runner-sub000/internal/interpolate"
	"github.com/liemle3893/e2e-runner-sub000/internal/testdef"
)

func TestFactory_New(t *testing.T) {
	f := &Factory{
		Variables: map[string]any{"env": "staging", "region": "eu", "n": 3},
		BaseURL:   "http://api.local",
		Logger:    zerolog.Nop(),
		LookupEnv: func(string) (string, bool) { return "", false },
	}
	def := &testdef.Definition{
		Name:      "t1",
		Variables: map[string]any{"region": "us", "host": "{{env}}.example.com", "missing": "{{nope}}"},
	}

	tc := f.New(def)

	tests := []struct {
		key  string
		want any
	}{
		{"env", "staging"},
		{"region", "us"},
		{"n", 3},
		{"host", "staging.example.com"},
		{"missing", "{{nope}}"},
	}
	for _, tt := range tests {
		if got := tc.Variables[tt.key]; got != tt.want {
			t.Errorf("Variables[%s] = %v, want %v", tt.key, got, tt.want)
		}
	}

	if tc.Captured.Len() != 0 {
		t.Error("captured store should start empty")
	}
	if f.Variables["region"] != "eu" {
		t.Error("suite variables were modified")
	}
}

func TestTestContext_Isolation(t *testing.T) {
	f := &Factory{Logger: zerolog.Nop()}
	a := f.New(&testdef.Definition{Name: "a"})
	b := f.New(&testdef.Definition{Name: "b"})

	a.Capture("id", 1)
	if _, ok := b.Captured.Get("id"); ok {
		t.Error("captures leaked between tests")
	}
}

func TestTestContext_ViewsAreLive(t *testing.T) {
	f := &Factory{BaseURL: "http://api.local", Logger: zerolog.Nop()}
	tc := f.New(&testdef.Definition{Name: "t", Variables: map[string]any{"id": "X"}})

	ictx := tc.InterpolationContext()
	ac := tc.AdapterContext("execute-0")

	tc.Capture("token", "abc")
	tc.Capture("token", "def")

	got, err := interpolate.Interpolate("{{baseUrl}}/items/{{id}}?t={{token}}", ictx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "http://api.local/items/X?t=def" {
		t.Errorf("got %s", got)
	}

	if v, _ := ac.Captured.Get("token"); v != "def" {
		t.Errorf("adapter context sees %v", v)
	}
	if ac.Test != "t" || ac.Step != "execute-0" || ac.StartedAt != tc.StartedAt {
		t.Errorf("adapter context = %+v", ac)
	}

	ac.Capture("fromAdapter", true)
	if v, ok := tc.Captured.Get("fromAdapter"); !ok || v != true {
		t.Error("capture through adapter context not visible to the test")
	}
}

func TestTestContext_UnresolvedVariableKeepsRawValue(t *testing.T) {
	f := &Factory{Logger: zerolog.Nop(), LookupEnv: func(string) (string, bool) { return "", false }}
	tc := f.New(&testdef.Definition{Name: "t", Variables: map[string]any{"v": "{{$env(NOT_SET)}}"}})
	if s, _ := tc.Variables["v"].(string); !strings.Contains(s, "NOT_SET") {
		t.Errorf("v = %v", tc.Variables["v"])
	}
}

func TestFactory_Retries(t *testing.T) {
	f := &Factory{Logger: zerolog.Nop(), Retries: 2}
	if got := f.New(&testdef.Definition{Name: "t"}).Retries; got != 2 {
		t.Errorf("suite default: got %d", got)
	}
	zero := 0
	if got := f.New(&testdef.Definition{Name: "t", Retries: &zero}).Retries; got != 0 {
		t.Errorf("test override: got %d", got)
	}
}

func TestFactory_DependentVariables(t *testing.T) {
	f := &Factory{Logger: zerolog.Nop(), LookupEnv: func(string) (string, bool) { return "", false }}
	tc := f.New(&testdef.Definition{Name: "t", Variables: map[string]any{
		"a":     "{{b}}",
		"b":     "{{$uuid()}}",
		"email": "user-{{a}}@example.com",
		"body":  map[string]any{"id": "{{b}}", "tags": []any{"{{a}}"}},
	}})

	a, _ := tc.Variables["a"].(string)
	b, _ := tc.Variables["b"].(string)
	if b == "" || strings.Contains(b, "{{") {
		t.Fatalf("b = %v", tc.Variables["b"])
	}
	if a != b {
		t.Errorf("a = %q, want b's value %q", a, b)
	}
	if got := tc.Variables["email"]; got != "user-"+b+"@example.com" {
		t.Errorf("email = %v", got)
	}
	body, _ := tc.Variables["body"].(map[string]any)
	if body["id"] != b {
		t.Errorf("body.id = %v", body["id"])
	}
	if tags, _ := body["tags"].([]any); len(tags) != 1 || tags[0] != b {
		t.Errorf("body.tags = %v", body["tags"])
	}
}

func TestFactory_CyclicVariables(t *testing.T) {
	f := &Factory{Logger: zerolog.Nop(), LookupEnv: func(string) (string, bool) { return "", false }}
	tc := f.New(&testdef.Definition{Name: "t", Variables: map[string]any{"x": "{{y}}", "y": "{{x}}"}})

	for _, k := range []string{"x", "y"} {
		if s, _ := tc.Variables[k].(string); !strings.Contains(s, "{{") {
			t.Errorf("%s = %v, expected an unresolved placeholder", k, tc.Variables[k])
		}
	}
}
