package errs

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), "error"},
		{"adapter", NewAdapterError("redis", "get", errors.New("dial tcp")), "adapter"},
		{"wrapped adapter", fmt.Errorf("step: %w", NewAdapterError("http", "request", nil)), "adapter"},
		{"timeout", &TimeoutError{Operation: "test", Timeout: time.Second}, "timeout"},
		{"interpolation", &InterpolationError{Expr: "x", Message: "unresolved"}, "interpolation"},
		{"connection", &ConnectionError{Adapter: "postgresql", Cause: errors.New("refused")}, "connection"},
		{"validation", &ValidationError{Problems: []string{"name is required"}}, "validation"},
		{"loader", &LoaderError{File: "a.yaml", Cause: errors.New("bad")}, "loader"},
		{"config", &ConfigError{Message: "missing"}, "config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewAdapterError_DoesNotDoubleWrap(t *testing.T) {
	inner := NewAdapterError("redis", "get", errors.New("connection reset"))
	outer := NewAdapterError("redis", "get", inner)
	if outer != inner {
		t.Errorf("expected existing adapter error to be reused")
	}
	if !errors.Is(outer, inner.Cause) {
		t.Errorf("expected cause to stay reachable")
	}
}

func TestValidationError_OrNil(t *testing.T) {
	v := &ValidationError{File: "a.test.yaml"}
	if v.OrNil() != nil {
		t.Fatal("expected nil without problems")
	}
	v.Add("execute must have at least %d step", 1)
	err := v.OrNil()
	if err == nil {
		t.Fatal("expected error")
	}
	want := "invalid test (a.test.yaml): execute must have at least 1 step"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}
