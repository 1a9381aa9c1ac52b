package apprunner

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liemle3893/e2e-runner-sub000/internal/config"
	"github.com/liemle3893/e2e-runner-sub000/internal/container"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.Service
		wantMode Mode
		wantURL  string
	}{
		{"command without port", config.Service{Command: "./app"}, ModeCommand, ""},
		{"command with port", config.Service{Command: "./app", Port: 3000}, ModeCommand, "http://localhost:3000"},
		{"image", config.Service{Image: "app:latest", Port: 8080}, ModeImage, "http://localhost:8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.cfg, nil)
			if r.Mode() != tt.wantMode {
				t.Errorf("expected mode %s, got %s", tt.wantMode, r.Mode())
			}
			if r.BaseURL() != tt.wantURL {
				t.Errorf("expected base URL %q, got %q", tt.wantURL, r.BaseURL())
			}
		})
	}
}

func TestStart_CommandOutput(t *testing.T) {
	var out bytes.Buffer
	r := New(config.Service{Command: "echo hello"}, &out)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-r.done
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	if !strings.Contains(out.String(), "[stdout] hello") {
		t.Errorf("expected output to be logged, got %q", out.String())
	}
	if tail := r.Tail(); len(tail) != 1 || tail[0] != "hello" {
		t.Errorf("unexpected tail %v", tail)
	}
}

func TestStart_TCPReady(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	r := New(config.Service{Command: "sleep 30", Port: port}, nil)
	r.host = "127.0.0.1"
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Now()
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if time.Since(start) >= stopGrace {
		t.Error("expected SIGTERM to stop the process before the grace period")
	}
}

func TestStart_HTTPReady(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/ready" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := config.Service{
		Command: "sleep 30",
		Port:    portOf(t, srv.URL),
		Ready:   &config.ReadyCheck{Type: "http", Path: "ready", Status: http.StatusNoContent, Timeout: 5000},
	}
	r := New(cfg, nil)
	r.host = "127.0.0.1"
	defer r.Stop(context.Background())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() < 2 {
		t.Errorf("expected polling until ready, got %d calls", calls.Load())
	}
}

func TestStart_Failures(t *testing.T) {
	closed := closedPort(t)

	tests := []struct {
		name    string
		cfg     config.Service
		wantErr string
	}{
		{
			name:    "empty command",
			cfg:     config.Service{Command: "   "},
			wantErr: "service command is empty",
		},
		{
			name:    "missing binary",
			cfg:     config.Service{Command: "definitely-not-a-real-binary-e2e"},
			wantErr: "starting service",
		},
		{
			name:    "exits before ready",
			cfg:     config.Service{Command: "false", Port: closed},
			wantErr: "process exited",
		},
		{
			name:    "ready timeout",
			cfg:     config.Service{Command: "sleep 30", Port: closed, Ready: &config.ReadyCheck{Type: "tcp", Timeout: 300}},
			wantErr: "timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.cfg, nil)
			r.host = "127.0.0.1"
			err := r.Start(context.Background())
			if err == nil {
				r.Stop(context.Background())
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestStart_Image(t *testing.T) {
	var got container.Spec
	cfg := config.Service{
		Image: "app:latest",
		Port:  8080,
		Env:   map[string]string{"MODE": "test"},
		Ready: &config.ReadyCheck{Type: "http", Path: "/healthz", Status: 204, Timeout: 1500},
	}
	r := New(cfg, nil)
	r.startContainer = func(_ context.Context, spec container.Spec) (*container.Instance, error) {
		got = spec
		return &container.Instance{Host: "127.0.0.1", Port: "49153"}, nil
	}

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Image != "app:latest" || got.Port != "8080/tcp" || got.Env["MODE"] != "test" {
		t.Errorf("unexpected spec %+v", got)
	}
	want := container.WaitFor{Type: "http", Path: "/healthz", Status: 204, Timeout: 1500 * time.Millisecond}
	if got.WaitFor != want {
		t.Errorf("expected wait %+v, got %+v", want, got.WaitFor)
	}
	if r.BaseURL() != "http://127.0.0.1:49153" {
		t.Errorf("unexpected base URL %q", r.BaseURL())
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
}

func TestStart_ImageError(t *testing.T) {
	r := New(config.Service{Image: "app:latest", Port: 8080}, nil)
	r.startContainer = func(context.Context, container.Spec) (*container.Instance, error) {
		return nil, errors.New("docker is not running")
	}

	err := r.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "docker is not running") {
		t.Fatalf("expected container error, got %v", err)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Errorf("expected stop after failed start to be a no-op, got %v", err)
	}
}

func TestStop_NeverStarted(t *testing.T) {
	r := New(config.Service{Command: "./app"}, nil)
	if err := r.Stop(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func portOf(t *testing.T, rawURL string) int {
	t.Helper()
	_, p, err := net.SplitHostPort(strings.TrimPrefix(rawURL, "http://"))
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		t.Fatal(err)
	}
	return port
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}
