// Package container starts throwaway containers: backends for adapter
// integration tests and the service under test in image mode.
package container

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog/log"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// CheckDockerAvailable verifies that Docker daemon is running and accessible
func CheckDockerAvailable() error {
	cmd := exec.Command("docker", "info")
	if err := cmd.Run(); err != nil {
		return &DockerNotRunningError{}
	}
	return nil
}

// DockerNotRunningError provides instructions for starting Docker
type DockerNotRunningError struct{}

func (e *DockerNotRunningError) Error() string {
	switch runtime.GOOS {
	case "darwin":
		return "docker is not running: open Docker Desktop (open -a Docker) and retry"
	case "linux":
		return "docker is not running: start it with `sudo systemctl start docker` and make sure your user is in the docker group"
	default:
		return "docker is not running: start Docker and retry"
	}
}

// WaitFor describes when a started container is ready.
type WaitFor struct {
	Type    string // port, log, http or exec
	Target  string
	Path    string
	Status  int // expected http status, 0 accepts 200
	Timeout time.Duration
}

// Spec is one container to start.
type Spec struct {
	Image   string
	Env     map[string]string
	Port    string // e.g. "5432/tcp"
	WaitFor WaitFor
	// DSN formats the connection string from host and mapped port.
	DSN func(host, port string) string
}

// Instance is a started container.
type Instance struct {
	container testcontainers.Container
	Host      string
	Port      string
	DSN       string
}

// Address returns host:port.
func (i *Instance) Address() string {
	return fmt.Sprintf("%s:%s", i.Host, i.Port)
}

// Terminate stops and removes the container.
func (i *Instance) Terminate(ctx context.Context) error {
	if i.container == nil {
		return nil
	}
	return i.container.Terminate(ctx)
}

// Logs returns the container's combined output.
func (i *Instance) Logs(ctx context.Context) (io.ReadCloser, error) {
	if i.container == nil {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return i.container.Logs(ctx)
}

// Start runs spec and waits until it is ready.
func Start(ctx context.Context, spec Spec) (*Instance, error) {
	log.Debug().Str("image", spec.Image).Msg("starting container")
	startTime := time.Now()

	req := testcontainers.ContainerRequest{
		Image:        spec.Image,
		Env:          spec.Env,
		ExposedPorts: []string{spec.Port},
		WaitingFor:   buildWaitStrategy(spec.WaitFor, spec.Port),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}

	inst, err := newInstance(ctx, c, spec)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, err
	}

	log.Debug().
		Str("image", spec.Image).
		Str("address", inst.Address()).
		Dur("duration", time.Since(startTime)).
		Msg("container ready")
	return inst, nil
}

func newInstance(ctx context.Context, c testcontainers.Container, spec Spec) (*Instance, error) {
	host, err := c.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting container host: %w", err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(spec.Port))
	if err != nil {
		return nil, fmt.Errorf("getting container port: %w", err)
	}
	inst := &Instance{container: c, Host: host, Port: mapped.Port()}
	if spec.DSN != nil {
		inst.DSN = spec.DSN(inst.Host, inst.Port)
	} else {
		inst.DSN = inst.Address()
	}
	return inst, nil
}

// buildWaitStrategy converts a WaitFor into a testcontainers wait strategy
func buildWaitStrategy(ws WaitFor, port string) wait.Strategy {
	timeout := ws.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	target := ws.Target
	if target == "" {
		target = port
	}

	switch ws.Type {
	case "log":
		return wait.ForLog(ws.Target).WithStartupTimeout(timeout)
	case "http":
		w := wait.ForHTTP(ws.Path).WithPort(nat.Port(target)).WithStartupTimeout(timeout)
		if ws.Status != 0 {
			w = w.WithStatusCodeMatcher(func(status int) bool { return status == ws.Status })
		}
		return w
	case "exec":
		return wait.ForExec([]string{"sh", "-c", ws.Target}).WithStartupTimeout(timeout)
	default:
		return wait.ForListeningPort(nat.Port(target)).WithStartupTimeout(timeout)
	}
}

// Postgres is a postgres:16-alpine spec with user/password/db "e2e".
func Postgres() Spec {
	return Spec{
		Image: "postgres:16-alpine",
		Env: map[string]string{
			"POSTGRES_USER":     "e2e",
			"POSTGRES_PASSWORD": "e2e",
			"POSTGRES_DB":       "e2e",
		},
		Port:    "5432/tcp",
		WaitFor: WaitFor{Type: "log", Target: "database system is ready to accept connections"},
		DSN: func(host, port string) string {
			return fmt.Sprintf("postgres://e2e:e2e@%s:%s/e2e?sslmode=disable", host, port)
		},
	}
}

// Redis is a redis:7-alpine spec.
func Redis() Spec {
	return Spec{
		Image: "redis:7-alpine",
		Port:  "6379/tcp",
		DSN: func(host, port string) string {
			return fmt.Sprintf("redis://%s:%s/0", host, port)
		},
	}
}

// Mongo is a mongo:7 spec.
func Mongo() Spec {
	return Spec{
		Image:   "mongo:7",
		Port:    "27017/tcp",
		WaitFor: WaitFor{Type: "log", Target: "Waiting for connections"},
		DSN: func(host, port string) string {
			return fmt.Sprintf("mongodb://%s:%s", host, port)
		},
	}
}
