// Package apprunner starts the service under test before a suite and stops
// it afterwards, either as a local process or as a container.
package apprunner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/liemle3893/e2e-runner-sub000/internal/config"
	"github.com/liemle3893/e2e-runner-sub000/internal/container"
)

// Mode determines how the service is run
type Mode string

const (
	ModeCommand Mode = "command" // local process
	ModeImage   Mode = "image"   // docker container
)

const (
	defaultReadyTimeout = 30 * time.Second
	pollInterval        = 500 * time.Millisecond
	stopGrace           = 5 * time.Second
	tailLines           = 20
)

// Runner manages the service under test
type Runner struct {
	cfg  config.Service
	mode Mode
	out  io.Writer

	// command mode
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error

	// image mode
	inst           *container.Instance
	startContainer func(context.Context, container.Spec) (*container.Instance, error)

	host string
	port int

	mu   sync.Mutex
	tail []string
}

// New creates a runner for cfg. Service output is written to out, which
// may be nil.
func New(cfg config.Service, out io.Writer) *Runner {
	mode := ModeCommand
	if cfg.Image != "" {
		mode = ModeImage
	}
	if out == nil {
		out = io.Discard
	}
	return &Runner{
		cfg:            cfg,
		mode:           mode,
		out:            out,
		startContainer: container.Start,
		host:           "localhost",
		port:           cfg.Port,
	}
}

// Mode returns the running mode.
func (r *Runner) Mode() Mode {
	return r.mode
}

// BaseURL is the http address of the started service, or "" when no port
// is known.
func (r *Runner) BaseURL() string {
	if r.port == 0 {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", r.host, r.port)
}

// Tail returns the last lines the service printed.
func (r *Runner) Tail() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tail...)
}

// Start starts the service and blocks until it is ready.
func (r *Runner) Start(ctx context.Context) error {
	startTime := time.Now()
	var err error
	switch r.mode {
	case ModeImage:
		err = r.startImage(ctx)
	default:
		err = r.startCommand(ctx)
	}
	if err != nil {
		return err
	}

	if r.cfg.Wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(r.cfg.Wait) * time.Millisecond):
		}
	}

	log.Debug().
		Str("mode", string(r.mode)).
		Str("url", r.BaseURL()).
		Dur("duration", time.Since(startTime)).
		Msg("service ready")
	return nil
}

func (r *Runner) startCommand(ctx context.Context) error {
	parts := strings.Fields(r.cfg.Command)
	if len(parts) == 0 {
		return errors.New("service command is empty")
	}

	r.cmd = exec.Command(parts[0], parts[1:]...)
	r.cmd.Dir = r.cfg.WorkDir
	r.cmd.Env = os.Environ()
	for k, v := range r.cfg.Env {
		r.cmd.Env = append(r.cmd.Env, k+"="+v)
	}

	stdout, err := r.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := r.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	log.Debug().Str("command", r.cfg.Command).Msg("starting service process")
	if err := r.cmd.Start(); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}

	r.done = make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go r.stream(&wg, stdout, "stdout")
	go r.stream(&wg, stderr, "stderr")
	go func() {
		// pipes must be drained before Wait closes them
		wg.Wait()
		r.waitErr = r.cmd.Wait()
		close(r.done)
	}()

	if err := r.waitForReady(ctx); err != nil {
		_ = r.Stop(context.Background())
		return fmt.Errorf("service not ready: %w", err)
	}
	return nil
}

func (r *Runner) stream(wg *sync.WaitGroup, pipe io.Reader, source string) {
	defer wg.Done()
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		r.mu.Lock()
		r.tail = append(r.tail, line)
		if len(r.tail) > tailLines {
			r.tail = r.tail[1:]
		}
		fmt.Fprintf(r.out, "[%s] %s\n", source, line)
		r.mu.Unlock()
	}
}

func (r *Runner) waitForReady(ctx context.Context) error {
	check := r.readyCheck()
	if check == nil {
		return nil
	}

	timeout := defaultReadyTimeout
	if r.cfg.Ready != nil && r.cfg.Ready.Timeout > 0 {
		timeout = time.Duration(r.cfg.Ready.Timeout) * time.Millisecond
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if check() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			if r.waitErr != nil {
				return fmt.Errorf("process exited: %w", r.waitErr)
			}
			return errors.New("process exited")
		case <-deadline.C:
			return fmt.Errorf("timeout after %s waiting for %s", timeout, r.BaseURL())
		case <-ticker.C:
		}
	}
}

// readyCheck returns nil when there is nothing to wait for.
func (r *Runner) readyCheck() func() bool {
	addr := net.JoinHostPort(r.host, fmt.Sprint(r.port))
	ready := r.cfg.Ready

	if ready != nil && ready.Type == "http" {
		url := r.BaseURL() + readyPath(ready)
		status := ready.Status
		if status == 0 {
			status = http.StatusOK
		}
		client := &http.Client{Timeout: 2 * time.Second}
		return func() bool {
			resp, err := client.Get(url)
			if err != nil {
				return false
			}
			resp.Body.Close()
			return resp.StatusCode == status
		}
	}

	if r.port == 0 {
		return nil
	}
	return func() bool {
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}

func readyPath(ready *config.ReadyCheck) string {
	if ready.Path == "" {
		return "/health"
	}
	if !strings.HasPrefix(ready.Path, "/") {
		return "/" + ready.Path
	}
	return ready.Path
}

func (r *Runner) startImage(ctx context.Context) error {
	port := fmt.Sprintf("%d/tcp", r.cfg.Port)
	spec := container.Spec{
		Image:   r.cfg.Image,
		Env:     r.cfg.Env,
		Port:    port,
		WaitFor: container.WaitFor{Type: "port"},
	}
	if ready := r.cfg.Ready; ready != nil {
		spec.WaitFor.Timeout = time.Duration(ready.Timeout) * time.Millisecond
		if ready.Type == "http" {
			spec.WaitFor.Type = "http"
			spec.WaitFor.Path = readyPath(ready)
			spec.WaitFor.Status = ready.Status
		}
	}

	log.Debug().Str("image", r.cfg.Image).Msg("starting service container")
	inst, err := r.startContainer(ctx, spec)
	if err != nil {
		return fmt.Errorf("starting service container: %w", err)
	}
	r.inst = inst
	r.host = inst.Host
	if _, err := fmt.Sscan(inst.Port, &r.port); err != nil {
		_ = inst.Terminate(context.Background())
		return fmt.Errorf("parsing mapped port %q: %w", inst.Port, err)
	}
	return nil
}

// Stop stops the service. It is safe to call when Start failed or was
// never called.
func (r *Runner) Stop(ctx context.Context) error {
	switch {
	case r.inst != nil:
		return r.stopImage(ctx)
	case r.cmd != nil && r.done != nil:
		return r.stopCommand()
	}
	return nil
}

func (r *Runner) stopCommand() error {
	select {
	case <-r.done:
		return nil
	default:
	}

	log.Debug().Int("pid", r.cmd.Process.Pid).Msg("stopping service process")
	if err := r.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = r.cmd.Process.Kill()
	}
	select {
	case <-r.done:
	case <-time.After(stopGrace):
		log.Warn().Msg("service did not stop in time, killing")
		_ = r.cmd.Process.Kill()
		<-r.done
	}
	return nil
}

func (r *Runner) stopImage(ctx context.Context) error {
	if logs, err := r.inst.Logs(ctx); err == nil {
		_, _ = io.Copy(r.out, logs)
		logs.Close()
	} else {
		log.Warn().Err(err).Msg("reading service container logs")
	}
	err := r.inst.Terminate(ctx)
	r.inst = nil
	if err != nil {
		return fmt.Errorf("terminating service container: %w", err)
	}
	return nil
}
