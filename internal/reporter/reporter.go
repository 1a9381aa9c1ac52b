// Package reporter turns orchestrator events and the final suite result into
// console output, report files and live streams.
package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/liemle3893/e2e-runner-sub000/internal/config"
	"github.com/liemle3893/e2e-runner-sub000/internal/orchestrator"
	"github.com/liemle3893/e2e-runner-sub000/internal/result"
)

// Reporter receives every event of a run and produces its output once the
// suite has finished.
type Reporter interface {
	Name() string
	OnEvent(ev orchestrator.Event)
	Generate(suite *result.Suite) error
}

// Default file names inside the run directory.
const (
	JUnitFile      = "junit.xml"
	JSONFile       = "results.json"
	PrometheusFile = "metrics.prom"
)

// New builds the reporter described by cfg. File reporters write to
// cfg.Output, or to their default file inside runDir. Console output goes to
// out.
func New(cfg config.Reporter, runDir string, out io.Writer) (Reporter, error) {
	switch cfg.Type {
	case "console":
		return NewConsole(out, cfg.Verbose), nil
	case "junit":
		return NewJUnit(outputPath(cfg.Output, runDir, JUnitFile)), nil
	case "json":
		return NewJSON(outputPath(cfg.Output, runDir, JSONFile)), nil
	case "prometheus":
		return NewPrometheus(outputPath(cfg.Output, runDir, PrometheusFile)), nil
	case "websocket":
		if cfg.Output == "" {
			return nil, fmt.Errorf("websocket reporter needs an output URL")
		}
		return NewWebSocket(cfg.Output), nil
	default:
		return nil, fmt.Errorf("unknown reporter %q", cfg.Type)
	}
}

func outputPath(output, runDir, name string) string {
	if output != "" {
		return output
	}
	return filepath.Join(runDir, name)
}

// Attach registers every reporter as a listener and returns the listener ids.
func Attach(o *orchestrator.Orchestrator, reporters []Reporter) []int {
	ids := make([]int, 0, len(reporters))
	for _, r := range reporters {
		ids = append(ids, o.On(r.OnEvent))
	}
	return ids
}

// GenerateAll runs every reporter's Generate. A failing reporter does not
// stop the others; the first error is returned.
func GenerateAll(reporters []Reporter, suite *result.Suite) error {
	var first error
	for _, r := range reporters {
		if err := r.Generate(suite); err != nil {
			log.Error().Err(err).Str("reporter", r.Name()).Msg("generating report")
			if first == nil {
				first = fmt.Errorf("%s reporter: %w", r.Name(), err)
			}
		}
	}
	return first
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	log.Debug().Str("path", path).Msg("report written")
	return nil
}

// nopEvents is embedded by reporters that only act on the final result.
type nopEvents struct{}

func (nopEvents) OnEvent(orchestrator.Event) {}
