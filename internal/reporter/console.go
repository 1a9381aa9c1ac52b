package reporter

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/liemle3893/e2e-runner-sub000/internal/orchestrator"
	"github.com/liemle3893/e2e-runner-sub000/internal/result"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	skipStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
)

// Console prints one line per finished test and a summary.
type Console struct {
	out     io.Writer
	verbose bool
	mu      sync.Mutex
}

// NewConsole prints progress and the summary to out.
func NewConsole(out io.Writer, verbose bool) *Console {
	return &Console{out: out, verbose: verbose}
}

func (c *Console) Name() string { return "console" }

func (c *Console) OnEvent(ev orchestrator.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case orchestrator.EventSuiteStart:
		fmt.Fprintf(c.out, "\n%s\n\n", titleStyle.Render(fmt.Sprintf("Running %d test(s)", ev.Total)))
	case orchestrator.EventTestEnd:
		c.printTest(ev.TestResult)
	}
}

func statusLabel(s result.Status) string {
	switch s {
	case result.StatusPassed:
		return passStyle.Render("PASS")
	case result.StatusFailed:
		return failStyle.Render("FAIL")
	case result.StatusError:
		return failStyle.Render("ERROR")
	default:
		return skipStyle.Render("SKIP")
	}
}

func (c *Console) printTest(t *result.Test) {
	if t == nil {
		return
	}
	fmt.Fprintf(c.out, "  %s %s %s\n", statusLabel(t.Status), t.Name, dimStyle.Render(formatDuration(t.Duration)))

	if t.Status == result.StatusSkipped && t.SkipReason != "" {
		fmt.Fprintf(c.out, "       %s\n", detailStyle.Render(t.SkipReason))
	}

	for _, p := range t.Phases {
		for _, s := range p.Steps {
			if !c.verbose && s.Status != result.StatusFailed {
				continue
			}
			line := fmt.Sprintf("%s %s/%s.%s", p.Name, s.ID, s.Adapter, s.Action)
			if s.RetryCount > 0 {
				line += fmt.Sprintf(" (retries: %d)", s.RetryCount)
			}
			fmt.Fprintf(c.out, "       %s %s\n", statusLabel(s.Status), line)
			if s.Err != nil {
				fmt.Fprintf(c.out, "         %s\n", detailStyle.Render(s.Err.Error()))
			}
		}
	}

	// Errors not tied to a step: timeouts, hooks.
	if t.Err != nil && !hasFailedStep(t) {
		fmt.Fprintf(c.out, "       %s\n", failStyle.Render(t.Err.Error()))
	}

	if c.verbose && len(t.Captured) > 0 {
		names := make([]string, 0, len(t.Captured))
		for k := range t.Captured {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			fmt.Fprintf(c.out, "       %s\n", dimStyle.Render(fmt.Sprintf("%s = %v", k, t.Captured[k])))
		}
	}
}

func hasFailedStep(t *result.Test) bool {
	for _, p := range t.Phases {
		for _, s := range p.Steps {
			if s.Status == result.StatusFailed {
				return true
			}
		}
	}
	return false
}

func (c *Console) Generate(suite *result.Suite) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	parts := []string{
		passStyle.Render(fmt.Sprintf("%d passed", suite.Passed)),
		failStyle.Render(fmt.Sprintf("%d failed", suite.Failed)),
	}
	if suite.Errors > 0 {
		parts = append(parts, failStyle.Render(fmt.Sprintf("(%d errors)", suite.Errors)))
	}
	parts = append(parts, skipStyle.Render(fmt.Sprintf("%d skipped", suite.Skipped)))

	fmt.Fprintf(c.out, "\n%s %s, %d total %s\n",
		titleStyle.Render("Results:"),
		strings.Join(parts, ", "),
		suite.Total,
		dimStyle.Render(formatDuration(suite.Duration)),
	)
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("(%dms)", d.Milliseconds())
	}
	return fmt.Sprintf("(%.2fs)", d.Seconds())
}
