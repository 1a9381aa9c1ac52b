package reporter

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/liemle3893/e2e-runner-sub000/internal/result"
)

// Prometheus writes suite metrics in the node-exporter textfile format.
type Prometheus struct {
	nopEvents
	path string

	registry      *prometheus.Registry
	testsTotal    *prometheus.CounterVec
	testDuration  *prometheus.HistogramVec
	stepRetries   *prometheus.CounterVec
	suiteDuration prometheus.Gauge
	suiteSuccess  prometheus.Gauge
}

// NewPrometheus records suite metrics in its own registry and writes them
// to path in the text exposition format.
func NewPrometheus(path string) *Prometheus {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Prometheus{
		path:     path,
		registry: reg,
		testsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "e2e_tests_total",
				Help: "Number of tests by final status",
			},
			[]string{"status"},
		),
		testDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "e2e_test_duration_seconds",
				Help:    "Test duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"test"},
		),
		stepRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "e2e_step_retries_total",
				Help: "Step retry attempts by adapter",
			},
			[]string{"adapter"},
		),
		suiteDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "e2e_suite_duration_seconds",
				Help: "Wall time of the whole suite",
			},
		),
		suiteSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "e2e_suite_success",
				Help: "1 when no test failed, 0 otherwise",
			},
		),
	}
}

func (p *Prometheus) Name() string { return "prometheus" }

func (p *Prometheus) Generate(suite *result.Suite) error {
	// Every status is present so dashboards see zeros instead of gaps.
	for _, s := range []result.Status{result.StatusPassed, result.StatusFailed, result.StatusError, result.StatusSkipped} {
		p.testsTotal.WithLabelValues(string(s))
	}

	for _, t := range suite.Tests {
		p.testsTotal.WithLabelValues(string(t.Status)).Inc()
		if t.Status != result.StatusSkipped {
			p.testDuration.WithLabelValues(t.Name).Observe(t.Duration.Seconds())
		}
		for _, ph := range t.Phases {
			for _, s := range ph.Steps {
				if s.RetryCount > 0 {
					p.stepRetries.WithLabelValues(s.Adapter).Add(float64(s.RetryCount))
				}
			}
		}
	}

	p.suiteDuration.Set(suite.Duration.Seconds())
	if suite.Success {
		p.suiteSuccess.Set(1)
	} else {
		p.suiteSuccess.Set(0)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(p.path, p.registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
