// Package result holds the write-once result tree built while a suite runs:
// Suite → Test → Phase → Step.
package result

import (
	"time"

	"github.com/liemle3893/e2e-runner-sub000/internal/errs"
)

// Status of a step, phase or test.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Step is the outcome of one step execution.
type Step struct {
	ID          string
	Adapter     string
	Action      string
	Description string
	Status      Status
	Duration    time.Duration
	Data        any
	Err         error
	RetryCount  int
}

// Phase is the outcome of one of setup, execute, verify or teardown.
type Phase struct {
	Name     string
	Status   Status
	Steps    []*Step
	Duration time.Duration
	Err      error
}

// Test is the outcome of one test definition.
type Test struct {
	Name       string
	SourceFile string
	Priority   string
	Tags       []string
	Status     Status
	Phases     []*Phase
	Duration   time.Duration
	Err        error
	SkipReason string
	Captured   map[string]any
	StartedAt  time.Time
}

// Phase returns the named phase result, or nil.
func (t *Test) Phase(name string) *Phase {
	for _, p := range t.Phases {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Retries sums the retry counts of every step in the test.
func (t *Test) Retries() int {
	n := 0
	for _, p := range t.Phases {
		for _, s := range p.Steps {
			n += s.RetryCount
		}
	}
	return n
}

// Suite aggregates every test of one run. Failed counts tests whose status
// is failed or error; Errors is the error subset.
type Suite struct {
	Total     int
	Passed    int
	Failed    int
	Errors    int
	Skipped   int
	Tests     []*Test
	Duration  time.Duration
	StartedAt time.Time
	Success   bool
}

// NewSuite builds a suite result from tests in submission order.
func NewSuite(tests []*Test, started time.Time, duration time.Duration) *Suite {
	s := &Suite{Tests: tests, StartedAt: started, Duration: duration}
	for _, t := range tests {
		s.Total++
		switch t.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusError:
			s.Failed++
			s.Errors++
		case StatusSkipped:
			s.Skipped++
		}
	}
	s.Success = s.Failed == 0
	return s
}

// ErrorMessage returns err's message or "".
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ErrorKind classifies err for reporters; see errs.Kind.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	return errs.Kind(err)
}
