// Package testdef holds the unified test definition and the loaders that
// produce it from YAML documents and from Go code.
package testdef

import (
	"context"
	"fmt"
	"time"

	"github.com/liemle3893/e2e-runner-sub000/internal/adapter"
)

// Priority is informational and used for filtering.
type Priority string

const (
	P0 Priority = "P0"
	P1 Priority = "P1"
	P2 Priority = "P2"
	P3 Priority = "P3"

	DefaultPriority = P2
)

// Valid reports whether p is one of P0..P3.
func (p Priority) Valid() bool {
	switch p {
	case P0, P1, P2, P3:
		return true
	}
	return false
}

// SourceType tells which loader produced a definition.
type SourceType string

const (
	SourceYAML SourceType = "yaml"
	SourceGo   SourceType = "go"
)

// Phase names, in execution order.
const (
	PhaseSetup    = "setup"
	PhaseExecute  = "execute"
	PhaseVerify   = "verify"
	PhaseTeardown = "teardown"
)

// Phases lists the phase names in execution order.
var Phases = []string{PhaseSetup, PhaseExecute, PhaseVerify, PhaseTeardown}

// Definition is one test, whatever format it was written in. It is not
// modified after loading.
type Definition struct {
	Name        string
	Description string
	Priority    Priority
	Tags        []string
	Skip        bool
	SkipReason  string
	// Timeout of zero means the suite default.
	Timeout time.Duration
	// Retries is the per-step retry default; nil means the suite default.
	Retries   *int
	Depends   []string
	Variables map[string]any

	Setup    []Step
	Execute  []Step
	Verify   []Step
	Teardown []Step

	// Adapters lists backends used by function steps, which cannot be
	// derived from the steps themselves.
	Adapters []adapter.Type

	SourceFile string
	SourceType SourceType
}

// Steps returns the steps of the named phase.
func (d *Definition) Steps(phase string) []Step {
	switch phase {
	case PhaseSetup:
		return d.Setup
	case PhaseExecute:
		return d.Execute
	case PhaseVerify:
		return d.Verify
	case PhaseTeardown:
		return d.Teardown
	}
	return nil
}

// Metadata is the part of a definition used for listing and filtering.
type Metadata struct {
	Name       string
	Priority   Priority
	Tags       []string
	Skip       bool
	SourceFile string
}

// Metadata derives the listing fields from a loaded definition.
func (d *Definition) Metadata() Metadata {
	return Metadata{
		Name:       d.Name,
		Priority:   d.Priority,
		Tags:       d.Tags,
		Skip:       d.Skip,
		SourceFile: d.SourceFile,
	}
}

// Step is either an *ActionStep dispatched to an adapter or a *FuncStep
// invoked directly.
type Step interface {
	StepID() string
	isStep()
}

// ActionStep is one adapter operation. Params, Capture and Assert hold the
// raw values; they are interpolated right before the step runs.
type ActionStep struct {
	ID          string
	Adapter     adapter.Type
	Action      string
	Description string
	Params      map[string]any
	// Capture maps a variable name to a path into the result data.
	Capture         map[string]string
	Assert          any
	ContinueOnError bool
	// Retry overrides the test and suite default when set.
	Retry *int
	Delay time.Duration
}

func (s *ActionStep) StepID() string { return s.ID }
func (*ActionStep) isStep()          {}

// StepFunc is the body of a procedural phase.
type StepFunc func(ctx context.Context, ac *adapter.Context) error

// FuncStep runs a Go function in place of an adapter call.
type FuncStep struct {
	ID          string
	Description string
	Fn          StepFunc
}

func (s *FuncStep) StepID() string { return s.ID }
func (*FuncStep) isStep()          {}

func stepID(phase string, idx int) string {
	return fmt.Sprintf("%s-%d", phase, idx)
}

// RequiredAdapters returns every adapter kind referenced by defs or by the
// extra step lists (suite hooks).
func RequiredAdapters(defs []*Definition, extra ...[]Step) map[adapter.Type]bool {
	out := make(map[adapter.Type]bool)
	add := func(steps []Step) {
		for _, s := range steps {
			if as, ok := s.(*ActionStep); ok {
				out[as.Adapter] = true
			}
		}
	}
	for _, d := range defs {
		for _, phase := range Phases {
			add(d.Steps(phase))
		}
		for _, t := range d.Adapters {
			out[t] = true
		}
	}
	for _, steps := range extra {
		add(steps)
	}
	return out
}
