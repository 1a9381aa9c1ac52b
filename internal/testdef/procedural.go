package testdef

import (
	"runtime"
	"sync"
	"time"

	"github.com/liemle3893/e2e-runner-sub000/internal/adapter"
	"github.com/liemle3893/e2e-runner-sub000/internal/config"
	"github.com/liemle3893/e2e-runner-sub000/internal/errs"
)

// Procedural is a test written in Go. Each phase is one function; Execute
// is required. Adapters lists the backends the functions use so that the
// registry builds them.
type Procedural struct {
	Name        string
	Description string
	Priority    Priority
	Tags        []string
	Skip        bool
	SkipReason  string
	Timeout     time.Duration
	Retries     *int
	Variables   map[string]any
	Adapters    []adapter.Type

	Setup    StepFunc
	Execute  StepFunc
	Verify   StepFunc
	Teardown StepFunc
}

type registration struct {
	test   Procedural
	source string
}

var (
	registered []registration
	regMu      sync.Mutex
)

// Register adds a procedural test to the process-wide list, usually from an
// init function. The caller's file is recorded as the source.
func Register(p Procedural) {
	_, file, _, ok := runtime.Caller(1)
	if !ok {
		file = "unknown"
	}
	regMu.Lock()
	defer regMu.Unlock()
	registered = append(registered, registration{test: p, source: file})
}

// Registered returns the registered tests in registration order, with the
// file each was registered from.
func Registered() ([]Procedural, []string) {
	regMu.Lock()
	defer regMu.Unlock()
	tests := make([]Procedural, len(registered))
	sources := make([]string, len(registered))
	for i, r := range registered {
		tests[i] = r.test
		sources[i] = r.source
	}
	return tests, sources
}

// ProceduralMetadata is the fast path for procedural tests.
func ProceduralMetadata(p Procedural, source string) Metadata {
	pr := p.Priority
	if pr == "" {
		pr = DefaultPriority
	}
	return Metadata{
		Name:       p.Name,
		Priority:   pr,
		Tags:       p.Tags,
		Skip:       p.Skip,
		SourceFile: source,
	}
}

// LoadProcedural validates p and wraps each phase function as a single
// FuncStep.
func LoadProcedural(p Procedural, source string) (*Definition, error) {
	verr := &errs.ValidationError{File: source, Test: p.Name}
	if p.Name == "" {
		verr.Add("name is required")
	}
	if p.Execute == nil {
		verr.Add("execute function is required")
	}
	pr := p.Priority
	if pr == "" {
		pr = DefaultPriority
	} else if !pr.Valid() {
		verr.Add("priority must be one of P0, P1, P2, P3, got %q", p.Priority)
	}
	if p.Timeout < 0 || p.Timeout > config.MaxTimeout*time.Millisecond {
		verr.Add("timeout must be between 0 and %d ms", config.MaxTimeout)
	}
	if p.Retries != nil && (*p.Retries < 0 || *p.Retries > config.MaxRetries) {
		verr.Add("retries must be between 0 and %d, got %d", config.MaxRetries, *p.Retries)
	}
	for _, t := range p.Adapters {
		if _, err := adapter.ParseType(string(t)); err != nil {
			verr.Add("%v", err)
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	wrap := func(phase string, fn StepFunc) []Step {
		if fn == nil {
			return nil
		}
		return []Step{&FuncStep{ID: stepID(phase, 0), Description: phase + " function", Fn: fn}}
	}

	return &Definition{
		Name:        p.Name,
		Description: p.Description,
		Priority:    pr,
		Tags:        p.Tags,
		Skip:        p.Skip,
		SkipReason:  p.SkipReason,
		Timeout:     p.Timeout,
		Retries:     p.Retries,
		Variables:   p.Variables,
		Setup:       wrap(PhaseSetup, p.Setup),
		Execute:     wrap(PhaseExecute, p.Execute),
		Verify:      wrap(PhaseVerify, p.Verify),
		Teardown:    wrap(PhaseTeardown, p.Teardown),
		Adapters:    p.Adapters,
		SourceFile:  source,
		SourceType:  SourceGo,
	}, nil
}
