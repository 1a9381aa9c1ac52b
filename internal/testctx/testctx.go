// Package testctx builds the variable and capture scope of one running test
// and the views of it handed to interpolation and adapters.
package testctx

import (
	"regexp"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/liemle3893/e2e-runner-sub000/internal/adapter"
	"github.com/liemle3893/e2e-runner-sub000/internal/interpolate"
	"github.com/liemle3893/e2e-runner-sub000/internal/scope"
	"github.com/liemle3893/e2e-runner-sub000/internal/testdef"
)

// Factory creates one TestContext per test from suite-wide settings.
type Factory struct {
	Variables map[string]any
	BaseURL   string
	Registry  *adapter.Registry
	Logger    zerolog.Logger
	// Retries is the suite default step retry count.
	Retries int
	// LookupEnv overrides os.LookupEnv for interpolation.
	LookupEnv func(string) (string, bool)
}

// TestContext is owned by exactly one test execution.
type TestContext struct {
	Test      string
	Variables map[string]any
	Captured  *scope.Store
	BaseURL   string
	StartedAt time.Time
	// Retries applies to steps without their own retry setting.
	Retries int

	registry  *adapter.Registry
	logger    zerolog.Logger
	lookupEnv func(string) (string, bool)
}

// New merges suite variables with the test's own (the test wins), resolves
// placeholders in variables (referenced variables first), and starts an
// empty capture store.
func (f *Factory) New(def *testdef.Definition) *TestContext {
	vars := make(map[string]any, len(f.Variables)+len(def.Variables))
	for k, v := range f.Variables {
		vars[k] = v
	}
	for k, v := range def.Variables {
		vars[k] = v
	}

	tc := &TestContext{
		Test:      def.Name,
		Variables: vars,
		Captured:  scope.NewStore(),
		BaseURL:   f.BaseURL,
		StartedAt: time.Now(),
		Retries:   f.Retries,
		registry:  f.Registry,
		logger:    f.Logger.With().Str("test", def.Name).Logger(),
		lookupEnv: f.LookupEnv,
	}

	if def.Retries != nil {
		tc.Retries = *def.Retries
	}

	tc.Variables = resolveVariables(vars, tc.InterpolationContext(), def.Name)
	return tc
}

var identifier = regexp.MustCompile(`[A-Za-z_]\w*`)

// resolveVariables interpolates every variable once. A variable that refers
// to another is resolved after it, so `a: "{{b}}"` sees b's final value and
// shares any builtin result b produced. Cycles fall back to the raw value of
// the variable closing the cycle.
func resolveVariables(raw map[string]any, ictx *interpolate.Context, test string) map[string]any {
	working := make(map[string]any, len(raw))
	for k, v := range raw {
		working[k] = v
	}
	ictx.Variables = working

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(raw))

	var resolve func(name string)
	resolve = func(name string) {
		if state[name] != 0 {
			return
		}
		state[name] = visiting
		for _, dep := range references(raw[name]) {
			if _, ok := raw[dep]; ok && dep != name {
				resolve(dep)
			}
		}
		out, err := interpolate.InterpolateValue(raw[name], ictx)
		if err != nil {
			log.Debug().Err(err).Str("test", test).Str("variable", name).Msg("variable left unresolved")
		} else {
			working[name] = out
		}
		state[name] = done
	}

	names := make([]string, 0, len(raw))
	for k := range raw {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		resolve(name)
	}
	return working
}

// references lists the identifiers used inside placeholders of v.
func references(v any) []string {
	var out []string
	switch val := v.(type) {
	case string:
		if !interpolate.HasPlaceholder(val) {
			return nil
		}
		for _, expr := range interpolate.Expressions(val) {
			out = append(out, identifier.FindAllString(expr, -1)...)
		}
	case map[string]any:
		for _, item := range val {
			out = append(out, references(item)...)
		}
	case []any:
		for _, item := range val {
			out = append(out, references(item)...)
		}
	}
	return out
}


// Capture records a value for every later step of this test. The last write
// for a name wins.
func (tc *TestContext) Capture(name string, value any) {
	tc.Captured.Set(name, value)
}

// InterpolationContext is a view over the live variables and captures.
func (tc *TestContext) InterpolationContext() *interpolate.Context {
	return &interpolate.Context{
		Variables: tc.Variables,
		Captured:  tc.Captured,
		BaseURL:   tc.BaseURL,
		LookupEnv: tc.lookupEnv,
	}
}

// AdapterContext is what adapters and function steps see for stepID.
func (tc *TestContext) AdapterContext(stepID string) *adapter.Context {
	return &adapter.Context{
		Variables: tc.Variables,
		Captured:  tc.Captured,
		BaseURL:   tc.BaseURL,
		Logger:    tc.logger.With().Str("step", stepID).Logger(),
		Test:      tc.Test,
		Step:      stepID,
		StartedAt: tc.StartedAt,
		Adapters:  tc.registry,
	}
}

// Logger is tagged with the test name.
func (tc *TestContext) Logger() *zerolog.Logger {
	return &tc.logger
}
