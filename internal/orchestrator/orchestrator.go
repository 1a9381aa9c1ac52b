// Package orchestrator runs a suite of tests: phase sequencing, bounded
// parallelism, timeouts, bail, hooks and lifecycle events.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/liemle3893/e2e-runner-sub000/internal/adapter"
	"github.com/liemle3893/e2e-runner-sub000/internal/errs"
	"github.com/liemle3893/e2e-runner-sub000/internal/executor"
	"github.com/liemle3893/e2e-runner-sub000/internal/result"
	"github.com/liemle3893/e2e-runner-sub000/internal/testctx"
	"github.com/liemle3893/e2e-runner-sub000/internal/testdef"
)

// BailReason is the skip reason of tests not started after a failure.
const BailReason = "bailed: an earlier test failed"

// Hooks are programmatic suite hooks. They run after the configured hook
// steps of the same kind.
type Hooks struct {
	BeforeAll  func(ctx context.Context) error
	AfterAll   func(ctx context.Context, suite *result.Suite) error
	BeforeEach func(ctx context.Context, def *testdef.Definition, ac *adapter.Context) error
	AfterEach  func(ctx context.Context, def *testdef.Definition, res *result.Test) error
}

// HookSteps are configured step lists run through the step executor.
type HookSteps struct {
	BeforeAll  []testdef.Step
	AfterAll   []testdef.Step
	BeforeEach []testdef.Step
	AfterEach  []testdef.Step
}

// All returns every hook step, for adapter requirement checks.
func (h HookSteps) All() []testdef.Step {
	var out []testdef.Step
	out = append(out, h.BeforeAll...)
	out = append(out, h.AfterAll...)
	out = append(out, h.BeforeEach...)
	return append(out, h.AfterEach...)
}

// Options configures a suite run. Durations of zero mean "none".
type Options struct {
	Parallel      int
	Timeout       time.Duration
	Retries       int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	Bail          bool
	SkipSetup     bool
	SkipTeardown  bool
	Variables     map[string]any
	BaseURL       string
	Hooks         Hooks
	HookSteps     HookSteps

	// Rand and Sleep are handed to the step executor.
	Rand  *rand.Rand
	Sleep executor.SleepFunc
}

// Orchestrator runs suites against one adapter registry.
type Orchestrator struct {
	opts     Options
	exec     *executor.Executor
	factory  *testctx.Factory
	registry *adapter.Registry
	events   bus
}

// New creates an orchestrator running steps against registry.
func New(registry *adapter.Registry, opts Options) *Orchestrator {
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	return &Orchestrator{
		opts:     opts,
		registry: registry,
		exec: executor.New(registry, executor.Options{
			Retry: executor.RetryConfig{BaseDelay: opts.RetryDelay, MaxDelay: opts.MaxRetryDelay},
			Rand:  opts.Rand,
			Sleep: opts.Sleep,
		}),
		factory: &testctx.Factory{
			Variables: opts.Variables,
			BaseURL:   opts.BaseURL,
			Registry:  registry,
			Logger:    log.Logger,
			Retries:   opts.Retries,
		},
	}
}

// On registers a listener and returns its id.
func (o *Orchestrator) On(l Listener) int {
	return o.events.on(l)
}

// Off removes a listener. It reports whether the id was registered.
func (o *Orchestrator) Off(id int) bool {
	return o.events.off(id)
}

// RunSuite runs defs and returns their results in submission order. Test
// failures never abort the suite; only Bail stops new tests from starting.
func (o *Orchestrator) RunSuite(ctx context.Context, defs []*testdef.Definition) *result.Suite {
	start := time.Now()
	o.events.emit(Event{Type: EventSuiteStart, Total: len(defs)})
	log.Debug().Int("tests", len(defs)).Int("parallel", o.opts.Parallel).Msg("starting suite")

	results := make([]*result.Test, len(defs))

	if err := o.beforeAll(ctx); err != nil {
		log.Error().Err(err).Msg("beforeAll hook failed, no test will run")
		for i, def := range defs {
			results[i] = o.notRun(def, result.StatusError, "", fmt.Errorf("beforeAll hook: %w", err))
		}
	} else {
		o.runAll(ctx, defs, results)
	}

	suite := result.NewSuite(results, start, time.Since(start))
	o.afterAll(ctx, suite)
	suite.Duration = time.Since(start)

	o.events.emit(Event{Type: EventSuiteEnd, Suite: suite})
	return suite
}

func (o *Orchestrator) runAll(ctx context.Context, defs []*testdef.Definition, results []*result.Test) {
	var bailed atomic.Bool
	g := new(errgroup.Group)
	g.SetLimit(o.opts.Parallel)

	for i, def := range defs {
		// Skipped tests never take a slot.
		if def.Skip {
			reason := def.SkipReason
			if reason == "" {
				reason = "skipped"
			}
			results[i] = o.notRun(def, result.StatusSkipped, reason, nil)
			continue
		}

		g.Go(func() error {
			switch {
			case bailed.Load():
				results[i] = o.notRun(def, result.StatusSkipped, BailReason, nil)
				return nil
			case ctx.Err() != nil:
				results[i] = o.notRun(def, result.StatusSkipped, "suite cancelled", nil)
				return nil
			}

			res := o.runTest(ctx, def)
			results[i] = res
			if o.opts.Bail && (res.Status == result.StatusFailed || res.Status == result.StatusError) {
				if !bailed.Swap(true) {
					log.Info().Str("test", def.Name).Msg("test failed, not starting remaining tests")
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// notRun records a test that never executed any phase.
func (o *Orchestrator) notRun(def *testdef.Definition, status result.Status, reason string, err error) *result.Test {
	tr := newTestResult(def)
	tr.Status = status
	tr.SkipReason = reason
	tr.Err = err
	tr.Captured = map[string]any{}
	o.events.emit(Event{Type: EventTestStart, Test: def.Name, Definition: def})
	o.events.emit(Event{Type: EventTestEnd, Test: def.Name, Definition: def, TestResult: tr})
	return tr
}

func newTestResult(def *testdef.Definition) *result.Test {
	return &result.Test{
		Name:       def.Name,
		SourceFile: def.SourceFile,
		Priority:   string(def.Priority),
		Tags:       def.Tags,
		StartedAt:  time.Now(),
	}
}

func (o *Orchestrator) runTest(ctx context.Context, def *testdef.Definition) *result.Test {
	tr := newTestResult(def)
	o.events.emit(Event{Type: EventTestStart, Test: def.Name, Definition: def})
	tc := o.factory.New(def)
	tlog := tc.Logger()
	tlog.Debug().Msg("starting test")

	if err := o.beforeEach(ctx, def, tc); err != nil {
		tr.Status = result.StatusError
		tr.Err = fmt.Errorf("beforeEach hook: %w", err)
	} else {
		tr.Phases, tr.Status, tr.Err = o.runPhases(ctx, def, tc)

		if !o.opts.SkipTeardown && len(def.Teardown) > 0 {
			// Teardown gets its own budget and ignores the test's deadline.
			tctx, cancel := withTimeout(context.WithoutCancel(ctx), o.timeout(def))
			pr := o.runPhase(tctx, def, testdef.PhaseTeardown, def.Teardown, tc, o.events.emit)
			cancel()
			tr.Phases = append(tr.Phases, pr)
			if pr.Status == result.StatusFailed {
				tlog.Warn().Err(pr.Err).Msg("teardown failed")
			}
		}
	}

	o.afterEach(ctx, def, tc, tr)

	tr.Captured = tc.Captured.Snapshot()
	tr.Duration = time.Since(tr.StartedAt)
	tlog.Debug().Str("status", string(tr.Status)).Dur("duration", tr.Duration).Msg("test finished")
	o.events.emit(Event{Type: EventTestEnd, Test: def.Name, Definition: def, TestResult: tr})
	return tr
}

func (o *Orchestrator) timeout(def *testdef.Definition) time.Duration {
	if def.Timeout > 0 {
		return def.Timeout
	}
	return o.opts.Timeout
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// run tracks the phases of one test while they execute in their own
// goroutine. It follows the goroutine through its events so that a timeout
// can close the phase and step still in flight. Once abandoned, later
// events from the still-running goroutine are dropped.
type run struct {
	mu        sync.Mutex
	emit      func(Event)
	phases    []*result.Phase
	current   *result.Phase
	started   time.Time
	step      testdef.Step
	abandoned bool
}

// observe records ev and forwards it unless the run was abandoned.
func (r *run) observe(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.abandoned {
		return
	}
	switch ev.Type {
	case EventPhaseStart:
		r.current = &result.Phase{Name: ev.Phase, Status: result.StatusPassed}
		r.started = time.Now()
	case EventStepStart:
		r.step = ev.Step
	case EventStepEnd:
		if r.current != nil {
			r.current.Steps = append(r.current.Steps, ev.StepResult)
		}
		r.step = nil
	case EventPhaseEnd:
		r.phases = append(r.phases, ev.PhaseResult)
		r.current, r.step = nil, nil
	}
	r.emit(ev)
}

// abandon stops the run and returns the finished phases. When err is set,
// the phase in flight is closed as failed with err and its end events are
// emitted.
func (r *run) abandon(def *testdef.Definition, err error) []*result.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abandoned = true
	phases := append([]*result.Phase(nil), r.phases...)
	if err == nil || r.current == nil {
		return phases
	}

	pr := r.current
	if r.step != nil {
		sr := interrupted(r.step, err)
		pr.Steps = append(pr.Steps, sr)
		r.emit(Event{Type: EventStepEnd, Test: def.Name, Definition: def, Phase: pr.Name, Step: r.step, StepResult: sr})
	}
	pr.Status = result.StatusFailed
	pr.Err = err
	pr.Duration = time.Since(r.started)
	r.emit(Event{Type: EventPhaseEnd, Test: def.Name, Definition: def, Phase: pr.Name, PhaseResult: pr})
	r.current, r.step = nil, nil
	return append(phases, pr)
}

// interrupted is the result of a step cut short by err.
func interrupted(step testdef.Step, err error) *result.Step {
	sr := &result.Step{ID: step.StepID(), Status: result.StatusFailed, Err: err}
	switch s := step.(type) {
	case *testdef.ActionStep:
		sr.Adapter, sr.Action, sr.Description = string(s.Adapter), s.Action, s.Description
	case *testdef.FuncStep:
		sr.Adapter, sr.Action, sr.Description = executor.FuncAdapter, executor.FuncAdapter, s.Description
	}
	return sr
}

// runPhases runs setup, execute and verify under the test timeout and
// decides the test status.
func (o *Orchestrator) runPhases(ctx context.Context, def *testdef.Definition, tc *testctx.TestContext) ([]*result.Phase, result.Status, error) {
	timeout := o.timeout(def)
	pctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	r := &run{emit: o.events.emit}

	type outcome struct {
		status result.Status
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error().Interface("panic", p).Str("test", def.Name).Bytes("stack", debug.Stack()).Msg("test panicked")
				done <- outcome{result.StatusError, fmt.Errorf("panic: %v", p)}
			}
		}()

		for _, phase := range []string{testdef.PhaseSetup, testdef.PhaseExecute, testdef.PhaseVerify} {
			steps := def.Steps(phase)
			if len(steps) == 0 || (phase == testdef.PhaseSetup && o.opts.SkipSetup) {
				continue
			}
			pr := o.runPhase(pctx, def, phase, steps, tc, r.observe)
			if pr.Status == result.StatusFailed {
				done <- outcome{result.StatusFailed, pr.Err}
				return
			}
		}
		done <- outcome{status: result.StatusPassed}
	}()

	select {
	case out := <-done:
		return r.abandon(def, nil), out.status, out.err
	case <-pctx.Done():
		var err error
		if errors.Is(pctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			tc.Logger().Warn().Dur("timeout", timeout).Msg("test timed out")
			err = &errs.TimeoutError{Operation: fmt.Sprintf("test %q", def.Name), Timeout: timeout}
		} else {
			err = fmt.Errorf("test interrupted: %w", ctx.Err())
		}
		return r.abandon(def, err), result.StatusError, err
	}
}

// runPhase executes steps strictly in order. A failed step stops the phase.
func (o *Orchestrator) runPhase(ctx context.Context, def *testdef.Definition, name string, steps []testdef.Step, tc *testctx.TestContext, emit func(Event)) *result.Phase {
	start := time.Now()
	pr := &result.Phase{Name: name, Status: result.StatusPassed}
	emit(Event{Type: EventPhaseStart, Test: def.Name, Definition: def, Phase: name})

	for _, step := range steps {
		emit(Event{Type: EventStepStart, Test: def.Name, Definition: def, Phase: name, Step: step})
		sr := o.exec.ExecuteStep(ctx, step, tc)
		pr.Steps = append(pr.Steps, sr)
		emit(Event{Type: EventStepEnd, Test: def.Name, Definition: def, Phase: name, Step: step, StepResult: sr})

		if sr.Status == result.StatusFailed {
			pr.Status = result.StatusFailed
			pr.Err = fmt.Errorf("%s step %s: %w", name, sr.ID, sr.Err)
			break
		}
	}

	pr.Duration = time.Since(start)
	emit(Event{Type: EventPhaseEnd, Test: def.Name, Definition: def, Phase: name, PhaseResult: pr})
	return pr
}

func noEmit(Event) {}

// runHookSteps runs configured hook steps without emitting events.
func (o *Orchestrator) runHookSteps(ctx context.Context, name string, steps []testdef.Step, tc *testctx.TestContext) error {
	if len(steps) == 0 {
		return nil
	}
	pr := o.runPhase(ctx, &testdef.Definition{Name: tc.Test}, name, steps, tc, noEmit)
	if pr.Status == result.StatusFailed {
		return pr.Err
	}
	return nil
}

func (o *Orchestrator) suiteContext(name string) *testctx.TestContext {
	return o.factory.New(&testdef.Definition{Name: name})
}

func (o *Orchestrator) beforeAll(ctx context.Context) error {
	if err := o.runHookSteps(ctx, "beforeAll", o.opts.HookSteps.BeforeAll, o.suiteContext("beforeAll")); err != nil {
		return err
	}
	if o.opts.Hooks.BeforeAll != nil {
		return callHook("beforeAll", func() error { return o.opts.Hooks.BeforeAll(ctx) })
	}
	return nil
}

func (o *Orchestrator) afterAll(ctx context.Context, suite *result.Suite) {
	actx := context.WithoutCancel(ctx)
	if err := o.runHookSteps(actx, "afterAll", o.opts.HookSteps.AfterAll, o.suiteContext("afterAll")); err != nil {
		log.Warn().Err(err).Msg("afterAll hook failed")
	}
	if o.opts.Hooks.AfterAll != nil {
		if err := callHook("afterAll", func() error { return o.opts.Hooks.AfterAll(actx, suite) }); err != nil {
			log.Warn().Err(err).Msg("afterAll hook failed")
		}
	}
}

// beforeEach runs in the test's own context so its captures are visible
// to the test.
func (o *Orchestrator) beforeEach(ctx context.Context, def *testdef.Definition, tc *testctx.TestContext) error {
	if err := o.runHookSteps(ctx, "beforeEach", o.opts.HookSteps.BeforeEach, tc); err != nil {
		return err
	}
	if o.opts.Hooks.BeforeEach != nil {
		return callHook("beforeEach", func() error {
			return o.opts.Hooks.BeforeEach(ctx, def, tc.AdapterContext("beforeEach"))
		})
	}
	return nil
}

func (o *Orchestrator) afterEach(ctx context.Context, def *testdef.Definition, tc *testctx.TestContext, tr *result.Test) {
	actx := context.WithoutCancel(ctx)
	if err := o.runHookSteps(actx, "afterEach", o.opts.HookSteps.AfterEach, tc); err != nil {
		tc.Logger().Warn().Err(err).Msg("afterEach hook failed")
	}
	if o.opts.Hooks.AfterEach != nil {
		if err := callHook("afterEach", func() error { return o.opts.Hooks.AfterEach(actx, def, tr) }); err != nil {
			tc.Logger().Warn().Err(err).Msg("afterEach hook failed")
		}
	}
}

func callHook(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s hook: %v", name, r)
		}
	}()
	return fn()
}
