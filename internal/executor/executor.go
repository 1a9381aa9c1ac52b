// Package executor runs a single step against its adapter, with delay,
// interpolation, retries, assertions and captures.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/liemle3893/e2e-runner-sub000/internal/adapter"
	"github.com/liemle3893/e2e-runner-sub000/internal/errs"
	"github.com/liemle3893/e2e-runner-sub000/internal/interpolate"
	"github.com/liemle3893/e2e-runner-sub000/internal/result"
	"github.com/liemle3893/e2e-runner-sub000/internal/testctx"
	"github.com/liemle3893/e2e-runner-sub000/internal/testdef"
)

// FuncAdapter is the adapter name recorded for function steps.
const FuncAdapter = "function"

// RetryConfig is the backoff policy between attempts.
type RetryConfig struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Backoff returns the wait before retry number attempt (1-based): the base
// delay doubled per attempt, capped at MaxDelay, with the upper half
// randomized by rnd. A nil rnd gives the un-jittered delay.
func Backoff(attempt int, cfg RetryConfig, rnd *rand.Rand) time.Duration {
	if attempt < 1 || cfg.BaseDelay <= 0 {
		return 0
	}
	d := cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if cfg.MaxDelay > 0 && d >= cfg.MaxDelay {
			break
		}
	}
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if rnd == nil {
		return d
	}
	half := d / 2
	return half + time.Duration(rnd.Int63n(int64(d-half)+1))
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Options configures an Executor.
type Options struct {
	Retry RetryConfig
	// Rand seeds backoff jitter; a time-seeded source is used when nil.
	Rand  *rand.Rand
	Sleep SleepFunc
}

// Executor is safe for use by concurrently running tests.
type Executor struct {
	registry *adapter.Registry
	retry    RetryConfig
	sleep    SleepFunc

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// New creates an executor for registry. Zero Options fields fall back to
// real sleeps and a time-seeded jitter source.
func New(registry *adapter.Registry, opts Options) *Executor {
	e := &Executor{
		registry: registry,
		retry:    opts.Retry,
		sleep:    opts.Sleep,
		rnd:      opts.Rand,
	}
	if e.sleep == nil {
		e.sleep = Sleep
	}
	if e.rnd == nil {
		e.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return e
}

func (e *Executor) backoff(attempt int) time.Duration {
	e.rndMu.Lock()
	defer e.rndMu.Unlock()
	return Backoff(attempt, e.retry, e.rnd)
}

// ExecuteStep runs step for the test owning tc and always returns a result.
// A failed step whose ContinueOnError is set is reported as passed with its
// error kept.
func (e *Executor) ExecuteStep(ctx context.Context, step testdef.Step, tc *testctx.TestContext) *result.Step {
	start := time.Now()
	var res *result.Step

	switch s := step.(type) {
	case *testdef.FuncStep:
		res = e.runFunc(ctx, s, tc)
	case *testdef.ActionStep:
		res = e.runAction(ctx, s, tc)
		if res.Status == result.StatusFailed && s.ContinueOnError {
			tc.Logger().Debug().Err(res.Err).Str("step", s.ID).Msg("step failed, continuing")
			res.Status = result.StatusPassed
		}
	default:
		res = &result.Step{
			ID:     step.StepID(),
			Status: result.StatusFailed,
			Err:    fmt.Errorf("unsupported step type %T", step),
		}
	}

	res.Duration = time.Since(start)
	return res
}

func (e *Executor) runFunc(ctx context.Context, s *testdef.FuncStep, tc *testctx.TestContext) (res *result.Step) {
	res = &result.Step{
		ID:          s.ID,
		Adapter:     FuncAdapter,
		Action:      FuncAdapter,
		Description: s.Description,
		Status:      result.StatusPassed,
	}
	if err := ctx.Err(); err != nil {
		res.Status, res.Err = result.StatusFailed, err
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			res.Status = result.StatusFailed
			res.Err = fmt.Errorf("panic in %s: %v", s.ID, r)
		}
	}()

	if err := s.Fn(ctx, tc.AdapterContext(s.ID)); err != nil {
		res.Status, res.Err = result.StatusFailed, err
	}
	return res
}

func (e *Executor) runAction(ctx context.Context, s *testdef.ActionStep, tc *testctx.TestContext) *result.Step {
	res := &result.Step{
		ID:          s.ID,
		Adapter:     string(s.Adapter),
		Action:      s.Action,
		Description: s.Description,
	}
	fail := func(err error) *result.Step {
		res.Status, res.Err = result.StatusFailed, err
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if s.Delay > 0 {
		if err := e.sleep(ctx, s.Delay); err != nil {
			return fail(err)
		}
	}

	// Params, assertions and capture paths all see captures made by earlier
	// steps of the same test.
	ictx := tc.InterpolationContext()
	params, err := interpolate.InterpolateMap(s.Params, ictx)
	if err != nil {
		return fail(err)
	}
	assertSpec, err := interpolate.InterpolateValue(s.Assert, ictx)
	if err != nil {
		return fail(err)
	}
	captures := make(map[string]string, len(s.Capture))
	for name, path := range s.Capture {
		p, err := interpolate.Interpolate(path, ictx)
		if err != nil {
			return fail(err)
		}
		captures[name] = p
	}

	if e.registry == nil {
		return fail(&errs.AdapterError{Adapter: string(s.Adapter), Action: s.Action, Message: "no adapters configured"})
	}
	a, err := e.registry.Get(s.Adapter)
	if err != nil {
		return fail(&errs.AdapterError{Adapter: string(s.Adapter), Action: s.Action, Message: err.Error()})
	}

	retries := tc.Retries
	if s.Retry != nil {
		retries = *s.Retry
	}

	ac := tc.AdapterContext(s.ID)
	var out *adapter.Result
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			wait := e.backoff(attempt)
			ac.Logger.Debug().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("retrying step")
			if serr := e.sleep(ctx, wait); serr != nil {
				break
			}
			res.RetryCount = attempt
		}
		out, err = a.Execute(ctx, s.Action, params, ac)
		if err == nil || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		var ae *errs.AdapterError
		if !errors.As(err, &ae) {
			err = errs.NewAdapterError(string(s.Adapter), s.Action, err)
		}
		return fail(err)
	}
	if out == nil {
		out = &adapter.Result{}
	}
	res.Data = out.Data

	if assertSpec != nil {
		if err := adapter.Assert(a, out.Data, assertSpec); err != nil {
			return fail(err)
		}
	}

	names := make([]string, 0, len(captures))
	for name := range captures {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, ok := adapter.CaptureValue(a, out.Data, captures[name])
		if !ok {
			return fail(fmt.Errorf("capture %s: path %s not found in result", name, captures[name]))
		}
		tc.Capture(name, v)
		log.Debug().Str("test", tc.Test).Str("step", s.ID).Str("name", name).Msg("captured value")
	}

	res.Status = result.StatusPassed
	return res
}
