// Package adapter defines the uniform capability every backend exposes to the
// step executor, and the registry that owns one instance per backend kind.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/liemle3893/e2e-runner-sub000/internal/assertion"
	"github.com/liemle3893/e2e-runner-sub000/internal/jsonpath"
	"github.com/liemle3893/e2e-runner-sub000/internal/scope"
)

// Type is the closed set of backend kinds.
type Type string

const (
	HTTP       Type = "http"
	PostgreSQL Type = "postgresql"
	Redis      Type = "redis"
	MongoDB    Type = "mongodb"
	EventHub   Type = "eventhub"
)

// Types lists every supported backend kind.
func Types() []Type {
	return []Type{HTTP, PostgreSQL, Redis, MongoDB, EventHub}
}

// ParseType validates s as an adapter kind.
func ParseType(s string) (Type, error) {
	for _, t := range Types() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown adapter %q", s)
}

var actions = map[Type][]string{
	HTTP:       {"request"},
	PostgreSQL: {"execute", "query", "queryOne", "count"},
	Redis:      append(append([]string{}, RedisKeyActions...), RedisPatternActions...),
	MongoDB: {"insertOne", "insertMany", "findOne", "find", "updateOne", "updateMany",
		"deleteOne", "deleteMany", "count", "aggregate"},
	EventHub: {"publish", "consume", "waitFor", "clear"},
}

// Actions lists the verbs t understands.
func Actions(t Type) []string {
	return actions[t]
}

// HasAction reports whether t understands action.
func HasAction(t Type, action string) bool {
	for _, a := range actions[t] {
		if a == action {
			return true
		}
	}
	return false
}

// Adapter is implemented by every backend.
//
// Connect and Disconnect are idempotent. Execute returns *errs.AdapterError
// on failure and must tolerate concurrent calls from parallel tests.
type Adapter interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Execute(ctx context.Context, action string, params map[string]any, ac *Context) (*Result, error)
	HealthCheck(ctx context.Context) bool
}

// Result is what a successful Execute returns.
type Result struct {
	Data     any
	Duration time.Duration
}

// Asserter is implemented by adapters whose assertion payload has its own
// shape (e.g. http's status/headers/json). Others get path assertions.
type Asserter interface {
	Assert(data any, spec any) error
}

// Capturer is implemented by adapters that resolve capture paths against
// something other than the raw result data.
type Capturer interface {
	CaptureValue(data any, path string) (any, bool)
}

// Assert checks spec against data with a's own rules when it has them.
func Assert(a Adapter, data any, spec any) error {
	if as, ok := a.(Asserter); ok {
		return as.Assert(data, spec)
	}
	return assertion.CheckPaths(data, spec)
}

// CaptureValue extracts path from data for a.
func CaptureValue(a Adapter, data any, path string) (any, bool) {
	if c, ok := a.(Capturer); ok {
		return c.CaptureValue(data, path)
	}
	return jsonpath.Evaluate(data, path)
}

// Context is what an adapter, or a procedural step function, sees of the
// running test. Variables and Captured are the live objects of the test.
type Context struct {
	Variables map[string]any
	Captured  *scope.Store
	BaseURL   string
	Logger    zerolog.Logger
	Test      string
	Step      string
	StartedAt time.Time
	Adapters  *Registry
}

// Capture stores a value for later steps of the same test.
func (c *Context) Capture(name string, value any) {
	c.Captured.Set(name, value)
}

// Adapter looks up a connected adapter, for procedural steps.
func (c *Context) Adapter(t Type) (Adapter, error) {
	if c.Adapters == nil {
		return nil, fmt.Errorf("no adapters available")
	}
	return c.Adapters.Get(t)
}
