// Package interpolate substitutes {{expr}} placeholders in strings and in
// nested request payloads.
//
// An expression resolves, in order, to:
//
//	$fn(args...)       a built-in function
//	baseUrl            the environment base URL
//	captured.<path>    a dot path into the captured values (must exist)
//	<name>             an exact captured name
//	<path>             a dot path into the test variables
//	<NAME>             a process environment variable
//
// Anything else is an interpolation error.
package interpolate

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/liemle3893/e2e-runner-sub000/internal/errs"
	"github.com/liemle3893/e2e-runner-sub000/internal/jsonpath"
	"github.com/liemle3893/e2e-runner-sub000/internal/scope"
)

var placeholder = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Context is the read view used to resolve placeholders. It references the
// live variable map and captured store of a test; it never copies them.
type Context struct {
	Variables map[string]any
	Captured  *scope.Store
	BaseURL   string

	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

func (c *Context) lookupEnv(name string) (string, bool) {
	if c != nil && c.LookupEnv != nil {
		return c.LookupEnv(name)
	}
	return os.LookupEnv(name)
}

// HasPlaceholder reports whether s contains at least one {{expr}} span.
func HasPlaceholder(s string) bool {
	return placeholder.MatchString(s)
}

// Expressions returns the trimmed expression of every placeholder in s.
func Expressions(s string) []string {
	var out []string
	for _, m := range placeholder.FindAllStringSubmatch(s, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

// Interpolate replaces every placeholder in tmpl with the string form of its
// resolved value.
func Interpolate(tmpl string, ctx *Context) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	var firstErr error
	out := placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		if firstErr != nil {
			return match
		}
		expr := strings.TrimSpace(match[2 : len(match)-2])
		v, err := Resolve(expr, ctx)
		if err != nil {
			firstErr = err
			return match
		}
		return Stringify(v)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// InterpolateValue walks maps and slices and interpolates every string leaf.
// A string that consists of exactly one placeholder is replaced by the
// resolved value itself, so `count: "{{n}}"` keeps n's type in a JSON body.
func InterpolateValue(v any, ctx *Context) (any, error) {
	switch val := v.(type) {
	case string:
		if m := placeholder.FindStringSubmatchIndex(val); m != nil && m[0] == 0 && m[1] == len(val) {
			return Resolve(strings.TrimSpace(val[m[2]:m[3]]), ctx)
		}
		return Interpolate(val, ctx)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := InterpolateValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := InterpolateValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := InterpolateValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// InterpolateMap is InterpolateValue for the common params shape.
func InterpolateMap(m map[string]any, ctx *Context) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	v, err := InterpolateValue(m, ctx)
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// Resolve returns the typed value of a single placeholder expression.
func Resolve(expr string, ctx *Context) (any, error) {
	if ctx == nil {
		ctx = &Context{}
	}

	if strings.HasPrefix(expr, "$") {
		return call(expr, ctx)
	}

	if expr == "baseUrl" {
		return ctx.BaseURL, nil
	}

	if strings.HasPrefix(expr, "captured.") {
		path := strings.TrimPrefix(expr, "captured.")
		var snapshot map[string]any
		if ctx.Captured != nil {
			snapshot = ctx.Captured.Snapshot()
		}
		v, ok := jsonpath.GetByPath(snapshot, path)
		if !ok {
			return nil, &errs.InterpolationError{Expr: expr, Message: "captured value not found"}
		}
		return v, nil
	}

	if ctx.Captured != nil {
		if v, ok := ctx.Captured.Get(expr); ok {
			return v, nil
		}
	}

	if ctx.Variables != nil {
		if v, ok := ctx.Variables[expr]; ok {
			return v, nil
		}
		if v, ok := jsonpath.GetByPath(ctx.Variables, expr); ok {
			return v, nil
		}
	}

	if v, ok := ctx.lookupEnv(expr); ok {
		return v, nil
	}

	return nil, &errs.InterpolationError{Expr: expr, Message: "unresolved variable"}
}

func call(expr string, ctx *Context) (any, error) {
	name, args, err := parseCall(expr)
	if err != nil {
		return nil, &errs.InterpolationError{Expr: expr, Message: err.Error()}
	}
	fn, ok := lookupBuiltin(name)
	if !ok {
		return nil, &errs.InterpolationError{Expr: expr, Message: fmt.Sprintf("unknown function %q", name)}
	}
	v, err := fn(ctx, args)
	if err != nil {
		return nil, &errs.InterpolationError{Expr: expr, Message: "function failed", Cause: err}
	}
	return v, nil
}

// parseCall splits "$name(a, 'b', "c")" into name and unquoted args. A call
// without parentheses has no args.
func parseCall(expr string) (string, []string, error) {
	body := strings.TrimPrefix(expr, "$")
	open := strings.IndexByte(body, '(')
	if open < 0 {
		return strings.TrimSpace(body), nil, nil
	}
	if !strings.HasSuffix(body, ")") {
		return "", nil, fmt.Errorf("missing closing parenthesis")
	}
	name := strings.TrimSpace(body[:open])
	inner := strings.TrimSpace(body[open+1 : len(body)-1])
	if inner == "" {
		return name, nil, nil
	}
	parts := strings.Split(inner, ",")
	args := make([]string, len(parts))
	for i, p := range parts {
		args[i] = unquote(strings.TrimSpace(p))
	}
	return name, args, nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// Stringify converts a resolved value to its substitution text. Objects and
// arrays are rendered as compact JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return formatFloat(float64(val))
	case float64:
		return formatFloat(val)
	case json.Number:
		return val.String()
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
