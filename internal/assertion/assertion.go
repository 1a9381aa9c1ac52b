// Package assertion evaluates predicate bags against values pulled out of
// adapter results.
package assertion

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/liemle3893/e2e-runner-sub000/internal/interpolate"
	"github.com/liemle3893/e2e-runner-sub000/internal/jsonpath"
)

// Assertion is a flat bag of predicates. Every present predicate is checked;
// the first one that fails stops evaluation.
//
//	exists, equals, contains, matches, type, length, greaterThan, lessThan,
//	notEmpty, isEmpty, isNull, isNotNull
type Assertion map[string]any

type undefined struct{}

func (undefined) String() string { return "undefined" }

// Undefined marks a value that is absent, as opposed to present and null.
var Undefined any = undefined{}

// Error describes a violated predicate.
type Error struct {
	Message  string
	Path     string
	Operator string
	Expected any
	Actual   any
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("assertion failed at %s: %s", e.Path, e.Message)
	}
	return "assertion failed: " + e.Message
}

// Kind classifies the error for reporters.
func (e *Error) Kind() string { return "assertion" }

func fail(path, op string, expected, actual any, format string, args ...any) *Error {
	return &Error{
		Message:  fmt.Sprintf(format, args...),
		Path:     path,
		Operator: op,
		Expected: expected,
		Actual:   actual,
	}
}

var operators = []string{
	"exists", "equals", "contains", "matches", "type", "length",
	"greaterThan", "lessThan", "notEmpty", "isEmpty", "isNull", "isNotNull",
}

// IsOperator reports whether key names a predicate.
func IsOperator(key string) bool {
	for _, op := range operators {
		if op == key {
			return true
		}
	}
	return false
}

// Run checks value against a. path is only used in error messages.
func Run(value any, a Assertion, path string) error {
	for _, op := range operators {
		expected, ok := a[op]
		if !ok {
			continue
		}
		if err := check(op, value, expected, path); err != nil {
			return err
		}
	}
	return nil
}

func check(op string, value, expected any, path string) error {
	switch op {
	case "exists":
		want := truthy(expected)
		got := value != Undefined
		if want != got {
			if want {
				return fail(path, op, true, false, "expected value to exist")
			}
			return fail(path, op, false, true, "expected value not to exist, got %s", interpolate.Stringify(display(value)))
		}

	case "equals":
		if !Equal(value, expected) {
			return fail(path, op, expected, display(value), "expected %s to equal %s",
				interpolate.Stringify(display(value)), interpolate.Stringify(expected))
		}

	case "contains":
		s, sub := text(value), text(expected)
		if !strings.Contains(s, sub) {
			return fail(path, op, expected, display(value), "expected %q to contain %q", s, sub)
		}

	case "matches":
		pattern := text(expected)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fail(path, op, expected, display(value), "invalid pattern %q: %v", pattern, err)
		}
		if s := text(value); !re.MatchString(s) {
			return fail(path, op, expected, display(value), "expected %q to match %s", s, pattern)
		}

	case "type":
		got := TypeOf(value)
		if want := text(expected); got != want {
			return fail(path, op, want, got, "expected type %s, got %s", want, got)
		}

	case "length":
		want, ok := toFloat(expected)
		got := Length(value)
		if !ok || float64(got) != want {
			return fail(path, op, expected, got, "expected length %s, got %d", interpolate.Stringify(expected), got)
		}

	case "greaterThan", "lessThan":
		bound, ok := toFloat(expected)
		if !ok {
			return fail(path, op, expected, display(value), "%s bound %v is not a number", op, expected)
		}
		n, ok := toFloat(value)
		if !ok {
			return fail(path, op, expected, display(value), "expected a number, got %s", TypeOf(value))
		}
		if op == "greaterThan" && !(n > bound) {
			return fail(path, op, expected, display(value), "expected %v to be greater than %v", n, bound)
		}
		if op == "lessThan" && !(n < bound) {
			return fail(path, op, expected, display(value), "expected %v to be less than %v", n, bound)
		}

	case "notEmpty":
		if truthy(expected) && Length(value) <= 0 {
			return fail(path, op, "non-empty", display(value), "expected value to be non-empty")
		}

	case "isEmpty":
		if truthy(expected) && Length(value) != 0 {
			return fail(path, op, "empty", display(value), "expected value to be empty")
		}

	case "isNull":
		if truthy(expected) && !isNull(value) {
			return fail(path, op, nil, display(value), "expected null, got %s", interpolate.Stringify(display(value)))
		}

	case "isNotNull":
		if truthy(expected) && isNull(value) {
			return fail(path, op, "not null", display(value), "expected a non-null value")
		}
	}
	return nil
}

// Equal compares loosely: numbers by value, then deep equality, then the
// string forms of both sides. 42 equals "42".
func Equal(actual, expected any) bool {
	if actual == Undefined {
		return expected == Undefined
	}
	if a, ok := toNumber(actual); ok {
		if e, ok := toNumber(expected); ok {
			return a == e
		}
	}
	if reflect.DeepEqual(normalize(actual), normalize(expected)) {
		return true
	}
	return interpolate.Stringify(actual) == interpolate.Stringify(expected)
}

// TypeOf names the JSON type of v: string, number, boolean, object, array,
// null or undefined.
func TypeOf(v any) string {
	if v == Undefined {
		return "undefined"
	}
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Pointer:
		if reflect.ValueOf(v).IsNil() {
			return "null"
		}
	}
	return "object"
}

// Length is the natural length of strings and arrays, the key count of
// objects, and -1 for anything else.
func Length(v any) int {
	if v == nil || v == Undefined {
		return -1
	}
	if s, ok := v.(string); ok {
		return len([]rune(s))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len()
	}
	return -1
}

func isNull(v any) bool {
	if v == nil || v == Undefined {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	case nil:
		return false
	}
	if n, ok := toFloat(v); ok {
		return n != 0
	}
	return true
}

func display(v any) any {
	if v == Undefined {
		return nil
	}
	return v
}

func text(v any) string {
	if v == Undefined {
		return "undefined"
	}
	return interpolate.Stringify(v)
}

func toNumber(v any) (float64, bool) {
	switch v.(type) {
	case string, bool, nil:
		return 0, false
	}
	return toFloat(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f)
	case nil, bool:
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// normalize turns numbers into float64 recursively so that an int decoded by
// one driver equals a float64 decoded from YAML.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	}
	if f, ok := toNumber(v); ok {
		return f
	}
	return v
}

// PathAssertion is one entry of the generic assertion payload.
type PathAssertion struct {
	Path      string
	Assertion Assertion
}

// ParsePaths accepts either a list of {path, <predicates>} maps or a map
// keyed by path whose values are predicate bags or literals (shorthand for
// equals). Map entries are returned sorted by path.
func ParsePaths(spec any) ([]PathAssertion, error) {
	switch v := spec.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]PathAssertion, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("assertion %d: expected an object, got %T", i, item)
			}
			path, _ := m["path"].(string)
			if path == "" {
				return nil, fmt.Errorf("assertion %d: path is required", i)
			}
			a := Assertion{}
			for k, val := range m {
				if k != "path" {
					a[k] = val
				}
			}
			out = append(out, PathAssertion{Path: path, Assertion: a})
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]PathAssertion, 0, len(keys))
		for _, k := range keys {
			out = append(out, PathAssertion{Path: k, Assertion: From(v[k])})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported assertion payload %T", spec)
	}
}

// From turns a literal into {equals: literal}; predicate bags pass through.
func From(v any) Assertion {
	if m, ok := v.(map[string]any); ok {
		for k := range m {
			if IsOperator(k) {
				return Assertion(m)
			}
		}
	}
	return Assertion{"equals": v}
}

// CheckPaths evaluates each path assertion against data using JSONPath.
func CheckPaths(data any, spec any) error {
	entries, err := ParsePaths(spec)
	if err != nil {
		return err
	}
	for _, e := range entries {
		var value any = Undefined
		if v, ok := jsonpath.Evaluate(data, e.Path); ok {
			value = v
		}
		if err := Run(value, e.Assertion, e.Path); err != nil {
			return err
		}
	}
	return nil
}
