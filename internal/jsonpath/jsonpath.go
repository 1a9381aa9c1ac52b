// Package jsonpath evaluates a small JSONPath subset over decoded JSON-like
// values (map[string]any, []any and scalars).
//
// Supported syntax:
//
//	$             root
//	.name         child property
//	['name']      child property (single or double quotes, or bare)
//	[n]           array index
//	[*] / .*      every element of an array or every value of an object
//	..name        every occurrence of name below the current node
//
// A path without a leading "$" is relative to the root.
package jsonpath

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokProp tokenKind = iota
	tokIndex
	tokWildcard
	tokRecursive
)

type token struct {
	kind  tokenKind
	name  string
	index int
}

// Evaluate returns the value at path. When the path crosses a wildcard or a
// recursive descent the remaining path is applied to every match and the
// collected results are returned as []any; found is then true only if at
// least one match produced a value. Missing nodes are reported as not found,
// never as an error.
func Evaluate(data any, path string) (any, bool) {
	toks, err := parse(path)
	if err != nil {
		return nil, false
	}
	return evalTokens(data, toks)
}

// Query returns every value matched by path as a flat list. It never returns nil.
func Query(data any, path string) []any {
	toks, err := parse(path)
	if err != nil {
		return []any{}
	}

	nodes := []any{data}
	for _, t := range toks {
		next := make([]any, 0, len(nodes))
		for _, n := range nodes {
			switch t.kind {
			case tokProp:
				if v, ok := child(n, t.name); ok {
					next = append(next, v)
				}
			case tokIndex:
				if v, ok := element(n, t.index); ok {
					next = append(next, v)
				}
			case tokWildcard:
				next = append(next, expand(n)...)
			case tokRecursive:
				next = append(next, descend(n, t.name)...)
			}
		}
		nodes = next
	}
	return nodes
}

// Validate reports whether path can be parsed.
func Validate(path string) error {
	_, err := parse(path)
	return err
}

func evalTokens(node any, toks []token) (any, bool) {
	cur := node
	for i, t := range toks {
		var ok bool
		switch t.kind {
		case tokProp:
			if cur, ok = child(cur, t.name); !ok {
				return nil, false
			}
		case tokIndex:
			if cur, ok = element(cur, t.index); !ok {
				return nil, false
			}
		case tokWildcard, tokRecursive:
			var matches []any
			if t.kind == tokWildcard {
				matches = expand(cur)
			} else {
				matches = descend(cur, t.name)
			}
			rest := toks[i+1:]
			out := make([]any, 0, len(matches))
			for _, m := range matches {
				if len(rest) == 0 {
					out = append(out, m)
					continue
				}
				if v, found := evalTokens(m, rest); found {
					out = append(out, v)
				}
			}
			if len(out) == 0 {
				return nil, false
			}
			return out, true
		}
	}
	return cur, true
}

func normalize(path string) string {
	path = strings.TrimSpace(path)
	switch {
	case path == "":
		return "$"
	case strings.HasPrefix(path, "$"):
		return path
	case strings.HasPrefix(path, "["):
		return "$" + path
	default:
		return "$." + path
	}
}

func parse(path string) ([]token, error) {
	p := normalize(path)
	var toks []token

	i := 1
	for i < len(p) {
		switch p[i] {
		case '.':
			if i+1 < len(p) && p[i+1] == '.' {
				i += 2
				if i < len(p) && p[i] == '[' {
					t, n, err := parseBracket(p[i:])
					if err != nil {
						return nil, err
					}
					i += n
					name := t.name
					if t.kind == tokWildcard {
						name = "*"
					} else if t.kind == tokIndex {
						name = strconv.Itoa(t.index)
					}
					toks = append(toks, token{kind: tokRecursive, name: name})
					continue
				}
				name := readIdent(p, &i)
				if name == "" {
					return nil, fmt.Errorf("jsonpath %q: expected property after '..'", path)
				}
				toks = append(toks, token{kind: tokRecursive, name: name})
				continue
			}
			i++
			if i < len(p) && p[i] == '*' {
				toks = append(toks, token{kind: tokWildcard})
				i++
				continue
			}
			name := readIdent(p, &i)
			if name == "" {
				return nil, fmt.Errorf("jsonpath %q: empty property at offset %d", path, i)
			}
			toks = append(toks, token{kind: tokProp, name: name})
		case '[':
			t, n, err := parseBracket(p[i:])
			if err != nil {
				return nil, fmt.Errorf("jsonpath %q: %w", path, err)
			}
			toks = append(toks, t)
			i += n
		default:
			name := readIdent(p, &i)
			toks = append(toks, token{kind: tokProp, name: name})
		}
	}
	return toks, nil
}

func readIdent(p string, i *int) string {
	start := *i
	for *i < len(p) && p[*i] != '.' && p[*i] != '[' {
		*i++
	}
	return p[start:*i]
}

// parseBracket parses a leading "[...]" segment and returns the number of
// bytes consumed.
func parseBracket(s string) (token, int, error) {
	if len(s) < 2 || s[0] != '[' {
		return token{}, 0, fmt.Errorf("expected '['")
	}

	if q := s[1]; q == '\'' || q == '"' {
		end := strings.IndexByte(s[2:], q)
		if end < 0 {
			return token{}, 0, fmt.Errorf("unterminated quote in %s", s)
		}
		name := s[2 : 2+end]
		rest := 2 + end + 1
		if rest >= len(s) || s[rest] != ']' {
			return token{}, 0, fmt.Errorf("expected ']' after quoted property %q", name)
		}
		return token{kind: tokProp, name: name}, rest + 1, nil
	}

	end := strings.IndexByte(s, ']')
	if end < 0 {
		return token{}, 0, fmt.Errorf("unterminated bracket in %s", s)
	}
	inner := strings.TrimSpace(s[1:end])
	switch {
	case inner == "*":
		return token{kind: tokWildcard}, end + 1, nil
	case inner == "":
		return token{}, 0, fmt.Errorf("empty brackets")
	case strings.HasPrefix(inner, "?") || strings.HasPrefix(inner, "("):
		return token{}, 0, fmt.Errorf("unsupported expression [%s]", inner)
	}
	if n, err := strconv.Atoi(inner); err == nil {
		return token{kind: tokIndex, index: n}, end + 1, nil
	}
	return token{kind: tokProp, name: inner}, end + 1, nil
}

func child(node any, name string) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[name]
		return v, ok
	case nil:
		return nil, false
	case []any:
		if idx, err := strconv.Atoi(name); err == nil {
			return element(n, idx)
		}
		return nil, false
	}

	rv := reflect.ValueOf(node)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	}
	return nil, false
}

func element(node any, idx int) (any, bool) {
	if idx < 0 {
		return nil, false
	}
	if arr, ok := node.([]any); ok {
		if idx >= len(arr) {
			return nil, false
		}
		return arr[idx], true
	}
	rv := reflect.ValueOf(node)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if idx >= rv.Len() {
			return nil, false
		}
		return rv.Index(idx).Interface(), true
	}
	return nil, false
}

// expand returns every array element or every object value (keys sorted).
func expand(node any) []any {
	switch n := node.(type) {
	case []any:
		out := make([]any, len(n))
		copy(out, n)
		return out
	case map[string]any:
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(n))
		for _, k := range keys {
			out = append(out, n[k])
		}
		return out
	case nil:
		return nil
	}

	rv := reflect.ValueOf(node)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		out := make([]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, rv.MapIndex(k).Interface())
		}
		return out
	}
	return nil
}

// descend collects, depth-first and pre-order, every value stored under name
// at or below node. The name "*" collects every descendant.
func descend(node any, name string) []any {
	var out []any
	var walk func(n any)
	walk = func(n any) {
		if isObject(n) {
			if name == "*" {
				out = append(out, expand(n)...)
			} else if v, ok := child(n, name); ok {
				out = append(out, v)
			}
		}
		for _, c := range expand(n) {
			if isContainer(c) {
				walk(c)
			}
		}
	}
	walk(node)
	return out
}

func isObject(n any) bool {
	if _, ok := n.(map[string]any); ok {
		return true
	}
	if n == nil {
		return false
	}
	rv := reflect.ValueOf(n)
	return rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String
}

func isContainer(n any) bool {
	if n == nil {
		return false
	}
	switch reflect.ValueOf(n).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return true
	}
	return false
}
