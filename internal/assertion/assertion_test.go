package assertion

import (
	"errors"
	"testing"
)

func TestRun(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		a       Assertion
		wantOp  string
		wantErr bool
	}{
		{"range passes", 5, Assertion{"greaterThan": 3, "lessThan": 10}, "", false},
		{"greaterThan fails", 5, Assertion{"greaterThan": 10}, "greaterThan", true},
		{"lessThan fails", 5.5, Assertion{"lessThan": 5}, "lessThan", true},
		{"greaterThan non number", "abc", Assertion{"greaterThan": 1}, "greaterThan", true},
		{"equals strict", "a", Assertion{"equals": "a"}, "", false},
		{"equals loose number string", 42, Assertion{"equals": "42"}, "", false},
		{"equals int float", int64(3), Assertion{"equals": 3.0}, "", false},
		{"equals object", map[string]any{"a": 1.0}, Assertion{"equals": map[string]any{"a": 1}}, "", false},
		{"equals mismatch", "a", Assertion{"equals": "b"}, "equals", true},
		{"equals null", nil, Assertion{"equals": nil}, "", false},
		{"contains", "hello world", Assertion{"contains": "lo w"}, "", false},
		{"contains number", 12345, Assertion{"contains": "234"}, "", false},
		{"contains fails", "hello", Assertion{"contains": "xyz"}, "contains", true},
		{"matches", "abc-123", Assertion{"matches": `^[a-z]+-\d+$`}, "", false},
		{"matches fails", "abc", Assertion{"matches": `^\d+$`}, "matches", true},
		{"invalid regex", "abc", Assertion{"matches": `(`}, "matches", true},
		{"type array", []any{1}, Assertion{"type": "array"}, "", false},
		{"type null", nil, Assertion{"type": "null"}, "", false},
		{"type object", map[string]any{}, Assertion{"type": "object"}, "", false},
		{"type number", 1.5, Assertion{"type": "number"}, "", false},
		{"type undefined", Undefined, Assertion{"type": "undefined"}, "", false},
		{"type mismatch", "x", Assertion{"type": "number"}, "type", true},
		{"length string", "abcd", Assertion{"length": 4}, "", false},
		{"length array", []any{1, 2}, Assertion{"length": 2}, "", false},
		{"length object", map[string]any{"a": 1}, Assertion{"length": 1}, "", false},
		{"length unsupported", 12, Assertion{"length": 2}, "length", true},
		{"exists true", "x", Assertion{"exists": true}, "", false},
		{"exists null value", nil, Assertion{"exists": true}, "", false},
		{"exists missing", Undefined, Assertion{"exists": true}, "exists", true},
		{"not exists", Undefined, Assertion{"exists": false}, "", false},
		{"not exists present", 1, Assertion{"exists": false}, "exists", true},
		{"notEmpty", []any{1}, Assertion{"notEmpty": true}, "", false},
		{"notEmpty fails", "", Assertion{"notEmpty": true}, "notEmpty", true},
		{"isEmpty", map[string]any{}, Assertion{"isEmpty": true}, "", false},
		{"isEmpty fails", "x", Assertion{"isEmpty": true}, "isEmpty", true},
		{"isNull nil", nil, Assertion{"isNull": true}, "", false},
		{"isNull undefined", Undefined, Assertion{"isNull": true}, "", false},
		{"isNull fails", 0, Assertion{"isNull": true}, "isNull", true},
		{"isNotNull", 0, Assertion{"isNotNull": true}, "", false},
		{"isNotNull fails", Undefined, Assertion{"isNotNull": true}, "isNotNull", true},
		{"empty assertion", "anything", Assertion{}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Run(tt.value, tt.a, "$.field")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			var ae *Error
			if !errors.As(err, &ae) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if ae.Operator != tt.wantOp {
				t.Errorf("operator = %q, want %q", ae.Operator, tt.wantOp)
			}
			if ae.Path != "$.field" {
				t.Errorf("path = %q", ae.Path)
			}
		})
	}
}

func TestRun_StopsAtFirstFailure(t *testing.T) {
	err := Run("abc", Assertion{"equals": "x", "contains": "z"}, "")
	var ae *Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if ae.Operator != "equals" {
		t.Errorf("expected equals to be checked first, got %s", ae.Operator)
	}
	if ae.Expected != "x" || ae.Actual != "abc" {
		t.Errorf("unexpected detail: expected=%v actual=%v", ae.Expected, ae.Actual)
	}
}

func TestCheckPaths(t *testing.T) {
	data := map[string]any{
		"status": 201,
		"body":   map[string]any{"id": "u-1", "tags": []any{"a", "b"}},
	}

	tests := []struct {
		name    string
		spec    any
		wantErr bool
	}{
		{"list form", []any{
			map[string]any{"path": "$.body.id", "equals": "u-1"},
			map[string]any{"path": "body.tags", "length": 2},
		}, false},
		{"map literal", map[string]any{"status": 201}, false},
		{"map predicates", map[string]any{"body.id": map[string]any{"matches": "^u-"}}, false},
		{"missing path fails exists", []any{map[string]any{"path": "$.body.nope", "exists": true}}, true},
		{"missing path is null", []any{map[string]any{"path": "$.body.nope", "isNull": true}}, false},
		{"wrong value", map[string]any{"status": 200}, true},
		{"entry without path", []any{map[string]any{"equals": 1}}, true},
		{"bad payload", "status", true},
		{"nil payload", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPaths(data, tt.spec)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckPaths() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFrom(t *testing.T) {
	if a := From("x"); a["equals"] != "x" {
		t.Errorf("literal should become equals, got %v", a)
	}
	if a := From(map[string]any{"exists": true}); a["exists"] != true {
		t.Errorf("predicate bag should pass through, got %v", a)
	}
	obj := map[string]any{"name": "bob"}
	if a := From(obj); a["equals"] == nil {
		t.Errorf("plain object should become equals, got %v", a)
	}
}
