package adapter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/liemle3893/e2e-runner-sub000/internal/errs"
)

func paramString(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func requireString(adapterName, action string, params map[string]any, key string) (string, error) {
	s := paramString(params, key)
	if s == "" {
		return "", &errs.AdapterError{Adapter: adapterName, Action: action, Message: fmt.Sprintf("%s is required", key)}
	}
	return s, nil
}

func paramInt(params map[string]any, key string, def int) int {
	return anyInt(params[key], def)
}

func anyInt(v any, def int) int {
	switch v := v.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// paramMillis reads a millisecond duration.
func paramMillis(params map[string]any, key string, def time.Duration) time.Duration {
	n := paramInt(params, key, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}

func paramMap(params map[string]any, key string) map[string]any {
	m, _ := params[key].(map[string]any)
	return m
}

func paramList(params map[string]any, key string) []any {
	switch v := params[key].(type) {
	case []any:
		return v
	case nil:
		return nil
	default:
		return []any{v}
	}
}

// encodeBody turns a payload into bytes: strings and byte slices pass
// through, anything else is JSON encoded.
func encodeBody(v any) ([]byte, bool, error) {
	switch b := v.(type) {
	case nil:
		return nil, false, nil
	case string:
		return []byte(b), false, nil
	case []byte:
		return b, false, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// decodeBody parses JSON when possible and falls back to the raw string.
func decodeBody(b []byte) any {
	if len(b) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(b, &v); err == nil {
		return v
	}
	return string(b)
}
