package adapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/liemle3893/e2e-runner-sub000/internal/assertion"
	"github.com/liemle3893/e2e-runner-sub000/internal/config"
	"github.com/liemle3893/e2e-runner-sub000/internal/errs"
	"github.com/liemle3893/e2e-runner-sub000/internal/jsonpath"
)

// HTTPAdapter sends requests to the service under test.
type HTTPAdapter struct {
	baseURL string
	config  config.AdapterConfig

	mu     sync.Mutex
	client *http.Client
}

// NewHTTP creates an HTTP adapter resolving relative URLs against baseURL,
// or the connection string when baseURL is empty.
func NewHTTP(baseURL string, cfg config.AdapterConfig) *HTTPAdapter {
	if cfg.ConnectionString != "" && baseURL == "" {
		baseURL = cfg.ConnectionString
	}
	return &HTTPAdapter{baseURL: strings.TrimRight(baseURL, "/"), config: cfg}
}

func (a *HTTPAdapter) Name() string { return string(HTTP) }

func (a *HTTPAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return nil
	}

	noRedirect := a.config.String("noRedirect") == "true"
	a.client = &http.Client{
		Timeout: time.Duration(a.config.Int("timeout", 30000)) * time.Millisecond,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if noRedirect {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	return nil
}

func (a *HTTPAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		a.client.CloseIdleConnections()
		a.client = nil
	}
	return nil
}

func (a *HTTPAdapter) httpClient() *http.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

// HealthCheck requests the configured healthPath, when there is one.
func (a *HTTPAdapter) HealthCheck(ctx context.Context) bool {
	client := a.httpClient()
	if client == nil {
		return false
	}
	healthPath := a.config.String("healthPath")
	if healthPath == "" {
		return true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.resolveURL(healthPath, ""), nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Debug().Err(err).Msg("http health check failed")
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}

func (a *HTTPAdapter) resolveURL(raw, baseURL string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	if baseURL == "" {
		baseURL = a.baseURL
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return strings.TrimRight(baseURL, "/") + raw
}

func (a *HTTPAdapter) Execute(ctx context.Context, action string, params map[string]any, ac *Context) (*Result, error) {
	if action != "request" {
		return nil, &errs.AdapterError{Adapter: a.Name(), Action: action, Message: "unknown action"}
	}
	client := a.httpClient()
	if client == nil {
		return nil, &errs.AdapterError{Adapter: a.Name(), Action: action, Message: "not connected"}
	}

	rawURL, err := requireString(a.Name(), action, params, "url")
	if err != nil {
		return nil, err
	}
	method := strings.ToUpper(paramString(params, "method"))
	if method == "" {
		method = http.MethodGet
	}

	baseURL := ""
	if ac != nil {
		baseURL = ac.BaseURL
	}
	reqURL := a.resolveURL(rawURL, baseURL)
	if q := paramMap(params, "query"); len(q) > 0 {
		values := url.Values{}
		for k, v := range q {
			values.Set(k, fmt.Sprint(v))
		}
		sep := "?"
		if strings.Contains(reqURL, "?") {
			sep = "&"
		}
		reqURL += sep + values.Encode()
	}

	body, isJSON, err := encodeBody(params["body"])
	if err != nil {
		return nil, &errs.AdapterError{Adapter: a.Name(), Action: action, Message: "encoding body", Cause: err}
	}

	if timeout := paramMillis(params, "timeout", 0); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, &errs.AdapterError{Adapter: a.Name(), Action: action, Message: "creating request", Cause: err}
	}
	for k, v := range paramMap(params, "headers") {
		req.Header.Set(k, fmt.Sprint(v))
	}
	if isJSON && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("X-Request-Id") == "" {
		req.Header.Set("X-Request-Id", uuid.NewString())
	}

	if ac != nil {
		ac.Logger.Debug().Str("method", method).Str("url", reqURL).Msg("sending request")
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, &errs.AdapterError{Adapter: a.Name(), Action: action, Message: "sending request", Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.AdapterError{Adapter: a.Name(), Action: action, Message: "reading response", Cause: err}
	}
	elapsed := time.Since(start)

	headers := make(map[string]any, len(resp.Header))
	for k, v := range resp.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}

	data := map[string]any{
		"status":     resp.StatusCode,
		"statusText": http.StatusText(resp.StatusCode),
		"headers":    headers,
		"body":       responseBody(resp.Header.Get("Content-Type"), raw),
		"duration":   elapsed.Milliseconds(),
	}
	return &Result{Data: data, Duration: elapsed}, nil
}

func responseBody(contentType string, raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if strings.Contains(contentType, "json") ||
		(len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')) {
		return decodeBody(raw)
	}
	return string(raw)
}

var responseRoots = []string{"status", "statusText", "headers", "body", "duration"}

// CaptureValue roots paths at the response body unless they name one of the
// response fields.
func (a *HTTPAdapter) CaptureValue(data any, path string) (any, bool) {
	p := strings.TrimPrefix(strings.TrimPrefix(path, "$"), ".")
	for _, root := range responseRoots {
		if p == root || strings.HasPrefix(p, root+".") || strings.HasPrefix(p, root+"[") {
			return jsonpath.Evaluate(data, path)
		}
	}
	m, _ := data.(map[string]any)
	return jsonpath.Evaluate(m["body"], path)
}

// Assert understands status, statusRange, headers, body, json and duration.
// Any other key is a path into the response.
func (a *HTTPAdapter) Assert(data any, spec any) error {
	m, ok := spec.(map[string]any)
	if !ok {
		return assertion.CheckPaths(data, spec)
	}
	resp, _ := data.(map[string]any)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expected := m[key]
		var err error
		switch key {
		case "status":
			err = assertStatus(resp["status"], expected)
		case "statusRange":
			err = assertStatusRange(resp["status"], expected)
		case "headers":
			err = assertHeaders(resp["headers"], expected)
		case "body":
			err = assertion.Run(resp["body"], assertion.From(expected), "body")
		case "json":
			err = assertion.CheckPaths(resp["body"], expected)
		case "duration":
			err = assertion.Run(resp["duration"], assertion.From(expected), "duration")
		default:
			err = assertion.CheckPaths(data, map[string]any{key: expected})
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func assertStatus(actual, expected any) error {
	if list, ok := expected.([]any); ok {
		for _, e := range list {
			if assertion.Equal(actual, e) {
				return nil
			}
		}
		return &assertion.Error{
			Message:  fmt.Sprintf("expected status in %v, got %v", list, actual),
			Path:     "status",
			Operator: "equals",
			Expected: list,
			Actual:   actual,
		}
	}
	return assertion.Run(actual, assertion.From(expected), "status")
}

func assertStatusRange(actual, expected any) error {
	status, _ := actual.(int)
	lo, hi := 0, 0
	switch r := expected.(type) {
	case string:
		if len(r) == 3 && strings.HasSuffix(strings.ToLower(r), "xx") && r[0] >= '1' && r[0] <= '5' {
			lo = int(r[0]-'0') * 100
			hi = lo + 99
		}
	case []any:
		if len(r) == 2 {
			lo, hi = anyInt(r[0], 0), anyInt(r[1], 0)
		}
	}
	if lo == 0 && hi == 0 {
		return fmt.Errorf("invalid statusRange %v (use \"2xx\" or [min, max])", expected)
	}
	if status < lo || status > hi {
		return &assertion.Error{
			Message:  fmt.Sprintf("expected status between %d and %d, got %d", lo, hi, status),
			Path:     "status",
			Operator: "statusRange",
			Expected: expected,
			Actual:   status,
		}
	}
	return nil
}

func assertHeaders(actual, expected any) error {
	headers, _ := actual.(map[string]any)
	want, ok := expected.(map[string]any)
	if !ok {
		return fmt.Errorf("headers assertion must be a map, got %T", expected)
	}
	names := make([]string, 0, len(want))
	for k := range want {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		var value any = assertion.Undefined
		if v, ok := headers[strings.ToLower(name)]; ok {
			value = v
		}
		if err := assertion.Run(value, assertion.From(want[name]), "headers."+name); err != nil {
			return err
		}
	}
	return nil
}
