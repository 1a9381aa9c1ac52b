package reporter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/liemle3893/e2e-runner-sub000/internal/result"
)

// JSON writes the full result tree. Durations are milliseconds.
type JSON struct {
	nopEvents
	path string
}

// NewJSON writes a JSON report to path.
func NewJSON(path string) *JSON {
	return &JSON{path: path}
}

func (j *JSON) Name() string { return "json" }

func (j *JSON) Generate(suite *result.Suite) error {
	data, err := MarshalJSON(suite)
	if err != nil {
		return err
	}
	return writeFile(j.path, data)
}

type jsonSuite struct {
	StartedAt time.Time  `json:"startedAt"`
	Duration  int64      `json:"duration"`
	Total     int        `json:"total"`
	Passed    int        `json:"passed"`
	Failed    int        `json:"failed"`
	Errors    int        `json:"errors"`
	Skipped   int        `json:"skipped"`
	Success   bool       `json:"success"`
	Tests     []jsonTest `json:"tests"`
}

type jsonTest struct {
	Name       string         `json:"name"`
	SourceFile string         `json:"sourceFile,omitempty"`
	Priority   string         `json:"priority,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Status     result.Status  `json:"status"`
	Duration   int64          `json:"duration"`
	Error      *jsonError     `json:"error,omitempty"`
	SkipReason string         `json:"skipReason,omitempty"`
	Captured   map[string]any `json:"captured,omitempty"`
	Phases     []jsonPhase    `json:"phases"`
}

type jsonPhase struct {
	Name     string        `json:"name"`
	Status   result.Status `json:"status"`
	Duration int64         `json:"duration"`
	Error    *jsonError    `json:"error,omitempty"`
	Steps    []jsonStep    `json:"steps"`
}

type jsonStep struct {
	ID          string        `json:"id"`
	Adapter     string        `json:"adapter"`
	Action      string        `json:"action"`
	Description string        `json:"description,omitempty"`
	Status      result.Status `json:"status"`
	Duration    int64         `json:"duration"`
	RetryCount  int           `json:"retryCount"`
	Data        any           `json:"data,omitempty"`
	Error       *jsonError    `json:"error,omitempty"`
}

type jsonError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func toJSONError(err error) *jsonError {
	if err == nil {
		return nil
	}
	return &jsonError{Kind: result.ErrorKind(err), Message: err.Error()}
}

// MarshalJSON renders suite as indented JSON.
func MarshalJSON(suite *result.Suite) ([]byte, error) {
	doc := jsonSuite{
		StartedAt: suite.StartedAt,
		Duration:  suite.Duration.Milliseconds(),
		Total:     suite.Total,
		Passed:    suite.Passed,
		Failed:    suite.Failed,
		Errors:    suite.Errors,
		Skipped:   suite.Skipped,
		Success:   suite.Success,
		Tests:     make([]jsonTest, 0, len(suite.Tests)),
	}

	for _, t := range suite.Tests {
		jt := jsonTest{
			Name:       t.Name,
			SourceFile: t.SourceFile,
			Priority:   t.Priority,
			Tags:       t.Tags,
			Status:     t.Status,
			Duration:   t.Duration.Milliseconds(),
			Error:      toJSONError(t.Err),
			SkipReason: t.SkipReason,
			Captured:   t.Captured,
			Phases:     make([]jsonPhase, 0, len(t.Phases)),
		}
		for _, p := range t.Phases {
			jp := jsonPhase{
				Name:     p.Name,
				Status:   p.Status,
				Duration: p.Duration.Milliseconds(),
				Error:    toJSONError(p.Err),
				Steps:    make([]jsonStep, 0, len(p.Steps)),
			}
			for _, s := range p.Steps {
				jp.Steps = append(jp.Steps, jsonStep{
					ID:          s.ID,
					Adapter:     s.Adapter,
					Action:      s.Action,
					Description: s.Description,
					Status:      s.Status,
					Duration:    s.Duration.Milliseconds(),
					RetryCount:  s.RetryCount,
					Data:        s.Data,
					Error:       toJSONError(s.Err),
				})
			}
			jt.Phases = append(jt.Phases, jp)
		}
		doc.Tests = append(doc.Tests, jt)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding json report: %w", err)
	}
	return append(data, '\n'), nil
}
