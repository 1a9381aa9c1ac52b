package reporter

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/liemle3893/e2e-runner-sub000/internal/result"
)

type junitTestSuites struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Name     string           `xml:"name,attr"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Errors   int              `xml:"errors,attr"`
	Skipped  int              `xml:"skipped,attr"`
	Time     string           `xml:"time,attr"`
	Suites   []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Time      string          `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	Cases     []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitMessage `xml:"failure,omitempty"`
	Error     *junitMessage `xml:"error,omitempty"`
	Skipped   *junitMessage `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type junitMessage struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Body    string `xml:",chardata"`
}

// JUnit writes a JUnit XML report.
type JUnit struct {
	nopEvents
	path string
}

// NewJUnit writes a JUnit XML report to path.
func NewJUnit(path string) *JUnit {
	return &JUnit{path: path}
}

func (j *JUnit) Name() string { return "junit" }

func (j *JUnit) Generate(suite *result.Suite) error {
	data, err := MarshalJUnit(suite)
	if err != nil {
		return err
	}
	return writeFile(j.path, data)
}

// MarshalJUnit renders suite as an indented JUnit document.
func MarshalJUnit(suite *result.Suite) ([]byte, error) {
	ts := junitTestSuite{
		Name:      "e2e",
		Tests:     suite.Total,
		Failures:  suite.Failed - suite.Errors,
		Errors:    suite.Errors,
		Skipped:   suite.Skipped,
		Time:      seconds(suite.Duration.Seconds()),
		Timestamp: suite.StartedAt.Format("2006-01-02T15:04:05"),
	}

	for _, t := range suite.Tests {
		tc := junitTestCase{
			Name:      t.Name,
			Classname: classname(t),
			Time:      seconds(t.Duration.Seconds()),
			SystemOut: capturedText(t.Captured),
		}
		switch t.Status {
		case result.StatusFailed:
			tc.Failure = &junitMessage{Message: result.ErrorMessage(t.Err), Type: result.ErrorKind(t.Err), Body: failureDetail(t)}
		case result.StatusError:
			tc.Error = &junitMessage{Message: result.ErrorMessage(t.Err), Type: result.ErrorKind(t.Err), Body: failureDetail(t)}
		case result.StatusSkipped:
			tc.Skipped = &junitMessage{Message: t.SkipReason}
		}
		ts.Cases = append(ts.Cases, tc)
	}

	doc := junitTestSuites{
		Name:     "e2e",
		Tests:    ts.Tests,
		Failures: ts.Failures,
		Errors:   ts.Errors,
		Skipped:  ts.Skipped,
		Time:     ts.Time,
		Suites:   []junitTestSuite{ts},
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding junit report: %w", err)
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

func classname(t *result.Test) string {
	if t.SourceFile != "" {
		return t.SourceFile
	}
	return "e2e"
}

func seconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}

func failureDetail(t *result.Test) string {
	var b strings.Builder
	for _, p := range t.Phases {
		for _, s := range p.Steps {
			if s.Err == nil {
				continue
			}
			fmt.Fprintf(&b, "%s %s (%s.%s): %v\n", p.Name, s.ID, s.Adapter, s.Action, s.Err)
		}
	}
	if b.Len() == 0 && t.Err != nil {
		b.WriteString(t.Err.Error())
	}
	return b.String()
}

func capturedText(captured map[string]any) string {
	if len(captured) == 0 {
		return ""
	}
	names := make([]string, 0, len(captured))
	for k := range captured {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("captured:\n")
	for _, k := range names {
		fmt.Fprintf(&b, "  %s = %v\n", k, captured[k])
	}
	return b.String()
}
