package testdef

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/liemle3893/e2e-runner-sub000/internal/adapter"
	"github.com/liemle3893/e2e-runner-sub000/internal/config"
	"github.com/liemle3893/e2e-runner-sub000/internal/errs"
	"github.com/liemle3893/e2e-runner-sub000/internal/jsonpath"
)

// document is the on-disk shape of a *.test.yaml file.
type document struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Priority    string           `yaml:"priority"`
	Tags        []string         `yaml:"tags"`
	Skip        bool             `yaml:"skip"`
	SkipReason  string           `yaml:"skipReason"`
	Timeout     *int             `yaml:"timeout"`
	Retries     *int             `yaml:"retries"`
	Depends     []string         `yaml:"depends"`
	Variables   map[string]any   `yaml:"variables"`
	Setup       []map[string]any `yaml:"setup"`
	Execute     []map[string]any `yaml:"execute"`
	Verify      []map[string]any `yaml:"verify"`
	Teardown    []map[string]any `yaml:"teardown"`
}

// header is decoded by the metadata fast path; step bodies are not built.
type header struct {
	Name     string   `yaml:"name"`
	Priority string   `yaml:"priority"`
	Tags     []string `yaml:"tags"`
	Skip     bool     `yaml:"skip"`
}

// Keys of a step that are not adapter params.
var stepKeys = map[string]bool{
	"id": true, "adapter": true, "action": true, "description": true,
	"capture": true, "assert": true, "continueOnError": true, "retry": true, "delay": true,
}

// LoadYAML reads and validates one declarative test document. A read or
// parse failure is a *errs.LoaderError; a malformed test is a
// *errs.ValidationError listing every problem found.
func LoadYAML(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.LoaderError{File: path, Cause: err}
	}
	return ParseYAML(data, path)
}

// ParseYAML builds a definition from document bytes. source is recorded as
// the definition's SourceFile.
func ParseYAML(data []byte, source string) (*Definition, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &errs.LoaderError{File: source, Cause: fmt.Errorf("parsing yaml: %w", err)}
	}

	verr := &errs.ValidationError{File: source, Test: doc.Name}
	def := &Definition{
		Name:        doc.Name,
		Description: doc.Description,
		Priority:    Priority(doc.Priority),
		Tags:        doc.Tags,
		Skip:        doc.Skip,
		SkipReason:  doc.SkipReason,
		Retries:     doc.Retries,
		Depends:     doc.Depends,
		Variables:   doc.Variables,
		SourceFile:  source,
		SourceType:  SourceYAML,
	}

	if doc.Name == "" {
		verr.Add("name is required")
	}
	if def.Priority == "" {
		def.Priority = DefaultPriority
	} else if !def.Priority.Valid() {
		verr.Add("priority must be one of P0, P1, P2, P3, got %q", doc.Priority)
	}
	if doc.Timeout != nil {
		if *doc.Timeout < 0 || *doc.Timeout > config.MaxTimeout {
			verr.Add("timeout must be between 0 and %d ms, got %d", config.MaxTimeout, *doc.Timeout)
		}
		def.Timeout = time.Duration(*doc.Timeout) * time.Millisecond
	}
	if doc.Retries != nil && (*doc.Retries < 0 || *doc.Retries > config.MaxRetries) {
		verr.Add("retries must be between 0 and %d, got %d", config.MaxRetries, *doc.Retries)
	}
	if len(doc.Execute) == 0 {
		verr.Add("execute must contain at least one step")
	}

	def.Setup = parseSteps(doc.Setup, PhaseSetup, verr)
	def.Execute = parseSteps(doc.Execute, PhaseExecute, verr)
	def.Verify = parseSteps(doc.Verify, PhaseVerify, verr)
	def.Teardown = parseSteps(doc.Teardown, PhaseTeardown, verr)

	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	log.Debug().Str("file", source).Str("test", def.Name).Msg("loaded test document")
	return def, nil
}

func parseSteps(raw []map[string]any, phase string, verr *errs.ValidationError) []Step {
	if len(raw) == 0 {
		return nil
	}
	steps := make([]Step, 0, len(raw))
	for i, m := range raw {
		if s := parseStep(m, phase, i, verr); s != nil {
			steps = append(steps, s)
		}
	}
	return steps
}

// ParseStep converts one raw step map, as found in test documents and
// config hooks, into an ActionStep.
func ParseStep(raw map[string]any, phase string, idx int) (*ActionStep, error) {
	verr := &errs.ValidationError{Test: phase}
	s := parseStep(raw, phase, idx, verr)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseSteps converts a raw step list; all problems are reported together.
func ParseSteps(raw []map[string]any, phase string) ([]Step, error) {
	verr := &errs.ValidationError{Test: phase}
	steps := parseSteps(raw, phase, verr)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return steps, nil
}

func parseStep(raw map[string]any, phase string, idx int, verr *errs.ValidationError) *ActionStep {
	where := stepID(phase, idx)
	s := &ActionStep{
		ID:     where,
		Params: make(map[string]any),
	}
	if id, ok := raw["id"].(string); ok && id != "" {
		s.ID = id
	}
	s.Description, _ = raw["description"].(string)

	adapterName, _ := raw["adapter"].(string)
	t, err := adapter.ParseType(adapterName)
	if err != nil {
		verr.Add("%s: adapter must be one of %v, got %q", where, adapter.Types(), adapterName)
		return nil
	}
	s.Adapter = t

	s.Action, _ = raw["action"].(string)
	if s.Action == "" {
		verr.Add("%s: action is required", where)
	} else if !adapter.HasAction(t, s.Action) {
		verr.Add("%s: unknown %s action %q (expected one of %v)", where, t, s.Action, adapter.Actions(t))
	}

	for k, v := range raw {
		if !stepKeys[k] {
			s.Params[k] = v
		}
	}

	if c, ok := raw["capture"]; ok && c != nil {
		cm, ok := c.(map[string]any)
		if !ok {
			verr.Add("%s: capture must be a map of name to path", where)
		} else {
			s.Capture = make(map[string]string, len(cm))
			for name, p := range cm {
				path, ok := p.(string)
				if !ok || path == "" {
					verr.Add("%s: capture %q must be a path string", where, name)
					continue
				}
				if !strings.Contains(path, "{{") {
					if err := jsonpath.Validate(path); err != nil {
						verr.Add("%s: capture %q: %v", where, name, err)
						continue
					}
				}
				s.Capture[name] = path
			}
		}
	}
	s.Assert = raw["assert"]

	if v, ok := raw["continueOnError"]; ok {
		b, ok := v.(bool)
		if !ok {
			verr.Add("%s: continueOnError must be a boolean", where)
		}
		s.ContinueOnError = b
	}
	if v, ok := raw["retry"]; ok {
		n, ok := v.(int)
		if !ok || n < 0 || n > config.MaxRetries {
			verr.Add("%s: retry must be an integer between 0 and %d", where, config.MaxRetries)
		} else {
			s.Retry = &n
		}
	}
	if v, ok := raw["delay"]; ok {
		n, ok := v.(int)
		if !ok || n < 0 {
			verr.Add("%s: delay must be a non-negative number of milliseconds", where)
		} else {
			s.Delay = time.Duration(n) * time.Millisecond
		}
	}

	validateParams(s, where, verr)
	return s
}

// validateParams applies the per-adapter shape rules.
func validateParams(s *ActionStep, where string, verr *errs.ValidationError) {
	require := func(key string) {
		if v, ok := s.Params[key]; !ok || v == nil || v == "" {
			verr.Add("%s: %s %s requires %q", where, s.Adapter, s.Action, key)
		}
	}

	switch s.Adapter {
	case adapter.HTTP:
		require("url")
	case adapter.PostgreSQL:
		require("query")
	case adapter.Redis:
		for _, a := range adapter.RedisKeyActions {
			if a == s.Action {
				require("key")
			}
		}
		for _, a := range adapter.RedisPatternActions {
			if a == s.Action {
				require("pattern")
			}
		}
	case adapter.MongoDB:
		require("collection")
	case adapter.EventHub:
		switch s.Action {
		case "publish", "consume", "waitFor":
			require("topic")
		}
	}
}

// ReadYAMLMetadata decodes only the listing fields of a document, without
// building or validating steps.
func ReadYAMLMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, &errs.LoaderError{File: path, Cause: err}
	}
	var h header
	if err := yaml.Unmarshal(data, &h); err != nil {
		return Metadata{}, &errs.LoaderError{File: path, Cause: fmt.Errorf("parsing yaml: %w", err)}
	}
	p := Priority(h.Priority)
	if p == "" {
		p = DefaultPriority
	}
	return Metadata{
		Name:       h.Name,
		Priority:   p,
		Tags:       h.Tags,
		Skip:       h.Skip,
		SourceFile: path,
	}, nil
}
