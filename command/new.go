package command

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/liemle3893/e2e-runner-sub000/internal/adapter"
	"github.com/liemle3893/e2e-runner-sub000/internal/config"
	"github.com/liemle3893/e2e-runner-sub000/internal/testdef"
)

var newCommand = &cli.Command{
	Name:  "new",
	Usage: "Create a new test file interactively",
	Description: `Guided wizard that scaffolds a *.test.yaml document from the adapters
configured for the selected environment. Placeholder values (KEY, TOPIC,
table_name, ...) are meant to be edited afterwards.`,
	Flags: append(configFlags(),
		&cli.StringFlag{
			Name:  "dir",
			Usage: "directory to write the test to (default: the config's testDir)",
		},
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"f"},
			Usage:   "overwrite an existing file",
		},
	),
	Action: newTest,
}

var (
	subtitleStyle   = lipgloss.NewStyle().Bold(true)
	selectedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	unselectedStyle = lipgloss.NewStyle()
	helpStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

type newStep int

const (
	newStepName newStep = iota
	newStepPriority
	newStepTags
	newStepPhase
	newStepAdapter
	newStepAction
	newStepConfirm
	newStepDone
)

const phaseDone = "done"

var (
	priorityOptions = []testdef.Priority{testdef.P0, testdef.P1, testdef.P2, testdef.P3}
	phaseOptions    = append(append([]string{}, testdef.Phases...), phaseDone)
	confirmOptions  = []string{"Create test file", "Cancel"}
)

type wizardStep struct {
	phase   string
	adapter adapter.Type
	action  string
}

type newModel struct {
	step   newStep
	cursor int
	input  string
	err    string

	adapters []adapter.Type

	name     string
	priority testdef.Priority
	tags     []string
	steps    []wizardStep

	phase   string
	current adapter.Type
	actions []string
}

func newInitialModel(adapters []adapter.Type) newModel {
	return newModel{
		step:     newStepName,
		adapters: adapters,
		priority: testdef.DefaultPriority,
	}
}

// wizardAdapters is http plus the adapters the environment configures, or
// every adapter when none is configured.
func wizardAdapters(env config.Environment) []adapter.Type {
	if len(env.Adapters) == 0 {
		return adapter.Types()
	}
	var out []adapter.Type
	for _, t := range adapter.Types() {
		if _, ok := env.Adapters[string(t)]; ok || t == adapter.HTTP {
			out = append(out, t)
		}
	}
	return out
}

func (m newModel) Init() tea.Cmd {
	return nil
}

func (m newModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEnter:
		return m.handleEnter()
	case tea.KeyEsc:
		if m.step == newStepAction {
			m.step = newStepAdapter
			m.cursor = 0
			return m, nil
		}
		return m, tea.Quit
	}

	if m.isTextStep() {
		switch key.Type {
		case tea.KeyRunes:
			m.input += string(key.Runes)
		case tea.KeySpace:
			m.input += " "
		case tea.KeyBackspace:
			if r := []rune(m.input); len(r) > 0 {
				m.input = string(r[:len(r)-1])
			}
		}
		return m, nil
	}

	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < m.optionCount()-1 {
			m.cursor++
		}
	}
	return m, nil
}

func (m newModel) isTextStep() bool {
	return m.step == newStepName || m.step == newStepTags
}

func (m newModel) optionCount() int {
	switch m.step {
	case newStepPriority:
		return len(priorityOptions)
	case newStepPhase:
		return len(phaseOptions)
	case newStepAdapter:
		return len(m.adapters)
	case newStepAction:
		return len(m.actions)
	case newStepConfirm:
		return len(confirmOptions)
	default:
		return 0
	}
}

func (m newModel) hasExecuteStep() bool {
	for _, s := range m.steps {
		if s.phase == testdef.PhaseExecute {
			return true
		}
	}
	return false
}

func (m newModel) handleEnter() (tea.Model, tea.Cmd) {
	m.err = ""

	switch m.step {
	case newStepName:
		name := strings.TrimSpace(m.input)
		if name == "" {
			m.err = "a name is required"
			return m, nil
		}
		m.name = name
		m.input = ""
		m.step = newStepPriority
		m.cursor = indexOf(priorityOptions, testdef.DefaultPriority)

	case newStepPriority:
		m.priority = priorityOptions[m.cursor]
		m.step = newStepTags

	case newStepTags:
		m.tags = nil
		for _, t := range strings.Split(m.input, ",") {
			if t = strings.TrimSpace(t); t != "" {
				m.tags = append(m.tags, t)
			}
		}
		m.input = ""
		m.step = newStepPhase
		m.cursor = indexOf(phaseOptions, testdef.PhaseExecute)

	case newStepPhase:
		phase := phaseOptions[m.cursor]
		if phase == phaseDone {
			if !m.hasExecuteStep() {
				m.err = "add at least one execute step"
				return m, nil
			}
			m.step = newStepConfirm
			m.cursor = 0
			return m, nil
		}
		m.phase = phase
		m.step = newStepAdapter
		m.cursor = 0

	case newStepAdapter:
		m.current = m.adapters[m.cursor]
		m.actions = adapter.Actions(m.current)
		m.step = newStepAction
		m.cursor = 0

	case newStepAction:
		m.steps = append(m.steps, wizardStep{phase: m.phase, adapter: m.current, action: m.actions[m.cursor]})
		m.step = newStepPhase
		m.cursor = indexOf(phaseOptions, m.phase)

	case newStepConfirm:
		if m.cursor == 0 {
			m.step = newStepDone
		}
		return m, tea.Quit
	}

	return m, nil
}

func indexOf[T comparable](list []T, v T) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return 0
}

func (m newModel) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("New e2e test"))
	s.WriteString("\n\n")

	switch m.step {
	case newStepName:
		s.WriteString(subtitleStyle.Render("What does the test check?"))
		s.WriteString("\n\n> " + m.input + "\n\n")
		s.WriteString(helpStyle.Render("Press Enter to continue"))

	case newStepPriority:
		s.WriteString(subtitleStyle.Render("Priority"))
		s.WriteString("\n\n")
		for i, p := range priorityOptions {
			s.WriteString(m.option(i, string(p)))
		}

	case newStepTags:
		s.WriteString(subtitleStyle.Render("Tags (comma separated, optional)"))
		s.WriteString("\n\n> " + m.input + "\n\n")
		s.WriteString(helpStyle.Render("Press Enter to continue"))

	case newStepPhase:
		s.WriteString(subtitleStyle.Render(m.name))
		s.WriteString("\n\n")
		if len(m.steps) > 0 {
			s.WriteString("Current steps:\n")
			for _, st := range m.steps {
				fmt.Fprintf(&s, "  %-8s %s.%s\n", st.phase, st.adapter, st.action)
			}
			s.WriteString("\n")
		}
		s.WriteString("Add a step to:\n")
		for i, p := range phaseOptions {
			label := p
			if p == phaseDone {
				label = "Done adding steps"
			}
			s.WriteString(m.option(i, label))
		}

	case newStepAdapter:
		s.WriteString(subtitleStyle.Render(fmt.Sprintf("Select adapter for the %s step", m.phase)))
		s.WriteString("\n\n")
		for i, t := range m.adapters {
			s.WriteString(m.option(i, string(t)))
		}

	case newStepAction:
		s.WriteString(subtitleStyle.Render(fmt.Sprintf("Select %s action", m.current)))
		s.WriteString("\n\n")
		for i, a := range m.actions {
			s.WriteString(m.option(i, a))
		}
		s.WriteString("\n")
		s.WriteString(helpStyle.Render("Esc to pick another adapter"))

	case newStepConfirm:
		s.WriteString(subtitleStyle.Render("Ready to create the test file"))
		s.WriteString("\n\n")
		if doc, err := m.render(); err == nil {
			s.WriteString(mutedStyle.Render(doc))
		}
		s.WriteString("\n")
		for i, o := range confirmOptions {
			s.WriteString(m.option(i, o))
		}

	case newStepDone:
		s.WriteString(successStyle.Render("✓ Test file created"))
	}

	if m.err != "" {
		s.WriteString("\n" + errorStyle.Render(m.err))
	}
	return s.String() + "\n"
}

func (m newModel) option(i int, label string) string {
	if i == m.cursor {
		return "> " + selectedStyle.Render(label) + "\n"
	}
	return "  " + unselectedStyle.Render(label) + "\n"
}

type stepDocument struct {
	Adapter string         `yaml:"adapter"`
	Action  string         `yaml:"action"`
	Params  map[string]any `yaml:",inline"`
}

type testDocument struct {
	Name     string         `yaml:"name"`
	Priority string         `yaml:"priority"`
	Tags     []string       `yaml:"tags,omitempty,flow"`
	Setup    []stepDocument `yaml:"setup,omitempty"`
	Execute  []stepDocument `yaml:"execute"`
	Verify   []stepDocument `yaml:"verify,omitempty"`
	Teardown []stepDocument `yaml:"teardown,omitempty"`
}

// render returns the test document the wizard has collected.
func (m newModel) render() (string, error) {
	doc := testDocument{Name: m.name, Priority: string(m.priority), Tags: m.tags}
	for _, st := range m.steps {
		sd := stepDocument{Adapter: string(st.adapter), Action: st.action, Params: actionTemplate(st.adapter, st.action)}
		switch st.phase {
		case testdef.PhaseSetup:
			doc.Setup = append(doc.Setup, sd)
		case testdef.PhaseExecute:
			doc.Execute = append(doc.Execute, sd)
		case testdef.PhaseVerify:
			doc.Verify = append(doc.Verify, sd)
		case testdef.PhaseTeardown:
			doc.Teardown = append(doc.Teardown, sd)
		}
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("rendering test: %w", err)
	}
	return string(out), nil
}

// actionTemplate returns placeholder parameters that pass validation for
// the action.
func actionTemplate(t adapter.Type, action string) map[string]any {
	switch t {
	case adapter.HTTP:
		return map[string]any{"method": "GET", "url": "/path", "assert": map[string]any{"status": 200}}

	case adapter.PostgreSQL:
		switch action {
		case "execute":
			return map[string]any{"query": "DELETE FROM table_name WHERE id = $1", "params": []any{1}}
		case "count":
			return map[string]any{"query": "SELECT count(*) FROM table_name"}
		default:
			return map[string]any{"query": "SELECT * FROM table_name WHERE id = $1", "params": []any{1}}
		}

	case adapter.Redis:
		switch action {
		case "keys", "flushPattern":
			return map[string]any{"pattern": "prefix:*"}
		case "set":
			return map[string]any{"key": "KEY", "value": "VALUE"}
		case "hset":
			return map[string]any{"key": "KEY", "field": "FIELD", "value": "VALUE"}
		case "hget":
			return map[string]any{"key": "KEY", "field": "FIELD"}
		default:
			return map[string]any{"key": "KEY"}
		}

	case adapter.MongoDB:
		p := map[string]any{"collection": "COLLECTION"}
		switch action {
		case "insertOne":
			p["document"] = map[string]any{"name": "VALUE"}
		case "insertMany":
			p["documents"] = []any{map[string]any{"name": "VALUE"}}
		case "updateOne", "updateMany":
			p["filter"] = map[string]any{"name": "VALUE"}
			p["update"] = map[string]any{"$set": map[string]any{"name": "NEW_VALUE"}}
		case "aggregate":
			p["pipeline"] = []any{map[string]any{"$match": map[string]any{"name": "VALUE"}}}
		default:
			p["filter"] = map[string]any{"name": "VALUE"}
		}
		return p

	case adapter.EventHub:
		switch action {
		case "publish":
			return map[string]any{"topic": "TOPIC", "body": map[string]any{"type": "EVENT"}}
		case "consume":
			return map[string]any{"topic": "TOPIC", "count": 1, "timeout": 10000}
		case "waitFor":
			return map[string]any{"topic": "TOPIC", "filter": map[string]any{"$.type": "EVENT"}, "timeout": 10000}
		default:
			return map[string]any{"topic": "TOPIC"}
		}
	}
	return map[string]any{}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func testFileName(name string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		slug = "new"
	}
	return slug + ".test.yaml"
}

func newTest(c *cli.Context) error {
	cfg, err := loadConfig(c, false)
	if err != nil {
		return err
	}

	m := newInitialModel(wizardAdapters(cfg.Environment()))
	result, err := tea.NewProgram(m, tea.WithInput(c.App.Reader), tea.WithOutput(c.App.Writer)).Run()
	if err != nil {
		return fmt.Errorf("error running wizard: %w", err)
	}

	final := result.(newModel)
	if final.step != newStepDone {
		fmt.Fprintln(c.App.Writer, "\nCancelled.")
		return nil
	}
	return writeTest(c, cfg, final)
}

func writeTest(c *cli.Context, cfg *config.Config, m newModel) error {
	content, err := m.render()
	if err != nil {
		return err
	}
	if _, err := testdef.ParseYAML([]byte(content), "new test"); err != nil {
		return fmt.Errorf("generated test is invalid: %w", err)
	}

	dir := c.String("dir")
	if dir == "" {
		dir = testPaths(c, cfg)[0]
	}
	path := filepath.Join(dir, testFileName(m.name))
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return cli.Exit(fmt.Sprintf("%s already exists (use --force to overwrite)", path), ExitConfigError)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating test directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing test file: %w", err)
	}

	out := c.App.Writer
	fmt.Fprintf(out, "\n%s %s\n\n", successStyle.Render("created"), path)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Replace the placeholder values (KEY, TOPIC, table_name, ...)")
	fmt.Fprintln(out, "  2. Run "+selectedStyle.Render("e2e validate")+" then "+selectedStyle.Render("e2e run"))
	return nil
}
