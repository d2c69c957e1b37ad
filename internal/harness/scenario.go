package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines an interaction scenario: a dashboard over some tables,
// a sequence of user interactions, and expectations on what the views
// show after each one.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Dashboard is the path to a CUE dashboard file or package directory.
	// Relative paths resolve against the scenario file location.
	Dashboard string `yaml:"dashboard,omitempty"`

	// Spec is inline CUE dashboard source, used instead of Dashboard.
	Spec string `yaml:"spec,omitempty"`

	// Tables are loaded into the store before the dashboard registers.
	Tables []TableSource `yaml:"tables"`

	// Steps are the interactions, applied in order. Each step settles
	// (every triggered query delivered) before the next one runs.
	Steps []Step `yaml:"steps,omitempty"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions"`

	// baseDir is where relative paths resolve from.
	baseDir string
}

// TableSource names a table and where its CSV comes from.
type TableSource struct {
	Name string `yaml:"name"`

	// File is a CSV path, relative to the scenario file.
	File string `yaml:"file,omitempty"`

	// CSV is inline CSV text.
	CSV string `yaml:"csv,omitempty"`
}

// Step is one user interaction.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	// View names the view the action targets.
	View string `yaml:"view,omitempty"`

	// Param names the param set by set_param.
	Param string `yaml:"param,omitempty"`

	// Value is the menu value for select (null or absent selects "All")
	// or the new param value for set_param.
	Value any `yaml:"value,omitempty"`

	// Range holds [lo, hi] for set_range and brush.
	Range []any `yaml:"range,omitempty"`

	// Expect is evaluated once this step has settled.
	Expect []Assertion `yaml:"expect,omitempty"`
}

// Step action constants.
const (
	ActionSelect   = "select"    // menu: choose a value
	ActionSetRange = "set_range" // range: publish [lo, hi]
	ActionBrush    = "brush"     // histogram: brush [lo, hi]
	ActionClear    = "clear"     // menu, range or histogram: withdraw
	ActionSetParam = "set_param" // param: set value
	ActionRefresh  = "refresh"   // clear the cache and re-query everything
)

// Assertion checks what the views or the reactive containers hold.
type Assertion struct {
	// Type specifies the assertion type:
	// - "rows": the view holds exactly Count rows and no error
	// - "contains": some row of the view matches Where
	// - "not_contains": no row of the view matches Where
	// - "error": the view's last delivery failed, mentioning Message
	// - "deliveries": the view has received Count deliveries so far
	// - "param": the param holds Value
	// - "clauses": the selection holds Count active clauses
	Type string `yaml:"type"`

	View      string `yaml:"view,omitempty"`
	Param     string `yaml:"param,omitempty"`
	Selection string `yaml:"selection,omitempty"`

	// Count is the expected row, delivery or clause count.
	Count int `yaml:"count,omitempty"`

	// Where is a subset match against row objects (contains, not_contains).
	Where map[string]any `yaml:"where,omitempty"`

	// Value is the expected param value (param).
	Value any `yaml:"value,omitempty"`

	// Message is a substring of the expected error (error).
	Message string `yaml:"message,omitempty"`
}

// Assertion type constants.
const (
	AssertRows        = "rows"
	AssertContains    = "contains"
	AssertNotContains = "not_contains"
	AssertError       = "error"
	AssertDeliveries  = "deliveries"
	AssertParam       = "param"
	AssertClauses     = "clauses"
)

// LoadScenario reads and parses a scenario YAML file. Relative paths in
// the scenario resolve against the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML, resolving relative paths against
// baseDir.
func ParseScenario(data []byte, baseDir string) (*Scenario, error) {
	// Reject unknown fields so typos like "assertion:" fail loudly.
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	scenario.baseDir = baseDir

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// resolve returns path relative to the scenario's base directory.
func (s *Scenario) resolve(path string) string {
	if filepath.IsAbs(path) || s.baseDir == "" {
		return path
	}
	return filepath.Join(s.baseDir, path)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Dashboard == "" && s.Spec == "":
		return fmt.Errorf("one of dashboard or spec is required")
	case s.Dashboard != "" && s.Spec != "":
		return fmt.Errorf("dashboard and spec are mutually exclusive")
	case s.Dashboard != "":
		if _, err := os.Stat(s.resolve(s.Dashboard)); os.IsNotExist(err) {
			return fmt.Errorf("dashboard not found: %s", s.Dashboard)
		}
	}

	if len(s.Tables) == 0 {
		return fmt.Errorf("tables list is required and must be non-empty")
	}
	for i, t := range s.Tables {
		if t.Name == "" {
			return fmt.Errorf("tables[%d]: name is required", i)
		}
		if (t.File == "") == (t.CSV == "") {
			return fmt.Errorf("tables[%d]: exactly one of file or csv is required", i)
		}
		if t.File != "" {
			if _, err := os.Stat(s.resolve(t.File)); os.IsNotExist(err) {
				return fmt.Errorf("tables[%d]: file not found: %s", i, t.File)
			}
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
		for j, a := range step.Expect {
			if err := validateAssertion(fmt.Sprintf("steps[%d].expect[%d]", i, j), &a); err != nil {
				return err
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(fmt.Sprintf("assertions[%d]", i), &a); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, st *Step) error {
	switch st.Action {
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	case ActionSelect, ActionClear:
		if st.View == "" {
			return fmt.Errorf("steps[%d]: view is required for %s", index, st.Action)
		}
	case ActionSetRange, ActionBrush:
		if st.View == "" {
			return fmt.Errorf("steps[%d]: view is required for %s", index, st.Action)
		}
		if len(st.Range) != 2 {
			return fmt.Errorf("steps[%d]: range must be [lo, hi] for %s", index, st.Action)
		}
	case ActionSetParam:
		if st.Param == "" {
			return fmt.Errorf("steps[%d]: param is required for set_param", index)
		}
	case ActionRefresh:
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, st.Action)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(field string, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("%s: type is required", field)
	}

	switch a.Type {
	case AssertRows, AssertDeliveries:
		if a.View == "" {
			return fmt.Errorf("%s: view is required for %s", field, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("%s: count must be non-negative for %s", field, a.Type)
		}
	case AssertContains, AssertNotContains:
		if a.View == "" {
			return fmt.Errorf("%s: view is required for %s", field, a.Type)
		}
		if len(a.Where) == 0 {
			return fmt.Errorf("%s: where is required for %s", field, a.Type)
		}
	case AssertError:
		if a.View == "" {
			return fmt.Errorf("%s: view is required for error", field)
		}
	case AssertParam:
		if a.Param == "" {
			return fmt.Errorf("%s: param is required for param", field)
		}
	case AssertClauses:
		if a.Selection == "" {
			return fmt.Errorf("%s: selection is required for clauses", field)
		}
		if a.Count < 0 {
			return fmt.Errorf("%s: count must be non-negative for clauses", field)
		}
	default:
		return fmt.Errorf("%s: unknown assertion type %q", field, a.Type)
	}

	return nil
}
