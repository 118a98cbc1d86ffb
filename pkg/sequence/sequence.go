// Package sequence loads calibration sequences from YAML and runs them
// against a calibrator.
package sequence

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/charlie0129/te5025/pkg/te5025"
)

// Quantity is a number that may be written with an SI prefix and unit in a
// sequence file, e.g. "200mV" or "10 kOhm".
type Quantity float64

func (q *Quantity) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a quantity", n.Line)
	}

	v, err := te5025.ParseQuantity(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*q = Quantity(v)

	return nil
}

// Sequence is a named list of steps.
type Sequence struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Steps       []Step `yaml:"steps"`
}

// Step performs exactly one action.
type Step struct {
	Name    string        `yaml:"name,omitempty"`
	Set     *SetStep      `yaml:"set,omitempty"`
	Enable  bool          `yaml:"enable,omitempty"`
	Disable bool          `yaml:"disable,omitempty"`
	Dwell   time.Duration `yaml:"dwell,omitempty"`
	Measure *MeasureStep  `yaml:"measure,omitempty"`
	Query   string        `yaml:"query,omitempty"`
}

// Action names.
const (
	ActionSet     = "set"
	ActionEnable  = "enable"
	ActionDisable = "disable"
	ActionDwell   = "dwell"
	ActionMeasure = "measure"
	ActionQuery   = "query"
)

func (s Step) actions() []string {
	var a []string
	if s.Set != nil {
		a = append(a, ActionSet)
	}
	if s.Enable {
		a = append(a, ActionEnable)
	}
	if s.Disable {
		a = append(a, ActionDisable)
	}
	if s.Dwell != 0 {
		a = append(a, ActionDwell)
	}
	if s.Measure != nil {
		a = append(a, ActionMeasure)
	}
	if s.Query != "" {
		a = append(a, ActionQuery)
	}
	return a
}

// Action returns the name of the step's action, or "" if the step does not
// have exactly one.
func (s Step) Action() string {
	a := s.actions()
	if len(a) != 1 {
		return ""
	}
	return a[0]
}

func (s Step) String() string {
	if s.Name != "" {
		return s.Name
	}

	switch s.Action() {
	case ActionSet:
		if setting, err := s.Set.Setting(); err == nil {
			return "set " + setting.String()
		}
		return "set " + string(s.Set.Function)
	case ActionDwell:
		return "dwell " + s.Dwell.String()
	case ActionMeasure:
		return "measure " + s.Measure.Query
	case ActionQuery:
		return "query " + s.Query
	default:
		return s.Action()
	}
}

// SetStep programs an output. Its fields mirror te5025.SettingSpec.
type SetStep struct {
	Function     te5025.Function `yaml:"function"`
	Range        Quantity        `yaml:"range,omitempty"`
	Value        Quantity        `yaml:"value,omitempty"`
	Frequency    Quantity        `yaml:"frequency,omitempty"`
	Current      Quantity        `yaml:"current,omitempty"`
	CurrentRange Quantity        `yaml:"currentRange,omitempty"`
	Phase        Quantity        `yaml:"phase,omitempty"`
	Scale        string          `yaml:"scale,omitempty"`
	Type         string          `yaml:"type,omitempty"`
}

func (s SetStep) Spec() te5025.SettingSpec {
	return te5025.SettingSpec{
		Function:     s.Function,
		Range:        float64(s.Range),
		Value:        float64(s.Value),
		Frequency:    float64(s.Frequency),
		Current:      float64(s.Current),
		CurrentRange: float64(s.CurrentRange),
		Phase:        float64(s.Phase),
		Scale:        s.Scale,
		Type:         s.Type,
	}
}

func (s SetStep) Setting() (te5025.OutputSetting, error) {
	return s.Spec().Setting()
}

// MeasureStep reads a numeric query and compares it with Expect when set.
// Tolerance is absolute; zero means 100 ppm of Expect.
type MeasureStep struct {
	Query     string    `yaml:"query"`
	Expect    *Quantity `yaml:"expect,omitempty"`
	Tolerance Quantity  `yaml:"tolerance,omitempty"`
}

func (m MeasureStep) tolerance() float64 {
	if m.Tolerance > 0 {
		return float64(m.Tolerance)
	}
	if m.Expect == nil {
		return 0
	}
	return 1e-4 * abs(float64(*m.Expect))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// LoadError reports a sequence that could not be read or is invalid.
type LoadError struct {
	File    string
	Step    int // 1-based, 0 when the error is not about a step
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(": ")
	}
	if e.Step > 0 {
		fmt.Fprintf(&b, "step %d: ", e.Step)
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error { return e.Cause }

// Parse decodes and validates a sequence. Unknown keys are rejected.
func Parse(data []byte) (*Sequence, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var seq Sequence
	if err := dec.Decode(&seq); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}

	if err := seq.Validate(); err != nil {
		return nil, err
	}

	return &seq, nil
}

// Load reads a sequence file.
func Load(path string) (*Sequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}

	seq, err := Parse(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{File: path, Message: err.Error()}
	}

	if seq.Name == "" {
		base := filepath.Base(path)
		seq.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	return seq, nil
}

// Validate checks every step without touching an instrument. Settings are
// checked against the calibrator limits so a sequence never fails halfway on
// a typo.
func (s *Sequence) Validate() error {
	if len(s.Steps) == 0 {
		return &LoadError{Message: "sequence must have at least one step"}
	}

	for i, step := range s.Steps {
		if err := step.validate(); err != nil {
			return &LoadError{Step: i + 1, Message: err.Error()}
		}
	}

	return nil
}

func (s Step) validate() error {
	actions := s.actions()
	switch len(actions) {
	case 0:
		return fmt.Errorf("no action, use one of set, enable, disable, dwell, measure or query")
	case 1:
	default:
		return fmt.Errorf("more than one action: %s", strings.Join(actions, ", "))
	}

	switch actions[0] {
	case ActionSet:
		setting, err := s.Set.Setting()
		if err != nil {
			return err
		}
		return setting.Validate()
	case ActionDwell:
		if s.Dwell < 0 {
			return fmt.Errorf("negative dwell %s", s.Dwell)
		}
	case ActionMeasure:
		q, ok := te5025.LookupQuery(s.Measure.Query)
		if !ok {
			return fmt.Errorf("unknown query %q", s.Measure.Query)
		}
		if q.Kind() != te5025.KindNumber && q.Kind() != te5025.KindPair {
			return fmt.Errorf("query %q does not return a number", s.Measure.Query)
		}
		if s.Measure.Tolerance < 0 {
			return fmt.Errorf("negative tolerance")
		}
	case ActionQuery:
		if _, ok := te5025.LookupQuery(s.Query); !ok {
			return fmt.Errorf("unknown query %q", s.Query)
		}
	}

	return nil
}
