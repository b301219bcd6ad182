package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// InputKind tags how a SuiteTest input override is interpreted.
type InputKind string

const (
	InputKindLiteral    InputKind = "literal"
	InputKindModel      InputKind = "model"
	InputKindDataset    InputKind = "dataset"
	InputKindSuiteInput InputKind = "suite_input"
)

// ParseInputKind maps free-form kind values to canonical input kinds.
func ParseInputKind(value string) (InputKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(InputKindLiteral), "":
		return InputKindLiteral, nil
	case string(InputKindModel):
		return InputKindModel, nil
	case string(InputKindDataset):
		return InputKindDataset, nil
	case string(InputKindSuiteInput), "alias":
		return InputKindSuiteInput, nil
	default:
		return "", fmt.Errorf("unknown input kind %q", value)
	}
}

// InputSpec is one per-test input override: a literal value, a reference to
// a model or dataset, or an alias to a suite-level runtime input name.
type InputSpec struct {
	Kind  InputKind
	Value string
}

func (s InputSpec) Validate() error {
	if _, err := ParseInputKind(string(s.Kind)); err != nil {
		return err
	}
	if strings.TrimSpace(s.Value) == "" {
		return errors.New("input value is required")
	}
	return nil
}

// SuiteTest binds a suite to one Callable version with input overrides.
type SuiteTest struct {
	ID              string
	CallableID      string
	CallableName    string
	CallableVersion int
	Inputs          map[string]InputSpec
}

func (t SuiteTest) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("suite test id is required")
	}
	if strings.TrimSpace(t.CallableID) == "" {
		return errors.New("callable id is required")
	}
	if t.CallableVersion < 1 {
		return errors.New("callable version must be >= 1")
	}
	for name, input := range t.Inputs {
		if strings.TrimSpace(name) == "" {
			return errors.New("input names must be non-empty")
		}
		if err := input.Validate(); err != nil {
			return fmt.Errorf("input %q: %w", name, err)
		}
	}
	return nil
}

// CloneInputs returns an independent copy of the override mapping.
func (t SuiteTest) CloneInputs() map[string]InputSpec {
	if t.Inputs == nil {
		return map[string]InputSpec{}
	}
	out := make(map[string]InputSpec, len(t.Inputs))
	for k, v := range t.Inputs {
		out[k] = v
	}
	return out
}

// TestSuite is an ordered, project-scoped collection of test bindings.
type TestSuite struct {
	ID                    string
	ProjectID             string
	Name                  string
	DefaultModelID        string
	DefaultTrainDatasetID string
	DefaultTestDatasetID  string
	Revision              int64
	Tests                 []SuiteTest
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (s TestSuite) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("suite id is required")
	}
	if strings.TrimSpace(s.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("suite name is required")
	}
	if s.Revision < 1 {
		return errors.New("suite revision must be >= 1")
	}
	seen := make(map[string]struct{}, len(s.Tests))
	for _, test := range s.Tests {
		if err := test.Validate(); err != nil {
			return err
		}
		if _, ok := seen[test.ID]; ok {
			return fmt.Errorf("duplicate suite test id %q", test.ID)
		}
		seen[test.ID] = struct{}{}
	}
	return nil
}

// Test returns the binding with the given id.
func (s TestSuite) Test(testID string) (SuiteTest, bool) {
	for _, test := range s.Tests {
		if test.ID == testID {
			return test, true
		}
	}
	return SuiteTest{}, false
}

// SameDefinition reports whether two suites have identical mutable content
// (name, defaults, and bindings), ignoring revision and timestamps.
func (s TestSuite) SameDefinition(other TestSuite) bool {
	if s.Name != other.Name ||
		s.DefaultModelID != other.DefaultModelID ||
		s.DefaultTrainDatasetID != other.DefaultTrainDatasetID ||
		s.DefaultTestDatasetID != other.DefaultTestDatasetID {
		return false
	}
	if len(s.Tests) != len(other.Tests) {
		return false
	}
	for i, test := range s.Tests {
		otherTest := other.Tests[i]
		if test.CallableID != otherTest.CallableID {
			return false
		}
		if len(test.Inputs) != len(otherTest.Inputs) {
			return false
		}
		for name, input := range test.Inputs {
			if otherTest.Inputs[name] != input {
				return false
			}
		}
	}
	return true
}
