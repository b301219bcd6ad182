// Package resolve merges the layered input sources of a suite test into a
// concrete argument set. Resolution is pure: it never mutates suite or
// callable state, so the same inputs always produce the same arguments.
package resolve

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/verdict-ml/verdict-go/internal/domain"
)

// Source identifies the layer an argument value came from.
type Source string

const (
	SourceRuntime         Source = "runtime"
	SourceOverride        Source = "override"
	SourceSuiteDefault    Source = "suite_default"
	SourceCallableDefault Source = "callable_default"
)

// Arg is one resolved argument with its provenance.
type Arg struct {
	Value  string
	Source Source
}

// Args maps parameter names to resolved values.
type Args map[string]Arg

// Values flattens resolved arguments to the plain value map recorded on an
// execution result.
func (a Args) Values() map[string]string {
	out := make(map[string]string, len(a))
	for name, arg := range a {
		out[name] = arg.Value
	}
	return out
}

// Test resolves the concrete argument set for one suite test. Precedence,
// highest first: runtime inputs, the test's own overrides, suite-level
// model/dataset defaults, the callable's declared defaults.
func Test(suite domain.TestSuite, test domain.SuiteTest, callable domain.Callable, runtime map[string]string) (Args, error) {
	args := make(Args, len(callable.Params))
	var missing []string

	for _, param := range callable.Params {
		if value, ok := runtime[param.Name]; ok {
			if err := checkLiteral(param, value); err != nil {
				return nil, err
			}
			args[param.Name] = Arg{Value: value, Source: SourceRuntime}
			continue
		}

		if spec, ok := test.Inputs[param.Name]; ok {
			value, bound, err := applyOverride(param, spec, runtime)
			if err != nil {
				return nil, err
			}
			if bound {
				args[param.Name] = Arg{Value: value, Source: SourceOverride}
				continue
			}
		}

		if value := suiteDefault(suite, param); value != "" {
			args[param.Name] = Arg{Value: value, Source: SourceSuiteDefault}
			continue
		}

		if param.Default != "" {
			args[param.Name] = Arg{Value: param.Default, Source: SourceCallableDefault}
			continue
		}
		if param.Optional {
			continue
		}
		missing = append(missing, param.Name)
	}

	if len(missing) > 0 {
		return nil, &MissingInputError{Parameters: missing}
	}
	return args, nil
}

// applyOverride evaluates one InputSpec against its declared parameter. A
// suite_input alias left unsupplied at runtime reports bound=false so lower
// layers still apply.
func applyOverride(param domain.Parameter, spec domain.InputSpec, runtime map[string]string) (string, bool, error) {
	switch spec.Kind {
	case domain.InputKindLiteral, "":
		if param.Type.IsArtifact() {
			return "", false, &TypeMismatchError{
				Parameter: param.Name,
				Declared:  string(param.Type),
				Supplied:  "literal",
			}
		}
		if err := checkLiteral(param, spec.Value); err != nil {
			return "", false, err
		}
		return spec.Value, true, nil
	case domain.InputKindModel:
		if param.Type != domain.ParamTypeModel {
			return "", false, &TypeMismatchError{
				Parameter: param.Name,
				Declared:  string(param.Type),
				Supplied:  "model reference",
			}
		}
		return spec.Value, true, nil
	case domain.InputKindDataset:
		if param.Type != domain.ParamTypeDataset {
			return "", false, &TypeMismatchError{
				Parameter: param.Name,
				Declared:  string(param.Type),
				Supplied:  "dataset reference",
			}
		}
		return spec.Value, true, nil
	case domain.InputKindSuiteInput:
		alias := strings.TrimSpace(spec.Value)
		if value, ok := runtime[alias]; ok {
			if err := checkLiteral(param, value); err != nil {
				return "", false, err
			}
			return value, true, nil
		}
		return "", false, nil
	default:
		return "", false, &TypeMismatchError{
			Parameter: param.Name,
			Declared:  string(param.Type),
			Supplied:  string(spec.Kind),
		}
	}
}

// suiteDefault maps the suite-level default references onto model and
// dataset typed parameters. Dataset parameters whose name mentions training
// take the train dataset default; all other dataset parameters take the
// test dataset default.
func suiteDefault(suite domain.TestSuite, param domain.Parameter) string {
	switch param.Type {
	case domain.ParamTypeModel:
		return suite.DefaultModelID
	case domain.ParamTypeDataset:
		if strings.Contains(strings.ToLower(param.Name), "train") {
			return suite.DefaultTrainDatasetID
		}
		return suite.DefaultTestDatasetID
	default:
		return ""
	}
}

// checkLiteral verifies that a string value satisfies the declared scalar
// type. Artifact-typed parameters accept any non-empty reference id.
func checkLiteral(param domain.Parameter, value string) error {
	mismatch := func() error {
		return &TypeMismatchError{
			Parameter: param.Name,
			Declared:  string(param.Type),
			Supplied:  strconv.Quote(value),
		}
	}
	switch param.Type {
	case domain.ParamTypeInt:
		if _, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err != nil {
			return mismatch()
		}
	case domain.ParamTypeFloat:
		if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err != nil {
			return mismatch()
		}
	case domain.ParamTypeBool:
		if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
			return mismatch()
		}
	case domain.ParamTypeModel, domain.ParamTypeDataset, domain.ParamTypeString:
		if strings.TrimSpace(value) == "" {
			return mismatch()
		}
	}
	return nil
}

// RequiredInput names one parameter still unbound somewhere in a suite when
// no runtime inputs are supplied.
type RequiredInput struct {
	Name     string
	Type     domain.ParamType
	TestIDs  []string
	Distinct bool
}

// CallableLookup resolves the callable bound by a suite test.
type CallableLookup func(test domain.SuiteTest) (domain.Callable, bool)

// SuiteInputs computes, without executing anything, the names of parameters
// that remain unresolved across all tests of a suite. The same name across
// multiple tests is reported once; Distinct marks names whose declared type
// differs between tests. A parameter bound to a shared-input alias is
// reported under its declared parameter name, not the alias: runtime inputs
// match parameter names first, so supplying the declared name satisfies it.
func SuiteInputs(suite domain.TestSuite, lookup CallableLookup) []RequiredInput {
	byName := map[string]*RequiredInput{}
	for _, test := range suite.Tests {
		callable, ok := lookup(test)
		if !ok {
			continue
		}
		_, err := Test(suite, test, callable, nil)
		var missing *MissingInputError
		if !errors.As(err, &missing) {
			continue
		}
		for _, name := range missing.Parameters {
			param, _ := callable.Param(name)
			entry, ok := byName[name]
			if !ok {
				byName[name] = &RequiredInput{Name: name, Type: param.Type, TestIDs: []string{test.ID}}
				continue
			}
			entry.TestIDs = append(entry.TestIDs, test.ID)
			if entry.Type != param.Type {
				entry.Distinct = true
			}
		}
	}

	out := make([]RequiredInput, 0, len(byName))
	for _, entry := range byName {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
