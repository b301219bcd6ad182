// Package suitespec parses declarative suite documents. Documents are
// written in YAML or JSON, checked against an embedded JSON Schema, and
// converted to composer requests. The document format is the import/export
// surface for suites; the HTTP API accepts the same shape.
package suitespec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/verdict-ml/verdict-go/internal/composer"
	"github.com/verdict-ml/verdict-go/internal/domain"

	_ "embed"
)

const SchemaV1 = "verdict.suite.v1"

//go:embed schema.json
var schemaJSON []byte

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("suitespec: add schema resource: %v", err))
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		panic(fmt.Sprintf("suitespec: compile schema: %v", err))
	}
	return schema
}

// Document is one declarative suite definition.
type Document struct {
	Schema   string     `json:"schema" yaml:"schema"`
	ID       string     `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string     `json:"name" yaml:"name"`
	Revision int64      `json:"revision,omitempty" yaml:"revision,omitempty"`
	Defaults Defaults   `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	Tests    []TestItem `json:"tests,omitempty" yaml:"tests,omitempty"`
}

type Defaults struct {
	Model        string `json:"model,omitempty" yaml:"model,omitempty"`
	TrainDataset string `json:"train_dataset,omitempty" yaml:"train_dataset,omitempty"`
	TestDataset  string `json:"test_dataset,omitempty" yaml:"test_dataset,omitempty"`
}

type TestItem struct {
	ID       string           `json:"id,omitempty" yaml:"id,omitempty"`
	Callable string           `json:"callable" yaml:"callable"`
	Version  int              `json:"version,omitempty" yaml:"version,omitempty"`
	Inputs   map[string]Input `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

type Input struct {
	Kind  string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Value string `json:"value" yaml:"value"`
}

// Parse decodes a YAML or JSON document and validates it against the
// embedded schema. A YAML parse also covers JSON input.
func Parse(input []byte) (Document, error) {
	var raw any
	if err := yaml.Unmarshal(input, &raw); err != nil {
		return Document{}, fmt.Errorf("decode suite document: %w", err)
	}
	normalized, err := normalizeForSchema(raw)
	if err != nil {
		return Document{}, err
	}
	if err := compiledSchema.Validate(normalized); err != nil {
		return Document{}, fmt.Errorf("suite document invalid: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(input, &doc); err != nil {
		return Document{}, fmt.Errorf("decode suite document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// normalizeForSchema reshapes YAML-decoded values into the JSON value space
// the schema validator expects.
func normalizeForSchema(raw any) (any, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize suite document: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.UseNumber()
	var normalized any
	if err := decoder.Decode(&normalized); err != nil {
		return nil, fmt.Errorf("normalize suite document: %w", err)
	}
	return normalized, nil
}

// Validate applies the semantic checks the schema cannot express.
func (d Document) Validate() error {
	if strings.TrimSpace(d.Schema) != SchemaV1 {
		return fmt.Errorf("document schema must be %q", SchemaV1)
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("document name is required")
	}
	seen := make(map[string]struct{}, len(d.Tests))
	for i, test := range d.Tests {
		if strings.TrimSpace(test.Callable) == "" {
			return fmt.Errorf("tests[%d].callable is required", i)
		}
		if test.Version < 0 {
			return fmt.Errorf("tests[%d].version must be positive", i)
		}
		id := strings.TrimSpace(test.ID)
		if id != "" {
			if _, dup := seen[id]; dup {
				return fmt.Errorf("tests[%d].id must be unique (duplicate %q)", i, id)
			}
			seen[id] = struct{}{}
		}
		for name, input := range test.Inputs {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("tests[%d] has an unnamed input", i)
			}
			if _, err := domain.ParseInputKind(input.Kind); err != nil {
				return fmt.Errorf("tests[%d].inputs[%s]: %w", i, name, err)
			}
			if strings.TrimSpace(input.Value) == "" {
				return fmt.Errorf("tests[%d].inputs[%s].value is required", i, name)
			}
		}
	}
	return nil
}

// ToSuiteSpec converts the document to a composer request.
func (d Document) ToSuiteSpec() (composer.SuiteSpec, error) {
	if err := d.Validate(); err != nil {
		return composer.SuiteSpec{}, err
	}
	spec := composer.SuiteSpec{
		ID:                    strings.TrimSpace(d.ID),
		Name:                  strings.TrimSpace(d.Name),
		DefaultModelID:        strings.TrimSpace(d.Defaults.Model),
		DefaultTrainDatasetID: strings.TrimSpace(d.Defaults.TrainDataset),
		DefaultTestDatasetID:  strings.TrimSpace(d.Defaults.TestDataset),
		Revision:              d.Revision,
		Tests:                 make([]composer.TestSpec, 0, len(d.Tests)),
	}
	for _, test := range d.Tests {
		testSpec := composer.TestSpec{
			ID:              strings.TrimSpace(test.ID),
			CallableName:    strings.TrimSpace(test.Callable),
			CallableVersion: test.Version,
		}
		if len(test.Inputs) > 0 {
			testSpec.Inputs = make(map[string]domain.InputSpec, len(test.Inputs))
			for name, input := range test.Inputs {
				kind, err := domain.ParseInputKind(input.Kind)
				if err != nil {
					return composer.SuiteSpec{}, err
				}
				testSpec.Inputs[strings.TrimSpace(name)] = domain.InputSpec{
					Kind:  kind,
					Value: strings.TrimSpace(input.Value),
				}
			}
		}
		spec.Tests = append(spec.Tests, testSpec)
	}
	return spec, nil
}

// FromSuite renders a stored suite back into the document format, used by
// the export endpoint.
func FromSuite(suite domain.TestSuite) Document {
	doc := Document{
		Schema:   SchemaV1,
		ID:       suite.ID,
		Name:     suite.Name,
		Revision: suite.Revision,
		Defaults: Defaults{
			Model:        suite.DefaultModelID,
			TrainDataset: suite.DefaultTrainDatasetID,
			TestDataset:  suite.DefaultTestDatasetID,
		},
		Tests: make([]TestItem, 0, len(suite.Tests)),
	}
	for _, test := range suite.Tests {
		item := TestItem{
			ID:       test.ID,
			Callable: test.CallableName,
			Version:  test.CallableVersion,
		}
		if len(test.Inputs) > 0 {
			item.Inputs = make(map[string]Input, len(test.Inputs))
			for name, input := range test.Inputs {
				item.Inputs[name] = Input{Kind: string(input.Kind), Value: input.Value}
			}
		}
		doc.Tests = append(doc.Tests, item)
	}
	return doc
}

// Marshal renders a document as YAML.
func Marshal(doc Document) ([]byte, error) {
	return yaml.Marshal(doc)
}
