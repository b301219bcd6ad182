package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ParamType classifies a declared Callable parameter.
type ParamType string

const (
	ParamTypeString  ParamType = "string"
	ParamTypeInt     ParamType = "int"
	ParamTypeFloat   ParamType = "float"
	ParamTypeBool    ParamType = "bool"
	ParamTypeModel   ParamType = "model"
	ParamTypeDataset ParamType = "dataset"
)

// ParseParamType maps free-form type values to canonical parameter types.
func ParseParamType(value string) (ParamType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(ParamTypeString), "str":
		return ParamTypeString, nil
	case string(ParamTypeInt):
		return ParamTypeInt, nil
	case string(ParamTypeFloat):
		return ParamTypeFloat, nil
	case string(ParamTypeBool):
		return ParamTypeBool, nil
	case string(ParamTypeModel):
		return ParamTypeModel, nil
	case string(ParamTypeDataset):
		return ParamTypeDataset, nil
	default:
		return "", fmt.Errorf("unknown parameter type %q", value)
	}
}

// IsArtifact reports whether values of this type reference stored content
// rather than inline scalars.
func (t ParamType) IsArtifact() bool {
	return t == ParamTypeModel || t == ParamTypeDataset
}

// Parameter is one declared argument of a Callable.
type Parameter struct {
	Name     string
	Type     ParamType
	Optional bool
	Default  string
}

func (p Parameter) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("parameter name is required")
	}
	if _, err := ParseParamType(string(p.Type)); err != nil {
		return err
	}
	return nil
}

// Callable is one immutable version of a named, parameterized test function.
type Callable struct {
	ID          string
	ProjectID   string
	Name        string
	DisplayName string
	Version     int
	Module      string
	Doc         string
	ModuleDoc   string
	CodeRef     string
	Tags        []string
	Params      []Parameter
	CreatedAt   time.Time
}

func (c Callable) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("callable id is required")
	}
	if strings.TrimSpace(c.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("callable name is required")
	}
	if c.Version < 1 {
		return errors.New("callable version must be >= 1")
	}
	if strings.TrimSpace(c.CodeRef) == "" {
		return errors.New("callable code ref is required")
	}
	seenTags := make(map[string]struct{}, len(c.Tags))
	for _, tag := range c.Tags {
		if strings.TrimSpace(tag) == "" {
			return errors.New("callable tags must be non-empty")
		}
		if _, ok := seenTags[tag]; ok {
			return fmt.Errorf("duplicate tag %q", tag)
		}
		seenTags[tag] = struct{}{}
	}
	seenParams := make(map[string]struct{}, len(c.Params))
	for _, param := range c.Params {
		if err := param.Validate(); err != nil {
			return err
		}
		if _, ok := seenParams[param.Name]; ok {
			return fmt.Errorf("duplicate parameter %q", param.Name)
		}
		seenParams[param.Name] = struct{}{}
	}
	return nil
}

// Param returns the declared parameter with the given name.
func (c Callable) Param(name string) (Parameter, bool) {
	for _, param := range c.Params {
		if param.Name == name {
			return param, true
		}
	}
	return Parameter{}, false
}

type callableContent struct {
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name,omitempty"`
	Module      string      `json:"module,omitempty"`
	Doc         string      `json:"doc,omitempty"`
	ModuleDoc   string      `json:"module_doc,omitempty"`
	CodeRef     string      `json:"code_ref"`
	Tags        []string    `json:"tags"`
	Params      []Parameter `json:"params"`
}

// Fingerprint hashes the version-defining content of a Callable. Two
// registrations with equal fingerprints are the same version.
func (c Callable) Fingerprint() string {
	content := callableContent{
		Name:        strings.TrimSpace(c.Name),
		DisplayName: strings.TrimSpace(c.DisplayName),
		Module:      strings.TrimSpace(c.Module),
		Doc:         c.Doc,
		ModuleDoc:   c.ModuleDoc,
		CodeRef:     strings.TrimSpace(c.CodeRef),
		Tags:        c.Tags,
		Params:      c.Params,
	}
	if content.Tags == nil {
		content.Tags = []string{}
	}
	if content.Params == nil {
		content.Params = []Parameter{}
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
