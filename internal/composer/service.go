// Package composer builds and updates test suites. All validation rules
// run before anything is persisted: a spec either becomes a complete suite
// or nothing is written.
package composer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verdict-ml/verdict-go/internal/domain"
	"github.com/verdict-ml/verdict-go/internal/repo"
)

// ReferenceChecker answers whether a model or dataset reference is visible
// within a project. Models and datasets live with external collaborators;
// the composer only needs membership.
type ReferenceChecker interface {
	ModelInProject(ctx context.Context, projectID, modelID string) (bool, error)
	DatasetInProject(ctx context.Context, projectID, datasetID string) (bool, error)
}

// TestSpec describes one requested suite test binding.
type TestSpec struct {
	ID              string
	CallableName    string
	CallableVersion int
	Inputs          map[string]domain.InputSpec
}

// SuiteSpec describes a requested suite. An empty ID creates a suite; a
// set ID replaces the named suite's mutable fields.
type SuiteSpec struct {
	ID                    string
	Name                  string
	DefaultModelID        string
	DefaultTrainDatasetID string
	DefaultTestDatasetID  string
	Revision              int64
	Tests                 []TestSpec
}

type Service struct {
	suites    repo.SuiteRepository
	callables repo.CallableRepository
	refs      ReferenceChecker
	now       func() time.Time
}

func New(suites repo.SuiteRepository, callables repo.CallableRepository, refs ReferenceChecker) *Service {
	if suites == nil || callables == nil || refs == nil {
		return nil
	}
	return &Service{
		suites:    suites,
		callables: callables,
		refs:      refs,
		now:       time.Now,
	}
}

// CreateOrUpdate validates a suite spec and persists it. Updates replace
// the suite's name, defaults, and bindings wholesale; a stale revision
// fails with repo.ErrConflict. Re-applying an identical spec returns the
// stored suite untouched.
func (s *Service) CreateOrUpdate(ctx context.Context, projectID string, spec SuiteSpec) (domain.TestSuite, error) {
	if s == nil || s.suites == nil {
		return domain.TestSuite{}, errors.New("composer not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.TestSuite{}, errors.New("project id is required")
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return domain.TestSuite{}, errors.New("suite name is required")
	}

	tests, err := s.buildTests(ctx, projectID, spec.Tests)
	if err != nil {
		return domain.TestSuite{}, err
	}
	if err := s.checkDefaults(ctx, projectID, spec); err != nil {
		return domain.TestSuite{}, err
	}

	now := s.now().UTC()
	suite := domain.TestSuite{
		ID:                    strings.TrimSpace(spec.ID),
		ProjectID:             projectID,
		Name:                  name,
		DefaultModelID:        strings.TrimSpace(spec.DefaultModelID),
		DefaultTrainDatasetID: strings.TrimSpace(spec.DefaultTrainDatasetID),
		DefaultTestDatasetID:  strings.TrimSpace(spec.DefaultTestDatasetID),
		Revision:              1,
		Tests:                 tests,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if suite.ID == "" {
		suite.ID = uuid.NewString()
		if err := suite.Validate(); err != nil {
			return domain.TestSuite{}, err
		}
		if err := s.suites.CreateSuite(ctx, suite); err != nil {
			return domain.TestSuite{}, err
		}
		return suite, nil
	}

	existing, err := s.suites.GetSuite(ctx, projectID, suite.ID)
	if err != nil {
		return domain.TestSuite{}, err
	}
	if existing.SameDefinition(suite) {
		return existing, nil
	}

	expected := spec.Revision
	if expected == 0 {
		expected = existing.Revision
	}
	suite.Revision = expected + 1
	suite.CreatedAt = existing.CreatedAt
	if err := suite.Validate(); err != nil {
		return domain.TestSuite{}, err
	}
	return s.suites.ReplaceSuite(ctx, suite, expected)
}

// UpdateTestInputs replaces exactly one binding's override mapping,
// re-validated against the bound callable's declared parameters.
func (s *Service) UpdateTestInputs(ctx context.Context, projectID, suiteID, testID string, inputs map[string]domain.InputSpec) (domain.TestSuite, error) {
	if s == nil || s.suites == nil {
		return domain.TestSuite{}, errors.New("composer not initialized")
	}
	suite, err := s.suites.GetSuite(ctx, strings.TrimSpace(projectID), strings.TrimSpace(suiteID))
	if err != nil {
		return domain.TestSuite{}, err
	}
	test, ok := suite.Test(strings.TrimSpace(testID))
	if !ok {
		return domain.TestSuite{}, repo.ErrNotFound
	}
	callable, err := s.callables.GetByID(ctx, suite.ProjectID, test.CallableID)
	if err != nil {
		return domain.TestSuite{}, err
	}
	if err := s.checkInputs(ctx, suite.ProjectID, callable, inputs); err != nil {
		return domain.TestSuite{}, err
	}

	for i := range suite.Tests {
		if suite.Tests[i].ID == test.ID {
			suite.Tests[i].Inputs = inputs
		}
	}
	expected := suite.Revision
	suite.Revision = expected + 1
	suite.UpdatedAt = s.now().UTC()
	return s.suites.ReplaceSuite(ctx, suite, expected)
}

// MetaPatch carries a targeted suite metadata update. Nil fields are left
// unchanged.
type MetaPatch struct {
	Name                  *string
	DefaultModelID        *string
	DefaultTrainDatasetID *string
	DefaultTestDatasetID  *string
}

// UpdateMeta changes a suite's name and default references without touching
// its bindings.
func (s *Service) UpdateMeta(ctx context.Context, projectID, suiteID string, patch MetaPatch) (domain.TestSuite, error) {
	if s == nil || s.suites == nil {
		return domain.TestSuite{}, errors.New("composer not initialized")
	}
	suite, err := s.suites.GetSuite(ctx, strings.TrimSpace(projectID), strings.TrimSpace(suiteID))
	if err != nil {
		return domain.TestSuite{}, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return domain.TestSuite{}, errors.New("suite name is required")
		}
		suite.Name = name
	}
	if patch.DefaultModelID != nil {
		suite.DefaultModelID = strings.TrimSpace(*patch.DefaultModelID)
	}
	if patch.DefaultTrainDatasetID != nil {
		suite.DefaultTrainDatasetID = strings.TrimSpace(*patch.DefaultTrainDatasetID)
	}
	if patch.DefaultTestDatasetID != nil {
		suite.DefaultTestDatasetID = strings.TrimSpace(*patch.DefaultTestDatasetID)
	}
	if err := s.checkDefaults(ctx, suite.ProjectID, SuiteSpec{
		DefaultModelID:        suite.DefaultModelID,
		DefaultTrainDatasetID: suite.DefaultTrainDatasetID,
		DefaultTestDatasetID:  suite.DefaultTestDatasetID,
	}); err != nil {
		return domain.TestSuite{}, err
	}

	expected := suite.Revision
	suite.Revision = expected + 1
	suite.UpdatedAt = s.now().UTC()
	return s.suites.ReplaceSuite(ctx, suite, expected)
}

func (s *Service) buildTests(ctx context.Context, projectID string, specs []TestSpec) ([]domain.SuiteTest, error) {
	tests := make([]domain.SuiteTest, 0, len(specs))
	for _, spec := range specs {
		name := strings.TrimSpace(spec.CallableName)
		if name == "" {
			return nil, errors.New("callable name is required")
		}

		var callable domain.Callable
		var err error
		if spec.CallableVersion > 0 {
			callable, err = s.callables.GetByNameVersion(ctx, projectID, name, spec.CallableVersion)
		} else {
			callable, err = s.callables.GetLatest(ctx, projectID, name)
		}
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, &UnknownCallableError{Name: name, Version: spec.CallableVersion}
			}
			return nil, err
		}

		if err := s.checkInputs(ctx, projectID, callable, spec.Inputs); err != nil {
			return nil, err
		}

		testID := strings.TrimSpace(spec.ID)
		if testID == "" {
			testID = uuid.NewString()
		}
		tests = append(tests, domain.SuiteTest{
			ID:              testID,
			CallableID:      callable.ID,
			CallableName:    callable.Name,
			CallableVersion: callable.Version,
			Inputs:          spec.Inputs,
		})
	}
	return tests, nil
}

func (s *Service) checkInputs(ctx context.Context, projectID string, callable domain.Callable, inputs map[string]domain.InputSpec) error {
	for name, input := range inputs {
		if _, ok := callable.Param(name); !ok {
			return &UnknownParameterError{Callable: callable.Name, Parameter: name}
		}
		if err := input.Validate(); err != nil {
			return err
		}
		switch input.Kind {
		case domain.InputKindModel:
			ok, err := s.refs.ModelInProject(ctx, projectID, input.Value)
			if err != nil {
				return err
			}
			if !ok {
				return &CrossProjectReferenceError{Kind: "model", Ref: input.Value}
			}
		case domain.InputKindDataset:
			ok, err := s.refs.DatasetInProject(ctx, projectID, input.Value)
			if err != nil {
				return err
			}
			if !ok {
				return &CrossProjectReferenceError{Kind: "dataset", Ref: input.Value}
			}
		}
	}
	return nil
}

func (s *Service) checkDefaults(ctx context.Context, projectID string, spec SuiteSpec) error {
	if ref := strings.TrimSpace(spec.DefaultModelID); ref != "" {
		ok, err := s.refs.ModelInProject(ctx, projectID, ref)
		if err != nil {
			return err
		}
		if !ok {
			return &CrossProjectReferenceError{Kind: "model", Ref: ref}
		}
	}
	for _, ref := range []string{spec.DefaultTrainDatasetID, spec.DefaultTestDatasetID} {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		ok, err := s.refs.DatasetInProject(ctx, projectID, ref)
		if err != nil {
			return err
		}
		if !ok {
			return &CrossProjectReferenceError{Kind: "dataset", Ref: ref}
		}
	}
	return nil
}
