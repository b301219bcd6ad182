package composer

import (
	"context"
	"errors"
	"testing"

	"github.com/verdict-ml/verdict-go/internal/domain"
	"github.com/verdict-ml/verdict-go/internal/repo"
)

type fakeSuiteRepo struct {
	suites map[string]domain.TestSuite
}

func newFakeSuiteRepo() *fakeSuiteRepo {
	return &fakeSuiteRepo{suites: map[string]domain.TestSuite{}}
}

func (f *fakeSuiteRepo) CreateSuite(ctx context.Context, suite domain.TestSuite) error {
	if _, ok := f.suites[suite.ID]; ok {
		return repo.ErrConflict
	}
	f.suites[suite.ID] = suite
	return nil
}

func (f *fakeSuiteRepo) GetSuite(ctx context.Context, projectID, id string) (domain.TestSuite, error) {
	suite, ok := f.suites[id]
	if !ok || suite.ProjectID != projectID {
		return domain.TestSuite{}, repo.ErrNotFound
	}
	return suite, nil
}

func (f *fakeSuiteRepo) ListSuites(ctx context.Context, projectID string, limit int) ([]domain.TestSuite, error) {
	var out []domain.TestSuite
	for _, suite := range f.suites {
		if suite.ProjectID == projectID {
			out = append(out, suite)
		}
	}
	return out, nil
}

func (f *fakeSuiteRepo) ReplaceSuite(ctx context.Context, suite domain.TestSuite, expectedRevision int64) (domain.TestSuite, error) {
	current, ok := f.suites[suite.ID]
	if !ok {
		return domain.TestSuite{}, repo.ErrNotFound
	}
	if current.Revision != expectedRevision {
		return domain.TestSuite{}, repo.ErrConflict
	}
	f.suites[suite.ID] = suite
	return suite, nil
}

func (f *fakeSuiteRepo) DeleteSuite(ctx context.Context, projectID, id string) error {
	delete(f.suites, id)
	return nil
}

type fakeCallables struct {
	records []domain.Callable
}

func (f *fakeCallables) Create(ctx context.Context, callable domain.Callable) error {
	f.records = append(f.records, callable)
	return nil
}

func (f *fakeCallables) GetByID(ctx context.Context, projectID, id string) (domain.Callable, error) {
	for _, c := range f.records {
		if c.ProjectID == projectID && c.ID == id {
			return c, nil
		}
	}
	return domain.Callable{}, repo.ErrNotFound
}

func (f *fakeCallables) GetByNameVersion(ctx context.Context, projectID, name string, version int) (domain.Callable, error) {
	for _, c := range f.records {
		if c.ProjectID == projectID && c.Name == name && c.Version == version {
			return c, nil
		}
	}
	return domain.Callable{}, repo.ErrNotFound
}

func (f *fakeCallables) GetLatest(ctx context.Context, projectID, name string) (domain.Callable, error) {
	var latest domain.Callable
	for _, c := range f.records {
		if c.ProjectID == projectID && c.Name == name && c.Version > latest.Version {
			latest = c
		}
	}
	if latest.ID == "" {
		return domain.Callable{}, repo.ErrNotFound
	}
	return latest, nil
}

func (f *fakeCallables) List(ctx context.Context, filter repo.CallableFilter) ([]domain.Callable, error) {
	return f.records, nil
}

func (f *fakeCallables) Delete(ctx context.Context, projectID, id string) error {
	return nil
}

type fakeRefs struct {
	models   map[string]string
	datasets map[string]string
}

func (f *fakeRefs) ModelInProject(ctx context.Context, projectID, modelID string) (bool, error) {
	return f.models[modelID] == projectID, nil
}

func (f *fakeRefs) DatasetInProject(ctx context.Context, projectID, datasetID string) (bool, error) {
	return f.datasets[datasetID] == projectID, nil
}

func testFixture() (*Service, *fakeSuiteRepo, *fakeCallables) {
	suites := newFakeSuiteRepo()
	callables := &fakeCallables{records: []domain.Callable{
		{
			ID:        "cal-1",
			ProjectID: "proj-1",
			Name:      "drift_check",
			Version:   1,
			CodeRef:   "code-1",
			Params: []domain.Parameter{
				{Name: "threshold", Type: domain.ParamTypeFloat, Default: "0.5"},
				{Name: "train_data", Type: domain.ParamTypeDataset},
			},
		},
		{
			ID:        "cal-2",
			ProjectID: "proj-1",
			Name:      "drift_check",
			Version:   2,
			CodeRef:   "code-2",
			Params: []domain.Parameter{
				{Name: "threshold", Type: domain.ParamTypeFloat, Default: "0.5"},
				{Name: "train_data", Type: domain.ParamTypeDataset},
			},
		},
	}}
	refs := &fakeRefs{
		models:   map[string]string{"model-1": "proj-1", "model-other": "proj-2"},
		datasets: map[string]string{"ds-1": "proj-1", "ds-other": "proj-2"},
	}
	return New(suites, callables, refs), suites, callables
}

func validSpec() SuiteSpec {
	return SuiteSpec{
		Name:                 "release gate",
		DefaultModelID:       "model-1",
		DefaultTestDatasetID: "ds-1",
		Tests: []TestSpec{
			{
				CallableName:    "drift_check",
				CallableVersion: 1,
				Inputs: map[string]domain.InputSpec{
					"train_data": {Kind: domain.InputKindDataset, Value: "ds-1"},
				},
			},
		},
	}
}

func TestCreateSuiteRoundTrip(t *testing.T) {
	service, suites, _ := testFixture()

	created, err := service.CreateOrUpdate(context.Background(), "proj-1", validSpec())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stored, err := suites.GetSuite(context.Background(), "proj-1", created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored.Tests) != 1 {
		t.Fatalf("expected one binding, got %d", len(stored.Tests))
	}
	if _, ok := stored.Tests[0].Inputs["train_data"]; !ok {
		t.Fatalf("override keys must survive the round trip")
	}
	if stored.Revision != 1 {
		t.Fatalf("new suites start at revision 1, got %d", stored.Revision)
	}
}

func TestUpdateIdenticalSpecIsIdempotent(t *testing.T) {
	service, _, _ := testFixture()

	created, err := service.CreateOrUpdate(context.Background(), "proj-1", validSpec())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	same := validSpec()
	same.ID = created.ID
	same.Tests[0].ID = created.Tests[0].ID
	updated, err := service.CreateOrUpdate(context.Background(), "proj-1", same)
	if err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if updated.Revision != created.Revision {
		t.Fatalf("identical spec must not bump the revision: %d -> %d", created.Revision, updated.Revision)
	}
}

func TestUpdateStaleRevisionConflicts(t *testing.T) {
	service, _, _ := testFixture()

	created, err := service.CreateOrUpdate(context.Background(), "proj-1", validSpec())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	changed := validSpec()
	changed.ID = created.ID
	changed.Name = "release gate v2"
	changed.Revision = created.Revision
	if _, err := service.CreateOrUpdate(context.Background(), "proj-1", changed); err != nil {
		t.Fatalf("first update: %v", err)
	}

	stale := validSpec()
	stale.ID = created.ID
	stale.Name = "stale edit"
	stale.Revision = created.Revision
	if _, err := service.CreateOrUpdate(context.Background(), "proj-1", stale); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale revision, got %v", err)
	}
}

func TestCreateSuiteUnknownCallable(t *testing.T) {
	service, _, _ := testFixture()

	spec := validSpec()
	spec.Tests[0].CallableName = "nonexistent"
	_, err := service.CreateOrUpdate(context.Background(), "proj-1", spec)
	var unknown *UnknownCallableError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownCallableError, got %v", err)
	}
}

func TestCreateSuiteUnknownParameter(t *testing.T) {
	service, _, _ := testFixture()

	spec := validSpec()
	spec.Tests[0].Inputs["window"] = domain.InputSpec{Kind: domain.InputKindLiteral, Value: "10"}
	_, err := service.CreateOrUpdate(context.Background(), "proj-1", spec)
	var unknown *UnknownParameterError
	if !errors.As(err, &unknown) || unknown.Parameter != "window" {
		t.Fatalf("expected UnknownParameterError for window, got %v", err)
	}
}

func TestCreateSuiteCrossProjectReference(t *testing.T) {
	service, suites, _ := testFixture()

	spec := validSpec()
	spec.Tests[0].Inputs["train_data"] = domain.InputSpec{Kind: domain.InputKindDataset, Value: "ds-other"}
	_, err := service.CreateOrUpdate(context.Background(), "proj-1", spec)
	var cross *CrossProjectReferenceError
	if !errors.As(err, &cross) || cross.Kind != "dataset" {
		t.Fatalf("expected CrossProjectReferenceError, got %v", err)
	}
	if len(suites.suites) != 0 {
		t.Fatalf("no partial suite may be persisted on validation failure")
	}

	spec = validSpec()
	spec.DefaultModelID = "model-other"
	if _, err := service.CreateOrUpdate(context.Background(), "proj-1", spec); !errors.As(err, &cross) {
		t.Fatalf("expected cross-project default model to fail, got %v", err)
	}
}

func TestCreateSuiteBindsLatestWhenVersionOmitted(t *testing.T) {
	service, _, _ := testFixture()

	spec := validSpec()
	spec.Tests[0].CallableVersion = 0
	created, err := service.CreateOrUpdate(context.Background(), "proj-1", spec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Tests[0].CallableVersion != 2 || created.Tests[0].CallableID != "cal-2" {
		t.Fatalf("expected latest version binding, got %+v", created.Tests[0])
	}
}

func TestUpdateTestInputs(t *testing.T) {
	service, suites, _ := testFixture()

	created, err := service.CreateOrUpdate(context.Background(), "proj-1", validSpec())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	testID := created.Tests[0].ID

	updated, err := service.UpdateTestInputs(context.Background(), "proj-1", created.ID, testID, map[string]domain.InputSpec{
		"threshold": {Kind: domain.InputKindLiteral, Value: "0.9"},
	})
	if err != nil {
		t.Fatalf("update inputs: %v", err)
	}
	got, _ := updated.Test(testID)
	if len(got.Inputs) != 1 || got.Inputs["threshold"].Value != "0.9" {
		t.Fatalf("override mapping must be fully replaced, got %+v", got.Inputs)
	}

	if _, err := service.UpdateTestInputs(context.Background(), "proj-1", created.ID, testID, map[string]domain.InputSpec{
		"window": {Kind: domain.InputKindLiteral, Value: "10"},
	}); err == nil {
		t.Fatalf("unknown parameter must be rejected at save time")
	}

	stored, _ := suites.GetSuite(context.Background(), "proj-1", created.ID)
	if stored.Tests[0].Inputs["threshold"].Value != "0.9" {
		t.Fatalf("failed update must not clobber the previous state")
	}

	if _, err := service.UpdateTestInputs(context.Background(), "proj-1", created.ID, "missing-test", nil); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for unknown test id, got %v", err)
	}
}

func TestUpdateMeta(t *testing.T) {
	service, _, _ := testFixture()

	created, err := service.CreateOrUpdate(context.Background(), "proj-1", validSpec())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	newName := "nightly gate"
	trainDS := "ds-1"
	updated, err := service.UpdateMeta(context.Background(), "proj-1", created.ID, MetaPatch{
		Name:                  &newName,
		DefaultTrainDatasetID: &trainDS,
	})
	if err != nil {
		t.Fatalf("update meta: %v", err)
	}
	if updated.Name != newName || updated.DefaultTrainDatasetID != trainDS {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if updated.DefaultModelID != created.DefaultModelID {
		t.Fatalf("unpatched fields must be preserved")
	}
	if len(updated.Tests) != len(created.Tests) {
		t.Fatalf("meta update must not touch bindings")
	}

	badModel := "model-other"
	if _, err := service.UpdateMeta(context.Background(), "proj-1", created.ID, MetaPatch{DefaultModelID: &badModel}); err == nil {
		t.Fatalf("cross-project default must be rejected")
	}
}
