package registry

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/verdict-ml/verdict-go/internal/domain"
	"github.com/verdict-ml/verdict-go/internal/repo"
)

type fakeCallableRepo struct {
	records []domain.Callable
	bound   map[string]bool
}

func (f *fakeCallableRepo) Create(ctx context.Context, callable domain.Callable) error {
	for _, existing := range f.records {
		if existing.ProjectID == callable.ProjectID && existing.Name == callable.Name && existing.Version == callable.Version {
			return repo.ErrConflict
		}
	}
	f.records = append(f.records, callable)
	return nil
}

func (f *fakeCallableRepo) GetByID(ctx context.Context, projectID, id string) (domain.Callable, error) {
	for _, existing := range f.records {
		if existing.ProjectID == projectID && existing.ID == id {
			return existing, nil
		}
	}
	return domain.Callable{}, repo.ErrNotFound
}

func (f *fakeCallableRepo) GetByNameVersion(ctx context.Context, projectID, name string, version int) (domain.Callable, error) {
	for _, existing := range f.records {
		if existing.ProjectID == projectID && existing.Name == name && existing.Version == version {
			return existing, nil
		}
	}
	return domain.Callable{}, repo.ErrNotFound
}

func (f *fakeCallableRepo) GetLatest(ctx context.Context, projectID, name string) (domain.Callable, error) {
	var latest domain.Callable
	found := false
	for _, existing := range f.records {
		if existing.ProjectID == projectID && existing.Name == name && existing.Version > latest.Version {
			latest = existing
			found = true
		}
	}
	if !found {
		return domain.Callable{}, repo.ErrNotFound
	}
	return latest, nil
}

func (f *fakeCallableRepo) List(ctx context.Context, filter repo.CallableFilter) ([]domain.Callable, error) {
	var out []domain.Callable
	for _, existing := range f.records {
		if existing.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Name != "" && existing.Name != filter.Name {
			continue
		}
		if filter.Tag != "" {
			matched := false
			for _, tag := range existing.Tags {
				if tag == filter.Tag {
					matched = true
				}
			}
			if !matched {
				continue
			}
		}
		out = append(out, existing)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

func (f *fakeCallableRepo) Delete(ctx context.Context, projectID, id string) error {
	if f.bound[id] {
		return repo.ErrReferenced
	}
	for i, existing := range f.records {
		if existing.ProjectID == projectID && existing.ID == id {
			f.records = append(f.records[:i], f.records[i+1:]...)
			return nil
		}
	}
	return repo.ErrNotFound
}

func driftDefinition() Definition {
	return Definition{
		Name:    "drift_check",
		Module:  "verdict.drift",
		Doc:     "Checks prediction drift.",
		CodeRef: "code-abc",
		Tags:    []string{"drift"},
		Params: []domain.Parameter{
			{Name: "threshold", Type: domain.ParamTypeFloat, Default: "0.5"},
			{Name: "data", Type: domain.ParamTypeDataset},
		},
	}
}

func TestRegisterIdenticalContentIsIdempotent(t *testing.T) {
	store := &fakeCallableRepo{}
	service := New(store)

	first, err := service.Register(context.Background(), "proj-1", driftDefinition())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if first.Version != 1 {
		t.Fatalf("expected version 1, got %d", first.Version)
	}

	second, err := service.Register(context.Background(), "proj-1", driftDefinition())
	if err != nil {
		t.Fatalf("register repeat: %v", err)
	}
	if second.ID != first.ID || second.Version != first.Version {
		t.Fatalf("identical content must return the existing version, got %s v%d", second.ID, second.Version)
	}
	if len(store.records) != 1 {
		t.Fatalf("expected no new record, have %d", len(store.records))
	}
}

func TestRegisterChangedContentBumpsVersion(t *testing.T) {
	store := &fakeCallableRepo{}
	service := New(store)

	first, err := service.Register(context.Background(), "proj-1", driftDefinition())
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	changed := driftDefinition()
	changed.CodeRef = "code-def"
	second, err := service.Register(context.Background(), "proj-1", changed)
	if err != nil {
		t.Fatalf("register changed: %v", err)
	}
	if second.Version != first.Version+1 {
		t.Fatalf("expected version %d, got %d", first.Version+1, second.Version)
	}
	if second.ID == first.ID {
		t.Fatalf("new version must be a new record")
	}
}

func TestRegisterLostRaceReturnsWinner(t *testing.T) {
	store := &fakeCallableRepo{}
	service := New(store)

	// A concurrent registration already published the same content at v1.
	winner, err := service.Register(context.Background(), "proj-1", driftDefinition())
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Force the conflict path by removing latest lookup visibility.
	racer := &racingRepo{fakeCallableRepo: store, hideLatestOnce: true}
	raced, err := New(racer).Register(context.Background(), "proj-1", driftDefinition())
	if err != nil {
		t.Fatalf("register after race: %v", err)
	}
	if raced.ID != winner.ID {
		t.Fatalf("expected the winner's record back, got %s", raced.ID)
	}
}

type racingRepo struct {
	*fakeCallableRepo
	hideLatestOnce bool
}

func (r *racingRepo) GetLatest(ctx context.Context, projectID, name string) (domain.Callable, error) {
	if r.hideLatestOnce {
		r.hideLatestOnce = false
		return domain.Callable{}, repo.ErrNotFound
	}
	return r.fakeCallableRepo.GetLatest(ctx, projectID, name)
}

func TestGetByVersionAndLatest(t *testing.T) {
	store := &fakeCallableRepo{}
	service := New(store)

	if _, err := service.Register(context.Background(), "proj-1", driftDefinition()); err != nil {
		t.Fatalf("register: %v", err)
	}
	changed := driftDefinition()
	changed.Doc = "Checks prediction drift with a sliding window."
	if _, err := service.Register(context.Background(), "proj-1", changed); err != nil {
		t.Fatalf("register v2: %v", err)
	}

	latest, err := service.Get(context.Background(), "proj-1", "drift_check", "latest")
	if err != nil || latest.Version != 2 {
		t.Fatalf("latest: got v%d, %v", latest.Version, err)
	}
	v1, err := service.Get(context.Background(), "proj-1", "drift_check", "1")
	if err != nil || v1.Version != 1 {
		t.Fatalf("v1: got v%d, %v", v1.Version, err)
	}
	if _, err := service.Get(context.Background(), "proj-1", "drift_check", "0"); err == nil {
		t.Fatalf("expected invalid version to fail")
	}
	if _, err := service.Get(context.Background(), "proj-1", "absent", "latest"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteRefusedWhileReferenced(t *testing.T) {
	store := &fakeCallableRepo{bound: map[string]bool{}}
	service := New(store)

	callable, err := service.Register(context.Background(), "proj-1", driftDefinition())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	store.bound[callable.ID] = true

	if err := service.Delete(context.Background(), "proj-1", callable.ID); !errors.Is(err, repo.ErrReferenced) {
		t.Fatalf("expected ErrReferenced, got %v", err)
	}

	store.bound[callable.ID] = false
	if err := service.Delete(context.Background(), "proj-1", callable.ID); err != nil {
		t.Fatalf("delete after unbinding: %v", err)
	}
}

func TestListByTag(t *testing.T) {
	store := &fakeCallableRepo{}
	service := New(store)

	if _, err := service.Register(context.Background(), "proj-1", driftDefinition()); err != nil {
		t.Fatalf("register: %v", err)
	}
	other := driftDefinition()
	other.Name = "robustness_check"
	other.Tags = []string{"robustness"}
	if _, err := service.Register(context.Background(), "proj-1", other); err != nil {
		t.Fatalf("register other: %v", err)
	}

	out, err := service.List(context.Background(), repo.CallableFilter{ProjectID: "proj-1", Tag: "drift"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 || !strings.HasPrefix(out[0].Name, "drift") {
		t.Fatalf("unexpected list result: %+v", out)
	}
}
