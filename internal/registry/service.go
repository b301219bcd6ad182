// Package registry stores versioned, parameterized test function
// definitions. Versions are append-only: registering changed content for a
// known name creates the next version, registering identical content
// returns the existing one.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verdict-ml/verdict-go/internal/domain"
	"github.com/verdict-ml/verdict-go/internal/repo"
)

// Definition is the caller-supplied content of a callable registration.
type Definition struct {
	Name        string
	DisplayName string
	Module      string
	Doc         string
	ModuleDoc   string
	CodeRef     string
	Tags        []string
	Params      []domain.Parameter
}

type Service struct {
	callables repo.CallableRepository
	now       func() time.Time
}

func New(callables repo.CallableRepository) *Service {
	if callables == nil {
		return nil
	}
	return &Service{
		callables: callables,
		now:       time.Now,
	}
}

// Register creates a new callable version when the content differs from the
// latest version of the name, and returns the existing version unchanged
// otherwise.
func (s *Service) Register(ctx context.Context, projectID string, def Definition) (domain.Callable, error) {
	if s == nil || s.callables == nil {
		return domain.Callable{}, errors.New("registry not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.Callable{}, errors.New("project id is required")
	}

	candidate := domain.Callable{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Name:        strings.TrimSpace(def.Name),
		DisplayName: strings.TrimSpace(def.DisplayName),
		Version:     1,
		Module:      strings.TrimSpace(def.Module),
		Doc:         def.Doc,
		ModuleDoc:   def.ModuleDoc,
		CodeRef:     strings.TrimSpace(def.CodeRef),
		Tags:        def.Tags,
		Params:      def.Params,
		CreatedAt:   s.now().UTC(),
	}

	latest, err := s.callables.GetLatest(ctx, projectID, candidate.Name)
	switch {
	case err == nil:
		if latest.Fingerprint() == candidate.Fingerprint() {
			return latest, nil
		}
		candidate.Version = latest.Version + 1
	case errors.Is(err, repo.ErrNotFound):
	default:
		return domain.Callable{}, err
	}

	if err := candidate.Validate(); err != nil {
		return domain.Callable{}, err
	}
	if err := s.callables.Create(ctx, candidate); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			// Lost a registration race; the winner either published the
			// same content or a competing version.
			current, getErr := s.callables.GetLatest(ctx, projectID, candidate.Name)
			if getErr == nil && current.Fingerprint() == candidate.Fingerprint() {
				return current, nil
			}
		}
		return domain.Callable{}, err
	}
	return candidate, nil
}

// VersionLatest selects the newest version in Get.
const VersionLatest = "latest"

// Get fetches one callable version. version is a positive integer or
// "latest".
func (s *Service) Get(ctx context.Context, projectID, name, version string) (domain.Callable, error) {
	if s == nil || s.callables == nil {
		return domain.Callable{}, errors.New("registry not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	name = strings.TrimSpace(name)
	if projectID == "" {
		return domain.Callable{}, errors.New("project id is required")
	}
	if name == "" {
		return domain.Callable{}, errors.New("callable name is required")
	}

	version = strings.ToLower(strings.TrimSpace(version))
	if version == "" || version == VersionLatest {
		return s.callables.GetLatest(ctx, projectID, name)
	}
	n, err := strconv.Atoi(version)
	if err != nil || n < 1 {
		return domain.Callable{}, fmt.Errorf("invalid version %q", version)
	}
	return s.callables.GetByNameVersion(ctx, projectID, name, n)
}

// List filters callables by project, name, and tag.
func (s *Service) List(ctx context.Context, filter repo.CallableFilter) ([]domain.Callable, error) {
	if s == nil || s.callables == nil {
		return nil, errors.New("registry not initialized")
	}
	if strings.TrimSpace(filter.ProjectID) == "" {
		return nil, errors.New("project id is required")
	}
	return s.callables.List(ctx, filter)
}

// Delete removes one callable version. The repository refuses the delete
// while any suite test still binds it.
func (s *Service) Delete(ctx context.Context, projectID, id string) error {
	if s == nil || s.callables == nil {
		return errors.New("registry not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	id = strings.TrimSpace(id)
	if projectID == "" {
		return errors.New("project id is required")
	}
	if id == "" {
		return errors.New("callable id is required")
	}
	return s.callables.Delete(ctx, projectID, id)
}
