package repo

import (
	"context"

	"github.com/verdict-ml/verdict-go/internal/domain"
)

type CallableFilter struct {
	ProjectID string
	Name      string
	Tag       string
	Limit     int
}

type ExecutionFilter struct {
	ProjectID string
	SuiteID   string
	Limit     int
}

// CallableRepository manages immutable callable versions. (name, version)
// pairs are never rewritten; new content creates a new version row.
type CallableRepository interface {
	Create(ctx context.Context, callable domain.Callable) error
	GetByID(ctx context.Context, projectID, id string) (domain.Callable, error)
	GetByNameVersion(ctx context.Context, projectID, name string, version int) (domain.Callable, error)
	GetLatest(ctx context.Context, projectID, name string) (domain.Callable, error)
	List(ctx context.Context, filter CallableFilter) ([]domain.Callable, error)
	// Delete refuses with ErrReferenced while any suite test binds the callable.
	Delete(ctx context.Context, projectID, id string) error
}

// SuiteRepository manages suites and their owned test bindings. Replace is
// a full swap of the mutable fields guarded by the expected revision.
type SuiteRepository interface {
	CreateSuite(ctx context.Context, suite domain.TestSuite) error
	GetSuite(ctx context.Context, projectID, id string) (domain.TestSuite, error)
	ListSuites(ctx context.Context, projectID string, limit int) ([]domain.TestSuite, error)
	ReplaceSuite(ctx context.Context, suite domain.TestSuite, expectedRevision int64) (domain.TestSuite, error)
	DeleteSuite(ctx context.Context, projectID, id string) error
}

// ExecutionRepository holds execution history per suite. Result writes are
// append-only and idempotent on (execution id, suite test id); status
// updates enforce the forward-only lifecycle.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, execution domain.Execution) error
	GetExecution(ctx context.Context, projectID, id string) (domain.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]domain.Execution, error)
	// UpdateStatus applies a lifecycle transition. It returns ErrConflict
	// when the stored status does not admit the transition.
	UpdateStatus(ctx context.Context, projectID, id string, next domain.ExecutionStatus) error
	// AppendTestResult records one per-test outcome. It reports false when a
	// result for the same (execution, test) key was already recorded.
	AppendTestResult(ctx context.Context, projectID, executionID string, result domain.TestResult) (bool, error)
}
