package scheduler

import (
	"context"

	"github.com/verdict-ml/verdict-go/internal/domain"
)

// RunRequest is one resolved test handed to the execution backend.
type RunRequest struct {
	ProjectID   string
	ExecutionID string
	SuiteID     string
	SuiteTestID string
	Callable    domain.Callable
	Args        map[string]string
}

// RunResult is the backend's verdict for one test run.
type RunResult struct {
	Passed  bool
	Message string
	Metric  *float64
}

// Backend runs a single resolved test. The sandbox that actually executes
// callable code is out of scope; implementations range from a deterministic
// dry-run to a remote worker client.
type Backend interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, req RunRequest) (RunResult, error)

func (f BackendFunc) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	return f(ctx, req)
}
