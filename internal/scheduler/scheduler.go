// Package scheduler accepts suite execution requests, records them, and
// runs the constituent tests asynchronously on a bounded worker pool.
//
// An Execution record is created in the pending state before Schedule
// returns, so the caller always receives a stable identifier; everything
// after that is observable only through status reads. Status transitions
// are forward-only and per-test results are attributed by binding id, never
// by position.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verdict-ml/verdict-go/internal/domain"
	"github.com/verdict-ml/verdict-go/internal/repo"
	"github.com/verdict-ml/verdict-go/internal/resolve"
)

// ErrBlankInputKey rejects runtime input maps with empty keys.
var ErrBlankInputKey = errors.New("runtime input keys must be non-empty")

// DefaultWorkers bounds per-execution test parallelism when no
// configuration is supplied.
const DefaultWorkers = 4

type Scheduler struct {
	suites     repo.SuiteRepository
	callables  repo.CallableRepository
	executions repo.ExecutionRepository
	backend    Backend
	logger     *slog.Logger
	workers    int
	now        func() time.Time

	mu        sync.Mutex
	cancelled map[string]struct{}
	wg        sync.WaitGroup
}

func New(suites repo.SuiteRepository, callables repo.CallableRepository, executions repo.ExecutionRepository, backend Backend, logger *slog.Logger, workers int) *Scheduler {
	if suites == nil || callables == nil || executions == nil || backend == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Scheduler{
		suites:     suites,
		callables:  callables,
		executions: executions,
		backend:    backend,
		logger:     logger,
		workers:    workers,
		now:        time.Now,
		cancelled:  map[string]struct{}{},
	}
}

type plannedTest struct {
	test       domain.SuiteTest
	callable   domain.Callable
	args       resolve.Args
	resolveErr error
}

// Schedule validates the request, creates the Execution record in the
// pending state, and returns its identifier. Test execution proceeds out of
// band unless no test at all can be resolved, in which case the execution
// fails immediately with every resolution error recorded per test.
func (s *Scheduler) Schedule(ctx context.Context, projectID, suiteID string, runtimeInputs map[string]string) (string, error) {
	if s == nil || s.executions == nil {
		return "", errors.New("scheduler not initialized")
	}
	for key := range runtimeInputs {
		if strings.TrimSpace(key) == "" {
			return "", ErrBlankInputKey
		}
	}

	suite, err := s.suites.GetSuite(ctx, strings.TrimSpace(projectID), strings.TrimSpace(suiteID))
	if err != nil {
		return "", err
	}

	snapshot := make(map[string]string, len(runtimeInputs))
	for key, value := range runtimeInputs {
		snapshot[key] = value
	}

	planned := make([]plannedTest, 0, len(suite.Tests))
	runnable := 0
	for _, test := range suite.Tests {
		pt := plannedTest{test: test}
		pt.callable, err = s.callables.GetByID(ctx, suite.ProjectID, test.CallableID)
		if err != nil {
			return "", err
		}
		pt.args, pt.resolveErr = resolve.Test(suite, test, pt.callable, snapshot)
		if pt.resolveErr == nil {
			runnable++
		}
		planned = append(planned, pt)
	}

	execution := domain.Execution{
		ID:            uuid.NewString(),
		SuiteID:       suite.ID,
		ProjectID:     suite.ProjectID,
		Status:        domain.ExecutionPending,
		CreatedAt:     s.now().UTC(),
		RuntimeInputs: snapshot,
	}
	if err := s.executions.CreateExecution(ctx, execution); err != nil {
		return "", err
	}
	executionsScheduled.Inc()

	if runnable == 0 && len(planned) > 0 {
		for _, pt := range planned {
			s.record(ctx, execution.ProjectID, execution.ID, domain.TestResult{
				SuiteTestID: pt.test.ID,
				Outcome:     domain.TestFailed,
				Message:     pt.resolveErr.Error(),
			})
		}
		s.finish(ctx, execution.ProjectID, execution.ID, domain.ExecutionFailed)
		return execution.ID, nil
	}
	if len(planned) == 0 {
		s.finish(ctx, execution.ProjectID, execution.ID, domain.ExecutionFailed)
		return execution.ID, nil
	}

	s.wg.Add(1)
	go s.run(execution.ProjectID, execution.ID, suite.ID, planned)

	return execution.ID, nil
}

// run executes the planned tests on a bounded worker pool and derives the
// terminal state. It owns the execution lifecycle from running onward.
func (s *Scheduler) run(projectID, executionID, suiteID string, planned []plannedTest) {
	defer s.wg.Done()
	defer s.forget(executionID)

	// Detached from the request context: the caller already has its id.
	ctx := context.Background()

	if err := s.executions.UpdateStatus(ctx, projectID, executionID, domain.ExecutionRunning); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			// Cancelled before the first test started; nothing dispatches.
			for _, pt := range planned {
				s.record(ctx, projectID, executionID, domain.TestResult{
					SuiteTestID: pt.test.ID,
					Outcome:     domain.TestSkipped,
					Message:     "cancelled before dispatch",
				})
			}
			return
		}
		s.logger.Error("execution failed to start", "execution_id", executionID, "error", err)
		s.finish(ctx, projectID, executionID, domain.ExecutionFailed)
		return
	}

	activeExecutions.Inc()
	defer activeExecutions.Dec()

	sem := make(chan struct{}, s.workers)
	var resultsMu sync.Mutex
	results := make([]domain.TestResult, 0, len(planned))
	addResult := func(result domain.TestResult) {
		resultsMu.Lock()
		results = append(results, result)
		resultsMu.Unlock()
	}

	var runWG sync.WaitGroup
	for _, pt := range planned {
		if pt.resolveErr != nil {
			result := domain.TestResult{
				SuiteTestID: pt.test.ID,
				Outcome:     domain.TestFailed,
				Message:     pt.resolveErr.Error(),
			}
			s.record(ctx, projectID, executionID, result)
			addResult(result)
			continue
		}

		if s.isCancelled(executionID) {
			result := domain.TestResult{
				SuiteTestID: pt.test.ID,
				Outcome:     domain.TestSkipped,
				Message:     "cancelled before dispatch",
			}
			s.record(ctx, projectID, executionID, result)
			addResult(result)
			continue
		}

		sem <- struct{}{}
		runWG.Add(1)
		go func(pt plannedTest) {
			defer runWG.Done()
			defer func() { <-sem }()
			result := s.runOne(ctx, projectID, executionID, suiteID, pt)
			s.record(ctx, projectID, executionID, result)
			addResult(result)
		}(pt)
	}
	runWG.Wait()

	if s.isCancelled(executionID) {
		// Already terminal; dispatched tests finished and their results are
		// recorded above.
		return
	}
	s.finish(ctx, projectID, executionID, domain.DeriveTerminalStatus(results))
}

func (s *Scheduler) runOne(ctx context.Context, projectID, executionID, suiteID string, pt plannedTest) domain.TestResult {
	start := s.now()
	runResult, err := s.backend.Run(ctx, RunRequest{
		ProjectID:   projectID,
		ExecutionID: executionID,
		SuiteID:     suiteID,
		SuiteTestID: pt.test.ID,
		Callable:    pt.callable,
		Args:        pt.args.Values(),
	})
	testRunDuration.Observe(time.Since(start).Seconds())

	result := domain.TestResult{
		SuiteTestID: pt.test.ID,
		Inputs:      pt.args.Values(),
	}
	switch {
	case err != nil:
		result.Outcome = domain.TestFailed
		result.Message = err.Error()
	case runResult.Passed:
		result.Outcome = domain.TestSucceeded
		result.Message = runResult.Message
		result.Metric = runResult.Metric
	default:
		result.Outcome = domain.TestFailed
		result.Message = runResult.Message
		result.Metric = runResult.Metric
	}
	return result
}

// Cancel requests cooperative cancellation. Not-yet-started tests are no
// longer dispatched; already-running tests finish and their results are
// still recorded. Cancelling a terminal execution fails with
// repo.ErrConflict.
func (s *Scheduler) Cancel(ctx context.Context, projectID, executionID string) error {
	if s == nil || s.executions == nil {
		return errors.New("scheduler not initialized")
	}
	execution, err := s.executions.GetExecution(ctx, strings.TrimSpace(projectID), strings.TrimSpace(executionID))
	if err != nil {
		return err
	}
	if execution.Status.Terminal() {
		return repo.ErrConflict
	}

	s.mu.Lock()
	s.cancelled[execution.ID] = struct{}{}
	s.mu.Unlock()

	if err := s.executions.UpdateStatus(ctx, execution.ProjectID, execution.ID, domain.ExecutionCancelled); err != nil {
		// The run may have reached a terminal status after GetExecution and
		// already forgotten the id; the flag must not outlive this attempt.
		s.forget(execution.ID)
		return err
	}
	executionsCompleted.WithLabelValues(string(domain.ExecutionCancelled)).Inc()
	return nil
}

// Wait blocks until all in-flight executions complete. Used for graceful
// shutdown.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) record(ctx context.Context, projectID, executionID string, result domain.TestResult) {
	inserted, err := s.executions.AppendTestResult(ctx, projectID, executionID, result)
	if err != nil {
		s.logger.Error("test result write failed",
			"execution_id", executionID,
			"suite_test_id", result.SuiteTestID,
			"error", err)
		return
	}
	if inserted {
		testRuns.WithLabelValues(string(result.Outcome)).Inc()
	}
}

func (s *Scheduler) finish(ctx context.Context, projectID, executionID string, status domain.ExecutionStatus) {
	if err := s.executions.UpdateStatus(ctx, projectID, executionID, status); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return
		}
		s.logger.Error("execution status update failed",
			"execution_id", executionID,
			"status", status,
			"error", err)
		return
	}
	executionsCompleted.WithLabelValues(string(status)).Inc()
}

func (s *Scheduler) isCancelled(executionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cancelled[executionID]
	return ok
}

func (s *Scheduler) forget(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancelled, executionID)
}
