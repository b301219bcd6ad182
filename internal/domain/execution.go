package domain

import (
	"errors"
	"strings"
	"time"
)

// ExecutionStatus is the lifecycle state of one suite execution.
type ExecutionStatus string

const (
	ExecutionPending         ExecutionStatus = "pending"
	ExecutionRunning         ExecutionStatus = "running"
	ExecutionSucceeded       ExecutionStatus = "succeeded"
	ExecutionPartiallyFailed ExecutionStatus = "partially_failed"
	ExecutionFailed          ExecutionStatus = "failed"
	ExecutionCancelled       ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionSucceeded, ExecutionPartiallyFailed, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// NormalizeExecutionStatus maps free-form status values to canonical states.
func NormalizeExecutionStatus(value string) ExecutionStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(ExecutionPending):
		return ExecutionPending
	case string(ExecutionRunning):
		return ExecutionRunning
	case string(ExecutionSucceeded):
		return ExecutionSucceeded
	case string(ExecutionPartiallyFailed):
		return ExecutionPartiallyFailed
	case string(ExecutionFailed):
		return ExecutionFailed
	case string(ExecutionCancelled):
		return ExecutionCancelled
	default:
		return ""
	}
}

// CanTransitionExecution enforces forward-only execution lifecycle moves.
// Terminal states are absorbing.
func CanTransitionExecution(current, next ExecutionStatus) bool {
	if current == "" || next == "" || current == next {
		return false
	}
	switch current {
	case ExecutionPending:
		return next == ExecutionRunning || next == ExecutionFailed || next == ExecutionCancelled
	case ExecutionRunning:
		return next.Terminal()
	default:
		return false
	}
}

// TestOutcome is the terminal result of one test within an execution.
type TestOutcome string

const (
	TestSucceeded TestOutcome = "succeeded"
	TestFailed    TestOutcome = "failed"
	TestSkipped   TestOutcome = "skipped"
)

// TestResult records the outcome of one suite test, attributed by binding
// id rather than position.
type TestResult struct {
	SuiteTestID string
	Outcome     TestOutcome
	Message     string
	Metric      *float64
	Inputs      map[string]string
}

func (r TestResult) Validate() error {
	if strings.TrimSpace(r.SuiteTestID) == "" {
		return errors.New("suite test id is required")
	}
	switch r.Outcome {
	case TestSucceeded, TestFailed, TestSkipped:
		return nil
	default:
		return errors.New("unknown test outcome")
	}
}

// Execution is one scheduled run of a suite. The runtime input snapshot is
// immutable after creation; re-running with different inputs creates a new
// Execution.
type Execution struct {
	ID            string
	SuiteID       string
	ProjectID     string
	Status        ExecutionStatus
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	RuntimeInputs map[string]string
	Results       []TestResult
}

func (e Execution) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("execution id is required")
	}
	if strings.TrimSpace(e.SuiteID) == "" {
		return errors.New("suite id is required")
	}
	if strings.TrimSpace(e.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if NormalizeExecutionStatus(string(e.Status)) == "" {
		return errors.New("execution status is required")
	}
	return nil
}

// DeriveTerminalStatus computes the terminal state from recorded results.
// Skipped results mark tests that were never dispatched.
func DeriveTerminalStatus(results []TestResult) ExecutionStatus {
	succeeded := 0
	failed := 0
	for _, result := range results {
		switch result.Outcome {
		case TestSucceeded:
			succeeded++
		case TestFailed:
			failed++
		}
	}
	switch {
	case failed == 0 && succeeded > 0:
		return ExecutionSucceeded
	case failed > 0 && succeeded > 0:
		return ExecutionPartiallyFailed
	default:
		return ExecutionFailed
	}
}
