package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/verdict-ml/verdict-go/internal/domain"
	"github.com/verdict-ml/verdict-go/internal/repo"
)

type ExecutionStore struct {
	db DB
}

const (
	insertExecutionQuery = `INSERT INTO executions (
		execution_id,
		suite_id,
		project_id,
		status,
		created_at,
		runtime_inputs
	) VALUES ($1,$2,$3,$4,$5,$6)`

	selectExecutionQuery = `SELECT execution_id, suite_id, project_id, status, created_at, started_at, completed_at, runtime_inputs
	 FROM executions
	 WHERE project_id = $1 AND execution_id = $2`

	selectExecutionResultsQuery = `SELECT suite_test_id, outcome, message, metric, inputs
	 FROM execution_results
	 WHERE execution_id = $1
	 ORDER BY recorded_at ASC, suite_test_id ASC`

	insertExecutionResultQuery = `INSERT INTO execution_results (
		execution_id,
		suite_test_id,
		outcome,
		message,
		metric,
		inputs,
		recorded_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (execution_id, suite_test_id) DO NOTHING`
)

func NewExecutionStore(db DB) *ExecutionStore {
	if db == nil {
		return nil
	}
	return &ExecutionStore{db: db}
}

func (s *ExecutionStore) CreateExecution(ctx context.Context, execution domain.Execution) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	if err := execution.Validate(); err != nil {
		return err
	}
	inputsJSON, err := encodeStringMap(execution.RuntimeInputs)
	if err != nil {
		return fmt.Errorf("encode runtime inputs: %w", err)
	}
	if _, err := s.db.ExecContext(
		ctx,
		insertExecutionQuery,
		strings.TrimSpace(execution.ID),
		strings.TrimSpace(execution.SuiteID),
		strings.TrimSpace(execution.ProjectID),
		string(execution.Status),
		normalizeTime(execution.CreatedAt),
		inputsJSON,
	); err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *ExecutionStore) GetExecution(ctx context.Context, projectID, id string) (domain.Execution, error) {
	if s == nil || s.db == nil {
		return domain.Execution{}, fmt.Errorf("execution store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	id = strings.TrimSpace(id)
	if projectID == "" {
		return domain.Execution{}, fmt.Errorf("project id is required")
	}
	if id == "" {
		return domain.Execution{}, fmt.Errorf("execution id is required")
	}

	execution, err := scanExecution(s.db.QueryRowContext(ctx, selectExecutionQuery, projectID, id))
	if err != nil {
		return domain.Execution{}, err
	}
	execution.Results, err = s.loadResults(ctx, execution.ID)
	if err != nil {
		return domain.Execution{}, err
	}
	return execution, nil
}

// ListExecutions returns execution summaries, newest first. Per-test
// results are loaded by GetExecution only.
func (s *ExecutionStore) ListExecutions(ctx context.Context, filter repo.ExecutionFilter) ([]domain.Execution, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("execution store not initialized")
	}
	if strings.TrimSpace(filter.ProjectID) == "" {
		return nil, fmt.Errorf("project id is required")
	}

	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)
	args = append(args, strings.TrimSpace(filter.ProjectID))
	clauses = append(clauses, fmt.Sprintf("project_id = $%d", len(args)))
	if strings.TrimSpace(filter.SuiteID) != "" {
		args = append(args, strings.TrimSpace(filter.SuiteID))
		clauses = append(clauses, fmt.Sprintf("suite_id = $%d", len(args)))
	}

	query := `SELECT execution_id, suite_id, project_id, status, created_at, started_at, completed_at, runtime_inputs
	 FROM executions
	 WHERE ` + strings.Join(clauses, " AND ")
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	executions := make([]domain.Execution, 0)
	for rows.Next() {
		execution, err := scanExecutionRow(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return executions, nil
}

// UpdateStatus applies one lifecycle transition with a compare-and-set on
// the set of states that admit it. started_at and completed_at are stamped
// on entry to running and to any terminal state.
func (s *ExecutionStore) UpdateStatus(ctx context.Context, projectID, id string, next domain.ExecutionStatus) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	id = strings.TrimSpace(id)
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}
	if id == "" {
		return fmt.Errorf("execution id is required")
	}
	if domain.NormalizeExecutionStatus(string(next)) == "" {
		return fmt.Errorf("unknown execution status %q", next)
	}

	admissible := admissibleCurrentStatuses(next)
	if len(admissible) == 0 {
		return repo.ErrConflict
	}

	now := time.Now().UTC()
	set := []string{"status = $1"}
	args := []any{string(next)}
	if next == domain.ExecutionRunning {
		args = append(args, now)
		set = append(set, fmt.Sprintf("started_at = COALESCE(started_at, $%d)", len(args)))
	}
	if next.Terminal() {
		args = append(args, now)
		set = append(set, fmt.Sprintf("completed_at = $%d", len(args)))
	}

	args = append(args, projectID)
	where := []string{fmt.Sprintf("project_id = $%d", len(args))}
	args = append(args, id)
	where = append(where, fmt.Sprintf("execution_id = $%d", len(args)))
	placeholders := make([]string, 0, len(admissible))
	for _, status := range admissible {
		args = append(args, string(status))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	where = append(where, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))

	query := "UPDATE executions SET " + strings.Join(set, ", ") + " WHERE " + strings.Join(where, " AND ")
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(
			ctx,
			`SELECT EXISTS (SELECT 1 FROM executions WHERE project_id = $1 AND execution_id = $2)`,
			projectID,
			id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check execution existence: %w", err)
		}
		if !exists {
			return repo.ErrNotFound
		}
		return repo.ErrConflict
	}
	return nil
}

func (s *ExecutionStore) AppendTestResult(ctx context.Context, projectID, executionID string, result domain.TestResult) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("execution store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	executionID = strings.TrimSpace(executionID)
	if projectID == "" {
		return false, fmt.Errorf("project id is required")
	}
	if executionID == "" {
		return false, fmt.Errorf("execution id is required")
	}
	if err := result.Validate(); err != nil {
		return false, err
	}

	var exists bool
	if err := s.db.QueryRowContext(
		ctx,
		`SELECT EXISTS (SELECT 1 FROM executions WHERE project_id = $1 AND execution_id = $2)`,
		projectID,
		executionID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check execution existence: %w", err)
	}
	if !exists {
		return false, repo.ErrNotFound
	}

	inputsJSON, err := encodeStringMap(result.Inputs)
	if err != nil {
		return false, fmt.Errorf("encode result inputs: %w", err)
	}
	var metric sql.NullFloat64
	if result.Metric != nil {
		metric = sql.NullFloat64{Float64: *result.Metric, Valid: true}
	}
	execResult, err := s.db.ExecContext(
		ctx,
		insertExecutionResultQuery,
		executionID,
		strings.TrimSpace(result.SuiteTestID),
		string(result.Outcome),
		nullIfEmpty(result.Message),
		metric,
		inputsJSON,
		time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert execution result: %w", err)
	}
	affected, err := execResult.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert execution result: %w", err)
	}
	return affected > 0, nil
}

func (s *ExecutionStore) loadResults(ctx context.Context, executionID string) ([]domain.TestResult, error) {
	rows, err := s.db.QueryContext(ctx, selectExecutionResultsQuery, executionID)
	if err != nil {
		return nil, fmt.Errorf("load execution results: %w", err)
	}
	defer rows.Close()

	results := make([]domain.TestResult, 0)
	for rows.Next() {
		var result domain.TestResult
		var message sql.NullString
		var metric sql.NullFloat64
		var inputsJSON []byte
		if err := rows.Scan(&result.SuiteTestID, &result.Outcome, &message, &metric, &inputsJSON); err != nil {
			return nil, fmt.Errorf("scan execution result: %w", err)
		}
		if message.Valid {
			result.Message = message.String
		}
		if metric.Valid {
			value := metric.Float64
			result.Metric = &value
		}
		result.Inputs, err = decodeStringMap(inputsJSON)
		if err != nil {
			return nil, fmt.Errorf("decode result inputs: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load execution results: %w", err)
	}
	return results, nil
}

// admissibleCurrentStatuses enumerates the states from which the lifecycle
// admits a transition to next.
func admissibleCurrentStatuses(next domain.ExecutionStatus) []domain.ExecutionStatus {
	all := []domain.ExecutionStatus{
		domain.ExecutionPending,
		domain.ExecutionRunning,
		domain.ExecutionSucceeded,
		domain.ExecutionPartiallyFailed,
		domain.ExecutionFailed,
		domain.ExecutionCancelled,
	}
	admissible := make([]domain.ExecutionStatus, 0, 2)
	for _, current := range all {
		if domain.CanTransitionExecution(current, next) {
			admissible = append(admissible, current)
		}
	}
	return admissible
}

func scanExecution(row *sql.Row) (domain.Execution, error) {
	execution, err := scanExecutionFrom(row)
	if err != nil {
		return domain.Execution{}, handleNotFound(err)
	}
	return execution, nil
}

func scanExecutionRow(rows *sql.Rows) (domain.Execution, error) {
	execution, err := scanExecutionFrom(rows)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("scan execution: %w", err)
	}
	return execution, nil
}

func scanExecutionFrom(scanner rowScanner) (domain.Execution, error) {
	var execution domain.Execution
	var status string
	var startedAt sql.NullTime
	var completedAt sql.NullTime
	var inputsJSON []byte
	if err := scanner.Scan(
		&execution.ID,
		&execution.SuiteID,
		&execution.ProjectID,
		&status,
		&execution.CreatedAt,
		&startedAt,
		&completedAt,
		&inputsJSON,
	); err != nil {
		return domain.Execution{}, err
	}
	execution.Status = domain.NormalizeExecutionStatus(status)
	if startedAt.Valid {
		started := startedAt.Time.UTC()
		execution.StartedAt = &started
	}
	if completedAt.Valid {
		completed := completedAt.Time.UTC()
		execution.CompletedAt = &completed
	}
	inputs, err := decodeStringMap(inputsJSON)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("decode runtime inputs: %w", err)
	}
	execution.RuntimeInputs = inputs
	return execution, nil
}
