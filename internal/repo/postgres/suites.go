package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/verdict-ml/verdict-go/internal/domain"
	"github.com/verdict-ml/verdict-go/internal/repo"
)

// SuiteStore persists suites and their owned test bindings. Writes that
// touch both tables run inside a transaction so readers never observe a
// suite with a partial test list.
type SuiteStore struct {
	db TxDB
}

const (
	insertSuiteQuery = `INSERT INTO suites (
		suite_id,
		project_id,
		name,
		default_model_id,
		default_train_dataset_id,
		default_test_dataset_id,
		revision,
		created_at,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	insertSuiteTestQuery = `INSERT INTO suite_tests (
		suite_test_id,
		suite_id,
		project_id,
		callable_id,
		callable_name,
		callable_version,
		inputs,
		position
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	selectSuiteQuery = `SELECT suite_id, project_id, name, default_model_id, default_train_dataset_id, default_test_dataset_id, revision, created_at, updated_at
	 FROM suites
	 WHERE project_id = $1 AND suite_id = $2`

	selectSuiteTestsQuery = `SELECT suite_test_id, callable_id, callable_name, callable_version, inputs
	 FROM suite_tests
	 WHERE project_id = $1 AND suite_id = $2
	 ORDER BY position ASC`

	listSuitesQuery = `SELECT suite_id, project_id, name, default_model_id, default_train_dataset_id, default_test_dataset_id, revision, created_at, updated_at
	 FROM suites
	 WHERE project_id = $1
	 ORDER BY updated_at DESC`

	replaceSuiteQuery = `UPDATE suites
	 SET name = $1,
	     default_model_id = $2,
	     default_train_dataset_id = $3,
	     default_test_dataset_id = $4,
	     revision = $5,
	     updated_at = $6
	 WHERE project_id = $7 AND suite_id = $8 AND revision = $9`

	deleteSuiteTestsQuery = `DELETE FROM suite_tests WHERE project_id = $1 AND suite_id = $2`

	deleteSuiteQuery = `DELETE FROM suites WHERE project_id = $1 AND suite_id = $2`
)

func NewSuiteStore(db TxDB) *SuiteStore {
	if db == nil {
		return nil
	}
	return &SuiteStore{db: db}
}

func (s *SuiteStore) CreateSuite(ctx context.Context, suite domain.TestSuite) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("suite store not initialized")
	}
	if err := suite.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create suite: %w", err)
	}
	defer tx.Rollback()

	createdAt := normalizeTime(suite.CreatedAt)
	updatedAt := normalizeTime(suite.UpdatedAt)
	if _, err := tx.ExecContext(
		ctx,
		insertSuiteQuery,
		strings.TrimSpace(suite.ID),
		strings.TrimSpace(suite.ProjectID),
		strings.TrimSpace(suite.Name),
		nullIfEmpty(strings.TrimSpace(suite.DefaultModelID)),
		nullIfEmpty(strings.TrimSpace(suite.DefaultTrainDatasetID)),
		nullIfEmpty(strings.TrimSpace(suite.DefaultTestDatasetID)),
		suite.Revision,
		createdAt,
		updatedAt,
	); err != nil {
		return fmt.Errorf("insert suite: %w", err)
	}
	if err := insertSuiteTests(ctx, tx, suite); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create suite: %w", err)
	}
	return nil
}

func (s *SuiteStore) GetSuite(ctx context.Context, projectID, id string) (domain.TestSuite, error) {
	if s == nil || s.db == nil {
		return domain.TestSuite{}, fmt.Errorf("suite store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	id = strings.TrimSpace(id)
	if projectID == "" {
		return domain.TestSuite{}, fmt.Errorf("project id is required")
	}
	if id == "" {
		return domain.TestSuite{}, fmt.Errorf("suite id is required")
	}

	suite, err := scanSuite(s.db.QueryRowContext(ctx, selectSuiteQuery, projectID, id))
	if err != nil {
		return domain.TestSuite{}, err
	}
	suite.Tests, err = s.loadTests(ctx, projectID, id)
	if err != nil {
		return domain.TestSuite{}, err
	}
	return suite, nil
}

func (s *SuiteStore) ListSuites(ctx context.Context, projectID string, limit int) ([]domain.TestSuite, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("suite store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}

	query := listSuitesQuery
	args := []any{projectID}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list suites: %w", err)
	}
	defer rows.Close()

	suites := make([]domain.TestSuite, 0)
	for rows.Next() {
		suite, err := scanSuiteRow(rows)
		if err != nil {
			return nil, err
		}
		suites = append(suites, suite)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list suites: %w", err)
	}
	for i := range suites {
		suites[i].Tests, err = s.loadTests(ctx, projectID, suites[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return suites, nil
}

// ReplaceSuite swaps the suite's mutable fields and its whole test list.
// The update is guarded by the expected revision; a stale expectation
// fails with ErrConflict and writes nothing.
func (s *SuiteStore) ReplaceSuite(ctx context.Context, suite domain.TestSuite, expectedRevision int64) (domain.TestSuite, error) {
	if s == nil || s.db == nil {
		return domain.TestSuite{}, fmt.Errorf("suite store not initialized")
	}
	if err := suite.Validate(); err != nil {
		return domain.TestSuite{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.TestSuite{}, fmt.Errorf("begin replace suite: %w", err)
	}
	defer tx.Rollback()

	updatedAt := time.Now().UTC()
	result, err := tx.ExecContext(
		ctx,
		replaceSuiteQuery,
		strings.TrimSpace(suite.Name),
		nullIfEmpty(strings.TrimSpace(suite.DefaultModelID)),
		nullIfEmpty(strings.TrimSpace(suite.DefaultTrainDatasetID)),
		nullIfEmpty(strings.TrimSpace(suite.DefaultTestDatasetID)),
		suite.Revision,
		updatedAt,
		strings.TrimSpace(suite.ProjectID),
		strings.TrimSpace(suite.ID),
		expectedRevision,
	)
	if err != nil {
		return domain.TestSuite{}, fmt.Errorf("update suite: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return domain.TestSuite{}, fmt.Errorf("update suite: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(
			ctx,
			`SELECT EXISTS (SELECT 1 FROM suites WHERE project_id = $1 AND suite_id = $2)`,
			strings.TrimSpace(suite.ProjectID),
			strings.TrimSpace(suite.ID),
		).Scan(&exists); err != nil {
			return domain.TestSuite{}, fmt.Errorf("check suite existence: %w", err)
		}
		if !exists {
			return domain.TestSuite{}, repo.ErrNotFound
		}
		return domain.TestSuite{}, repo.ErrConflict
	}

	if _, err := tx.ExecContext(ctx, deleteSuiteTestsQuery, strings.TrimSpace(suite.ProjectID), strings.TrimSpace(suite.ID)); err != nil {
		return domain.TestSuite{}, fmt.Errorf("clear suite tests: %w", err)
	}
	if err := insertSuiteTests(ctx, tx, suite); err != nil {
		return domain.TestSuite{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TestSuite{}, fmt.Errorf("commit replace suite: %w", err)
	}
	suite.UpdatedAt = updatedAt
	return suite, nil
}

func (s *SuiteStore) DeleteSuite(ctx context.Context, projectID, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("suite store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	id = strings.TrimSpace(id)
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}
	if id == "" {
		return fmt.Errorf("suite id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete suite: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteSuiteTestsQuery, projectID, id); err != nil {
		return fmt.Errorf("delete suite tests: %w", err)
	}
	result, err := tx.ExecContext(ctx, deleteSuiteQuery, projectID, id)
	if err != nil {
		return fmt.Errorf("delete suite: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete suite: %w", err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete suite: %w", err)
	}
	return nil
}

func (s *SuiteStore) loadTests(ctx context.Context, projectID, suiteID string) ([]domain.SuiteTest, error) {
	rows, err := s.db.QueryContext(ctx, selectSuiteTestsQuery, projectID, suiteID)
	if err != nil {
		return nil, fmt.Errorf("load suite tests: %w", err)
	}
	defer rows.Close()

	tests := make([]domain.SuiteTest, 0)
	for rows.Next() {
		var test domain.SuiteTest
		var inputsJSON []byte
		if err := rows.Scan(&test.ID, &test.CallableID, &test.CallableName, &test.CallableVersion, &inputsJSON); err != nil {
			return nil, fmt.Errorf("scan suite test: %w", err)
		}
		test.Inputs, err = decodeInputSpecs(inputsJSON)
		if err != nil {
			return nil, fmt.Errorf("decode suite test inputs: %w", err)
		}
		tests = append(tests, test)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load suite tests: %w", err)
	}
	return tests, nil
}

func insertSuiteTests(ctx context.Context, tx *sql.Tx, suite domain.TestSuite) error {
	for position, test := range suite.Tests {
		inputsJSON, err := encodeInputSpecs(test.Inputs)
		if err != nil {
			return fmt.Errorf("encode suite test inputs: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			insertSuiteTestQuery,
			strings.TrimSpace(test.ID),
			strings.TrimSpace(suite.ID),
			strings.TrimSpace(suite.ProjectID),
			strings.TrimSpace(test.CallableID),
			strings.TrimSpace(test.CallableName),
			test.CallableVersion,
			inputsJSON,
			position,
		); err != nil {
			return fmt.Errorf("insert suite test: %w", err)
		}
	}
	return nil
}

func scanSuite(row *sql.Row) (domain.TestSuite, error) {
	suite, err := scanSuiteFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TestSuite{}, repo.ErrNotFound
		}
		return domain.TestSuite{}, err
	}
	return suite, nil
}

func scanSuiteRow(rows *sql.Rows) (domain.TestSuite, error) {
	suite, err := scanSuiteFrom(rows)
	if err != nil {
		return domain.TestSuite{}, fmt.Errorf("scan suite: %w", err)
	}
	return suite, nil
}

func scanSuiteFrom(scanner rowScanner) (domain.TestSuite, error) {
	var suite domain.TestSuite
	var defaultModel sql.NullString
	var defaultTrain sql.NullString
	var defaultTest sql.NullString
	if err := scanner.Scan(
		&suite.ID,
		&suite.ProjectID,
		&suite.Name,
		&defaultModel,
		&defaultTrain,
		&defaultTest,
		&suite.Revision,
		&suite.CreatedAt,
		&suite.UpdatedAt,
	); err != nil {
		return domain.TestSuite{}, err
	}
	if defaultModel.Valid {
		suite.DefaultModelID = defaultModel.String
	}
	if defaultTrain.Valid {
		suite.DefaultTrainDatasetID = defaultTrain.String
	}
	if defaultTest.Valid {
		suite.DefaultTestDatasetID = defaultTest.String
	}
	return suite, nil
}
