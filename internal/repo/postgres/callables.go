package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/verdict-ml/verdict-go/internal/domain"
	"github.com/verdict-ml/verdict-go/internal/repo"
)

type CallableStore struct {
	db DB
}

const (
	insertCallableQuery = `INSERT INTO callables (
		callable_id,
		project_id,
		name,
		display_name,
		version,
		module,
		doc,
		module_doc,
		code_ref,
		tags,
		params,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (project_id, name, version) DO NOTHING`

	selectCallableColumns = `callable_id, project_id, name, display_name, version, module, doc, module_doc, code_ref, tags, params, created_at`

	selectCallableByIDQuery = `SELECT callable_id, project_id, name, display_name, version, module, doc, module_doc, code_ref, tags, params, created_at
	 FROM callables
	 WHERE project_id = $1 AND callable_id = $2`

	selectCallableByNameVersionQuery = `SELECT callable_id, project_id, name, display_name, version, module, doc, module_doc, code_ref, tags, params, created_at
	 FROM callables
	 WHERE project_id = $1 AND name = $2 AND version = $3`

	selectLatestCallableQuery = `SELECT callable_id, project_id, name, display_name, version, module, doc, module_doc, code_ref, tags, params, created_at
	 FROM callables
	 WHERE project_id = $1 AND name = $2
	 ORDER BY version DESC
	 LIMIT 1`

	callableReferencedQuery = `SELECT EXISTS (
		SELECT 1 FROM suite_tests WHERE project_id = $1 AND callable_id = $2
	)`

	deleteCallableQuery = `DELETE FROM callables WHERE project_id = $1 AND callable_id = $2`
)

func NewCallableStore(db DB) *CallableStore {
	if db == nil {
		return nil
	}
	return &CallableStore{db: db}
}

func (s *CallableStore) Create(ctx context.Context, callable domain.Callable) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("callable store not initialized")
	}
	if err := callable.Validate(); err != nil {
		return err
	}
	tagsJSON, err := encodeStrings(callable.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	paramsJSON, err := encodeParams(callable.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	result, err := s.db.ExecContext(
		ctx,
		insertCallableQuery,
		strings.TrimSpace(callable.ID),
		strings.TrimSpace(callable.ProjectID),
		strings.TrimSpace(callable.Name),
		nullIfEmpty(strings.TrimSpace(callable.DisplayName)),
		callable.Version,
		nullIfEmpty(strings.TrimSpace(callable.Module)),
		nullIfEmpty(callable.Doc),
		nullIfEmpty(callable.ModuleDoc),
		nullIfEmpty(strings.TrimSpace(callable.CodeRef)),
		tagsJSON,
		paramsJSON,
		normalizeTime(callable.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert callable: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert callable: %w", err)
	}
	if affected == 0 {
		// Another writer claimed this (name, version) first.
		return repo.ErrConflict
	}
	return nil
}

func (s *CallableStore) GetByID(ctx context.Context, projectID, id string) (domain.Callable, error) {
	if s == nil || s.db == nil {
		return domain.Callable{}, fmt.Errorf("callable store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	id = strings.TrimSpace(id)
	if projectID == "" {
		return domain.Callable{}, fmt.Errorf("project id is required")
	}
	if id == "" {
		return domain.Callable{}, fmt.Errorf("callable id is required")
	}
	row := s.db.QueryRowContext(ctx, selectCallableByIDQuery, projectID, id)
	return scanCallable(row)
}

func (s *CallableStore) GetByNameVersion(ctx context.Context, projectID, name string, version int) (domain.Callable, error) {
	if s == nil || s.db == nil {
		return domain.Callable{}, fmt.Errorf("callable store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	name = strings.TrimSpace(name)
	if projectID == "" {
		return domain.Callable{}, fmt.Errorf("project id is required")
	}
	if name == "" {
		return domain.Callable{}, fmt.Errorf("callable name is required")
	}
	if version < 1 {
		return domain.Callable{}, fmt.Errorf("callable version must be >= 1")
	}
	row := s.db.QueryRowContext(ctx, selectCallableByNameVersionQuery, projectID, name, version)
	return scanCallable(row)
}

func (s *CallableStore) GetLatest(ctx context.Context, projectID, name string) (domain.Callable, error) {
	if s == nil || s.db == nil {
		return domain.Callable{}, fmt.Errorf("callable store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	name = strings.TrimSpace(name)
	if projectID == "" {
		return domain.Callable{}, fmt.Errorf("project id is required")
	}
	if name == "" {
		return domain.Callable{}, fmt.Errorf("callable name is required")
	}
	row := s.db.QueryRowContext(ctx, selectLatestCallableQuery, projectID, name)
	return scanCallable(row)
}

func (s *CallableStore) List(ctx context.Context, filter repo.CallableFilter) ([]domain.Callable, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("callable store not initialized")
	}
	if strings.TrimSpace(filter.ProjectID) == "" {
		return nil, fmt.Errorf("project id is required")
	}
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 3)

	args = append(args, strings.TrimSpace(filter.ProjectID))
	clauses = append(clauses, fmt.Sprintf("project_id = $%d", len(args)))
	if strings.TrimSpace(filter.Name) != "" {
		args = append(args, strings.TrimSpace(filter.Name))
		clauses = append(clauses, fmt.Sprintf("name = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Tag) != "" {
		tagJSON, err := encodeStrings([]string{strings.TrimSpace(filter.Tag)})
		if err != nil {
			return nil, fmt.Errorf("encode tag filter: %w", err)
		}
		args = append(args, tagJSON)
		clauses = append(clauses, fmt.Sprintf("tags @> $%d", len(args)))
	}

	query := `SELECT ` + selectCallableColumns + ` FROM callables WHERE ` + strings.Join(clauses, " AND ")
	query += " ORDER BY name ASC, version DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list callables: %w", err)
	}
	defer rows.Close()

	callables := make([]domain.Callable, 0)
	for rows.Next() {
		callable, err := scanCallableRow(rows)
		if err != nil {
			return nil, err
		}
		callables = append(callables, callable)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list callables: %w", err)
	}
	return callables, nil
}

func (s *CallableStore) Delete(ctx context.Context, projectID, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("callable store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	id = strings.TrimSpace(id)
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}
	if id == "" {
		return fmt.Errorf("callable id is required")
	}

	var referenced bool
	if err := s.db.QueryRowContext(ctx, callableReferencedQuery, projectID, id).Scan(&referenced); err != nil {
		return fmt.Errorf("check callable references: %w", err)
	}
	if referenced {
		return repo.ErrReferenced
	}

	result, err := s.db.ExecContext(ctx, deleteCallableQuery, projectID, id)
	if err != nil {
		return fmt.Errorf("delete callable: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete callable: %w", err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCallable(row *sql.Row) (domain.Callable, error) {
	callable, err := scanCallableFrom(row)
	if err != nil {
		return domain.Callable{}, handleNotFound(err)
	}
	return callable, nil
}

func scanCallableRow(rows *sql.Rows) (domain.Callable, error) {
	callable, err := scanCallableFrom(rows)
	if err != nil {
		return domain.Callable{}, fmt.Errorf("scan callable: %w", err)
	}
	return callable, nil
}

func scanCallableFrom(scanner rowScanner) (domain.Callable, error) {
	var callable domain.Callable
	var displayName sql.NullString
	var module sql.NullString
	var doc sql.NullString
	var moduleDoc sql.NullString
	var codeRef sql.NullString
	var tagsJSON []byte
	var paramsJSON []byte
	if err := scanner.Scan(
		&callable.ID,
		&callable.ProjectID,
		&callable.Name,
		&displayName,
		&callable.Version,
		&module,
		&doc,
		&moduleDoc,
		&codeRef,
		&tagsJSON,
		&paramsJSON,
		&callable.CreatedAt,
	); err != nil {
		return domain.Callable{}, err
	}
	if displayName.Valid {
		callable.DisplayName = displayName.String
	}
	if module.Valid {
		callable.Module = module.String
	}
	if doc.Valid {
		callable.Doc = doc.String
	}
	if moduleDoc.Valid {
		callable.ModuleDoc = moduleDoc.String
	}
	if codeRef.Valid {
		callable.CodeRef = codeRef.String
	}
	tags, err := decodeStrings(tagsJSON)
	if err != nil {
		return domain.Callable{}, fmt.Errorf("decode tags: %w", err)
	}
	params, err := decodeParams(paramsJSON)
	if err != nil {
		return domain.Callable{}, fmt.Errorf("decode params: %w", err)
	}
	callable.Tags = tags
	callable.Params = params
	return callable, nil
}
