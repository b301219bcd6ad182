package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/verdict-ml/verdict-go/internal/composer"
	"github.com/verdict-ml/verdict-go/internal/domain"
	"github.com/verdict-ml/verdict-go/internal/registry"
	"github.com/verdict-ml/verdict-go/internal/repo"
	"github.com/verdict-ml/verdict-go/internal/resolve"
	"github.com/verdict-ml/verdict-go/internal/scheduler"
	"github.com/verdict-ml/verdict-go/internal/suitespec"
)

const maxBodyBytes = 1 << 20

type suitesAPI struct {
	logger     *slog.Logger
	registry   *registry.Service
	composer   *composer.Service
	scheduler  *scheduler.Scheduler
	suites     repo.SuiteRepository
	callables  repo.CallableRepository
	executions repo.ExecutionRepository
}

func newSuitesAPI(
	logger *slog.Logger,
	reg *registry.Service,
	comp *composer.Service,
	sched *scheduler.Scheduler,
	suites repo.SuiteRepository,
	callables repo.CallableRepository,
	executions repo.ExecutionRepository,
) *suitesAPI {
	return &suitesAPI{
		logger:     logger,
		registry:   reg,
		composer:   comp,
		scheduler:  sched,
		suites:     suites,
		callables:  callables,
		executions: executions,
	}
}

func (api *suitesAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /projects/{project_id}/callables", api.handleRegisterCallable)
	mux.HandleFunc("GET /projects/{project_id}/callables", api.handleListCallables)
	mux.HandleFunc("GET /projects/{project_id}/callables/{name}/versions/{version}", api.handleGetCallable)
	mux.HandleFunc("DELETE /projects/{project_id}/callables/{callable_id}", api.handleDeleteCallable)

	mux.HandleFunc("POST /projects/{project_id}/suites", api.handleSaveSuite)
	mux.HandleFunc("GET /projects/{project_id}/suites", api.handleListSuites)
	mux.HandleFunc("GET /projects/{project_id}/suites/{suite_id}", api.handleGetSuite)
	mux.HandleFunc("PATCH /projects/{project_id}/suites/{suite_id}", api.handlePatchSuite)
	mux.HandleFunc("DELETE /projects/{project_id}/suites/{suite_id}", api.handleDeleteSuite)
	mux.HandleFunc("GET /projects/{project_id}/suites/{suite_id}/inputs", api.handleSuiteInputs)
	mux.HandleFunc("PUT /projects/{project_id}/suites/{suite_id}/tests/{test_id}/inputs", api.handleUpdateTestInputs)

	mux.HandleFunc("POST /projects/{project_id}/suites/{suite_id}/schedule-execution", api.handleScheduleExecution)
	mux.HandleFunc("GET /projects/{project_id}/suites/{suite_id}/executions", api.handleListExecutions)
	mux.HandleFunc("GET /projects/{project_id}/executions/{execution_id}", api.handleGetExecution)
	mux.HandleFunc("POST /projects/{project_id}/executions/{execution_id}/cancel", api.handleCancelExecution)
}

type callableParam struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional,omitempty"`
	Default  string `json:"default,omitempty"`
}

type callableResponse struct {
	CallableID  string          `json:"callable_id"`
	ProjectID   string          `json:"project_id"`
	Name        string          `json:"name"`
	DisplayName string          `json:"display_name,omitempty"`
	Version     int             `json:"version"`
	Module      string          `json:"module,omitempty"`
	Doc         string          `json:"doc,omitempty"`
	ModuleDoc   string          `json:"module_doc,omitempty"`
	CodeRef     string          `json:"code_ref"`
	Tags        []string        `json:"tags,omitempty"`
	Params      []callableParam `json:"params"`
	CreatedAt   time.Time       `json:"created_at"`
}

type registerCallableRequest struct {
	Name        string          `json:"name"`
	DisplayName string          `json:"display_name,omitempty"`
	Module      string          `json:"module,omitempty"`
	Doc         string          `json:"doc,omitempty"`
	ModuleDoc   string          `json:"module_doc,omitempty"`
	CodeRef     string          `json:"code_ref"`
	Tags        []string        `json:"tags,omitempty"`
	Params      []callableParam `json:"params,omitempty"`
}

type inputSpecPayload struct {
	Kind  string `json:"kind,omitempty"`
	Value string `json:"value"`
}

type suiteTestResponse struct {
	TestID          string                      `json:"test_id"`
	CallableID      string                      `json:"callable_id"`
	CallableName    string                      `json:"callable_name"`
	CallableVersion int                         `json:"callable_version"`
	Inputs          map[string]inputSpecPayload `json:"inputs,omitempty"`
}

type suiteResponse struct {
	SuiteID               string              `json:"suite_id"`
	ProjectID             string              `json:"project_id"`
	Name                  string              `json:"name"`
	DefaultModelID        string              `json:"default_model_id,omitempty"`
	DefaultTrainDatasetID string              `json:"default_train_dataset_id,omitempty"`
	DefaultTestDatasetID  string              `json:"default_test_dataset_id,omitempty"`
	Revision              int64               `json:"revision"`
	Tests                 []suiteTestResponse `json:"tests"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

type testResultResponse struct {
	SuiteTestID string            `json:"suite_test_id"`
	Outcome     string            `json:"outcome"`
	Message     string            `json:"message,omitempty"`
	Metric      *float64          `json:"metric,omitempty"`
	Inputs      map[string]string `json:"inputs,omitempty"`
}

type executionResponse struct {
	ExecutionID   string               `json:"execution_id"`
	SuiteID       string               `json:"suite_id"`
	ProjectID     string               `json:"project_id"`
	Status        string               `json:"status"`
	CreatedAt     time.Time            `json:"created_at"`
	StartedAt     *time.Time           `json:"started_at,omitempty"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
	RuntimeInputs map[string]string    `json:"runtime_inputs,omitempty"`
	Results       []testResultResponse `json:"results,omitempty"`
}

type requiredInputResponse struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	TestIDs  []string `json:"test_ids"`
	Distinct bool     `json:"distinct,omitempty"`
}

type suiteCompleteResponse struct {
	Suite      suiteResponse           `json:"suite"`
	Executions []executionResponse     `json:"executions"`
	Callables  []callableResponse      `json:"callables"`
	Inputs     []requiredInputResponse `json:"inputs"`
}

type patchSuiteRequest struct {
	Name                  *string `json:"name,omitempty"`
	DefaultModelID        *string `json:"default_model_id,omitempty"`
	DefaultTrainDatasetID *string `json:"default_train_dataset_id,omitempty"`
	DefaultTestDatasetID  *string `json:"default_test_dataset_id,omitempty"`
}

type scheduleExecutionRequest struct {
	Inputs map[string]string `json:"inputs,omitempty"`
}

func (api *suitesAPI) handleRegisterCallable(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.PathValue("project_id"))

	var req registerCallableRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	params := make([]domain.Parameter, 0, len(req.Params))
	for _, p := range req.Params {
		paramType, err := domain.ParseParamType(p.Type)
		if err != nil {
			api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_inputs", err.Error())
			return
		}
		params = append(params, domain.Parameter{
			Name:     strings.TrimSpace(p.Name),
			Type:     paramType,
			Optional: p.Optional,
			Default:  p.Default,
		})
	}

	callable, err := api.registry.Register(r.Context(), projectID, registry.Definition{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Module:      req.Module,
		Doc:         req.Doc,
		ModuleDoc:   req.ModuleDoc,
		CodeRef:     req.CodeRef,
		Tags:        req.Tags,
		Params:      params,
	})
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			api.writeError(w, r, http.StatusConflict, "concurrent_modification")
			return
		}
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_inputs", err.Error())
		return
	}

	w.Header().Set("Location", "/projects/"+projectID+"/callables/"+callable.Name+"/versions/"+strconv.Itoa(callable.Version))
	api.writeJSON(w, http.StatusCreated, toCallableResponse(callable))
}

func (api *suitesAPI) handleListCallables(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.PathValue("project_id"))

	callables, err := api.registry.List(r.Context(), repo.CallableFilter{
		ProjectID: projectID,
		Name:      strings.TrimSpace(r.URL.Query().Get("name")),
		Tag:       strings.TrimSpace(r.URL.Query().Get("tag")),
		Limit:     parseIntQuery(r, "limit", 100),
	})
	if err != nil {
		api.internalError(w, r, "list callables", err)
		return
	}

	out := make([]callableResponse, 0, len(callables))
	for _, c := range callables {
		out = append(out, toCallableResponse(c))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"callables": out})
}

func (api *suitesAPI) handleGetCallable(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.PathValue("project_id"))
	name := strings.TrimSpace(r.PathValue("name"))
	version := strings.ToLower(strings.TrimSpace(r.PathValue("version")))

	if version != "" && version != registry.VersionLatest {
		if n, err := strconv.Atoi(version); err != nil || n < 1 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_inputs")
			return
		}
	}

	callable, err := api.registry.Get(r.Context(), projectID, name, version)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.internalError(w, r, "get callable", err)
		return
	}
	api.writeJSON(w, http.StatusOK, toCallableResponse(callable))
}

func (api *suitesAPI) handleDeleteCallable(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.PathValue("project_id"))
	callableID := strings.TrimSpace(r.PathValue("callable_id"))

	if err := api.registry.Delete(r.Context(), projectID, callableID); err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			api.writeError(w, r, http.StatusNotFound, "not_found")
		case errors.Is(err, repo.ErrReferenced):
			api.writeError(w, r, http.StatusConflict, "callable_in_use")
		default:
			api.internalError(w, r, "delete callable", err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSaveSuite accepts a declarative suite document, YAML or JSON, and
// creates or fully replaces the suite it names.
func (api *suitesAPI) handleSaveSuite(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.PathValue("project_id"))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_spec")
		return
	}
	doc, err := suitespec.Parse(body)
	if err != nil {
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_spec", err.Error())
		return
	}
	spec, err := doc.ToSuiteSpec()
	if err != nil {
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_spec", err.Error())
		return
	}

	suite, err := api.composer.CreateOrUpdate(r.Context(), projectID, spec)
	if err != nil {
		api.writeComposerError(w, r, err)
		return
	}

	status := http.StatusOK
	if spec.ID == "" {
		status = http.StatusCreated
		w.Header().Set("Location", "/projects/"+projectID+"/suites/"+suite.ID)
	}
	api.writeJSON(w, status, toSuiteResponse(suite))
}

func (api *suitesAPI) handleListSuites(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.PathValue("project_id"))

	suites, err := api.suites.ListSuites(r.Context(), projectID, parseIntQuery(r, "limit", 100))
	if err != nil {
		api.internalError(w, r, "list suites", err)
		return
	}
	out := make([]suiteResponse, 0, len(suites))
	for _, s := range suites {
		out = append(out, toSuiteResponse(s))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"suites": out})
}

func (api *suitesAPI) handleGetSuite(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.PathValue("project_id"))
	suiteID := strings.TrimSpace(r.PathValue("suite_id"))

	suite, err := api.suites.GetSuite(r.Context(), projectID, suiteID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.internalError(w, r, "get suite", err)
		return
	}

	if wantsYAML(r) {
		rendered, err := suitespec.Marshal(suitespec.FromSuite(suite))
		if err != nil {
			api.internalError(w, r, "export suite", err)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(rendered)
		return
	}

	if r.URL.Query().Get("complete") != "true" {
		api.writeJSON(w, http.StatusOK, toSuiteResponse(suite))
		return
	}

	executions, err := api.executions.ListExecutions(r.Context(), repo.ExecutionFilter{
		ProjectID: projectID,
		SuiteID:   suiteID,
	})
	if err != nil {
		api.internalError(w, r, "list executions", err)
		return
	}
	catalog, err := api.callables.List(r.Context(), repo.CallableFilter{ProjectID: projectID})
	if err != nil {
		api.internalError(w, r, "list callables", err)
		return
	}

	complete := suiteCompleteResponse{
		Suite:      toSuiteResponse(suite),
		Executions: make([]executionResponse, 0, len(executions)),
		Callables:  make([]callableResponse, 0, len(catalog)),
		Inputs:     toRequiredInputs(resolve.SuiteInputs(suite, api.callableLookup(r, projectID))),
	}
	for _, execution := range executions {
		complete.Executions = append(complete.Executions, toExecutionResponse(execution))
	}
	for _, c := range catalog {
		complete.Callables = append(complete.Callables, toCallableResponse(c))
	}
	api.writeJSON(w, http.StatusOK, complete)
}

func (api *suitesAPI) handlePatchSuite(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.PathValue("project_id"))
	suiteID := strings.TrimSpace(r.PathValue("suite_id"))

	var req patchSuiteRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	suite, err := api.composer.UpdateMeta(r.Context(), projectID, suiteID, composer.MetaPatch{
		Name:                  req.Name,
		DefaultModelID:        req.DefaultModelID,
		DefaultTrainDatasetID: req.DefaultTrainDatasetID,
		DefaultTestDatasetID:  req.DefaultTestDatasetID,
	})
	if err != nil {
		api.writeComposerError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toSuiteResponse(suite))
}

func (api *suitesAPI) handleDeleteSuite(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.PathValue("project_id"))
	suiteID := strings.TrimSpace(r.PathValue("suite_id"))

	if err := api.suites.DeleteSuite(r.Context(), projectID, suiteID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.internalError(w, r, "delete suite", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSuiteInputs reports the parameters a caller must still supply at
// schedule time, without running anything.
func (api *suitesAPI) handleSuiteInputs(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.PathValue("project_id"))
	suiteID := strings.TrimSpace(r.PathValue("suite_id"))

	suite, err := api.suites.GetSuite(r.Context(), projectID, suiteID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.internalError(w, r, "get suite", err)
		return
	}

	inputs := resolve.SuiteInputs(suite, api.callableLookup(r, projectID))
	api.writeJSON(w, http.StatusOK, map[string]any{"inputs": toRequiredInputs(inputs)})
}

func (api *suitesAPI) handleUpdateTestInputs(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.PathValue("project_id"))
	suiteID := strings.TrimSpace(r.PathValue("suite_id"))
	testID := strings.TrimSpace(r.PathValue("test_id"))

	var req map[string]inputSpecPayload
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	inputs := make(map[string]domain.InputSpec, len(req))
	for name, payload := range req {
		kind, err := domain.ParseInputKind(payload.Kind)
		if err != nil {
			api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_inputs", err.Error())
			return
		}
		inputs[strings.TrimSpace(name)] = domain.InputSpec{Kind: kind, Value: strings.TrimSpace(payload.Value)}
	}

	suite, err := api.composer.UpdateTestInputs(r.Context(), projectID, suiteID, testID, inputs)
	if err != nil {
		api.writeComposerError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toSuiteResponse(suite))
}

func (api *suitesAPI) handleScheduleExecution(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.PathValue("project_id"))
	suiteID := strings.TrimSpace(r.PathValue("suite_id"))

	var req scheduleExecutionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	executionID, err := api.scheduler.Schedule(r.Context(), projectID, suiteID, req.Inputs)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			api.writeError(w, r, http.StatusNotFound, "not_found")
		case errors.Is(err, scheduler.ErrBlankInputKey):
			api.writeError(w, r, http.StatusBadRequest, "invalid_inputs")
		default:
			api.internalError(w, r, "schedule execution", err)
		}
		return
	}

	w.Header().Set("Location", "/projects/"+projectID+"/executions/"+executionID)
	api.writeJSON(w, http.StatusAccepted, map[string]any{"execution_id": executionID})
}

func (api *suitesAPI) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.PathValue("project_id"))
	suiteID := strings.TrimSpace(r.PathValue("suite_id"))

	executions, err := api.executions.ListExecutions(r.Context(), repo.ExecutionFilter{
		ProjectID: projectID,
		SuiteID:   suiteID,
		Limit:     parseIntQuery(r, "limit", 100),
	})
	if err != nil {
		api.internalError(w, r, "list executions", err)
		return
	}

	out := make([]executionResponse, 0, len(executions))
	for _, execution := range executions {
		out = append(out, toExecutionResponse(execution))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"executions": out})
}

func (api *suitesAPI) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.PathValue("project_id"))
	executionID := strings.TrimSpace(r.PathValue("execution_id"))

	execution, err := api.executions.GetExecution(r.Context(), projectID, executionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.internalError(w, r, "get execution", err)
		return
	}
	api.writeJSON(w, http.StatusOK, toExecutionResponse(execution))
}

func (api *suitesAPI) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.PathValue("project_id"))
	executionID := strings.TrimSpace(r.PathValue("execution_id"))

	if err := api.scheduler.Cancel(r.Context(), projectID, executionID); err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			api.writeError(w, r, http.StatusNotFound, "not_found")
		case errors.Is(err, repo.ErrConflict):
			api.writeError(w, r, http.StatusConflict, "concurrent_modification")
		default:
			api.internalError(w, r, "cancel execution", err)
		}
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"execution_id": executionID, "status": string(domain.ExecutionCancelled)})
}

func (api *suitesAPI) callableLookup(r *http.Request, projectID string) resolve.CallableLookup {
	return func(test domain.SuiteTest) (domain.Callable, bool) {
		callable, err := api.callables.GetByID(r.Context(), projectID, test.CallableID)
		if err != nil {
			return domain.Callable{}, false
		}
		return callable, true
	}
}

func (api *suitesAPI) writeComposerError(w http.ResponseWriter, r *http.Request, err error) {
	var unknownCallable *composer.UnknownCallableError
	var unknownParam *composer.UnknownParameterError
	var crossProject *composer.CrossProjectReferenceError
	switch {
	case errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, repo.ErrConflict):
		api.writeError(w, r, http.StatusConflict, "concurrent_modification")
	case errors.As(err, &unknownCallable):
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "unknown_callable", err.Error())
	case errors.As(err, &unknownParam):
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "unknown_parameter", err.Error())
	case errors.As(err, &crossProject):
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "cross_project_reference", err.Error())
	default:
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_spec", err.Error())
	}
}

func (api *suitesAPI) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	api.logger.Error(op+" failed", "error", err, "path", r.URL.Path)
	api.writeError(w, r, http.StatusInternalServerError, "internal_error")
}

func toCallableResponse(c domain.Callable) callableResponse {
	params := make([]callableParam, 0, len(c.Params))
	for _, p := range c.Params {
		params = append(params, callableParam{
			Name:     p.Name,
			Type:     string(p.Type),
			Optional: p.Optional,
			Default:  p.Default,
		})
	}
	return callableResponse{
		CallableID:  c.ID,
		ProjectID:   c.ProjectID,
		Name:        c.Name,
		DisplayName: c.DisplayName,
		Version:     c.Version,
		Module:      c.Module,
		Doc:         c.Doc,
		ModuleDoc:   c.ModuleDoc,
		CodeRef:     c.CodeRef,
		Tags:        c.Tags,
		Params:      params,
		CreatedAt:   c.CreatedAt,
	}
}

func toSuiteResponse(s domain.TestSuite) suiteResponse {
	tests := make([]suiteTestResponse, 0, len(s.Tests))
	for _, test := range s.Tests {
		item := suiteTestResponse{
			TestID:          test.ID,
			CallableID:      test.CallableID,
			CallableName:    test.CallableName,
			CallableVersion: test.CallableVersion,
		}
		if len(test.Inputs) > 0 {
			item.Inputs = make(map[string]inputSpecPayload, len(test.Inputs))
			for name, input := range test.Inputs {
				item.Inputs[name] = inputSpecPayload{Kind: string(input.Kind), Value: input.Value}
			}
		}
		tests = append(tests, item)
	}
	return suiteResponse{
		SuiteID:               s.ID,
		ProjectID:             s.ProjectID,
		Name:                  s.Name,
		DefaultModelID:        s.DefaultModelID,
		DefaultTrainDatasetID: s.DefaultTrainDatasetID,
		DefaultTestDatasetID:  s.DefaultTestDatasetID,
		Revision:              s.Revision,
		Tests:                 tests,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}

func toExecutionResponse(e domain.Execution) executionResponse {
	results := make([]testResultResponse, 0, len(e.Results))
	for _, result := range e.Results {
		results = append(results, testResultResponse{
			SuiteTestID: result.SuiteTestID,
			Outcome:     string(result.Outcome),
			Message:     result.Message,
			Metric:      result.Metric,
			Inputs:      result.Inputs,
		})
	}
	return executionResponse{
		ExecutionID:   e.ID,
		SuiteID:       e.SuiteID,
		ProjectID:     e.ProjectID,
		Status:        string(e.Status),
		CreatedAt:     e.CreatedAt,
		StartedAt:     e.StartedAt,
		CompletedAt:   e.CompletedAt,
		RuntimeInputs: e.RuntimeInputs,
		Results:       results,
	}
}

func toRequiredInputs(inputs []resolve.RequiredInput) []requiredInputResponse {
	out := make([]requiredInputResponse, 0, len(inputs))
	for _, input := range inputs {
		out = append(out, requiredInputResponse{
			Name:     input.Name,
			Type:     string(input.Type),
			TestIDs:  input.TestIDs,
			Distinct: input.Distinct,
		})
	}
	return out
}

func wantsYAML(r *http.Request) bool {
	if strings.EqualFold(r.URL.Query().Get("format"), "yaml") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "yaml")
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func (api *suitesAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *suitesAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func (api *suitesAPI) writeErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, code string, details any) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
		"details":    details,
	})
}
