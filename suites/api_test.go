package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/verdict-ml/verdict-go/internal/composer"
	"github.com/verdict-ml/verdict-go/internal/domain"
	"github.com/verdict-ml/verdict-go/internal/registry"
	"github.com/verdict-ml/verdict-go/internal/repo"
	"github.com/verdict-ml/verdict-go/internal/scheduler"
	"github.com/verdict-ml/verdict-go/internal/scheduler/dryrun"
)

type memCallables struct {
	mu     sync.Mutex
	items  []domain.Callable
	suites *memSuites
}

func (m *memCallables) Create(_ context.Context, callable domain.Callable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.items {
		if c.ProjectID == callable.ProjectID && c.Name == callable.Name && c.Version == callable.Version {
			return repo.ErrConflict
		}
	}
	m.items = append(m.items, callable)
	return nil
}

func (m *memCallables) GetByID(_ context.Context, projectID, id string) (domain.Callable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.items {
		if c.ProjectID == projectID && c.ID == id {
			return c, nil
		}
	}
	return domain.Callable{}, repo.ErrNotFound
}

func (m *memCallables) GetByNameVersion(_ context.Context, projectID, name string, version int) (domain.Callable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.items {
		if c.ProjectID == projectID && c.Name == name && c.Version == version {
			return c, nil
		}
	}
	return domain.Callable{}, repo.ErrNotFound
}

func (m *memCallables) GetLatest(_ context.Context, projectID, name string) (domain.Callable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest domain.Callable
	found := false
	for _, c := range m.items {
		if c.ProjectID == projectID && c.Name == name && (!found || c.Version > latest.Version) {
			latest = c
			found = true
		}
	}
	if !found {
		return domain.Callable{}, repo.ErrNotFound
	}
	return latest, nil
}

func (m *memCallables) List(_ context.Context, filter repo.CallableFilter) ([]domain.Callable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Callable
	for _, c := range m.items {
		if c.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Name != "" && c.Name != filter.Name {
			continue
		}
		if filter.Tag != "" && !hasTag(c.Tags, filter.Tag) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memCallables) Delete(_ context.Context, projectID, id string) error {
	if m.suites != nil && m.suites.references(projectID, id) {
		return repo.ErrReferenced
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.items {
		if c.ProjectID == projectID && c.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return repo.ErrNotFound
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

type memSuites struct {
	mu    sync.Mutex
	items map[string]domain.TestSuite
}

func suiteKey(projectID, id string) string { return projectID + "/" + id }

func (m *memSuites) CreateSuite(_ context.Context, suite domain.TestSuite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = map[string]domain.TestSuite{}
	}
	key := suiteKey(suite.ProjectID, suite.ID)
	if _, ok := m.items[key]; ok {
		return repo.ErrConflict
	}
	m.items[key] = suite
	return nil
}

func (m *memSuites) GetSuite(_ context.Context, projectID, id string) (domain.TestSuite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	suite, ok := m.items[suiteKey(projectID, id)]
	if !ok {
		return domain.TestSuite{}, repo.ErrNotFound
	}
	return suite, nil
}

func (m *memSuites) ListSuites(_ context.Context, projectID string, limit int) ([]domain.TestSuite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TestSuite
	for _, suite := range m.items {
		if suite.ProjectID == projectID {
			out = append(out, suite)
		}
	}
	return out, nil
}

func (m *memSuites) ReplaceSuite(_ context.Context, suite domain.TestSuite, expectedRevision int64) (domain.TestSuite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := suiteKey(suite.ProjectID, suite.ID)
	stored, ok := m.items[key]
	if !ok {
		return domain.TestSuite{}, repo.ErrNotFound
	}
	if stored.Revision != expectedRevision {
		return domain.TestSuite{}, repo.ErrConflict
	}
	m.items[key] = suite
	return suite, nil
}

func (m *memSuites) DeleteSuite(_ context.Context, projectID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := suiteKey(projectID, id)
	if _, ok := m.items[key]; !ok {
		return repo.ErrNotFound
	}
	delete(m.items, key)
	return nil
}

func (m *memSuites) references(projectID, callableID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, suite := range m.items {
		if suite.ProjectID != projectID {
			continue
		}
		for _, test := range suite.Tests {
			if test.CallableID == callableID {
				return true
			}
		}
	}
	return false
}

type memExecutions struct {
	mu         sync.Mutex
	executions map[string]domain.Execution
	results    map[string][]domain.TestResult
}

func (m *memExecutions) CreateExecution(_ context.Context, execution domain.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.executions == nil {
		m.executions = map[string]domain.Execution{}
		m.results = map[string][]domain.TestResult{}
	}
	if _, ok := m.executions[execution.ID]; ok {
		return repo.ErrConflict
	}
	m.executions[execution.ID] = execution
	return nil
}

func (m *memExecutions) GetExecution(_ context.Context, projectID, id string) (domain.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	execution, ok := m.executions[id]
	if !ok || execution.ProjectID != projectID {
		return domain.Execution{}, repo.ErrNotFound
	}
	execution.Results = append([]domain.TestResult(nil), m.results[id]...)
	return execution, nil
}

func (m *memExecutions) ListExecutions(_ context.Context, filter repo.ExecutionFilter) ([]domain.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Execution
	for _, execution := range m.executions {
		if execution.ProjectID != filter.ProjectID {
			continue
		}
		if filter.SuiteID != "" && execution.SuiteID != filter.SuiteID {
			continue
		}
		out = append(out, execution)
	}
	return out, nil
}

func (m *memExecutions) UpdateStatus(_ context.Context, projectID, id string, next domain.ExecutionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	execution, ok := m.executions[id]
	if !ok || execution.ProjectID != projectID {
		return repo.ErrNotFound
	}
	if !domain.CanTransitionExecution(execution.Status, next) {
		return repo.ErrConflict
	}
	execution.Status = next
	m.executions[id] = execution
	return nil
}

func (m *memExecutions) AppendTestResult(_ context.Context, projectID, executionID string, result domain.TestResult) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	execution, ok := m.executions[executionID]
	if !ok || execution.ProjectID != projectID {
		return false, repo.ErrNotFound
	}
	for _, existing := range m.results[executionID] {
		if existing.SuiteTestID == result.SuiteTestID {
			return false, nil
		}
	}
	m.results[executionID] = append(m.results[executionID], result)
	return true, nil
}

type apiHarness struct {
	mux   *http.ServeMux
	sched *scheduler.Scheduler
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	suites := &memSuites{}
	callables := &memCallables{suites: suites}
	executions := &memExecutions{}

	reg := registry.New(callables)
	comp := composer.New(suites, callables, allowAllReferences{})
	sched := scheduler.New(suites, callables, executions, dryrun.New(), logger, 2)
	if reg == nil || comp == nil || sched == nil {
		t.Fatal("service wiring failed")
	}

	mux := http.NewServeMux()
	newSuitesAPI(logger, reg, comp, sched, suites, callables, executions).register(mux)
	return &apiHarness{mux: mux, sched: sched}
}

func (h *apiHarness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "http://suites.test"+path, reader)
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

const registerDriftCheck = `{
	"name": "drift_check",
	"display_name": "Drift Check",
	"module": "verdict.tests.drift",
	"code_ref": "code-1",
	"tags": ["drift"],
	"params": [
		{"name": "model", "type": "model"},
		{"name": "reference_dataset", "type": "dataset"},
		{"name": "threshold", "type": "float", "optional": true, "default": "0.5"}
	]
}`

func registerCallable(t *testing.T, h *apiHarness) callableResponse {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/projects/proj-1/callables", registerDriftCheck)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status=%d body=%s", rec.Code, rec.Body.String())
	}
	var out callableResponse
	decodeBody(t, rec, &out)
	return out
}

func createSuite(t *testing.T, h *apiHarness) suiteResponse {
	t.Helper()
	doc := `schema: verdict.suite.v1
name: release gate
defaults:
  model: model-1
tests:
  - id: bind-1
    callable: drift_check
    inputs:
      threshold:
        kind: literal
        value: "0.7"
`
	rec := h.do(t, http.MethodPost, "/projects/proj-1/suites", doc)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create suite status=%d body=%s", rec.Code, rec.Body.String())
	}
	var out suiteResponse
	decodeBody(t, rec, &out)
	return out
}

func TestAPI_SuiteLifecycle(t *testing.T) {
	h := newAPIHarness(t)

	callable := registerCallable(t, h)
	if callable.Version != 1 {
		t.Fatalf("version=%d, want 1", callable.Version)
	}

	// Re-registering identical content is idempotent.
	rec := h.do(t, http.MethodPost, "/projects/proj-1/callables", registerDriftCheck)
	if rec.Code != http.StatusCreated {
		t.Fatalf("re-register status=%d", rec.Code)
	}
	var again callableResponse
	decodeBody(t, rec, &again)
	if again.Version != 1 || again.CallableID != callable.CallableID {
		t.Fatalf("re-register returned v%d id=%s, want v1 id=%s", again.Version, again.CallableID, callable.CallableID)
	}

	suite := createSuite(t, h)
	if suite.Revision != 1 || len(suite.Tests) != 1 {
		t.Fatalf("suite revision=%d tests=%d", suite.Revision, len(suite.Tests))
	}

	// The reference dataset has no default anywhere, so it must surface as
	// a required schedule-time input.
	rec = h.do(t, http.MethodGet, "/projects/proj-1/suites/"+suite.SuiteID+"/inputs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("inputs status=%d body=%s", rec.Code, rec.Body.String())
	}
	var inputs struct {
		Inputs []requiredInputResponse `json:"inputs"`
	}
	decodeBody(t, rec, &inputs)
	if len(inputs.Inputs) != 1 || inputs.Inputs[0].Name != "reference_dataset" {
		t.Fatalf("inputs=%+v, want reference_dataset", inputs.Inputs)
	}

	rec = h.do(t, http.MethodPost, "/projects/proj-1/suites/"+suite.SuiteID+"/schedule-execution",
		`{"inputs": {"reference_dataset": "ds-9"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("schedule status=%d body=%s", rec.Code, rec.Body.String())
	}
	var scheduled struct {
		ExecutionID string `json:"execution_id"`
	}
	decodeBody(t, rec, &scheduled)
	if scheduled.ExecutionID == "" {
		t.Fatal("missing execution_id")
	}

	h.sched.Wait()

	rec = h.do(t, http.MethodGet, "/projects/proj-1/executions/"+scheduled.ExecutionID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get execution status=%d", rec.Code)
	}
	var execution executionResponse
	decodeBody(t, rec, &execution)
	if execution.Status != string(domain.ExecutionSucceeded) {
		t.Fatalf("execution status=%s, want succeeded", execution.Status)
	}
	if len(execution.Results) != 1 || execution.Results[0].Outcome != string(domain.TestSucceeded) {
		t.Fatalf("results=%+v", execution.Results)
	}
	if execution.Results[0].Inputs["reference_dataset"] != "ds-9" {
		t.Fatalf("resolved inputs=%v, want reference_dataset=ds-9", execution.Results[0].Inputs)
	}
	if execution.RuntimeInputs["reference_dataset"] != "ds-9" {
		t.Fatalf("runtime snapshot=%v", execution.RuntimeInputs)
	}

	// A finished execution refuses cancellation.
	rec = h.do(t, http.MethodPost, "/projects/proj-1/executions/"+scheduled.ExecutionID+"/cancel", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel status=%d, want 409", rec.Code)
	}
}

func TestAPI_SuiteUpdateStaleRevisionConflicts(t *testing.T) {
	h := newAPIHarness(t)
	registerCallable(t, h)
	suite := createSuite(t, h)

	update := func(revision int64, name string) *httptest.ResponseRecorder {
		doc := fmt.Sprintf(`schema: verdict.suite.v1
id: %s
name: %s
revision: %d
defaults:
  model: model-2
tests:
  - id: bind-1
    callable: drift_check
`, suite.SuiteID, name, revision)
		return h.do(t, http.MethodPost, "/projects/proj-1/suites", doc)
	}

	rec := update(suite.Revision, "release gate v2")
	if rec.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", rec.Code, rec.Body.String())
	}
	var updated suiteResponse
	decodeBody(t, rec, &updated)
	if updated.Revision != suite.Revision+1 {
		t.Fatalf("revision=%d, want %d", updated.Revision, suite.Revision+1)
	}

	rec = update(suite.Revision, "lost update")
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale update status=%d, want 409", rec.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &body)
	if body.Error != "concurrent_modification" {
		t.Fatalf("error=%q", body.Error)
	}
}

func TestAPI_UnknownCallableRejected(t *testing.T) {
	h := newAPIHarness(t)

	doc := `schema: verdict.suite.v1
name: broken
tests:
  - callable: does_not_exist
`
	rec := h.do(t, http.MethodPost, "/projects/proj-1/suites", doc)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &body)
	if body.Error != "unknown_callable" {
		t.Fatalf("error=%q, want unknown_callable", body.Error)
	}
}

func TestAPI_UpdateTestInputsUnknownParameter(t *testing.T) {
	h := newAPIHarness(t)
	registerCallable(t, h)
	suite := createSuite(t, h)

	rec := h.do(t, http.MethodPut,
		"/projects/proj-1/suites/"+suite.SuiteID+"/tests/bind-1/inputs",
		`{"no_such_param": {"kind": "literal", "value": "1"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &body)
	if body.Error != "unknown_parameter" {
		t.Fatalf("error=%q, want unknown_parameter", body.Error)
	}
}

func TestAPI_UpdateTestInputsReplacesOverrides(t *testing.T) {
	h := newAPIHarness(t)
	registerCallable(t, h)
	suite := createSuite(t, h)

	rec := h.do(t, http.MethodPut,
		"/projects/proj-1/suites/"+suite.SuiteID+"/tests/bind-1/inputs",
		`{"threshold": {"kind": "literal", "value": "0.9"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var updated suiteResponse
	decodeBody(t, rec, &updated)
	if updated.Revision != suite.Revision+1 {
		t.Fatalf("revision=%d, want %d", updated.Revision, suite.Revision+1)
	}
	input, ok := updated.Tests[0].Inputs["threshold"]
	if !ok || input.Value != "0.9" {
		t.Fatalf("threshold=%+v", updated.Tests[0].Inputs)
	}
}

func TestAPI_DeleteCallableInUse(t *testing.T) {
	h := newAPIHarness(t)
	callable := registerCallable(t, h)
	createSuite(t, h)

	rec := h.do(t, http.MethodDelete, "/projects/proj-1/callables/"+callable.CallableID, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status=%d, want 409", rec.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &body)
	if body.Error != "callable_in_use" {
		t.Fatalf("error=%q", body.Error)
	}
}

func TestAPI_SuiteYAMLExportRoundTrips(t *testing.T) {
	h := newAPIHarness(t)
	registerCallable(t, h)
	suite := createSuite(t, h)

	rec := h.do(t, http.MethodGet, "/projects/proj-1/suites/"+suite.SuiteID+"?format=yaml", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export status=%d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Fatalf("Content-Type=%q", ct)
	}
	exported := rec.Body.String()
	if !strings.Contains(exported, "schema: verdict.suite.v1") || !strings.Contains(exported, "drift_check") {
		t.Fatalf("unexpected export:\n%s", exported)
	}

	// The exported document carries the current revision, so re-posting it
	// is a no-op update, not a conflict.
	rec = h.do(t, http.MethodPost, "/projects/proj-1/suites", exported)
	if rec.Code != http.StatusOK {
		t.Fatalf("re-import status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestAPI_GetSuiteCompleteExpansion(t *testing.T) {
	h := newAPIHarness(t)
	registerCallable(t, h)
	suite := createSuite(t, h)

	rec := h.do(t, http.MethodPost, "/projects/proj-1/suites/"+suite.SuiteID+"/schedule-execution",
		`{"inputs": {"reference_dataset": "ds-9"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("schedule status=%d", rec.Code)
	}
	h.sched.Wait()

	rec = h.do(t, http.MethodGet, "/projects/proj-1/suites/"+suite.SuiteID+"?complete=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("complete status=%d body=%s", rec.Code, rec.Body.String())
	}
	var complete suiteCompleteResponse
	decodeBody(t, rec, &complete)
	if complete.Suite.SuiteID != suite.SuiteID {
		t.Fatalf("suite id=%s", complete.Suite.SuiteID)
	}
	if len(complete.Executions) != 1 {
		t.Fatalf("executions=%d, want 1", len(complete.Executions))
	}
	if len(complete.Callables) != 1 || complete.Callables[0].Name != "drift_check" {
		t.Fatalf("callables=%+v", complete.Callables)
	}
	if len(complete.Inputs) != 1 || complete.Inputs[0].Name != "reference_dataset" {
		t.Fatalf("inputs=%+v", complete.Inputs)
	}
}

func TestAPI_PatchSuiteMetadata(t *testing.T) {
	h := newAPIHarness(t)
	registerCallable(t, h)
	suite := createSuite(t, h)

	rec := h.do(t, http.MethodPatch, "/projects/proj-1/suites/"+suite.SuiteID,
		`{"name": "renamed gate", "default_test_dataset_id": "ds-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status=%d body=%s", rec.Code, rec.Body.String())
	}
	var updated suiteResponse
	decodeBody(t, rec, &updated)
	if updated.Name != "renamed gate" || updated.DefaultTestDatasetID != "ds-1" {
		t.Fatalf("patched suite=%+v", updated)
	}
	if updated.DefaultModelID != "model-1" {
		t.Fatalf("untouched default changed: %q", updated.DefaultModelID)
	}
	if len(updated.Tests) != 1 {
		t.Fatalf("bindings changed: %d", len(updated.Tests))
	}

	// With the dataset default in place nothing is left unresolved.
	rec = h.do(t, http.MethodGet, "/projects/proj-1/suites/"+suite.SuiteID+"/inputs", "")
	var inputs struct {
		Inputs []requiredInputResponse `json:"inputs"`
	}
	decodeBody(t, rec, &inputs)
	if len(inputs.Inputs) != 0 {
		t.Fatalf("inputs=%+v, want none", inputs.Inputs)
	}
}

func TestAPI_ScheduleUnknownSuite(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/projects/proj-1/suites/missing/schedule-execution", `{}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestAPI_ScheduleBlankInputKey(t *testing.T) {
	h := newAPIHarness(t)
	registerCallable(t, h)
	suite := createSuite(t, h)

	rec := h.do(t, http.MethodPost, "/projects/proj-1/suites/"+suite.SuiteID+"/schedule-execution",
		`{"inputs": {" ": "x"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &body)
	if body.Error != "invalid_inputs" {
		t.Fatalf("error=%q", body.Error)
	}
}

func TestAPI_DeleteSuite(t *testing.T) {
	h := newAPIHarness(t)
	registerCallable(t, h)
	suite := createSuite(t, h)

	rec := h.do(t, http.MethodDelete, "/projects/proj-1/suites/"+suite.SuiteID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rec.Code)
	}
	rec = h.do(t, http.MethodGet, "/projects/proj-1/suites/"+suite.SuiteID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status=%d", rec.Code)
	}
}
