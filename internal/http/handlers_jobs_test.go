package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/smart-agent/internal/domain/model"
	"github.com/target/smart-agent/internal/service"
)

type fakeRunner struct {
	got    model.TaskRequest
	result *model.RunResult
	err    error
}

func (f *fakeRunner) Run(_ context.Context, req model.TaskRequest) (*model.RunResult, error) {
	f.got = req
	if f.err == nil {
		if err := req.Validate(); err != nil {
			return nil, err
		}
	}
	return f.result, f.err
}

type fakeAborter struct {
	ids []string
	res *service.AbortResult
	err error
}

func (f *fakeAborter) Abort(_ context.Context, id string) (*service.AbortResult, error) {
	f.ids = append(f.ids, id)
	if id == "" {
		return nil, model.ErrJobIDRequired
	}
	return f.res, f.err
}

type fakeStatus struct {
	views    map[string]model.JobRecordView
	filter   model.JobRecordFilter
	decision model.AdmissionDecision
	err      error
}

func (f *fakeStatus) Get(_ context.Context, id string) (*model.JobRecordView, error) {
	if f.err != nil {
		return nil, f.err
	}
	if id == "" {
		return nil, model.ErrJobIDRequired
	}
	v, ok := f.views[id]
	if !ok {
		return nil, service.ErrJobNotFound
	}
	return &v, nil
}

func (f *fakeStatus) List(_ context.Context, filter model.JobRecordFilter) ([]model.JobRecordView, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.JobRecordView, 0, len(f.views))
	for _, v := range f.views {
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeStatus) Capacity(context.Context) (model.AdmissionDecision, error) {
	return f.decision, f.err
}

type routerFixture struct {
	runner  *fakeRunner
	aborter *fakeAborter
	status  *fakeStatus
	handler http.Handler
}

func newRouterFixture() *routerFixture {
	f := &routerFixture{
		runner:  &fakeRunner{},
		aborter: &fakeAborter{},
		status:  &fakeStatus{views: map[string]model.JobRecordView{}},
	}
	f.handler = NewRouter(RouterServices{
		Runner:       f.runner,
		Aborter:      f.aborter,
		Status:       f.status,
		Scope:        model.Tags{AgentName: "discovery", Environment: "test"},
		MaxBodyBytes: 1 << 10,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func (f *routerFixture) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func TestExecute_Success(t *testing.T) {
	f := newRouterFixture()
	summary := "all done"
	f.runner.result = &model.RunResult{Task: &model.TaskResult{
		Result:     model.OutputField{Name: "output", Type: model.OutputTypeLongText, Data: "bye"},
		IsComplete: true,
		History:    "resp_1",
		Summary:    &summary,
	}}

	rec, body := f.do(t, http.MethodPost, "/execute",
		`{"id":"job-1","webhookUrl":"http://hooks.local","inputs":[{"name":"userInput","data":"hi"},{"name":"extra","data":{"a":1}}],"priority":3}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["isComplete"])
	assert.Equal(t, "resp_1", body["history"])
	assert.Equal(t, "all done", body["summary"])
	assert.Equal(t, "bye", body["result"].(map[string]any)["data"])

	assert.Equal(t, "job-1", f.runner.got.ID)
	assert.Equal(t, "hi", f.runner.got.Normalize().Get(model.InputUserInput))
}

func TestExecute_Saturated(t *testing.T) {
	f := newRouterFixture()
	f.runner.result = &model.RunResult{Admission: &model.AdmissionDecision{
		Status: model.AdmissionSaturated, Running: 1, Limit: 1,
	}}

	rec, body := f.do(t, http.MethodPost, "/execute", `{"id":"job-2","inputs":[]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "saturated", body["result"].(map[string]any)["status"])
}

func TestExecute_WorkerFailure(t *testing.T) {
	f := newRouterFixture()
	f.runner.result = &model.RunResult{Failure: &model.ErrorEnvelope{Status: "error", Message: "provider down"}}

	rec, body := f.do(t, http.MethodPost, "/execute", `{"id":"job-3"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "error", "message": "provider down"}, body)
}

func TestExecute_BadRequests(t *testing.T) {
	f := newRouterFixture()

	rec, body := f.do(t, http.MethodPost, "/execute", `{"id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", body["error"])

	rec, body = f.do(t, http.MethodPost, "/execute", `{"inputs":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", body["error"])

	big := `{"id":"job-4","inputs":[{"name":"userInput","data":"` + strings.Repeat("x", 2048) + `"}]}`
	rec, body = f.do(t, http.MethodPost, "/execute", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "body_too_large", body["error"])
}

func TestStatusRoutes(t *testing.T) {
	f := newRouterFixture()
	f.status.views["job-1"] = model.JobRecordView{ID: "job-1", Status: model.JobStatusInProgress, IsExecutionContinue: true}

	for _, target := range []string{"/status/job-1", "/task-status?id=job-1"} {
		rec, body := f.do(t, http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, rec.Code, target)
		assert.Equal(t, "inprogress", body["status"], target)
		assert.Equal(t, "job-1", body["data"].(map[string]any)["id"], target)
	}

	rec, body := f.do(t, http.MethodGet, "/status/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["status"])

	rec, _ = f.do(t, http.MethodGet, "/task-status", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = f.do(t, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "healthy", "service": "agent"}, body)
}

func TestStatus_StoreFailure(t *testing.T) {
	f := newRouterFixture()
	f.status.err = errors.New("redis down")

	rec, body := f.do(t, http.MethodGet, "/status/job-1", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", body["error"])
}

func TestAbortRoutes(t *testing.T) {
	f := newRouterFixture()
	f.aborter.res = &service.AbortResult{Result: "Execution job-1 stopped successfully", Status: service.AbortSuccess}

	rec, body := f.do(t, http.MethodPost, "/abort/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])

	rec, _ = f.do(t, http.MethodPost, "/abort?id=job-2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"job-1", "job-2"}, f.aborter.ids)

	rec, body = f.do(t, http.MethodPost, "/abort", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", body["error"])

	f.aborter.err = errors.New("read failed")
	rec, _ = f.do(t, http.MethodPost, "/abort/job-3", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListJobs(t *testing.T) {
	f := newRouterFixture()
	f.status.views["job-1"] = model.JobRecordView{ID: "job-1", Status: model.JobStatusCompleted}

	rec, body := f.do(t, http.MethodGet, "/jobs?status=completed&limit=5000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1, body["count"], 0)
	assert.Equal(t, model.JobStatusCompleted, f.status.filter.Status)
	assert.Equal(t, maxListLimit, f.status.filter.Limit)
	assert.Equal(t, "discovery", f.status.filter.Scope.AgentName)

	rec, _ = f.do(t, http.MethodGet, "/jobs?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCapacityRoute(t *testing.T) {
	f := newRouterFixture()
	f.status.decision = model.AdmissionDecision{Status: model.AdmissionAvailable, Running: 0, Limit: 2}

	rec, body := f.do(t, http.MethodGet, "/capacity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	result := body["result"].(map[string]any)
	assert.Equal(t, "available", result["status"])
	assert.InDelta(t, 2, result["limit"], 0)
}
