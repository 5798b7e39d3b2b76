/*
handlers_test.go - HTTP tests for the advancement API

Tests for:
- Employee validation and CRUD
- Detection runs and record listing
- Operator transitions and their status codes
- Metrics endpoint
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/echelon-engine/advancement"
	"github.com/warp/echelon-engine/store/sqlite"
)

var testNow = time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)

type testServer struct {
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, nil)
}

// newTestServerWith lets a test put a wrapper between the engine and the
// sqlite record store. Employees are still read from the sqlite store.
func newTestServerWith(t *testing.T, wrap func(*sqlite.Store) advancement.RecordStore) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := prometheus.NewRegistry()
	metrics := &advancement.Metrics{}
	metrics.Register(registry)

	var records advancement.RecordStore = store
	if wrap != nil {
		records = wrap(store)
	}
	engine := advancement.NewEngine(records, advancement.WithMetrics(metrics))
	h := NewHandler(store, engine, zerolog.Nop())
	h.Clock = func() time.Time { return testNow }

	return &testServer{
		handler: h,
		router:  NewRouter(h, RouterOptions{Metrics: registry}),
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func employeeBody(id, appointed string, score float64, echelon int) map[string]any {
	return map[string]any{
		"id":               id,
		"name":             "Employee " + id,
		"employment_type":  "teaching",
		"current_echelon":  echelon,
		"appointment_date": appointed,
		"evaluation_score": score,
	}
}

func (ts *testServer) seed(t *testing.T, bodies ...map[string]any) {
	t.Helper()
	for _, b := range bodies {
		rec := ts.do(t, http.MethodPost, "/api/employees", b)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func TestCreateEmployee_Success(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/employees", employeeBody("e1", "2021-01-01", 16.5, 4))

	require.Equal(t, http.StatusCreated, rec.Code)
	emp := decode[EmployeeDTO](t, rec)
	assert.Equal(t, "e1", emp.ID)
	assert.Equal(t, "16.5", emp.EvaluationScore)
	assert.Equal(t, "active", emp.ActivityStatus)
	assert.Equal(t, "2021-01-01", emp.AppointmentDate)

	rec = ts.do(t, http.MethodGet, "/api/employees/e1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateEmployee_ValidationErrors(t *testing.T) {
	ts := newTestServer(t)

	body := map[string]any{
		"id":               "e1",
		"name":             "   ",
		"employment_type":  "contractor",
		"current_echelon":  13,
		"appointment_date": "01/02/2020",
		"evaluation_score": 21,
	}
	rec := ts.do(t, http.MethodPost, "/api/employees", body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}](t, rec)
	assert.Equal(t, "validation_error", resp.Code)
	for _, field := range []string{"name", "employment_type", "current_echelon", "appointment_date", "evaluation_score"} {
		assert.Contains(t, resp.Details, field)
	}
	assert.Equal(t, "this field cannot be blank", resp.Details["name"])
}

func TestCreateEmployee_MissingScore(t *testing.T) {
	ts := newTestServer(t)
	body := employeeBody("e1", "2021-01-01", 0, 4)
	delete(body, "evaluation_score")

	rec := ts.do(t, http.MethodPost, "/api/employees", body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "evaluation_score")
}

func TestCreateEmployee_FutureAppointment(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/employees", employeeBody("e1", "2026-01-01", 15, 4))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "appointment_date")
}

func TestCreateEmployee_MalformedJSON(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/employees", `{"id":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmployee_NotFoundAndDelete(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, employeeBody("e1", "2021-01-01", 15, 4))

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/employees/nope", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/api/employees/e1", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/employees/e1", nil).Code)

	list := decode[[]EmployeeDTO](t, ts.do(t, http.MethodGet, "/api/employees", nil))
	assert.Empty(t, list)
}

// =============================================================================
// DETECTION
// =============================================================================

func TestDetect_DefaultsToToday(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t,
		employeeBody("e1", "2021-01-01", 19, 5),  // eligible
		employeeBody("e2", "2024-01-01", 15, 3),  // pending
		employeeBody("e3", "2019-01-01", 10, 7),  // suspended
		employeeBody("e4", "2015-01-01", 18, 12), // blocked
	)

	rec := ts.do(t, http.MethodPost, "/api/advancements/detect", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[ReportDTO](t, rec)
	assert.Equal(t, "2025-06-01", report.Now)
	assert.Len(t, report.Records, 4)
	assert.Equal(t, map[string]int{"eligible": 1, "pending": 1, "suspended": 1, "blocked": 1}, report.Counts)
	assert.Empty(t, report.Skipped)

	suspended := report.Records[2]
	assert.Nil(t, suspended.EligibilityDate)
	assert.Equal(t, 0, suspended.Evaluation.RequiredDurationMonths)
	assert.NotEmpty(t, suspended.SuspensionReason)

	eligible := report.Records[0]
	require.NotNil(t, eligible.EligibilityDate)
	assert.Equal(t, "2023-07-01", *eligible.EligibilityDate)
	assert.Equal(t, "Fast", eligible.Evaluation.DurationLabel)
}

func TestDetect_ExplicitDate(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, employeeBody("e1", "2023-01-01", 13, 3))

	rec := ts.do(t, http.MethodPost, "/api/advancements/detect", DetectRequest{Now: "2024-06-01"})

	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[ReportDTO](t, rec)
	require.Len(t, report.Records, 1)
	r := report.Records[0]
	assert.Equal(t, "pending", r.Status)
	assert.Equal(t, 517, r.Seniority.TotalDays)
	assert.Equal(t, 17, r.Seniority.Months)
	assert.Equal(t, 7, r.Seniority.Days)
	assert.Equal(t, 42, r.Evaluation.RequiredDurationMonths)
	assert.Equal(t, "2026-07-01", *r.EligibilityDate)
}

type failingRecords struct {
	*sqlite.Store
}

func (failingRecords) ReplaceBatch(context.Context, []advancement.Record, []advancement.StatusChange) error {
	return errors.New("disk full")
}

func TestDetect_PersistenceFailureKeepsReport(t *testing.T) {
	// GIVEN: a record store that cannot write
	ts := newTestServerWith(t, func(s *sqlite.Store) advancement.RecordStore { return failingRecords{s} })
	ts.seed(t, employeeBody("e1", "2021-01-01", 19, 5))
	// echelon 0 would fail request validation, so it goes straight to the store
	require.NoError(t, ts.handler.Store.SaveEmployee(context.Background(), advancement.EmployeeSnapshot{
		ID: "bad", Name: "Bad", EmploymentType: advancement.EmploymentTeaching, CurrentEchelon: 0,
		AppointmentDate: advancement.Date(2021, time.January, 1), EvaluationScore: decimal.NewFromInt(19),
		ActivityStatus: advancement.ActivityActive,
	}))

	// WHEN: detection runs
	rec := ts.do(t, http.MethodPost, "/api/advancements/detect", nil)

	// THEN: 500 with the evaluated report in the details
	require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
	var body struct {
		Error   string           `json:"error"`
		Code    string           `json:"code"`
		Details DetectFailureDTO `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "persistence_error", body.Code)
	assert.Contains(t, body.Details.Reason, "disk full")
	assert.NotEmpty(t, body.Details.Report.RunID)
	assert.Len(t, body.Details.Report.Records, 1)
	require.Len(t, body.Details.Report.Skipped, 1)
	assert.Equal(t, "bad", body.Details.Report.Skipped[0].EmployeeID)
	assert.Contains(t, body.Details.Report.Summary, "1 skipped")

	runs := decode[[]DetectionRunDTO](t, ts.do(t, http.MethodGet, "/api/detection/runs", nil))
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].Status)
}

func TestDetect_InvalidDate(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/advancements/detect", DetectRequest{Now: "June 1st"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAdvancements_StatusFilter(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t,
		employeeBody("e1", "2021-01-01", 19, 5),
		employeeBody("e2", "2024-01-01", 15, 3),
	)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/advancements/detect", nil).Code)

	eligible := decode[[]RecordDTO](t, ts.do(t, http.MethodGet, "/api/advancements?status=eligible", nil))
	require.Len(t, eligible, 1)
	assert.Equal(t, "e1", eligible[0].EmployeeID)

	all := decode[[]RecordDTO](t, ts.do(t, http.MethodGet, "/api/advancements", nil))
	assert.Len(t, all, 2)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/advancements?status=promoted", nil).Code)
}

func TestEmployeeAdvancement(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, employeeBody("e1", "2021-01-01", 19, 5))
	ts.do(t, http.MethodPost, "/api/advancements/detect", nil)

	rec := ts.do(t, http.MethodGet, "/api/employees/e1/advancement", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6, decode[RecordDTO](t, rec).TargetEchelon)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/employees/e9/advancement", nil).Code)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func detectSingle(t *testing.T, ts *testServer, body map[string]any) RecordDTO {
	t.Helper()
	ts.seed(t, body)
	report := decode[ReportDTO](t, ts.do(t, http.MethodPost, "/api/advancements/detect", nil))
	require.Len(t, report.Records, 1)
	return report.Records[0]
}

func TestProcessAdvancement_Success(t *testing.T) {
	ts := newTestServer(t)
	r := detectSingle(t, ts, employeeBody("e1", "2021-01-01", 19, 5))

	rec := ts.do(t, http.MethodPost, "/api/advancements/"+r.ID+"/process",
		ProcessRequest{Actor: "hr-admin", DecisionType: "exceptional"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	processed := decode[RecordDTO](t, rec)
	assert.Equal(t, "processed", processed.Status)
	assert.Equal(t, "hr-admin", processed.ProcessedBy)
	assert.Equal(t, "exceptional", processed.DecisionType)
	require.NotNil(t, processed.ProcessedAt)
	assert.True(t, testNow.Equal(*processed.ProcessedAt))

	history := decode[[]StatusChangeDTO](t, ts.do(t, http.MethodGet, "/api/advancements/"+r.ID+"/history", nil))
	require.Len(t, history, 1)
	assert.Equal(t, "eligible", history[0].From)
	assert.Equal(t, "processed", history[0].To)

	// processed is final
	rec = ts.do(t, http.MethodPost, "/api/advancements/"+r.ID+"/suspend",
		SuspendRequest{Actor: "hr-admin", Reason: "late objection"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_transition")
}

func TestProcessAdvancement_PendingConflict(t *testing.T) {
	ts := newTestServer(t)
	r := detectSingle(t, ts, employeeBody("e1", "2024-01-01", 15, 3))

	rec := ts.do(t, http.MethodPost, "/api/advancements/"+r.ID+"/process", ProcessRequest{Actor: "hr-admin"})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProcessAdvancement_Validation(t *testing.T) {
	ts := newTestServer(t)
	r := detectSingle(t, ts, employeeBody("e1", "2021-01-01", 19, 5))

	cases := map[string]ProcessRequest{
		"missing actor":    {},
		"unknown decision": {Actor: "hr", DecisionType: "vote"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/advancements/"+r.ID+"/process", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := ts.do(t, http.MethodPost, "/api/advancements/missing/process", ProcessRequest{Actor: "hr"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSuspendAdvancement(t *testing.T) {
	ts := newTestServer(t)
	r := detectSingle(t, ts, employeeBody("e1", "2024-01-01", 15, 3))

	rec := ts.do(t, http.MethodPost, "/api/advancements/"+r.ID+"/suspend", SuspendRequest{Actor: "hr"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "reason is required")

	rec = ts.do(t, http.MethodPost, "/api/advancements/"+r.ID+"/suspend",
		SuspendRequest{Actor: "hr", Reason: "disciplinary review"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	suspended := decode[RecordDTO](t, rec)
	assert.Equal(t, "suspended", suspended.Status)
	assert.Equal(t, "disciplinary review", suspended.SuspensionReason)
}

// =============================================================================
// RUNS AND METRICS
// =============================================================================

func TestListDetectionRuns(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, employeeBody("e1", "2021-01-01", 19, 5))
	ts.do(t, http.MethodPost, "/api/advancements/detect", nil)
	ts.do(t, http.MethodPost, "/api/advancements/detect", nil)

	runs := decode[[]DetectionRunDTO](t, ts.do(t, http.MethodGet, "/api/detection/runs", nil))
	require.Len(t, runs, 2)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, 1, runs[0].Counts["eligible"])

	limited := decode[[]DetectionRunDTO](t, ts.do(t, http.MethodGet, "/api/detection/runs?limit=1", nil))
	assert.Len(t, limited, 1)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/detection/runs?limit=x", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, employeeBody("e1", "2021-01-01", 19, 5))
	ts.do(t, http.MethodPost, "/api/advancements/detect", nil)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "echelon_detection_runs_total 1")
	assert.Contains(t, rec.Body.String(), `echelon_advancement_records{status="eligible"} 1`)
}
