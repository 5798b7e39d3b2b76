/*
handlers.go - HTTP API handlers for the echelon advancement engine

PURPOSE:
  Exposes the advancement engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Employees:
    GET    /api/employees                   List employee snapshots
    POST   /api/employees                   Create or replace an employee
    GET    /api/employees/{id}              Get employee
    DELETE /api/employees/{id}              Delete employee
    GET    /api/employees/{id}/advancement  Current advancement record

  Advancements:
    POST   /api/advancements/detect         Run detection over stored employees
    GET    /api/advancements                List records (?status=eligible)
    GET    /api/advancements/{id}           Get record
    GET    /api/advancements/{id}/history   Status change audit trail
    POST   /api/advancements/{id}/process   Promote an eligible record
    POST   /api/advancements/{id}/suspend   Suspend a pending/eligible record

  Detection:
    GET    /api/detection/runs              Detection run history (?limit=20)

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Employees, records, runs (SQLite)
  - Engine: Detection and transitions
  - validator: Request DTO validation

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Employee or record not found
  - 409: Transition not allowed from the record's status
  - 500: Internal errors

SECURITY NOTE:
  No authentication. The actor of a transition is taken from the request
  body as-is.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/echelon-engine/advancement"
	"github.com/warp/echelon-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Engine *advancement.Engine
	Log    zerolog.Logger

	// Clock supplies the default evaluation date for detection runs.
	Clock func() time.Time

	validator *requestValidator

	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler with the given store and engine.
func NewHandler(store *sqlite.Store, engine *advancement.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		Store:     store,
		Engine:    engine,
		Log:       log.With().Str("component", "api").Logger(),
		Clock:     time.Now,
		validator: newRequestValidator(),
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEmployee creates or replaces an employee snapshot.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}

	emp := req.toSnapshot()
	if emp.AppointmentDate.After(h.Clock()) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Code:    "validation_error",
			Details: map[string]string{"appointment_date": "appointment_date cannot be in the future"},
		})
		return
	}

	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save employee", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	emp, err := h.Store.GetEmployee(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// DeleteEmployee removes an employee. Its record stays until the next detection run.
func (h *Handler) DeleteEmployee(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Store.DeleteEmployee(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete employee", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GetEmployeeAdvancement returns the current record of an employee.
func (h *Handler) GetEmployeeAdvancement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.Engine.RecordForEmployee(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get advancement", err)
		return
	}

	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// =============================================================================
// ADVANCEMENT HANDLERS
// =============================================================================

// Detect runs a detection pass over all stored employees.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if !h.decodeAndValidate(w, r, &req, true) {
		return
	}

	now := dateOf(h.Clock())
	if req.Now != "" {
		now, _ = time.Parse(dateLayout, req.Now)
	}

	report, err := h.Engine.DetectFrom(r.Context(), h.Store, now)
	if err != nil {
		h.writeDetectError(w, report, err)
		return
	}

	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// ListAdvancements returns the records of the last detection run.
func (h *Handler) ListAdvancements(w http.ResponseWriter, r *http.Request) {
	status := advancement.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status filter", nil)
		return
	}

	records, err := h.Engine.Records(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list advancements", err)
		return
	}

	writeJSON(w, http.StatusOK, toRecordDTOs(records))
}

// GetAdvancement returns a single record.
func (h *Handler) GetAdvancement(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Engine.Record(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get advancement", err)
		return
	}

	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// GetAdvancementHistory returns the audit trail of a record.
func (h *Handler) GetAdvancementHistory(w http.ResponseWriter, r *http.Request) {
	changes, err := h.Engine.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get history", err)
		return
	}

	dtos := make([]StatusChangeDTO, len(changes))
	for i, c := range changes {
		dtos[i] = toStatusChangeDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ProcessAdvancement promotes an eligible record.
func (h *Handler) ProcessAdvancement(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}

	rec, err := h.Engine.Process(r.Context(), chi.URLParam(r, "id"), req.Actor,
		advancement.DecisionType(req.DecisionType), h.Clock())
	if err != nil {
		writeDomainError(w, "Failed to process advancement", err)
		return
	}

	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// SuspendAdvancement suspends a pending or eligible record.
func (h *Handler) SuspendAdvancement(w http.ResponseWriter, r *http.Request) {
	var req SuspendRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}

	rec, err := h.Engine.Suspend(r.Context(), chi.URLParam(r, "id"), req.Actor, req.Reason, h.Clock())
	if err != nil {
		writeDomainError(w, "Failed to suspend advancement", err)
		return
	}

	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// =============================================================================
// DETECTION RUNS
// =============================================================================

// ListDetectionRuns returns the recent detection runs.
func (h *Handler) ListDetectionRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Engine.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list detection runs", err)
		return
	}

	dtos := make([]DetectionRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toDetectionRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError picks the HTTP status from the advancement error kind.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case advancement.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case advancement.IsConflict(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: message, Code: "invalid_transition", Details: err.Error()})
	case advancement.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

// writeDetectError reports a failed detection run. When the run got as far
// as evaluating employees, its report (skipped employees included) goes in
// the details so the caller does not lose it.
func (h *Handler) writeDetectError(w http.ResponseWriter, report *advancement.Report, err error) {
	if report == nil {
		writeDomainError(w, "Detection run failed", err)
		return
	}
	h.Log.Error().Err(err).Str("run_id", report.RunID).Msg(report.Summary())
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "Detection run failed",
		Code:    "persistence_error",
		Details: DetectFailureDTO{Reason: err.Error(), Report: toReportDTO(report)},
	})
}

// dateOf truncates t to its UTC calendar date.
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return advancement.Date(y, m, d)
}
