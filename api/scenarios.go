/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built employee populations that exercise every branch of
  the advancement rules. Appointment dates are relative to the handler
  clock so a scenario produces the same statuses whenever it is loaded.

AVAILABLE SCENARIOS:
  mixed-cohort:   One employee per outcome (eligible, pending, suspended,
                  blocked) plus an inactive employee that is ignored
  score-tiers:    Same appointment date, scores across the three duration tiers
  ceiling:        Senior staff at the last echelon

HOW SCENARIOS WORK:
  1. Reset database (clear all data)
  2. Save the scenario employees
  3. Run a detection pass at today's date

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "mixed-cohort"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Detect, ResetDatabase
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/echelon-engine/advancement"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	employees func(today time.Time) []advancement.EmployeeSnapshot
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "mixed-cohort",
			Name:        "Mixed Cohort",
			Description: "One employee per advancement outcome, plus an inactive employee",
		},
		employees: mixedCohort,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "score-tiers",
			Name:        "Score Tiers",
			Description: "Same appointment date, evaluation scores across the 30/36/42 month tiers",
		},
		employees: scoreTiers,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "ceiling",
			Name:        "Echelon Ceiling",
			Description: "Senior staff at the last echelon are blocked regardless of score",
		},
		employees: ceiling,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, map[string]any{"scenario": nil})
		return
	}
	s, _ := findScenario(current)
	writeJSON(w, http.StatusOK, map[string]any{"scenario": s.ScenarioDTO})
}

// LoadScenario resets the database, loads a scenario and runs detection.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}

	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	today := dateOf(h.Clock())
	if err := h.loadScenario(r.Context(), s, today); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	report, err := h.Engine.DetectFrom(r.Context(), h.Store, today)
	if err != nil {
		h.writeDetectError(w, report, err)
		return
	}

	h.Log.Info().Str("scenario", s.ID).Int("records", len(report.Records)).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]any{
		"scenario": s.ScenarioDTO,
		"report":   toReportDTO(report),
	})
}

func (h *Handler) loadScenario(ctx context.Context, s scenario, today time.Time) error {
	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	for _, emp := range s.employees(today) {
		if err := h.Store.SaveEmployee(ctx, emp); err != nil {
			return fmt.Errorf("save employee %s: %w", emp.ID, err)
		}
	}

	h.mu.Lock()
	h.currentScenario = s.ID
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO POPULATIONS
// =============================================================================

func demoEmployee(id, name string, appointed time.Time, score string, echelon int) advancement.EmployeeSnapshot {
	return advancement.EmployeeSnapshot{
		ID:              id,
		Name:            name,
		EmploymentType:  advancement.EmploymentTeaching,
		Grade:           "A2",
		CurrentEchelon:  echelon,
		AppointmentDate: appointed,
		EvaluationScore: decimal.RequireFromString(score),
		EvaluationYear:  appointed.Year() + 1,
		ActivityStatus:  advancement.ActivityActive,
	}
}

func mixedCohort(today time.Time) []advancement.EmployeeSnapshot {
	inactive := demoEmployee("emp-005", "Yassine Idrissi", today.AddDate(-5, 0, 0), "17", 6)
	inactive.ActivityStatus = advancement.ActivityInactive

	admin := demoEmployee("emp-006", "Salma Berrada", today.AddDate(-3, -2, 0), "15.5", 4)
	admin.EmploymentType = advancement.EmploymentAdministrative
	admin.Grade = "B1"

	return []advancement.EmployeeSnapshot{
		// 4 years at score 19: well past the 30 month tier
		demoEmployee("emp-001", "Amina El Fassi", today.AddDate(-4, 0, 0), "19", 5),
		// 34 of 36 months: approaching, still pending
		demoEmployee("emp-002", "Omar Benali", today.AddDate(0, -34, 0), "15", 3),
		// below the minimum score
		demoEmployee("emp-003", "Nadia Tazi", today.AddDate(-6, 0, 0), "10.5", 7),
		// last echelon
		demoEmployee("emp-004", "Karim Alaoui", today.AddDate(-9, 0, 0), "18.5", advancement.MaxEchelon),
		inactive,
		admin,
	}
}

func scoreTiers(today time.Time) []advancement.EmployeeSnapshot {
	appointed := today.AddDate(0, -33, 0)
	return []advancement.EmployeeSnapshot{
		demoEmployee("tier-fast", "Fast Tier", appointed, "18", 2),
		demoEmployee("tier-normal", "Normal Tier", appointed, "14", 2),
		demoEmployee("tier-slow", "Slow Tier", appointed, "12", 2),
		demoEmployee("tier-none", "Below Minimum", appointed, "11.99", 2),
	}
}

func ceiling(today time.Time) []advancement.EmployeeSnapshot {
	return []advancement.EmployeeSnapshot{
		demoEmployee("senior-001", "Fatima Zahra Chraibi", today.AddDate(-12, 0, 0), "19.5", 12),
		demoEmployee("senior-002", "Hassan Ouazzani", today.AddDate(-2, 0, 0), "16", 12),
		demoEmployee("senior-003", "Rachid Mansouri", today.AddDate(-4, 0, 0), "16", 11),
	}
}
