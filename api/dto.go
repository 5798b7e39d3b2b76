/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the advancement domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Employees:    EmployeeDTO, CreateEmployeeRequest
  Advancement:  RecordDTO, SeniorityDTO, EvaluationDTO, StatusChangeDTO
  Detection:    DetectRequest, ReportDTO, DetectionRunDTO
  Transitions:  ProcessRequest, SuspendRequest
  Scenarios:    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry go-playground/validator tags. Errors report JSON
  field names (see validate.go).

DATES:
  Calendar dates are "YYYY-MM-DD". Timestamps are RFC 3339.

SEE ALSO:
  - handlers.go: Uses these types
  - advancement/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/warp/echelon-engine/advancement"
)

const dateLayout = "2006-01-02"

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeDTO represents an employee snapshot in API responses.
type EmployeeDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	EmploymentType  string `json:"employment_type"`
	Grade           string `json:"grade,omitempty"`
	CurrentEchelon  int    `json:"current_echelon"`
	AppointmentDate string `json:"appointment_date"`
	EvaluationScore string `json:"evaluation_score"`
	EvaluationYear  int    `json:"evaluation_year,omitempty"`
	ActivityStatus  string `json:"activity_status"`
}

// CreateEmployeeRequest creates or replaces an employee snapshot.
type CreateEmployeeRequest struct {
	ID              string   `json:"id"               validate:"required,max=64"`
	Name            string   `json:"name"             validate:"required,notblank"`
	EmploymentType  string   `json:"employment_type"  validate:"required,oneof=teaching administrative"`
	Grade           string   `json:"grade"            validate:"max=32"`
	CurrentEchelon  int      `json:"current_echelon"  validate:"required,min=1,max=12"`
	AppointmentDate string   `json:"appointment_date" validate:"required,datetime=2006-01-02"`
	EvaluationScore *float64 `json:"evaluation_score" validate:"required,gte=0,lte=20"`
	EvaluationYear  int      `json:"evaluation_year"  validate:"omitempty,gte=1900,lte=2200"`
	ActivityStatus  string   `json:"activity_status"  validate:"omitempty,oneof=active inactive suspended"`
}

func (r CreateEmployeeRequest) toSnapshot() advancement.EmployeeSnapshot {
	appointment, _ := time.Parse(dateLayout, r.AppointmentDate)
	status := advancement.ActivityStatus(r.ActivityStatus)
	if status == "" {
		status = advancement.ActivityActive
	}
	return advancement.EmployeeSnapshot{
		ID:              r.ID,
		Name:            r.Name,
		EmploymentType:  advancement.EmploymentType(r.EmploymentType),
		Grade:           r.Grade,
		CurrentEchelon:  r.CurrentEchelon,
		AppointmentDate: appointment,
		EvaluationScore: advancement.ScoreFromFloat(*r.EvaluationScore),
		EvaluationYear:  r.EvaluationYear,
		ActivityStatus:  status,
	}
}

func toEmployeeDTO(e advancement.EmployeeSnapshot) EmployeeDTO {
	return EmployeeDTO{
		ID:              e.ID,
		Name:            e.Name,
		EmploymentType:  string(e.EmploymentType),
		Grade:           e.Grade,
		CurrentEchelon:  e.CurrentEchelon,
		AppointmentDate: e.AppointmentDate.Format(dateLayout),
		EvaluationScore: e.EvaluationScore.String(),
		EvaluationYear:  e.EvaluationYear,
		ActivityStatus:  string(e.ActivityStatus),
	}
}

// =============================================================================
// ADVANCEMENT RECORDS
// =============================================================================

// RecordDTO represents an advancement record.
type RecordDTO struct {
	ID               string        `json:"id"`
	EmployeeID       string        `json:"employee_id"`
	EmployeeName     string        `json:"employee_name"`
	CurrentEchelon   int           `json:"current_echelon"`
	TargetEchelon    int           `json:"target_echelon"`
	AppointmentDate  string        `json:"appointment_date"`
	EligibilityDate  *string       `json:"eligibility_date"`
	Seniority        SeniorityDTO  `json:"seniority"`
	Evaluation       EvaluationDTO `json:"evaluation"`
	Status           string        `json:"status"`
	SuspensionReason string        `json:"suspension_reason,omitempty"`
	ProcessedAt      *time.Time    `json:"processed_at,omitempty"`
	ProcessedBy      string        `json:"processed_by,omitempty"`
	DecisionType     string        `json:"decision_type,omitempty"`
	ComputedAt       time.Time     `json:"computed_at"`
}

type SeniorityDTO struct {
	Months    int `json:"months"`
	Days      int `json:"days"`
	TotalDays int `json:"total_days"`
}

type EvaluationDTO struct {
	Score                  string `json:"score"`
	Year                   int    `json:"year"`
	RequiredDurationMonths int    `json:"required_duration_months"`
	DurationLabel          string `json:"duration_label,omitempty"`
}

func toRecordDTO(r advancement.Record) RecordDTO {
	dto := RecordDTO{
		ID:              r.ID,
		EmployeeID:      r.EmployeeID,
		EmployeeName:    r.EmployeeName,
		CurrentEchelon:  r.CurrentEchelon,
		TargetEchelon:   r.TargetEchelon,
		AppointmentDate: r.AppointmentDate.Format(dateLayout),
		Seniority: SeniorityDTO{
			Months:    r.Seniority.Months,
			Days:      r.Seniority.Days,
			TotalDays: r.Seniority.TotalDays,
		},
		Evaluation: EvaluationDTO{
			Score:                  r.Evaluation.Score.String(),
			Year:                   r.Evaluation.Year,
			RequiredDurationMonths: r.Evaluation.RequiredDuration.Months(),
		},
		Status:           string(r.Status),
		SuspensionReason: r.SuspensionReason,
		ProcessedAt:      r.ProcessedAt,
		ProcessedBy:      r.ProcessedBy,
		DecisionType:     string(r.DecisionType),
		ComputedAt:       r.ComputedAt,
	}
	if r.Evaluation.RequiredDuration != 0 {
		dto.Evaluation.DurationLabel = r.Evaluation.RequiredDuration.Label()
	}
	if !r.EligibilityDate.IsZero() {
		d := r.EligibilityDate.Format(dateLayout)
		dto.EligibilityDate = &d
	}
	return dto
}

func toRecordDTOs(records []advancement.Record) []RecordDTO {
	dtos := make([]RecordDTO, len(records))
	for i, r := range records {
		dtos[i] = toRecordDTO(r)
	}
	return dtos
}

// StatusChangeDTO is one entry of a record's audit trail.
type StatusChangeDTO struct {
	ID     string    `json:"id"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason,omitempty"`
	Actor  string    `json:"actor"`
	At     time.Time `json:"at"`
}

func toStatusChangeDTO(c advancement.StatusChange) StatusChangeDTO {
	return StatusChangeDTO{
		ID:     c.ID,
		From:   string(c.From),
		To:     string(c.To),
		Reason: c.Reason,
		Actor:  c.Actor,
		At:     c.At,
	}
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// ProcessRequest promotes an eligible record.
type ProcessRequest struct {
	Actor        string `json:"actor"         validate:"required,notblank"`
	DecisionType string `json:"decision_type" validate:"omitempty,oneof=automatic manual exceptional"`
}

// SuspendRequest suspends a pending or eligible record.
type SuspendRequest struct {
	Actor  string `json:"actor"  validate:"required,notblank"`
	Reason string `json:"reason" validate:"required,notblank,max=500"`
}

// =============================================================================
// DETECTION
// =============================================================================

// DetectRequest triggers a detection run. Now defaults to today.
type DetectRequest struct {
	Now string `json:"now" validate:"omitempty,datetime=2006-01-02"`
}

type SkippedDTO struct {
	EmployeeID string `json:"employee_id"`
	Reason     string `json:"reason"`
}

// ReportDTO is the outcome of a detection run.
type ReportDTO struct {
	RunID     string         `json:"run_id"`
	Now       string         `json:"now"`
	Evaluated int            `json:"evaluated"`
	Ignored   int            `json:"ignored"`
	Counts    map[string]int `json:"counts"`
	Skipped   []SkippedDTO   `json:"skipped"`
	Records   []RecordDTO    `json:"records"`
	Summary   string         `json:"summary"`
}

func toReportDTO(r *advancement.Report) ReportDTO {
	return ReportDTO{
		RunID:     r.RunID,
		Now:       r.Now.Format(dateLayout),
		Evaluated: r.Evaluated,
		Ignored:   r.Ignored,
		Counts:    countsDTO(r.Counts),
		Skipped:   skippedDTOs(r.Skipped),
		Records:   toRecordDTOs(r.Records),
		Summary:   r.Summary(),
	}
}

// DetectionRunDTO is one entry of the detection run history.
type DetectionRunDTO struct {
	ID          string         `json:"id"`
	Now         string         `json:"now"`
	Status      string         `json:"status"`
	Evaluated   int            `json:"evaluated"`
	Ignored     int            `json:"ignored"`
	Counts      map[string]int `json:"counts"`
	Skipped     []SkippedDTO   `json:"skipped"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func toDetectionRunDTO(r advancement.DetectionRun) DetectionRunDTO {
	return DetectionRunDTO{
		ID:          r.ID,
		Now:         r.Now.Format(dateLayout),
		Status:      string(r.Status),
		Evaluated:   r.Evaluated,
		Ignored:     r.Ignored,
		Counts:      countsDTO(r.Counts),
		Skipped:     skippedDTOs(r.Skipped),
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

func countsDTO(counts map[advancement.Status]int) map[string]int {
	out := make(map[string]int, len(counts))
	for st, n := range counts {
		out[string(st)] = n
	}
	return out
}

func skippedDTOs(skipped []advancement.SkippedEmployee) []SkippedDTO {
	out := make([]SkippedDTO, len(skipped))
	for i, s := range skipped {
		out[i] = SkippedDTO{EmployeeID: s.EmployeeID, Reason: s.Reason}
	}
	return out
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// DetectFailureDTO is the details of a detection run that evaluated every
// employee but could not write the records.
type DetectFailureDTO struct {
	Reason string    `json:"reason"`
	Report ReportDTO `json:"report"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
