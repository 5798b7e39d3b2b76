/*
engine.go - Batch detection and operator transitions

PURPOSE:
  Engine is the entry point used by the API, the scheduler and the CLI.
  It runs detection passes over employee snapshots and applies operator
  decisions (promotion, suspension) to the resulting records.

DETECTION PASS:
  1. Ignore non-active employees
  2. Assemble one record per employee (insufficient scores → suspended)
  3. Skip and log employees whose snapshot cannot be evaluated
  4. Carry operator decisions forward (see carryForward)
  5. ReplaceBatch records and audit entries; a store failure fails the run
  6. Record the run summary when the store is a RunRecorder

CONCURRENCY:
  Detection and transitions are serialised by a mutex. A transition must
  not race a replacement of the record it is updating.

EXAMPLE:
  engine := advancement.NewEngine(store, advancement.WithLogger(log))
  report, err := engine.Detect(ctx, employees, time.Now())
  if err != nil { ... nothing was written ... }
  fmt.Println(report.Summary())

  rec, err := engine.Process(ctx, report.Records[0].ID, "hr-admin", advancement.DecisionManual, time.Now())
*/
package advancement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine runs detection passes and operator transitions against a RecordStore.
type Engine struct {
	store   RecordStore
	log     zerolog.Logger
	metrics *Metrics
	clock   func() time.Time

	mu sync.Mutex
}

// DetectionActor is the actor of status changes written by a detection run.
const DetectionActor = "detection"

type Option func(*Engine)

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log.With().Str("component", "advancement").Logger() }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the clock used for run bookkeeping timestamps.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func NewEngine(store RecordStore, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		log:   zerolog.Nop(),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// DETECTION
// =============================================================================

// SkippedEmployee is an employee left out of a run, with the reason.
type SkippedEmployee struct {
	EmployeeID string
	Reason     string
}

// Report is the outcome of a detection pass.
type Report struct {
	RunID     string
	Now       time.Time
	Records   []Record
	Evaluated int // active employees seen
	Ignored   int // non-active employees
	Skipped   []SkippedEmployee
	Counts    map[Status]int
}

// Summary is a one-line human readable digest of the report.
func (r *Report) Summary() string {
	var parts []string
	for _, st := range Statuses {
		if n := r.Counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", st, n))
		}
	}
	s := fmt.Sprintf("%d records (%s), %d ignored, %d skipped",
		len(r.Records), strings.Join(parts, " "), r.Ignored, len(r.Skipped))
	for _, sk := range r.Skipped {
		s += fmt.Sprintf("; %s: %s", sk.EmployeeID, sk.Reason)
	}
	return s
}

// Detect evaluates every employee at now and replaces the stored records.
//
// Per-employee failures never abort the batch. The returned report is
// always non-nil; on a persistence failure it describes what would have
// been written and the error wraps ErrPersistence.
func (e *Engine) Detect(ctx context.Context, employees []EmployeeSnapshot, now time.Time) (*Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := e.clock()
	report := &Report{
		RunID:   uuid.NewString(),
		Now:     now,
		Records: make([]Record, 0, len(employees)),
		Counts:  make(map[Status]int),
	}

	e.saveRun(ctx, DetectionRun{ID: report.RunID, Now: now, Status: RunRunning, StartedAt: started})

	for _, emp := range employees {
		if !emp.IsActive() {
			report.Ignored++
			continue
		}
		report.Evaluated++

		rec, err := Assemble(emp, now)
		if err != nil {
			reason := err.Error()
			var cerr *ComputationError
			if errors.As(err, &cerr) {
				reason = cerr.Reason
			}
			e.log.Warn().Err(err).Str("employee_id", emp.ID).Msg("skipping employee")
			report.Skipped = append(report.Skipped, SkippedEmployee{EmployeeID: emp.ID, Reason: reason})
			continue
		}

		report.Records = append(report.Records, rec)
	}

	changes, err := e.carryForward(ctx, report)
	if err == nil {
		err = e.store.ReplaceBatch(ctx, report.Records, changes)
	}
	for _, rec := range report.Records {
		report.Counts[rec.Status]++
	}
	if err != nil {
		e.metrics.observeRun(report, e.clock().Sub(started), true)
		e.log.Error().Err(err).Str("run_id", report.RunID).Msg("detection run failed to persist")
		e.finishRun(ctx, report, started, err)
		return report, fmt.Errorf("%w: replace records: %w", ErrPersistence, err)
	}

	e.metrics.observeRun(report, e.clock().Sub(started), false)
	e.finishRun(ctx, report, started, nil)

	e.log.Info().
		Str("run_id", report.RunID).
		Int("records", len(report.Records)).
		Int("ignored", report.Ignored).
		Int("skipped", len(report.Skipped)).
		Int("eligible", report.Counts[StatusEligible]).
		Msg("detection run completed")

	return report, nil
}

// carryForward reconciles the new batch with the stored one so operator
// decisions survive a re-run. For an employee whose echelon is unchanged:
//   - a processed record is kept as is
//   - an operator-suspended record keeps its id, status and reason, with
//     the recomputed seniority and dates
//
// When the echelon changed, the new record replaces the decided one and
// the replacement is written to its audit trail. Records suspended by the
// score rule are plain computations and are simply replaced.
func (e *Engine) carryForward(ctx context.Context, report *Report) ([]StatusChange, error) {
	prior, err := e.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("get records: %w", err)
	}
	byEmployee := make(map[string]Record, len(prior))
	for _, p := range prior {
		byEmployee[p.EmployeeID] = p
	}

	var changes []StatusChange
	for i, rec := range report.Records {
		p, ok := byEmployee[rec.EmployeeID]
		if !ok {
			continue
		}
		decided, err := e.operatorDecided(ctx, p)
		if err != nil {
			return nil, err
		}
		if !decided {
			continue
		}

		if p.CurrentEchelon != rec.CurrentEchelon {
			changes = append(changes, StatusChange{
				ID:         uuid.NewString(),
				RecordID:   rec.ID,
				EmployeeID: rec.EmployeeID,
				From:       p.Status,
				To:         rec.Status,
				Reason:     fmt.Sprintf("replaced by run %s: supersedes %s at echelon %d", report.RunID, p.ID, p.CurrentEchelon),
				Actor:      DetectionActor,
				At:         report.Now,
			})
			continue
		}

		if p.Status == StatusProcessed {
			report.Records[i] = p
			continue
		}

		kept := rec
		kept.ID = p.ID
		kept.Status = StatusSuspended
		kept.SuspensionReason = p.SuspensionReason
		report.Records[i] = kept
	}
	return changes, nil
}

// operatorDecided reports whether p carries an operator decision: it was
// processed, or suspended through a transition rather than by the score rule.
func (e *Engine) operatorDecided(ctx context.Context, p Record) (bool, error) {
	switch p.Status {
	case StatusProcessed:
		return true, nil
	case StatusSuspended:
		history, err := e.store.History(ctx, p.ID)
		if err != nil {
			return false, fmt.Errorf("history %s: %w", p.ID, err)
		}
		for _, c := range history {
			if c.To == StatusSuspended && c.Actor != DetectionActor {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, nil
	}
}

// DetectFrom loads the employees from src and runs Detect.
func (e *Engine) DetectFrom(ctx context.Context, src EmployeeSource, now time.Time) (*Report, error) {
	employees, err := src.ListEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	return e.Detect(ctx, employees, now)
}

func (e *Engine) finishRun(ctx context.Context, report *Report, started time.Time, runErr error) {
	completed := e.clock()
	run := DetectionRun{
		ID:          report.RunID,
		Now:         report.Now,
		Status:      RunCompleted,
		Evaluated:   report.Evaluated,
		Ignored:     report.Ignored,
		Counts:      report.Counts,
		Skipped:     report.Skipped,
		StartedAt:   started,
		CompletedAt: &completed,
	}
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
	}
	e.saveRun(ctx, run)
}

func (e *Engine) saveRun(ctx context.Context, run DetectionRun) {
	rr, ok := e.store.(RunRecorder)
	if !ok {
		return
	}
	if err := rr.SaveDetectionRun(ctx, run); err != nil {
		e.log.Warn().Err(err).Str("run_id", run.ID).Msg("failed to save detection run")
	}
}

// Runs returns the most recent detection runs, newest first.
// Returns nil when the store does not keep run history.
func (e *Engine) Runs(ctx context.Context, limit int) ([]DetectionRun, error) {
	rr, ok := e.store.(RunRecorder)
	if !ok {
		return nil, nil
	}
	return rr.ListDetectionRuns(ctx, limit)
}

// =============================================================================
// OPERATOR TRANSITIONS
// =============================================================================

// Process promotes an eligible record.
func (e *Engine) Process(ctx context.Context, recordID, actor string, decision DecisionType, at time.Time) (Record, error) {
	if decision == "" {
		decision = DecisionManual
	}
	if !decision.Valid() {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	return e.transition(ctx, recordID, actor, StatusProcessed, "", at, func(rec *Record) {
		processedAt := at
		rec.ProcessedAt = &processedAt
		rec.ProcessedBy = actor
		rec.DecisionType = decision
	})
}

// Suspend suspends a pending or eligible record. reason is mandatory.
func (e *Engine) Suspend(ctx context.Context, recordID, actor, reason string, at time.Time) (Record, error) {
	if strings.TrimSpace(reason) == "" {
		return Record{}, ErrReasonRequired
	}

	return e.transition(ctx, recordID, actor, StatusSuspended, reason, at, func(rec *Record) {
		rec.SuspensionReason = reason
	})
}

func (e *Engine) transition(ctx context.Context, recordID, actor string, to Status, reason string, at time.Time, apply func(*Record)) (Record, error) {
	if strings.TrimSpace(actor) == "" {
		return Record{}, ErrActorRequired
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.store.Get(ctx, recordID)
	if err != nil {
		return Record{}, fmt.Errorf("get record: %w", err)
	}
	if rec == nil {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}
	if !CanTransition(rec.Status, to) {
		return Record{}, &TransitionError{RecordID: rec.ID, From: rec.Status, To: to}
	}

	updated := *rec
	updated.Status = to
	apply(&updated)

	change := StatusChange{
		ID:         uuid.NewString(),
		RecordID:   rec.ID,
		EmployeeID: rec.EmployeeID,
		From:       rec.Status,
		To:         to,
		Reason:     reason,
		Actor:      actor,
		At:         at,
	}
	if err := e.store.ApplyTransition(ctx, updated, change); err != nil {
		return Record{}, fmt.Errorf("apply transition: %w", err)
	}

	e.metrics.observeTransition(to)
	e.log.Info().
		Str("record_id", rec.ID).
		Str("employee_id", rec.EmployeeID).
		Str("from", string(change.From)).
		Str("to", string(to)).
		Str("actor", actor).
		Msg("advancement status changed")

	return updated, nil
}

// =============================================================================
// READS
// =============================================================================

// Records returns the stored records, optionally filtered by status.
func (e *Engine) Records(ctx context.Context, status Status) ([]Record, error) {
	all, err := e.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return all, nil
	}
	filtered := make([]Record, 0, len(all))
	for _, r := range all {
		if r.Status == status {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// Record returns one record by id.
func (e *Engine) Record(ctx context.Context, id string) (Record, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if rec == nil {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return *rec, nil
}

// RecordForEmployee returns the current record of an employee.
func (e *Engine) RecordForEmployee(ctx context.Context, employeeID string) (Record, error) {
	all, err := e.store.GetAll(ctx)
	if err != nil {
		return Record{}, err
	}
	for _, r := range all {
		if r.EmployeeID == employeeID {
			return r, nil
		}
	}
	return Record{}, fmt.Errorf("%w: no record for employee %s", ErrRecordNotFound, employeeID)
}

// History returns the status changes of a record. The audit trail outlives
// the record: a record replaced by a later run still has its history.
func (e *Engine) History(ctx context.Context, recordID string) ([]StatusChange, error) {
	changes, err := e.store.History(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if len(changes) > 0 {
		return changes, nil
	}
	if _, err := e.Record(ctx, recordID); err != nil {
		return nil, err
	}
	return changes, nil
}
