/*
Package sqlite provides a SQLite-backed implementation of the advancement stores.

PURPOSE:
  Persists employees, advancement records, the status change audit trail
  and detection runs. The same schema ports to PostgreSQL with minor
  dialect changes.

INTERFACES IMPLEMENTED:
  advancement.RecordStore:    Records (replace-all) and transitions
  advancement.RunRecorder:    Detection run history
  advancement.EmployeeSource: Employee snapshots for detection runs

KEY TABLES:
  employees:           Employee snapshots (input to detection)
  advancement_records: Result of the last detection run, in batch order
  status_changes:      Append-only audit of operator transitions
  detection_runs:      One row per detection pass

REPLACE-ALL:
  ReplaceBatch() deletes and re-inserts advancement_records, and appends
  the run's status_changes, inside one SQL transaction. Readers see either
  the previous batch or the new one. status_changes is never truncated by
  a detection run.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, on top of SQLite's single writer.

USAGE:
  store, err := sqlite.New("./data/echelon.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := advancement.NewEngine(store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/echelon-engine/advancement"
)

var (
	_ advancement.RecordStore    = (*Store)(nil)
	_ advancement.RunRecorder    = (*Store)(nil)
	_ advancement.EmployeeSource = (*Store)(nil)
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Employees (detection input)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		employment_type TEXT NOT NULL,
		grade TEXT NOT NULL DEFAULT '',
		current_echelon INTEGER NOT NULL,
		appointment_date TEXT NOT NULL,
		evaluation_score TEXT NOT NULL,
		evaluation_year INTEGER NOT NULL DEFAULT 0,
		activity_status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Advancement records (replaced by every detection run)
	CREATE TABLE IF NOT EXISTS advancement_records (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		employee_id TEXT NOT NULL,
		employee_name TEXT NOT NULL,
		current_echelon INTEGER NOT NULL,
		target_echelon INTEGER NOT NULL,
		appointment_date TEXT NOT NULL,
		eligibility_date TEXT,
		seniority_months INTEGER NOT NULL,
		seniority_days INTEGER NOT NULL,
		seniority_total_days INTEGER NOT NULL,
		evaluation_score TEXT NOT NULL,
		evaluation_year INTEGER NOT NULL,
		required_duration INTEGER NOT NULL,
		status TEXT NOT NULL,
		suspension_reason TEXT,
		processed_at TEXT,
		processed_by TEXT,
		decision_type TEXT,
		computed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_employee
		ON advancement_records(employee_id);
	CREATE INDEX IF NOT EXISTS idx_records_status
		ON advancement_records(status);

	-- Status changes (append-only audit)
	CREATE TABLE IF NOT EXISTS status_changes (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		reason TEXT,
		actor TEXT NOT NULL,
		changed_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_status_changes_record
		ON status_changes(record_id, changed_at);
	CREATE INDEX IF NOT EXISTS idx_status_changes_employee
		ON status_changes(employee_id);

	-- Detection runs
	CREATE TABLE IF NOT EXISTS detection_runs (
		id TEXT PRIMARY KEY,
		evaluated_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		evaluated INTEGER DEFAULT 0,
		ignored INTEGER DEFAULT 0,
		counts_json TEXT,
		skipped_json TEXT,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_detection_runs_started
		ON detection_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// EMPLOYEES (advancement.EmployeeSource)
// =============================================================================

// SaveEmployee inserts or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp advancement.EmployeeSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, name, employment_type, grade, current_echelon,
			appointment_date, evaluation_score, evaluation_year, activity_status,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			employment_type = excluded.employment_type,
			grade = excluded.grade,
			current_echelon = excluded.current_echelon,
			appointment_date = excluded.appointment_date,
			evaluation_score = excluded.evaluation_score,
			evaluation_year = excluded.evaluation_year,
			activity_status = excluded.activity_status,
			updated_at = excluded.updated_at
	`

	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, query,
		emp.ID, emp.Name, string(emp.EmploymentType), emp.Grade, emp.CurrentEchelon,
		formatTime(emp.AppointmentDate), emp.EvaluationScore.String(), emp.EvaluationYear,
		string(emp.ActivityStatus), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

const employeeColumns = `id, name, employment_type, grade, current_echelon,
	appointment_date, evaluation_score, evaluation_year, activity_status`

// GetEmployee returns an employee or (nil, nil) if not found.
func (s *Store) GetEmployee(ctx context.Context, id string) (*advancement.EmployeeSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+employeeColumns+" FROM employees WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	emp, err := scanEmployee(rows)
	if err != nil {
		return nil, err
	}
	return &emp, nil
}

// ListEmployees returns every employee ordered by name.
func (s *Store) ListEmployees(ctx context.Context) ([]advancement.EmployeeSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+employeeColumns+" FROM employees ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []advancement.EmployeeSnapshot
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// DeleteEmployee removes an employee. Returns ErrEmployeeNotFound if absent.
func (s *Store) DeleteEmployee(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM employees WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return advancement.ErrEmployeeNotFound
	}
	return nil
}

func scanEmployee(rows *sql.Rows) (advancement.EmployeeSnapshot, error) {
	var emp advancement.EmployeeSnapshot
	var employmentType, appointment, score, activity string
	if err := rows.Scan(&emp.ID, &emp.Name, &employmentType, &emp.Grade, &emp.CurrentEchelon,
		&appointment, &score, &emp.EvaluationYear, &activity); err != nil {
		return emp, err
	}
	emp.EmploymentType = advancement.EmploymentType(employmentType)
	emp.ActivityStatus = advancement.ActivityStatus(activity)
	var err error
	if emp.AppointmentDate, err = parseTime("appointment_date", appointment); err != nil {
		return emp, fmt.Errorf("employee %s: %w", emp.ID, err)
	}
	if emp.EvaluationScore, err = parseDecimal("evaluation_score", score); err != nil {
		return emp, fmt.Errorf("employee %s: %w", emp.ID, err)
	}
	return emp, nil
}

// =============================================================================
// RECORDS (advancement.Repository / advancement.RecordStore)
// =============================================================================

const recordColumns = `id, employee_id, employee_name, current_echelon, target_echelon,
	appointment_date, eligibility_date, seniority_months, seniority_days, seniority_total_days,
	evaluation_score, evaluation_year, required_duration, status, suspension_reason,
	processed_at, processed_by, decision_type, computed_at`

// GetAll returns the records of the last detection run in batch order.
func (s *Store) GetAll(ctx context.Context) ([]advancement.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRecords(ctx,
		"SELECT "+recordColumns+" FROM advancement_records ORDER BY position")
}

// ReplaceAll atomically replaces every record.
func (s *Store) ReplaceAll(ctx context.Context, records []advancement.Record) error {
	return s.ReplaceBatch(ctx, records, nil)
}

// ReplaceBatch replaces every record and appends changes in one transaction.
func (s *Store) ReplaceBatch(ctx context.Context, records []advancement.Record, changes []advancement.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx, "DELETE FROM advancement_records"); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}

	stmt, err := sqlTx.PrepareContext(ctx, `
		INSERT INTO advancement_records (position, `+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		args := append([]any{i}, recordArgs(r)...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert record %s: %w", r.ID, err)
		}
	}

	for _, c := range changes {
		if err := insertStatusChange(ctx, sqlTx, c); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

// Get returns a record or (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, id string) (*advancement.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.queryRecords(ctx,
		"SELECT "+recordColumns+" FROM advancement_records WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// ApplyTransition updates the record and appends the status change atomically.
func (s *Store) ApplyTransition(ctx context.Context, rec advancement.Record, change advancement.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE advancement_records
		SET status = ?, suspension_reason = ?, processed_at = ?, processed_by = ?, decision_type = ?
		WHERE id = ?
	`,
		string(rec.Status), nullString(rec.SuspensionReason), formatTimePtr(rec.ProcessedAt),
		nullString(rec.ProcessedBy), nullString(string(rec.DecisionType)), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return advancement.ErrRecordNotFound
	}

	if err := insertStatusChange(ctx, sqlTx, change); err != nil {
		return err
	}

	return sqlTx.Commit()
}

func insertStatusChange(ctx context.Context, tx *sql.Tx, change advancement.StatusChange) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO status_changes (id, record_id, employee_id, from_status, to_status,
			reason, actor, changed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		change.ID, change.RecordID, change.EmployeeID, string(change.From), string(change.To),
		nullString(change.Reason), change.Actor, formatTime(change.At),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to append status change %s: %w", change.ID, err)
	}
	return nil
}

// History returns the status changes of a record, oldest first.
func (s *Store) History(ctx context.Context, recordID string) ([]advancement.StatusChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_id, employee_id, from_status, to_status, reason, actor, changed_at
		FROM status_changes
		WHERE record_id = ?
		ORDER BY changed_at ASC, created_at ASC
	`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	changes := []advancement.StatusChange{}
	for rows.Next() {
		var c advancement.StatusChange
		var from, to, changedAt string
		var reason sql.NullString
		if err := rows.Scan(&c.ID, &c.RecordID, &c.EmployeeID, &from, &to, &reason, &c.Actor, &changedAt); err != nil {
			return nil, err
		}
		c.From = advancement.Status(from)
		c.To = advancement.Status(to)
		c.Reason = reason.String
		at, err := parseTime("changed_at", changedAt)
		if err != nil {
			return nil, fmt.Errorf("status change %s: %w", c.ID, err)
		}
		c.At = at
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]advancement.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []advancement.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func recordArgs(r advancement.Record) []any {
	var eligibility sql.NullString
	if !r.EligibilityDate.IsZero() {
		eligibility = sql.NullString{String: formatTime(r.EligibilityDate), Valid: true}
	}
	return []any{
		r.ID, r.EmployeeID, r.EmployeeName, r.CurrentEchelon, r.TargetEchelon,
		formatTime(r.AppointmentDate), eligibility,
		r.Seniority.Months, r.Seniority.Days, r.Seniority.TotalDays,
		r.Evaluation.Score.String(), r.Evaluation.Year, int(r.Evaluation.RequiredDuration),
		string(r.Status), nullString(r.SuspensionReason),
		formatTimePtr(r.ProcessedAt), nullString(r.ProcessedBy), nullString(string(r.DecisionType)),
		formatTime(r.ComputedAt),
	}
}

func scanRecord(rows *sql.Rows) (advancement.Record, error) {
	var r advancement.Record
	var appointment, score, status, computedAt string
	var eligibility, reason, processedAt, processedBy, decision sql.NullString
	var required int

	err := rows.Scan(
		&r.ID, &r.EmployeeID, &r.EmployeeName, &r.CurrentEchelon, &r.TargetEchelon,
		&appointment, &eligibility, &r.Seniority.Months, &r.Seniority.Days, &r.Seniority.TotalDays,
		&score, &r.Evaluation.Year, &required, &status, &reason,
		&processedAt, &processedBy, &decision, &computedAt,
	)
	if err != nil {
		return r, err
	}

	wrap := func(err error) error { return fmt.Errorf("record %s: %w", r.ID, err) }

	if r.AppointmentDate, err = parseTime("appointment_date", appointment); err != nil {
		return r, wrap(err)
	}
	if eligibility.Valid {
		if r.EligibilityDate, err = parseTime("eligibility_date", eligibility.String); err != nil {
			return r, wrap(err)
		}
	}
	if r.Evaluation.Score, err = parseDecimal("evaluation_score", score); err != nil {
		return r, wrap(err)
	}
	r.Evaluation.RequiredDuration = advancement.DurationTier(required)
	r.Status = advancement.Status(status)
	r.SuspensionReason = reason.String
	if processedAt.Valid {
		t, err := parseTime("processed_at", processedAt.String)
		if err != nil {
			return r, wrap(err)
		}
		r.ProcessedAt = &t
	}
	r.ProcessedBy = processedBy.String
	r.DecisionType = advancement.DecisionType(decision.String)
	if r.ComputedAt, err = parseTime("computed_at", computedAt); err != nil {
		return r, wrap(err)
	}
	return r, nil
}

// =============================================================================
// DETECTION RUNS (advancement.RunRecorder)
// =============================================================================

// SaveDetectionRun inserts or updates a run.
func (s *Store) SaveDetectionRun(ctx context.Context, r advancement.DetectionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO detection_runs (id, evaluated_at, status, evaluated, ignored,
			counts_json, skipped_json, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			evaluated = excluded.evaluated,
			ignored = excluded.ignored,
			counts_json = excluded.counts_json,
			skipped_json = excluded.skipped_json,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	countsJSON, err := json.Marshal(r.Counts)
	if err != nil {
		return fmt.Errorf("failed to encode counts: %w", err)
	}
	skippedJSON, err := json.Marshal(r.Skipped)
	if err != nil {
		return fmt.Errorf("failed to encode skipped employees: %w", err)
	}

	_, err = s.db.ExecContext(ctx, query,
		r.ID, formatTime(r.Now), string(r.Status), r.Evaluated, r.Ignored,
		string(countsJSON), string(skippedJSON), nullString(r.Error),
		formatTime(r.StartedAt), formatTimePtr(r.CompletedAt),
	)
	return err
}

// ListDetectionRuns returns runs newest first. limit <= 0 means all.
func (s *Store) ListDetectionRuns(ctx context.Context, limit int) ([]advancement.DetectionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, evaluated_at, status, evaluated, ignored, counts_json, skipped_json,
			error, started_at, completed_at
		FROM detection_runs
		ORDER BY started_at DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []advancement.DetectionRun{}
	for rows.Next() {
		var r advancement.DetectionRun
		var evaluatedAt, status, startedAt string
		var countsJSON, skippedJSON, runErr, completedAt sql.NullString
		if err := rows.Scan(&r.ID, &evaluatedAt, &status, &r.Evaluated, &r.Ignored,
			&countsJSON, &skippedJSON, &runErr, &startedAt, &completedAt); err != nil {
			return nil, err
		}

		if err := decodeRun(&r, evaluatedAt, status, startedAt, countsJSON, skippedJSON, runErr, completedAt); err != nil {
			return nil, fmt.Errorf("detection run %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func decodeRun(r *advancement.DetectionRun, evaluatedAt, status, startedAt string,
	countsJSON, skippedJSON, runErr, completedAt sql.NullString) error {
	var err error
	if r.Now, err = parseTime("evaluated_at", evaluatedAt); err != nil {
		return err
	}
	r.Status = advancement.RunStatus(status)
	r.Error = runErr.String
	if r.StartedAt, err = parseTime("started_at", startedAt); err != nil {
		return err
	}
	if completedAt.Valid {
		t, err := parseTime("completed_at", completedAt.String)
		if err != nil {
			return err
		}
		r.CompletedAt = &t
	}
	if countsJSON.Valid {
		if err := json.Unmarshal([]byte(countsJSON.String), &r.Counts); err != nil {
			return fmt.Errorf("failed to decode counts: %w", err)
		}
	}
	if skippedJSON.Valid {
		if err := json.Unmarshal([]byte(skippedJSON.String), &r.Skipped); err != nil {
			return fmt.Errorf("failed to decode skipped employees: %w", err)
		}
	}
	return nil
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset deletes all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"employees", "advancement_records", "status_changes", "detection_runs"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(column, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", column, s, err)
	}
	return t, nil
}

func parseDecimal(column, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", column, s, err)
	}
	return d, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
