package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/echelon-engine/advancement"
	"github.com/warp/echelon-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func snapshot(id, name string) advancement.EmployeeSnapshot {
	return advancement.EmployeeSnapshot{
		ID:              id,
		Name:            name,
		EmploymentType:  advancement.EmploymentTeaching,
		Grade:           "A2",
		CurrentEchelon:  4,
		AppointmentDate: advancement.Date(2021, time.January, 1),
		EvaluationScore: decimal.RequireFromString("16.5"),
		EvaluationYear:  2024,
		ActivityStatus:  advancement.ActivityActive,
	}
}

func TestEmployees_SaveGetListDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SaveEmployee(ctx, snapshot("e2", "Zineb")))
	require.NoError(t, s.SaveEmployee(ctx, snapshot("e1", "Amine")))

	got, err := s.GetEmployee(ctx, "e2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, snapshot("e2", "Zineb").AppointmentDate, got.AppointmentDate)
	assert.True(t, got.EvaluationScore.Equal(decimal.RequireFromString("16.5")))
	assert.Equal(t, advancement.EmploymentTeaching, got.EmploymentType)

	// upsert
	updated := snapshot("e2", "Zineb")
	updated.CurrentEchelon = 5
	require.NoError(t, s.SaveEmployee(ctx, updated))

	list, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Amine", list[0].Name)
	assert.Equal(t, 5, list[1].CurrentEchelon)

	require.NoError(t, s.DeleteEmployee(ctx, "e1"))
	assert.ErrorIs(t, s.DeleteEmployee(ctx, "e1"), advancement.ErrEmployeeNotFound)

	missing, err := s.GetEmployee(ctx, "e1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRecords_ReplaceAllRoundTripKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := advancement.Date(2024, time.June, 1)

	// GIVEN: two assembled records, one with no eligibility date
	recs := []advancement.Record{}
	for _, emp := range []advancement.EmployeeSnapshot{snapshot("e2", "Zineb"), snapshot("e1", "Amine")} {
		r, err := advancement.Assemble(emp, now)
		require.NoError(t, err)
		recs = append(recs, r)
	}
	low := snapshot("e3", "Karim")
	low.EvaluationScore = decimal.NewFromInt(9)
	r, err := advancement.Assemble(low, now)
	require.NoError(t, err)
	recs = append(recs, r)

	// WHEN
	require.NoError(t, s.ReplaceAll(ctx, recs))
	all, err := s.GetAll(ctx)

	// THEN: batch order and every field survive
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := range recs {
		assert.Equal(t, recs[i].ID, all[i].ID)
		assert.Equal(t, recs[i].EligibilityDate, all[i].EligibilityDate)
		assert.Equal(t, recs[i].Seniority, all[i].Seniority)
		assert.Equal(t, recs[i].Status, all[i].Status)
		assert.Equal(t, recs[i].Evaluation.RequiredDuration, all[i].Evaluation.RequiredDuration)
		assert.True(t, recs[i].Evaluation.Score.Equal(all[i].Evaluation.Score))
	}
	assert.Equal(t, advancement.StatusSuspended, all[2].Status)
	assert.True(t, all[2].EligibilityDate.IsZero())
	assert.NotEmpty(t, all[2].SuspensionReason)

	// WHEN: a second batch replaces the first
	require.NoError(t, s.ReplaceAll(ctx, recs[:1]))
	all, err = s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRecords_ApplyTransitionAndHistory(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	rec, err := advancement.Assemble(snapshot("e1", "Amine"), advancement.Date(2025, time.June, 1))
	require.NoError(t, err)
	require.Equal(t, advancement.StatusEligible, rec.Status)
	require.NoError(t, s.ReplaceAll(ctx, []advancement.Record{rec}))

	at := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	processed := rec
	processed.Status = advancement.StatusProcessed
	processed.ProcessedAt = &at
	processed.ProcessedBy = "hr-admin"
	processed.DecisionType = advancement.DecisionManual

	change := advancement.StatusChange{
		ID: "c1", RecordID: rec.ID, EmployeeID: "e1",
		From: advancement.StatusEligible, To: advancement.StatusProcessed,
		Actor: "hr-admin", At: at,
	}
	require.NoError(t, s.ApplyTransition(ctx, processed, change))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, advancement.StatusProcessed, got.Status)
	require.NotNil(t, got.ProcessedAt)
	assert.True(t, at.Equal(*got.ProcessedAt))
	assert.Equal(t, "hr-admin", got.ProcessedBy)
	assert.Equal(t, advancement.DecisionManual, got.DecisionType)

	history, err := s.History(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, advancement.StatusEligible, history[0].From)
	assert.Equal(t, advancement.StatusProcessed, history[0].To)
	assert.True(t, at.Equal(history[0].At))

	// audit trail survives a new detection run
	require.NoError(t, s.ReplaceAll(ctx, nil))
	history, err = s.History(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRecords_ReplaceBatchAppendsChanges(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	rec, err := advancement.Assemble(snapshot("e1", "Amine"), advancement.Date(2025, time.June, 1))
	require.NoError(t, err)

	change := advancement.StatusChange{
		ID: "c1", RecordID: rec.ID, EmployeeID: "e1",
		From: advancement.StatusSuspended, To: advancement.StatusBlocked,
		Reason: "replaced by run r1", Actor: advancement.DetectionActor,
		At: advancement.Date(2025, time.June, 1),
	}
	require.NoError(t, s.ReplaceBatch(ctx, []advancement.Record{rec}, []advancement.StatusChange{change}))

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	history, err := s.History(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, advancement.DetectionActor, history[0].Actor)
	assert.Equal(t, "replaced by run r1", history[0].Reason)

	// a duplicate change id rolls back the records too
	err = s.ReplaceBatch(ctx, nil, []advancement.StatusChange{change})
	require.Error(t, err)
	all, err = s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRecords_ApplyTransition_UnknownRecord(t *testing.T) {
	s := newStore(t)

	err := s.ApplyTransition(context.Background(),
		advancement.Record{ID: "nope", Status: advancement.StatusProcessed},
		advancement.StatusChange{ID: "c1", RecordID: "nope", Actor: "x"})

	assert.ErrorIs(t, err, advancement.ErrRecordNotFound)
}

func TestDetectionRuns_UpsertAndList(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	started := time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC)

	run := advancement.DetectionRun{
		ID: "run-1", Now: started, Status: advancement.RunRunning, StartedAt: started,
	}
	require.NoError(t, s.SaveDetectionRun(ctx, run))

	completed := started.Add(time.Second)
	run.Status = advancement.RunCompleted
	run.Evaluated = 3
	run.Ignored = 1
	run.Counts = map[advancement.Status]int{advancement.StatusEligible: 2, advancement.StatusPending: 1}
	run.Skipped = []advancement.SkippedEmployee{{EmployeeID: "e9", Reason: "appointment date is in the future"}}
	run.CompletedAt = &completed
	require.NoError(t, s.SaveDetectionRun(ctx, run))

	require.NoError(t, s.SaveDetectionRun(ctx, advancement.DetectionRun{
		ID: "run-0", Now: started, Status: advancement.RunFailed, Error: "boom",
		StartedAt: started.Add(-time.Hour),
	}))

	runs, err := s.ListDetectionRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, advancement.RunCompleted, runs[0].Status)
	assert.Equal(t, 2, runs[0].Counts[advancement.StatusEligible])
	assert.Equal(t, run.Skipped, runs[0].Skipped)
	require.NotNil(t, runs[0].CompletedAt)
	assert.Equal(t, "boom", runs[1].Error)

	limited, err := s.ListDetectionRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestEngineAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SaveEmployee(ctx, snapshot("e1", "Amine")))

	engine := advancement.NewEngine(s)
	report, err := engine.DetectFrom(ctx, s, advancement.Date(2025, time.June, 1))
	require.NoError(t, err)
	require.Len(t, report.Records, 1)

	_, err = engine.Process(ctx, report.Records[0].ID, "hr-admin", "", time.Now())
	require.NoError(t, err)

	_, err = engine.Process(ctx, report.Records[0].ID, "hr-admin", "", time.Now())
	var terr *advancement.TransitionError
	assert.ErrorAs(t, err, &terr)

	runs, err := engine.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, advancement.RunCompleted, runs[0].Status)
}

func TestEngineAgainstSQLite_RerunKeepsProcessedRecord(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SaveEmployee(ctx, snapshot("e1", "Amine")))
	engine := advancement.NewEngine(s)
	now := advancement.Date(2025, time.June, 1)

	first, err := engine.DetectFrom(ctx, s, now)
	require.NoError(t, err)
	require.Len(t, first.Records, 1)
	id := first.Records[0].ID

	_, err = engine.Process(ctx, id, "hr-admin", advancement.DecisionManual, now)
	require.NoError(t, err)

	second, err := engine.DetectFrom(ctx, s, now)
	require.NoError(t, err)
	require.Len(t, second.Records, 1)
	assert.Equal(t, id, second.Records[0].ID)
	assert.Equal(t, advancement.StatusProcessed, second.Records[0].Status)

	stored, err := engine.Record(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hr-admin", stored.ProcessedBy)

	history, err := engine.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, advancement.StatusProcessed, history[0].To)
}

func TestCorruptRowsReturnErrors(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "echelon.db")

	// GIVEN: one employee, one record and one run written through the store
	s, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveEmployee(ctx, snapshot("e1", "Amine")))
	rec, err := advancement.Assemble(snapshot("e1", "Amine"), advancement.Date(2025, time.June, 1))
	require.NoError(t, err)
	require.NoError(t, s.ReplaceAll(ctx, []advancement.Record{rec}))
	started := time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveDetectionRun(ctx, advancement.DetectionRun{
		ID: "run-1", Now: started, Status: advancement.RunCompleted, StartedAt: started,
		Counts: map[advancement.Status]int{advancement.StatusEligible: 1},
	}))
	require.NoError(t, s.Close())

	// WHEN: the columns are damaged outside the store
	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	for _, stmt := range []string{
		"UPDATE employees SET evaluation_score = 'sixteen'",
		"UPDATE advancement_records SET computed_at = 'yesterday'",
		"UPDATE detection_runs SET counts_json = '{not json'",
	} {
		_, err := raw.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	require.NoError(t, raw.Close())

	// THEN: every read reports the bad row instead of zero values
	s, err = sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.ListEmployees(ctx)
	assert.ErrorContains(t, err, "evaluation_score")

	_, err = s.GetAll(ctx)
	assert.ErrorContains(t, err, "computed_at")

	_, err = s.Get(ctx, rec.ID)
	assert.ErrorContains(t, err, rec.ID)

	_, err = s.ListDetectionRuns(ctx, 0)
	assert.ErrorContains(t, err, "run-1")
	assert.ErrorContains(t, err, "counts")
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SaveEmployee(ctx, snapshot("e1", "Amine")))

	require.NoError(t, s.Reset(ctx))

	list, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
