// Package store provides in-memory advancement store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/echelon-engine/advancement"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	records   []advancement.Record
	index     map[string]int
	history   map[string][]advancement.StatusChange
	runs      []advancement.DetectionRun
	employees map[string]advancement.EmployeeSnapshot
	order     []string
}

var (
	_ advancement.RecordStore    = (*Memory)(nil)
	_ advancement.RunRecorder    = (*Memory)(nil)
	_ advancement.EmployeeSource = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		index:     make(map[string]int),
		history:   make(map[string][]advancement.StatusChange),
		employees: make(map[string]advancement.EmployeeSnapshot),
	}
}

// GetAll returns a copy of the records in write order.
func (m *Memory) GetAll(_ context.Context) ([]advancement.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]advancement.Record, len(m.records))
	copy(result, m.records)
	return result, nil
}

// ReplaceAll swaps the whole record set.
func (m *Memory) ReplaceAll(ctx context.Context, records []advancement.Record) error {
	return m.ReplaceBatch(ctx, records, nil)
}

// ReplaceBatch swaps the record set and appends changes under one lock.
func (m *Memory) ReplaceBatch(_ context.Context, records []advancement.Record, changes []advancement.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make([]advancement.Record, len(records))
	copy(m.records, records)
	m.index = make(map[string]int, len(records))
	for i, r := range m.records {
		m.index[r.ID] = i
	}
	for _, c := range changes {
		m.history[c.RecordID] = append(m.history[c.RecordID], c)
	}
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*advancement.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.index[id]
	if !ok {
		return nil, nil
	}
	rec := m.records[i]
	return &rec, nil
}

// ApplyTransition updates the record and appends the audit entry together.
func (m *Memory) ApplyTransition(_ context.Context, rec advancement.Record, change advancement.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.index[rec.ID]
	if !ok {
		return advancement.ErrRecordNotFound
	}
	m.records[i] = rec
	m.history[rec.ID] = append(m.history[rec.ID], change)
	return nil
}

func (m *Memory) History(_ context.Context, recordID string) ([]advancement.StatusChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]advancement.StatusChange, len(m.history[recordID]))
	copy(result, m.history[recordID])
	return result, nil
}

// =============================================================================
// DETECTION RUNS
// =============================================================================

// SaveDetectionRun inserts or updates a run by id.
func (m *Memory) SaveDetectionRun(_ context.Context, run advancement.DetectionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

// ListDetectionRuns returns runs newest first. limit <= 0 means all.
func (m *Memory) ListDetectionRuns(_ context.Context, limit int) ([]advancement.DetectionRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]advancement.DetectionRun, len(m.runs))
	copy(result, m.runs)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

// SaveEmployee inserts or replaces an employee, keeping first-insert order.
func (m *Memory) SaveEmployee(_ context.Context, emp advancement.EmployeeSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.employees[emp.ID]; !ok {
		m.order = append(m.order, emp.ID)
	}
	m.employees[emp.ID] = emp
	return nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]advancement.EmployeeSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]advancement.EmployeeSnapshot, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, m.employees[id])
	}
	return result, nil
}
