package transfer

import (
	"context"
	"io"
)

// MigrationContext owns the per-operation state passed through an engine:
// the worker pool and the summary. It replaces any process-wide state.
type MigrationContext struct {
	Scheduler *Scheduler
	Summary   *Summary
}

// NewMigrationContext creates the state for one top-level operation.
func NewMigrationContext(ctx context.Context, workers int, title, column string) *MigrationContext {
	return &MigrationContext{
		Scheduler: NewScheduler(ctx, workers),
		Summary:   NewSummary(title, column),
	}
}

// Finish drains the scheduler, folds its outcomes into the summary, and
// renders the summary to w when anything was transferred.
func (m *MigrationContext) Finish(w io.Writer) *Summary {
	m.Summary.Apply(m.Scheduler.Drain())
	if !m.Summary.Empty() && w != nil {
		m.Summary.Render(w)
	}
	return m.Summary
}

// IdMap maps source asset IDs to destination asset IDs for one destination
// experiment. It is written only by the coordinating goroutine.
type IdMap map[string]string

// Record stores the destination ID for a source ID.
func (m IdMap) Record(oldID, newID string) {
	if oldID != "" && newID != "" {
		m[oldID] = newID
	}
}

// Lookup returns the destination ID for oldID.
func (m IdMap) Lookup(oldID string) (string, bool) {
	id, ok := m[oldID]
	return id, ok
}
