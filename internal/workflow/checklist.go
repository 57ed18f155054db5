package workflow

import (
	"context"
	"sync"

	"casewizard/internal/domain"
	"casewizard/internal/persistence"
)

// MutationState is the lifecycle of one optimistic checklist change.
type MutationState string

const (
	MutationPending    MutationState = "pending"
	MutationCommitted  MutationState = "committed"
	MutationRolledBack MutationState = "rolled_back"
)

// ChecklistMutation records one checklist toggle. It is applied to the local
// view first and then either committed by the store or rolled back.
type ChecklistMutation struct {
	EvaluationID string
	Index        int
	Done         bool
	Previous     bool
	State        MutationState
	Err          error
}

// ChecklistEditor keeps a local view of a session's evaluations and applies
// checklist toggles optimistically against the records store.
type ChecklistEditor struct {
	records persistence.Store
	logger  Logger

	mu    sync.Mutex
	views map[string]persistence.Evaluation
	log   []ChecklistMutation
}

// NewChecklistEditor constructs an editor over records.
func NewChecklistEditor(records persistence.Store, logger Logger) *ChecklistEditor {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ChecklistEditor{records: records, logger: logger, views: map[string]persistence.Evaluation{}}
}

// Load fetches the evaluations of sessionID into the local view.
func (c *ChecklistEditor) Load(ctx context.Context, sessionID string) ([]persistence.Evaluation, error) {
	evaluations, err := c.records.ListEvaluations(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]persistence.Evaluation, 0, len(evaluations))
	for _, ev := range evaluations {
		c.views[ev.ID] = ev.Clone()
		out = append(out, ev.Clone())
	}
	return out, nil
}

// View returns the local view of an evaluation.
func (c *ChecklistEditor) View(id string) (persistence.Evaluation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.views[id]
	if !ok {
		return persistence.Evaluation{}, false
	}
	return ev.Clone(), true
}

// Mutations returns every mutation applied so far, in order.
func (c *ChecklistEditor) Mutations() []ChecklistMutation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChecklistMutation(nil), c.log...)
}

// Toggle marks checklist step index of evaluation id as done or not done.
// The local view changes at once; a store failure reverts it.
func (c *ChecklistEditor) Toggle(ctx context.Context, id string, index int, done bool) (ChecklistMutation, error) {
	c.mu.Lock()
	ev, ok := c.views[id]
	if !ok {
		c.mu.Unlock()
		return ChecklistMutation{}, persistence.ErrNotFound{Entity: "evaluation", ID: id}
	}
	if ev.Status != persistence.StatusCompleted {
		c.mu.Unlock()
		return ChecklistMutation{}, domain.Validationf("evaluation %s is not completed", id)
	}
	if ev.Protocol == nil || index < 0 || index >= len(ev.Protocol.Checklist) {
		c.mu.Unlock()
		return ChecklistMutation{}, domain.Validationf("evaluation %s has no checklist step %d", id, index)
	}
	m := ChecklistMutation{
		EvaluationID: id,
		Index:        index,
		Done:         done,
		Previous:     ev.Protocol.Checklist[index].Done,
		State:        MutationPending,
	}
	optimistic := ev.Clone()
	optimistic.Protocol.Checklist[index].Done = done
	c.views[id] = optimistic
	c.mu.Unlock()

	updated, err := c.records.SetChecklistStep(ctx, id, index, done)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		cur := c.views[id]
		if cur.Protocol != nil && index < len(cur.Protocol.Checklist) && cur.Protocol.Checklist[index].Done == done {
			reverted := cur.Clone()
			reverted.Protocol.Checklist[index].Done = m.Previous
			c.views[id] = reverted
		}
		m.State = MutationRolledBack
		m.Err = err
		c.log = append(c.log, m)
		c.logger.Warn("checklist update rolled back", "evaluation_id", id, "index", index, "error", err)
		return m, err
	}
	c.views[id] = updated.Clone()
	m.State = MutationCommitted
	c.log = append(c.log, m)
	return m, nil
}

// Checklist returns the engine's checklist editor for completed evaluations.
func (e *Engine) Checklist() *ChecklistEditor { return e.checklist }
