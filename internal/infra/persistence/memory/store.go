// Package memory provides the in-memory records store. It is the source of
// truth for the sqlite and postgres drivers, which snapshot its state after
// every committed mutation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"casewizard/internal/domain"
	"casewizard/internal/persistence"
)

var _ persistence.Store = (*Store)(nil)

type (
	// Patient aliases persistence.Patient.
	Patient = persistence.Patient
	// Evaluation aliases persistence.Evaluation.
	Evaluation = persistence.Evaluation
	// PendingItem aliases persistence.PendingItem.
	PendingItem = persistence.PendingItem
	// Protocol aliases persistence.Protocol.
	Protocol = persistence.Protocol
)

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Patients     map[string]Patient     `json:"patients"`
	Evaluations  map[string]Evaluation  `json:"evaluations"`
	PendingItems map[string]PendingItem `json:"pending_items"`
}

type memoryState struct {
	patients     map[string]Patient
	evaluations  map[string]Evaluation
	pendingItems map[string]PendingItem
}

func newMemoryState() memoryState {
	return memoryState{
		patients:     make(map[string]Patient),
		evaluations:  make(map[string]Evaluation),
		pendingItems: make(map[string]PendingItem),
	}
}

func (s memoryState) clone() memoryState {
	out := newMemoryState()
	for k, v := range s.patients {
		out.patients[k] = clonePatient(v)
	}
	for k, v := range s.evaluations {
		out.evaluations[k] = v.Clone()
	}
	for k, v := range s.pendingItems {
		out.pendingItems[k] = v
	}
	return out
}

func clonePatient(p Patient) Patient {
	if p.BirthDate != nil {
		bd := *p.BirthDate
		p.BirthDate = &bd
	}
	return p
}

// CommitHook runs after a mutation is applied, with the new state. A hook
// error rolls the mutation back.
type CommitHook func(ctx context.Context, snapshot Snapshot) error

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithCommitHook registers a hook run after every committed mutation.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.onCommit = hook }
}

// Store is an in-memory persistence.Store.
type Store struct {
	mu       sync.RWMutex
	state    memoryState
	now      func() time.Time
	newID    func() string
	onCommit CommitHook
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		state: newMemoryState(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportState returns a deep copy of the current state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromState(s.state)
}

// ImportState replaces the current state with snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateFromSnapshot(snapshot)
}

func snapshotFromState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{Patients: c.patients, Evaluations: c.evaluations, PendingItems: c.pendingItems}
}

func stateFromSnapshot(snapshot Snapshot) memoryState {
	in := memoryState{patients: snapshot.Patients, evaluations: snapshot.Evaluations, pendingItems: snapshot.PendingItems}
	return in.clone()
}

// mutate applies fn to a working copy and swaps it in only if fn and the
// commit hook both succeed.
func (s *Store) mutate(ctx context.Context, fn func(state *memoryState, now time.Time) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	working := s.state.clone()
	if err := fn(&working, s.now()); err != nil {
		return err
	}
	if s.onCommit != nil {
		if err := s.onCommit(ctx, snapshotFromState(working)); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	s.state = working
	return nil
}

func (s *Store) view(ctx context.Context, fn func(state *memoryState) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&s.state)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// CreatePatient inserts p. Names are unique per owner, compared
// case-insensitively; a clash returns persistence.ErrDuplicate.
func (s *Store) CreatePatient(ctx context.Context, p Patient) (Patient, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return Patient{}, fmt.Errorf("patient name required")
	}
	var created Patient
	err := s.mutate(ctx, func(state *memoryState, now time.Time) error {
		key := normalizeName(name)
		for _, existing := range state.patients {
			if existing.OwnerID == p.OwnerID && normalizeName(existing.Name) == key {
				return fmt.Errorf("patient %q: %w", name, persistence.ErrDuplicate)
			}
		}
		created = clonePatient(p)
		created.Name = name
		if created.ID == "" {
			created.ID = s.newID()
		}
		created.CreatedAt = now
		created.UpdatedAt = now
		state.patients[created.ID] = created
		return nil
	})
	if err != nil {
		return Patient{}, err
	}
	return clonePatient(created), nil
}

// FindPatientByName looks a patient up by case-insensitive name.
func (s *Store) FindPatientByName(ctx context.Context, ownerID, name string) (Patient, bool, error) {
	var found Patient
	var ok bool
	err := s.view(ctx, func(state *memoryState) error {
		key := normalizeName(name)
		for _, p := range state.patients {
			if p.OwnerID == ownerID && normalizeName(p.Name) == key {
				found, ok = clonePatient(p), true
				return nil
			}
		}
		return nil
	})
	return found, ok, err
}

// GetPatient returns the patient with id.
func (s *Store) GetPatient(ctx context.Context, id string) (Patient, error) {
	var found Patient
	err := s.view(ctx, func(state *memoryState) error {
		p, ok := state.patients[id]
		if !ok {
			return persistence.ErrNotFound{Entity: "patient", ID: id}
		}
		found = clonePatient(p)
		return nil
	})
	return found, err
}

// UpdatePatientBirthDate sets the patient's birth date.
func (s *Store) UpdatePatientBirthDate(ctx context.Context, id string, birthDate time.Time) error {
	return s.mutate(ctx, func(state *memoryState, now time.Time) error {
		p, ok := state.patients[id]
		if !ok {
			return persistence.ErrNotFound{Entity: "patient", ID: id}
		}
		bd := birthDate
		p.BirthDate = &bd
		p.UpdatedAt = now
		state.patients[id] = p
		return nil
	})
}

// CreateEvaluation inserts e. A referenced patient must exist.
func (s *Store) CreateEvaluation(ctx context.Context, e Evaluation) (Evaluation, error) {
	var created Evaluation
	err := s.mutate(ctx, func(state *memoryState, now time.Time) error {
		if e.PatientID != "" {
			if _, ok := state.patients[e.PatientID]; !ok {
				return fmt.Errorf("evaluation references patient %s: foreign key violation", e.PatientID)
			}
		}
		created = e.Clone()
		if created.ID == "" {
			created.ID = s.newID()
		}
		if created.Status == "" {
			created.Status = persistence.StatusProcessing
		}
		created.CreatedAt = now
		created.UpdatedAt = now
		state.evaluations[created.ID] = created
		return nil
	})
	if err != nil {
		return Evaluation{}, err
	}
	return created.Clone(), nil
}

// GetEvaluation returns the evaluation with id.
func (s *Store) GetEvaluation(ctx context.Context, id string) (Evaluation, error) {
	var found Evaluation
	err := s.view(ctx, func(state *memoryState) error {
		e, ok := state.evaluations[id]
		if !ok {
			return persistence.ErrNotFound{Entity: "evaluation", ID: id}
		}
		found = e.Clone()
		return nil
	})
	return found, err
}

// ListEvaluations returns a session's evaluations ordered by creation.
func (s *Store) ListEvaluations(ctx context.Context, sessionID string) ([]Evaluation, error) {
	var out []Evaluation
	err := s.view(ctx, func(state *memoryState) error {
		for _, e := range state.evaluations {
			if e.SessionID == sessionID {
				out = append(out, e.Clone())
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

func (s *Store) updateEvaluation(ctx context.Context, id string, mutator func(*Evaluation) error) error {
	return s.mutate(ctx, func(state *memoryState, now time.Time) error {
		e, ok := state.evaluations[id]
		if !ok {
			return persistence.ErrNotFound{Entity: "evaluation", ID: id}
		}
		if err := mutator(&e); err != nil {
			return err
		}
		e.UpdatedAt = now
		state.evaluations[id] = e
		return nil
	})
}

// UpdateEvaluationStatus sets one evaluation's status.
func (s *Store) UpdateEvaluationStatus(ctx context.Context, id string, status persistence.EvaluationStatus) error {
	return s.updateEvaluation(ctx, id, func(e *Evaluation) error {
		e.Status = status
		return nil
	})
}

// UpdateEvaluationProtocol replaces an evaluation's protocol.
func (s *Store) UpdateEvaluationProtocol(ctx context.Context, id string, protocol Protocol) error {
	return s.updateEvaluation(ctx, id, func(e *Evaluation) error {
		e.Protocol = protocol.Clone()
		return nil
	})
}

// SetChecklistStep marks one protocol checklist line done or not done.
func (s *Store) SetChecklistStep(ctx context.Context, id string, index int, done bool) (Evaluation, error) {
	var updated Evaluation
	err := s.updateEvaluation(ctx, id, func(e *Evaluation) error {
		if e.Protocol == nil || index < 0 || index >= len(e.Protocol.Checklist) {
			return fmt.Errorf("evaluation %s: checklist step %d out of range", id, index)
		}
		e.Protocol.Checklist[index].Done = done
		updated = e.Clone()
		return nil
	})
	return updated, err
}

// BulkUpdateStatus sets status on every listed evaluation, atomically.
func (s *Store) BulkUpdateStatus(ctx context.Context, ids []string, status persistence.EvaluationStatus) error {
	if len(ids) == 0 {
		return nil
	}
	return s.mutate(ctx, func(state *memoryState, now time.Time) error {
		for _, id := range ids {
			e, ok := state.evaluations[id]
			if !ok {
				return persistence.ErrNotFound{Entity: "evaluation", ID: id}
			}
			e.Status = status
			e.UpdatedAt = now
			state.evaluations[id] = e
		}
		return nil
	})
}

// SavePendingItems inserts the given pending items.
func (s *Store) SavePendingItems(ctx context.Context, items []PendingItem) error {
	if len(items) == 0 {
		return nil
	}
	return s.mutate(ctx, func(state *memoryState, now time.Time) error {
		for _, item := range items {
			if item.ID == "" {
				item.ID = s.newID()
			}
			item.CreatedAt = now
			state.pendingItems[item.ID] = item
		}
		return nil
	})
}

// ListPendingItems returns an owner's pending items ordered by tooth id.
func (s *Store) ListPendingItems(ctx context.Context, ownerID string) ([]PendingItem, error) {
	var out []PendingItem
	err := s.view(ctx, func(state *memoryState) error {
		for _, item := range state.pendingItems {
			if item.OwnerID == ownerID {
				out = append(out, item)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return domain.LessItemID(out[i].ItemID, out[j].ItemID) })
	return out, err
}

// SyncGroupProtocols copies protocol content between evaluations of the same
// session sharing a treatment type.
func (s *Store) SyncGroupProtocols(ctx context.Context, sessionID string, evaluationIDs []string) (int, error) {
	updated := 0
	err := s.mutate(ctx, func(state *memoryState, now time.Time) error {
		groups := map[domain.TreatmentType][]string{}
		var order []domain.TreatmentType
		for _, id := range evaluationIDs {
			e, ok := state.evaluations[id]
			if !ok {
				return persistence.ErrNotFound{Entity: "evaluation", ID: id}
			}
			if e.SessionID != sessionID {
				return fmt.Errorf("evaluation %s does not belong to session %s", id, sessionID)
			}
			if _, seen := groups[e.TreatmentType]; !seen {
				order = append(order, e.TreatmentType)
			}
			groups[e.TreatmentType] = append(groups[e.TreatmentType], id)
		}
		for _, treatment := range order {
			members := groups[treatment]
			var source *Protocol
			for _, id := range members {
				if p := state.evaluations[id].Protocol; p.HasContent() && p.Source != persistence.SourceSynced {
					source = p
					break
				}
			}
			if source == nil {
				continue
			}
			for _, id := range members {
				e := state.evaluations[id]
				if e.Protocol.HasContent() {
					continue
				}
				synced := source.Clone()
				synced.Source = persistence.SourceSynced
				synced.GeneratedAt = now
				e.Protocol = synced
				e.UpdatedAt = now
				state.evaluations[id] = e
				updated++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}
