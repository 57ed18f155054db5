// Package persistence defines the clinical records contract consumed by the
// submission pipeline: patients, evaluations with their protocols, pending
// items and group-protocol sync.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"casewizard/internal/domain"
)

// EvaluationStatus is the lifecycle of one evaluation record.
type EvaluationStatus string

const (
	StatusProcessing EvaluationStatus = "processing"
	StatusCompleted  EvaluationStatus = "completed"
	StatusError      EvaluationStatus = "error"
)

// ProtocolSource records where a protocol's content came from.
type ProtocolSource string

const (
	SourceGenerated ProtocolSource = "generated"
	SourceChecklist ProtocolSource = "checklist"
	SourceSynced    ProtocolSource = "synced"
)

// Patient is a clinical patient record, unique by name per owner.
type Patient struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Name      string     `json:"name"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ChecklistStep is one actionable line of a protocol.
type ChecklistStep struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Protocol is the treatment plan written onto an evaluation.
type Protocol struct {
	Strategy    domain.ProtocolStrategy `json:"strategy"`
	Source      ProtocolSource          `json:"source"`
	Summary     string                  `json:"summary,omitempty"`
	Checklist   []ChecklistStep         `json:"checklist,omitempty"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// HasContent reports whether p carries any protocol content.
func (p *Protocol) HasContent() bool {
	return p != nil && (p.Summary != "" || len(p.Checklist) > 0)
}

// Clone deep-copies p.
func (p *Protocol) Clone() *Protocol {
	if p == nil {
		return nil
	}
	out := *p
	out.Checklist = append([]ChecklistStep(nil), p.Checklist...)
	return &out
}

// Evaluation is the record created for one submitted item.
type Evaluation struct {
	ID            string               `json:"id"`
	OwnerID       string               `json:"owner_id"`
	SessionID     string               `json:"session_id"`
	PatientID     string               `json:"patient_id,omitempty"`
	PatientName   string               `json:"patient_name,omitempty"`
	PatientAge    int                  `json:"patient_age,omitempty"`
	ItemID        string               `json:"item_id"`
	Region        domain.Region        `json:"region,omitempty"`
	TreatmentType domain.TreatmentType `json:"treatment_type"`
	Shade         string               `json:"shade,omitempty"`
	Descriptors   map[string]string    `json:"descriptors,omitempty"`
	AssetRef      string               `json:"asset_ref,omitempty"`
	Status        EvaluationStatus     `json:"status"`
	Protocol      *Protocol            `json:"protocol,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// Clone deep-copies e.
func (e Evaluation) Clone() Evaluation {
	out := e
	out.Protocol = e.Protocol.Clone()
	if e.Descriptors != nil {
		out.Descriptors = make(map[string]string, len(e.Descriptors))
		for k, v := range e.Descriptors {
			out.Descriptors[k] = v
		}
	}
	return out
}

// PendingItem is a detected item the user did not submit, kept for later.
type PendingItem struct {
	ID                  string               `json:"id"`
	OwnerID             string               `json:"owner_id"`
	SessionID           string               `json:"session_id"`
	PatientID           string               `json:"patient_id,omitempty"`
	ItemID              string               `json:"item_id"`
	Region              domain.Region        `json:"region,omitempty"`
	Priority            domain.Priority      `json:"priority,omitempty"`
	TreatmentIndication domain.TreatmentType `json:"treatment_indication,omitempty"`
	IndicationReason    string               `json:"indication_reason,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
}

// Store is the persistent records store.
type Store interface {
	CreatePatient(ctx context.Context, p Patient) (Patient, error)
	FindPatientByName(ctx context.Context, ownerID, name string) (Patient, bool, error)
	GetPatient(ctx context.Context, id string) (Patient, error)
	UpdatePatientBirthDate(ctx context.Context, id string, birthDate time.Time) error

	CreateEvaluation(ctx context.Context, e Evaluation) (Evaluation, error)
	GetEvaluation(ctx context.Context, id string) (Evaluation, error)
	ListEvaluations(ctx context.Context, sessionID string) ([]Evaluation, error)
	UpdateEvaluationStatus(ctx context.Context, id string, status EvaluationStatus) error
	UpdateEvaluationProtocol(ctx context.Context, id string, protocol Protocol) error
	SetChecklistStep(ctx context.Context, id string, index int, done bool) (Evaluation, error)
	BulkUpdateStatus(ctx context.Context, ids []string, status EvaluationStatus) error

	SavePendingItems(ctx context.Context, items []PendingItem) error
	ListPendingItems(ctx context.Context, ownerID string) ([]PendingItem, error)

	// SyncGroupProtocols copies protocol content within each treatment group
	// of the given evaluations, from the member that has content to those
	// that do not. It returns how many evaluations were updated.
	SyncGroupProtocols(ctx context.Context, sessionID string, evaluationIDs []string) (int, error)
}

// ErrDuplicate is returned when a uniqueness constraint would be violated.
var ErrDuplicate = errors.New("persistence: duplicate key value violates unique constraint")

// ErrNotFound reports a missing record.
type ErrNotFound struct {
	Entity string
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

// Driver identifies a records backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)
