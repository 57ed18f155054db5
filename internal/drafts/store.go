// Package drafts persists in-progress case snapshots as JSON blobs.
package drafts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"casewizard/internal/blob"
	"casewizard/internal/domain"
)

// Repository is the draft store consumed by the workflow engine.
type Repository interface {
	Load(ctx context.Context, ownerID string) (domain.Draft, bool, error)
	Save(ctx context.Context, draft domain.Draft) error
	Clear(ctx context.Context, ownerID string) error
}

// Store keeps one draft per owner at drafts/<owner>.json.
type Store struct {
	blobs blob.Store
}

// New returns a draft store over blobs.
func New(blobs blob.Store) *Store { return &Store{blobs: blobs} }

func keyFor(ownerID string) (string, error) {
	owner := strings.TrimSpace(ownerID)
	if owner == "" {
		return "", errors.New("drafts: owner id required")
	}
	return "drafts/" + owner + ".json", nil
}

// Load returns the owner's draft, or false when none is stored.
func (s *Store) Load(ctx context.Context, ownerID string) (domain.Draft, bool, error) {
	key, err := keyFor(ownerID)
	if err != nil {
		return domain.Draft{}, false, err
	}
	_, rc, err := s.blobs.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return domain.Draft{}, false, nil
	}
	if err != nil {
		return domain.Draft{}, false, fmt.Errorf("load draft: %w", err)
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return domain.Draft{}, false, fmt.Errorf("read draft: %w", err)
	}
	var d domain.Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return domain.Draft{}, false, fmt.Errorf("decode draft: %w", err)
	}
	if d.State.ItemTreatmentAssignments == nil {
		d.State.ItemTreatmentAssignments = map[string]domain.TreatmentType{}
	}
	if d.State.OriginalItemTreatmentAssignments == nil {
		d.State.OriginalItemTreatmentAssignments = map[string]domain.TreatmentType{}
	}
	return d, true, nil
}

// Save overwrites the owner's draft. Blob puts are create-only, so the
// previous snapshot is removed first.
func (s *Store) Save(ctx context.Context, d domain.Draft) error {
	key, err := keyFor(d.OwnerID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	if _, err := s.blobs.Delete(ctx, key); err != nil {
		return fmt.Errorf("replace draft: %w", err)
	}
	opts := blob.PutOptions{ContentType: "application/json", Metadata: map[string]string{"owner": d.OwnerID}}
	if _, err := s.blobs.Put(ctx, key, bytes.NewReader(payload), opts); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// Clear deletes the owner's draft; a missing draft is not an error.
func (s *Store) Clear(ctx context.Context, ownerID string) error {
	key, err := keyFor(ownerID)
	if err != nil {
		return err
	}
	if _, err := s.blobs.Delete(ctx, key); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}
