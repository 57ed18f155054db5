// Package assets stores captured case photos in a blob backend.
package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"casewizard/internal/blob"
)

// KeyPrefix is the blob key prefix for every uploaded asset.
const KeyPrefix = "assets/"

// ErrEmptyAsset is returned when an upload carries no bytes.
var ErrEmptyAsset = errors.New("assets: empty payload")

// Uploader stores a photo for an owner and returns its reference.
type Uploader interface {
	Upload(ctx context.Context, ownerID string, data []byte) (string, error)
}

// Downloader fetches a previously uploaded photo.
type Downloader interface {
	Download(ctx context.Context, ref string) ([]byte, error)
}

// Store implements Uploader and Downloader over a blob.Store.
type Store struct {
	blobs blob.Store
	newID func() string
}

// New returns an asset store writing into blobs.
func New(blobs blob.Store) *Store {
	return &Store{blobs: blobs, newID: uuid.NewString}
}

// Upload writes data under assets/<owner>/<uuid> and returns the key as the
// asset reference.
func (s *Store) Upload(ctx context.Context, ownerID string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyAsset
	}
	owner := strings.TrimSpace(ownerID)
	if owner == "" {
		owner = "anonymous"
	}
	key := KeyPrefix + owner + "/" + s.newID()
	opts := blob.PutOptions{
		ContentType: http.DetectContentType(data),
		Metadata:    map[string]string{"owner": owner},
	}
	if _, err := s.blobs.Put(ctx, key, bytes.NewReader(data), opts); err != nil {
		return "", fmt.Errorf("upload asset: %w", err)
	}
	return key, nil
}

// Download reads the asset behind ref.
func (s *Store) Download(ctx context.Context, ref string) ([]byte, error) {
	if !strings.HasPrefix(ref, KeyPrefix) {
		return nil, fmt.Errorf("download asset %q: not an asset reference", ref)
	}
	_, rc, err := s.blobs.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("download asset: %w", err)
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}
