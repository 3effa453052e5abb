// Package storage keeps uploaded documents and their manifests.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var (
	ErrNotFound    = errors.New("object not found")
	ErrInvalidName = errors.New("invalid object name")
)

// Storage is a flat object store addressed by name.
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Manifest describes one stored document.
type Manifest struct {
	Object      string    `json:"object"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	StoredAt    time.Time `json:"stored_at"`
}

const manifestSuffix = ".manifest.json"

// ManifestName is the object holding the manifest of object.
func ManifestName(object string) string {
	return object + manifestSuffix
}

// SaveManifest writes m next to its object.
func SaveManifest(ctx context.Context, s Storage, m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := s.Save(ctx, ManifestName(m.Object), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	return nil
}

func LoadManifest(ctx context.Context, s Storage, object string) (*Manifest, error) {
	r, err := s.Load(ctx, ManifestName(object))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

// ListManifests returns the manifests of every stored document.
func ListManifests(ctx context.Context, s Storage) ([]*Manifest, error) {
	names, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []*Manifest
	for _, name := range names {
		if !strings.HasSuffix(name, manifestSuffix) {
			continue
		}
		m, err := LoadManifest(ctx, s, strings.TrimSuffix(name, manifestSuffix))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ObjectName builds a storage name for an uploaded file. Only the base name
// of the client supplied file name is kept.
func ObjectName(id, fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		base = "document"
	}
	return id + "-" + base
}

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
