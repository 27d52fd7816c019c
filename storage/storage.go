package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"disguise/probe"
	"disguise/stealth"
)

var ErrNotFound = errors.New("state not found")

// StateStore persists run records keyed by run id.
type StateStore interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Record is what one `open` run leaves behind for the operator.
type Record struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	Driver    string            `json:"driver"`
	UserAgent string            `json:"userAgent"`
	Units     []string          `json:"units"`
	StartedAt time.Time         `json:"startedAt"`
	Failures  []stealth.Failure `json:"failures,omitempty"`
	Report    *probe.Report     `json:"report,omitempty"`
}

func SaveRecord(ctx context.Context, s StateStore, r Record) error {
	if r.ID == "" {
		return errors.New("record has no id")
	}
	payload, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := s.Save(ctx, r.ID, payload); err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

func LoadRecord(ctx context.Context, s StateStore, id string) (Record, error) {
	raw, err := s.Load(ctx, id)
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, fmt.Errorf("parse record: %w", err)
	}
	return r, nil
}

// NoopStore discards everything; used when storage is disabled.
type NoopStore struct{}

func (NoopStore) Save(_ context.Context, _ string, _ []byte) error {
	return nil
}

func (NoopStore) Load(_ context.Context, _ string) ([]byte, error) {
	return nil, ErrNotFound
}

func (NoopStore) Delete(_ context.Context, _ string) error {
	return nil
}

// FileStore persists state as JSON blobs on disk under BaseDir, one file per key.
type FileStore struct {
	BaseDir string
}

func (f *FileStore) pathFor(key string) string {
	safe := filepath.Base(key)
	return filepath.Join(f.BaseDir, safe+".json")
}

func (f *FileStore) ensureDir() error {
	if f.BaseDir == "" {
		f.BaseDir = "data"
	}
	return os.MkdirAll(f.BaseDir, 0o755)
}

func (f *FileStore) Save(_ context.Context, key string, data []byte) error {
	if key == "" {
		return errors.New("empty key")
	}
	if err := f.ensureDir(); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	return os.WriteFile(f.pathFor(key), data, 0o600)
}

func (f *FileStore) Load(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("empty key")
	}
	b, err := os.ReadFile(f.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return errors.New("empty key")
	}
	if err := os.Remove(f.pathFor(key)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}
