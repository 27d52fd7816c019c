package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disguise/probe"
	"disguise/stealth"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "runs")
	fs := &FileStore{BaseDir: dir}

	require.NoError(t, fs.Save(ctx, "abc", []byte(`{"ok":true}`)))
	_, err := os.Stat(filepath.Join(dir, "abc.json"))
	require.NoError(t, err)

	got, err := fs.Load(ctx, "abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(got))

	require.NoError(t, fs.Delete(ctx, "abc"))
	_, err = fs.Load(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, fs.Delete(ctx, "abc"), "deleting twice is fine")
}

func TestFileStoreKeysStayInBaseDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs := &FileStore{BaseDir: dir}

	require.NoError(t, fs.Save(ctx, "../escape", []byte(`{}`)))
	_, err := os.Stat(filepath.Join(dir, "escape.json"))
	assert.NoError(t, err)
}

func TestFileStoreEmptyKey(t *testing.T) {
	fs := &FileStore{BaseDir: t.TempDir()}
	ctx := context.Background()

	assert.Error(t, fs.Save(ctx, "", nil))
	_, err := fs.Load(ctx, "")
	assert.Error(t, err)
	assert.Error(t, fs.Delete(ctx, ""))
}

func TestRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := &FileStore{BaseDir: t.TempDir()}

	rec := Record{
		ID:        "run-1",
		URL:       "https://example.com",
		Driver:    "rod",
		Units:     []string{"identity", "webgl"},
		StartedAt: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		Failures:  []stealth.Failure{{Unit: "webgl", Kind: stealth.FailureCapture, Message: "gone"}},
		Report: &probe.Report{
			Fingerprint: probe.Fingerprint{Webdriver: "undefined"},
			Checks:      []probe.Check{{Name: "webdriver", Pass: true, Got: "undefined", Want: "undefined"}},
		},
	}
	require.NoError(t, SaveRecord(ctx, fs, rec))

	got, err := LoadRecord(ctx, fs, "run-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = LoadRecord(ctx, fs, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, SaveRecord(ctx, fs, Record{}))
}

func TestNoopStore(t *testing.T) {
	ctx := context.Background()
	var s StateStore = NoopStore{}

	assert.NoError(t, SaveRecord(ctx, s, Record{ID: "x"}))
	_, err := LoadRecord(ctx, s, "x")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, "x"))
}
