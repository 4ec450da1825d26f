package blob

import (
	"bytes"
	"encoding/hex"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"relay/db"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func setupTestStore(t *testing.T, cfg Config) (*Store, afero.Fs) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "uploads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	if cfg.Dir == "" {
		cfg.Dir = "uploads"
	}
	fs := afero.NewMemMapFs()
	store, err := NewStore(fs, database, cfg)
	require.NoError(t, err)
	store.now = func() time.Time { return time.UnixMilli(1714564800000) }
	return store, fs
}

func TestSaveAndOpen(t *testing.T) {
	store, fs := setupTestStore(t, Config{AllowedTypes: []string{"image/"}})

	content := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte("x"), 2048)...)
	u, err := store.Save("dir/Holiday.PNG", "image/png", bytes.NewReader(content))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(u.Filename, "1714564800000-"))
	assert.True(t, strings.HasSuffix(u.Filename, ".png"))
	assert.Equal(t, "Holiday.PNG", u.OriginalName)
	assert.Equal(t, PublicPrefix+u.Filename, u.Path)
	assert.Equal(t, int64(len(content)), u.Size)
	assert.Equal(t, "image/png", u.Mimetype)

	sum := blake2b.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), u.Checksum)

	exists, err := afero.Exists(fs, filepath.Join("uploads", u.Filename))
	require.NoError(t, err)
	assert.True(t, exists)

	meta, f, err := store.Open(u.Filename)
	require.NoError(t, err)
	defer f.Close()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, "Holiday.PNG", meta.OriginalName)

	count, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSaveSniffsMissingType(t *testing.T) {
	store, _ := setupTestStore(t, Config{})

	u, err := store.Save("notes.txt", "", strings.NewReader("plain words"))
	require.NoError(t, err)
	assert.Equal(t, "text/plain", u.Mimetype)
}

func TestSaveRejectsUnsupportedType(t *testing.T) {
	store, fs := setupTestStore(t, Config{AllowedTypes: []string{"image/", "application/pdf"}})

	_, err := store.Save("run.sh", "application/x-sh", strings.NewReader("#!/bin/sh"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	entries, err := afero.ReadDir(fs, "uploads")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveRejectsTooLarge(t *testing.T) {
	store, fs := setupTestStore(t, Config{MaxSize: 16})

	_, err := store.Save("big.txt", "text/plain", strings.NewReader(strings.Repeat("a", 17)))
	assert.ErrorIs(t, err, ErrTooLarge)

	entries, err := afero.ReadDir(fs, "uploads")
	require.NoError(t, err)
	assert.Empty(t, entries, "partial blob must be removed")

	u, err := store.Save("exact.txt", "text/plain", strings.NewReader(strings.Repeat("a", 16)))
	require.NoError(t, err)
	assert.Equal(t, int64(16), u.Size)
}

func TestOpenUnknown(t *testing.T) {
	store, _ := setupTestStore(t, Config{})

	for _, name := range []string{"", "missing.png", "../uploads.db", "a/b.png"} {
		_, _, err := store.Open(name)
		assert.ErrorIs(t, err, ErrNotFound, name)
	}
}

func TestDelete(t *testing.T) {
	store, fs := setupTestStore(t, Config{})

	u, err := store.Save("a.txt", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(u.Filename))
	assert.ErrorIs(t, store.Delete(u.Filename), ErrNotFound)

	exists, err := afero.Exists(fs, filepath.Join("uploads", u.Filename))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAllowedTypes(t *testing.T) {
	s := &Store{cfg: Config{AllowedTypes: []string{"image/", "application/pdf"}}}

	assert.True(t, s.allowed("image/jpeg"))
	assert.True(t, s.allowed("application/pdf"))
	assert.False(t, s.allowed("application/pdfx"))
	assert.False(t, s.allowed("text/html"))

	s.cfg.AllowedTypes = []string{"*"}
	assert.True(t, s.allowed("text/html"))
}
