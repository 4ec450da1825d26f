// Package blob stores uploaded files and their metadata.
package blob

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"relay/db"
	"relay/models"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrNotFound        = errors.New("file not found")
	ErrTooLarge        = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
)

// PublicPrefix is the URL prefix blobs are served under.
const PublicPrefix = "/uploads/"

// Metadata persists upload records.
type Metadata interface {
	SaveUpload(u *models.Upload) error
	GetUpload(filename string) (*models.Upload, error)
	DeleteUpload(filename string) error
	CountUploads() (int, error)
}

type Config struct {
	Dir          string
	MaxSize      int64
	AllowedTypes []string
}

type Store struct {
	fs      afero.Fs
	meta    Metadata
	cfg     Config
	now     func() time.Time
	newName func(ext string, at time.Time) string
}

func NewStore(fs afero.Fs, meta Metadata, cfg Config) (*Store, error) {
	if err := fs.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{
		fs:      fs,
		meta:    meta,
		cfg:     cfg,
		now:     time.Now,
		newName: storedName,
	}, nil
}

// Save writes the content of r under a fresh name and records its metadata.
// mimetype may be empty, in which case it is sniffed from the content.
func (s *Store) Save(originalName, mimetype string, r io.Reader) (*models.Upload, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]

	mimetype = normalizeType(mimetype)
	if mimetype == "" || mimetype == "application/octet-stream" {
		mimetype = normalizeType(http.DetectContentType(head))
	}
	if !s.allowed(mimetype) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimetype)
	}

	now := s.now().UTC()
	filename := s.newName(filepath.Ext(originalName), now)
	target := filepath.Join(s.cfg.Dir, filename)

	f, err := s.fs.Create(target)
	if err != nil {
		return nil, fmt.Errorf("create blob: %w", err)
	}

	hash, _ := blake2b.New256(nil)
	src := io.MultiReader(bytes.NewReader(head), r)
	if s.cfg.MaxSize > 0 {
		// one extra byte tells an exact-limit file from an oversized one
		src = io.LimitReader(src, s.cfg.MaxSize+1)
	}
	size, err := io.Copy(io.MultiWriter(f, hash), src)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && s.cfg.MaxSize > 0 && size > s.cfg.MaxSize {
		err = ErrTooLarge
	}
	if err != nil {
		_ = s.fs.Remove(target)
		if errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("write blob: %w", err)
	}

	u := &models.Upload{
		Filename:     filename,
		OriginalName: path.Base(filepath.ToSlash(originalName)),
		Path:         PublicPrefix + filename,
		Size:         size,
		Mimetype:     mimetype,
		Checksum:     hex.EncodeToString(hash.Sum(nil)),
		CreatedAt:    now,
	}
	if err := s.meta.SaveUpload(u); err != nil {
		_ = s.fs.Remove(target)
		return nil, fmt.Errorf("save upload metadata: %w", err)
	}
	return u, nil
}

// Open returns the metadata and content of a stored blob. The caller closes
// the file.
func (s *Store) Open(filename string) (*models.Upload, afero.File, error) {
	if filename == "" || filename != filepath.Base(filename) {
		return nil, nil, ErrNotFound
	}

	u, err := s.meta.GetUpload(filename)
	if errors.Is(err, db.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	f, err := s.fs.Open(filepath.Join(s.cfg.Dir, filename))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return u, f, nil
}

// Delete removes a blob and its metadata.
func (s *Store) Delete(filename string) error {
	if filename == "" || filename != filepath.Base(filename) {
		return ErrNotFound
	}
	if err := s.meta.DeleteUpload(filename); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return s.fs.Remove(filepath.Join(s.cfg.Dir, filename))
}

func (s *Store) Count() (int, error) {
	return s.meta.CountUploads()
}

func (s *Store) allowed(mimetype string) bool {
	if len(s.cfg.AllowedTypes) == 0 {
		return true
	}
	for _, t := range s.cfg.AllowedTypes {
		if t == "*" || t == mimetype || (strings.HasSuffix(t, "/") && strings.HasPrefix(mimetype, t)) {
			return true
		}
	}
	return false
}

// normalizeType strips parameters such as charset.
func normalizeType(mimetype string) string {
	if i := strings.IndexByte(mimetype, ';'); i >= 0 {
		mimetype = mimetype[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimetype))
}

func storedName(ext string, at time.Time) string {
	return fmt.Sprintf("%d-%s%s", at.UnixMilli(), uuid.NewString()[:8], strings.ToLower(ext))
}
