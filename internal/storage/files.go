package storage

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrFileTooLarge is returned when an upload exceeds the configured limit.
var ErrFileTooLarge = errors.New("file exceeds the allowed size")

// StoredFile describes one attachment saved on disk.
type StoredFile struct {
	ID           string `json:"id"`
	Slot         string `json:"slot"`
	Position     int    `json:"position"`
	OriginalName string `json:"originalName"`
	StoredName   string `json:"-"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
}

// FileStore keeps request attachments in a local directory under
// server-generated names.
type FileStore struct {
	dir     string
	maxSize int64
}

// NewFileStore creates the directory if needed. maxSize <= 0 disables the
// size limit.
func NewFileStore(dir string, maxSize int64) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir, maxSize: maxSize}, nil
}

// SaveUpload copies one multipart file to disk.
func (s *FileStore) SaveUpload(slot string, position int, fh *multipart.FileHeader) (*StoredFile, error) {
	if s.maxSize > 0 && fh.Size > s.maxSize {
		return nil, fmt.Errorf("%w: %s", ErrFileTooLarge, fh.Filename)
	}
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer src.Close()

	contentType := fh.Header.Get("Content-Type")
	return s.Save(slot, position, fh.Filename, contentType, src)
}

// Save writes r under a fresh name. The original name is kept only as
// metadata.
func (s *FileStore) Save(slot string, position int, originalName, contentType string, r io.Reader) (*StoredFile, error) {
	name := sanitizeFilename(originalName)
	if name == "" {
		return nil, fmt.Errorf("invalid file name %q", originalName)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := uuid.New()
	stored := id.String() + strings.ToLower(filepath.Ext(name))

	dst, err := os.OpenFile(filepath.Join(s.dir, stored), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("unable to create the file: %w", err)
	}

	src := r
	if s.maxSize > 0 {
		src = io.LimitReader(r, s.maxSize+1)
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.maxSize > 0 && n > s.maxSize {
		err = fmt.Errorf("%w: %s", ErrFileTooLarge, name)
	}
	if err != nil {
		os.Remove(filepath.Join(s.dir, stored))
		return nil, err
	}

	return &StoredFile{
		ID:           id.String(),
		Slot:         slot,
		Position:     position,
		OriginalName: name,
		StoredName:   stored,
		ContentType:  contentType,
		Size:         n,
	}, nil
}

// Open returns the content of a stored file.
func (s *FileStore) Open(storedName string) (*os.File, error) {
	if storedName != filepath.Base(storedName) {
		return nil, fmt.Errorf("invalid stored name %q", storedName)
	}
	return os.Open(filepath.Join(s.dir, storedName))
}

// Remove deletes stored files, ignoring ones already gone.
func (s *FileStore) Remove(files ...*StoredFile) error {
	var errs []error
	for _, f := range files {
		if f == nil {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, f.StoredName)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
