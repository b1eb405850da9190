// Package storage keeps uploaded task files on the local disk.
package storage

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"foreman-pm-backend/pkg/apperrors"
	"foreman-pm-backend/pkg/models"

	"github.com/google/uuid"
)

// PhotoStore writes images under a single directory.
type PhotoStore struct {
	dir      string
	maxBytes int64
}

// NewPhotoStore creates dir if needed.
func NewPhotoStore(dir string, maxBytes int64) (*PhotoStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &PhotoStore{dir: dir, maxBytes: maxBytes}, nil
}

// Save buffers the upload and stores it as task_<id>_<uuid><ext>. The
// returned attachment has no ID; the caller persists it.
func (s *PhotoStore) Save(taskID, uploaderID int64, filename, contentType string, r io.Reader) (*models.TaskAttachment, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("file is empty: %w", apperrors.ErrValidation)
	}
	if n > s.maxBytes {
		return nil, fmt.Errorf("file exceeds %d bytes: %w", s.maxBytes, apperrors.ErrValidation)
	}

	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(buf.Bytes())
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("file must be an image, got %s: %w", contentType, apperrors.ErrValidation)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	path := filepath.Join(s.dir, fmt.Sprintf("task_%d_%s%s", taskID, uuid.NewString(), ext))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}

	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) {
		name = filepath.Base(path)
	}
	return &models.TaskAttachment{
		TaskID:      taskID,
		UploadedBy:  uploaderID,
		FileName:    name,
		StoredPath:  path,
		ContentType: contentType,
		SizeBytes:   n,
	}, nil
}

// Open returns a stored file. Paths outside the store directory are refused.
func (s *PhotoStore) Open(path string) (*os.File, error) {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("path %s: %w", path, apperrors.ErrNotFound)
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("path %s: %w", path, apperrors.ErrNotFound)
	}
	return f, err
}

// Remove deletes a stored file, ignoring files that are already gone.
func (s *PhotoStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
