package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore keeps blobs on the local filesystem under dir/yyyy/mm/dd and serves
// them from baseURL (for example /static/uploads). The handle is the path relative to dir.
type LocalStore struct {
	dir     string
	baseURL string
	now     func() time.Time
}

// NewLocalStore creates the upload directory if needed.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}, nil
}

// Put writes body to a dated sub-directory. A partially written file is removed on error.
func (s *LocalStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.now()
	rel := path.Join(now.Format("2006"), now.Format("01"), now.Format("02"), filepath.Base(key))
	dst := filepath.Join(s.dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(out, body); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return nil, fmt.Errorf("write file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return nil, fmt.Errorf("close file: %w", err)
	}

	return &Object{URL: s.baseURL + "/" + rel, Handle: rel}, nil
}

// Delete removes the blob. A blob that is already gone counts as deleted.
func (s *LocalStore) Delete(ctx context.Context, handle string) error {
	p, err := s.resolve(handle)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalStore) resolve(handle string) (string, error) {
	clean := path.Clean("/" + handle)
	if clean == "/" || strings.Contains(handle, "..") {
		return "", fmt.Errorf("invalid storage handle %q", handle)
	}
	return filepath.Join(s.dir, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}
