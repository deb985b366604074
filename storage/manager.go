package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cppla/agribbs/models"
)

// File is an upload waiting to be stored.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// StoredFile is the durable reference returned for a stored upload.
type StoredFile struct {
	URL          string
	Kind         string
	OriginalName string
	Size         int64
	Handle       string
	UploadedAt   time.Time
}

// Attachment converts the reference into an attachment row for the given owner.
func (s StoredFile) Attachment(postID uint, commentID *uint) models.Attachment {
	return models.Attachment{
		PostID:        postID,
		CommentID:     commentID,
		URL:           s.URL,
		Kind:          s.Kind,
		OriginalName:  s.OriginalName,
		Size:          s.Size,
		StorageHandle: s.Handle,
		UploadedAt:    s.UploadedAt,
	}
}

var documentTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.ms-powerpoint":                                             true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
}

// KindOf derives the attachment kind from a MIME type's primary component.
// Office and PDF types count as documents; anything unrecognized is "other".
func KindOf(contentType string) string {
	ct := mediaType(contentType)
	primary, _, _ := strings.Cut(ct, "/")
	switch primary {
	case "image":
		return models.KindImage
	case "video":
		return models.KindVideo
	case "text":
		return models.KindDocument
	}
	if documentTypes[ct] {
		return models.KindDocument
	}
	return models.KindOther
}

// Manager wraps a BlobStore with kind detection, size enforcement and rollback.
type Manager struct {
	store BlobStore
	log   *zap.Logger
	now   func() time.Time
}

// NewManager creates a Manager over the given blob store.
func NewManager(store BlobStore, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: store, log: log, now: time.Now}
}

// Store writes one file and returns its reference. The body is read at most
// MaxFileSize+1 bytes; an oversized body is removed again and rejected.
func (m *Manager) Store(ctx context.Context, f File) (*StoredFile, error) {
	name := filepath.Base(f.Name)
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	key := uuid.NewString() + strings.ToLower(filepath.Ext(name))

	body := &countingReader{r: io.LimitReader(f.Body, MaxFileSize+1)}
	obj, err := m.store.Put(ctx, key, body, mediaType(f.ContentType))
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", name, err)
	}
	if body.n > MaxFileSize {
		if derr := m.store.Delete(ctx, obj.Handle); derr != nil {
			m.log.Warn("failed to remove oversized upload", zap.String("handle", obj.Handle), zap.Error(derr))
		}
		return nil, &PayloadTooLargeError{Name: name, Limit: MaxFileSize}
	}

	return &StoredFile{
		URL:          obj.URL,
		Kind:         KindOf(f.ContentType),
		OriginalName: name,
		Size:         body.n,
		Handle:       obj.Handle,
		UploadedAt:   m.now(),
	}, nil
}

// StoreAll stores every file or none: when one fails, the blobs already written
// are removed before the error is returned.
func (m *Manager) StoreAll(ctx context.Context, files []File) ([]StoredFile, error) {
	stored := make([]StoredFile, 0, len(files))
	for _, f := range files {
		sf, err := m.Store(ctx, f)
		if err != nil {
			m.Discard(ctx, stored)
			return nil, err
		}
		stored = append(stored, *sf)
	}
	return stored, nil
}

// Discard removes blobs that were stored for an operation that did not complete.
func (m *Manager) Discard(ctx context.Context, stored []StoredFile) {
	for _, sf := range stored {
		if err := m.Remove(ctx, sf.Handle); err != nil {
			m.log.Warn("failed to discard stored upload", zap.String("handle", sf.Handle), zap.Error(err))
		}
	}
}

// Remove deletes a blob by handle. Failures come back as *BlobDeletionError.
func (m *Manager) Remove(ctx context.Context, handle string) error {
	if err := m.store.Delete(ctx, handle); err != nil {
		return &BlobDeletionError{Handle: handle, Err: err}
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
