package storage

import (
	"errors"
	"fmt"
)

// UnsupportedMediaError rejects a file outside the upload allow-list.
type UnsupportedMediaError struct {
	Name        string
	ContentType string
}

func (e *UnsupportedMediaError) Error() string {
	return fmt.Sprintf("unsupported file %q (%s): only images (JPEG, JPG, PNG, GIF), PDFs, documents (DOC, DOCX, PPT, PPTX) and videos (MP4, MKV, AVI, MOV) are allowed", e.Name, e.ContentType)
}

// PayloadTooLargeError rejects uploads over the per-file size or per-call count limit.
type PayloadTooLargeError struct {
	Name  string
	Limit int64
	Count bool
}

func (e *PayloadTooLargeError) Error() string {
	if e.Count {
		return fmt.Sprintf("too many files: at most %d attachments per request", e.Limit)
	}
	return fmt.Sprintf("file %q exceeds the %d MB limit", e.Name, e.Limit>>20)
}

// BlobDeletionError reports a failed blob removal. Callers deleting a post treat it
// as non-fatal.
type BlobDeletionError struct {
	Handle string
	Err    error
}

func (e *BlobDeletionError) Error() string {
	return fmt.Sprintf("delete blob %s: %v", e.Handle, e.Err)
}

func (e *BlobDeletionError) Unwrap() error { return e.Err }

// IsUnsupportedMedia checks if err is an UnsupportedMediaError.
func IsUnsupportedMedia(err error) bool {
	var e *UnsupportedMediaError
	return errors.As(err, &e)
}

// IsPayloadTooLarge checks if err is a PayloadTooLargeError.
func IsPayloadTooLarge(err error) bool {
	var e *PayloadTooLargeError
	return errors.As(err, &e)
}

// IsBlobDeletion checks if err is a BlobDeletionError.
func IsBlobDeletion(err error) bool {
	var e *BlobDeletionError
	return errors.As(err, &e)
}
