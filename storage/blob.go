// Package storage implements the attachment manager: it stores uploaded file bytes in a
// blob store and hands back a durable reference, and removes blobs by their handle.
package storage

import (
	"context"
	"io"
)

// Object is what a BlobStore returns for a stored blob.
type Object struct {
	// URL is where clients can fetch the blob.
	URL string
	// Handle is the opaque key used to delete the blob later.
	Handle string
}

// BlobStore is the external file-bytes store. Implementations must be safe for
// concurrent use; handles are unique per stored blob and never shared between posts.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) (*Object, error)
	Delete(ctx context.Context, handle string) error
}
