package storage

import (
	"path/filepath"
	"strings"
)

const (
	// MaxFiles is the most attachments accepted by a single create or edit call.
	MaxFiles = 5
	// MaxFileSize is the per-file upload limit: 50MB.
	MaxFileSize int64 = 50 * 1024 * 1024
)

var allowedExtensions = map[string]bool{
	".jpeg": true, ".jpg": true, ".png": true, ".gif": true,
	".pdf": true, ".doc": true, ".docx": true, ".ppt": true, ".pptx": true,
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true,
}

var allowedTypes = map[string]bool{
	"image/jpeg":         true,
	"image/jpg":          true,
	"image/png":          true,
	"image/gif":          true,
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.ms-powerpoint":                                             true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"video/mp4":        true,
	"video/x-matroska": true,
	"video/x-msvideo":  true,
	"video/avi":        true,
	"video/quicktime":  true,
}

// CheckUpload applies the upload policy to a batch of files: at most MaxFiles,
// each at most MaxFileSize, each with an allowed extension and MIME type.
// Sizes reported by the client are checked here; Manager re-checks the bytes it reads.
func CheckUpload(files []File) error {
	if len(files) > MaxFiles {
		return &PayloadTooLargeError{Limit: MaxFiles, Count: true}
	}
	for _, f := range files {
		if f.Size > MaxFileSize {
			return &PayloadTooLargeError{Name: f.Name, Limit: MaxFileSize}
		}
		if !Allowed(f.Name, f.ContentType) {
			return &UnsupportedMediaError{Name: f.Name, ContentType: f.ContentType}
		}
	}
	return nil
}

// Allowed reports whether both the file extension and the MIME type are on the allow-list.
func Allowed(name, contentType string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return allowedExtensions[ext] && allowedTypes[mediaType(contentType)]
}

func mediaType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}
