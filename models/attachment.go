package models

import "time"

// Attachment kinds, derived from the uploaded file's MIME type.
const (
	KindImage    = "image"
	KindDocument = "document"
	KindVideo    = "video"
	KindOther    = "other"
)

// Attachment references a stored file tied to a post, or to a comment of that post
// when CommentID is set. Rows are immutable except for removal.
type Attachment struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	PostID        uint      `gorm:"index;not null" json:"-"`
	CommentID     *uint     `gorm:"index" json:"-"`
	URL           string    `gorm:"size:1024;not null" json:"url"`
	Kind          string    `gorm:"size:16;not null" json:"fileType"`
	OriginalName  string    `gorm:"size:255;not null" json:"originalName"`
	Size          int64     `gorm:"not null" json:"size"`
	StorageHandle string    `gorm:"size:512;not null" json:"-"`
	UploadedAt    time.Time `json:"uploadedAt"`
}

// OrphanedBlob records a blob whose deletion failed while its owner was removed.
// The sweeper retries the deletion until it succeeds or the attempts run out.
type OrphanedBlob struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	StorageHandle string    `gorm:"size:512;not null" json:"storageHandle"`
	PostID        uint      `gorm:"index" json:"postId"`
	LastError     string    `gorm:"size:1024" json:"lastError"`
	Attempts      int       `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt time.Time `gorm:"index" json:"nextAttemptAt"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// All lists every record type for schema migration.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Post{},
		&PostEdit{},
		&PostLike{},
		&Comment{},
		&CommentEdit{},
		&CommentLike{},
		&Attachment{},
		&OrphanedBlob{},
	}
}
