package models

import (
	"encoding/json"
	"time"
)

// Categories is the fixed set of discussion categories, in display order.
var Categories = []string{
	"General",
	"Crop Help",
	"Soil Issues",
	"Weather Discussion",
	"Market Updates",
	"Pest Control",
	"Irrigation",
	"Equipment",
	"Success Stories",
}

// DefaultCategory is used when a post is created without a category.
const DefaultCategory = "General"

// ValidCategory reports whether c is one of Categories.
func ValidCategory(c string) bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

// Post is a community discussion thread. Like, comment and attachment counts are
// never stored; they are derived from the owned collections when the post is rendered.
type Post struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"index;not null" json:"authorId"`
	Category       string     `gorm:"size:32;index;not null;default:'General'" json:"category"`
	Title          string     `gorm:"size:200;not null" json:"title"`
	Content        string     `gorm:"type:text;not null" json:"content"`
	Tags           []string   `gorm:"serializer:json;type:text" json:"tags"`
	IsPinned       bool       `gorm:"not null" json:"isPinned"`
	IsClosed       bool       `gorm:"not null" json:"isClosed"`
	IsEdited       bool       `gorm:"not null" json:"isEdited"`
	EditedAt       *time.Time `json:"editedAt,omitempty"`
	ViewCount      int64      `gorm:"not null;default:0" json:"viewCount"`
	ReportCount    int64      `gorm:"index;not null;default:0" json:"reportCount"`
	LastActivityAt time.Time  `gorm:"index" json:"lastActivityAt"`
	CreatedAt      time.Time  `gorm:"index" json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`

	User        User         `gorm:"foreignKey:UserID" json:"author"`
	Attachments []Attachment `gorm:"foreignKey:PostID" json:"attachments"`
	Likes       []PostLike   `gorm:"foreignKey:PostID" json:"-"`
	Comments    []Comment    `gorm:"foreignKey:PostID" json:"comments"`
	EditHistory []PostEdit   `gorm:"foreignKey:PostID" json:"editHistory"`
}

// LikeCount is the number of distinct users that liked the post.
func (p *Post) LikeCount() int { return len(p.Likes) }

// CommentCount is the number of comments under the post.
func (p *Post) CommentCount() int { return len(p.Comments) }

// AttachmentCount counts post-level and comment-level attachments together.
func (p *Post) AttachmentCount() int {
	n := len(p.Attachments)
	for i := range p.Comments {
		n += len(p.Comments[i].Attachments)
	}
	return n
}

// LikedBy returns the ids of users in the like ledger.
func (p *Post) LikedBy() []uint {
	ids := make([]uint, 0, len(p.Likes))
	for _, l := range p.Likes {
		ids = append(ids, l.UserID)
	}
	return ids
}

// IsLikedBy reports whether userID is in the like ledger.
func (p *Post) IsLikedBy(userID uint) bool {
	for _, l := range p.Likes {
		if l.UserID == userID {
			return true
		}
	}
	return false
}

// MarshalJSON renders the post with its derived counters.
func (p Post) MarshalJSON() ([]byte, error) {
	type post Post
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return json.Marshal(struct {
		post
		Likes           []uint `json:"likes"`
		LikeCount       int    `json:"likeCount"`
		CommentCount    int    `json:"commentCount"`
		AttachmentCount int    `json:"attachmentCount"`
	}{
		post:            post(p),
		Likes:           p.LikedBy(),
		LikeCount:       p.LikeCount(),
		CommentCount:    p.CommentCount(),
		AttachmentCount: p.AttachmentCount(),
	})
}

// PostEdit is one append-only entry of a post's edit history, holding the state before the edit.
type PostEdit struct {
	ID       uint      `gorm:"primaryKey" json:"-"`
	PostID   uint      `gorm:"index;not null" json:"-"`
	Title    string    `gorm:"size:200" json:"title"`
	Content  string    `gorm:"type:text" json:"content"`
	EditedAt time.Time `json:"editedAt"`
}

// PostLike is one membership row of a post's like ledger.
type PostLike struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	PostID    uint      `gorm:"uniqueIndex:idx_post_likes_post_user;not null" json:"-"`
	UserID    uint      `gorm:"uniqueIndex:idx_post_likes_post_user;not null" json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	User      User      `gorm:"foreignKey:UserID" json:"user"`
}
