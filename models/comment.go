package models

import (
	"encoding/json"
	"time"
)

// Comment is a reply under exactly one post. It has no lifetime of its own:
// deleting the post removes its comments.
type Comment struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	PostID    uint       `gorm:"index;not null" json:"postId"`
	UserID    uint       `gorm:"index;not null" json:"authorId"`
	Content   string     `gorm:"type:text;not null" json:"content"`
	IsEdited  bool       `gorm:"not null" json:"isEdited"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`

	User        User          `gorm:"foreignKey:UserID" json:"author"`
	Attachments []Attachment  `gorm:"foreignKey:CommentID" json:"attachments"`
	Likes       []CommentLike `gorm:"foreignKey:CommentID" json:"-"`
	EditHistory []CommentEdit `gorm:"foreignKey:CommentID" json:"editHistory"`
}

// LikedBy returns the ids of users that liked the comment.
func (c *Comment) LikedBy() []uint {
	ids := make([]uint, 0, len(c.Likes))
	for _, l := range c.Likes {
		ids = append(ids, l.UserID)
	}
	return ids
}

// MarshalJSON adds the derived like fields.
func (c Comment) MarshalJSON() ([]byte, error) {
	type comment Comment
	return json.Marshal(struct {
		comment
		Likes     []uint `json:"likes"`
		LikeCount int    `json:"likeCount"`
	}{
		comment:   comment(c),
		Likes:     c.LikedBy(),
		LikeCount: len(c.Likes),
	})
}

// CommentEdit keeps the content a comment had before one edit.
type CommentEdit struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	CommentID uint      `gorm:"index;not null" json:"-"`
	Content   string    `gorm:"type:text" json:"content"`
	EditedAt  time.Time `json:"editedAt"`
}

// CommentLike is one membership row of a comment's like ledger.
type CommentLike struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	CommentID uint      `gorm:"uniqueIndex:idx_comment_likes_comment_user;not null" json:"-"`
	UserID    uint      `gorm:"uniqueIndex:idx_comment_likes_comment_user;not null" json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}
