package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/agribbs/models"
	"github.com/cppla/agribbs/storage"
	"github.com/cppla/agribbs/utils"
)

const maxCommentLen = 1000

// CommentService appends and edits comments under posts.
type CommentService struct {
	db    *gorm.DB
	files *storage.Manager
	log   *zap.Logger
	now   func() time.Time

	// closedAccept lets closed posts keep receiving comments.
	closedAccept bool
}

// NewCommentService creates a CommentService. When closedAccept is false, adding a
// comment to a closed post fails with ErrPostClosed.
func NewCommentService(db *gorm.DB, files *storage.Manager, log *zap.Logger, closedAccept bool) *CommentService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CommentService{db: db, files: files, log: log, now: time.Now, closedAccept: closedAccept}
}

// CommentInput is the body of a new comment or a comment edit. Files are appended.
type CommentInput struct {
	Content string
	Files   []storage.File
}

// Add appends a comment to a post and bumps the post's last activity time.
func (s *CommentService) Add(ctx context.Context, caller Caller, postID uint, in CommentInput) (*models.Comment, error) {
	if !caller.Authenticated() {
		return nil, &ForbiddenError{Action: "comment", Reason: "authentication required"}
	}
	content, err := cleanComment(in.Content)
	if err != nil {
		return nil, err
	}

	var post models.Post
	err = s.db.WithContext(ctx).Select("id", "is_closed").First(&post, postID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "post", ID: postID}
	}
	if err != nil {
		return nil, upstream("load post", err)
	}
	if post.IsClosed && !s.closedAccept {
		return nil, ErrPostClosed
	}
	if err := storage.CheckUpload(in.Files); err != nil {
		return nil, err
	}

	stored, err := s.storeFiles(ctx, in.Files)
	if err != nil {
		return nil, err
	}

	now := s.now()
	comment := models.Comment{
		PostID:    postID,
		UserID:    caller.ID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&comment).Error; err != nil {
			return err
		}
		if err := createAttachments(tx, stored, postID, &comment.ID); err != nil {
			return err
		}
		return touchPost(tx, postID, now)
	})
	if err != nil {
		s.files.Discard(ctx, stored)
		return nil, upstream("add comment", err)
	}

	s.log.Info("comment added", zap.Uint("post_id", postID), zap.Uint("comment_id", comment.ID), zap.Uint("user_id", caller.ID))
	return s.load(ctx, comment.ID)
}

// Edit replaces a comment's content for its author. The previous content goes to
// the comment's edit history in the same transaction.
func (s *CommentService) Edit(ctx context.Context, caller Caller, postID, commentID uint, in CommentInput) (*models.Comment, error) {
	content, err := cleanComment(in.Content)
	if err != nil {
		return nil, err
	}

	var exists int64
	if err := s.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", postID).Count(&exists).Error; err != nil {
		return nil, upstream("load post", err)
	}
	if exists == 0 {
		return nil, &NotFoundError{Resource: "post", ID: postID}
	}

	var comment models.Comment
	err = s.db.WithContext(ctx).Where("id = ? AND post_id = ?", commentID, postID).First(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "comment", ID: commentID}
	}
	if err != nil {
		return nil, upstream("load comment", err)
	}
	if !CanModify(caller, comment.UserID).Edit {
		return nil, &ForbiddenError{Action: "edit comment", Reason: "only the author can edit a comment"}
	}
	if err := storage.CheckUpload(in.Files); err != nil {
		return nil, err
	}

	stored, err := s.storeFiles(ctx, in.Files)
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Comment
		if err := tx.Select("id", "content").First(&current, commentID).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.CommentEdit{CommentID: commentID, Content: current.Content, EditedAt: now}).Error; err != nil {
			return err
		}
		err := tx.Model(&models.Comment{}).Where("id = ?", commentID).UpdateColumns(map[string]interface{}{
			"content":    content,
			"is_edited":  true,
			"edited_at":  now,
			"updated_at": now,
		}).Error
		if err != nil {
			return err
		}
		if err := createAttachments(tx, stored, postID, &commentID); err != nil {
			return err
		}
		return touchPost(tx, postID, now)
	})
	if err != nil {
		s.files.Discard(ctx, stored)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "comment", ID: commentID}
		}
		return nil, upstream("edit comment", err)
	}
	return s.load(ctx, commentID)
}

func (s *CommentService) load(ctx context.Context, id uint) (*models.Comment, error) {
	var comment models.Comment
	err := s.db.WithContext(ctx).
		Preload("User").
		Preload("Attachments").
		Preload("Likes").
		Preload("EditHistory", byID).
		First(&comment, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "comment", ID: id}
	}
	if err != nil {
		return nil, upstream("load comment", err)
	}
	return &comment, nil
}

func (s *CommentService) storeFiles(ctx context.Context, files []storage.File) ([]storage.StoredFile, error) {
	return storeUploads(ctx, s.files, files)
}

func touchPost(tx *gorm.DB, postID uint, at time.Time) error {
	return tx.Model(&models.Post{}).Where("id = ?", postID).UpdateColumn("last_activity_at", at).Error
}

// cleanComment sanitizes comment content after checking the raw length.
func cleanComment(raw string) (string, error) {
	if utf8.RuneCountInString(raw) > maxCommentLen {
		return "", NewValidationError("content", fmt.Sprintf("comment cannot exceed %d characters", maxCommentLen))
	}
	content := utils.Sanitize(raw)
	if strings.TrimSpace(content) == "" {
		return "", NewValidationError("content", "comment content is required")
	}
	return content, nil
}
