package services

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/agribbs/models"
)

// LikeState is the caller's like status after a toggle.
type LikeState struct {
	IsLiked   bool  `json:"isLiked"`
	LikeCount int64 `json:"likeCount"`
}

// LikeLedger toggles membership in post and comment like sets. Each toggle runs in
// one transaction and the (target, user) unique index keeps a user in a set at most once.
type LikeLedger struct {
	db  *gorm.DB
	now func() time.Time
}

// NewLikeLedger creates a LikeLedger.
func NewLikeLedger(db *gorm.DB) *LikeLedger {
	return &LikeLedger{db: db, now: time.Now}
}

// TogglePost adds the caller to the post's like set or removes them from it.
func (l *LikeLedger) TogglePost(ctx context.Context, caller Caller, postID uint) (*LikeState, error) {
	if !caller.Authenticated() {
		return nil, &ForbiddenError{Action: "like post", Reason: "authentication required"}
	}
	var state LikeState
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := mustExist(tx, &models.Post{}, "id = ?", "post", postID, postID); err != nil {
			return err
		}
		res := tx.Where("post_id = ? AND user_id = ?", postID, caller.ID).Delete(&models.PostLike{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			like := models.PostLike{PostID: postID, UserID: caller.ID, CreatedAt: l.now()}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Omit(clause.Associations).Create(&like).Error; err != nil {
				return err
			}
			state.IsLiked = true
		}
		if err := touchPost(tx, postID, l.now()); err != nil {
			return err
		}
		return tx.Model(&models.PostLike{}).Where("post_id = ?", postID).Count(&state.LikeCount).Error
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, upstream("toggle post like", err)
	}
	return &state, nil
}

// ToggleComment adds the caller to the comment's like set or removes them from it.
func (l *LikeLedger) ToggleComment(ctx context.Context, caller Caller, postID, commentID uint) (*LikeState, error) {
	if !caller.Authenticated() {
		return nil, &ForbiddenError{Action: "like comment", Reason: "authentication required"}
	}
	var state LikeState
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := mustExist(tx, &models.Post{}, "id = ?", "post", postID, postID); err != nil {
			return err
		}
		if err := mustExist(tx, &models.Comment{}, "id = ? AND post_id = ?", "comment", commentID, commentID, postID); err != nil {
			return err
		}
		res := tx.Where("comment_id = ? AND user_id = ?", commentID, caller.ID).Delete(&models.CommentLike{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			like := models.CommentLike{CommentID: commentID, UserID: caller.ID, CreatedAt: l.now()}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&like).Error; err != nil {
				return err
			}
			state.IsLiked = true
		}
		return tx.Model(&models.CommentLike{}).Where("comment_id = ?", commentID).Count(&state.LikeCount).Error
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, upstream("toggle comment like", err)
	}
	return &state, nil
}

func mustExist(tx *gorm.DB, model interface{}, cond, resource string, id uint, args ...interface{}) error {
	var n int64
	if err := tx.Model(model).Where(cond, args...).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return &NotFoundError{Resource: resource, ID: id}
	}
	return nil
}
