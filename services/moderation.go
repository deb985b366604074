package services

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/agribbs/models"
)

// FlaggedPageSize is the fixed size of the flagged-content list.
const FlaggedPageSize = 10

// IdentityStore is the account collaborator. Accounts are owned elsewhere; this
// subsystem only reads them and flips role and activation flags.
type IdentityStore interface {
	FindUser(ctx context.Context, id uint) (*models.User, error)
	ListUsers(ctx context.Context, offset, limit int) ([]models.User, int64, error)
	UpdateAccount(ctx context.Context, id uint, update AccountUpdate) (*models.User, error)
	CountUsers(ctx context.Context, activeOnly bool) (int64, error)
}

// AccountUpdate changes role and activation. Nil fields are left unchanged.
type AccountUpdate struct {
	Role     *models.Role
	IsActive *bool
}

// PostFlags sets the moderation axes of a post. Nil fields are left unchanged.
type PostFlags struct {
	IsClosed *bool
	IsPinned *bool
}

// UserPage is one page of accounts.
type UserPage struct {
	Items      []models.User
	TotalCount int64
	TotalPages int
	Page       int
	Limit      int
}

// SystemStats summarizes the community for the admin dashboard.
type SystemStats struct {
	TotalUsers  int64 `json:"totalUsers"`
	ActiveUsers int64 `json:"activeUsers"`
	TotalPosts  int64 `json:"totalPosts"`
	ClosedPosts int64 `json:"closedPosts"`
}

// ModerationService drives pin/close transitions, admin deletion, flagged content
// and account moderation.
type ModerationService struct {
	db    *gorm.DB
	posts *PostService
	users IdentityStore
	log   *zap.Logger
}

// NewModerationService creates a ModerationService.
func NewModerationService(db *gorm.DB, posts *PostService, users IdentityStore, log *zap.Logger) *ModerationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ModerationService{db: db, posts: posts, users: users, log: log}
}

// SetPostFlags applies pin and close transitions. Pinning needs moderation rights;
// closing is allowed to moderators and to the post's author.
func (m *ModerationService) SetPostFlags(ctx context.Context, caller Caller, postID uint, flags PostFlags) (*models.Post, error) {
	if flags.IsClosed == nil && flags.IsPinned == nil {
		return nil, NewValidationError("flags", "isClosed or isPinned is required")
	}
	post, err := m.posts.find(ctx, postID)
	if err != nil {
		return nil, err
	}
	caps := CanModify(caller, post.UserID)
	if flags.IsPinned != nil && !caps.Moderate {
		return nil, &ForbiddenError{Action: "pin post", Reason: "admin role required"}
	}
	if flags.IsClosed != nil && !caps.Moderate && !caps.Edit {
		return nil, &ForbiddenError{Action: "close post", Reason: "admin role required"}
	}

	updates := map[string]interface{}{}
	if flags.IsClosed != nil {
		updates["is_closed"] = *flags.IsClosed
	}
	if flags.IsPinned != nil {
		updates["is_pinned"] = *flags.IsPinned
	}
	if err := m.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", postID).Updates(updates).Error; err != nil {
		return nil, upstream("update post flags", err)
	}
	m.log.Info("post moderated", zap.Uint("post_id", postID), zap.Uint("by", caller.ID), zap.Any("flags", updates))
	return m.posts.load(ctx, postID, false)
}

// DeletePost removes any post on behalf of an admin.
func (m *ModerationService) DeletePost(ctx context.Context, caller Caller, postID uint) (*DeleteReport, error) {
	if !caller.IsAdmin() {
		return nil, &ForbiddenError{Action: "delete post", Reason: "admin role required"}
	}
	return m.posts.Delete(ctx, caller, postID)
}

// ListFlagged returns the most reported posts, highest report count first.
func (m *ModerationService) ListFlagged(ctx context.Context, caller Caller) ([]models.Post, error) {
	if !caller.IsAdmin() {
		return nil, &ForbiddenError{Action: "list flagged posts", Reason: "admin role required"}
	}
	posts := []models.Post{}
	err := m.db.WithContext(ctx).
		Preload("User").
		Where("report_count > ?", 0).
		Order("report_count DESC, id ASC").
		Limit(FlaggedPageSize).
		Find(&posts).Error
	if err != nil {
		return nil, upstream("list flagged posts", err)
	}
	return posts, nil
}

// ListUsers pages through accounts, newest first.
func (m *ModerationService) ListUsers(ctx context.Context, caller Caller, page, limit int) (*UserPage, error) {
	if !caller.IsAdmin() {
		return nil, &ForbiddenError{Action: "list users", Reason: "admin role required"}
	}
	page, limit = clampPage(page, limit, ManagementPageSize)
	users, total, err := m.users.ListUsers(ctx, (page-1)*limit, limit)
	if err != nil {
		return nil, upstream("list users", err)
	}
	return &UserPage{
		Items:      users,
		TotalCount: total,
		TotalPages: int((total + int64(limit) - 1) / int64(limit)),
		Page:       page,
		Limit:      limit,
	}, nil
}

// UpdateAccount changes another user's role or activation. Admins cannot change
// their own account.
func (m *ModerationService) UpdateAccount(ctx context.Context, caller Caller, userID uint, update AccountUpdate) (*models.User, error) {
	if !caller.IsAdmin() {
		return nil, &ForbiddenError{Action: "modify account", Reason: "admin role required"}
	}
	if userID == caller.ID {
		return nil, &ForbiddenError{Action: "modify account", Reason: "cannot modify your own admin status"}
	}
	if update.Role == nil && update.IsActive == nil {
		return nil, NewValidationError("account", "role or isActive is required")
	}
	if update.Role != nil && !update.Role.Valid() {
		return nil, NewValidationError("role", "invalid role")
	}
	user, err := m.users.UpdateAccount(ctx, userID, update)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, upstream("update account", err)
	}
	m.log.Info("account moderated", zap.Uint("user_id", userID), zap.Uint("by", caller.ID),
		zap.String("role", string(user.Role)), zap.Bool("active", user.IsActive))
	return user, nil
}

// Stats returns community counters for the admin dashboard.
func (m *ModerationService) Stats(ctx context.Context, caller Caller) (*SystemStats, error) {
	if !caller.IsAdmin() {
		return nil, &ForbiddenError{Action: "view stats", Reason: "admin role required"}
	}
	var stats SystemStats
	var err error
	if stats.TotalUsers, err = m.users.CountUsers(ctx, false); err != nil {
		return nil, upstream("count users", err)
	}
	if stats.ActiveUsers, err = m.users.CountUsers(ctx, true); err != nil {
		return nil, upstream("count users", err)
	}
	db := m.db.WithContext(ctx)
	if err := db.Model(&models.Post{}).Count(&stats.TotalPosts).Error; err != nil {
		return nil, upstream("count posts", err)
	}
	if err := db.Model(&models.Post{}).Where("is_closed = ?", true).Count(&stats.ClosedPosts).Error; err != nil {
		return nil, upstream("count posts", err)
	}
	return &stats, nil
}

// GormIdentityStore reads and updates accounts in the users table.
type GormIdentityStore struct {
	db *gorm.DB
}

// NewIdentityStore creates a GormIdentityStore.
func NewIdentityStore(db *gorm.DB) *GormIdentityStore {
	return &GormIdentityStore{db: db}
}

// FindUser loads one account; a missing id is a NotFoundError.
func (s *GormIdentityStore) FindUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "user", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers returns a page of accounts, newest first, and the total count.
func (s *GormIdentityStore) ListUsers(ctx context.Context, offset, limit int) ([]models.User, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	users := []models.User{}
	if int64(offset) >= total {
		return users, total, nil
	}
	err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&users).Error
	return users, total, err
}

// UpdateAccount applies the non-nil fields of update.
func (s *GormIdentityStore) UpdateAccount(ctx context.Context, id uint, update AccountUpdate) (*models.User, error) {
	if _, err := s.FindUser(ctx, id); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if update.Role != nil {
		updates["role"] = string(*update.Role)
	}
	if update.IsActive != nil {
		updates["is_active"] = *update.IsActive
	}
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.FindUser(ctx, id)
}

// CountUsers counts all accounts, or only active ones.
func (s *GormIdentityStore) CountUsers(ctx context.Context, activeOnly bool) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.User{})
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}
