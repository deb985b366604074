package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/agribbs/models"
	"github.com/cppla/agribbs/storage"
	"github.com/cppla/agribbs/utils"
)

const (
	maxTitleLen   = 200
	maxContentLen = 5000
	maxTagLen     = 30
)

// Sort orders accepted by List.
const (
	SortNewest  = "newest"
	SortOldest  = "oldest"
	SortPopular = "popular"
)

// Search weights: title > tags > content > comment text.
const (
	weightTitle   = 5
	weightTags    = 4
	weightContent = 3
	weightComment = 1
)

const maxSearchTerms = 8

// PostService owns post records: creation, retrieval, listing, search, edits and deletion.
type PostService struct {
	db    *gorm.DB
	files *storage.Manager
	log   *zap.Logger
	now   func() time.Time
}

// NewPostService creates a PostService.
func NewPostService(db *gorm.DB, files *storage.Manager, log *zap.Logger) *PostService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PostService{db: db, files: files, log: log, now: time.Now}
}

// CreatePostInput carries the fields of a new post.
type CreatePostInput struct {
	Title    string
	Content  string
	Category string
	Tags     []string
	Files    []storage.File
}

// UpdatePostInput carries an edit. Nil fields are left unchanged; Files are appended.
type UpdatePostInput struct {
	Title    *string
	Content  *string
	Category *string
	Tags     []string
	Files    []storage.File
}

// PostQuery selects a page of posts.
type PostQuery struct {
	Category string
	Search   string
	SortBy   string
	AuthorID uint
	// Status filters on the closed flag: "open", "closed" or empty for both.
	Status string
	Page   int
	Limit  int
}

// PostPage is one page of a listing. Page and Limit are 1-based and echo the query.
type PostPage struct {
	Items      []models.Post
	TotalCount int64
	TotalPages int
	Page       int
	Limit      int
}

// DeleteReport describes the blob cleanup done while deleting a post.
type DeleteReport struct {
	PostID    uint
	Attempted int
	// Failed lists the storage handles whose blobs could not be removed.
	Failed []string
	// Err aggregates the *storage.BlobDeletionError values behind Failed.
	Err error
	// Deferred lists handles of attachments added while the delete was running.
	// They were not attempted and are left to the orphan sweeper.
	Deferred []string
}

// Create stores the attachments and then the post. A blob failure aborts before
// any record is written.
func (s *PostService) Create(ctx context.Context, caller Caller, in CreatePostInput) (*models.Post, error) {
	if !caller.Authenticated() {
		return nil, &ForbiddenError{Action: "create post", Reason: "authentication required"}
	}
	title, err := cleanTitle(in.Title)
	if err != nil {
		return nil, err
	}
	content, err := cleanContent(in.Content)
	if err != nil {
		return nil, err
	}
	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = models.DefaultCategory
	}
	if !models.ValidCategory(category) {
		return nil, NewValidationError("category", "invalid category")
	}
	tags, err := NormalizeTags(in.Tags)
	if err != nil {
		return nil, err
	}
	if err := storage.CheckUpload(in.Files); err != nil {
		return nil, err
	}

	stored, err := s.storeFiles(ctx, in.Files)
	if err != nil {
		return nil, err
	}

	now := s.now()
	post := models.Post{
		UserID:         caller.ID,
		Category:       category,
		Title:          title,
		Content:        content,
		Tags:           tags,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&post).Error; err != nil {
			return err
		}
		return createAttachments(tx, stored, post.ID, nil)
	})
	if err != nil {
		s.files.Discard(ctx, stored)
		return nil, upstream("create post", err)
	}

	s.log.Info("post created", zap.Uint("post_id", post.ID), zap.Uint("user_id", caller.ID), zap.Int("attachments", len(stored)))
	return s.load(ctx, post.ID, true)
}

// Get returns a post for display and counts the view. The increment is a single
// UPDATE so concurrent readers never lose one.
func (s *PostService) Get(ctx context.Context, id uint) (*models.Post, error) {
	res := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ?", id).
		UpdateColumn("view_count", gorm.Expr("view_count + ?", 1))
	if res.Error != nil {
		return nil, upstream("increment view count", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, &NotFoundError{Resource: "post", ID: id}
	}
	return s.load(ctx, id, true)
}

// Peek returns a post for display without counting a view.
func (s *PostService) Peek(ctx context.Context, id uint) (*models.Post, error) {
	return s.load(ctx, id, true)
}

// List returns one page of posts. When Search is set, posts are ranked by relevance
// and SortBy is ignored. Pages past the end are empty, not an error.
func (s *PostService) List(ctx context.Context, q PostQuery) (*PostPage, error) {
	page, limit := q.Page, q.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = ManagementPageSize
	}

	base := s.db.WithContext(ctx).Model(&models.Post{})
	if q.Category != "" {
		base = base.Where("posts.category = ?", q.Category)
	}
	if q.AuthorID != 0 {
		base = base.Where("posts.user_id = ?", q.AuthorID)
	}
	switch q.Status {
	case "open":
		base = base.Where("posts.is_closed = ?", false)
	case "closed":
		base = base.Where("posts.is_closed = ?", true)
	}
	terms := searchTerms(q.Search)
	var scoreSQL string
	var scoreArgs []interface{}
	if len(terms) > 0 {
		scoreSQL, scoreArgs = relevance(terms)
		base = base.Where("("+scoreSQL+") > 0", scoreArgs...)
	}
	base = base.Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, upstream("count posts", err)
	}

	items := []models.Post{}
	offset := (page - 1) * limit
	if int64(offset) < total {
		find := withSummary(base)
		switch {
		case len(terms) > 0:
			find = find.Order(clause.OrderBy{Expression: clause.Expr{
				SQL:                "(" + scoreSQL + ") DESC, posts.created_at DESC, posts.id DESC",
				Vars:               scoreArgs,
				WithoutParentheses: true,
			}})
		case q.SortBy == SortPopular:
			find = find.Order("(SELECT COUNT(*) FROM post_likes pl WHERE pl.post_id = posts.id) DESC, " +
				"(SELECT COUNT(*) FROM comments pc WHERE pc.post_id = posts.id) DESC, " +
				"posts.created_at DESC, posts.id DESC")
		case q.SortBy == SortOldest:
			find = find.Order("posts.created_at ASC, posts.id ASC")
		default:
			find = find.Order("posts.created_at DESC, posts.id DESC")
		}
		if err := find.Offset(offset).Limit(limit).Find(&items).Error; err != nil {
			return nil, upstream("list posts", err)
		}
	}

	return &PostPage{
		Items:      items,
		TotalCount: total,
		TotalPages: int((total + int64(limit) - 1) / int64(limit)),
		Page:       page,
		Limit:      limit,
	}, nil
}

// Update edits a post on behalf of its author. The pre-edit title and content are
// appended to the edit history in the same transaction as the field update; new
// attachments are added to the existing ones.
func (s *PostService) Update(ctx context.Context, caller Caller, id uint, in UpdatePostInput) (*models.Post, error) {
	post, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanModify(caller, post.UserID).Edit {
		return nil, &ForbiddenError{Action: "edit post", Reason: "only the author can edit a post"}
	}

	now := s.now()
	changed := models.Post{IsEdited: true, EditedAt: &now, UpdatedAt: now}
	cols := []string{"is_edited", "edited_at", "updated_at"}
	if in.Title != nil {
		title, err := cleanTitle(*in.Title)
		if err != nil {
			return nil, err
		}
		changed.Title = title
		cols = append(cols, "title")
	}
	if in.Content != nil {
		content, err := cleanContent(*in.Content)
		if err != nil {
			return nil, err
		}
		changed.Content = content
		cols = append(cols, "content")
	}
	if in.Category != nil {
		if !models.ValidCategory(*in.Category) {
			return nil, NewValidationError("category", "invalid category")
		}
		changed.Category = *in.Category
		cols = append(cols, "category")
	}
	if in.Tags != nil {
		tags, err := NormalizeTags(in.Tags)
		if err != nil {
			return nil, err
		}
		changed.Tags = tags
		cols = append(cols, "tags")
	}
	if err := storage.CheckUpload(in.Files); err != nil {
		return nil, err
	}

	stored, err := s.storeFiles(ctx, in.Files)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Post
		if err := tx.Select("id", "title", "content").First(&current, id).Error; err != nil {
			return err
		}
		edit := models.PostEdit{PostID: id, Title: current.Title, Content: current.Content, EditedAt: now}
		if err := tx.Create(&edit).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Post{ID: id}).Select(cols).Updates(&changed).Error; err != nil {
			return err
		}
		return createAttachments(tx, stored, id, nil)
	})
	if err != nil {
		s.files.Discard(ctx, stored)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "post", ID: id}
		}
		return nil, upstream("update post", err)
	}
	return s.load(ctx, id, true)
}

// Delete removes a post for its author or an admin. Every post-level and comment-level
// blob is removed first; blob failures are logged, recorded for the orphan sweeper and
// reported, but do not stop the record removal.
func (s *PostService) Delete(ctx context.Context, caller Caller, id uint) (*DeleteReport, error) {
	post, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanModify(caller, post.UserID).Delete {
		return nil, &ForbiddenError{Action: "delete post", Reason: "only the author or an admin can delete a post"}
	}

	var atts []models.Attachment
	if err := s.db.WithContext(ctx).Where("post_id = ?", id).Find(&atts).Error; err != nil {
		return nil, upstream("load attachments", err)
	}

	report := &DeleteReport{PostID: id, Attempted: len(atts)}
	for _, a := range atts {
		if err := s.files.Remove(ctx, a.StorageHandle); err != nil {
			report.Failed = append(report.Failed, a.StorageHandle)
			report.Err = multierr.Append(report.Err, err)
			s.log.Warn("attachment blob deletion failed",
				zap.Uint("post_id", id), zap.String("handle", a.StorageHandle), zap.Error(err))
		}
	}

	now := s.now()
	known := make([]uint, 0, len(atts))
	for _, a := range atts {
		known = append(known, a.ID)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		late := tx.Model(&models.Attachment{}).Where("post_id = ?", id)
		if len(known) > 0 {
			late = late.Where("id NOT IN ?", known)
		}
		var deferred []string
		if err := late.Pluck("storage_handle", &deferred).Error; err != nil {
			return err
		}
		report.Deferred = deferred

		commentIDs := func() *gorm.DB {
			return tx.Model(&models.Comment{}).Select("id").Where("post_id = ?", id)
		}
		steps := []func() error{
			func() error { return tx.Where("comment_id IN (?)", commentIDs()).Delete(&models.CommentEdit{}).Error },
			func() error { return tx.Where("comment_id IN (?)", commentIDs()).Delete(&models.CommentLike{}).Error },
			func() error { return tx.Where("post_id = ?", id).Delete(&models.Attachment{}).Error },
			func() error { return tx.Where("post_id = ?", id).Delete(&models.Comment{}).Error },
			func() error { return tx.Where("post_id = ?", id).Delete(&models.PostLike{}).Error },
			func() error { return tx.Where("post_id = ?", id).Delete(&models.PostEdit{}).Error },
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return err
			}
		}
		for _, handle := range report.Failed {
			orphan := models.OrphanedBlob{StorageHandle: handle, PostID: id, LastError: "deletion failed while removing post", NextAttemptAt: now}
			if err := tx.Create(&orphan).Error; err != nil {
				return err
			}
		}
		for _, handle := range deferred {
			orphan := models.OrphanedBlob{StorageHandle: handle, PostID: id, LastError: "attached while post was being removed", NextAttemptAt: now}
			if err := tx.Create(&orphan).Error; err != nil {
				return err
			}
		}
		res := tx.Delete(&models.Post{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "post", ID: id}
		}
		return nil, upstream("delete post", err)
	}

	s.log.Info("post deleted", zap.Uint("post_id", id), zap.Uint("by", caller.ID),
		zap.Int("blobs", report.Attempted), zap.Int("blob_failures", len(report.Failed)), zap.Int("blobs_deferred", len(report.Deferred)))
	return report, nil
}

// RemoveAttachment deletes one post-level attachment for the post's author. The blob
// goes first; if the blob store fails the record is kept.
func (s *PostService) RemoveAttachment(ctx context.Context, caller Caller, postID, attachmentID uint) (*models.Post, error) {
	post, err := s.find(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !CanModify(caller, post.UserID).Edit {
		return nil, &ForbiddenError{Action: "modify post", Reason: "only the author can remove attachments"}
	}

	var att models.Attachment
	err = s.db.WithContext(ctx).
		Where("id = ? AND post_id = ? AND comment_id IS NULL", attachmentID, postID).
		First(&att).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "attachment", ID: attachmentID}
	}
	if err != nil {
		return nil, upstream("load attachment", err)
	}

	if err := s.files.Remove(ctx, att.StorageHandle); err != nil {
		return nil, upstream("delete attachment blob", err)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Attachment{}, att.ID).Error; err != nil {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ?", postID).UpdateColumn("updated_at", s.now()).Error
	})
	if err != nil {
		return nil, upstream("delete attachment", err)
	}
	return s.load(ctx, postID, true)
}

// find loads the bare post row.
func (s *PostService) find(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	err := s.db.WithContext(ctx).First(&post, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "post", ID: id}
	}
	if err != nil {
		return nil, upstream("load post", err)
	}
	return &post, nil
}

// load returns the post with its owned collections. detail adds like authors,
// comment likes and edit histories.
func (s *PostService) load(ctx context.Context, id uint, detail bool) (*models.Post, error) {
	q := withSummary(s.db.WithContext(ctx))
	if detail {
		q = q.Preload("Likes.User").
			Preload("Comments.Likes").
			Preload("Comments.EditHistory", byID).
			Preload("EditHistory", byID)
	}
	var post models.Post
	err := q.First(&post, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "post", ID: id}
	}
	if err != nil {
		return nil, upstream("load post", err)
	}
	return &post, nil
}

func (s *PostService) storeFiles(ctx context.Context, files []storage.File) ([]storage.StoredFile, error) {
	return storeUploads(ctx, s.files, files)
}

// storeUploads stores every file or none. Policy errors pass through unchanged.
func storeUploads(ctx context.Context, m *storage.Manager, files []storage.File) ([]storage.StoredFile, error) {
	if len(files) == 0 {
		return nil, nil
	}
	stored, err := m.StoreAll(ctx, files)
	if err != nil {
		if storage.IsPayloadTooLarge(err) || storage.IsUnsupportedMedia(err) {
			return nil, err
		}
		return nil, upstream("store attachments", err)
	}
	return stored, nil
}

func withSummary(db *gorm.DB) *gorm.DB {
	return db.Preload("User").
		Preload("Attachments", "comment_id IS NULL").
		Preload("Likes").
		Preload("Comments", func(db *gorm.DB) *gorm.DB {
			return db.Order("comments.created_at ASC, comments.id ASC")
		}).
		Preload("Comments.User").
		Preload("Comments.Attachments")
}

func byID(db *gorm.DB) *gorm.DB {
	return db.Order("id ASC")
}

func createAttachments(tx *gorm.DB, stored []storage.StoredFile, postID uint, commentID *uint) error {
	if len(stored) == 0 {
		return nil
	}
	rows := make([]models.Attachment, 0, len(stored))
	for _, sf := range stored {
		rows = append(rows, sf.Attachment(postID, commentID))
	}
	return tx.Create(&rows).Error
}

// cleanTitle strips markup from a title. Limits apply to what the user typed, so
// escaping added by the sanitizer never pushes a valid title over.
func cleanTitle(raw string) (string, error) {
	if utf8.RuneCountInString(strings.TrimSpace(raw)) > maxTitleLen {
		return "", NewValidationError("title", fmt.Sprintf("title cannot exceed %d characters", maxTitleLen))
	}
	title := strings.TrimSpace(utils.StripTags(raw))
	if title == "" {
		return "", NewValidationError("title", "title and content are required")
	}
	return title, nil
}

// cleanContent sanitizes post content after checking the raw length.
func cleanContent(raw string) (string, error) {
	if utf8.RuneCountInString(raw) > maxContentLen {
		return "", NewValidationError("content", fmt.Sprintf("content cannot exceed %d characters", maxContentLen))
	}
	content := utils.Sanitize(raw)
	if strings.TrimSpace(content) == "" {
		return "", NewValidationError("content", "title and content are required")
	}
	return content, nil
}

// NormalizeTags trims and lower-cases tags and drops empty ones. Duplicates are kept.
func NormalizeTags(in []string) ([]string, error) {
	tags := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if utf8.RuneCountInString(t) > maxTagLen {
			return nil, NewValidationError("tags", fmt.Sprintf("tag cannot exceed %d characters", maxTagLen))
		}
		tags = append(tags, t)
	}
	return tags, nil
}

func searchTerms(search string) []string {
	seen := map[string]bool{}
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(search)) {
		if seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
		if len(terms) == maxSearchTerms {
			break
		}
	}
	return terms
}

// relevance builds a score expression summing per-term field weights.
func relevance(terms []string) (string, []interface{}) {
	expr := fmt.Sprintf("CASE WHEN LOWER(posts.title) LIKE ? THEN %d ELSE 0 END"+
		" + CASE WHEN LOWER(posts.tags) LIKE ? THEN %d ELSE 0 END"+
		" + CASE WHEN LOWER(posts.content) LIKE ? THEN %d ELSE 0 END"+
		" + CASE WHEN EXISTS (SELECT 1 FROM comments sc WHERE sc.post_id = posts.id AND LOWER(sc.content) LIKE ?) THEN %d ELSE 0 END",
		weightTitle, weightTags, weightContent, weightComment)

	parts := make([]string, 0, len(terms))
	args := make([]interface{}, 0, len(terms)*4)
	for _, t := range terms {
		like := "%" + t + "%"
		parts = append(parts, expr)
		args = append(args, like, like, like, like)
	}
	return strings.Join(parts, " + "), args
}
