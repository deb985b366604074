package services

import (
	"context"
	"strings"
)

// Page sizes for the two listing surfaces.
const (
	PublicPageSize     = 12
	ManagementPageSize = 10
	MaxPageSize        = 100
)

// ListParams is the raw listing request as it arrives from a handler.
type ListParams struct {
	Category string
	Search   string
	SortBy   string
	UserID   uint
	Status   string
	Page     int
	Limit    int
}

// Feed is the single entry point for post listings. It applies the per-surface
// defaults and hands the query to the PostService.
type Feed struct {
	posts *PostService
}

// NewFeed creates a Feed.
func NewFeed(posts *PostService) *Feed {
	return &Feed{posts: posts}
}

// Public lists posts for the community feed.
func (f *Feed) Public(ctx context.Context, p ListParams) (*PostPage, error) {
	return f.list(ctx, p, PublicPageSize)
}

// Mine lists the caller's own posts.
func (f *Feed) Mine(ctx context.Context, caller Caller, p ListParams) (*PostPage, error) {
	if !caller.Authenticated() {
		return nil, &ForbiddenError{Action: "list own posts", Reason: "authentication required"}
	}
	p.UserID = caller.ID
	return f.list(ctx, p, PublicPageSize)
}

// Management lists posts for the admin view.
func (f *Feed) Management(ctx context.Context, caller Caller, p ListParams) (*PostPage, error) {
	if !caller.IsAdmin() {
		return nil, &ForbiddenError{Action: "list posts", Reason: "admin role required"}
	}
	return f.list(ctx, p, ManagementPageSize)
}

func (f *Feed) list(ctx context.Context, p ListParams, defaultLimit int) (*PostPage, error) {
	page, limit := clampPage(p.Page, p.Limit, defaultLimit)
	category := strings.TrimSpace(p.Category)
	if strings.EqualFold(category, "all") {
		category = ""
	}
	sortBy := strings.ToLower(strings.TrimSpace(p.SortBy))
	switch sortBy {
	case SortNewest, SortOldest, SortPopular:
	default:
		sortBy = SortNewest
	}
	status := strings.ToLower(strings.TrimSpace(p.Status))
	if status != "open" && status != "closed" {
		status = ""
	}
	return f.posts.List(ctx, PostQuery{
		Category: category,
		Search:   strings.TrimSpace(p.Search),
		SortBy:   sortBy,
		AuthorID: p.UserID,
		Status:   status,
		Page:     page,
		Limit:    limit,
	})
}

func clampPage(page, limit, defaultLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}
