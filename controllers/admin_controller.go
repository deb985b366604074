package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/agribbs/middleware"
	"github.com/cppla/agribbs/models"
	"github.com/cppla/agribbs/services"
	"github.com/cppla/agribbs/utils"
)

// AdminController exposes moderation of posts and accounts.
type AdminController struct {
	moderation *services.ModerationService
	feed       *services.Feed
	cache      *utils.ListCache
	log        *zap.Logger
}

// NewAdminController creates a new AdminController instance.
func NewAdminController(moderation *services.ModerationService, feed *services.Feed, cache *utils.ListCache, log *zap.Logger) *AdminController {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminController{moderation: moderation, feed: feed, cache: cache, log: log}
}

// ListPosts lists all posts with status, author and category filters.
func (a *AdminController) ListPosts(ctx *gin.Context) {
	page, err := a.feed.Management(ctx.Request.Context(), middleware.CallerFrom(ctx), listParams(ctx))
	if err != nil {
		fail(ctx, a.log, err, "Failed to fetch posts")
		return
	}
	utils.Success(ctx, "", pageEnvelope(page))
}

type flagsRequest struct {
	IsClosed *bool `json:"isClosed"`
	IsPinned *bool `json:"isPinned"`
}

// UpdatePost pins/unpins or closes/reopens a post. It is also mounted on the
// community routes so authors can close their own posts; pinning stays admin-only.
func (a *AdminController) UpdatePost(ctx *gin.Context) {
	id, err := parseID(ctx, "id")
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, "Invalid post id", "")
		return
	}
	var req flagsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, "invalid request payload", "")
		return
	}
	post, err := a.moderation.SetPostFlags(ctx.Request.Context(), middleware.CallerFrom(ctx), id, services.PostFlags{
		IsClosed: req.IsClosed,
		IsPinned: req.IsPinned,
	})
	if err != nil {
		fail(ctx, a.log, err, "Failed to update post")
		return
	}
	a.cache.InvalidateByPrefix(ctx.Request.Context(), listCachePrefix)
	utils.Success(ctx, "", gin.H{"post": post})
}

// DeletePost removes any post.
func (a *AdminController) DeletePost(ctx *gin.Context) {
	id, err := parseID(ctx, "id")
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, "Invalid post id", "")
		return
	}
	report, err := a.moderation.DeletePost(ctx.Request.Context(), middleware.CallerFrom(ctx), id)
	if err != nil {
		fail(ctx, a.log, err, "Failed to delete post")
		return
	}
	a.cache.InvalidateByPrefix(ctx.Request.Context(), listCachePrefix)
	utils.Success(ctx, "Post deleted successfully", deleteReportPayload(report))
}

// ListFlagged returns the most reported posts.
func (a *AdminController) ListFlagged(ctx *gin.Context) {
	posts, err := a.moderation.ListFlagged(ctx.Request.Context(), middleware.CallerFrom(ctx))
	if err != nil {
		fail(ctx, a.log, err, "Failed to fetch flagged content")
		return
	}
	utils.Success(ctx, "", gin.H{"flaggedPosts": posts})
}

// ListUsers pages through accounts.
func (a *AdminController) ListUsers(ctx *gin.Context) {
	page, err := a.moderation.ListUsers(ctx.Request.Context(), middleware.CallerFrom(ctx), queryInt(ctx, "page"), queryInt(ctx, "limit"))
	if err != nil {
		fail(ctx, a.log, err, "Failed to fetch users")
		return
	}
	utils.Success(ctx, "", gin.H{
		"count":       len(page.Items),
		"totalUsers":  page.TotalCount,
		"totalPages":  page.TotalPages,
		"currentPage": page.Page,
		"users":       page.Items,
	})
}

type accountRequest struct {
	Role     *string `json:"role"`
	IsActive *bool   `json:"isActive"`
}

// UpdateUser changes another account's role or activation.
func (a *AdminController) UpdateUser(ctx *gin.Context) {
	id, err := parseID(ctx, "id")
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, "Invalid user id", "")
		return
	}
	var req accountRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, "invalid request payload", "")
		return
	}
	update := services.AccountUpdate{IsActive: req.IsActive}
	if req.Role != nil {
		role := models.Role(*req.Role)
		update.Role = &role
	}
	user, err := a.moderation.UpdateAccount(ctx.Request.Context(), middleware.CallerFrom(ctx), id, update)
	if err != nil {
		fail(ctx, a.log, err, "Failed to update user")
		return
	}
	utils.Success(ctx, "", gin.H{"user": user})
}
