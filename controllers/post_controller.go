package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/agribbs/middleware"
	"github.com/cppla/agribbs/services"
	"github.com/cppla/agribbs/storage"
	"github.com/cppla/agribbs/utils"
)

// listCachePrefix prefixes every cached community listing.
const listCachePrefix = "cache:community:posts:"

// PostController manages posts, comments, likes and attachments.
type PostController struct {
	posts    *services.PostService
	comments *services.CommentService
	likes    *services.LikeLedger
	feed     *services.Feed
	cache    *utils.ListCache
	log      *zap.Logger
}

// NewPostController creates a new PostController instance.
func NewPostController(posts *services.PostService, comments *services.CommentService, likes *services.LikeLedger,
	feed *services.Feed, cache *utils.ListCache, log *zap.Logger) *PostController {
	if log == nil {
		log = zap.NewNop()
	}
	return &PostController{posts: posts, comments: comments, likes: likes, feed: feed, cache: cache, log: log}
}

type postRequest struct {
	Title    *string         `json:"title"`
	Content  *string         `json:"content"`
	Category *string         `json:"category"`
	Tags     json.RawMessage `json:"tags"`
}

type postFields struct {
	Title    *string
	Content  *string
	Category *string
	Tags     []string
	Files    []storage.File
}

// readPost reads post fields from a multipart form or a JSON body. Tags are stripped
// of markup here; the post service cleans title and content after checking limits.
func readPost(ctx *gin.Context) (*postFields, func(), error) {
	var f postFields
	if isMultipart(ctx) {
		if v, ok := ctx.GetPostForm("title"); ok {
			f.Title = &v
		}
		if v, ok := ctx.GetPostForm("content"); ok {
			f.Content = &v
		}
		if v, ok := ctx.GetPostForm("category"); ok && v != "" {
			f.Category = &v
		}
		f.Tags = parseTags(ctx.PostForm("tags"))
	} else if ctx.Request.ContentLength != 0 {
		var req postRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			return nil, func() {}, services.NewValidationError("body", "invalid request payload")
		}
		f.Title, f.Content, f.Category = req.Title, req.Content, req.Category
		f.Tags = tagsFromJSON(req.Tags)
	}

	f.Tags = cleanTags(f.Tags)

	files, closer, err := uploads(ctx)
	if err != nil {
		return nil, closer, err
	}
	f.Files = files
	return &f, closer, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// CreatePost allows authenticated users to create new posts.
func (p *PostController) CreatePost(ctx *gin.Context) {
	f, done, err := readPost(ctx)
	defer done()
	if err != nil {
		fail(ctx, p.log, err, "Failed to create post")
		return
	}

	post, err := p.posts.Create(ctx.Request.Context(), middleware.CallerFrom(ctx), services.CreatePostInput{
		Title:    deref(f.Title),
		Content:  deref(f.Content),
		Category: deref(f.Category),
		Tags:     f.Tags,
		Files:    f.Files,
	})
	if err != nil {
		fail(ctx, p.log, err, "Failed to create post")
		return
	}
	p.cache.InvalidateByPrefix(ctx.Request.Context(), listCachePrefix)
	utils.Created(ctx, "", gin.H{"post": post})
}

// ListPosts returns a page of the community feed. Pages without a search term are cached.
func (p *PostController) ListPosts(ctx *gin.Context) {
	params := listParams(ctx)

	var cacheKey string
	if params.Search == "" {
		cacheKey = fmt.Sprintf("%slist:cat=%s:sort=%s:user=%d:status=%s:page=%d:limit=%d", listCachePrefix,
			params.Category, params.SortBy, params.UserID, params.Status, params.Page, params.Limit)
		if b, ok := p.cache.GetBytes(ctx.Request.Context(), cacheKey); ok {
			ctx.Data(http.StatusOK, "application/json; charset=utf-8", b)
			return
		}
	}

	page, err := p.feed.Public(ctx.Request.Context(), params)
	if err != nil {
		fail(ctx, p.log, err, "Failed to fetch posts")
		return
	}
	payload := pageEnvelope(page)
	if cacheKey != "" {
		body := gin.H{"success": true}
		for k, v := range payload {
			body[k] = v
		}
		p.cache.SetJSON(ctx.Request.Context(), cacheKey, body)
	}
	utils.Success(ctx, "", payload)
}

// ListMyPosts returns the caller's own posts, newest first.
func (p *PostController) ListMyPosts(ctx *gin.Context) {
	params := listParams(ctx)
	params.Search, params.Category, params.Status = "", "", ""
	page, err := p.feed.Mine(ctx.Request.Context(), middleware.CallerFrom(ctx), params)
	if err != nil {
		fail(ctx, p.log, err, "Failed to fetch user's posts")
		return
	}
	utils.Success(ctx, "", pageEnvelope(page))
}

// GetPost returns one post and counts the view.
func (p *PostController) GetPost(ctx *gin.Context) {
	id, err := parseID(ctx, "id")
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, "Invalid post id", "")
		return
	}
	post, err := p.posts.Get(ctx.Request.Context(), id)
	if err != nil {
		fail(ctx, p.log, err, "Failed to fetch post")
		return
	}
	utils.Success(ctx, "", gin.H{"post": post})
}

// UpdatePost edits a post for its author; new attachments are added to the existing ones.
func (p *PostController) UpdatePost(ctx *gin.Context) {
	id, err := parseID(ctx, "id")
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, "Invalid post id", "")
		return
	}
	f, done, err := readPost(ctx)
	defer done()
	if err != nil {
		fail(ctx, p.log, err, "Failed to update post")
		return
	}

	post, err := p.posts.Update(ctx.Request.Context(), middleware.CallerFrom(ctx), id, services.UpdatePostInput{
		Title:    f.Title,
		Content:  f.Content,
		Category: f.Category,
		Tags:     f.Tags,
		Files:    f.Files,
	})
	if err != nil {
		fail(ctx, p.log, err, "Failed to update post")
		return
	}
	p.cache.InvalidateByPrefix(ctx.Request.Context(), listCachePrefix)
	utils.Success(ctx, "", gin.H{"post": post})
}

// DeletePost removes a post with its comments and attachments.
func (p *PostController) DeletePost(ctx *gin.Context) {
	id, err := parseID(ctx, "id")
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, "Invalid post id", "")
		return
	}
	report, err := p.posts.Delete(ctx.Request.Context(), middleware.CallerFrom(ctx), id)
	if err != nil {
		fail(ctx, p.log, err, "Failed to delete post")
		return
	}
	p.cache.InvalidateByPrefix(ctx.Request.Context(), listCachePrefix)
	utils.Success(ctx, "Post deleted successfully", deleteReportPayload(report))
}

// ToggleLike likes or unlikes a post.
func (p *PostController) ToggleLike(ctx *gin.Context) {
	id, err := parseID(ctx, "id")
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, "Invalid post id", "")
		return
	}
	state, err := p.likes.TogglePost(ctx.Request.Context(), middleware.CallerFrom(ctx), id)
	if err != nil {
		fail(ctx, p.log, err, "Failed to toggle like")
		return
	}
	p.cache.InvalidateByPrefix(ctx.Request.Context(), listCachePrefix)
	utils.Success(ctx, "", gin.H{"isLiked": state.IsLiked, "likeCount": state.LikeCount})
}

// AddComment appends a comment to a post.
func (p *PostController) AddComment(ctx *gin.Context) {
	id, err := parseID(ctx, "id")
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, "Invalid post id", "")
		return
	}
	in, done, err := readComment(ctx)
	defer done()
	if err != nil {
		fail(ctx, p.log, err, "Failed to add comment")
		return
	}

	comment, err := p.comments.Add(ctx.Request.Context(), middleware.CallerFrom(ctx), id, *in)
	if err != nil {
		fail(ctx, p.log, err, "Failed to add comment")
		return
	}
	p.cache.InvalidateByPrefix(ctx.Request.Context(), listCachePrefix)
	p.respondWithPost(ctx, http.StatusCreated, id, gin.H{"comment": comment})
}

// EditComment replaces a comment's content for its author.
func (p *PostController) EditComment(ctx *gin.Context) {
	postID, err := parseID(ctx, "postId")
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, "Invalid post id", "")
		return
	}
	commentID, err := parseID(ctx, "commentId")
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, "Invalid comment id", "")
		return
	}
	in, done, err := readComment(ctx)
	defer done()
	if err != nil {
		fail(ctx, p.log, err, "Failed to edit comment")
		return
	}

	comment, err := p.comments.Edit(ctx.Request.Context(), middleware.CallerFrom(ctx), postID, commentID, *in)
	if err != nil {
		fail(ctx, p.log, err, "Failed to edit comment")
		return
	}
	p.cache.InvalidateByPrefix(ctx.Request.Context(), listCachePrefix)
	p.respondWithPost(ctx, http.StatusOK, postID, gin.H{"comment": comment})
}

// ToggleCommentLike likes or unlikes a comment.
func (p *PostController) ToggleCommentLike(ctx *gin.Context) {
	postID, err := parseID(ctx, "postId")
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, "Invalid post id", "")
		return
	}
	commentID, err := parseID(ctx, "commentId")
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, "Invalid comment id", "")
		return
	}
	state, err := p.likes.ToggleComment(ctx.Request.Context(), middleware.CallerFrom(ctx), postID, commentID)
	if err != nil {
		fail(ctx, p.log, err, "Failed to toggle like")
		return
	}
	p.cache.InvalidateByPrefix(ctx.Request.Context(), listCachePrefix)
	utils.Success(ctx, "", gin.H{"isLiked": state.IsLiked, "likeCount": state.LikeCount})
}

// DeleteAttachment removes one post-level attachment for the post's author.
func (p *PostController) DeleteAttachment(ctx *gin.Context) {
	postID, err := parseID(ctx, "postId")
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, "Invalid post id", "")
		return
	}
	attachmentID, err := parseID(ctx, "attachmentId")
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, "Invalid attachment id", "")
		return
	}
	post, err := p.posts.RemoveAttachment(ctx.Request.Context(), middleware.CallerFrom(ctx), postID, attachmentID)
	if err != nil {
		fail(ctx, p.log, err, "Failed to delete attachment")
		return
	}
	p.cache.InvalidateByPrefix(ctx.Request.Context(), listCachePrefix)
	utils.Success(ctx, "Attachment deleted successfully", gin.H{"post": post})
}

// respondWithPost attaches the refreshed post to a comment response. If the reload
// fails the comment is still returned since it has been stored.
func (p *PostController) respondWithPost(ctx *gin.Context, status int, postID uint, payload gin.H) {
	if post, err := p.posts.Peek(ctx.Request.Context(), postID); err == nil {
		payload["post"] = post
	} else {
		p.log.Warn("reload post after comment failed", zap.Uint("post_id", postID), zap.Error(err))
	}
	utils.Respond(ctx, status, true, "", payload)
}

type commentRequest struct {
	Content string `json:"content"`
}

func readComment(ctx *gin.Context) (*services.CommentInput, func(), error) {
	var in services.CommentInput
	if isMultipart(ctx) {
		in.Content = ctx.PostForm("content")
	} else {
		var req commentRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			return nil, func() {}, services.NewValidationError("content", "comment content is required")
		}
		in.Content = req.Content
	}

	files, closer, err := uploads(ctx)
	if err != nil {
		return nil, closer, err
	}
	in.Files = files
	return &in, closer, nil
}

func deleteReportPayload(r *services.DeleteReport) gin.H {
	payload := gin.H{
		"attachmentsRemoved": r.Attempted - len(r.Failed),
	}
	if len(r.Failed) > 0 {
		payload["attachmentFailures"] = len(r.Failed)
		payload["warning"] = strconv.Itoa(len(r.Failed)) + " attachment file(s) could not be deleted and were queued for cleanup"
	}
	if len(r.Deferred) > 0 {
		payload["attachmentsQueued"] = len(r.Deferred)
	}
	return payload
}
