package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cppla/agribbs/config"
	"github.com/cppla/agribbs/models"
	"github.com/cppla/agribbs/services"
	"github.com/cppla/agribbs/storage"
	"github.com/cppla/agribbs/utils"
)

const secret = "router-test-secret"

type harness struct {
	t      *testing.T
	engine *gin.Engine
	redis  *miniredis.Miniredis
	users  map[string]*models.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.AppConfig{
		JWTSecret:          secret,
		GinMode:            "test",
		RateLimitPerMinute: 10000,
		AllowedOrigins:     []string{"*"},
		DBDriver:           "sqlite",
		DatabaseURI:        filepath.Join(dir, "community.db"),
		LogLevel:           "silent",
		StorageDriver:      "local",
		UploadDir:          filepath.Join(dir, "uploads"),
		UploadBaseURL:      "/static/uploads",
	}
	db, err := config.OpenDatabase(cfg)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	blobs, err := storage.NewLocalStore(cfg.UploadDir, cfg.UploadBaseURL)
	require.NoError(t, err)
	files := storage.NewManager(blobs, nil)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	users := services.NewIdentityStore(db)
	posts := services.NewPostService(db, files, nil)
	h := &harness{t: t, redis: mr, users: map[string]*models.User{}}
	h.engine = SetupRouter(Dependencies{
		Config:     cfg,
		DB:         db,
		Posts:      posts,
		Comments:   services.NewCommentService(db, files, nil, false),
		Likes:      services.NewLikeLedger(db),
		Feed:       services.NewFeed(posts),
		Moderation: services.NewModerationService(db, posts, users, nil),
		Users:      users,
		Cache:      utils.NewListCache(rdb, time.Minute, nil),
		AccessLog:  zap.NewNop(),
	})

	for name, role := range map[string]models.Role{"alice": models.RoleFarmer, "bob": models.RoleFarmer, "root": models.RoleAdmin} {
		u := &models.User{Name: name, Role: role, IsActive: true}
		require.NoError(t, db.Create(u).Error)
		h.users[name] = u
	}
	return h
}

func (h *harness) token(name string) string {
	u := h.users[name]
	tok, err := utils.GenerateToken(secret, u.ID, string(u.Role), time.Hour)
	require.NoError(h.t, err)
	return tok
}

func (h *harness) do(method, path, as string, body io.Reader, contentType string) (int, map[string]interface{}) {
	h.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+h.token(as))
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	var out map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func (h *harness) json(method, path, as string, payload interface{}) (int, map[string]interface{}) {
	h.t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(h.t, err)
		body = bytes.NewReader(b)
	}
	return h.do(method, path, as, body, "application/json")
}

type upload struct {
	name, contentType, body string
}

func (h *harness) multipart(method, path, as string, fields map[string]string, files ...upload) (int, map[string]interface{}) {
	h.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(h.t, mw.WriteField(k, v))
	}
	for _, f := range files {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachments"; filename=%q`, f.name))
		hdr.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(hdr)
		require.NoError(h.t, err)
		_, err = part.Write([]byte(f.body))
		require.NoError(h.t, err)
	}
	require.NoError(h.t, mw.Close())
	return h.do(method, path, as, &buf, mw.FormDataContentType())
}

func postID(t *testing.T, body map[string]interface{}) uint {
	t.Helper()
	post, ok := body["post"].(map[string]interface{})
	require.True(t, ok, "response has no post: %v", body)
	return uint(post["id"].(float64))
}

func TestHealthAndNoRoute(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])

	code, body = h.do(http.MethodGet, "/api/nowhere", "", nil, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["success"])
}

func TestPostEndpoints(t *testing.T) {
	h := newHarness(t)

	code, _ := h.json(http.MethodPost, "/api/community/posts", "", map[string]string{"title": "x", "content": "y"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := h.json(http.MethodPost, "/api/community/posts", "alice", map[string]string{"content": "no title"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "title and content are required", body["message"])

	code, body = h.multipart(http.MethodPost, "/api/community/posts", "alice",
		map[string]string{"title": "<b>Aphids</b> on tomatoes", "content": "Help<script>x()</script>", "category": "Pest Control", "tags": "pests, Tomato"},
		upload{"leaf.png", "image/png", "png-bytes"})
	require.Equal(t, http.StatusCreated, code, body)
	id := postID(t, body)
	post := body["post"].(map[string]interface{})
	assert.Equal(t, "Aphids on tomatoes", post["title"])
	assert.Equal(t, "Help", post["content"])
	assert.Equal(t, []interface{}{"pests", "tomato"}, post["tags"])
	atts := post["attachments"].([]interface{})
	require.Len(t, atts, 1)
	att := atts[0].(map[string]interface{})
	assert.Equal(t, "image", att["fileType"])
	assert.NotContains(t, att, "storageHandle")
	url := att["url"].(string)
	require.True(t, strings.HasPrefix(url, "/static/uploads/"), url)

	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png-bytes", w.Body.String())

	code, body = h.do(http.MethodGet, fmt.Sprintf("/api/community/posts/%d", id), "", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["post"].(map[string]interface{})["viewCount"])

	code, _ = h.do(http.MethodGet, "/api/community/posts/abc", "", nil, "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = h.do(http.MethodGet, "/api/community/posts/9999", "", nil, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = h.json(http.MethodPut, fmt.Sprintf("/api/community/posts/%d/like", id), "bob", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["isLiked"])
	assert.EqualValues(t, 1, body["likeCount"])

	code, _ = h.json(http.MethodPut, fmt.Sprintf("/api/community/posts/%d", id), "bob", map[string]string{"title": "mine now"})
	assert.Equal(t, http.StatusForbidden, code)

	code, body = h.json(http.MethodPut, fmt.Sprintf("/api/community/posts/%d", id), "alice", map[string]string{"title": "Aphids, solved"})
	require.Equal(t, http.StatusOK, code)
	edited := body["post"].(map[string]interface{})
	assert.Equal(t, true, edited["isEdited"])
	history := edited["editHistory"].([]interface{})
	require.Len(t, history, 1)
	assert.Equal(t, "Aphids on tomatoes", history[0].(map[string]interface{})["title"])

	attID := uint(att["id"].(float64))
	code, _ = h.json(http.MethodDelete, fmt.Sprintf("/api/community/posts/%d/attachments/%d", id, attID), "bob", nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, body = h.json(http.MethodDelete, fmt.Sprintf("/api/community/posts/%d/attachments/%d", id, attID), "alice", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Attachment deleted successfully", body["message"])
	assert.Empty(t, body["post"].(map[string]interface{})["attachments"])

	code, body = h.json(http.MethodDelete, fmt.Sprintf("/api/community/posts/%d", id), "alice", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Post deleted successfully", body["message"])
	code, _ = h.do(http.MethodGet, fmt.Sprintf("/api/community/posts/%d", id), "", nil, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUploadLimits(t *testing.T) {
	h := newHarness(t)
	fields := map[string]string{"title": "Photos", "content": "many"}

	var six []upload
	for i := 0; i < 6; i++ {
		six = append(six, upload{fmt.Sprintf("%d.jpg", i), "image/jpeg", "x"})
	}
	code, _ := h.multipart(http.MethodPost, "/api/community/posts", "alice", fields, six...)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)

	code, _ = h.multipart(http.MethodPost, "/api/community/posts", "alice", fields, upload{"tool.exe", "application/octet-stream", "MZ"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := h.do(http.MethodGet, "/api/community/posts", "", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["totalPosts"])
}

func TestCommentEndpoints(t *testing.T) {
	h := newHarness(t)
	_, body := h.json(http.MethodPost, "/api/community/posts", "alice", map[string]string{"title": "Seed swap", "content": "who has beans?"})
	id := postID(t, body)

	code, body := h.json(http.MethodPost, fmt.Sprintf("/api/community/posts/%d/comments", id), "bob", map[string]string{"content": "I do"})
	require.Equal(t, http.StatusCreated, code)
	comment := body["comment"].(map[string]interface{})
	commentID := uint(comment["id"].(float64))
	assert.EqualValues(t, 1, body["post"].(map[string]interface{})["commentCount"])

	code, _ = h.json(http.MethodPost, fmt.Sprintf("/api/community/posts/%d/comments", id), "bob", map[string]string{"content": ""})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = h.json(http.MethodPut, fmt.Sprintf("/api/community/posts/%d/comments/%d", id, commentID), "bob", map[string]string{"content": "I do, and peas"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "I do, and peas", body["comment"].(map[string]interface{})["content"])

	code, _ = h.json(http.MethodPut, fmt.Sprintf("/api/community/posts/%d/comments/%d", id, commentID), "alice", map[string]string{"content": "no"})
	assert.Equal(t, http.StatusForbidden, code)

	code, body = h.json(http.MethodPut, fmt.Sprintf("/api/community/posts/%d/comments/%d/like", id, commentID), "alice", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["isLiked"])

	code, _ = h.json(http.MethodPut, fmt.Sprintf("/api/admin/posts/%d", id), "root", map[string]bool{"isClosed": true})
	require.Equal(t, http.StatusOK, code)

	code, body = h.json(http.MethodPost, fmt.Sprintf("/api/community/posts/%d/comments", id), "bob", map[string]string{"content": "late"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Post is closed for new comments", body["message"])
}

func TestAuthorClosesOwnPost(t *testing.T) {
	h := newHarness(t)
	_, body := h.json(http.MethodPost, "/api/community/posts", "alice", map[string]string{"title": "Hay for sale", "content": "20 bales"})
	id := postID(t, body)
	status := fmt.Sprintf("/api/community/posts/%d/status", id)

	code, body := h.json(http.MethodPut, status, "alice", map[string]bool{"isClosed": true})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["post"].(map[string]interface{})["isClosed"])

	code, body = h.json(http.MethodPost, fmt.Sprintf("/api/community/posts/%d/comments", id), "bob", map[string]string{"content": "still available?"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Post is closed for new comments", body["message"])

	code, _ = h.json(http.MethodPut, status, "alice", map[string]bool{"isPinned": true})
	assert.Equal(t, http.StatusForbidden, code, "authors cannot pin")
	code, _ = h.json(http.MethodPut, status, "bob", map[string]bool{"isClosed": false})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = h.json(http.MethodPut, status, "", map[string]bool{"isClosed": false})
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = h.json(http.MethodPut, status, "alice", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = h.json(http.MethodPut, status, "alice", map[string]bool{"isClosed": false})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["post"].(map[string]interface{})["isClosed"])

	code, body = h.json(http.MethodPut, status, "root", map[string]bool{"isPinned": true})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["post"].(map[string]interface{})["isPinned"])
}

func TestContentLimitsCountTypedCharacters(t *testing.T) {
	h := newHarness(t)
	typed := strings.Repeat("it's ", 1000)

	code, body := h.json(http.MethodPost, "/api/community/posts", "alice", map[string]string{"title": "Don't panic", "content": typed})
	require.Equal(t, http.StatusCreated, code, body["message"])
	id := postID(t, body)
	assert.Equal(t, "Don't panic", body["post"].(map[string]interface{})["title"])

	code, body = h.json(http.MethodPost, "/api/community/posts", "alice", map[string]string{"title": "x", "content": typed + "!"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "content cannot exceed 5000 characters", body["message"])

	comments := fmt.Sprintf("/api/community/posts/%d/comments", id)
	code, _ = h.json(http.MethodPost, comments, "bob", map[string]string{"content": strings.Repeat("it's ", 200)})
	assert.Equal(t, http.StatusCreated, code)
	code, body = h.json(http.MethodPost, comments, "bob", map[string]string{"content": strings.Repeat("it's ", 200) + "!"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "comment cannot exceed 1000 characters", body["message"])
}

func TestListingIsCachedAndInvalidated(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.json(http.MethodPost, "/api/community/posts", "alice", map[string]string{"title": fmt.Sprintf("post %d", i), "content": "x"})
	}

	code, body := h.do(http.MethodGet, "/api/community/posts?limit=2", "", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["count"])
	assert.EqualValues(t, 3, body["totalPosts"])
	assert.EqualValues(t, 2, body["totalPages"])
	assert.EqualValues(t, 1, body["currentPage"])

	keys := h.redis.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "cache:community:posts:"))

	code, cached := h.do(http.MethodGet, "/api/community/posts?limit=2", "", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, body, cached)

	_, body = h.json(http.MethodPost, "/api/community/posts", "bob", map[string]string{"title": "fresh", "content": "x"})
	freshID := postID(t, body)
	assert.Empty(t, h.redis.Keys())

	_, body = h.do(http.MethodGet, "/api/community/posts?limit=2", "", nil, "")
	assert.EqualValues(t, 4, body["totalPosts"])

	_, body = h.do(http.MethodGet, "/api/community/posts?search=fresh", "", nil, "")
	assert.EqualValues(t, 1, body["totalPosts"])

	code, body = h.do(http.MethodGet, "/api/community/posts/mine", "bob", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["totalPosts"])

	commentPath := fmt.Sprintf("/api/community/posts/%d/comments", freshID)
	code, body = h.json(http.MethodPost, commentPath, "alice", map[string]string{"content": "old text"})
	require.Equal(t, http.StatusCreated, code)
	commentID := uint(body["comment"].(map[string]interface{})["id"].(float64))

	firstComment := func() map[string]interface{} {
		_, body := h.do(http.MethodGet, "/api/community/posts?limit=2", "", nil, "")
		newest := body["posts"].([]interface{})[0].(map[string]interface{})
		require.EqualValues(t, freshID, newest["id"])
		return newest["comments"].([]interface{})[0].(map[string]interface{})
	}
	assert.Equal(t, "old text", firstComment()["content"])
	require.Len(t, h.redis.Keys(), 1)

	code, _ = h.json(http.MethodPut, fmt.Sprintf("%s/%d", commentPath, commentID), "alice", map[string]string{"content": "new text"})
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, h.redis.Keys(), "comment edits invalidate the listing")
	assert.Equal(t, "new text", firstComment()["content"])

	code, _ = h.json(http.MethodPut, fmt.Sprintf("%s/%d/like", commentPath, commentID), "bob", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, h.redis.Keys(), "comment likes invalidate the listing")
}

func TestAdminEndpoints(t *testing.T) {
	h := newHarness(t)
	_, body := h.json(http.MethodPost, "/api/community/posts", "alice", map[string]string{"title": "Tractor", "content": "for sale"})
	id := postID(t, body)

	for _, path := range []string{"/api/admin/stats", "/api/admin/users", "/api/admin/posts", "/api/admin/flagged"} {
		code, _ := h.do(http.MethodGet, path, "alice", nil, "")
		assert.Equal(t, http.StatusForbidden, code, path)
	}

	code, body := h.do(http.MethodGet, "/api/admin/stats", "root", nil, "")
	require.Equal(t, http.StatusOK, code)
	stats := body["stats"].(map[string]interface{})
	assert.EqualValues(t, 3, stats["totalUsers"])
	assert.EqualValues(t, 1, stats["totalPosts"])

	code, body = h.do(http.MethodGet, "/api/admin/users", "root", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, body["totalUsers"])

	code, body = h.json(http.MethodPut, fmt.Sprintf("/api/admin/users/%d", h.users["root"].ID), "root", map[string]bool{"isActive": false})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Contains(t, body["message"], "cannot modify your own admin status")

	code, body = h.json(http.MethodPut, fmt.Sprintf("/api/admin/users/%d", h.users["bob"].ID), "root", map[string]interface{}{"isActive": false})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["user"].(map[string]interface{})["isActive"])

	code, _ = h.json(http.MethodPut, fmt.Sprintf("/api/community/posts/%d/like", id), "bob", nil)
	assert.Equal(t, http.StatusForbidden, code, "deactivated accounts are rejected")

	code, body = h.json(http.MethodPut, fmt.Sprintf("/api/admin/posts/%d", id), "root", map[string]bool{"isPinned": true})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["post"].(map[string]interface{})["isPinned"])

	code, body = h.do(http.MethodGet, "/api/admin/posts?status=open", "root", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["totalPosts"])

	code, body = h.do(http.MethodGet, "/api/admin/flagged", "root", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["flaggedPosts"])

	code, body = h.json(http.MethodDelete, fmt.Sprintf("/api/admin/posts/%d", id), "root", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["attachmentsRemoved"])
}

func TestRenameParam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/posts/:id/x", renameParam("id", "postId", func(ctx *gin.Context) {
		ctx.String(http.StatusOK, ctx.Param("postId"))
	}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/posts/42/x", nil))
	assert.Equal(t, "42", w.Body.String())
}
