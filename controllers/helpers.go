package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/agribbs/services"
	"github.com/cppla/agribbs/storage"
	"github.com/cppla/agribbs/utils"
)

// attachmentsField is the multipart field carrying uploaded files.
const attachmentsField = "attachments"

var errBadID = errors.New("invalid id")

// fail maps a service error onto the response envelope. Unclassified errors are
// logged and returned as 500 with the underlying message attached.
func fail(ctx *gin.Context, log *zap.Logger, err error, message string) {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		utils.Error(ctx, http.StatusBadRequest, ve.Message, "")
	case storage.IsUnsupportedMedia(err):
		utils.Error(ctx, http.StatusBadRequest, err.Error(), "")
	case storage.IsPayloadTooLarge(err):
		utils.Error(ctx, http.StatusRequestEntityTooLarge, err.Error(), "")
	case errors.Is(err, services.ErrPostClosed):
		utils.Error(ctx, http.StatusForbidden, "Post is closed for new comments", "")
	case services.IsForbidden(err):
		utils.Error(ctx, http.StatusForbidden, err.Error(), "")
	case services.IsNotFound(err):
		utils.Error(ctx, http.StatusNotFound, err.Error(), "")
	default:
		log.Error(message, zap.String("path", ctx.FullPath()), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, message, err.Error())
	}
}

func parseID(ctx *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, errBadID
	}
	return uint(id), nil
}

func queryInt(ctx *gin.Context, key string) int {
	v, err := strconv.Atoi(ctx.Query(key))
	if err != nil {
		return 0
	}
	return v
}

func queryUint(ctx *gin.Context, key string) uint {
	v, err := strconv.ParseUint(ctx.Query(key), 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}

func listParams(ctx *gin.Context) services.ListParams {
	return services.ListParams{
		Category: ctx.Query("category"),
		Search:   ctx.Query("search"),
		SortBy:   ctx.Query("sortBy"),
		UserID:   queryUint(ctx, "userId"),
		Status:   ctx.Query("status"),
		Page:     queryInt(ctx, "page"),
		Limit:    queryInt(ctx, "limit"),
	}
}

func isMultipart(ctx *gin.Context) bool {
	return strings.HasPrefix(ctx.ContentType(), "multipart/form-data")
}

// uploads opens the files of the attachments field. The returned closer must be
// called once the files have been stored.
func uploads(ctx *gin.Context) ([]storage.File, func(), error) {
	noop := func() {}
	if !isMultipart(ctx) {
		return nil, noop, nil
	}
	form, err := ctx.MultipartForm()
	if err != nil {
		return nil, noop, services.NewValidationError(attachmentsField, "invalid multipart form")
	}
	headers := form.File[attachmentsField]
	if len(headers) > storage.MaxFiles {
		return nil, noop, &storage.PayloadTooLargeError{Limit: storage.MaxFiles, Count: true}
	}

	files := make([]storage.File, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, noop, err
		}
		opened = append(opened, f)
		files = append(files, storage.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        io.Reader(f),
		})
	}
	return files, closeAll, nil
}

// parseTags accepts a JSON array of strings or a comma-separated string.
func parseTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var arr []string
		if err := json.Unmarshal([]byte(raw), &arr); err == nil {
			return arr
		}
	}
	return strings.Split(raw, ",")
}

// tagsFromJSON reads a tags value that may be an array or a string.
func tagsFromJSON(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseTags(s)
	}
	return nil
}

func cleanTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, utils.StripTags(t))
	}
	return out
}

func pageEnvelope(page *services.PostPage) gin.H {
	return gin.H{
		"count":       len(page.Items),
		"totalPosts":  page.TotalCount,
		"totalPages":  page.TotalPages,
		"currentPage": page.Page,
		"posts":       page.Items,
	}
}
