package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/agribbs/config"
	"github.com/cppla/agribbs/controllers"
	"github.com/cppla/agribbs/middleware"
	"github.com/cppla/agribbs/services"
	"github.com/cppla/agribbs/utils"
)

// Dependencies are the collaborators the router wires into controllers.
type Dependencies struct {
	Config     config.AppConfig
	DB         *gorm.DB
	Posts      *services.PostService
	Comments   *services.CommentService
	Likes      *services.LikeLedger
	Feed       *services.Feed
	Moderation *services.ModerationService
	Users      middleware.IdentityLookup
	Cache      *utils.ListCache
	Log        *zap.Logger
	// AccessLog receives request logs; when nil the access log is opened from GinPath.
	AccessLog *zap.Logger
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(d Dependencies) *gin.Engine {
	cfg := d.Config
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	gl := d.AccessLog
	if gl == nil {
		var err error
		gl, err = utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
		if err != nil {
			log.Warn("access log unavailable, falling back to default recovery", zap.Error(err))
		}
	}
	if gl != nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	if cfg.StorageDriver == "local" && strings.HasPrefix(cfg.UploadBaseURL, "/") {
		r.Static(cfg.UploadBaseURL, cfg.UploadDir)
	}

	auth := middleware.NewAuthenticator(cfg.JWTSecret, d.Users, log)
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)

	postController := controllers.NewPostController(d.Posts, d.Comments, d.Likes, d.Feed, d.Cache, log)
	adminController := controllers.NewAdminController(d.Moderation, d.Feed, d.Cache, log)
	statsController := controllers.NewStatsController(d.DB, d.Moderation, log)

	r.GET("/health", statsController.Health)

	api := r.Group("/api")

	community := api.Group("/community")
	community.GET("/posts", auth.Optional(), postController.ListPosts)
	community.GET("/posts/mine", auth.Required(), postController.ListMyPosts)
	community.GET("/posts/:id", auth.Optional(), postController.GetPost)

	protected := community.Group("")
	protected.Use(auth.Required(), limiter.Middleware())
	protected.POST("/posts", postController.CreatePost)
	protected.PUT("/posts/:id", postController.UpdatePost)
	protected.DELETE("/posts/:id", postController.DeletePost)
	protected.PUT("/posts/:id/like", postController.ToggleLike)
	protected.PUT("/posts/:id/status", adminController.UpdatePost)
	protected.POST("/posts/:id/comments", postController.AddComment)
	protected.PUT("/posts/:id/comments/:commentId", renameParam("id", "postId", postController.EditComment))
	protected.PUT("/posts/:id/comments/:commentId/like", renameParam("id", "postId", postController.ToggleCommentLike))
	protected.DELETE("/posts/:id/attachments/:attachmentId", renameParam("id", "postId", postController.DeleteAttachment))

	admin := api.Group("/admin")
	admin.Use(auth.Required(), middleware.AdminRequired())
	admin.GET("/users", adminController.ListUsers)
	admin.PUT("/users/:id", adminController.UpdateUser)
	admin.GET("/posts", adminController.ListPosts)
	admin.PUT("/posts/:id", adminController.UpdatePost)
	admin.DELETE("/posts/:id", adminController.DeletePost)
	admin.GET("/stats", statsController.GetStats)
	admin.GET("/flagged", adminController.ListFlagged)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, "api route not found", "")
	})

	return r
}

// renameParam exposes a path parameter under a second name. gin requires sibling
// routes to share wildcard names, so nested routes use :id and handlers read :postId.
func renameParam(from, to string, h gin.HandlerFunc) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Params = append(ctx.Params, gin.Param{Key: to, Value: ctx.Param(from)})
		h(ctx)
	}
}
