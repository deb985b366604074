package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cppla/agribbs/config"
	"github.com/cppla/agribbs/routes"
	"github.com/cppla/agribbs/services"
	"github.com/cppla/agribbs/storage"
	"github.com/cppla/agribbs/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	log, err := utils.InitLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg config.AppConfig, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := config.OpenDatabase(cfg)
	if err != nil {
		return err
	}

	blobs, err := openBlobStore(cfg)
	if err != nil {
		return err
	}
	files := storage.NewManager(blobs, log.Named("storage"))

	var rdb *redis.Client
	if cfg.CacheEnabled {
		rdb, err = utils.NewRedis(cfg)
		if err != nil {
			log.Warn("redis unavailable, list cache disabled", zap.Error(err))
			_ = rdb.Close()
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}
	cache := utils.NewListCache(rdb, time.Duration(cfg.CacheTTLSeconds)*time.Second, log.Named("cache"))

	users := services.NewIdentityStore(db)
	posts := services.NewPostService(db, files, log.Named("posts"))
	comments := services.NewCommentService(db, files, log.Named("comments"), cfg.ClosedPostsAcceptComments)
	likes := services.NewLikeLedger(db)
	feed := services.NewFeed(posts)
	moderation := services.NewModerationService(db, posts, users, log.Named("moderation"))

	r := routes.SetupRouter(routes.Dependencies{
		Config:     cfg,
		DB:         db,
		Posts:      posts,
		Comments:   comments,
		Likes:      likes,
		Feed:       feed,
		Moderation: moderation,
		Users:      users,
		Cache:      cache,
		Log:        log,
	})

	// Retry blob deletions that failed during post deletion.
	sweeper := utils.NewOrphanSweeper(db, files, time.Duration(cfg.OrphanSweepMinutes)*time.Minute, log.Named("sweeper"))
	sweeper.Start(ctx)

	log.Info("starting server (graceful)", zap.String("port", cfg.AppPort), zap.String("db", cfg.DBDriver), zap.String("storage", cfg.StorageDriver))
	return utils.GraceServer(ctx, ":"+cfg.AppPort, r, log)
}

func openBlobStore(cfg config.AppConfig) (storage.BlobStore, error) {
	switch cfg.StorageDriver {
	case "local", "":
		return storage.NewLocalStore(cfg.UploadDir, cfg.UploadBaseURL)
	case "s3":
		return storage.NewS3Store(storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PublicURL: cfg.S3PublicURL,
			Prefix:    "community/",
		})
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
