package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/agribbs/middleware"
	"github.com/cppla/agribbs/services"
	"github.com/cppla/agribbs/utils"
)

// StatsController provides community statistics and the health probe.
type StatsController struct {
	db         *gorm.DB
	moderation *services.ModerationService
	log        *zap.Logger
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(db *gorm.DB, moderation *services.ModerationService, log *zap.Logger) *StatsController {
	if log == nil {
		log = zap.NewNop()
	}
	return &StatsController{db: db, moderation: moderation, log: log}
}

// GetStats returns aggregate statistics for the admin dashboard.
func (s *StatsController) GetStats(ctx *gin.Context) {
	stats, err := s.moderation.Stats(ctx.Request.Context(), middleware.CallerFrom(ctx))
	if err != nil {
		fail(ctx, s.log, err, "Failed to fetch stats")
		return
	}
	utils.Success(ctx, "", gin.H{"stats": stats})
}

// Health pings the database.
func (s *StatsController) Health(ctx *gin.Context) {
	c, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c)
	}
	if err != nil {
		utils.Error(ctx, http.StatusServiceUnavailable, "database unavailable", err.Error())
		return
	}
	utils.Success(ctx, "ok", nil)
}
