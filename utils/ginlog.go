package utils

import (
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Ginzap logs every request except health probes.
func Ginzap(l *zap.Logger, timeFormat string, utc bool) gin.HandlerFunc {
	return ginzap.GinzapWithConfig(l, &ginzap.Config{
		TimeFormat: timeFormat,
		UTC:        utc,
		SkipPaths:  []string{"/health"},
	})
}

// RecoveryWithZap turns panics into 500s and logs them.
func RecoveryWithZap(l *zap.Logger, stack bool) gin.HandlerFunc {
	return ginzap.RecoveryWithZap(l, stack)
}
