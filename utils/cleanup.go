package utils

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/agribbs/models"
)

const (
	sweepBatch       = 100
	maxSweepAttempts = 8
)

// BlobRemover deletes a blob by handle.
type BlobRemover interface {
	Remove(ctx context.Context, handle string) error
}

// OrphanSweeper retries blob deletions that failed while their post was deleted.
// Each failed retry doubles the wait; after maxSweepAttempts the row is kept for
// manual inspection and no longer retried.
type OrphanSweeper struct {
	db       *gorm.DB
	blobs    BlobRemover
	log      *zap.Logger
	interval time.Duration
	now      func() time.Time
}

// NewOrphanSweeper creates an OrphanSweeper.
func NewOrphanSweeper(db *gorm.DB, blobs BlobRemover, interval time.Duration, log *zap.Logger) *OrphanSweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OrphanSweeper{db: db, blobs: blobs, log: log, interval: interval, now: time.Now}
}

// Start runs the sweeper in the background until ctx is cancelled.
func (s *OrphanSweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepOnce(ctx); err != nil {
					s.log.Warn("orphan sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// SweepOnce retries every due orphan and returns how many blobs were removed.
func (s *OrphanSweeper) SweepOnce(ctx context.Context) (int, error) {
	var due []models.OrphanedBlob
	err := s.db.WithContext(ctx).
		Where("next_attempt_at <= ? AND attempts < ?", s.now(), maxSweepAttempts).
		Order("next_attempt_at ASC").
		Limit(sweepBatch).
		Find(&due).Error
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, o := range due {
		if err := s.blobs.Remove(ctx, o.StorageHandle); err != nil {
			attempts := o.Attempts + 1
			backoff := s.interval << uint(attempts)
			upd := s.db.WithContext(ctx).Model(&models.OrphanedBlob{}).Where("id = ?", o.ID).Updates(map[string]interface{}{
				"attempts":        attempts,
				"last_error":      truncate(err.Error(), 1024),
				"next_attempt_at": s.now().Add(backoff),
			})
			if upd.Error != nil {
				return removed, upd.Error
			}
			s.log.Warn("orphan blob still not deleted",
				zap.String("handle", o.StorageHandle), zap.Int("attempts", attempts), zap.Error(err))
			continue
		}
		if err := s.db.WithContext(ctx).Delete(&models.OrphanedBlob{}, o.ID).Error; err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("orphan blobs removed", zap.Int("count", removed))
	}
	return removed, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
