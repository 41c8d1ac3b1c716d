// Package reward owns the append-only reward ledger. One entry per
// (user, mission), ever; the database unique index is the final arbiter.
package reward

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/perkpoint/missions/src/api/data"
	"github.com/perkpoint/missions/src/api/errs"
	"github.com/perkpoint/missions/src/api/types"
)

type Service struct {
	db  *gorm.DB
	rdb *redis.Client
}

func New(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{db: db, rdb: rdb}
}

// Issue appends a ledger entry and returns its id. A second call for the same
// (user, mission), including a concurrent racing one, loses on the unique
// index and reports already-completed instead of double-paying.
func (s *Service) Issue(ctx context.Context, userID uint64, m *types.MissionDefinition) (uint64, error) {
	entry := types.RewardLedger{
		UserID:    userID,
		MissionID: m.ID,
		Amount:    m.RewardAmount,
	}
	if err := s.db.Create(&entry).Error; err != nil {
		if isDuplicate(err) {
			return 0, errs.AlreadyCompletedf("mission %d already completed", m.ID)
		}
		return 0, err
	}

	if s.rdb != nil {
		// Best effort; the ledger row is the source of truth.
		if err := data.PublishReward(ctx, s.rdb, map[string]interface{}{
			"reward_id":  entry.ID,
			"user_id":    userID,
			"mission_id": m.ID,
			"amount":     m.RewardAmount,
			"time":       time.Now().Unix(),
		}); err != nil {
			log.Printf("reward: publish event: %v", err)
		}
	}
	return entry.ID, nil
}

// Completed reports whether a ledger entry exists for (user, mission). Used
// as the orchestrator's pre-guard.
func (s *Service) Completed(userID, missionID uint64) (bool, error) {
	var n int64
	err := s.db.Model(&types.RewardLedger{}).
		Where("user_id = ? AND mission_id = ?", userID, missionID).
		Count(&n).Error
	return n > 0, err
}

// ListFor returns the caller's rewards, newest first.
func (s *Service) ListFor(userID uint64) ([]types.RewardLedger, error) {
	var entries []types.RewardLedger
	err := s.db.Where("user_id = ?", userID).Order("issued_at desc").Find(&entries).Error
	return entries, err
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// Driver fallbacks: mysql "Duplicate entry", sqlite "UNIQUE constraint failed"
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}
