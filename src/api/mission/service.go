// Package mission is the verification engine: it decides whether an attempt
// against a mission definition succeeds, records the attempt history, and
// hands successful outcomes to the reward ledger.
package mission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/perkpoint/missions/src/api/ai"
	"github.com/perkpoint/missions/src/api/data"
	"github.com/perkpoint/missions/src/api/errs"
	"github.com/perkpoint/missions/src/api/reward"
	"github.com/perkpoint/missions/src/api/types"
)

// Judge is the external photo-judgment oracle consumed by the RECEIPT and
// INVENTORY strategies.
type Judge interface {
	JudgeReceipt(ctx context.Context, imageURL, targetProduct string, threshold float64) (ai.Judgment, error)
	JudgeInventory(ctx context.Context, imageURL, answerImageURL string, threshold float64) (ai.Judgment, error)
}

// Result is what one verification interaction produced. RewardID is set only
// when this interaction completed the mission.
type Result struct {
	Attempt   types.MissionAttempt
	RetryHint string
	RewardID  uint64
}

type Service struct {
	db      *gorm.DB
	rdb     *redis.Client
	judge   Judge
	rewards *reward.Service
	clock   Clock
}

func NewService(db *gorm.DB, rdb *redis.Client, judge Judge, rewards *reward.Service, clock Clock) *Service {
	return &Service{db: db, rdb: rdb, judge: judge, rewards: rewards, clock: clock}
}

// ── Definition management (owner-scoped) ──────────────────────────────────

type DefinitionRequest struct {
	Type         string `json:"type"`
	ConfigJSON   string `json:"config"`
	RewardAmount int    `json:"rewardAmount"`
	Active       *bool  `json:"active"`
}

// ListForStore returns the store's active missions.
func (s *Service) ListForStore(storeID uint64) ([]types.MissionDefinition, error) {
	var missions []types.MissionDefinition
	err := s.db.Preload("Store").
		Where("store_id = ? AND active = ?", storeID, true).
		Find(&missions).Error
	return missions, err
}

func (s *Service) Get(storeID, missionID uint64) (*types.MissionDefinition, error) {
	var m types.MissionDefinition
	if err := s.db.Preload("Store").First(&m, missionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("mission not found: %d", missionID)
		}
		return nil, err
	}
	if m.StoreID != storeID {
		return nil, errs.Validationf("mission %d does not belong to store %d", missionID, storeID)
	}
	return &m, nil
}

func (s *Service) CreateDefinition(storeID, ownerID uint64, req DefinitionRequest) (*types.MissionDefinition, error) {
	var store types.Store
	if err := s.db.First(&store, storeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("store not found: %d", storeID)
		}
		return nil, err
	}
	if store.OwnerID != ownerID {
		return nil, errs.Forbiddenf("not the owner of store %d", storeID)
	}
	if req.RewardAmount < 0 {
		return nil, errs.Validationf("rewardAmount must be non-negative")
	}
	if err := ValidateConfig(req.Type, req.ConfigJSON); err != nil {
		return nil, err
	}
	m := types.MissionDefinition{
		StoreID:      storeID,
		Type:         req.Type,
		ConfigJSON:   req.ConfigJSON,
		RewardAmount: req.RewardAmount,
		Active:       true,
	}
	if err := s.db.Create(&m).Error; err != nil {
		return nil, err
	}
	m.Store = store
	return &m, nil
}

// UpdateDefinition changes config, reward and active flag. Type is immutable.
func (s *Service) UpdateDefinition(storeID, missionID, ownerID uint64, req DefinitionRequest) (*types.MissionDefinition, error) {
	m, err := s.resolveOwnerMission(storeID, missionID, ownerID)
	if err != nil {
		return nil, err
	}
	if req.Type != "" && req.Type != m.Type {
		return nil, errs.Validationf("mission type is immutable (is %s)", m.Type)
	}
	if req.RewardAmount < 0 {
		return nil, errs.Validationf("rewardAmount must be non-negative")
	}
	if err := ValidateConfig(m.Type, req.ConfigJSON); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"config_json":   req.ConfigJSON,
		"reward_amount": req.RewardAmount,
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if err := s.db.Model(m).Updates(updates).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// Deactivate is the only deletion missions get.
func (s *Service) Deactivate(storeID, missionID, ownerID uint64) error {
	m, err := s.resolveOwnerMission(storeID, missionID, ownerID)
	if err != nil {
		return err
	}
	return s.db.Model(m).Update("active", false).Error
}

// SetAnswerImage swaps the reference image inside an INVENTORY mission's
// config once the owner has uploaded a new one.
func (s *Service) SetAnswerImage(storeID, missionID, ownerID uint64, imageURL string) (*types.MissionDefinition, error) {
	m, err := s.resolveOwnerMission(storeID, missionID, ownerID)
	if err != nil {
		return nil, err
	}
	if m.Type != types.MissionInventory {
		return nil, errs.Validationf("only INVENTORY missions carry an answer image")
	}
	if strings.TrimSpace(imageURL) == "" {
		return nil, errs.Validationf("imageUrl must be a non-blank URL")
	}
	var cfg map[string]interface{}
	if err := json.Unmarshal([]byte(m.ConfigJSON), &cfg); err != nil {
		return nil, errs.Validationf("stored config is not valid JSON")
	}
	cfg["answerImageUrl"] = imageURL
	raw, _ := json.Marshal(cfg)
	if err := ValidateConfig(m.Type, string(raw)); err != nil {
		return nil, err
	}
	if err := s.db.Model(m).Update("config_json", string(raw)).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// ── Attempts ──────────────────────────────────────────────────────────────

// Attempt is the generic verification entry point.
//   - TIME_WINDOW / STAMP: no evidence
//   - RECEIPT / INVENTORY: imageURL required
//   - DWELL: rejected; dwell uses Checkin/Checkout
func (s *Service) Attempt(ctx context.Context, userID, missionID uint64, imageURL string) (Result, error) {
	m, err := s.resolveGuarded(userID, missionID)
	if err != nil {
		return Result{}, err
	}
	switch m.Type {
	case types.MissionTimeWindow:
		return s.handleTimeWindow(ctx, userID, m)
	case types.MissionDwell:
		return Result{}, errs.Validationf("dwell missions use the checkin/checkout endpoints")
	case types.MissionReceipt:
		return s.handleReceipt(ctx, userID, m, imageURL)
	case types.MissionInventory:
		return s.handleInventory(ctx, userID, m, imageURL)
	case types.MissionStamp:
		return s.handleStamp(ctx, userID, m)
	default:
		return Result{}, errs.Validationf("unknown mission type: %s", m.Type)
	}
}

// Checkin opens a dwell attempt. The PENDING row it creates is what Checkout
// later settles.
func (s *Service) Checkin(ctx context.Context, userID, missionID uint64) (Result, error) {
	m, err := s.resolveGuarded(userID, missionID)
	if err != nil {
		return Result{}, err
	}
	if m.Type != types.MissionDwell {
		return Result{}, errs.Validationf("checkin only applies to DWELL missions")
	}
	now := s.clock.Now()
	att := types.MissionAttempt{
		UserID:      userID,
		MissionID:   missionID,
		Status:      types.AttemptPending,
		AttemptDate: s.clock.Today(),
		CheckinAt:   &now,
	}
	if err := s.db.Create(&att).Error; err != nil {
		return Result{}, err
	}
	if s.rdb != nil {
		if err := data.MarkCheckin(ctx, s.rdb, userID, missionID, 12*time.Hour); err != nil {
			log.Printf("mission: mark checkin: %v", err)
		}
	}
	return Result{Attempt: att}, nil
}

// Checkout settles the most recent open check-in. The PENDING→terminal
// transition is a single conditional update so two racing checkouts cannot
// both settle the same row.
func (s *Service) Checkout(ctx context.Context, userID, missionID uint64) (Result, error) {
	m, err := s.resolveGuarded(userID, missionID)
	if err != nil {
		return Result{}, err
	}
	if m.Type != types.MissionDwell {
		return Result{}, errs.Validationf("checkout only applies to DWELL missions")
	}
	cfg, err := parseDwell(m.ConfigJSON)
	if err != nil {
		return Result{}, err
	}

	var att types.MissionAttempt
	err = s.db.Where("user_id = ? AND mission_id = ? AND status = ?", userID, missionID, types.AttemptPending).
		Order("created_at desc, id desc").
		First(&att).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, errs.NotFoundf("no open check-in for mission %d", missionID)
		}
		return Result{}, err
	}
	if att.CheckinAt == nil {
		return Result{}, errs.Validationf("check-in time missing on attempt %d", att.ID)
	}

	now := s.clock.Now()
	elapsed := int(now.Sub(*att.CheckinAt).Minutes())
	status := types.AttemptFailed
	if elapsed >= cfg.DurationMinutes {
		status = types.AttemptSuccess
	}

	res := s.db.Model(&types.MissionAttempt{}).
		Where("id = ? AND status = ?", att.ID, types.AttemptPending).
		Updates(map[string]interface{}{"status": status, "checkout_at": now})
	if res.Error != nil {
		return Result{}, res.Error
	}
	if res.RowsAffected == 0 {
		return Result{}, errs.Validationf("check-in already settled by another request")
	}
	att.Status = status
	att.CheckoutAt = &now

	if s.rdb != nil {
		_ = data.ClearCheckin(ctx, s.rdb, userID, missionID)
	}

	if status == types.AttemptSuccess {
		rewardID, err := s.rewards.Issue(ctx, userID, m)
		if err != nil {
			return Result{}, err
		}
		return Result{Attempt: att, RewardID: rewardID}, nil
	}
	remaining := cfg.DurationMinutes - elapsed
	hint := fmt.Sprintf("dwell too short (required: %d min, actual: %d min, remaining: %d min)",
		cfg.DurationMinutes, elapsed, remaining)
	return Result{Attempt: att, RetryHint: hint}, nil
}

// AttemptsFor returns the caller's history for one mission, oldest first.
func (s *Service) AttemptsFor(userID, missionID uint64) ([]types.MissionAttempt, error) {
	var attempts []types.MissionAttempt
	err := s.db.Where("user_id = ? AND mission_id = ?", userID, missionID).
		Order("created_at asc, id asc").
		Find(&attempts).Error
	return attempts, err
}

// ── Per-type strategies ───────────────────────────────────────────────────

func (s *Service) handleTimeWindow(ctx context.Context, userID uint64, m *types.MissionDefinition) (Result, error) {
	cfg, err := parseTimeWindow(m.ConfigJSON)
	if err != nil {
		return Result{}, err
	}
	now := s.clock.Now()
	// time.Weekday "Monday" → "MON"
	currentDay := strings.ToUpper(now.Weekday().String()[:3])
	inRange := now.Hour() >= cfg.StartHour && now.Hour() < cfg.EndHour
	inDay := len(cfg.Days) == 0 || contains(cfg.Days, currentDay)

	status := types.AttemptFailed
	if inRange && inDay {
		status = types.AttemptSuccess
	}
	att, err := s.recordAttempt(userID, m.ID, status, "", "")
	if err != nil {
		return Result{}, err
	}
	if status == types.AttemptSuccess {
		rewardID, err := s.rewards.Issue(ctx, userID, m)
		if err != nil {
			return Result{}, err
		}
		return Result{Attempt: att, RewardID: rewardID}, nil
	}
	hint := fmt.Sprintf("mission window: %02d:00-%02d:00 on %s",
		cfg.StartHour, cfg.EndHour, strings.Join(cfg.Days, ", "))
	return Result{Attempt: att, RetryHint: hint}, nil
}

func (s *Service) handleReceipt(ctx context.Context, userID uint64, m *types.MissionDefinition, imageURL string) (Result, error) {
	if imageURL == "" {
		return Result{}, errs.Validationf("RECEIPT missions require imageUrl")
	}
	cfg, err := parseReceipt(m.ConfigJSON)
	if err != nil {
		return Result{}, err
	}
	j, err := s.judge.JudgeReceipt(ctx, imageURL, cfg.TargetProductKey, cfg.ConfidenceThreshold)
	if err != nil {
		return Result{}, err
	}
	return s.settleJudged(ctx, userID, m, imageURL, j)
}

func (s *Service) handleInventory(ctx context.Context, userID uint64, m *types.MissionDefinition, imageURL string) (Result, error) {
	if imageURL == "" {
		return Result{}, errs.Validationf("INVENTORY missions require imageUrl")
	}
	cfg, err := parseInventory(m.ConfigJSON)
	if err != nil {
		return Result{}, err
	}
	j, err := s.judge.JudgeInventory(ctx, imageURL, cfg.AnswerImageURL, cfg.ConfidenceThreshold)
	if err != nil {
		return Result{}, err
	}
	return s.settleJudged(ctx, userID, m, imageURL, j)
}

// settleJudged maps an oracle verdict to an attempt row: match → SUCCESS,
// non-match → RETRY (the user may resubmit indefinitely).
func (s *Service) settleJudged(ctx context.Context, userID uint64, m *types.MissionDefinition, imageURL string, j ai.Judgment) (Result, error) {
	status := types.AttemptRetry
	if j.Match {
		status = types.AttemptSuccess
	}
	att, err := s.recordAttempt(userID, m.ID, status, imageURL, j.Raw)
	if err != nil {
		return Result{}, err
	}
	if status == types.AttemptSuccess {
		rewardID, err := s.rewards.Issue(ctx, userID, m)
		if err != nil {
			return Result{}, err
		}
		return Result{Attempt: att, RetryHint: j.RetryHint, RewardID: rewardID}, nil
	}
	return Result{Attempt: att, RetryHint: j.RetryHint}, nil
}

func (s *Service) handleStamp(ctx context.Context, userID uint64, m *types.MissionDefinition) (Result, error) {
	cfg, err := parseStamp(m.ConfigJSON)
	if err != nil {
		return Result{}, err
	}
	today := s.clock.Today()

	// One stamp per day: a same-day repeat returns the existing row untouched.
	var existing types.MissionAttempt
	err = s.db.Where("user_id = ? AND mission_id = ? AND attempt_date = ?", userID, m.ID, today).
		Order("id desc").
		First(&existing).Error
	if err == nil {
		return Result{Attempt: existing, RetryHint: "already stamped today, come back tomorrow"}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Result{}, err
	}

	// Stamps accumulate as PENDING rows until the goal is reached.
	var stamped int64
	if err := s.db.Model(&types.MissionAttempt{}).
		Where("user_id = ? AND mission_id = ? AND status IN ?",
			userID, m.ID, []string{types.AttemptPending, types.AttemptSuccess}).
		Count(&stamped).Error; err != nil {
		return Result{}, err
	}

	status := types.AttemptPending
	if stamped+1 >= int64(cfg.RequiredCount) {
		status = types.AttemptSuccess
	}
	att, err := s.recordAttempt(userID, m.ID, status, "", "")
	if err != nil {
		return Result{}, err
	}
	if status == types.AttemptSuccess {
		rewardID, err := s.rewards.Issue(ctx, userID, m)
		if err != nil {
			return Result{}, err
		}
		return Result{Attempt: att, RewardID: rewardID}, nil
	}
	hint := fmt.Sprintf("stamp %d of %d recorded", stamped+1, cfg.RequiredCount)
	return Result{Attempt: att, RetryHint: hint}, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────

// resolveGuarded loads the mission after the ledger pre-guard: a completed
// (user, mission) pair fails fast and records nothing.
func (s *Service) resolveGuarded(userID, missionID uint64) (*types.MissionDefinition, error) {
	done, err := s.rewards.Completed(userID, missionID)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, errs.AlreadyCompletedf("mission %d already completed", missionID)
	}
	var m types.MissionDefinition
	if err := s.db.First(&m, missionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("mission not found: %d", missionID)
		}
		return nil, err
	}
	return &m, nil
}

func (s *Service) resolveOwnerMission(storeID, missionID, ownerID uint64) (*types.MissionDefinition, error) {
	var m types.MissionDefinition
	if err := s.db.Preload("Store").First(&m, missionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("mission not found: %d", missionID)
		}
		return nil, err
	}
	if m.StoreID != storeID {
		return nil, errs.Validationf("mission %d does not belong to store %d", missionID, storeID)
	}
	if m.Store.OwnerID != ownerID {
		return nil, errs.Forbiddenf("not the owner of store %d", storeID)
	}
	return &m, nil
}

func (s *Service) recordAttempt(userID, missionID uint64, status, imageURL, aiResult string) (types.MissionAttempt, error) {
	att := types.MissionAttempt{
		UserID:       userID,
		MissionID:    missionID,
		Status:       status,
		AttemptDate:  s.clock.Today(),
		ImageURL:     imageURL,
		AIResultJSON: aiResult,
	}
	err := s.db.Create(&att).Error
	return att, err
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
