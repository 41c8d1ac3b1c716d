package types

import "time"

// Mission types
const (
	MissionTimeWindow = "TIME_WINDOW" // visit during a time window
	MissionDwell      = "DWELL"       // stay N minutes (checkin/checkout)
	MissionReceipt    = "RECEIPT"     // buy a product, prove with receipt photo
	MissionInventory  = "INVENTORY"   // find a product, prove with a photo
	MissionStamp      = "STAMP"       // repeat visits
)

// Attempt statuses
const (
	AttemptPending = "PENDING"
	AttemptSuccess = "SUCCESS"
	AttemptFailed  = "FAILED"
	AttemptRetry   = "RETRY"
)

// User roles
const (
	RoleUser  = "user"
	RoleOwner = "owner"
)

type User struct {
	ID           uint64 `gorm:"primaryKey"`
	Email        string `gorm:"size:256;uniqueIndex;not null"`
	PasswordHash string `gorm:"size:128;not null"`
	Nickname     string `gorm:"size:64"`
	Role         string `gorm:"size:16;not null;default:user"`
	CreatedAt    time.Time
}

type Store struct {
	ID        uint64 `gorm:"primaryKey"`
	OwnerID   uint64 `gorm:"index;not null"`
	Name      string `gorm:"size:128;not null"`
	Address   string `gorm:"size:256"`
	Lat       float64
	Lng       float64
	CreatedAt time.Time
}

// MissionDefinition is store-owned. Type never changes after creation and rows
// are only ever soft-deactivated (Active=false), never deleted.
type MissionDefinition struct {
	ID      uint64 `gorm:"primaryKey"`
	StoreID uint64 `gorm:"index;not null"`
	Type    string `gorm:"size:20;not null"`
	// Per-type config document, validated on create/update:
	//   TIME_WINDOW: {"startHour":15,"endHour":17,"days":["MON","TUE"]}
	//   DWELL:       {"durationMinutes":10}
	//   RECEIPT:     {"targetProductKey":"americano","confidenceThreshold":0.8}
	//   INVENTORY:   {"answerImageUrl":"https://...","confidenceThreshold":0.75}
	//   STAMP:       {"requiredCount":3}
	ConfigJSON   string `gorm:"type:text;not null"`
	RewardAmount int    `gorm:"not null"`
	Active       bool   `gorm:"default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Store        Store `gorm:"foreignKey:StoreID"`
}

// MissionAttempt records one verification interaction. Terminal rows
// (SUCCESS/FAILED) are never mutated; RETRY permits a fresh row.
type MissionAttempt struct {
	ID           uint64 `gorm:"primaryKey"`
	UserID       uint64 `gorm:"index:idx_attempt_user_mission;not null"`
	MissionID    uint64 `gorm:"index:idx_attempt_user_mission;not null"`
	Status       string `gorm:"size:10;not null"`
	AttemptDate  string `gorm:"size:10;index;not null"` // YYYY-MM-DD, daily dedup for stamps
	ImageURL     string `gorm:"size:512"`
	CheckinAt    *time.Time
	CheckoutAt   *time.Time
	AIResultJSON string `gorm:"type:text"`
	CreatedAt    time.Time
}

// RewardLedger is append-only. The composite unique index is the authoritative
// "already completed" gate: concurrent issuance races are settled by the
// database, not by application code.
type RewardLedger struct {
	ID        uint64    `gorm:"primaryKey"`
	UserID    uint64    `gorm:"uniqueIndex:idx_reward_user_mission;not null"`
	MissionID uint64    `gorm:"uniqueIndex:idx_reward_user_mission;not null"`
	Amount    int       `gorm:"not null"`
	IssuedAt  time.Time `gorm:"autoCreateTime"`
}
