package mission

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/perkpoint/missions/src/api/ai"
	"github.com/perkpoint/missions/src/api/errs"
	"github.com/perkpoint/missions/src/api/reward"
	"github.com/perkpoint/missions/src/api/types"
)

// 2024-06-03 is a Monday.
var monday16 = time.Date(2024, 6, 3, 16, 0, 0, 0, time.UTC)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }
func (c *fixedClock) Today() string  { return c.now.Format(dateLayout) }

func (c *fixedClock) advance(d time.Duration) { c.now = c.now.Add(d) }
func (c *fixedClock) nextDay()                { c.now = c.now.Add(24 * time.Hour) }

type fakeJudge struct {
	judgment  ai.Judgment
	err       error
	calls     int
	lastImage string
	lastRef   string
}

func (f *fakeJudge) JudgeReceipt(_ context.Context, imageURL, _ string, _ float64) (ai.Judgment, error) {
	f.calls++
	f.lastImage = imageURL
	return f.judgment, f.err
}

func (f *fakeJudge) JudgeInventory(_ context.Context, imageURL, answerImageURL string, _ float64) (ai.Judgment, error) {
	f.calls++
	f.lastImage = imageURL
	f.lastRef = answerImageURL
	return f.judgment, f.err
}

type fixture struct {
	svc   *Service
	db    *gorm.DB
	clock *fixedClock
	judge *fakeJudge
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&types.User{}, &types.Store{},
		&types.MissionDefinition{}, &types.MissionAttempt{}, &types.RewardLedger{},
	))

	clock := &fixedClock{now: monday16}
	judge := &fakeJudge{}
	svc := NewService(db, nil, judge, reward.New(db, nil), clock)
	return &fixture{svc: svc, db: db, clock: clock, judge: judge}
}

func (f *fixture) store(t *testing.T, ownerID uint64) *types.Store {
	t.Helper()
	s := &types.Store{OwnerID: ownerID, Name: "corner cafe", Lat: 37.55, Lng: 126.97}
	require.NoError(t, f.db.Create(s).Error)
	return s
}

func (f *fixture) mission(t *testing.T, storeID uint64, missionType, configJSON string) *types.MissionDefinition {
	t.Helper()
	m := &types.MissionDefinition{
		StoreID:      storeID,
		Type:         missionType,
		ConfigJSON:   configJSON,
		RewardAmount: 100,
		Active:       true,
	}
	require.NoError(t, f.db.Create(m).Error)
	return m
}

func (f *fixture) attemptCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&types.MissionAttempt{}).Count(&n).Error)
	return n
}

// ── TIME_WINDOW ───────────────────────────────────────────────────────────

func TestTimeWindowSuccess(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionTimeWindow, `{"startHour":15,"endHour":17,"days":["MON"]}`)

	res, err := f.svc.Attempt(context.Background(), 10, m.ID, "")
	require.NoError(t, err)
	assert.Equal(t, types.AttemptSuccess, res.Attempt.Status)
	assert.NotZero(t, res.RewardID)
}

func TestTimeWindowOutsideHours(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionTimeWindow, `{"startHour":15,"endHour":17,"days":["MON"]}`)

	// endHour is exclusive: 17:00 is already outside.
	f.clock.advance(time.Hour)
	res, err := f.svc.Attempt(context.Background(), 10, m.ID, "")
	require.NoError(t, err)
	assert.Equal(t, types.AttemptFailed, res.Attempt.Status)
	assert.Zero(t, res.RewardID)
	assert.Contains(t, res.RetryHint, "15:00-17:00")
	assert.Contains(t, res.RetryHint, "MON")
}

func TestTimeWindowWrongDay(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionTimeWindow, `{"startHour":15,"endHour":17,"days":["MON"]}`)

	f.clock.nextDay() // Tuesday 16:00
	res, err := f.svc.Attempt(context.Background(), 10, m.ID, "")
	require.NoError(t, err)
	assert.Equal(t, types.AttemptFailed, res.Attempt.Status)
}

// ── Guard ─────────────────────────────────────────────────────────────────

func TestAlreadyCompletedGuard(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionTimeWindow, `{"startHour":15,"endHour":17,"days":["MON"]}`)

	_, err := f.svc.Attempt(context.Background(), 10, m.ID, "")
	require.NoError(t, err)
	before := f.attemptCount(t)

	_, err = f.svc.Attempt(context.Background(), 10, m.ID, "")
	require.Error(t, err)
	assert.Equal(t, errs.KindAlreadyCompleted, errs.KindOf(err))
	assert.Equal(t, before, f.attemptCount(t), "guarded attempts must not create rows")

	// Other users are unaffected.
	_, err = f.svc.Attempt(context.Background(), 11, m.ID, "")
	require.NoError(t, err)
}

func TestAttemptUnknownMission(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Attempt(context.Background(), 10, 999, "")
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
	assert.Zero(t, f.attemptCount(t))
}

// ── DWELL ─────────────────────────────────────────────────────────────────

func TestDwellTooShort(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionDwell, `{"durationMinutes":10}`)

	_, err := f.svc.Checkin(context.Background(), 10, m.ID)
	require.NoError(t, err)

	f.clock.advance(9 * time.Minute)
	res, err := f.svc.Checkout(context.Background(), 10, m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AttemptFailed, res.Attempt.Status)
	assert.Zero(t, res.RewardID)
	assert.Contains(t, res.RetryHint, "required: 10 min")
	assert.Contains(t, res.RetryHint, "actual: 9 min")
	assert.Contains(t, res.RetryHint, "remaining: 1 min")
}

func TestDwellSuccess(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionDwell, `{"durationMinutes":10}`)

	checkin, err := f.svc.Checkin(context.Background(), 10, m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AttemptPending, checkin.Attempt.Status)
	require.NotNil(t, checkin.Attempt.CheckinAt)

	f.clock.advance(10 * time.Minute)
	res, err := f.svc.Checkout(context.Background(), 10, m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AttemptSuccess, res.Attempt.Status)
	assert.NotZero(t, res.RewardID)
	require.NotNil(t, res.Attempt.CheckoutAt)
}

func TestDwellCheckoutWithoutCheckin(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionDwell, `{"durationMinutes":10}`)

	_, err := f.svc.Checkout(context.Background(), 10, m.ID)
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestDwellCheckoutTargetsLatestPending(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionDwell, `{"durationMinutes":10}`)

	_, err := f.svc.Checkin(context.Background(), 10, m.ID)
	require.NoError(t, err)
	f.clock.advance(2 * time.Minute)
	second, err := f.svc.Checkin(context.Background(), 10, m.ID)
	require.NoError(t, err)

	f.clock.advance(5 * time.Minute)
	res, err := f.svc.Checkout(context.Background(), 10, m.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Attempt.ID, res.Attempt.ID)
	// 5 minutes since the latest check-in, not 7 since the first.
	assert.Contains(t, res.RetryHint, "actual: 5 min")
}

func TestDwellGenericAttemptRejected(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionDwell, `{"durationMinutes":10}`)

	_, err := f.svc.Attempt(context.Background(), 10, m.ID, "")
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Zero(t, f.attemptCount(t))
}

func TestCheckinWrongMissionType(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionStamp, `{"requiredCount":3}`)

	_, err := f.svc.Checkin(context.Background(), 10, m.ID)
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

// ── STAMP ─────────────────────────────────────────────────────────────────

func TestStampProgression(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionStamp, `{"requiredCount":3}`)

	day1, err := f.svc.Attempt(context.Background(), 10, m.ID, "")
	require.NoError(t, err)
	assert.Equal(t, types.AttemptPending, day1.Attempt.Status)
	assert.Zero(t, day1.RewardID)

	// Same-day repeat returns the first attempt untouched.
	repeat, err := f.svc.Attempt(context.Background(), 10, m.ID, "")
	require.NoError(t, err)
	assert.Equal(t, day1.Attempt.ID, repeat.Attempt.ID)
	assert.Contains(t, repeat.RetryHint, "already stamped today")

	f.clock.nextDay()
	day2, err := f.svc.Attempt(context.Background(), 10, m.ID, "")
	require.NoError(t, err)
	assert.Equal(t, types.AttemptPending, day2.Attempt.Status)

	f.clock.nextDay()
	day3, err := f.svc.Attempt(context.Background(), 10, m.ID, "")
	require.NoError(t, err)
	assert.Equal(t, types.AttemptSuccess, day3.Attempt.Status)
	assert.NotZero(t, day3.RewardID)
}

func TestStampSingleVisitGoal(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionStamp, `{"requiredCount":1}`)

	res, err := f.svc.Attempt(context.Background(), 10, m.ID, "")
	require.NoError(t, err)
	assert.Equal(t, types.AttemptSuccess, res.Attempt.Status)
	assert.NotZero(t, res.RewardID)
}

// ── RECEIPT / INVENTORY ───────────────────────────────────────────────────

func TestReceiptMatch(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionReceipt, `{"targetProductKey":"americano"}`)
	f.judge.judgment = ai.Judgment{Match: true, Confidence: 0.9, Raw: `{"match":true,"confidence":0.9}`}

	res, err := f.svc.Attempt(context.Background(), 10, m.ID, "https://img.example.com/receipt.jpg")
	require.NoError(t, err)
	assert.Equal(t, types.AttemptSuccess, res.Attempt.Status)
	assert.NotZero(t, res.RewardID)
	assert.Equal(t, "https://img.example.com/receipt.jpg", res.Attempt.ImageURL)
	assert.Equal(t, `{"match":true,"confidence":0.9}`, res.Attempt.AIResultJSON)
}

func TestReceiptNonMatchIsRetryable(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionReceipt, `{"targetProductKey":"americano"}`)
	f.judge.judgment = ai.Judgment{Match: false, Confidence: 0.4, RetryHint: "photo too dark", Raw: `{"match":false}`}

	res, err := f.svc.Attempt(context.Background(), 10, m.ID, "https://img.example.com/receipt.jpg")
	require.NoError(t, err)
	assert.Equal(t, types.AttemptRetry, res.Attempt.Status)
	assert.Zero(t, res.RewardID)
	assert.Equal(t, "photo too dark", res.RetryHint)

	// RETRY is not terminal: resubmission goes through.
	f.judge.judgment = ai.Judgment{Match: true, Confidence: 0.9, Raw: `{"match":true}`}
	res, err = f.svc.Attempt(context.Background(), 10, m.ID, "https://img.example.com/receipt2.jpg")
	require.NoError(t, err)
	assert.Equal(t, types.AttemptSuccess, res.Attempt.Status)
	assert.Equal(t, int64(2), f.attemptCount(t))
}

func TestReceiptRequiresImage(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionReceipt, `{"targetProductKey":"americano"}`)

	_, err := f.svc.Attempt(context.Background(), 10, m.ID, "")
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Zero(t, f.attemptCount(t))
}

func TestReceiptOracleDownSurfacesUpstreamError(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionReceipt, `{"targetProductKey":"americano"}`)
	f.judge.err = errs.Externalf("judgment API unreachable")

	_, err := f.svc.Attempt(context.Background(), 10, m.ID, "https://img.example.com/receipt.jpg")
	require.Error(t, err)
	assert.Equal(t, errs.KindExternal, errs.KindOf(err))
	assert.Zero(t, f.attemptCount(t))
}

func TestInventoryUsesAnswerImage(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionInventory, `{"answerImageUrl":"https://img.example.com/answer.jpg"}`)
	f.judge.judgment = ai.Judgment{Match: true, Confidence: 0.95, Raw: `{"match":true}`}

	res, err := f.svc.Attempt(context.Background(), 10, m.ID, "https://img.example.com/shelf.jpg")
	require.NoError(t, err)
	assert.Equal(t, types.AttemptSuccess, res.Attempt.Status)
	assert.Equal(t, "https://img.example.com/answer.jpg", f.judge.lastRef)
	assert.Equal(t, "https://img.example.com/shelf.jpg", f.judge.lastImage)
}

// ── Attempt history ───────────────────────────────────────────────────────

func TestAttemptsFor(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionStamp, `{"requiredCount":5}`)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Attempt(context.Background(), 10, m.ID, "")
		require.NoError(t, err)
		f.clock.nextDay()
	}
	_, err := f.svc.Attempt(context.Background(), 11, m.ID, "")
	require.NoError(t, err)

	attempts, err := f.svc.AttemptsFor(10, m.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 3)
}

// ── Definitions ───────────────────────────────────────────────────────────

func TestCreateDefinitionValidatesConfig(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)

	_, err := f.svc.CreateDefinition(st.ID, 1, DefinitionRequest{
		Type:         types.MissionTimeWindow,
		ConfigJSON:   `{"startHour":18,"endHour":10,"days":["MON"]}`,
		RewardAmount: 100,
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	m, err := f.svc.CreateDefinition(st.ID, 1, DefinitionRequest{
		Type:         types.MissionTimeWindow,
		ConfigJSON:   `{"startHour":10,"endHour":18,"days":["MON"]}`,
		RewardAmount: 100,
	})
	require.NoError(t, err)
	assert.True(t, m.Active)
}

func TestCreateDefinitionOwnerOnly(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)

	_, err := f.svc.CreateDefinition(st.ID, 2, DefinitionRequest{
		Type:         types.MissionStamp,
		ConfigJSON:   `{"requiredCount":3}`,
		RewardAmount: 100,
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
}

func TestUpdateDefinitionTypeImmutable(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionStamp, `{"requiredCount":3}`)

	_, err := f.svc.UpdateDefinition(st.ID, m.ID, 1, DefinitionRequest{
		Type:         types.MissionReceipt,
		ConfigJSON:   `{"targetProductKey":"latte"}`,
		RewardAmount: 100,
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Contains(t, err.Error(), "immutable")
}

func TestDeactivateHidesFromListing(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionStamp, `{"requiredCount":3}`)

	missions, err := f.svc.ListForStore(st.ID)
	require.NoError(t, err)
	require.Len(t, missions, 1)

	require.NoError(t, f.svc.Deactivate(st.ID, m.ID, 1))

	missions, err = f.svc.ListForStore(st.ID)
	require.NoError(t, err)
	assert.Empty(t, missions)

	// Soft delete only: the row survives.
	var kept types.MissionDefinition
	require.NoError(t, f.db.First(&kept, m.ID).Error)
	assert.False(t, kept.Active)
}

func TestSetAnswerImage(t *testing.T) {
	f := newFixture(t)
	st := f.store(t, 1)
	m := f.mission(t, st.ID, types.MissionInventory,
		`{"answerImageUrl":"https://img.example.com/old.jpg","confidenceThreshold":0.8}`)

	updated, err := f.svc.SetAnswerImage(st.ID, m.ID, 1, "https://img.example.com/new.jpg")
	require.NoError(t, err)
	cfg, err := parseInventory(updated.ConfigJSON)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/new.jpg", cfg.AnswerImageURL)
	assert.Equal(t, 0.8, cfg.ConfidenceThreshold, "other config fields survive the swap")

	// Only INVENTORY missions carry an answer image.
	stamp := f.mission(t, st.ID, types.MissionStamp, `{"requiredCount":3}`)
	_, err = f.svc.SetAnswerImage(st.ID, stamp.ID, 1, "https://img.example.com/x.jpg")
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}
