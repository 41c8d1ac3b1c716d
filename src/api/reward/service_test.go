package reward

import (
	"context"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/perkpoint/missions/src/api/errs"
	"github.com/perkpoint/missions/src/api/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A fresh :memory: database per connection; keep everything on one.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&types.MissionDefinition{}, &types.RewardLedger{}))
	return db
}

func testMission(t *testing.T, db *gorm.DB, amount int) *types.MissionDefinition {
	t.Helper()
	m := &types.MissionDefinition{
		StoreID:      1,
		Type:         types.MissionStamp,
		ConfigJSON:   `{"requiredCount":1}`,
		RewardAmount: amount,
		Active:       true,
	}
	require.NoError(t, db.Create(m).Error)
	return m
}

func TestIssueOnce(t *testing.T) {
	db := newTestDB(t)
	svc := New(db, nil)
	m := testMission(t, db, 100)

	id, err := svc.Issue(context.Background(), 7, m)
	require.NoError(t, err)
	assert.NotZero(t, id)

	done, err := svc.Completed(7, m.ID)
	require.NoError(t, err)
	assert.True(t, done)

	// Second issuance for the same pair loses on the unique index.
	_, err = svc.Issue(context.Background(), 7, m)
	require.Error(t, err)
	assert.Equal(t, errs.KindAlreadyCompleted, errs.KindOf(err))

	var n int64
	require.NoError(t, db.Model(&types.RewardLedger{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestIssueConcurrentRace(t *testing.T) {
	db := newTestDB(t)
	svc := New(db, nil)
	m := testMission(t, db, 50)

	const racers = 8
	var wg sync.WaitGroup
	errsCh := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Issue(context.Background(), 42, m)
			errsCh <- err
		}()
	}
	wg.Wait()
	close(errsCh)

	var wins, losses int
	for err := range errsCh {
		if err == nil {
			wins++
		} else {
			assert.Equal(t, errs.KindAlreadyCompleted, errs.KindOf(err))
			losses++
		}
	}
	assert.Equal(t, 1, wins, "exactly one racer may win")
	assert.Equal(t, racers-1, losses)

	var n int64
	require.NoError(t, db.Model(&types.RewardLedger{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestDifferentPairsBothIssue(t *testing.T) {
	db := newTestDB(t)
	svc := New(db, nil)
	m1 := testMission(t, db, 10)
	m2 := testMission(t, db, 20)

	_, err := svc.Issue(context.Background(), 1, m1)
	require.NoError(t, err)
	_, err = svc.Issue(context.Background(), 1, m2)
	require.NoError(t, err)
	_, err = svc.Issue(context.Background(), 2, m1)
	require.NoError(t, err)
}

func TestListFor(t *testing.T) {
	db := newTestDB(t)
	svc := New(db, nil)
	m1 := testMission(t, db, 10)
	m2 := testMission(t, db, 20)

	_, err := svc.Issue(context.Background(), 9, m1)
	require.NoError(t, err)
	_, err = svc.Issue(context.Background(), 9, m2)
	require.NoError(t, err)
	_, err = svc.Issue(context.Background(), 10, m1)
	require.NoError(t, err)

	entries, err := svc.ListFor(9)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, uint64(9), e.UserID)
	}
}
