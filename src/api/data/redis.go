package data

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	checkinPrefix = "checkin:"
	streamRewards = "missions.rewards"
)

func MustRedis(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	return redis.NewClient(opt)
}

// MarkCheckin leaves a short-lived presence key so operators can see who is
// currently dwelling in which store. Advisory only; the attempt row is the
// source of truth.
func MarkCheckin(ctx context.Context, rdb *redis.Client, userID, missionID uint64, ttl time.Duration) error {
	key := fmt.Sprintf("%s%d:%d", checkinPrefix, userID, missionID)
	return rdb.Set(ctx, key, time.Now().Unix(), ttl).Err()
}

func ClearCheckin(ctx context.Context, rdb *redis.Client, userID, missionID uint64) error {
	key := fmt.Sprintf("%s%d:%d", checkinPrefix, userID, missionID)
	return rdb.Del(ctx, key).Err()
}

// PublishReward emits a reward-issued event for downstream consumers
// (notifications, analytics).
func PublishReward(ctx context.Context, rdb *redis.Client, payload map[string]interface{}) error {
	_, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamRewards,
		Values: payload,
	}).Result()
	return err
}
