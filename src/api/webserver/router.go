package webserver

import (
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/perkpoint/missions/src/api/ai"
	"github.com/perkpoint/missions/src/api/config"
	"github.com/perkpoint/missions/src/api/mission"
	"github.com/perkpoint/missions/src/api/reward"
)

func New(cfg config.Config, db *gorm.DB, rdb *redis.Client) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	attachRoutes(r, cfg, db, rdb)
	return r
}

func attachRoutes(r *gin.Engine, cfg config.Config, db *gorm.DB, rdb *redis.Client) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	loc, err := time.LoadLocation(cfg.TZLocation)
	if err != nil {
		log.Fatalf("bad TZ_LOCATION %q: %v", cfg.TZLocation, err)
	}
	clock := mission.NewClock(loc)
	judge := ai.NewClient(ai.Config{
		BaseURL: cfg.AIURL,
		APIKey:  cfg.AIKey,
		Model:   cfg.AIModel,
		Timeout: time.Duration(cfg.AITimeout) * time.Second,
	})
	rewards := reward.New(db, rdb)
	missions := mission.NewService(db, rdb, judge, rewards, clock)

	authH := NewAuth(db, []byte(cfg.JWTSecret))
	storeH := NewStores(db)
	missionH := NewMissions(missions)
	attemptH := NewAttempts(missions)
	rewardH := NewRewards(rewards)

	attemptLimiter := NewRateLimiter(30, time.Minute)

	v1 := r.Group("/v1")
	{
		v1.POST("/auth/signup", authH.Signup)
		v1.POST("/auth/login", authH.Login)

		v1.GET("/stores", storeH.List)
		v1.GET("/stores/:id/missions", missionH.ListForStore)

		secured := v1.Group("")
		secured.Use(JWTMiddleware([]byte(cfg.JWTSecret)))
		{
			secured.POST("/stores", storeH.Create)
			secured.POST("/stores/:id/missions", missionH.Create)
			secured.PUT("/stores/:id/missions/:mid", missionH.Update)
			secured.DELETE("/stores/:id/missions/:mid", missionH.Deactivate)
			secured.PUT("/stores/:id/missions/:mid/answer-image", missionH.SetAnswerImage)

			secured.POST("/missions/:id/attempts", RateLimitMiddleware(attemptLimiter), attemptH.Attempt)
			secured.POST("/missions/:id/attempts/checkin", attemptH.Checkin)
			secured.POST("/missions/:id/attempts/checkout", attemptH.Checkout)
			secured.GET("/missions/:id/attempts/me", attemptH.MyAttempts)

			secured.GET("/rewards/me", rewardH.MyRewards)
		}
	}
}
