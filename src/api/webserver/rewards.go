package webserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/perkpoint/missions/src/api/reward"
)

type Rewards struct {
	svc *reward.Service
}

func NewRewards(svc *reward.Service) Rewards {
	return Rewards{svc: svc}
}

func (h Rewards) MyRewards(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	entries, err := h.svc.ListFor(uid)
	if err != nil {
		respondErr(c, err)
		return
	}
	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, gin.H{
			"id":        e.ID,
			"missionId": e.MissionID,
			"amount":    e.Amount,
			"issuedAt":  e.IssuedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"rewards": out})
}
