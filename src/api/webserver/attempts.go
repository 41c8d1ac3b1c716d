package webserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/perkpoint/missions/src/api/mission"
)

type Attempts struct {
	svc *mission.Service
}

func NewAttempts(svc *mission.Service) Attempts {
	return Attempts{svc: svc}
}

func attemptJSON(res mission.Result) gin.H {
	out := gin.H{
		"attemptId": res.Attempt.ID,
		"missionId": res.Attempt.MissionID,
		"status":    res.Attempt.Status,
	}
	if res.RetryHint != "" {
		out["retryHint"] = res.RetryHint
	}
	if res.RewardID != 0 {
		out["rewardId"] = res.RewardID
	}
	if res.Attempt.CheckinAt != nil {
		out["checkinAt"] = res.Attempt.CheckinAt
	}
	if res.Attempt.CheckoutAt != nil {
		out["checkoutAt"] = res.Attempt.CheckoutAt
	}
	return out
}

// Attempt handles the generic verification endpoint. RECEIPT/INVENTORY
// missions carry the evidence image URL in the body; TIME_WINDOW and STAMP
// take an empty body. DWELL is rejected by the engine with a hint to use
// checkin/checkout.
func (h Attempts) Attempt(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	missionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad mission id"})
		return
	}
	var req struct {
		ImageURL string `json:"imageUrl"`
	}
	// Empty body is fine for the non-photo mission types.
	_ = c.ShouldBindJSON(&req)

	res, err := h.svc.Attempt(c.Request.Context(), uid, missionID, req.ImageURL)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, attemptJSON(res))
}

func (h Attempts) Checkin(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	missionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad mission id"})
		return
	}
	res, err := h.svc.Checkin(c.Request.Context(), uid, missionID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, attemptJSON(res))
}

func (h Attempts) Checkout(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	missionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad mission id"})
		return
	}
	res, err := h.svc.Checkout(c.Request.Context(), uid, missionID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, attemptJSON(res))
}

func (h Attempts) MyAttempts(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	missionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad mission id"})
		return
	}
	attempts, err := h.svc.AttemptsFor(uid, missionID)
	if err != nil {
		respondErr(c, err)
		return
	}
	out := make([]gin.H, 0, len(attempts))
	for i := range attempts {
		out = append(out, attemptJSON(mission.Result{Attempt: attempts[i]}))
	}
	c.JSON(http.StatusOK, gin.H{"attempts": out})
}
