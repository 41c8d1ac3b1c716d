package webserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/perkpoint/missions/src/api/mission"
	"github.com/perkpoint/missions/src/api/types"
)

type Missions struct {
	svc *mission.Service
}

func NewMissions(svc *mission.Service) Missions {
	return Missions{svc: svc}
}

func missionJSON(m *types.MissionDefinition) gin.H {
	return gin.H{
		"id":           m.ID,
		"storeId":      m.StoreID,
		"type":         m.Type,
		"config":       m.ConfigJSON,
		"rewardAmount": m.RewardAmount,
		"active":       m.Active,
		"lat":          m.Store.Lat,
		"lng":          m.Store.Lng,
	}
}

func (h Missions) ListForStore(c *gin.Context) {
	storeID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad store id"})
		return
	}
	missions, err := h.svc.ListForStore(storeID)
	if err != nil {
		respondErr(c, err)
		return
	}
	out := make([]gin.H, 0, len(missions))
	for i := range missions {
		out = append(out, missionJSON(&missions[i]))
	}
	c.JSON(http.StatusOK, gin.H{"missions": out})
}

func (h Missions) Create(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	storeID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad store id"})
		return
	}
	var req mission.DefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	m, err := h.svc.CreateDefinition(storeID, uid, req)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, missionJSON(m))
}

func (h Missions) Update(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	storeID, err1 := strconv.ParseUint(c.Param("id"), 10, 64)
	missionID, err2 := strconv.ParseUint(c.Param("mid"), 10, 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad id"})
		return
	}
	var req mission.DefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	m, err := h.svc.UpdateDefinition(storeID, missionID, uid, req)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, missionJSON(m))
}

func (h Missions) Deactivate(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	storeID, err1 := strconv.ParseUint(c.Param("id"), 10, 64)
	missionID, err2 := strconv.ParseUint(c.Param("mid"), 10, 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad id"})
		return
	}
	if err := h.svc.Deactivate(storeID, missionID, uid); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Missions) SetAnswerImage(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	storeID, err1 := strconv.ParseUint(c.Param("id"), 10, 64)
	missionID, err2 := strconv.ParseUint(c.Param("mid"), 10, 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad id"})
		return
	}
	var req struct {
		ImageURL string `json:"imageUrl" binding:"required,url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	m, err := h.svc.SetAnswerImage(storeID, missionID, uid, req.ImageURL)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, missionJSON(m))
}
