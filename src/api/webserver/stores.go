package webserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/perkpoint/missions/src/api/types"
)

type Stores struct {
	db *gorm.DB
}

func NewStores(db *gorm.DB) Stores {
	return Stores{db: db}
}

func (s Stores) Create(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	var req struct {
		Name    string  `json:"name" binding:"required"`
		Address string  `json:"address"`
		Lat     float64 `json:"lat"`
		Lng     float64 `json:"lng"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	store := types.Store{
		OwnerID: uid,
		Name:    req.Name,
		Address: req.Address,
		Lat:     req.Lat,
		Lng:     req.Lng,
	}
	if err := s.db.Create(&store).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, store)
}

func (s Stores) List(c *gin.Context) {
	var stores []types.Store
	if err := s.db.Order("id asc").Find(&stores).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stores": stores})
}
