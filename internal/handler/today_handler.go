package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/identitylog/internal/db"
	"github.com/identitylog/internal/service"
)

// GetTodayView 返回用户全部身份的实时分数，按分数降序。
// 分数从不落库，每次请求重新计算。
func GetTodayView(c *gin.Context) {
	userID, _ := currentUserID(c)

	target, err := parseDateQuery(c, "date")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	scores, err := service.NewIdentityScoreService(db.DB).CalculateScores(userID, target)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to calculate scores")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"date":       service.DateOnly(target).Format(dateFormat),
		"identities": scores,
	})
}

// GetBuddyTodayView 是同伴视图：凭 buddy token 免登录查看对方的身份分数
func GetBuddyTodayView(c *gin.Context) {
	token := c.Param("token")

	var user db.User
	if err := db.DB.Where("buddy_token = ?", token).First(&user).Error; err != nil {
		respondError(c, http.StatusNotFound, "buddy not found")
		return
	}

	target, err := parseDateQuery(c, "date")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	scores, err := service.NewIdentityScoreService(db.DB).CalculateScores(user.ID, target)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to calculate scores")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"buddy":      user.Username,
		"date":       service.DateOnly(target).Format(dateFormat),
		"identities": scores,
	})
}
