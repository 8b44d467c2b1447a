package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const dateFormat = "2006-01-02"

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, message)
		return false
	}
	return true
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	raw := c.Param(key)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return uint(id), nil
}

// currentUserID 从会话中取出登录用户，未登录返回 false
func currentUserID(c *gin.Context) (uint, bool) {
	session := sessions.Default(c)
	raw := session.Get("user_id")
	if raw == nil {
		return 0, false
	}
	userID, ok := raw.(uint)
	if !ok {
		return 0, false
	}
	return userID, true
}

// parseDateQuery 解析 date 查询参数，缺省为当天
func parseDateQuery(c *gin.Context, key string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return time.Now().UTC(), nil
	}
	parsed, err := time.Parse(dateFormat, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s", key)
	}
	return parsed, nil
}
