package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/identitylog/internal/db"
	"github.com/identitylog/internal/service"
)

// GetUserMilestones 返回用户已获得的全部里程碑
func GetUserMilestones(c *gin.Context) {
	userID, _ := currentUserID(c)

	milestones, err := service.NewMilestoneService(db.DB).GetUserMilestones(userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load milestones")
		return
	}
	c.JSON(http.StatusOK, milestones)
}

// GetUnseenMilestones 返回尚未展示过的里程碑
func GetUnseenMilestones(c *gin.Context) {
	userID, _ := currentUserID(c)

	milestones, err := service.NewMilestoneService(db.DB).GetUnseenMilestones(userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load milestones")
		return
	}
	c.JSON(http.StatusOK, milestones)
}

type markSeenPayload struct {
	MilestoneIDs []uint `json:"milestone_ids"`
}

// MarkMilestonesSeen 把指定里程碑标记为已展示
func MarkMilestonesSeen(c *gin.Context) {
	userID, _ := currentUserID(c)

	var payload markSeenPayload
	if !bindJSON(c, &payload, "invalid payload") {
		return
	}

	if err := service.NewMilestoneService(db.DB).MarkMilestonesSeen(userID, payload.MilestoneIDs); err != nil {
		respondError(c, http.StatusInternalServerError, "failed to mark milestones seen")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// GetUserStats 返回用户统计汇总
func GetUserStats(c *gin.Context) {
	userID, _ := currentUserID(c)

	stats, err := service.NewMilestoneService(db.DB).GetUserStats(userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load stats")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"login_count":            stats.LoginCount,
		"total_wins":             stats.TotalWins,
		"total_habits_completed": stats.TotalHabitsCompleted,
		"total_tasks_completed":  stats.TotalTasksCompleted,
		"total_identity_proofs":  stats.TotalIdentityProofs,
		"total_journal_entries":  stats.TotalJournalEntries,
		"last_login_at":          stats.LastLoginAt,
		"previous_login_at":      stats.PreviousLoginAt,
		"last_activity_at":       stats.LastActivityAt,
	})
}

type definitionPayload struct {
	Code           string `json:"code"`
	TitleKey       string `json:"title_key"`
	DescriptionKey string `json:"description_key"`
	Icon           string `json:"icon"`
	TriggerEvent   string `json:"trigger_event"`
	RuleType       string `json:"rule_type"`
	RuleData       string `json:"rule_data"`
	AnimationType  string `json:"animation_type"`
	SortOrder      int    `json:"sort_order"`
	IsActive       bool   `json:"is_active"`
}

func (p definitionPayload) toInput() service.MilestoneDefinitionInput {
	return service.MilestoneDefinitionInput{
		Code:           p.Code,
		TitleKey:       p.TitleKey,
		DescriptionKey: p.DescriptionKey,
		Icon:           p.Icon,
		TriggerEvent:   p.TriggerEvent,
		RuleType:       p.RuleType,
		RuleData:       p.RuleData,
		AnimationType:  p.AnimationType,
		SortOrder:      p.SortOrder,
		IsActive:       p.IsActive,
	}
}

// ListMilestoneDefinitions 返回全部里程碑定义（管理用）
func ListMilestoneDefinitions(c *gin.Context) {
	definitions, err := service.NewMilestoneService(db.DB).ListDefinitions()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load definitions")
		return
	}
	c.JSON(http.StatusOK, definitions)
}

// CreateMilestoneDefinition 新建里程碑定义
func CreateMilestoneDefinition(c *gin.Context) {
	var payload definitionPayload
	if !bindJSON(c, &payload, "invalid definition payload") {
		return
	}

	definition, err := service.NewMilestoneService(db.DB).CreateDefinition(payload.toInput())
	if err != nil {
		if errors.Is(err, service.ErrInvalidMilestoneRule) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to create definition")
		return
	}
	c.JSON(http.StatusCreated, definition)
}

// UpdateMilestoneDefinition 更新里程碑定义
func UpdateMilestoneDefinition(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var payload definitionPayload
	if !bindJSON(c, &payload, "invalid definition payload") {
		return
	}

	definition, err := service.NewMilestoneService(db.DB).UpdateDefinition(id, payload.toInput())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMilestoneNotFound):
			respondError(c, http.StatusNotFound, "definition not found")
		case errors.Is(err, service.ErrInvalidMilestoneRule):
			respondError(c, http.StatusBadRequest, err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "failed to update definition")
		}
		return
	}
	c.JSON(http.StatusOK, definition)
}

type togglePayload struct {
	IsActive bool `json:"is_active"`
}

// ToggleMilestoneDefinition 启用或停用里程碑定义
func ToggleMilestoneDefinition(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var payload togglePayload
	if !bindJSON(c, &payload, "invalid toggle payload") {
		return
	}

	if err := service.NewMilestoneService(db.DB).ToggleDefinition(id, payload.IsActive); err != nil {
		if errors.Is(err, service.ErrMilestoneNotFound) {
			respondError(c, http.StatusNotFound, "definition not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to toggle definition")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// DeleteMilestoneDefinition 删除里程碑定义，级联删除已颁发记录
func DeleteMilestoneDefinition(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := service.NewMilestoneService(db.DB).DeleteDefinition(id); err != nil {
		if errors.Is(err, service.ErrMilestoneNotFound) {
			respondError(c, http.StatusNotFound, "definition not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to delete definition")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}
