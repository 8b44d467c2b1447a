package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/identitylog/internal/db"
	"github.com/identitylog/internal/service"
)

type stackPayload struct {
	Name       string `json:"name"`
	TriggerCue string `json:"trigger_cue"`
	IdentityID *uint  `json:"identity_id"`
	SortOrder  int    `json:"sort_order"`
	IsActive   *bool  `json:"is_active"`
}

func (p stackPayload) toInput() service.StackInput {
	isActive := true
	if p.IsActive != nil {
		isActive = *p.IsActive
	}
	return service.StackInput{
		Name:       p.Name,
		TriggerCue: p.TriggerCue,
		IdentityID: p.IdentityID,
		SortOrder:  p.SortOrder,
		IsActive:   isActive,
	}
}

func habitStackService() *service.HabitStackService {
	return service.NewHabitStackService(db.DB, service.NewMilestoneService(db.DB))
}

// GetHabitStacks 返回用户的全部习惯堆叠
func GetHabitStacks(c *gin.Context) {
	userID, _ := currentUserID(c)

	stacks, err := habitStackService().List(userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load habit stacks")
		return
	}
	c.JSON(http.StatusOK, stacks)
}

// CreateHabitStack 新建习惯堆叠
func CreateHabitStack(c *gin.Context) {
	userID, _ := currentUserID(c)

	var payload stackPayload
	if !bindJSON(c, &payload, "invalid habit stack payload") {
		return
	}

	stack, err := habitStackService().Create(userID, payload.toInput())
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusCreated, stack)
}

// UpdateHabitStack 更新习惯堆叠
func UpdateHabitStack(c *gin.Context) {
	userID, _ := currentUserID(c)

	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var payload stackPayload
	if !bindJSON(c, &payload, "invalid habit stack payload") {
		return
	}

	stack, err := habitStackService().Update(userID, id, payload.toInput())
	if err != nil {
		if errors.Is(err, service.ErrHabitStackNotFound) {
			respondError(c, http.StatusNotFound, "habit stack not found")
			return
		}
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, stack)
}

// DeleteHabitStack 删除习惯堆叠
func DeleteHabitStack(c *gin.Context) {
	userID, _ := currentUserID(c)

	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := habitStackService().Delete(userID, id); err != nil {
		if errors.Is(err, service.ErrHabitStackNotFound) {
			respondError(c, http.StatusNotFound, "habit stack not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to delete habit stack")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

type itemPayload struct {
	CueDescription   string `json:"cue_description"`
	HabitDescription string `json:"habit_description"`
	SortOrder        int    `json:"sort_order"`
}

// AddHabitStackItem 向堆叠追加小习惯
func AddHabitStackItem(c *gin.Context) {
	userID, _ := currentUserID(c)

	stackID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var payload itemPayload
	if !bindJSON(c, &payload, "invalid item payload") {
		return
	}

	item, err := habitStackService().AddItem(userID, stackID, service.ItemInput{
		CueDescription:   payload.CueDescription,
		HabitDescription: payload.HabitDescription,
		SortOrder:        payload.SortOrder,
	})
	if err != nil {
		if errors.Is(err, service.ErrHabitStackNotFound) {
			respondError(c, http.StatusNotFound, "habit stack not found")
			return
		}
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusCreated, item)
}

// RemoveHabitStackItem 删除堆叠条目
func RemoveHabitStackItem(c *gin.Context) {
	userID, _ := currentUserID(c)

	itemID, err := parseUintParam(c, "itemId")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := habitStackService().RemoveItem(userID, itemID); err != nil {
		if errors.Is(err, service.ErrHabitItemNotFound) {
			respondError(c, http.StatusNotFound, "item not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to remove item")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

type completionPayload struct {
	Date string `json:"date"`
}

func (p completionPayload) parse() (time.Time, error) {
	if p.Date == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse(dateFormat, p.Date)
}

// CompleteHabitStackItem 打卡，可能触发里程碑
func CompleteHabitStackItem(c *gin.Context) {
	userID, _ := currentUserID(c)

	itemID, err := parseUintParam(c, "itemId")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var payload completionPayload
	if !bindJSON(c, &payload, "invalid completion payload") {
		return
	}
	date, err := payload.parse()
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid date")
		return
	}

	awarded, err := habitStackService().CompleteItem(userID, itemID, date)
	if err != nil {
		if errors.Is(err, service.ErrHabitItemNotFound) {
			respondError(c, http.StatusNotFound, "item not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to complete item")
		return
	}

	c.JSON(http.StatusOK, gin.H{"new_milestones": awarded})
}

// UncompleteHabitStackItem 撤销打卡
func UncompleteHabitStackItem(c *gin.Context) {
	userID, _ := currentUserID(c)

	itemID, err := parseUintParam(c, "itemId")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var payload completionPayload
	if !bindJSON(c, &payload, "invalid completion payload") {
		return
	}
	date, err := payload.parse()
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid date")
		return
	}

	if err := habitStackService().UncompleteItem(userID, itemID, date); err != nil {
		if errors.Is(err, service.ErrHabitItemNotFound) {
			respondError(c, http.StatusNotFound, "item not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to uncomplete item")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}
