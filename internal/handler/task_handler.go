package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/identitylog/internal/db"
	"github.com/identitylog/internal/service"
)

type taskPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	IdentityID  *uint  `json:"identity_id"`
	DueDate     string `json:"due_date"`
	SortOrder   int    `json:"sort_order"`
}

func taskService() *service.TaskService {
	return service.NewTaskService(db.DB, service.NewMilestoneService(db.DB))
}

// GetTasks 返回用户的全部任务
func GetTasks(c *gin.Context) {
	userID, _ := currentUserID(c)

	tasks, err := taskService().List(userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load tasks")
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// CreateTask 新建任务
func CreateTask(c *gin.Context) {
	userID, _ := currentUserID(c)

	var payload taskPayload
	if !bindJSON(c, &payload, "invalid task payload") {
		return
	}

	input := service.TaskInput{
		Title:       payload.Title,
		Description: payload.Description,
		IdentityID:  payload.IdentityID,
		SortOrder:   payload.SortOrder,
	}
	if payload.DueDate != "" {
		due, err := time.Parse(dateFormat, payload.DueDate)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid due_date")
			return
		}
		input.DueDate = &due
	}

	task, err := taskService().Create(userID, input)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusCreated, task)
}

// CompleteTask 完成任务，可能触发里程碑
func CompleteTask(c *gin.Context) {
	userID, _ := currentUserID(c)

	id, err := parseUintParam(c, "id")
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

	awarded, err := taskService().Complete(userID, id, date)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			respondError(c, http.StatusNotFound, "task not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to complete task")
		return
	}
	c.JSON(http.StatusOK, gin.H{"new_milestones": awarded})
}

// ReopenTask 把任务退回待办
func ReopenTask(c *gin.Context) {
	userID, _ := currentUserID(c)

	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := taskService().Reopen(userID, id); err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			respondError(c, http.StatusNotFound, "task not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to reopen task")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// DeleteTask 删除任务
func DeleteTask(c *gin.Context) {
	userID, _ := currentUserID(c)

	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := taskService().Delete(userID, id); err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			respondError(c, http.StatusNotFound, "task not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to delete task")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}
