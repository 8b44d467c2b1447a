package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/identitylog/internal/db"
	"gorm.io/gorm"
)

// ErrTaskNotFound 在指定任务不存在时返回
var ErrTaskNotFound = errors.New("task not found")

// TaskService 负责任务管理，完成任务时尽力记录 TaskCompleted 事件
type TaskService struct {
	db         *gorm.DB
	milestones *MilestoneService
}

// NewTaskService 构造 TaskService
func NewTaskService(gdb *gorm.DB, milestones *MilestoneService) *TaskService {
	return &TaskService{db: gdb, milestones: milestones}
}

// TaskInput 定义创建/更新任务时可配置字段
type TaskInput struct {
	Title       string
	Description string
	IdentityID  *uint
	DueDate     *time.Time
	SortOrder   int
}

// List 返回用户的全部任务
func (s *TaskService) List(userID uint) ([]db.Task, error) {
	var tasks []db.Task
	if err := s.db.Where("user_id = ?", userID).
		Order("sort_order ASC, created_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Get 根据 ID 获取任务，校验归属
func (s *TaskService) Get(userID, id uint) (*db.Task, error) {
	var task db.Task
	if err := s.db.Where("user_id = ?", userID).First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &task, nil
}

// Create 新建任务
func (s *TaskService) Create(userID uint, input TaskInput) (*db.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errors.New("task title is required")
	}

	task := db.Task{
		UserID:      userID,
		IdentityID:  input.IdentityID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Status:      db.TaskStatusPending,
		DueDate:     input.DueDate,
		SortOrder:   input.SortOrder,
	}
	if err := s.db.Create(&task).Error; err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &task, nil
}

// Complete 把任务标记为在某个日历日完成。已完成的任务重复标记幂等。
// 返回本次完成触发的新里程碑（可能为空）。
func (s *TaskService) Complete(userID, id uint, date time.Time) ([]AwardedMilestone, error) {
	task, err := s.Get(userID, id)
	if err != nil {
		return nil, err
	}

	if task.Status == db.TaskStatusCompleted {
		return []AwardedMilestone{}, nil
	}

	day := DateOnly(date)
	task.Status = db.TaskStatusCompleted
	task.CompletedDate = &day
	if err := s.db.Save(task).Error; err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}

	awarded, err := s.milestones.RecordEvent(userID, EventTaskCompleted, map[string]any{
		"task_id":        task.ID,
		"completed_date": day.Format("2006-01-02"),
	})
	if err != nil {
		logEventFailure(EventTaskCompleted, userID, err)
		return []AwardedMilestone{}, nil
	}
	return awarded, nil
}

// Reopen 把任务退回待办状态，完成日期随之清除（对应票数被撤销）
func (s *TaskService) Reopen(userID, id uint) error {
	task, err := s.Get(userID, id)
	if err != nil {
		return err
	}

	task.Status = db.TaskStatusPending
	task.CompletedDate = nil
	if err := s.db.Save(task).Error; err != nil {
		return fmt.Errorf("reopen task: %w", err)
	}
	return nil
}

// Delete 删除任务
func (s *TaskService) Delete(userID, id uint) error {
	task, err := s.Get(userID, id)
	if err != nil {
		return err
	}
	if err := s.db.Delete(task).Error; err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}
