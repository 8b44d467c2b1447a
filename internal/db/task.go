package db

import (
	"time"

	"gorm.io/gorm"
)

// 任务状态，仅区分待办与已完成
const (
	TaskStatusPending   = "pending"
	TaskStatusCompleted = "completed"
)

// Task 定义了任务模型
// CompletedDate 记录完成的日历日（整日粒度），评分以此为准
type Task struct {
	gorm.Model
	UserID        uint  `gorm:"index"`
	IdentityID    *uint `gorm:"index"`
	Title         string
	Description   string
	Status        string `gorm:"default:pending"`
	DueDate       *time.Time
	CompletedDate *time.Time
	SortOrder     int
}
