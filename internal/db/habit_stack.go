package db

import (
	"time"

	"gorm.io/gorm"
)

// HabitStack 定义了习惯堆叠模型
// TriggerCue 描述整组习惯的触发时机（例如「起床之后」）
// IdentityID 可空，堆叠可以先建立再挂接身份
type HabitStack struct {
	gorm.Model
	UserID     uint  `gorm:"index"`
	IdentityID *uint `gorm:"index"`
	Name       string
	TriggerCue string
	SortOrder  int
	IsActive   bool `gorm:"default:true"`
	Items      []HabitStackItem
}

// HabitStackItem 是堆叠内的单个小习惯
// CurrentStreak/LongestStreak 随打卡更新，LastCompletedDate 记录最近完成日
type HabitStackItem struct {
	gorm.Model
	HabitStackID      uint `gorm:"index"`
	CueDescription    string
	HabitDescription  string
	SortOrder         int
	CurrentStreak     int
	LongestStreak     int
	LastCompletedDate *time.Time
	Completions       []HabitStackItemCompletion
}

// HabitStackItemCompletion 记录小习惯在某个日历日的完成事实
// Item + CompletedDate 采用唯一索引，保证打卡幂等；评分按整日计算，不存时刻
type HabitStackItemCompletion struct {
	gorm.Model
	HabitStackItemID uint      `gorm:"index;index:idx_item_completion_unique,unique"`
	CompletedDate    time.Time `gorm:"index:idx_item_completion_unique,unique"`
}

// TableName 重写确保唯一索引作用到 habit_stack_item_id + completed_date
func (HabitStackItemCompletion) TableName() string {
	return "habit_stack_item_completions"
}
