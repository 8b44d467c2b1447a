package db

import (
	"time"

	"gorm.io/gorm"
)

// MilestoneDefinition 以数据形式描述里程碑规则，而非写死在代码里
// RuleType 取值 count / window_count / return_after_gap，RuleData 为对应 JSON 参数
// TitleKey/DescriptionKey 为 i18n 键，由前端解析
type MilestoneDefinition struct {
	gorm.Model
	Code           string `gorm:"size:64;unique;not null"`
	TitleKey       string
	DescriptionKey string
	Icon           string
	TriggerEvent   string `gorm:"size:64;index"`
	RuleType       string `gorm:"size:32"`
	RuleData       string
	AnimationType  string `gorm:"default:confetti"`
	SortOrder      int
	IsActive       bool `gorm:"default:true"`
}

// UserMilestone 记录已颁发的里程碑，颁发后不再撤销
// User + Definition 采用唯一索引，保证并发评估下同一定义只颁发一次
type UserMilestone struct {
	ID                    uint                `gorm:"primaryKey"`
	UserID                uint                `gorm:"index;index:idx_user_milestone_unique,unique"`
	MilestoneDefinitionID uint                `gorm:"index:idx_user_milestone_unique,unique"`
	MilestoneDefinition   MilestoneDefinition `gorm:"constraint:OnDelete:CASCADE"`
	AwardedAt             time.Time
	HasBeenSeen           bool `gorm:"default:false"`
	CreatedAt             time.Time
}

// TableName 指定自定义表名。
func (UserMilestone) TableName() string {
	return "user_milestones"
}

// SeedMilestoneDefinitions 写入内置里程碑目录，按 Code 去重，幂等可重复执行
func SeedMilestoneDefinitions(gdb *gorm.DB) error {
	var existing []string
	if err := gdb.Model(&MilestoneDefinition{}).Pluck("code", &existing).Error; err != nil {
		return err
	}

	known := make(map[string]struct{}, len(existing))
	for _, code := range existing {
		known[code] = struct{}{}
	}

	for _, def := range builtinMilestones() {
		if _, ok := known[def.Code]; ok {
			continue
		}
		if err := gdb.Create(&def).Error; err != nil {
			return err
		}
	}

	return nil
}

func builtinMilestones() []MilestoneDefinition {
	type entry struct {
		code    string
		icon    string
		trigger string
		rule    string
		data    string
		sort    int
	}

	entries := []entry{
		// 登录类
		{"first_login", "🎉", "UserLoggedIn", "count", `{"field":"login_count","threshold":1}`, 1},
		{"logins_7", "📅", "UserLoggedIn", "count", `{"field":"login_count","threshold":7}`, 2},
		{"logins_30", "🌟", "UserLoggedIn", "count", `{"field":"login_count","threshold":30}`, 3},
		{"return_after_2_weeks", "🔄", "UserLoggedIn", "return_after_gap", `{"gap_days":14}`, 4},
		// 习惯类
		{"first_habit", "✅", "HabitCompleted", "count", `{"field":"total_habits_completed","threshold":1}`, 5},
		{"habits_10", "🔥", "HabitCompleted", "count", `{"field":"total_habits_completed","threshold":10}`, 6},
		{"habits_50", "💪", "HabitCompleted", "count", `{"field":"total_habits_completed","threshold":50}`, 7},
		{"habits_100", "🏆", "HabitCompleted", "count", `{"field":"total_habits_completed","threshold":100}`, 8},
		{"habits_5_in_week", "⚡", "HabitCompleted", "window_count", `{"count":5,"days":7}`, 9},
		// 任务类
		{"first_task", "📝", "TaskCompleted", "count", `{"field":"total_tasks_completed","threshold":1}`, 10},
		{"tasks_10", "📋", "TaskCompleted", "count", `{"field":"total_tasks_completed","threshold":10}`, 11},
		{"tasks_50", "🎯", "TaskCompleted", "count", `{"field":"total_tasks_completed","threshold":50}`, 12},
		// 日志类
		{"first_journal", "📖", "JournalEntryCreated", "count", `{"field":"total_journal_entries","threshold":1}`, 13},
		{"journals_10", "✍️", "JournalEntryCreated", "count", `{"field":"total_journal_entries","threshold":10}`, 14},
		// 身份证明类
		{"first_identity_proof", "🪪", "IdentityProofAdded", "count", `{"field":"total_identity_proofs","threshold":1}`, 15},
		{"identity_proofs_10", "🌱", "IdentityProofAdded", "count", `{"field":"total_identity_proofs","threshold":10}`, 16},
		{"identity_proofs_50", "🌳", "IdentityProofAdded", "count", `{"field":"total_identity_proofs","threshold":50}`, 17},
		// 累计胜利类
		{"wins_25", "🎖️", "HabitCompleted", "count", `{"field":"total_wins","threshold":25}`, 18},
		{"wins_100", "🥇", "HabitCompleted", "count", `{"field":"total_wins","threshold":100}`, 19},
		{"wins_500", "👑", "HabitCompleted", "count", `{"field":"total_wins","threshold":500}`, 20},
	}

	defs := make([]MilestoneDefinition, 0, len(entries))
	for _, e := range entries {
		defs = append(defs, MilestoneDefinition{
			Code:           e.code,
			TitleKey:       "milestones." + e.code + ".title",
			DescriptionKey: "milestones." + e.code + ".description",
			Icon:           e.icon,
			TriggerEvent:   e.trigger,
			RuleType:       e.rule,
			RuleData:       e.data,
			AnimationType:  "confetti",
			SortOrder:      e.sort,
			IsActive:       true,
		})
	}
	return defs
}
