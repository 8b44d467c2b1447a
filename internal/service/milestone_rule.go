package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/identitylog/internal/db"
)

// EventType 标识领域事件的种类
type EventType string

// 已知的事件词汇表。未列出的类型仍会进账本并刷新活跃时间，但不改动任何计数器。
const (
	EventUserLoggedIn        EventType = "UserLoggedIn"
	EventHabitCompleted      EventType = "HabitCompleted"
	EventTaskCompleted       EventType = "TaskCompleted"
	EventIdentityProofAdded  EventType = "IdentityProofAdded"
	EventJournalEntryCreated EventType = "JournalEntryCreated"
)

// 规则类型取值，与 MilestoneDefinition.RuleType 对应
const (
	RuleTypeCount          = "count"
	RuleTypeWindowCount    = "window_count"
	RuleTypeReturnAfterGap = "return_after_gap"
)

// ErrInvalidMilestoneRule 在规则定义无法解析或参数非法时返回
var ErrInvalidMilestoneRule = errors.New("invalid milestone rule")

// statsMutators 把事件种类映射到对应的计数器更新。
// UserLoggedIn 会先把 LastLoginAt 轮换进 PreviousLoginAt 再覆盖。
var statsMutators = map[EventType]func(stats *db.UserStats, now time.Time){
	EventUserLoggedIn: func(stats *db.UserStats, now time.Time) {
		stats.PreviousLoginAt = stats.LastLoginAt
		at := now
		stats.LastLoginAt = &at
		stats.LoginCount++
	},
	EventHabitCompleted: func(stats *db.UserStats, _ time.Time) {
		stats.TotalHabitsCompleted++
		stats.TotalWins++
	},
	EventTaskCompleted: func(stats *db.UserStats, _ time.Time) {
		stats.TotalTasksCompleted++
		stats.TotalWins++
	},
	EventIdentityProofAdded: func(stats *db.UserStats, _ time.Time) {
		stats.TotalIdentityProofs++
		stats.TotalWins++
	},
	EventJournalEntryCreated: func(stats *db.UserStats, _ time.Time) {
		stats.TotalJournalEntries++
		stats.TotalWins++
	},
}

// statsFields 把 count 规则里的字段名映射到统计行取值。
// 未知字段按 0 处理，规则永不满足而不是报错。
var statsFields = map[string]func(stats *db.UserStats) int{
	"login_count":            func(s *db.UserStats) int { return s.LoginCount },
	"total_wins":             func(s *db.UserStats) int { return s.TotalWins },
	"total_habits_completed": func(s *db.UserStats) int { return s.TotalHabitsCompleted },
	"total_tasks_completed":  func(s *db.UserStats) int { return s.TotalTasksCompleted },
	"total_identity_proofs":  func(s *db.UserStats) int { return s.TotalIdentityProofs },
	"total_journal_entries":  func(s *db.UserStats) int { return s.TotalJournalEntries },
}

func statsFieldValue(stats *db.UserStats, field string) int {
	if accessor, ok := statsFields[field]; ok {
		return accessor(stats)
	}
	return 0
}

// milestoneRule 是定义加载时解码出的强类型规则变体
type milestoneRule interface {
	// ruleKind 返回规则类型字符串，用于日志
	ruleKind() string
}

// countRule 对统计行的某个累计字段做阈值比较
type countRule struct {
	Field     string
	Threshold int
}

func (countRule) ruleKind() string { return RuleTypeCount }

// windowCountRule 统计滚动时间窗内某类事件的数量，唯一需要回查原始账本的规则
type windowCountRule struct {
	EventType string
	Days      int
	Count     int
}

func (windowCountRule) ruleKind() string { return RuleTypeWindowCount }

// returnAfterGapRule 检查最近两次登录的间隔，至少要有两次登录记录
type returnAfterGapRule struct {
	GapDays int
}

func (returnAfterGapRule) ruleKind() string { return RuleTypeReturnAfterGap }

// parseRule 把存储的 JSON 参数解码为对应的规则变体，解析一次随后纯内存评估。
// 任何解析失败都返回 ErrInvalidMilestoneRule，调用方按条跳过，不影响兄弟规则。
func parseRule(def *db.MilestoneDefinition) (milestoneRule, error) {
	switch def.RuleType {
	case RuleTypeCount:
		var data struct {
			Field     string `json:"field"`
			Threshold int    `json:"threshold"`
		}
		if err := json.Unmarshal([]byte(def.RuleData), &data); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMilestoneRule, def.Code, err)
		}
		if data.Field == "" || data.Threshold <= 0 {
			return nil, fmt.Errorf("%w: %s: count rule needs field and positive threshold", ErrInvalidMilestoneRule, def.Code)
		}
		return countRule{Field: data.Field, Threshold: data.Threshold}, nil

	case RuleTypeWindowCount:
		var data struct {
			EventType string `json:"event_type"`
			Days      int    `json:"days"`
			Count     int    `json:"count"`
		}
		if err := json.Unmarshal([]byte(def.RuleData), &data); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMilestoneRule, def.Code, err)
		}
		if data.Days <= 0 || data.Count <= 0 {
			return nil, fmt.Errorf("%w: %s: window_count rule needs positive days and count", ErrInvalidMilestoneRule, def.Code)
		}
		eventType := data.EventType
		if eventType == "" {
			eventType = def.TriggerEvent
		}
		return windowCountRule{EventType: eventType, Days: data.Days, Count: data.Count}, nil

	case RuleTypeReturnAfterGap:
		var data struct {
			GapDays int `json:"gap_days"`
		}
		if err := json.Unmarshal([]byte(def.RuleData), &data); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMilestoneRule, def.Code, err)
		}
		if data.GapDays <= 0 {
			return nil, fmt.Errorf("%w: %s: return_after_gap rule needs positive gap_days", ErrInvalidMilestoneRule, def.Code)
		}
		return returnAfterGapRule{GapDays: data.GapDays}, nil

	default:
		return nil, fmt.Errorf("%w: %s: unknown rule type %q", ErrInvalidMilestoneRule, def.Code, def.RuleType)
	}
}
