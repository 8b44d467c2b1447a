package db

import "time"

// DomainEvent 是追加写入的领域事件账本
// 每个可能触发里程碑的用户动作都会先落在这里，正常运行中永不更新或删除
type DomainEvent struct {
	ID         uint   `gorm:"primaryKey"`
	UserID     uint   `gorm:"index"`
	EventType  string `gorm:"size:64;index"`
	Metadata   string
	OccurredAt time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// TableName 指定自定义表名。
func (DomainEvent) TableName() string {
	return "domain_events"
}

// UserStats 汇总用户维度的累计计数，每用户一行
// 计数始终与 domain_events 中对应事件的数量一致，更新与事件写入同一事务
type UserStats struct {
	ID                   uint `gorm:"primaryKey"`
	UserID               uint `gorm:"uniqueIndex"`
	LoginCount           int  `gorm:"default:0"`
	TotalWins            int  `gorm:"default:0"`
	TotalHabitsCompleted int  `gorm:"default:0"`
	TotalTasksCompleted  int  `gorm:"default:0"`
	TotalIdentityProofs  int  `gorm:"default:0"`
	TotalJournalEntries  int  `gorm:"default:0"`
	LastLoginAt          *time.Time
	PreviousLoginAt      *time.Time
	LastActivityAt       *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TableName 指定自定义表名，避免自动复数化导致的歧义。
func (UserStats) TableName() string {
	return "user_stats"
}
