package db

import (
	"time"

	"gorm.io/gorm"
)

// JournalEntry 定义了日志条目模型
// Content 为用户输入的 Markdown 原文，ContentHTML 为渲染并消毒后的 HTML
type JournalEntry struct {
	gorm.Model
	UserID      uint `gorm:"index"`
	Title       string
	Content     string
	ContentHTML string
	EntryDate   time.Time
}
