package service

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/identitylog/internal/db"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"gorm.io/gorm"
)

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	sanitizer = bluemonday.UGCPolicy()
)

// ErrJournalEntryNotFound 在指定日志条目不存在时返回
var ErrJournalEntryNotFound = errors.New("journal entry not found")

// JournalService 负责日志条目的管理
// Markdown 原文在创建/更新时渲染并消毒成 HTML 存储，读取路径不再处理
type JournalService struct {
	db         *gorm.DB
	milestones *MilestoneService
}

// NewJournalService 构造 JournalService
func NewJournalService(gdb *gorm.DB, milestones *MilestoneService) *JournalService {
	return &JournalService{db: gdb, milestones: milestones}
}

// JournalInput 定义创建/更新日志时可配置字段
type JournalInput struct {
	Title     string
	Content   string
	EntryDate time.Time
}

// List 返回用户的全部日志条目，按条目日期倒序
func (s *JournalService) List(userID uint) ([]db.JournalEntry, error) {
	var entries []db.JournalEntry
	if err := s.db.Where("user_id = ?", userID).
		Order("entry_date DESC, created_at DESC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	return entries, nil
}

// Create 新建日志条目。返回本次触发的新里程碑（可能为空）。
func (s *JournalService) Create(userID uint, input JournalInput) (*db.JournalEntry, []AwardedMilestone, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, nil, errors.New("journal title is required")
	}

	rendered, err := renderMarkdown(input.Content)
	if err != nil {
		return nil, nil, err
	}

	entry := db.JournalEntry{
		UserID:      userID,
		Title:       title,
		Content:     input.Content,
		ContentHTML: rendered,
		EntryDate:   DateOnly(input.EntryDate),
	}
	if err := s.db.Create(&entry).Error; err != nil {
		return nil, nil, fmt.Errorf("create journal entry: %w", err)
	}

	awarded, err := s.milestones.RecordEvent(userID, EventJournalEntryCreated, map[string]any{
		"journal_entry_id": entry.ID,
		"entry_date":       entry.EntryDate.Format("2006-01-02"),
	})
	if err != nil {
		logEventFailure(EventJournalEntryCreated, userID, err)
		return &entry, []AwardedMilestone{}, nil
	}
	return &entry, awarded, nil
}

// Update 更新日志条目，重新渲染 HTML；更新不产生新事件
func (s *JournalService) Update(userID, id uint, input JournalInput) (*db.JournalEntry, error) {
	var entry db.JournalEntry
	if err := s.db.Where("user_id = ?", userID).First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJournalEntryNotFound
		}
		return nil, fmt.Errorf("get journal entry: %w", err)
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errors.New("journal title is required")
	}

	rendered, err := renderMarkdown(input.Content)
	if err != nil {
		return nil, err
	}

	entry.Title = title
	entry.Content = input.Content
	entry.ContentHTML = rendered
	entry.EntryDate = DateOnly(input.EntryDate)

	if err := s.db.Save(&entry).Error; err != nil {
		return nil, fmt.Errorf("update journal entry: %w", err)
	}
	return &entry, nil
}

// Delete 删除日志条目
func (s *JournalService) Delete(userID, id uint) error {
	var entry db.JournalEntry
	if err := s.db.Where("user_id = ?", userID).First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJournalEntryNotFound
		}
		return fmt.Errorf("get journal entry: %w", err)
	}
	if err := s.db.Delete(&entry).Error; err != nil {
		return fmt.Errorf("delete journal entry: %w", err)
	}
	return nil
}

// renderMarkdown 把 Markdown 渲染为 HTML 并经 UGC 策略消毒
func renderMarkdown(source string) (string, error) {
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return sanitizer.Sanitize(buf.String()), nil
}
