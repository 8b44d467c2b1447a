package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/identitylog/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrMilestoneNotFound 在指定里程碑定义不存在时返回
	ErrMilestoneNotFound = errors.New("milestone definition not found")
)

// MilestoneService 负责领域事件账本、用户统计汇总与里程碑评估
// RecordEvent 是唯一的写入入口：事件与统计同事务提交，评估在提交后尽力执行
type MilestoneService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewMilestoneService 构造 MilestoneService，默认使用系统时钟
func NewMilestoneService(gdb *gorm.DB) *MilestoneService {
	return &MilestoneService{db: gdb, now: time.Now}
}

// WithClock 允许在测试中替换时钟
func (s *MilestoneService) WithClock(now func() time.Time) *MilestoneService {
	if now != nil {
		s.now = now
	}
	return s
}

// AwardedMilestone 是对外返回的里程碑视图，含展示所需的定义字段
type AwardedMilestone struct {
	ID                    uint      `json:"id"`
	MilestoneDefinitionID uint      `json:"milestone_definition_id"`
	Code                  string    `json:"code"`
	TitleKey              string    `json:"title_key"`
	DescriptionKey        string    `json:"description_key"`
	Icon                  string    `json:"icon"`
	AnimationType         string    `json:"animation_type"`
	AwardedAt             time.Time `json:"awarded_at"`
	HasBeenSeen           bool      `json:"has_been_seen"`
}

// RecordEvent 记录一条领域事件并同步更新用户统计，随后评估里程碑。
// 事件与统计是一个事务；评估失败只记日志，绝不让触发它的业务动作失败。
func (s *MilestoneService) RecordEvent(userID uint, eventType EventType, metadata any) ([]AwardedMilestone, error) {
	now := s.now()

	metaJSON := ""
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal event metadata: %w", err)
		}
		metaJSON = string(raw)
	}

	var stats db.UserStats
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		event := db.DomainEvent{
			UserID:     userID,
			EventType:  string(eventType),
			Metadata:   metaJSON,
			OccurredAt: now,
		}
		if err := tx.Create(&event).Error; err != nil {
			return err
		}

		// 先确保统计行存在，两个首次事件竞争时输家静默让路
		seed := db.UserStats{UserID: userID}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).Create(&seed).Error; err != nil {
			return err
		}

		// 同一用户的统计行串行更新，避免计数丢失
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&stats).Error; err != nil {
			return err
		}

		applyEvent(&stats, eventType, now)
		return tx.Save(&stats).Error
	}); err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}

	// 评估与事件提交隔离：游戏化是尽力而为，不是业务动作的正确性要求
	awarded, err := s.evaluateMilestones(userID, eventType, &stats, now)
	if err != nil {
		log.Printf("[milestone] evaluate %s for user %d: %v", eventType, userID, err)
		return []AwardedMilestone{}, nil
	}
	return awarded, nil
}

// applyEvent 应用事件到统计行：活跃时间总是刷新，计数器按词汇表更新
func applyEvent(stats *db.UserStats, eventType EventType, now time.Time) {
	at := now
	stats.LastActivityAt = &at

	mutate, ok := statsMutators[eventType]
	if !ok {
		log.Printf("[milestone] unrecognized event type %q, counters unchanged", eventType)
		return
	}
	mutate(stats, now)
}

// evaluateMilestones 找出由该事件触发且尚未颁发的定义并逐条评估。
// 单条规则解析或评估失败只跳过该条；颁发依赖唯一索引抵御并发重复。
func (s *MilestoneService) evaluateMilestones(userID uint, eventType EventType, stats *db.UserStats, now time.Time) ([]AwardedMilestone, error) {
	var definitions []db.MilestoneDefinition
	if err := s.db.
		Where("is_active = ? AND trigger_event = ?", true, string(eventType)).
		Order("sort_order ASC").
		Find(&definitions).Error; err != nil {
		return nil, fmt.Errorf("load definitions: %w", err)
	}

	var awardedIDs []uint
	if err := s.db.Model(&db.UserMilestone{}).
		Where("user_id = ?", userID).
		Pluck("milestone_definition_id", &awardedIDs).Error; err != nil {
		return nil, fmt.Errorf("load awarded ids: %w", err)
	}
	awarded := make(map[uint]struct{}, len(awardedIDs))
	for _, id := range awardedIDs {
		awarded[id] = struct{}{}
	}

	newlyAwarded := []AwardedMilestone{}
	for i := range definitions {
		def := &definitions[i]
		if _, ok := awarded[def.ID]; ok {
			continue
		}

		rule, err := parseRule(def)
		if err != nil {
			log.Printf("[milestone] skip malformed definition %s: %v", def.Code, err)
			continue
		}

		satisfied, err := s.ruleSatisfied(rule, userID, stats, now)
		if err != nil {
			log.Printf("[milestone] skip definition %s (%s): %v", def.Code, rule.ruleKind(), err)
			continue
		}
		if !satisfied {
			continue
		}

		userMilestone := db.UserMilestone{
			UserID:                userID,
			MilestoneDefinitionID: def.ID,
			AwardedAt:             now,
			HasBeenSeen:           false,
		}
		insert := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "milestone_definition_id"}},
			DoNothing: true,
		}).Create(&userMilestone)
		if insert.Error != nil {
			log.Printf("[milestone] award %s to user %d: %v", def.Code, userID, insert.Error)
			continue
		}
		// 并发评估输掉竞争时行数为 0，对方已经颁发过
		if insert.RowsAffected == 0 {
			continue
		}

		newlyAwarded = append(newlyAwarded, AwardedMilestone{
			ID:                    userMilestone.ID,
			MilestoneDefinitionID: def.ID,
			Code:                  def.Code,
			TitleKey:              def.TitleKey,
			DescriptionKey:        def.DescriptionKey,
			Icon:                  def.Icon,
			AnimationType:         def.AnimationType,
			AwardedAt:             userMilestone.AwardedAt,
			HasBeenSeen:           false,
		})
	}

	return newlyAwarded, nil
}

func (s *MilestoneService) ruleSatisfied(rule milestoneRule, userID uint, stats *db.UserStats, now time.Time) (bool, error) {
	switch r := rule.(type) {
	case countRule:
		return statsFieldValue(stats, r.Field) >= r.Threshold, nil

	case windowCountRule:
		windowStart := now.Add(-time.Duration(r.Days) * 24 * time.Hour)
		var count int64
		if err := s.db.Model(&db.DomainEvent{}).
			Where("user_id = ? AND event_type = ? AND occurred_at >= ?", userID, r.EventType, windowStart).
			Count(&count).Error; err != nil {
			return false, fmt.Errorf("count events in window: %w", err)
		}
		return count >= int64(r.Count), nil

	case returnAfterGapRule:
		// 只有一次登录的新用户永远不满足
		if stats.LastLoginAt == nil || stats.PreviousLoginAt == nil {
			return false, nil
		}
		gap := stats.LastLoginAt.Sub(*stats.PreviousLoginAt)
		return gap >= time.Duration(r.GapDays)*24*time.Hour, nil

	default:
		return false, fmt.Errorf("unhandled rule kind %q", rule.ruleKind())
	}
}

// GetUserMilestones 返回用户的全部里程碑，按颁发时间倒序
func (s *MilestoneService) GetUserMilestones(userID uint) ([]AwardedMilestone, error) {
	return s.listMilestones(userID, false)
}

// GetUnseenMilestones 返回尚未展示过的里程碑，按颁发时间正序
func (s *MilestoneService) GetUnseenMilestones(userID uint) ([]AwardedMilestone, error) {
	return s.listMilestones(userID, true)
}

func (s *MilestoneService) listMilestones(userID uint, unseenOnly bool) ([]AwardedMilestone, error) {
	query := s.db.Preload("MilestoneDefinition").Where("user_id = ?", userID)
	if unseenOnly {
		query = query.Where("has_been_seen = ?", false).Order("awarded_at ASC")
	} else {
		query = query.Order("awarded_at DESC")
	}

	var rows []db.UserMilestone
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}

	result := make([]AwardedMilestone, 0, len(rows))
	for _, row := range rows {
		result = append(result, AwardedMilestone{
			ID:                    row.ID,
			MilestoneDefinitionID: row.MilestoneDefinitionID,
			Code:                  row.MilestoneDefinition.Code,
			TitleKey:              row.MilestoneDefinition.TitleKey,
			DescriptionKey:        row.MilestoneDefinition.DescriptionKey,
			Icon:                  row.MilestoneDefinition.Icon,
			AnimationType:         row.MilestoneDefinition.AnimationType,
			AwardedAt:             row.AwardedAt,
			HasBeenSeen:           row.HasBeenSeen,
		})
	}
	return result, nil
}

// MarkMilestonesSeen 把指定里程碑标记为已展示（单向转换）
func (s *MilestoneService) MarkMilestonesSeen(userID uint, milestoneIDs []uint) error {
	if len(milestoneIDs) == 0 {
		return nil
	}
	if err := s.db.Model(&db.UserMilestone{}).
		Where("user_id = ? AND id IN ?", userID, milestoneIDs).
		Update("has_been_seen", true).Error; err != nil {
		return fmt.Errorf("mark milestones seen: %w", err)
	}
	return nil
}

// GetUserStats 返回用户统计行，尚无记录时返回全零值
func (s *MilestoneService) GetUserStats(userID uint) (*db.UserStats, error) {
	var stats db.UserStats
	if err := s.db.Where("user_id = ?", userID).First(&stats).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &db.UserStats{UserID: userID}, nil
		}
		return nil, fmt.Errorf("get user stats: %w", err)
	}
	return &stats, nil
}

// MilestoneDefinitionInput 定义创建/更新里程碑定义时可配置字段
type MilestoneDefinitionInput struct {
	Code           string
	TitleKey       string
	DescriptionKey string
	Icon           string
	TriggerEvent   string
	RuleType       string
	RuleData       string
	AnimationType  string
	SortOrder      int
	IsActive       bool
}

// ListDefinitions 返回全部里程碑定义，按排序字段排序
func (s *MilestoneService) ListDefinitions() ([]db.MilestoneDefinition, error) {
	var definitions []db.MilestoneDefinition
	if err := s.db.Order("sort_order ASC").Find(&definitions).Error; err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	return definitions, nil
}

// CreateDefinition 新建里程碑定义，规则参数在入库前解析校验
func (s *MilestoneService) CreateDefinition(input MilestoneDefinitionInput) (*db.MilestoneDefinition, error) {
	definition, err := definitionFromInput(input)
	if err != nil {
		return nil, err
	}
	if err := s.db.Create(definition).Error; err != nil {
		return nil, fmt.Errorf("create definition: %w", err)
	}
	return definition, nil
}

// UpdateDefinition 更新里程碑定义
func (s *MilestoneService) UpdateDefinition(id uint, input MilestoneDefinitionInput) (*db.MilestoneDefinition, error) {
	var existing db.MilestoneDefinition
	if err := s.db.First(&existing, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMilestoneNotFound
		}
		return nil, fmt.Errorf("get definition: %w", err)
	}

	updated, err := definitionFromInput(input)
	if err != nil {
		return nil, err
	}
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt

	if err := s.db.Save(updated).Error; err != nil {
		return nil, fmt.Errorf("update definition: %w", err)
	}
	return updated, nil
}

// ToggleDefinition 启用或停用里程碑定义
func (s *MilestoneService) ToggleDefinition(id uint, isActive bool) error {
	result := s.db.Model(&db.MilestoneDefinition{}).
		Where("id = ?", id).
		Update("is_active", isActive)
	if result.Error != nil {
		return fmt.Errorf("toggle definition: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMilestoneNotFound
	}
	return nil
}

// DeleteDefinition 删除里程碑定义，并级联删除已颁发记录
func (s *MilestoneService) DeleteDefinition(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var definition db.MilestoneDefinition
		if err := tx.First(&definition, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMilestoneNotFound
			}
			return fmt.Errorf("get definition: %w", err)
		}

		if err := tx.Where("milestone_definition_id = ?", id).
			Delete(&db.UserMilestone{}).Error; err != nil {
			return fmt.Errorf("delete user milestones: %w", err)
		}
		if err := tx.Delete(&definition).Error; err != nil {
			return fmt.Errorf("delete definition: %w", err)
		}
		return nil
	})
}

func definitionFromInput(input MilestoneDefinitionInput) (*db.MilestoneDefinition, error) {
	definition := &db.MilestoneDefinition{
		Code:           strings.TrimSpace(input.Code),
		TitleKey:       strings.TrimSpace(input.TitleKey),
		DescriptionKey: strings.TrimSpace(input.DescriptionKey),
		Icon:           strings.TrimSpace(input.Icon),
		TriggerEvent:   strings.TrimSpace(input.TriggerEvent),
		RuleType:       strings.TrimSpace(input.RuleType),
		RuleData:       strings.TrimSpace(input.RuleData),
		AnimationType:  strings.TrimSpace(input.AnimationType),
		SortOrder:      input.SortOrder,
		IsActive:       input.IsActive,
	}

	if definition.Code == "" || definition.TriggerEvent == "" {
		return nil, fmt.Errorf("%w: code and trigger_event are required", ErrInvalidMilestoneRule)
	}
	if definition.AnimationType == "" {
		definition.AnimationType = "confetti"
	}
	if _, err := parseRule(definition); err != nil {
		return nil, err
	}
	return definition, nil
}
