package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/identitylog/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrHabitStackNotFound 在指定习惯堆叠不存在时返回
	ErrHabitStackNotFound = errors.New("habit stack not found")
	// ErrHabitItemNotFound 在指定堆叠条目不存在时返回
	ErrHabitItemNotFound = errors.New("habit stack item not found")
)

// HabitStackService 负责习惯堆叠与条目的管理，以及打卡事实的写入
// 打卡成功后尽力记录 HabitCompleted 事件，事件失败不影响打卡本身
type HabitStackService struct {
	db         *gorm.DB
	milestones *MilestoneService
}

// NewHabitStackService 构造 HabitStackService
func NewHabitStackService(gdb *gorm.DB, milestones *MilestoneService) *HabitStackService {
	return &HabitStackService{db: gdb, milestones: milestones}
}

// StackInput 定义创建/更新堆叠时可配置字段
type StackInput struct {
	Name       string
	TriggerCue string
	IdentityID *uint
	SortOrder  int
	IsActive   bool
}

// ItemInput 定义堆叠条目的可配置字段
type ItemInput struct {
	CueDescription   string
	HabitDescription string
	SortOrder        int
}

// List 返回用户的全部堆叠及条目
func (s *HabitStackService) List(userID uint) ([]db.HabitStack, error) {
	var stacks []db.HabitStack
	if err := s.db.Preload("Items", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("sort_order ASC")
	}).
		Where("user_id = ?", userID).
		Order("sort_order ASC").
		Find(&stacks).Error; err != nil {
		return nil, fmt.Errorf("list habit stacks: %w", err)
	}
	return stacks, nil
}

// Get 根据 ID 获取堆叠，校验归属
func (s *HabitStackService) Get(userID, id uint) (*db.HabitStack, error) {
	var stack db.HabitStack
	if err := s.db.Preload("Items").
		Where("user_id = ?", userID).
		First(&stack, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHabitStackNotFound
		}
		return nil, fmt.Errorf("get habit stack: %w", err)
	}
	return &stack, nil
}

// Create 新建习惯堆叠
func (s *HabitStackService) Create(userID uint, input StackInput) (*db.HabitStack, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.New("habit stack name is required")
	}

	stack := db.HabitStack{
		UserID:     userID,
		IdentityID: input.IdentityID,
		Name:       name,
		TriggerCue: strings.TrimSpace(input.TriggerCue),
		SortOrder:  input.SortOrder,
		IsActive:   input.IsActive,
	}
	if err := s.db.Create(&stack).Error; err != nil {
		return nil, fmt.Errorf("create habit stack: %w", err)
	}
	return &stack, nil
}

// Update 更新习惯堆叠
func (s *HabitStackService) Update(userID, id uint, input StackInput) (*db.HabitStack, error) {
	stack, err := s.Get(userID, id)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.New("habit stack name is required")
	}

	stack.Name = name
	stack.TriggerCue = strings.TrimSpace(input.TriggerCue)
	stack.IdentityID = input.IdentityID
	stack.SortOrder = input.SortOrder
	stack.IsActive = input.IsActive

	if err := s.db.Save(stack).Error; err != nil {
		return nil, fmt.Errorf("update habit stack: %w", err)
	}
	return stack, nil
}

// Delete 删除堆叠及其条目与打卡记录
func (s *HabitStackService) Delete(userID, id uint) error {
	stack, err := s.Get(userID, id)
	if err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var itemIDs []uint
		if err := tx.Model(&db.HabitStackItem{}).
			Where("habit_stack_id = ?", stack.ID).
			Pluck("id", &itemIDs).Error; err != nil {
			return err
		}
		if len(itemIDs) > 0 {
			if err := tx.Unscoped().Where("habit_stack_item_id IN ?", itemIDs).
				Delete(&db.HabitStackItemCompletion{}).Error; err != nil {
				return err
			}
			if err := tx.Where("habit_stack_id = ?", stack.ID).
				Delete(&db.HabitStackItem{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(stack).Error
	})
}

// AddItem 向堆叠追加一个小习惯
func (s *HabitStackService) AddItem(userID, stackID uint, input ItemInput) (*db.HabitStackItem, error) {
	stack, err := s.Get(userID, stackID)
	if err != nil {
		return nil, err
	}

	habit := strings.TrimSpace(input.HabitDescription)
	if habit == "" {
		return nil, errors.New("habit description is required")
	}

	item := db.HabitStackItem{
		HabitStackID:     stack.ID,
		CueDescription:   strings.TrimSpace(input.CueDescription),
		HabitDescription: habit,
		SortOrder:        input.SortOrder,
	}
	if err := s.db.Create(&item).Error; err != nil {
		return nil, fmt.Errorf("add habit stack item: %w", err)
	}
	return &item, nil
}

// RemoveItem 删除堆叠条目及其打卡记录
func (s *HabitStackService) RemoveItem(userID, itemID uint) error {
	item, err := s.getItem(userID, itemID)
	if err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("habit_stack_item_id = ?", item.ID).
			Delete(&db.HabitStackItemCompletion{}).Error; err != nil {
			return err
		}
		return tx.Delete(item).Error
	})
}

// CompleteItem 记录某个日历日的打卡。同日重复打卡幂等，不产生新事件。
// 返回本次打卡触发的新里程碑（可能为空）。
func (s *HabitStackService) CompleteItem(userID, itemID uint, date time.Time) ([]AwardedMilestone, error) {
	item, err := s.getItem(userID, itemID)
	if err != nil {
		return nil, err
	}

	day := DateOnly(date)
	completion := db.HabitStackItemCompletion{
		HabitStackItemID: item.ID,
		CompletedDate:    day,
	}
	insert := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "habit_stack_item_id"}, {Name: "completed_date"}},
		DoNothing: true,
	}).Create(&completion)
	if insert.Error != nil {
		return nil, fmt.Errorf("complete habit item: %w", insert.Error)
	}
	if insert.RowsAffected == 0 {
		return []AwardedMilestone{}, nil
	}

	if err := s.refreshStreaks(item); err != nil {
		return nil, err
	}

	awarded, err := s.milestones.RecordEvent(userID, EventHabitCompleted, map[string]any{
		"habit_stack_item_id": item.ID,
		"completed_date":      day.Format("2006-01-02"),
	})
	if err != nil {
		// 打卡已经落库，事件失败只记日志
		logEventFailure(EventHabitCompleted, userID, err)
		return []AwardedMilestone{}, nil
	}
	return awarded, nil
}

// UncompleteItem 撤销某日打卡，相应的票数随之消失
func (s *HabitStackService) UncompleteItem(userID, itemID uint, date time.Time) error {
	item, err := s.getItem(userID, itemID)
	if err != nil {
		return err
	}

	// 物理删除，否则软删除残留的唯一索引会挡住之后的重新打卡
	day := DateOnly(date)
	if err := s.db.Unscoped().
		Where("habit_stack_item_id = ? AND completed_date = ?", item.ID, day).
		Delete(&db.HabitStackItemCompletion{}).Error; err != nil {
		return fmt.Errorf("uncomplete habit item: %w", err)
	}
	return s.refreshStreaks(item)
}

// refreshStreaks 依据全部打卡记录重算条目的连续天数
func (s *HabitStackService) refreshStreaks(item *db.HabitStackItem) error {
	var completions []db.HabitStackItemCompletion
	if err := s.db.Where("habit_stack_item_id = ?", item.ID).
		Order("completed_date DESC").
		Find(&completions).Error; err != nil {
		return fmt.Errorf("load completions: %w", err)
	}

	if len(completions) == 0 {
		item.CurrentStreak = 0
		item.LongestStreak = 0
		item.LastCompletedDate = nil
		return s.db.Save(item).Error
	}

	dates := make([]time.Time, len(completions))
	for i, c := range completions {
		dates[i] = DateOnly(c.CompletedDate)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].After(dates[j]) })

	longest, run := 1, 1
	for i := 1; i < len(dates); i++ {
		if daysBetween(dates[i], dates[i-1]) == 1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}

	// 当前 streak 是从最近一次打卡往回数的连续段
	current := 1
	for i := 1; i < len(dates); i++ {
		if daysBetween(dates[i], dates[i-1]) != 1 {
			break
		}
		current++
	}

	last := dates[0]
	item.CurrentStreak = current
	item.LongestStreak = longest
	item.LastCompletedDate = &last
	return s.db.Save(item).Error
}

func (s *HabitStackService) getItem(userID, itemID uint) (*db.HabitStackItem, error) {
	var item db.HabitStackItem
	if err := s.db.
		Joins("JOIN habit_stacks ON habit_stacks.id = habit_stack_items.habit_stack_id").
		Where("habit_stacks.user_id = ?", userID).
		First(&item, "habit_stack_items.id = ?", itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHabitItemNotFound
		}
		return nil, fmt.Errorf("get habit stack item: %w", err)
	}
	return &item, nil
}
