package service

import (
	"errors"
	"testing"
	"time"

	"github.com/identitylog/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupHabitStackTestDB(t *testing.T) func() {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := gdb.AutoMigrate(
		&db.HabitStack{},
		&db.HabitStackItem{},
		&db.HabitStackItemCompletion{},
		&db.DomainEvent{},
		&db.UserStats{},
		&db.MilestoneDefinition{},
		&db.UserMilestone{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	db.DB = gdb

	return func() {
		sqlDB, err := db.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}

func newHabitStackService() *HabitStackService {
	return NewHabitStackService(db.DB, NewMilestoneService(db.DB))
}

func TestHabitStackCreateAndItems(t *testing.T) {
	cleanup := setupHabitStackTestDB(t)
	defer cleanup()

	svc := newHabitStackService()
	userID := uint(1)

	stack, err := svc.Create(userID, StackInput{
		Name:       "晨间例行",
		TriggerCue: "起床之后",
		IsActive:   true,
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if stack.ID == 0 {
		t.Fatal("expected stack to have ID")
	}

	// 名称必填
	if _, err := svc.Create(userID, StackInput{Name: "  "}); err == nil {
		t.Fatal("expected error for empty name")
	}

	item, err := svc.AddItem(userID, stack.ID, ItemInput{
		CueDescription:   "倒好水之后",
		HabitDescription: "做 10 个俯卧撑",
	})
	if err != nil {
		t.Fatalf("AddItem returned error: %v", err)
	}
	if _, err := svc.AddItem(userID, stack.ID, ItemInput{HabitDescription: ""}); err == nil {
		t.Fatal("expected error for empty habit description")
	}

	// 归属校验
	if _, err := svc.AddItem(99, stack.ID, ItemInput{HabitDescription: "冥想"}); !errors.Is(err, ErrHabitStackNotFound) {
		t.Fatalf("expected ErrHabitStackNotFound for foreign user, got %v", err)
	}

	stacks, err := svc.List(userID)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(stacks) != 1 || len(stacks[0].Items) != 1 || stacks[0].Items[0].ID != item.ID {
		t.Fatalf("unexpected list result: %+v", stacks)
	}
}

func TestCompleteItemIdempotent(t *testing.T) {
	cleanup := setupHabitStackTestDB(t)
	defer cleanup()

	svc := newHabitStackService()
	userID := uint(1)

	stack, err := svc.Create(userID, StackInput{Name: "晨间例行", IsActive: true})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	item, err := svc.AddItem(userID, stack.ID, ItemInput{HabitDescription: "喝一杯水"})
	if err != nil {
		t.Fatalf("AddItem returned error: %v", err)
	}

	day := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	if _, err := svc.CompleteItem(userID, item.ID, day); err != nil {
		t.Fatalf("CompleteItem returned error: %v", err)
	}
	// 同日重复打卡幂等，且不产生新事件
	if _, err := svc.CompleteItem(userID, item.ID, day.Add(2*time.Hour)); err != nil {
		t.Fatalf("repeat CompleteItem returned error: %v", err)
	}

	var completions int64
	if err := db.DB.Model(&db.HabitStackItemCompletion{}).
		Where("habit_stack_item_id = ?", item.ID).
		Count(&completions).Error; err != nil {
		t.Fatalf("failed to count completions: %v", err)
	}
	if completions != 1 {
		t.Fatalf("expected 1 completion row, got %d", completions)
	}

	stats, err := NewMilestoneService(db.DB).GetUserStats(userID)
	if err != nil {
		t.Fatalf("GetUserStats returned error: %v", err)
	}
	if stats.TotalHabitsCompleted != 1 {
		t.Fatalf("expected 1 habit counted, got %d", stats.TotalHabitsCompleted)
	}

	// 陌生用户打不了别人的卡
	if _, err := svc.CompleteItem(99, item.ID, day); !errors.Is(err, ErrHabitItemNotFound) {
		t.Fatalf("expected ErrHabitItemNotFound, got %v", err)
	}
}

func TestStreakRecalculation(t *testing.T) {
	cleanup := setupHabitStackTestDB(t)
	defer cleanup()

	svc := newHabitStackService()
	userID := uint(1)

	stack, err := svc.Create(userID, StackInput{Name: "晨间例行", IsActive: true})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	item, err := svc.AddItem(userID, stack.ID, ItemInput{HabitDescription: "阅读 10 页"})
	if err != nil {
		t.Fatalf("AddItem returned error: %v", err)
	}

	base := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	for day := 0; day < 3; day++ {
		if _, err := svc.CompleteItem(userID, item.ID, base.AddDate(0, 0, day)); err != nil {
			t.Fatalf("CompleteItem returned error: %v", err)
		}
	}

	var reloaded db.HabitStackItem
	if err := db.DB.First(&reloaded, item.ID).Error; err != nil {
		t.Fatalf("failed to reload item: %v", err)
	}
	if reloaded.CurrentStreak != 3 || reloaded.LongestStreak != 3 {
		t.Fatalf("expected streaks 3/3, got %d/%d", reloaded.CurrentStreak, reloaded.LongestStreak)
	}
	if reloaded.LastCompletedDate == nil || !reloaded.LastCompletedDate.Equal(base.AddDate(0, 0, 2)) {
		t.Fatalf("unexpected last completed date: %v", reloaded.LastCompletedDate)
	}

	// 撤销中间一天，连续段断开
	if err := svc.UncompleteItem(userID, item.ID, base.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("UncompleteItem returned error: %v", err)
	}
	if err := db.DB.First(&reloaded, item.ID).Error; err != nil {
		t.Fatalf("failed to reload item: %v", err)
	}
	if reloaded.CurrentStreak != 1 || reloaded.LongestStreak != 1 {
		t.Fatalf("expected streaks 1/1 after gap, got %d/%d", reloaded.CurrentStreak, reloaded.LongestStreak)
	}

	// 全部撤销后归零
	if err := svc.UncompleteItem(userID, item.ID, base); err != nil {
		t.Fatalf("UncompleteItem returned error: %v", err)
	}
	if err := svc.UncompleteItem(userID, item.ID, base.AddDate(0, 0, 2)); err != nil {
		t.Fatalf("UncompleteItem returned error: %v", err)
	}
	// 重置后再加载：GORM 扫描 NULL 列时不会清空复用结构体里的旧指针值
	reloaded = db.HabitStackItem{}
	if err := db.DB.First(&reloaded, item.ID).Error; err != nil {
		t.Fatalf("failed to reload item: %v", err)
	}
	if reloaded.CurrentStreak != 0 || reloaded.LongestStreak != 0 || reloaded.LastCompletedDate != nil {
		t.Fatalf("expected zeroed streaks, got %+v", reloaded)
	}

	// 撤销过的日期可以重新打卡
	if _, err := svc.CompleteItem(userID, item.ID, base); err != nil {
		t.Fatalf("re-complete returned error: %v", err)
	}
	if err := db.DB.First(&reloaded, item.ID).Error; err != nil {
		t.Fatalf("failed to reload item: %v", err)
	}
	if reloaded.CurrentStreak != 1 || reloaded.LongestStreak != 1 {
		t.Fatalf("expected streaks 1/1 after re-completion, got %d/%d", reloaded.CurrentStreak, reloaded.LongestStreak)
	}
}

func TestDeleteStackCascades(t *testing.T) {
	cleanup := setupHabitStackTestDB(t)
	defer cleanup()

	svc := newHabitStackService()
	userID := uint(1)

	stack, err := svc.Create(userID, StackInput{Name: "晚间例行", IsActive: true})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	item, err := svc.AddItem(userID, stack.ID, ItemInput{HabitDescription: "写日记"})
	if err != nil {
		t.Fatalf("AddItem returned error: %v", err)
	}
	if _, err := svc.CompleteItem(userID, item.ID, time.Now()); err != nil {
		t.Fatalf("CompleteItem returned error: %v", err)
	}

	if err := svc.Delete(userID, stack.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	var items, completions int64
	if err := db.DB.Model(&db.HabitStackItem{}).Where("habit_stack_id = ?", stack.ID).Count(&items).Error; err != nil {
		t.Fatalf("failed to count items: %v", err)
	}
	if err := db.DB.Model(&db.HabitStackItemCompletion{}).Where("habit_stack_item_id = ?", item.ID).Count(&completions).Error; err != nil {
		t.Fatalf("failed to count completions: %v", err)
	}
	if items != 0 || completions != 0 {
		t.Fatalf("expected cascade delete, got %d items %d completions", items, completions)
	}

	if _, err := svc.Get(userID, stack.ID); !errors.Is(err, ErrHabitStackNotFound) {
		t.Fatalf("expected ErrHabitStackNotFound, got %v", err)
	}
}
