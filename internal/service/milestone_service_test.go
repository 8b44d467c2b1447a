package service

import (
	"sync"
	"testing"
	"time"

	"github.com/identitylog/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupMilestoneTestDB(t *testing.T) func() {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := gdb.AutoMigrate(
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

func seedDefinition(t *testing.T, def db.MilestoneDefinition) db.MilestoneDefinition {
	t.Helper()
	if def.AnimationType == "" {
		def.AnimationType = "confetti"
	}
	def.IsActive = true
	if err := db.DB.Create(&def).Error; err != nil {
		t.Fatalf("failed to seed definition %s: %v", def.Code, err)
	}
	return def
}

func TestRecordEventUpdatesStatsAndLedger(t *testing.T) {
	cleanup := setupMilestoneTestDB(t)
	defer cleanup()

	svc := NewMilestoneService(db.DB)
	userID := uint(1)

	events := []EventType{
		EventHabitCompleted, EventTaskCompleted,
		EventIdentityProofAdded, EventJournalEntryCreated,
	}
	for _, eventType := range events {
		if _, err := svc.RecordEvent(userID, eventType, nil); err != nil {
			t.Fatalf("RecordEvent(%s) returned error: %v", eventType, err)
		}
	}

	stats, err := svc.GetUserStats(userID)
	if err != nil {
		t.Fatalf("GetUserStats returned error: %v", err)
	}
	if stats.TotalHabitsCompleted != 1 || stats.TotalTasksCompleted != 1 ||
		stats.TotalIdentityProofs != 1 || stats.TotalJournalEntries != 1 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	if stats.TotalWins != 4 {
		t.Fatalf("expected 4 total wins, got %d", stats.TotalWins)
	}
	if stats.LastActivityAt == nil {
		t.Fatal("expected last activity timestamp to be set")
	}

	var eventCount int64
	if err := db.DB.Model(&db.DomainEvent{}).Where("user_id = ?", userID).Count(&eventCount).Error; err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	if eventCount != int64(len(events)) {
		t.Fatalf("expected %d ledger entries, got %d", len(events), eventCount)
	}
}

func TestRecordEventLoginRotation(t *testing.T) {
	cleanup := setupMilestoneTestDB(t)
	defer cleanup()

	first := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	second := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	current := first
	svc := NewMilestoneService(db.DB).WithClock(func() time.Time { return current })
	userID := uint(1)

	if _, err := svc.RecordEvent(userID, EventUserLoggedIn, nil); err != nil {
		t.Fatalf("first login returned error: %v", err)
	}
	current = second
	if _, err := svc.RecordEvent(userID, EventUserLoggedIn, nil); err != nil {
		t.Fatalf("second login returned error: %v", err)
	}

	stats, err := svc.GetUserStats(userID)
	if err != nil {
		t.Fatalf("GetUserStats returned error: %v", err)
	}
	if stats.LoginCount != 2 {
		t.Fatalf("expected login count 2, got %d", stats.LoginCount)
	}
	if stats.PreviousLoginAt == nil || !stats.PreviousLoginAt.Equal(first) {
		t.Fatalf("expected previous login %v, got %v", first, stats.PreviousLoginAt)
	}
	if stats.LastLoginAt == nil || !stats.LastLoginAt.Equal(second) {
		t.Fatalf("expected last login %v, got %v", second, stats.LastLoginAt)
	}
}

func TestRecordEventUnknownTypeOnlyTouchesActivity(t *testing.T) {
	cleanup := setupMilestoneTestDB(t)
	defer cleanup()

	svc := NewMilestoneService(db.DB)
	userID := uint(1)

	if _, err := svc.RecordEvent(userID, EventType("SomethingNew"), nil); err != nil {
		t.Fatalf("RecordEvent returned error: %v", err)
	}

	stats, err := svc.GetUserStats(userID)
	if err != nil {
		t.Fatalf("GetUserStats returned error: %v", err)
	}
	if stats.TotalWins != 0 || stats.LoginCount != 0 {
		t.Fatalf("expected counters untouched, got %+v", stats)
	}
	if stats.LastActivityAt == nil {
		t.Fatal("expected last activity timestamp to be set")
	}

	// 事件照常进账本
	var eventCount int64
	if err := db.DB.Model(&db.DomainEvent{}).
		Where("user_id = ? AND event_type = ?", userID, "SomethingNew").
		Count(&eventCount).Error; err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	if eventCount != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", eventCount)
	}
}

func TestMilestoneAwardedOnce(t *testing.T) {
	cleanup := setupMilestoneTestDB(t)
	defer cleanup()

	def := seedDefinition(t, db.MilestoneDefinition{
		Code:         "first_habit",
		TriggerEvent: string(EventHabitCompleted),
		RuleType:     RuleTypeCount,
		RuleData:     `{"field":"total_habits_completed","threshold":1}`,
	})

	svc := NewMilestoneService(db.DB)
	userID := uint(1)

	awarded, err := svc.RecordEvent(userID, EventHabitCompleted, nil)
	if err != nil {
		t.Fatalf("RecordEvent returned error: %v", err)
	}
	if len(awarded) != 1 || awarded[0].Code != def.Code {
		t.Fatalf("expected first_habit award, got %+v", awarded)
	}

	// 第二次事件阈值仍满足，但不重复颁发
	awarded, err = svc.RecordEvent(userID, EventHabitCompleted, nil)
	if err != nil {
		t.Fatalf("RecordEvent returned error: %v", err)
	}
	if len(awarded) != 0 {
		t.Fatalf("expected no duplicate award, got %+v", awarded)
	}

	var rows int64
	if err := db.DB.Model(&db.UserMilestone{}).Where("user_id = ?", userID).Count(&rows).Error; err != nil {
		t.Fatalf("failed to count awards: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected exactly 1 award row, got %d", rows)
	}
}

func TestConcurrentRecordEventAwardsOnce(t *testing.T) {
	cleanup := setupMilestoneTestDB(t)
	defer cleanup()

	seedDefinition(t, db.MilestoneDefinition{
		Code:         "first_habit",
		TriggerEvent: string(EventHabitCompleted),
		RuleType:     RuleTypeCount,
		RuleData:     `{"field":"total_habits_completed","threshold":1}`,
	})

	svc := NewMilestoneService(db.DB)
	userID := uint(1)

	const workers = 8
	var wg sync.WaitGroup
	results := make([][]AwardedMilestone, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.RecordEvent(userID, EventHabitCompleted, nil)
		}(i)
	}
	wg.Wait()

	announced := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("RecordEvent returned error: %v", errs[i])
		}
		announced += len(results[i])
	}
	// 唯一索引保证输掉竞争的调用不重复宣布
	if announced > 1 {
		t.Fatalf("expected at most 1 award announcement, got %d", announced)
	}

	var rows int64
	if err := db.DB.Model(&db.UserMilestone{}).Where("user_id = ?", userID).Count(&rows).Error; err != nil {
		t.Fatalf("failed to count awards: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected exactly 1 award row, got %d", rows)
	}

	// 计数与账本都不丢事件
	stats, err := svc.GetUserStats(userID)
	if err != nil {
		t.Fatalf("GetUserStats returned error: %v", err)
	}
	if stats.TotalHabitsCompleted != workers {
		t.Fatalf("expected %d habits counted, got %d", workers, stats.TotalHabitsCompleted)
	}
	var events int64
	if err := db.DB.Model(&db.DomainEvent{}).Where("user_id = ?", userID).Count(&events).Error; err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	if events != workers {
		t.Fatalf("expected %d ledger entries, got %d", workers, events)
	}
}

func TestWindowCountRuleEvaluation(t *testing.T) {
	cleanup := setupMilestoneTestDB(t)
	defer cleanup()

	seedDefinition(t, db.MilestoneDefinition{
		Code:         "habits_3_in_week",
		TriggerEvent: string(EventHabitCompleted),
		RuleType:     RuleTypeWindowCount,
		RuleData:     `{"count":3,"days":7}`,
	})

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	svc := NewMilestoneService(db.DB).WithClock(func() time.Time { return current })

	// 连续三天打卡，第三次落入 7 天窗口内应颁发
	denseUser := uint(1)
	var awarded []AwardedMilestone
	for day := 0; day < 3; day++ {
		current = base.AddDate(0, 0, day)
		var err error
		awarded, err = svc.RecordEvent(denseUser, EventHabitCompleted, nil)
		if err != nil {
			t.Fatalf("RecordEvent returned error: %v", err)
		}
	}
	if len(awarded) != 1 || awarded[0].Code != "habits_3_in_week" {
		t.Fatalf("expected window award after 3 completions in 3 days, got %+v", awarded)
	}

	// 每 4 天打一次卡，任意 7 天窗口内永远只有 2 次
	sparseUser := uint(2)
	for _, day := range []int{0, 4, 8} {
		current = base.AddDate(0, 0, day)
		var err error
		awarded, err = svc.RecordEvent(sparseUser, EventHabitCompleted, nil)
		if err != nil {
			t.Fatalf("RecordEvent returned error: %v", err)
		}
	}
	if len(awarded) != 0 {
		t.Fatalf("expected no window award for sparse cadence, got %+v", awarded)
	}
}

func TestReturnAfterGapRuleEvaluation(t *testing.T) {
	cleanup := setupMilestoneTestDB(t)
	defer cleanup()

	seedDefinition(t, db.MilestoneDefinition{
		Code:         "return_after_week",
		TriggerEvent: string(EventUserLoggedIn),
		RuleType:     RuleTypeReturnAfterGap,
		RuleData:     `{"gap_days":7}`,
	})

	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	current := base
	svc := NewMilestoneService(db.DB).WithClock(func() time.Time { return current })

	// 只登录过一次的新用户永远不满足
	newUser := uint(1)
	awarded, err := svc.RecordEvent(newUser, EventUserLoggedIn, nil)
	if err != nil {
		t.Fatalf("RecordEvent returned error: %v", err)
	}
	if len(awarded) != 0 {
		t.Fatalf("expected no gap award for single login, got %+v", awarded)
	}

	// 6 天后回来，间隔不够
	current = base.AddDate(0, 0, 6)
	awarded, err = svc.RecordEvent(newUser, EventUserLoggedIn, nil)
	if err != nil {
		t.Fatalf("RecordEvent returned error: %v", err)
	}
	if len(awarded) != 0 {
		t.Fatalf("expected no gap award for 6-day gap, got %+v", awarded)
	}

	// 再过 8 天回来，间隔达标
	current = current.AddDate(0, 0, 8)
	awarded, err = svc.RecordEvent(newUser, EventUserLoggedIn, nil)
	if err != nil {
		t.Fatalf("RecordEvent returned error: %v", err)
	}
	if len(awarded) != 1 || awarded[0].Code != "return_after_week" {
		t.Fatalf("expected gap award after 8-day gap, got %+v", awarded)
	}
}

func TestMalformedDefinitionSkippedNotFatal(t *testing.T) {
	cleanup := setupMilestoneTestDB(t)
	defer cleanup()

	seedDefinition(t, db.MilestoneDefinition{
		Code:         "broken_rule",
		TriggerEvent: string(EventHabitCompleted),
		RuleType:     RuleTypeCount,
		RuleData:     `not-json`,
		SortOrder:    1,
	})
	seedDefinition(t, db.MilestoneDefinition{
		Code:         "first_habit",
		TriggerEvent: string(EventHabitCompleted),
		RuleType:     RuleTypeCount,
		RuleData:     `{"field":"total_habits_completed","threshold":1}`,
		SortOrder:    2,
	})

	svc := NewMilestoneService(db.DB)
	awarded, err := svc.RecordEvent(1, EventHabitCompleted, nil)
	if err != nil {
		t.Fatalf("RecordEvent returned error: %v", err)
	}

	// 坏定义只跳过自己，不影响兄弟规则
	if len(awarded) != 1 || awarded[0].Code != "first_habit" {
		t.Fatalf("expected only the valid definition to award, got %+v", awarded)
	}
}

func TestSeededCatalogEndToEnd(t *testing.T) {
	cleanup := setupMilestoneTestDB(t)
	defer cleanup()

	if err := db.SeedMilestoneDefinitions(db.DB); err != nil {
		t.Fatalf("failed to seed catalog: %v", err)
	}
	// 重复执行幂等
	if err := db.SeedMilestoneDefinitions(db.DB); err != nil {
		t.Fatalf("re-seeding returned error: %v", err)
	}

	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	current := base
	svc := NewMilestoneService(db.DB).WithClock(func() time.Time { return current })
	userID := uint(1)

	awarded, err := svc.RecordEvent(userID, EventUserLoggedIn, nil)
	if err != nil {
		t.Fatalf("RecordEvent returned error: %v", err)
	}
	if len(awarded) != 1 || awarded[0].Code != "first_login" {
		t.Fatalf("expected first_login award, got %+v", awarded)
	}

	// 15 天后回归，触发 return_after_2_weeks
	current = base.AddDate(0, 0, 15)
	awarded, err = svc.RecordEvent(userID, EventUserLoggedIn, nil)
	if err != nil {
		t.Fatalf("RecordEvent returned error: %v", err)
	}
	if len(awarded) != 1 || awarded[0].Code != "return_after_2_weeks" {
		t.Fatalf("expected return_after_2_weeks award, got %+v", awarded)
	}

	// 次日再登录，没有新的里程碑
	current = current.AddDate(0, 0, 1)
	awarded, err = svc.RecordEvent(userID, EventUserLoggedIn, nil)
	if err != nil {
		t.Fatalf("RecordEvent returned error: %v", err)
	}
	if len(awarded) != 0 {
		t.Fatalf("expected no new awards, got %+v", awarded)
	}
}

func TestEvaluationFailureDoesNotFailEvent(t *testing.T) {
	cleanup := setupMilestoneTestDB(t)
	defer cleanup()

	seedDefinition(t, db.MilestoneDefinition{
		Code:         "first_habit",
		TriggerEvent: string(EventHabitCompleted),
		RuleType:     RuleTypeCount,
		RuleData:     `{"field":"total_habits_completed","threshold":1}`,
	})

	// 弄坏颁发表，评估必然失败
	if err := db.DB.Migrator().DropTable(&db.UserMilestone{}); err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}

	svc := NewMilestoneService(db.DB)
	userID := uint(1)

	awarded, err := svc.RecordEvent(userID, EventHabitCompleted, nil)
	if err != nil {
		t.Fatalf("expected event to succeed despite evaluation failure, got %v", err)
	}
	if len(awarded) != 0 {
		t.Fatalf("expected empty award list, got %+v", awarded)
	}

	// 事件与统计照常落库
	stats, err := svc.GetUserStats(userID)
	if err != nil {
		t.Fatalf("GetUserStats returned error: %v", err)
	}
	if stats.TotalHabitsCompleted != 1 {
		t.Fatalf("expected habit counted, got %d", stats.TotalHabitsCompleted)
	}
}

func TestMarkMilestonesSeen(t *testing.T) {
	cleanup := setupMilestoneTestDB(t)
	defer cleanup()

	seedDefinition(t, db.MilestoneDefinition{
		Code:         "first_habit",
		TriggerEvent: string(EventHabitCompleted),
		RuleType:     RuleTypeCount,
		RuleData:     `{"field":"total_habits_completed","threshold":1}`,
	})

	svc := NewMilestoneService(db.DB)
	userID := uint(1)
	if _, err := svc.RecordEvent(userID, EventHabitCompleted, nil); err != nil {
		t.Fatalf("RecordEvent returned error: %v", err)
	}

	unseen, err := svc.GetUnseenMilestones(userID)
	if err != nil {
		t.Fatalf("GetUnseenMilestones returned error: %v", err)
	}
	if len(unseen) != 1 {
		t.Fatalf("expected 1 unseen milestone, got %d", len(unseen))
	}

	if err := svc.MarkMilestonesSeen(userID, []uint{unseen[0].ID}); err != nil {
		t.Fatalf("MarkMilestonesSeen returned error: %v", err)
	}

	unseen, err = svc.GetUnseenMilestones(userID)
	if err != nil {
		t.Fatalf("GetUnseenMilestones returned error: %v", err)
	}
	if len(unseen) != 0 {
		t.Fatalf("expected no unseen milestones, got %d", len(unseen))
	}

	all, err := svc.GetUserMilestones(userID)
	if err != nil {
		t.Fatalf("GetUserMilestones returned error: %v", err)
	}
	if len(all) != 1 || !all[0].HasBeenSeen {
		t.Fatalf("expected seen milestone to remain listed, got %+v", all)
	}
}

func TestGetUserStatsWithoutHistory(t *testing.T) {
	cleanup := setupMilestoneTestDB(t)
	defer cleanup()

	stats, err := NewMilestoneService(db.DB).GetUserStats(42)
	if err != nil {
		t.Fatalf("GetUserStats returned error: %v", err)
	}
	if stats.UserID != 42 || stats.TotalWins != 0 || stats.LastActivityAt != nil {
		t.Fatalf("expected zero-value stats, got %+v", stats)
	}
}

func TestDefinitionManagement(t *testing.T) {
	cleanup := setupMilestoneTestDB(t)
	defer cleanup()

	svc := NewMilestoneService(db.DB)

	created, err := svc.CreateDefinition(MilestoneDefinitionInput{
		Code:         "tasks_5",
		TriggerEvent: string(EventTaskCompleted),
		RuleType:     RuleTypeCount,
		RuleData:     `{"field":"total_tasks_completed","threshold":5}`,
		SortOrder:    1,
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("CreateDefinition returned error: %v", err)
	}
	if created.AnimationType != "confetti" {
		t.Fatalf("expected default animation type, got %s", created.AnimationType)
	}

	// 非法规则在入库前被拦截
	if _, err := svc.CreateDefinition(MilestoneDefinitionInput{
		Code:         "bad",
		TriggerEvent: string(EventTaskCompleted),
		RuleType:     RuleTypeCount,
		RuleData:     `{"threshold":0}`,
	}); err == nil {
		t.Fatal("expected error for invalid rule data")
	}

	updated, err := svc.UpdateDefinition(created.ID, MilestoneDefinitionInput{
		Code:         "tasks_5",
		TriggerEvent: string(EventTaskCompleted),
		RuleType:     RuleTypeCount,
		RuleData:     `{"field":"total_tasks_completed","threshold":8}`,
		SortOrder:    2,
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("UpdateDefinition returned error: %v", err)
	}
	if updated.SortOrder != 2 {
		t.Fatalf("expected sort order 2, got %d", updated.SortOrder)
	}

	if err := svc.ToggleDefinition(created.ID, false); err != nil {
		t.Fatalf("ToggleDefinition returned error: %v", err)
	}
	// 停用的定义不再参与评估
	awarded, err := svc.RecordEvent(1, EventTaskCompleted, nil)
	if err != nil {
		t.Fatalf("RecordEvent returned error: %v", err)
	}
	if len(awarded) != 0 {
		t.Fatalf("expected inactive definition to be ignored, got %+v", awarded)
	}

	if err := svc.DeleteDefinition(created.ID); err != nil {
		t.Fatalf("DeleteDefinition returned error: %v", err)
	}
	if err := svc.DeleteDefinition(created.ID); err != ErrMilestoneNotFound {
		t.Fatalf("expected ErrMilestoneNotFound, got %v", err)
	}
}
