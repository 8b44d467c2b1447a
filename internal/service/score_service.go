package service

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/identitylog/internal/db"
	"gorm.io/gorm"
)

const (
	// maxWindowDays 是评分回看窗口的上限
	maxWindowDays = 14
	// maxDailyVotes 是单日计入的票数上限，防止单个爆发日主导分数
	maxDailyVotes = 10
	// inactivityDecayFactor 是目标日零活动时按连续静默天数应用的衰减底数
	inactivityDecayFactor = 0.97
)

// IdentityStatus 是由分数映射出的定性状态标签
type IdentityStatus string

const (
	StatusDormant     IdentityStatus = "dormant"
	StatusForming     IdentityStatus = "forming"
	StatusEmerging    IdentityStatus = "emerging"
	StatusStabilizing IdentityStatus = "stabilizing"
	StatusStrong      IdentityStatus = "strong"
	StatusAutomatic   IdentityStatus = "automatic"
)

// TrendDirection 表示身份动量的走向
type TrendDirection string

const (
	TrendUp      TrendDirection = "up"
	TrendDown    TrendDirection = "down"
	TrendNeutral TrendDirection = "neutral"
)

// IdentityScore 是单个身份的评分结果，每次请求即时计算，从不落库
type IdentityScore struct {
	IdentityID     uint           `json:"identity_id"`
	Name           string         `json:"name"`
	Color          string         `json:"color"`
	Icon           string         `json:"icon"`
	Score          int            `json:"score"`
	Status         IdentityStatus `json:"status"`
	Trend          TrendDirection `json:"trend"`
	AccountAgeDays int            `json:"account_age_days"`
	ShowNumeric    bool           `json:"show_numeric"`
}

// IdentityScoreService 基于近因加权的票数计算身份强度
// 加载活动事实后的计分本身是纯内存运算，方便单测
type IdentityScoreService struct {
	db *gorm.DB
}

// NewIdentityScoreService 构造 IdentityScoreService
func NewIdentityScoreService(gdb *gorm.DB) *IdentityScoreService {
	return &IdentityScoreService{db: gdb}
}

// CalculateScores 计算用户全部身份的分数，按分数降序返回
func (s *IdentityScoreService) CalculateScores(userID uint, targetDate time.Time) ([]IdentityScore, error) {
	target := DateOnly(targetDate)
	windowStart := target.AddDate(0, 0, -maxWindowDays)

	var identities []db.Identity
	if err := s.db.
		Preload("HabitStacks.Items.Completions", "completed_date BETWEEN ? AND ?", windowStart, target).
		Preload("HabitStacks.Items").
		Preload("HabitStacks").
		Preload("Tasks", "completed_date IS NOT NULL AND completed_date BETWEEN ? AND ?", windowStart, target).
		Preload("Proofs", "proof_date BETWEEN ? AND ?", windowStart, target).
		Where("user_id = ?", userID).
		Find(&identities).Error; err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}

	ids := make([]uint, 0, len(identities))
	for _, identity := range identities {
		ids = append(ids, identity.ID)
	}

	firstDates, err := s.firstActionDates(ids)
	if err != nil {
		return nil, err
	}

	results := make([]IdentityScore, 0, len(identities))
	for i := range identities {
		results = append(results, ScoreIdentity(&identities[i], target, firstDates[identities[i].ID]))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// firstActionDates 查询每个身份最早的行动日（习惯打卡或任务完成，取更早者）。
// 没有任何历史的身份不会出现在结果里。
func (s *IdentityScoreService) firstActionDates(identityIDs []uint) (map[uint]time.Time, error) {
	result := make(map[uint]time.Time, len(identityIDs))
	if len(identityIDs) == 0 {
		return result, nil
	}

	type row struct {
		IdentityID uint
		FirstDate  time.Time
	}

	var habitRows []row
	if err := s.db.Model(&db.HabitStackItemCompletion{}).
		Select("habit_stacks.identity_id AS identity_id, MIN(habit_stack_item_completions.completed_date) AS first_date").
		Joins("JOIN habit_stack_items ON habit_stack_items.id = habit_stack_item_completions.habit_stack_item_id").
		Joins("JOIN habit_stacks ON habit_stacks.id = habit_stack_items.habit_stack_id").
		Where("habit_stacks.identity_id IN ?", identityIDs).
		Group("habit_stacks.identity_id").
		Scan(&habitRows).Error; err != nil {
		return nil, fmt.Errorf("first habit dates: %w", err)
	}
	for _, r := range habitRows {
		result[r.IdentityID] = DateOnly(r.FirstDate)
	}

	var taskRows []row
	if err := s.db.Model(&db.Task{}).
		Select("identity_id AS identity_id, MIN(completed_date) AS first_date").
		Where("identity_id IN ? AND status = ? AND completed_date IS NOT NULL", identityIDs, db.TaskStatusCompleted).
		Group("identity_id").
		Scan(&taskRows).Error; err != nil {
		return nil, fmt.Errorf("first task dates: %w", err)
	}
	for _, r := range taskRows {
		date := DateOnly(r.FirstDate)
		if existing, ok := result[r.IdentityID]; !ok || date.Before(existing) {
			result[r.IdentityID] = date
		}
	}

	return result, nil
}

// ScoreIdentity 对单个身份执行完整的评分流程。
// identity 需要预加载窗口内的打卡、任务与证明；firstAction 为零值表示没有任何历史。
func ScoreIdentity(identity *db.Identity, targetDate time.Time, firstAction time.Time) IdentityScore {
	target := DateOnly(targetDate)
	result := IdentityScore{
		IdentityID:  identity.ID,
		Name:        identity.Name,
		Color:       identity.Color,
		Icon:        identity.Icon,
		Status:      StatusDormant,
		Trend:       TrendNeutral,
		ShowNumeric: true,
	}

	// 没有任何行动的身份无从评分，直接返回休眠结果
	if firstAction.IsZero() {
		return result
	}

	accountAgeDays := daysBetween(DateOnly(firstAction), target)
	if accountAgeDays < 0 {
		accountAgeDays = 0
	}
	result.AccountAgeDays = accountAgeDays

	// 窗口随历史长度生长，两天大的身份不该被整整两周的空白评判
	window := accountAgeDays + 3
	if window > maxWindowDays {
		window = maxWindowDays
	}
	if window < 1 {
		window = 1
	}

	votes := make([]int, window)
	var rawScore, maxPossible float64
	for offset := 0; offset < window; offset++ {
		votes[offset] = DayVotes(identity, target.AddDate(0, 0, -offset))
		weight := recencyWeight(offset)
		rawScore += float64(votes[offset]) * weight
		maxPossible += float64(maxDailyVotes) * weight
	}

	normalized := 0.0
	if maxPossible > 0 {
		normalized = rawScore / maxPossible * 100
	}

	// 只有目标日零活动才触发衰减，窗口平均值不参与判断
	if votes[0] == 0 {
		inactive := 0
		for offset := 0; offset < window && votes[offset] == 0; offset++ {
			inactive++
		}
		normalized *= math.Pow(inactivityDecayFactor, float64(inactive))
	}

	// 新手保底只抬高分数，从不压低
	if accountAgeDays < maxWindowDays && hasRecentActivity(identity, target) {
		floor := float64(30 + 2*accountAgeDays)
		if normalized < floor {
			normalized = floor
		}
	}

	if normalized < 0 {
		normalized = 0
	}
	if normalized > 100 {
		normalized = 100
	}

	result.Score = int(math.Round(normalized))
	result.Status = statusFor(result.Score)
	result.Trend = trendFor(identity, target)
	return result
}

// DayVotes 统计身份在某个日历日获得的票数，结果已按单日上限截断。
// 习惯打卡每次 1 票；整组堆叠全部完成额外 2 票；任务完成每个 2 票；
// 身份证明按强度计 1/2/3 票。
func DayVotes(identity *db.Identity, date time.Time) int {
	day := DateOnly(date)
	votes := 0

	for i := range identity.HabitStacks {
		stack := &identity.HabitStacks[i]
		if len(stack.Items) == 0 {
			continue
		}

		completedItems := 0
		for j := range stack.Items {
			done := false
			for _, c := range stack.Items[j].Completions {
				if DateOnly(c.CompletedDate).Equal(day) {
					votes++
					done = true
				}
			}
			if done {
				completedItems++
			}
		}

		// 整组奖励按堆叠独立计算，空堆叠永远不计
		if completedItems == len(stack.Items) {
			votes += 2
		}
	}

	for _, task := range identity.Tasks {
		if task.Status == db.TaskStatusCompleted && task.CompletedDate != nil &&
			DateOnly(*task.CompletedDate).Equal(day) {
			votes += 2
		}
	}

	for _, proof := range identity.Proofs {
		if DateOnly(proof.ProofDate).Equal(day) {
			votes += int(proof.Intensity)
		}
	}

	if votes > maxDailyVotes {
		votes = maxDailyVotes
	}
	return votes
}

// recencyWeight 返回日偏移的权重：当日 1.0，每远一天减 0.1，下限 0.1
func recencyWeight(offset int) float64 {
	weight := 1.0 - 0.1*float64(offset)
	if weight < 0.1 {
		return 0.1
	}
	return weight
}

// hasRecentActivity 判断 [target-2, target] 内是否存在任何计票活动，
// 覆盖「最近 48 小时内有完成」的所有可能日历日。
func hasRecentActivity(identity *db.Identity, target time.Time) bool {
	for offset := 0; offset <= 2; offset++ {
		if DayVotes(identity, target.AddDate(0, 0, -offset)) > 0 {
			return true
		}
	}
	return false
}

// trendFor 比较近三日与更早三日的未加权票数，差距超过 1 才判定升降
func trendFor(identity *db.Identity, target time.Time) TrendDirection {
	recent, previous := 0, 0
	for offset := 0; offset <= 2; offset++ {
		recent += DayVotes(identity, target.AddDate(0, 0, -offset))
	}
	for offset := 3; offset <= 5; offset++ {
		previous += DayVotes(identity, target.AddDate(0, 0, -offset))
	}

	switch {
	case recent > previous+1:
		return TrendUp
	case recent < previous-1:
		return TrendDown
	default:
		return TrendNeutral
	}
}

func statusFor(score int) IdentityStatus {
	switch {
	case score >= 90:
		return StatusAutomatic
	case score >= 75:
		return StatusStrong
	case score >= 60:
		return StatusStabilizing
	case score >= 40:
		return StatusEmerging
	case score >= 25:
		return StatusForming
	default:
		return StatusDormant
	}
}

// DateOnly 将时间归一化到 UTC 当日零点，评分以整日为粒度
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
