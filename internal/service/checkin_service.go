package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/streakline/internal/db"
)

// ErrInvalidTransition 写入未来日期或非法状态；调用方将其视为 no-op，不是硬错误。
var ErrInvalidTransition = errors.New("invalid check-in transition")

// ErrCheckInConflict 条件写入未命中，说明有其他进程同时修改了同一天。
var ErrCheckInConflict = errors.New("check-in modified concurrently")

// DayStatus 单日打卡状态，空字符串表示 unset。
type DayStatus string

const (
	StatusUnset   DayStatus = ""
	StatusSuccess DayStatus = db.CheckInSuccess
	StatusRelapse DayStatus = db.CheckInRelapse
)

// Next 返回循环切换的下一个状态：unset → success → relapse → unset。
func (s DayStatus) Next() DayStatus {
	switch s {
	case StatusUnset:
		return StatusSuccess
	case StatusSuccess:
		return StatusRelapse
	default:
		return StatusUnset
	}
}

// ParseDayStatus 解析外部传入的状态，兼容 check/reset 旧写法。
func ParseDayStatus(raw string) (DayStatus, bool) {
	switch raw {
	case "success", "check":
		return StatusSuccess, true
	case "relapse", "reset":
		return StatusRelapse, true
	case "", "unset":
		return StatusUnset, true
	default:
		return StatusUnset, false
	}
}

// StreakSnapshot 连胜与赛季
type StreakSnapshot struct {
	CurrentStreak int `json:"current_streak"`
	SeasonIndex   int `json:"season_index"`
}

// TransitionResult 描述一次打卡写入的结果。
// Rejected 非空时表示请求被静默忽略（未来日期或非法状态），Applied 为 false。
type TransitionResult struct {
	UserID     string         `json:"user_id"`
	Date       string         `json:"date"`
	Previous   DayStatus      `json:"previous"`
	Current    DayStatus      `json:"current"`
	Applied    bool           `json:"applied"`
	Rejected   error          `json:"-"`
	Streak     StreakSnapshot `json:"streak"`
	AlertsSent int            `json:"alerts_sent"`
}

// RelapseListener 接收当日破戒事件，返回实际创建的提醒数量。
type RelapseListener interface {
	NotifyRelapse(ctx context.Context, userID string, at time.Time) (int, error)
}

// CheckInService 维护每日打卡、连胜与赛季
type CheckInService struct {
	db       *gorm.DB
	zones    ZoneResolver
	loc      *time.Location
	listener RelapseListener
	now      func() time.Time
	locks    keyedMutex
}

// NewCheckInService 创建打卡服务。
func NewCheckInService(gdb *gorm.DB) *CheckInService {
	return &CheckInService{db: gdb, loc: time.Local, now: time.Now}
}

// WithClock 注入时钟。
func (s *CheckInService) WithClock(now func() time.Time) *CheckInService {
	if now != nil {
		s.now = now
	}
	return s
}

// WithZones 使用用户时区判定「今天」。
func (s *CheckInService) WithZones(zones ZoneResolver) *CheckInService {
	s.zones = zones
	return s
}

// WithLocation 设置默认时区。
func (s *CheckInService) WithLocation(loc *time.Location) *CheckInService {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// WithRelapseListener 设置破戒事件的接收方。
func (s *CheckInService) WithRelapseListener(listener RelapseListener) *CheckInService {
	s.listener = listener
	return s
}

// Today 返回用户本地日期 YYYY-MM-DD。
func (s *CheckInService) Today(ctx context.Context, userID string) string {
	loc := resolveLocation(ctx, s.zones, s.loc, userID)
	return s.now().In(loc).Format(dateLayout)
}

// Record 直接把某天写成 success 或 relapse，「今日打卡」入口使用。
func (s *CheckInService) Record(ctx context.Context, userID, date string, target DayStatus) (TransitionResult, error) {
	if target != StatusSuccess && target != StatusRelapse {
		return rejected(userID, date, fmt.Errorf("%w: status %q", ErrInvalidTransition, target)), nil
	}
	return s.transition(ctx, userID, date, func(DayStatus) DayStatus { return target })
}

// RecordToday 记录用户本地今天的状态。
func (s *CheckInService) RecordToday(ctx context.Context, userID string, target DayStatus) (TransitionResult, error) {
	return s.Record(ctx, userID, s.Today(ctx, userID), target)
}

// Cycle 按 unset → success → relapse → unset 切换某天的状态，日历点击使用。
func (s *CheckInService) Cycle(ctx context.Context, userID, date string) (TransitionResult, error) {
	return s.transition(ctx, userID, date, DayStatus.Next)
}

func rejected(userID, date string, reason error) TransitionResult {
	return TransitionResult{UserID: userID, Date: date, Rejected: reason}
}

func (s *CheckInService) transition(ctx context.Context, userID, date string, next func(DayStatus) DayStatus) (TransitionResult, error) {
	if userID == "" {
		return TransitionResult{}, errors.New("user id is required")
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return rejected(userID, date, fmt.Errorf("%w: malformed date %q", ErrInvalidTransition, date)), nil
	}

	today := s.Today(ctx, userID)
	if date > today {
		return rejected(userID, date, fmt.Errorf("%w: %s is after %s", ErrInvalidTransition, date, today)), nil
	}
	isToday := date == today

	unlock := s.locks.Lock(userID + "|" + date)
	defer unlock()

	result := TransitionResult{UserID: userID, Date: date}
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state := db.StreakState{UserID: userID, SeasonIndex: 1}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&state).Error; err != nil {
			return err
		}

		prev, err := loadDayStatus(tx, userID, date)
		if err != nil {
			return err
		}
		target := next(prev)
		result.Previous = prev
		result.Current = target

		if target == prev {
			return loadStreak(tx, userID, &result.Streak)
		}

		inserted, err := writeDayStatus(tx, userID, date, prev, target, now)
		if err != nil {
			return err
		}
		result.Applied = true

		switch {
		case target == StatusUnset:
			// 删除记录不回退赛季，也不影响连胜
		case isToday && target == StatusSuccess:
			if inserted {
				if err := tx.Model(&db.StreakState{}).Where("user_id = ?", userID).
					Updates(map[string]interface{}{
						"current_streak": gorm.Expr("current_streak + 1"),
						"updated_at":     now,
					}).Error; err != nil {
					return err
				}
			}
		case isToday && target == StatusRelapse:
			if err := tx.Model(&db.StreakState{}).Where("user_id = ?", userID).
				Updates(map[string]interface{}{
					"current_streak": 0,
					"season_index":   gorm.Expr("season_index + 1"),
					"updated_at":     now,
				}).Error; err != nil {
				return err
			}
		default:
			// 补签只重算赛季，连胜保持不变
			var relapses int64
			if err := tx.Model(&db.CheckIn{}).
				Where("user_id = ? AND status = ?", userID, db.CheckInRelapse).
				Count(&relapses).Error; err != nil {
				return err
			}
			if err := tx.Model(&db.StreakState{}).Where("user_id = ?", userID).
				Updates(map[string]interface{}{
					"season_index": int(relapses) + 1,
					"updated_at":   now,
				}).Error; err != nil {
				return err
			}
		}

		return loadStreak(tx, userID, &result.Streak)
	})
	if err != nil {
		if errors.Is(err, ErrCheckInConflict) {
			return TransitionResult{}, err
		}
		return TransitionResult{}, storeError("check-in transition", err)
	}

	if result.Applied {
		log.Printf("[CHECKIN] user=%s date=%s %q -> %q streak=%d season=%d",
			userID, date, result.Previous, result.Current, result.Streak.CurrentStreak, result.Streak.SeasonIndex)
	}

	if result.Applied && isToday && result.Current == StatusRelapse && s.listener != nil {
		sent, err := s.listener.NotifyRelapse(ctx, userID, now)
		if err != nil {
			log.Printf("[CHECKIN] relapse alert failed user=%s: %v", userID, err)
		}
		result.AlertsSent = sent
	}

	return result, nil
}

func loadDayStatus(tx *gorm.DB, userID, date string) (DayStatus, error) {
	var entry db.CheckIn
	err := tx.Where("user_id = ? AND date = ?", userID, date).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StatusUnset, nil
	}
	if err != nil {
		return StatusUnset, err
	}
	return DayStatus(entry.Status), nil
}

// writeDayStatus 以条件写入完成状态变更，inserted 表示本次新建了当天记录。
func writeDayStatus(tx *gorm.DB, userID, date string, prev, target DayStatus, now time.Time) (bool, error) {
	switch {
	case prev == StatusUnset:
		entry := db.CheckIn{UserID: userID, Date: date, Status: string(target), CreatedAt: now, UpdatedAt: now}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if res.Error != nil {
			return false, res.Error
		}
		if res.RowsAffected == 0 {
			return false, ErrCheckInConflict
		}
		return true, nil
	case target == StatusUnset:
		res := tx.Where("user_id = ? AND date = ? AND status = ?", userID, date, string(prev)).Delete(&db.CheckIn{})
		if res.Error != nil {
			return false, res.Error
		}
		if res.RowsAffected == 0 {
			return false, ErrCheckInConflict
		}
		return false, nil
	default:
		res := tx.Model(&db.CheckIn{}).
			Where("user_id = ? AND date = ? AND status = ?", userID, date, string(prev)).
			Updates(map[string]interface{}{"status": string(target), "updated_at": now})
		if res.Error != nil {
			return false, res.Error
		}
		if res.RowsAffected == 0 {
			return false, ErrCheckInConflict
		}
		return false, nil
	}
}

func loadStreak(tx *gorm.DB, userID string, out *StreakSnapshot) error {
	var state db.StreakState
	if err := tx.Where("user_id = ?", userID).First(&state).Error; err != nil {
		return err
	}
	out.CurrentStreak = state.CurrentStreak
	out.SeasonIndex = state.SeasonIndex
	return nil
}

// Streak 返回用户当前连胜与赛季，没有记录时为 {0, 1}。
func (s *CheckInService) Streak(ctx context.Context, userID string) (StreakSnapshot, error) {
	var state db.StreakState
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StreakSnapshot{SeasonIndex: 1}, nil
	}
	if err != nil {
		return StreakSnapshot{}, storeError("load streak", err)
	}
	return StreakSnapshot{CurrentStreak: state.CurrentStreak, SeasonIndex: state.SeasonIndex}, nil
}

// HistoryFilter 限定查询的日期区间（闭区间），为空表示不限。
type HistoryFilter struct {
	From string
	To   string
}

// History 按日期倒序返回打卡记录。
func (s *CheckInService) History(ctx context.Context, userID string, filter HistoryFilter) ([]db.CheckIn, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if filter.From != "" {
		query = query.Where("date >= ?", filter.From)
	}
	if filter.To != "" {
		query = query.Where("date <= ?", filter.To)
	}

	var entries []db.CheckIn
	if err := query.Order("date DESC").Find(&entries).Error; err != nil {
		return nil, storeError("list check-ins", err)
	}
	return entries, nil
}
