package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/streakline/internal/db"
)

type recordingListener struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (l *recordingListener) NotifyRelapse(ctx context.Context, userID string, at time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, userID)
	if l.err != nil {
		return 0, l.err
	}
	return 1, nil
}

func newTestCheckInService(t *testing.T, start time.Time) (*CheckInService, *gorm.DB, *fakeClock, func()) {
	t.Helper()
	gdb, cleanup := setupServiceTestDB(t)
	clock := newFakeClock(start)
	svc := NewCheckInService(gdb).WithClock(clock.Now).WithLocation(time.UTC)
	return svc, gdb, clock, cleanup
}

func TestCheckInCycleClosure(t *testing.T) {
	svc, _, _, cleanup := newTestCheckInService(t, time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	defer cleanup()
	ctx := context.Background()

	for _, date := range []string{"2026-05-10", "2026-05-03"} {
		want := []DayStatus{StatusSuccess, StatusRelapse, StatusUnset, StatusSuccess}
		for i, expected := range want {
			result, err := svc.Cycle(ctx, "u1", date)
			if err != nil {
				t.Fatalf("Cycle returned error: %v", err)
			}
			if result.Current != expected || !result.Applied {
				t.Fatalf("%s step %d: expected %q, got %+v", date, i, expected, result)
			}
		}
	}
}

func TestCheckInStreakMonotonicOnSuccess(t *testing.T) {
	start := time.Date(2026, 5, 1, 21, 0, 0, 0, time.UTC)
	svc, _, clock, cleanup := newTestCheckInService(t, start)
	defer cleanup()
	ctx := context.Background()

	for day := 0; day < 5; day++ {
		clock.Set(start.AddDate(0, 0, day))
		result, err := svc.RecordToday(ctx, "u1", StatusSuccess)
		if err != nil {
			t.Fatalf("RecordToday returned error: %v", err)
		}
		if result.Streak.CurrentStreak != day+1 {
			t.Fatalf("day %d: expected streak %d, got %d", day, day+1, result.Streak.CurrentStreak)
		}
		// 同一天重复打卡不再加一
		again, err := svc.RecordToday(ctx, "u1", StatusSuccess)
		if err != nil {
			t.Fatalf("RecordToday returned error: %v", err)
		}
		if again.Applied || again.Streak.CurrentStreak != day+1 {
			t.Fatalf("repeat success should be a no-op, got %+v", again)
		}
	}

	clock.Set(start.AddDate(0, 0, 5))
	result, err := svc.RecordToday(ctx, "u1", StatusRelapse)
	if err != nil {
		t.Fatalf("RecordToday returned error: %v", err)
	}
	if result.Streak.CurrentStreak != 0 || result.Streak.SeasonIndex != 2 {
		t.Fatalf("relapse should reset streak and bump season, got %+v", result.Streak)
	}

	again, err := svc.RecordToday(ctx, "u1", StatusRelapse)
	if err != nil {
		t.Fatalf("RecordToday returned error: %v", err)
	}
	if again.Streak.SeasonIndex != 2 {
		t.Fatalf("repeat relapse must not bump season again, got %+v", again.Streak)
	}
}

func TestCheckInRejectsFutureAndMalformed(t *testing.T) {
	svc, gdb, _, cleanup := newTestCheckInService(t, time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	defer cleanup()
	ctx := context.Background()

	cases := []struct {
		date   string
		status DayStatus
	}{
		{"2026-05-11", StatusSuccess},
		{"10/05/2026", StatusSuccess},
		{"2026-05-10", DayStatus("maybe")},
		{"2026-05-10", StatusUnset},
	}
	for _, tc := range cases {
		result, err := svc.Record(ctx, "u1", tc.date, tc.status)
		if err != nil {
			t.Fatalf("Record(%s, %q) returned hard error: %v", tc.date, tc.status, err)
		}
		if result.Applied || !errors.Is(result.Rejected, ErrInvalidTransition) {
			t.Fatalf("Record(%s, %q) should be rejected, got %+v", tc.date, tc.status, result)
		}
	}

	if result, _ := svc.Cycle(ctx, "u1", "2026-05-11"); !errors.Is(result.Rejected, ErrInvalidTransition) {
		t.Fatalf("future cycle should be rejected, got %+v", result)
	}

	var count int64
	gdb.Model(&db.CheckIn{}).Count(&count)
	if count != 0 {
		t.Fatalf("rejected writes must not persist, got %d rows", count)
	}
}

func TestCheckInBackfillRecomputesSeasonOnly(t *testing.T) {
	svc, _, _, cleanup := newTestCheckInService(t, time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	defer cleanup()
	ctx := context.Background()

	if _, err := svc.RecordToday(ctx, "u1", StatusSuccess); err != nil {
		t.Fatalf("RecordToday returned error: %v", err)
	}

	// 补签成功不会增加连胜
	result, err := svc.Record(ctx, "u1", "2026-05-09", StatusSuccess)
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if result.Streak.CurrentStreak != 1 {
		t.Fatalf("backfill success must not touch streak, got %+v", result.Streak)
	}

	for _, date := range []string{"2026-05-01", "2026-05-02"} {
		if _, err := svc.Record(ctx, "u1", date, StatusRelapse); err != nil {
			t.Fatalf("Record returned error: %v", err)
		}
	}
	streak, err := svc.Streak(ctx, "u1")
	if err != nil {
		t.Fatalf("Streak returned error: %v", err)
	}
	if streak.SeasonIndex != 3 || streak.CurrentStreak != 1 {
		t.Fatalf("expected season 3 and untouched streak, got %+v", streak)
	}

	// 删除破戒记录不回退赛季
	if _, err := svc.Cycle(ctx, "u1", "2026-05-01"); err != nil {
		t.Fatalf("Cycle returned error: %v", err)
	}
	streak, _ = svc.Streak(ctx, "u1")
	if streak.SeasonIndex != 3 {
		t.Fatalf("deletion must not decrement season, got %+v", streak)
	}

	history, err := svc.History(ctx, "u1", HistoryFilter{From: "2026-05-02"})
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(history) != 3 || history[0].Date != "2026-05-10" || history[2].Date != "2026-05-02" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestCheckInRelapseTodayNotifiesAfterCommit(t *testing.T) {
	svc, _, _, cleanup := newTestCheckInService(t, time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	defer cleanup()
	ctx := context.Background()

	listener := &recordingListener{}
	svc.WithRelapseListener(listener)

	if _, err := svc.Record(ctx, "u1", "2026-05-04", StatusRelapse); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if len(listener.calls) != 0 {
		t.Fatalf("backfilled relapse must not alert, got %v", listener.calls)
	}

	result, err := svc.RecordToday(ctx, "u1", StatusRelapse)
	if err != nil {
		t.Fatalf("RecordToday returned error: %v", err)
	}
	if len(listener.calls) != 1 || result.AlertsSent != 1 {
		t.Fatalf("expected exactly one alert, got %v / %d", listener.calls, result.AlertsSent)
	}

	// 提醒失败只记录日志，打卡仍然生效
	listener.err = errors.New("push down")
	if _, err := svc.Cycle(ctx, "u1", "2026-05-10"); err != nil {
		t.Fatalf("Cycle returned error: %v", err)
	}
	result, err = svc.Cycle(ctx, "u1", "2026-05-10")
	if err != nil {
		t.Fatalf("Cycle returned error: %v", err)
	}
	if result.Current != StatusSuccess {
		t.Fatalf("expected success after cycling from unset, got %+v", result)
	}
	result, err = svc.Cycle(ctx, "u1", "2026-05-10")
	if err != nil {
		t.Fatalf("notifier failure must not fail the write: %v", err)
	}
	if result.Current != StatusRelapse || result.AlertsSent != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCheckInUsesUserTimezone(t *testing.T) {
	gdb, cleanup := setupServiceTestDB(t)
	defer cleanup()
	ctx := context.Background()

	profiles := NewProfileService(gdb, time.UTC)
	if err := profiles.SetTimezone(ctx, "tokyo", "Asia/Tokyo"); err != nil {
		t.Fatalf("SetTimezone returned error: %v", err)
	}

	// UTC 5 月 10 日 20:00 已是东京 5 月 11 日
	clock := newFakeClock(time.Date(2026, 5, 10, 20, 0, 0, 0, time.UTC))
	svc := NewCheckInService(gdb).WithClock(clock.Now).WithLocation(time.UTC).WithZones(profiles)

	if today := svc.Today(ctx, "tokyo"); today != "2026-05-11" {
		t.Fatalf("expected tokyo today 2026-05-11, got %s", today)
	}
	if today := svc.Today(ctx, "someone-else"); today != "2026-05-10" {
		t.Fatalf("expected default today 2026-05-10, got %s", today)
	}

	result, err := svc.Record(ctx, "tokyo", "2026-05-11", StatusSuccess)
	if err != nil || !result.Applied || result.Streak.CurrentStreak != 1 {
		t.Fatalf("expected today's success for tokyo user, got %+v %v", result, err)
	}
}

func TestCheckInConcurrentCyclesSerialize(t *testing.T) {
	svc, gdb, _, cleanup := newTestCheckInService(t, time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	defer cleanup()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.RecordToday(ctx, "u1", StatusSuccess); err != nil {
				t.Errorf("RecordToday returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	streak, err := svc.Streak(ctx, "u1")
	if err != nil {
		t.Fatalf("Streak returned error: %v", err)
	}
	if streak.CurrentStreak != 1 {
		t.Fatalf("concurrent first success must increment once, got %d", streak.CurrentStreak)
	}

	var count int64
	gdb.Model(&db.CheckIn{}).Where("user_id = ?", "u1").Count(&count)
	if count != 1 {
		t.Fatalf("expected a single check-in row, got %d", count)
	}
}

func TestDayStatusParsing(t *testing.T) {
	cases := map[string]DayStatus{"check": StatusSuccess, "success": StatusSuccess, "reset": StatusRelapse, "relapse": StatusRelapse, "unset": StatusUnset}
	for raw, want := range cases {
		got, ok := ParseDayStatus(raw)
		if !ok || got != want {
			t.Fatalf("ParseDayStatus(%q) = %q, %v", raw, got, ok)
		}
	}
	if _, ok := ParseDayStatus("later"); ok {
		t.Fatal("expected unknown status to fail")
	}
}
