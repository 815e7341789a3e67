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

// 拒绝原因
const (
	ReasonExhaustedFreeTier    = "exhausted-free-tier"
	ReasonExhaustedPremiumTier = "exhausted-premium-tier"
	ReasonCooldownActive       = "cooldown-active"
)

var ErrUnknownResource = errors.New("unknown quota resource")

// QuotaExceededError 配额耗尽，可展示给用户，不应自动重试。
type QuotaExceededError struct {
	Resource   QuotaResource
	Reason     string
	RetryAfter time.Duration
	LastUsedAt time.Time
}

func (e *QuotaExceededError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("quota exceeded for %s (%s), retry after %s", e.Resource, e.Reason, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("quota exceeded for %s (%s)", e.Resource, e.Reason)
}

// QuotaDecision 是 CheckAndConsume 的结果。
// Denied 时 Reason 非空；cooldown-active 额外携带 LastUsedAt 以便计算剩余冷却时间。
type QuotaDecision struct {
	Allowed    bool
	Exempt     bool
	Resource   QuotaResource
	Tier       Tier
	Count      int
	Limit      int
	Reason     string
	LastUsedAt time.Time
	RetryAfter time.Duration
	ResetsAt   time.Time
}

// Err 在被拒绝时返回 *QuotaExceededError。
func (d QuotaDecision) Err() error {
	if d.Allowed {
		return nil
	}
	return &QuotaExceededError{
		Resource:   d.Resource,
		Reason:     d.Reason,
		RetryAfter: d.RetryAfter,
		LastUsedAt: d.LastUsedAt,
	}
}

// RemainingDays 以天为单位向上取整剩余冷却时间。
func (d QuotaDecision) RemainingDays() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	day := 24 * time.Hour
	return int((d.RetryAfter + day - 1) / day)
}

// QuotaService 按 (user, resource) 维护用量计数。
// 窗口判断与自增在一条条件 UPDATE 中完成，多端并发时不会重复扣减。
type QuotaService struct {
	db       *gorm.DB
	policies map[QuotaResource]QuotaPolicy
	zones    ZoneResolver
	loc      *time.Location
	now      func() time.Time
}

// NewQuotaService 创建配额服务；policies 为 nil 时使用默认策略。
func NewQuotaService(gdb *gorm.DB, policies map[QuotaResource]QuotaPolicy) *QuotaService {
	if policies == nil {
		policies = DefaultQuotaPolicies()
	}
	return &QuotaService{
		db:       gdb,
		policies: policies,
		loc:      time.Local,
		now:      time.Now,
	}
}

// WithClock 注入时钟，测试使用。
func (s *QuotaService) WithClock(now func() time.Time) *QuotaService {
	if now != nil {
		s.now = now
	}
	return s
}

// WithZones 按用户时区计算自然日窗口，未设置时使用 WithLocation 指定的时区。
func (s *QuotaService) WithZones(zones ZoneResolver) *QuotaService {
	s.zones = zones
	return s
}

// WithLocation 设置默认时区。
func (s *QuotaService) WithLocation(loc *time.Location) *QuotaService {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// Policy 返回资源对应的策略。
func (s *QuotaService) Policy(resource QuotaResource) (QuotaPolicy, bool) {
	policy, ok := s.policies[resource]
	return policy, ok
}

type quotaWindow struct {
	// expiredBefore 之前开始的窗口视为已过期
	expiredBefore int64
	// newStart 过期后写入的新窗口起点
	newStart int64
	rolling  time.Duration
	loc      *time.Location
}

func (w quotaWindow) crossed(windowStart int64) bool {
	return windowStart < w.expiredBefore
}

func (w quotaWindow) resetsAt(windowStart int64) time.Time {
	if w.rolling > 0 {
		return time.UnixMilli(windowStart).Add(w.rolling)
	}
	return time.UnixMilli(w.newStart).In(w.loc).AddDate(0, 0, 1)
}

func (s *QuotaService) windowFor(ctx context.Context, userID string, policy QuotaPolicy, now time.Time) quotaWindow {
	loc := resolveLocation(ctx, s.zones, s.loc, userID)
	if policy.IsRolling() {
		return quotaWindow{
			expiredBefore: now.Add(-policy.Rolling).UnixMilli() + 1,
			newStart:      now.UnixMilli(),
			rolling:       policy.Rolling,
			loc:           loc,
		}
	}
	start := startOfDay(now.In(loc)).UnixMilli()
	return quotaWindow{expiredBefore: start, newStart: start, loc: loc}
}

// CheckAndConsume 检查并消耗一次配额。
// 被拒绝时不修改计数；存储失败返回 ErrStoreUnavailable，绝不视为放行。
func (s *QuotaService) CheckAndConsume(ctx context.Context, userID string, resource QuotaResource, tier Tier) (QuotaDecision, error) {
	policy, ok := s.policies[resource]
	if !ok {
		return QuotaDecision{}, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}

	if tier == TierExempt {
		log.Printf("[QUOTA] exempt user=%s resource=%s", userID, resource)
		return QuotaDecision{Allowed: true, Exempt: true, Resource: resource, Tier: tier, Limit: Unlimited}, nil
	}

	now := s.now()
	window := s.windowFor(ctx, userID, policy, now)
	limit := policy.Ceiling(tier)

	decision := QuotaDecision{Resource: resource, Tier: tier, Limit: limit}
	if limit == 0 {
		decision.Reason = denialReason(policy, tier)
		return decision, nil
	}

	var counter db.QuotaCounter
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := db.QuotaCounter{UserID: userID, Resource: string(resource)}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}

		query := tx.Model(&db.QuotaCounter{}).
			Where("user_id = ? AND resource = ?", userID, string(resource))
		if limit != Unlimited {
			query = query.Where("(window_start < ? OR count < ?)", window.expiredBefore, limit)
		}

		result := query.Updates(map[string]interface{}{
			"count":        gorm.Expr("CASE WHEN window_start < ? THEN 1 ELSE count + 1 END", window.expiredBefore),
			"window_start": gorm.Expr("CASE WHEN window_start < ? THEN ? ELSE window_start END", window.expiredBefore, window.newStart),
			"updated_at":   now,
		})
		if result.Error != nil {
			return result.Error
		}
		decision.Allowed = result.RowsAffected == 1

		return tx.Where("user_id = ? AND resource = ?", userID, string(resource)).First(&counter).Error
	})
	if err != nil {
		return QuotaDecision{}, storeError("consume quota", err)
	}

	decision.Count = counter.Count
	decision.ResetsAt = window.resetsAt(counter.WindowStart)
	if decision.Allowed {
		return decision, nil
	}

	decision.Reason = denialReason(policy, tier)
	decision.RetryAfter = decision.ResetsAt.Sub(now)
	if policy.IsRolling() {
		decision.LastUsedAt = time.UnixMilli(counter.WindowStart)
	}
	log.Printf("[QUOTA] denied user=%s resource=%s reason=%s count=%d limit=%d", userID, resource, decision.Reason, counter.Count, limit)
	return decision, nil
}

// Usage 只读地返回当前窗口内的用量，不会触发窗口重置。
func (s *QuotaService) Usage(ctx context.Context, userID string, resource QuotaResource, tier Tier) (QuotaDecision, error) {
	policy, ok := s.policies[resource]
	if !ok {
		return QuotaDecision{}, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}
	if tier == TierExempt {
		return QuotaDecision{Allowed: true, Exempt: true, Resource: resource, Tier: tier, Limit: Unlimited}, nil
	}

	now := s.now()
	window := s.windowFor(ctx, userID, policy, now)
	limit := policy.Ceiling(tier)
	decision := QuotaDecision{Resource: resource, Tier: tier, Limit: limit}

	var counter db.QuotaCounter
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND resource = ?", userID, string(resource)).
		First(&counter).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		counter = db.QuotaCounter{}
	case err != nil:
		return QuotaDecision{}, storeError("load quota", err)
	}

	if !window.crossed(counter.WindowStart) {
		decision.Count = counter.Count
		decision.ResetsAt = window.resetsAt(counter.WindowStart)
		if policy.IsRolling() {
			decision.LastUsedAt = time.UnixMilli(counter.WindowStart)
		}
	}

	decision.Allowed = limit == Unlimited || decision.Count < limit
	if !decision.Allowed {
		decision.Reason = denialReason(policy, tier)
		if !decision.ResetsAt.IsZero() {
			decision.RetryAfter = decision.ResetsAt.Sub(now)
		}
	}
	return decision, nil
}

// BodyScanAdvisory 仅用于界面提示冷却状态。读取失败时放行，不影响真实扣减。
func (s *QuotaService) BodyScanAdvisory(ctx context.Context, userID string, tier Tier) QuotaDecision {
	decision, err := s.Usage(ctx, userID, ResourceBodyScan, tier)
	if err != nil {
		log.Printf("[QUOTA] body scan advisory failed open user=%s: %v", userID, err)
		return QuotaDecision{Allowed: true, Resource: ResourceBodyScan, Tier: tier}
	}
	return decision
}

func denialReason(policy QuotaPolicy, tier Tier) string {
	if tier == TierPremium {
		if policy.IsRolling() {
			return ReasonCooldownActive
		}
		return ReasonExhaustedPremiumTier
	}
	return ReasonExhaustedFreeTier
}
