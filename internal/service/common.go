package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrStoreUnavailable 标记所有持久层失败，调用方需原样上抛，不得视为放行。
var ErrStoreUnavailable = errors.New("store unavailable")

func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// Tier 表示用户的付费等级，决定各类配额上限。
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
	// TierExempt 不受任何配额限制（创始人账号）。
	TierExempt Tier = "exempt"
)

// TierResolver 根据用户 ID 查询其等级。
type TierResolver interface {
	Tier(ctx context.Context, userID string) (Tier, error)
}

// ZoneResolver 返回用户所在时区，用于计算「用户本地的今天」。
type ZoneResolver interface {
	Location(ctx context.Context, userID string) *time.Location
}

const dateLayout = "2006-01-02"

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func resolveLocation(ctx context.Context, zones ZoneResolver, fallback *time.Location, userID string) *time.Location {
	if zones != nil {
		if loc := zones.Location(ctx, userID); loc != nil {
			return loc
		}
	}
	if fallback != nil {
		return fallback
	}
	return time.Local
}

// keyedMutex 为每个 key 提供独立的互斥锁，空闲后自动回收。
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	lock, ok := k.locks[key]
	if !ok {
		lock = &keyedLock{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		k.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
