package service

import (
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
)

const (
	// DefaultResultCacheTTL 结果缓存默认保留 7 天
	DefaultResultCacheTTL = 7 * 24 * time.Hour
	// 超过该长度的输入按图片等二进制内容处理，key 取全文哈希
	cacheKeyBinaryLen = 100
	// 条目数超过该值时在写入后全量清理过期项
	cacheSweepThreshold = 100
)

type cacheEntry[T any] struct {
	value     T
	createdAt time.Time
}

// ResultCache 以规整后的输入为 key 缓存昂贵的 AI 结果。
// 过期条目在读取时惰性删除；条目较多时写入会触发一次全量清理。
type ResultCache[T any] struct {
	mu      sync.Mutex
	entries map[string]cacheEntry[T]
	ttl     time.Duration
	sweepAt int
	now     func() time.Time
}

// NewResultCache 创建缓存，ttl <= 0 时使用默认值。
func NewResultCache[T any](ttl time.Duration) *ResultCache[T] {
	if ttl <= 0 {
		ttl = DefaultResultCacheTTL
	}
	return &ResultCache[T]{
		entries: make(map[string]cacheEntry[T]),
		ttl:     ttl,
		sweepAt: cacheSweepThreshold,
		now:     time.Now,
	}
}

// WithClock 注入时钟。
func (c *ResultCache[T]) WithClock(now func() time.Time) *ResultCache[T] {
	if now != nil {
		c.now = now
	}
	return c
}

// CacheKey 生成内容寻址的 key：长输入取全文 FNV-1a 哈希，短文本折叠大小写并合并空白。
// 重新编码的 JPEG 头部字节固定，只看前缀会让所有图片落到同一个 key。
func CacheKey(raw string) string {
	if len(raw) > cacheKeyBinaryLen {
		h := fnv.New64a()
		h.Write([]byte(raw))
		return "img_" + strconv.Itoa(len(raw)) + "_" + strconv.FormatUint(h.Sum64(), 16)
	}
	folded := cases.Fold().String(strings.TrimSpace(raw))
	return "text_" + strings.Join(strings.Fields(folded), "_")
}

// Lookup 命中且未过期时返回结果；过期条目会被删除并视为未命中。
func (c *ResultCache[T]) Lookup(raw string) (T, bool) {
	key := CacheKey(raw)

	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	entry, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.expired(entry, c.now()) {
		delete(c.entries, key)
		return zero, false
	}
	return entry.value, true
}

// Store 写入结果，后写覆盖先写。
func (c *ResultCache[T]) Store(raw string, value T) {
	key := CacheKey(raw)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry[T]{value: value, createdAt: now}
	if len(c.entries) > c.sweepAt {
		c.sweepLocked(now)
	}
}

// Len 返回当前条目数（含尚未清理的过期项）。
func (c *ResultCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep 立即清理全部过期条目，返回删除数量。
func (c *ResultCache[T]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.now())
}

func (c *ResultCache[T]) sweepLocked(now time.Time) int {
	removed := 0
	for key, entry := range c.entries {
		if c.expired(entry, now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *ResultCache[T]) expired(entry cacheEntry[T], now time.Time) bool {
	return now.Sub(entry.createdAt) > c.ttl
}
