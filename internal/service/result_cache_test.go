package service

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/image/draw"
)

func TestResultCacheTTLRoundTrip(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cache := NewResultCache[FoodAnalysis](7 * 24 * time.Hour).WithClock(clock.Now)

	cache.Store("Two eggs and toast", FoodAnalysis{Name: "eggs", Calories: 320})

	clock.Advance(7 * 24 * time.Hour)
	got, ok := cache.Lookup("two  EGGS and toast ")
	if !ok || got.Calories != 320 {
		t.Fatalf("expected hit within ttl, got %+v %v", got, ok)
	}

	clock.Advance(time.Second)
	if _, ok := cache.Lookup("Two eggs and toast"); ok {
		t.Fatal("expected miss after ttl")
	}
	if cache.Len() != 0 {
		t.Fatalf("expired entry should be evicted on lookup, len=%d", cache.Len())
	}

	cache.Store("Two eggs and toast", FoodAnalysis{Name: "eggs", Calories: 300})
	if got, ok := cache.Lookup("Two eggs and toast"); !ok || got.Calories != 300 {
		t.Fatalf("expected fresh entry after re-store, got %+v %v", got, ok)
	}
}

func TestCacheKeyDerivation(t *testing.T) {
	if got := CacheKey("  Grilled\tChicken   Salad "); got != "text_grilled_chicken_salad" {
		t.Fatalf("unexpected text key %q", got)
	}
	if CacheKey("ΣΊΣΥΦΟΣ") != CacheKey("σίσυφος") {
		t.Fatal("case folding should map final sigma and capital sigma to the same key")
	}

	payload := strings.Repeat("A", 100) + "tail-one"
	other := strings.Repeat("A", 100) + "tail-two"
	if !strings.HasPrefix(CacheKey(payload), "img_") {
		t.Fatalf("unexpected image key %q", CacheKey(payload))
	}
	if CacheKey(payload) != CacheKey(strings.Repeat("A", 100)+"tail-one") {
		t.Fatal("identical payloads must share a key")
	}
	if CacheKey(payload) == CacheKey(other) {
		t.Fatal("payloads sharing a prefix must not collide")
	}
}

func TestResultCacheKeepsDistinctPreparedImagesApart(t *testing.T) {
	red, err := PrepareImage(solidPNG(t, 64, 64, color.RGBA{R: 255, A: 255}))
	if err != nil {
		t.Fatalf("PrepareImage returned error: %v", err)
	}
	blue, err := PrepareImage(solidPNG(t, 300, 200, color.RGBA{B: 255, A: 255}))
	if err != nil {
		t.Fatalf("PrepareImage returned error: %v", err)
	}
	// 同一编码器输出的 JPEG 头部相同
	if red[:100] != blue[:100] {
		t.Fatalf("expected re-encoded images to share a header prefix")
	}

	cache := NewResultCache[FoodAnalysis](time.Hour)
	cache.Store(red, FoodAnalysis{Name: "tomato"})
	cache.Store(blue, FoodAnalysis{Name: "blueberry"})

	if cache.Len() != 2 {
		t.Fatalf("expected 2 cache entries, got %d", cache.Len())
	}
	if got, ok := cache.Lookup(red); !ok || got.Name != "tomato" {
		t.Fatalf("red lookup = %+v %v", got, ok)
	}
	if got, ok := cache.Lookup(blue); !ok || got.Name != "blueberry" {
		t.Fatalf("blue lookup = %+v %v", got, ok)
	}
}

func solidPNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestResultCacheSweepsWhenLarge(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cache := NewResultCache[int](time.Hour).WithClock(clock.Now)

	for i := 0; i < 60; i++ {
		cache.Store(fmt.Sprintf("old %d", i), i)
	}
	clock.Advance(2 * time.Hour)
	for i := 0; i < 41; i++ {
		cache.Store(fmt.Sprintf("new %d", i), i)
	}

	// 第 101 条写入触发清理，旧条目全部移除
	if cache.Len() != 41 {
		t.Fatalf("expected sweep to leave 41 entries, got %d", cache.Len())
	}
}

func TestResultCacheConcurrentStores(t *testing.T) {
	cache := NewResultCache[int](time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			cache.Store("same meal", n)
			cache.Lookup("same meal")
		}(i)
	}
	wg.Wait()

	if _, ok := cache.Lookup("same meal"); !ok {
		t.Fatal("expected last write to be present")
	}
}
