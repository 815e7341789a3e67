package handler

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/streakline/internal/config"
	"github.com/streakline/internal/service"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db            *gorm.DB
	profiles      *service.ProfileService
	friends       *service.FriendService
	notifications *service.NotificationService
	checkins      *service.CheckInService
	quota         *service.QuotaService
	nutrition     *service.NutritionService
}

// Dependencies 允许测试替换外部协作者，零值使用配置中的默认实现。
type Dependencies struct {
	Inference service.InferenceClient
	Invoker   *service.Invoker
	Clock     func() time.Time
	Policies  map[service.QuotaResource]service.QuotaPolicy
}

// NewAPI constructs a handler set with shared services.
func NewAPI(gdb *gorm.DB, cfg config.AppConfig, deps Dependencies) (*API, error) {
	loc := cfg.Location()
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	policies := deps.Policies
	if policies == nil {
		policies = service.DefaultQuotaPolicies()
		file, err := config.LoadQuotaPolicyFile(cfg.QuotaPolicyFile)
		if err != nil {
			return nil, err
		}
		if err := service.ApplyQuotaOverrides(policies, file); err != nil {
			return nil, fmt.Errorf("apply quota policy: %w", err)
		}
	}

	inference := deps.Inference
	if inference == nil {
		inference = service.NewGeminiClient(cfg.GeminiBaseURL, cfg.GeminiAPIKey)
	}

	profiles := service.NewProfileService(gdb, loc)
	friends := service.NewFriendService(gdb)
	notifications := service.NewNotificationService(gdb, friends).WithClock(clock)
	checkins := service.NewCheckInService(gdb).
		WithClock(clock).
		WithLocation(loc).
		WithZones(profiles).
		WithRelapseListener(notifications)
	quota := service.NewQuotaService(gdb, policies).
		WithClock(clock).
		WithLocation(loc).
		WithZones(profiles)

	nutrition := service.NewNutritionService(quota, profiles, inference, service.NutritionOptions{
		FoodModel: cfg.GeminiFoodModel,
		BodyModel: cfg.GeminiBodyModel,
		Retry:     service.RetryPolicy{MaxRetries: cfg.AIMaxRetries, InitialDelay: cfg.AIInitialDelay},
		Invoker:   deps.Invoker,
		Cache:     service.NewResultCache[service.FoodAnalysis](cfg.ResultCacheTTL).WithClock(clock),
	})

	return &API{
		db:            gdb,
		profiles:      profiles,
		friends:       friends,
		notifications: notifications,
		checkins:      checkins,
		quota:         quota,
		nutrition:     nutrition,
	}, nil
}

// DB exposes the underlying gorm instance.
func (a *API) DB() *gorm.DB {
	return a.db
}
