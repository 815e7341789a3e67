package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/streakline/internal/config"
)

// QuotaResource 标识一类受配额限制的操作。
type QuotaResource string

const (
	ResourceAIInference QuotaResource = "ai_inference"
	ResourceSocialPost  QuotaResource = "social_post"
	ResourceComment     QuotaResource = "comment"
	ResourceBodyScan    QuotaResource = "body_scan"
)

// Unlimited 表示该等级在此资源上没有上限（仍会计数）。
const Unlimited = -1

// QuotaPolicy 描述单个资源的窗口与各等级上限。
// Rolling 为 0 时按用户本地自然日重置；否则为滚动窗口（从上次消耗起算）。
type QuotaPolicy struct {
	Rolling time.Duration
	Free    int
	Premium int
}

// Ceiling 返回指定等级的上限，exempt 始终不受限。
func (p QuotaPolicy) Ceiling(tier Tier) int {
	switch tier {
	case TierExempt:
		return Unlimited
	case TierPremium:
		return p.Premium
	default:
		return p.Free
	}
}

// IsRolling 是否为滚动窗口。
func (p QuotaPolicy) IsRolling() bool {
	return p.Rolling > 0
}

// DefaultQuotaPolicies 返回线上使用的默认策略。
func DefaultQuotaPolicies() map[QuotaResource]QuotaPolicy {
	return map[QuotaResource]QuotaPolicy{
		ResourceAIInference: {Free: 1, Premium: 13},
		ResourceSocialPost:  {Free: 1, Premium: 1},
		ResourceComment:     {Free: 20, Premium: 20},
		ResourceBodyScan:    {Rolling: 7 * 24 * time.Hour, Free: 0, Premium: 1},
	}
}

// ApplyQuotaOverrides 将 YAML 覆盖项合并进策略表，允许新增资源。
// window 支持 "daily"、"<N>d" 以及 Go duration（如 "36h"）。
func ApplyQuotaOverrides(policies map[QuotaResource]QuotaPolicy, file *config.QuotaPolicyFile) error {
	if file == nil {
		return nil
	}

	for name, override := range file.Resources {
		resource := QuotaResource(strings.TrimSpace(strings.ToLower(name)))
		if resource == "" {
			return fmt.Errorf("quota override with empty resource name")
		}

		policy := policies[resource]
		if strings.TrimSpace(override.Window) != "" {
			rolling, err := parseQuotaWindow(override.Window)
			if err != nil {
				return fmt.Errorf("quota override %s: %w", resource, err)
			}
			policy.Rolling = rolling
		}
		if override.Free != nil {
			if *override.Free < Unlimited {
				return fmt.Errorf("quota override %s: invalid free ceiling %d", resource, *override.Free)
			}
			policy.Free = *override.Free
		}
		if override.Premium != nil {
			if *override.Premium < Unlimited {
				return fmt.Errorf("quota override %s: invalid premium ceiling %d", resource, *override.Premium)
			}
			policy.Premium = *override.Premium
		}
		policies[resource] = policy
	}
	return nil
}

func parseQuotaWindow(raw string) (time.Duration, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "daily" || value == "day" {
		return 0, nil
	}

	if strings.HasSuffix(value, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(value, "d"))
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid window %q", raw)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid window %q", raw)
	}
	return parsed, nil
}
