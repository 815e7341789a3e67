package handler

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streakline/internal/service"
)

type quotaView struct {
	Resource          string `json:"resource"`
	Tier              string `json:"tier"`
	Allowed           bool   `json:"allowed"`
	Exempt            bool   `json:"exempt"`
	Count             int    `json:"count"`
	Limit             int    `json:"limit"`
	Reason            string `json:"reason,omitempty"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
	RemainingDays     int    `json:"remaining_days,omitempty"`
	LastUsedAt        string `json:"last_used_at,omitempty"`
	ResetsAt          string `json:"resets_at,omitempty"`
}

func newQuotaView(d service.QuotaDecision) quotaView {
	view := quotaView{
		Resource:      string(d.Resource),
		Tier:          string(d.Tier),
		Allowed:       d.Allowed,
		Exempt:        d.Exempt,
		Count:         d.Count,
		Limit:         d.Limit,
		Reason:        d.Reason,
		RemainingDays: d.RemainingDays(),
	}
	if d.RetryAfter > 0 {
		view.RetryAfterSeconds = int64(math.Ceil(d.RetryAfter.Seconds()))
	}
	if !d.LastUsedAt.IsZero() {
		view.LastUsedAt = d.LastUsedAt.UTC().Format(time.RFC3339)
	}
	if !d.ResetsAt.IsZero() {
		view.ResetsAt = d.ResetsAt.UTC().Format(time.RFC3339)
	}
	return view
}

func quotaResourceParam(c *gin.Context) service.QuotaResource {
	raw := strings.ToLower(strings.TrimSpace(c.Param("resource")))
	return service.QuotaResource(strings.ReplaceAll(raw, "-", "_"))
}

// GetQuota 返回当前窗口的用量；体态扫描走失败放行的冷却提示。
func (a *API) GetQuota(c *gin.Context) {
	ctx := c.Request.Context()
	userID := currentUser(c)
	resource := quotaResourceParam(c)

	tier, err := a.profiles.Tier(ctx, userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	if resource == service.ResourceBodyScan {
		c.JSON(http.StatusOK, newQuotaView(a.quota.BodyScanAdvisory(ctx, userID, tier)))
		return
	}

	decision, err := a.quota.Usage(ctx, userID, resource, tier)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newQuotaView(decision))
}

// ConsumeQuota 供发帖、评论等外部流程扣减一次配额；被拒绝时返回 429。
func (a *API) ConsumeQuota(c *gin.Context) {
	ctx := c.Request.Context()
	userID := currentUser(c)
	resource := quotaResourceParam(c)

	tier, err := a.profiles.Tier(ctx, userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	decision, err := a.quota.CheckAndConsume(ctx, userID, resource, tier)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	view := newQuotaView(decision)
	if !decision.Allowed {
		if view.RetryAfterSeconds > 0 {
			c.Header("Retry-After", strconv.FormatInt(view.RetryAfterSeconds, 10))
		}
		c.JSON(http.StatusTooManyRequests, view)
		return
	}
	c.JSON(http.StatusOK, view)
}
