package handler

import (
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/streakline/internal/service"
)

const (
	userHeader     = "X-User-ID"
	userContextKey = "__user_id"
)

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, message)
		return false
	}
	return true
}

// RequireUser 从 X-User-ID 读取调用方身份；鉴权由上游网关完成。
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(userHeader))
		if userID == "" {
			respondError(c, http.StatusUnauthorized, "missing user identity")
			c.Abort()
			return
		}
		c.Set(userContextKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	if v, ok := c.Get(userContextKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return strings.TrimSpace(c.GetHeader(userHeader))
}

func parseLimitQuery(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > 200 {
		return 200
	}
	return value
}

func retryAfterSeconds(err *service.QuotaExceededError) int64 {
	if err.RetryAfter <= 0 {
		return 0
	}
	return int64(math.Ceil(err.RetryAfter.Seconds()))
}

// respondServiceError 将服务层错误映射为 HTTP 状态码。
func respondServiceError(c *gin.Context, err error) {
	var (
		quotaErr     *service.QuotaExceededError
		inferenceErr *service.InferenceError
	)

	switch {
	case errors.As(err, &quotaErr):
		seconds := retryAfterSeconds(quotaErr)
		if seconds > 0 {
			c.Header("Retry-After", strconv.FormatInt(seconds, 10))
		}
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":               quotaErr.Error(),
			"resource":            quotaErr.Resource,
			"reason":              quotaErr.Reason,
			"retry_after_seconds": seconds,
		})
	case errors.Is(err, service.ErrStoreUnavailable):
		log.Printf("[HTTP] store unavailable: %v", err)
		respondError(c, http.StatusServiceUnavailable, "storage temporarily unavailable")
	case errors.Is(err, service.ErrImageEmpty),
		errors.Is(err, service.ErrImageTooLarge),
		errors.Is(err, service.ErrImageUndecodable),
		errors.Is(err, service.ErrFoodDescriptionRequired),
		errors.Is(err, service.ErrUnknownResource),
		errors.Is(err, service.ErrInvitationCodeRequired),
		errors.Is(err, service.ErrInvitationInvalid),
		errors.Is(err, service.ErrFriendSelf):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvitationExhausted),
		errors.Is(err, service.ErrInvitationAlreadyRedeemed),
		errors.Is(err, service.ErrFriendExists),
		errors.Is(err, service.ErrFriendHandled),
		errors.Is(err, service.ErrCheckInConflict):
		respondError(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrFriendNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.As(err, &inferenceErr):
		log.Printf("[HTTP] inference failed: %v", err)
		if inferenceErr.Exhausted {
			respondError(c, http.StatusServiceUnavailable, "AI service is busy, please try again later")
			return
		}
		respondError(c, http.StatusBadGateway, "AI analysis failed")
	default:
		log.Printf("[HTTP] unexpected error: %v", err)
		respondError(c, http.StatusInternalServerError, "internal error")
	}
}
