package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/streakline/internal/service"
)

type foodPayload struct {
	Description string `json:"description"`
	Image       string `json:"image"`
}

type bodyScanPayload struct {
	Image    string  `json:"image"`
	WeightKg float64 `json:"weight_kg"`
	HeightCm float64 `json:"height_cm"`
}

// AnalyzeFood 文字描述或图片二选一，图片优先。
func (a *API) AnalyzeFood(c *gin.Context) {
	var payload foodPayload
	if !bindJSON(c, &payload, "invalid food payload") {
		return
	}

	ctx := c.Request.Context()
	userID := currentUser(c)

	var (
		result service.FoodResult
		err    error
	)
	if strings.TrimSpace(payload.Image) != "" {
		raw, decodeErr := service.DecodeImagePayload(payload.Image)
		if decodeErr != nil {
			respondServiceError(c, decodeErr)
			return
		}
		result, err = a.nutrition.AnalyzeFoodImage(ctx, userID, raw)
	} else {
		result, err = a.nutrition.AnalyzeFoodText(ctx, userID, payload.Description)
	}
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// AnalyzeBodyScan 体态扫描，只有 premium 可用且受 7 天冷却限制。
func (a *API) AnalyzeBodyScan(c *gin.Context) {
	var payload bodyScanPayload
	if !bindJSON(c, &payload, "invalid body scan payload") {
		return
	}
	if payload.WeightKg <= 0 || payload.HeightCm <= 0 {
		respondError(c, http.StatusBadRequest, "weight_kg and height_cm must be positive")
		return
	}

	raw, err := service.DecodeImagePayload(payload.Image)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	result, err := a.nutrition.AnalyzeBodyComposition(c.Request.Context(), currentUser(c), raw, payload.WeightKg, payload.HeightCm)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
