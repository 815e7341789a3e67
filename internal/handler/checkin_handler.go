package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/streakline/internal/service"
)

type checkInPayload struct {
	Date   string `json:"date"`
	Status string `json:"status"`
}

type transitionView struct {
	Date       string                 `json:"date"`
	Previous   string                 `json:"previous"`
	Current    string                 `json:"current"`
	Applied    bool                   `json:"applied"`
	Ignored    string                 `json:"ignored,omitempty"`
	Streak     service.StreakSnapshot `json:"streak"`
	AlertsSent int                    `json:"alerts_sent"`
}

type checkInEntryView struct {
	Date   string `json:"date"`
	Status string `json:"status"`
}

func statusLabel(s service.DayStatus) string {
	if s == service.StatusUnset {
		return "unset"
	}
	return string(s)
}

func newTransitionView(result service.TransitionResult) transitionView {
	view := transitionView{
		Date:       result.Date,
		Previous:   statusLabel(result.Previous),
		Current:    statusLabel(result.Current),
		Applied:    result.Applied,
		Streak:     result.Streak,
		AlertsSent: result.AlertsSent,
	}
	if result.Rejected != nil {
		view.Ignored = result.Rejected.Error()
		view.Previous = ""
		view.Current = ""
	}
	return view
}

// RecordCheckIn 直接写入某天的状态，date 为空时记录今天。
func (a *API) RecordCheckIn(c *gin.Context) {
	var payload checkInPayload
	if !bindJSON(c, &payload, "invalid check-in payload") {
		return
	}

	status, ok := service.ParseDayStatus(strings.ToLower(strings.TrimSpace(payload.Status)))
	if !ok {
		respondError(c, http.StatusBadRequest, "status must be success or relapse")
		return
	}

	userID := currentUser(c)
	date := strings.TrimSpace(payload.Date)
	if date == "" {
		date = a.checkins.Today(c.Request.Context(), userID)
	}

	result, err := a.checkins.Record(c.Request.Context(), userID, date, status)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTransitionView(result))
}

// CycleCheckIn 日历点击：按 unset → success → relapse 轮换
func (a *API) CycleCheckIn(c *gin.Context) {
	result, err := a.checkins.Cycle(c.Request.Context(), currentUser(c), strings.TrimSpace(c.Param("date")))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTransitionView(result))
}

// ListCheckIns 返回打卡历史与当前连胜。
func (a *API) ListCheckIns(c *gin.Context) {
	ctx := c.Request.Context()
	userID := currentUser(c)

	entries, err := a.checkins.History(ctx, userID, service.HistoryFilter{
		From: strings.TrimSpace(c.Query("from")),
		To:   strings.TrimSpace(c.Query("to")),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	streak, err := a.checkins.Streak(ctx, userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	items := make([]checkInEntryView, 0, len(entries))
	for _, entry := range entries {
		items = append(items, checkInEntryView{Date: entry.Date, Status: entry.Status})
	}

	c.JSON(http.StatusOK, gin.H{
		"today":   a.checkins.Today(ctx, userID),
		"streak":  streak,
		"entries": items,
	})
}
