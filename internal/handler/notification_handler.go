package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type distressPayload struct {
	Message string `json:"message"`
}

type markReadPayload struct {
	IDs []string `json:"ids"`
}

type notificationView struct {
	ID        string          `json:"id"`
	SenderID  string          `json:"sender_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Read      bool            `json:"read"`
	CreatedAt string          `json:"created_at"`
}

// BroadcastDistress 向所有好友发送求助信号。
func (a *API) BroadcastDistress(c *gin.Context) {
	var payload distressPayload
	if !bindJSON(c, &payload, "invalid distress payload") {
		return
	}

	sent, err := a.notifications.BroadcastDistress(c.Request.Context(), currentUser(c), payload.Message)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": sent})
}

// ListNotifications 返回提醒列表与未读数，?unread=1 只看未读。
func (a *API) ListNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	userID := currentUser(c)
	unreadOnly := c.Query("unread") == "1" || c.Query("unread") == "true"

	items, err := a.notifications.List(ctx, userID, unreadOnly, parseLimitQuery(c, "limit", 50))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	unread, err := a.notifications.UnreadCount(ctx, userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	views := make([]notificationView, 0, len(items))
	for _, item := range items {
		payload := json.RawMessage(item.Payload)
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}
		views = append(views, notificationView{
			ID:        item.ID,
			SenderID:  item.SenderID,
			Kind:      item.Kind,
			Payload:   payload,
			Read:      item.Read,
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{"items": views, "unread": unread})
}

// MarkNotificationsRead ids 为空时全部标记已读。
func (a *API) MarkNotificationsRead(c *gin.Context) {
	var payload markReadPayload
	if c.Request.ContentLength != 0 {
		if !bindJSON(c, &payload, "invalid read payload") {
			return
		}
	}

	ctx := c.Request.Context()
	userID := currentUser(c)

	var (
		marked int64
		err    error
	)
	if len(payload.IDs) == 0 {
		marked, err = a.notifications.MarkAllRead(ctx, userID)
	} else {
		marked, err = a.notifications.MarkRead(ctx, userID, payload.IDs)
	}
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": marked})
}
