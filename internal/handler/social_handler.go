package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type redeemPayload struct {
	Code string `json:"code"`
}

type friendRequestPayload struct {
	FriendID string `json:"friend_id"`
}

type friendRespondPayload struct {
	Accept bool `json:"accept"`
}

// GetMe 汇总当前用户的等级、连胜与未读提醒。
func (a *API) GetMe(c *gin.Context) {
	ctx := c.Request.Context()
	userID := currentUser(c)

	tier, err := a.profiles.Tier(ctx, userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	streak, err := a.checkins.Streak(ctx, userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	unread, err := a.notifications.UnreadCount(ctx, userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"tier":    tier,
		"today":   a.checkins.Today(ctx, userID),
		"streak":  streak,
		"unread":  unread,
	})
}

// RedeemInvitation 兑换邀请码升级为 premium。
func (a *API) RedeemInvitation(c *gin.Context) {
	var payload redeemPayload
	if !bindJSON(c, &payload, "invalid invitation payload") {
		return
	}

	if err := a.profiles.RedeemInvitationCode(c.Request.Context(), currentUser(c), payload.Code); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tier": "premium"})
}

// RequestFriend 发起好友申请。
func (a *API) RequestFriend(c *gin.Context) {
	var payload friendRequestPayload
	if !bindJSON(c, &payload, "invalid friend payload") {
		return
	}
	friendID := strings.TrimSpace(payload.FriendID)
	if friendID == "" {
		respondError(c, http.StatusBadRequest, "friend_id is required")
		return
	}

	rel, err := a.friends.Request(c.Request.Context(), currentUser(c), friendID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": rel.ID, "status": rel.Status})
}

// RespondFriend 接收方处理好友申请。
func (a *API) RespondFriend(c *gin.Context) {
	var payload friendRespondPayload
	if !bindJSON(c, &payload, "invalid respond payload") {
		return
	}

	rel, err := a.friends.Respond(c.Request.Context(), strings.TrimSpace(c.Param("id")), currentUser(c), payload.Accept)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": rel.ID, "status": rel.Status})
}
