package service

import (
	"context"
	"encoding/json"
	"errors"
	"html"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/streakline/internal/db"
)

const (
	maxDistressMessageRunes    = 280
	defaultNotificationPageLen = 50
)

// NotificationService 向好友扇出破戒与求助提醒，并跟踪已读状态。
type NotificationService struct {
	db        *gorm.DB
	peers     PeerDirectory
	sanitizer *bluemonday.Policy
	now       func() time.Time
}

// NewNotificationService 创建提醒服务，peers 提供已接受的好友集合。
func NewNotificationService(gdb *gorm.DB, peers PeerDirectory) *NotificationService {
	return &NotificationService{
		db:        gdb,
		peers:     peers,
		sanitizer: bluemonday.StrictPolicy(),
		now:       time.Now,
	}
}

// WithClock 注入时钟。
func (s *NotificationService) WithClock(now func() time.Time) *NotificationService {
	if now != nil {
		s.now = now
	}
	return s
}

// NotifyRelapse 通知所有好友 senderID 今天破戒了，返回创建的提醒数量。
func (s *NotificationService) NotifyRelapse(ctx context.Context, senderID string, at time.Time) (int, error) {
	return s.fanOut(ctx, senderID, db.NotificationRelapseAlert, map[string]interface{}{
		"reset_at": at.UTC().Format(time.RFC3339),
	})
}

// BroadcastDistress 向所有好友发出求助信号，消息会去除 HTML 并截断。
func (s *NotificationService) BroadcastDistress(ctx context.Context, senderID, message string) (int, error) {
	payload := map[string]interface{}{}
	if clean := s.cleanMessage(message); clean != "" {
		payload["message"] = clean
	}
	return s.fanOut(ctx, senderID, db.NotificationDistressSignal, payload)
}

// cleanMessage 去掉标签后还原实体，payload 里存的是纯文本。
func (s *NotificationService) cleanMessage(message string) string {
	clean := strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(message)))
	if utf8.RuneCountInString(clean) <= maxDistressMessageRunes {
		return clean
	}
	runes := []rune(clean)
	return string(runes[:maxDistressMessageRunes])
}

func (s *NotificationService) fanOut(ctx context.Context, senderID, kind string, payload map[string]interface{}) (int, error) {
	if senderID == "" {
		return 0, errors.New("sender id is required")
	}
	if s.peers == nil {
		return 0, nil
	}

	peers, err := s.peers.AcceptedPeers(ctx, senderID)
	if err != nil {
		return 0, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	now := s.now()
	rows := make([]db.Notification, 0, len(peers))
	for _, peer := range peers {
		if peer == "" || peer == senderID {
			continue
		}
		rows = append(rows, db.Notification{
			ID:          uuid.NewString(),
			RecipientID: peer,
			SenderID:    senderID,
			Kind:        kind,
			Payload:     datatypes.JSON(raw),
			CreatedAt:   now,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return 0, storeError("create notifications", err)
	}
	log.Printf("[NOTIFY] kind=%s sender=%s recipients=%d", kind, senderID, len(rows))
	return len(rows), nil
}

// List 按时间倒序返回收件人的提醒，limit <= 0 时使用默认分页。
func (s *NotificationService) List(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]db.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationPageLen
	}
	query := s.db.WithContext(ctx).Where("recipient_id = ?", recipientID)
	if unreadOnly {
		query = query.Where("read = ?", false)
	}

	var items []db.Notification
	if err := query.Order("created_at DESC").Limit(limit).Find(&items).Error; err != nil {
		return nil, storeError("list notifications", err)
	}
	return items, nil
}

// UnreadCount 未读数量
func (s *NotificationService) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&db.Notification{}).
		Where("recipient_id = ? AND read = ?", recipientID, false).
		Count(&count).Error; err != nil {
		return 0, storeError("count notifications", err)
	}
	return count, nil
}

// MarkAllRead 将收件人的全部提醒标为已读。
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&db.Notification{}).
		Where("recipient_id = ? AND read = ?", recipientID, false).
		Update("read", true)
	if res.Error != nil {
		return 0, storeError("mark notifications read", res.Error)
	}
	return res.RowsAffected, nil
}

// MarkRead 只标记属于该收件人的指定提醒。
func (s *NotificationService) MarkRead(ctx context.Context, recipientID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&db.Notification{}).
		Where("recipient_id = ? AND id IN ? AND read = ?", recipientID, ids, false).
		Update("read", true)
	if res.Error != nil {
		return 0, storeError("mark notifications read", res.Error)
	}
	return res.RowsAffected, nil
}
