package db

import (
	"time"

	"gorm.io/datatypes"
)

const (
	// NotificationRelapseAlert 在好友当日破戒时创建。
	NotificationRelapseAlert = "relapse_alert"
	// NotificationDistressSignal 在好友主动求助时创建。
	NotificationDistressSignal = "distress_signal"
)

// Notification 盟友提醒，只允许翻转 Read，核心逻辑不会删除
type Notification struct {
	ID          string         `gorm:"primaryKey;size:36"`
	RecipientID string         `gorm:"size:64;not null;index:idx_notification_recipient"`
	SenderID    string         `gorm:"size:64;not null"`
	Kind        string         `gorm:"size:32;not null"`
	Payload     datatypes.JSON `gorm:"type:text"`
	Read        bool           `gorm:"not null;default:false;index:idx_notification_recipient"`
	CreatedAt   time.Time      `gorm:"index"`
}

// TableName 指定自定义表名。
func (Notification) TableName() string {
	return "notifications"
}

const (
	FriendStatusPending  = "pending"
	FriendStatusAccepted = "accepted"
	FriendStatusDeclined = "declined"
)

// FriendRelationship 好友关系，UserID 为发起方，FriendID 为接收方
type FriendRelationship struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"size:64;not null;index;uniqueIndex:ux_friend_pair"`
	FriendID  string `gorm:"size:64;not null;index;uniqueIndex:ux_friend_pair"`
	Status    string `gorm:"size:16;not null;default:pending"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 指定自定义表名。
func (FriendRelationship) TableName() string {
	return "friend_relationships"
}
