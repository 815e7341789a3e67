package db

import "time"

// Profile 定义了核心引擎关心的用户属性
// 其余资料（头像、简介等）由外部 CRUD 维护
type Profile struct {
	UserID    string `gorm:"primaryKey;size:64"`
	IsPremium bool   `gorm:"not null;default:false"`
	IsFounder bool   `gorm:"not null;default:false"`
	Timezone  string `gorm:"size:64"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 指定自定义表名。
func (Profile) TableName() string {
	return "profiles"
}

// InvitationCode 邀请码，兑换后用户升级为 premium
type InvitationCode struct {
	Code      string `gorm:"primaryKey;size:32"`
	MaxUses   int    `gorm:"not null;default:1"`
	UsedCount int    `gorm:"not null;default:0"`
	CreatedAt time.Time
}

// TableName 指定自定义表名。
func (InvitationCode) TableName() string {
	return "invitation_codes"
}

// InvitationRedemption 兑换记录，每个用户只能兑换一次
type InvitationRedemption struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:64;not null;uniqueIndex"`
	Code      string `gorm:"size:32;not null;index"`
	CreatedAt time.Time
}

// TableName 指定自定义表名。
func (InvitationRedemption) TableName() string {
	return "invitation_redemptions"
}
