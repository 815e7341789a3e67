package db

import "time"

const (
	// CheckInSuccess 表示当日守住。
	CheckInSuccess = "success"
	// CheckInRelapse 表示当日破戒。
	CheckInRelapse = "relapse"
)

// CheckIn 记录单个用户单个自然日的打卡状态
// UserID + Date 采用唯一索引，保证每天至多一条；Date 为用户本地日期 YYYY-MM-DD
// 记录不存在即表示 unset
type CheckIn struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:64;not null;index:idx_check_in_unique,unique"`
	Date      string `gorm:"size:10;not null;index:idx_check_in_unique,unique"`
	Status    string `gorm:"size:16;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 重写确保唯一索引作用到 user_id + date
func (CheckIn) TableName() string {
	return "check_ins"
}

// StreakState 保存连胜天数与赛季编号
// CurrentStreak 只由「今天」的状态变化修改，不会根据历史重新推导
// SeasonIndex = 1 + 累计 relapse 次数
type StreakState struct {
	UserID        string `gorm:"primaryKey;size:64"`
	CurrentStreak int    `gorm:"not null;default:0"`
	SeasonIndex   int    `gorm:"not null;default:1"`
	UpdatedAt     time.Time
}

// TableName 指定自定义表名。
func (StreakState) TableName() string {
	return "streak_states"
}
