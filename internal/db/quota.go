package db

import "time"

// QuotaCounter 记录用户在某类资源上的用量。
// 每个 (user, resource) 仅一行；WindowStart 以毫秒时间戳保存，便于在 SQL 中直接比较窗口边界。
// 对于滚动窗口（如体态扫描），WindowStart 即最近一次消耗的时间。
type QuotaCounter struct {
	UserID      string `gorm:"primaryKey;size:64"`
	Resource    string `gorm:"primaryKey;size:32"`
	WindowStart int64  `gorm:"not null;default:0"`
	Count       int    `gorm:"not null;default:0"`
	UpdatedAt   time.Time
}

// TableName 指定自定义表名，避免自动复数化导致的歧义。
func (QuotaCounter) TableName() string {
	return "quota_counters"
}
