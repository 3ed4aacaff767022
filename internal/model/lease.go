package model

import "time"

// SyncLease is an advisory lock row. Only the holder may drain the queue
// until ExpiresAt (epoch ms).
type SyncLease struct {
	Name      string `gorm:"primaryKey;size:64"`
	Holder    string `gorm:"size:64;not null"`
	ExpiresAt int64  `gorm:"not null"`
	UpdatedAt time.Time
}
