package model

import (
	"time"
)

type User struct {
	ID        uint64    `gorm:"primaryKey"`
	Username  string    `gorm:"type:varchar(50);uniqueIndex:idx_username"`
	Password  string    `gorm:"type:varchar(255)"`
	IsOnline  bool      `gorm:"type:tinyint(1);default:0;index"` // 在线标记，由 Presence 维护
	LastSeen  time.Time `gorm:"index"`
	IsDelete  bool      `gorm:"type:tinyint(1);default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string {
	return "users"
}
