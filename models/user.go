package models

import "time"

const (
	UserRoleAdmin = "Admin"
)

type User struct {
	ID         int       `gorm:"primary_key" json:"id"`
	Username   string    `gorm:"uniqueIndex;size:100;not null" json:"username"`
	BusinessId string    `gorm:"index" json:"business_id"`
	Role       string    `gorm:"size:20" json:"role"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
