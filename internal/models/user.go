package models

import (
	"time"

	"tably/internal/domain"

	"gorm.io/gorm"
)

type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Nickname     string         `gorm:"uniqueIndex;size:64;not null" json:"nickname"`
	Email        string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash string         `gorm:"size:255" json:"-"`
	Role         string         `gorm:"size:20;not null;index" json:"role"` // CUSTOMER | OWNER
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`

	RewardAccount *RewardAccount `gorm:"foreignKey:UserID" json:"reward_account,omitempty"`
}

func (u *User) IsCustomer() bool { return u.Role == domain.RoleCustomer }
func (u *User) IsOwner() bool    { return u.Role == domain.RoleOwner }
