package models

import (
	"time"

	"gorm.io/gorm"
)

// RewardAccount is the per-customer cached view of the ledger and the row
// every ledger write locks to serialize operations on one customer. It is
// only ever updated inside the same DB transaction that appends a
// RewardTransaction, so Balance always equals the latest BalanceAfter.
type RewardAccount struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	UserID        uint           `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance       int            `gorm:"not null;default:0" json:"balance"`
	TotalEarned   int            `gorm:"not null;default:0" json:"total_earned"`
	TotalRedeemed int            `gorm:"not null;default:0" json:"total_redeemed"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

func (RewardAccount) TableName() string {
	return "reward_accounts"
}
