package models

import (
	"time"

	"gorm.io/gorm"
)

// VoucherRedemption is one redemption attempt and its outcome.
//
// Lifecycle: created PROCESSING in the same DB transaction as the point
// debit, then COMPLETED (code attached) or FAILED (points refunded) once
// issuance settles. COMPLETED rows move to EXPIRED by the sweeper when
// ExpiresAt passes.
type VoucherRedemption struct {
	ID        uint `gorm:"primaryKey" json:"id"`
	UserID    uint `gorm:"not null;index" json:"user_id"`
	VoucherID uint `gorm:"not null;index" json:"voucher_id"`
	// VoucherName and PointsUsed are snapshots taken at redemption time;
	// catalog entries may change afterwards.
	VoucherName string `gorm:"size:255;not null" json:"voucher_name"`
	PointsUsed  int    `gorm:"not null" json:"points_used"`
	// IdempotencyKey is supplied by the client (or generated server-side
	// when absent) and dedupes retried requests per customer and voucher.
	IdempotencyKey string `gorm:"size:64;not null;index" json:"-"`
	Status         string `gorm:"size:20;not null;index" json:"status"` // PROCESSING | COMPLETED | FAILED | EXPIRED
	// VoucherCode is assigned only when issuance completes.
	VoucherCode   string         `gorm:"size:128" json:"voucher_code,omitempty"`
	FailureReason string         `gorm:"size:255" json:"failure_reason,omitempty"`
	RedeemedAt    time.Time      `gorm:"index" json:"redeemed_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	ExpiresAt     *time.Time     `gorm:"index" json:"expires_at,omitempty"`
	CreatedAt     time.Time      `json:"-"`
	UpdatedAt     time.Time      `json:"-"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`

	User    User    `gorm:"foreignKey:UserID" json:"-"`
	Voucher Voucher `gorm:"foreignKey:VoucherID" json:"-"`
}

func (VoucherRedemption) TableName() string {
	return "voucher_redemptions"
}
