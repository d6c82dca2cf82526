package models

import (
	"time"
)

// RewardTransaction is one immutable point movement. Rows are append-only:
// nothing in the codebase updates or deletes them after creation.
//
// BalanceAfter snapshots the running balance right after this movement, so
// history pages render without re-summing and audits can verify the chain
// balance_after[n] = balance_after[n-1] +/- amount.
type RewardTransaction struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID uint   `gorm:"not null;index:idx_reward_tx_user_created;uniqueIndex:idx_reward_tx_feedback" json:"user_id"`
	Kind   string `gorm:"size:10;not null" json:"type"` // EARNED | REDEEMED
	Amount int    `gorm:"not null" json:"amount"`       // positive magnitude
	// BalanceAfter is the customer's balance immediately after this movement.
	BalanceAfter int    `gorm:"not null" json:"balance"`
	Description  string `gorm:"size:255" json:"description"`
	// RelatedFeedbackID links an EARNED row to the approved feedback that
	// produced it. Unique per customer: one feedback earns exactly once.
	RelatedFeedbackID *uint `gorm:"uniqueIndex:idx_reward_tx_feedback" json:"related_feedback_id,omitempty"`
	// RelatedVoucherID links a REDEEMED row to the voucher it paid for.
	RelatedVoucherID *uint `gorm:"index" json:"related_voucher_id,omitempty"`
	// RelatedRedemptionID tags a compensating EARNED row (refund) with the
	// failed redemption it reverses. Nil on normal earns.
	RelatedRedemptionID *uint     `gorm:"index" json:"related_redemption_id,omitempty"`
	CreatedAt           time.Time `gorm:"index:idx_reward_tx_user_created" json:"created_at"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

func (RewardTransaction) TableName() string {
	return "reward_transactions"
}

// IsRefund reports whether this EARNED row compensates a failed redemption.
func (t *RewardTransaction) IsRefund() bool {
	return t.Kind == "EARNED" && t.RelatedRedemptionID != nil
}
