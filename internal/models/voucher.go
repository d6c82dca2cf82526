package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Voucher is a catalog entry customers redeem points for. Customer-facing
// flows never mutate the catalog; redemptions copy a snapshot of name and
// cost so later catalog edits do not rewrite history.
type Voucher struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	Name           string `gorm:"size:255;not null" json:"name"`
	Description    string `gorm:"type:text" json:"description"`
	RequiredPoints int    `gorm:"not null" json:"required_points"`
	// ExpiryDays is how many days an issued voucher code stays usable,
	// counted from the moment the redemption completes.
	ExpiryDays int    `gorm:"not null;default:30" json:"expiry_days"`
	ImageURL   string `gorm:"size:512" json:"image_url"`
	// Terms is a JSON array of strings.
	Terms          string         `gorm:"type:text" json:"-"`
	Stock          int            `gorm:"not null;default:0" json:"stock"`
	AvailableFrom  *time.Time     `json:"available_from"`
	AvailableUntil *time.Time     `json:"available_until"`
	Active         bool           `gorm:"not null;default:true;index" json:"active"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Voucher) TableName() string {
	return "vouchers"
}

// AvailableAt reports whether new redemptions are allowed at t. Existing
// redemptions are unaffected by the campaign window closing or stock
// running out.
func (v *Voucher) AvailableAt(t time.Time) bool {
	if !v.Active || v.Stock <= 0 {
		return false
	}
	if v.AvailableFrom != nil && t.Before(*v.AvailableFrom) {
		return false
	}
	if v.AvailableUntil != nil && t.After(*v.AvailableUntil) {
		return false
	}
	return true
}

// TermsList decodes the stored terms JSON. Returns an empty slice on
// malformed or empty data.
func (v *Voucher) TermsList() []string {
	if v.Terms == "" {
		return []string{}
	}
	var terms []string
	if err := json.Unmarshal([]byte(v.Terms), &terms); err != nil {
		return []string{}
	}
	return terms
}

func (v *Voucher) SetTerms(terms []string) {
	b, _ := json.Marshal(terms)
	v.Terms = string(b)
}
