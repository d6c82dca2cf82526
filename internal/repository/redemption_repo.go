package repository

import (
	"errors"
	"time"

	"tably/internal/domain"
	"tably/internal/models"

	"gorm.io/gorm"
)

type RedemptionRepository struct {
	db *gorm.DB
}

func NewRedemptionRepository(db *gorm.DB) *RedemptionRepository {
	return &RedemptionRepository{db: db}
}

func (r *RedemptionRepository) CreateInTx(tx *gorm.DB, vr *models.VoucherRedemption) error {
	return tx.Create(vr).Error
}

func (r *RedemptionRepository) GetByID(id uint) (*models.VoucherRedemption, error) {
	var vr models.VoucherRedemption
	err := r.db.First(&vr, id).Error
	if err != nil {
		return nil, err
	}
	return &vr, nil
}

// FindDuplicateInTx looks for an earlier redemption with the same customer,
// voucher and idempotency key inside the dedupe window. Runs under the
// per-customer scope, so the check-then-insert cannot race for one customer.
func (r *RedemptionRepository) FindDuplicateInTx(tx *gorm.DB, userID, voucherID uint, key string, window time.Duration) (*models.VoucherRedemption, error) {
	var vr models.VoucherRedemption
	err := tx.Where("user_id = ? AND voucher_id = ? AND idempotency_key = ? AND created_at >= ?",
		userID, voucherID, key, time.Now().Add(-window)).
		First(&vr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vr, nil
}

func (r *RedemptionRepository) Update(vr *models.VoucherRedemption) error {
	return r.db.Save(vr).Error
}

// MarkCompleted flips a PROCESSING row to COMPLETED with its code and
// timestamps. Returns false when the row already left PROCESSING (the
// sweeper reconciled and refunded it first); the caller must then discard
// the issued code instead of overwriting the terminal status.
func (r *RedemptionRepository) MarkCompleted(vr *models.VoucherRedemption) (bool, error) {
	res := r.db.Model(&models.VoucherRedemption{}).
		Where("id = ? AND status = ?", vr.ID, domain.RedemptionProcessing).
		Updates(map[string]interface{}{
			"status":       domain.RedemptionCompleted,
			"voucher_code": vr.VoucherCode,
			"completed_at": vr.CompletedAt,
			"expires_at":   vr.ExpiresAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *RedemptionRepository) UpdateInTx(tx *gorm.DB, vr *models.VoucherRedemption) error {
	return tx.Save(vr).Error
}

// ListByUser returns the customer's redemptions newest-first, optionally
// filtered by status.
func (r *RedemptionRepository) ListByUser(userID uint, status string, limit, offset int) ([]models.VoucherRedemption, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.db.Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var list []models.VoucherRedemption
	err := q.Order("redeemed_at DESC, id DESC").Limit(limit).Offset(offset).Find(&list).Error
	return list, err
}

// ListStaleProcessing returns PROCESSING redemptions started before cutoff.
// The sweeper reconciles them as failed-with-refund.
func (r *RedemptionRepository) ListStaleProcessing(cutoff time.Time) ([]models.VoucherRedemption, error) {
	var list []models.VoucherRedemption
	err := r.db.Where("status = ? AND redeemed_at < ?", domain.RedemptionProcessing, cutoff).
		Find(&list).Error
	return list, err
}

// ListNewlyExpired returns COMPLETED redemptions whose voucher code expiry
// has passed.
func (r *RedemptionRepository) ListNewlyExpired(now time.Time) ([]models.VoucherRedemption, error) {
	var list []models.VoucherRedemption
	err := r.db.Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", domain.RedemptionCompleted, now).
		Find(&list).Error
	return list, err
}
