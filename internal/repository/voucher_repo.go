package repository

import (
	"errors"
	"time"

	"tably/internal/domain"
	"tably/internal/models"

	"gorm.io/gorm"
)

// VoucherRepository is the catalog read path plus the owner-side management
// writes. Customer-facing flows only ever read it or adjust stock inside a
// redemption transaction.
type VoucherRepository struct {
	db *gorm.DB
}

func NewVoucherRepository(db *gorm.DB) *VoucherRepository {
	return &VoucherRepository{db: db}
}

func (r *VoucherRepository) Create(v *models.Voucher) error {
	return r.db.Create(v).Error
}

func (r *VoucherRepository) Update(v *models.Voucher) error {
	return r.db.Save(v).Error
}

func (r *VoucherRepository) GetByID(id uint) (*models.Voucher, error) {
	var v models.Voucher
	err := r.db.First(&v, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrVoucherNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *VoucherRepository) Delete(id uint) error {
	return r.db.Delete(&models.Voucher{}, id).Error
}

// ListAll returns the whole catalog for owner management, newest first.
func (r *VoucherRepository) ListAll() ([]models.Voucher, error) {
	var list []models.Voucher
	err := r.db.Order("created_at DESC").Find(&list).Error
	return list, err
}

// ListAvailable returns vouchers open for new redemptions at t: active,
// in stock and inside their campaign window, cheapest first.
func (r *VoucherRepository) ListAvailable(t time.Time) ([]models.Voucher, error) {
	var list []models.Voucher
	err := r.db.
		Where("active = ? AND stock > 0", true).
		Where("available_from IS NULL OR available_from <= ?", t).
		Where("available_until IS NULL OR available_until >= ?", t).
		Order("required_points ASC, id ASC").
		Find(&list).Error
	return list, err
}

// DecrementStockInTx reserves one unit inside a redemption transaction.
// The guarded WHERE keeps stock from going negative under concurrency.
func (r *VoucherRepository) DecrementStockInTx(tx *gorm.DB, voucherID uint) error {
	res := tx.Model(&models.Voucher{}).
		Where("id = ? AND stock > 0", voucherID).
		UpdateColumn("stock", gorm.Expr("stock - 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrVoucherNotFound
	}
	return nil
}

// RestoreStockInTx returns a reserved unit after a failed redemption.
func (r *VoucherRepository) RestoreStockInTx(tx *gorm.DB, voucherID uint) error {
	return tx.Model(&models.Voucher{}).
		Where("id = ?", voucherID).
		UpdateColumn("stock", gorm.Expr("stock + 1")).Error
}
