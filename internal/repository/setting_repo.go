package repository

import (
	"errors"

	"tably/internal/models"

	"gorm.io/gorm"
)

type SettingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// Get returns the value for key, or "" when unset.
func (r *SettingRepository) Get(key string) (string, error) {
	var s models.SystemSetting
	err := r.db.Where("`key` = ?", key).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return s.Value, nil
}

func (r *SettingRepository) Set(key, value string) error {
	var s models.SystemSetting
	err := r.db.Where("`key` = ?", key).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(&models.SystemSetting{Key: key, Value: value}).Error
	}
	if err != nil {
		return err
	}
	s.Value = value
	return r.db.Save(&s).Error
}
