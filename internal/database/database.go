package database

import (
	"tably/config"
	"tably/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error), // Only log errors, not every SQL query
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// AutoMigrate runs Gorm auto-migration for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.RewardAccount{},
		&models.RewardTransaction{},
		&models.Voucher{},
		&models.VoucherRedemption{},
		&models.Notification{},
		&models.SystemSetting{},
	)
}

// SeedVouchers inserts the default catalog when the table is empty.
func SeedVouchers(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Voucher{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	coffee := models.Voucher{
		Name:           "Americano Voucher",
		Description:    "One free americano at participating cafes",
		RequiredPoints: 5,
		ExpiryDays:     30,
		Stock:          1000,
		Active:         true,
	}
	coffee.SetTerms([]string{
		"Valid at participating stores only",
		"Cannot be combined with other offers",
	})
	dessert := models.Voucher{
		Name:           "Dessert Voucher",
		Description:    "A slice of cake or equivalent dessert",
		RequiredPoints: 10,
		ExpiryDays:     30,
		Stock:          500,
		Active:         true,
	}
	dessert.SetTerms([]string{"Valid at participating stores only"})
	return db.Create([]*models.Voucher{&coffee, &dessert}).Error
}
