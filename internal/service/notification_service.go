package service

import (
	"encoding/json"
	"fmt"

	"tably/internal/domain"
	"tably/internal/models"
	"tably/internal/repository"
)

type NotificationService struct {
	repo *repository.NotificationRepository
}

func NewNotificationService(repo *repository.NotificationRepository) *NotificationService {
	return &NotificationService{repo: repo}
}

func (s *NotificationService) Notify(userID uint, notifType, title, body string, data map[string]interface{}) error {
	var dataJSON string
	if data != nil {
		b, _ := json.Marshal(data)
		dataJSON = string(b)
	}
	return s.repo.Create(&models.Notification{
		UserID: userID,
		Type:   notifType,
		Title:  title,
		Body:   body,
		Data:   dataJSON,
	})
}

func (s *NotificationService) NotifyPointsEarned(userID uint, points, balance int) error {
	return s.Notify(userID, domain.NotifPointsEarned, "Points earned",
		fmt.Sprintf("You earned %dP for your feedback. Balance: %dP", points, balance),
		map[string]interface{}{"points": points, "balance": balance})
}

func (s *NotificationService) NotifyRedemptionCompleted(userID uint, redemptionID uint, voucherName string) error {
	return s.Notify(userID, domain.NotifRedemptionComplete, "Voucher ready",
		"Your "+voucherName+" is ready to use",
		map[string]interface{}{"redemption_id": redemptionID})
}

func (s *NotificationService) NotifyRedemptionFailed(userID uint, redemptionID uint, voucherName string, pointsRefunded int) error {
	return s.Notify(userID, domain.NotifRedemptionFailed, "Redemption failed",
		fmt.Sprintf("Redeeming %s failed. %dP were returned to your balance.", voucherName, pointsRefunded),
		map[string]interface{}{"redemption_id": redemptionID, "points_refunded": pointsRefunded})
}

func (s *NotificationService) NotifyRedemptionExpired(userID uint, redemptionID uint, voucherName string) error {
	return s.Notify(userID, domain.NotifRedemptionExpired, "Voucher expired",
		"Your "+voucherName+" has expired",
		map[string]interface{}{"redemption_id": redemptionID})
}
