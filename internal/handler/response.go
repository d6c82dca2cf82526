package handler

import (
	"time"

	"tably/internal/models"

	"github.com/gin-gonic/gin"
)

// apiResponse is the envelope the web frontend unwraps on every reward
// route: {isSuccess, code, message, result}.
type apiResponse struct {
	IsSuccess bool        `json:"isSuccess"`
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Result    interface{} `json:"result,omitempty"`
}

func ok(c *gin.Context, status int, result interface{}) {
	c.JSON(status, apiResponse{IsSuccess: true, Code: "OK", Message: "success", Result: result})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, apiResponse{IsSuccess: false, Code: code, Message: message})
}

// pageResult mirrors the Spring-style page envelope the frontend paginates
// with (page/size/hasNext).
type pageResult struct {
	Content       interface{} `json:"content"`
	Page          int         `json:"page"`
	Size          int         `json:"size"`
	TotalElements int64       `json:"totalElements"`
	HasNext       bool        `json:"hasNext"`
}

// Reward DTOs use the camelCase field names fixed by the frontend contract;
// the GORM models keep the usual snake_case tags for everything else.

type transactionDTO struct {
	ID                  uint   `json:"id"`
	UserID              uint   `json:"userId"`
	Type                string `json:"type"`
	Amount              int    `json:"amount"`
	Balance             int    `json:"balance"`
	Description         string `json:"description"`
	RelatedFeedbackID   *uint  `json:"relatedFeedbackId,omitempty"`
	RelatedVoucherID    *uint  `json:"relatedVoucherId,omitempty"`
	RelatedRedemptionID *uint  `json:"relatedRedemptionId,omitempty"`
	CreatedAt           string `json:"createdAt"`
}

func toTransactionDTO(t *models.RewardTransaction) transactionDTO {
	return transactionDTO{
		ID:                  t.ID,
		UserID:              t.UserID,
		Type:                t.Kind,
		Amount:              t.Amount,
		Balance:             t.BalanceAfter,
		Description:         t.Description,
		RelatedFeedbackID:   t.RelatedFeedbackID,
		RelatedVoucherID:    t.RelatedVoucherID,
		RelatedRedemptionID: t.RelatedRedemptionID,
		CreatedAt:           t.CreatedAt.Format(time.RFC3339),
	}
}

type voucherDTO struct {
	ID                 uint     `json:"id"`
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	RequiredPoints     int      `json:"requiredPoints"`
	ImageURL           string   `json:"imageUrl,omitempty"`
	TermsAndConditions []string `json:"termsAndConditions"`
	ExpiryDays         int      `json:"expiryDays"`
}

func toVoucherDTO(v *models.Voucher) voucherDTO {
	return voucherDTO{
		ID:                 v.ID,
		Name:               v.Name,
		Description:        v.Description,
		RequiredPoints:     v.RequiredPoints,
		ImageURL:           v.ImageURL,
		TermsAndConditions: v.TermsList(),
		ExpiryDays:         v.ExpiryDays,
	}
}

type redemptionDTO struct {
	ID          uint   `json:"id"`
	UserID      uint   `json:"userId"`
	VoucherID   uint   `json:"voucherId"`
	VoucherName string `json:"voucherName"`
	VoucherCode string `json:"voucherCode,omitempty"`
	PointsUsed  int    `json:"pointsUsed"`
	Status      string `json:"status"`
	RedeemedAt  string `json:"redeemedAt"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
}

func toRedemptionDTO(vr *models.VoucherRedemption) redemptionDTO {
	dto := redemptionDTO{
		ID:          vr.ID,
		UserID:      vr.UserID,
		VoucherID:   vr.VoucherID,
		VoucherName: vr.VoucherName,
		VoucherCode: vr.VoucherCode,
		PointsUsed:  vr.PointsUsed,
		Status:      vr.Status,
		RedeemedAt:  vr.RedeemedAt.Format(time.RFC3339),
	}
	if vr.ExpiresAt != nil {
		dto.ExpiresAt = vr.ExpiresAt.Format(time.RFC3339)
	}
	return dto
}
