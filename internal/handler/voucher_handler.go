package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"tably/internal/domain"
	"tably/internal/middleware"
	"tably/internal/repository"
	"tably/internal/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// VoucherHandler serves the catalog and the redemption flow.
type VoucherHandler struct {
	voucherRepo   *repository.VoucherRepository
	redemptionSvc *service.RedemptionService
}

func NewVoucherHandler(voucherRepo *repository.VoucherRepository, redemptionSvc *service.RedemptionService) *VoucherHandler {
	return &VoucherHandler{voucherRepo: voucherRepo, redemptionSvc: redemptionSvc}
}

// ListAvailable returns vouchers currently open for redemption.
func (h *VoucherHandler) ListAvailable(c *gin.Context) {
	vouchers, err := h.voucherRepo.ListAvailable(time.Now())
	if err != nil {
		fail(c, http.StatusInternalServerError, "VOUCHER_LIST_FAILED", "failed to load vouchers")
		return
	}
	out := make([]voucherDTO, 0, len(vouchers))
	for i := range vouchers {
		out = append(out, toVoucherDTO(&vouchers[i]))
	}
	ok(c, http.StatusOK, out)
}

// Redeem exchanges points for the voucher in the path. Clients retrying a
// timed-out call should resend the same Idempotency-Key header; a repeat
// within the dedupe window is rejected instead of double-debited.
func (h *VoucherHandler) Redeem(c *gin.Context) {
	userID := middleware.GetUserID(c)
	voucherID, err := strconv.ParseUint(c.Param("voucherId"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_VOUCHER_ID", "invalid voucher id")
		return
	}
	idemKey := c.GetHeader("Idempotency-Key")

	vr, err := h.redemptionSvc.Redeem(userID, uint(voucherID), idemKey)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrVoucherNotFound):
			fail(c, http.StatusNotFound, "VOUCHER_NOT_FOUND", err.Error())
		case errors.Is(err, domain.ErrInsufficientBalance):
			fail(c, http.StatusBadRequest, "INSUFFICIENT_BALANCE", err.Error())
		case errors.Is(err, domain.ErrDuplicateRedemption):
			fail(c, http.StatusConflict, "DUPLICATE_REDEMPTION", err.Error())
		case errors.Is(err, domain.ErrConcurrentModification):
			fail(c, http.StatusConflict, "LEDGER_CONTENTION", "please retry")
		default:
			log.Printf("[voucher] redeem failed: user=%d voucher=%d err=%v", userID, voucherID, err)
			fail(c, http.StatusInternalServerError, "REDEMPTION_FAILED", "redemption failed")
		}
		return
	}
	ok(c, http.StatusCreated, toRedemptionDTO(vr))
}

// ListMine returns the customer's redemption history, optionally filtered
// by ?status=.
func (h *VoucherHandler) ListMine(c *gin.Context) {
	userID := middleware.GetUserID(c)
	status := c.Query("status")
	if status == "ALL" {
		status = ""
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	list, err := h.redemptionSvc.ListMine(userID, status, limit, offset)
	if err != nil {
		fail(c, http.StatusInternalServerError, "REDEMPTION_LIST_FAILED", "failed to load redemptions")
		return
	}
	out := make([]redemptionDTO, 0, len(list))
	for i := range list {
		out = append(out, toRedemptionDTO(&list[i]))
	}
	ok(c, http.StatusOK, out)
}

// GetRedemption returns one redemption owned by the caller.
func (h *VoucherHandler) GetRedemption(c *gin.Context) {
	userID := middleware.GetUserID(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REDEMPTION_ID", "invalid redemption id")
		return
	}
	vr, err := h.redemptionSvc.Get(userID, uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, "REDEMPTION_NOT_FOUND", "redemption not found")
			return
		}
		fail(c, http.StatusInternalServerError, "REDEMPTION_GET_FAILED", "failed to load redemption")
		return
	}
	ok(c, http.StatusOK, toRedemptionDTO(vr))
}
