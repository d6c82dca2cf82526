package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"tably/config"
	"tably/internal/domain"
	"tably/internal/models"
	"tably/internal/repository"
	"tably/internal/ws"
	"tably/pkg/issuer"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RedemptionService orchestrates the two-phase voucher redemption:
// reserve (debit + PROCESSING row, one atomic unit) then commit (code
// issuance → COMPLETED) or compensate (refund → FAILED). A debited
// redemption is always driven to a terminal state server-side, even if the
// client abandons the request.
type RedemptionService struct {
	cfg            *config.Config
	ledgerRepo     *repository.LedgerRepository
	voucherRepo    *repository.VoucherRepository
	redemptionRepo *repository.RedemptionRepository
	issuerClient   *issuer.Client
	notifSvc       *NotificationService
	hub            *ws.RewardHub
}

func NewRedemptionService(
	cfg *config.Config,
	ledgerRepo *repository.LedgerRepository,
	voucherRepo *repository.VoucherRepository,
	redemptionRepo *repository.RedemptionRepository,
	issuerClient *issuer.Client,
	notifSvc *NotificationService,
	hub *ws.RewardHub,
) *RedemptionService {
	return &RedemptionService{
		cfg:            cfg,
		ledgerRepo:     ledgerRepo,
		voucherRepo:    voucherRepo,
		redemptionRepo: redemptionRepo,
		issuerClient:   issuerClient,
		notifSvc:       notifSvc,
		hub:            hub,
	}
}

// Redeem exchanges points for a voucher. idemKey dedupes client retries of
// the same logical request; when empty a server-side key is generated (no
// dedupe possible, as documented in the API).
//
// Returns the redemption in its final state: COMPLETED with a code, or
// FAILED with the points already refunded. Balance and catalog errors
// surface directly with no writes performed.
func (s *RedemptionService) Redeem(userID, voucherID uint, idemKey string) (*models.VoucherRedemption, error) {
	v, err := s.voucherRepo.GetByID(voucherID)
	if err != nil {
		return nil, err
	}
	if !v.AvailableAt(time.Now()) {
		return nil, domain.ErrVoucherNotFound
	}
	if idemKey == "" {
		idemKey = uuid.New().String()
	}

	// Phase 1: reserve. Debit, stock decrement and PROCESSING row are one
	// atomic unit under the per-customer scope.
	var vr *models.VoucherRedemption
	err = withRetry(3, func() error {
		return s.ledgerRepo.WithCustomerTx(userID, func(tx *gorm.DB, acct *models.RewardAccount) error {
			dup, err := s.redemptionRepo.FindDuplicateInTx(tx, userID, voucherID, idemKey, s.cfg.Reward.IdempotencyWindow)
			if err != nil {
				return err
			}
			if dup != nil {
				return domain.ErrDuplicateRedemption
			}
			if _, err := s.ledgerRepo.RedeemInTx(tx, acct, v.RequiredPoints, v.ID, "Redeemed "+v.Name); err != nil {
				return err
			}
			if err := s.voucherRepo.DecrementStockInTx(tx, v.ID); err != nil {
				return err
			}
			vr = &models.VoucherRedemption{
				UserID:         userID,
				VoucherID:      v.ID,
				VoucherName:    v.Name,
				PointsUsed:     v.RequiredPoints,
				IdempotencyKey: idemKey,
				Status:         domain.RedemptionProcessing,
				RedeemedAt:     time.Now(),
			}
			return s.redemptionRepo.CreateInTx(tx, vr)
		})
	})
	if err != nil {
		return nil, err
	}
	s.pushBalance(userID)

	// Phase 2: settle. Runs on a detached context so a client disconnect
	// after the debit cannot orphan the PROCESSING row.
	s.settle(vr, v)
	return vr, nil
}

// settle calls the external code supplier and drives the redemption to
// COMPLETED or FAILED-with-refund.
func (s *RedemptionService) settle(vr *models.VoucherRedemption, v *models.Voucher) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Issuer.Timeout)
	defer cancel()
	resp, err := s.issuerClient.Issue(ctx, issuer.IssueRequest{
		VoucherID: v.ID,
		OrderID:   fmt.Sprintf("rd-%d", vr.ID),
		Recipient: fmt.Sprintf("customer-%d", vr.UserID),
	})
	if err != nil {
		reason := "code issuance failed"
		if errors.Is(err, issuer.ErrTimeout) {
			reason = domain.ErrIssuanceTimeout.Error()
		}
		log.Printf("[redemption] issuance for redemption %d failed: %v", vr.ID, err)
		if ferr := s.FailWithRefund(vr, reason); ferr != nil {
			log.Printf("[redemption] refund for redemption %d failed: %v", vr.ID, ferr)
		}
		return
	}

	now := time.Now()
	expires := now.AddDate(0, 0, v.ExpiryDays)
	vr.Status = domain.RedemptionCompleted
	vr.VoucherCode = resp.VoucherCode
	vr.CompletedAt = &now
	vr.ExpiresAt = &expires
	won, err := s.redemptionRepo.MarkCompleted(vr)
	if err != nil {
		log.Printf("[redemption] completing redemption %d failed: %v", vr.ID, err)
		return
	}
	if !won {
		// The sweeper reconciled this row while issuance was in flight; the
		// points are already refunded, so the late code must not resurrect it.
		if cur, gerr := s.redemptionRepo.GetByID(vr.ID); gerr == nil {
			*vr = *cur
		}
		log.Printf("[redemption] redemption %d settled after reconciliation, keeping %s", vr.ID, vr.Status)
		return
	}
	if s.notifSvc != nil {
		_ = s.notifSvc.NotifyRedemptionCompleted(vr.UserID, vr.ID, vr.VoucherName)
	}
	if s.hub != nil {
		s.hub.RedemptionUpdated(vr.UserID, vr.ID, vr.Status)
	}
}

// FailWithRefund moves a PROCESSING redemption to FAILED and appends the
// compensating EARNED transaction restoring the debited points, in one
// atomic unit. Safe to call twice (settle vs sweeper): the status is
// re-read under the lock and a settled redemption is left alone.
func (s *RedemptionService) FailWithRefund(vr *models.VoucherRedemption, reason string) error {
	var refunded bool
	err := withRetry(3, func() error {
		refunded = false
		return s.ledgerRepo.WithCustomerTx(vr.UserID, func(tx *gorm.DB, acct *models.RewardAccount) error {
			var cur models.VoucherRedemption
			if err := tx.First(&cur, vr.ID).Error; err != nil {
				return err
			}
			if cur.Status != domain.RedemptionProcessing {
				*vr = cur
				return nil
			}
			if _, err := s.ledgerRepo.RefundInTx(tx, acct, cur.PointsUsed, cur.ID, "Refund: "+cur.VoucherName); err != nil {
				return err
			}
			if err := s.voucherRepo.RestoreStockInTx(tx, cur.VoucherID); err != nil {
				return err
			}
			cur.Status = domain.RedemptionFailed
			cur.FailureReason = reason
			if err := s.redemptionRepo.UpdateInTx(tx, &cur); err != nil {
				return err
			}
			*vr = cur
			refunded = true
			return nil
		})
	})
	if err != nil {
		return err
	}
	if refunded {
		if s.notifSvc != nil {
			_ = s.notifSvc.NotifyRedemptionFailed(vr.UserID, vr.ID, vr.VoucherName, vr.PointsUsed)
		}
		if s.hub != nil {
			s.hub.RedemptionUpdated(vr.UserID, vr.ID, vr.Status)
		}
		s.pushBalance(vr.UserID)
	}
	return nil
}

// Get returns one redemption owned by the customer.
func (s *RedemptionService) Get(userID, redemptionID uint) (*models.VoucherRedemption, error) {
	vr, err := s.redemptionRepo.GetByID(redemptionID)
	if err != nil {
		return nil, err
	}
	if vr.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return vr, nil
}

// ListMine returns the customer's redemptions, optionally by status.
func (s *RedemptionService) ListMine(userID uint, status string, limit, offset int) ([]models.VoucherRedemption, error) {
	return s.redemptionRepo.ListByUser(userID, status, limit, offset)
}

func (s *RedemptionService) pushBalance(userID uint) {
	if s.hub == nil {
		return
	}
	acct, err := s.ledgerRepo.Account(userID)
	if err != nil {
		return
	}
	s.hub.BalanceUpdated(userID, acct.Balance, acct.TotalEarned, acct.TotalRedeemed)
}

// withRetry reruns fn on ledger contention, backing off briefly. Any other
// outcome is returned as-is.
func withRetry(attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if !errors.Is(err, domain.ErrConcurrentModification) {
			return err
		}
		time.Sleep(time.Duration(i+1) * 25 * time.Millisecond)
	}
	return err
}
