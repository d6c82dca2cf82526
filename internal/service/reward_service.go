package service

import (
	"errors"
	"log"
	"strconv"
	"time"

	"tably/config"
	"tably/internal/domain"
	"tably/internal/models"
	"tably/internal/repository"
	"tably/internal/ws"

	"gorm.io/gorm"
)

// RewardService is the earning side of the ledger: it bridges approved
// feedback into point credits and derives the balance figures the frontend
// renders.
type RewardService struct {
	cfg         *config.Config
	ledgerRepo  *repository.LedgerRepository
	voucherRepo *repository.VoucherRepository
	settingRepo *repository.SettingRepository
	notifSvc    *NotificationService
	hub         *ws.RewardHub
}

func NewRewardService(
	cfg *config.Config,
	ledgerRepo *repository.LedgerRepository,
	voucherRepo *repository.VoucherRepository,
	settingRepo *repository.SettingRepository,
	notifSvc *NotificationService,
	hub *ws.RewardHub,
) *RewardService {
	return &RewardService{
		cfg:         cfg,
		ledgerRepo:  ledgerRepo,
		voucherRepo: voucherRepo,
		settingRepo: settingRepo,
		notifSvc:    notifSvc,
		hub:         hub,
	}
}

// OnFeedbackApproved credits points for one approved feedback. Approval
// events may be delivered more than once; a duplicate is a no-op, not an
// error, so the webhook can always ack.
func (s *RewardService) OnFeedbackApproved(userID, feedbackID uint) error {
	points := s.pointsPerFeedback()
	var tx *models.RewardTransaction
	err := withRetry(3, func() error {
		var err error
		tx, err = s.ledgerRepo.AppendEarned(userID, points, feedbackID, "Feedback reward")
		return err
	})
	if errors.Is(err, domain.ErrDuplicateCredit) {
		log.Printf("[reward] feedback %d already credited for user %d, skipping", feedbackID, userID)
		return nil
	}
	if err != nil {
		return err
	}
	if s.notifSvc != nil {
		_ = s.notifSvc.NotifyPointsEarned(userID, points, tx.BalanceAfter)
	}
	s.pushBalance(userID)
	return nil
}

func (s *RewardService) pointsPerFeedback() int {
	points := s.cfg.Reward.PointsPerFeedback
	if s.settingRepo != nil {
		if val, err := s.settingRepo.Get(domain.SettingPointsPerFeedback); err == nil && val != "" {
			if n, err := strconv.Atoi(val); err == nil && n > 0 {
				points = n
			}
		}
	}
	if points <= 0 {
		points = 1
	}
	return points
}

// BalanceSummary is the authoritative balance view. It is always recomputed
// from the account row backed by the ledger; client-side optimistic updates
// are never accepted.
type BalanceSummary struct {
	TotalEarned    int
	TotalRedeemed  int
	CurrentBalance int
	// NextRedemptionAt is how many points are still missing for the cheapest
	// available voucher; 0 when the customer can already redeem something.
	NextRedemptionAt int
	CanRedeem        bool
}

func (s *RewardService) BalanceSummary(userID uint) (*BalanceSummary, error) {
	acct, err := s.ledgerRepo.Account(userID)
	if err != nil {
		return nil, err
	}
	summary := &BalanceSummary{
		TotalEarned:    acct.TotalEarned,
		TotalRedeemed:  acct.TotalRedeemed,
		CurrentBalance: acct.Balance,
	}
	vouchers, err := s.voucherRepo.ListAvailable(time.Now())
	if err != nil {
		return nil, err
	}
	if len(vouchers) > 0 {
		cheapest := vouchers[0].RequiredPoints // ListAvailable sorts cheapest first
		if acct.Balance >= cheapest {
			summary.CanRedeem = true
		} else {
			summary.NextRedemptionAt = cheapest - acct.Balance
		}
	}
	return summary, nil
}

// History returns one page of the customer's ledger, newest-first.
func (s *RewardService) History(userID uint, page, size int) ([]models.RewardTransaction, int64, error) {
	return s.ledgerRepo.ListTransactions(userID, page, size)
}

// RewardStats aggregates the monthly figures shown on the rewards page.
type RewardStats struct {
	TotalEarnedThisMonth   int
	TotalRedeemedThisMonth int
	AverageMonthlyEarning  int
	// NextMilestone is the cheapest available voucher cost the customer has
	// not reached yet; 0 when every available voucher is within reach.
	NextMilestone int
}

func (s *RewardService) Stats(userID uint) (*RewardStats, error) {
	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	earned, err := s.ledgerRepo.SumByKindSince(userID, domain.TxKindEarned, monthStart)
	if err != nil {
		return nil, err
	}
	redeemed, err := s.ledgerRepo.SumByKindSince(userID, domain.TxKindRedeemed, monthStart)
	if err != nil {
		return nil, err
	}
	stats := &RewardStats{
		TotalEarnedThisMonth:   earned,
		TotalRedeemedThisMonth: redeemed,
	}

	acct, err := s.ledgerRepo.Account(userID)
	if err != nil {
		return nil, err
	}
	first, err := s.ledgerRepo.FirstTransactionAt(userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err == nil {
		months := monthsBetween(first, now)
		stats.AverageMonthlyEarning = acct.TotalEarned / months
	}

	vouchers, err := s.voucherRepo.ListAvailable(now)
	if err != nil {
		return nil, err
	}
	for _, v := range vouchers {
		if v.RequiredPoints > acct.Balance {
			stats.NextMilestone = v.RequiredPoints
			break
		}
	}
	return stats, nil
}

func monthsBetween(from, to time.Time) int {
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month()) + 1
	if months < 1 {
		return 1
	}
	return months
}

func (s *RewardService) pushBalance(userID uint) {
	if s.hub == nil {
		return
	}
	acct, err := s.ledgerRepo.Account(userID)
	if err != nil {
		return
	}
	s.hub.BalanceUpdated(userID, acct.Balance, acct.TotalEarned, acct.TotalRedeemed)
}
