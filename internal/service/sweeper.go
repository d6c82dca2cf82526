package service

import (
	"context"
	"log"
	"time"

	"tably/config"
	"tably/internal/domain"
	"tably/internal/repository"
	"tably/internal/ws"
)

// Sweeper reconciles redemptions the happy path left behind: PROCESSING
// rows older than the processing timeout become FAILED with a refund, and
// COMPLETED rows past their code expiry become EXPIRED (no refund).
type Sweeper struct {
	cfg            *config.Config
	redemptionRepo *repository.RedemptionRepository
	redemptionSvc  *RedemptionService
	notifSvc       *NotificationService
	hub            *ws.RewardHub
}

func NewSweeper(
	cfg *config.Config,
	redemptionRepo *repository.RedemptionRepository,
	redemptionSvc *RedemptionService,
	notifSvc *NotificationService,
	hub *ws.RewardHub,
) *Sweeper {
	return &Sweeper{
		cfg:            cfg,
		redemptionRepo: redemptionRepo,
		redemptionSvc:  redemptionSvc,
		notifSvc:       notifSvc,
		hub:            hub,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.Reward.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				failed, expired, err := s.SweepOnce(time.Now())
				if err != nil {
					log.Printf("[sweeper] sweep failed: %v", err)
				} else if failed > 0 || expired > 0 {
					log.Printf("[sweeper] reconciled %d stale, expired %d redemptions", failed, expired)
				}
			}
		}
	}()
}

// SweepOnce performs a single reconciliation pass.
func (s *Sweeper) SweepOnce(now time.Time) (failed, expired int, err error) {
	cutoff := now.Add(-s.cfg.Reward.ProcessingTimeout)
	stale, err := s.redemptionRepo.ListStaleProcessing(cutoff)
	if err != nil {
		return 0, 0, err
	}
	for i := range stale {
		vr := &stale[i]
		if err := s.redemptionSvc.FailWithRefund(vr, "reconciled: issuance never settled"); err != nil {
			log.Printf("[sweeper] refund for redemption %d failed: %v", vr.ID, err)
			continue
		}
		failed++
	}

	done, err := s.redemptionRepo.ListNewlyExpired(now)
	if err != nil {
		return failed, 0, err
	}
	for i := range done {
		vr := &done[i]
		vr.Status = domain.RedemptionExpired
		if err := s.redemptionRepo.Update(vr); err != nil {
			log.Printf("[sweeper] expiring redemption %d failed: %v", vr.ID, err)
			continue
		}
		if s.notifSvc != nil {
			_ = s.notifSvc.NotifyRedemptionExpired(vr.UserID, vr.ID, vr.VoucherName)
		}
		if s.hub != nil {
			s.hub.RedemptionUpdated(vr.UserID, vr.ID, vr.Status)
		}
		expired++
	}
	return failed, expired, nil
}
