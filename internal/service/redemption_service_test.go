package service

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"tably/config"
	"tably/internal/database"
	"tably/internal/domain"
	"tably/internal/models"
	"tably/internal/repository"
	"tably/internal/ws"
	"tably/pkg/issuer"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	cfg            *config.Config
	db             *gorm.DB
	ledgerRepo     *repository.LedgerRepository
	voucherRepo    *repository.VoucherRepository
	redemptionRepo *repository.RedemptionRepository
	rewardSvc      *RewardService
	redemptionSvc  *RedemptionService
	sweeper        *Sweeper
}

func newTestEnv(t *testing.T, issuerURL string) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := &config.Config{
		Reward: config.RewardConfig{
			PointsPerFeedback: 1,
			IdempotencyWindow: 24 * time.Hour,
			ProcessingTimeout: 10 * time.Minute,
			SweepInterval:     time.Minute,
		},
		Issuer: config.IssuerConfig{BaseURL: issuerURL, APIKey: "test", Timeout: 2 * time.Second},
	}

	ledgerRepo := repository.NewLedgerRepository(db)
	voucherRepo := repository.NewVoucherRepository(db)
	redemptionRepo := repository.NewRedemptionRepository(db)
	settingRepo := repository.NewSettingRepository(db)
	notifSvc := NewNotificationService(repository.NewNotificationRepository(db))
	hub := ws.NewRewardHub()

	rewardSvc := NewRewardService(cfg, ledgerRepo, voucherRepo, settingRepo, notifSvc, hub)
	issuerClient := issuer.NewClient(cfg.Issuer.BaseURL, cfg.Issuer.APIKey, cfg.Issuer.Timeout)
	redemptionSvc := NewRedemptionService(cfg, ledgerRepo, voucherRepo, redemptionRepo, issuerClient, notifSvc, hub)
	sweeper := NewSweeper(cfg, redemptionRepo, redemptionSvc, notifSvc, hub)

	return &testEnv{
		cfg:            cfg,
		db:             db,
		ledgerRepo:     ledgerRepo,
		voucherRepo:    voucherRepo,
		redemptionRepo: redemptionRepo,
		rewardSvc:      rewardSvc,
		redemptionSvc:  redemptionSvc,
		sweeper:        sweeper,
	}
}

// issuerStub answers the code-supplier API. Pass status 0 for a 200 with a
// fresh code.
func issuerStub(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"order_id":"test","voucher_code":"CODE-%s","status":"ISSUED"}`, uuid.NewString()[:8])
	}))
}

func (e *testEnv) seedPoints(t *testing.T, userID uint, points int) {
	t.Helper()
	if _, err := e.ledgerRepo.AppendEarned(userID, points, uint(time.Now().UnixNano()), "Feedback reward"); err != nil {
		t.Fatalf("seed points: %v", err)
	}
}

func (e *testEnv) seedVoucher(t *testing.T, points, stock int) *models.Voucher {
	t.Helper()
	v := &models.Voucher{
		Name:           "Americano Voucher",
		RequiredPoints: points,
		ExpiryDays:     30,
		Stock:          stock,
		Active:         true,
	}
	if err := e.voucherRepo.Create(v); err != nil {
		t.Fatalf("seed voucher: %v", err)
	}
	return v
}

func TestRedeemCompletesWithCode(t *testing.T) {
	srv := issuerStub(t, 0)
	defer srv.Close()
	env := newTestEnv(t, srv.URL)
	env.seedPoints(t, 1, 10)
	v := env.seedVoucher(t, 5, 3)

	vr, err := env.redemptionSvc.Redeem(1, v.ID, "key-1")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if vr.Status != domain.RedemptionCompleted {
		t.Fatalf("status = %s, want COMPLETED", vr.Status)
	}
	if vr.VoucherCode == "" {
		t.Error("completed redemption has no voucher code")
	}
	if vr.ExpiresAt == nil || vr.CompletedAt == nil {
		t.Error("completed redemption missing timestamps")
	}
	if vr.PointsUsed != 5 || vr.VoucherName != v.Name {
		t.Errorf("snapshot = (%d, %q), want (5, %q)", vr.PointsUsed, vr.VoucherName, v.Name)
	}

	balance, _ := env.ledgerRepo.Balance(1)
	if balance != 5 {
		t.Errorf("balance = %d, want 5", balance)
	}
	cur, _ := env.voucherRepo.GetByID(v.ID)
	if cur.Stock != 2 {
		t.Errorf("stock = %d, want 2", cur.Stock)
	}
}

func TestRedeemInsufficientBalance(t *testing.T) {
	srv := issuerStub(t, 0)
	defer srv.Close()
	env := newTestEnv(t, srv.URL)
	env.seedPoints(t, 1, 3)
	v := env.seedVoucher(t, 5, 3)

	_, err := env.redemptionSvc.Redeem(1, v.ID, "key-1")
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	// Nothing written: no redemption row, stock untouched.
	list, _ := env.redemptionRepo.ListByUser(1, "", 10, 0)
	if len(list) != 0 {
		t.Errorf("redemption rows = %d, want 0", len(list))
	}
	cur, _ := env.voucherRepo.GetByID(v.ID)
	if cur.Stock != 3 {
		t.Errorf("stock = %d, want 3", cur.Stock)
	}
}

func TestRedeemIssuerFailureRefunds(t *testing.T) {
	srv := issuerStub(t, http.StatusInternalServerError)
	defer srv.Close()
	env := newTestEnv(t, srv.URL)
	env.seedPoints(t, 1, 10)
	v := env.seedVoucher(t, 5, 3)

	vr, err := env.redemptionSvc.Redeem(1, v.ID, "key-1")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if vr.Status != domain.RedemptionFailed {
		t.Fatalf("status = %s, want FAILED", vr.Status)
	}
	if vr.FailureReason == "" {
		t.Error("failed redemption has no reason")
	}

	balance, _ := env.ledgerRepo.Balance(1)
	if balance != 10 {
		t.Errorf("balance after refund = %d, want 10", balance)
	}
	cur, _ := env.voucherRepo.GetByID(v.ID)
	if cur.Stock != 3 {
		t.Errorf("stock after restore = %d, want 3", cur.Stock)
	}

	// The ledger keeps both movements: the debit and its compensation.
	list, _, err := env.ledgerRepo.ListTransactions(1, 0, 10)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	var refunds int
	for i := range list {
		if list[i].IsRefund() {
			refunds++
		}
	}
	if refunds != 1 {
		t.Errorf("refund rows = %d, want 1", refunds)
	}
}

func TestRedeemDuplicateIdempotencyKey(t *testing.T) {
	srv := issuerStub(t, 0)
	defer srv.Close()
	env := newTestEnv(t, srv.URL)
	env.seedPoints(t, 1, 10)
	v := env.seedVoucher(t, 5, 3)

	if _, err := env.redemptionSvc.Redeem(1, v.ID, "retry-key"); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	_, err := env.redemptionSvc.Redeem(1, v.ID, "retry-key")
	if !errors.Is(err, domain.ErrDuplicateRedemption) {
		t.Fatalf("second redeem err = %v, want ErrDuplicateRedemption", err)
	}
	balance, _ := env.ledgerRepo.Balance(1)
	if balance != 5 {
		t.Errorf("balance = %d, want 5 (single debit)", balance)
	}

	// A fresh key is a new redemption, not a duplicate.
	if _, err := env.redemptionSvc.Redeem(1, v.ID, "other-key"); err != nil {
		t.Fatalf("redeem with new key: %v", err)
	}
}

func TestConcurrentRedeemsSingleBalance(t *testing.T) {
	srv := issuerStub(t, 0)
	defer srv.Close()
	env := newTestEnv(t, srv.URL)
	env.seedPoints(t, 1, 5)
	v := env.seedVoucher(t, 5, 10)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := env.redemptionSvc.Redeem(1, v.ID, fmt.Sprintf("k-%d", n))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientBalance):
			rejected++
		default:
			t.Fatalf("unexpected redeem error: %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("succeeded=%d rejected=%d, want exactly one of each", succeeded, rejected)
	}
	balance, _ := env.ledgerRepo.Balance(1)
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
}

func TestRedeemUnavailableVoucher(t *testing.T) {
	srv := issuerStub(t, 0)
	defer srv.Close()
	env := newTestEnv(t, srv.URL)
	env.seedPoints(t, 1, 10)
	v := env.seedVoucher(t, 5, 3)
	v.Active = false
	if err := env.voucherRepo.Update(v); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, err := env.redemptionSvc.Redeem(1, v.ID, "key-1")
	if !errors.Is(err, domain.ErrVoucherNotFound) {
		t.Fatalf("err = %v, want ErrVoucherNotFound", err)
	}
}

func TestGetRedemptionEnforcesOwnership(t *testing.T) {
	srv := issuerStub(t, 0)
	defer srv.Close()
	env := newTestEnv(t, srv.URL)
	env.seedPoints(t, 1, 10)
	v := env.seedVoucher(t, 5, 3)

	vr, err := env.redemptionSvc.Redeem(1, v.ID, "key-1")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if _, err := env.redemptionSvc.Get(1, vr.ID); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if _, err := env.redemptionSvc.Get(2, vr.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("foreign get err = %v, want record not found", err)
	}
}

func TestSweeperReconcilesStaleProcessing(t *testing.T) {
	srv := issuerStub(t, 0)
	defer srv.Close()
	env := newTestEnv(t, srv.URL)
	env.seedPoints(t, 1, 10)
	v := env.seedVoucher(t, 5, 3)

	// A redemption whose issuance never settled: debited, PROCESSING, old.
	var vr *models.VoucherRedemption
	err := env.ledgerRepo.WithCustomerTx(1, func(tx *gorm.DB, acct *models.RewardAccount) error {
		if _, err := env.ledgerRepo.RedeemInTx(tx, acct, v.RequiredPoints, v.ID, "Redeemed "+v.Name); err != nil {
			return err
		}
		if err := env.voucherRepo.DecrementStockInTx(tx, v.ID); err != nil {
			return err
		}
		vr = &models.VoucherRedemption{
			UserID:         1,
			VoucherID:      v.ID,
			VoucherName:    v.Name,
			PointsUsed:     v.RequiredPoints,
			IdempotencyKey: "stale-key",
			Status:         domain.RedemptionProcessing,
			RedeemedAt:     time.Now().Add(-time.Hour),
		}
		return env.redemptionRepo.CreateInTx(tx, vr)
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	failed, expired, err := env.sweeper.SweepOnce(time.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if failed != 1 || expired != 0 {
		t.Fatalf("sweep = (%d failed, %d expired), want (1, 0)", failed, expired)
	}
	cur, _ := env.redemptionRepo.GetByID(vr.ID)
	if cur.Status != domain.RedemptionFailed {
		t.Errorf("status = %s, want FAILED", cur.Status)
	}
	balance, _ := env.ledgerRepo.Balance(1)
	if balance != 10 {
		t.Errorf("balance after reconcile = %d, want 10", balance)
	}
	voucher, _ := env.voucherRepo.GetByID(v.ID)
	if voucher.Stock != 3 {
		t.Errorf("stock after reconcile = %d, want 3", voucher.Stock)
	}

	// A second pass finds nothing: the refund is not repeated.
	failed, _, err = env.sweeper.SweepOnce(time.Now())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if failed != 0 {
		t.Errorf("second sweep failed = %d, want 0", failed)
	}
}

func TestSweeperExpiresCompletedRedemptions(t *testing.T) {
	srv := issuerStub(t, 0)
	defer srv.Close()
	env := newTestEnv(t, srv.URL)
	env.seedPoints(t, 1, 10)
	v := env.seedVoucher(t, 5, 3)

	vr, err := env.redemptionSvc.Redeem(1, v.ID, "key-1")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	past := time.Now().Add(-time.Minute)
	vr.ExpiresAt = &past
	if err := env.redemptionRepo.Update(vr); err != nil {
		t.Fatalf("backdate expiry: %v", err)
	}

	_, expired, err := env.sweeper.SweepOnce(time.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}
	cur, _ := env.redemptionRepo.GetByID(vr.ID)
	if cur.Status != domain.RedemptionExpired {
		t.Errorf("status = %s, want EXPIRED", cur.Status)
	}
	// Expiry never refunds.
	balance, _ := env.ledgerRepo.Balance(1)
	if balance != 5 {
		t.Errorf("balance = %d, want 5", balance)
	}
}

func TestRedeemIssuerTimeoutRefunds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		fmt.Fprint(w, `{"order_id":"late","voucher_code":"CODE-LATE","status":"ISSUED"}`)
	}))
	defer srv.Close()
	env := newTestEnv(t, srv.URL)
	env.seedPoints(t, 1, 10)
	v := env.seedVoucher(t, 5, 3)

	env.cfg.Issuer.Timeout = 50 * time.Millisecond
	slowClient := issuer.NewClient(srv.URL, "test", env.cfg.Issuer.Timeout)
	svc := NewRedemptionService(env.cfg, env.ledgerRepo, env.voucherRepo, env.redemptionRepo, slowClient, nil, nil)

	vr, err := svc.Redeem(1, v.ID, "key-1")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if vr.Status != domain.RedemptionFailed {
		t.Fatalf("status = %s, want FAILED", vr.Status)
	}
	if vr.FailureReason != domain.ErrIssuanceTimeout.Error() {
		t.Errorf("failure reason = %q, want %q", vr.FailureReason, domain.ErrIssuanceTimeout.Error())
	}
	if vr.VoucherCode != "" {
		t.Errorf("voucher code = %q, want empty on timeout", vr.VoucherCode)
	}
	balance, _ := env.ledgerRepo.Balance(1)
	if balance != 10 {
		t.Errorf("balance after timeout refund = %d, want 10", balance)
	}
	cur, _ := env.voucherRepo.GetByID(v.ID)
	if cur.Stock != 3 {
		t.Errorf("stock after timeout refund = %d, want 3", cur.Stock)
	}
}

func TestLateSettleCannotOverrideReconciledFailure(t *testing.T) {
	srv := issuerStub(t, 0)
	defer srv.Close()
	env := newTestEnv(t, srv.URL)
	env.seedPoints(t, 1, 10)
	v := env.seedVoucher(t, 5, 3)

	var vr *models.VoucherRedemption
	err := env.ledgerRepo.WithCustomerTx(1, func(tx *gorm.DB, acct *models.RewardAccount) error {
		if _, err := env.ledgerRepo.RedeemInTx(tx, acct, v.RequiredPoints, v.ID, "Redeemed "+v.Name); err != nil {
			return err
		}
		if err := env.voucherRepo.DecrementStockInTx(tx, v.ID); err != nil {
			return err
		}
		vr = &models.VoucherRedemption{
			UserID:         1,
			VoucherID:      v.ID,
			VoucherName:    v.Name,
			PointsUsed:     v.RequiredPoints,
			IdempotencyKey: "slow-key",
			Status:         domain.RedemptionProcessing,
			RedeemedAt:     time.Now(),
		}
		return env.redemptionRepo.CreateInTx(tx, vr)
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	// The sweeper gives up on the row while issuance is still in flight.
	stale := *vr
	if err := env.redemptionSvc.FailWithRefund(vr, "reconciled: issuance never settled"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	// The issuer finally answers with a code; it must be discarded.
	env.redemptionSvc.settle(&stale, v)

	cur, err := env.redemptionRepo.GetByID(vr.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cur.Status != domain.RedemptionFailed {
		t.Fatalf("status = %s, want FAILED to stick", cur.Status)
	}
	if cur.VoucherCode != "" {
		t.Errorf("voucher code = %q, want empty", cur.VoucherCode)
	}
	if stale.Status != domain.RedemptionFailed {
		t.Errorf("settle left caller state %s, want reloaded FAILED", stale.Status)
	}
	// Refunded points stay refunded.
	balance, _ := env.ledgerRepo.Balance(1)
	if balance != 10 {
		t.Errorf("balance = %d, want 10", balance)
	}
}

func TestWithRetryOnlyRetriesContention(t *testing.T) {
	calls := 0
	err := withRetry(3, func() error {
		calls++
		if calls < 3 {
			return domain.ErrConcurrentModification
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d, want nil after 3", err, calls)
	}

	calls = 0
	hard := errors.New("boom")
	if err := withRetry(3, func() error { calls++; return hard }); !errors.Is(err, hard) || calls != 1 {
		t.Fatalf("err=%v calls=%d, want boom after 1", err, calls)
	}
}
