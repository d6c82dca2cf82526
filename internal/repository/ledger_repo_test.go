package repository

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"tably/internal/database"
	"tably/internal/domain"
	"tably/internal/models"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
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
	return db
}

func TestAppendEarnedBalanceChain(t *testing.T) {
	repo := NewLedgerRepository(newTestDB(t))

	tx1, err := repo.AppendEarned(1, 3, 100, "Feedback reward")
	if err != nil {
		t.Fatalf("first earn: %v", err)
	}
	if tx1.BalanceAfter != 3 {
		t.Errorf("first balance_after = %d, want 3", tx1.BalanceAfter)
	}
	tx2, err := repo.AppendEarned(1, 2, 101, "Feedback reward")
	if err != nil {
		t.Fatalf("second earn: %v", err)
	}
	if tx2.BalanceAfter != 5 {
		t.Errorf("second balance_after = %d, want 5", tx2.BalanceAfter)
	}

	acct, err := repo.Account(1)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.Balance != 5 || acct.TotalEarned != 5 || acct.TotalRedeemed != 0 {
		t.Errorf("account = %+v, want balance 5, earned 5, redeemed 0", acct)
	}
}

func TestDuplicateFeedbackCreditsOnce(t *testing.T) {
	repo := NewLedgerRepository(newTestDB(t))

	if _, err := repo.AppendEarned(1, 2, 42, "Feedback reward"); err != nil {
		t.Fatalf("first earn: %v", err)
	}
	_, err := repo.AppendEarned(1, 2, 42, "Feedback reward")
	if !errors.Is(err, domain.ErrDuplicateCredit) {
		t.Fatalf("second earn err = %v, want ErrDuplicateCredit", err)
	}
	balance, err := repo.Balance(1)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 2 {
		t.Errorf("balance = %d, want 2 (single credit)", balance)
	}
	// Same feedback ID for a different customer is not a duplicate.
	if _, err := repo.AppendEarned(2, 2, 42, "Feedback reward"); err != nil {
		t.Fatalf("other customer earn: %v", err)
	}
}

func TestRedeemDebitsAndChecksBalance(t *testing.T) {
	repo := NewLedgerRepository(newTestDB(t))

	if _, err := repo.AppendEarned(1, 10, 1, "Feedback reward"); err != nil {
		t.Fatalf("earn: %v", err)
	}
	tx, err := repo.AppendRedeemed(1, 7, 3, "Redeemed Americano Voucher")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if tx.BalanceAfter != 3 {
		t.Errorf("balance_after = %d, want 3", tx.BalanceAfter)
	}
	if tx.RelatedVoucherID == nil || *tx.RelatedVoucherID != 3 {
		t.Errorf("related_voucher_id = %v, want 3", tx.RelatedVoucherID)
	}

	_, err = repo.AppendRedeemed(1, 4, 3, "Redeemed Americano Voucher")
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("overdraw err = %v, want ErrInsufficientBalance", err)
	}
	balance, _ := repo.Balance(1)
	if balance != 3 {
		t.Errorf("balance after rejected debit = %d, want 3", balance)
	}
}

func TestRedeemFromEmptyAccount(t *testing.T) {
	repo := NewLedgerRepository(newTestDB(t))
	_, err := repo.AppendRedeemed(9, 1, 1, "Redeemed Americano Voucher")
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestRefundTagsRedemption(t *testing.T) {
	repo := NewLedgerRepository(newTestDB(t))

	if _, err := repo.AppendEarned(1, 5, 1, "Feedback reward"); err != nil {
		t.Fatalf("earn: %v", err)
	}
	if _, err := repo.AppendRedeemed(1, 5, 2, "Redeemed Dessert Voucher"); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	var refund *models.RewardTransaction
	err := repo.WithCustomerTx(1, func(tx *gorm.DB, acct *models.RewardAccount) error {
		var err error
		refund, err = repo.RefundInTx(tx, acct, 5, 77, "Refund: Dessert Voucher")
		return err
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if !refund.IsRefund() {
		t.Errorf("refund row not tagged: %+v", refund)
	}
	if refund.RelatedVoucherID != nil {
		t.Errorf("refund must not carry a voucher link, got %v", refund.RelatedVoucherID)
	}
	balance, _ := repo.Balance(1)
	if balance != 5 {
		t.Errorf("balance after refund = %d, want 5", balance)
	}
}

func TestListTransactionsNewestFirst(t *testing.T) {
	repo := NewLedgerRepository(newTestDB(t))
	for i := 0; i < 5; i++ {
		if _, err := repo.AppendEarned(1, 1, uint(100+i), "Feedback reward"); err != nil {
			t.Fatalf("earn %d: %v", i, err)
		}
	}

	page0, total, err := repo.ListTransactions(1, 0, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page0) != 2 {
		t.Fatalf("page 0 len = %d, want 2", len(page0))
	}
	if page0[0].ID < page0[1].ID {
		t.Errorf("expected newest first, got IDs %d then %d", page0[0].ID, page0[1].ID)
	}

	page2, _, err := repo.ListTransactions(1, 2, 2)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page2) != 1 {
		t.Errorf("page 2 len = %d, want 1", len(page2))
	}
}

func TestLedgerAuditMatchesAccount(t *testing.T) {
	repo := NewLedgerRepository(newTestDB(t))
	for i := 0; i < 4; i++ {
		if _, err := repo.AppendEarned(1, 3, uint(200+i), "Feedback reward"); err != nil {
			t.Fatalf("earn: %v", err)
		}
	}
	if _, err := repo.AppendRedeemed(1, 5, 1, "Redeemed Americano Voucher"); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	earned, err := repo.SumByKind(1, domain.TxKindEarned)
	if err != nil {
		t.Fatalf("sum earned: %v", err)
	}
	redeemed, err := repo.SumByKind(1, domain.TxKindRedeemed)
	if err != nil {
		t.Fatalf("sum redeemed: %v", err)
	}
	acct, _ := repo.Account(1)
	if earned != acct.TotalEarned || redeemed != acct.TotalRedeemed {
		t.Errorf("log sums (%d, %d) disagree with account (%d, %d)",
			earned, redeemed, acct.TotalEarned, acct.TotalRedeemed)
	}
	if acct.Balance != earned-redeemed {
		t.Errorf("balance %d != earned %d - redeemed %d", acct.Balance, earned, redeemed)
	}
}

func TestConcurrentEarnsSerialize(t *testing.T) {
	repo := NewLedgerRepository(newTestDB(t))

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(feedbackID uint) {
			defer wg.Done()
			_, err := repo.AppendEarned(1, 1, feedbackID, "Feedback reward")
			errs <- err
		}(uint(300 + i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent earn: %v", err)
		}
	}

	balance, _ := repo.Balance(1)
	if balance != n {
		t.Errorf("balance = %d, want %d", balance, n)
	}
	// Every snapshot in the chain must be distinct: no two appends may have
	// observed the same running balance.
	list, _, err := repo.ListTransactions(1, 0, n)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	seen := make(map[int]bool, n)
	for _, tx := range list {
		if seen[tx.BalanceAfter] {
			t.Fatalf("duplicate balance_after %d: appends interleaved", tx.BalanceAfter)
		}
		seen[tx.BalanceAfter] = true
	}
}
