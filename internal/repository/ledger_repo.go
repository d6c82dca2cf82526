package repository

import (
	"errors"
	"sync"
	"time"

	"tably/internal/domain"
	"tably/internal/models"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerRepository is the append-only point ledger and the single source of
// truth for balances. All writes for one customer are serialized: an
// in-process keyed mutex plus a FOR UPDATE lock on the customer's
// reward_accounts row (MySQL), so two instances behind a load balancer
// still cannot interleave debits.
type LedgerRepository struct {
	db    *gorm.DB
	locks sync.Map // userID -> *sync.Mutex
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) lockFor(userID uint) *sync.Mutex {
	v, _ := r.locks.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// WithCustomerTx runs fn inside a DB transaction holding the per-customer
// mutual-exclusion scope. acct is the locked account row; balance reads and
// ledger appends inside fn are atomic with respect to concurrent calls for
// the same customer. Lock contention errors map to ErrConcurrentModification.
func (r *LedgerRepository) WithCustomerTx(userID uint, fn func(tx *gorm.DB, acct *models.RewardAccount) error) error {
	mu := r.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	err := r.db.Transaction(func(tx *gorm.DB) error {
		acct, err := r.lockAccount(tx, userID)
		if err != nil {
			return err
		}
		return fn(tx, acct)
	})
	return translateLockErr(err)
}

// lockAccount loads the customer's account row FOR UPDATE, creating it on
// first use. SQLite (tests) has a single writer, so the clause is applied
// on MySQL only.
func (r *LedgerRepository) lockAccount(tx *gorm.DB, userID uint) (*models.RewardAccount, error) {
	q := tx
	if tx.Dialector.Name() == "mysql" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var acct models.RewardAccount
	err := q.Where("user_id = ?", userID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		acct = models.RewardAccount{UserID: userID}
		if err := tx.Create(&acct).Error; err != nil {
			return nil, err
		}
		return &acct, nil
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// EarnInTx appends an EARNED transaction for an approved feedback. Fails
// with ErrDuplicateCredit when this feedback already earned for this
// customer, so at-least-once approval delivery credits exactly once.
func (r *LedgerRepository) EarnInTx(tx *gorm.DB, acct *models.RewardAccount, amount int, feedbackID uint, description string) (*models.RewardTransaction, error) {
	var count int64
	err := tx.Model(&models.RewardTransaction{}).
		Where("user_id = ? AND related_feedback_id = ?", acct.UserID, feedbackID).
		Count(&count).Error
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, domain.ErrDuplicateCredit
	}
	t := &models.RewardTransaction{
		UserID:            acct.UserID,
		Kind:              domain.TxKindEarned,
		Amount:            amount,
		Description:       description,
		RelatedFeedbackID: &feedbackID,
	}
	if err := r.appendInTx(tx, acct, t); err != nil {
		if isDuplicateKey(err) {
			return nil, domain.ErrDuplicateCredit
		}
		return nil, err
	}
	return t, nil
}

// RefundInTx appends a compensating EARNED transaction reversing a failed
// redemption. It is tagged with the redemption ID and bypasses the
// feedback dedupe.
func (r *LedgerRepository) RefundInTx(tx *gorm.DB, acct *models.RewardAccount, amount int, redemptionID uint, description string) (*models.RewardTransaction, error) {
	t := &models.RewardTransaction{
		UserID:              acct.UserID,
		Kind:                domain.TxKindEarned,
		Amount:              amount,
		Description:         description,
		RelatedRedemptionID: &redemptionID,
	}
	if err := r.appendInTx(tx, acct, t); err != nil {
		return nil, err
	}
	return t, nil
}

// RedeemInTx appends a REDEEMED transaction (debit). Fails with
// ErrInsufficientBalance when amount exceeds the locked balance; the check
// and the append are atomic within the surrounding customer transaction.
func (r *LedgerRepository) RedeemInTx(tx *gorm.DB, acct *models.RewardAccount, amount int, voucherID uint, description string) (*models.RewardTransaction, error) {
	if amount > acct.Balance {
		return nil, domain.ErrInsufficientBalance
	}
	t := &models.RewardTransaction{
		UserID:           acct.UserID,
		Kind:             domain.TxKindRedeemed,
		Amount:           amount,
		Description:      description,
		RelatedVoucherID: &voucherID,
	}
	if err := r.appendInTx(tx, acct, t); err != nil {
		return nil, err
	}
	return t, nil
}

// appendInTx inserts the transaction with its balance_after snapshot and
// rolls the cached account totals forward in the same DB transaction.
func (r *LedgerRepository) appendInTx(tx *gorm.DB, acct *models.RewardAccount, t *models.RewardTransaction) error {
	if t.Amount <= 0 {
		return errors.New("transaction amount must be positive")
	}
	switch t.Kind {
	case domain.TxKindEarned:
		acct.Balance += t.Amount
		acct.TotalEarned += t.Amount
	case domain.TxKindRedeemed:
		if acct.Balance < t.Amount {
			return domain.ErrInsufficientBalance
		}
		acct.Balance -= t.Amount
		acct.TotalRedeemed += t.Amount
	default:
		return errors.New("unknown transaction kind: " + t.Kind)
	}
	t.BalanceAfter = acct.Balance
	if err := tx.Create(t).Error; err != nil {
		return err
	}
	return tx.Model(&models.RewardAccount{}).Where("id = ?", acct.ID).Updates(map[string]interface{}{
		"balance":        acct.Balance,
		"total_earned":   acct.TotalEarned,
		"total_redeemed": acct.TotalRedeemed,
	}).Error
}

// AppendEarned credits points for an approved feedback under the
// per-customer scope.
func (r *LedgerRepository) AppendEarned(userID uint, amount int, feedbackID uint, description string) (*models.RewardTransaction, error) {
	var out *models.RewardTransaction
	err := r.WithCustomerTx(userID, func(tx *gorm.DB, acct *models.RewardAccount) error {
		t, err := r.EarnInTx(tx, acct, amount, feedbackID, description)
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendRedeemed debits points under the per-customer scope.
func (r *LedgerRepository) AppendRedeemed(userID uint, amount int, voucherID uint, description string) (*models.RewardTransaction, error) {
	var out *models.RewardTransaction
	err := r.WithCustomerTx(userID, func(tx *gorm.DB, acct *models.RewardAccount) error {
		t, err := r.RedeemInTx(tx, acct, amount, voucherID, description)
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Account returns the cached account row, or a zero-valued one when the
// customer has no transactions yet.
func (r *LedgerRepository) Account(userID uint) (*models.RewardAccount, error) {
	var acct models.RewardAccount
	err := r.db.Where("user_id = ?", userID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.RewardAccount{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// Balance returns the customer's current point balance (0 when no
// transactions exist).
func (r *LedgerRepository) Balance(userID uint) (int, error) {
	acct, err := r.Account(userID)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// ListTransactions returns the customer's history newest-first with the
// total row count for pagination.
func (r *LedgerRepository) ListTransactions(userID uint, page, size int) ([]models.RewardTransaction, int64, error) {
	if size <= 0 {
		size = 20
	}
	if page < 0 {
		page = 0
	}
	var total int64
	if err := r.db.Model(&models.RewardTransaction{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []models.RewardTransaction
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(size).Offset(page * size).
		Find(&list).Error
	return list, total, err
}

// SumByKind recomputes a customer's total for one transaction kind straight
// from the log. Used by audits to cross-check the cached account row.
func (r *LedgerRepository) SumByKind(userID uint, kind string) (int, error) {
	var sum int64
	err := r.db.Model(&models.RewardTransaction{}).
		Where("user_id = ? AND kind = ?", userID, kind).
		Select("COALESCE(SUM(amount), 0)").Scan(&sum).Error
	return int(sum), err
}

// SumByKindSince totals one kind of movement created at or after since.
func (r *LedgerRepository) SumByKindSince(userID uint, kind string, since time.Time) (int, error) {
	var sum int64
	err := r.db.Model(&models.RewardTransaction{}).
		Where("user_id = ? AND kind = ? AND created_at >= ?", userID, kind, since).
		Select("COALESCE(SUM(amount), 0)").Scan(&sum).Error
	return int(sum), err
}

// FirstTransactionAt returns the creation time of the customer's oldest
// ledger row, or gorm.ErrRecordNotFound for an empty ledger.
func (r *LedgerRepository) FirstTransactionAt(userID uint) (time.Time, error) {
	var t models.RewardTransaction
	err := r.db.Where("user_id = ?", userID).Order("created_at ASC, id ASC").First(&t).Error
	if err != nil {
		return time.Time{}, err
	}
	return t.CreatedAt, nil
}

// translateLockErr maps MySQL deadlock (1213) and lock wait timeout (1205)
// to the retryable ErrConcurrentModification.
func translateLockErr(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && (myErr.Number == 1213 || myErr.Number == 1205) {
		return domain.ErrConcurrentModification
	}
	return err
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}
