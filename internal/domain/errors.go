package domain

import "errors"

var (
	// ErrInsufficientBalance is returned when a debit exceeds the customer's
	// current point balance. No ledger writes happen in that case.
	ErrInsufficientBalance = errors.New("insufficient point balance")

	// ErrVoucherNotFound covers both unknown and currently unavailable vouchers.
	ErrVoucherNotFound = errors.New("voucher not found or unavailable")

	// ErrDuplicateCredit guards the one-point-per-feedback rule: an EARNED
	// transaction for the same feedback already exists for this customer.
	ErrDuplicateCredit = errors.New("feedback already credited")

	// ErrDuplicateRedemption is returned when the same (customer, voucher,
	// idempotency key) was already processed within the dedupe window.
	ErrDuplicateRedemption = errors.New("duplicate redemption request")

	// ErrIssuanceTimeout marks a voucher-code issuance call that exceeded its
	// deadline. Always recovered internally via refund, never surfaced raw.
	ErrIssuanceTimeout = errors.New("voucher code issuance timed out")

	// ErrConcurrentModification signals lost lock contention on the customer's
	// ledger. Retryable; the coordinator retries a few times before giving up.
	ErrConcurrentModification = errors.New("ledger contention, retry")
)
