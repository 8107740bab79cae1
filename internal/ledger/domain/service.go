package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Service is the ledger entry point. SyncTransactions is serialized
// per user; at most one batch mutates a given user's ledger at a time.
type Service interface {
	SyncTransactions(ctx context.Context, userID string, transactions []Transaction) (*SyncResult, error)
	Balance(ctx context.Context, userID string) (*Balance, error)
}

// RefundUpdate targets the most recent non-revoked positive receipt in
// a chain and mutates it in place.
type RefundUpdate struct {
	UserID         string
	ChainID        string
	CreditsDelta   float64
	RevocationDate time.Time
	Reason         string
	Notes          string
}

type Repository interface {
	// WithTrx returns a copy of the repository bound to an open
	// transaction, so callers can group ledger writes with their own.
	WithTrx(tx *gorm.DB) Repository

	// History returns the user's receipts sharing a chain id, ordered
	// by ascending purchase date.
	History(ctx context.Context, userID, chainID string) ([]Receipt, error)

	// InsertIfAbsent inserts a receipt unless its transaction id is
	// already stored. Returns whether the row was newly inserted.
	InsertIfAbsent(ctx context.Context, receipt *Receipt) (bool, error)

	// ApplyRefund mutates the targeted receipt, setting revocation
	// fields and adding the (negative) delta to its credits. Returns
	// false when no matching row exists.
	ApplyRefund(ctx context.Context, update RefundUpdate) (bool, error)

	// SumCredits totals credits_amount across all of a user's receipts.
	SumCredits(ctx context.Context, userID string) (float64, error)

	// Account returns the user's spend counter, zero-valued when the
	// account does not exist yet.
	Account(ctx context.Context, userID string) (*UserAccount, error)

	// AddSpend atomically increments the user's spend counter,
	// creating the account on first use.
	AddSpend(ctx context.Context, userID string, amount float64) error
}
