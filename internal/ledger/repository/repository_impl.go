package repository

import (
	"context"
	"errors"
	"time"

	ledgerdomain "github.com/voxguard/voxguard/internal/ledger/domain"
	"github.com/voxguard/voxguard/pkg/db/option"
	"github.com/voxguard/voxguard/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ledgerStore struct {
	db       *gorm.DB
	receipts repository.Repository[ledgerdomain.Receipt]
	accounts repository.Repository[ledgerdomain.UserAccount]
}

func NewLedgerStore(db *gorm.DB) ledgerdomain.Repository {
	return &ledgerStore{
		db:       db,
		receipts: repository.ProvideStore[ledgerdomain.Receipt](db),
		accounts: repository.ProvideStore[ledgerdomain.UserAccount](db),
	}
}

func (s *ledgerStore) WithTrx(tx *gorm.DB) ledgerdomain.Repository {
	return &ledgerStore{
		db:       tx,
		receipts: s.receipts.WithTrx(tx),
		accounts: s.accounts.WithTrx(tx),
	}
}

func (s *ledgerStore) History(ctx context.Context, userID, chainID string) ([]ledgerdomain.Receipt, error) {
	rows, err := s.receipts.Find(ctx,
		&ledgerdomain.Receipt{UserID: userID, OriginalTransactionID: chainID},
		option.WithOrder("purchase_date ASC"),
	)
	if err != nil {
		return nil, err
	}

	out := make([]ledgerdomain.Receipt, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

func (s *ledgerStore) InsertIfAbsent(ctx context.Context, receipt *ledgerdomain.Receipt) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}},
			DoNothing: true,
		}).
		Create(receipt)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// Conflict path: confirm the row exists rather than trusting the
	// zero count, so a lost race still reports as a clean skip.
	existing, err := s.receipts.FindOne(ctx, &ledgerdomain.Receipt{TransactionID: receipt.TransactionID})
	if err != nil {
		return false, err
	}
	return existing == nil, nil
}

func (s *ledgerStore) ApplyRefund(ctx context.Context, update ledgerdomain.RefundUpdate) (bool, error) {
	// Target the most recent non-revoked positive receipt in the chain.
	var target ledgerdomain.Receipt
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND original_transaction_id = ? AND revocation_date IS NULL AND credits_amount > 0",
			update.UserID, update.ChainID).
		Order("purchase_date DESC").
		First(&target).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	// Conditional write: a concurrent refund of the same row loses the
	// race and reports zero rows.
	res := s.db.WithContext(ctx).
		Model(&ledgerdomain.Receipt{}).
		Where("transaction_id = ? AND revocation_date IS NULL", target.TransactionID).
		Updates(map[string]interface{}{
			"credits_amount":    gorm.Expr("credits_amount + ?", update.CreditsDelta),
			"transaction_type":  ledgerdomain.TypeRefund,
			"revocation_date":   update.RevocationDate,
			"revocation_reason": update.Reason,
			"notes":             update.Notes,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *ledgerStore) SumCredits(ctx context.Context, userID string) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).
		Model(&ledgerdomain.Receipt{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(credits_amount), 0)").
		Scan(&total).Error
	return total, err
}

func (s *ledgerStore) Account(ctx context.Context, userID string) (*ledgerdomain.UserAccount, error) {
	account, err := s.accounts.FindOne(ctx, &ledgerdomain.UserAccount{UserID: userID})
	if err != nil {
		return nil, err
	}
	if account == nil {
		return &ledgerdomain.UserAccount{UserID: userID}, nil
	}
	return account, nil
}

func (s *ledgerStore) AddSpend(ctx context.Context, userID string, amount float64) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"credits_spent": gorm.Expr("credits_spent + ?", amount),
			}),
		}).
		Create(&ledgerdomain.UserAccount{UserID: userID, CreditsSpent: amount}).Error
}
