package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/voxguard/voxguard/internal/config"
	ledgerdomain "github.com/voxguard/voxguard/internal/ledger/domain"
	obsmetrics "github.com/voxguard/voxguard/internal/observability/metrics"
	"github.com/voxguard/voxguard/internal/pricing"
	"github.com/voxguard/voxguard/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log     *zap.Logger
	Cfg     config.Config
	Repo    ledgerdomain.Repository
	Pricing *pricing.Holder
	Locker  *ratelimit.Locker   `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	repo        ledgerdomain.Repository
	pricing     *pricing.Holder
	coordinator *Coordinator
	metrics     *obsmetrics.Metrics
}

func NewService(p ServiceParam) ledgerdomain.Service {
	lockTTL := time.Duration(p.Cfg.RateLimit.SyncLockTTLSec) * time.Second
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}

	return &Service{
		log:         p.Log.Named("ledger.service"),
		repo:        p.Repo,
		pricing:     p.Pricing,
		coordinator: NewCoordinator(p.Locker, lockTTL, p.Log),
		metrics:     p.Metrics,
	}
}

func (s *Service) SyncTransactions(ctx context.Context, userID string, transactions []ledgerdomain.Transaction) (*ledgerdomain.SyncResult, error) {
	result := &ledgerdomain.SyncResult{UserID: userID}

	err := s.coordinator.RunLocked(ctx, userID, func(ctx context.Context) error {
		return s.ingestBatch(ctx, userID, transactions, result)
	})
	if err != nil {
		return nil, err
	}

	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	result.Spent = balance.Spent
	result.Total = balance.Total
	result.Remaining = balance.Remaining
	result.Success = len(result.Errors) == 0
	return result, nil
}

// ingestBatch walks the batch in ascending purchase-date order so each
// classification sees correctly ordered chain history. Per-transaction
// failures are recorded and the batch continues.
func (s *Service) ingestBatch(ctx context.Context, userID string, transactions []ledgerdomain.Transaction, result *ledgerdomain.SyncResult) error {
	batch := make([]ledgerdomain.Transaction, len(transactions))
	copy(batch, transactions)
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].PurchaseDateMs < batch[j].PurchaseDateMs
	})

	table := s.pricing.Get()

	for _, tx := range batch {
		if tx.TransactionID == "" {
			result.SkippedCount++
			result.Errors = append(result.Errors, "transaction without an id skipped")
			continue
		}

		history, err := s.repo.History(ctx, userID, tx.ChainID())
		if err != nil {
			result.SkippedCount++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: history read failed: %v", tx.TransactionID, err))
			continue
		}

		cls := Classify(tx, history, table)
		if cls.Type == ledgerdomain.TypeRefund {
			s.ingestRefund(ctx, userID, tx, cls, result)
			continue
		}

		receipt := buildReceipt(userID, tx, cls)
		inserted, err := s.repo.InsertIfAbsent(ctx, receipt)
		if err != nil {
			result.SkippedCount++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: insert failed: %v", tx.TransactionID, err))
			continue
		}
		if !inserted {
			result.SkippedCount++
			continue
		}

		result.ProcessedCount++
		result.NewCreditsAdded += cls.CreditsDelta
		s.metrics.RecordLedgerIngest(ctx, string(cls.Type))
		s.log.Info("receipt ingested",
			zap.String("user_id", userID),
			zap.String("transaction_id", tx.TransactionID),
			zap.String("type", string(cls.Type)),
			zap.Float64("credits", cls.CreditsDelta),
		)
	}

	return nil
}

func (s *Service) ingestRefund(ctx context.Context, userID string, tx ledgerdomain.Transaction, cls ledgerdomain.Classification, result *ledgerdomain.SyncResult) {
	if cls.CreditsDelta == 0 {
		result.SkippedCount++
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", tx.TransactionID, cls.Notes))
		return
	}

	revokedAt := time.Now().UTC()
	if ts := tx.RevocationTime(); ts != nil {
		revokedAt = *ts
	}

	applied, err := s.repo.ApplyRefund(ctx, ledgerdomain.RefundUpdate{
		UserID:         userID,
		ChainID:        tx.ChainID(),
		CreditsDelta:   cls.CreditsDelta,
		RevocationDate: revokedAt,
		Reason:         tx.RevocationReason,
		Notes:          cls.Notes,
	})
	if err != nil {
		result.SkippedCount++
		result.Errors = append(result.Errors, fmt.Sprintf("%s: refund failed: %v", tx.TransactionID, err))
		return
	}
	if !applied {
		result.SkippedCount++
		result.Errors = append(result.Errors, fmt.Sprintf("%s: refund target already revoked or missing", tx.TransactionID))
		return
	}

	result.ProcessedCount++
	s.metrics.RecordLedgerIngest(ctx, string(ledgerdomain.TypeRefund))
	s.log.Info("refund applied",
		zap.String("user_id", userID),
		zap.String("chain_id", tx.ChainID()),
		zap.Float64("credits", cls.CreditsDelta),
	)
}

func (s *Service) Balance(ctx context.Context, userID string) (*ledgerdomain.Balance, error) {
	total, err := s.repo.SumCredits(ctx, userID)
	if err != nil {
		return nil, err
	}
	account, err := s.repo.Account(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &ledgerdomain.Balance{
		Spent:     account.CreditsSpent,
		Total:     total,
		Remaining: total - account.CreditsSpent,
	}, nil
}

func buildReceipt(userID string, tx ledgerdomain.Transaction, cls ledgerdomain.Classification) *ledgerdomain.Receipt {
	now := time.Now().UTC()
	return &ledgerdomain.Receipt{
		TransactionID:         tx.TransactionID,
		OriginalTransactionID: tx.ChainID(),
		UserID:                userID,
		ProductID:             tx.ProductID,
		CreditsAmount:         cls.CreditsDelta,
		PurchaseDate:          tx.PurchaseTime(),
		ExpirationDate:        tx.ExpirationTime(),
		IsTrialPeriod:         tx.IsTrialPeriod,
		TransactionType:       cls.Type,
		PreviousProductID:     cls.PreviousProductID,
		Notes:                 cls.Notes,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}
