package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/voxguard/voxguard/internal/config"
	ledgerdomain "github.com/voxguard/voxguard/internal/ledger/domain"
	ledgerrepo "github.com/voxguard/voxguard/internal/ledger/repository"
	"github.com/voxguard/voxguard/internal/pricing"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (ledgerdomain.Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ledgerdomain.Receipt{}, &ledgerdomain.UserAccount{}))

	svc := NewService(ServiceParam{
		Log:     zap.NewNop(),
		Cfg:     config.Config{},
		Repo:    ledgerrepo.NewLedgerStore(db),
		Pricing: pricing.NewStaticHolder(pricing.DefaultTable()),
	})
	return svc, db
}

func oneTimePurchase(id, productID string, purchase time.Time) ledgerdomain.Transaction {
	return ledgerdomain.Transaction{
		TransactionID:  id,
		ProductID:      productID,
		PurchaseDateMs: purchase.UnixMilli(),
	}
}

func TestSync_OneTimePurchase(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.SyncTransactions(ctx, "u1", []ledgerdomain.Transaction{
		oneTimePurchase("tx-1", pricing.ProductCredits10, t0),
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, result.ProcessedCount)
	require.Zero(t, result.SkippedCount)
	require.Equal(t, 10.0, result.NewCreditsAdded)
	require.Equal(t, 10.0, result.Remaining)
}

func TestSync_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	tx := oneTimePurchase("tx-1", pricing.ProductCredits10, t0)

	first, err := svc.SyncTransactions(ctx, "u1", []ledgerdomain.Transaction{tx})
	require.NoError(t, err)
	require.Equal(t, 1, first.ProcessedCount)

	second, err := svc.SyncTransactions(ctx, "u1", []ledgerdomain.Transaction{tx})
	require.NoError(t, err)
	require.True(t, second.Success)
	require.Zero(t, second.ProcessedCount)
	require.Equal(t, 1, second.SkippedCount)
	require.Zero(t, second.NewCreditsAdded)
	require.Equal(t, 10.0, second.Remaining)
}

func TestSync_SubscriptionChain(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	exp1 := t0.Add(7 * 24 * time.Hour)
	result, err := svc.SyncTransactions(ctx, "u1", []ledgerdomain.Transaction{
		subscriptionTx("tx-1", t0, exp1),
	})
	require.NoError(t, err)
	require.Equal(t, 10.0, result.Remaining)

	// Renewal lands at expiration; classification sees the prior row.
	result, err = svc.SyncTransactions(ctx, "u1", []ledgerdomain.Transaction{
		subscriptionTx("tx-2", exp1, exp1.Add(7*24*time.Hour)),
	})
	require.NoError(t, err)
	require.Equal(t, 20.0, result.Remaining)

	var renewal ledgerdomain.Receipt
	require.NoError(t, db.First(&renewal, "transaction_id = ?", "tx-2").Error)
	require.Equal(t, ledgerdomain.TypeRenewal, renewal.TransactionType)
	require.Equal(t, pricing.ProductProMonth, renewal.PreviousProductID)
}

func TestSync_Refund(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	_, err := svc.SyncTransactions(ctx, "u1", []ledgerdomain.Transaction{
		oneTimePurchase("tx-1", pricing.ProductCredits10, t0),
	})
	require.NoError(t, err)

	refund := oneTimePurchase("tx-1", pricing.ProductCredits10, t0)
	refund.RevocationDateMs = t0.Add(48 * time.Hour).UnixMilli()
	refund.RevocationReason = "customer request"

	result, err := svc.SyncTransactions(ctx, "u1", []ledgerdomain.Transaction{refund})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, result.ProcessedCount)
	require.Zero(t, result.Remaining)

	// The original row is mutated in place, not duplicated.
	var count int64
	require.NoError(t, db.Model(&ledgerdomain.Receipt{}).Where("user_id = ?", "u1").Count(&count).Error)
	require.EqualValues(t, 1, count)

	var row ledgerdomain.Receipt
	require.NoError(t, db.First(&row, "transaction_id = ?", "tx-1").Error)
	require.Equal(t, ledgerdomain.TypeRefund, row.TransactionType)
	require.NotNil(t, row.RevocationDate)
	require.Zero(t, row.CreditsAmount)
	require.Equal(t, "customer request", row.RevocationReason)
}

func TestSync_RefundWithoutPurchase(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	refund := oneTimePurchase("tx-9", pricing.ProductCredits10, t0)
	refund.RevocationDateMs = t0.Add(time.Hour).UnixMilli()

	result, err := svc.SyncTransactions(ctx, "u1", []ledgerdomain.Transaction{refund})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Zero(t, result.ProcessedCount)
	require.Equal(t, 1, result.SkippedCount)
	require.Len(t, result.Errors, 1)
	// No synthetic negative balance.
	require.Zero(t, result.Remaining)
}

func TestSync_PartialBatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.SyncTransactions(ctx, "u1", []ledgerdomain.Transaction{
		oneTimePurchase("tx-1", pricing.ProductCredits25, t0),
		{ProductID: pricing.ProductCredits10, PurchaseDateMs: t0.UnixMilli()},
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, 1, result.ProcessedCount)
	require.Equal(t, 1, result.SkippedCount)
	require.Len(t, result.Errors, 1)
	require.Equal(t, 25.0, result.Remaining)
}

func TestSync_BatchOrderedByPurchaseDate(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	exp1 := t0.Add(7 * 24 * time.Hour)
	late := t0.Add(10 * 24 * time.Hour)

	// Submitted out of order; the lapsed renewal must still classify
	// as a resubscription after the original.
	result, err := svc.SyncTransactions(ctx, "u1", []ledgerdomain.Transaction{
		subscriptionTx("tx-2", late, late.Add(7*24*time.Hour)),
		subscriptionTx("tx-1", t0, exp1),
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.ProcessedCount)

	var second ledgerdomain.Receipt
	require.NoError(t, db.First(&second, "transaction_id = ?", "tx-2").Error)
	require.Equal(t, ledgerdomain.TypeResubscription, second.TransactionType)
}

func TestBalance_EmptyUser(t *testing.T) {
	svc, _ := newTestService(t)

	balance, err := svc.Balance(context.Background(), "nobody")
	require.NoError(t, err)
	require.Zero(t, balance.Spent)
	require.Zero(t, balance.Total)
	require.Zero(t, balance.Remaining)
	require.False(t, balance.Exceeded())
}

func TestCoordinator_SerializesPerUser(t *testing.T) {
	coordinator := NewCoordinator(nil, time.Second, zap.NewNop())
	ctx := context.Background()

	var inFlight int32
	var overlaps int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := coordinator.RunLocked(ctx, "u1", func(context.Context) error {
				if atomic.AddInt32(&inFlight, 1) > 1 {
					atomic.AddInt32(&overlaps, 1)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Zero(t, atomic.LoadInt32(&overlaps))
}

func TestCoordinator_IndependentUsers(t *testing.T) {
	coordinator := NewCoordinator(nil, time.Second, zap.NewNop())
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = coordinator.RunLocked(ctx, "u1", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// A different user is not blocked by u1's batch.
	done := make(chan struct{})
	go func() {
		_ = coordinator.RunLocked(ctx, "u2", func(context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent user was blocked")
	}
	close(release)
}
