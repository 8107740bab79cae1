package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	ledgerdomain "github.com/voxguard/voxguard/internal/ledger/domain"
	"github.com/voxguard/voxguard/internal/pricing"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func ms(t time.Time) int64 {
	return t.UnixMilli()
}

func subscriptionTx(id string, purchase, expiration time.Time) ledgerdomain.Transaction {
	return ledgerdomain.Transaction{
		TransactionID:         id,
		OriginalTransactionID: "chain-1",
		ProductID:             pricing.ProductProMonth,
		PurchaseDateMs:        ms(purchase),
		ExpirationDateMs:      ms(expiration),
	}
}

func receipt(id string, purchase time.Time, expiration *time.Time, credits float64) ledgerdomain.Receipt {
	return ledgerdomain.Receipt{
		TransactionID:         id,
		OriginalTransactionID: "chain-1",
		UserID:                "u1",
		ProductID:             pricing.ProductProMonth,
		CreditsAmount:         credits,
		PurchaseDate:          purchase,
		ExpirationDate:        expiration,
	}
}

func TestClassify_NewSubscription(t *testing.T) {
	tx := subscriptionTx("tx-1", t0, t0.Add(7*24*time.Hour))

	cls := Classify(tx, nil, pricing.DefaultTable())
	require.Equal(t, ledgerdomain.TypeNewSubscription, cls.Type)
	require.Equal(t, 10.0, cls.CreditsDelta)
}

func TestClassify_RenewalVersusResubscription(t *testing.T) {
	exp := t0.Add(7 * 24 * time.Hour)
	history := []ledgerdomain.Receipt{receipt("tx-1", t0, &exp, 10)}

	// Purchase exactly at expiration: no lapse, a renewal.
	cls := Classify(subscriptionTx("tx-2", exp, exp.Add(7*24*time.Hour)), history, pricing.DefaultTable())
	require.Equal(t, ledgerdomain.TypeRenewal, cls.Type)
	require.Equal(t, 10.0, cls.CreditsDelta)
	require.Equal(t, pricing.ProductProMonth, cls.PreviousProductID)

	// Purchase three days past expiration: the subscription lapsed.
	late := t0.Add(10 * 24 * time.Hour)
	cls = Classify(subscriptionTx("tx-2", late, late.Add(7*24*time.Hour)), history, pricing.DefaultTable())
	require.Equal(t, ledgerdomain.TypeResubscription, cls.Type)
	require.Equal(t, 10.0, cls.CreditsDelta)
}

func TestClassify_OneTimePurchase(t *testing.T) {
	tx := ledgerdomain.Transaction{
		TransactionID:  "tx-1",
		ProductID:      pricing.ProductCredits25,
		PurchaseDateMs: ms(t0),
	}

	cls := Classify(tx, nil, pricing.DefaultTable())
	require.Equal(t, ledgerdomain.TypeOneTimePurchase, cls.Type)
	require.Equal(t, 25.0, cls.CreditsDelta)
}

func TestClassify_Refund(t *testing.T) {
	exp := t0.Add(7 * 24 * time.Hour)
	history := []ledgerdomain.Receipt{receipt("tx-1", t0, &exp, 10)}

	tx := subscriptionTx("tx-1", t0, exp)
	tx.RevocationDateMs = ms(t0.Add(24 * time.Hour))
	tx.RevocationReason = "customer request"

	cls := Classify(tx, history, pricing.DefaultTable())
	require.Equal(t, ledgerdomain.TypeRefund, cls.Type)
	require.Equal(t, -10.0, cls.CreditsDelta)
}

func TestClassify_RefundWithoutMatch(t *testing.T) {
	revoked := t0.Add(time.Hour)
	history := []ledgerdomain.Receipt{
		{TransactionID: "tx-1", CreditsAmount: 0, PurchaseDate: t0, RevocationDate: &revoked},
	}

	tx := ledgerdomain.Transaction{
		TransactionID:    "tx-2",
		PurchaseDateMs:   ms(t0),
		RevocationDateMs: ms(t0.Add(2 * time.Hour)),
	}

	cls := Classify(tx, history, pricing.DefaultTable())
	require.Equal(t, ledgerdomain.TypeRefund, cls.Type)
	require.Zero(t, cls.CreditsDelta)
	require.NotEmpty(t, cls.Notes)
}

func TestClassify_FamilyShared(t *testing.T) {
	tx := subscriptionTx("tx-1", t0, t0.Add(7*24*time.Hour))
	tx.OwnershipType = ledgerdomain.OwnershipFamilyShared

	cls := Classify(tx, nil, pricing.DefaultTable())
	require.Equal(t, ledgerdomain.TypeFamilyShared, cls.Type)
	require.Zero(t, cls.CreditsDelta)
}

func TestClassify_TrialGrantsNothing(t *testing.T) {
	tx := subscriptionTx("tx-1", t0, t0.Add(7*24*time.Hour))
	tx.IsTrialPeriod = true

	cls := Classify(tx, nil, pricing.DefaultTable())
	require.Equal(t, ledgerdomain.TypeNewSubscription, cls.Type)
	require.Zero(t, cls.CreditsDelta)
}

func TestClassify_UnknownProduct(t *testing.T) {
	tx := ledgerdomain.Transaction{
		TransactionID:  "tx-1",
		ProductID:      "credits.9001",
		PurchaseDateMs: ms(t0),
	}

	cls := Classify(tx, nil, pricing.DefaultTable())
	require.Equal(t, ledgerdomain.TypeOneTimePurchase, cls.Type)
	require.Zero(t, cls.CreditsDelta)
	require.Contains(t, cls.Notes, "credits.9001")
}
