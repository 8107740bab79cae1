package service

import (
	"fmt"

	ledgerdomain "github.com/voxguard/voxguard/internal/ledger/domain"
	"github.com/voxguard/voxguard/internal/pricing"
)

// Classify maps one incoming transaction to a lifecycle type and a
// signed credit delta, given the prior receipts sharing its chain in
// ascending purchase-date order. First matching rule wins:
//
//  1. family-shared ownership accrues nothing,
//  2. a revocation marks a refund of the latest positive receipt,
//  3. no expiration date means a one-time purchase,
//  4. an empty chain starts a new subscription,
//  5. otherwise the gap against the prior expiration decides
//     resubscription versus renewal.
//
// Credit grants come exclusively from the pricing whitelist. Unknown
// products and trial periods grant zero.
func Classify(tx ledgerdomain.Transaction, history []ledgerdomain.Receipt, table pricing.Table) ledgerdomain.Classification {
	if tx.OwnershipType == ledgerdomain.OwnershipFamilyShared {
		return ledgerdomain.Classification{
			Type:  ledgerdomain.TypeFamilyShared,
			Notes: "family shared purchase, credits accrue to the original purchaser",
		}
	}

	if tx.RevocationTime() != nil {
		return classifyRefund(history)
	}

	grant, notes := creditGrant(tx, table)

	if tx.ExpirationTime() == nil {
		return ledgerdomain.Classification{
			Type:         ledgerdomain.TypeOneTimePurchase,
			CreditsDelta: grant,
			Notes:        notes,
		}
	}

	if len(history) == 0 {
		return ledgerdomain.Classification{
			Type:         ledgerdomain.TypeNewSubscription,
			CreditsDelta: grant,
			Notes:        notes,
		}
	}

	prior := history[len(history)-1]
	cls := ledgerdomain.Classification{
		Type:              ledgerdomain.TypeRenewal,
		CreditsDelta:      grant,
		PreviousProductID: prior.ProductID,
		Notes:             notes,
	}
	// A strictly positive gap past the prior expiration means the
	// subscription lapsed before this purchase.
	if prior.ExpirationDate != nil && tx.PurchaseTime().After(*prior.ExpirationDate) {
		cls.Type = ledgerdomain.TypeResubscription
	}
	return cls
}

func classifyRefund(history []ledgerdomain.Receipt) ledgerdomain.Classification {
	for i := len(history) - 1; i >= 0; i-- {
		r := history[i]
		if r.RevocationDate == nil && r.CreditsAmount > 0 {
			return ledgerdomain.Classification{
				Type:         ledgerdomain.TypeRefund,
				CreditsDelta: -r.CreditsAmount,
				Notes:        fmt.Sprintf("refund of transaction %s", r.TransactionID),
			}
		}
	}
	// Never fabricate a negative balance when there is nothing to undo.
	return ledgerdomain.Classification{
		Type:  ledgerdomain.TypeRefund,
		Notes: "refund without a matching positive receipt, no credits reversed",
	}
}

func creditGrant(tx ledgerdomain.Transaction, table pricing.Table) (float64, string) {
	if tx.IsTrialPeriod {
		return 0, "trial period, no credits granted"
	}
	grant, known := table.ProductCredits(tx.ProductID)
	if !known {
		return 0, fmt.Sprintf("unknown product %q, no credits granted", tx.ProductID)
	}
	return grant, ""
}
