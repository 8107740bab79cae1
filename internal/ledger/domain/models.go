package domain

import (
	"strings"
	"time"
)

// TransactionType is the lifecycle classification of one purchase event.
type TransactionType string

const (
	TypeNewSubscription TransactionType = "NEW_SUBSCRIPTION"
	TypeRenewal         TransactionType = "RENEWAL"
	TypeResubscription  TransactionType = "RESUBSCRIPTION"
	TypeOneTimePurchase TransactionType = "ONE_TIME_PURCHASE"
	TypeRefund          TransactionType = "REFUND"
	TypeFamilyShared    TransactionType = "FAMILY_SHARED"
)

const OwnershipFamilyShared = "FAMILY_SHARED"

// Receipt is one stored purchase-platform transaction and its credit
// effect. Rows are never deleted; a refund mutates the original row
// in place instead of inserting a new one.
type Receipt struct {
	TransactionID         string          `gorm:"column:transaction_id;primaryKey" json:"transactionId"`
	OriginalTransactionID string          `gorm:"column:original_transaction_id" json:"originalTransactionId"`
	UserID                string          `gorm:"column:user_id" json:"userId"`
	ProductID             string          `gorm:"column:product_id" json:"productId"`
	CreditsAmount         float64         `gorm:"column:credits_amount" json:"creditsAmount"`
	PurchaseDate          time.Time       `gorm:"column:purchase_date" json:"purchaseDate"`
	ExpirationDate        *time.Time      `gorm:"column:expiration_date" json:"expirationDate,omitempty"`
	IsTrialPeriod         bool            `gorm:"column:is_trial_period" json:"isTrialPeriod"`
	TransactionType       TransactionType `gorm:"column:transaction_type" json:"transactionType"`
	PreviousProductID     string          `gorm:"column:previous_product_id" json:"previousProductId,omitempty"`
	RevocationDate        *time.Time      `gorm:"column:revocation_date" json:"revocationDate,omitempty"`
	RevocationReason      string          `gorm:"column:revocation_reason" json:"revocationReason,omitempty"`
	Notes                 string          `gorm:"column:notes" json:"notes,omitempty"`
	CreatedAt             time.Time       `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt             time.Time       `gorm:"column:updated_at" json:"updatedAt"`
}

func (Receipt) TableName() string {
	return "receipts"
}

// UserAccount tracks the running debit total for one user. Balance is
// derived: remaining = sum(receipt credits) - credits_spent.
type UserAccount struct {
	UserID       string  `gorm:"column:user_id;primaryKey" json:"userId"`
	CreditsSpent float64 `gorm:"column:credits_spent" json:"creditsSpent"`
}

func (UserAccount) TableName() string {
	return "user_accounts"
}

// Transaction is the wire form of one purchase event as submitted by
// the client. Dates are epoch milliseconds, matching the purchase
// platform's notification payloads.
type Transaction struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	PurchaseDateMs        int64  `json:"purchaseDate"`
	ExpirationDateMs      int64  `json:"expirationDate,omitempty"`
	IsTrialPeriod         bool   `json:"isTrialPeriod,omitempty"`
	OwnershipType         string `json:"ownershipType,omitempty"`
	RevocationDateMs      int64  `json:"revocationDate,omitempty"`
	RevocationReason      string `json:"revocationReason,omitempty"`
}

// ChainID groups a subscription's renewal chain. One-time purchases
// carry no original transaction id; they form a chain of one.
func (t Transaction) ChainID() string {
	if id := strings.TrimSpace(t.OriginalTransactionID); id != "" {
		return id
	}
	return strings.TrimSpace(t.TransactionID)
}

func (t Transaction) PurchaseTime() time.Time {
	return time.UnixMilli(t.PurchaseDateMs).UTC()
}

func (t Transaction) ExpirationTime() *time.Time {
	if t.ExpirationDateMs == 0 {
		return nil
	}
	ts := time.UnixMilli(t.ExpirationDateMs).UTC()
	return &ts
}

func (t Transaction) RevocationTime() *time.Time {
	if t.RevocationDateMs == 0 {
		return nil
	}
	ts := time.UnixMilli(t.RevocationDateMs).UTC()
	return &ts
}

// Classification is the outcome of classifying one transaction against
// its chain history.
type Classification struct {
	Type              TransactionType
	CreditsDelta      float64
	PreviousProductID string
	Notes             string
}

// Balance is the derived credit position for one user.
type Balance struct {
	Spent     float64 `json:"spent"`
	Total     float64 `json:"total"`
	Remaining float64 `json:"remaining"`
}

func (b Balance) Exceeded() bool {
	return b.Remaining < 0
}

// SyncResult reports one batch ingestion.
type SyncResult struct {
	Success         bool     `json:"success"`
	UserID          string   `json:"userId"`
	ProcessedCount  int      `json:"processedCount"`
	SkippedCount    int      `json:"skippedCount"`
	NewCreditsAdded float64  `json:"newCreditsAdded"`
	Errors          []string `json:"errors,omitempty"`
	Spent           float64  `json:"spent"`
	Total           float64  `json:"total"`
	Remaining       float64  `json:"remaining"`
}
