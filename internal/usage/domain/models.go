package domain

import (
	"context"
	"time"

	"github.com/voxguard/voxguard/internal/pricing"
	"gorm.io/datatypes"
)

// UsageLog is one append-only audit row. It is never read back for
// balance computation; the running spend counter serves that.
type UsageLog struct {
	ID        int64             `gorm:"column:id;primaryKey" json:"id"`
	UserID    string            `gorm:"column:user_id" json:"userId"`
	Service   string            `gorm:"column:service" json:"service"`
	Amount    float64           `gorm:"column:amount" json:"amount"`
	Cost      float64           `gorm:"column:cost" json:"cost"`
	Metadata  datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"column:created_at" json:"createdAt"`
}

func (UsageLog) TableName() string {
	return "usage_logs"
}

// UsageFields carries the per-service measurement. Exactly one group
// is meaningful depending on the service identifier.
type UsageFields struct {
	Minutes float64          `json:"minutes,omitempty"`
	Tokens  pricing.LLMUsage `json:"tokens,omitempty"`
	Reads   float64          `json:"reads,omitempty"`
	Writes  float64          `json:"writes,omitempty"`
}

// TrackResult reports one metered debit and the balance after it. The
// meter never blocks usage; exceeded only tells the client to stop.
type TrackResult struct {
	Success   bool    `json:"success"`
	Cost      float64 `json:"cost"`
	Spent     float64 `json:"spent"`
	Total     float64 `json:"total"`
	Remaining float64 `json:"remaining"`
	Exceeded  bool    `json:"exceeded"`
}

type Service interface {
	TrackUsage(ctx context.Context, userID, service string, fields UsageFields) (*TrackResult, error)
}
