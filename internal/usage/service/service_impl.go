package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/voxguard/voxguard/internal/ledger/domain"
	obsmetrics "github.com/voxguard/voxguard/internal/observability/metrics"
	"github.com/voxguard/voxguard/internal/pricing"
	usagedomain "github.com/voxguard/voxguard/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrUnknownService marks a usage report for a service the pricer
// cannot cost.
var ErrUnknownService = fmt.Errorf("unknown metered service")

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Node    *snowflake.Node
	Ledger  ledgerdomain.Repository
	Pricing *pricing.Holder
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	node    *snowflake.Node
	ledger  ledgerdomain.Repository
	pricing *pricing.Holder
	metrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usage.service"),
		node:    p.Node,
		ledger:  p.Ledger,
		pricing: p.Pricing,
		metrics: p.Metrics,
	}
}

// TrackUsage prices the report, debits the spend counter and appends
// the audit row in one commit, then returns the resulting balance. It
// reports exceeded balances; it never blocks usage itself.
func (s *Service) TrackUsage(ctx context.Context, userID, service string, fields usagedomain.UsageFields) (*usagedomain.TrackResult, error) {
	cost, amount, metadata, err := s.price(service, fields)
	if err != nil {
		return nil, err
	}

	entry := &usagedomain.UsageLog{
		ID:        s.node.Generate().Int64(),
		UserID:    userID,
		Service:   service,
		Amount:    amount,
		Cost:      cost,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ledger.WithTrx(tx).AddSpend(ctx, userID, cost); err != nil {
			return err
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, err
	}

	total, err := s.ledger.SumCredits(ctx, userID)
	if err != nil {
		return nil, err
	}
	account, err := s.ledger.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	remaining := total - account.CreditsSpent

	s.metrics.RecordUsageTrack(ctx, service)
	s.log.Info("usage tracked",
		zap.String("user_id", userID),
		zap.String("service", service),
		zap.Float64("amount", amount),
		zap.Float64("cost", cost),
		zap.Float64("remaining", remaining),
	)

	return &usagedomain.TrackResult{
		Success:   true,
		Cost:      cost,
		Spent:     account.CreditsSpent,
		Total:     total,
		Remaining: remaining,
		Exceeded:  remaining < 0,
	}, nil
}

func (s *Service) price(service string, fields usagedomain.UsageFields) (cost, amount float64, metadata datatypes.JSONMap, err error) {
	table := s.pricing.Get()

	switch service {
	case pricing.ServiceVoice:
		cost = table.VoiceCost(fields.Minutes)
		amount = fields.Minutes
		metadata = datatypes.JSONMap{"minutes": fields.Minutes}
	case pricing.ServiceLLM:
		cost = table.LLMCost(fields.Tokens)
		amount = fields.Tokens.TextInputTokens + fields.Tokens.TextOutputTokens +
			fields.Tokens.AudioInputTokens + fields.Tokens.AudioOutputTokens +
			fields.Tokens.CachedInputTokens
		metadata = datatypes.JSONMap{
			"textInputTokens":   fields.Tokens.TextInputTokens,
			"textOutputTokens":  fields.Tokens.TextOutputTokens,
			"audioInputTokens":  fields.Tokens.AudioInputTokens,
			"audioOutputTokens": fields.Tokens.AudioOutputTokens,
			"cachedInputTokens": fields.Tokens.CachedInputTokens,
		}
	case pricing.ServiceSocial:
		cost = table.SocialCost(fields.Reads, fields.Writes)
		amount = fields.Reads + fields.Writes
		metadata = datatypes.JSONMap{"reads": fields.Reads, "writes": fields.Writes}
	default:
		return 0, 0, nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}

	return cost, amount, metadata, nil
}
