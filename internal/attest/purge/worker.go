package purge

import (
	"context"
	"time"

	attestdomain "github.com/voxguard/voxguard/internal/attest/domain"
	"github.com/voxguard/voxguard/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const runTimeout = 30 * time.Second

type Params struct {
	fx.In

	Log  *zap.Logger
	Cfg  config.Config
	Repo attestdomain.Repository
}

// Worker removes attested keys past the retention window so devices
// are forced back through attestation instead of asserting against a
// stale key forever.
type Worker struct {
	log       *zap.Logger
	repo      attestdomain.Repository
	retention time.Duration
	interval  time.Duration
}

func NewWorker(p Params) *Worker {
	interval := time.Duration(p.Cfg.Attest.PurgeIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	return &Worker{
		log:       p.Log.Named("attest.purge"),
		repo:      p.Repo,
		retention: time.Duration(p.Cfg.Attest.KeyRetentionDays) * 24 * time.Hour,
		interval:  interval,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("attested key purge failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) RunOnce(parentCtx context.Context) error {
	if w.retention <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(parentCtx, runTimeout)
	defer cancel()

	cutoff := time.Now().UTC().Add(-w.retention)
	deleted, err := w.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	if deleted > 0 {
		w.log.Info("purged expired attested keys",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return nil
}
