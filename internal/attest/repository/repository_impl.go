package repository

import (
	"context"
	"time"

	attestdomain "github.com/voxguard/voxguard/internal/attest/domain"
	"github.com/voxguard/voxguard/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type keyStore struct {
	db   *gorm.DB
	keys repository.Repository[attestdomain.AttestedKey]
}

// NewKeyStore builds the gorm-backed attested-key repository.
func NewKeyStore(db *gorm.DB) attestdomain.Repository {
	return &keyStore{
		db:   db,
		keys: repository.ProvideStore[attestdomain.AttestedKey](db),
	}
}

func (r *keyStore) Get(ctx context.Context, keyID string) (*attestdomain.AttestedKey, error) {
	return r.keys.FindOne(ctx, &attestdomain.AttestedKey{KeyID: keyID})
}

func (r *keyStore) Upsert(ctx context.Context, key *attestdomain.AttestedKey) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key_id"}},
		UpdateAll: true,
	}).Create(key).Error
}

func (r *keyStore) BumpCounter(ctx context.Context, keyID string, newCounter uint32) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&attestdomain.AttestedKey{}).
		Where("key_id = ? AND counter < ?", keyID, newCounter).
		Updates(map[string]any{"counter": newCounter, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *keyStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&attestdomain.AttestedKey{})
	return res.RowsAffected, res.Error
}
