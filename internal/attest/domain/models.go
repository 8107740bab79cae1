// Package domain contains the attested-key model and service contracts.
package domain

import "time"

// AttestedKey is a device key registered through attestation. The counter
// is bumped on every verified assertion and never decreases.
type AttestedKey struct {
	KeyID     string    `gorm:"column:key_id;primaryKey"`
	PublicKey []byte    `gorm:"not null"`
	Receipt   []byte    // opaque trust receipt retained for audit
	Counter   uint32    `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (AttestedKey) TableName() string { return "attested_keys" }
