// Package model holds the GORM persistence models.
package model

import (
	"time"

	"github.com/google/uuid"
)

// IdentityModel mirrors the 'identities' table.
type IdentityModel struct {
	ID                      uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email                   string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash            string    `gorm:"type:varchar(255);not null"`
	FirstName               string    `gorm:"type:varchar(100)"`
	LastName                string    `gorm:"type:varchar(100)"`
	Role                    string    `gorm:"type:varchar(20);not null"`
	Active                  bool      `gorm:"not null"`
	EmailVerified           bool      `gorm:"not null"`
	EmailVerificationDigest *string   `gorm:"type:char(64);index"`
	LoginAttempts           int       `gorm:"not null"`
	LockUntil               *time.Time
	LastLoginAt             *time.Time
	PasswordResetDigest     *string `gorm:"type:char(64);index"`
	PasswordResetExpiresAt  *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time

	RefreshTokens []RefreshTokenModel `gorm:"foreignKey:IdentityID"`
}

// TableName explicitly sets the table name for GORM.
func (IdentityModel) TableName() string {
	return "identities"
}

// RefreshTokenModel mirrors the 'refresh_tokens' table. Only the SHA-256 digest of a token is stored.
type RefreshTokenModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	IdentityID  uuid.UUID `gorm:"type:uuid;not null;index"`
	TokenHash   string    `gorm:"type:char(64);uniqueIndex;not null"`
	RotatedFrom *string   `gorm:"type:char(64)"`
	UserAgent   string    `gorm:"type:varchar(512)"`
	IPAddress   string    `gorm:"type:varchar(64)"`
	ExpiresAt   time.Time `gorm:"not null"`
	CreatedAt   time.Time

	// Seq is assigned by the database in insertion order and breaks
	// created_at ties when the list is read back.
	Seq int64 `gorm:"->"`
}

// TableName explicitly sets the table name for GORM.
func (RefreshTokenModel) TableName() string {
	return "refresh_tokens"
}
