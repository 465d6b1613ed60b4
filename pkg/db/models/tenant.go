package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is one installed HubSpot portal plus its OAuth credential set.
// Tokens are rotated in place when refreshed.
type Tenant struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	PortalID     string    `gorm:"uniqueIndex;not null" json:"portal_id"`
	AccessToken  string    `gorm:"not null" json:"-"`
	RefreshToken string    `gorm:"not null" json:"-"`
	ExpiresAt    time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Tenant) TableName() string {
	return "tenants"
}
