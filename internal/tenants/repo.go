package tenants

import (
	"context"
	"fmt"
	"time"

	"github.com/hubbridge/hubbridge-backend/pkg/db/models"
	"gorm.io/gorm"
)

// Repository handles tenant persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to tenant operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByPortalID loads the tenant for a HubSpot portal.
func (r *Repository) FindByPortalID(ctx context.Context, portalID string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).
		Where("portal_id = ?", portalID).
		First(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

// Upsert inserts or replaces the credential set for a portal.
func (r *Repository) Upsert(ctx context.Context, tenant *models.Tenant) error {
	if tenant == nil {
		return fmt.Errorf("tenant is required")
	}
	existing, err := r.FindByPortalID(ctx, tenant.PortalID)
	if err == nil {
		tenant.ID = existing.ID
		return r.db.WithContext(ctx).Save(tenant).Error
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}
	return r.db.WithContext(ctx).Create(tenant).Error
}

// UpdateTokens rotates the stored credential set for a portal.
func (r *Repository) UpdateTokens(ctx context.Context, portalID, accessToken, refreshToken string, expiresAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.Tenant{}).
		Where("portal_id = ?", portalID).
		Updates(map[string]any{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_at":    expiresAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
