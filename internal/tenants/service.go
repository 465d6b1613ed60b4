package tenants

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hubbridge/hubbridge-backend/pkg/db/models"
	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
	"github.com/hubbridge/hubbridge-backend/pkg/hubspot"
	"github.com/hubbridge/hubbridge-backend/pkg/logger"
	"gorm.io/gorm"
)

// Tokens are rotated slightly before their stated expiry so an in-flight
// sync never hands out a token that dies mid-sequence.
const expirySkew = 2 * time.Minute

// defaultUIDomain is where the post-install redirect lands when the portal
// profile cannot be fetched.
const defaultUIDomain = "app.hubspot.com"

type tenantRepository interface {
	FindByPortalID(ctx context.Context, portalID string) (*models.Tenant, error)
	Upsert(ctx context.Context, tenant *models.Tenant) error
	UpdateTokens(ctx context.Context, portalID, accessToken, refreshToken string, expiresAt time.Time) error
}

type oauthClient interface {
	ExchangeCode(ctx context.Context, code string) (*hubspot.TokenResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*hubspot.TokenResponse, error)
	AccessTokenInfo(ctx context.Context, accessToken string) (*hubspot.TokenInfo, error)
	AccountDetails(ctx context.Context, accessToken string) (*hubspot.AccountDetails, error)
}

// Installation is the outcome of a completed app install, enough to send
// the installing admin's browser back into their portal.
type Installation struct {
	PortalID string
	UIDomain string
}

// Service onboards portals at install time and hands out valid portal
// access tokens afterwards, refreshing expired ones in place.
type Service interface {
	AccessToken(ctx context.Context, portalID string) (string, error)
	Register(ctx context.Context, portalID, accessToken, refreshToken string, expiresIn int64) error
	Install(ctx context.Context, code string) (*Installation, error)
}

type service struct {
	repo  tenantRepository
	oauth oauthClient
	logg  *logger.Logger
}

// NewService builds a tenant credential service.
func NewService(repo tenantRepository, oauth oauthClient, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("tenant repository required")
	}
	if oauth == nil {
		return nil, fmt.Errorf("oauth client required")
	}
	return &service{repo: repo, oauth: oauth, logg: logg}, nil
}

// AccessToken returns a usable access token for the portal. When the stored
// token is expired (or close enough to matter), it is exchanged and the new
// credential set persisted before returning.
func (s *service) AccessToken(ctx context.Context, portalID string) (string, error) {
	if strings.TrimSpace(portalID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "portal id is required")
	}

	tenant, err := s.repo.FindByPortalID(ctx, portalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", pkgerrors.New(pkgerrors.CodeNotFound, "portal is not installed")
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load tenant")
	}

	if time.Now().Before(tenant.ExpiresAt.Add(-expirySkew)) {
		return tenant.AccessToken, nil
	}

	refreshed, err := s.oauth.RefreshToken(ctx, tenant.RefreshToken)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refresh portal token")
	}

	refreshToken := refreshed.RefreshToken
	if refreshToken == "" {
		refreshToken = tenant.RefreshToken
	}
	expiresAt := time.Now().Add(time.Duration(refreshed.ExpiresIn) * time.Second)

	if err := s.repo.UpdateTokens(ctx, portalID, refreshed.AccessToken, refreshToken, expiresAt); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist rotated tokens")
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithPortalID(ctx, portalID), "portal access token refreshed")
	}
	return refreshed.AccessToken, nil
}

// Install completes the app install: the one-time authorization code from
// HubSpot's redirect becomes a token pair, token introspection names the
// installing portal, and the credential set is stored for webhook-time use.
func (s *service) Install(ctx context.Context, code string) (*Installation, error) {
	if strings.TrimSpace(code) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "authorization code is required")
	}

	tokens, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "exchange authorization code")
	}
	info, err := s.oauth.AccessTokenInfo(ctx, tokens.AccessToken)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve installing portal")
	}
	portalID := strconv.FormatInt(info.HubID, 10)

	if err := s.Register(ctx, portalID, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresIn); err != nil {
		return nil, err
	}

	install := &Installation{PortalID: portalID, UIDomain: defaultUIDomain}
	// The profile lookup only decides where the browser lands; the install
	// itself is already persisted.
	details, err := s.oauth.AccountDetails(ctx, tokens.AccessToken)
	if err != nil {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithPortalID(ctx, portalID), "portal profile lookup failed after install")
		}
	} else if details.UIDomain != "" {
		install.UIDomain = details.UIDomain
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithPortalID(ctx, portalID), "portal installed")
	}
	return install, nil
}

// Register stores (or replaces) the credential set for a freshly installed
// portal.
func (s *service) Register(ctx context.Context, portalID, accessToken, refreshToken string, expiresIn int64) error {
	if strings.TrimSpace(portalID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "portal id is required")
	}
	if accessToken == "" || refreshToken == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "access and refresh tokens are required")
	}

	tenant := &models.Tenant{
		PortalID:     portalID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second),
	}
	if err := s.repo.Upsert(ctx, tenant); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist tenant")
	}
	return nil
}
