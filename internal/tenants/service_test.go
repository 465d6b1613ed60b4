package tenants

import (
	"context"
	"testing"
	"time"

	"github.com/hubbridge/hubbridge-backend/pkg/db/models"
	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
	"github.com/hubbridge/hubbridge-backend/pkg/hubspot"
	"gorm.io/gorm"
)

type stubTenantRepo struct {
	tenant   *models.Tenant
	findErr  error
	upserted *models.Tenant

	updatedAccess  string
	updatedRefresh string
}

func (s *stubTenantRepo) FindByPortalID(_ context.Context, _ string) (*models.Tenant, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.tenant, nil
}

func (s *stubTenantRepo) Upsert(_ context.Context, tenant *models.Tenant) error {
	s.upserted = tenant
	return nil
}

func (s *stubTenantRepo) UpdateTokens(_ context.Context, _, accessToken, refreshToken string, _ time.Time) error {
	s.updatedAccess = accessToken
	s.updatedRefresh = refreshToken
	return nil
}

type stubOAuth struct {
	resp  *hubspot.TokenResponse
	err   error
	calls int

	exchangeResp  *hubspot.TokenResponse
	exchangeErr   error
	exchangedCode string
	info          *hubspot.TokenInfo
	infoErr       error
	details       *hubspot.AccountDetails
	detailsErr    error
}

func (s *stubOAuth) RefreshToken(_ context.Context, _ string) (*hubspot.TokenResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func (s *stubOAuth) ExchangeCode(_ context.Context, code string) (*hubspot.TokenResponse, error) {
	s.exchangedCode = code
	if s.exchangeErr != nil {
		return nil, s.exchangeErr
	}
	return s.exchangeResp, nil
}

func (s *stubOAuth) AccessTokenInfo(_ context.Context, _ string) (*hubspot.TokenInfo, error) {
	if s.infoErr != nil {
		return nil, s.infoErr
	}
	return s.info, nil
}

func (s *stubOAuth) AccountDetails(_ context.Context, _ string) (*hubspot.AccountDetails, error) {
	if s.detailsErr != nil {
		return nil, s.detailsErr
	}
	return s.details, nil
}

func TestNewServiceRequiresDeps(t *testing.T) {
	if _, err := NewService(nil, &stubOAuth{}, nil); err == nil {
		t.Fatal("expected error creating service without repo")
	}
	if _, err := NewService(&stubTenantRepo{}, nil, nil); err == nil {
		t.Fatal("expected error creating service without oauth client")
	}
}

func TestAccessTokenReturnsStoredWhenFresh(t *testing.T) {
	repo := &stubTenantRepo{tenant: &models.Tenant{
		PortalID:     "12345",
		AccessToken:  "live-token",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}}
	oauth := &stubOAuth{}
	svc, err := NewService(repo, oauth, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	token, err := svc.AccessToken(context.Background(), "12345")
	if err != nil {
		t.Fatalf("access token: %v", err)
	}
	if token != "live-token" {
		t.Fatalf("expected stored token, got %q", token)
	}
	if oauth.calls != 0 {
		t.Fatalf("expected no refresh, got %d calls", oauth.calls)
	}
}

func TestAccessTokenRefreshesExpired(t *testing.T) {
	repo := &stubTenantRepo{tenant: &models.Tenant{
		PortalID:     "12345",
		AccessToken:  "stale-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}}
	oauth := &stubOAuth{resp: &hubspot.TokenResponse{
		AccessToken:  "fresh-token",
		RefreshToken: "refresh-2",
		ExpiresIn:    1800,
	}}
	svc, err := NewService(repo, oauth, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	token, err := svc.AccessToken(context.Background(), "12345")
	if err != nil {
		t.Fatalf("access token: %v", err)
	}
	if token != "fresh-token" {
		t.Fatalf("expected refreshed token, got %q", token)
	}
	if repo.updatedAccess != "fresh-token" || repo.updatedRefresh != "refresh-2" {
		t.Fatalf("rotated tokens not persisted: %q %q", repo.updatedAccess, repo.updatedRefresh)
	}
}

func TestAccessTokenKeepsOldRefreshWhenNotRotated(t *testing.T) {
	repo := &stubTenantRepo{tenant: &models.Tenant{
		PortalID:     "12345",
		AccessToken:  "stale-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}}
	oauth := &stubOAuth{resp: &hubspot.TokenResponse{
		AccessToken: "fresh-token",
		ExpiresIn:   1800,
	}}
	svc, _ := NewService(repo, oauth, nil)

	if _, err := svc.AccessToken(context.Background(), "12345"); err != nil {
		t.Fatalf("access token: %v", err)
	}
	if repo.updatedRefresh != "refresh-1" {
		t.Fatalf("expected original refresh token kept, got %q", repo.updatedRefresh)
	}
}

func TestAccessTokenUnknownPortal(t *testing.T) {
	repo := &stubTenantRepo{findErr: gorm.ErrRecordNotFound}
	svc, _ := NewService(repo, &stubOAuth{}, nil)

	_, err := svc.AccessToken(context.Background(), "99999")
	if err == nil {
		t.Fatal("expected error for unknown portal")
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not-found code, got %v", err)
	}
}

func TestInstallStoresPortalCredentials(t *testing.T) {
	repo := &stubTenantRepo{}
	oauth := &stubOAuth{
		exchangeResp: &hubspot.TokenResponse{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresIn:    1800,
		},
		info:    &hubspot.TokenInfo{HubID: 12345},
		details: &hubspot.AccountDetails{PortalID: 12345, UIDomain: "app-eu1.hubspot.com"},
	}
	svc, _ := NewService(repo, oauth, nil)

	install, err := svc.Install(context.Background(), "one-time-code")
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if oauth.exchangedCode != "one-time-code" {
		t.Fatalf("expected code exchanged, got %q", oauth.exchangedCode)
	}
	if install.PortalID != "12345" || install.UIDomain != "app-eu1.hubspot.com" {
		t.Fatalf("unexpected installation %+v", install)
	}
	if repo.upserted == nil || repo.upserted.PortalID != "12345" || repo.upserted.AccessToken != "access-1" {
		t.Fatalf("credentials not persisted: %+v", repo.upserted)
	}
}

func TestInstallFallsBackToDefaultUIDomain(t *testing.T) {
	repo := &stubTenantRepo{}
	oauth := &stubOAuth{
		exchangeResp: &hubspot.TokenResponse{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresIn:    1800,
		},
		info:       &hubspot.TokenInfo{HubID: 12345},
		detailsErr: pkgerrors.New(pkgerrors.CodeDependency, "account info down"),
	}
	svc, _ := NewService(repo, oauth, nil)

	install, err := svc.Install(context.Background(), "one-time-code")
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if install.UIDomain != "app.hubspot.com" {
		t.Fatalf("expected default ui domain, got %q", install.UIDomain)
	}
	if repo.upserted == nil {
		t.Fatal("expected credentials persisted despite profile failure")
	}
}

func TestInstallRejectsBadInput(t *testing.T) {
	repo := &stubTenantRepo{}
	oauth := &stubOAuth{exchangeErr: pkgerrors.New(pkgerrors.CodeDependency, "code already used")}
	svc, _ := NewService(repo, oauth, nil)

	if _, err := svc.Install(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty code")
	}
	if _, err := svc.Install(context.Background(), "stale-code"); err == nil {
		t.Fatal("expected error when the exchange fails")
	}
	if repo.upserted != nil {
		t.Fatalf("nothing should be persisted on failure, got %+v", repo.upserted)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	repo := &stubTenantRepo{}
	svc, _ := NewService(repo, &stubOAuth{}, nil)

	if err := svc.Register(context.Background(), "", "a", "r", 600); err == nil {
		t.Fatal("expected error for missing portal id")
	}
	if err := svc.Register(context.Background(), "12345", "", "r", 600); err == nil {
		t.Fatal("expected error for missing access token")
	}
	if err := svc.Register(context.Background(), "12345", "a", "r", 600); err != nil {
		t.Fatalf("register: %v", err)
	}
	if repo.upserted == nil || repo.upserted.PortalID != "12345" {
		t.Fatalf("tenant not persisted: %+v", repo.upserted)
	}
}
