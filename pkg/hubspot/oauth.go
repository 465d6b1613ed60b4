package hubspot

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
)

// TokenResponse is the OAuth grant response, for both the install-time
// code exchange and later refreshes.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// TokenInfo is the introspection result for an access token; HubID is the
// portal the token belongs to.
type TokenInfo struct {
	HubID  int64  `json:"hub_id"`
	AppID  int64  `json:"app_id"`
	User   string `json:"user"`
	UserID int64  `json:"user_id"`
}

// AccountDetails is the portal profile. UIDomain is where the installing
// admin's browser should land after the install completes.
type AccountDetails struct {
	PortalID int64  `json:"portalId"`
	UIDomain string `json:"uiDomain"`
	TimeZone string `json:"timeZone"`
}

// ExchangeCode trades the one-time authorization code from the install
// redirect for a token pair. The redirect URI must match the one the code
// was issued against.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	if strings.TrimSpace(code) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "authorization code is required")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("redirect_uri", c.redirectURI)
	form.Set("code", code)
	return c.tokenGrant(ctx, form)
}

// RefreshToken exchanges a refresh token for a fresh access token using the
// configured OAuth app credentials.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refresh token is required")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("refresh_token", refreshToken)
	return c.tokenGrant(ctx, form)
}

// AccessTokenInfo introspects an access token. The token authorizes its own
// lookup; this is how the bridge learns which portal just installed.
func (c *Client) AccessTokenInfo(ctx context.Context, accessToken string) (*TokenInfo, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "access token is required")
	}

	var out TokenInfo
	if err := c.doJSON(ctx, http.MethodGet, "/oauth/v1/access-tokens/"+accessToken, accessToken, nil, &out); err != nil {
		return nil, err
	}
	if out.HubID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "token introspection missing hub id")
	}
	return &out, nil
}

// AccountDetails fetches the portal profile for the token's portal.
func (c *Client) AccountDetails(ctx context.Context, accessToken string) (*AccountDetails, error) {
	var out AccountDetails
	if err := c.doJSON(ctx, http.MethodGet, "/account-info/v3/details", accessToken, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// tokenGrant posts a form-encoded grant to the OAuth token endpoint.
func (c *Client) tokenGrant(ctx context.Context, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/oauth/v1/token",
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "call oauth token endpoint")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read token response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeError(resp.StatusCode, "/oauth/v1/token", payload)
	}

	var out TokenResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode token response")
	}
	if out.AccessToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "token response missing access token")
	}
	return &out, nil
}
