package hubspot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
)

func TestExchangeCodeSendsAuthorizationGrant(t *testing.T) {
	var gotForm url.Values

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/v1/token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = r.PostForm
		_ = json.NewEncoder(w).Encode(TokenResponse{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresIn:    1800,
		})
	}))

	resp, err := client.ExchangeCode(context.Background(), "one-time-code")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if resp.AccessToken != "access-1" || resp.RefreshToken != "refresh-1" {
		t.Fatalf("unexpected token response %+v", resp)
	}
	if gotForm.Get("grant_type") != "authorization_code" || gotForm.Get("code") != "one-time-code" {
		t.Fatalf("grant not forwarded: %v", gotForm)
	}
	if gotForm.Get("redirect_uri") != "https://bridge.example.com/install/callback" {
		t.Fatalf("redirect uri not forwarded: %v", gotForm)
	}
}

func TestExchangeCodeRejectsEmptyCode(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	_, err := client.ExchangeCode(context.Background(), " ")
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAccessTokenInfoNamesPortal(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/v1/access-tokens/access-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer access-1" {
			t.Errorf("token must authorize its own lookup, got %q", r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(TokenInfo{HubID: 12345, User: "admin@acme.com"})
	}))

	info, err := client.AccessTokenInfo(context.Background(), "access-1")
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	if info.HubID != 12345 {
		t.Fatalf("unexpected hub id %d", info.HubID)
	}
}

func TestAccessTokenInfoRequiresHubID(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(TokenInfo{})
	}))

	if _, err := client.AccessTokenInfo(context.Background(), "access-1"); err == nil {
		t.Fatal("expected error for introspection without hub id")
	}
}

func TestAccountDetailsFetchesUIDomain(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/account-info/v3/details" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(AccountDetails{PortalID: 12345, UIDomain: "app-eu1.hubspot.com"})
	}))

	details, err := client.AccountDetails(context.Background(), "access-1")
	if err != nil {
		t.Fatalf("account details: %v", err)
	}
	if details.UIDomain != "app-eu1.hubspot.com" {
		t.Fatalf("unexpected ui domain %q", details.UIDomain)
	}
}
