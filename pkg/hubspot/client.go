package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hubbridge/hubbridge-backend/pkg/config"
	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
)

// Client is a typed wrapper over the HubSpot REST surface this bridge uses:
// CRM object search/create/patch, v4 associations, HubDB draft rows +
// publish, file uploads and the OAuth install and refresh exchanges.
// Calls are authorized per request with a tenant access token.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	redirectURI  string
	httpClient   *http.Client
}

func NewClient(cfg config.HubSpotConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "hubspot base url is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:      base,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		httpClient:   &http.Client{Timeout: timeout},
	}, nil
}

type apiError struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
	Category      string `json:"category"`
}

// doJSON performs a JSON request and decodes the response into out (if non-nil).
func (c *Client) doJSON(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode hubspot request")
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build hubspot request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "call hubspot")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read hubspot response")
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, path, payload)
	}

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode hubspot response")
		}
	}
	return nil
}

func decodeError(status int, path string, payload []byte) error {
	var apiErr apiError
	message := strings.TrimSpace(string(payload))
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Message != "" {
		message = apiErr.Message
	}

	code := pkgerrors.CodeDependency
	if status == http.StatusNotFound {
		code = pkgerrors.CodeNotFound
	}
	return pkgerrors.New(code, fmt.Sprintf("hubspot %s returned %d: %s", path, status, message))
}
