package hubspot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
)

// SearchObjects runs a filtered search against one object type.
func (c *Client) SearchObjects(ctx context.Context, token, objectType string, req SearchRequest) (*SearchResponse, error) {
	if objectType == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "object type is required")
	}
	var out SearchResponse
	path := fmt.Sprintf("/crm/v3/objects/%s/search", url.PathEscape(objectType))
	if err := c.doJSON(ctx, http.MethodPost, path, token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateObject creates a CRM object, optionally with inline associations.
func (c *Client) CreateObject(ctx context.Context, token, objectType string, req CreateObjectRequest) (*Object, error) {
	if objectType == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "object type is required")
	}
	if len(req.Properties) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "object properties are required")
	}
	var out Object
	path := fmt.Sprintf("/crm/v3/objects/%s", url.PathEscape(objectType))
	if err := c.doJSON(ctx, http.MethodPost, path, token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PatchObject updates properties on an existing CRM object.
func (c *Client) PatchObject(ctx context.Context, token, objectType, id string, props map[string]string) (*Object, error) {
	if objectType == "" || id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "object type and id are required")
	}
	if len(props) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "patch properties are required")
	}
	var out Object
	path := fmt.Sprintf("/crm/v3/objects/%s/%s", url.PathEscape(objectType), url.PathEscape(id))
	if err := c.doJSON(ctx, http.MethodPatch, path, token, PatchObjectRequest{Properties: props}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Associate links two objects using a typed association.
func (c *Client) Associate(ctx context.Context, token, fromType, fromID, toType, toID string, assoc AssociationType) error {
	if fromType == "" || fromID == "" || toType == "" || toID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "association endpoints are required")
	}
	path := fmt.Sprintf(
		"/crm/v4/objects/%s/%s/associations/%s/%s",
		url.PathEscape(fromType), url.PathEscape(fromID),
		url.PathEscape(toType), url.PathEscape(toID),
	)
	return c.doJSON(ctx, http.MethodPut, path, token, []AssociationType{assoc}, nil)
}
