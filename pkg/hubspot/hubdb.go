package hubspot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
)

// Row is a HubDB table row. Values are column-name keyed; option columns
// take an OptionValue.
type Row struct {
	ID     string         `json:"id"`
	Values map[string]any `json:"values"`
}

type rowList struct {
	Total   int   `json:"total"`
	Results []Row `json:"results"`
}

// OptionValue is the shape HubDB expects for SELECT-type columns.
type OptionValue struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// NewOption builds a labeled option cell value.
func NewOption(name string) OptionValue {
	return OptionValue{Name: name, Type: "option"}
}

// CreateRow inserts a draft row. The change is invisible until PublishTable.
func (c *Client) CreateRow(ctx context.Context, token, tableID string, values map[string]any) (*Row, error) {
	if tableID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "hubdb table id is required")
	}
	if len(values) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "row values are required")
	}
	var out Row
	path := fmt.Sprintf("/cms/v3/hubdb/tables/%s/rows", url.PathEscape(tableID))
	if err := c.doJSON(ctx, http.MethodPost, path, token, map[string]any{"values": values}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryDraftRows lists draft rows filtered by column value equality.
func (c *Client) QueryDraftRows(ctx context.Context, token, tableID string, filters map[string]string) ([]Row, error) {
	if tableID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "hubdb table id is required")
	}
	query := url.Values{}
	for column, value := range filters {
		query.Set(column, value)
	}
	path := fmt.Sprintf("/cms/v3/hubdb/tables/%s/rows/draft", url.PathEscape(tableID))
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out rowList
	if err := c.doJSON(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// PatchDraftRow updates columns on a draft row. The change is invisible
// until PublishTable.
func (c *Client) PatchDraftRow(ctx context.Context, token, tableID, rowID string, values map[string]any) (*Row, error) {
	if tableID == "" || rowID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "hubdb table and row ids are required")
	}
	if len(values) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "row values are required")
	}
	var out Row
	path := fmt.Sprintf("/cms/v3/hubdb/tables/%s/rows/%s/draft", url.PathEscape(tableID), url.PathEscape(rowID))
	if err := c.doJSON(ctx, http.MethodPatch, path, token, map[string]any{"values": values}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PublishTable pushes the draft to live. Every draft mutation must be
// followed by a publish or it never becomes visible.
func (c *Client) PublishTable(ctx context.Context, token, tableID string) error {
	if tableID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "hubdb table id is required")
	}
	path := fmt.Sprintf("/cms/v3/hubdb/tables/%s/draft/publish", url.PathEscape(tableID))
	return c.doJSON(ctx, http.MethodPost, path, token, nil, nil)
}
