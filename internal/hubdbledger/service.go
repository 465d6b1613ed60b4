// Package hubdbledger keeps the per-subscription status ledger in a HubDB
// table: one row per subscription, keyed by the contact/customer/
// subscription triple. Rows are created on lifecycle start, patched on
// renewal and upgrade, and never deleted here. HubDB mutations land in the
// table draft, so every write ends with a publish.
package hubdbledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hubbridge/hubbridge-backend/pkg/config"
	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
	"github.com/hubbridge/hubbridge-backend/pkg/hubspot"
	"github.com/hubbridge/hubbridge-backend/pkg/logger"
)

// Ledger column names.
const (
	colContactEmail     = "contact_email"
	colContactID        = "contact_id"
	colCustomerID       = "customer_id"
	colSubscriptionID   = "subscription_id"
	colSubscriptionName = "subscription_name"
	colStatus           = "subscription_status"
	colPeriodEnd        = "current_period_end"
)

// Status values the ledger tracks.
const (
	StatusTrialing = "trialing"
	StatusActive   = "active"
)

// Key identifies one subscription's row.
type Key struct {
	ContactID      string
	CustomerID     string
	SubscriptionID string
}

func (k Key) validate() error {
	if k.ContactID == "" || k.CustomerID == "" || k.SubscriptionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "ledger key requires contact, customer and subscription ids")
	}
	return nil
}

// Fields is the mutable part of a ledger row.
type Fields struct {
	ContactEmail     string
	SubscriptionName string
	Status           string
	CurrentPeriodEnd time.Time
}

// Row is a decoded ledger row.
type Row struct {
	ID               string
	ContactEmail     string
	SubscriptionName string
	Status           string
	CurrentPeriodEnd time.Time
}

type hubdbClient interface {
	CreateRow(ctx context.Context, token, tableID string, values map[string]any) (*hubspot.Row, error)
	QueryDraftRows(ctx context.Context, token, tableID string, filters map[string]string) ([]hubspot.Row, error)
	PatchDraftRow(ctx context.Context, token, tableID, rowID string, values map[string]any) (*hubspot.Row, error)
	PublishTable(ctx context.Context, token, tableID string) error
}

// Service synchronizes ledger rows.
type Service interface {
	Find(ctx context.Context, token string, key Key) (*Row, error)
	Upsert(ctx context.Context, token string, key Key, fields Fields) error
	PatchPeriodEnd(ctx context.Context, token string, key Key, periodEnd time.Time) error
}

type service struct {
	hubdb   hubdbClient
	tableID string
	logg    *logger.Logger
}

// NewService builds a ledger synchronizer over the configured HubDB table.
func NewService(hubdb hubdbClient, cfg config.HubSpotConfig, logg *logger.Logger) (Service, error) {
	if hubdb == nil {
		return nil, fmt.Errorf("hubdb client required")
	}
	if cfg.LedgerTableID == "" {
		return nil, fmt.Errorf("ledger table id required")
	}
	return &service{hubdb: hubdb, tableID: cfg.LedgerTableID, logg: logg}, nil
}

// Find returns the subscription's row, or nil when none exists yet.
func (s *service) Find(ctx context.Context, token string, key Key) (*Row, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	rows, err := s.hubdb.QueryDraftRows(ctx, token, s.tableID, map[string]string{
		colContactID:      key.ContactID,
		colCustomerID:     key.CustomerID,
		colSubscriptionID: key.SubscriptionID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query ledger rows")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return decodeRow(rows[0]), nil
}

// Upsert creates the subscription's row or patches the existing one, then
// publishes the table so the change becomes visible.
func (s *service) Upsert(ctx context.Context, token string, key Key, fields Fields) error {
	if err := key.validate(); err != nil {
		return err
	}
	if fields.Status == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "ledger status is required")
	}

	existing, err := s.Find(ctx, token, key)
	if err != nil {
		return err
	}

	values := map[string]any{
		colContactEmail:     fields.ContactEmail,
		colContactID:        key.ContactID,
		colCustomerID:       key.CustomerID,
		colSubscriptionID:   key.SubscriptionID,
		colSubscriptionName: fields.SubscriptionName,
		colStatus:           hubspot.NewOption(fields.Status),
		colPeriodEnd:        fields.CurrentPeriodEnd.UnixMilli(),
	}

	if existing == nil {
		if _, err := s.hubdb.CreateRow(ctx, token, s.tableID, values); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create ledger row")
		}
	} else {
		if _, err := s.hubdb.PatchDraftRow(ctx, token, s.tableID, existing.ID, values); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "patch ledger row")
		}
	}

	return s.publish(ctx, token)
}

// PatchPeriodEnd moves the row's current_period_end forward without
// touching status or identity columns.
func (s *service) PatchPeriodEnd(ctx context.Context, token string, key Key, periodEnd time.Time) error {
	existing, err := s.Find(ctx, token, key)
	if err != nil {
		return err
	}
	if existing == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no ledger row for subscription")
	}
	if _, err := s.hubdb.PatchDraftRow(ctx, token, s.tableID, existing.ID, map[string]any{
		colPeriodEnd: periodEnd.UnixMilli(),
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "patch ledger period end")
	}
	return s.publish(ctx, token)
}

func (s *service) publish(ctx context.Context, token string) error {
	if err := s.hubdb.PublishTable(ctx, token, s.tableID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish ledger table")
	}
	return nil
}

func decodeRow(row hubspot.Row) *Row {
	out := &Row{ID: row.ID}
	out.ContactEmail, _ = row.Values[colContactEmail].(string)
	out.SubscriptionName, _ = row.Values[colSubscriptionName].(string)
	out.Status = decodeStatus(row.Values[colStatus])
	if ms, ok := decodeMillis(row.Values[colPeriodEnd]); ok {
		out.CurrentPeriodEnd = time.UnixMilli(ms).UTC()
	}
	return out
}

// Option cells come back as {name, type} objects; tolerate plain strings
// from older rows.
func decodeStatus(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]any:
		name, _ := v["name"].(string)
		return name
	case hubspot.OptionValue:
		return v.Name
	default:
		return ""
	}
}

func decodeMillis(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return ms, true
	default:
		return 0, false
	}
}
