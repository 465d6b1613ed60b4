// Package deals creates and patches the CRM pipeline object tracking a
// subscription's commercial stage. One deal per subscription lifecycle;
// later events patch stage, amount, and name instead of creating more.
package deals

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hubbridge/hubbridge-backend/pkg/config"
	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
	"github.com/hubbridge/hubbridge-backend/pkg/hubspot"
	"github.com/hubbridge/hubbridge-backend/pkg/logger"
	"github.com/hubbridge/hubbridge-backend/pkg/money"
)

// CreateInput carries everything a new deal needs.
type CreateInput struct {
	BillToName  string
	ProductName string
	AmountMinor int64
	Stage       string
	CloseDate   time.Time
	ContactID   string
	CompanyID   string
}

// PatchInput updates an existing deal. Nil fields are left untouched.
type PatchInput struct {
	AmountMinor *int64
	Name        *string
	Stage       *string
}

type crmClient interface {
	CreateObject(ctx context.Context, token, objectType string, req hubspot.CreateObjectRequest) (*hubspot.Object, error)
	PatchObject(ctx context.Context, token, objectType, id string, props map[string]string) (*hubspot.Object, error)
}

// Service synchronizes deals.
type Service interface {
	Create(ctx context.Context, token string, input CreateInput) (string, error)
	Patch(ctx context.Context, token, dealID string, input PatchInput) error
}

type service struct {
	crm  crmClient
	cfg  config.HubSpotConfig
	logg *logger.Logger
}

// NewService builds a deal synchronizer.
func NewService(crm crmClient, cfg config.HubSpotConfig, logg *logger.Logger) (Service, error) {
	if crm == nil {
		return nil, fmt.Errorf("crm client required")
	}
	return &service{crm: crm, cfg: cfg, logg: logg}, nil
}

// Name derives the deal name shown in the pipeline: the bill-to display
// name (company for business buyers, otherwise the person) followed by the
// product.
func Name(billToName, productName string) string {
	return billToName + " - " + productName
}

// Create posts a new deal with the configured pipeline and owner, amounts
// in major units, and inline associations to the contact and, when known,
// the company.
func (s *service) Create(ctx context.Context, token string, input CreateInput) (string, error) {
	if input.BillToName == "" || input.ProductName == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "bill-to and product names are required")
	}
	if input.Stage == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "deal stage is required")
	}

	closeDate := input.CloseDate
	if closeDate.IsZero() {
		closeDate = time.Now()
	}

	props := map[string]string{
		"dealname":         Name(input.BillToName, input.ProductName),
		"amount":           money.MinorToMajorString(input.AmountMinor),
		"closedate":        strconv.FormatInt(closeDate.UnixMilli(), 10),
		"pipeline":         s.cfg.DealPipeline,
		"dealstage":        input.Stage,
		"hubspot_owner_id": s.cfg.DealOwner,
	}

	req := hubspot.CreateObjectRequest{Properties: props}
	if input.ContactID != "" {
		req.Associations = append(req.Associations, hubspot.Association{
			To: hubspot.AssociationTarget{ID: input.ContactID},
			Types: []hubspot.AssociationType{{
				AssociationCategory: hubspot.AssociationCategoryUserDefined,
				AssociationTypeID:   s.cfg.AssocDealToContact,
			}},
		})
	}
	if input.CompanyID != "" {
		req.Associations = append(req.Associations, hubspot.Association{
			To: hubspot.AssociationTarget{ID: input.CompanyID},
			Types: []hubspot.AssociationType{{
				AssociationCategory: hubspot.AssociationCategoryUserDefined,
				AssociationTypeID:   s.cfg.AssocDealToCompany,
			}},
		})
	}

	created, err := s.crm.CreateObject(ctx, token, hubspot.ObjectTypeDeal, req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create deal")
	}
	if s.logg != nil {
		s.logg.Info(ctx, "deal created")
	}
	return created.ID, nil
}

// Patch updates the provided fields on an existing deal.
func (s *service) Patch(ctx context.Context, token, dealID string, input PatchInput) error {
	if dealID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "deal id is required")
	}

	props := map[string]string{}
	if input.AmountMinor != nil {
		props["amount"] = money.MinorToMajorString(*input.AmountMinor)
	}
	if input.Name != nil {
		props["dealname"] = *input.Name
	}
	if input.Stage != nil {
		props["dealstage"] = *input.Stage
	}
	if len(props) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "no deal fields to patch")
	}

	if _, err := s.crm.PatchObject(ctx, token, hubspot.ObjectTypeDeal, dealID, props); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "patch deal")
	}
	return nil
}
