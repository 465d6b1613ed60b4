// Package invoices materializes billing events into the CRM: a rendered
// document in the files store, a custom invoice object, a note carrying the
// attachment, typed associations to the buyer, and denormalized
// latest-invoice fields on the contact.
package invoices

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hubbridge/hubbridge-backend/pkg/config"
	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
	"github.com/hubbridge/hubbridge-backend/pkg/hubspot"
	"github.com/hubbridge/hubbridge-backend/pkg/logger"
	"github.com/hubbridge/hubbridge-backend/pkg/money"
	"go.uber.org/multierr"
)

// HubSpot-defined association from a note to the contact it sits on.
const noteToContactAssociationID = 202

// DocumentGenerator renders an intent into document bytes.
type DocumentGenerator interface {
	Render(ctx context.Context, intent Intent) ([]byte, error)
}

type crmClient interface {
	CreateObject(ctx context.Context, token, objectType string, req hubspot.CreateObjectRequest) (*hubspot.Object, error)
	PatchObject(ctx context.Context, token, objectType, id string, props map[string]string) (*hubspot.Object, error)
	Associate(ctx context.Context, token, fromType, fromID, toType, toID string, assoc hubspot.AssociationType) error
	UploadFile(ctx context.Context, token, folderID, fileName string, data []byte) (*hubspot.File, error)
}

// Result reports what Materialize produced. Enrichment holds the collected
// failures of the best-effort steps; a non-nil Enrichment does not mean the
// invoice failed.
type Result struct {
	InvoiceObjectID string
	FileID          string
	FileURL         string
	Enrichment      error
}

// Service turns invoice intents into CRM records.
type Service interface {
	Materialize(ctx context.Context, token string, intent Intent) (*Result, error)
}

type service struct {
	crm       crmClient
	generator DocumentGenerator
	cfg       config.HubSpotConfig
	logg      *logger.Logger
}

// NewService builds the invoice materializer.
func NewService(crm crmClient, generator DocumentGenerator, cfg config.HubSpotConfig, logg *logger.Logger) (Service, error) {
	if crm == nil {
		return nil, fmt.Errorf("crm client required")
	}
	if generator == nil {
		return nil, fmt.Errorf("document generator required")
	}
	if cfg.InvoiceObjectType == "" {
		return nil, fmt.Errorf("invoice object type required")
	}
	return &service{crm: crm, generator: generator, cfg: cfg, logg: logg}, nil
}

// Materialize renders, uploads, and creates the invoice object, then runs
// the enrichment steps (note, associations, contact patch). Render, upload,
// and object creation are fatal; enrichment failures are collected and
// reported, never rolled back.
func (s *service) Materialize(ctx context.Context, token string, intent Intent) (*Result, error) {
	if err := intent.validate(); err != nil {
		return nil, err
	}

	data, err := s.generator.Render(ctx, intent)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render invoice document")
	}

	file, err := s.crm.UploadFile(ctx, token, s.cfg.FilesFolderID, intent.FileName(), data)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upload invoice document")
	}

	created, err := s.crm.CreateObject(ctx, token, s.cfg.InvoiceObjectType, hubspot.CreateObjectRequest{
		Properties: s.objectProperties(intent, file),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create invoice object")
	}

	result := &Result{
		InvoiceObjectID: created.ID,
		FileID:          file.ID,
		FileURL:         file.URL,
	}
	result.Enrichment = s.enrich(ctx, token, intent, created.ID, file)
	if result.Enrichment != nil && s.logg != nil {
		warnCtx := s.logg.WithFields(ctx, map[string]any{
			"invoice_object_id": created.ID,
			"error":             result.Enrichment.Error(),
		})
		s.logg.Warn(warnCtx, "invoice enrichment incomplete")
	}
	return result, nil
}

func (s *service) objectProperties(intent Intent, file *hubspot.File) map[string]string {
	props := map[string]string{
		"invoice_number":         intent.Number.String(),
		"invoice_year":           strconv.Itoa(intent.Number.Year),
		"invoice_number_sufix":   strconv.FormatInt(intent.Number.Sequence, 10),
		"invoice_status":         string(intent.Status),
		"issue_date":             strconv.FormatInt(intent.IssueDate.UnixMilli(), 10),
		"due_date":               strconv.FormatInt(intent.DueDate.UnixMilli(), 10),
		"subtotal":               money.MinorToMajorString(intent.SubtotalMinor),
		"tax":                    money.MinorToMajorString(intent.TaxMinor),
		"total":                  money.MinorToMajorString(intent.TotalMinor),
		"amount_paid":            money.MinorToMajorString(intent.AmountPaidMinor),
		"balance_due":            money.MinorToMajorString(intent.BalanceDueMinor),
		"bill_to_name":           intent.BillTo.Name,
		"bill_to_email":          intent.BillTo.Email,
		"product_name":           intent.ProductName,
		"stripe_customer_id":     intent.CustomerID,
		"stripe_subscription_id": intent.SubscriptionID,
		"contact_id":             intent.ContactID,
		"invoice_pdf_file_id":    file.ID,
		"invoice_pdf_url":        file.URL,
	}
	if intent.PaymentID != "" {
		props["payment_id"] = intent.PaymentID
	}
	if intent.PaymentMethod != "" {
		props["payment_method"] = intent.PaymentMethod
	}
	return props
}

func (s *service) enrich(ctx context.Context, token string, intent Intent, invoiceID string, file *hubspot.File) error {
	var errs error

	if err := s.attachNote(ctx, token, intent, file); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("attach note: %w", err))
	}

	if err := s.crm.Associate(ctx, token, s.cfg.InvoiceObjectType, invoiceID, hubspot.ObjectTypeContact, intent.ContactID, hubspot.AssociationType{
		AssociationCategory: hubspot.AssociationCategoryUserDefined,
		AssociationTypeID:   s.cfg.AssocInvoiceToContact,
	}); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("associate contact: %w", err))
	}

	if intent.CompanyID != "" {
		if err := s.crm.Associate(ctx, token, s.cfg.InvoiceObjectType, invoiceID, hubspot.ObjectTypeCompany, intent.CompanyID, hubspot.AssociationType{
			AssociationCategory: hubspot.AssociationCategoryUserDefined,
			AssociationTypeID:   s.cfg.AssocInvoiceToCompany,
		}); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("associate company: %w", err))
		}
	}

	if _, err := s.crm.PatchObject(ctx, token, hubspot.ObjectTypeContact, intent.ContactID, map[string]string{
		"latest_invoice_number": intent.Number.String(),
		"latest_invoice_total":  money.MinorToMajorString(intent.TotalMinor),
		"latest_invoice_date":   strconv.FormatInt(intent.IssueDate.UnixMilli(), 10),
		"latest_invoice_url":    file.URL,
	}); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("patch contact: %w", err))
	}

	return errs
}

func (s *service) attachNote(ctx context.Context, token string, intent Intent, file *hubspot.File) error {
	_, err := s.crm.CreateObject(ctx, token, hubspot.ObjectTypeNote, hubspot.CreateObjectRequest{
		Properties: map[string]string{
			"hs_timestamp":      strconv.FormatInt(intent.IssueDate.UnixMilli(), 10),
			"hs_note_body":      fmt.Sprintf("Invoice %s (%s)", intent.Number.String(), intent.Status),
			"hs_attachment_ids": file.ID,
		},
		Associations: []hubspot.Association{{
			To: hubspot.AssociationTarget{ID: intent.ContactID},
			Types: []hubspot.AssociationType{{
				AssociationCategory: hubspot.AssociationCategoryHubSpotDefined,
				AssociationTypeID:   noteToContactAssociationID,
			}},
		}},
	})
	return err
}
