package invoices

import (
	"time"

	"github.com/hubbridge/hubbridge-backend/internal/numbering"
	"github.com/hubbridge/hubbridge-backend/pkg/config"
	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
)

// Status is the printed invoice state.
type Status string

const (
	StatusTrialing      Status = "Trialing"
	StatusPaid          Status = "Paid"
	StatusProrationPaid Status = "Proration Paid"
	StatusFailed        Status = "Failed"
)

// BillTo is the buyer block printed on the invoice: company name for
// business buyers, the person's name otherwise, plus whatever address the
// CRM knows.
type BillTo struct {
	Name    string
	Email   string
	Address string
	City    string
	State   string
	Zip     string
	Country string
}

// LineItem is one charge (or credit) line. Amounts are minor units;
// negative amounts render as credits on proration invoices. BillingCycle
// is an optional period label printed under subscription lines.
type LineItem struct {
	Name           string
	Quantity       int64
	UnitPriceMinor int64
	AmountMinor    int64
	BillingCycle   string
}

// Intent is one billing event ready to be materialized: rendered to a
// document, stored as a CRM invoice object, and associated to the buyer.
type Intent struct {
	Number    numbering.Number
	IssueDate time.Time
	DueDate   time.Time
	Status    Status

	SubtotalMinor   int64
	TaxMinor        int64
	TotalMinor      int64
	AmountPaidMinor int64
	BalanceDueMinor int64

	Seller config.SellerConfig
	BillTo BillTo

	LineItems []LineItem

	StatementDescriptor string
	PaymentID           string
	PaymentMethod       string

	CustomerID     string
	SubscriptionID string
	ContactID      string
	CompanyID      string
	ProductName    string
}

func (i Intent) validate() error {
	if i.Number.Sequence == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice number is required")
	}
	if i.Status == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice status is required")
	}
	if i.ContactID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "contact id is required")
	}
	if len(i.LineItems) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one line item is required")
	}
	return nil
}

// FileName is the name of the uploaded document, e.g. INV-2026-1043.pdf.
func (i Intent) FileName() string {
	return i.Number.String() + ".pdf"
}
