package stripewebhook

import (
	"context"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/hubbridge/hubbridge-backend/internal/deals"
	"github.com/hubbridge/hubbridge-backend/internal/invoices"
	"github.com/hubbridge/hubbridge-backend/internal/linkage"
	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
)

// runOneTimePurchase handles a storefront single charge: resolve the buyer,
// create a deal at the purchase stage, and materialize a paid invoice. No
// subscription exists, so there is no ledger row and no metadata stamping.
func (s *Service) runOneTimePurchase(ctx context.Context, event *stripe.Event, pi *stripe.PaymentIntent) error {
	kind := KindOneTimePurchase

	// The event payload carries the charge by id only; the billing identity
	// lives on the expanded charge.
	full, err := s.stripe.GetPaymentIntent(ctx, pi.ID)
	if err != nil {
		return s.fail(ctx, event, kind, "fetch_payment_intent", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch payment intent"))
	}
	pi = full

	portalID := strings.TrimSpace(pi.Metadata[piKeyPortalID])
	if portalID == "" {
		return s.fail(ctx, event, kind, "read_linkage", pkgerrors.New(pkgerrors.CodeValidation, "portal id missing from payment intent metadata"))
	}
	if s.logg != nil {
		ctx = s.logg.WithPortalID(ctx, portalID)
	}

	token, err := s.tenants.AccessToken(ctx, portalID)
	if err != nil {
		return s.fail(ctx, event, kind, "resolve_token", err)
	}

	report := NewSyncReport(event.ID, string(event.Type), kind)
	report.PortalID = portalID

	sc := &syncScope{
		kind:   kind,
		token:  token,
		report: report,
		links: linkage.Links{
			PortalID:    portalID,
			Email:       purchaseEmail(pi),
			FullName:    purchaseFullName(pi.Metadata),
			Company:     strings.TrimSpace(pi.Metadata[piKeyCompanyName]),
			PayerType:   linkage.PayerType(strings.TrimSpace(pi.Metadata[piKeyPayerType])),
			ProductName: strings.TrimSpace(pi.Metadata[piKeyProductName]),
		},
	}

	if !report.Record(string(ActionResolveContact), s.resolveContact(ctx, sc)) {
		return s.finish(ctx, event, report)
	}
	report.Record(string(ActionResolveCompany), s.resolveCompany(ctx, sc))

	amount := pi.AmountReceived
	if amount == 0 {
		amount = pi.Amount
	}

	_, dealErr := s.deals.Create(ctx, token, deals.CreateInput{
		BillToName:  billToName(sc.links),
		ProductName: sc.links.ProductName,
		AmountMinor: amount,
		Stage:       s.hubspot.DealStagePurchase,
		CloseDate:   time.Now(),
		ContactID:   sc.links.ContactID,
		CompanyID:   sc.links.CompanyID,
	})
	report.Record(string(ActionSyncDeal), dealErr)

	report.Record(string(ActionMaterializeInvoice), s.materializePurchaseInvoice(ctx, sc, pi, amount))

	return s.finish(ctx, event, report)
}

func (s *Service) materializePurchaseInvoice(ctx context.Context, sc *syncScope, pi *stripe.PaymentIntent, amount int64) error {
	now := time.Now().UTC()
	number, err := s.numbering.Next(ctx, sc.token, sc.links.PortalID, now.Year())
	if err != nil {
		return err
	}

	intent := invoices.Intent{
		Number:          number,
		IssueDate:       now,
		DueDate:         now,
		Status:          invoices.StatusPaid,
		SubtotalMinor:   amount,
		TotalMinor:      amount,
		AmountPaidMinor: amount,
		Seller:          s.seller,
		BillTo:          buildBillTo(sc.links, sc.contact),
		LineItems: []invoices.LineItem{{
			Name:           sc.links.ProductName,
			Quantity:       1,
			UnitPriceMinor: amount,
			AmountMinor:    amount,
		}},
		PaymentID:     pi.ID,
		PaymentMethod: purchasePaymentMethod(pi),
		CustomerID:    customerID(pi.Customer),
		ContactID:     sc.links.ContactID,
		CompanyID:     sc.links.CompanyID,
		ProductName:   sc.links.ProductName,
	}

	_, err = s.invoices.Materialize(ctx, sc.token, intent)
	return err
}

func purchaseEmail(pi *stripe.PaymentIntent) string {
	if pi.LatestCharge != nil && pi.LatestCharge.BillingDetails != nil && pi.LatestCharge.BillingDetails.Email != "" {
		return pi.LatestCharge.BillingDetails.Email
	}
	return pi.ReceiptEmail
}

func purchaseFullName(meta map[string]string) string {
	if name := strings.TrimSpace(meta[piKeyFullName]); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(meta[piKeyFirstName]) + " " + strings.TrimSpace(meta[piKeyLastName]))
}

func purchasePaymentMethod(pi *stripe.PaymentIntent) string {
	if pi.LatestCharge == nil || pi.LatestCharge.PaymentMethodDetails == nil {
		return ""
	}
	return string(pi.LatestCharge.PaymentMethodDetails.Type)
}
