package stripewebhook

import (
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/hubbridge/hubbridge-backend/internal/directory"
	"github.com/hubbridge/hubbridge-backend/internal/invoices"
	"github.com/hubbridge/hubbridge-backend/internal/linkage"
	"github.com/hubbridge/hubbridge-backend/pkg/config"
)

// billToName picks the display name invoices and deals carry: the company
// for business buyers, the person otherwise.
func billToName(links linkage.Links) string {
	if links.IsCompanyPayer() && links.Company != "" {
		return links.Company
	}
	return links.FullName
}

func buildBillTo(links linkage.Links, contact *directory.ContactRef) invoices.BillTo {
	bill := invoices.BillTo{
		Name:  billToName(links),
		Email: links.Email,
	}
	if contact != nil {
		bill.Address = contact.Address
		bill.City = contact.City
		bill.State = contact.State
		bill.Zip = contact.Zip
		bill.Country = contact.Country
	}
	return bill
}

// periodLabel renders a billing period like "Mar 15 - Apr 15, 2026".
func periodLabel(start, end int64) string {
	if start == 0 || end == 0 {
		return ""
	}
	from := time.Unix(start, 0).UTC()
	to := time.Unix(end, 0).UTC()
	return from.Format("Jan 2") + " - " + to.Format("Jan 2, 2006")
}

func firstItem(sub *stripe.Subscription) *stripe.SubscriptionItem {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	return sub.Items.Data[0]
}

func itemPriceID(sub *stripe.Subscription) string {
	item := firstItem(sub)
	if item == nil || item.Price == nil {
		return ""
	}
	return item.Price.ID
}

func itemProductID(sub *stripe.Subscription) string {
	item := firstItem(sub)
	if item == nil || item.Price == nil || item.Price.Product == nil {
		return ""
	}
	return item.Price.Product.ID
}

// subscriptionAmountMinor is the recurring charge in minor units.
func subscriptionAmountMinor(sub *stripe.Subscription) int64 {
	item := firstItem(sub)
	if item == nil || item.Price == nil {
		return 0
	}
	quantity := item.Quantity
	if quantity == 0 {
		quantity = 1
	}
	return item.Price.UnitAmount * quantity
}

func customerID(customer *stripe.Customer) string {
	if customer == nil {
		return ""
	}
	return customer.ID
}

// trialIntent is the $0 invoice issued when a trial starts: one line for
// the product, amounts all zero, billing cycle labeled with the trial
// period.
func trialIntent(sc *syncScope, seller config.SellerConfig) invoices.Intent {
	issue := time.Now().UTC()
	item := firstItem(sc.sub)
	var cycle string
	if item != nil {
		cycle = periodLabel(item.CurrentPeriodStart, item.CurrentPeriodEnd)
	}
	return invoices.Intent{
		Number:    sc.number,
		IssueDate: issue,
		DueDate:   issue,
		Status:    invoices.StatusTrialing,
		Seller:    seller,
		BillTo:    buildBillTo(sc.links, sc.contact),
		LineItems: []invoices.LineItem{{
			Name:         sc.links.ProductName,
			Quantity:     1,
			BillingCycle: cycle,
		}},
		CustomerID:     customerID(sc.sub.Customer),
		SubscriptionID: sc.sub.ID,
		ContactID:      sc.links.ContactID,
		CompanyID:      sc.links.CompanyID,
		ProductName:    sc.links.ProductName,
	}
}

// paidIntent maps a paid Stripe invoice onto an intent. Proration invoices
// keep their negative credit lines as-is.
func paidIntent(sc *syncScope, status invoices.Status, seller config.SellerConfig) invoices.Intent {
	inv := sc.invoice
	issue := time.Unix(inv.Created, 0).UTC()
	due := issue
	if inv.DueDate != 0 {
		due = time.Unix(inv.DueDate, 0).UTC()
	}

	var tax int64
	if inv.Total > inv.Subtotal {
		tax = inv.Total - inv.Subtotal
	}

	return invoices.Intent{
		Number:          sc.number,
		IssueDate:       issue,
		DueDate:         due,
		Status:          status,
		SubtotalMinor:   inv.Subtotal,
		TaxMinor:        tax,
		TotalMinor:      inv.Total,
		AmountPaidMinor: inv.AmountPaid,
		BalanceDueMinor: inv.AmountRemaining,
		Seller:          seller,
		BillTo:          buildBillTo(sc.links, sc.contact),
		LineItems:       invoiceLines(inv, sc.links.ProductName),
		CustomerID:      customerID(inv.Customer),
		SubscriptionID:  sc.subscriptionID(),
		ContactID:       sc.links.ContactID,
		CompanyID:       sc.links.CompanyID,
		ProductName:     sc.links.ProductName,
	}
}

func invoiceLines(inv *stripe.Invoice, fallbackName string) []invoices.LineItem {
	if inv.Lines == nil || len(inv.Lines.Data) == 0 {
		return []invoices.LineItem{{
			Name:        fallbackName,
			Quantity:    1,
			AmountMinor: inv.Total,
		}}
	}

	lines := make([]invoices.LineItem, 0, len(inv.Lines.Data))
	for _, line := range inv.Lines.Data {
		quantity := line.Quantity
		if quantity == 0 {
			quantity = 1
		}
		item := invoices.LineItem{
			Name:           line.Description,
			Quantity:       quantity,
			UnitPriceMinor: line.Amount / quantity,
			AmountMinor:    line.Amount,
		}
		if item.Name == "" {
			item.Name = fallbackName
		}
		if line.Period != nil {
			item.BillingCycle = periodLabel(line.Period.Start, line.Period.End)
		}
		lines = append(lines, item)
	}
	return lines
}
