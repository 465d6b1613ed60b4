package checkout

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/invoice"
	"github.com/stripe/stripe-go/v84/invoiceitem"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/paymentmethod"
	"github.com/stripe/stripe-go/v84/price"
	"github.com/stripe/stripe-go/v84/product"
	"github.com/stripe/stripe-go/v84/setupintent"
	"github.com/stripe/stripe-go/v84/subscription"

	pkgstripe "github.com/hubbridge/hubbridge-backend/pkg/stripe"
)

// Price types used when resolving the product's price.
const (
	priceTypeRecurring = "recurring"
	priceTypeOneTime   = "one_time"
)

const priceListLimit = 10

// SubscriptionCreate carries the fields the storefront sets when creating
// a subscription. TrialPeriodDays of zero means pay-now.
type SubscriptionCreate struct {
	CustomerID      string
	PriceID         string
	PaymentMethodID string
	TrialPeriodDays int64
	Description     string
	Metadata        map[string]string
}

// PaymentIntentCreate carries the fields for a one-time purchase intent.
type PaymentIntentCreate struct {
	AmountMinor int64
	Currency    string
	Description string
	Metadata    map[string]string
}

// StripeGateway exposes the Stripe surface the storefront flows touch.
type StripeGateway interface {
	CreateSetupIntent(ctx context.Context, customerID string) (*stripe.SetupIntent, error)
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*stripe.Customer, error)
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	ListPrices(ctx context.Context, productID, priceType string) ([]*stripe.Price, error)
	GetProduct(ctx context.Context, id string) (*stripe.Product, error)
	CreateSubscription(ctx context.Context, input SubscriptionCreate) (*stripe.Subscription, error)
	CreateInvoiceItem(ctx context.Context, customerID, currency, description string, amountMinor int64, metadata map[string]string) error
	CreateDraftInvoice(ctx context.Context, customerID string, metadata map[string]string) (*stripe.Invoice, error)
	FinalizeInvoice(ctx context.Context, invoiceID string) (*stripe.Invoice, error)
	CreatePaymentIntent(ctx context.Context, input PaymentIntentCreate) (*stripe.PaymentIntent, error)
}

type stripeGatewayWrapper struct{}

// NewStripeGateway wraps the initialized Stripe client so the checkout
// service can be tested against a stub.
func NewStripeGateway(api *pkgstripe.Client) StripeGateway {
	if api == nil {
		return nil
	}
	return &stripeGatewayWrapper{}
}

func (w *stripeGatewayWrapper) CreateSetupIntent(ctx context.Context, customerID string) (*stripe.SetupIntent, error) {
	params := &stripe.SetupIntentParams{
		Usage: stripe.String(string(stripe.SetupIntentUsageOffSession)),
		AutomaticPaymentMethods: &stripe.SetupIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	return setupintent.New(params)
}

func (w *stripeGatewayWrapper) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	if name != "" {
		params.Name = stripe.String(name)
	}
	for key, value := range metadata {
		params.AddMetadata(key, value)
	}
	return customer.New(params)
}

func (w *stripeGatewayWrapper) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	params := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	_, err := paymentmethod.Attach(paymentMethodID, params)
	return err
}

func (w *stripeGatewayWrapper) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx
	_, err := customer.Update(customerID, params)
	return err
}

func (w *stripeGatewayWrapper) ListPrices(ctx context.Context, productID, priceType string) ([]*stripe.Price, error) {
	params := &stripe.PriceListParams{
		Product: stripe.String(productID),
		Active:  stripe.Bool(true),
		Type:    stripe.String(priceType),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(priceListLimit)

	var prices []*stripe.Price
	iter := price.List(params)
	for iter.Next() {
		prices = append(prices, iter.Price())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return prices, nil
}

func (w *stripeGatewayWrapper) GetProduct(ctx context.Context, id string) (*stripe.Product, error) {
	params := &stripe.ProductParams{}
	params.Context = ctx
	return product.Get(id, params)
}

func (w *stripeGatewayWrapper) CreateSubscription(ctx context.Context, input SubscriptionCreate) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(input.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(input.PriceID)},
		},
		DefaultPaymentMethod: stripe.String(input.PaymentMethodID),
		CollectionMethod:     stripe.String(string(stripe.SubscriptionCollectionMethodChargeAutomatically)),
	}
	params.Context = ctx
	if input.TrialPeriodDays > 0 {
		params.TrialPeriodDays = stripe.Int64(input.TrialPeriodDays)
	}
	if input.Description != "" {
		params.Description = stripe.String(input.Description)
	}
	for key, value := range input.Metadata {
		params.AddMetadata(key, value)
	}
	params.AddExpand("latest_invoice")
	return subscription.New(params)
}

func (w *stripeGatewayWrapper) CreateInvoiceItem(ctx context.Context, customerID, currency, description string, amountMinor int64, metadata map[string]string) error {
	params := &stripe.InvoiceItemParams{
		Customer:    stripe.String(customerID),
		Currency:    stripe.String(currency),
		Amount:      stripe.Int64(amountMinor),
		Description: stripe.String(description),
	}
	params.Context = ctx
	for key, value := range metadata {
		params.AddMetadata(key, value)
	}
	_, err := invoiceitem.New(params)
	return err
}

func (w *stripeGatewayWrapper) CreateDraftInvoice(ctx context.Context, customerID string, metadata map[string]string) (*stripe.Invoice, error) {
	params := &stripe.InvoiceParams{
		Customer:         stripe.String(customerID),
		CollectionMethod: stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
	}
	params.Context = ctx
	for key, value := range metadata {
		params.AddMetadata(key, value)
	}
	return invoice.New(params)
}

func (w *stripeGatewayWrapper) FinalizeInvoice(ctx context.Context, invoiceID string) (*stripe.Invoice, error) {
	params := &stripe.InvoiceFinalizeInvoiceParams{}
	params.Context = ctx
	return invoice.FinalizeInvoice(invoiceID, params)
}

func (w *stripeGatewayWrapper) CreatePaymentIntent(ctx context.Context, input PaymentIntentCreate) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(input.AmountMinor),
		Currency: stripe.String(input.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if input.Description != "" {
		params.Description = stripe.String(input.Description)
	}
	for key, value := range input.Metadata {
		params.AddMetadata(key, value)
	}
	return paymentintent.New(params)
}
