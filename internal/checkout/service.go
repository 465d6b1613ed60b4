// Package checkout implements the storefront flows that put buyers into
// Stripe: SetupIntents for card collection, trial and pay-now subscription
// creation with the CRM linkage metadata stamped up front, and one-time
// purchase PaymentIntents. The webhook router picks everything up from
// there.
package checkout

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/hubbridge/hubbridge-backend/internal/linkage"
	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
	"github.com/hubbridge/hubbridge-backend/pkg/logger"
	"github.com/hubbridge/hubbridge-backend/pkg/money"
)

// Metadata stamped on one-time PaymentIntents. The webhook consumer keys
// off category=purchase and reads the rest when building the CRM contact.
const (
	metaCategory    = "category"
	metaPortalID    = "hsPortalId"
	metaPayerType   = "payerType"
	metaCompanyName = "companyName"
	metaFirstName   = "firstName"
	metaLastName    = "lastName"
	metaFullName    = "fullName"
	metaProductName = "productName"
	metaPriceID     = "priceId"
	metaProductID   = "productId"
	metaEmail       = "email"

	categoryPurchase = "purchase"
)

// Service runs the storefront checkout flows.
type Service interface {
	CreateSetupIntent(ctx context.Context, req SetupIntentRequest) (*SetupIntentResponse, error)
	StartTrial(ctx context.Context, req TrialRequest) (*SubscriptionResponse, error)
	StartSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResponse, error)
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntentResponse, error)
}

type service struct {
	gateway StripeGateway
	logg    *logger.Logger
}

// NewService builds the checkout service.
func NewService(gateway StripeGateway, logg *logger.Logger) (Service, error) {
	if gateway == nil {
		return nil, fmt.Errorf("stripe gateway required")
	}
	return &service{gateway: gateway, logg: logg}, nil
}

// CreateSetupIntent opens an off-session SetupIntent so the browser can
// collect a card before any customer exists.
func (s *service) CreateSetupIntent(ctx context.Context, req SetupIntentRequest) (*SetupIntentResponse, error) {
	si, err := s.gateway.CreateSetupIntent(ctx, strings.TrimSpace(req.CustomerID))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create setup intent")
	}
	return &SetupIntentResponse{ClientSecret: si.ClientSecret}, nil
}

// StartTrial finalizes a trial checkout: fresh customer, attached payment
// method set as invoice default, trialing subscription carrying the full
// linkage sidecar, and a best-effort $0 receipt invoice whose hosted URL
// goes back to the buyer.
func (s *service) StartTrial(ctx context.Context, req TrialRequest) (*SubscriptionResponse, error) {
	sub, err := s.createSubscription(ctx, subscriptionInput{
		Email:           req.Email,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		FullName:        req.FullName,
		CompanyName:     req.CompanyName,
		PayerType:       req.PayerType,
		ProductID:       req.ProductID,
		PaymentMethodID: req.PaymentMethodID,
		Currency:        req.Currency,
		PortalID:        req.PortalID,
		TrialPeriodDays: req.TrialPeriodDays,
	})
	if err != nil {
		return nil, err
	}

	resp := subscriptionResponse(sub)
	resp.TrialInvoiceURL = s.trialReceipt(ctx, sub)
	return resp, nil
}

// StartSubscription is the pay-now variant: with a default payment method
// on the customer Stripe settles the first invoice immediately.
func (s *service) StartSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResponse, error) {
	sub, err := s.createSubscription(ctx, subscriptionInput{
		Email:           req.Email,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		FullName:        req.FullName,
		CompanyName:     req.CompanyName,
		PayerType:       req.PayerType,
		ProductID:       req.ProductID,
		PaymentMethodID: req.PaymentMethodID,
		Currency:        req.Currency,
		PortalID:        req.PortalID,
	})
	if err != nil {
		return nil, err
	}
	return subscriptionResponse(sub), nil
}

type subscriptionInput struct {
	Email           string
	FirstName       string
	LastName        string
	FullName        string
	CompanyName     string
	PayerType       string
	ProductID       string
	PaymentMethodID string
	Currency        string
	PortalID        string
	TrialPeriodDays int64
}

func (s *service) createSubscription(ctx context.Context, input subscriptionInput) (*stripe.Subscription, error) {
	fullName := displayName(input.FullName, input.FirstName, input.LastName)

	cust, err := s.gateway.CreateCustomer(ctx, input.Email, fullName, map[string]string{
		"first_name": input.FirstName,
		"last_name":  input.LastName,
		"full_name":  fullName,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create customer")
	}

	if err := s.gateway.AttachPaymentMethod(ctx, input.PaymentMethodID, cust.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach payment method")
	}
	if err := s.gateway.SetDefaultPaymentMethod(ctx, cust.ID, input.PaymentMethodID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set default payment method")
	}

	price, err := s.resolvePrice(ctx, input.ProductID, priceTypeRecurring, input.Currency)
	if err != nil {
		return nil, err
	}

	prod, err := s.gateway.GetProduct(ctx, input.ProductID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve product")
	}

	links := linkage.Links{
		PortalID:    input.PortalID,
		Email:       input.Email,
		FullName:    fullName,
		Company:     input.CompanyName,
		PayerType:   linkage.PayerType(input.PayerType),
		ProductName: prod.Name,
		PriceID:     price.ID,
		ProductID:   input.ProductID,
	}

	sub, err := s.gateway.CreateSubscription(ctx, SubscriptionCreate{
		CustomerID:      cust.ID,
		PriceID:         price.ID,
		PaymentMethodID: input.PaymentMethodID,
		TrialPeriodDays: input.TrialPeriodDays,
		Description:     prod.Name,
		Metadata:        links.ToMetadata(),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
	}

	if s.logg != nil {
		ctx = s.logg.WithPortalID(ctx, input.PortalID)
		ctx = s.logg.WithSubscriptionID(ctx, sub.ID)
		s.logg.Info(ctx, "subscription created at checkout")
	}
	return sub, nil
}

// trialReceipt issues the $0 paper-trail invoice for a fresh trial. Any
// failure here is logged and swallowed: the subscription already exists
// and the receipt is cosmetic.
func (s *service) trialReceipt(ctx context.Context, sub *stripe.Subscription) string {
	currency := "usd"
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		currency = string(sub.Items.Data[0].Price.Currency)
	}

	trialEnd := ""
	if sub.TrialEnd > 0 {
		trialEnd = time.Unix(sub.TrialEnd, 0).UTC().Format(time.RFC3339)
	}

	description := "Trial started for " + sub.Description + ", no charge today"
	err := s.gateway.CreateInvoiceItem(ctx, customerID(sub), currency, description, 0, map[string]string{
		"subscription_id": sub.ID,
		"trial_end":       trialEnd,
	})
	if err != nil {
		s.warn(ctx, "trial receipt invoice item skipped", err)
		return ""
	}

	draft, err := s.gateway.CreateDraftInvoice(ctx, customerID(sub), map[string]string{
		"subscription_id": sub.ID,
		"purpose":         "trial_receipt",
	})
	if err != nil {
		s.warn(ctx, "trial receipt draft skipped", err)
		return ""
	}

	finalized, err := s.gateway.FinalizeInvoice(ctx, draft.ID)
	if err != nil {
		s.warn(ctx, "trial receipt finalize skipped", err)
		return ""
	}
	return finalized.HostedInvoiceURL
}

// CreatePaymentIntent opens a one-time purchase intent. Amount comes from
// the product's one-time price unless the request carries a display
// amount; metadata tells the webhook consumer this is a purchase.
func (s *service) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntentResponse, error) {
	price, err := s.resolvePrice(ctx, req.ProductID, priceTypeOneTime, req.Currency)
	if err != nil {
		return nil, err
	}

	amountMinor := price.UnitAmount
	currency := string(price.Currency)
	if amount := strings.TrimSpace(req.Amount); amount != "" {
		unitAmount, err := money.ToUnitAmountUSD(amount)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
		}
		amountMinor, err = strconv.ParseInt(unitAmount, 10, 64)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
		}
		currency = "usd"
	}
	if amountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resolved price has no unit amount")
	}

	prod, err := s.gateway.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve product")
	}

	fullName := displayName(req.FullName, req.FirstName, req.LastName)
	intent, err := s.gateway.CreatePaymentIntent(ctx, PaymentIntentCreate{
		AmountMinor: amountMinor,
		Currency:    currency,
		Description: prod.Name,
		Metadata: map[string]string{
			metaCategory:    categoryPurchase,
			metaPortalID:    req.PortalID,
			metaPayerType:   req.PayerType,
			metaCompanyName: req.CompanyName,
			metaFirstName:   req.FirstName,
			metaLastName:    req.LastName,
			metaFullName:    fullName,
			metaProductName: prod.Name,
			metaPriceID:     price.ID,
			metaProductID:   req.ProductID,
			metaEmail:       req.Email,
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}

	if s.logg != nil {
		ctx = s.logg.WithPortalID(ctx, req.PortalID)
		s.logg.Info(ctx, "one-time payment intent created")
	}
	return &PaymentIntentResponse{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		AmountMinor:     amountMinor,
		Currency:        currency,
	}, nil
}

// resolvePrice picks an active price of the given type for the product,
// preferring the requested currency and falling back to the first listed.
func (s *service) resolvePrice(ctx context.Context, productID, priceType, desiredCurrency string) (*stripe.Price, error) {
	prices, err := s.gateway.ListPrices(ctx, productID, priceType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list prices")
	}
	if len(prices) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("no active %s price for product", priceType))
	}
	desired := strings.ToLower(strings.TrimSpace(desiredCurrency))
	for _, price := range prices {
		if string(price.Currency) == desired {
			return price, nil
		}
	}
	return prices[0], nil
}

func subscriptionResponse(sub *stripe.Subscription) *SubscriptionResponse {
	resp := &SubscriptionResponse{
		SubscriptionID: sub.ID,
		CustomerID:     customerID(sub),
		Status:         string(sub.Status),
	}
	if sub.LatestInvoice != nil {
		resp.LatestInvoiceID = sub.LatestInvoice.ID
	}
	if sub.TrialEnd > 0 {
		resp.TrialEnd = time.Unix(sub.TrialEnd, 0).UTC().Format(time.RFC3339)
	}
	return resp
}

func (s *service) warn(ctx context.Context, msg string, err error) {
	if s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), msg)
	}
}

func customerID(sub *stripe.Subscription) string {
	if sub.Customer == nil {
		return ""
	}
	return sub.Customer.ID
}

func displayName(fullName, firstName, lastName string) string {
	if name := strings.TrimSpace(fullName); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
}
