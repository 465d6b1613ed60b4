package stripewebhook

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/subscription"

	pkgstripe "github.com/hubbridge/hubbridge-backend/pkg/stripe"
)

// StripeBackend exposes the subset of Stripe operations the event router
// needs: re-fetching objects the webhook only references, and writing the
// linkage metadata back.
type StripeBackend interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	UpdateSubscriptionMetadata(ctx context.Context, id string, metadata map[string]string) (*stripe.Subscription, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
}

type stripeBackendWrapper struct{}

// NewStripeBackend wraps the initialized Stripe client so the router can be
// tested against a stub.
func NewStripeBackend(api *pkgstripe.Client) StripeBackend {
	if api == nil {
		return nil
	}
	return &stripeBackendWrapper{}
}

func (w *stripeBackendWrapper) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	return subscription.Get(id, params)
}

func (w *stripeBackendWrapper) UpdateSubscriptionMetadata(ctx context.Context, id string, metadata map[string]string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	for key, value := range metadata {
		params.AddMetadata(key, value)
	}
	return subscription.Update(id, params)
}

func (w *stripeBackendWrapper) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	return paymentintent.Get(id, params)
}
