package webhooks

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"time"

	"github.com/hubbridge/hubbridge-backend/api/responses"
	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
	"github.com/hubbridge/hubbridge-backend/pkg/logger"
	"github.com/hubbridge/hubbridge-backend/pkg/metrics"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type stripeClient interface {
	SigningSecret() string
}

// handleTimeout bounds one event's CRM sequence once the delivery has
// been acknowledged.
const handleTimeout = 2 * time.Minute

// StripeWebhook handles Stripe subscription lifecycle events. The
// delivery is verified, marked processed and acknowledged immediately;
// the CRM sequence runs detached from the request. Failures surface
// through the dead-letter report, and the dropped mark lets an operator
// resend the event from the Stripe dashboard.
func StripeWebhook(svc StripeWebhookService, client stripeClient, guard stripeWebhookGuard, wm *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify signature"))
			return
		}

		alreadyProcessed, err := guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			wm.IncDuplicate(string(event.Type))
			if logg != nil {
				logg.Info(ctx, fmt.Sprintf("stripe event %s already processed, skipping", event.ID))
			}
			responses.WriteSuccess(w, nil)
			return
		}

		// Stripe's delivery timeout is short and the CRM sequence is not;
		// everything past signature verification runs detached from the
		// request so the ack never waits on HubSpot.
		handleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handleTimeout)
		go func() {
			defer cancel()
			if err := svc.HandleEvent(handleCtx, &event); err != nil {
				if delErr := guard.Delete(handleCtx, event.ID); delErr != nil && logg != nil {
					logg.Error(handleCtx, fmt.Sprintf("release idempotency mark for %s", event.ID), delErr)
				}
				if logg != nil {
					logg.Error(handleCtx, fmt.Sprintf("stripe event %s processing failed", event.ID), err)
				}
				return
			}
			if logg != nil {
				logg.Info(handleCtx, fmt.Sprintf("stripe event %s processed", event.ID))
			}
		}()

		responses.WriteSuccess(w, nil)
	}
}
