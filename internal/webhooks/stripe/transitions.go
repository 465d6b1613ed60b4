// Package stripewebhook routes verified Stripe events into CRM side
// effects. The routing itself is a transition table over (current ledger
// status, event kind); executing a transition is the service's job, so the
// table stays free of I/O and testable on its own.
package stripewebhook

import (
	"github.com/stripe/stripe-go/v84"

	"github.com/hubbridge/hubbridge-backend/internal/hubdbledger"
)

// Kind classifies an inbound event into the lifecycle step it represents.
type Kind string

const (
	KindIgnored      Kind = "ignored"
	KindTrialStart   Kind = "trial_start"
	KindActivation   Kind = "activation"
	KindRenewal      Kind = "renewal"
	KindProration    Kind = "proration"
	KindPlanChange   Kind = "plan_change"
	KindTrialWillEnd Kind = "trial_will_end"

	// KindOneTimePurchase is not part of the subscription table; the
	// storefront's single-charge flow has its own fixed sequence.
	KindOneTimePurchase Kind = "one_time_purchase"

	// Log-only kinds: acknowledged and counted, no CRM mutation.
	KindActiveCreated Kind = "active_created"
	KindPaymentFailed Kind = "payment_failed"
)

// Action is one CRM side effect a transition performs. Actions run in
// order; conditional details (company payer, deal already linked) are
// resolved by the executor, not the table.
type Action string

const (
	ActionResolveContact      Action = "resolve_contact"
	ActionResolveCompany      Action = "resolve_company"
	ActionStampLinkage        Action = "stamp_linkage"
	ActionSyncDeal            Action = "sync_deal"
	ActionPatchDealActive     Action = "patch_deal_active"
	ActionPatchDealPlan       Action = "patch_deal_plan"
	ActionUpsertLedger        Action = "upsert_ledger"
	ActionPatchLedgerName     Action = "patch_ledger_name"
	ActionPatchLedgerPeriod   Action = "patch_ledger_period"
	ActionMaterializeInvoice  Action = "materialize_invoice"
	ActionMarkContactTrial    Action = "mark_contact_trial"
	ActionMarkContactReminder Action = "mark_contact_reminder"
)

// critical actions abort the rest of the transition when they fail; every
// later action needs their output. Non-critical failures are recorded and
// the remaining independent actions still run.
func (a Action) critical() bool {
	return a == ActionResolveContact
}

// Transition is the planned side-effect list for one event. LedgerStatus
// is what ActionUpsertLedger writes; empty means the ledger row is not
// part of this transition.
type Transition struct {
	Actions      []Action
	LedgerStatus string
}

// ClassifySubscriptionCreated maps a created event to its kind by the
// subscription's initial status. Incomplete subscriptions have no confirmed
// payment and are ignored until an invoice event arrives.
func ClassifySubscriptionCreated(status stripe.SubscriptionStatus) Kind {
	switch status {
	case stripe.SubscriptionStatusTrialing:
		return KindTrialStart
	case stripe.SubscriptionStatusActive:
		return KindActiveCreated
	default:
		return KindIgnored
	}
}

// ClassifyInvoicePaid maps a successful invoice payment to its kind by
// billing reason.
func ClassifyInvoicePaid(reason stripe.InvoiceBillingReason) Kind {
	switch reason {
	case stripe.InvoiceBillingReasonSubscriptionCreate:
		return KindActivation
	case stripe.InvoiceBillingReasonSubscriptionCycle:
		return KindRenewal
	case stripe.InvoiceBillingReasonSubscriptionUpdate:
		return KindProration
	default:
		return KindIgnored
	}
}

// Plan returns the transition for an event kind given the subscription's
// current ledger status.
func Plan(ledgerStatus string, kind Kind) Transition {
	switch kind {
	case KindTrialStart:
		return Transition{
			Actions: []Action{
				ActionResolveContact,
				ActionResolveCompany,
				ActionStampLinkage,
				ActionSyncDeal,
				ActionUpsertLedger,
				ActionMaterializeInvoice,
				ActionMarkContactTrial,
			},
			LedgerStatus: hubdbledger.StatusTrialing,
		}
	case KindActivation:
		return Transition{
			Actions: []Action{
				ActionResolveContact,
				ActionResolveCompany,
				ActionStampLinkage,
				ActionSyncDeal,
				ActionUpsertLedger,
				ActionMaterializeInvoice,
			},
			LedgerStatus: hubdbledger.StatusActive,
		}
	case KindRenewal:
		switch ledgerStatus {
		case hubdbledger.StatusTrialing:
			// Trial converting on its first paid cycle: flip the deal and
			// rewrite the full ledger row.
			return Transition{
				Actions:      []Action{ActionResolveContact, ActionPatchDealActive, ActionMaterializeInvoice, ActionUpsertLedger},
				LedgerStatus: hubdbledger.StatusActive,
			}
		case hubdbledger.StatusActive:
			// Steady-state renewal: only the period end moves.
			return Transition{
				Actions: []Action{ActionResolveContact, ActionMaterializeInvoice, ActionPatchLedgerPeriod},
			}
		default:
			// No ledger row recorded yet; the upsert recreates it.
			return Transition{
				Actions:      []Action{ActionResolveContact, ActionMaterializeInvoice, ActionUpsertLedger},
				LedgerStatus: hubdbledger.StatusActive,
			}
		}
	case KindProration:
		// Prorations never touch the deal or the ledger row.
		return Transition{Actions: []Action{ActionResolveContact, ActionMaterializeInvoice}}
	case KindPlanChange:
		// Metadata is stamped last so a redelivered event still detects the
		// price change when an earlier patch failed.
		return Transition{Actions: []Action{ActionPatchDealPlan, ActionPatchLedgerName, ActionStampLinkage}}
	case KindTrialWillEnd:
		return Transition{Actions: []Action{ActionMarkContactReminder}}
	default:
		return Transition{}
	}
}
