package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/hubbridge/hubbridge-backend/internal/deals"
	"github.com/hubbridge/hubbridge-backend/internal/directory"
	"github.com/hubbridge/hubbridge-backend/internal/hubdbledger"
	"github.com/hubbridge/hubbridge-backend/internal/invoices"
	"github.com/hubbridge/hubbridge-backend/internal/linkage"
	"github.com/hubbridge/hubbridge-backend/internal/numbering"
	"github.com/hubbridge/hubbridge-backend/pkg/config"
	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
	"github.com/hubbridge/hubbridge-backend/pkg/logger"
	"github.com/hubbridge/hubbridge-backend/pkg/metrics"
)

// Contact properties written by the trial flag and reminder steps.
const (
	propTrialActive       = "trial_active"
	propTrialReminderSent = "trial_reminder_sent"
	propTrialEndDate      = "trial_end_date"
	propTrialProductName  = "trial_product_name"

	contactDateLayout = "January 2, 2006"
)

// Metadata keys the storefront stamps onto one-time payment intents.
const (
	piKeyCategory    = "category"
	piKeyPortalID    = "hsPortalId"
	piKeyPayerType   = "payerType"
	piKeyCompanyName = "companyName"
	piKeyFirstName   = "firstName"
	piKeyLastName    = "lastName"
	piKeyFullName    = "fullName"
	piKeyProductName = "productName"

	piCategoryPurchase = "purchase"
)

type tenantTokens interface {
	AccessToken(ctx context.Context, portalID string) (string, error)
}

type directoryResolver interface {
	ResolveContact(ctx context.Context, token, email string) (*directory.ContactRef, error)
	ResolveOrCreateCompany(ctx context.Context, token string, input directory.CompanyInput) (*directory.CompanyRef, error)
	PatchContact(ctx context.Context, token, contactID string, props map[string]string) error
}

type numberAllocator interface {
	Next(ctx context.Context, token, portalID string, year int) (numbering.Number, error)
}

type dealSyncer interface {
	Create(ctx context.Context, token string, input deals.CreateInput) (string, error)
	Patch(ctx context.Context, token, dealID string, input deals.PatchInput) error
}

type ledgerSyncer interface {
	Find(ctx context.Context, token string, key hubdbledger.Key) (*hubdbledger.Row, error)
	Upsert(ctx context.Context, token string, key hubdbledger.Key, fields hubdbledger.Fields) error
	PatchPeriodEnd(ctx context.Context, token string, key hubdbledger.Key, periodEnd time.Time) error
}

type invoiceMaterializer interface {
	Materialize(ctx context.Context, token string, intent invoices.Intent) (*invoices.Result, error)
}

type ServiceParams struct {
	Tenants    tenantTokens
	Directory  directoryResolver
	Numbering  numberAllocator
	Deals      dealSyncer
	Ledger     ledgerSyncer
	Invoices   invoiceMaterializer
	Stripe     StripeBackend
	DeadLetter deadLetterPublisher
	Metrics    *metrics.WebhookMetrics
	HubSpot    config.HubSpotConfig
	Seller     config.SellerConfig
	Logger     *logger.Logger
}

// Service is the webhook event router. Handling is serialized per
// subscription id; everything else about an event runs exactly once,
// guarded upstream by the idempotency mark.
type Service struct {
	tenants    tenantTokens
	directory  directoryResolver
	numbering  numberAllocator
	deals      dealSyncer
	ledger     ledgerSyncer
	invoices   invoiceMaterializer
	stripe     StripeBackend
	deadLetter deadLetterPublisher
	metrics    *metrics.WebhookMetrics
	hubspot    config.HubSpotConfig
	seller     config.SellerConfig
	logg       *logger.Logger
	locks      *keyedMutex
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Tenants == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tenant service required")
	}
	if params.Directory == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "directory service required")
	}
	if params.Numbering == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "numbering service required")
	}
	if params.Deals == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "deal service required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Invoices == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "invoice service required")
	}
	if params.Stripe == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe backend required")
	}
	return &Service{
		tenants:    params.Tenants,
		directory:  params.Directory,
		numbering:  params.Numbering,
		deals:      params.Deals,
		ledger:     params.Ledger,
		invoices:   params.Invoices,
		stripe:     params.Stripe,
		deadLetter: params.DeadLetter,
		metrics:    params.Metrics,
		hubspot:    params.HubSpot,
		seller:     params.Seller,
		logg:       params.Logger,
		locks:      newKeyedMutex(),
	}, nil
}

// syncScope carries the working state of one event through its actions.
type syncScope struct {
	kind    Kind
	token   string
	links   linkage.Links
	sub     *stripe.Subscription
	invoice *stripe.Invoice
	contact *directory.ContactRef
	number  numbering.Number
	report  *SyncReport
	plan    Transition

	dealStage       string
	dealAmountMinor int64
	invoiceStatus   invoices.Status
}

func (sc *syncScope) subscriptionID() string {
	if sc.sub != nil {
		return sc.sub.ID
	}
	return ""
}

func (sc *syncScope) ledgerKey() hubdbledger.Key {
	return hubdbledger.Key{
		ContactID:      sc.links.ContactID,
		CustomerID:     customerID(sc.sub.Customer),
		SubscriptionID: sc.sub.ID,
	}
}

// HandleEvent routes one verified event. Unrecognized event types are
// acknowledged without action; the set of handled types is an allow-list.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	start := time.Now()
	defer func() {
		s.metrics.ObserveDuration(string(event.Type), time.Since(start))
	}()

	if s.logg != nil {
		ctx = s.logg.WithEventID(ctx, event.ID)
	}

	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated:
		sub, err := decodeSubscription(event)
		if err != nil {
			return s.fail(ctx, event, KindIgnored, "decode_event", err)
		}
		switch kind := ClassifySubscriptionCreated(sub.Status); kind {
		case KindTrialStart:
			return s.runSubscriptionSync(ctx, event, sub, nil, kind)
		case KindActiveCreated:
			// The authoritative paid signal is the invoice event.
			s.logInfo(ctx, "subscription created active, deferring to invoice event")
			s.metrics.IncProcessed(string(event.Type))
			return nil
		default:
			s.metrics.IncProcessed(string(event.Type))
			return nil
		}

	case stripe.EventTypeCustomerSubscriptionUpdated:
		sub, err := decodeSubscription(event)
		if err != nil {
			return s.fail(ctx, event, KindIgnored, "decode_event", err)
		}
		links := linkage.FromMetadata(sub.Metadata)
		if !linkage.IsPriceChange(links.PriceID, itemPriceID(sub)) {
			s.metrics.IncProcessed(string(event.Type))
			return nil
		}
		return s.runSubscriptionSync(ctx, event, sub, nil, KindPlanChange)

	case stripe.EventTypeCustomerSubscriptionTrialWillEnd:
		sub, err := decodeSubscription(event)
		if err != nil {
			return s.fail(ctx, event, KindIgnored, "decode_event", err)
		}
		return s.runSubscriptionSync(ctx, event, sub, nil, KindTrialWillEnd)

	case stripe.EventTypeInvoicePaymentSucceeded:
		inv, err := decodeInvoice(event)
		if err != nil {
			return s.fail(ctx, event, KindIgnored, "decode_event", err)
		}
		kind := ClassifyInvoicePaid(inv.BillingReason)
		if kind == KindIgnored {
			s.metrics.IncProcessed(string(event.Type))
			return nil
		}
		subID := invoiceSubscriptionID(event)
		if subID == "" {
			return s.fail(ctx, event, kind, "resolve_subscription", pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing from invoice event"))
		}
		sub, err := s.stripe.GetSubscription(ctx, subID)
		if err != nil {
			return s.fail(ctx, event, kind, "resolve_subscription", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch subscription"))
		}
		return s.runSubscriptionSync(ctx, event, sub, inv, kind)

	case stripe.EventTypeInvoicePaymentFailed:
		// No dunning here; the failure is logged for operators only.
		s.logWarn(ctx, "invoice payment failed")
		s.metrics.IncProcessed(string(event.Type))
		return nil

	case stripe.EventTypePaymentIntentSucceeded:
		pi, err := decodePaymentIntent(event)
		if err != nil {
			return s.fail(ctx, event, KindIgnored, "decode_event", err)
		}
		if pi.Metadata[piKeyCategory] != piCategoryPurchase {
			s.metrics.IncProcessed(string(event.Type))
			return nil
		}
		return s.runOneTimePurchase(ctx, event, pi)

	default:
		return nil
	}
}

func (s *Service) runSubscriptionSync(ctx context.Context, event *stripe.Event, sub *stripe.Subscription, inv *stripe.Invoice, kind Kind) error {
	unlock := s.locks.Lock(sub.ID)
	defer unlock()

	links := linkage.FromMetadata(sub.Metadata)
	if links.PortalID == "" {
		return s.fail(ctx, event, kind, "read_linkage", pkgerrors.New(pkgerrors.CodeValidation, "portal id missing from subscription metadata"))
	}
	if s.logg != nil {
		ctx = s.logg.WithPortalID(ctx, links.PortalID)
		ctx = s.logg.WithSubscriptionID(ctx, sub.ID)
	}

	token, err := s.tenants.AccessToken(ctx, links.PortalID)
	if err != nil {
		return s.fail(ctx, event, kind, "resolve_token", err)
	}

	report := NewSyncReport(event.ID, string(event.Type), kind)
	report.PortalID = links.PortalID
	report.SubscriptionID = sub.ID

	sc := &syncScope{
		kind:    kind,
		token:   token,
		links:   links,
		sub:     sub,
		invoice: inv,
		report:  report,
	}
	s.prepare(sc)

	if err := sc.links.Validate(); err != nil {
		report.Record("validate_linkage", err)
		return s.finish(ctx, event, report)
	}

	// Renewal branches on the status last recorded in the ledger, never on
	// anything remembered in process memory.
	ledgerStatus := ""
	if kind == KindRenewal && sc.links.HasContact() {
		row, err := s.ledger.Find(ctx, token, sc.ledgerKey())
		if report.Record("read_ledger", err) && row != nil {
			ledgerStatus = row.Status
		}
	}

	sc.plan = Plan(ledgerStatus, kind)
	for _, action := range sc.plan.Actions {
		err := s.execute(ctx, sc, action)
		if !report.Record(string(action), err) && action.critical() {
			break
		}
	}

	return s.finish(ctx, event, report)
}

// prepare derives the per-kind working values before any action runs.
func (s *Service) prepare(sc *syncScope) {
	if sc.links.Email == "" && sc.invoice != nil {
		sc.links.Email = sc.invoice.CustomerEmail
	}

	switch sc.kind {
	case KindTrialStart:
		sc.invoiceStatus = invoices.StatusTrialing
		sc.dealStage = s.hubspot.DealStageTrial
		sc.dealAmountMinor = subscriptionAmountMinor(sc.sub)
	case KindActivation:
		sc.invoiceStatus = invoices.StatusPaid
		sc.dealStage = s.hubspot.DealStageActive
		if sc.invoice != nil {
			sc.dealAmountMinor = sc.invoice.AmountPaid
		}
	case KindRenewal:
		sc.invoiceStatus = invoices.StatusPaid
	case KindProration:
		sc.invoiceStatus = invoices.StatusProrationPaid
	case KindPlanChange:
		sc.links.PriceID = itemPriceID(sc.sub)
		sc.links.ProductID = itemProductID(sc.sub)
		if item := firstItem(sc.sub); item != nil && item.Price != nil && item.Price.Nickname != "" {
			sc.links.ProductName = item.Price.Nickname
		}
	}
}

func (s *Service) execute(ctx context.Context, sc *syncScope, action Action) error {
	switch action {
	case ActionResolveContact:
		return s.resolveContact(ctx, sc)
	case ActionResolveCompany:
		return s.resolveCompany(ctx, sc)
	case ActionStampLinkage:
		return s.stampLinkage(ctx, sc)
	case ActionSyncDeal:
		return s.syncDeal(ctx, sc)
	case ActionPatchDealActive:
		return s.patchDealActive(ctx, sc)
	case ActionPatchDealPlan:
		return s.patchDealPlan(ctx, sc)
	case ActionUpsertLedger:
		return s.upsertLedger(ctx, sc)
	case ActionPatchLedgerName:
		return s.patchLedgerName(ctx, sc)
	case ActionPatchLedgerPeriod:
		return s.patchLedgerPeriod(ctx, sc)
	case ActionMaterializeInvoice:
		return s.materializeInvoice(ctx, sc)
	case ActionMarkContactTrial:
		return s.markContact(ctx, sc, propTrialActive)
	case ActionMarkContactReminder:
		return s.markContact(ctx, sc, propTrialReminderSent)
	default:
		return pkgerrors.New(pkgerrors.CodeInternal, "unknown transition action")
	}
}

func (s *Service) resolveContact(ctx context.Context, sc *syncScope) error {
	ref, err := s.directory.ResolveContact(ctx, sc.token, sc.links.Email)
	if err != nil {
		return err
	}
	sc.contact = ref
	if sc.links.ContactID == "" {
		sc.links.ContactID = ref.ID
	}
	return nil
}

func (s *Service) resolveCompany(ctx context.Context, sc *syncScope) error {
	if !sc.links.IsCompanyPayer() || sc.links.CompanyID != "" {
		return nil
	}
	input := directory.CompanyInput{
		Name:      sc.links.Company,
		Email:     sc.links.Email,
		ContactID: sc.links.ContactID,
	}
	if sc.contact != nil {
		input.Address = sc.contact.Address
		input.City = sc.contact.City
		input.Zip = sc.contact.Zip
		input.State = sc.contact.State
		input.Country = sc.contact.Country
	}
	ref, err := s.directory.ResolveOrCreateCompany(ctx, sc.token, input)
	if err != nil {
		return err
	}
	sc.links.CompanyID = ref.ID
	return nil
}

func (s *Service) stampLinkage(ctx context.Context, sc *syncScope) error {
	updated, err := s.stripe.UpdateSubscriptionMetadata(ctx, sc.sub.ID, sc.links.ToMetadata())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp linkage metadata")
	}
	if updated != nil && updated.Metadata != nil {
		sc.sub.Metadata = updated.Metadata
	}
	return nil
}

// syncDeal creates the pipeline deal, or patches its stage when the
// linkage already names one (a retried event, or a trial converting).
func (s *Service) syncDeal(ctx context.Context, sc *syncScope) error {
	if sc.links.HasDeal() {
		stage := sc.dealStage
		return s.deals.Patch(ctx, sc.token, sc.links.DealID, deals.PatchInput{Stage: &stage})
	}

	id, err := s.deals.Create(ctx, sc.token, deals.CreateInput{
		BillToName:  billToName(sc.links),
		ProductName: sc.links.ProductName,
		AmountMinor: sc.dealAmountMinor,
		Stage:       sc.dealStage,
		CloseDate:   time.Now(),
		ContactID:   sc.links.ContactID,
		CompanyID:   sc.links.CompanyID,
	})
	if err != nil {
		return err
	}
	sc.links.DealID = id

	// The id must survive this process dying before the sequence finishes,
	// so it is stamped the moment the deal exists.
	if _, err := s.stripe.UpdateSubscriptionMetadata(ctx, sc.sub.ID, sc.links.ToMetadata()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp deal id")
	}
	return nil
}

func (s *Service) patchDealActive(ctx context.Context, sc *syncScope) error {
	if !sc.links.HasDeal() {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no deal linked for trial conversion")
	}
	stage := s.hubspot.DealStageActive
	return s.deals.Patch(ctx, sc.token, sc.links.DealID, deals.PatchInput{Stage: &stage})
}

func (s *Service) patchDealPlan(ctx context.Context, sc *syncScope) error {
	if !sc.links.HasDeal() {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no deal linked for plan change")
	}
	amount := subscriptionAmountMinor(sc.sub)
	name := deals.Name(billToName(sc.links), sc.links.ProductName)
	return s.deals.Patch(ctx, sc.token, sc.links.DealID, deals.PatchInput{
		AmountMinor: &amount,
		Name:        &name,
	})
}

func (s *Service) upsertLedger(ctx context.Context, sc *syncScope) error {
	var periodEnd time.Time
	if item := firstItem(sc.sub); item != nil && item.CurrentPeriodEnd != 0 {
		periodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
	}
	return s.ledger.Upsert(ctx, sc.token, sc.ledgerKey(), hubdbledger.Fields{
		ContactEmail:     sc.links.Email,
		SubscriptionName: sc.links.ProductName,
		Status:           sc.plan.LedgerStatus,
		CurrentPeriodEnd: periodEnd,
	})
}

func (s *Service) patchLedgerName(ctx context.Context, sc *syncScope) error {
	if !sc.links.HasContact() {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no contact linked for ledger rename")
	}
	row, err := s.ledger.Find(ctx, sc.token, sc.ledgerKey())
	if err != nil {
		return err
	}
	if row == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no ledger row for subscription")
	}

	periodEnd := row.CurrentPeriodEnd
	if item := firstItem(sc.sub); item != nil && item.CurrentPeriodEnd != 0 {
		periodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
	}
	email := row.ContactEmail
	if email == "" {
		email = sc.links.Email
	}
	return s.ledger.Upsert(ctx, sc.token, sc.ledgerKey(), hubdbledger.Fields{
		ContactEmail:     email,
		SubscriptionName: sc.links.ProductName,
		Status:           row.Status,
		CurrentPeriodEnd: periodEnd,
	})
}

// patchLedgerPeriod advances only current_period_end. Steady renewals use
// this instead of a full upsert so nothing else on the row is rewritten.
func (s *Service) patchLedgerPeriod(ctx context.Context, sc *syncScope) error {
	item := firstItem(sc.sub)
	if item == nil || item.CurrentPeriodEnd == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription has no current period end")
	}
	periodEnd := time.Unix(item.CurrentPeriodEnd, 0).UTC()
	return s.ledger.PatchPeriodEnd(ctx, sc.token, sc.ledgerKey(), periodEnd)
}

func (s *Service) materializeInvoice(ctx context.Context, sc *syncScope) error {
	issueYear := time.Now().UTC().Year()
	if sc.invoice != nil && sc.invoice.Created != 0 {
		issueYear = time.Unix(sc.invoice.Created, 0).UTC().Year()
	}
	number, err := s.numbering.Next(ctx, sc.token, sc.links.PortalID, issueYear)
	if err != nil {
		return err
	}
	sc.number = number

	var intent invoices.Intent
	if sc.kind == KindTrialStart {
		intent = trialIntent(sc, s.seller)
	} else {
		intent = paidIntent(sc, sc.invoiceStatus, s.seller)
	}

	_, err = s.invoices.Materialize(ctx, sc.token, intent)
	return err
}

// markContact stamps the trial flag (or reminder flag) plus the formatted
// trial end date and product name onto the contact.
func (s *Service) markContact(ctx context.Context, sc *syncScope, flag string) error {
	if !sc.links.HasContact() {
		ref, err := s.directory.ResolveContact(ctx, sc.token, sc.links.Email)
		if err != nil {
			return err
		}
		sc.links.ContactID = ref.ID
	}
	props := map[string]string{flag: "true"}
	if sc.sub.TrialEnd != 0 {
		props[propTrialEndDate] = time.Unix(sc.sub.TrialEnd, 0).UTC().Format(contactDateLayout)
	}
	if sc.links.ProductName != "" {
		props[propTrialProductName] = sc.links.ProductName
	}
	return s.directory.PatchContact(ctx, sc.token, sc.links.ContactID, props)
}

func (s *Service) finish(ctx context.Context, event *stripe.Event, report *SyncReport) error {
	if !report.Failed() {
		s.metrics.IncProcessed(string(event.Type))
		s.logInfo(ctx, "webhook event processed")
		return nil
	}

	s.metrics.IncFailed(string(event.Type))
	if s.deadLetter != nil {
		attrs := map[string]string{
			"event_id":   report.EventID,
			"event_type": report.EventType,
			"kind":       report.Kind,
		}
		if err := s.deadLetter.PublishDeadLetter(ctx, report, attrs); err != nil {
			s.logError(ctx, "publish dead-letter report", err)
		}
	}
	s.logError(ctx, "webhook event processing incomplete", report.Err())
	return report.Err()
}

// fail reports a single-step failure that happened before the transition
// could start.
func (s *Service) fail(ctx context.Context, event *stripe.Event, kind Kind, step string, err error) error {
	report := NewSyncReport(event.ID, string(event.Type), kind)
	report.Record(step, err)
	return s.finish(ctx, event, report)
}

func (s *Service) logInfo(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Info(ctx, msg)
	}
}

func (s *Service) logWarn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}

func (s *Service) logError(ctx context.Context, msg string, err error) {
	if s.logg != nil {
		s.logg.Error(ctx, msg, err)
	}
}

func decodeSubscription(event *stripe.Event) (*stripe.Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
	}
	return &sub, nil
}

func decodeInvoice(event *stripe.Event) (*stripe.Invoice, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode invoice event")
	}
	return &inv, nil
}

func decodePaymentIntent(event *stripe.Event) (*stripe.PaymentIntent, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode payment intent event")
	}
	return &pi, nil
}

// invoiceSubscriptionID digs the subscription id out of the invoice
// payload, tolerating both the flat field and the parent envelope newer
// API versions use.
func invoiceSubscriptionID(event *stripe.Event) string {
	if id := event.GetObjectValue("subscription"); id != "" {
		return id
	}
	return event.GetObjectValue("parent", "subscription_details", "subscription")
}
