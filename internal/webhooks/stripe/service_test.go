package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/hubbridge/hubbridge-backend/internal/deals"
	"github.com/hubbridge/hubbridge-backend/internal/directory"
	"github.com/hubbridge/hubbridge-backend/internal/hubdbledger"
	"github.com/hubbridge/hubbridge-backend/internal/invoices"
	"github.com/hubbridge/hubbridge-backend/internal/numbering"
	"github.com/hubbridge/hubbridge-backend/pkg/config"
)

type stubTenants struct {
	token string
	err   error
}

func (s *stubTenants) AccessToken(_ context.Context, _ string) (string, error) {
	return s.token, s.err
}

type stubDirectory struct {
	contact      *directory.ContactRef
	contactErr   error
	resolveCalls int

	company       *directory.CompanyRef
	companyErr    error
	companyInputs []directory.CompanyInput

	patchedID    string
	patchedProps map[string]string
	patchErr     error
}

func (s *stubDirectory) ResolveContact(_ context.Context, _, _ string) (*directory.ContactRef, error) {
	s.resolveCalls++
	if s.contactErr != nil {
		return nil, s.contactErr
	}
	return s.contact, nil
}

func (s *stubDirectory) ResolveOrCreateCompany(_ context.Context, _ string, input directory.CompanyInput) (*directory.CompanyRef, error) {
	s.companyInputs = append(s.companyInputs, input)
	if s.companyErr != nil {
		return nil, s.companyErr
	}
	return s.company, nil
}

func (s *stubDirectory) PatchContact(_ context.Context, _, contactID string, props map[string]string) error {
	s.patchedID = contactID
	s.patchedProps = props
	return s.patchErr
}

type stubNumbering struct {
	calls int
	err   error
}

func (s *stubNumbering) Next(_ context.Context, _, _ string, year int) (numbering.Number, error) {
	s.calls++
	if s.err != nil {
		return numbering.Number{}, s.err
	}
	return numbering.Number{Year: year, Sequence: int64(1000 + s.calls)}, nil
}

type dealPatch struct {
	id    string
	input deals.PatchInput
}

type stubDeals struct {
	createdID string
	creates   []deals.CreateInput
	createErr error
	patches   []dealPatch
	patchErr  error
}

func (s *stubDeals) Create(_ context.Context, _ string, input deals.CreateInput) (string, error) {
	s.creates = append(s.creates, input)
	if s.createErr != nil {
		return "", s.createErr
	}
	return s.createdID, nil
}

func (s *stubDeals) Patch(_ context.Context, _, dealID string, input deals.PatchInput) error {
	s.patches = append(s.patches, dealPatch{id: dealID, input: input})
	return s.patchErr
}

type ledgerUpsert struct {
	key    hubdbledger.Key
	fields hubdbledger.Fields
}

type ledgerPeriodPatch struct {
	key       hubdbledger.Key
	periodEnd time.Time
}

type stubLedger struct {
	row           *hubdbledger.Row
	findErr       error
	upserts       []ledgerUpsert
	upsertErr     error
	periodPatches []ledgerPeriodPatch
	patchErr      error
}

func (s *stubLedger) Find(_ context.Context, _ string, _ hubdbledger.Key) (*hubdbledger.Row, error) {
	return s.row, s.findErr
}

func (s *stubLedger) Upsert(_ context.Context, _ string, key hubdbledger.Key, fields hubdbledger.Fields) error {
	s.upserts = append(s.upserts, ledgerUpsert{key: key, fields: fields})
	return s.upsertErr
}

func (s *stubLedger) PatchPeriodEnd(_ context.Context, _ string, key hubdbledger.Key, periodEnd time.Time) error {
	s.periodPatches = append(s.periodPatches, ledgerPeriodPatch{key: key, periodEnd: periodEnd})
	return s.patchErr
}

type stubInvoices struct {
	intents []invoices.Intent
	err     error
}

func (s *stubInvoices) Materialize(_ context.Context, _ string, intent invoices.Intent) (*invoices.Result, error) {
	s.intents = append(s.intents, intent)
	if s.err != nil {
		return nil, s.err
	}
	return &invoices.Result{InvoiceObjectID: "inv-obj"}, nil
}

type stubBackend struct {
	sub       *stripe.Subscription
	getSubErr error

	metadataUpdates []map[string]string
	updateErr       error

	pi       *stripe.PaymentIntent
	getPIErr error
}

func (s *stubBackend) GetSubscription(_ context.Context, _ string) (*stripe.Subscription, error) {
	return s.sub, s.getSubErr
}

func (s *stubBackend) UpdateSubscriptionMetadata(_ context.Context, _ string, metadata map[string]string) (*stripe.Subscription, error) {
	s.metadataUpdates = append(s.metadataUpdates, metadata)
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return &stripe.Subscription{Metadata: metadata}, nil
}

func (s *stubBackend) GetPaymentIntent(_ context.Context, _ string) (*stripe.PaymentIntent, error) {
	return s.pi, s.getPIErr
}

type stubDeadLetter struct {
	payloads []any
	attrs    []map[string]string
}

func (s *stubDeadLetter) PublishDeadLetter(_ context.Context, payload any, attrs map[string]string) error {
	s.payloads = append(s.payloads, payload)
	s.attrs = append(s.attrs, attrs)
	return nil
}

type testDeps struct {
	tenants   *stubTenants
	directory *stubDirectory
	numbering *stubNumbering
	deals     *stubDeals
	ledger    *stubLedger
	invoices  *stubInvoices
	backend   *stubBackend
	dl        *stubDeadLetter
}

func newTestDeps() *testDeps {
	return &testDeps{
		tenants: &stubTenants{token: "tok"},
		directory: &stubDirectory{
			contact: &directory.ContactRef{ID: "101", City: "Austin", State: "TX", Country: "US"},
			company: &directory.CompanyRef{ID: "202", Created: true},
		},
		numbering: &stubNumbering{},
		deals:     &stubDeals{createdID: "303"},
		ledger:    &stubLedger{},
		invoices:  &stubInvoices{},
		backend:   &stubBackend{},
		dl:        &stubDeadLetter{},
	}
}

func (d *testDeps) service(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Tenants:    d.tenants,
		Directory:  d.directory,
		Numbering:  d.numbering,
		Deals:      d.deals,
		Ledger:     d.ledger,
		Invoices:   d.invoices,
		Stripe:     d.backend,
		DeadLetter: d.dl,
		HubSpot: config.HubSpotConfig{
			DealStageTrial:    "stage-trial",
			DealStageActive:   "stage-active",
			DealStagePurchase: "stage-purchase",
		},
		Seller: config.SellerConfig{Name: "HubBridge Inc"},
	})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	return svc
}

func subscriptionEvent(t *testing.T, eventType stripe.EventType, sub *stripe.Subscription) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(sub)
	if err != nil {
		t.Fatalf("marshal subscription: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_" + string(eventType),
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

func invoiceEvent(t *testing.T, inv *stripe.Invoice, subID string) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(inv)
	if err != nil {
		t.Fatalf("marshal invoice: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_invoice",
		Type: stripe.EventTypeInvoicePaymentSucceeded,
		Data: &stripe.EventData{
			Raw:    raw,
			Object: map[string]interface{}{"subscription": subID},
		},
	}
}

func trialSubscription() *stripe.Subscription {
	return &stripe.Subscription{
		ID:       "sub_1",
		Status:   stripe.SubscriptionStatusTrialing,
		Customer: &stripe.Customer{ID: "cus_1"},
		TrialEnd: 1773576000,
		Metadata: map[string]string{
			"hsPortalId":   "12345",
			"email":        "buyer@acme.com",
			"full_name":    "Pat Buyer",
			"company":      "Acme",
			"payer_type":   "company",
			"product_name": "Pro Plan",
			"priceId":      "price_1",
			"productId":    "prod_1",
		},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				Price:              &stripe.Price{ID: "price_1", UnitAmount: 2500},
				Quantity:           1,
				CurrentPeriodStart: 1771000000,
				CurrentPeriodEnd:   1773576000,
			}},
		},
	}
}

func TestTrialStartSequence(t *testing.T) {
	deps := newTestDeps()
	svc := deps.service(t)

	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionCreated, trialSubscription())
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if deps.directory.resolveCalls != 1 {
		t.Fatalf("expected one contact resolve, got %d", deps.directory.resolveCalls)
	}
	if len(deps.directory.companyInputs) != 1 {
		t.Fatalf("expected one company resolve, got %d", len(deps.directory.companyInputs))
	}

	if len(deps.deals.creates) != 1 {
		t.Fatalf("expected one deal, got %+v", deps.deals.creates)
	}
	deal := deps.deals.creates[0]
	if deal.Stage != "stage-trial" || deal.ContactID != "101" || deal.CompanyID != "202" {
		t.Fatalf("unexpected deal input %+v", deal)
	}
	if deal.BillToName != "Acme" || deal.AmountMinor != 2500 {
		t.Fatalf("unexpected deal identity %+v", deal)
	}

	if len(deps.backend.metadataUpdates) < 2 {
		t.Fatalf("expected linkage stamped before and after deal creation, got %d updates", len(deps.backend.metadataUpdates))
	}
	last := deps.backend.metadataUpdates[len(deps.backend.metadataUpdates)-1]
	if last["hsContactId"] != "101" || last["hsCompanyId"] != "202" || last["hsDealId"] != "303" {
		t.Fatalf("resolved ids not stamped: %v", last)
	}

	if len(deps.ledger.upserts) != 1 {
		t.Fatalf("expected one ledger upsert, got %+v", deps.ledger.upserts)
	}
	upsert := deps.ledger.upserts[0]
	if upsert.key != (hubdbledger.Key{ContactID: "101", CustomerID: "cus_1", SubscriptionID: "sub_1"}) {
		t.Fatalf("unexpected ledger key %+v", upsert.key)
	}
	if upsert.fields.Status != hubdbledger.StatusTrialing {
		t.Fatalf("expected trialing status, got %q", upsert.fields.Status)
	}

	if len(deps.invoices.intents) != 1 {
		t.Fatalf("expected one invoice, got %d", len(deps.invoices.intents))
	}
	intent := deps.invoices.intents[0]
	if intent.Status != invoices.StatusTrialing || intent.TotalMinor != 0 {
		t.Fatalf("expected zero-amount trial invoice, got %+v", intent)
	}
	if intent.Number.Sequence == 0 {
		t.Fatal("expected allocated invoice number")
	}

	if deps.directory.patchedID != "101" || deps.directory.patchedProps[propTrialActive] != "true" {
		t.Fatalf("expected trial flag on contact, got id=%q props=%v", deps.directory.patchedID, deps.directory.patchedProps)
	}
}

func TestSubscriptionCreatedActiveIsLogOnly(t *testing.T) {
	deps := newTestDeps()
	svc := deps.service(t)

	sub := trialSubscription()
	sub.Status = stripe.SubscriptionStatusActive
	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionCreated, sub)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(deps.deals.creates) != 0 || len(deps.invoices.intents) != 0 || len(deps.ledger.upserts) != 0 {
		t.Fatal("expected no CRM mutations for created-active event")
	}
}

func renewalSubscription() *stripe.Subscription {
	sub := trialSubscription()
	sub.Status = stripe.SubscriptionStatusActive
	sub.Metadata["hsContactId"] = "101"
	sub.Metadata["hsCompanyId"] = "202"
	sub.Metadata["hsDealId"] = "303"
	return sub
}

func paidInvoice(reason stripe.InvoiceBillingReason) *stripe.Invoice {
	return &stripe.Invoice{
		ID:            "in_1",
		BillingReason: reason,
		Customer:      &stripe.Customer{ID: "cus_1"},
		CustomerEmail: "buyer@acme.com",
		Created:       1773576000,
		Subtotal:      2500,
		Total:         2500,
		AmountPaid:    2500,
		Lines: &stripe.InvoiceLineItemList{
			Data: []*stripe.InvoiceLineItem{{
				Description: "Pro Plan",
				Quantity:    1,
				Amount:      2500,
				Period:      &stripe.Period{Start: 1773576000, End: 1776254400},
			}},
		},
	}
}

func TestRenewalAgainstTrialingLedgerPatchesDealAndInvoices(t *testing.T) {
	deps := newTestDeps()
	deps.backend.sub = renewalSubscription()
	deps.ledger.row = &hubdbledger.Row{ID: "r1", Status: hubdbledger.StatusTrialing}
	svc := deps.service(t)

	event := invoiceEvent(t, paidInvoice(stripe.InvoiceBillingReasonSubscriptionCycle), "sub_1")
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if len(deps.deals.patches) != 1 {
		t.Fatalf("expected deal stage patch, got %+v", deps.deals.patches)
	}
	patch := deps.deals.patches[0]
	if patch.id != "303" || patch.input.Stage == nil || *patch.input.Stage != "stage-active" {
		t.Fatalf("unexpected deal patch %+v", patch)
	}

	if len(deps.invoices.intents) != 1 || deps.invoices.intents[0].Status != invoices.StatusPaid {
		t.Fatalf("expected paid invoice, got %+v", deps.invoices.intents)
	}

	if len(deps.ledger.upserts) != 1 || deps.ledger.upserts[0].fields.Status != hubdbledger.StatusActive {
		t.Fatalf("expected ledger moved to active, got %+v", deps.ledger.upserts)
	}
}

func TestRenewalAgainstActiveLedgerSkipsDealPatch(t *testing.T) {
	deps := newTestDeps()
	deps.backend.sub = renewalSubscription()
	deps.ledger.row = &hubdbledger.Row{ID: "r1", Status: hubdbledger.StatusActive}
	svc := deps.service(t)

	event := invoiceEvent(t, paidInvoice(stripe.InvoiceBillingReasonSubscriptionCycle), "sub_1")
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if len(deps.deals.patches) != 0 {
		t.Fatalf("expected no deal patch for plain renewal, got %+v", deps.deals.patches)
	}
	if len(deps.invoices.intents) != 1 {
		t.Fatalf("expected renewal invoice, got %d", len(deps.invoices.intents))
	}
	if len(deps.ledger.upserts) != 0 {
		t.Fatalf("expected no full ledger rewrite for plain renewal, got %+v", deps.ledger.upserts)
	}
	if len(deps.ledger.periodPatches) != 1 {
		t.Fatalf("expected one period-end patch, got %+v", deps.ledger.periodPatches)
	}
	patch := deps.ledger.periodPatches[0]
	if patch.key != (hubdbledger.Key{ContactID: "101", CustomerID: "cus_1", SubscriptionID: "sub_1"}) {
		t.Fatalf("unexpected ledger key %+v", patch.key)
	}
	if want := time.Unix(1773576000, 0).UTC(); !patch.periodEnd.Equal(want) {
		t.Fatalf("expected period end %v, got %v", want, patch.periodEnd)
	}
}

func TestActivationPatchesExistingDealToActive(t *testing.T) {
	deps := newTestDeps()
	deps.backend.sub = renewalSubscription()
	svc := deps.service(t)

	event := invoiceEvent(t, paidInvoice(stripe.InvoiceBillingReasonSubscriptionCreate), "sub_1")
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	// Deal id already linked: sync patches the stage instead of creating.
	if len(deps.deals.creates) != 0 {
		t.Fatalf("expected no second deal, got %+v", deps.deals.creates)
	}
	if len(deps.deals.patches) != 1 || *deps.deals.patches[0].input.Stage != "stage-active" {
		t.Fatalf("expected stage patch to active, got %+v", deps.deals.patches)
	}
	if len(deps.ledger.upserts) != 1 || deps.ledger.upserts[0].fields.Status != hubdbledger.StatusActive {
		t.Fatalf("expected active ledger row, got %+v", deps.ledger.upserts)
	}
}

func TestProrationInvoicesWithoutDealOrLedger(t *testing.T) {
	deps := newTestDeps()
	deps.backend.sub = renewalSubscription()
	svc := deps.service(t)

	inv := paidInvoice(stripe.InvoiceBillingReasonSubscriptionUpdate)
	inv.Subtotal = 2500
	inv.Total = 2500
	inv.Lines = &stripe.InvoiceLineItemList{
		Data: []*stripe.InvoiceLineItem{
			{Description: "Unused time on Pro Plan", Quantity: 1, Amount: -1200},
			{Description: "Remaining time on Scale Plan", Quantity: 1, Amount: 3700},
		},
	}
	event := invoiceEvent(t, inv, "sub_1")
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if len(deps.deals.creates) != 0 || len(deps.deals.patches) != 0 {
		t.Fatal("expected no deal mutation for proration")
	}
	if len(deps.ledger.upserts) != 0 {
		t.Fatal("expected no ledger mutation for proration")
	}
	if len(deps.invoices.intents) != 1 {
		t.Fatalf("expected proration invoice, got %d", len(deps.invoices.intents))
	}
	intent := deps.invoices.intents[0]
	if intent.Status != invoices.StatusProrationPaid || len(intent.LineItems) != 2 {
		t.Fatalf("unexpected proration intent %+v", intent)
	}
	if intent.LineItems[0].AmountMinor != -1200 || intent.LineItems[1].AmountMinor != 3700 {
		t.Fatalf("expected credit and charge lines, got %+v", intent.LineItems)
	}
}

func TestPlanChangePatchesDealAndStampsMetadata(t *testing.T) {
	deps := newTestDeps()
	deps.ledger.row = &hubdbledger.Row{ID: "r1", Status: hubdbledger.StatusActive, ContactEmail: "buyer@acme.com"}
	svc := deps.service(t)

	sub := renewalSubscription()
	sub.Items.Data[0].Price = &stripe.Price{ID: "price_2", UnitAmount: 3700, Nickname: "Scale Plan"}
	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, sub)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if len(deps.deals.patches) != 1 {
		t.Fatalf("expected deal patch, got %+v", deps.deals.patches)
	}
	patch := deps.deals.patches[0]
	if patch.input.AmountMinor == nil || *patch.input.AmountMinor != 3700 {
		t.Fatalf("expected new amount patched, got %+v", patch.input)
	}
	if patch.input.Name == nil || *patch.input.Name != "Acme - Scale Plan" {
		t.Fatalf("expected renamed deal, got %+v", patch.input)
	}

	if len(deps.ledger.upserts) != 1 || deps.ledger.upserts[0].fields.SubscriptionName != "Scale Plan" {
		t.Fatalf("expected ledger renamed, got %+v", deps.ledger.upserts)
	}

	if len(deps.backend.metadataUpdates) != 1 {
		t.Fatalf("expected one metadata stamp, got %d", len(deps.backend.metadataUpdates))
	}
	stamped := deps.backend.metadataUpdates[0]
	if stamped["priceId"] != "price_2" || stamped["product_name"] != "Scale Plan" {
		t.Fatalf("new price not stamped: %v", stamped)
	}
}

func TestUpdatedWithoutPriceChangeIsNoop(t *testing.T) {
	deps := newTestDeps()
	svc := deps.service(t)

	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, renewalSubscription())
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(deps.deals.patches) != 0 || len(deps.backend.metadataUpdates) != 0 {
		t.Fatal("expected no mutations when the price did not change")
	}
}

func TestTrialWillEndMarksContact(t *testing.T) {
	deps := newTestDeps()
	svc := deps.service(t)

	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionTrialWillEnd, renewalSubscription())
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if deps.directory.patchedID != "101" {
		t.Fatalf("expected contact patched, got %q", deps.directory.patchedID)
	}
	props := deps.directory.patchedProps
	if props[propTrialReminderSent] != "true" || props[propTrialProductName] != "Pro Plan" {
		t.Fatalf("unexpected reminder props %v", props)
	}
	if props[propTrialEndDate] == "" {
		t.Fatalf("expected formatted trial end date, got %v", props)
	}
	if len(deps.deals.creates) != 0 || len(deps.invoices.intents) != 0 || len(deps.ledger.upserts) != 0 {
		t.Fatal("expected no deal/invoice/ledger mutation for the reminder")
	}
}

func TestStepFailureIsReportedAndDeadLettered(t *testing.T) {
	deps := newTestDeps()
	deps.invoices.err = errors.New("upload broke")
	svc := deps.service(t)

	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionCreated, trialSubscription())
	err := svc.HandleEvent(context.Background(), event)
	if err == nil {
		t.Fatal("expected error")
	}

	// Independent steps after the failed one still ran.
	if deps.directory.patchedProps[propTrialActive] != "true" {
		t.Fatal("expected trial flag still written after invoice failure")
	}

	if len(deps.dl.payloads) != 1 {
		t.Fatalf("expected dead-letter publish, got %d", len(deps.dl.payloads))
	}
	report, ok := deps.dl.payloads[0].(*SyncReport)
	if !ok {
		t.Fatalf("expected SyncReport payload, got %T", deps.dl.payloads[0])
	}
	var failed bool
	for _, step := range report.Steps {
		if step.Name == string(ActionMaterializeInvoice) && step.Error != "" {
			failed = true
		}
	}
	if !failed {
		t.Fatalf("expected invoice step failure in report, got %+v", report.Steps)
	}
}

func TestMissingPortalIDFailsEvent(t *testing.T) {
	deps := newTestDeps()
	svc := deps.service(t)

	sub := trialSubscription()
	delete(sub.Metadata, "hsPortalId")
	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionCreated, sub)
	if err := svc.HandleEvent(context.Background(), event); err == nil {
		t.Fatal("expected error for missing portal id")
	}
	if len(deps.dl.payloads) != 1 {
		t.Fatalf("expected dead-letter publish, got %d", len(deps.dl.payloads))
	}
}

func TestUnrecognizedPayerTypeFailsEvent(t *testing.T) {
	deps := newTestDeps()
	svc := deps.service(t)

	sub := trialSubscription()
	sub.Metadata["payer_type"] = "corporate"
	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionCreated, sub)
	if err := svc.HandleEvent(context.Background(), event); err == nil {
		t.Fatal("expected error for unrecognized payer type")
	}
	if deps.directory.resolveCalls != 0 {
		t.Fatalf("expected no CRM call for bad linkage, got %d", deps.directory.resolveCalls)
	}
	if len(deps.dl.payloads) != 1 {
		t.Fatalf("expected dead-letter publish, got %d", len(deps.dl.payloads))
	}
}

func TestMissingEmailFailsEvent(t *testing.T) {
	deps := newTestDeps()
	svc := deps.service(t)

	sub := trialSubscription()
	delete(sub.Metadata, "email")
	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionCreated, sub)
	if err := svc.HandleEvent(context.Background(), event); err == nil {
		t.Fatal("expected error for missing email")
	}
	if len(deps.ledger.upserts) != 0 || len(deps.invoices.intents) != 0 {
		t.Fatal("expected no mutations for event without an email")
	}
}

func TestContactResolutionFailureStopsSequence(t *testing.T) {
	deps := newTestDeps()
	deps.directory.contactErr = errors.New("search broke")
	svc := deps.service(t)

	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionCreated, trialSubscription())
	if err := svc.HandleEvent(context.Background(), event); err == nil {
		t.Fatal("expected error")
	}
	if len(deps.deals.creates) != 0 || len(deps.invoices.intents) != 0 || len(deps.ledger.upserts) != 0 {
		t.Fatal("expected no mutations after contact resolution failure")
	}
}

func purchaseIntent() *stripe.PaymentIntent {
	return &stripe.PaymentIntent{
		ID:             "pi_1",
		Amount:         5000,
		AmountReceived: 5000,
		Customer:       &stripe.Customer{ID: "cus_9"},
		Metadata: map[string]string{
			"category":    "purchase",
			"hsPortalId":  "12345",
			"payerType":   "individual",
			"fullName":    "Pat Buyer",
			"productName": "Field Guide",
		},
		LatestCharge: &stripe.Charge{
			BillingDetails: &stripe.ChargeBillingDetails{Email: "pat@example.org"},
		},
	}
}

func TestOneTimePurchaseSequence(t *testing.T) {
	deps := newTestDeps()
	deps.backend.pi = purchaseIntent()
	svc := deps.service(t)

	raw, _ := json.Marshal(deps.backend.pi)
	event := &stripe.Event{
		ID:   "evt_pi",
		Type: stripe.EventTypePaymentIntentSucceeded,
		Data: &stripe.EventData{Raw: raw},
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if len(deps.deals.creates) != 1 {
		t.Fatalf("expected one deal, got %+v", deps.deals.creates)
	}
	deal := deps.deals.creates[0]
	if deal.Stage != "stage-purchase" || deal.AmountMinor != 5000 || deal.BillToName != "Pat Buyer" {
		t.Fatalf("unexpected deal %+v", deal)
	}

	if len(deps.invoices.intents) != 1 {
		t.Fatalf("expected one invoice, got %d", len(deps.invoices.intents))
	}
	intent := deps.invoices.intents[0]
	if intent.Status != invoices.StatusPaid || intent.TotalMinor != 5000 || intent.PaymentID != "pi_1" {
		t.Fatalf("unexpected intent %+v", intent)
	}

	if len(deps.ledger.upserts) != 0 || len(deps.backend.metadataUpdates) != 0 {
		t.Fatal("expected no ledger row or metadata stamp for a one-time charge")
	}
}

func TestPaymentIntentWithoutPurchaseCategoryIgnored(t *testing.T) {
	deps := newTestDeps()
	svc := deps.service(t)

	pi := purchaseIntent()
	pi.Metadata["category"] = "donation"
	raw, _ := json.Marshal(pi)
	event := &stripe.Event{
		ID:   "evt_pi",
		Type: stripe.EventTypePaymentIntentSucceeded,
		Data: &stripe.EventData{Raw: raw},
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(deps.deals.creates) != 0 || len(deps.invoices.intents) != 0 {
		t.Fatal("expected no mutations for non-purchase category")
	}
}

func TestUnrecognizedEventTypeIgnored(t *testing.T) {
	deps := newTestDeps()
	svc := deps.service(t)

	event := &stripe.Event{
		ID:   "evt_x",
		Type: stripe.EventType("charge.refunded"),
		Data: &stripe.EventData{Raw: json.RawMessage(`{}`)},
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(deps.deals.creates) != 0 || len(deps.invoices.intents) != 0 {
		t.Fatal("expected allow-list to drop unrecognized events")
	}
}
