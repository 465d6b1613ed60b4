package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stripe/stripe-go/v84"

	stripewebhook "github.com/hubbridge/hubbridge-backend/internal/webhooks/stripe"
	"github.com/hubbridge/hubbridge-backend/pkg/metrics"
)

func TestStripeWebhook_SuccessAndIdempotent(t *testing.T) {
	payload, header := buildSignedEvent(t)
	service := newFakeStripeWebhookService()
	guard, err := stripewebhook.NewIdempotencyGuard(newInMemoryStore(), time.Minute, stripewebhook.GuardScope)
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	reg := prometheus.NewRegistry()
	wm := metrics.NewWebhookMetrics(reg)
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, guard, wm, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	awaitSignal(t, service.done, "event handling")
	if service.callCount() != 1 {
		t.Fatalf("expected service called once, got %d", service.callCount())
	}

	// Replay the same delivery
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req2.Header.Set("Stripe-Signature", header)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d (%s)", rec2.Code, rec2.Body.String())
	}
	if service.callCount() != 1 {
		t.Fatalf("expected duplicate not processed, call count %d", service.callCount())
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "webhook_events_duplicate" {
			for _, m := range mf.GetMetric() {
				if m.GetCounter().GetValue() == 1 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Fatal("duplicate delivery not counted")
	}
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t)
	service := newFakeStripeWebhookService()
	guard, err := stripewebhook.NewIdempotencyGuard(newInMemoryStore(), time.Minute, stripewebhook.GuardScope)
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, guard, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=invalid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for invalid signature, got %d", rec.Code)
	}
	if service.callCount() != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
}

func TestStripeWebhook_AcksBeforeSyncCompletes(t *testing.T) {
	payload, header := buildSignedEvent(t)
	service := newFakeStripeWebhookService()
	service.block = make(chan struct{})
	guard, err := stripewebhook.NewIdempotencyGuard(newInMemoryStore(), time.Minute, stripewebhook.GuardScope)
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, guard, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// The handler returned while the sync is still held up; the delivery
	// must already be acknowledged.
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 while sync in flight, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.callCount() != 0 {
		t.Fatalf("sync finished before ack could be observed: %d calls", service.callCount())
	}

	close(service.block)
	awaitSignal(t, service.done, "event handling")
	if service.callCount() != 1 {
		t.Fatalf("expected one handled event, got %d", service.callCount())
	}
}

func TestStripeWebhook_FailureReleasesIdempotencyMark(t *testing.T) {
	payload, header := buildSignedEvent(t)
	service := newFakeStripeWebhookService()
	service.setErr(errors.New("sync broke"))
	store := newInMemoryStore()
	guard, err := stripewebhook.NewIdempotencyGuard(store, time.Minute, stripewebhook.GuardScope)
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, guard, nil, nil)

	// The delivery is acknowledged regardless of the sync outcome.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 despite sync failure, got %d (%s)", rec.Code, rec.Body.String())
	}
	awaitSignal(t, service.done, "event handling")
	awaitSignal(t, store.deletes, "mark release")

	// An operator resends the event; the dropped mark must let it through.
	service.setErr(nil)
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req2.Header.Set("Stripe-Signature", header)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on resend, got %d (%s)", rec2.Code, rec2.Body.String())
	}
	awaitSignal(t, service.done, "resend handling")
	if service.callCount() != 2 {
		t.Fatalf("expected resend processed, call count %d", service.callCount())
	}
}

func buildSignedEvent(t *testing.T) ([]byte, string) {
	subscription := &stripe.Subscription{
		ID:     "sub_" + uuid.NewString(),
		Status: stripe.SubscriptionStatusTrialing,
		Metadata: map[string]string{
			"hsPortalId":   "12345",
			"email":        "ada@acme.com",
			"full_name":    "Ada Lovelace",
			"product_name": "Scale Plan",
			"priceId":      "price_1",
			"productId":    "prod_1",
		},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{
					CurrentPeriodStart: 1,
					CurrentPeriodEnd:   2,
					Price: &stripe.Price{
						ID: "price_1",
					},
				},
			},
		},
	}
	rawSub, err := json.Marshal(subscription)
	if err != nil {
		t.Fatalf("marshal subscription: %v", err)
	}
	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventTypeCustomerSubscriptionCreated,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data: &stripe.EventData{
			Raw: rawSub,
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	header := buildStripeSignatureHeader(payload, "whsec_test", time.Now().Unix())
	return payload, header
}

func buildStripeSignatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type fakeStripeWebhookService struct {
	mu    sync.Mutex
	calls int
	err   error

	// block, when set, holds HandleEvent until closed; done receives a
	// signal after every completed call.
	block chan struct{}
	done  chan struct{}
}

func newFakeStripeWebhookService() *fakeStripeWebhookService {
	return &fakeStripeWebhookService{done: make(chan struct{}, 8)}
}

func (f *fakeStripeWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	f.done <- struct{}{}
	return err
}

func (f *fakeStripeWebhookService) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStripeWebhookService) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func awaitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

type fakeSigningClient struct {
	secret string
}

func (c *fakeSigningClient) SigningSecret() string {
	return c.secret
}

type inMemoryStore struct {
	mu      sync.Mutex
	data    map[string]string
	deletes chan struct{}
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{
		data:    make(map[string]string),
		deletes: make(chan struct{}, 8),
	}
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("hb:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
		s.deletes <- struct{}{}
	}
	return nil
}
