package checkout

// SetupIntentRequest optionally scopes the SetupIntent to an existing
// customer (adding a card to an active subscription).
type SetupIntentRequest struct {
	CustomerID string `json:"customerId" validate:"omitempty"`
}

// SetupIntentResponse hands the client secret back to the browser.
type SetupIntentResponse struct {
	ClientSecret string `json:"clientSecret"`
}

// TrialRequest finalizes a trial checkout after the SetupIntent confirmed.
type TrialRequest struct {
	Email           string `json:"email" validate:"required,email"`
	FirstName       string `json:"firstName" validate:"omitempty,max=100"`
	LastName        string `json:"lastName" validate:"omitempty,max=100"`
	FullName        string `json:"fullName" validate:"omitempty,max=200"`
	CompanyName     string `json:"companyName" validate:"omitempty,max=200"`
	PayerType       string `json:"payerType" validate:"omitempty,oneof=individual company"`
	ProductID       string `json:"stripeProductId" validate:"required"`
	PaymentMethodID string `json:"paymentMethodId" validate:"required"`
	Currency        string `json:"currency" validate:"omitempty,len=3"`
	TrialPeriodDays int64  `json:"trialPeriodDays" validate:"required,min=1,max=730"`
	PortalID        string `json:"hsPortalId" validate:"required,numeric"`
}

// SubscriptionRequest is the pay-now variant of TrialRequest.
type SubscriptionRequest struct {
	Email           string `json:"email" validate:"required,email"`
	FirstName       string `json:"firstName" validate:"omitempty,max=100"`
	LastName        string `json:"lastName" validate:"omitempty,max=100"`
	FullName        string `json:"fullName" validate:"omitempty,max=200"`
	CompanyName     string `json:"companyName" validate:"omitempty,max=200"`
	PayerType       string `json:"payerType" validate:"omitempty,oneof=individual company"`
	ProductID       string `json:"stripeProductId" validate:"required"`
	PaymentMethodID string `json:"paymentMethodId" validate:"required"`
	Currency        string `json:"currency" validate:"omitempty,len=3"`
	PortalID        string `json:"hsPortalId" validate:"required,numeric"`
}

// SubscriptionResponse reports the created subscription and, for trials,
// the hosted URL of the $0 receipt invoice.
type SubscriptionResponse struct {
	SubscriptionID  string `json:"subscriptionId"`
	CustomerID      string `json:"customerId"`
	Status          string `json:"status"`
	LatestInvoiceID string `json:"latestInvoiceId,omitempty"`
	TrialEnd        string `json:"trialEnd,omitempty"`
	TrialInvoiceURL string `json:"trialInvoiceUrl,omitempty"`
}

// PaymentIntentRequest starts a one-time purchase. Amount comes from the
// product's one-time price unless a display amount overrides it.
type PaymentIntentRequest struct {
	Email       string `json:"email" validate:"required,email"`
	FirstName   string `json:"firstName" validate:"omitempty,max=100"`
	LastName    string `json:"lastName" validate:"omitempty,max=100"`
	FullName    string `json:"fullName" validate:"omitempty,max=200"`
	CompanyName string `json:"companyName" validate:"omitempty,max=200"`
	PayerType   string `json:"payerType" validate:"omitempty,oneof=individual company"`
	ProductID   string `json:"stripeProductId" validate:"required"`
	Currency    string `json:"currency" validate:"omitempty,len=3"`
	PortalID    string `json:"hsPortalId" validate:"required,numeric"`

	// Amount is an optional human-entered major-unit amount ("2,366.85").
	// When set it replaces the price's unit amount.
	Amount string `json:"amount" validate:"omitempty,max=20"`
}

// PaymentIntentResponse hands the client secret back to the browser.
type PaymentIntentResponse struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
	AmountMinor     int64  `json:"amount"`
	Currency        string `json:"currency"`
}
