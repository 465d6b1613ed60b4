// Package linkage gives typed access to the metadata map carried on Stripe
// customers and subscriptions. The map is the only durable channel both
// directions of the integration can read, so resolved CRM ids are written
// back into it the moment they exist.
package linkage

import (
	"fmt"
	"strings"

	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
)

// Metadata keys stamped onto Stripe objects.
const (
	keyPortalID    = "hsPortalId"
	keyContactID   = "hsContactId"
	keyCompanyID   = "hsCompanyId"
	keyDealID      = "hsDealId"
	keyEmail       = "email"
	keyFullName    = "full_name"
	keyCompany     = "company"
	keyPayerType   = "payer_type"
	keyProductName = "product_name"
	keyPriceID     = "priceId"
	keyProductID   = "productId"
)

// PayerType tells whether the buyer checked out as a person or a business.
type PayerType string

const (
	PayerIndividual PayerType = "individual"
	PayerCompany    PayerType = "company"
)

// Links is the decoded sidecar: CRM linkage ids, billing identity, and
// product labeling.
type Links struct {
	PortalID  string
	ContactID string
	CompanyID string
	DealID    string

	Email     string
	FullName  string
	Company   string
	PayerType PayerType

	ProductName string
	PriceID     string
	ProductID   string
}

// FromMetadata decodes the sidecar map. Missing keys decode to zero values.
func FromMetadata(meta map[string]string) Links {
	get := func(key string) string {
		return strings.TrimSpace(meta[key])
	}
	return Links{
		PortalID:    get(keyPortalID),
		ContactID:   get(keyContactID),
		CompanyID:   get(keyCompanyID),
		DealID:      get(keyDealID),
		Email:       get(keyEmail),
		FullName:    get(keyFullName),
		Company:     get(keyCompany),
		PayerType:   PayerType(get(keyPayerType)),
		ProductName: get(keyProductName),
		PriceID:     get(keyPriceID),
		ProductID:   get(keyProductID),
	}
}

// ToMetadata encodes the sidecar for a Stripe update call. Empty fields are
// omitted so stamping new ids never blanks values another handler wrote.
func (l Links) ToMetadata() map[string]string {
	out := map[string]string{}
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set(keyPortalID, l.PortalID)
	set(keyContactID, l.ContactID)
	set(keyCompanyID, l.CompanyID)
	set(keyDealID, l.DealID)
	set(keyEmail, l.Email)
	set(keyFullName, l.FullName)
	set(keyCompany, l.Company)
	set(keyPayerType, string(l.PayerType))
	set(keyProductName, l.ProductName)
	set(keyPriceID, l.PriceID)
	set(keyProductID, l.ProductID)
	return out
}

// Validate rejects sidecars the sync cannot act on. An unrecognized payer
// type means the checkout stamped something this version does not
// understand, and without an email no contact can ever be resolved; both
// must surface as failures instead of silently skipping steps.
func (l Links) Validate() error {
	switch l.PayerType {
	case "", PayerIndividual, PayerCompany:
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unrecognized payer_type %q in metadata", l.PayerType))
	}
	if l.Email == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "email missing from metadata")
	}
	return nil
}

// IsCompanyPayer reports whether the buyer identified as a business.
func (l Links) IsCompanyPayer() bool {
	return l.PayerType == PayerCompany
}

// HasContact reports whether a CRM contact has already been resolved.
func (l Links) HasContact() bool {
	return l.ContactID != ""
}

// HasDeal reports whether a CRM deal has already been created.
func (l Links) HasDeal() bool {
	return l.DealID != ""
}

// IsPriceChange reports whether a subscription moved between two known
// prices. The first updated event a subscription ever sees has no prior
// price id recorded, which is not a change.
func IsPriceChange(oldPriceID, newPriceID string) bool {
	if oldPriceID == "" || newPriceID == "" {
		return false
	}
	return oldPriceID != newPriceID
}
