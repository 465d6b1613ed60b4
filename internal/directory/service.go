// Package directory resolves CRM contacts and companies for a billing
// identity. Contact lookups tolerate CRM eventual consistency with a bounded
// retry; company resolution is search-or-create keyed on name or email
// domain.
package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/hubbridge/hubbridge-backend/pkg/config"
	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
	"github.com/hubbridge/hubbridge-backend/pkg/hubspot"
	"github.com/hubbridge/hubbridge-backend/pkg/logger"
	"github.com/hubbridge/hubbridge-backend/pkg/retry"
)

// Consumer mailbox providers whose domains must never become a company's
// domain property.
var freeMailDomains = map[string]struct{}{
	"gmail.com":   {},
	"yahoo.com":   {},
	"outlook.com": {},
	"hotmail.com": {},
	"live.com":    {},
	"aol.com":     {},
	"icloud.com":  {},
	"me.com":      {},
	"gmx.com":     {},
	"mail.com":    {},
	"proton.me":   {},
	"zoho.com":    {},
	"pm.me":       {},
	"yandex.com":  {},
	"yandex.ru":   {},
}

var contactSearchProperties = []string{"hs_object_id", "address", "city", "zip", "state", "country"}

// ContactRef is a resolved CRM contact plus the address fields invoices
// print.
type ContactRef struct {
	ID      string
	Address string
	City    string
	Zip     string
	State   string
	Country string
}

// CompanyRef is a resolved or freshly created CRM company.
type CompanyRef struct {
	ID      string
	Created bool
}

// CompanyInput carries what company resolution needs: the buyer identity
// plus the contact's address as a creation fallback.
type CompanyInput struct {
	Name      string
	Email     string
	ContactID string
	Address   string
	City      string
	Zip       string
	State     string
	Country   string
}

type crmClient interface {
	SearchObjects(ctx context.Context, token, objectType string, req hubspot.SearchRequest) (*hubspot.SearchResponse, error)
	CreateObject(ctx context.Context, token, objectType string, req hubspot.CreateObjectRequest) (*hubspot.Object, error)
	PatchObject(ctx context.Context, token, objectType, id string, props map[string]string) (*hubspot.Object, error)
}

// Service resolves contacts and companies for one portal token at a time.
type Service interface {
	ResolveContact(ctx context.Context, token, email string) (*ContactRef, error)
	ResolveOrCreateCompany(ctx context.Context, token string, input CompanyInput) (*CompanyRef, error)
	PatchContact(ctx context.Context, token, contactID string, props map[string]string) error
}

type service struct {
	crm    crmClient
	cfg    config.HubSpotConfig
	policy retry.Policy
	logg   *logger.Logger
}

// NewService builds a directory resolver.
func NewService(crm crmClient, cfg config.HubSpotConfig, logg *logger.Logger) (Service, error) {
	if crm == nil {
		return nil, fmt.Errorf("crm client required")
	}
	return &service{
		crm:    crm,
		cfg:    cfg,
		policy: retry.DefaultLookup(),
		logg:   logg,
	}, nil
}

// ResolveContact searches the CRM for a contact by exact email. An empty
// result is retried within the lookup budget because checkout-created
// contacts can lag behind the webhook that references them. Exhausting the
// budget yields a not-found error; any CRM error is fatal immediately.
func (s *service) ResolveContact(ctx context.Context, token, email string) (*ContactRef, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "contact email is required")
	}

	var ref *ContactRef
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		resp, err := s.crm.SearchObjects(ctx, token, hubspot.ObjectTypeContact, hubspot.SearchRequest{
			FilterGroups: []hubspot.FilterGroup{hubspot.EqualsFilter("email", email)},
			Properties:   contactSearchProperties,
			Limit:        1,
		})
		if err != nil {
			return err
		}
		if len(resp.Results) == 0 {
			return retry.Retryable(pkgerrors.New(pkgerrors.CodeNotFound, "contact not found"))
		}
		ref = contactRefFromObject(resp.Results[0])
		return nil
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no contact for email after lookup budget")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search contact")
	}
	return ref, nil
}

func contactRefFromObject(obj hubspot.Object) *ContactRef {
	get := func(key string) string {
		return strings.TrimSpace(obj.Properties[key])
	}
	ref := &ContactRef{
		ID:      obj.ID,
		Address: get("address"),
		City:    get("city"),
		Zip:     get("zip"),
		Country: get("country"),
	}
	if ref.ID == "" {
		ref.ID = get("hs_object_id")
	}
	// State abbreviations are only meaningful for US addresses.
	if ref.Country == "US" {
		ref.State = get("state")
	}
	return ref
}

// ResolveOrCreateCompany searches by exact name or exact email domain, and
// creates the company on a miss. The domain property is withheld when the
// email domain belongs to a consumer mailbox provider. A known contact id
// gets associated inline on create.
func (s *service) ResolveOrCreateCompany(ctx context.Context, token string, input CompanyInput) (*CompanyRef, error) {
	name := strings.ToLower(strings.TrimSpace(input.Name))
	domain := emailDomain(input.Email)
	if name == "" && domain == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company name or email is required")
	}

	groups := []hubspot.FilterGroup{}
	if name != "" {
		groups = append(groups, hubspot.EqualsFilter("name", name))
	}
	if domain != "" {
		groups = append(groups, hubspot.EqualsFilter("domain", domain))
	}

	resp, err := s.crm.SearchObjects(ctx, token, hubspot.ObjectTypeCompany, hubspot.SearchRequest{
		FilterGroups: groups,
		Properties:   []string{"hs_object_id", "name"},
		Limit:        1,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search company")
	}
	if len(resp.Results) > 0 {
		return &CompanyRef{ID: resp.Results[0].ID}, nil
	}

	props := map[string]string{}
	setIfPresent := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			props[key] = value
		}
	}
	setIfPresent("name", input.Name)
	if domain != "" && !IsFreeMailDomain(domain) {
		props["domain"] = domain
	}
	setIfPresent("address", input.Address)
	setIfPresent("city", input.City)
	setIfPresent("zip", input.Zip)
	setIfPresent("state", input.State)
	setIfPresent("country", input.Country)

	req := hubspot.CreateObjectRequest{Properties: props}
	if input.ContactID != "" {
		req.Associations = []hubspot.Association{{
			To: hubspot.AssociationTarget{ID: input.ContactID},
			Types: []hubspot.AssociationType{{
				AssociationCategory: hubspot.AssociationCategoryUserDefined,
				AssociationTypeID:   s.cfg.AssocCompanyToContact,
			}},
		}}
	}

	created, err := s.crm.CreateObject(ctx, token, hubspot.ObjectTypeCompany, req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create company")
	}
	if s.logg != nil {
		s.logg.Info(ctx, "company created")
	}
	return &CompanyRef{ID: created.ID, Created: true}, nil
}

// PatchContact writes the provided properties onto an existing contact.
func (s *service) PatchContact(ctx context.Context, token, contactID string, props map[string]string) error {
	if contactID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "contact id is required")
	}
	if len(props) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "no contact properties to patch")
	}
	if _, err := s.crm.PatchObject(ctx, token, hubspot.ObjectTypeContact, contactID, props); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "patch contact")
	}
	return nil
}

// IsFreeMailDomain reports whether the domain belongs to a consumer mailbox
// provider.
func IsFreeMailDomain(domain string) bool {
	_, ok := freeMailDomains[strings.ToLower(strings.TrimSpace(domain))]
	return ok
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}
