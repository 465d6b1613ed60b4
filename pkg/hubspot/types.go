package hubspot

// Standard CRM object type names. Custom object types (e.g. the invoice
// object) are configured, not hard-coded.
const (
	ObjectTypeContact = "contacts"
	ObjectTypeCompany = "companies"
	ObjectTypeDeal    = "deals"
	ObjectTypeNote    = "notes"
)

// Association categories accepted by the v4 association endpoints.
const (
	AssociationCategoryHubSpotDefined = "HUBSPOT_DEFINED"
	AssociationCategoryUserDefined    = "USER_DEFINED"
)

type Filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type FilterGroup struct {
	Filters []Filter `json:"filters"`
}

type Sort struct {
	PropertyName string `json:"propertyName"`
	Direction    string `json:"direction"`
}

type SearchRequest struct {
	FilterGroups []FilterGroup `json:"filterGroups"`
	Sorts        []Sort        `json:"sorts,omitempty"`
	Properties   []string      `json:"properties,omitempty"`
	Limit        int           `json:"limit,omitempty"`
}

type Object struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

type SearchResponse struct {
	Total   int      `json:"total"`
	Results []Object `json:"results"`
}

type AssociationType struct {
	AssociationCategory string `json:"associationCategory"`
	AssociationTypeID   int    `json:"associationTypeId"`
}

type AssociationTarget struct {
	ID string `json:"id"`
}

type Association struct {
	To    AssociationTarget `json:"to"`
	Types []AssociationType `json:"types"`
}

type CreateObjectRequest struct {
	Properties   map[string]string `json:"properties"`
	Associations []Association     `json:"associations,omitempty"`
}

type PatchObjectRequest struct {
	Properties map[string]string `json:"properties"`
}

// EqualsFilter builds the single-property exact-match group used by every
// search this bridge performs.
func EqualsFilter(property, value string) FilterGroup {
	return FilterGroup{Filters: []Filter{{
		PropertyName: property,
		Operator:     "EQ",
		Value:        value,
	}}}
}
