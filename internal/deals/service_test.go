package deals

import (
	"context"
	"testing"
	"time"

	"github.com/hubbridge/hubbridge-backend/pkg/config"
	"github.com/hubbridge/hubbridge-backend/pkg/hubspot"
)

type stubCRM struct {
	created     *hubspot.Object
	createErr   error
	createReq   *hubspot.CreateObjectRequest
	patchedID   string
	patchedReq  map[string]string
	patchCalled bool
}

func (s *stubCRM) CreateObject(_ context.Context, _, _ string, req hubspot.CreateObjectRequest) (*hubspot.Object, error) {
	s.createReq = &req
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.created, nil
}

func (s *stubCRM) PatchObject(_ context.Context, _, _, id string, props map[string]string) (*hubspot.Object, error) {
	s.patchCalled = true
	s.patchedID = id
	s.patchedReq = props
	return &hubspot.Object{ID: id}, nil
}

func testConfig() config.HubSpotConfig {
	return config.HubSpotConfig{
		DealPipeline:       "2428974327",
		DealOwner:          "44516880",
		AssocDealToContact: 3,
		AssocDealToCompany: 1,
	}
}

func TestName(t *testing.T) {
	if got := Name("Acme", "Pro Plan"); got != "Acme - Pro Plan" {
		t.Fatalf("unexpected deal name %q", got)
	}
}

func TestCreateBuildsDealProperties(t *testing.T) {
	crm := &stubCRM{created: &hubspot.Object{ID: "303"}}
	svc, err := NewService(crm, testConfig(), nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	closeDate := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	id, err := svc.Create(context.Background(), "tok", CreateInput{
		BillToName:  "Acme",
		ProductName: "Pro Plan",
		AmountMinor: 2500,
		Stage:       "stage-trial",
		CloseDate:   closeDate,
		ContactID:   "101",
		CompanyID:   "202",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "303" {
		t.Fatalf("expected deal id 303, got %q", id)
	}

	props := crm.createReq.Properties
	if props["dealname"] != "Acme - Pro Plan" {
		t.Fatalf("unexpected deal name %q", props["dealname"])
	}
	if props["amount"] != "25.00" {
		t.Fatalf("expected major-unit amount, got %q", props["amount"])
	}
	if props["pipeline"] != "2428974327" || props["hubspot_owner_id"] != "44516880" {
		t.Fatalf("pipeline/owner not applied: %v", props)
	}
	if props["dealstage"] != "stage-trial" {
		t.Fatalf("unexpected stage %q", props["dealstage"])
	}
	if props["closedate"] != "1773576000000" {
		t.Fatalf("unexpected close date %q", props["closedate"])
	}

	if len(crm.createReq.Associations) != 2 {
		t.Fatalf("expected contact and company associations, got %+v", crm.createReq.Associations)
	}
	if crm.createReq.Associations[0].Types[0].AssociationTypeID != 3 {
		t.Fatalf("unexpected contact association %+v", crm.createReq.Associations[0])
	}
	if crm.createReq.Associations[1].Types[0].AssociationTypeID != 1 {
		t.Fatalf("unexpected company association %+v", crm.createReq.Associations[1])
	}
}

func TestCreateSkipsCompanyAssociationWhenUnknown(t *testing.T) {
	crm := &stubCRM{created: &hubspot.Object{ID: "303"}}
	svc, _ := NewService(crm, testConfig(), nil)

	_, err := svc.Create(context.Background(), "tok", CreateInput{
		BillToName:  "Pat Buyer",
		ProductName: "Pro Plan",
		Stage:       "stage-active",
		ContactID:   "101",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(crm.createReq.Associations) != 1 {
		t.Fatalf("expected contact association only, got %+v", crm.createReq.Associations)
	}
}

func TestCreateValidatesInput(t *testing.T) {
	svc, _ := NewService(&stubCRM{}, testConfig(), nil)

	if _, err := svc.Create(context.Background(), "tok", CreateInput{ProductName: "Plan", Stage: "s"}); err == nil {
		t.Fatal("expected error without bill-to name")
	}
	if _, err := svc.Create(context.Background(), "tok", CreateInput{BillToName: "Acme", ProductName: "Plan"}); err == nil {
		t.Fatal("expected error without stage")
	}
}

func TestPatchSendsOnlyProvidedFields(t *testing.T) {
	crm := &stubCRM{}
	svc, _ := NewService(crm, testConfig(), nil)

	amount := int64(4999)
	stage := "stage-active"
	if err := svc.Patch(context.Background(), "tok", "303", PatchInput{
		AmountMinor: &amount,
		Stage:       &stage,
	}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if crm.patchedID != "303" {
		t.Fatalf("unexpected deal id %q", crm.patchedID)
	}
	if crm.patchedReq["amount"] != "49.99" || crm.patchedReq["dealstage"] != "stage-active" {
		t.Fatalf("unexpected patch %v", crm.patchedReq)
	}
	if _, ok := crm.patchedReq["dealname"]; ok {
		t.Fatalf("expected dealname untouched, got %v", crm.patchedReq)
	}
}

func TestPatchRejectsEmptyPatch(t *testing.T) {
	crm := &stubCRM{}
	svc, _ := NewService(crm, testConfig(), nil)

	if err := svc.Patch(context.Background(), "tok", "303", PatchInput{}); err == nil {
		t.Fatal("expected error for empty patch")
	}
	if crm.patchCalled {
		t.Fatal("expected no CRM call for empty patch")
	}
}
