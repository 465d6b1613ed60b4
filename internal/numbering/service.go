// Package numbering allocates invoice numbers. Sequences are unique per
// portal per year and strictly increasing; allocation is an atomic counter
// increment, seeded once from the highest number already present in the
// CRM so the bridge can be restarted or repointed without collisions.
package numbering

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hubbridge/hubbridge-backend/pkg/config"
	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
	"github.com/hubbridge/hubbridge-backend/pkg/hubspot"
	"github.com/hubbridge/hubbridge-backend/pkg/logger"
	"github.com/hubbridge/hubbridge-backend/pkg/redis"
)

const (
	propertyInvoiceYear  = "invoice_year"
	propertyNumberSuffix = "invoice_number_sufix"
	counterScope         = "invoice"
	sortDirectionDescend = "DESCENDING"
)

// Number is one allocated invoice number.
type Number struct {
	Year     int
	Sequence int64
}

// String renders the printed form, e.g. INV-2026-1043.
func (n Number) String() string {
	return fmt.Sprintf("INV-%d-%d", n.Year, n.Sequence)
}

type invoiceSearcher interface {
	SearchObjects(ctx context.Context, token, objectType string, req hubspot.SearchRequest) (*hubspot.SearchResponse, error)
}

// Service allocates invoice numbers for one (portal, year) at a time.
type Service interface {
	Next(ctx context.Context, token, portalID string, year int) (Number, error)
}

type service struct {
	crm     invoiceSearcher
	counter redis.CounterStore
	cfg     config.NumberingConfig
	hs      config.HubSpotConfig
	logg    *logger.Logger
}

// NewService builds the numbering service.
func NewService(crm invoiceSearcher, counter redis.CounterStore, cfg config.NumberingConfig, hs config.HubSpotConfig, logg *logger.Logger) (Service, error) {
	if crm == nil {
		return nil, fmt.Errorf("crm client required")
	}
	if counter == nil {
		return nil, fmt.Errorf("counter store required")
	}
	return &service{crm: crm, counter: counter, cfg: cfg, hs: hs, logg: logg}, nil
}

// Next returns the next invoice number for the portal and year. The first
// call for a (portal, year) seeds the counter from the CRM's current
// maximum; once the counter exists, allocation is a single atomic
// increment with no CRM traffic.
func (s *service) Next(ctx context.Context, token, portalID string, year int) (Number, error) {
	if portalID == "" {
		return Number{}, pkgerrors.New(pkgerrors.CodeValidation, "portal id is required")
	}
	if year <= 0 {
		return Number{}, pkgerrors.New(pkgerrors.CodeValidation, "year is required")
	}

	key := s.counter.CounterKey(counterScope, portalID, strconv.Itoa(year))

	exists, err := s.counter.Exists(ctx, key)
	if err != nil {
		return Number{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check invoice counter")
	}
	if !exists {
		// Only an unseeded counter pays for a CRM search. SeedNX keeps a
		// concurrent first allocation safe: the losing seed is a no-op.
		seed, err := s.currentMax(ctx, token, year)
		if err != nil {
			return Number{}, err
		}
		seeded, err := s.counter.SeedNX(ctx, key, seed)
		if err != nil {
			return Number{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "seed invoice counter")
		}
		if seeded && s.logg != nil {
			s.logg.Info(s.logg.WithPortalID(ctx, portalID), "invoice counter seeded")
		}
	}

	sequence, err := s.counter.Incr(ctx, key)
	if err != nil {
		return Number{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment invoice counter")
	}
	return Number{Year: year, Sequence: sequence}, nil
}

// currentMax finds the highest sequence already stored for the year. When
// the year has no invoices yet, the seed is one below the configured start
// so the first increment lands exactly on it.
func (s *service) currentMax(ctx context.Context, token string, year int) (int64, error) {
	start := s.cfg.StartSequence
	if start <= 0 {
		start = 1000
	}

	resp, err := s.crm.SearchObjects(ctx, token, s.hs.InvoiceObjectType, hubspot.SearchRequest{
		FilterGroups: []hubspot.FilterGroup{hubspot.EqualsFilter(propertyInvoiceYear, strconv.Itoa(year))},
		Sorts: []hubspot.Sort{{
			PropertyName: propertyNumberSuffix,
			Direction:    sortDirectionDescend,
		}},
		Properties: []string{propertyNumberSuffix},
		Limit:      1,
	})
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search invoice numbers")
	}
	if len(resp.Results) == 0 {
		return start - 1, nil
	}

	raw := resp.Results[0].Properties[propertyNumberSuffix]
	max, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "parse stored invoice number")
	}
	if max < start-1 {
		max = start - 1
	}
	return max, nil
}
