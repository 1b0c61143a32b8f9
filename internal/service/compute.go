package service

import (
	"context"
	"time"

	"taxcore/internal/apperr"
	"taxcore/internal/metrics"
	"taxcore/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxGroupFanout bounds concurrent rate lookups inside one computation.
const maxGroupFanout = 8

// ComputeRequest is the pricing-flow payload for a tax computation.
type ComputeRequest struct {
	BaseAmount decimal.Decimal   `json:"base_amount"`
	At         *time.Time        `json:"at"` // defaults to now
	References []model.Reference `json:"references" binding:"dive"`
}

// TaxEngine resolves the groups of a transaction and computes its tax.
type TaxEngine interface {
	Compute(ctx context.Context, base decimal.Decimal, at time.Time, refs []model.Reference) (*TaxComputationResult, error)
	ResolveGroups(ctx context.Context, refs []model.Reference) (*Resolution, error)
	GroupsForEntity(ctx context.Context, ref model.Reference) ([]model.TaxGroup, error)
	FindOverlappingAssignments(ctx context.Context, ref model.Reference) ([]model.TaxAssignment, error)
}

type taxEngine struct {
	resolver   GroupResolver
	selector   *RateSelector
	calculator Calculator
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewTaxEngine wires the engine. Pass cached or uncached collaborators; the
// result does not depend on which.
func NewTaxEngine(resolver GroupResolver, rates RateSource, calculator Calculator, m *metrics.Metrics, logger *zap.Logger) TaxEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &taxEngine{
		resolver:   resolver,
		selector:   NewRateSelector(rates),
		calculator: calculator,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// Compute validates the base amount, resolves groups, selects the applicable
// rates of every group and runs the cascade. A zero at means now.
func (e *taxEngine) Compute(ctx context.Context, base decimal.Decimal, at time.Time, refs []model.Reference) (*TaxComputationResult, error) {
	start := e.now()

	if base.IsNegative() {
		e.metrics.ObserveCompute("invalid", 0, time.Since(start))
		return nil, apperr.Validation("tax.compute", "base amount must not be negative, got %s", base.String())
	}
	if at.IsZero() {
		at = start
	}

	res, err := e.resolver.ResolveGroups(ctx, refs)
	if err != nil {
		e.metrics.ObserveCompute("error", 0, time.Since(start))
		return nil, err
	}

	selected := make([][]Candidate, len(res.Groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxGroupFanout)
	for i, groupID := range res.Groups {
		i, groupID := i, groupID
		g.Go(func() error {
			rates, err := e.selector.SelectApplicable(gctx, groupID, at, base)
			if err != nil {
				return err
			}
			cands := make([]Candidate, 0, len(rates))
			for _, r := range rates {
				cands = append(cands, Candidate{Rate: r, GroupID: groupID})
			}
			selected[i] = cands
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.metrics.ObserveCompute("error", 0, time.Since(start))
		return nil, err
	}

	var all []Candidate
	for _, cands := range selected {
		all = append(all, cands...)
	}

	result := e.calculator.Calculate(base, all)

	e.metrics.ObserveCompute("ok", len(result.Lines), time.Since(start))
	e.logger.Debug("tax computed",
		zap.String("base_amount", base.String()),
		zap.Int("references", len(refs)),
		zap.Int("groups", len(res.Groups)),
		zap.Int("lines", len(result.Lines)),
		zap.String("total_tax", result.TotalTax.String()),
	)
	return &result, nil
}

func (e *taxEngine) ResolveGroups(ctx context.Context, refs []model.Reference) (*Resolution, error) {
	return e.resolver.ResolveGroups(ctx, refs)
}

func (e *taxEngine) GroupsForEntity(ctx context.Context, ref model.Reference) ([]model.TaxGroup, error) {
	return e.resolver.GroupsForEntity(ctx, ref)
}

func (e *taxEngine) FindOverlappingAssignments(ctx context.Context, ref model.Reference) ([]model.TaxAssignment, error) {
	return e.resolver.FindOverlapping(ctx, ref)
}
