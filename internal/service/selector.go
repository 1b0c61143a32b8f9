package service

import (
	"context"
	"time"

	"taxcore/internal/apperr"
	"taxcore/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RateSelector narrows a group's rates to those valid at a point in time and
// inside the price tier of the base amount.
type RateSelector struct {
	source RateSource
}

func NewRateSelector(source RateSource) *RateSelector {
	return &RateSelector{source: source}
}

// SelectApplicable returns the applicable rates of the group. A group that no
// longer exists or is inactive yields no rates rather than an error.
// Rates of the same tax are not deduplicated.
func (s *RateSelector) SelectApplicable(ctx context.Context, groupID uuid.UUID, at time.Time, base decimal.Decimal) ([]model.TaxRate, error) {
	group, err := s.source.GetGroup(ctx, groupID)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !group.IsActive {
		return nil, nil
	}

	rates, err := s.source.GetRates(ctx, groupID)
	if err != nil {
		return nil, err
	}

	selected := make([]model.TaxRate, 0, len(rates))
	for _, rate := range rates {
		if rate.Tax != nil && !rate.Tax.IsActive {
			continue
		}
		if RateApplies(rate, at, base) {
			selected = append(selected, rate)
		}
	}
	return selected, nil
}

// RateApplies is the selection predicate. Both the validity window and the
// price bounds are inclusive.
func RateApplies(rate model.TaxRate, at time.Time, base decimal.Decimal) bool {
	if rate.ValidFrom.After(at) {
		return false
	}
	if rate.ValidUntil != nil && at.After(*rate.ValidUntil) {
		return false
	}
	if rate.MinPrice != nil && base.LessThan(*rate.MinPrice) {
		return false
	}
	if rate.MaxPrice != nil && base.GreaterThan(*rate.MaxPrice) {
		return false
	}
	return true
}
