package service

import (
	"sort"

	"taxcore/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCurrencyPrecision is the number of minor-unit decimal places each
// line amount is rounded to.
const DefaultCurrencyPrecision int32 = 2

var hundred = decimal.NewFromInt(100)

// Candidate is one selected rate together with the group it came from.
type Candidate struct {
	Rate    model.TaxRate
	GroupID uuid.UUID
}

// TaxLine is one step of the cascade.
type TaxLine struct {
	TaxID       uuid.UUID       `json:"tax_id"`
	TaxName     string          `json:"tax_name"`
	GroupID     uuid.UUID       `json:"group_id"`
	RateID      uuid.UUID       `json:"rate_id"`
	Rate        decimal.Decimal `json:"rate"`
	Type        string          `json:"type"`
	Priority    int             `json:"priority"`
	BasedOn     string          `json:"based_on"`
	BasisAmount decimal.Decimal `json:"basis_amount"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	Inclusive   bool            `json:"inclusive"`
}

// TaxComputationResult is the itemized outcome of a computation.
type TaxComputationResult struct {
	BaseAmount decimal.Decimal `json:"base_amount"`
	Lines      []TaxLine       `json:"lines"`
	TotalTax   decimal.Decimal `json:"total_tax"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

// Calculator applies a cascade of rates to a base amount. It is a pure
// function of its inputs and safe for concurrent use.
type Calculator struct {
	precision int32
}

func NewCalculator(precision int32) Calculator {
	if precision < 0 {
		precision = DefaultCurrencyPrecision
	}
	return Calculator{precision: precision}
}

// Calculate sorts the candidates into cascade order and folds them over base.
// Every line amount is rounded on its own before it touches the running total.
// Inclusive amounts are reported and counted in TotalTax but never added to
// the running total.
func (c Calculator) Calculate(base decimal.Decimal, candidates []Candidate) TaxComputationResult {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	SortCandidates(ordered)

	running := base
	total := decimal.Zero
	lines := make([]TaxLine, 0, len(ordered))

	for _, cand := range ordered {
		rate := cand.Rate

		basis := base
		if rate.BasedOn == model.BasedOnTotalAfterPreviousTax {
			basis = running
		}

		var amount decimal.Decimal
		if rate.Type == model.RateTypeFixed {
			amount = rate.Rate
		} else {
			amount = basis.Mul(rate.Rate).Div(hundred)
		}
		amount = amount.Round(c.precision)

		if !rate.IsInclusive {
			running = running.Add(amount)
		}
		total = total.Add(amount)

		var name string
		if rate.Tax != nil {
			name = rate.Tax.Name
		}
		lines = append(lines, TaxLine{
			TaxID:       rate.TaxID,
			TaxName:     name,
			GroupID:     cand.GroupID,
			RateID:      rate.ID,
			Rate:        rate.Rate,
			Type:        rate.Type,
			Priority:    rate.Priority,
			BasedOn:     rate.BasedOn,
			BasisAmount: basis,
			TaxAmount:   amount,
			Inclusive:   rate.IsInclusive,
		})
	}

	return TaxComputationResult{
		BaseAmount: base,
		Lines:      lines,
		TotalTax:   total,
		GrandTotal: running,
	}
}

// SortCandidates orders by priority ascending, then tax id, then rate id
// (canonical UUID strings), so the cascade is reproducible.
func SortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i].Rate, cands[j].Rate
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if ta, tb := a.TaxID.String(), b.TaxID.String(); ta != tb {
			return ta < tb
		}
		return a.ID.String() < b.ID.String()
	})
}
