package service_test

import (
	"errors"
	"testing"
	"time"

	"taxcore/internal/model"
	"taxcore/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateApplies(t *testing.T) {
	from := jan2024
	until := time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)
	minPrice := dec("100")
	maxPrice := dec("1000")

	windowed := model.TaxRate{ValidFrom: from, ValidUntil: &until}
	tiered := model.TaxRate{ValidFrom: from, MinPrice: &minPrice, MaxPrice: &maxPrice}

	tests := []struct {
		name string
		rate model.TaxRate
		at   time.Time
		base decimal.Decimal
		want bool
	}{
		{"before window", windowed, from.Add(-time.Second), dec("1"), false},
		{"at valid_from", windowed, from, dec("1"), true},
		{"inside window", windowed, from.AddDate(0, 6, 0), dec("1"), true},
		{"at valid_until", windowed, until, dec("1"), true},
		{"after valid_until", windowed, until.Add(time.Second), dec("1"), false},
		{"open ended far future", model.TaxRate{ValidFrom: from}, from.AddDate(50, 0, 0), dec("1"), true},
		{"below min price", tiered, from, dec("99.99"), false},
		{"at min price", tiered, from, dec("100"), true},
		{"at max price", tiered, from, dec("1000"), true},
		{"above max price", tiered, from, dec("1000.01"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, service.RateApplies(tt.rate, tt.at, tt.base))
		})
	}
}

func TestRateSelector_SelectApplicable(t *testing.T) {
	f := newFixture(t)
	ppn := f.tax("ppn")
	luxury := f.tax("luxury")
	g := f.group("jakarta")

	current := f.rate(g, ppn, "11")
	f.rate(g, ppn, "10", func(r *model.TaxRate) {
		until := time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC)
		r.ValidUntil = &until
	})
	premium := f.rate(g, luxury, "20", func(r *model.TaxRate) {
		floor := dec("5000000")
		r.MinPrice = &floor
		r.Priority = 1
	})

	sel := service.NewRateSelector(f.store.RateRepo())
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	cheap, err := sel.SelectApplicable(f.ctx, g.ID, at, dec("100000"))
	require.NoError(t, err)
	require.Len(t, cheap, 1)
	assert.Equal(t, current.ID, cheap[0].ID)
	require.NotNil(t, cheap[0].Tax)
	assert.Equal(t, "ppn", cheap[0].Tax.Name)

	pricey, err := sel.SelectApplicable(f.ctx, g.ID, at, dec("6000000"))
	require.NoError(t, err)
	require.Len(t, pricey, 2)
	assert.Equal(t, current.ID, pricey[0].ID)
	assert.Equal(t, premium.ID, pricey[1].ID)
}

func TestRateSelector_InactiveOrMissingGroupYieldsNothing(t *testing.T) {
	f := newFixture(t)
	ppn := f.tax("ppn")
	g := f.group("jakarta")
	f.rate(g, ppn, "11")

	sel := service.NewRateSelector(f.store.RateRepo())

	missing, err := sel.SelectApplicable(f.ctx, uuid.New(), jan2024, dec("100"))
	require.NoError(t, err)
	assert.Empty(t, missing)

	require.NoError(t, f.store.RateRepo().SetGroupActive(f.ctx, g.ID, false))
	inactive, err := sel.SelectApplicable(f.ctx, g.ID, jan2024, dec("100"))
	require.NoError(t, err)
	assert.Empty(t, inactive)
}

func TestRateSelector_SkipsInactiveTax(t *testing.T) {
	f := newFixture(t)
	ppn := f.tax("ppn")
	charge := f.tax("service-charge")
	g := f.group("jakarta")
	f.rate(g, ppn, "11")
	f.rate(g, charge, "5")

	require.NoError(t, f.store.RateRepo().SetTaxActive(f.ctx, charge.ID, false))

	sel := service.NewRateSelector(f.store.RateRepo())
	rates, err := sel.SelectApplicable(f.ctx, g.ID, jan2024, dec("100"))
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, ppn.ID, rates[0].TaxID)
}

func TestRateSelector_PropagatesStorageErrors(t *testing.T) {
	f := newFixture(t)
	g := f.group("jakarta")
	boom := errors.New("connection reset")
	f.store.FailWith("GetRates", boom)

	_, err := service.NewRateSelector(f.store.RateRepo()).SelectApplicable(f.ctx, g.ID, jan2024, dec("1"))
	assert.ErrorIs(t, err, boom)
}
