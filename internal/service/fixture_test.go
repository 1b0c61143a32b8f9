package service_test

import (
	"context"
	"testing"
	"time"

	"taxcore/internal/model"
	"taxcore/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var jan2024 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fixture seeds a testutil.Store through the repository interfaces.
type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *testutil.Store
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, ctx: context.Background(), store: testutil.NewStore()}
}

func (f *fixture) tax(name string) model.Tax {
	tax := model.Tax{OwnerType: model.OwnerTypeSystem, Name: name, Slug: name, IsActive: true}
	require.NoError(f.t, f.store.RateRepo().CreateTax(f.ctx, &tax))
	return tax
}

func (f *fixture) group(name string) model.TaxGroup {
	g := model.TaxGroup{OwnerType: model.OwnerTypeSystem, Name: name, IsActive: true}
	require.NoError(f.t, f.store.RateRepo().CreateGroup(f.ctx, &g))
	return g
}

// rate adds a rate; mutate adjusts the defaults (percentage, subtotal,
// priority 0, valid from 2024-01-01, open-ended).
func (f *fixture) rate(group model.TaxGroup, tax model.Tax, rate string, mutate ...func(*model.TaxRate)) model.TaxRate {
	r := model.TaxRate{
		TaxGroupID: group.ID,
		TaxID:      tax.ID,
		Rate:       dec(rate),
		Type:       model.RateTypePercentage,
		BasedOn:    model.BasedOnSubtotal,
		ValidFrom:  jan2024,
	}
	for _, m := range mutate {
		m(&r)
	}
	require.NoError(f.t, f.store.RateRepo().CreateRate(f.ctx, &r))
	return r
}

func (f *fixture) assign(group model.TaxGroup, typ, id string) model.TaxAssignment {
	a := model.TaxAssignment{TaxGroupID: group.ID, AssignableType: typ, AssignableID: id}
	if id == model.GlobalAssignableID {
		a.AssignableID = ""
		a.IsGlobal = true
	}
	require.NoError(f.t, f.store.AssignmentRepo().Create(f.ctx, &a))
	return a
}

func ref(typ, id string) model.Reference {
	return model.Reference{Type: typ, ID: id}
}

func ids(groups ...model.TaxGroup) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.ID)
	}
	return out
}
