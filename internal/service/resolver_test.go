package service_test

import (
	"context"
	"errors"
	"testing"

	"taxcore/internal/model"
	"taxcore/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(f *fixture) service.GroupResolver {
	return service.NewResolver(f.store.AssignmentRepo(), f.store.RateRepo())
}

func TestResolveGroups_UnionOfAllReferences(t *testing.T) {
	f := newFixture(t)
	national := f.group("national")
	jakarta := f.group("jakarta")
	restaurant := f.group("restaurant")

	f.assign(national, "region", "ID-JK")
	f.assign(jakarta, "region", "ID-JK")
	f.assign(restaurant, "merchant_category", "restaurant")

	res, err := newResolver(f).ResolveGroups(f.ctx, []model.Reference{
		ref("region", "ID-JK"),
		ref("merchant_category", "restaurant"),
	})
	require.NoError(t, err)
	assert.Equal(t, ids(national, jakarta, restaurant), res.Groups)
	assert.Empty(t, res.Overlaps)
}

func TestResolveGroups_SharedGroupAppearsOnceAndIsReported(t *testing.T) {
	f := newFixture(t)
	shared := f.group("ppn")
	f.assign(shared, "region", "ID-JK")
	f.assign(shared, "merchant", "m-42")

	res, err := newResolver(f).ResolveGroups(f.ctx, []model.Reference{
		ref("region", "ID-JK"),
		ref("merchant", "m-42"),
	})
	require.NoError(t, err)
	assert.Equal(t, ids(shared), res.Groups)

	require.Len(t, res.Overlaps, 2)
	assert.Equal(t, service.Overlap{Type: "region", ID: "ID-JK", Groups: ids(shared)}, res.Overlaps[0])
	assert.Equal(t, service.Overlap{Type: "merchant", ID: "m-42", Groups: ids(shared)}, res.Overlaps[1])
}

func TestResolveGroups_EmptyAndUnknownReferences(t *testing.T) {
	f := newFixture(t)
	r := newResolver(f)

	tests := []struct {
		name string
		refs []model.Reference
	}{
		{"nil list", nil},
		{"empty list", []model.Reference{}},
		{"unknown entity", []model.Reference{ref("region", "XX-00")}},
		{"blank parts", []model.Reference{ref("", "ID-JK"), ref("region", " ")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.ResolveGroups(f.ctx, tt.refs)
			require.NoError(t, err)
			assert.NotNil(t, res.Groups)
			assert.Empty(t, res.Groups)
			assert.Empty(t, res.Overlaps)
		})
	}
}

func TestResolveGroups_DuplicateReferencesCollapse(t *testing.T) {
	f := newFixture(t)
	g := f.group("jakarta")
	f.assign(g, "region", "ID-JK")

	res, err := newResolver(f).ResolveGroups(f.ctx, []model.Reference{
		ref("region", "ID-JK"),
		ref(" Region ", "ID-JK "),
	})
	require.NoError(t, err)
	assert.Equal(t, ids(g), res.Groups)
	assert.Empty(t, res.Overlaps, "the same entity twice is not an overlap")
	assert.Equal(t, 1, f.store.Calls("FindByReference"))
}

func TestResolveGroups_GlobalAssignmentReachesEveryEntityOfType(t *testing.T) {
	f := newFixture(t)
	everyRegion := f.group("national")
	f.assign(everyRegion, "region", model.GlobalAssignableID)

	res, err := newResolver(f).ResolveGroups(f.ctx, []model.Reference{ref("region", "ID-BA")})
	require.NoError(t, err)
	assert.Equal(t, ids(everyRegion), res.Groups)

	other, err := newResolver(f).ResolveGroups(f.ctx, []model.Reference{ref("merchant", "m-1")})
	require.NoError(t, err)
	assert.Empty(t, other.Groups)
}

func TestResolveGroups_StorageErrorPropagates(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("db down")
	f.store.FailWith("FindByReference", boom)

	_, err := newResolver(f).ResolveGroups(f.ctx, []model.Reference{ref("region", "ID-JK")})
	assert.ErrorIs(t, err, boom)
}

func TestResolve_UsesLookupPerDistinctReference(t *testing.T) {
	g1, g2 := uuid.New(), uuid.New()
	lookups := map[model.Reference][]uuid.UUID{
		ref("a", "1"): {g1},
		ref("b", "2"): {g1, g2},
	}
	var calls int
	lookup := func(_ context.Context, r model.Reference) ([]uuid.UUID, error) {
		calls++
		return lookups[r], nil
	}

	res, err := service.Resolve(context.Background(), []model.Reference{ref("a", "1"), ref("b", "2"), ref("a", "1")}, lookup)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []uuid.UUID{g1, g2}, res.Groups)
	require.Len(t, res.Overlaps, 2)
	assert.Equal(t, []uuid.UUID{g1}, res.Overlaps[0].Groups)
	assert.Equal(t, []uuid.UUID{g1}, res.Overlaps[1].Groups)
}

func TestGroupsForEntity(t *testing.T) {
	f := newFixture(t)
	b := f.group("b-group")
	a := f.group("a-group")
	global := f.group("c-global")
	f.assign(b, "region", "ID-JK")
	f.assign(a, "region", "ID-JK")
	f.assign(global, "region", model.GlobalAssignableID)

	groups, err := newResolver(f).GroupsForEntity(f.ctx, ref("region", "ID-JK"))
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, "a-group", groups[0].Name)
	assert.Equal(t, "b-group", groups[1].Name)
	assert.Equal(t, "c-global", groups[2].Name)

	none, err := newResolver(f).GroupsForEntity(f.ctx, ref("region", "XX"))
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestFindOverlapping(t *testing.T) {
	f := newFixture(t)
	national := f.group("national")
	local := f.group("local")

	direct := f.assign(national, "region", "ID-JK")
	global := f.assign(national, "region", model.GlobalAssignableID)
	f.assign(local, "region", "ID-JK")

	r := newResolver(f)

	overlaps, err := r.FindOverlapping(f.ctx, ref("region", "ID-JK"))
	require.NoError(t, err)
	require.Len(t, overlaps, 2)
	got := []uuid.UUID{overlaps[0].ID, overlaps[1].ID}
	assert.ElementsMatch(t, []uuid.UUID{direct.ID, global.ID}, got)
	for _, a := range overlaps {
		assert.Equal(t, national.ID, a.TaxGroupID)
	}

	// Only the global link reaches ID-BA, so nothing overlaps there.
	clean, err := r.FindOverlapping(f.ctx, ref("region", "ID-BA"))
	require.NoError(t, err)
	assert.Empty(t, clean)

	// Overlapping assignments do not break resolution.
	res, err := r.ResolveGroups(f.ctx, []model.Reference{ref("region", "ID-JK")})
	require.NoError(t, err)
	assert.Equal(t, ids(national, local), res.Groups)
}
