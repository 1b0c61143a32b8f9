package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taxcore/internal/apperr"
	"taxcore/internal/cache"
	"taxcore/internal/cache/mocks"
	"taxcore/internal/model"
	"taxcore/internal/service"
	"taxcore/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"
)

func TestTags(t *testing.T) {
	g1, g2 := uuid.New(), uuid.New()

	tags := cache.Tags(service.Invalidation{
		GroupIDs: []uuid.UUID{g1, g2, g1},
		References: []model.Reference{
			ref("Region", "ID-JK"),
			ref("region", "ID-JK"),
			ref("merchant", "all"),
			ref("", "x"),
			ref("merchant", ""),
		},
	})

	assert.Equal(t, []string{
		"group:" + g1.String(),
		"group:" + g2.String(),
		"ref:region:ID-JK",
		"reftype:merchant",
	}, tags)
	assert.Empty(t, cache.Tags(service.Invalidation{}))
}

func TestInvalidator_RetriesThenSucceeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	groupID := uuid.New()
	wantTags := []string{"group:" + groupID.String()}

	gomock.InOrder(
		store.EXPECT().Bump(gomock.Any(), wantTags).Return(errors.New("i/o timeout")).Times(2),
		store.EXPECT().Bump(gomock.Any(), wantTags).Return(nil),
	)

	inv := cache.NewInvalidator(store, 3, nil, zaptest.NewLogger(t))
	err := inv.Invalidate(context.Background(), service.Invalidation{GroupIDs: []uuid.UUID{groupID}})
	assert.NoError(t, err)
}

func TestInvalidator_GivesUpAsUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	boom := errors.New("connection refused")

	store.EXPECT().Bump(gomock.Any(), gomock.Any()).Return(boom).Times(3)

	inv := cache.NewInvalidator(store, 2, nil, zaptest.NewLogger(t))
	err := inv.Invalidate(context.Background(), service.Invalidation{References: []model.Reference{ref("region", "ID-JK")}})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUnavailable, apperr.Code(err))
	assert.ErrorIs(t, err, boom)
}

func TestInvalidator_NothingToDo(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)

	inv := cache.NewInvalidator(store, 3, nil, zaptest.NewLogger(t))
	assert.NoError(t, inv.Invalidate(context.Background(), service.Invalidation{}))
}

func TestCachedResolver_StoreFailureFallsThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	down := errors.New("redis down")

	store.EXPECT().Get(gomock.Any(), "references:region:ID-JK").Return(nil, down).Times(2)
	store.EXPECT().Versions(gomock.Any(), []string{"ref:region:ID-JK", "reftype:region"}).Return(nil, down).Times(2)

	db := testutil.NewStore()
	g := model.TaxGroup{OwnerType: model.OwnerTypeSystem, Name: "national", IsActive: true}
	require.NoError(t, db.RateRepo().CreateGroup(context.Background(), &g))
	a := model.TaxAssignment{TaxGroupID: g.ID, AssignableType: "region", AssignableID: "ID-JK"}
	require.NoError(t, db.AssignmentRepo().Create(context.Background(), &a))

	resolver := cache.NewCachedResolver(
		service.NewResolver(db.AssignmentRepo(), db.RateRepo()),
		db.RateRepo(),
		store,
		cache.Options{Logger: zaptest.NewLogger(t)},
	)

	for i := 0; i < 2; i++ {
		ids, err := resolver.GroupIDsFor(context.Background(), ref("region", "ID-JK"))
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{g.ID}, ids)
	}
	assert.Equal(t, 2, db.Calls("FindByReference"))
}

func TestCachedRateSource_WriteFailureIsIgnored(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)

	db := testutil.NewStore()
	g := model.TaxGroup{OwnerType: model.OwnerTypeSystem, Name: "national", IsActive: true}
	require.NoError(t, db.RateRepo().CreateGroup(context.Background(), &g))
	key := "rates:" + g.ID.String()

	store.EXPECT().Get(gomock.Any(), key).Return(nil, cache.ErrMiss)
	store.EXPECT().Versions(gomock.Any(), []string{"group:" + g.ID.String()}).Return([]int64{4}, nil)
	store.EXPECT().Set(gomock.Any(), key, gomock.Any(), 30*time.Second).Return(errors.New("OOM command not allowed"))

	rates := cache.NewCachedRateSource(db.RateRepo(), store, cache.Options{TTL: 30 * time.Second, Logger: zaptest.NewLogger(t)})
	got, err := rates.GetRates(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}
