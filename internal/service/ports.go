package service

import (
	"context"

	"taxcore/internal/model"

	"github.com/google/uuid"
)

// RateSource is the read side of the rate repository consumed during
// computation. The cache layer decorates it.
type RateSource interface {
	GetGroup(ctx context.Context, id uuid.UUID) (*model.TaxGroup, error)
	GetRates(ctx context.Context, groupID uuid.UUID) ([]model.TaxRate, error)
}

// AssignmentSource looks up the assignments reachable from one reference.
type AssignmentSource interface {
	FindByReference(ctx context.Context, ref model.Reference) ([]model.TaxAssignment, error)
}

// GroupLookup loads group records for display.
type GroupLookup interface {
	GetGroups(ctx context.Context, ids []uuid.UUID) ([]model.TaxGroup, error)
}

// GroupResolver maps entity references onto tax groups. GroupIDsFor is the
// per-reference primitive the other lookups are built on.
type GroupResolver interface {
	GroupIDsFor(ctx context.Context, ref model.Reference) ([]uuid.UUID, error)
	ResolveGroups(ctx context.Context, refs []model.Reference) (*Resolution, error)
	GroupsForEntity(ctx context.Context, ref model.Reference) ([]model.TaxGroup, error)
	FindOverlapping(ctx context.Context, ref model.Reference) ([]model.TaxAssignment, error)
}

// Invalidation names what a committed write touched. A reference using the
// "all" sentinel invalidates every reference of its type.
type Invalidation struct {
	GroupIDs   []uuid.UUID
	References []model.Reference
}

// CacheInvalidator drops cached reads affected by a write. Implementations
// retry internally; a returned error means the invalidation did not happen.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, inv Invalidation) error
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, Invalidation) error { return nil }

// NoopInvalidator is used when no cache is configured.
func NoopInvalidator() CacheInvalidator { return noopInvalidator{} }

// ChangeNotifier pushes configuration change events to listeners such as
// admin dashboards. Publishing must not block.
type ChangeNotifier interface {
	Publish(event string, payload interface{})
}
