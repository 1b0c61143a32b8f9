package service

import (
	"context"
	"sort"

	"taxcore/internal/model"

	"github.com/google/uuid"
)

// Resolution is the flat group pool for a set of references, plus the
// diagnostic overlap report.
type Resolution struct {
	Groups   []uuid.UUID `json:"groups"`
	Overlaps []Overlap   `json:"overlaps"`
}

// Overlap lists the groups a reference shares with at least one other
// reference of the same resolution.
type Overlap struct {
	Type   string      `json:"type"`
	ID     string      `json:"id"`
	Groups []uuid.UUID `json:"groups"`
}

type resolver struct {
	assignments AssignmentSource
	groups      GroupLookup
}

// NewResolver builds the uncached assignment resolver.
func NewResolver(assignments AssignmentSource, groups GroupLookup) GroupResolver {
	return &resolver{assignments: assignments, groups: groups}
}

// GroupIDsFor returns the distinct group ids linked to ref, directly or
// through a global assignment of its type, in assignment order.
func (r *resolver) GroupIDsFor(ctx context.Context, ref model.Reference) ([]uuid.UUID, error) {
	rows, err := r.assignments.FindByReference(ctx, ref)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool, len(rows))
	ids := make([]uuid.UUID, 0, len(rows))
	for _, a := range rows {
		if seen[a.TaxGroupID] {
			continue
		}
		seen[a.TaxGroupID] = true
		ids = append(ids, a.TaxGroupID)
	}
	return ids, nil
}

func (r *resolver) ResolveGroups(ctx context.Context, refs []model.Reference) (*Resolution, error) {
	return Resolve(ctx, refs, r.GroupIDsFor)
}

func (r *resolver) GroupsForEntity(ctx context.Context, ref model.Reference) ([]model.TaxGroup, error) {
	ref = ref.Normalize()
	if !resolvable(ref) {
		return []model.TaxGroup{}, nil
	}
	ids, err := r.GroupIDsFor(ctx, ref)
	if err != nil {
		return nil, err
	}
	groups, err := r.groups.GetGroups(ctx, ids)
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = []model.TaxGroup{}
	}
	return groups, nil
}

// FindOverlapping returns the effective assignments of ref whose group is
// reachable from it more than once, e.g. both directly and through a global
// assignment of the same type.
func (r *resolver) FindOverlapping(ctx context.Context, ref model.Reference) ([]model.TaxAssignment, error) {
	ref = ref.Normalize()
	if !resolvable(ref) {
		return []model.TaxAssignment{}, nil
	}
	rows, err := r.assignments.FindByReference(ctx, ref)
	if err != nil {
		return nil, err
	}

	perGroup := make(map[uuid.UUID]int, len(rows))
	for _, a := range rows {
		perGroup[a.TaxGroupID]++
	}

	out := make([]model.TaxAssignment, 0)
	for _, a := range rows {
		if perGroup[a.TaxGroupID] > 1 {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		gi, gj := out[i].TaxGroupID.String(), out[j].TaxGroupID.String()
		if gi != gj {
			return gi < gj
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// Resolve unions the groups reachable from refs using lookup for each
// distinct, resolvable reference. Blank references contribute nothing.
// The cached and uncached resolvers share this so their output is identical.
func Resolve(ctx context.Context, refs []model.Reference, lookup func(context.Context, model.Reference) ([]uuid.UUID, error)) (*Resolution, error) {
	distinct := make([]model.Reference, 0, len(refs))
	seenRef := make(map[model.Reference]bool, len(refs))
	for _, ref := range refs {
		ref = ref.Normalize()
		if !resolvable(ref) || seenRef[ref] {
			continue
		}
		seenRef[ref] = true
		distinct = append(distinct, ref)
	}

	perRef := make([][]uuid.UUID, len(distinct))
	reach := make(map[uuid.UUID]int)
	res := &Resolution{Groups: []uuid.UUID{}, Overlaps: []Overlap{}}

	for i, ref := range distinct {
		ids, err := lookup(ctx, ref)
		if err != nil {
			return nil, err
		}
		perRef[i] = ids
		for _, id := range ids {
			if reach[id] == 0 {
				res.Groups = append(res.Groups, id)
			}
			reach[id]++
		}
	}

	for i, ref := range distinct {
		var shared []uuid.UUID
		for _, id := range perRef[i] {
			if reach[id] > 1 {
				shared = append(shared, id)
			}
		}
		if len(shared) > 0 {
			res.Overlaps = append(res.Overlaps, Overlap{Type: ref.Type, ID: ref.ID, Groups: shared})
		}
	}
	return res, nil
}

func resolvable(ref model.Reference) bool {
	return ref.Type != "" && ref.ID != ""
}
