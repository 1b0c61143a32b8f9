// Package testutil provides an in-memory implementation of the repositories
// for service, cache and handler tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"taxcore/internal/apperr"
	"taxcore/internal/model"
	"taxcore/internal/repository"

	"github.com/google/uuid"
)

type txKey struct{}

// Store keeps taxes, groups, rates, assignments and audit entries in memory.
// Transactions are serialized and roll back by restoring a snapshot.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	taxes       map[uuid.UUID]model.Tax
	groups      map[uuid.UUID]model.TaxGroup
	rates       map[uuid.UUID]model.TaxRate
	assignments map[uuid.UUID]model.TaxAssignment
	seq         map[uuid.UUID]int64
	nextSeq     int64
	audit       []model.AuditLog

	calls    map[string]int
	failures map[string]error

	Now func() time.Time
}

type snapshot struct {
	taxes       map[uuid.UUID]model.Tax
	groups      map[uuid.UUID]model.TaxGroup
	rates       map[uuid.UUID]model.TaxRate
	assignments map[uuid.UUID]model.TaxAssignment
	seq         map[uuid.UUID]int64
	nextSeq     int64
	audit       []model.AuditLog
}

func NewStore() *Store {
	return &Store{
		taxes:       make(map[uuid.UUID]model.Tax),
		groups:      make(map[uuid.UUID]model.TaxGroup),
		rates:       make(map[uuid.UUID]model.TaxRate),
		assignments: make(map[uuid.UUID]model.TaxAssignment),
		seq:         make(map[uuid.UUID]int64),
		calls:       make(map[string]int),
		failures:    make(map[string]error),
		Now:         time.Now,
	}
}

func (s *Store) RateRepo() repository.RateRepository             { return rateRepo{s} }
func (s *Store) AssignmentRepo() repository.AssignmentRepository { return assignmentRepo{s} }
func (s *Store) AuditRepo() repository.AuditRepository           { return auditRepo{s} }
func (s *Store) TxManager() repository.TransactionManager        { return txManager{s} }

// Calls returns how many times the named repository method ran.
func (s *Store) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// FailWith makes every later call of method return err. A nil err clears it.
func (s *Store) FailWith(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// AuditLogs returns a copy of the audit trail in insertion order.
func (s *Store) AuditLogs() []model.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AuditLog, len(s.audit))
	copy(out, s.audit)
	return out
}

// enter records the call and returns the injected failure, if any. Callers
// hold s.mu.
func (s *Store) enter(method string) error {
	s.calls[method]++
	return s.failures[method]
}

func (s *Store) stamp() time.Time {
	return s.Now().UTC()
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		taxes:       make(map[uuid.UUID]model.Tax, len(s.taxes)),
		groups:      make(map[uuid.UUID]model.TaxGroup, len(s.groups)),
		rates:       make(map[uuid.UUID]model.TaxRate, len(s.rates)),
		assignments: make(map[uuid.UUID]model.TaxAssignment, len(s.assignments)),
		seq:         make(map[uuid.UUID]int64, len(s.seq)),
		nextSeq:     s.nextSeq,
		audit:       append([]model.AuditLog(nil), s.audit...),
	}
	for k, v := range s.taxes {
		snap.taxes[k] = v
	}
	for k, v := range s.groups {
		snap.groups[k] = v
	}
	for k, v := range s.rates {
		snap.rates[k] = v
	}
	for k, v := range s.assignments {
		snap.assignments[k] = v
	}
	for k, v := range s.seq {
		snap.seq[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taxes = snap.taxes
	s.groups = snap.groups
	s.rates = snap.rates
	s.assignments = snap.assignments
	s.seq = snap.seq
	s.nextSeq = snap.nextSeq
	s.audit = snap.audit
}

// --- TransactionManager ---

type txManager struct{ s *Store }

func (t txManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	t.s.txMu.Lock()
	defer t.s.txMu.Unlock()

	snap := t.s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		t.s.restore(snap)
		return err
	}
	return nil
}

// --- RateRepository ---

type rateRepo struct{ s *Store }

func (r rateRepo) CreateTax(_ context.Context, tax *model.Tax) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateTax"); err != nil {
		return err
	}
	for _, t := range s.taxes {
		if t.OwnerType == tax.OwnerType && sameOwner(t.OwnerID, tax.OwnerID) && t.Slug == tax.Slug {
			return apperr.Conflict("tax.create", "tax already exists")
		}
	}
	if tax.ID == uuid.Nil {
		tax.ID = uuid.New()
	}
	now := s.stamp()
	tax.CreatedAt, tax.UpdatedAt = now, now
	s.taxes[tax.ID] = *tax
	return nil
}

func (r rateRepo) GetTax(_ context.Context, id uuid.UUID) (*model.Tax, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetTax"); err != nil {
		return nil, err
	}
	t, ok := s.taxes[id]
	if !ok {
		return nil, apperr.NotFound("tax.get", "tax", id)
	}
	return &t, nil
}

func (r rateRepo) FindTaxBySlug(_ context.Context, ownerType string, ownerID *uuid.UUID, slug string) (*model.Tax, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindTaxBySlug"); err != nil {
		return nil, err
	}
	for _, t := range s.taxes {
		if t.OwnerType == ownerType && sameOwner(t.OwnerID, ownerID) && t.Slug == slug {
			found := t
			return &found, nil
		}
	}
	return nil, apperr.NotFound("tax.find_by_slug", "tax", slug)
}

func (r rateRepo) ListTaxes(_ context.Context, page, limit int) ([]model.Tax, int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListTaxes"); err != nil {
		return nil, 0, err
	}
	all := make([]model.Tax, 0, len(s.taxes))
	for _, t := range s.taxes {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].OwnerType != all[j].OwnerType {
			return all[i].OwnerType < all[j].OwnerType
		}
		return all[i].Name < all[j].Name
	})
	return paginate(all, page, limit), int64(len(all)), nil
}

func (r rateRepo) SetTaxActive(_ context.Context, id uuid.UUID, active bool) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SetTaxActive"); err != nil {
		return err
	}
	t, ok := s.taxes[id]
	if !ok {
		return apperr.NotFound("tax.set_active", "tax", id)
	}
	t.IsActive = active
	t.UpdatedAt = s.stamp()
	s.taxes[id] = t
	return nil
}

func (r rateRepo) CreateGroup(_ context.Context, group *model.TaxGroup) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateGroup"); err != nil {
		return err
	}
	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	now := s.stamp()
	group.CreatedAt, group.UpdatedAt = now, now
	stored := *group
	stored.Rates, stored.Assignments = nil, nil
	s.groups[group.ID] = stored
	return nil
}

func (r rateRepo) GetGroup(_ context.Context, id uuid.UUID) (*model.TaxGroup, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetGroup"); err != nil {
		return nil, err
	}
	g, ok := s.groups[id]
	if !ok {
		return nil, apperr.NotFound("tax_group.get", "tax group", id)
	}
	return &g, nil
}

func (r rateRepo) GetGroups(_ context.Context, ids []uuid.UUID) ([]model.TaxGroup, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetGroups"); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var out []model.TaxGroup
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if g, ok := s.groups[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r rateRepo) ListGroups(_ context.Context, page, limit int) ([]model.TaxGroup, int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListGroups"); err != nil {
		return nil, 0, err
	}
	all := make([]model.TaxGroup, 0, len(s.groups))
	for _, g := range s.groups {
		all = append(all, g)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return paginate(all, page, limit), int64(len(all)), nil
}

func (r rateRepo) SetGroupActive(_ context.Context, id uuid.UUID, active bool) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SetGroupActive"); err != nil {
		return err
	}
	g, ok := s.groups[id]
	if !ok {
		return apperr.NotFound("tax_group.set_active", "tax group", id)
	}
	g.IsActive = active
	g.UpdatedAt = s.stamp()
	s.groups[id] = g
	return nil
}

func (r rateRepo) DeleteGroup(_ context.Context, id uuid.UUID) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteGroup"); err != nil {
		return 0, err
	}
	if _, ok := s.groups[id]; !ok {
		return 0, apperr.NotFound("tax_group.delete", "tax group", id)
	}

	var removed int64
	for aid, a := range s.assignments {
		if a.TaxGroupID == id {
			delete(s.assignments, aid)
			delete(s.seq, aid)
			removed++
		}
	}
	for rid, rate := range s.rates {
		if rate.TaxGroupID == id {
			delete(s.rates, rid)
			removed++
		}
	}
	delete(s.groups, id)
	return removed + 1, nil
}

func (r rateRepo) CreateRate(_ context.Context, rate *model.TaxRate) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateRate"); err != nil {
		return err
	}
	if _, ok := s.groups[rate.TaxGroupID]; !ok {
		return apperr.NotFound("tax_rate.create", "tax group", rate.TaxGroupID)
	}
	if _, ok := s.taxes[rate.TaxID]; !ok {
		return apperr.NotFound("tax_rate.create", "tax", rate.TaxID)
	}
	if rate.ID == uuid.Nil {
		rate.ID = uuid.New()
	}
	rate.CreatedAt = s.stamp()
	stored := *rate
	stored.Tax = nil
	s.rates[rate.ID] = stored
	return nil
}

func (r rateRepo) GetRate(_ context.Context, id uuid.UUID) (*model.TaxRate, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetRate"); err != nil {
		return nil, err
	}
	rate, ok := s.rates[id]
	if !ok {
		return nil, apperr.NotFound("tax_rate.get", "tax rate", id)
	}
	s.preloadTax(&rate)
	return &rate, nil
}

func (r rateRepo) GetRates(_ context.Context, groupID uuid.UUID) ([]model.TaxRate, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetRates"); err != nil {
		return nil, err
	}
	var out []model.TaxRate
	for _, rate := range s.rates {
		if rate.TaxGroupID == groupID {
			s.preloadTax(&rate)
			out = append(out, rate)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if ti, tj := out[i].TaxID.String(), out[j].TaxID.String(); ti != tj {
			return ti < tj
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r rateRepo) GroupIDsForTax(_ context.Context, taxID uuid.UUID) ([]uuid.UUID, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GroupIDsForTax"); err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, rate := range s.rates {
		if rate.TaxID == taxID && !seen[rate.TaxGroupID] {
			seen[rate.TaxGroupID] = true
			out = append(out, rate.TaxGroupID)
		}
	}
	return out, nil
}

func (r rateRepo) ExpireRate(_ context.Context, id uuid.UUID, until time.Time) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ExpireRate"); err != nil {
		return err
	}
	rate, ok := s.rates[id]
	if !ok {
		return apperr.NotFound("tax_rate.expire", "tax rate", id)
	}
	rate.ValidUntil = &until
	s.rates[id] = rate
	return nil
}

// preloadTax attaches a copy of the rate's tax. Callers hold s.mu.
func (s *Store) preloadTax(rate *model.TaxRate) {
	if t, ok := s.taxes[rate.TaxID]; ok {
		rate.Tax = &t
	}
}

// --- AssignmentRepository ---

type assignmentRepo struct{ s *Store }

func (r assignmentRepo) Create(ctx context.Context, a *model.TaxAssignment) error {
	return r.CreateBatch(ctx, []*model.TaxAssignment{a})
}

func (r assignmentRepo) CreateBatch(_ context.Context, batch []*model.TaxAssignment) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateBatch"); err != nil {
		return err
	}

	type key struct {
		group   uuid.UUID
		typ, id string
	}
	taken := make(map[key]bool, len(s.assignments)+len(batch))
	for _, a := range s.assignments {
		taken[key{a.TaxGroupID, a.AssignableType, a.AssignableID}] = true
	}
	for _, a := range batch {
		k := key{a.TaxGroupID, a.AssignableType, a.AssignableID}
		if taken[k] {
			return apperr.Conflict("tax_assignment.create_batch", "tax assignment already exists")
		}
		if _, ok := s.groups[a.TaxGroupID]; !ok {
			return apperr.NotFound("tax_assignment.create_batch", "tax group", a.TaxGroupID)
		}
		taken[k] = true
	}

	now := s.stamp()
	for _, a := range batch {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.CreatedAt = now
		s.nextSeq++
		s.seq[a.ID] = s.nextSeq
		s.assignments[a.ID] = *a
	}
	return nil
}

func (r assignmentRepo) Get(_ context.Context, id uuid.UUID) (*model.TaxAssignment, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("Get"); err != nil {
		return nil, err
	}
	a, ok := s.assignments[id]
	if !ok {
		return nil, apperr.NotFound("tax_assignment.get", "tax assignment", id)
	}
	return &a, nil
}

func (r assignmentRepo) FindByReference(_ context.Context, ref model.Reference) ([]model.TaxAssignment, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindByReference"); err != nil {
		return nil, err
	}
	var out []model.TaxAssignment
	for _, a := range s.assignments {
		if a.AssignableType == ref.Type && (a.AssignableID == ref.ID || a.IsGlobal) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out, nil
}

func (r assignmentRepo) FindByGroup(_ context.Context, groupID uuid.UUID) ([]model.TaxAssignment, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindByGroup"); err != nil {
		return nil, err
	}
	var out []model.TaxAssignment
	for _, a := range s.assignments {
		if a.TaxGroupID == groupID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssignableType != out[j].AssignableType {
			return out[i].AssignableType < out[j].AssignableType
		}
		return out[i].AssignableID < out[j].AssignableID
	})
	return out, nil
}

func (r assignmentRepo) Delete(_ context.Context, id uuid.UUID) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("Delete"); err != nil {
		return err
	}
	if _, ok := s.assignments[id]; !ok {
		return apperr.NotFound("tax_assignment.delete", "tax assignment", id)
	}
	delete(s.assignments, id)
	delete(s.seq, id)
	return nil
}

func (r assignmentRepo) DeleteByReference(_ context.Context, ref model.Reference) ([]model.TaxAssignment, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteByReference"); err != nil {
		return nil, err
	}
	var removed []model.TaxAssignment
	for id, a := range s.assignments {
		if !a.IsGlobal && a.AssignableType == ref.Type && a.AssignableID == ref.ID {
			removed = append(removed, a)
			delete(s.assignments, id)
			delete(s.seq, id)
		}
	}
	return removed, nil
}

// --- AuditRepository ---

type auditRepo struct{ s *Store }

func (r auditRepo) Log(_ context.Context, entry *model.AuditLog) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("Log"); err != nil {
		return err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = s.stamp()
	s.audit = append(s.audit, *entry)
	return nil
}

func (r auditRepo) List(_ context.Context, action string, page, limit int) ([]model.AuditLog, int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("List"); err != nil {
		return nil, 0, err
	}
	var all []model.AuditLog
	for i := len(s.audit) - 1; i >= 0; i-- {
		if action == "" || s.audit[i].Action == action {
			all = append(all, s.audit[i])
		}
	}
	return paginate(all, page, limit), int64(len(all)), nil
}

func paginate[T any](all []T, page, limit int) []T {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		return all
	}
	start := (page - 1) * limit
	if start >= len(all) {
		return []T{}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

func sameOwner(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
