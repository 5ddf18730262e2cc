package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/domainverify/internal/dns"
	"github.com/jmerrifield20/domainverify/internal/verification/model"
	"github.com/jmerrifield20/domainverify/internal/verification/repository"
	"github.com/jmerrifield20/domainverify/internal/verification/service"
	"go.uber.org/zap"
)

// ── In-memory stub for VerificationStore ───────────────────────────────────

type stubVerificationStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*model.DomainVerification
	seq  int
}

func newStubVerificationStore() *stubVerificationStore {
	return &stubVerificationStore{rows: make(map[uuid.UUID]*model.DomainVerification)}
}

func (s *stubVerificationStore) Save(_ context.Context, v *model.DomainVerification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if !row.Tombstone && row.OrganizationID == v.OrganizationID && row.Domain == v.Domain {
			return repository.ErrDuplicateActive
		}
	}
	s.seq++
	v.ID = uuid.New()
	v.CreatedAt = time.Unix(int64(s.seq), 0).UTC()
	v.UpdatedAt = v.CreatedAt
	cp := *v
	s.rows[v.ID] = &cp
	return nil
}

func (s *stubVerificationStore) Update(_ context.Context, v *model.DomainVerification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[v.ID]; !ok {
		return repository.ErrVerificationNotFound
	}
	cp := *v
	s.rows[v.ID] = &cp
	return nil
}

func (s *stubVerificationStore) FindByID(_ context.Context, id uuid.UUID, includeDeleted bool) (*model.DomainVerification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.rows[id]
	if !ok || (v.Tombstone && !includeDeleted) {
		return nil, repository.ErrVerificationNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *stubVerificationStore) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.DomainVerification, error) {
	return s.FindByID(ctx, id, true)
}

func (s *stubVerificationStore) filter(keep func(*model.DomainVerification) bool, includeDeleted bool) []*model.DomainVerification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.DomainVerification
	for _, v := range s.rows {
		if v.Tombstone && !includeDeleted {
			continue
		}
		if keep(v) {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *stubVerificationStore) FindByOrganizationIDAndDomain(_ context.Context, orgID uuid.UUID, domain string, includeDeleted bool) ([]*model.DomainVerification, error) {
	return s.filter(func(v *model.DomainVerification) bool {
		return v.OrganizationID == orgID && v.Domain == domain
	}, includeDeleted), nil
}

func (s *stubVerificationStore) FindByOrganizationID(_ context.Context, orgID uuid.UUID, includeDeleted bool) ([]*model.DomainVerification, error) {
	return s.filter(func(v *model.DomainVerification) bool {
		return v.OrganizationID == orgID
	}, includeDeleted), nil
}

func (s *stubVerificationStore) FindByStatus(_ context.Context, status model.VerificationStatus, includeDeleted bool) ([]*model.DomainVerification, error) {
	return s.filter(func(v *model.DomainVerification) bool {
		return v.Status == status
	}, includeDeleted), nil
}

// ── In-memory stub for EnforcementStore ────────────────────────────────────

type enforcementKey struct {
	org    uuid.UUID
	domain string
}

type stubEnforcementStore struct {
	mu      sync.Mutex
	rows    map[enforcementKey]*model.EmailDomainEnforcement
	creates int
	deletes int
}

func newStubEnforcementStore() *stubEnforcementStore {
	return &stubEnforcementStore{rows: make(map[enforcementKey]*model.EmailDomainEnforcement)}
}

func (s *stubEnforcementStore) ExistsByOrgAndDomain(_ context.Context, orgID uuid.UUID, domain string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[enforcementKey{orgID, domain}]
	return ok, nil
}

func (s *stubEnforcementStore) Create(_ context.Context, e *model.EmailDomainEnforcement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	e.ID = uuid.New()
	cp := *e
	s.rows[enforcementKey{e.OrganizationID, e.EmailDomain}] = &cp
	return nil
}

func (s *stubEnforcementStore) DeleteByOrgAndDomain(_ context.Context, orgID uuid.UUID, domain string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	k := enforcementKey{orgID, domain}
	if _, ok := s.rows[k]; !ok {
		return 0, nil
	}
	delete(s.rows, k)
	return 1, nil
}

func (s *stubEnforcementStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// ── SSO lookup and transaction stubs ───────────────────────────────────────

type stubSSO struct {
	mu     sync.Mutex
	status map[uuid.UUID]model.SSOStatus
}

func (s *stubSSO) set(orgID uuid.UUID, st model.SSOStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil {
		s.status = make(map[uuid.UUID]model.SSOStatus)
	}
	s.status[orgID] = st
}

func (s *stubSSO) GetSSOStatus(_ context.Context, orgID uuid.UUID) (model.SSOStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[orgID], nil
}

// stubTx serializes units of work and hands them the shared stores.
type stubTx struct {
	mu     sync.Mutex
	stores service.Stores
	calls  int
}

func (t *stubTx) InTx(ctx context.Context, fn func(ctx context.Context, s service.Stores) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return fn(ctx, t.stores)
}

// fakeVerifier returns a fixed result and remembers what it was asked.
type fakeVerifier struct {
	mu         sync.Mutex
	result     dns.Result
	calls      int
	recordName string
	expected   string
}

func (f *fakeVerifier) CheckDomainVerification(_ context.Context, recordName, expectedValue string) dns.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.recordName = recordName
	f.expected = expectedValue
	return f.result
}

func (f *fakeVerifier) set(r dns.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = r
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ── Fixture ────────────────────────────────────────────────────────────────

type fixture struct {
	svc          *service.VerificationService
	verifs       *stubVerificationStore
	enforcements *stubEnforcementStore
	sso          *stubSSO
	tx           *stubTx
	verifier     *fakeVerifier
	clock        *fakeClock
}

func newFixture() *fixture {
	return newFixtureWithVerifier(nil)
}

// newFixtureWithVerifier wires the service with v, or with a fakeVerifier
// returning NotFound when v is nil.
func newFixtureWithVerifier(v service.DomainVerifier) *fixture {
	f := &fixture{
		verifs:       newStubVerificationStore(),
		enforcements: newStubEnforcementStore(),
		sso:          &stubSSO{},
		verifier:     &fakeVerifier{result: dns.NotFound{}},
		clock:        &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	stores := service.Stores{Verifications: f.verifs, Enforcements: f.enforcements, SSO: f.sso}
	f.tx = &stubTx{stores: stores}
	if v == nil {
		v = f.verifier
	}
	f.svc = service.NewVerificationService(stores, f.tx, v, service.DefaultPolicy(), zap.NewNop())
	f.svc.SetClock(f.clock.Now)
	return f
}
