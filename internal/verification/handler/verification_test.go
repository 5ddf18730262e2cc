package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/domainverify/internal/auth"
	"github.com/jmerrifield20/domainverify/internal/verification/handler"
	"github.com/jmerrifield20/domainverify/internal/verification/model"
	"github.com/jmerrifield20/domainverify/internal/verification/service"
	"go.uber.org/zap"
)

// ── Stub service ─────────────────────────────────────────────────────────

type stubSvc struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*model.DomainVerification
	checked int
	// next error returned by the mutating calls, if set
	err error
}

func newStubSvc() *stubSvc {
	return &stubSvc{rows: make(map[uuid.UUID]*model.DomainVerification)}
}

func (s *stubSvc) add(orgID uuid.UUID, domain string, status model.VerificationStatus) *model.DomainVerification {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := &model.DomainVerification{
		ID:                uuid.New(),
		OrganizationID:    orgID,
		Domain:            domain,
		Status:            status,
		VerificationToken: "tok",
		DNSRecordName:     "_airbyte-verification." + domain,
		ExpiresAt:         time.Now().Add(time.Hour),
	}
	s.rows[v.ID] = v
	return v
}

func (s *stubSvc) CreateDomainVerification(_ context.Context, orgID uuid.UUID, domain string, createdBy *uuid.UUID) (*model.DomainVerification, error) {
	if s.err != nil {
		return nil, s.err
	}
	if strings.TrimSpace(domain) == "" {
		return nil, service.ErrInvalidDomain
	}
	v := s.add(orgID, domain, model.StatusPending)
	v.CreatedBy = createdBy
	return v, nil
}

func (s *stubSvc) CheckAndUpdateVerification(_ context.Context, id uuid.UUID) (*model.DomainVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.checked++
	v := s.rows[id]
	v.Attempts++
	return v, nil
}

func (s *stubSvc) ResetDomainVerification(_ context.Context, id uuid.UUID) (*model.DomainVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.rows[id]
	if v.Tombstone || !v.Status.Resettable() {
		return nil, &service.InvalidTransitionError{Status: v.Status, Remedy: "cannot reset"}
	}
	v.Status = model.StatusPending
	return v, nil
}

func (s *stubSvc) DeleteDomainVerification(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id].Tombstone = true
	return nil
}

func (s *stubSvc) FindByID(_ context.Context, id uuid.UUID, includeDeleted bool) (*model.DomainVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.rows[id]
	if !ok || (v.Tombstone && !includeDeleted) {
		return nil, service.ErrVerificationNotFound
	}
	return v, nil
}

func (s *stubSvc) FindByOrganizationID(_ context.Context, orgID uuid.UUID, includeDeleted bool) ([]*model.DomainVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.DomainVerification
	for _, v := range s.rows {
		if v.OrganizationID == orgID && (!v.Tombstone || includeDeleted) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *stubSvc) FindByStatus(_ context.Context, status model.VerificationStatus, includeDeleted bool) ([]*model.DomainVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.DomainVerification
	for _, v := range s.rows {
		if v.Status == status && (!v.Tombstone || includeDeleted) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *stubSvc) Instructions(v *model.DomainVerification) service.DNSInstructions {
	return service.DNSInstructions{Host: v.DNSRecordName, Type: "TXT", Value: "airbyte-domain-verification=" + v.VerificationToken}
}

// ── Helpers ──────────────────────────────────────────────────────────────

func newRouter(svc *stubSvc, tokens *auth.TokenIssuer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := handler.NewVerificationHandler(svc, tokens, zap.NewNop())
	h.Register(r.Group("/api/v1"))
	return r
}

func doRequest(r http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func orgPath(orgID uuid.UUID, rest string) string {
	return "/api/v1/organizations/" + orgID.String() + "/domain-verifications" + rest
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestCreate_returnsInstructions(t *testing.T) {
	svc := newStubSvc()
	r := newRouter(svc, nil)
	orgID := uuid.New()

	w := doRequest(r, http.MethodPost, orgPath(orgID, ""), `{"domain":"acme.io"}`, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body)
	}

	var resp struct {
		ID           uuid.UUID `json:"id"`
		Domain       string    `json:"domain"`
		Status       string    `json:"status"`
		Instructions struct {
			Host  string `json:"host"`
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"instructions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Domain != "acme.io" || resp.Status != "PENDING" {
		t.Errorf("unexpected body: %+v", resp)
	}
	if resp.Instructions.Host != "_airbyte-verification.acme.io" || resp.Instructions.Type != "TXT" {
		t.Errorf("instructions: %+v", resp.Instructions)
	}
}

func TestCreate_badInput(t *testing.T) {
	r := newRouter(newStubSvc(), nil)

	w := doRequest(r, http.MethodPost, orgPath(uuid.New(), ""), `{}`, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing domain: got %d", w.Code)
	}
	w = doRequest(r, http.MethodPost, "/api/v1/organizations/nope/domain-verifications", `{"domain":"a.io"}`, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad org id: got %d", w.Code)
	}
	w = doRequest(r, http.MethodPost, orgPath(uuid.New(), ""), `{"domain":"   "}`, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank domain: got %d", w.Code)
	}
}

func TestCreate_duplicateIsConflict(t *testing.T) {
	svc := newStubSvc()
	orgID := uuid.New()
	existing := svc.add(orgID, "acme.io", model.StatusPending)
	svc.err = &service.DuplicateVerificationError{Existing: existing, Message: "already pending"}
	r := newRouter(svc, nil)

	w := doRequest(r, http.MethodPost, orgPath(orgID, ""), `{"domain":"acme.io"}`, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "already pending") {
		t.Errorf("body: %s", w.Body)
	}
	if !strings.Contains(w.Body.String(), existing.ID.String()) {
		t.Errorf("body should include the existing verification: %s", w.Body)
	}
}

func TestGet_otherOrganizationIsNotFound(t *testing.T) {
	svc := newStubSvc()
	v := svc.add(uuid.New(), "acme.io", model.StatusPending)
	r := newRouter(svc, nil)

	w := doRequest(r, http.MethodGet, orgPath(v.OrganizationID, "/"+v.ID.String()), "", "")
	if w.Code != http.StatusOK {
		t.Errorf("own org: got %d", w.Code)
	}
	w = doRequest(r, http.MethodGet, orgPath(uuid.New(), "/"+v.ID.String()), "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("other org: got %d", w.Code)
	}
	w = doRequest(r, http.MethodGet, orgPath(v.OrganizationID, "/"+uuid.NewString()), "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown id: got %d", w.Code)
	}
	w = doRequest(r, http.MethodGet, orgPath(v.OrganizationID, "/xyz"), "", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad id: got %d", w.Code)
	}
}

func TestCheck(t *testing.T) {
	svc := newStubSvc()
	v := svc.add(uuid.New(), "acme.io", model.StatusPending)
	r := newRouter(svc, nil)

	w := doRequest(r, http.MethodPost, orgPath(v.OrganizationID, "/"+v.ID.String()+"/check"), "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body)
	}
	if svc.checked != 1 {
		t.Errorf("checks: got %d", svc.checked)
	}
	if !strings.Contains(w.Body.String(), `"attempts":1`) {
		t.Errorf("body: %s", w.Body)
	}
}

func TestCheck_unexpectedErrorIs500(t *testing.T) {
	svc := newStubSvc()
	v := svc.add(uuid.New(), "acme.io", model.StatusPending)
	svc.err = context.DeadlineExceeded
	r := newRouter(svc, nil)

	w := doRequest(r, http.MethodPost, orgPath(v.OrganizationID, "/"+v.ID.String()+"/check"), "", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestReset_invalidTransitionIsConflict(t *testing.T) {
	svc := newStubSvc()
	orgID := uuid.New()
	pending := svc.add(orgID, "p.example", model.StatusPending)
	failed := svc.add(orgID, "f.example", model.StatusFailed)
	r := newRouter(svc, nil)

	w := doRequest(r, http.MethodPost, orgPath(orgID, "/"+pending.ID.String()+"/reset"), "", "")
	if w.Code != http.StatusConflict {
		t.Errorf("pending: got %d", w.Code)
	}
	w = doRequest(r, http.MethodPost, orgPath(orgID, "/"+failed.ID.String()+"/reset"), "", "")
	if w.Code != http.StatusOK {
		t.Errorf("failed: got %d", w.Code)
	}
}

func TestDelete_twiceIsNoContent(t *testing.T) {
	svc := newStubSvc()
	v := svc.add(uuid.New(), "acme.io", model.StatusVerified)
	r := newRouter(svc, nil)
	path := orgPath(v.OrganizationID, "/"+v.ID.String())

	for i := 0; i < 2; i++ {
		w := doRequest(r, http.MethodDelete, path, "", "")
		if w.Code != http.StatusNoContent {
			t.Errorf("delete %d: got %d", i+1, w.Code)
		}
	}
	if w := doRequest(r, http.MethodGet, path, "", ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: got %d", w.Code)
	}
}

func TestList(t *testing.T) {
	svc := newStubSvc()
	orgID := uuid.New()
	svc.add(orgID, "a.example", model.StatusPending)
	deleted := svc.add(orgID, "b.example", model.StatusFailed)
	deleted.Tombstone = true
	svc.add(uuid.New(), "c.example", model.StatusPending)
	r := newRouter(svc, nil)

	var resp struct {
		Count int `json:"count"`
	}
	w := doRequest(r, http.MethodGet, orgPath(orgID, ""), "", "")
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 1 {
		t.Errorf("org list: got %d", resp.Count)
	}
	w = doRequest(r, http.MethodGet, orgPath(orgID, "?include_deleted=true"), "", "")
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 2 {
		t.Errorf("org list with deleted: got %d", resp.Count)
	}

	w = doRequest(r, http.MethodGet, "/api/v1/domain-verifications?status=PENDING", "", "")
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 2 {
		t.Errorf("status list: got %d", resp.Count)
	}
	w = doRequest(r, http.MethodGet, "/api/v1/domain-verifications?status=BOGUS", "", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad status: got %d", w.Code)
	}
}

func TestAuth(t *testing.T) {
	tokens, err := auth.NewTokenIssuer([]byte("secret"), "test", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	svc := newStubSvc()
	orgID := uuid.New()
	r := newRouter(svc, tokens)

	userID := uuid.New()
	member, _ := tokens.Issue(userID.String(), []uuid.UUID{orgID}, "")
	outsider, _ := tokens.Issue(uuid.NewString(), []uuid.UUID{uuid.New()}, "")
	admin, _ := tokens.Issue("ops", nil, auth.RoleAdmin)

	if w := doRequest(r, http.MethodPost, orgPath(orgID, ""), `{"domain":"acme.io"}`, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: got %d", w.Code)
	}
	if w := doRequest(r, http.MethodPost, orgPath(orgID, ""), `{"domain":"acme.io"}`, outsider); w.Code != http.StatusForbidden {
		t.Errorf("outsider: got %d", w.Code)
	}
	w := doRequest(r, http.MethodPost, orgPath(orgID, ""), `{"domain":"acme.io"}`, member)
	if w.Code != http.StatusCreated {
		t.Fatalf("member: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), userID.String()) {
		t.Errorf("created_by should be the caller: %s", w.Body)
	}

	if w := doRequest(r, http.MethodGet, "/api/v1/domain-verifications", "", member); w.Code != http.StatusForbidden {
		t.Errorf("status list as member: got %d", w.Code)
	}
	if w := doRequest(r, http.MethodGet, "/api/v1/domain-verifications", "", admin); w.Code != http.StatusOK {
		t.Errorf("status list as admin: got %d", w.Code)
	}
}
