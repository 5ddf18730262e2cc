package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/domainverify/internal/dns"
	"github.com/jmerrifield20/domainverify/internal/verification/model"
	"github.com/jmerrifield20/domainverify/internal/verification/repository"
	"github.com/jmerrifield20/domainverify/internal/webhooks"
	"go.uber.org/zap"
)

// VerificationStore is the storage interface for domain verifications.
// *repository.VerificationRepository satisfies this interface.
type VerificationStore interface {
	Save(ctx context.Context, v *model.DomainVerification) error
	Update(ctx context.Context, v *model.DomainVerification) error
	FindByID(ctx context.Context, id uuid.UUID, includeDeleted bool) (*model.DomainVerification, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.DomainVerification, error)
	FindByOrganizationIDAndDomain(ctx context.Context, orgID uuid.UUID, domain string, includeDeleted bool) ([]*model.DomainVerification, error)
	FindByOrganizationID(ctx context.Context, orgID uuid.UUID, includeDeleted bool) ([]*model.DomainVerification, error)
	FindByStatus(ctx context.Context, status model.VerificationStatus, includeDeleted bool) ([]*model.DomainVerification, error)
}

// EnforcementStore is the storage interface for SSO email-domain enforcements.
// *repository.EnforcementRepository satisfies this interface.
type EnforcementStore interface {
	ExistsByOrgAndDomain(ctx context.Context, orgID uuid.UUID, domain string) (bool, error)
	Create(ctx context.Context, e *model.EmailDomainEnforcement) error
	DeleteByOrgAndDomain(ctx context.Context, orgID uuid.UUID, domain string) (int64, error)
}

// SSOStatusLookup reports an organization's SSO configuration status.
// *repository.SSOConfigRepository satisfies this interface.
type SSOStatusLookup interface {
	GetSSOStatus(ctx context.Context, orgID uuid.UUID) (model.SSOStatus, error)
}

// Stores groups the persistence collaborators used by the service.
type Stores struct {
	Verifications VerificationStore
	Enforcements  EnforcementStore
	SSO           SSOStatusLookup
}

// TxRunner runs fn inside a single transaction, handing it stores bound to
// that transaction. Returning an error from fn rolls the transaction back.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// DomainVerifier checks published TXT records. *dns.Verifier satisfies this
// interface.
type DomainVerifier interface {
	CheckDomainVerification(ctx context.Context, recordName, expectedValue string) dns.Result
}

// CheckRecorder is notified of each applied check with the DNS outcome and
// the resulting status.
type CheckRecorder func(outcome string, status model.VerificationStatus)

// DNS outcome labels passed to CheckRecorder.
const (
	OutcomeVerified      = "verified"
	OutcomeMisconfigured = "misconfigured"
	OutcomeNotFound      = "not_found"
)

// EventDispatchFunc is an optional callback for publishing lifecycle events.
// It is called after the change has been committed.
type EventDispatchFunc func(ctx context.Context, eventType string, payload map[string]string)

// DNSInstructions tells a domain owner which record to publish.
type DNSInstructions struct {
	Host  string `json:"host"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// VerificationService drives domain verifications through their lifecycle.
type VerificationService struct {
	stores   Stores
	tx       TxRunner
	verifier DomainVerifier
	policy   Policy
	now      func() time.Time
	onCheck  CheckRecorder
	onEvent  EventDispatchFunc
	logger   *zap.Logger
}

// NewVerificationService creates a VerificationService. stores is used for
// plain reads; every write goes through tx. Zero fields in policy take their
// defaults.
func NewVerificationService(stores Stores, tx TxRunner, verifier DomainVerifier, policy Policy, logger *zap.Logger) *VerificationService {
	return &VerificationService{
		stores:   stores,
		tx:       tx,
		verifier: verifier,
		policy:   policy.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// SetClock replaces the clock used for expiry and check timestamps.
func (s *VerificationService) SetClock(now func() time.Time) {
	s.now = now
}

// SetCheckRecorder registers fn to be called after every applied check.
func (s *VerificationService) SetCheckRecorder(fn CheckRecorder) {
	s.onCheck = fn
}

// SetEventDispatch registers fn to receive lifecycle events.
func (s *VerificationService) SetEventDispatch(fn EventDispatchFunc) {
	s.onEvent = fn
}

func (s *VerificationService) emit(ctx context.Context, eventType string, v *model.DomainVerification) {
	if s.onEvent == nil {
		return
	}
	s.onEvent(ctx, eventType, map[string]string{
		"id":              v.ID.String(),
		"organization_id": v.OrganizationID.String(),
		"domain":          v.Domain,
		"status":          string(v.Status),
		"dns_record_name": v.DNSRecordName,
	})
}

// Policy returns the active verification policy.
func (s *VerificationService) Policy() Policy {
	return s.policy
}

// Instructions returns the DNS record the owner of v.Domain must publish.
func (s *VerificationService) Instructions(v *model.DomainVerification) DNSInstructions {
	return DNSInstructions{
		Host:  v.DNSRecordName,
		Type:  "TXT",
		Value: s.policy.ExpectedValue(v.VerificationToken),
	}
}

// CreateDomainVerification starts a new PENDING verification for domain in
// the organization. It fails with a *DuplicateVerificationError if an active
// verification for the same domain already exists.
func (s *VerificationService) CreateDomainVerification(ctx context.Context, orgID uuid.UUID, domain string, createdBy *uuid.UUID) (*model.DomainVerification, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, ErrInvalidDomain
	}

	token, err := dns.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}

	now := s.now()
	v := &model.DomainVerification{
		OrganizationID:     orgID,
		Domain:             domain,
		VerificationMethod: model.MethodDNSTXT,
		Status:             model.StatusPending,
		VerificationToken:  token,
		DNSRecordName:      dns.RecordHost(s.policy.DNSRecordPrefix, domain),
		ExpiresAt:          now.Add(s.policy.ValidityWindow),
		CreatedBy:          createdBy,
	}

	err = s.tx.InTx(ctx, func(ctx context.Context, st Stores) error {
		existing, err := st.Verifications.FindByOrganizationIDAndDomain(ctx, orgID, domain, false)
		if err != nil {
			return fmt.Errorf("find existing verification: %w", err)
		}
		if len(existing) > 0 {
			return s.duplicateError(existing[0])
		}
		if err := st.Verifications.Save(ctx, v); err != nil {
			if errors.Is(err, repository.ErrDuplicateActive) {
				return &DuplicateVerificationError{
					Message: fmt.Sprintf("a verification for domain %s already exists in this organization", domain),
				}
			}
			return fmt.Errorf("save verification: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("domain verification created",
		zap.String("id", v.ID.String()),
		zap.String("organization_id", orgID.String()),
		zap.String("domain", domain),
		zap.String("dns_record_name", v.DNSRecordName),
		zap.Time("expires_at", v.ExpiresAt),
	)
	s.emit(ctx, webhooks.EventVerificationCreated, v)
	return v, nil
}

func (s *VerificationService) duplicateError(existing *model.DomainVerification) error {
	in := s.Instructions(existing)
	var msg string
	switch existing.Status {
	case model.StatusVerified:
		msg = fmt.Sprintf("domain %s is already verified for this organization", existing.Domain)
	case model.StatusPending:
		msg = fmt.Sprintf("a verification for domain %s is already pending; publish a TXT record at %s with value %s and check it again",
			existing.Domain, in.Host, in.Value)
	case model.StatusFailed:
		msg = fmt.Sprintf("a previous verification for domain %s failed; publish a TXT record at %s with value %s, then reset that verification or delete it and create a new one",
			existing.Domain, in.Host, in.Value)
	case model.StatusExpired:
		msg = fmt.Sprintf("the verification for domain %s has expired; delete or reset it first", existing.Domain)
	default:
		msg = fmt.Sprintf("a verification for domain %s already exists in this organization", existing.Domain)
	}
	return &DuplicateVerificationError{Existing: existing, Message: msg}
}

// CheckAndUpdateVerification looks up the verification's TXT record and
// applies the outcome. The DNS lookup runs before any transaction is opened.
func (s *VerificationService) CheckAndUpdateVerification(ctx context.Context, id uuid.UUID) (*model.DomainVerification, error) {
	v, err := s.GetDomainVerification(ctx, id)
	if err != nil {
		return nil, err
	}

	result := s.verifier.CheckDomainVerification(ctx, v.DNSRecordName, s.policy.ExpectedValue(v.VerificationToken))

	var (
		updated *model.DomainVerification
		prev    model.VerificationStatus
	)
	err = s.tx.InTx(ctx, func(ctx context.Context, st Stores) error {
		cur, err := st.Verifications.FindByIDForUpdate(ctx, id)
		if err != nil {
			return s.mapNotFound(id, err)
		}
		prev = cur.Status
		if cur.VerificationToken != v.VerificationToken {
			// Reset while the lookup was in flight; the result is for the old token.
			s.logger.Info("discarding check for superseded token", zap.String("id", id.String()))
			updated = cur
			return nil
		}
		if err := s.applyResult(ctx, st, cur, result); err != nil {
			return err
		}
		updated = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	if updated.Status != prev {
		switch updated.Status {
		case model.StatusVerified:
			s.emit(ctx, webhooks.EventVerificationVerified, updated)
		case model.StatusFailed:
			s.emit(ctx, webhooks.EventVerificationFailed, updated)
		case model.StatusExpired:
			s.emit(ctx, webhooks.EventVerificationExpired, updated)
		}
	}
	return updated, nil
}

func (s *VerificationService) applyResult(ctx context.Context, st Stores, v *model.DomainVerification, result dns.Result) error {
	now := s.now()

	var (
		next    model.VerificationStatus
		outcome string
	)
	switch r := result.(type) {
	case dns.Verified:
		next, outcome = model.StatusVerified, OutcomeVerified
	case dns.Misconfigured:
		next, outcome = model.StatusFailed, OutcomeMisconfigured
		s.logger.Info("TXT records found but none match",
			zap.String("id", v.ID.String()),
			zap.String("domain", v.Domain),
			zap.Strings("found", r.Found),
		)
	case dns.NotFound:
		next, outcome = model.StatusPending, OutcomeNotFound
		if now.After(v.ExpiresAt) {
			next = model.StatusExpired
		}
	default:
		return fmt.Errorf("unhandled DNS result %T", result)
	}

	// Only PENDING moves; other states just record the attempt.
	if v.Status != model.StatusPending {
		next = v.Status
	}

	prev := v.Status
	if err := s.updateStatus(ctx, st, v, next, now); err != nil {
		return err
	}

	if prev != v.Status {
		s.logger.Info("domain verification status changed",
			zap.String("id", v.ID.String()),
			zap.String("domain", v.Domain),
			zap.String("from", string(prev)),
			zap.String("to", string(v.Status)),
			zap.Int("attempts", v.Attempts),
		)
	}

	if outcome == OutcomeVerified && v.Status == model.StatusVerified {
		if err := s.enableEnforcement(ctx, st, v); err != nil {
			return err
		}
	}

	if s.onCheck != nil {
		s.onCheck(outcome, v.Status)
	}
	return nil
}

// updateStatus is the single write path for check results.
func (s *VerificationService) updateStatus(ctx context.Context, st Stores, v *model.DomainVerification, status model.VerificationStatus, now time.Time) error {
	if !v.Active() {
		return &InvalidTransitionError{
			Status:    v.Status,
			Tombstone: true,
			Remedy:    fmt.Sprintf("verification %s has been deleted; create a new verification instead", v.ID),
		}
	}

	v.Attempts++
	v.LastCheckedAt = &now
	if status == model.StatusVerified && v.VerifiedAt == nil {
		v.VerifiedAt = &now
	}
	v.Status = status

	if err := st.Verifications.Update(ctx, v); err != nil {
		return s.mapNotFound(v.ID, err)
	}
	return nil
}

func (s *VerificationService) enableEnforcement(ctx context.Context, st Stores, v *model.DomainVerification) error {
	status, err := st.SSO.GetSSOStatus(ctx, v.OrganizationID)
	if err != nil {
		return fmt.Errorf("get sso status: %w", err)
	}
	if status != model.SSOStatusActive {
		return nil
	}

	exists, err := st.Enforcements.ExistsByOrgAndDomain(ctx, v.OrganizationID, v.Domain)
	if err != nil {
		return fmt.Errorf("check email domain enforcement: %w", err)
	}
	if exists {
		return nil
	}

	e := &model.EmailDomainEnforcement{OrganizationID: v.OrganizationID, EmailDomain: v.Domain}
	if err := st.Enforcements.Create(ctx, e); err != nil {
		return fmt.Errorf("create email domain enforcement: %w", err)
	}
	s.logger.Info("email domain enforcement enabled",
		zap.String("organization_id", v.OrganizationID.String()),
		zap.String("domain", v.Domain),
	)
	return nil
}

// ResetDomainVerification moves a FAILED or EXPIRED verification back to
// PENDING with a fresh token and expiry.
func (s *VerificationService) ResetDomainVerification(ctx context.Context, id uuid.UUID) (*model.DomainVerification, error) {
	token, err := dns.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}

	var updated *model.DomainVerification
	err = s.tx.InTx(ctx, func(ctx context.Context, st Stores) error {
		v, err := st.Verifications.FindByIDForUpdate(ctx, id)
		if err != nil {
			return s.mapNotFound(id, err)
		}
		if !v.Active() {
			return &InvalidTransitionError{
				Status:    v.Status,
				Tombstone: true,
				Remedy:    fmt.Sprintf("verification %s has been deleted and cannot be reset; create a new verification instead", id),
			}
		}
		if !v.Status.Resettable() {
			return resetRefused(v)
		}

		v.VerificationToken = token
		v.Status = model.StatusPending
		v.ExpiresAt = s.now().Add(s.policy.ValidityWindow)
		v.Attempts = 0
		v.LastCheckedAt = nil
		if err := st.Verifications.Update(ctx, v); err != nil {
			return s.mapNotFound(id, err)
		}
		updated = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("domain verification reset",
		zap.String("id", id.String()),
		zap.String("domain", updated.Domain),
		zap.Time("expires_at", updated.ExpiresAt),
	)
	s.emit(ctx, webhooks.EventVerificationReset, updated)
	return updated, nil
}

// resetRefused explains why v cannot be reset from its current status.
func resetRefused(v *model.DomainVerification) error {
	remedy := fmt.Sprintf("verification for domain %s cannot be reset from status %s", v.Domain, v.Status)
	switch v.Status {
	case model.StatusVerified:
		remedy = fmt.Sprintf("domain %s is already verified; delete it and create a new verification to verify again", v.Domain)
	case model.StatusPending:
		remedy = fmt.Sprintf("verification for domain %s is already pending; publish the TXT record and check it instead", v.Domain)
	}
	return &InvalidTransitionError{Status: v.Status, Remedy: remedy}
}

// DeleteDomainVerification tombstones the verification and removes any
// email-domain enforcement for its domain. Deleting twice is not an error.
func (s *VerificationService) DeleteDomainVerification(ctx context.Context, id uuid.UUID) error {
	var deleted *model.DomainVerification
	err := s.tx.InTx(ctx, func(ctx context.Context, st Stores) error {
		v, err := st.Verifications.FindByIDForUpdate(ctx, id)
		if err != nil {
			return s.mapNotFound(id, err)
		}
		if !v.Active() {
			s.logger.Info("domain verification already deleted", zap.String("id", id.String()))
			return nil
		}

		v.Tombstone = true
		if err := st.Verifications.Update(ctx, v); err != nil {
			return s.mapNotFound(id, err)
		}

		n, err := st.Enforcements.DeleteByOrgAndDomain(ctx, v.OrganizationID, v.Domain)
		if err != nil {
			return fmt.Errorf("delete email domain enforcement: %w", err)
		}
		s.logger.Info("domain verification deleted",
			zap.String("id", id.String()),
			zap.String("domain", v.Domain),
			zap.Int64("enforcements_removed", n),
		)
		deleted = v
		return nil
	})
	if err != nil {
		return err
	}
	if deleted != nil {
		s.emit(ctx, webhooks.EventVerificationDeleted, deleted)
	}
	return nil
}

// GetDomainVerification returns an active verification by ID.
func (s *VerificationService) GetDomainVerification(ctx context.Context, id uuid.UUID) (*model.DomainVerification, error) {
	return s.FindByID(ctx, id, false)
}

// FindByID returns a verification by ID, including tombstoned ones when
// includeDeleted is set.
func (s *VerificationService) FindByID(ctx context.Context, id uuid.UUID, includeDeleted bool) (*model.DomainVerification, error) {
	v, err := s.stores.Verifications.FindByID(ctx, id, includeDeleted)
	if err != nil {
		return nil, s.mapNotFound(id, err)
	}
	return v, nil
}

// FindByOrganizationIDAndDomain lists the organization's verifications for domain, newest first.
func (s *VerificationService) FindByOrganizationIDAndDomain(ctx context.Context, orgID uuid.UUID, domain string, includeDeleted bool) ([]*model.DomainVerification, error) {
	list, err := s.stores.Verifications.FindByOrganizationIDAndDomain(ctx, orgID, domain, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("find verifications by domain: %w", err)
	}
	return list, nil
}

// FindByOrganizationID lists every verification in the organization.
func (s *VerificationService) FindByOrganizationID(ctx context.Context, orgID uuid.UUID, includeDeleted bool) ([]*model.DomainVerification, error) {
	list, err := s.stores.Verifications.FindByOrganizationID(ctx, orgID, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("find verifications by organization: %w", err)
	}
	return list, nil
}

// FindByStatus lists verifications in the given status, oldest first.
func (s *VerificationService) FindByStatus(ctx context.Context, status model.VerificationStatus, includeDeleted bool) ([]*model.DomainVerification, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown verification status %q", status)
	}
	list, err := s.stores.Verifications.FindByStatus(ctx, status, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("find verifications by status: %w", err)
	}
	return list, nil
}

func (s *VerificationService) mapNotFound(id uuid.UUID, err error) error {
	if errors.Is(err, repository.ErrVerificationNotFound) {
		return fmt.Errorf("%w: %s", ErrVerificationNotFound, id)
	}
	return err
}
