package model

import (
	"time"

	"github.com/google/uuid"
)

// VerificationStatus represents the lifecycle state of a domain verification.
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "PENDING"
	StatusVerified VerificationStatus = "VERIFIED"
	StatusFailed   VerificationStatus = "FAILED"
	StatusExpired  VerificationStatus = "EXPIRED"
)

// Valid reports whether s is one of the known statuses.
func (s VerificationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Resettable reports whether a verification in status s may be reset to PENDING.
func (s VerificationStatus) Resettable() bool {
	return s == StatusFailed || s == StatusExpired
}

// VerificationMethod identifies how ownership is proven.
type VerificationMethod string

// MethodDNSTXT is the only method implemented today.
const MethodDNSTXT VerificationMethod = "DNS_TXT"

// DomainVerification is an organization's claim to a domain, proven by
// publishing a TXT record at DNSRecordName.
type DomainVerification struct {
	ID                 uuid.UUID          `json:"id"                        db:"id"`
	OrganizationID     uuid.UUID          `json:"organization_id"           db:"organization_id"`
	Domain             string             `json:"domain"                    db:"domain"`
	VerificationMethod VerificationMethod `json:"verification_method"       db:"verification_method"`
	Status             VerificationStatus `json:"status"                    db:"status"`
	VerificationToken  string             `json:"verification_token"        db:"verification_token"`
	// DNSRecordName is computed once at creation and never recomputed, so a
	// prefix change does not invalidate verifications already in flight.
	DNSRecordName string     `json:"dns_record_name"           db:"dns_record_name"`
	Attempts      int        `json:"attempts"                  db:"attempts"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty" db:"last_checked_at"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"     db:"verified_at"`
	ExpiresAt     time.Time  `json:"expires_at"                db:"expires_at"`
	CreatedBy     *uuid.UUID `json:"created_by,omitempty"      db:"created_by"`
	Tombstone     bool       `json:"tombstone"                 db:"tombstone"`
	CreatedAt     time.Time  `json:"created_at"                db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"                db:"updated_at"`
}

// Active reports whether the verification has not been deleted.
func (v *DomainVerification) Active() bool {
	return !v.Tombstone
}

// CreateVerificationRequest is the payload for starting a domain verification.
type CreateVerificationRequest struct {
	Domain string `json:"domain" binding:"required"`
}
