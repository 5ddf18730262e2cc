package model

import (
	"time"

	"github.com/google/uuid"
)

// SSOStatus is the state of an organization's SSO configuration.
type SSOStatus string

const (
	SSOStatusActive SSOStatus = "active"
	SSOStatusDraft  SSOStatus = "draft"
	// SSOStatusNone is reported when the organization has no SSO configuration.
	SSOStatusNone SSOStatus = ""
)

// EmailDomainEnforcement requires users signing in with an address under
// EmailDomain to authenticate through the organization's SSO provider.
type EmailDomainEnforcement struct {
	ID             uuid.UUID `json:"id"              db:"id"`
	OrganizationID uuid.UUID `json:"organization_id" db:"organization_id"`
	EmailDomain    string    `json:"email_domain"    db:"email_domain"`
	CreatedAt      time.Time `json:"created_at"      db:"created_at"`
}
