package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/domainverify/internal/verification/model"
)

// EnforcementRepository provides persistence for SSO email domain enforcements.
type EnforcementRepository struct {
	db DBTX
}

// NewEnforcementRepository creates an EnforcementRepository bound to db.
func NewEnforcementRepository(db DBTX) *EnforcementRepository {
	return &EnforcementRepository{db: db}
}

// ExistsByOrgAndDomain reports whether the organization already enforces SSO
// for the email domain.
func (r *EnforcementRepository) ExistsByOrgAndDomain(ctx context.Context, orgID uuid.UUID, domain string) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM sso_email_domain_enforcements
		 WHERE organization_id = $1 AND email_domain = $2)`, orgID, domain,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check email domain enforcement: %w", err)
	}
	return exists, nil
}

// Create inserts an enforcement. A concurrent duplicate is absorbed by the
// unique constraint and reported as success.
func (r *EnforcementRepository) Create(ctx context.Context, e *model.EmailDomainEnforcement) error {
	e.ID = uuid.New()
	e.CreatedAt = time.Now().UTC()

	_, err := r.db.Exec(ctx,
		`INSERT INTO sso_email_domain_enforcements (id, organization_id, email_domain, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (organization_id, email_domain) DO NOTHING`,
		e.ID, e.OrganizationID, e.EmailDomain, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert email domain enforcement: %w", err)
	}
	return nil
}

// DeleteByOrgAndDomain removes the enforcement, returning the number of rows removed.
func (r *EnforcementRepository) DeleteByOrgAndDomain(ctx context.Context, orgID uuid.UUID, domain string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM sso_email_domain_enforcements WHERE organization_id = $1 AND email_domain = $2`,
		orgID, domain,
	)
	if err != nil {
		return 0, fmt.Errorf("delete email domain enforcement: %w", err)
	}
	return tag.RowsAffected(), nil
}
