package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jmerrifield20/domainverify/internal/verification/model"
)

var (
	// ErrVerificationNotFound is returned when a domain verification is not found.
	ErrVerificationNotFound = errors.New("domain verification not found")
	// ErrDuplicateActive is returned when inserting a second active verification
	// for the same organization and domain.
	ErrDuplicateActive = errors.New("active domain verification already exists")
)

const verificationColumns = `id, organization_id, domain, verification_method, status,
	verification_token, dns_record_name, attempts, last_checked_at, verified_at,
	expires_at, created_by, tombstone, created_at, updated_at`

// VerificationRepository provides persistence for domain verifications.
type VerificationRepository struct {
	db DBTX
}

// NewVerificationRepository creates a VerificationRepository bound to db, which
// may be the pool or an open transaction.
func NewVerificationRepository(db DBTX) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// Save inserts a new verification and assigns its ID and timestamps.
func (r *VerificationRepository) Save(ctx context.Context, v *model.DomainVerification) error {
	now := time.Now().UTC()
	v.ID = uuid.New()
	v.CreatedAt = now
	v.UpdatedAt = now

	_, err := r.db.Exec(ctx,
		`INSERT INTO domain_verifications (`+verificationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		v.ID, v.OrganizationID, v.Domain, v.VerificationMethod, v.Status,
		v.VerificationToken, v.DNSRecordName, v.Attempts, v.LastCheckedAt, v.VerifiedAt,
		v.ExpiresAt, v.CreatedBy, v.Tombstone, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateActive
		}
		return fmt.Errorf("insert domain verification: %w", err)
	}
	return nil
}

// Update writes every mutable field of v back to its row.
func (r *VerificationRepository) Update(ctx context.Context, v *model.DomainVerification) error {
	v.UpdatedAt = time.Now().UTC()

	tag, err := r.db.Exec(ctx,
		`UPDATE domain_verifications
		 SET status = $2, verification_token = $3, attempts = $4, last_checked_at = $5,
		     verified_at = $6, expires_at = $7, tombstone = $8, updated_at = $9
		 WHERE id = $1`,
		v.ID, v.Status, v.VerificationToken, v.Attempts, v.LastCheckedAt,
		v.VerifiedAt, v.ExpiresAt, v.Tombstone, v.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateActive
		}
		return fmt.Errorf("update domain verification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVerificationNotFound
	}
	return nil
}

// FindByID returns a single verification. Tombstoned rows are only returned
// when includeDeleted is set.
func (r *VerificationRepository) FindByID(ctx context.Context, id uuid.UUID, includeDeleted bool) (*model.DomainVerification, error) {
	return r.findOne(ctx,
		`SELECT `+verificationColumns+` FROM domain_verifications
		 WHERE id = $1 AND (tombstone = false OR $2)`, id, includeDeleted)
}

// FindByIDForUpdate returns the verification, tombstoned or not, and locks its
// row until the surrounding transaction ends. It must be called on a
// repository bound to a transaction.
func (r *VerificationRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.DomainVerification, error) {
	return r.findOne(ctx,
		`SELECT `+verificationColumns+` FROM domain_verifications
		 WHERE id = $1 FOR UPDATE`, id)
}

// FindByOrganizationIDAndDomain returns the verifications for a domain claimed
// by an organization, newest first. Without includeDeleted there is at most one.
func (r *VerificationRepository) FindByOrganizationIDAndDomain(ctx context.Context, orgID uuid.UUID, domain string, includeDeleted bool) ([]*model.DomainVerification, error) {
	return r.findMany(ctx,
		`SELECT `+verificationColumns+` FROM domain_verifications
		 WHERE organization_id = $1 AND domain = $2 AND (tombstone = false OR $3)
		 ORDER BY created_at DESC`, orgID, domain, includeDeleted)
}

// FindByOrganizationID returns all verifications of an organization, newest first.
func (r *VerificationRepository) FindByOrganizationID(ctx context.Context, orgID uuid.UUID, includeDeleted bool) ([]*model.DomainVerification, error) {
	return r.findMany(ctx,
		`SELECT `+verificationColumns+` FROM domain_verifications
		 WHERE organization_id = $1 AND (tombstone = false OR $2)
		 ORDER BY created_at DESC`, orgID, includeDeleted)
}

// FindByStatus returns all verifications in the given status, oldest first so
// that long-waiting records are checked first.
func (r *VerificationRepository) FindByStatus(ctx context.Context, status model.VerificationStatus, includeDeleted bool) ([]*model.DomainVerification, error) {
	return r.findMany(ctx,
		`SELECT `+verificationColumns+` FROM domain_verifications
		 WHERE status = $1 AND (tombstone = false OR $2)
		 ORDER BY created_at ASC`, status, includeDeleted)
}

func (r *VerificationRepository) findOne(ctx context.Context, query string, args ...any) (*model.DomainVerification, error) {
	v, err := scanVerification(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVerificationNotFound
		}
		return nil, fmt.Errorf("get domain verification: %w", err)
	}
	return v, nil
}

func (r *VerificationRepository) findMany(ctx context.Context, query string, args ...any) ([]*model.DomainVerification, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query domain verifications: %w", err)
	}
	defer rows.Close()

	var out []*model.DomainVerification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan domain verification: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domain verifications: %w", err)
	}
	return out, nil
}

func scanVerification(row pgx.Row) (*model.DomainVerification, error) {
	v := &model.DomainVerification{}
	err := row.Scan(
		&v.ID, &v.OrganizationID, &v.Domain, &v.VerificationMethod, &v.Status,
		&v.VerificationToken, &v.DNSRecordName, &v.Attempts, &v.LastCheckedAt, &v.VerifiedAt,
		&v.ExpiresAt, &v.CreatedBy, &v.Tombstone, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}
