package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jmerrifield20/domainverify/internal/verification/model"
)

// SSOConfigRepository reads organizations' SSO configuration status.
type SSOConfigRepository struct {
	db DBTX
}

// NewSSOConfigRepository creates an SSOConfigRepository bound to db.
func NewSSOConfigRepository(db DBTX) *SSOConfigRepository {
	return &SSOConfigRepository{db: db}
}

// GetSSOStatus returns the organization's SSO status, or model.SSOStatusNone
// when it has no SSO configuration.
func (r *SSOConfigRepository) GetSSOStatus(ctx context.Context, orgID uuid.UUID) (model.SSOStatus, error) {
	var status model.SSOStatus
	err := r.db.QueryRow(ctx,
		`SELECT status FROM sso_configs WHERE organization_id = $1`, orgID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SSOStatusNone, nil
		}
		return model.SSOStatusNone, fmt.Errorf("get sso status: %w", err)
	}
	return status, nil
}
