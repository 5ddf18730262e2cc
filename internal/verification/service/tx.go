package service

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/domainverify/internal/verification/repository"
)

// PostgresStores returns the Postgres-backed stores bound to db, which may be
// the pool or an open transaction.
func PostgresStores(db repository.DBTX) Stores {
	return Stores{
		Verifications: repository.NewVerificationRepository(db),
		Enforcements:  repository.NewEnforcementRepository(db),
		SSO:           repository.NewSSOConfigRepository(db),
	}
}

// PostgresTx runs each unit of work in its own pgx transaction.
type PostgresTx struct {
	pool *pgxpool.Pool
}

// NewPostgresTx creates a PostgresTx over pool.
func NewPostgresTx(pool *pgxpool.Pool) *PostgresTx {
	return &PostgresTx{pool: pool}
}

// InTx implements TxRunner.
func (p *PostgresTx) InTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	return repository.WithTx(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(ctx, PostgresStores(tx))
	})
}
