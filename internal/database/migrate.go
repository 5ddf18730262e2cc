package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmerrifield20/domainverify/migrations"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// MigrationTable is the goose version table used by this service.
const MigrationTable = "domainverify_schema_version"

// Migrate applies the embedded migrations up to the latest version.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	db, err := gooseDB(pool, logger)
	if err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Rollback reverts the most recently applied migration.
func Rollback(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	db, err := gooseDB(pool, logger)
	if err != nil {
		return err
	}
	if err := goose.DownContext(ctx, db, "."); err != nil {
		return fmt.Errorf("roll back migration: %w", err)
	}
	return nil
}

// Version returns the current schema version.
func Version(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) (int64, error) {
	db, err := gooseDB(pool, logger)
	if err != nil {
		return 0, err
	}
	v, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v, nil
}

// gooseDB configures goose and wraps pool as a *sql.DB. The wrapper shares
// pool's connections and must not be closed.
func gooseDB(pool *pgxpool.Pool, logger *zap.Logger) (*sql.DB, error) {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{l: logger.Sugar()})
	goose.SetTableName(MigrationTable)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	return stdlib.OpenDBFromPool(pool), nil
}

// gooseLogger routes goose output through zap. Fatalf does not exit; goose
// returns the error to the caller as well.
type gooseLogger struct {
	l *zap.SugaredLogger
}

func (g gooseLogger) Printf(format string, args ...any) { g.l.Infof(format, args...) }

func (g gooseLogger) Fatalf(format string, args ...any) { g.l.Errorf(format, args...) }
