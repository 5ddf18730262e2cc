// Package app wires the verification service from configuration. Both the
// server and the CLI build their service through it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/domainverify/internal/audit"
	"github.com/jmerrifield20/domainverify/internal/config"
	"github.com/jmerrifield20/domainverify/internal/dns"
	"github.com/jmerrifield20/domainverify/internal/health"
	"github.com/jmerrifield20/domainverify/internal/scheduler"
	"github.com/jmerrifield20/domainverify/internal/verification/service"
	"github.com/jmerrifield20/domainverify/internal/webhooks"
	"go.uber.org/zap"
)

// NewResolver returns the TXT resolver selected by cfg.
func NewResolver(cfg config.DNSConfig) (dns.Resolver, error) {
	switch cfg.Resolver {
	case config.ResolverDirect:
		r, err := dns.NewMiekgResolver(cfg.Nameservers)
		if err != nil {
			return nil, fmt.Errorf("configure dns client: %w", err)
		}
		return r, nil
	case config.ResolverSystem, "":
		return nil, nil // TXTLookup falls back to the host resolver
	default:
		return nil, fmt.Errorf("unknown dns resolver %q", cfg.Resolver)
	}
}

// NewVerifier builds the TXT verifier for cfg.
func NewVerifier(cfg config.DNSConfig, logger *zap.Logger) (*dns.Verifier, error) {
	resolver, err := NewResolver(cfg)
	if err != nil {
		return nil, err
	}
	lookupCfg := dns.DefaultLookupConfig()
	if cfg.Timeout > 0 {
		lookupCfg.Timeout = cfg.Timeout
	}
	lookupCfg.Retries = cfg.Retries
	lookup := dns.NewTXTLookup(resolver, lookupCfg, logger)
	return dns.NewVerifier(lookup, logger), nil
}

// Policy converts the verification settings to a service policy.
func Policy(cfg config.VerificationConfig) service.Policy {
	return service.Policy{
		DNSRecordPrefix: cfg.DNSRecordPrefix,
		TXTValuePrefix:  cfg.TXTValuePrefix,
		ValidityWindow:  cfg.ValidityWindow,
	}
}

// NewVerificationService builds a Postgres-backed VerificationService.
func NewVerificationService(cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) (*service.VerificationService, error) {
	verifier, err := NewVerifier(cfg.DNS, logger)
	if err != nil {
		return nil, err
	}
	return service.NewVerificationService(
		service.PostgresStores(pool),
		service.NewPostgresTx(pool),
		verifier,
		Policy(cfg.Verification),
		logger,
	), nil
}

// NewScheduler builds the sweep scheduler for svc.
func NewScheduler(cfg config.SchedulerConfig, svc *service.VerificationService, logger *zap.Logger) (*scheduler.Scheduler, error) {
	return scheduler.New(svc, scheduler.Config{
		Schedule:    cfg.Schedule,
		Concurrency: cfg.Concurrency,
		Timeout:     cfg.Timeout,
	}, logger)
}

// NewDispatcher builds the webhook dispatcher. It returns nil when no
// webhook URLs are configured.
func NewDispatcher(cfg config.WebhooksConfig, logger *zap.Logger) *webhooks.Dispatcher {
	if len(cfg.URLs) == 0 {
		return nil
	}
	endpoints := make([]webhooks.Endpoint, 0, len(cfg.URLs))
	for _, u := range cfg.URLs {
		endpoints = append(endpoints, webhooks.Endpoint{URL: u, Secret: cfg.Secret})
	}
	return webhooks.NewDispatcher(webhooks.Config{Endpoints: endpoints, Timeout: cfg.Timeout}, logger)
}

// NewHealthChecker registers a probe for every external dependency: the
// database always, and the nameservers when TXT lookups bypass the system
// resolver.
func NewHealthChecker(cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) (*health.Checker, error) {
	h := health.New(health.Config{}, logger)
	h.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})

	if cfg.DNS.Resolver == config.ResolverDirect {
		resolver, err := dns.NewMiekgResolver(cfg.DNS.Nameservers)
		if err != nil {
			return nil, fmt.Errorf("configure dns client: %w", err)
		}
		h.Register("dns", func(ctx context.Context) error {
			return probeResolver(ctx, resolver)
		})
	}
	return h, nil
}

// probeResolver asks for the root zone's TXT records. Any definitive answer,
// including an empty one, means the nameservers are reachable.
func probeResolver(ctx context.Context, r dns.Resolver) error {
	_, err := r.LookupTXT(ctx, ".")
	if err == nil || errors.Is(err, dns.ErrNoRecords) {
		return nil
	}
	return err
}

// Events fans service lifecycle events out to the audit log and, when
// configured, to webhooks.
type Events struct {
	audit    *audit.Recorder
	Webhooks *webhooks.Dispatcher
}

// NewEvents builds the event sinks for a Postgres-backed service.
func NewEvents(cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) *Events {
	return &Events{
		audit:    audit.NewRecorder(audit.NewPostgresLedger(pool, logger), logger),
		Webhooks: NewDispatcher(cfg.Webhooks, logger),
	}
}

// Dispatch matches service.EventDispatchFunc. The audit entry is written
// before webhooks are queued.
func (e *Events) Dispatch(ctx context.Context, eventType string, payload map[string]string) {
	e.audit.Record(ctx, eventType, payload)
	if e.Webhooks != nil {
		e.Webhooks.Dispatch(ctx, eventType, payload)
	}
}

// Wait blocks until queued webhook deliveries finish or ctx is done.
func (e *Events) Wait(ctx context.Context) error {
	if e.Webhooks == nil {
		return nil
	}
	return e.Webhooks.Wait(ctx)
}
