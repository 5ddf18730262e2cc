// Package scheduler periodically re-checks PENDING domain verifications.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jmerrifield20/domainverify/internal/verification/model"
	"github.com/jmerrifield20/domainverify/internal/verification/service"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrSweepInProgress is returned by RunOnce while another sweep is running.
var ErrSweepInProgress = errors.New("sweep already in progress")

// checker is the subset of *service.VerificationService used by the scheduler.
type checker interface {
	FindByStatus(ctx context.Context, status model.VerificationStatus, includeDeleted bool) ([]*model.DomainVerification, error)
	CheckAndUpdateVerification(ctx context.Context, id uuid.UUID) (*model.DomainVerification, error)
}

// Config controls the sweep cadence and fan-out.
type Config struct {
	// Schedule is a standard five-field cron expression or descriptor.
	Schedule string
	// Concurrency bounds the checks running at once.
	Concurrency int
	// Timeout bounds a single check, DNS lookup included.
	Timeout time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{Schedule: "*/5 * * * *", Concurrency: 8, Timeout: 30 * time.Second}
}

// Report summarizes one sweep.
type Report struct {
	Pending     int
	Checked     int
	Skipped     int
	Transitions map[model.VerificationStatus]int
	// Err aggregates the checks that failed; nil when all succeeded.
	Err error
}

// SweepRecorder is notified after every sweep.
type SweepRecorder func(pending int, failed bool, d time.Duration)

// Scheduler runs verification sweeps on a cron schedule.
type Scheduler struct {
	svc     checker
	cfg     Config
	cron    *cron.Cron
	running atomic.Bool
	onSweep SweepRecorder
	logger  *zap.Logger
}

// New creates a Scheduler. It fails if cfg.Schedule does not parse.
func New(svc checker, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	d := DefaultConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = d.Schedule
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = d.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}

	cl := cronLogger{l: logger.Sugar()}
	return &Scheduler{
		svc: svc,
		cfg: cfg,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}, nil
}

// SetSweepRecorder registers fn to be called after every sweep.
func (s *Scheduler) SetSweepRecorder(fn SweepRecorder) {
	s.onSweep = fn
}

// Start schedules sweeps until Stop is called. Sweeps use ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
			s.logger.Error("verification sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("verification scheduler started",
		zap.String("schedule", s.cfg.Schedule),
		zap.Int("concurrency", s.cfg.Concurrency),
	)
	return nil
}

// Stop stops scheduling and returns a context that is done once the running
// sweep, if any, has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce checks every PENDING verification once. Individual check failures
// are collected in Report.Err; the returned error is only set when the sweep
// could not run at all.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Report{}, ErrSweepInProgress
	}
	defer s.running.Store(false)

	start := time.Now()
	report := Report{Transitions: make(map[model.VerificationStatus]int)}

	pending, err := s.svc.FindByStatus(ctx, model.StatusPending, false)
	if err != nil {
		s.record(report, true, start)
		return report, fmt.Errorf("list pending verifications: %w", err)
	}
	report.Pending = len(pending)

	var (
		mu   sync.Mutex
		errs *multierror.Error
		g    errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)

	for _, v := range pending {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
			defer cancel()

			updated, err := s.svc.CheckAndUpdateVerification(cctx, v.ID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Checked++
				if updated.Status != v.Status {
					report.Transitions[updated.Status]++
				}
			case errors.Is(err, service.ErrVerificationNotFound), errors.Is(err, service.ErrInvalidTransition):
				// deleted since it was listed
				report.Skipped++
			default:
				errs = multierror.Append(errs, fmt.Errorf("check %s (%s): %w", v.ID, v.Domain, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Err = errs.ErrorOrNil()
	s.record(report, report.Err != nil, start)

	fields := []zap.Field{
		zap.Int("pending", report.Pending),
		zap.Int("checked", report.Checked),
		zap.Int("skipped", report.Skipped),
		zap.Int("verified", report.Transitions[model.StatusVerified]),
		zap.Int("failed", report.Transitions[model.StatusFailed]),
		zap.Int("expired", report.Transitions[model.StatusExpired]),
		zap.Duration("took", time.Since(start)),
	}
	if report.Err != nil {
		s.logger.Warn("verification sweep finished with errors", append(fields, zap.Error(report.Err))...)
	} else {
		s.logger.Info("verification sweep finished", fields...)
	}
	return report, nil
}

func (s *Scheduler) record(r Report, failed bool, start time.Time) {
	if s.onSweep != nil {
		s.onSweep(r.Pending, failed, time.Since(start))
	}
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
