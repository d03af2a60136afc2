// Package sweep periodically resolves every live policy so that dangling
// rule references are reported before a caller hits them.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/upb/guardrails-control-plane/backend/internal/observability"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"github.com/upb/guardrails-control-plane/backend/services"
	"go.uber.org/zap"
)

// Resolver resolves a policy into its live rule set
type Resolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID, appID *uuid.UUID, policyID uuid.UUID) (*models.Resolution, error)
}

// Violation is a policy that failed to resolve because of a dangling reference
type Violation struct {
	TenantID uuid.UUID              `json:"tenant_id"`
	PolicyID uuid.UUID              `json:"policy_id"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// Result summarizes one sweep
type Result struct {
	Policies   int         `json:"policies"`
	Violations []Violation `json:"violations"`
	Duration   time.Duration
}

// Sweeper resolves every non-archived policy of every tenant
type Sweeper struct {
	tenants  repositories.TenantRepository
	policies repositories.PolicyRepository
	resolver Resolver
	logger   *zap.Logger
	metrics  *observability.Metrics

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper creates a new Sweeper
func NewSweeper(repos *repositories.Repositories, resolver Resolver, logger *zap.Logger, metrics *observability.Metrics) *Sweeper {
	return &Sweeper{
		tenants:  repos.Tenants,
		policies: repos.Policies,
		resolver: resolver,
		logger:   logger.With(zap.String("component", "integrity_sweep")),
		metrics:  metrics,
	}
}

// RunOnce sweeps all policies. Integrity errors are collected as
// violations; any other failure aborts the sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{Violations: []Violation{}}

	err := s.sweep(ctx, result)
	result.Duration = time.Since(start)
	s.metrics.RecordSweep(len(result.Violations), err != nil)
	if err != nil {
		return result, err
	}

	for _, v := range result.Violations {
		s.logger.Error("dangling rule reference",
			zap.String("tenant_id", v.TenantID.String()),
			zap.String("policy_id", v.PolicyID.String()),
			zap.Any("details", v.Details),
		)
	}
	s.logger.Info("integrity sweep completed",
		zap.Int("policies", result.Policies),
		zap.Int("violations", len(result.Violations)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (s *Sweeper) sweep(ctx context.Context, result *Result) error {
	tenants, err := s.tenants.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	for _, tenant := range tenants {
		policies, err := s.policies.ListByTenant(ctx, tenant.ID, false)
		if err != nil {
			return fmt.Errorf("failed to list policies of tenant %s: %w", tenant.ID, err)
		}
		for _, p := range policies {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := s.resolver.Resolve(ctx, tenant.ID, nil, p.ID)
			switch {
			case err == nil:
			case services.IsIntegrityError(err):
				result.Violations = append(result.Violations, Violation{
					TenantID: tenant.ID,
					PolicyID: p.ID,
					Message:  err.Error(),
					Details:  services.GetErrorDetails(err),
				})
			case services.IsNotFoundError(err):
				// Archived since it was listed.
				continue
			default:
				return fmt.Errorf("failed to resolve policy %s: %w", p.ID, err)
			}
			result.Policies++
		}
	}
	return nil
}

// Start schedules RunOnce on a standard five-field cron expression until
// ctx is done. An empty schedule disables the sweeper.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if schedule == "" {
		s.logger.Info("integrity sweep schedule not configured, skipping")
		return nil
	}
	if s.running {
		return fmt.Errorf("integrity sweeper already running")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("integrity sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule integrity sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info("integrity sweeper started", zap.String("schedule", schedule))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop stops the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("integrity sweeper stopped")
	}
}

// IsRunning reports whether a schedule is active
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the time of the next scheduled sweep, or nil
func (s *Sweeper) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil || !s.running {
		return nil
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
