package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"github.com/upb/guardrails-control-plane/backend/services"
	"github.com/upb/guardrails-control-plane/backend/services/audit"
	"go.uber.org/zap"
)

// Resolver resolves a policy into its live rule set
type Resolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID, appID *uuid.UUID, policyID uuid.UUID) (*models.Resolution, error)
}

// Service is the tagged capability registry
type Service struct {
	repos    *repositories.Repositories
	txMgr    repositories.TransactionManager
	resolver Resolver
	audit    *audit.Service
	logger   *zap.Logger
}

// NewService creates a new capability Service
func NewService(repos *repositories.Repositories, txMgr repositories.TransactionManager, resolver Resolver, auditSvc *audit.Service, logger *zap.Logger) *Service {
	return &Service{
		repos:    repos,
		txMgr:    txMgr,
		resolver: resolver,
		audit:    auditSvc,
		logger:   logger,
	}
}

// CreateCapability registers a capability. Names are unique.
func (s *Service) CreateCapability(ctx context.Context, name, description string, tags []string, actor string) (*models.Capability, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, services.NewValidationError("name", "capability name is required")
	}

	c := models.NewCapability(name, description, tags)
	entry := models.NewAuditLog(models.AuditActionCapabilityCreated, models.EntityCapability, c.ID, c.Version).
		WithActor(actor).
		WithAfter(c)

	err := services.WithTransaction(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		if err := s.repos.Capabilities.Create(ctx, c); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return services.NewValidationError("name", fmt.Sprintf("capability %q already exists", name))
			}
			return services.WrapInternal("failed to create capability", err)
		}
		return s.audit.Record(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Committed(entry)
	return c, nil
}

// ListCapabilities returns the capabilities carrying tag, or all of them
// when tag is empty, ordered by name
func (s *Service) ListCapabilities(ctx context.Context, tag string) ([]*models.Capability, error) {
	caps, err := s.repos.Capabilities.List(ctx, strings.TrimSpace(tag))
	if err != nil {
		return nil, services.WrapInternal("failed to list capabilities", err)
	}
	return caps, nil
}

// FilterAllowed returns the registered capabilities among names, matched
// case-insensitively, in registry order. An empty request allows everything.
func (s *Service) FilterAllowed(ctx context.Context, names []string) ([]*models.Capability, error) {
	all, err := s.ListCapabilities(ctx, "")
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return all, nil
	}

	requested := make(map[string]struct{}, len(names))
	for _, n := range names {
		requested[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}
	out := make([]*models.Capability, 0, len(names))
	for _, c := range all {
		if _, ok := requested[strings.ToLower(c.Name)]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// DiscoverForPolicy returns the capabilities whose tags overlap the tags of
// the policy's resolved rules
func (s *Service) DiscoverForPolicy(ctx context.Context, tenantID, policyID uuid.UUID) ([]*models.Capability, error) {
	res, err := s.resolver.Resolve(ctx, tenantID, nil, policyID)
	if err != nil {
		return nil, err
	}
	tags := make(map[string]struct{})
	for _, rule := range res.Rules {
		for _, t := range rule.Tags {
			tags[t] = struct{}{}
		}
	}

	all, err := s.ListCapabilities(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]*models.Capability, 0)
	for _, c := range all {
		for _, t := range c.Tags {
			if _, ok := tags[t]; ok {
				out = append(out, c)
				break
			}
		}
	}
	s.logger.Debug("discovered capabilities",
		zap.String("policy_id", policyID.String()),
		zap.Int("rule_tags", len(tags)),
		zap.Int("capabilities", len(out)),
	)
	return out, nil
}
