package sweep

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/guardrails-control-plane/backend/internal/observability"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"github.com/upb/guardrails-control-plane/backend/repositories/memory"
	"github.com/upb/guardrails-control-plane/backend/services"
	"github.com/upb/guardrails-control-plane/backend/services/resolution"
	"go.uber.org/zap"
)

// MockResolver is a mock implementation of Resolver
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, tenantID uuid.UUID, appID *uuid.UUID, policyID uuid.UUID) (*models.Resolution, error) {
	args := m.Called(ctx, tenantID, appID, policyID)
	if res := args.Get(0); res != nil {
		return res.(*models.Resolution), args.Error(1)
	}
	return nil, args.Error(1)
}

func seedPolicies(t *testing.T, repos *repositories.Repositories) (*models.Tenant, *models.RuleTemplate, []*models.Policy) {
	t.Helper()
	ctx := context.Background()
	tenant := models.NewTenant("acme")
	require.NoError(t, repos.Tenants.Create(ctx, tenant))

	tmpl := models.NewRuleTemplate(models.RuleFields{
		Jurisdiction: "EU", Regulation: "GDPR", Vendor: "openai", Product: "chat",
		Severity: models.SeverityHigh, Decision: models.DecisionBlock,
	})
	require.NoError(t, repos.Templates.Create(ctx, tmpl))

	var policies []*models.Policy
	for _, name := range []string{"healthy", "dangling"} {
		p := models.NewPolicy(tenant.ID, name, "", nil)
		if name == "dangling" {
			p.Attachments = append(p.Attachments, models.RuleAttachment{Ref: models.TemplateRef(tmpl.ID)})
		}
		require.NoError(t, repos.Policies.Create(ctx, p))
		policies = append(policies, p)
	}

	archived := models.NewPolicy(tenant.ID, "old", "", nil)
	archived.Status = models.PolicyStatusArchived
	archived.Attachments = append(archived.Attachments, models.RuleAttachment{Ref: models.TemplateRef(uuid.New())})
	require.NoError(t, repos.Policies.Create(ctx, archived))

	return tenant, tmpl, policies
}

func TestSweeper_RunOnceReportsDanglingReferences(t *testing.T) {
	repos := memory.NewStore(zap.NewNop()).NewRepositories()
	tenant, tmpl, policies := seedPolicies(t, repos)
	ctx := context.Background()

	deleted := tmpl.Clone()
	now := time.Now().UTC()
	deleted.DeletedAt = &now
	deleted.Version++
	require.NoError(t, repos.Templates.Update(ctx, deleted, tmpl.Version))

	metrics := observability.NewMetrics("test")
	engine := resolution.NewEngine(repos, nil, zap.NewNop(), nil)
	sweeper := NewSweeper(repos, engine, zap.NewNop(), metrics)

	result, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Policies, "archived policies are not swept")
	require.Len(t, result.Violations, 1)
	v := result.Violations[0]
	assert.Equal(t, tenant.ID, v.TenantID)
	assert.Equal(t, policies[1].ID, v.PolicyID)
	assert.Equal(t, tmpl.ID.String(), v.Details[services.DetailRefID])

	expected := `
# HELP test_integrity_sweeps_total Completed integrity sweeps
# TYPE test_integrity_sweeps_total counter
test_integrity_sweeps_total{outcome="violations"} 1
# HELP test_integrity_violations_total Dangling rule references found by the integrity sweeper
# TYPE test_integrity_violations_total counter
test_integrity_violations_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected),
		"test_integrity_sweeps_total", "test_integrity_violations_total"))
}

func TestSweeper_RunOnceClean(t *testing.T) {
	repos := memory.NewStore(zap.NewNop()).NewRepositories()
	seedPolicies(t, repos)
	sweeper := NewSweeper(repos, resolution.NewEngine(repos, nil, zap.NewNop(), nil), zap.NewNop(), nil)

	result, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Violations)
	assert.Equal(t, 2, result.Policies)
}

func TestSweeper_RunOnceAbortsOnUnexpectedErrors(t *testing.T) {
	repos := memory.NewStore(zap.NewNop()).NewRepositories()
	seedPolicies(t, repos)
	resolver := new(MockResolver)
	resolver.On("Resolve", mock.Anything, mock.Anything, (*uuid.UUID)(nil), mock.Anything).
		Return(nil, services.WrapInternal("failed to load policy", errors.New("connection reset")))
	metrics := observability.NewMetrics("test")
	sweeper := NewSweeper(repos, resolver, zap.NewNop(), metrics)

	_, err := sweeper.RunOnce(context.Background())
	assert.Error(t, err)
	resolver.AssertNumberOfCalls(t, "Resolve", 1)

	expected := `
# HELP test_integrity_sweeps_total Completed integrity sweeps
# TYPE test_integrity_sweeps_total counter
test_integrity_sweeps_total{outcome="error"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected), "test_integrity_sweeps_total"))
}

func TestSweeper_RunOnceSkipsPoliciesArchivedMidSweep(t *testing.T) {
	repos := memory.NewStore(zap.NewNop()).NewRepositories()
	_, _, policies := seedPolicies(t, repos)
	resolver := new(MockResolver)
	resolver.On("Resolve", mock.Anything, mock.Anything, (*uuid.UUID)(nil), policies[0].ID).
		Return(nil, services.NewNotFoundError(models.EntityPolicy, policies[0].ID))
	resolver.On("Resolve", mock.Anything, mock.Anything, (*uuid.UUID)(nil), policies[1].ID).
		Return(&models.Resolution{}, nil)
	sweeper := NewSweeper(repos, resolver, zap.NewNop(), nil)

	result, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Policies)
	resolver.AssertExpectations(t)
}

func TestSweeper_Start(t *testing.T) {
	repos := memory.NewStore(zap.NewNop()).NewRepositories()
	sweeper := NewSweeper(repos, new(MockResolver), zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, sweeper.Start(ctx, ""))
	assert.False(t, sweeper.IsRunning())
	assert.Nil(t, sweeper.NextRun())

	assert.Error(t, sweeper.Start(ctx, "every tuesday"))

	require.NoError(t, sweeper.Start(ctx, "0 3 * * *"))
	assert.True(t, sweeper.IsRunning())
	next := sweeper.NextRun()
	require.NotNil(t, next)
	assert.Equal(t, 3, next.Hour())
	assert.Error(t, sweeper.Start(ctx, "0 3 * * *"), "already running")

	cancel()
	assert.Eventually(t, func() bool { return !sweeper.IsRunning() }, time.Second, 10*time.Millisecond)
}
