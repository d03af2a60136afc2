package capability

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"github.com/upb/guardrails-control-plane/backend/repositories/memory"
	"github.com/upb/guardrails-control-plane/backend/services"
	"github.com/upb/guardrails-control-plane/backend/services/audit"
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

func newTestService(t *testing.T) (*Service, *MockResolver, *repositories.Repositories) {
	t.Helper()
	store := memory.NewStore(zap.NewNop())
	repos := store.NewRepositories()
	resolver := new(MockResolver)
	auditSvc := audit.NewService(repos.AuditLogs, zap.NewNop(), nil)
	return NewService(repos, store.GetTransactionManager(), resolver, auditSvc, zap.NewNop()), resolver, repos
}

func seed(t *testing.T, svc *Service) {
	t.Helper()
	for _, c := range []struct {
		name string
		tags []string
	}{
		{"PII-detection", []string{"pii", "privacy"}},
		{"prompt-injection", []string{"security"}},
		{"toxicity", []string{"content"}},
	} {
		_, err := svc.CreateCapability(context.Background(), c.name, "", c.tags, "admin")
		require.NoError(t, err)
	}
}

func TestService_CreateCapability(t *testing.T) {
	svc, _, repos := newTestService(t)
	ctx := context.Background()

	c, err := svc.CreateCapability(ctx, " PII-detection ", "finds personal data", []string{"pii", "pii", " privacy"}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "PII-detection", c.Name)
	assert.Equal(t, []string{"pii", "privacy"}, c.Tags)

	_, err = svc.CreateCapability(ctx, "PII-detection", "", nil, "admin")
	assert.True(t, services.IsValidationError(err), "duplicate name")

	_, err = svc.CreateCapability(ctx, "", "", nil, "admin")
	assert.True(t, services.IsValidationError(err), "empty name")

	logs, err := repos.AuditLogs.ListByEntity(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditActionCapabilityCreated, logs[0].Action)
	assert.Nil(t, logs[0].TenantID)
}

func TestService_ListCapabilities(t *testing.T) {
	svc, _, _ := newTestService(t)
	seed(t, svc)
	ctx := context.Background()

	all, err := svc.ListCapabilities(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "PII-detection", all[0].Name)
	assert.Equal(t, "toxicity", all[2].Name)

	security, err := svc.ListCapabilities(ctx, "security")
	require.NoError(t, err)
	require.Len(t, security, 1)
	assert.Equal(t, "prompt-injection", security[0].Name)

	none, err := svc.ListCapabilities(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestService_FilterAllowed(t *testing.T) {
	svc, _, _ := newTestService(t)
	seed(t, svc)
	ctx := context.Background()

	allowed, err := svc.FilterAllowed(ctx, []string{"pii-DETECTION", "web-browsing", "toxicity"})
	require.NoError(t, err)
	require.Len(t, allowed, 2)
	assert.Equal(t, "PII-detection", allowed[0].Name)
	assert.Equal(t, "toxicity", allowed[1].Name)

	everything, err := svc.FilterAllowed(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, everything, 3)
}

func TestService_DiscoverForPolicy(t *testing.T) {
	svc, resolver, _ := newTestService(t)
	seed(t, svc)
	ctx := context.Background()
	tenantID, policyID := uuid.New(), uuid.New()

	resolver.On("Resolve", mock.Anything, tenantID, (*uuid.UUID)(nil), policyID).Return(&models.Resolution{
		Rules: []models.ResolvedRule{
			{RuleFields: models.RuleFields{Tags: []string{"gdpr", "pii"}}},
			{RuleFields: models.RuleFields{Tags: []string{"security"}}},
		},
	}, nil)

	found, err := svc.DiscoverForPolicy(ctx, tenantID, policyID)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "PII-detection", found[0].Name)
	assert.Equal(t, "prompt-injection", found[1].Name)
	resolver.AssertExpectations(t)
}

func TestService_DiscoverForPolicyPropagatesResolutionErrors(t *testing.T) {
	svc, resolver, _ := newTestService(t)
	tenantID, policyID := uuid.New(), uuid.New()
	resolver.On("Resolve", mock.Anything, tenantID, (*uuid.UUID)(nil), policyID).
		Return(nil, services.NewIntegrityError(policyID, "template", uuid.New(), "template is missing"))

	_, err := svc.DiscoverForPolicy(context.Background(), tenantID, policyID)
	assert.True(t, services.IsIntegrityError(err))
}
