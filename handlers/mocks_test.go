package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/guardrails-control-plane/backend/auth"
	"github.com/upb/guardrails-control-plane/backend/middleware"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"github.com/upb/guardrails-control-plane/backend/services/policy"
	"github.com/upb/guardrails-control-plane/backend/services/rules"
	"github.com/upb/guardrails-control-plane/backend/services/tenant"
)

// newRequest builds a request with chi route params and an optional principal
func newRequest(t *testing.T, method, target string, body interface{}, params map[string]string, principal *auth.Principal) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)

	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if principal != nil {
		ctx = middleware.WithPrincipal(ctx, principal)
	}
	return req.WithContext(ctx)
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

// MockTenantService is a mock implementation of TenantService
type MockTenantService struct {
	mock.Mock
}

func (m *MockTenantService) CreateTenant(ctx context.Context, name, actor string) (*models.Tenant, error) {
	args := m.Called(ctx, name, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Tenant), args.Error(1)
}

func (m *MockTenantService) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Tenant), args.Error(1)
}

func (m *MockTenantService) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Tenant), args.Error(1)
}

func (m *MockTenantService) DeleteTenant(ctx context.Context, id uuid.UUID, expectedVersion int64, actor string) (*models.Tenant, error) {
	args := m.Called(ctx, id, expectedVersion, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Tenant), args.Error(1)
}

func (m *MockTenantService) CreateApp(ctx context.Context, tenantID uuid.UUID, name string, quotaPerHr int64, actor string) (*models.App, string, error) {
	args := m.Called(ctx, tenantID, name, quotaPerHr, actor)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).(*models.App), args.String(1), args.Error(2)
}

func (m *MockTenantService) ListApps(ctx context.Context, tenantID uuid.UUID) ([]*models.App, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.App), args.Error(1)
}

func (m *MockTenantService) UpdateApp(ctx context.Context, tenantID, appID uuid.UUID, patch tenant.AppPatch, expectedVersion int64, actor string) (*models.App, error) {
	args := m.Called(ctx, tenantID, appID, patch, expectedVersion, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.App), args.Error(1)
}

func (m *MockTenantService) RotateAppKey(ctx context.Context, tenantID, appID uuid.UUID, expectedVersion int64, actor string) (*models.App, string, error) {
	args := m.Called(ctx, tenantID, appID, expectedVersion, actor)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).(*models.App), args.String(1), args.Error(2)
}

func (m *MockTenantService) RevokeApp(ctx context.Context, tenantID, appID uuid.UUID, expectedVersion int64, actor string) (*models.App, error) {
	args := m.Called(ctx, tenantID, appID, expectedVersion, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.App), args.Error(1)
}

// MockPolicyService is a mock implementation of PolicyService
type MockPolicyService struct {
	mock.Mock
}

func (m *MockPolicyService) CreatePolicy(ctx context.Context, tenantID uuid.UUID, name, description string, appID *uuid.UUID, actor string) (*models.Policy, error) {
	args := m.Called(ctx, tenantID, name, description, appID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Policy), args.Error(1)
}

func (m *MockPolicyService) GetPolicy(ctx context.Context, tenantID, policyID uuid.UUID) (*models.Policy, error) {
	args := m.Called(ctx, tenantID, policyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Policy), args.Error(1)
}

func (m *MockPolicyService) ListPolicies(ctx context.Context, tenantID uuid.UUID, includeArchived bool) ([]*models.Policy, error) {
	args := m.Called(ctx, tenantID, includeArchived)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Policy), args.Error(1)
}

func (m *MockPolicyService) UpdatePolicy(ctx context.Context, tenantID, policyID uuid.UUID, patch policy.PolicyPatch, expectedVersion int64, actor string) (*models.Policy, error) {
	args := m.Called(ctx, tenantID, policyID, patch, expectedVersion, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Policy), args.Error(1)
}

func (m *MockPolicyService) DeletePolicy(ctx context.Context, tenantID, policyID uuid.UUID, expectedVersion int64, actor string) (*models.Policy, error) {
	args := m.Called(ctx, tenantID, policyID, expectedVersion, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Policy), args.Error(1)
}

func (m *MockPolicyService) AttachRule(ctx context.Context, tenantID, policyID uuid.UUID, ref models.RuleRef, expectedVersion int64, actor string) (*models.Policy, bool, error) {
	args := m.Called(ctx, tenantID, policyID, ref, expectedVersion, actor)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*models.Policy), args.Bool(1), args.Error(2)
}

func (m *MockPolicyService) DetachRule(ctx context.Context, tenantID, policyID uuid.UUID, ref models.RuleRef, expectedVersion int64, actor string) (*models.Policy, error) {
	args := m.Called(ctx, tenantID, policyID, ref, expectedVersion, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Policy), args.Error(1)
}

func (m *MockPolicyService) ListPolicyHistory(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.PolicyHistoryEntry, error) {
	args := m.Called(ctx, tenantID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PolicyHistoryEntry), args.Error(1)
}

func (m *MockPolicyService) GetPolicyHistory(ctx context.Context, tenantID, policyID uuid.UUID) ([]*models.PolicyHistoryEntry, error) {
	args := m.Called(ctx, tenantID, policyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PolicyHistoryEntry), args.Error(1)
}

// MockRuleService is a mock implementation of RuleService
type MockRuleService struct {
	mock.Mock
}

func (m *MockRuleService) CreateTemplate(ctx context.Context, fields models.RuleFields, actor string) (*models.RuleTemplate, error) {
	args := m.Called(ctx, fields, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RuleTemplate), args.Error(1)
}

func (m *MockRuleService) GetTemplate(ctx context.Context, id uuid.UUID) (*models.RuleTemplate, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RuleTemplate), args.Error(1)
}

func (m *MockRuleService) ListTemplates(ctx context.Context, filter models.RuleFilter) ([]*models.RuleTemplate, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.RuleTemplate), args.Error(1)
}

func (m *MockRuleService) UpdateTemplate(ctx context.Context, id uuid.UUID, fields models.RuleFields, expectedVersion int64, actor string) (*models.RuleTemplate, error) {
	args := m.Called(ctx, id, fields, expectedVersion, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RuleTemplate), args.Error(1)
}

func (m *MockRuleService) DeleteTemplate(ctx context.Context, id uuid.UUID, expectedVersion int64, actor string) (*models.RuleTemplate, error) {
	args := m.Called(ctx, id, expectedVersion, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RuleTemplate), args.Error(1)
}

func (m *MockRuleService) CreateTenantRule(ctx context.Context, tenantID uuid.UUID, in rules.TenantRuleInput, actor string) (*rules.EffectiveRule, bool, error) {
	args := m.Called(ctx, tenantID, in, actor)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*rules.EffectiveRule), args.Bool(1), args.Error(2)
}

func (m *MockRuleService) GetTenantRule(ctx context.Context, tenantID, ruleID uuid.UUID) (*rules.EffectiveRule, error) {
	args := m.Called(ctx, tenantID, ruleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rules.EffectiveRule), args.Error(1)
}

func (m *MockRuleService) ListTenantRules(ctx context.Context, tenantID uuid.UUID, filter models.RuleFilter) ([]*rules.EffectiveRule, error) {
	args := m.Called(ctx, tenantID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*rules.EffectiveRule), args.Error(1)
}

func (m *MockRuleService) UpdateTenantRule(ctx context.Context, tenantID, ruleID uuid.UUID, scope models.OverrideScope, overrides models.RuleOverrides, expectedVersion int64, actor string) (*rules.EffectiveRule, error) {
	args := m.Called(ctx, tenantID, ruleID, scope, overrides, expectedVersion, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rules.EffectiveRule), args.Error(1)
}

func (m *MockRuleService) DeleteTenantRule(ctx context.Context, tenantID, ruleID uuid.UUID, expectedVersion int64, actor string) (*models.TenantRule, error) {
	args := m.Called(ctx, tenantID, ruleID, expectedVersion, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TenantRule), args.Error(1)
}

// MockResolver is a mock implementation of Resolver
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, tenantID uuid.UUID, appID *uuid.UUID, policyID uuid.UUID) (*models.Resolution, error) {
	args := m.Called(ctx, tenantID, appID, policyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Resolution), args.Error(1)
}

func (m *MockResolver) Replay(ctx context.Context, tenantID, policyID uuid.UUID, version int64) (*models.Resolution, error) {
	args := m.Called(ctx, tenantID, policyID, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Resolution), args.Error(1)
}

// MockCapabilityService is a mock implementation of CapabilityService
type MockCapabilityService struct {
	mock.Mock
}

func (m *MockCapabilityService) CreateCapability(ctx context.Context, name, description string, tags []string, actor string) (*models.Capability, error) {
	args := m.Called(ctx, name, description, tags, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Capability), args.Error(1)
}

func (m *MockCapabilityService) ListCapabilities(ctx context.Context, tag string) ([]*models.Capability, error) {
	args := m.Called(ctx, tag)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Capability), args.Error(1)
}

func (m *MockCapabilityService) FilterAllowed(ctx context.Context, names []string) ([]*models.Capability, error) {
	args := m.Called(ctx, names)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Capability), args.Error(1)
}

func (m *MockCapabilityService) DiscoverForPolicy(ctx context.Context, tenantID, policyID uuid.UUID) ([]*models.Capability, error) {
	args := m.Called(ctx, tenantID, policyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Capability), args.Error(1)
}

// MockAuditService is a mock implementation of AuditService
type MockAuditService struct {
	mock.Mock
}

func (m *MockAuditService) List(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditLog, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditLog), args.Error(1)
}

func (m *MockAuditService) EntityHistory(ctx context.Context, entityID uuid.UUID) ([]*models.AuditLog, error) {
	args := m.Called(ctx, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditLog), args.Error(1)
}
