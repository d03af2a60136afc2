package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/guardrails-control-plane/backend/internal/shared"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"github.com/upb/guardrails-control-plane/backend/services"
	"go.uber.org/zap"
)

// MockAuditRepository is a mock implementation of AuditRepository
type MockAuditRepository struct {
	mock.Mock
}

func (m *MockAuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *MockAuditRepository) List(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditLog, error) {
	args := m.Called(ctx, filter)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.AuditLog, error) {
	args := m.Called(ctx, entityID)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func newTestService(repo repositories.AuditRepository) *Service {
	return NewService(repo, zap.NewNop(), nil)
}

func TestService_RecordFillsRequestMetadata(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := newTestService(mockRepo)
	ctx := shared.WithActor(shared.WithRequestID(context.Background(), "req-42"), "alice")
	entry := models.NewAuditLog(models.AuditActionPolicyCreated, models.EntityPolicy, uuid.New(), 1)

	mockRepo.On("Insert", ctx, entry).Return(nil)

	require.NoError(t, service.Record(ctx, entry))
	assert.Equal(t, "alice", entry.Actor)
	assert.Equal(t, "req-42", entry.RequestID)
	mockRepo.AssertExpectations(t)
}

func TestService_RecordKeepsExplicitActor(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := newTestService(mockRepo)
	ctx := shared.WithActor(context.Background(), "alice")
	entry := models.NewAuditLog(models.AuditActionTemplateUpdated, models.EntityRuleTemplate, uuid.New(), 2).
		WithActor("system:catalog")

	mockRepo.On("Insert", ctx, entry).Return(nil)

	require.NoError(t, service.Record(ctx, entry))
	assert.Equal(t, "system:catalog", entry.Actor)
}

func TestService_RecordDuplicateVersionIsConflict(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := newTestService(mockRepo)
	entry := models.NewAuditLog(models.AuditActionPolicyUpdated, models.EntityPolicy, uuid.New(), 3)

	mockRepo.On("Insert", mock.Anything, entry).Return(repositories.ErrDuplicate)

	err := service.Record(context.Background(), entry)
	assert.True(t, services.IsConflictError(err))
	assert.Equal(t, int64(3), services.GetErrorDetails(err)["entity_version"])
}

func TestService_RecordRejectsMissingVersion(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := newTestService(mockRepo)

	err := service.Record(context.Background(), models.NewAuditLog(models.AuditActionTenantCreated, models.EntityTenant, uuid.New(), 0))

	assert.True(t, services.IsValidationError(err))
	mockRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestService_RecordStorageFailureIsInternal(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := newTestService(mockRepo)

	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	err := service.Record(context.Background(), models.NewAuditLog(models.AuditActionTenantCreated, models.EntityTenant, uuid.New(), 1))
	assert.True(t, services.IsInternalError(err))
}

func TestService_ListAppliesDefaultLimit(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := newTestService(mockRepo)
	tenantID := uuid.New()

	mockRepo.On("List", mock.Anything, mock.MatchedBy(func(f repositories.AuditFilter) bool {
		return f.Limit == DefaultListLimit && *f.TenantID == tenantID && f.EventType == "policy"
	})).Return([]*models.AuditLog{}, nil)

	logs, err := service.List(context.Background(), repositories.AuditFilter{TenantID: &tenantID, EventType: "policy"})
	require.NoError(t, err)
	assert.Empty(t, logs)
	mockRepo.AssertExpectations(t)
}

func TestService_ListValidatesBounds(t *testing.T) {
	service := newTestService(new(MockAuditRepository))
	now := time.Now()

	tests := []struct {
		name   string
		filter repositories.AuditFilter
	}{
		{"negative limit", repositories.AuditFilter{Limit: -1}},
		{"limit above max", repositories.AuditFilter{Limit: MaxListLimit + 1}},
		{"inverted window", repositories.AuditFilter{Since: now, Until: now.Add(-time.Hour)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.List(context.Background(), tt.filter)
			assert.True(t, services.IsValidationError(err))
		})
	}
}

func TestService_EntityHistory(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := newTestService(mockRepo)
	entityID := uuid.New()
	entries := []*models.AuditLog{
		models.NewAuditLog(models.AuditActionPolicyCreated, models.EntityPolicy, entityID, 1),
		models.NewAuditLog(models.AuditActionPolicyRuleAttached, models.EntityPolicy, entityID, 2),
	}

	mockRepo.On("ListByEntity", mock.Anything, entityID).Return(entries, nil)

	got, err := service.EntityHistory(context.Background(), entityID)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}
