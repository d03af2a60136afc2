package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/middleware"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/utils"
	"go.uber.org/zap"
)

// CapabilityService defines the capability registry operations
type CapabilityService interface {
	CreateCapability(ctx context.Context, name, description string, tags []string, actor string) (*models.Capability, error)
	ListCapabilities(ctx context.Context, tag string) ([]*models.Capability, error)
	FilterAllowed(ctx context.Context, names []string) ([]*models.Capability, error)
	DiscoverForPolicy(ctx context.Context, tenantID, policyID uuid.UUID) ([]*models.Capability, error)
}

// CreateCapabilityRequest represents a request to register a capability
type CreateCapabilityRequest struct {
	Name        string   `json:"name" validate:"required,max=200"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// CapabilityHandler handles capability registry HTTP requests
type CapabilityHandler struct {
	capabilities CapabilityService
	logger       *zap.Logger
}

// NewCapabilityHandler creates a new CapabilityHandler
func NewCapabilityHandler(capabilities CapabilityService, logger *zap.Logger) *CapabilityHandler {
	return &CapabilityHandler{
		capabilities: capabilities,
		logger:       logger,
	}
}

// HandleCreateCapability handles POST /api/v1/capabilities
func (h *CapabilityHandler) HandleCreateCapability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req CreateCapabilityRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	c, err := h.capabilities.CreateCapability(ctx, req.Name, req.Description, req.Tags, actor(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("capability created",
		zap.String("request_id", requestID),
		zap.String("capability", c.Name))

	_ = utils.WriteCreated(w, c)
}

// HandleListCapabilities handles GET /api/v1/capabilities. Repeated name
// parameters narrow the list to the registered subset of those names,
// otherwise the optional tag parameter filters it.
func (h *CapabilityHandler) HandleListCapabilities(w http.ResponseWriter, r *http.Request) {
	var (
		list []*models.Capability
		err  error
	)
	if names := r.URL.Query()["name"]; len(names) > 0 {
		list, err = h.capabilities.FilterAllowed(r.Context(), names)
	} else {
		list, err = h.capabilities.ListCapabilities(r.Context(), r.URL.Query().Get("tag"))
	}
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, list)
}

// HandleDiscoverForPolicy handles GET /api/v1/tenants/{tenantID}/policies/{policyID}/capabilities
func (h *CapabilityHandler) HandleDiscoverForPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID, policyID, err := tenantAndID(r, ParamPolicyID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	list, err := h.capabilities.DiscoverForPolicy(r.Context(), tenantID, policyID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, list)
}
