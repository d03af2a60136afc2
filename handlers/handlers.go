package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/internal/shared"
	"github.com/upb/guardrails-control-plane/backend/services"
)

// Route parameter names shared with the router
const (
	ParamTenantID = "tenantID"
	ParamAppID    = "appID"
	ParamPolicyID = "policyID"
	ParamRuleID   = "ruleID"
	ParamKind     = "kind"
	ParamVersion  = "version"
	ParamEntityID = "entityID"
)

// maxBodyBytes bounds every JSON request body
const maxBodyBytes = 1 << 20

// errEmptyBody is returned by decodeJSON for a request without a body
var errEmptyBody = errors.New("request body is empty")

// decodeJSON decodes the request body into dst, rejecting unknown fields
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

// uuidParam parses a UUID route parameter. The returned error is a
// validation DomainError naming the parameter.
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, services.NewValidationError(name, fmt.Sprintf("invalid %s %q", name, raw))
	}
	return id, nil
}

// tenantAndID parses {tenantID} together with a second id parameter
func tenantAndID(r *http.Request, name string) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := uuidParam(r, ParamTenantID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	id, err := uuidParam(r, name)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return tenantID, id, nil
}

// expectedVersion returns the version a mutation must match. The If-Match
// header wins over the expected_version query parameter, which wins over
// the body field. Zero means "the version read by the service".
func expectedVersion(r *http.Request, body *int64) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	if raw == "" {
		raw = r.URL.Query().Get("expected_version")
	}
	if raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 1 {
			return 0, services.NewValidationError("expected_version", "expected version must be a positive integer")
		}
		return v, nil
	}
	if body != nil {
		if *body < 1 {
			return 0, services.NewValidationError("expected_version", "expected version must be a positive integer")
		}
		return *body, nil
	}
	return 0, nil
}

// setETag exposes the entity version for use in a later If-Match
func setETag(w http.ResponseWriter, version int64) {
	w.Header().Set("ETag", fmt.Sprintf(`"%d"`, version))
}

// actor is the subject recorded on audit entries for this request
func actor(r *http.Request) string {
	if a := shared.Actor(r.Context()); a != "" {
		return a
	}
	return "anonymous"
}

// queryUUID parses an optional UUID query parameter
func queryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, services.NewValidationError(name, fmt.Sprintf("invalid %s %q", name, raw))
	}
	return &id, nil
}

// queryInt parses an optional integer query parameter, returning def when absent
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, services.NewValidationError(name, fmt.Sprintf("%s must be an integer", name))
	}
	return v, nil
}
