package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/guardrails-control-plane/backend/app"
	"github.com/upb/guardrails-control-plane/backend/auth"
	"github.com/upb/guardrails-control-plane/backend/config"
	"go.uber.org/zap/zaptest"
)

type apiClient struct {
	t      *testing.T
	server *httptest.Server
}

func (c *apiClient) do(method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.server.URL+path, reader)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.server.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	if len(raw) > 0 {
		require.NoError(c.t, json.Unmarshal(raw, &decoded), string(raw))
	}
	return resp, decoded
}

func data(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	d, ok := body["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %v", body)
	return d
}

func setup(t *testing.T) (*apiClient, *app.Dependencies) {
	t.Helper()
	ctx := context.Background()
	cfg := &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			RequestTimeout: 10 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Storage: config.StorageConfig{Driver: config.StorageMemory},
		Auth: config.AuthConfig{
			JWTSecret:   "0123456789abcdef0123456789abcdef",
			JWTIssuer:   "guardrails-control-plane",
			JWTAudience: "guardrails-api",
			TokenTTL:    time.Hour,
		},
		Cache: config.CacheConfig{SnapshotSize: 16, SnapshotTTL: time.Minute},
		Observability: config.ObservabilityConfig{
			LogLevel:         "debug",
			MetricsEnabled:   true,
			MetricsNamespace: "routes_test",
		},
	}

	deps, err := app.NewDependencies(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(ctx) })

	server := httptest.NewServer(SetupRoutes(deps))
	t.Cleanup(server.Close)
	return &apiClient{t: t, server: server}, deps
}

func mint(t *testing.T, deps *app.Dependencies, req auth.TokenRequest) string {
	t.Helper()
	token, _, err := deps.Issuer().Issue(req)
	require.NoError(t, err)
	return token
}

func TestPolicyLifecycle(t *testing.T) {
	client, deps := setup(t)
	root := mint(t, deps, auth.TokenRequest{Subject: "root", Role: auth.RolePlatformAdmin})

	resp, body := client.do(http.MethodPost, "/api/v1/tenants", root, map[string]interface{}{"name": "acme"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	tenantID := data(t, body)["id"].(string)

	resp, body = client.do(http.MethodPost, "/api/v1/rules", root, map[string]interface{}{
		"jurisdiction": "EU",
		"regulation":   "GDPR",
		"vendor":       "openai",
		"product":      "chat",
		"severity":     "high",
		"decision":     "block",
		"tags":         []string{"pii"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	templateID := data(t, body)["id"].(string)

	admin := mint(t, deps, auth.TokenRequest{Subject: "alice", TenantID: uuid.MustParse(tenantID), Role: auth.RoleTenantAdmin})
	policies := "/api/v1/tenants/" + tenantID + "/policies"

	resp, body = client.do(http.MethodPost, policies, admin, map[string]interface{}{"name": "default"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, `"1"`, resp.Header.Get("ETag"))
	policyID := data(t, body)["id"].(string)
	policy := policies + "/" + policyID

	attach := map[string]interface{}{"kind": "template", "id": templateID}
	resp, body = client.do(http.MethodPost, policy+"/rules", admin, attach)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, data(t, body)["attached"])
	assert.Equal(t, `"2"`, resp.Header.Get("ETag"))

	t.Run("repeated attach leaves the version alone", func(t *testing.T) {
		resp, body := client.do(http.MethodPost, policy+"/rules", admin, attach)
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
		assert.Equal(t, false, data(t, body)["attached"])
		assert.Equal(t, `"2"`, resp.Header.Get("ETag"))
	})

	t.Run("stale expected version conflicts", func(t *testing.T) {
		resp, body := client.do(http.MethodPatch, policy+"?expected_version=1", admin, map[string]interface{}{"description": "x"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode, body)
	})

	t.Run("resolve returns the effective rules", func(t *testing.T) {
		resp, body := client.do(http.MethodGet, policy+"/resolve", admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
		res := data(t, body)
		assert.Equal(t, "block", res["strictest_decision"])
		assert.Len(t, res["rules"], 1)
		assert.Equal(t, `"2"`, resp.Header.Get("ETag"))
	})

	t.Run("template referenced by a policy cannot be deleted", func(t *testing.T) {
		resp, body := client.do(http.MethodDelete, "/api/v1/rules/"+templateID, root, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode, body)
	})

	t.Run("detach then detach again", func(t *testing.T) {
		resp, body := client.do(http.MethodDelete, policy+"/rules/template/"+templateID, admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, body)

		resp, body = client.do(http.MethodDelete, policy+"/rules/template/"+templateID, admin, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, body)
	})

	t.Run("history is recorded", func(t *testing.T) {
		resp, body := client.do(http.MethodGet, policy+"/history", admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
		assert.NotEmpty(t, body["data"])
	})

	t.Run("audit ledger is scoped to the tenant", func(t *testing.T) {
		resp, body := client.do(http.MethodGet, "/api/v1/audit", admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
		entries, ok := body["data"].([]interface{})
		require.True(t, ok)
		assert.NotEmpty(t, entries)
	})

	t.Run("entity history follows the policy versions", func(t *testing.T) {
		resp, body := client.do(http.MethodGet, "/api/v1/audit/entities/"+policyID, admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
		entries, ok := body["data"].([]interface{})
		require.True(t, ok)
		require.NotEmpty(t, entries)
		first := entries[0].(map[string]interface{})
		assert.Equal(t, "policy.created", first["event_type"])
		assert.Equal(t, float64(1), first["entity_version"])
	})
}

func TestAppTokenExchange(t *testing.T) {
	client, deps := setup(t)
	root := mint(t, deps, auth.TokenRequest{Subject: "root", Role: auth.RolePlatformAdmin})

	_, body := client.do(http.MethodPost, "/api/v1/tenants", root, map[string]interface{}{"name": "globex"})
	tenantID := data(t, body)["id"].(string)

	resp, body := client.do(http.MethodPost, "/api/v1/tenants/"+tenantID+"/apps", root,
		map[string]interface{}{"name": "chatbot", "quota_per_hr": 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	apiKey := data(t, body)["api_key"].(string)
	require.NotEmpty(t, apiKey)

	resp, body = client.do(http.MethodPost, "/api/v1/tenants/"+tenantID+"/policies", root, map[string]interface{}{"name": "app"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	resolve := "/api/v1/tenants/" + tenantID + "/policies/" + data(t, body)["id"].(string) + "/resolve"

	resp, body = client.do(http.MethodPost, "/api/v1/auth/token", "", map[string]interface{}{"api_key": apiKey})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	appToken := data(t, body)["token"].(string)

	for i := 0; i < 2; i++ {
		resp, body = client.do(http.MethodGet, resolve, appToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
		assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
	}

	resp, _ = client.do(http.MethodGet, resolve, appToken, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	t.Run("app tokens are read only", func(t *testing.T) {
		resp, _ := client.do(http.MethodPost, "/api/v1/tenants/"+tenantID+"/policies", appToken, map[string]interface{}{"name": "nope"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("unknown key", func(t *testing.T) {
		resp, _ := client.do(http.MethodPost, "/api/v1/auth/token", "", map[string]interface{}{"api_key": "gk_bogus"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestAccessControl(t *testing.T) {
	client, deps := setup(t)

	t.Run("missing token", func(t *testing.T) {
		resp, _ := client.do(http.MethodGet, "/api/v1/tenants", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("other tenant", func(t *testing.T) {
		viewer := mint(t, deps, auth.TokenRequest{Subject: "bob", TenantID: uuid.New(), Role: auth.RoleTenantViewer})
		resp, _ := client.do(http.MethodGet, "/api/v1/tenants/"+uuid.NewString()+"/policies", viewer, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("tenant admin cannot create templates", func(t *testing.T) {
		admin := mint(t, deps, auth.TokenRequest{Subject: "alice", TenantID: uuid.New(), Role: auth.RoleTenantAdmin})
		resp, _ := client.do(http.MethodPost, "/api/v1/rules", admin, map[string]interface{}{"jurisdiction": "EU"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("viewer cannot read the audit ledger", func(t *testing.T) {
		viewer := mint(t, deps, auth.TokenRequest{Subject: "bob", TenantID: uuid.New(), Role: auth.RoleTenantViewer})
		resp, _ := client.do(http.MethodGet, "/api/v1/audit", viewer, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestPublicEndpoints(t *testing.T) {
	client, _ := setup(t)

	resp, body := client.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", data(t, body)["status"])

	resp, _ = client.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = client.do(http.MethodGet, "/api/v1/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["error"])

	req, err := http.NewRequest(http.MethodGet, client.server.URL+"/metrics", nil)
	require.NoError(t, err)
	metrics, err := client.server.Client().Do(req)
	require.NoError(t, err)
	defer metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
}
