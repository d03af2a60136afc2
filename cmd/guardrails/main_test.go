package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/guardrails-control-plane/backend/auth"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("CATALOG_PATH", "")
	t.Setenv("REDIS_ADDR", "")
}

// execute runs the root command with args and returns stdout
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	tokenFlags.subject, tokenFlags.role, tokenFlags.tenant, tokenFlags.app = "", string(auth.RoleTenantViewer), "", ""
	tokenFlags.ttl = 0
	seedFlags.file = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "seed", "token"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestTokenCommand(t *testing.T) {
	t.Run("mints a tenant token", func(t *testing.T) {
		setTestEnv(t)
		tenantID := uuid.New()

		out, err := execute(t, "token", "--sub", "alice", "--role", "tenant_admin", "--tenant", tenantID.String())
		require.NoError(t, err)

		validator, err := auth.NewValidator(auth.Config{
			Secret:   testSecret,
			Issuer:   "guardrails-control-plane",
			Audience: "guardrails-api",
		})
		require.NoError(t, err)

		principal, err := validator.ValidateToken(context.Background(), strings.TrimSpace(out))
		require.NoError(t, err)
		assert.Equal(t, "alice", principal.Subject)
		assert.Equal(t, tenantID, principal.TenantID)
		assert.Equal(t, auth.RoleTenantAdmin, principal.Role)
	})

	t.Run("tenant role without tenant", func(t *testing.T) {
		setTestEnv(t)
		_, err := execute(t, "token", "--sub", "alice", "--role", "tenant_admin")
		assert.ErrorIs(t, err, auth.ErrMissingClaim)
	})

	t.Run("bad app id", func(t *testing.T) {
		setTestEnv(t)
		_, err := execute(t, "token", "--sub", "root", "--role", "platform_admin", "--app", "nope")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid --app")
	})

	t.Run("no secret", func(t *testing.T) {
		setTestEnv(t)
		t.Setenv("JWT_SECRET", "")
		_, err := execute(t, "token", "--sub", "root", "--role", "platform_admin")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JWT_SECRET")
	})
}

func TestSeedCommand(t *testing.T) {
	t.Run("syncs a catalogue file", func(t *testing.T) {
		setTestEnv(t)
		path := filepath.Join(t.TempDir(), "catalog.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
templates:
  - id: 5d1f2a9c-8b3e-4a6f-9c2d-1e0f3b4a5c6d
    jurisdiction: US
    regulation: HIPAA
    vendor: anthropic
    product: messages
    severity: critical
    decision: block
capabilities:
  - name: phi-scrub
    tags: [phi]
`), 0o600))

		out, err := execute(t, "seed", "--file", path)
		require.NoError(t, err)

		var report map[string]int
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, 1, report["templates_created"])
		assert.Equal(t, 1, report["capabilities_created"])
	})

	t.Run("no file", func(t *testing.T) {
		setTestEnv(t)
		_, err := execute(t, "seed")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no catalogue file")
	})
}

func TestMigrateCommand(t *testing.T) {
	setTestEnv(t)
	_, err := execute(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires STORAGE_DRIVER=postgres")
}

func TestLoadRuntimeOverrides(t *testing.T) {
	setTestEnv(t)
	logLevel, logFormat = "debug", "console"
	defer func() { logLevel, logFormat = "", "" }()

	cfg, logger, err := loadRuntime(context.Background())
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.Equal(t, "console", cfg.Observability.LogFormat)
}
