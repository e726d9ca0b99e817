package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firstgrade/hms/internal/auth"
	"github.com/firstgrade/hms/internal/plans"
	"github.com/firstgrade/hms/internal/renewal"
	"github.com/firstgrade/hms/internal/tenant"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	// Flag variables outlive a single Execute; put them back to defaults.
	jsonOutput = false
	createName, createEmail, createCity = "", "", ""
	createPlan, createCycle = string(plans.Starter), string(plans.Monthly)
	planCycle = ""
	tokenRole, tokenTenant, tokenTTL = string(auth.RoleSaaSOwner), "", time.Hour

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func useFileStore(t *testing.T) {
	t.Helper()
	t.Setenv("ENV", "development")
	t.Setenv("STORE_BACKEND", "file")
	t.Setenv("STORE_DIR", t.TempDir())
	t.Setenv("NATS_URL", "")
	t.Setenv("JWT_SECRET", "")
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "hmsctl dev\n", out)
}

func TestPlansCmd(t *testing.T) {
	out, err := run(t, "plans", "--json")
	require.NoError(t, err)

	var got []plans.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 3)
	assert.Equal(t, plans.Starter, got[0].ID)

	out, err = run(t, "plans")
	require.NoError(t, err)
	assert.Contains(t, out, "professional")
	assert.Contains(t, out, "99999")
}

func TestTenantsLifecycle(t *testing.T) {
	useFileStore(t)

	out, err := run(t, "tenants", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "TEN-001")

	out, err = run(t, "tenants", "create", "--name", "Kano Specialist Clinic", "--plan", "professional")
	require.NoError(t, err)
	assert.Contains(t, out, "Kano Specialist Clinic")
	assert.Contains(t, out, "status=grace")
	newID := strings.Fields(out)[0]

	out, err = run(t, "tenants", "status", "TEN-001", "suspended")
	require.NoError(t, err)
	assert.Contains(t, out, "status=suspended")

	out, err = run(t, "tenants", "plan", "TEN-001", "enterprise")
	require.NoError(t, err)
	assert.Contains(t, out, "plan=enterprise/monthly")

	_, err = run(t, "tenants", "switch", "TEN-001")
	require.NoError(t, err)

	// Each command reopens the store, so this reads what was persisted
	out, err = run(t, "tenants", "list", "--json")
	require.NoError(t, err)
	var ts []tenant.Tenant
	require.NoError(t, json.Unmarshal([]byte(out), &ts))
	require.Len(t, ts, 2)
	assert.Equal(t, "TEN-001", ts[0].ID)
	assert.Equal(t, tenant.StatusSuspended, ts[0].SubscriptionStatus)
	assert.Equal(t, plans.Enterprise, ts[0].PlanID)
	assert.Equal(t, newID, ts[1].ID)
}

func TestTenantsErrors(t *testing.T) {
	useFileStore(t)

	_, err := run(t, "tenants", "status", "TEN-001", "paused")
	assert.Error(t, err)

	_, err = run(t, "tenants", "plan", "TEN-404", "enterprise")
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)

	_, err = run(t, "tenants", "create")
	assert.Error(t, err)
}

func TestMemoryBackendRejected(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("STORE_BACKEND", "memory")

	_, err := run(t, "tenants", "list")
	assert.ErrorIs(t, err, errMemoryBackend)
}

func TestDueCmd(t *testing.T) {
	useFileStore(t)

	out, err := run(t, "due", "--json")
	require.NoError(t, err)
	var report renewal.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Date.IsZero())
}

func TestTokenCmd(t *testing.T) {
	secret := "a-development-secret-that-is-long-enough"
	t.Setenv("ENV", "development")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("JWT_SECRET", secret)

	out, err := run(t, "token", "--role", "HospitalAdmin", "--tenant", "TEN-001")
	require.NoError(t, err)

	tokens, err := auth.NewTokens(secret, "hms", time.Hour)
	require.NoError(t, err)
	id, err := tokens.Parse(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, auth.RoleHospitalAdmin, id.Role)
	assert.Equal(t, "TEN-001", id.TenantID)

	_, err = run(t, "token", "--role", "Janitor")
	assert.ErrorIs(t, err, auth.ErrInvalidRole)
}
