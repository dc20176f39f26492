package contract

import (
	"testing"
	"time"

	"medvault/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeOrgGrantsMatchesTypeAndSetsExpiry(t *testing.T) {
	contract := &EhrSmartContract{}
	stub := newFakeStub()
	clinic := newTestPrincipal(t, "clinic")
	clinic.register(t, contract, stub)

	clinicCtx := newTestContext(stub, "clinic", model.RoleHealthOrganization)
	require.NoError(t, contract.RegisterOrganizationPolicy(clinicCtx, `[{"typeEHR":"labReport","durationMinutes":30}]`))

	contentKey := []byte("0123456789abcdef0123456789abcdef")
	now := stub.txTime
	grants, err := contract.computeOrgGrants(clinicCtx, "labReport", contentKey, now)
	require.NoError(t, err)
	require.Len(t, grants, 1)

	grant := grants["clinic"]
	assert.Equal(t, now.Add(30*time.Minute), grant.Expiry)
	assert.Equal(t, contentKey, clinic.unwrap(t, grant.Key))
}

func TestComputeOrgGrantsNonMatchingTypeYieldsNothing(t *testing.T) {
	contract := &EhrSmartContract{}
	stub := newFakeStub()
	clinic := newTestPrincipal(t, "clinic")
	clinic.register(t, contract, stub)

	clinicCtx := newTestContext(stub, "clinic", model.RoleHealthOrganization)
	require.NoError(t, contract.RegisterOrganizationPolicy(clinicCtx, `[{"typeEHR":"labReport","durationMinutes":30}]`))

	grants, err := contract.computeOrgGrants(clinicCtx, "xray", []byte("key"), stub.txTime)
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestComputeOrgGrantsLastMatchingRuleWins(t *testing.T) {
	contract := &EhrSmartContract{}
	stub := newFakeStub()
	clinic := newTestPrincipal(t, "clinic")
	clinic.register(t, contract, stub)

	clinicCtx := newTestContext(stub, "clinic", model.RoleHealthOrganization)
	require.NoError(t, contract.RegisterOrganizationPolicy(clinicCtx,
		`[{"typeEHR":"labReport","durationMinutes":30},{"typeEHR":"labReport","durationMinutes":90}]`))

	grants, err := contract.computeOrgGrants(clinicCtx, "labReport", []byte("key"), stub.txTime)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, stub.txTime.Add(90*time.Minute), grants["clinic"].Expiry)
}

func TestComputeOrgGrantsSkipsOrgWithoutPublicKey(t *testing.T) {
	contract := &EhrSmartContract{}
	stub := newFakeStub()

	// hospital registers a policy but never a public key; clinic does both.
	hospitalCtx := newTestContext(stub, "hospital", model.RoleHealthOrganization)
	require.NoError(t, contract.RegisterOrganizationPolicy(hospitalCtx, `[{"typeEHR":"labReport","durationMinutes":10}]`))

	clinic := newTestPrincipal(t, "clinic")
	clinic.register(t, contract, stub)
	clinicCtx := newTestContext(stub, "clinic", model.RoleHealthOrganization)
	require.NoError(t, contract.RegisterOrganizationPolicy(clinicCtx, `[{"typeEHR":"labReport","durationMinutes":30}]`))

	grants, err := contract.computeOrgGrants(clinicCtx, "labReport", []byte("key"), stub.txTime)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	_, hasClinic := grants["clinic"]
	assert.True(t, hasClinic)
}

func TestComputeOrgGrantsMultipleOrgs(t *testing.T) {
	contract := &EhrSmartContract{}
	stub := newFakeStub()

	for _, org := range []string{"clinic", "hospital"} {
		p := newTestPrincipal(t, org)
		p.register(t, contract, stub)
		ctx := newTestContext(stub, org, model.RoleHealthOrganization)
		require.NoError(t, contract.RegisterOrganizationPolicy(ctx, `[{"typeEHR":"labReport","durationMinutes":30}]`))
	}

	ctx := newTestContext(stub, "anyone", "")
	grants, err := contract.computeOrgGrants(ctx, "labReport", []byte("key"), stub.txTime)
	require.NoError(t, err)
	assert.Len(t, grants, 2)
}
