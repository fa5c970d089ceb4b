package auth_test

import (
	"testing"

	"PerpVault/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func id(b byte) [32]byte {
	var out [32]byte
	out[31] = b
	return out
}

func TestIdentityKindIsPartOfEquality(t *testing.T) {
	addr := auth.AddressIdentity(id(1))
	contract := auth.ContractIdentity(id(1))
	assert.NotEqual(t, addr, contract)
}

func TestParseIdentityRoundTrip(t *testing.T) {
	want := auth.ContractIdentity(id(0xab))
	got, err := auth.ParseIdentity(want.String())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseIdentityRejectsMalformed(t *testing.T) {
	for _, s := range []string{
		"0x01",
		"wallet:0x" + "00",
		"address:0xzz",
		"address:0x0102",
	} {
		_, err := auth.ParseIdentity(s)
		assert.Error(t, err, s)
	}
}

func TestGateOnlyDeployerAuthorizesOnce(t *testing.T) {
	deployer := auth.AddressIdentity(id(1))
	vault := auth.ContractIdentity(id(2))
	stranger := auth.AddressIdentity(id(3))

	g := auth.NewGate(deployer)

	err := g.Authorize(stranger, vault, auth.RoleVault)
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	require.NoError(t, g.Authorize(deployer, vault, auth.RoleVault))
	require.ErrorIs(t, g.Authorize(deployer, vault, auth.RoleVaultHelper), auth.ErrAlreadyAuthorized)

	assert.Equal(t, auth.RoleVault, g.Capability(vault).Role())
	assert.True(t, g.Capability(vault).CanMutate())
}

func TestUnknownIdentityIsUnprivileged(t *testing.T) {
	g := auth.NewGate(auth.AddressIdentity(id(1)))
	c := g.Capability(auth.AddressIdentity(id(9)))

	assert.Equal(t, auth.RoleUnprivileged, c.Role())
	require.ErrorIs(t, c.Require("ledger.Put"), auth.ErrUnauthorized)

	var zero auth.Capability
	require.ErrorIs(t, zero.Require("ledger.Put"), auth.ErrUnauthorized)
}
