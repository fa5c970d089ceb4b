package auth

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrAlreadyAuthorized = errors.New("identity already authorized")
)

// Role is the privilege level an identity holds over vault state.
type Role uint8

const (
	RoleUnprivileged Role = iota
	RoleVaultHelper
	RoleVault
)

func (r Role) String() string {
	switch r {
	case RoleVault:
		return "Vault"
	case RoleVaultHelper:
		return "VaultHelper"
	default:
		return "Unprivileged"
	}
}

// Capability is proof that an identity holds a role. Only a Gate can
// issue one with a role above Unprivileged.
type Capability struct {
	holder Identity
	role   Role
}

func (c Capability) Role() Role {
	return c.role
}

func (c Capability) Holder() Identity {
	return c.holder
}

// CanMutate reports whether the holder may write ledger or position state.
func (c Capability) CanMutate() bool {
	return c.role == RoleVault || c.role == RoleVaultHelper
}

func (c Capability) String() string {
	return fmt.Sprintf("%s(%s)", c.role, c.holder)
}

// Require fails with ErrUnauthorized unless c may mutate ledger state.
func (c Capability) Require(action string) error {
	if !c.CanMutate() {
		return fmt.Errorf("%w: %s requires Vault or VaultHelper, have %s", ErrUnauthorized, action, c)
	}
	return nil
}

// Gate records which identities were authorized by the deploying authority.
// Each identity can be authorized exactly once.
type Gate struct {
	mu         sync.RWMutex
	deployer   Identity
	authorized map[Identity]Role
}

func NewGate(deployer Identity) *Gate {
	return &Gate{
		deployer:   deployer,
		authorized: make(map[Identity]Role),
	}
}

func (g *Gate) Deployer() Identity {
	return g.deployer
}

// Authorize grants role to who. Only the deployer may call it.
func (g *Gate) Authorize(caller, who Identity, role Role) error {
	if caller != g.deployer {
		return fmt.Errorf("%w: %s is not the deploying authority", ErrUnauthorized, caller)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.authorized[who]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyAuthorized, who)
	}
	g.authorized[who] = role
	return nil
}

// Capability issues the capability held by who; unknown identities get
// an Unprivileged capability.
func (g *Gate) Capability(who Identity) Capability {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Capability{holder: who, role: g.authorized[who]}
}

// RequireDeployer checks caller is the deploying authority.
func (g *Gate) RequireDeployer(caller Identity, action string) error {
	if caller != g.deployer {
		return fmt.Errorf("%w: %s may only be called by %s", ErrUnauthorized, action, g.deployer)
	}
	return nil
}
