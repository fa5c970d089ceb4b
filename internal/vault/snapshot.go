package vault

import (
	"fmt"
	"sort"

	"PerpVault/internal/auth"
	"PerpVault/internal/ledger"
	"PerpVault/internal/registry"
	"PerpVault/internal/state"
)

// SnapshotState is the complete in-memory state of a vault at one
// sequence. Restoring it and replaying later operations reproduces the
// same hash chain.
type SnapshotState struct {
	Sequence           int64               `json:"sequence"`
	StateHash          [32]byte            `json:"state_hash"`
	Registry           registry.Snapshot   `json:"registry"`
	Assets             []ledger.AssetState `json:"assets"`
	Positions          []state.Position    `json:"positions"`
	Liquidators        []auth.Identity     `json:"liquidators"`
	PrivateLiquidation bool                `json:"private_liquidation"`
	DebtTokenDecimals  uint8               `json:"debt_token_decimals"`
}

// CreateSnapshotState captures the current state for persistence.
func (v *Vault) CreateSnapshotState() *SnapshotState {
	v.mu.RLock()
	defer v.mu.RUnlock()

	liquidators := make([]auth.Identity, 0, len(v.liquidators))
	for id := range v.liquidators {
		liquidators = append(liquidators, id)
	}
	sort.Slice(liquidators, func(i, j int) bool { return liquidators[i].String() < liquidators[j].String() })

	return &SnapshotState{
		Sequence:           v.sequence,
		StateHash:          v.hasher.PrevHash(),
		Registry:           v.registry.Snapshot(),
		Assets:             v.ledger.Assets(),
		Positions:          v.positions.All(),
		Liquidators:        liquidators,
		PrivateLiquidation: v.privateLiquidation,
		DebtTokenDecimals:  v.debtDecimals,
	}
}

// RestoreFromSnapshot replaces the vault state with snap on behalf of the
// recovery helper holding c, which must have been issued by this vault's
// gate. Custody is not part of a snapshot and must already hold the
// matching balances.
func (v *Vault) RestoreFromSnapshot(c auth.Capability, snap *SnapshotState) error {
	if issued := v.gate.Capability(c.Holder()); issued != c {
		return fmt.Errorf("%w: %s was not issued by this vault's gate", ErrUnauthorized, c)
	}
	if err := c.Require("RestoreFromSnapshot"); err != nil {
		return err
	}
	if snap.DebtTokenDecimals != v.debtDecimals {
		return fmt.Errorf("%w: snapshot debt token decimals %d, vault %d",
			ErrInvalidConfig, snap.DebtTokenDecimals, v.debtDecimals)
	}
	reg, err := registry.Restore(snap.Registry)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ledger.Restore(c, snap.Assets); err != nil {
		return err
	}
	if err := v.ledger.Init(v.capability, v.debt.DebtAsset()); err != nil {
		return err
	}
	if err := v.positions.Restore(c, snap.Positions); err != nil {
		return err
	}

	v.registry = reg
	v.liquidators = make(map[auth.Identity]bool, len(snap.Liquidators))
	for _, id := range snap.Liquidators {
		v.liquidators[id] = true
	}
	v.privateLiquidation = snap.PrivateLiquidation
	v.sequence = snap.Sequence
	v.hasher.SetPrevHash(snap.StateHash)

	v.log.Info().
		Stringer("by", c).
		Int64("seq", snap.Sequence).
		Int("assets", len(snap.Assets)).
		Int("positions", len(snap.Positions)).
		Msg("restored from snapshot")
	return nil
}
