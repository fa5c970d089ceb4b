package ledger

import (
	"errors"
	"fmt"

	fpmath "PerpVault/internal/math"
	"PerpVault/internal/registry"
)

var (
	ErrSolvencyViolated  = errors.New("solvency violated")
	ErrInvariantViolated = errors.New("ledger invariant violated")
)

// InvariantValidator checks ledger invariants against custody balances.
type InvariantValidator struct {
	ledger Reader
}

func NewInvariantValidator(r Reader) *InvariantValidator {
	return &InvariantValidator{ledger: r}
}

// CheckSolvency verifies pool_amount + fee_reserves + offset equals the
// custody balance. offset covers amounts legitimately held outside the
// pool, such as short collateral or a transfer not yet accounted for.
func (v *InvariantValidator) CheckSolvency(asset registry.Asset, custodyBalance, offset fpmath.Uint) error {
	s := v.ledger.Asset(asset)
	accounted := s.PoolAmount.Add(s.FeeReserves).Add(offset)
	if !accounted.EQ(custodyBalance) {
		return fmt.Errorf("%w: %s pool=%s fees=%s offset=%s custody=%s",
			ErrSolvencyViolated, asset, s.PoolAmount, s.FeeReserves, offset, custodyBalance)
	}
	return nil
}

// ValidateAsset checks the invariants that must hold after every
// committed operation: reserved <= pool and pool + fees <= custody.
func (v *InvariantValidator) ValidateAsset(asset registry.Asset, custodyBalance fpmath.Uint) error {
	return ValidateState(v.ledger.Asset(asset), custodyBalance)
}

// ValidateState is ValidateAsset for a state that is not committed yet.
func ValidateState(s AssetState, custodyBalance fpmath.Uint) error {
	if s.ReservedAmount.GT(s.PoolAmount) {
		return fmt.Errorf("%w: %s reserved=%s pool=%s", ErrInvariantViolated, s.Asset, s.ReservedAmount, s.PoolAmount)
	}
	if s.PoolAmount.Add(s.FeeReserves).GT(custodyBalance) {
		return fmt.Errorf("%w: %s pool=%s fees=%s custody=%s",
			ErrInvariantViolated, s.Asset, s.PoolAmount, s.FeeReserves, custodyBalance)
	}
	return nil
}
