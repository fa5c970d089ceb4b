package vault

import (
	"errors"

	"PerpVault/internal/auth"
	"PerpVault/internal/custody"
	"PerpVault/internal/ledger"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/pricing"
	"PerpVault/internal/registry"
)

var (
	ErrInvalidCaller                       = errors.New("invalid caller")
	ErrMismatchedAssets                    = errors.New("long collateral asset must match index asset")
	ErrCollateralAssetNotWhitelisted       = errors.New("collateral asset not whitelisted")
	ErrCollateralAssetMustNotBeStableAsset = errors.New("long collateral asset must not be a stable asset")
	ErrCollateralAssetMustBeStableAsset    = errors.New("short collateral asset must be a stable asset")
	ErrIndexAssetMustNotBeStableAsset      = errors.New("short index asset must not be a stable asset")
	ErrIndexAssetNotShortable              = errors.New("short index asset not shortable")
	ErrInsufficientCollateralForFees       = errors.New("insufficient collateral for fees")
	ErrInvalidPositionSize                 = errors.New("invalid position size")
	ErrSizeMustBeMoreThanCollateral        = errors.New("position size must be more than collateral")
	ErrEmptyPosition                       = errors.New("empty position")
	ErrPositionSizeExceeded                = errors.New("size delta exceeds position size")
	ErrPositionCollateralExceeded          = errors.New("collateral delta exceeds position collateral")
	ErrPositionCannotBeLiquidated          = errors.New("position cannot be liquidated")
	ErrInvalidLiquidator                   = errors.New("invalid liquidator")
	ErrInvalidAssetAmount                  = errors.New("invalid asset amount")
	ErrInvalidDebtTokenAmount              = errors.New("invalid debt token amount")
	ErrInvalidRedemptionAmount             = errors.New("invalid redemption amount")
	ErrInvalidAmountOut                    = errors.New("invalid amount out")
	ErrInsufficientCustody                 = errors.New("insufficient custody balance")
	ErrTransferFailed                      = errors.New("custody transfer failed")
)

// Errors raised by the components the vault orchestrates, re-exported so
// callers can match every failure against this package.
var (
	ErrUnauthorized                    = auth.ErrUnauthorized
	ErrAssetNotWhitelisted             = registry.ErrAssetNotWhitelisted
	ErrInvalidConfig                   = registry.ErrInvalidConfig
	ErrInvalidFee                      = registry.ErrInvalidFee
	ErrInvalidLeverage                 = registry.ErrInvalidLeverage
	ErrReserveExceedsPool              = ledger.ErrReserveExceedsPool
	ErrPoolAmountExceeded              = ledger.ErrPoolAmountExceeded
	ErrPoolExceedsBalance              = ledger.ErrPoolExceedsBalance
	ErrMaxDebtTokenExceeded            = ledger.ErrMaxDebtTokenExceeded
	ErrMaxShortsExceeded               = ledger.ErrMaxShortsExceeded
	ErrInvariantViolated               = ledger.ErrInvariantViolated
	ErrSolvencyViolated                = ledger.ErrSolvencyViolated
	ErrLossesExceedCollateral          = pricing.ErrLossesExceedCollateral
	ErrFeesExceedCollateral            = pricing.ErrFeesExceedCollateral
	ErrLiquidationFeesExceedCollateral = pricing.ErrLiquidationFeesExceedCollateral
	ErrMaxLeverageExceeded             = pricing.ErrMaxLeverageExceeded
	ErrArithmetic                      = fpmath.ErrArithmetic
)

// Class groups vault errors by what the caller has to change.
type Class int

const (
	ClassNone Class = iota
	ClassAuthorization
	ClassConfig
	ClassSolvency
	ClassInvariant
	ClassArithmetic
	ClassExternal
)

func (c Class) String() string {
	switch c {
	case ClassAuthorization:
		return "authorization"
	case ClassConfig:
		return "config"
	case ClassSolvency:
		return "solvency"
	case ClassInvariant:
		return "invariant"
	case ClassArithmetic:
		return "arithmetic"
	case ClassExternal:
		return "external"
	default:
		return "none"
	}
}

var classes = []struct {
	class Class
	errs  []error
}{
	{ClassAuthorization, []error{
		ErrInvalidCaller, ErrUnauthorized, ErrInvalidLiquidator,
	}},
	{ClassConfig, []error{
		ErrMismatchedAssets, ErrCollateralAssetNotWhitelisted, ErrCollateralAssetMustNotBeStableAsset,
		ErrCollateralAssetMustBeStableAsset, ErrIndexAssetMustNotBeStableAsset, ErrIndexAssetNotShortable,
		ErrAssetNotWhitelisted, ErrInvalidConfig, ErrInvalidFee, ErrInvalidLeverage,
	}},
	{ClassSolvency, []error{
		ErrInsufficientCollateralForFees, ErrLossesExceedCollateral, ErrFeesExceedCollateral,
		ErrLiquidationFeesExceedCollateral, ErrReserveExceedsPool, ErrMaxShortsExceeded,
		ErrMaxDebtTokenExceeded, ErrPoolAmountExceeded, ErrPoolExceedsBalance, ErrInsufficientCustody,
		ErrSolvencyViolated,
	}},
	{ClassInvariant, []error{
		ErrSizeMustBeMoreThanCollateral, ErrMaxLeverageExceeded, ErrInvalidPositionSize,
		ErrEmptyPosition, ErrPositionSizeExceeded, ErrPositionCollateralExceeded,
		ErrPositionCannotBeLiquidated, ErrInvalidAssetAmount, ErrInvalidDebtTokenAmount,
		ErrInvalidRedemptionAmount, ErrInvalidAmountOut, ErrInvariantViolated,
	}},
	{ClassArithmetic, []error{ErrArithmetic}},
	{ClassExternal, []error{ErrTransferFailed, custody.ErrInsufficientBalance, custody.ErrNotMinter}},
}

// ClassOf classifies err. Unrecognised errors are ClassNone.
func ClassOf(err error) Class {
	if err == nil {
		return ClassNone
	}
	for _, c := range classes {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.class
			}
		}
	}
	return ClassNone
}
