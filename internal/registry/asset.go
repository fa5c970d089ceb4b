package registry

import (
	"fmt"

	fpmath "PerpVault/internal/math"
)

// Asset identifies a fungible asset held by the vault, e.g. "DAI".
type Asset string

// MaxDecimals bounds asset decimals so 10^decimals stays inside Exp10.
const MaxDecimals = 30

// AssetConfig is the whitelisting record of one asset.
type AssetConfig struct {
	Asset              Asset
	Decimals           uint8
	Weight             uint64
	MinProfitBps       uint64
	MaxDebtTokenAmount fpmath.Uint // debt-token units; zero means uncapped
	IsStable           bool
	IsShortable        bool
}

func ValidateAssetConfig(c AssetConfig) error {
	if c.Asset == "" {
		return fmt.Errorf("%w: empty asset id", ErrInvalidConfig)
	}
	if c.Decimals > MaxDecimals {
		return fmt.Errorf("%w: %s decimals %d exceed %d", ErrInvalidConfig, c.Asset, c.Decimals, MaxDecimals)
	}
	if c.MinProfitBps > BasisPointsDivisor {
		return fmt.Errorf("%w: %s min_profit_bps %d exceeds %d", ErrInvalidConfig, c.Asset, c.MinProfitBps, BasisPointsDivisor)
	}
	return nil
}
