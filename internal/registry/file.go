package registry

import (
	"fmt"
	"os"
	"time"

	"PerpVault/internal/auth"
	fpmath "PerpVault/internal/math"

	"gopkg.in/yaml.v3"
)

// FileAsset is one asset entry of the bootstrap file. Amounts are written
// in human-readable units ("300" USD, "1000000" debt tokens).
type FileAsset struct {
	Asset              string `yaml:"asset"`
	Decimals           uint8  `yaml:"decimals"`
	Weight             uint64 `yaml:"weight"`
	MinProfitBps       uint64 `yaml:"min_profit_bps"`
	MaxDebtTokenAmount string `yaml:"max_debt_token_amount"`
	Stable             bool   `yaml:"stable"`
	Shortable          bool   `yaml:"shortable"`
	MaxGlobalShortUSD  string `yaml:"max_global_short_usd"`
}

type FileFees struct {
	TaxBps            uint64        `yaml:"tax_bps"`
	StableTaxBps      uint64        `yaml:"stable_tax_bps"`
	MintBurnFeeBps    uint64        `yaml:"mint_burn_fee_bps"`
	SwapFeeBps        uint64        `yaml:"swap_fee_bps"`
	StableSwapFeeBps  uint64        `yaml:"stable_swap_fee_bps"`
	MarginFeeBps      uint64        `yaml:"margin_fee_bps"`
	LiquidationFeeUSD string        `yaml:"liquidation_fee_usd"`
	MinProfitTime     time.Duration `yaml:"min_profit_time"`
	DynamicFees       bool          `yaml:"dynamic_fees"`
}

type FileFunding struct {
	Interval         time.Duration `yaml:"interval"`
	RateFactor       uint64        `yaml:"rate_factor"`
	StableRateFactor uint64        `yaml:"stable_rate_factor"`
}

// File is the YAML bootstrap configuration of a vault.
type File struct {
	Assets         []FileAsset  `yaml:"assets"`
	Fees           *FileFees    `yaml:"fees"`
	Funding        *FileFunding `yaml:"funding"`
	MaxLeverageBps uint64       `yaml:"max_leverage_bps"`
}

// LoadFile reads and parses a bootstrap file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vault config: %w", err)
	}
	return ParseFile(data)
}

func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse vault config: %w", err)
	}
	return &f, nil
}

// Configurator is the gated configuration surface a File is applied to.
type Configurator interface {
	SetAssetConfig(caller auth.Identity, c AssetConfig) error
	SetFees(caller auth.Identity, f FeeConfig) error
	SetFundingRate(caller auth.Identity, f FundingConfig) error
	SetMaxLeverage(caller auth.Identity, bps uint64) error
	SetMaxGlobalShortSize(caller auth.Identity, asset Asset, usd fpmath.Uint) error
}

// Apply pushes every entry of the file through c on behalf of caller.
// debtDecimals scales max_debt_token_amount.
func (f *File) Apply(c Configurator, caller auth.Identity, debtDecimals uint8) error {
	for _, a := range f.Assets {
		cfg := AssetConfig{
			Asset:        Asset(a.Asset),
			Decimals:     a.Decimals,
			Weight:       a.Weight,
			MinProfitBps: a.MinProfitBps,
			IsStable:     a.Stable,
			IsShortable:  a.Shortable,
		}
		if a.MaxDebtTokenAmount != "" {
			v, err := fpmath.ParseUnits(a.MaxDebtTokenAmount, debtDecimals)
			if err != nil {
				return fmt.Errorf("asset %s max_debt_token_amount: %w", a.Asset, err)
			}
			cfg.MaxDebtTokenAmount = v
		}
		if err := c.SetAssetConfig(caller, cfg); err != nil {
			return fmt.Errorf("asset %s: %w", a.Asset, err)
		}
		if a.MaxGlobalShortUSD != "" {
			v, err := fpmath.ParseUnits(a.MaxGlobalShortUSD, USDDecimals)
			if err != nil {
				return fmt.Errorf("asset %s max_global_short_usd: %w", a.Asset, err)
			}
			if err := c.SetMaxGlobalShortSize(caller, cfg.Asset, v); err != nil {
				return fmt.Errorf("asset %s: %w", a.Asset, err)
			}
		}
	}

	if f.Fees != nil {
		fees := FeeConfig{
			TaxBps:            f.Fees.TaxBps,
			StableTaxBps:      f.Fees.StableTaxBps,
			MintBurnFeeBps:    f.Fees.MintBurnFeeBps,
			SwapFeeBps:        f.Fees.SwapFeeBps,
			StableSwapFeeBps:  f.Fees.StableSwapFeeBps,
			MarginFeeBps:      f.Fees.MarginFeeBps,
			LiquidationFeeUSD: DefaultLiquidationFeeUSD,
			MinProfitTime:     f.Fees.MinProfitTime,
			HasDynamicFees:    f.Fees.DynamicFees,
		}
		if f.Fees.LiquidationFeeUSD != "" {
			v, err := fpmath.ParseUnits(f.Fees.LiquidationFeeUSD, USDDecimals)
			if err != nil {
				return fmt.Errorf("fees liquidation_fee_usd: %w", err)
			}
			fees.LiquidationFeeUSD = v
		}
		if err := c.SetFees(caller, fees); err != nil {
			return err
		}
	}

	if f.Funding != nil {
		if err := c.SetFundingRate(caller, FundingConfig{
			Interval:         f.Funding.Interval,
			RateFactor:       f.Funding.RateFactor,
			StableRateFactor: f.Funding.StableRateFactor,
		}); err != nil {
			return err
		}
	}

	if f.MaxLeverageBps != 0 {
		if err := c.SetMaxLeverage(caller, f.MaxLeverageBps); err != nil {
			return err
		}
	}
	return nil
}
