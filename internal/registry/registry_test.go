package registry_test

import (
	"testing"
	"time"

	"PerpVault/internal/auth"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAssetConfigTracksOrderAndWeights(t *testing.T) {
	r := registry.New()

	added, err := r.SetAssetConfig(registry.AssetConfig{Asset: "DAI", Decimals: 8, Weight: 10000, IsStable: true})
	require.NoError(t, err)
	assert.True(t, added)

	_, err = r.SetAssetConfig(registry.AssetConfig{Asset: "BTC", Decimals: 8, Weight: 20000, IsShortable: true})
	require.NoError(t, err)

	added, err = r.SetAssetConfig(registry.AssetConfig{Asset: "DAI", Decimals: 8, Weight: 5000, IsStable: true})
	require.NoError(t, err)
	assert.False(t, added)

	assert.Equal(t, uint64(25000), r.TotalWeights())

	var order []registry.Asset
	for _, c := range r.Whitelisted() {
		order = append(order, c.Asset)
	}
	assert.Equal(t, []registry.Asset{"DAI", "BTC"}, order)

	require.NoError(t, r.ClearAssetConfig("DAI"))
	assert.False(t, r.IsWhitelisted("DAI"))
	assert.Equal(t, uint64(20000), r.TotalWeights())
	require.ErrorIs(t, r.ClearAssetConfig("DAI"), registry.ErrAssetNotWhitelisted)
}

func TestSetAssetConfigRejectsBadDecimals(t *testing.T) {
	r := registry.New()
	_, err := r.SetAssetConfig(registry.AssetConfig{Asset: "X", Decimals: 31})
	require.ErrorIs(t, err, registry.ErrInvalidConfig)
	assert.False(t, r.IsWhitelisted("X"))
}

func TestSetFeesValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*registry.FeeConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*registry.FeeConfig) {}},
		{name: "margin at cap", mutate: func(f *registry.FeeConfig) { f.MarginFeeBps = 500 }},
		{name: "margin over cap", mutate: func(f *registry.FeeConfig) { f.MarginFeeBps = 501 }, wantErr: true},
		{name: "tax over cap", mutate: func(f *registry.FeeConfig) { f.TaxBps = 1000 }, wantErr: true},
		{
			name: "liquidation fee over 100 usd",
			mutate: func(f *registry.FeeConfig) {
				f.LiquidationFeeUSD = fpmath.ExpandDecimals(101, registry.USDDecimals)
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := registry.New()
			f := registry.DefaultFeeConfig()
			tt.mutate(&f)
			err := r.SetFees(f)
			if tt.wantErr {
				require.ErrorIs(t, err, registry.ErrInvalidFee)
				assert.Equal(t, registry.DefaultFeeConfig(), r.Fees())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, f, r.Fees())
		})
	}
}

func TestFundingAndLeverageBounds(t *testing.T) {
	r := registry.New()
	require.ErrorIs(t, r.SetFunding(registry.FundingConfig{Interval: time.Minute}), registry.ErrInvalidConfig)
	require.ErrorIs(t, r.SetFunding(registry.FundingConfig{Interval: time.Hour, RateFactor: 10001}), registry.ErrInvalidConfig)
	require.NoError(t, r.SetFunding(registry.FundingConfig{Interval: time.Hour, RateFactor: 100, StableRateFactor: 50}))

	require.ErrorIs(t, r.SetMaxLeverage(10000), registry.ErrInvalidLeverage)
	require.NoError(t, r.SetMaxLeverage(20*10000))
	assert.Equal(t, uint64(200000), r.MaxLeverage())
}

func TestSnapshotRestore(t *testing.T) {
	r := registry.New()
	_, err := r.SetAssetConfig(registry.AssetConfig{Asset: "DAI", Decimals: 8, Weight: 1, IsStable: true})
	require.NoError(t, err)
	r.SetMaxGlobalShortSize("BTC", fpmath.ExpandDecimals(300, registry.USDDecimals))

	back, err := registry.Restore(r.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, r.Snapshot(), back.Snapshot())
}

type recordingConfigurator struct {
	assets []registry.AssetConfig
	fees   *registry.FeeConfig
	fund   *registry.FundingConfig
	lev    uint64
	shorts map[registry.Asset]fpmath.Uint
}

func (c *recordingConfigurator) SetAssetConfig(_ auth.Identity, a registry.AssetConfig) error {
	c.assets = append(c.assets, a)
	return nil
}

func (c *recordingConfigurator) SetFees(_ auth.Identity, f registry.FeeConfig) error {
	c.fees = &f
	return nil
}

func (c *recordingConfigurator) SetFundingRate(_ auth.Identity, f registry.FundingConfig) error {
	c.fund = &f
	return nil
}

func (c *recordingConfigurator) SetMaxLeverage(_ auth.Identity, bps uint64) error {
	c.lev = bps
	return nil
}

func (c *recordingConfigurator) SetMaxGlobalShortSize(_ auth.Identity, a registry.Asset, usd fpmath.Uint) error {
	if c.shorts == nil {
		c.shorts = make(map[registry.Asset]fpmath.Uint)
	}
	c.shorts[a] = usd
	return nil
}

const bootstrapYAML = `
assets:
  - asset: DAI
    decimals: 8
    weight: 10000
    stable: true
    max_debt_token_amount: "1000000"
  - asset: BTC
    decimals: 8
    weight: 10000
    min_profit_bps: 75
    shortable: true
    max_global_short_usd: "300"
fees:
  tax_bps: 50
  stable_tax_bps: 10
  mint_burn_fee_bps: 4
  swap_fee_bps: 30
  stable_swap_fee_bps: 4
  margin_fee_bps: 10
  liquidation_fee_usd: "5"
  min_profit_time: 1h
funding:
  interval: 8h
  rate_factor: 600
  stable_rate_factor: 600
max_leverage_bps: 500000
`

func TestParseAndApplyFile(t *testing.T) {
	f, err := registry.ParseFile([]byte(bootstrapYAML))
	require.NoError(t, err)

	c := &recordingConfigurator{}
	require.NoError(t, f.Apply(c, auth.AddressIdentity([32]byte{1}), 8))

	require.Len(t, c.assets, 2)
	assert.Equal(t, "100000000000000", c.assets[0].MaxDebtTokenAmount.String())
	assert.True(t, c.assets[0].IsStable)
	assert.Equal(t, uint64(75), c.assets[1].MinProfitBps)
	assert.Equal(t, fpmath.ExpandDecimals(300, 30), c.shorts["BTC"])

	require.NotNil(t, c.fees)
	assert.Equal(t, uint64(4), c.fees.MintBurnFeeBps)
	assert.Equal(t, time.Hour, c.fees.MinProfitTime)
	assert.Equal(t, registry.DefaultLiquidationFeeUSD, c.fees.LiquidationFeeUSD)

	require.NotNil(t, c.fund)
	assert.Equal(t, 8*time.Hour, c.fund.Interval)
	assert.Equal(t, uint64(500000), c.lev)
}

func TestApplyFileRejectsBadAmount(t *testing.T) {
	f, err := registry.ParseFile([]byte("assets:\n  - asset: DAI\n    decimals: 8\n    max_debt_token_amount: \"1.000000001\"\n"))
	require.NoError(t, err)
	err = f.Apply(&recordingConfigurator{}, auth.AddressIdentity([32]byte{1}), 8)
	require.Error(t, err)
}
