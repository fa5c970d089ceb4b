package testutil

import (
	"context"
	"testing"
	"time"

	"PerpVault/internal/auth"
	"PerpVault/internal/custody"
	"PerpVault/internal/event"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/oracle"
	"PerpVault/internal/registry"
	"PerpVault/internal/vault"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	DAI  registry.Asset = "DAI"
	BTC  registry.Asset = "BTC"
	RUSD registry.Asset = "RUSD"
)

var (
	Gov    = auth.AddressIdentity([32]byte{0x60})
	Self   = auth.ContractIdentity([32]byte{0x7a})
	Trader = auth.AddressIdentity([32]byte{0x10})
	LP     = auth.AddressIdentity([32]byte{0x12})
)

// USD parses a human-readable USD amount into 30 decimals.
func USD(s string) fpmath.Uint {
	v, err := fpmath.ParseUnits(s, registry.USDDecimals)
	if err != nil {
		panic(err)
	}
	return v
}

// Units parses an amount of an 8-decimal asset.
func Units(s string) fpmath.Uint {
	v, err := fpmath.ParseUnits(s, 8)
	if err != nil {
		panic(err)
	}
	return v
}

// VaultFixture is an in-memory vault with custody, a price feed and a
// frozen clock.
type VaultFixture struct {
	t       *testing.T
	Ctx     context.Context
	Vault   *vault.Vault
	Tokens  *custody.Memory
	Prices  *oracle.PriceFeed
	Persist chan *event.Envelope

	feeds map[registry.Asset]*oracle.Feed
}

func NewVaultFixture(t *testing.T) *VaultFixture {
	t.Helper()

	gate := auth.NewGate(Gov)
	require.NoError(t, gate.Authorize(Gov, Self, auth.RoleVault))

	tokens := custody.NewMemory(RUSD)
	tokens.AddMinter(Self)

	f := &VaultFixture{
		t:       t,
		Ctx:     context.Background(),
		Tokens:  tokens,
		Prices:  oracle.NewPriceFeed(),
		Persist: make(chan *event.Envelope, 256),
		feeds:   make(map[registry.Asset]*oracle.Feed),
	}

	now := time.Unix(1_700_000_000, 0)
	v, err := vault.New(vault.Config{
		Self: Self,
		Now:  func() time.Time { return now },
	}, vault.Deps{
		Gate:        gate,
		Registry:    registry.New(),
		Oracle:      f.Prices,
		Custody:     tokens,
		DebtToken:   tokens,
		Logger:      zerolog.Nop(),
		PersistChan: f.Persist,
	})
	require.NoError(t, err)
	f.Vault = v
	return f
}

// SetPrice appends an 8-decimal answer such as "40000" to the asset's feed.
func (f *VaultFixture) SetPrice(asset registry.Asset, price string) {
	f.t.Helper()
	feed, ok := f.feeds[asset]
	if !ok {
		feed = oracle.NewFeed(8)
		f.feeds[asset] = feed
		f.Prices.SetFeed(asset, feed)
	}
	_, err := feed.SetLatestAnswer(Units(price))
	require.NoError(f.t, err)
}

func (f *VaultFixture) Configure(asset registry.Asset, stable, shortable bool) {
	f.t.Helper()
	require.NoError(f.t, f.Vault.SetAssetConfig(Gov, registry.AssetConfig{
		Asset:        asset,
		Decimals:     8,
		Weight:       10000,
		MinProfitBps: 75,
		IsStable:     stable,
		IsShortable:  shortable,
	}))
}

// Deposit credits holder with amount of asset and moves it into vault
// custody.
func (f *VaultFixture) Deposit(asset registry.Asset, holder auth.Identity, amount string) {
	f.t.Helper()
	a := Units(amount)
	f.Tokens.Credit(asset, holder, a)
	require.NoError(f.t, f.Tokens.Transfer(f.Ctx, asset, holder, Self, a))
}

// OpenShort builds the reference short book: an LP funds the DAI pool
// with 500 DAI, Trader shorts $90 of BTC with 20 DAI at $40,000, and BTC
// then trades at $42,000. The short is down $4.5 and the pool holds
// 499.8 DAI with 0.29 DAI of fees.
func (f *VaultFixture) OpenShort() {
	f.t.Helper()

	fees := registry.DefaultFeeConfig()
	fees.StableTaxBps = 10
	fees.MintBurnFeeBps = 4
	require.NoError(f.t, f.Vault.SetFees(Gov, fees))

	f.SetPrice(DAI, "1")
	f.Configure(DAI, true, false)
	for i := 0; i < 3; i++ {
		f.SetPrice(BTC, "40000")
	}
	f.Configure(BTC, false, true)

	f.Deposit(DAI, LP, "500")
	_, err := f.Vault.BuyDebtToken(f.Ctx, LP, DAI, LP)
	require.NoError(f.t, err)

	f.Deposit(DAI, Trader, "20")
	f.SetPrice(BTC, "41000")
	require.NoError(f.t, f.Vault.IncreasePosition(f.Ctx, Trader, Trader, DAI, BTC, USD("90"), false))

	for i := 0; i < 3; i++ {
		f.SetPrice(BTC, "42000")
	}
}
