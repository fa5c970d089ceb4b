package vault_test

import (
	"context"
	"testing"
	"time"

	"PerpVault/internal/auth"
	"PerpVault/internal/custody"
	"PerpVault/internal/event"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/observability"
	"PerpVault/internal/oracle"
	"PerpVault/internal/registry"
	"PerpVault/internal/vault"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	DAI  registry.Asset = "DAI"
	BTC  registry.Asset = "BTC"
	BNB  registry.Asset = "BNB"
	RUSD registry.Asset = "RUSD"
)

var (
	gov   = auth.AddressIdentity([32]byte{0x60})
	self  = auth.ContractIdentity([32]byte{0x7a})
	user0 = auth.AddressIdentity([32]byte{0x10})
	user1 = auth.AddressIdentity([32]byte{0x11})
	user2 = auth.AddressIdentity([32]byte{0x12})
)

// helper holds VaultHelper and restores snapshots.
var helper = auth.ContractIdentity([32]byte{0x7b})

// usd parses a human-readable USD amount into 30 decimals.
func usd(s string) fpmath.Uint {
	v, err := fpmath.ParseUnits(s, registry.USDDecimals)
	if err != nil {
		panic(err)
	}
	return v
}

// units parses an amount of an 8-decimal asset.
func units(s string) fpmath.Uint {
	v, err := fpmath.ParseUnits(s, 8)
	if err != nil {
		panic(err)
	}
	return v
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	gate    *auth.Gate
	vault   *vault.Vault
	tokens  *custody.Memory
	prices  *oracle.PriceFeed
	feeds   map[registry.Asset]*oracle.Feed
	now     time.Time
	persist chan *event.Envelope
}

type harnessOption func(h *harness, d *vault.Deps)

// withTokens shares an existing token ledger and price feed.
func withTokens(m *custody.Memory, prices *oracle.PriceFeed) harnessOption {
	return func(h *harness, d *vault.Deps) {
		h.tokens = m
		h.prices = prices
		d.Custody = m
		d.DebtToken = m
		d.Oracle = prices
	}
}

// wrapCustody puts a wrapper between the vault and the token ledger.
func wrapCustody(wrap func(m *custody.Memory) vault.Custody) harnessOption {
	return func(h *harness, d *vault.Deps) {
		d.Custody = wrap(h.tokens)
	}
}

func withMetrics(m *observability.Metrics) harnessOption {
	return func(h *harness, d *vault.Deps) { d.Metrics = m }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	gate := auth.NewGate(gov)
	require.NoError(t, gate.Authorize(gov, self, auth.RoleVault))
	require.NoError(t, gate.Authorize(gov, helper, auth.RoleVaultHelper))

	tokens := custody.NewMemory(RUSD)
	tokens.AddMinter(self)

	h := &harness{
		t:       t,
		ctx:     context.Background(),
		gate:    gate,
		tokens:  tokens,
		prices:  oracle.NewPriceFeed(),
		feeds:   make(map[registry.Asset]*oracle.Feed),
		now:     time.Unix(1_700_000_000, 0),
		persist: make(chan *event.Envelope, 256),
	}

	deps := vault.Deps{
		Gate:        gate,
		Registry:    registry.New(),
		Oracle:      h.prices,
		Custody:     tokens,
		DebtToken:   tokens,
		Logger:      zerolog.Nop(),
		PersistChan: h.persist,
	}
	for _, opt := range opts {
		opt(h, &deps)
	}

	v, err := vault.New(vault.Config{
		Self: self,
		Now:  func() time.Time { return h.now },
	}, deps)
	require.NoError(t, err)
	h.vault = v
	return h
}

// setPrice appends a round to the asset's feed. Prices are 8-decimal
// answers, e.g. "40000".
func (h *harness) setPrice(asset registry.Asset, price string) {
	h.t.Helper()
	f, ok := h.feeds[asset]
	if !ok {
		f = oracle.NewFeed(8)
		h.feeds[asset] = f
		h.prices.SetFeed(asset, f)
	}
	_, err := f.SetLatestAnswer(units(price))
	require.NoError(h.t, err)
}

func (h *harness) configure(asset registry.Asset, stable, shortable bool) {
	h.t.Helper()
	require.NoError(h.t, h.vault.SetAssetConfig(gov, registry.AssetConfig{
		Asset:        asset,
		Decimals:     8,
		Weight:       10000,
		MinProfitBps: 75,
		IsStable:     stable,
		IsShortable:  shortable,
	}))
}

// deposit moves amount of asset from holder into vault custody, minting
// it for holder first when needed.
func (h *harness) deposit(asset registry.Asset, holder auth.Identity, amount string) {
	h.t.Helper()
	a := units(amount)
	if h.tokens.BalanceOf(asset, holder).LT(a) {
		h.tokens.Credit(asset, holder, a.Sub(h.tokens.BalanceOf(asset, holder)))
	}
	require.NoError(h.t, h.tokens.Transfer(h.ctx, asset, holder, self, a))
}

func (h *harness) increase(owner auth.Identity, collateral, index registry.Asset, size string, isLong bool) error {
	return h.vault.IncreasePosition(h.ctx, owner, owner, collateral, index, usd(size), isLong)
}

// drain returns every envelope committed so far.
func (h *harness) drain() []*event.Envelope {
	var out []*event.Envelope
	for {
		select {
		case env := <-h.persist:
			out = append(out, env)
		default:
			return out
		}
	}
}

func (h *harness) aum(maximise bool) fpmath.Uint {
	h.t.Helper()
	v, err := h.vault.AUMInDebtToken(maximise)
	require.NoError(h.t, err)
	return v
}
