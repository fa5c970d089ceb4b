package vault

import (
	"context"
	"fmt"
	"sort"

	"PerpVault/internal/auth"
	"PerpVault/internal/event"
	"PerpVault/internal/ledger"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/pricing"
	"PerpVault/internal/registry"
	"PerpVault/internal/state"
)

// effect is an external side effect run after every check has passed.
// undo reverses it if a later effect fails.
type effect struct {
	name  string
	apply func(ctx context.Context) error
	undo  func(ctx context.Context) error
}

// txn stages every change of one operation. Nothing reaches the ledger,
// the position book or custody before commit.
type txn struct {
	v   *Vault
	ctx context.Context
	now int64

	assets    map[registry.Asset]*ledger.AssetState
	positions map[state.PositionKey]*state.Position

	// Prices are read once per operation.
	maxPrices map[registry.Asset]fpmath.Uint
	minPrices map[registry.Asset]fpmath.Uint

	outflows map[registry.Asset]fpmath.Uint
	effects  []effect
	events   []event.Event
}

func (v *Vault) begin(ctx context.Context) *txn {
	return &txn{
		v:         v,
		ctx:       ctx,
		now:       v.now().Unix(),
		assets:    make(map[registry.Asset]*ledger.AssetState),
		positions: make(map[state.PositionKey]*state.Position),
		maxPrices: make(map[registry.Asset]fpmath.Uint),
		minPrices: make(map[registry.Asset]fpmath.Uint),
		outflows:  make(map[registry.Asset]fpmath.Uint),
	}
}

// asset returns the staged state of asset, staging it on first use.
func (t *txn) asset(asset registry.Asset) *ledger.AssetState {
	if s, ok := t.assets[asset]; ok {
		return s
	}
	s := t.v.ledger.Asset(asset)
	t.assets[asset] = &s
	return &s
}

// position returns the staged position for key; absent positions are
// staged as zero positions.
func (t *txn) position(key state.PositionKey) *state.Position {
	if p, ok := t.positions[key]; ok {
		return p
	}
	p, _ := t.v.positions.Get(key)
	t.positions[key] = &p
	return &p
}

func (t *txn) emit(ev event.Event) {
	t.events = append(t.events, ev)
}

func (t *txn) config(asset registry.Asset) (registry.AssetConfig, error) {
	return t.v.registry.MustAsset(asset)
}

func (t *txn) maxPrice(asset registry.Asset) (fpmath.Uint, error) {
	if p, ok := t.maxPrices[asset]; ok {
		return p, nil
	}
	p, err := t.v.oracle.MaxPrice(asset)
	if err != nil {
		return fpmath.Zero(), err
	}
	t.maxPrices[asset] = p
	return p, nil
}

func (t *txn) minPrice(asset registry.Asset) (fpmath.Uint, error) {
	if p, ok := t.minPrices[asset]; ok {
		return p, nil
	}
	p, err := t.v.oracle.MinPrice(asset)
	if err != nil {
		return fpmath.Zero(), err
	}
	t.minPrices[asset] = p
	return p, nil
}

// markPrice is the price a position is valued at: min for longs, max for
// shorts.
func (t *txn) markPrice(index registry.Asset, isLong bool) (fpmath.Uint, error) {
	if isLong {
		return t.minPrice(index)
	}
	return t.maxPrice(index)
}

// tokenToUSDMin values amount at the asset's min price.
func (t *txn) tokenToUSDMin(asset registry.Asset, amount fpmath.Uint) (fpmath.Uint, error) {
	if amount.IsZero() {
		return fpmath.Zero(), nil
	}
	cfg, err := t.config(asset)
	if err != nil {
		return fpmath.Zero(), err
	}
	price, err := t.minPrice(asset)
	if err != nil {
		return fpmath.Zero(), err
	}
	return pricing.TokenToUSD(amount, price, cfg.Decimals), nil
}

// usdToTokenMin converts usd at the asset's max price.
func (t *txn) usdToTokenMin(asset registry.Asset, usd fpmath.Uint) (fpmath.Uint, error) {
	if usd.IsZero() {
		return fpmath.Zero(), nil
	}
	cfg, err := t.config(asset)
	if err != nil {
		return fpmath.Zero(), err
	}
	price, err := t.maxPrice(asset)
	if err != nil {
		return fpmath.Zero(), err
	}
	return pricing.USDToToken(usd, price, cfg.Decimals), nil
}

// usdToTokenMax converts usd at the asset's min price.
func (t *txn) usdToTokenMax(asset registry.Asset, usd fpmath.Uint) (fpmath.Uint, error) {
	if usd.IsZero() {
		return fpmath.Zero(), nil
	}
	cfg, err := t.config(asset)
	if err != nil {
		return fpmath.Zero(), err
	}
	price, err := t.minPrice(asset)
	if err != nil {
		return fpmath.Zero(), err
	}
	return pricing.USDToToken(usd, price, cfg.Decimals), nil
}

// updateFunding accrues the cumulative funding rate of asset up to now.
func (t *txn) updateFunding(asset registry.Asset) error {
	cfg, err := t.config(asset)
	if err != nil {
		return err
	}
	f := t.v.registry.Funding()
	factor := f.RateFactor
	if cfg.IsStable {
		factor = f.StableRateFactor
	}

	s := t.asset(asset)
	u := pricing.NextFunding(s.LastFundingTime, t.now, f.Interval, factor, s.PoolAmount, s.ReservedAmount)
	if !u.Changed {
		return nil
	}
	s.CumulativeFundingRate = s.CumulativeFundingRate.Add(u.Increment)
	s.LastFundingTime = u.LastFundingTime
	t.emit(&event.UpdateFundingRate{
		Asset:                 asset,
		CumulativeFundingRate: s.CumulativeFundingRate,
		LastFundingTime:       s.LastFundingTime,
	})
	return nil
}

// custodyBalance is the vault's balance of asset once staged outflows
// have run.
func (t *txn) custodyBalance(asset registry.Asset) (fpmath.Uint, error) {
	bal := t.v.custody.BalanceOf(asset, t.v.self)
	out := t.outflows[asset]
	if bal.LT(out) {
		return fpmath.Zero(), fmt.Errorf("%w: %s balance=%s outflows=%s", ErrInsufficientCustody, asset, bal, out)
	}
	return bal.Sub(out), nil
}

// transferIn accounts for everything sent to the vault since the last
// recorded balance and returns that amount.
func (t *txn) transferIn(asset registry.Asset) (fpmath.Uint, error) {
	bal, err := t.custodyBalance(asset)
	if err != nil {
		return fpmath.Zero(), err
	}
	s := t.asset(asset)
	in := bal.SubFloor(s.TokenBalance)
	s.TokenBalance = bal
	return in, nil
}

// transferOut stages a payout of amount to receiver.
func (t *txn) transferOut(asset registry.Asset, amount fpmath.Uint, receiver auth.Identity) error {
	if amount.IsZero() {
		return nil
	}
	t.outflows[asset] = t.outflows[asset].Add(amount)
	bal, err := t.custodyBalance(asset)
	if err != nil {
		return err
	}
	t.asset(asset).TokenBalance = bal

	c, self := t.v.custody, t.v.self
	t.effects = append(t.effects, effect{
		name: fmt.Sprintf("transfer %s %s to %s", amount, asset, receiver),
		apply: func(ctx context.Context) error {
			return c.Transfer(ctx, asset, self, receiver, amount)
		},
		undo: func(ctx context.Context) error {
			return c.Transfer(ctx, asset, receiver, self, amount)
		},
	})
	return nil
}

func (t *txn) mintDebt(receiver auth.Identity, amount fpmath.Uint) {
	d, self := t.v.debt, t.v.self
	t.effects = append(t.effects, effect{
		name: fmt.Sprintf("mint %s debt token to %s", amount, receiver),
		apply: func(ctx context.Context) error {
			return d.Mint(ctx, self, receiver, amount)
		},
		undo: func(ctx context.Context) error {
			return d.Burn(ctx, self, receiver, amount)
		},
	})
}

// burnDebt stages burning amount of debt token held by the vault.
func (t *txn) burnDebt(amount fpmath.Uint) error {
	asset := t.v.debt.DebtAsset()
	t.outflows[asset] = t.outflows[asset].Add(amount)
	bal, err := t.custodyBalance(asset)
	if err != nil {
		return err
	}
	t.asset(asset).TokenBalance = bal

	d, self := t.v.debt, t.v.self
	t.effects = append(t.effects, effect{
		name: fmt.Sprintf("burn %s debt token", amount),
		apply: func(ctx context.Context) error {
			return d.Burn(ctx, self, self, amount)
		},
		undo: func(ctx context.Context) error {
			return d.Mint(ctx, self, self, amount)
		},
	})
	return nil
}

// collectFeeTokens moves feeUSD of asset into fee reserves and returns
// the token amount.
func (t *txn) collectFeeTokens(asset registry.Asset, feeUSD fpmath.Uint) (fpmath.Uint, error) {
	tokens, err := t.usdToTokenMin(asset, feeUSD)
	if err != nil {
		return fpmath.Zero(), err
	}
	s := t.asset(asset)
	s.FeeReserves = s.FeeReserves.Add(tokens)
	if !feeUSD.IsZero() {
		t.emit(&event.CollectMarginFees{Asset: asset, FeeUSD: feeUSD, FeeTokens: tokens})
	}
	return tokens, nil
}

func (t *txn) stagedAssets() []ledger.AssetState {
	out := make([]ledger.AssetState, 0, len(t.assets))
	for _, s := range t.assets {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

func (t *txn) stagedPositions() []state.Position {
	out := make([]state.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// checkInvariants verifies the staged state before anything is written.
func (t *txn) checkInvariants() error {
	for _, s := range t.stagedAssets() {
		if !t.v.ledger.Exists(s.Asset) {
			return fmt.Errorf("%w: %s", ledger.ErrUnknownAsset, s.Asset)
		}
		bal, err := t.custodyBalance(s.Asset)
		if err != nil {
			return err
		}
		if err := ledger.ValidateState(s, bal); err != nil {
			return err
		}
	}

	maxLeverage := fpmath.NewUint(t.v.registry.MaxLeverage())
	shortIndexes := make(map[registry.Asset]bool)
	for _, p := range t.stagedPositions() {
		if !p.Key.IsLong {
			shortIndexes[p.Key.Index] = true
		}
		if !p.IsOpen() {
			continue
		}
		if p.SizeUSD.LTE(p.CollateralUSD) {
			return fmt.Errorf("%w: %s size=%s collateral=%s", ErrInvariantViolated, p.Key, p.SizeUSD, p.CollateralUSD)
		}
		lev, err := pricing.Leverage(p.SizeUSD, p.CollateralUSD)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvariantViolated, p.Key, err)
		}
		if lev.GT(maxLeverage) {
			return fmt.Errorf("%w: %s leverage %s above %s bps", ErrInvariantViolated, p.Key, lev, maxLeverage)
		}
	}

	for index := range shortIndexes {
		want := t.asset(index).GlobalShortSize
		got := t.openShortSize(index)
		if !got.EQ(want) {
			return fmt.Errorf("%w: %s global short size=%s open shorts=%s", ErrInvariantViolated, index, want, got)
		}
	}
	return nil
}

// openShortSize sums open short notional on index across the book with
// staged positions applied.
func (t *txn) openShortSize(index registry.Asset) fpmath.Uint {
	total := fpmath.Zero()
	for _, p := range t.v.positions.All() {
		if p.Key.IsLong || p.Key.Index != index {
			continue
		}
		if _, staged := t.positions[p.Key]; staged {
			continue
		}
		total = total.Add(p.SizeUSD)
	}
	for k, p := range t.positions {
		if !k.IsLong && k.Index == index {
			total = total.Add(p.SizeUSD)
		}
	}
	return total
}

// applyEffects runs staged side effects in order. When one fails, the
// ones already applied are undone in reverse.
func (t *txn) applyEffects() error {
	for i, e := range t.effects {
		if err := e.apply(t.ctx); err != nil {
			undoCtx := context.WithoutCancel(t.ctx)
			for j := i - 1; j >= 0; j-- {
				if uerr := t.effects[j].undo(undoCtx); uerr != nil {
					t.v.log.Error().Err(uerr).Str("effect", t.effects[j].name).Msg("undo failed")
				}
			}
			return fmt.Errorf("%w: %s: %w", ErrTransferFailed, e.name, err)
		}
	}
	return nil
}

func (t *txn) digest(states []ledger.AssetState, positions []state.Position) []byte {
	buf := make([]byte, 0, len(states)*320+len(positions)*256)
	for i := range states {
		buf = append(buf, states[i].CanonicalBytes()...)
	}
	for i := range positions {
		buf = append(buf, positions[i].CanonicalBytes()...)
	}
	return buf
}
