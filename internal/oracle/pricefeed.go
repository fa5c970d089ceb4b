package oracle

import (
	"fmt"
	"sync"

	fpmath "PerpVault/internal/math"
	"PerpVault/internal/registry"
)

const (
	DefaultSampleSpace = 3
	MaxSpreadBps       = 50
)

// PricePrecision is the scale of every price the oracle returns (1e30 = 1 USD).
var PricePrecision = fpmath.Exp10(registry.USDDecimals)

// PriceOracle supplies normalised USD prices for vault assets.
type PriceOracle interface {
	MaxPrice(asset registry.Asset) (fpmath.Uint, error)
	MinPrice(asset registry.Asset) (fpmath.Uint, error)
}

type assetFeed struct {
	feed      *Feed
	spreadBps uint64
}

// PriceFeed derives a min and max price per asset from the last
// SampleSpace rounds of its Feed, optionally widened by a spread.
type PriceFeed struct {
	mu          sync.RWMutex
	sampleSpace int
	feeds       map[registry.Asset]assetFeed
}

func NewPriceFeed() *PriceFeed {
	return &PriceFeed{
		sampleSpace: DefaultSampleSpace,
		feeds:       make(map[registry.Asset]assetFeed),
	}
}

func (p *PriceFeed) SetSampleSpace(n int) error {
	if n < 1 {
		return fmt.Errorf("sample space must be at least 1, got %d", n)
	}
	p.mu.Lock()
	p.sampleSpace = n
	p.mu.Unlock()
	return nil
}

// SetFeed binds a round feed to an asset, keeping any configured spread.
func (p *PriceFeed) SetFeed(asset registry.Asset, feed *Feed) {
	p.mu.Lock()
	defer p.mu.Unlock()
	af := p.feeds[asset]
	af.feed = feed
	p.feeds[asset] = af
}

func (p *PriceFeed) SetSpreadBasisPoints(asset registry.Asset, bps uint64) error {
	if bps > MaxSpreadBps {
		return fmt.Errorf("%w: spread %d bps exceeds %d", ErrInvalidPrice, bps, MaxSpreadBps)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	af := p.feeds[asset]
	af.spreadBps = bps
	p.feeds[asset] = af
	return nil
}

// Feed returns the round feed bound to asset.
func (p *PriceFeed) Feed(asset registry.Asset) (*Feed, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	af, ok := p.feeds[asset]
	if !ok || af.feed == nil {
		return nil, false
	}
	return af.feed, true
}

func (p *PriceFeed) MaxPrice(asset registry.Asset) (fpmath.Uint, error) {
	return p.Price(asset, true)
}

func (p *PriceFeed) MinPrice(asset registry.Asset) (fpmath.Uint, error) {
	return p.Price(asset, false)
}

// Price returns the highest (maximise) or lowest sampled answer, scaled
// to PricePrecision and moved outward by the asset spread.
func (p *PriceFeed) Price(asset registry.Asset, maximise bool) (fpmath.Uint, error) {
	p.mu.RLock()
	af, ok := p.feeds[asset]
	space := p.sampleSpace
	p.mu.RUnlock()
	if !ok || af.feed == nil {
		return fpmath.Uint{}, fmt.Errorf("%w: %s", ErrNoPriceFeed, asset)
	}

	samples := af.feed.recent(space)
	if len(samples) == 0 {
		return fpmath.Uint{}, fmt.Errorf("%w: %s", ErrNoAnswer, asset)
	}

	price := samples[0]
	for _, s := range samples[1:] {
		if maximise {
			price = fpmath.Max(price, s)
		} else {
			price = fpmath.Min(price, s)
		}
	}

	price = price.MulDiv(PricePrecision, fpmath.Exp10(af.feed.Decimals()))

	if af.spreadBps > 0 {
		divisor := fpmath.NewUint(registry.BasisPointsDivisor)
		if maximise {
			price = price.MulDiv(fpmath.NewUint(registry.BasisPointsDivisor+af.spreadBps), divisor)
		} else {
			price = price.MulDiv(fpmath.NewUint(registry.BasisPointsDivisor-af.spreadBps), divisor)
		}
	}
	return price, nil
}
