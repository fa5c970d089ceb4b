package registry

import (
	"errors"
	"fmt"

	fpmath "PerpVault/internal/math"
)

var (
	ErrAssetNotWhitelisted = errors.New("asset not whitelisted")
	ErrInvalidConfig       = errors.New("invalid asset config")
	ErrInvalidFee          = errors.New("invalid fee config")
	ErrInvalidLeverage     = errors.New("invalid max leverage")
)

// Registry is the configuration store of the vault: whitelisted assets,
// fee schedule, funding parameters, leverage and short caps.
// It is owned by the vault and not safe for concurrent use on its own.
type Registry struct {
	assets        map[Asset]AssetConfig
	order         []Asset
	totalWeights  uint64
	fees          FeeConfig
	funding       FundingConfig
	maxLeverage   uint64
	maxShortSizes map[Asset]fpmath.Uint
}

func New() *Registry {
	return &Registry{
		assets:        make(map[Asset]AssetConfig),
		fees:          DefaultFeeConfig(),
		funding:       DefaultFundingConfig(),
		maxLeverage:   DefaultLeverageBps,
		maxShortSizes: make(map[Asset]fpmath.Uint),
	}
}

// SetAssetConfig whitelists or reconfigures an asset. It reports whether
// the asset was newly whitelisted.
func (r *Registry) SetAssetConfig(c AssetConfig) (bool, error) {
	if err := ValidateAssetConfig(c); err != nil {
		return false, err
	}

	prev, existed := r.assets[c.Asset]
	if existed {
		r.totalWeights -= prev.Weight
	} else {
		r.order = append(r.order, c.Asset)
	}
	r.totalWeights += c.Weight
	r.assets[c.Asset] = c
	return !existed, nil
}

// ClearAssetConfig removes an asset from the whitelist.
func (r *Registry) ClearAssetConfig(asset Asset) error {
	prev, ok := r.assets[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, asset)
	}
	r.totalWeights -= prev.Weight
	delete(r.assets, asset)
	for i, a := range r.order {
		if a == asset {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *Registry) Asset(asset Asset) (AssetConfig, bool) {
	c, ok := r.assets[asset]
	return c, ok
}

// MustAsset returns the config or ErrAssetNotWhitelisted.
func (r *Registry) MustAsset(asset Asset) (AssetConfig, error) {
	c, ok := r.assets[asset]
	if !ok {
		return AssetConfig{}, fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, asset)
	}
	return c, nil
}

func (r *Registry) IsWhitelisted(asset Asset) bool {
	_, ok := r.assets[asset]
	return ok
}

// Whitelisted returns asset configs in whitelisting order.
func (r *Registry) Whitelisted() []AssetConfig {
	out := make([]AssetConfig, 0, len(r.order))
	for _, a := range r.order {
		out = append(out, r.assets[a])
	}
	return out
}

func (r *Registry) TotalWeights() uint64 {
	return r.totalWeights
}

func (r *Registry) Fees() FeeConfig {
	return r.fees
}

func (r *Registry) SetFees(f FeeConfig) error {
	if err := ValidateFeeConfig(f); err != nil {
		return err
	}
	r.fees = f
	return nil
}

func (r *Registry) Funding() FundingConfig {
	return r.funding
}

func (r *Registry) SetFunding(f FundingConfig) error {
	if err := ValidateFundingConfig(f); err != nil {
		return err
	}
	r.funding = f
	return nil
}

// MaxLeverage is in basis points (50x = 500_000).
func (r *Registry) MaxLeverage() uint64 {
	return r.maxLeverage
}

func (r *Registry) SetMaxLeverage(bps uint64) error {
	if bps <= MinLeverageBps {
		return fmt.Errorf("%w: %d must exceed %d", ErrInvalidLeverage, bps, MinLeverageBps)
	}
	r.maxLeverage = bps
	return nil
}

// MaxGlobalShortSize returns the USD cap on shorts for an index asset;
// zero means uncapped.
func (r *Registry) MaxGlobalShortSize(asset Asset) fpmath.Uint {
	return r.maxShortSizes[asset]
}

func (r *Registry) SetMaxGlobalShortSize(asset Asset, usd fpmath.Uint) {
	if usd.IsZero() {
		delete(r.maxShortSizes, asset)
		return
	}
	r.maxShortSizes[asset] = usd
}

// Snapshot is the serializable form of a Registry.
type Snapshot struct {
	Assets        []AssetConfig         `json:"assets"`
	Fees          FeeConfig             `json:"fees"`
	Funding       FundingConfig         `json:"funding"`
	MaxLeverage   uint64                `json:"max_leverage"`
	MaxShortSizes map[Asset]fpmath.Uint `json:"max_short_sizes"`
}

func (r *Registry) Snapshot() Snapshot {
	shorts := make(map[Asset]fpmath.Uint, len(r.maxShortSizes))
	for k, v := range r.maxShortSizes {
		shorts[k] = v
	}
	return Snapshot{
		Assets:        r.Whitelisted(),
		Fees:          r.fees,
		Funding:       r.funding,
		MaxLeverage:   r.maxLeverage,
		MaxShortSizes: shorts,
	}
}

// Restore replaces the registry contents with a snapshot.
func Restore(s Snapshot) (*Registry, error) {
	r := New()
	for _, c := range s.Assets {
		if _, err := r.SetAssetConfig(c); err != nil {
			return nil, fmt.Errorf("restore asset %s: %w", c.Asset, err)
		}
	}
	if err := r.SetFees(s.Fees); err != nil {
		return nil, fmt.Errorf("restore fees: %w", err)
	}
	if err := r.SetFunding(s.Funding); err != nil {
		return nil, fmt.Errorf("restore funding: %w", err)
	}
	if err := r.SetMaxLeverage(s.MaxLeverage); err != nil {
		return nil, fmt.Errorf("restore leverage: %w", err)
	}
	for a, v := range s.MaxShortSizes {
		r.SetMaxGlobalShortSize(a, v)
	}
	return r, nil
}
