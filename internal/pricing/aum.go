package pricing

import (
	"PerpVault/internal/ledger"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/oracle"
	"PerpVault/internal/registry"
)

// AUM values the pool in USD (30 decimals). Stable assets count at face.
// Other assets count their unreserved pool, their guaranteed USD, and
// the traders' losses on open shorts, less the traders' short profits.
func AUM(assets []registry.AssetConfig, l ledger.Reader, prices oracle.PriceOracle, maximise bool) (fpmath.Uint, error) {
	aum := fpmath.Zero()
	shortProfits := fpmath.Zero()

	for _, cfg := range assets {
		var (
			price fpmath.Uint
			err   error
		)
		if maximise {
			price, err = prices.MaxPrice(cfg.Asset)
		} else {
			price, err = prices.MinPrice(cfg.Asset)
		}
		if err != nil {
			return fpmath.Zero(), err
		}

		s := l.Asset(cfg.Asset)
		if cfg.IsStable {
			aum = aum.Add(TokenToUSD(s.PoolAmount, price, cfg.Decimals))
			continue
		}

		if !s.GlobalShortSize.IsZero() {
			profit, delta := GlobalShortDelta(s.GlobalShortSize, s.GlobalShortAveragePrice, price)
			if profit {
				shortProfits = shortProfits.Add(delta)
			} else {
				aum = aum.Add(delta)
			}
		}

		aum = aum.Add(s.GuaranteedUSD)
		aum = aum.Add(TokenToUSD(s.PoolAmount.SubFloor(s.ReservedAmount), price, cfg.Decimals))
	}

	return aum.SubFloor(shortProfits), nil
}

// ToDebtToken converts a USD amount into debt-token units.
func ToDebtToken(usd fpmath.Uint, debtDecimals uint8) fpmath.Uint {
	return usd.MulDiv(fpmath.Exp10(debtDecimals), PricePrecision)
}
