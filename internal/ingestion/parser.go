package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	fpmath "PerpVault/internal/math"
	"PerpVault/internal/registry"

	"github.com/shopspring/decimal"
)

// DefaultFeedDecimals is the precision of a price update that does not
// name one. USD-quoted feeds answer with 8 decimals.
const DefaultFeedDecimals = 8

// PriceSubjectPrefix is the subject space price producers publish into:
// vault.prices.<asset>.
const PriceSubjectPrefix = "vault.prices."

var (
	ErrMalformedUpdate = errors.New("malformed price update")
	ErrAssetMismatch   = errors.New("price update asset does not match subject")
	ErrInvalidAnswer   = errors.New("invalid price answer")
)

// PriceUpdate is one parsed answer for an asset's round feed.
type PriceUpdate struct {
	Asset    registry.Asset
	Answer   fpmath.Uint // scaled by 10^Decimals
	Decimals uint8
	// Producer timestamp, zero when the payload omits it.
	Timestamp time.Time
}

// priceUpdateJSON is the wire format. Answer is a human-readable price
// such as "40000.25"; field names use snake_case to match upstream producers.
type priceUpdateJSON struct {
	Asset       string           `json:"asset"`
	Answer      *decimal.Decimal `json:"answer"`
	Decimals    *uint8           `json:"decimals,omitempty"`
	TimestampUs int64            `json:"timestamp_us,omitempty"`
}

// ParsePriceUpdate decodes a payload received on subject. The asset may be
// carried by the payload, the subject suffix, or both, in which case they
// must agree.
func ParsePriceUpdate(subject string, data []byte) (PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return PriceUpdate{}, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}

	asset, err := resolveAsset(subject, j.Asset)
	if err != nil {
		return PriceUpdate{}, err
	}

	decimals := uint8(DefaultFeedDecimals)
	if j.Decimals != nil {
		decimals = *j.Decimals
	}
	if decimals > registry.MaxDecimals {
		return PriceUpdate{}, fmt.Errorf("%w: decimals %d above %d", ErrMalformedUpdate, decimals, registry.MaxDecimals)
	}

	if j.Answer == nil {
		return PriceUpdate{}, fmt.Errorf("%w: missing answer", ErrInvalidAnswer)
	}
	if !j.Answer.IsPositive() {
		return PriceUpdate{}, fmt.Errorf("%w: %s must be positive", ErrInvalidAnswer, j.Answer)
	}
	answer, err := fpmath.UintFromDecimal(*j.Answer, decimals)
	if err != nil {
		return PriceUpdate{}, fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
	}

	upd := PriceUpdate{
		Asset:    asset,
		Answer:   answer,
		Decimals: decimals,
	}
	if j.TimestampUs > 0 {
		upd.Timestamp = time.UnixMicro(j.TimestampUs).UTC()
	}
	return upd, nil
}

func resolveAsset(subject, payload string) (registry.Asset, error) {
	var fromSubject string
	if rest, ok := strings.CutPrefix(subject, PriceSubjectPrefix); ok && rest != "" && !strings.Contains(rest, ".") {
		fromSubject = rest
	}

	switch {
	case payload == "" && fromSubject == "":
		return "", fmt.Errorf("%w: no asset in payload or subject %q", ErrMalformedUpdate, subject)
	case payload == "":
		return registry.Asset(fromSubject), nil
	case fromSubject != "" && fromSubject != payload:
		return "", fmt.Errorf("%w: subject %s, payload %s", ErrAssetMismatch, fromSubject, payload)
	default:
		return registry.Asset(payload), nil
	}
}

// reason maps a parse or apply error onto a low-cardinality metric label.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedUpdate):
		return "malformed"
	case errors.Is(err, ErrAssetMismatch):
		return "asset_mismatch"
	case errors.Is(err, ErrInvalidAnswer):
		return "answer"
	case errors.Is(err, ErrDecimalsMismatch):
		return "decimals"
	default:
		return "feed"
	}
}
