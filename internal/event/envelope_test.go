package event_test

import (
	"encoding/json"
	"testing"

	"PerpVault/internal/event"
	fpmath "PerpVault/internal/math"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "IncreasePosition", event.EventTypeIncreasePosition.String())
	assert.Equal(t, "SetPrivateLiquidationMode", event.EventTypeSetPrivateLiquidationMode.String())
	assert.Equal(t, "Unknown", event.EventType(999).String())
}

func TestEnvelopePayloadTagsRecords(t *testing.T) {
	env := &event.Envelope{
		Events: []event.Event{
			&event.CollectMarginFees{Asset: "DAI", FeeUSD: fpmath.NewUint(9), FeeTokens: fpmath.NewUint(1)},
			&event.SetMaxLeverage{MaxLeverageBps: 500000},
		},
	}
	raw, err := env.Payload()
	require.NoError(t, err)

	var decoded []struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "CollectMarginFees", decoded[0].Type)
	assert.JSONEq(t, `{"asset":"DAI","fee_usd":"9","fee_tokens":"1"}`, string(decoded[0].Data))
	assert.Equal(t, "SetMaxLeverage", decoded[1].Type)
}

func TestEnvelopeTypesDeduplicates(t *testing.T) {
	env := &event.Envelope{
		Events: []event.Event{
			&event.UpdateFundingRate{Asset: "DAI"},
			&event.IncreasePosition{},
			&event.UpdateFundingRate{Asset: "BTC"},
		},
	}
	assert.Equal(t, []event.EventType{event.EventTypeUpdateFundingRate, event.EventTypeIncreasePosition}, env.Types())
}
