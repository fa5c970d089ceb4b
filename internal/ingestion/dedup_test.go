package ingestion_test

import (
	"testing"

	"PerpVault/internal/ingestion"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandGuard(t *testing.T) {
	g, err := ingestion.NewCommandGuard(2)
	require.NoError(t, err)

	first := ingestion.Delivery{StreamSeq: 5, MsgID: "a"}
	dup, _ := g.Seen(first)
	assert.False(t, dup)
	g.Settle(first)

	dup, why := g.Seen(first)
	assert.True(t, dup)
	assert.Equal(t, "redelivered", why)

	// Same client id resubmitted under a later stream sequence.
	dup, why = g.Seen(ingestion.Delivery{StreamSeq: 9, MsgID: "a"})
	assert.True(t, dup)
	assert.Equal(t, "msg_id", why)

	dup, _ = g.Seen(ingestion.Delivery{StreamSeq: 6})
	assert.False(t, dup)

	g.Settle(ingestion.Delivery{StreamSeq: 6, MsgID: "b"})
	g.Settle(ingestion.Delivery{StreamSeq: 7, MsgID: "c"})
	assert.Equal(t, 2, g.Len())

	// "a" was evicted.
	dup, _ = g.Seen(ingestion.Delivery{StreamSeq: 8, MsgID: "a"})
	assert.False(t, dup)
}
