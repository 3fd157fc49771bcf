package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	svc := NewService()

	chains := svc.List()
	require.Len(t, chains, 3)

	eth, ok := svc.Get("ethereum")
	require.True(t, ok)
	assert.Equal(t, uint16(2), eth.WireID)
	assert.True(t, eth.Serviceable)

	sui, ok := svc.Get("sui")
	require.True(t, ok)
	assert.Equal(t, uint16(21), sui.WireID)
	assert.True(t, sui.Serviceable)

	// Solana attestations originate elsewhere; the entry must say so.
	sol, ok := svc.Get("solana")
	require.True(t, ok)
	assert.False(t, sol.Serviceable)

	_, ok = svc.Get("dogechain")
	assert.False(t, ok)
}
