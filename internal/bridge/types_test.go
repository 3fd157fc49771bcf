package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageID(t *testing.T) {
	id := MessageID{Chain: ChainEthereum, Emitter: "0x3ee18b2214aff97000d974cf647e7c347e8fa585", Sequence: 123456}

	parsed, err := ParseMessageID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	for _, bad := range []string{"", "ethereum/0xabc", "ethereum//5", "ethereum/0xabc/notanumber", "a/b/c/d"} {
		_, err := ParseMessageID(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestPairKeyNormalizesAddressCase(t *testing.T) {
	a := AssetRef{Chain: ChainEthereum, Address: "0xAbCd"}
	b := AssetRef{Chain: ChainEthereum, Address: "0xabcd"}
	assert.Equal(t, a.PairKey(ChainSui), b.PairKey(ChainSui))
	assert.NotEqual(t, a.PairKey(ChainSui), a.PairKey(ChainSolana))
}

func TestWireIDs(t *testing.T) {
	cases := map[ChainID]uint16{
		ChainSolana:   1,
		ChainEthereum: 2,
		ChainSui:      21,
	}
	for chain, want := range cases {
		got, ok := chain.WireID()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := ChainID("dogechain").WireID()
	assert.False(t, ok)
}

func TestParseNetwork(t *testing.T) {
	for _, in := range []string{"testnet", "Testnet", " TESTNET "} {
		net, err := ParseNetwork(in)
		require.NoError(t, err)
		assert.Equal(t, NetworkTestnet, net)
	}

	net, err := ParseNetwork("mainnet")
	require.NoError(t, err)
	assert.Equal(t, NetworkMainnet, net)

	_, err = ParseNetwork("devnet")
	assert.ErrorIs(t, err, ErrInvalidAsset)
}
