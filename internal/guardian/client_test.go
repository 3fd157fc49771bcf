package guardian

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chainspan/chainspan-backend/internal/bridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testMessageID() bridge.MessageID {
	return bridge.MessageID{
		Chain:    bridge.ChainEthereum,
		Emitter:  "0x3ee18b2214aff97000d974cf647e7c347e8fa585",
		Sequence: 42,
	}
}

func TestGetProof(t *testing.T) {
	raw := []byte("signed-attestation-payload")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/signed_attestation/2/0x3ee18b2214aff97000d974cf647e7c347e8fa585/42", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"attestationBytes":"` + base64.StdEncoding.EncodeToString(raw) + `","guardianSetIndex":4,"signatures":13}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, zap.NewNop().Sugar())

	proof, err := client.GetProof(context.Background(), testMessageID())
	require.NoError(t, err)
	assert.Equal(t, raw, proof.Bytes)
	assert.Equal(t, uint32(4), proof.GuardianSetIndex)
	assert.Equal(t, 13, proof.Signatures)
	assert.Equal(t, testMessageID(), proof.MessageID)
	assert.Len(t, proof.Digest, 64)
}

func TestGetProofNotReady(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(server.URL, zap.NewNop().Sugar())

	_, err := client.GetProof(context.Background(), testMessageID())
	assert.ErrorIs(t, err, bridge.ErrProofNotReady)
}

func TestGetProofServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, zap.NewNop().Sugar())

	_, err := client.GetProof(context.Background(), testMessageID())
	require.Error(t, err)
	assert.NotErrorIs(t, err, bridge.ErrProofNotReady)
}

func TestGetProofUnsupportedChain(t *testing.T) {
	client := NewClient("http://localhost:0", zap.NewNop().Sugar())

	_, err := client.GetProof(context.Background(), bridge.MessageID{Chain: "near", Emitter: "x", Sequence: 1})
	assert.Error(t, err)
}
