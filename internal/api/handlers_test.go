package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chainspan/chainspan-backend/internal/bridge"
	"github.com/chainspan/chainspan-backend/internal/catalog"
	"github.com/chainspan/chainspan-backend/internal/config"
	"github.com/chainspan/chainspan-backend/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Mock token bridge view for testing
type mockTokenBridge struct {
	mock.Mock
}

func (m *mockTokenBridge) GetWrappedAsset(ctx context.Context, source bridge.AssetRef) (string, error) {
	args := m.Called(ctx, source)
	return args.String(0), args.Error(1)
}

func (m *mockTokenBridge) CreateAttestation(ctx context.Context, asset bridge.AssetRef, signerAddr string) (*bridge.UnsignedTx, error) {
	args := m.Called(ctx, asset, signerAddr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bridge.UnsignedTx), args.Error(1)
}

func (m *mockTokenBridge) SubmitAttestation(ctx context.Context, proof *bridge.Proof, signerAddr string) (*bridge.UnsignedTx, error) {
	args := m.Called(ctx, proof, signerAddr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bridge.UnsignedTx), args.Error(1)
}

func (m *mockTokenBridge) ParseAttestationMessage(receipt *bridge.TxReceipt) (*bridge.MessageID, error) {
	args := m.Called(receipt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bridge.MessageID), args.Error(1)
}

var _ bridge.TokenBridgeView = (*mockTokenBridge)(nil)

type mockChainClient struct {
	mock.Mock
	chain  bridge.ChainID
	bridge bridge.TokenBridgeView
}

func (m *mockChainClient) ID() bridge.ChainID                  { return m.chain }
func (m *mockChainClient) TokenBridge() bridge.TokenBridgeView { return m.bridge }

func (m *mockChainClient) SubmitAndWait(ctx context.Context, tx bridge.SignedTx) (*bridge.TxReceipt, error) {
	args := m.Called(ctx, tx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bridge.TxReceipt), args.Error(1)
}

type mockProofSource struct {
	mock.Mock
}

func (m *mockProofSource) GetProof(ctx context.Context, id bridge.MessageID) (*bridge.Proof, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bridge.Proof), args.Error(1)
}

type staticClients struct {
	clients map[bridge.ChainID]bridge.ChainClient
}

func (s staticClients) Client(_ bridge.Network, chain bridge.ChainID) (bridge.ChainClient, error) {
	client, ok := s.clients[chain]
	if !ok {
		return nil, fmt.Errorf("no client configured for chain %s", chain)
	}
	return client, nil
}

type staticSigner struct{}

func (staticSigner) Address() string { return "0xsigner" }

func (staticSigner) Sign(tx *bridge.UnsignedTx) (bridge.SignedTx, error) {
	return bridge.SignedTx{Chain: tx.Chain, Raw: tx.Payload}, nil
}

type staticSigners struct{}

func (staticSigners) SignerFor(bridge.Network, bridge.ChainID) (bridge.Signer, error) {
	return staticSigner{}, nil
}

type testEnv struct {
	server    *httptest.Server
	handler   *Handler
	cache     *store.Cache
	ethBridge *mockTokenBridge
	suiBridge *mockTokenBridge
	ethClient *mockChainClient
	proofs    *mockProofSource
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zap.NewNop().Sugar()

	ethBridge := &mockTokenBridge{}
	suiBridge := &mockTokenBridge{}
	ethClient := &mockChainClient{chain: bridge.ChainEthereum, bridge: ethBridge}
	suiClient := &mockChainClient{chain: bridge.ChainSui, bridge: suiBridge}
	clients := staticClients{clients: map[bridge.ChainID]bridge.ChainClient{
		bridge.ChainEthereum: ethClient,
		bridge.ChainSui:      suiClient,
	}}
	proofs := &mockProofSource{}

	// Port 1 never answers, so the cache runs in memory mode.
	cache, err := store.NewCache("127.0.0.1:1", logger)
	require.NoError(t, err)
	require.True(t, cache.IsInMemoryMode())

	orch := bridge.NewOrchestrator(clients, staticSigners{}, proofs, logger,
		bridge.WithProofPollInterval(5*time.Millisecond),
		bridge.WithConfirmPolicy(bridge.RetryPolicy{MaxAttempts: 2, Interval: time.Millisecond}),
	)
	worker := bridge.NewWorker(orch, logger,
		bridge.WithRetainer(cache),
		bridge.WithConcurrency(2),
	)

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)

	handler := NewHandler(worker, clients, nil, cache, catalog.NewService(), nil, &config.Config{Network: "testnet"}, logger)
	router := handler.Routes(NewMiddleware(logger, nil), nil, 6000, nil)
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.Close()
		cancel()
		cache.Close()
	})

	return &testEnv{
		server:    server,
		handler:   handler,
		cache:     cache,
		ethBridge: ethBridge,
		suiBridge: suiBridge,
		ethClient: ethClient,
		proofs:    proofs,
	}
}

func (e *testEnv) post(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()

	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestCreateWrappedToken_ExistingWrappedAsset(t *testing.T) {
	env := newTestEnv(t)

	env.suiBridge.On("GetWrappedAsset", mock.Anything, mock.Anything).
		Return("0xwrapped", nil)

	resp, body := env.post(t, "/v1/wrapped-tokens", CreateWrappedTokenRequest{
		SourceAsset:      AssetRefDTO{Chain: "ethereum", Address: "0x3ee18b2214aff97000d974cf647e7c347e8fa585"},
		DestinationChain: "sui",
		Network:          "testnet",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out WrappedTokenResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.True(t, out.Success)
	assert.NotEmpty(t, out.RunID)
	require.NotNil(t, out.WrappedToken)
	assert.Equal(t, "sui", out.WrappedToken.Chain)
	assert.Equal(t, "0xwrapped", out.WrappedToken.Address)
	assert.Empty(t, out.AttestationTransactionID)

	// The pre-check hit must short-circuit before any transaction.
	env.ethBridge.AssertNotCalled(t, "CreateAttestation", mock.Anything, mock.Anything, mock.Anything)
	env.ethClient.AssertNotCalled(t, "SubmitAndWait", mock.Anything, mock.Anything)
}

func TestCreateWrappedToken_UnsupportedChain(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/v1/wrapped-tokens", CreateWrappedTokenRequest{
		SourceAsset:      AssetRefDTO{Chain: "dogechain", Address: "0xabc"},
		DestinationChain: "sui",
		Network:          "testnet",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out ErrorResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, bridge.KindInvalidAsset, out.Code)
}

func TestCreateWrappedToken_InvalidNetwork(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.post(t, "/v1/wrapped-tokens", CreateWrappedTokenRequest{
		SourceAsset:      AssetRefDTO{Chain: "ethereum", Address: "0xabc"},
		DestinationChain: "sui",
		Network:          "devnet",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateWrappedToken_ProofTimeoutRetainsMessage(t *testing.T) {
	env := newTestEnv(t)

	msgID := bridge.MessageID{Chain: bridge.ChainEthereum, Emitter: "0xemitter", Sequence: 7}

	env.suiBridge.On("GetWrappedAsset", mock.Anything, mock.Anything).
		Return("", bridge.ErrNoWrappedAsset)
	env.ethBridge.On("CreateAttestation", mock.Anything, mock.Anything, "0xsigner").
		Return(&bridge.UnsignedTx{Chain: bridge.ChainEthereum, Payload: []byte{0x01}}, nil)
	env.ethClient.On("SubmitAndWait", mock.Anything, mock.Anything).
		Return(&bridge.TxReceipt{TxID: "0xattesttx"}, nil)
	env.ethBridge.On("ParseAttestationMessage", mock.Anything).
		Return(&msgID, nil)
	env.proofs.On("GetProof", mock.Anything, msgID).
		Return(nil, bridge.ErrProofNotReady)

	resp, body := env.post(t, "/v1/wrapped-tokens", CreateWrappedTokenRequest{
		SourceAsset:      AssetRefDTO{Chain: "ethereum", Address: "0x3ee18b2214aff97000d974cf647e7c347e8fa585"},
		DestinationChain: "sui",
		Network:          "testnet",
		TimeoutMs:        30,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out WrappedTokenResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.False(t, out.Success)
	assert.Equal(t, "0xattesttx", out.AttestationTransactionID)
	assert.Equal(t, "ethereum/0xemitter/7", out.MessageID)
	require.NotNil(t, out.Error)
	assert.Equal(t, bridge.KindProofTimeout, out.Error.Kind)

	// The message id must be retained so the run can be resumed.
	source := bridge.AssetRef{Chain: bridge.ChainEthereum, Address: "0x3ee18b2214aff97000d974cf647e7c347e8fa585"}
	retained, err := env.cache.RetainedMessage(context.Background(), source.PairKey(bridge.ChainSui))
	require.NoError(t, err)
	require.NotNil(t, retained)
	assert.Equal(t, msgID, *retained)
}

func TestResumeWrappedToken_UsesRetainedMessage(t *testing.T) {
	env := newTestEnv(t)

	source := bridge.AssetRef{Chain: bridge.ChainEthereum, Address: "0xcafe"}
	msgID := bridge.MessageID{Chain: bridge.ChainEthereum, Emitter: "0xemitter", Sequence: 42}
	require.NoError(t, env.cache.RetainMessage(context.Background(), source.PairKey(bridge.ChainSui), msgID))

	// Another run completed the pair meanwhile, so the resume pre-check hits.
	env.suiBridge.On("GetWrappedAsset", mock.Anything, mock.Anything).
		Return("0xwrapped", nil)

	resp, body := env.post(t, "/v1/wrapped-tokens/resume", ResumeWrappedTokenRequest{
		SourceAsset:      AssetRefDTO{Chain: "ethereum", Address: "0xcafe"},
		DestinationChain: "sui",
		Network:          "testnet",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out WrappedTokenResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.True(t, out.Success)
	assert.Equal(t, "ethereum/0xemitter/42", out.MessageID)
	require.NotNil(t, out.WrappedToken)
	assert.Equal(t, "0xwrapped", out.WrappedToken.Address)
}

func TestResumeWrappedToken_NoRetainedMessage(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/v1/wrapped-tokens/resume", ResumeWrappedTokenRequest{
		SourceAsset:      AssetRefDTO{Chain: "ethereum", Address: "0xnothing"},
		DestinationChain: "sui",
		Network:          "testnet",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var out ErrorResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "NO_RETAINED_MESSAGE", out.Code)
}

func TestGetWrappedToken(t *testing.T) {
	env := newTestEnv(t)

	env.suiBridge.On("GetWrappedAsset", mock.Anything, mock.MatchedBy(func(a bridge.AssetRef) bool {
		return a.Address == "0xfound"
	})).Return("0xwrapped", nil)
	env.suiBridge.On("GetWrappedAsset", mock.Anything, mock.MatchedBy(func(a bridge.AssetRef) bool {
		return a.Address == "0xmissing"
	})).Return("", bridge.ErrNoWrappedAsset)

	resp, body := env.get(t, "/v1/wrapped-tokens/sui/ethereum/0xfound")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var dto WrappedTokenDTO
	require.NoError(t, json.Unmarshal(body, &dto))
	assert.Equal(t, "sui", dto.Chain)
	assert.Equal(t, "0xwrapped", dto.Address)

	resp, _ = env.get(t, "/v1/wrapped-tokens/sui/ethereum/0xmissing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetWrappedToken_CachedLookup(t *testing.T) {
	env := newTestEnv(t)

	env.suiBridge.On("GetWrappedAsset", mock.Anything, mock.Anything).
		Return("0xwrapped", nil).Once()

	// First call hits the chain, second is served from cache.
	resp, _ := env.get(t, "/v1/wrapped-tokens/sui/ethereum/0xcached")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.get(t, "/v1/wrapped-tokens/sui/ethereum/0xcached")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var dto WrappedTokenDTO
	require.NoError(t, json.Unmarshal(body, &dto))
	assert.Equal(t, "0xwrapped", dto.Address)
	env.suiBridge.AssertNumberOfCalls(t, "GetWrappedAsset", 1)
}

func TestGetWrappedToken_DetachedFromCallerContext(t *testing.T) {
	env := newTestEnv(t)

	// The mock only matches a live context: a lookup still carrying the
	// cancelled caller context would go unmatched and fail the call.
	env.suiBridge.On("GetWrappedAsset", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), mock.Anything).Return("0xwrapped", nil)

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("destChain", "sui")
	rctx.URLParams.Add("sourceChain", "ethereum")
	rctx.URLParams.Add("address", "0xdetached")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)

	req := httptest.NewRequest(http.MethodGet, "/v1/wrapped-tokens/sui/ethereum/0xdetached", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	env.handler.GetWrappedToken(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var dto WrappedTokenDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dto))
	assert.Equal(t, "0xwrapped", dto.Address)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListChains(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/v1/chains")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var chains []catalog.Chain
	require.NoError(t, json.Unmarshal(body, &chains))
	require.Len(t, chains, 3)

	resp, body = env.get(t, "/v1/chains/ethereum")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var c catalog.Chain
	require.NoError(t, json.Unmarshal(body, &c))
	assert.Equal(t, uint16(2), c.WireID)

	resp, _ = env.get(t, "/v1/chains/dogechain")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
