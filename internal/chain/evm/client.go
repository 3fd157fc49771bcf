package evm

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/chainspan/chainspan-backend/internal/bridge"
	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// tokenBridgeABI is the subset of the token bridge contract the
// workflow touches, plus the message event emitted by the core
// messaging contract on attestation.
const tokenBridgeABI = `[
	{"name":"wrappedAsset","type":"function","stateMutability":"view","inputs":[{"name":"tokenChainId","type":"uint16"},{"name":"tokenAddress","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
	{"name":"attestToken","type":"function","stateMutability":"payable","inputs":[{"name":"tokenAddress","type":"address"},{"name":"nonce","type":"uint32"}],"outputs":[{"name":"sequence","type":"uint64"}]},
	{"name":"createWrapped","type":"function","stateMutability":"nonpayable","inputs":[{"name":"encodedVm","type":"bytes"}],"outputs":[{"name":"token","type":"address"}]},
	{"name":"LogMessagePublished","type":"event","inputs":[{"name":"sender","type":"address","indexed":true},{"name":"sequence","type":"uint64","indexed":false},{"name":"nonce","type":"uint32","indexed":false},{"name":"payload","type":"bytes","indexed":false},{"name":"consistencyLevel","type":"uint8","indexed":false}]}
]`

const receiptPollInterval = 2 * time.Second

// Config describes one EVM endpoint and its token bridge deployment.
type Config struct {
	RPCURL          string
	TokenBridgeAddr string
}

// Client implements bridge.ChainClient for EVM compatible chains.
type Client struct {
	chain      bridge.ChainID
	rpcClient  *gethrpc.Client
	eth        *ethclient.Client
	bridgeAddr common.Address
	abi        abi.ABI
	logger     *zap.SugaredLogger
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use
// client.
func NewClient(ctx context.Context, chain bridge.ChainID, cfg Config, logger *zap.SugaredLogger) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("no RPC URL configured for %s", chain)
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s node: %w", chain, err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(tokenBridgeABI))
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("failed to parse token bridge ABI: %w", err)
	}

	return &Client{
		chain:      chain,
		rpcClient:  rpcClient,
		eth:        ethclient.NewClient(rpcClient),
		bridgeAddr: common.HexToAddress(cfg.TokenBridgeAddr),
		abi:        parsedABI,
		logger:     logger,
	}, nil
}

func (c *Client) ID() bridge.ChainID { return c.chain }

func (c *Client) TokenBridge() bridge.TokenBridgeView { return c }

// Eth exposes the underlying client for signers that need nonce and gas
// queries.
func (c *Client) Eth() *ethclient.Client { return c.eth }

// Close releases the network connection held by the client.
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// GetWrappedAsset queries the bridge registry for the local wrapped
// representation of source. The contract returns the zero address when
// no wrapped asset has been created.
func (c *Client) GetWrappedAsset(ctx context.Context, source bridge.AssetRef) (string, error) {
	wireID, ok := source.Chain.WireID()
	if !ok {
		return "", fmt.Errorf("unsupported source chain %q", source.Chain)
	}

	external, err := externalAddress(source.Address)
	if err != nil {
		return "", fmt.Errorf("invalid source address %q: %w", source.Address, err)
	}

	data, err := c.abi.Pack("wrappedAsset", wireID, external)
	if err != nil {
		return "", fmt.Errorf("failed to pack wrappedAsset call: %w", err)
	}

	out, err := c.eth.CallContract(ctx, gethcore.CallMsg{To: &c.bridgeAddr, Data: data}, nil)
	if err != nil {
		return "", fmt.Errorf("wrappedAsset call failed: %w", err)
	}

	var wrapped common.Address
	if err := c.abi.UnpackIntoInterface(&wrapped, "wrappedAsset", out); err != nil {
		return "", fmt.Errorf("failed to unpack wrappedAsset result: %w", err)
	}

	if wrapped == (common.Address{}) {
		return "", bridge.ErrNoWrappedAsset
	}
	return wrapped.Hex(), nil
}

// CreateAttestation builds the unsigned attestToken call for asset.
func (c *Client) CreateAttestation(ctx context.Context, asset bridge.AssetRef, signerAddr string) (*bridge.UnsignedTx, error) {
	if !common.IsHexAddress(asset.Address) {
		return nil, fmt.Errorf("%w: invalid token address %q", bridge.ErrInvalidAsset, asset.Address)
	}

	nonce := uint32(time.Now().UnixNano())
	data, err := c.abi.Pack("attestToken", common.HexToAddress(asset.Address), nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to pack attestToken call: %w", err)
	}

	return &bridge.UnsignedTx{
		Chain:       c.chain,
		To:          c.bridgeAddr.Hex(),
		Payload:     data,
		Description: "attest_token",
	}, nil
}

// SubmitAttestation builds the unsigned createWrapped call carrying
// proof.
func (c *Client) SubmitAttestation(ctx context.Context, proof *bridge.Proof, signerAddr string) (*bridge.UnsignedTx, error) {
	data, err := c.abi.Pack("createWrapped", proof.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to pack createWrapped call: %w", err)
	}

	return &bridge.UnsignedTx{
		Chain:       c.chain,
		To:          c.bridgeAddr.Hex(),
		Payload:     data,
		Description: "create_wrapped",
	}, nil
}

// ParseAttestationMessage scans receipt logs for the published bridge
// message and returns its id.
func (c *Client) ParseAttestationMessage(receipt *bridge.TxReceipt) (*bridge.MessageID, error) {
	event := c.abi.Events["LogMessagePublished"]

	for _, log := range receipt.Logs {
		if len(log.Topics) < 2 || common.HexToHash(log.Topics[0]) != event.ID {
			continue
		}

		emitter := common.BytesToAddress(common.HexToHash(log.Topics[1]).Bytes())

		unpacked, err := event.Inputs.NonIndexed().Unpack(log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack message event: %w", err)
		}
		sequence, ok := unpacked[0].(uint64)
		if !ok {
			return nil, fmt.Errorf("unexpected sequence type %T", unpacked[0])
		}

		return &bridge.MessageID{
			Chain:    c.chain,
			Emitter:  emitter.Hex(),
			Sequence: sequence,
		}, nil
	}

	return nil, fmt.Errorf("no LogMessagePublished event in %d logs", len(receipt.Logs))
}

// SubmitAndWait broadcasts the signed transaction and polls for its
// receipt until confirmation or ctx cancellation.
func (c *Client) SubmitAndWait(ctx context.Context, tx bridge.SignedTx) (*bridge.TxReceipt, error) {
	var gethTx coretypes.Transaction
	if err := gethTx.UnmarshalBinary(tx.Raw); err != nil {
		return nil, fmt.Errorf("failed to decode signed transaction: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, &gethTx); err != nil {
		return nil, fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	hash := gethTx.Hash()
	c.logger.Debugw("Transaction broadcast", "chain", c.chain, "hash", hash.Hex())

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != coretypes.ReceiptStatusSuccessful {
				return nil, fmt.Errorf("transaction %s reverted", hash.Hex())
			}
			return convertReceipt(hash, receipt), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func convertReceipt(hash common.Hash, receipt *coretypes.Receipt) *bridge.TxReceipt {
	out := &bridge.TxReceipt{TxID: hash.Hex()}
	for _, log := range receipt.Logs {
		topics := make([]string, 0, len(log.Topics))
		for _, topic := range log.Topics {
			topics = append(topics, topic.Hex())
		}
		out.Logs = append(out.Logs, bridge.Log{
			Address: log.Address.Hex(),
			Topics:  topics,
			Data:    log.Data,
		})
	}
	return out
}

// externalAddress left-pads a hex address to the 32-byte form used in
// bridge payloads.
func externalAddress(addr string) ([32]byte, error) {
	var out [32]byte

	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(addr), "0x"))
	if err != nil {
		return out, err
	}
	if len(raw) > 32 {
		return out, fmt.Errorf("address longer than 32 bytes")
	}

	copy(out[32-len(raw):], raw)
	return out, nil
}

// MessageEventID returns the topic hash attestation receipts are
// scanned for; exported for tests that fabricate receipts.
func MessageEventID() common.Hash {
	return crypto.Keccak256Hash([]byte("LogMessagePublished(address,uint64,uint32,bytes,uint8)"))
}
