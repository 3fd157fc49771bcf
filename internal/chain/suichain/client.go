package suichain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chainspan/chainspan-backend/internal/bridge"
	bcs "github.com/fardream/go-bcs/bcs"
	"github.com/pattonkan/sui-go/sui"
	"github.com/pattonkan/sui-go/sui/suiptb"
	suiclient "github.com/pattonkan/sui-go/suiclient"
	"github.com/pattonkan/sui-go/suisigner"
	"go.uber.org/zap"
)

// messageEventSuffix identifies the cross-chain message event emitted by
// the messaging package when an attestation lands.
const messageEventSuffix = "::publish_message::MessagePublished"

// Config describes one Sui endpoint and its token bridge deployment.
type Config struct {
	RPCURL          string
	BridgePackageID string
	BridgeStateID   string
}

// Client implements bridge.ChainClient for Sui via the token bridge
// Move package.
type Client struct {
	client    *suiclient.ClientImpl
	packageId *sui.PackageId
	stateId   *sui.ObjectId
	logger    *zap.SugaredLogger
}

func NewClient(cfg Config, logger *zap.SugaredLogger) (*Client, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, fmt.Errorf("no RPC URL configured for sui")
	}

	packageId, err := sui.PackageIdFromHex(cfg.BridgePackageID)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge package id: %w", err)
	}
	stateId, err := sui.ObjectIdFromHex(cfg.BridgeStateID)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge state id: %w", err)
	}

	return &Client{
		client:    suiclient.NewClient(cfg.RPCURL),
		packageId: packageId,
		stateId:   stateId,
		logger:    logger,
	}, nil
}

func (c *Client) ID() bridge.ChainID { return bridge.ChainSui }

func (c *Client) TokenBridge() bridge.TokenBridgeView { return c }

// GetWrappedAsset dev-inspects the registry lookup; the Move function
// returns Option<address>, BCS-encoded as a presence byte plus the
// address.
func (c *Client) GetWrappedAsset(ctx context.Context, source bridge.AssetRef) (string, error) {
	wireID, ok := source.Chain.WireID()
	if !ok {
		return "", fmt.Errorf("unsupported source chain %q", source.Chain)
	}

	external, err := externalAddress(source.Address)
	if err != nil {
		return "", fmt.Errorf("invalid source address %q: %w", source.Address, err)
	}

	stateArg, err := c.sharedArg(ctx, false)
	if err != nil {
		return "", fmt.Errorf("bridge state shared ref: %w", err)
	}

	ptb := suiptb.NewTransactionDataTransactionBuilder()
	ptb.Command(suiptb.Command{
		MoveCall: &suiptb.ProgrammableMoveCall{
			Package:  c.packageId,
			Module:   "token_registry",
			Function: "wrapped_asset_address",
			Arguments: []suiptb.Argument{
				ptb.MustObj(stateArg),
				ptb.MustPure(wireID),
				ptb.MustPure(external),
			},
		},
	})
	pt := ptb.Finish()

	tx := suiptb.NewTransactionData(
		sui.MustAddressFromHex("0x0"),
		pt,
		[]*sui.ObjectRef{},
		suiclient.DefaultGasBudget,
		suiclient.DefaultGasPrice,
	)
	txBytes, err := bcs.Marshal(tx.V1.Kind)
	if err != nil {
		return "", fmt.Errorf("failed to marshal transaction: %w", err)
	}

	res, err := c.client.DevInspectTransactionBlock(ctx, &suiclient.DevInspectTransactionBlockRequest{
		SenderAddress: sui.MustAddressFromHex("0x0"),
		TxKindBytes:   txBytes,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run DevInspectTransactionBlock: %w", err)
	}
	if res.Error != "" {
		return "", fmt.Errorf("registry lookup failed: %s", res.Error)
	}
	if len(res.Results) == 0 || len(res.Results[0].ReturnValues) == 0 {
		return "", bridge.ErrNoWrappedAsset
	}

	data := res.Results[0].ReturnValues[0].Data
	if len(data) < 1 || data[0] == 0 {
		return "", bridge.ErrNoWrappedAsset
	}
	if len(data) < 33 {
		return "", fmt.Errorf("short registry return value: %d bytes", len(data))
	}

	var addr sui.Address
	copy(addr[:], data[1:33])
	return addr.String(), nil
}

// CreateAttestation builds the attest_token transaction for asset. The
// asset address is the coin type whose metadata gets attested.
func (c *Client) CreateAttestation(ctx context.Context, asset bridge.AssetRef, signerAddr string) (*bridge.UnsignedTx, error) {
	coinTag, err := structTagFromCoinType(asset.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bridge.ErrInvalidAsset, err)
	}

	sender, err := sui.AddressFromHex(signerAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid signer address: %w", err)
	}

	stateArg, err := c.sharedArg(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("bridge state shared ref: %w", err)
	}

	ptb := suiptb.NewTransactionDataTransactionBuilder()
	ptb.Command(suiptb.Command{
		MoveCall: &suiptb.ProgrammableMoveCall{
			Package:       c.packageId,
			Module:        "attest_token",
			Function:      "attest_token",
			TypeArguments: []sui.TypeTag{{Struct: coinTag}},
			Arguments: []suiptb.Argument{
				ptb.MustObj(stateArg),
				ptb.MustPure(uint32(time.Now().UnixNano())),
			},
		},
	})

	txBytes, err := c.finishTx(ctx, ptb, sender)
	if err != nil {
		return nil, err
	}

	return &bridge.UnsignedTx{
		Chain:       bridge.ChainSui,
		To:          c.packageId.String(),
		Payload:     txBytes,
		Description: "attest_token",
	}, nil
}

// SubmitAttestation builds the create_wrapped transaction carrying the
// signed proof bytes.
func (c *Client) SubmitAttestation(ctx context.Context, proof *bridge.Proof, signerAddr string) (*bridge.UnsignedTx, error) {
	sender, err := sui.AddressFromHex(signerAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid signer address: %w", err)
	}

	stateArg, err := c.sharedArg(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("bridge state shared ref: %w", err)
	}

	ptb := suiptb.NewTransactionDataTransactionBuilder()
	ptb.Command(suiptb.Command{
		MoveCall: &suiptb.ProgrammableMoveCall{
			Package:  c.packageId,
			Module:   "create_wrapped",
			Function: "create_wrapped",
			Arguments: []suiptb.Argument{
				ptb.MustObj(stateArg),
				ptb.MustPure(proof.Bytes),
			},
		},
	})

	txBytes, err := c.finishTx(ctx, ptb, sender)
	if err != nil {
		return nil, err
	}

	return &bridge.UnsignedTx{
		Chain:       bridge.ChainSui,
		To:          c.packageId.String(),
		Payload:     txBytes,
		Description: "create_wrapped",
	}, nil
}

// messagePublishedEvent is the parsed-JSON shape of the message event.
type messagePublishedEvent struct {
	Sender   string      `json:"sender"`
	Sequence json.Number `json:"sequence"`
}

// ParseAttestationMessage scans receipt events for the published bridge
// message.
func (c *Client) ParseAttestationMessage(receipt *bridge.TxReceipt) (*bridge.MessageID, error) {
	for _, log := range receipt.Logs {
		if !strings.HasSuffix(log.Address, messageEventSuffix) {
			continue
		}

		var ev messagePublishedEvent
		if err := json.Unmarshal(log.Data, &ev); err != nil {
			return nil, fmt.Errorf("failed to parse message event: %w", err)
		}
		sequence, err := strconvSequence(ev.Sequence)
		if err != nil {
			return nil, err
		}

		return &bridge.MessageID{
			Chain:    bridge.ChainSui,
			Emitter:  ev.Sender,
			Sequence: sequence,
		}, nil
	}

	return nil, fmt.Errorf("no message event in %d events", len(receipt.Logs))
}

// SubmitAndWait executes the signed transaction and waits for local
// execution.
func (c *Client) SubmitAndWait(ctx context.Context, tx bridge.SignedTx) (*bridge.TxReceipt, error) {
	sig := &suisigner.Signature{Ed25519SuiSignature: &suisigner.Ed25519SuiSignature{}}
	copy(sig.Ed25519SuiSignature.Signature[:], tx.Signature)

	resp, err := c.client.ExecuteTransactionBlock(ctx, &suiclient.ExecuteTransactionBlockRequest{
		TxDataBytes: tx.Raw,
		Signatures:  []*suisigner.Signature{sig},
		Options: &suiclient.SuiTransactionBlockResponseOptions{
			ShowEffects: true,
			ShowEvents:  true,
		},
		RequestType: suiclient.TxnRequestTypeWaitForLocalExecution,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute transaction: %w", err)
	}
	if resp == nil || resp.Effects == nil || !resp.Effects.Data.IsSuccess() {
		return nil, fmt.Errorf("transaction failed: %v", resp.Errors)
	}

	c.logger.Debugw("Transaction executed", "chain", bridge.ChainSui, "digest", resp.Digest)
	return convertResponse(resp), nil
}

// finishTx attaches gas from the sender's coins and marshals the full
// transaction.
func (c *Client) finishTx(ctx context.Context, ptb *suiptb.TransactionDataTransactionBuilder, sender *sui.Address) ([]byte, error) {
	coins, err := c.client.GetCoins(ctx, &suiclient.GetCoinsRequest{Owner: sender})
	if err != nil {
		return nil, fmt.Errorf("failed to get gas coins: %w", err)
	}
	if len(coins.Data) == 0 {
		return nil, fmt.Errorf("no SUI coins available for gas; fund %s", sender.String())
	}

	pt := ptb.Finish()
	tx := suiptb.NewTransactionData(
		sender,
		pt,
		[]*sui.ObjectRef{coins.Data[0].Ref()},
		10*suiclient.DefaultGasBudget,
		suiclient.DefaultGasPrice,
	)

	txBytes, err := bcs.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction: %w", err)
	}
	return txBytes, nil
}

func (c *Client) sharedArg(ctx context.Context, mutable bool) (suiptb.ObjectArg, error) {
	obj, err := c.client.GetObject(ctx, &suiclient.GetObjectRequest{
		ObjectId: c.stateId,
		Options:  &suiclient.SuiObjectDataOptions{ShowOwner: true},
	})
	if err != nil {
		return suiptb.ObjectArg{}, fmt.Errorf("fetch object %s: %w", c.stateId, err)
	}
	ref := obj.Data.RefSharedObject()
	return suiptb.ObjectArg{
		SharedObject: &suiptb.SharedObjectArg{
			Id:                   ref.ObjectId,
			InitialSharedVersion: ref.Version,
			Mutable:              mutable,
		},
	}, nil
}

func convertResponse(resp *suiclient.SuiTransactionBlockResponse) *bridge.TxReceipt {
	out := &bridge.TxReceipt{TxID: resp.Digest.String()}

	// Go through JSON so the event shape stays decoupled from SDK types.
	for _, ev := range resp.Events {
		raw, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		var view struct {
			Type       string          `json:"type"`
			ParsedJson json.RawMessage `json:"parsedJson"`
		}
		if err := json.Unmarshal(raw, &view); err != nil {
			continue
		}
		out.Logs = append(out.Logs, bridge.Log{Address: view.Type, Data: view.ParsedJson})
	}
	return out
}

// structTagFromCoinType parses "0xpkg::module::NAME" into a struct tag.
func structTagFromCoinType(coinType string) (*sui.StructTag, error) {
	parts := strings.Split(strings.TrimSpace(coinType), "::")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid coin type %q", coinType)
	}
	pkg, err := sui.PackageIdFromHex(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid coin type package %q: %w", parts[0], err)
	}
	return &sui.StructTag{Address: pkg, Module: sui.Identifier(parts[1]), Name: sui.Identifier(parts[2])}, nil
}

// externalAddress normalizes a hex address to the 32-byte form used in
// bridge payloads.
func externalAddress(addr string) ([]byte, error) {
	a, err := sui.AddressFromHex(addr)
	if err != nil {
		return nil, err
	}
	return a[:], nil
}

func strconvSequence(n json.Number) (uint64, error) {
	seq, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("invalid message sequence %q: %w", n, err)
	}
	if seq < 0 {
		return 0, fmt.Errorf("negative message sequence %d", seq)
	}
	return uint64(seq), nil
}
