package bridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ChainID names a supported chain (e.g. solana, ethereum, sui).
type ChainID string

const (
	ChainSolana   ChainID = "solana"
	ChainEthereum ChainID = "ethereum"
	ChainSui      ChainID = "sui"
)

// wireIDs maps chain names to the numeric ids used on the wire by the
// token bridge programs and the verification network.
var wireIDs = map[ChainID]uint16{
	ChainSolana:   1,
	ChainEthereum: 2,
	ChainSui:      21,
}

// WireID returns the numeric chain id used in bridge payloads.
func (c ChainID) WireID() (uint16, bool) {
	id, ok := wireIDs[c]
	return id, ok
}

// Network selects the chain-client configuration for a run.
type Network string

const (
	NetworkTestnet Network = "Testnet"
	NetworkMainnet Network = "Mainnet"
)

// ParseNetwork normalizes a user-supplied network name.
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "testnet":
		return NetworkTestnet, nil
	case "mainnet":
		return NetworkMainnet, nil
	default:
		return "", fmt.Errorf("%w: unknown network %q", ErrInvalidAsset, s)
	}
}

// AssetRef identifies a token on its native chain. Immutable; used as
// the idempotence key together with the destination chain.
type AssetRef struct {
	Chain   ChainID `json:"chain"`
	Address string  `json:"address"`
}

func (a AssetRef) String() string {
	return fmt.Sprintf("%s:%s", a.Chain, a.Address)
}

// PairKey keys a (source asset, destination chain) pair. One source
// asset maps to at most one wrapped asset per destination chain.
func (a AssetRef) PairKey(dest ChainID) string {
	return fmt.Sprintf("%s:%s->%s", a.Chain, strings.ToLower(a.Address), dest)
}

// WrappedAssetRef is the destination-chain representation of a source
// asset, produced (or found) by the workflow.
type WrappedAssetRef struct {
	Chain   ChainID `json:"chain"`
	Address string  `json:"address"`
}

// MessageID identifies a cross-chain message emitted by an attestation
// transaction on the source chain. Consumed exactly once per run when a
// proof is retrieved for it; the message itself remains valid
// indefinitely, which is what makes proof waits resumable.
type MessageID struct {
	Chain    ChainID `json:"chain"`
	Emitter  string  `json:"emitter"`
	Sequence uint64  `json:"sequence"`
}

func (m MessageID) String() string {
	return fmt.Sprintf("%s/%s/%d", m.Chain, m.Emitter, m.Sequence)
}

// ParseMessageID parses the chain/emitter/sequence form produced by
// MessageID.String.
func ParseMessageID(s string) (MessageID, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return MessageID{}, fmt.Errorf("invalid message id %q", s)
	}
	seq, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return MessageID{}, fmt.Errorf("invalid message sequence in %q: %w", s, err)
	}
	return MessageID{Chain: ChainID(parts[0]), Emitter: parts[1], Sequence: seq}, nil
}

// Proof is a quorum-signed attestation produced by the verification
// network. Immutable once obtained; replay-safe to resubmit.
type Proof struct {
	MessageID        MessageID `json:"messageId"`
	Bytes            []byte    `json:"bytes"`
	Digest           string    `json:"digest"`
	GuardianSetIndex uint32    `json:"guardianSetIndex"`
	Signatures       int       `json:"signatures"`
}

// Log is a chain-agnostic view of a receipt log entry.
type Log struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics,omitempty"`
	Data    []byte   `json:"data,omitempty"`
}

// TxReceipt describes a confirmed transaction.
type TxReceipt struct {
	TxID string `json:"txId"`
	Logs []Log  `json:"logs,omitempty"`
}

// UnsignedTx is a chain-specific transaction constructed by a token
// bridge view, opaque to the core.
type UnsignedTx struct {
	Chain       ChainID
	To          string
	Payload     []byte
	Description string
}

// SignedTx carries the signed form. EVM chains pack everything into
// Raw; Sui keeps the signature alongside the transaction bytes.
type SignedTx struct {
	Chain     ChainID
	Raw       []byte
	Signature []byte
}

// TokenBridgeView is the per-chain capability surface the workflow
// consumes: registry lookup, attestation construction, and receipt
// parsing. Implementations live under internal/chain.
type TokenBridgeView interface {
	// GetWrappedAsset returns the local address of the wrapped
	// representation of source, or ErrNoWrappedAsset.
	GetWrappedAsset(ctx context.Context, source AssetRef) (string, error)
	// CreateAttestation builds the unsigned create-attestation
	// transaction for asset on its own chain.
	CreateAttestation(ctx context.Context, asset AssetRef, signerAddr string) (*UnsignedTx, error)
	// SubmitAttestation builds the unsigned create-wrapped transaction
	// carrying proof.
	SubmitAttestation(ctx context.Context, proof *Proof, signerAddr string) (*UnsignedTx, error)
	// ParseAttestationMessage extracts the emitted cross-chain message
	// from a confirmed attestation receipt.
	ParseAttestationMessage(receipt *TxReceipt) (*MessageID, error)
}

// ChainClient is one configured chain endpoint.
type ChainClient interface {
	ID() ChainID
	TokenBridge() TokenBridgeView
	// SubmitAndWait broadcasts tx and blocks until on-chain
	// confirmation or ctx cancellation.
	SubmitAndWait(ctx context.Context, tx SignedTx) (*TxReceipt, error)
}

// Signer signs transactions for one chain; custody stays outside the
// core.
type Signer interface {
	Address() string
	Sign(tx *UnsignedTx) (SignedTx, error)
}

// SignerProvider hands out a signer bound to a chain.
type SignerProvider interface {
	SignerFor(network Network, chain ChainID) (Signer, error)
}

// ClientSource resolves a configured chain client for a network.
type ClientSource interface {
	Client(network Network, chain ChainID) (ChainClient, error)
}

// ProofSource is the verification-network query surface. GetProof
// returns ErrProofNotReady while the quorum has not finalized the
// message; absence is a state, not an error.
type ProofSource interface {
	GetProof(ctx context.Context, id MessageID) (*Proof, error)
}

// CreateWrappedRequest is the single-call input to the workflow.
type CreateWrappedRequest struct {
	SourceAsset      AssetRef
	DestinationChain ChainID
	Network          Network
	// Timeout bounds the proof wait; zero means the configured default.
	Timeout time.Duration
}

// ResumeRequest re-enters a run that failed at the proof wait, reusing
// the retained message id instead of issuing a second attestation.
type ResumeRequest struct {
	MessageID        MessageID
	SourceAsset      AssetRef
	DestinationChain ChainID
	Network          Network
	Timeout          time.Duration
}

// Result is the terminal value of one workflow run. Failed runs carry
// the specific error plus whatever partial progress exists, so callers
// can resume without repeating state-changing steps.
type Result struct {
	Success         bool             `json:"success"`
	WrappedToken    *WrappedAssetRef `json:"wrappedToken,omitempty"`
	AttestationTxID string           `json:"attestationTransactionId,omitempty"`
	MessageID       *MessageID       `json:"messageId,omitempty"`
	Err             error            `json:"-"`
}

// ErrorKind returns the taxonomy name of the failure, or "".
func (r *Result) ErrorKind() string {
	if r == nil || r.Err == nil {
		return ""
	}
	return KindOf(r.Err)
}
