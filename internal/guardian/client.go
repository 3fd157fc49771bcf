package guardian

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chainspan/chainspan-backend/internal/bridge"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
)

// Client queries the verification network's public API for quorum-signed
// attestation proofs. It implements bridge.ProofSource: a 404 means the
// quorum has not finalized the message yet and maps to ErrProofNotReady,
// never to a failure.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.SugaredLogger
}

func NewClient(baseURL string, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// signedAttestationResponse mirrors the API's JSON body. The proof bytes
// come back base64-encoded.
type signedAttestationResponse struct {
	AttestationBytes string `json:"attestationBytes"`
	GuardianSetIndex uint32 `json:"guardianSetIndex"`
	Signatures       int    `json:"signatures"`
}

// GetProof fetches the signed proof for id, or bridge.ErrProofNotReady
// while it is not yet available.
func (c *Client) GetProof(ctx context.Context, id bridge.MessageID) (*bridge.Proof, error) {
	wireID, ok := id.Chain.WireID()
	if !ok {
		return nil, fmt.Errorf("unsupported chain %q", id.Chain)
	}

	requestURL := fmt.Sprintf("%s/v1/signed_attestation/%d/%s/%d", c.baseURL, wireID, id.Emitter, id.Sequence)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch proof: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, bridge.ErrProofNotReady
	default:
		return nil, fmt.Errorf("proof API error: %d", resp.StatusCode)
	}

	var body signedAttestationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode proof response: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(body.AttestationBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode proof bytes: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty proof for message %s", id)
	}

	digest := sha3.NewLegacyKeccak256()
	digest.Write(raw)

	proof := &bridge.Proof{
		MessageID:        id,
		Bytes:            raw,
		Digest:           hex.EncodeToString(digest.Sum(nil)),
		GuardianSetIndex: body.GuardianSetIndex,
		Signatures:       body.Signatures,
	}

	c.logger.Debugw("Fetched signed proof",
		"messageId", id.String(),
		"guardianSet", proof.GuardianSetIndex,
		"signatures", proof.Signatures,
		"bytes", len(proof.Bytes),
	)
	return proof, nil
}
