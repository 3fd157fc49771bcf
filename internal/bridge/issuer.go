package bridge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// AttestationIssuer submits the create-attestation transaction on the
// source chain. This is a state-changing, irreversible step: callers
// must not retry it blindly, because a second issuance creates a
// redundant attestation.
type AttestationIssuer struct {
	clients ClientSource
	logger  *zap.SugaredLogger
}

func NewAttestationIssuer(clients ClientSource, logger *zap.SugaredLogger) *AttestationIssuer {
	return &AttestationIssuer{clients: clients, logger: logger}
}

// Issue constructs, signs, submits, and confirms the attestation
// transaction for asset. Malformed asset references surface as
// ErrInvalidAsset; transport and signing failures surface as
// ErrSubmission.
func (i *AttestationIssuer) Issue(ctx context.Context, network Network, asset AssetRef, signer Signer) (*TxReceipt, error) {
	client, err := i.clients.Client(network, asset.Chain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}

	unsigned, err := client.TokenBridge().CreateAttestation(ctx, asset, signer.Address())
	if err != nil {
		if errors.Is(err, ErrInvalidAsset) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Building the transaction reads chain state on some clients
		// (shared-object refs, gas coins), so anything the client did not
		// flag as a bad asset is a transport failure. Nothing landed, so
		// the step is safe to retry.
		return nil, fmt.Errorf("%w: build attestation: %v", ErrSubmission, err)
	}

	signed, err := signer.Sign(unsigned)
	if err != nil {
		return nil, fmt.Errorf("%w: sign attestation: %v", ErrSubmission, err)
	}

	receipt, err := client.SubmitAndWait(ctx, signed)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrSubmission, err)
	}

	i.logger.Infow("Attestation transaction confirmed",
		"sourceAsset", asset.String(),
		"txId", receipt.TxID,
		"signer", signer.Address(),
	)
	return receipt, nil
}
