package bridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// AttestationSubmitter lands the signed proof as a create-wrapped
// transaction on the destination chain. The destination program is
// replay-safe, so resubmitting an already-consumed proof cannot mint a
// duplicate asset; this component still reports transport and signing
// failures as ErrSubmission and never retries internally.
type AttestationSubmitter struct {
	clients ClientSource
	logger  *zap.SugaredLogger
}

func NewAttestationSubmitter(clients ClientSource, logger *zap.SugaredLogger) *AttestationSubmitter {
	return &AttestationSubmitter{clients: clients, logger: logger}
}

// Submit builds, signs, submits, and confirms the create-wrapped
// transaction carrying proof.
func (s *AttestationSubmitter) Submit(ctx context.Context, network Network, dest ChainID, proof *Proof, signer Signer) (*TxReceipt, error) {
	client, err := s.clients.Client(network, dest)
	if err != nil {
		return nil, fmt.Errorf("%w: destination client: %v", ErrSubmission, err)
	}

	unsigned, err := client.TokenBridge().SubmitAttestation(ctx, proof, signer.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: build create-wrapped: %v", ErrSubmission, err)
	}

	signed, err := signer.Sign(unsigned)
	if err != nil {
		return nil, fmt.Errorf("%w: sign create-wrapped: %v", ErrSubmission, err)
	}

	receipt, err := client.SubmitAndWait(ctx, signed)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrSubmission, err)
	}

	s.logger.Infow("Create-wrapped transaction confirmed",
		"destChain", dest,
		"messageId", proof.MessageID.String(),
		"txId", receipt.TxID,
	)
	return receipt, nil
}
