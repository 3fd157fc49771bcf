package bridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// MessageResolver pulls the emitted cross-chain message out of a
// confirmed attestation receipt.
type MessageResolver struct {
	clients ClientSource
	logger  *zap.SugaredLogger
}

func NewMessageResolver(clients ClientSource, logger *zap.SugaredLogger) *MessageResolver {
	return &MessageResolver{clients: clients, logger: logger}
}

// ExtractMessage parses receipt for the bridge message. A confirmed
// transaction with no message is a protocol-level mismatch and fatal
// for the run (ErrNoMessageFound), never a transient condition.
func (m *MessageResolver) ExtractMessage(ctx context.Context, network Network, sourceChain ChainID, receipt *TxReceipt) (*MessageID, error) {
	client, err := m.clients.Client(network, sourceChain)
	if err != nil {
		return nil, fmt.Errorf("source client: %w", err)
	}

	id, err := client.TokenBridge().ParseAttestationMessage(receipt)
	if err != nil {
		return nil, fmt.Errorf("%w: tx %s: %v", ErrNoMessageFound, receipt.TxID, err)
	}
	if id == nil {
		return nil, fmt.Errorf("%w: tx %s", ErrNoMessageFound, receipt.TxID)
	}

	m.logger.Infow("Cross-chain message extracted",
		"txId", receipt.TxID,
		"messageId", id.String(),
	)
	return id, nil
}
