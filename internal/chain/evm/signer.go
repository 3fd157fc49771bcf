package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/chainspan/chainspan-backend/internal/bridge"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const signerGasLimit = 500_000

// Signer signs EVM transactions with a local ECDSA key. Nonce and gas
// price come from the node at signing time.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	eth     *ethclient.Client
}

func NewSigner(hexKey string, chainID *big.Int, eth *ethclient.Client) (*Signer, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		eth:     eth,
	}, nil
}

func (s *Signer) Address() string {
	return s.address.Hex()
}

func (s *Signer) Sign(unsigned *bridge.UnsignedTx) (bridge.SignedTx, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	nonce, err := s.eth.PendingNonceAt(ctx, s.address)
	if err != nil {
		return bridge.SignedTx{}, fmt.Errorf("failed to fetch nonce: %w", err)
	}

	gasPrice, err := s.eth.SuggestGasPrice(ctx)
	if err != nil {
		return bridge.SignedTx{}, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	tx := coretypes.NewTransaction(
		nonce,
		common.HexToAddress(unsigned.To),
		big.NewInt(0),
		signerGasLimit,
		gasPrice,
		unsigned.Payload,
	)

	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return bridge.SignedTx{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return bridge.SignedTx{}, fmt.Errorf("failed to encode signed transaction: %w", err)
	}

	return bridge.SignedTx{Chain: unsigned.Chain, Raw: raw}, nil
}
