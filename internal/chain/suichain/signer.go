package suichain

import (
	"fmt"

	"github.com/chainspan/chainspan-backend/internal/bridge"
	"github.com/pattonkan/sui-go/suisigner"
	"github.com/pattonkan/sui-go/suisigner/suicrypto"
)

// Signer signs Sui transactions with an ed25519 key derived from a
// mnemonic.
type Signer struct {
	signer *suisigner.Signer
}

func NewSigner(mnemonic string) (*Signer, error) {
	signer, err := suisigner.NewSignerWithMnemonic(mnemonic, suicrypto.KeySchemeFlagEd25519)
	if err != nil {
		return nil, fmt.Errorf("build Sui signer: %w", err)
	}
	return &Signer{signer: signer}, nil
}

func (s *Signer) Address() string {
	return s.signer.Address.String()
}

func (s *Signer) Sign(unsigned *bridge.UnsignedTx) (bridge.SignedTx, error) {
	signature, err := s.signer.SignDigest(unsigned.Payload, suisigner.IntentTransaction())
	if err != nil {
		return bridge.SignedTx{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if signature.Ed25519SuiSignature == nil {
		return bridge.SignedTx{}, fmt.Errorf("unexpected signature scheme")
	}

	return bridge.SignedTx{
		Chain:     unsigned.Chain,
		Raw:       unsigned.Payload,
		Signature: signature.Ed25519SuiSignature.Signature[:],
	}, nil
}
