package catalog

import "github.com/chainspan/chainspan-backend/internal/bridge"

// Chain describes one supported chain as exposed to API consumers.
type Chain struct {
	ID            string   `json:"id"`
	Label         string   `json:"label"`
	WireID        uint16   `json:"wireId"`
	Networks      []string `json:"networks"`
	NativeSymbol  string   `json:"nativeSymbol"`
	AddressFormat string   `json:"addressFormat"`
	// Serviceable reports whether this deployment runs a client and
	// signer for the chain. Non-serviceable chains are listed for wire
	// compatibility; their attestations originate from external clients.
	Serviceable bool     `json:"serviceable"`
	Highlights  []string `json:"highlights,omitempty"`
}

// Service exposes a small in-memory catalog of supported chains.
type Service struct {
	chains []Chain
}

func NewService() *Service {
	return &Service{
		chains: []Chain{
			{
				ID:            string(bridge.ChainSolana),
				Label:         "Solana",
				WireID:        mustWireID(bridge.ChainSolana),
				Networks:      []string{"testnet", "mainnet"},
				NativeSymbol:  "SOL",
				AddressFormat: "base58",
				Serviceable:   false,
				Highlights:    []string{"SPL token attestations", "Source attestations via external clients only"},
			},
			{
				ID:            string(bridge.ChainEthereum),
				Label:         "Ethereum",
				WireID:        mustWireID(bridge.ChainEthereum),
				Networks:      []string{"testnet", "mainnet"},
				NativeSymbol:  "ETH",
				AddressFormat: "hex20",
				Serviceable:   true,
				Highlights:    []string{"ERC-20 attestations", "Sepolia on testnet"},
			},
			{
				ID:            string(bridge.ChainSui),
				Label:         "Sui",
				WireID:        mustWireID(bridge.ChainSui),
				Networks:      []string{"testnet", "mainnet"},
				NativeSymbol:  "SUI",
				AddressFormat: "hex32",
				Serviceable:   true,
				Highlights:    []string{"Move coin-type attestations", "Wrapped coins registered on the token bridge state"},
			},
		},
	}
}

func (s *Service) List() []Chain {
	return s.chains
}

func (s *Service) Get(id string) (Chain, bool) {
	for _, c := range s.chains {
		if c.ID == id {
			return c, true
		}
	}
	return Chain{}, false
}

func mustWireID(chain bridge.ChainID) uint16 {
	id, _ := chain.WireID()
	return id
}
