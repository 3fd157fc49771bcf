package chain

import (
	"fmt"
	"sync"

	"github.com/chainspan/chainspan-backend/internal/bridge"
)

// Registry holds the configured chain clients and signers, keyed by
// (network, chain). It implements bridge.ClientSource and
// bridge.SignerProvider; registration happens once at startup, lookups
// are concurrent.
type Registry struct {
	mu      sync.RWMutex
	clients map[bridge.Network]map[bridge.ChainID]bridge.ChainClient
	signers map[bridge.Network]map[bridge.ChainID]bridge.Signer
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[bridge.Network]map[bridge.ChainID]bridge.ChainClient),
		signers: make(map[bridge.Network]map[bridge.ChainID]bridge.Signer),
	}
}

// RegisterClient adds a configured chain client for network.
func (r *Registry) RegisterClient(network bridge.Network, client bridge.ChainClient) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clients[network] == nil {
		r.clients[network] = make(map[bridge.ChainID]bridge.ChainClient)
	}
	r.clients[network][client.ID()] = client
}

// RegisterSigner adds a signer for (network, chain).
func (r *Registry) RegisterSigner(network bridge.Network, chain bridge.ChainID, signer bridge.Signer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.signers[network] == nil {
		r.signers[network] = make(map[bridge.ChainID]bridge.Signer)
	}
	r.signers[network][chain] = signer
}

// Client implements bridge.ClientSource.
func (r *Registry) Client(network bridge.Network, chain bridge.ChainID) (bridge.ChainClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[network][chain]
	if !ok {
		return nil, fmt.Errorf("no client configured for %s on %s", chain, network)
	}
	return client, nil
}

// SignerFor implements bridge.SignerProvider.
func (r *Registry) SignerFor(network bridge.Network, chain bridge.ChainID) (bridge.Signer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	signer, ok := r.signers[network][chain]
	if !ok {
		return nil, fmt.Errorf("no signer configured for %s on %s", chain, network)
	}
	return signer, nil
}
