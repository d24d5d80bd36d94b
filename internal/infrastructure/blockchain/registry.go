package blockchain

import (
	"context"
	"fmt"
	"sort"

	"mempool-risk-engine/internal/domain/entity"
	"mempool-risk-engine/internal/domain/service"
	"mempool-risk-engine/internal/infrastructure/config"
	"mempool-risk-engine/internal/infrastructure/logger"

	"go.uber.org/zap"
)

// Registry holds one EthereumClient per configured chain
type Registry struct {
	clients      map[string]*EthereumClient
	defaultChain string
}

// NewRegistry dials every monitored chain that has an RPC URL
func NewRegistry(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Registry, error) {
	r := &Registry{clients: make(map[string]*EthereumClient)}
	log = log.WithComponent("chain-registry")

	for _, name := range cfg.Monitor.Chains {
		chainCfg, ok := cfg.Chain(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownChain, name)
		}
		if chainCfg.RPCURL == "" {
			log.Warn("Chain has no rpc_url, risk checks unavailable", zap.String("chain", name))
			continue
		}
		client, err := NewEthereumClient(ctx, name, chainCfg, log)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.add(client)
		log.Info("Chain client ready", zap.String("chain", name))
	}
	return r, nil
}

// NewRegistryFromClients builds a registry around existing clients; the first is the default
func NewRegistryFromClients(clients ...*EthereumClient) *Registry {
	r := &Registry{clients: make(map[string]*EthereumClient)}
	for _, c := range clients {
		r.add(c)
	}
	return r
}

func (r *Registry) add(c *EthereumClient) {
	if r.defaultChain == "" {
		r.defaultChain = c.Chain()
	}
	r.clients[c.Chain()] = c
}

// Client returns the client for chain, or the default client for ""
func (r *Registry) Client(chain string) (*EthereumClient, error) {
	if chain == "" {
		chain = r.defaultChain
	}
	c, ok := r.clients[chain]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChain, chain)
	}
	return c, nil
}

// DataSource implements service.TokenDataSourceProvider
func (r *Registry) DataSource(chain string) (service.TokenDataSource, error) {
	c, err := r.Client(chain)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// TokenMetadata implements service.TokenMetadataSource
func (r *Registry) TokenMetadata(ctx context.Context, chain, token string) (*entity.TokenMetadata, error) {
	c, err := r.Client(chain)
	if err != nil {
		return nil, err
	}
	return c.TokenMetadata(ctx, token)
}

// Chains lists the chains with a live client
func (r *Registry) Chains() []string {
	chains := make([]string, 0, len(r.clients))
	for name := range r.clients {
		chains = append(chains, name)
	}
	sort.Strings(chains)
	return chains
}

// Close closes every client
func (r *Registry) Close() {
	for _, c := range r.clients {
		c.Close()
	}
}
