package rpc

import (
	"context"
	"fmt"

	"github.com/evmindex/evmindex/pkg/config"
)

// Pool holds one Client per configured chain, keyed by chain id, so every
// collector and indexing handler shares the same connections instead of
// dialing its own.
type Pool struct {
	clients map[uint64]*Client
}

// NewPool dials one Client per chain in chains. On any dial failure it
// closes the clients already opened and returns the error.
func NewPool(ctx context.Context, chains []config.ChainConfig) (*Pool, error) {
	p := &Pool{clients: make(map[uint64]*Client, len(chains))}

	for _, chain := range chains {
		client, err := NewClient(ctx, chain.RPCURL)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("rpc pool: dial chain %d: %w", chain.ChainID, err)
		}
		p.clients[chain.ChainID] = client
	}

	return p, nil
}

// Get returns the client for chainID, or false if no chain with that id was
// configured.
func (p *Pool) Get(chainID uint64) (*Client, bool) {
	c, ok := p.clients[chainID]
	return c, ok
}

// Close closes every client in the pool.
func (p *Pool) Close() {
	for _, c := range p.clients {
		c.Close()
	}
}
