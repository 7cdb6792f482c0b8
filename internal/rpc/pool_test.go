package rpc

import (
	"context"
	"testing"

	"github.com/evmindex/evmindex/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestPoolGetReturnsFalseForUnconfiguredChain(t *testing.T) {
	p := &Pool{clients: map[uint64]*Client{1: {}}}

	_, ok := p.Get(2)
	require.False(t, ok)

	c, ok := p.Get(1)
	require.True(t, ok)
	require.NotNil(t, c)
}

func TestNewPoolFailsOnBadEndpoint(t *testing.T) {
	_, err := NewPool(context.Background(), []config.ChainConfig{
		{ChainID: 1, RPCURL: "not-a-url"},
	})
	require.Error(t, err)
}
