package evm

import (
	"context"
	"fmt"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// LogSource captures the subset of ethclient used by the scanner.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// ChainClient is a LogSource that can also serve contract reads.
type ChainClient interface {
	LogSource
	ethereum.ContractCaller
}

// RPCClient is a thin wrapper over ethclient.Client that satisfies ChainClient.
type RPCClient struct {
	*ethclient.Client
}

var _ ChainClient = (*RPCClient)(nil)

// NewRPCClient builds an RPC client to an EVM node.
func NewRPCClient(rpcURL string) (*RPCClient, error) {
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return &RPCClient{Client: c}, nil
}
