package health

import (
	"context"
	"fmt"
)

// HeadSource is the part of an RPC client a liveness ping needs.
type HeadSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// RPCChecker pings every configured RPC endpoint by name.
type RPCChecker struct {
	clients map[string]HeadSource
}

// NewRPCChecker creates a checker over named clients, e.g. "chain" and
// "upstream".
func NewRPCChecker(clients map[string]HeadSource) *RPCChecker {
	return &RPCChecker{clients: clients}
}

// Ping reports the last failing endpoint, if any.
func (c *RPCChecker) Ping(ctx context.Context) error {
	var lastErr error
	for id, cli := range c.clients {
		if _, err := cli.BlockNumber(ctx); err != nil {
			lastErr = fmt.Errorf("rpc %s: %w", id, err)
			continue
		}
	}
	return lastErr
}
