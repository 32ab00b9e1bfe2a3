package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"
)

// LimitedClient wraps a ChainClient with a token-bucket limiter shared by all
// RPC calls.
type LimitedClient struct {
	next    ChainClient
	limiter *rate.Limiter
}

var _ ChainClient = (*LimitedClient)(nil)

// WithRateLimit returns next unchanged when rps <= 0, otherwise a client that
// allows rps requests per second with the given burst.
func WithRateLimit(next ChainClient, rps float64, burst int) ChainClient {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &LimitedClient{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// wait consumes exactly one token, honoring ctx while delayed.
func (c *LimitedClient) wait(ctx context.Context) error {
	r := c.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate: cannot reserve token")
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

func (c *LimitedClient) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.next.BlockNumber(ctx)
}

func (c *LimitedClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.next.FilterLogs(ctx, q)
}

func (c *LimitedClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.next.CallContract(ctx, msg, blockNumber)
}
