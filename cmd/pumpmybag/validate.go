package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Hannibat/pumpmybag/internal/config"
	"github.com/Hannibat/pumpmybag/internal/source/evm"
	"github.com/spf13/cobra"
)

const defaultRPCTimeout = 8 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config and ping RPC endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d)\n", cfg.Version)

		if _, err := evm.LoadABI(cfg.Chain.ABIPath); err != nil {
			return fmt.Errorf("abi invalid: %w", err)
		}

		endpoints := []struct{ name, url string }{{"chain", cfg.Chain.RPCURL}}
		if cfg.Server.RPCURL != cfg.Chain.RPCURL {
			endpoints = append(endpoints, struct{ name, url string }{"server", cfg.Server.RPCURL})
		}

		failures := 0
		for _, ep := range endpoints {
			id, err := pingEVM(cmd.Context(), ep.url)
			if err != nil {
				failures++
				fmt.Fprintf(out, "- rpc %s: ERROR %v\n", ep.name, err)
				continue
			}
			if cfg.Chain.ChainID != 0 && id != cfg.Chain.ChainID {
				failures++
				fmt.Fprintf(out, "- rpc %s: chainId %d, config expects %d\n", ep.name, id, cfg.Chain.ChainID)
				continue
			}
			fmt.Fprintf(out, "- rpc %s: chainId %d OK\n", ep.name, id)
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d endpoint(s) failed", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}

func pingEVM(ctx context.Context, url string) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
	defer cancel()

	cli, err := evm.NewRPCClient(url)
	if err != nil {
		return 0, err
	}
	defer cli.Close()

	id, err := cli.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("call eth_chainId: %w", err)
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chainId %s out of range", id)
	}
	return id.Uint64(), nil
}
