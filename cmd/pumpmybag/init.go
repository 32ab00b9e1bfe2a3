package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// sampleConfig targets the DailyGM contract on Base mainnet.
const sampleConfig = `version: 1

chain:
  rpc_url: ${BASE_RPC_URL}
  chain_id: 8453
  contract: "0x0000000000000000000000000000000000000000"
  deployment_block: 18000000
  max_block_range: 100000
  window_delay: 100ms
  rps: 0

aggregator:
  url: ""            # e.g. https://example.app/api/fetch-gms
  timeout: 8s
  retries: 0

cache:
  backend: sqlite    # sqlite | badger
  path: pumpmybag.db

server:
  addr: ":8080"

notify:
  webhook_url: ""
`

var flagInitForce bool

func init() {
	initCmd.Flags().BoolVar(&flagInitForce, "force", false, "Overwrite an existing config file")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !flagInitForce {
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
		}
		if err := os.WriteFile(cfgPath, []byte(sampleConfig), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s; set chain.contract and BASE_RPC_URL, then run `pumpmybag validate`\n", cfgPath)
		return nil
	},
}
