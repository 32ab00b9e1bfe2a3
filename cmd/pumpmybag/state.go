package main

import (
	"fmt"
	"time"

	"github.com/Hannibat/pumpmybag/internal/address"
	"github.com/Hannibat/pumpmybag/internal/progress"
	"github.com/spf13/cobra"
)

var flagStateServer bool

func init() {
	stateCmd.Flags().BoolVar(&flagStateServer, "server", false, "Read the endpoint's progress instead of the client's")
}

var stateCmd = &cobra.Command{
	Use:   "state <address>",
	Short: "Show cached scan progress for an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		addr, err := address.Parse(args[0])
		if err != nil {
			return err
		}
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		cache := progress.NewCacheWithPrefix(a.kv, cachePrefix(flagStateServer))
		p, ok, err := cache.Read(cmd.Context(), addr)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(out, "%s: no progress cached (next scan starts at block %d)\n", addr, a.cfg.Chain.DeploymentBlock)
			return nil
		}
		fmt.Fprintf(out, "key:          %s\n", cache.Key(addr))
		fmt.Fprintf(out, "count:        %d\n", p.Count)
		fmt.Fprintf(out, "last block:   %d\n", p.LastScannedBlock)
		if !p.CachedAt.IsZero() {
			fmt.Fprintf(out, "cached at:    %s (%s ago)\n", p.CachedAt.UTC().Format(time.RFC3339), time.Since(p.CachedAt).Round(time.Second))
		}
		return nil
	},
}

func cachePrefix(server bool) string {
	if server {
		return ServerPrefix
	}
	return progress.DefaultPrefix
}
