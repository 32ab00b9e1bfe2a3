package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Hannibat/pumpmybag/internal/progress"
	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"
)

var (
	flagExportFormat string
	flagExportOut    string
	flagExportServer bool
)

func init() {
	exportCmd.Flags().StringVar(&flagExportFormat, "format", "json", "Output format: json or csv")
	exportCmd.Flags().StringVarP(&flagExportOut, "output", "o", "", "Output file (default stdout)")
	exportCmd.Flags().BoolVar(&flagExportServer, "server", false, "Export the endpoint's progress instead of the client's")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all cached scan progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		cache := progress.NewCacheWithPrefix(a.kv, cachePrefix(flagExportServer))
		entries, err := cache.List(cmd.Context())
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if flagExportOut != "" {
			f, err := os.Create(flagExportOut)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			defer f.Close()
			w = f
		}
		return writeEntries(w, strings.ToLower(flagExportFormat), entries)
	},
}

type exportRow struct {
	Address   string `json:"address"`
	Count     uint64 `json:"count"`
	LastBlock uint64 `json:"lastBlock"`
	CachedAt  string `json:"cachedAt,omitempty"`
}

func writeEntries(w io.Writer, format string, entries []progress.Entry) error {
	rows := make([]exportRow, 0, len(entries))
	for _, e := range entries {
		row := exportRow{
			Address:   e.Address.String(),
			Count:     e.Progress.Count,
			LastBlock: e.Progress.LastScannedBlock,
		}
		if !e.Progress.CachedAt.IsZero() {
			row.CachedAt = e.Progress.CachedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, row)
	}

	switch format {
	case "json":
		b, err := sonnet.Marshal(rows)
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	case "csv":
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"address", "count", "last_block", "cached_at"})
		for _, r := range rows {
			_ = cw.Write([]string{
				r.Address,
				strconv.FormatUint(r.Count, 10),
				strconv.FormatUint(r.LastBlock, 10),
				r.CachedAt,
			})
		}
		cw.Flush()
		return cw.Error()
	default:
		return fmt.Errorf("unsupported format %q (json or csv)", format)
	}
}
