package main

import (
	"fmt"
	"time"

	"github.com/Hannibat/pumpmybag/internal/address"
	"github.com/Hannibat/pumpmybag/internal/daygate"
	"github.com/Hannibat/pumpmybag/internal/engine"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <address>",
	Short: "Show streak, availability, countdown and received count for an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()

		addr, err := address.Parse(args[0])
		if err != nil {
			return err
		}

		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		reader, err := a.reader()
		if err != nil {
			return err
		}
		streak, err := reader.Streak(ctx, addr.Address())
		if err != nil {
			return fmt.Errorf("read streak: %w", err)
		}
		last, err := reader.LastAction(ctx, addr.Address())
		if err != nil {
			return fmt.Errorf("read last action: %w", err)
		}
		st := daygate.Evaluate(last, time.Now())

		fmt.Fprintf(out, "address:     %s\n", addr)
		fmt.Fprintf(out, "streak:      %d\n", streak)
		if last == 0 {
			fmt.Fprintln(out, "last gm:     never")
		} else {
			fmt.Fprintf(out, "last gm:     %s\n", time.Unix(last, 0).UTC().Format(time.RFC3339))
		}
		if st.Available {
			fmt.Fprintln(out, "available:   yes")
		} else {
			fmt.Fprintf(out, "available:   in %s\n", st.Remaining)
		}

		rec, err := a.reconciler(nil)
		if err != nil {
			return err
		}
		done, err := rec.SetAddress(ctx, addr.String())
		if err != nil {
			return err
		}
		snap := <-done
		fmt.Fprintln(out, formatReceived(snap))
		if snap.State == engine.StateFailed {
			return fmt.Errorf("received count: %w", snap.Err)
		}
		return nil
	},
}

func formatReceived(s engine.Snapshot) string {
	switch {
	case s.State == engine.StateResolved:
		return fmt.Sprintf("received:    %d (%s)", s.Count, s.Source)
	case s.Known:
		return fmt.Sprintf("received:    %d (stale, %s)", s.Count, s.State)
	default:
		return fmt.Sprintf("received:    unknown (%s)", s.State)
	}
}
