package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Hannibat/pumpmybag/internal/address"
	"github.com/Hannibat/pumpmybag/internal/daygate"
	"github.com/Hannibat/pumpmybag/internal/engine"
	"github.com/Hannibat/pumpmybag/internal/health"
	"github.com/Hannibat/pumpmybag/internal/metrics"
	"github.com/Hannibat/pumpmybag/internal/sink"
	"github.com/spf13/cobra"
)

var (
	flagOnce    bool
	flagDryRun  bool
	flagRefresh time.Duration
	flagHealth  string
	flagMetrics string
)

func init() {
	runCmd.Flags().BoolVar(&flagOnce, "once", false, "Resolve the received count once and exit")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Do not send notifications")
	runCmd.Flags().DurationVar(&flagRefresh, "refresh", 5*time.Minute, "Interval between received-count refreshes")
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
}

var runCmd = &cobra.Command{
	Use:   "run <address>",
	Short: "Watch one address: live countdown, periodic received-count refresh, notifications",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		addr, err := address.Parse(args[0])
		if err != nil {
			return err
		}
		if flagRefresh <= 0 {
			return fmt.Errorf("refresh must be positive")
		}

		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()
		log := a.log.With("address", addr)

		if flagMetrics != "" {
			a.metrics = metrics.Init()
			srv := health.Serve(flagMetrics, health.Checker{}, map[string]http.Handler{"/metrics": metrics.Handler()})
			log.Info("metrics enabled", "addr", flagMetrics)
			defer shutdown(srv)
		}
		if flagHealth != "" {
			rpcChecker := health.NewRPCChecker(map[string]health.HeadSource{"chain": a.chain})
			srv := health.Serve(flagHealth, health.Checker{
				DBPing:  a.kv.Ping,
				RPCPing: rpcChecker.Ping,
			}, nil)
			log.Info("health check enabled", "addr", flagHealth)
			defer shutdown(srv)
		}

		var notifier *sink.Notifier
		if a.cfg.Notify.WebhookURL != "" {
			sender, err := sink.NewSlackSender(a.cfg.Notify.WebhookURL, a.cfg.Notify.Template)
			if err != nil {
				return err
			}
			if flagDryRun {
				sender = nil
			}
			notifier = sink.NewNotifier(sender, log)
		}

		rec, err := a.reconciler(func(s engine.Snapshot) {
			if notifier == nil || s.State != engine.StateResolved {
				return
			}
			_ = notifier.Notify(ctx, s.Address.String(), s.Count, string(s.Source))
		})
		if err != nil {
			return err
		}

		reader, err := a.reader()
		if err != nil {
			return err
		}
		last, err := reader.LastAction(ctx, addr.Address())
		if err != nil {
			return fmt.Errorf("read last action: %w", err)
		}

		done, err := rec.SetAddress(ctx, addr.String())
		if err != nil {
			return err
		}
		if flagOnce {
			snap := <-done
			fmt.Fprintln(cmd.OutOrStdout(), formatReceived(snap))
			return nil
		}

		updates := make(chan int64, 1)
		statuses := daygate.NewTicker().Watch(ctx, last, updates)
		refresh := time.NewTicker(flagRefresh)
		defer refresh.Stop()

		var available *bool
		for {
			select {
			case <-ctx.Done():
				log.Info("stopping")
				return nil

			case snap, ok := <-done:
				done = nil
				if ok && snap.State == engine.StateResolved {
					log.Info("received", "count", snap.Count, "source", snap.Source)
				}

			case st, ok := <-statuses:
				if !ok {
					return nil
				}
				if available == nil || *available != st.Available {
					v := st.Available
					available = &v
					if v {
						log.Info("gm available")
					} else {
						log.Info("gm sent today", "next_in", st.Remaining.String())
					}
					continue
				}
				log.Debug("countdown", "remaining", st.Remaining.String())

			case <-refresh.C:
				next, started, err := refreshIdle(ctx, rec, done)
				switch {
				case err != nil:
					log.Warn("refresh", "err", err)
				case !started:
					log.Debug("previous resolution still running, skipping refresh")
				default:
					done = next
				}
				ts, err := reader.LastAction(ctx, addr.Address())
				if err != nil {
					log.Warn("read last action", "err", err)
					continue
				}
				if ts != last {
					last = ts
					select {
					case <-updates:
					default:
					}
					updates <- ts
				}
			}
		}
	},
}

type refresher interface {
	Refresh(ctx context.Context) (<-chan engine.Snapshot, error)
}

// refreshIdle starts a refresh only when no resolution is in flight.
func refreshIdle(ctx context.Context, rec refresher, inFlight <-chan engine.Snapshot) (<-chan engine.Snapshot, bool, error) {
	if inFlight != nil {
		return inFlight, false, nil
	}
	next, err := rec.Refresh(ctx)
	if err != nil {
		return nil, false, err
	}
	return next, true, nil
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = health.Shutdown(ctx, srv)
}
