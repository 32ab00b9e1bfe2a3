package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Hannibat/pumpmybag/internal/aggregator"
	"github.com/Hannibat/pumpmybag/internal/health"
	"github.com/Hannibat/pumpmybag/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var flagServeAddr string

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "Listen address (overrides server.addr)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the received-count aggregation endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()
		a.metrics = metrics.Init()

		rpc, upstream, err := dialChain(a.cfg.Server.RPCURL, a.cfg.Chain)
		if err != nil {
			return err
		}
		defer rpc.Close()

		counter, err := a.scanner(upstream, ServerPrefix, a.cfg.Server.MaxBlockRange)
		if err != nil {
			return err
		}

		router := chi.NewRouter()
		router.Use(middleware.Recoverer)
		modules := []interface{ RegisterRoutes(*chi.Mux) error }{
			aggregator.NewHandler(counter, a.log, a.metrics),
			health.Checker{
				DBPing:  a.kv.Ping,
				RPCPing: health.NewRPCChecker(map[string]health.HeadSource{"upstream": upstream}).Ping,
			},
		}
		for _, m := range modules {
			if err := m.RegisterRoutes(router); err != nil {
				return err
			}
		}
		router.Handle("/metrics", metrics.Handler())

		addr := a.cfg.Server.Addr
		if flagServeAddr != "" {
			addr = flagServeAddr
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			a.log.Info("serving", "addr", addr, "path", aggregator.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.log.Info("shutting down")
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}
