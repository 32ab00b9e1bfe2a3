package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Hannibat/pumpmybag/internal/aggregator"
	"github.com/Hannibat/pumpmybag/internal/config"
	"github.com/Hannibat/pumpmybag/internal/engine"
	"github.com/Hannibat/pumpmybag/internal/logging"
	"github.com/Hannibat/pumpmybag/internal/metrics"
	"github.com/Hannibat/pumpmybag/internal/progress"
	"github.com/Hannibat/pumpmybag/internal/source/evm"
	"github.com/Hannibat/pumpmybag/internal/storage"
	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ServerPrefix keeps the endpoint's progress apart from the client's.
const ServerPrefix = "agg-received-"

func newLogger() *slog.Logger {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	return logging.NewWithLevel(logLevel)
}

// app holds everything a command needs once the config is loaded.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
	kv      storage.KV
	rpc     *evm.RPCClient
	chain   evm.ChainClient
	abi     *abi.ABI
}

func openApp(withChain bool) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a := &app{cfg: cfg, log: newLogger()}

	a.kv, err = storage.OpenKV(cfg.Cache.Backend, cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	a.abi, err = evm.LoadABI(cfg.Chain.ABIPath)
	if err != nil {
		a.Close()
		return nil, err
	}

	if withChain {
		a.rpc, a.chain, err = dialChain(cfg.Chain.RPCURL, cfg.Chain)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) Close() {
	if a.rpc != nil {
		a.rpc.Close()
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			a.log.Warn("close cache", "err", err)
		}
	}
}

func dialChain(rpcURL string, cc config.ChainConfig) (*evm.RPCClient, evm.ChainClient, error) {
	rpc, err := evm.NewRPCClient(rpcURL)
	if err != nil {
		return nil, nil, err
	}
	return rpc, evm.WithRateLimit(rpc, cc.RPS, cc.Burst), nil
}

func (a *app) scanner(src evm.LogSource, prefix string, maxRange uint64) (*evm.Scanner, error) {
	matcher, err := evm.NewPumpMatcher(a.cfg.Chain.ContractAddress(), a.abi)
	if err != nil {
		return nil, err
	}
	cache := progress.NewCacheWithPrefix(a.kv, prefix)
	return evm.NewScanner(src, cache, matcher, evm.ScannerConfig{
		Contract:        a.cfg.Chain.ContractAddress(),
		DeploymentBlock: a.cfg.Chain.DeploymentBlock,
		MaxBlockRange:   maxRange,
		WindowDelay:     a.cfg.Chain.WindowDelayDuration(),
	}, a.log, a.metrics)
}

func (a *app) reader() (*evm.Reader, error) {
	return evm.NewReader(a.chain, a.cfg.Chain.ContractAddress(), a.abi)
}

// reconciler wires the aggregation client, if configured, ahead of the
// log-scan fallback.
func (a *app) reconciler(onChange func(engine.Snapshot)) (*engine.Reconciler, error) {
	opts := engine.Options{Logger: a.log, Metrics: a.metrics, OnChange: onChange}
	if a.cfg.Aggregator.Enabled() {
		client, err := aggregator.NewClient(a.cfg.Aggregator.URL, aggregator.Options{
			Timeout: a.cfg.Aggregator.TimeoutDuration(),
			Retries: a.cfg.Aggregator.Retries,
			Backoff: a.cfg.Aggregator.BackoffDuration(),
			Logger:  a.log,
		})
		if err != nil {
			return nil, err
		}
		opts.Primary = client
	}
	if a.chain != nil {
		sc, err := a.scanner(a.chain, progress.DefaultPrefix, a.cfg.Chain.MaxBlockRange)
		if err != nil {
			return nil, err
		}
		opts.Fallback = sc
	}
	return engine.New(opts), nil
}
