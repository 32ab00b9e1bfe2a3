package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/Hannibat/pumpmybag/internal/address"
	"github.com/Hannibat/pumpmybag/internal/logging"
	"github.com/Hannibat/pumpmybag/internal/metrics"
	"github.com/Hannibat/pumpmybag/internal/progress"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Scanner defaults mirror the limits of public Base RPC providers.
const (
	DefaultDeploymentBlock uint64 = 18_000_000
	DefaultMaxBlockRange   uint64 = 100_000
	DefaultWindowDelay            = 100 * time.Millisecond
)

// ScannerConfig fixes the contract and the query bounds.
type ScannerConfig struct {
	Contract        common.Address
	DeploymentBlock uint64
	// MaxBlockRange bounds To-From of every window.
	MaxBlockRange uint64
	// WindowDelay is slept between consecutive windows, never after the last.
	WindowDelay time.Duration
}

// Scanner counts GMSent events received by an address, resuming from the
// progress cache and querying only blocks it has not seen.
type Scanner struct {
	src     LogSource
	cache   *progress.Cache
	matcher *PumpMatcher
	cfg     ScannerConfig
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewScanner builds a scanner over src persisting progress to cache.
func NewScanner(src LogSource, cache *progress.Cache, matcher *PumpMatcher, cfg ScannerConfig, log *slog.Logger, m *metrics.Metrics) (*Scanner, error) {
	if src == nil {
		return nil, errors.New("log source required")
	}
	if cache == nil {
		return nil, errors.New("progress cache required")
	}
	if matcher == nil {
		var err error
		matcher, err = NewPumpMatcher(cfg.Contract, nil)
		if err != nil {
			return nil, err
		}
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = DefaultMaxBlockRange
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Scanner{
		src:     src,
		cache:   cache,
		matcher: matcher,
		cfg:     cfg,
		log:     log,
		metrics: m,
		now:     time.Now,
		sleep:   sleepCtx,
	}, nil
}

// StepResult is the outcome of one scan over a fixed chain height.
type StepResult struct {
	Progress progress.Progress
	Found    uint64
	Windows  int
}

// Scan resolves the received count for addr. On any window failure nothing
// is written and the next call resumes from the last persisted block.
func (s *Scanner) Scan(ctx context.Context, addr address.Key) (uint64, error) {
	prev, hasPrev, err := s.cache.Read(ctx, addr)
	if err != nil {
		return 0, err
	}

	head, err := s.src.BlockNumber(ctx)
	if err != nil {
		s.metrics.ScanError()
		return 0, fmt.Errorf("%w: %v", ErrHeadQuery, err)
	}

	res, err := s.Step(ctx, addr, prev, hasPrev, head)
	if err != nil {
		s.metrics.ScanError()
		return 0, err
	}
	if res.Windows == 0 {
		s.log.Debug("no new blocks", "address", addr, "count", prev.Count, "last_block", prev.LastScannedBlock)
		return prev.Count, nil
	}

	if err := s.cache.Write(ctx, addr, res.Progress); err != nil {
		return 0, err
	}
	s.log.Info("scan complete",
		"address", addr,
		"found", res.Found,
		"count", res.Progress.Count,
		"last_block", res.Progress.LastScannedBlock,
		"windows", res.Windows,
	)
	return res.Progress.Count, nil
}

// Step scans every window between the resume point and head without touching
// the cache. With nothing new it returns prev and zero windows.
func (s *Scanner) Step(ctx context.Context, addr address.Key, prev progress.Progress, hasPrev bool, head uint64) (StepResult, error) {
	from := s.StartBlock(prev, hasPrev)
	if from > head {
		return StepResult{Progress: prev}, nil
	}

	windows := Windows(from, head, s.cfg.MaxBlockRange)
	recipient := addr.Address()
	var found uint64
	for i, w := range windows {
		n, err := s.queryWindow(ctx, w, recipient)
		if err != nil {
			return StepResult{}, err
		}
		found += n
		s.metrics.WindowQueried()
		s.log.Debug("window scanned", "address", addr, "from", w.From, "to", w.To, "found", n)

		if i < len(windows)-1 && s.cfg.WindowDelay > 0 {
			if err := s.sleep(ctx, s.cfg.WindowDelay); err != nil {
				return StepResult{}, err
			}
		}
	}
	s.metrics.EventsFound(found)

	return StepResult{
		Progress: progress.Progress{
			Count:            prev.Count + found,
			LastScannedBlock: head,
			CachedAt:         s.now().UTC(),
		},
		Found:   found,
		Windows: len(windows),
	}, nil
}

// StartBlock is the first block not yet covered by prev.
func (s *Scanner) StartBlock(prev progress.Progress, hasPrev bool) uint64 {
	if hasPrev {
		return prev.LastScannedBlock + 1
	}
	return s.cfg.DeploymentBlock
}

func (s *Scanner) queryWindow(ctx context.Context, w Window, recipient common.Address) (uint64, error) {
	logs, err := s.src.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(w.From),
		ToBlock:   new(big.Int).SetUint64(w.To),
		Addresses: []common.Address{s.matcher.Contract()},
		Topics:    s.matcher.Topics(recipient),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: blocks %d-%d: %v", ErrWindowQuery, w.From, w.To, err)
	}

	var n uint64
	for _, lg := range logs {
		if !s.matcher.Addressed(lg, recipient) {
			continue
		}
		n++
		if _, _, err := s.matcher.Match(lg); err != nil {
			s.log.Warn("undecodable GMSent log counted from topics", "tx", lg.TxHash.Hex(), "block", lg.BlockNumber, "err", err)
		}
	}
	return n, nil
}

// Windows splits [from, to] into ascending windows with To-From <= size.
func Windows(from, to, size uint64) []Window {
	if from > to {
		return nil
	}
	var out []Window
	for {
		end := to
		if to-from > size {
			end = from + size
		}
		out = append(out, Window{From: from, To: end})
		if end == to {
			return out
		}
		from = end + 1
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
