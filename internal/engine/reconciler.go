// Package engine reconciles the received count of the watched address from
// the aggregation service and the log-scan fallback.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Hannibat/pumpmybag/internal/address"
	"github.com/Hannibat/pumpmybag/internal/aggregator"
	"github.com/Hannibat/pumpmybag/internal/logging"
	"github.com/Hannibat/pumpmybag/internal/metrics"
	"github.com/google/uuid"
)

// State is the lifecycle of the current resolution.
type State string

const (
	StateIdle              State = "idle"
	StateResolvingPrimary  State = "resolving-primary"
	StateResolvingFallback State = "resolving-fallback"
	StateResolved          State = "resolved"
	StateFailed            State = "failed"
)

// CountFetcher is the primary source; *aggregator.Client satisfies it.
type CountFetcher interface {
	FetchCount(ctx context.Context, addr address.Key) (uint64, error)
}

// Scanner is the fallback source; *evm.Scanner satisfies it.
type Scanner interface {
	Scan(ctx context.Context, addr address.Key) (uint64, error)
}

// Snapshot is a consistent view of the reconciler.
type Snapshot struct {
	Address address.Key
	State   State
	// Count is meaningful only when Known is set.
	Count      uint64
	Known      bool
	Source     Source
	Err        error
	Generation uint64
}

// Options wires a Reconciler. Primary and Fallback may each be nil.
type Options struct {
	Primary  CountFetcher
	Fallback Scanner
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	// OnChange observes applied transitions in order. Calls never overlap, and
	// a snapshot superseded by a newer generation before delivery is dropped.
	// It must not call back into the Reconciler synchronously.
	OnChange func(Snapshot)
}

var errStale = errors.New("resolution superseded")

// Reconciler owns the received count of one address at a time.
type Reconciler struct {
	primary  CountFetcher
	fallback Scanner
	log      *slog.Logger
	metrics  *metrics.Metrics
	onChange func(Snapshot)

	mu   sync.Mutex
	gen  uint64
	snap Snapshot

	notifyMu sync.Mutex
	pending  []Snapshot
	draining bool
}

// New builds an idle Reconciler.
func New(opts Options) *Reconciler {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Reconciler{
		primary:  opts.Primary,
		fallback: opts.Fallback,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		onChange: opts.OnChange,
		snap:     Snapshot{State: StateIdle},
	}
}

// Snapshot returns the current state.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// SetAddress starts resolving raw and returns a channel that yields the
// settled snapshot. The channel is closed without a value when a later
// resolution supersedes this one. The displayed count is cleared.
func (r *Reconciler) SetAddress(ctx context.Context, raw string) (<-chan Snapshot, error) {
	addr, err := address.Parse(raw)
	if err != nil {
		return nil, err
	}
	return r.start(ctx, addr, true), nil
}

// Refresh re-resolves the current address keeping the displayed count until
// a new one settles.
func (r *Reconciler) Refresh(ctx context.Context) (<-chan Snapshot, error) {
	r.mu.Lock()
	addr := r.snap.Address
	r.mu.Unlock()
	if addr == "" {
		return nil, errors.New("no address set")
	}
	return r.start(ctx, addr, false), nil
}

func (r *Reconciler) start(ctx context.Context, addr address.Key, reset bool) <-chan Snapshot {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	if reset || r.snap.Address != addr {
		r.snap = Snapshot{}
	}
	r.snap.Address = addr
	r.snap.State = StateResolvingPrimary
	r.snap.Err = nil
	r.snap.Generation = gen
	snap := r.snap
	r.mu.Unlock()
	r.notify(snap)

	done := make(chan Snapshot, 1)
	log := r.log.With("address", addr, "resolution", uuid.NewString())
	go r.resolve(ctx, gen, addr, log, done)
	return done
}

func (r *Reconciler) resolve(ctx context.Context, gen uint64, addr address.Key, log *slog.Logger, done chan<- Snapshot) {
	defer close(done)

	res := r.fetchPrimary(ctx, addr, log).OrElse(func(prev error) Result {
		log.Warn("primary source failed, falling back to log scan", "err", prev)
		if !r.transition(gen, StateResolvingFallback) {
			return Err(errStale)
		}
		return r.scan(ctx, addr, log)
	})

	if snap, ok := r.settle(gen, res, log); ok {
		done <- snap
	}
}

func (r *Reconciler) fetchPrimary(ctx context.Context, addr address.Key, log *slog.Logger) Result {
	if r.primary == nil {
		return Err(fmt.Errorf("%w: not configured", aggregator.ErrUnavailable))
	}
	n, err := r.primary.FetchCount(ctx, addr)
	if err != nil {
		r.metrics.PrimaryFailure()
		return Err(err)
	}
	r.metrics.PrimarySuccess()
	log.Debug("primary source resolved", "count", n)
	return Ok(n, SourcePrimary)
}

func (r *Reconciler) scan(ctx context.Context, addr address.Key, log *slog.Logger) Result {
	if r.fallback == nil {
		return Err(ErrScanUnavailable)
	}
	r.metrics.FallbackScan()
	n, err := r.fallback.Scan(ctx, addr)
	if err != nil {
		return Err(err)
	}
	log.Debug("log scan resolved", "count", n)
	return Ok(n, SourceFallback)
}

// transition moves the current resolution to s unless gen is stale.
func (r *Reconciler) transition(gen uint64, s State) bool {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return false
	}
	r.snap.State = s
	snap := r.snap
	r.mu.Unlock()
	r.notify(snap)
	return true
}

func (r *Reconciler) settle(gen uint64, res Result, log *slog.Logger) (Snapshot, bool) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		r.metrics.StaleDiscarded()
		log.Debug("discarding stale resolution", "generation", gen)
		return Snapshot{}, false
	}

	switch {
	case res.IsOk():
		r.snap.Count = res.Count
		r.snap.Known = true
		r.snap.Source = res.Source
		r.snap.State = StateResolved
		r.snap.Err = nil
	case errors.Is(res.Err, ErrScanUnavailable):
		r.snap.State = StateResolvingFallback
		r.snap.Err = res.Err
	default:
		r.snap.State = StateFailed
		r.snap.Err = res.Err
	}
	snap := r.snap
	r.mu.Unlock()

	switch snap.State {
	case StateResolved:
		log.Info("received count resolved", "source", snap.Source, "count", snap.Count)
	case StateFailed:
		log.Error("received count unresolved", "err", snap.Err)
	default:
		log.Warn("no log scan capability, staying idle")
	}
	r.notify(snap)
	return snap, true
}

// notify queues s for OnChange. Whichever goroutine finds the queue idle
// delivers it and everything queued behind it.
func (r *Reconciler) notify(s Snapshot) {
	if r.onChange == nil {
		return
	}
	r.notifyMu.Lock()
	r.pending = append(r.pending, s)
	if r.draining {
		r.notifyMu.Unlock()
		return
	}
	r.draining = true
	for len(r.pending) > 0 {
		next := r.pending[0]
		r.pending = r.pending[1:]
		r.notifyMu.Unlock()
		if r.current(next.Generation) {
			r.onChange(next)
		}
		r.notifyMu.Lock()
	}
	r.pending = nil
	r.draining = false
	r.notifyMu.Unlock()
}

func (r *Reconciler) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return gen == r.gen
}
