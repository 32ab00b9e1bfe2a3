package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Hannibat/pumpmybag/internal/address"
	"github.com/Hannibat/pumpmybag/internal/progress"
	"github.com/Hannibat/pumpmybag/internal/storage"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	testContract = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	alice        = address.MustParse("0x00000000000000000000000000000000000000a1")
	bob          = address.MustParse("0x00000000000000000000000000000000000000b2")
	carol        = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

// fakeChain filters logs the way a node does: by range, address and topics.
type fakeChain struct {
	mu      sync.Mutex
	head    uint64
	headErr error
	logs    []types.Log
	queries []Window
	failAt  int // 1-based FilterLogs call to fail; 0 disables
	calls   int
}

func (f *fakeChain) BlockNumber(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headErr != nil {
		return 0, f.headErr
	}
	return f.head, nil
}

func (f *fakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	if f.failAt > 0 && f.calls == f.failAt {
		return nil, fmt.Errorf("query returned more than 10000 results")
	}
	f.queries = append(f.queries, Window{From: from, To: to})

	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber < from || lg.BlockNumber > to {
			continue
		}
		if !containsAddress(q.Addresses, lg.Address) || !topicsMatch(q.Topics, lg.Topics) {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func (f *fakeChain) addPump(sender common.Address, recipient address.Key, block uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, pumpLog(testContract, sender, recipient.Address(), block, 1_700_000_000+block))
}

func containsAddress(set []common.Address, a common.Address) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == a {
			return true
		}
	}
	return false
}

func topicsMatch(filter [][]common.Hash, topics []common.Hash) bool {
	for i, alts := range filter {
		if len(alts) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		hit := false
		for _, h := range alts {
			if h == topics[i] {
				hit = true
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func pumpLog(contract, sender, recipient common.Address, block, ts uint64) types.Log {
	m, _ := NewPumpMatcher(contract, nil)
	return types.Log{
		Address:     contract,
		Topics:      []common.Hash{m.Topic(), addrTopic(sender), addrTopic(recipient)},
		Data:        common.LeftPadBytes(new(big.Int).SetUint64(ts).Bytes(), 32),
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
		BlockNumber: block,
	}
}

func addrTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

func newTestCache(t *testing.T) *progress.Cache {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return progress.NewCache(store)
}

func newTestScanner(t *testing.T, chain *fakeChain, cache *progress.Cache, cfg ScannerConfig) (*Scanner, *int) {
	t.Helper()
	cfg.Contract = testContract
	sc, err := NewScanner(chain, cache, nil, cfg, nil, nil)
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}
	sleeps := 0
	sc.sleep = func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}
	sc.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return sc, &sleeps
}

func TestWindows(t *testing.T) {
	tests := []struct {
		name     string
		from, to uint64
		size     uint64
		want     []Window
	}{
		{"single", 1001, 1050, 100, []Window{{1001, 1050}}},
		{"exact", 0, 100, 100, []Window{{0, 100}}},
		{"split", 0, 250, 100, []Window{{0, 100}, {101, 201}, {202, 250}}},
		{"one_block", 7, 7, 100, []Window{{7, 7}}},
		{"empty", 10, 9, 100, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Windows(tt.from, tt.to, tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("windows = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("windows = %v, want %v", got, tt.want)
				}
				if got[i].To-got[i].From > tt.size {
					t.Fatalf("window %v exceeds size %d", got[i], tt.size)
				}
			}
		})
	}
}

func TestScanResumesFromCache(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)
	if err := cache.Write(ctx, alice, progress.Progress{Count: 7, LastScannedBlock: 1000}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	chain := &fakeChain{head: 1050}
	chain.addPump(carol, alice, 900) // already counted in the cached 7
	chain.addPump(carol, alice, 1001)
	chain.addPump(bob.Address(), alice, 1050)
	chain.addPump(carol, bob, 1020)

	sc, _ := newTestScanner(t, chain, cache, ScannerConfig{DeploymentBlock: 100, MaxBlockRange: 100})
	count, err := sc.Scan(ctx, alice)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 9 {
		t.Fatalf("count = %d, want 9", count)
	}

	p, ok, err := cache.Read(ctx, alice)
	if err != nil || !ok {
		t.Fatalf("read cache: ok=%v err=%v", ok, err)
	}
	if p.Count != 9 || p.LastScannedBlock != 1050 {
		t.Fatalf("cached progress = %+v, want {9 1050}", p)
	}
	if len(chain.queries) != 1 || chain.queries[0] != (Window{1001, 1050}) {
		t.Fatalf("queries = %v", chain.queries)
	}
}

func TestScanFromDeploymentBlockInWindows(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)
	chain := &fakeChain{head: 350}
	chain.addPump(carol, alice, 50) // before deployment block, never queried
	chain.addPump(carol, alice, 100)
	chain.addPump(carol, alice, 201)
	chain.addPump(carol, alice, 202)
	chain.addPump(carol, alice, 350)

	sc, sleeps := newTestScanner(t, chain, cache, ScannerConfig{DeploymentBlock: 100, MaxBlockRange: 100, WindowDelay: time.Millisecond})
	count, err := sc.Scan(ctx, alice)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 4 {
		t.Fatalf("count = %d, want 4", count)
	}

	want := []Window{{100, 200}, {201, 301}, {302, 350}}
	if len(chain.queries) != len(want) {
		t.Fatalf("queries = %v, want %v", chain.queries, want)
	}
	for i := range want {
		if chain.queries[i] != want[i] {
			t.Fatalf("queries = %v, want %v", chain.queries, want)
		}
	}
	if *sleeps != 2 {
		t.Fatalf("sleeps = %d, want 2 (none after the last window)", *sleeps)
	}
}

func TestScanSingleWindowDoesNotSleep(t *testing.T) {
	chain := &fakeChain{head: 120}
	sc, sleeps := newTestScanner(t, chain, newTestCache(t), ScannerConfig{DeploymentBlock: 100, MaxBlockRange: 100, WindowDelay: time.Second})
	if _, err := sc.Scan(context.Background(), alice); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if *sleeps != 0 {
		t.Fatalf("sleeps = %d, want 0", *sleeps)
	}
}

func TestScanIdempotent(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)
	chain := &fakeChain{head: 500}
	chain.addPump(carol, alice, 150)

	sc, _ := newTestScanner(t, chain, cache, ScannerConfig{DeploymentBlock: 100, MaxBlockRange: 1000})
	first, err := sc.Scan(ctx, alice)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}

	// Same head: nothing to query, nothing written.
	queries := len(chain.queries)
	second, err := sc.Scan(ctx, alice)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if first != 1 || second != 1 {
		t.Fatalf("counts = %d, %d; want 1, 1", first, second)
	}
	if len(chain.queries) != queries {
		t.Fatalf("expected no query when up to date")
	}

	// Head advanced without new events: only the block moves.
	chain.head = 800
	third, err := sc.Scan(ctx, alice)
	if err != nil {
		t.Fatalf("third scan: %v", err)
	}
	p, _, _ := cache.Read(ctx, alice)
	if third != 1 || p.Count != 1 || p.LastScannedBlock != 800 {
		t.Fatalf("after idle advance count=%d progress=%+v", third, p)
	}
}

func TestScanWindowFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)
	_ = cache.Write(ctx, alice, progress.Progress{Count: 7, LastScannedBlock: 1000})

	chain := &fakeChain{head: 1300, failAt: 2}
	chain.addPump(carol, alice, 1050)
	chain.addPump(carol, alice, 1150)
	chain.addPump(carol, alice, 1250)

	sc, _ := newTestScanner(t, chain, cache, ScannerConfig{DeploymentBlock: 100, MaxBlockRange: 99})
	if _, err := sc.Scan(ctx, alice); !errors.Is(err, ErrWindowQuery) {
		t.Fatalf("expected ErrWindowQuery, got %v", err)
	}

	p, _, _ := cache.Read(ctx, alice)
	if p.Count != 7 || p.LastScannedBlock != 1000 {
		t.Fatalf("cache changed after failed scan: %+v", p)
	}

	// The retry re-queries the first window and counts each event once.
	chain.failAt = 0
	count, err := sc.Scan(ctx, alice)
	if err != nil {
		t.Fatalf("retry scan: %v", err)
	}
	if count != 10 {
		t.Fatalf("count = %d, want 10", count)
	}
}

func TestScanCountsUndecodableLogs(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)
	chain := &fakeChain{head: 300}
	chain.addPump(carol, alice, 110)

	bad := pumpLog(testContract, carol, alice.Address(), 220, 0)
	bad.Data = []byte{0x01}
	chain.logs = append(chain.logs, bad)

	sc, _ := newTestScanner(t, chain, cache, ScannerConfig{DeploymentBlock: 100, MaxBlockRange: 1000})
	count, err := sc.Scan(ctx, alice)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	p, _, _ := cache.Read(ctx, alice)
	if p.LastScannedBlock != 300 {
		t.Fatalf("resume point did not advance: %+v", p)
	}
}

func TestScanHeadFailure(t *testing.T) {
	chain := &fakeChain{headErr: errors.New("connection refused")}
	sc, _ := newTestScanner(t, chain, newTestCache(t), ScannerConfig{DeploymentBlock: 1})
	if _, err := sc.Scan(context.Background(), alice); !errors.Is(err, ErrHeadQuery) {
		t.Fatalf("expected ErrHeadQuery, got %v", err)
	}
}

func TestScanMonotonic(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)
	chain := &fakeChain{}
	sc, _ := newTestScanner(t, chain, cache, ScannerConfig{DeploymentBlock: 10, MaxBlockRange: 25})

	var lastCount, lastBlock, prevHead uint64
	for i, head := range []uint64{5, 40, 40, 90, 91, 200} {
		chain.head = head
		if head > 10 && head != prevHead {
			chain.addPump(carol, alice, head)
		}
		prevHead = head
		count, err := sc.Scan(ctx, alice)
		if err != nil {
			t.Fatalf("scan %d: %v", i, err)
		}
		p, ok, _ := cache.Read(ctx, alice)
		if count < lastCount {
			t.Fatalf("count decreased: %d -> %d", lastCount, count)
		}
		if ok && p.LastScannedBlock < lastBlock {
			t.Fatalf("last block decreased: %d -> %d", lastBlock, p.LastScannedBlock)
		}
		lastCount = count
		if ok {
			lastBlock = p.LastScannedBlock
		}
	}
	if lastCount != 4 || lastBlock != 200 {
		t.Fatalf("final count=%d block=%d, want 4 and 200", lastCount, lastBlock)
	}
}

func TestStepDoesNotTouchCache(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)
	chain := &fakeChain{}
	chain.addPump(carol, alice, 1001)
	chain.addPump(carol, alice, 1049)

	sc, _ := newTestScanner(t, chain, cache, ScannerConfig{DeploymentBlock: 100, MaxBlockRange: 100})
	res, err := sc.Step(ctx, alice, progress.Progress{Count: 7, LastScannedBlock: 1000}, true, 1050)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if res.Found != 2 || res.Progress.Count != 9 || res.Progress.LastScannedBlock != 1050 || res.Windows != 1 {
		t.Fatalf("unexpected step result %+v", res)
	}
	if _, ok, _ := cache.Read(ctx, alice); ok {
		t.Fatalf("step wrote to the cache")
	}
}
