// Package progress persists per-address scan progress for the log-scan
// fallback. Entries are never expired or deleted here.
package progress

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Hannibat/pumpmybag/internal/address"
	"github.com/Hannibat/pumpmybag/internal/storage"
	"github.com/sugawarayuuta/sonnet"
)

// DefaultPrefix namespaces client-side progress entries.
const DefaultPrefix = "gms-received-"

// Progress is the resumption point for one address.
type Progress struct {
	Count            uint64
	LastScannedBlock uint64
	CachedAt         time.Time
}

// record is the stored form. Integers are decimal strings so block numbers
// survive any JSON reader without precision loss.
type record struct {
	Count     string `json:"count"`
	LastBlock string `json:"lastBlock"`
	CachedAt  string `json:"cachedAt"`
}

// Cache reads and writes Progress under a derived key per address.
type Cache struct {
	kv     storage.KV
	prefix string
}

// NewCache returns a cache over kv using DefaultPrefix.
func NewCache(kv storage.KV) *Cache {
	return NewCacheWithPrefix(kv, DefaultPrefix)
}

// NewCacheWithPrefix returns a cache whose keys start with prefix.
func NewCacheWithPrefix(kv storage.KV, prefix string) *Cache {
	return &Cache{kv: kv, prefix: prefix}
}

// Key derives the storage key for an address.
func (c *Cache) Key(addr address.Key) string {
	return c.prefix + strings.ToLower(addr.String())
}

// Read returns the stored progress for addr, if any.
func (c *Cache) Read(ctx context.Context, addr address.Key) (Progress, bool, error) {
	raw, ok, err := c.kv.Get(ctx, c.Key(addr))
	if err != nil || !ok {
		return Progress{}, false, err
	}
	p, err := Decode(raw)
	if err != nil {
		return Progress{}, false, fmt.Errorf("progress %s: %w", addr, err)
	}
	return p, true, nil
}

// Write stores p for addr, replacing the previous entry.
func (c *Cache) Write(ctx context.Context, addr address.Key, p Progress) error {
	raw, err := Encode(p)
	if err != nil {
		return err
	}
	if err := c.kv.Set(ctx, c.Key(addr), raw); err != nil {
		return fmt.Errorf("write progress %s: %w", addr, err)
	}
	return nil
}

// Entry pairs an address with its stored progress.
type Entry struct {
	Address  address.Key
	Progress Progress
}

// List returns every stored entry in this cache's namespace, ordered by
// address.
func (c *Cache) List(ctx context.Context) ([]Entry, error) {
	all, err := c.kv.List(ctx, c.prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(all))
	for k, raw := range all {
		p, err := Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("progress %s: %w", k, err)
		}
		out = append(out, Entry{Address: address.Key(strings.TrimPrefix(k, c.prefix)), Progress: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// Encode serializes p as JSON with decimal-string integers.
func Encode(p Progress) (string, error) {
	var cachedAt string
	if !p.CachedAt.IsZero() {
		cachedAt = strconv.FormatInt(p.CachedAt.UnixMilli(), 10)
	}
	b, err := sonnet.Marshal(record{
		Count:     strconv.FormatUint(p.Count, 10),
		LastBlock: strconv.FormatUint(p.LastScannedBlock, 10),
		CachedAt:  cachedAt,
	})
	if err != nil {
		return "", fmt.Errorf("encode progress: %w", err)
	}
	return string(b), nil
}

// Decode parses a stored record.
func Decode(raw string) (Progress, error) {
	var r record
	if err := sonnet.Unmarshal([]byte(raw), &r); err != nil {
		return Progress{}, fmt.Errorf("decode progress: %w", err)
	}
	count, err := parseUint(r.Count)
	if err != nil {
		return Progress{}, fmt.Errorf("decode count: %w", err)
	}
	last, err := strconv.ParseUint(r.LastBlock, 10, 64)
	if err != nil {
		return Progress{}, fmt.Errorf("decode lastBlock: %w", err)
	}
	p := Progress{Count: count, LastScannedBlock: last}
	if r.CachedAt != "" {
		ms, err := strconv.ParseInt(r.CachedAt, 10, 64)
		if err != nil {
			return Progress{}, fmt.Errorf("decode cachedAt: %w", err)
		}
		p.CachedAt = time.UnixMilli(ms).UTC()
	}
	return p, nil
}

func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}
