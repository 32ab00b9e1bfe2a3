package engine

import "errors"

// Source names where a count came from.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
)

// ErrScanUnavailable means no log scanner is configured, so the fallback
// cannot run. The reconciler stays idle in resolving-fallback.
var ErrScanUnavailable = errors.New("log scan capability unavailable")

// Result is the outcome of one resolution step: a count with its source, or
// the reason it failed.
type Result struct {
	Count  uint64
	Source Source
	Err    error
}

// Ok wraps a resolved count.
func Ok(count uint64, src Source) Result { return Result{Count: count, Source: src} }

// Err wraps a failure.
func Err(err error) Result { return Result{Err: err} }

// IsOk reports whether r carries a count.
func (r Result) IsOk() bool { return r.Err == nil }

// OrElse returns r when it is Ok, otherwise the result of next.
func (r Result) OrElse(next func(prev error) Result) Result {
	if r.IsOk() {
		return r
	}
	return next(r.Err)
}
