package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Hannibat/pumpmybag/internal/address"
	"github.com/Hannibat/pumpmybag/internal/logging"
	"github.com/Hannibat/pumpmybag/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/sync/singleflight"
)

// Path is where the endpoint is mounted.
const Path = "/api/fetch-gms"

// DefaultScanTimeout bounds one server-side count.
const DefaultScanTimeout = 2 * time.Minute

// Counter resolves a received count; *evm.Scanner satisfies it.
type Counter interface {
	Scan(ctx context.Context, addr address.Key) (uint64, error)
}

// Handler serves GET /api/fetch-gms?address=<hex>.
type Handler struct {
	counter Counter
	log     *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	group   singleflight.Group
}

// NewHandler builds the endpoint over counter.
func NewHandler(counter Counter, log *slog.Logger, m *metrics.Metrics) *Handler {
	if log == nil {
		log = logging.Discard()
	}
	return &Handler{counter: counter, log: log, metrics: m, timeout: DefaultScanTimeout}
}

// RegisterRoutes mounts the endpoint on router.
func (h *Handler) RegisterRoutes(router *chi.Mux) error {
	if h.counter == nil {
		return errors.New("aggregator: counter required")
	}
	router.Get(Path, h.handleFetch)
	return nil
}

func (h *Handler) handleFetch(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("address")
	if raw == "" {
		h.writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	addr, err := address.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	// Concurrent requests for one address share a single scan, which must
	// outlive whichever caller started it.
	v, err, shared := h.group.Do(addr.String(), func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
		defer cancel()
		return h.counter.Scan(ctx, addr)
	})
	if err != nil {
		h.log.Error("count failed", "address", addr, "err", err)
		h.writeError(w, http.StatusBadGateway, "failed to fetch GMs")
		return
	}
	count := v.(uint64)
	h.log.Debug("count served", "address", addr, "count", count, "shared", shared)
	h.write(w, http.StatusOK, Response{Count: &count})
}

func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	h.write(w, code, Response{Error: msg})
}

func (h *Handler) write(w http.ResponseWriter, code int, body Response) {
	if code < 300 {
		h.metrics.EndpointServed("ok")
	} else {
		h.metrics.EndpointServed("error")
	}
	out, err := sonnet.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(out)
}
