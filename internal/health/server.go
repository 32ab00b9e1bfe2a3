package health

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sugawarayuuta/sonnet"
)

type Checker struct {
	DBPing  func(ctx context.Context) error
	RPCPing func(ctx context.Context) error
}

// Handler answers with the status of each configured dependency.
func (c Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK

		if c.DBPing != nil {
			if err := c.DBPing(ctx); err != nil {
				status["db"] = "fail"
				code = http.StatusServiceUnavailable
			} else {
				status["db"] = "ok"
			}
		}
		if c.RPCPing != nil {
			if err := c.RPCPing(ctx); err != nil {
				status["rpc"] = "fail"
				code = http.StatusServiceUnavailable
			} else {
				status["rpc"] = "ok"
			}
		}

		body, _ := sonnet.Marshal(status)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write(body)
	}
}

// RegisterRoutes mounts /healthz on router.
func (c Checker) RegisterRoutes(router *chi.Mux) error {
	router.Get("/healthz", c.Handler())
	return nil
}

// Serve starts a server for /healthz plus any extra routes, e.g. /metrics.
func Serve(addr string, checker Checker, extra map[string]http.Handler) *http.Server {
	router := chi.NewRouter()
	_ = checker.RegisterRoutes(router)
	for path, h := range extra {
		router.Handle(path, h)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Shutdown gracefully shuts down the health server.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
