// Package admin is the management surface (spec §6.4, component A4):
// a plain net/http server - the one legitimate net/http use left in
// this repo, since it is a control-plane surface, not the proxy's data
// path. It serves pprof (basic-auth gated), Prometheus metrics, a
// health probe, loaded-plugin routes (e.g. purge's PURGE handler), and
// a small JSON-RPC 2.0 dispatcher for stats/debug queries.
package admin

import (
	"context"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pluginv1 "github.com/omalloc/waypoint/api/defined/v1/plugin"
	"github.com/omalloc/waypoint/conf"
	"github.com/omalloc/waypoint/contrib/log"
	"github.com/omalloc/waypoint/contrib/transport"
	"github.com/omalloc/waypoint/server/mod"
)

// kindAdmin tags the context passed to Start so any helper shared with
// server.Server can tell which transport it's running under.
const kindAdmin transport.Kind = "admin"

var _ transport.Server = (*Server)(nil)

// StatsSource is queried by the "stats" RPC method; server.Server
// implements it by loading process-wide atomic counters that its
// connection goroutines update.
type StatsSource interface {
	Stats() Snapshot
}

// Snapshot is the JSON-RPC "stats" method's result shape.
type Snapshot struct {
	ActiveConnections int64 `json:"active_connections"`
	CacheHits         int64 `json:"cache_hits"`
	CacheMisses       int64 `json:"cache_misses"`
	BlindTunnels      int64 `json:"blind_tunnels"`
}

// Server is the admin HTTP listener.
type Server struct {
	http *http.Server
}

// New builds the admin mux: pprof, /metrics, /healthz, every loaded
// plugin's own routes, and the JSON-RPC dispatcher at /rpc. The mux is
// then wrapped in each loaded plugin's HandleFunc middleware.
func New(cfg *conf.Admin, stats StatsSource, plugins []pluginv1.Plugin) *Server {
	mux := http.NewServeMux()

	if cfg.PProf != nil {
		mod.HandlePProf(cfg.PProf, mux)
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/rpc", rpcHandler(stats))

	var handler http.HandlerFunc = mux.ServeHTTP
	for _, p := range plugins {
		p.AddRouter(mux)
		handler = p.HandleFunc(handler)
	}

	return &Server{http: &http.Server{Addr: cfg.Addr, Handler: handler}}
}

// Start serves until the listener is closed by Stop.
func (s *Server) Start(ctx context.Context) error {
	ctx = transport.WithKind(ctx, kindAdmin)
	log.Infof("%s surface listening on %s", transport.FromContext(ctx).Kind(), s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the admin listener.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// rpcRequest/rpcResponse follow JSON-RPC 2.0's envelope closely enough
// for the handful of methods §6.4 names; batching is not supported,
// matching the original's single-call-per-connection usage.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  any         `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func rpcHandler(stats StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeRPCError(w, nil, -32700, "parse error")
			return
		}

		switch req.Method {
		case "stats":
			writeRPCResult(w, req.ID, stats.Stats())
		case "ping":
			writeRPCResult(w, req.ID, "pong")
		default:
			writeRPCError(w, req.ID, -32601, "method not found")
		}
	}
}

func writeRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", Result: result, ID: id})
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: code, Message: msg}, ID: id})
}
