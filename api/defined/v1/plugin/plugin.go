// Package plugin declares the contract a loadable plugin (purge,
// host-stats, ...) implements, matching the teacher's own plugin
// shape: config-driven construction, a lifecycle pair, and a chance to
// mount routes on the admin HTTP mux.
package plugin

import (
	"context"
	"net/http"

	"github.com/omalloc/waypoint/contrib/log"
)

// Option carries a plugin's own config block (conf.Plugin.Options,
// already decoded) plus whatever else construction needs.
type Option interface {
	// Unmarshal decodes the plugin's options map into v.
	Unmarshal(v any) error
}

// Plugin is one loadable unit, registered by name via plugin.Register
// and instantiated from conf.Plugin entries at startup.
type Plugin interface {
	// Start runs once, after construction, before the acceptor opens.
	Start(ctx context.Context) error
	// Stop runs once at shutdown, after the acceptor has drained.
	Stop(ctx context.Context) error
	// AddRouter mounts the plugin's own endpoints on the admin mux.
	AddRouter(router *http.ServeMux)
	// HandleFunc lets a plugin intercept requests ahead of next,
	// e.g. purge recognizing the PURGE method before the normal path.
	HandleFunc(next http.HandlerFunc) http.HandlerFunc
}

// Constructor builds a Plugin from its decoded options and a logger.
type Constructor func(opts Option, logger *log.Helper) (Plugin, error)
