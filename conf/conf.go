// Package conf defines the proxy's Bootstrap configuration tree, loaded
// and watched by contrib/config the way the teacher repo loads its own
// Bootstrap: yaml on disk, decoded through mapstructure-compatible tags
// so environment and remote overlays merge cleanly.
package conf

import (
	"time"

	"github.com/omalloc/waypoint/pkg/mapstruct"
)

// Bootstrap is the top-level configuration document.
type Bootstrap struct {
	Strict   bool      `json:"strict" yaml:"strict"`
	Hostname string    `json:"hostname" yaml:"hostname"`
	PidFile  string    `json:"pidfile" yaml:"pidfile"`
	Logger   *Logger   `json:"logger" yaml:"logger"`
	Listener *Listener `json:"listener" yaml:"listener"`
	Worker   *Worker   `json:"worker" yaml:"worker"`
	Backpressure *Backpressure `json:"backpressure" yaml:"backpressure"`
	Admin    *Admin    `json:"admin" yaml:"admin"`
	Storage  *Storage  `json:"storage" yaml:"storage"`
	Plugin   []*Plugin `json:"plugin" yaml:"plugin"`
}

// Logger configures contrib/log (zap + lumberjack), matching the
// teacher's own logger config shape field-for-field.
type Logger struct {
	Level      string `json:"level" yaml:"level"`
	Path       string `json:"path" yaml:"path"`
	Caller     bool   `json:"caller" yaml:"caller"`
	TraceID    bool   `json:"traceid" yaml:"traceid"`
	MaxSize    int    `json:"max_size" yaml:"max_size"`
	MaxAge     int    `json:"max_age" yaml:"max_age"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	Compress   bool   `json:"compress" yaml:"compress"`
	NoPid      bool   `json:"nopid" yaml:"nopid"`
}

// Listener is the transparent TPROXY listener surface (spec §6.1).
type Listener struct {
	Addr string `json:"addr" yaml:"addr"`

	// HitDSCP / MissDSCP are the two distinct 6-bit TOS/DSCP marks set on
	// the client socket at stream switch, so the network below can tell
	// cache-sourced bytes from origin-sourced bytes.
	HitDSCP  int `json:"hit_dscp" yaml:"hit_dscp"`
	MissDSCP int `json:"miss_dscp" yaml:"miss_dscp"`

	OriginDialTimeout  time.Duration `json:"origin_dial_timeout" yaml:"origin_dial_timeout"`
	OriginKeepalive    time.Duration `json:"origin_keepalive" yaml:"origin_keepalive"`
	OriginKeepaliveCnt int           `json:"origin_keepalive_probes" yaml:"origin_keepalive_probes"`

	ClientBufferBlockSize int `json:"client_buffer_block_size" yaml:"client_buffer_block_size"`
	OriginBufferBlockSize int `json:"origin_buffer_block_size" yaml:"origin_buffer_block_size"`
}

// Worker configures the N-worker cooperative event-loop model (spec §5).
type Worker struct {
	// ScaleFactor multiplies runtime.NumCPU() to derive the worker count.
	ScaleFactor float64 `json:"scale_factor" yaml:"scale_factor"`
	// StallSweepInterval is the half-closed-connection sweep period
	// (spec §4.6 default: 60s).
	StallSweepInterval time.Duration `json:"stall_sweep_interval" yaml:"stall_sweep_interval"`
	// CompareThresholdBytes overrides cachefsm.CompareThresholdDefault.
	CompareThresholdBytes int `json:"compare_threshold_bytes" yaml:"compare_threshold_bytes"`
	// MaxOpenFiles is the soft/hard fd-limit ceiling the process raises
	// to at startup (spec §5 "File-descriptor limits").
	MaxOpenFiles uint64 `json:"max_open_files" yaml:"max_open_files"`
}

// Backpressure configures the C8 control-socket client.
type Backpressure struct {
	Network string `json:"network" yaml:"network"`
	Address string `json:"address" yaml:"address"`
}

// Admin configures the JSON-RPC management server (spec §6.4) and the
// diagnostic HTTP surface (pprof, metrics, health probes) bolted onto
// it, matching the teacher's own local-api endpoint shape.
type Admin struct {
	Addr               string           `json:"addr" yaml:"addr"`
	LocalApiAllowHosts []string         `json:"local_api_allow_hosts" yaml:"local_api_allow_hosts"`
	PProf              *ServerPProf     `json:"pprof" yaml:"pprof"`
	AccessLog          *ServerAccessLog `json:"access_log" yaml:"access_log"`
}

// ServerPProf gates /debug/pprof/* behind HTTP basic auth.
type ServerPProf struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// ServerAccessLog configures the per-connection access log (spec
// §6.3's connection summary line), rotated the same way the teacher
// rotates its HTTP access log.
type ServerAccessLog struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
	Encrypt struct {
		Enabled bool   `json:"enabled" yaml:"enabled"`
		Secret  string `json:"secret" yaml:"secret"`
	} `json:"encrypt" yaml:"encrypt"`
}

// Storage configures the cache storage engine (out of the core's scope
// per spec §1, but owned by this process as a peer collaborator).
type Storage struct {
	Driver          string    `json:"driver" yaml:"driver"`
	DBType          string    `json:"db_type" yaml:"db_type"`
	AsyncLoad       bool      `json:"async_load" yaml:"async_load"`
	EvictionPolicy  string    `json:"eviction_policy" yaml:"eviction_policy"`
	SelectionPolicy string    `json:"selection_policy" yaml:"selection_policy"`
	SliceSize       uint64    `json:"slice_size" yaml:"slice_size"`
	Buckets         []*Bucket `json:"buckets" yaml:"buckets"`
}

// Bucket is one storage placement target, matching the teacher's
// multi-bucket (hot/cold/fastmemory) storage layout.
type Bucket struct {
	Path           string         `json:"path" yaml:"path"`
	Driver         string         `json:"driver" yaml:"driver"`
	Type           string         `json:"type" yaml:"type"`
	DBType         string         `json:"db_type" yaml:"db_type"`
	AsyncLoad      bool           `json:"async_load" yaml:"async_load"`
	SliceSize      uint64         `json:"slice_size" yaml:"slice_size"`
	MaxObjectLimit int            `json:"max_object_limit" yaml:"max_object_limit"`
	DBMapConfig    map[string]any `json:"dbmap_config" yaml:"dbmap_config"`
}

// Plugin is an entry in the host-statistics/purge plug-in chain (spec
// §1 "the host-statistics plug-in").
type Plugin struct {
	Name    string         `json:"name" yaml:"name"`
	Options map[string]any `json:"options" yaml:"options"`
}

func (r *Plugin) PluginName() string { return r.Name }

func (r *Plugin) Unmarshal(v any) error {
	return mapstruct.Decode(r.Options, v)
}
